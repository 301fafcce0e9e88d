package apperr

import (
	"errors"
	"fmt"
	"testing"
)

func TestKindOf(t *testing.T) {
	cause := errors.New("connection reset")
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"nil", nil, ""},
		{"unauthorized", Unauthorized("Invalid API key"), KindUnauthorized},
		{"validation", Validationf("page must be >= %d", 1), KindValidation},
		{"not found", NotFound("Project not found"), KindNotFound},
		{"conflict", Conflict("duplicate"), KindConflict},
		{"internal", Internal("insert failed", cause), KindInternal},
		{"wrapped", fmt.Errorf("record: %w", Conflict("dup")), KindConflict},
		{"plain error", cause, KindInternal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := KindOf(tt.err); got != tt.want {
				t.Errorf("KindOf = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestMessageHidesCause(t *testing.T) {
	err := Internal("Failed to record metric", errors.New("pq: relation \"metrics\" does not exist"))
	if got := Message(err); got != "Failed to record metric" {
		t.Errorf("Message = %q", got)
	}
	if got := Message(errors.New("raw driver error")); got != "Internal server error" {
		t.Errorf("Message(plain) = %q", got)
	}
}

func TestUnwrap(t *testing.T) {
	cause := errors.New("boom")
	err := Internal("x", cause)
	if !errors.Is(err, cause) {
		t.Fatal("expected errors.Is to find the cause")
	}
	if !Is(err, KindInternal) {
		t.Fatal("expected KindInternal")
	}
}
