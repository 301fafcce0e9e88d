package connector

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/jmoiron/sqlx"

	"github.com/pulsemetrics/pulse/internal/model"
)

// mockConnector implements Connector for testing without a real database.
type mockConnector struct {
	connected    bool
	disconnected bool
	cfg          ConnectionConfig
}

func (m *mockConnector) Connect(cfg ConnectionConfig) error {
	if cfg.DSN == "fail" {
		return fmt.Errorf("mock connect failure")
	}
	m.connected = true
	m.cfg = cfg
	return nil
}
func (m *mockConnector) Disconnect() error {
	m.disconnected = true
	m.connected = false
	return nil
}
func (m *mockConnector) Ping(_ context.Context) error                      { return nil }
func (m *mockConnector) DB() *sqlx.DB                                      { return nil }
func (m *mockConnector) DriverName() string                                { return "mock" }
func (m *mockConnector) Migrations() []string                              { return nil }
func (m *mockConnector) TimeBucket(col string, _ model.Granularity) string { return col }
func (m *mockConnector) Paginate(limit, offset int) (string, []interface{}) {
	return LimitOffset(limit, offset)
}
func (m *mockConnector) SnapshotTxOptions() *sql.TxOptions { return nil }
func (m *mockConnector) LockRow(table string) string       { return "SELECT id FROM " + table }
func (m *mockConnector) IsUniqueViolation(_ error) bool    { return false }
func (m *mockConnector) IsAlreadyExists(_ error) bool      { return false }

// ---------------------------------------------------------------------------
// Registry tests
// ---------------------------------------------------------------------------

func TestNewRegistry(t *testing.T) {
	r := NewRegistry()
	if r == nil {
		t.Fatal("NewRegistry() returned nil")
	}
	if len(r.Drivers()) != 0 {
		t.Error("new registry should have no drivers")
	}
}

func TestRegisterDriver(t *testing.T) {
	r := NewRegistry()
	r.RegisterDriver("mock", func() Connector { return &mockConnector{} })

	if _, ok := r.factories["mock"]; !ok {
		t.Error("expected mock driver to be registered")
	}
}

func TestOpen(t *testing.T) {
	r := NewRegistry()
	r.RegisterDriver("mock", func() Connector { return &mockConnector{} })

	conn, err := r.Open(ConnectionConfig{Driver: "mock", DSN: "test-dsn"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	mc := conn.(*mockConnector)
	if !mc.connected {
		t.Error("connector should be connected")
	}
	if mc.cfg.DSN != "test-dsn" {
		t.Errorf("expected DSN test-dsn, got %s", mc.cfg.DSN)
	}
}

func TestOpenUnsupportedDriver(t *testing.T) {
	r := NewRegistry()
	r.RegisterDriver("mock", func() Connector { return &mockConnector{} })

	_, err := r.Open(ConnectionConfig{Driver: "unknown"})
	if err == nil {
		t.Fatal("expected error for unsupported driver")
	}
}

func TestOpenFailure(t *testing.T) {
	r := NewRegistry()
	r.RegisterDriver("mock", func() Connector { return &mockConnector{} })

	_, err := r.Open(ConnectionConfig{Driver: "mock", DSN: "fail"})
	if err == nil {
		t.Fatal("expected error for connection failure")
	}
}

func TestDriversSorted(t *testing.T) {
	r := NewRegistry()
	for _, d := range []string{"sqlite", "mysql", "postgres"} {
		r.RegisterDriver(d, func() Connector { return &mockConnector{} })
	}

	got := r.Drivers()
	want := []string{"mysql", "postgres", "sqlite"}
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("expected %v, got %v", want, got)
			break
		}
	}
}

// ---------------------------------------------------------------------------
// Helper tests
// ---------------------------------------------------------------------------

func TestLimitOffset(t *testing.T) {
	clause, args := LimitOffset(25, 50)
	if clause != "LIMIT ? OFFSET ?" {
		t.Errorf("unexpected clause %q", clause)
	}
	if len(args) != 2 || args[0] != 25 || args[1] != 50 {
		t.Errorf("expected args [25 50], got %v", args)
	}
}

func TestContainsAny(t *testing.T) {
	if ContainsAny(nil, "x") {
		t.Error("nil error should never match")
	}
	if !ContainsAny(errors.New("UNIQUE constraint failed: users.email"), "unique constraint failed") {
		t.Error("expected case-insensitive match")
	}
	if ContainsAny(errors.New("disk I/O error"), "unique") {
		t.Error("unexpected match")
	}
}

func TestSanitizeDSN(t *testing.T) {
	tests := []struct {
		name   string
		driver string
		dsn    string
		want   string
		prefix bool
	}{
		{
			name:   "postgres password with reserved characters",
			driver: "postgres",
			dsn:    "postgres://pulse:p@ss#word@db:5432/pulse?sslmode=disable",
			want:   "postgres://pulse:p@ss%23word@db:5432/pulse?sslmode=disable",
		},
		{
			name:   "postgres without credentials",
			driver: "postgres",
			dsn:    "postgres://db:5432/pulse",
			want:   "postgres://db:5432/pulse",
		},
		{
			name:   "mssql url",
			driver: "mssql",
			dsn:    "sqlserver://sa:Secret%1@db:1433?database=pulse",
			want:   "sqlserver://sa:Secret%251@db:1433?database=pulse",
		},
		{
			name:   "mysql bare host port",
			driver: "mysql",
			dsn:    "pulse:secret@db:3306/pulse",
			want:   "pulse:secret@tcp(db:3306)/pulse",
			prefix: true,
		},
		{
			name:   "mysql parenthesised host",
			driver: "mysql",
			dsn:    "pulse:secret@(db:3306)/pulse",
			want:   "pulse:secret@tcp(db:3306)/pulse",
			prefix: true,
		},
		{
			name:   "sqlite untouched",
			driver: "sqlite",
			dsn:    "pulse.db",
			want:   "pulse.db",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := SanitizeDSN(tt.driver, tt.dsn)
			if tt.prefix && strings.HasPrefix(got, tt.want) {
				return
			}
			if got != tt.want {
				t.Errorf("SanitizeDSN(%q, %q) = %q, want %q", tt.driver, tt.dsn, got, tt.want)
			}
		})
	}
}
