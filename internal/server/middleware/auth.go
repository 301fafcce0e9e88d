package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/pulsemetrics/pulse/internal/apperr"
	"github.com/pulsemetrics/pulse/internal/model"
	"github.com/pulsemetrics/pulse/internal/service"
)

type contextKeyAuth string

const (
	// PrincipalKey is the context key for the signed-in user.
	PrincipalKey contextKeyAuth = "auth_principal"
	// APIKeyKey is the context key for the resolved ingestion key.
	APIKeyKey contextKeyAuth = "auth_api_key"
)

// Principal is the user behind a bearer session token.
type Principal struct {
	UserID string
	Email  string
}

// RequireAPIKey resolves the X-API-Key header to an active key of an active
// project and attaches it to the request context.
func RequireAPIKey(authSvc *service.AuthService) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key, err := authSvc.ResolveAPIKey(r.Context(), r.Header.Get("X-API-Key"))
			if err != nil {
				writeAuthError(w, err)
				return
			}
			ctx := context.WithValue(r.Context(), APIKeyKey, key)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireUser validates a "Bearer" session token and checks the user is
// still active. On success a Principal is attached to the request context.
func RequireUser(authSvc *service.AuthService) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if !strings.HasPrefix(authHeader, "Bearer ") {
				writeAuthError(w, apperr.Unauthorized("Not authenticated"))
				return
			}

			claims, err := authSvc.ValidateJWT(strings.TrimPrefix(authHeader, "Bearer "))
			if err != nil {
				writeAuthError(w, err)
				return
			}
			u, err := authSvc.CurrentUser(r.Context(), claims.UserID)
			if err != nil {
				writeAuthError(w, err)
				return
			}

			ctx := context.WithValue(r.Context(), PrincipalKey, &Principal{UserID: u.ID, Email: u.Email})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetPrincipal extracts the signed-in user from the context. Returns nil if
// the request was not authenticated with a session token.
func GetPrincipal(ctx context.Context) *Principal {
	if p, ok := ctx.Value(PrincipalKey).(*Principal); ok {
		return p
	}
	return nil
}

// GetAPIKey extracts the resolved API key from the context.
func GetAPIKey(ctx context.Context) *model.APIKey {
	if k, ok := ctx.Value(APIKeyKey).(*model.APIKey); ok {
		return k
	}
	return nil
}

func writeAuthError(w http.ResponseWriter, err error) {
	status := http.StatusUnauthorized
	if apperr.KindOf(err) == apperr.KindInternal {
		status = http.StatusInternalServerError
	}
	writeJSONError(w, status, string(apperr.KindOf(err)), apperr.Message(err))
}

func writeJSONError(w http.ResponseWriter, status int, category, message string) {
	if status == http.StatusUnauthorized {
		w.Header().Set("WWW-Authenticate", "Bearer")
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(model.ErrorResponse{
		Error: model.ErrorDetail{Code: status, Category: category, Message: message},
	})
}
