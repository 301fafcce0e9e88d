package handler

import (
	"log/slog"
	"net/http"

	"github.com/pulsemetrics/pulse/internal/apperr"
	"github.com/pulsemetrics/pulse/internal/server/middleware"
	"github.com/pulsemetrics/pulse/internal/service"
)

// AuthHandler serves registration, login and the current-user endpoint.
type AuthHandler struct {
	auth   *service.AuthService
	logger *slog.Logger
}

// NewAuthHandler creates a new AuthHandler.
func NewAuthHandler(auth *service.AuthService, logger *slog.Logger) *AuthHandler {
	return &AuthHandler{auth: auth, logger: logger}
}

type registerRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	FullName string `json:"full_name"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Register creates a user account.
// POST /api/v1/auth/register
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := readJSON(w, r, &req); err != nil {
		writeAppError(w, r, h.logger, err)
		return
	}
	u, err := h.auth.Register(r.Context(), req.Email, req.Password, req.FullName)
	if err != nil {
		writeAppError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, u)
}

// Login exchanges email and password for a session token.
// POST /api/v1/auth/login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := readJSON(w, r, &req); err != nil {
		writeAppError(w, r, h.logger, err)
		return
	}
	if req.Email == "" || req.Password == "" {
		writeAppError(w, r, h.logger, apperr.Validation("Email and password are required"))
		return
	}
	tok, err := h.auth.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		writeAppError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, tok)
}

// Me returns the signed-in user.
// GET /api/v1/auth/me
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	p := middleware.GetPrincipal(r.Context())
	if p == nil {
		writeAppError(w, r, h.logger, apperr.Unauthorized("Not authenticated"))
		return
	}
	u, err := h.auth.CurrentUser(r.Context(), p.UserID)
	if err != nil {
		writeAppError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, u)
}
