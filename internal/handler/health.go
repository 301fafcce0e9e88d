package handler

import (
	"context"
	"net/http"
	"time"
)

// Pinger reports whether the backing database is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthHandler serves the unauthenticated health endpoints.
type HealthHandler struct {
	db          Pinger
	environment string
	now         func() time.Time
}

// NewHealthHandler creates a new HealthHandler.
func NewHealthHandler(db Pinger, environment string) *HealthHandler {
	return &HealthHandler{db: db, environment: environment, now: time.Now}
}

type healthResponse struct {
	Status         string `json:"status"`
	DatabaseStatus string `json:"database_status"`
	Environment    string `json:"environment"`
	Timestamp      string `json:"timestamp"`
}

// Health reports database connectivity. It answers 503 when the database
// cannot be reached so load balancers take the instance out of rotation.
// GET /health
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	resp := healthResponse{
		Status:         "online",
		DatabaseStatus: "healthy",
		Environment:    h.environment,
		Timestamp:      h.now().UTC().Format(time.RFC3339),
	}
	status := http.StatusOK
	if err := h.db.Ping(ctx); err != nil {
		resp.Status = "offline"
		resp.DatabaseStatus = "unhealthy"
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}

// Healthz is a liveness check that never touches the database.
// GET /healthz
func (h *HealthHandler) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
