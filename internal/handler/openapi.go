package handler

import (
	"log/slog"
	"net/http"
	"sync"

	"github.com/pulsemetrics/pulse/internal/apperr"
	"github.com/pulsemetrics/pulse/internal/openapi"
)

// OpenAPIHandler serves the API description. The document is generated on
// first use and cached for the life of the process.
type OpenAPIHandler struct {
	baseURL string
	version string
	logger  *slog.Logger

	once sync.Once
	doc  []byte
	err  error
}

// NewOpenAPIHandler creates a new OpenAPIHandler.
func NewOpenAPIHandler(baseURL, version string, logger *slog.Logger) *OpenAPIHandler {
	return &OpenAPIHandler{baseURL: baseURL, version: version, logger: logger}
}

// ServeSpec returns the OpenAPI document.
// GET /openapi.json
func (h *OpenAPIHandler) ServeSpec(w http.ResponseWriter, r *http.Request) {
	h.once.Do(func() {
		h.doc, h.err = openapi.JSON(h.baseURL, h.version)
	})
	if h.err != nil {
		writeAppError(w, r, h.logger, apperr.Internal("Internal server error", h.err))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(h.doc)
}
