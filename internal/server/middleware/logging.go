package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
)

// Logger returns an HTTP middleware that writes one access log record per
// request. 4xx responses log at WARN and 5xx at ERROR; successful health
// and scrape requests drop to DEBUG.
func Logger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}

			next.ServeHTTP(ww, r)

			level := accessLevel(r.URL.Path, ww.status)
			if !logger.Enabled(r.Context(), level) {
				return
			}

			attrs := []any{
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.status,
				"duration_ms", float64(time.Since(start).Microseconds()) / 1000.0,
				"bytes", ww.bytes,
				"request_id", GetRequestID(r.Context()),
				"remote_addr", r.RemoteAddr,
			}
			if rctx := chi.RouteContext(r.Context()); rctx != nil {
				if pattern := rctx.RoutePattern(); pattern != "" {
					attrs = append(attrs, "route", pattern)
				}
			}
			logger.Log(r.Context(), level, "http request", attrs...)
		})
	}
}

func accessLevel(path string, status int) slog.Level {
	switch {
	case status >= 500:
		return slog.LevelError
	case status >= 400:
		return slog.LevelWarn
	case path == "/health" || path == "/healthz" || path == "/metrics":
		return slog.LevelDebug
	}
	return slog.LevelInfo
}

// ContextHandler adds the request ID found in the record's context to log
// records that do not already carry one, so services logging with a request
// context line up with the access log.
type ContextHandler struct {
	slog.Handler
}

// NewContextHandler wraps h.
func NewContextHandler(h slog.Handler) *ContextHandler {
	return &ContextHandler{Handler: h}
}

func (h *ContextHandler) Handle(ctx context.Context, rec slog.Record) error {
	if id := GetRequestID(ctx); id != "" && !hasAttr(rec, "request_id") {
		rec.AddAttrs(slog.String("request_id", id))
	}
	return h.Handler.Handle(ctx, rec)
}

func hasAttr(rec slog.Record, key string) bool {
	found := false
	rec.Attrs(func(a slog.Attr) bool {
		found = a.Key == key
		return !found
	})
	return found
}

func (h *ContextHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &ContextHandler{Handler: h.Handler.WithAttrs(attrs)}
}

func (h *ContextHandler) WithGroup(name string) slog.Handler {
	return &ContextHandler{Handler: h.Handler.WithGroup(name)}
}

// responseWriter wraps http.ResponseWriter to capture the status code and
// bytes written for logging purposes.
type responseWriter struct {
	http.ResponseWriter
	status      int
	bytes       int
	wroteHeader bool
}

func (w *responseWriter) WriteHeader(code int) {
	if w.wroteHeader {
		return
	}
	w.wroteHeader = true
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *responseWriter) Write(b []byte) (int, error) {
	if !w.wroteHeader {
		w.WriteHeader(http.StatusOK)
	}
	n, err := w.ResponseWriter.Write(b)
	w.bytes += n
	return n, err
}

// Unwrap returns the underlying ResponseWriter, required for http.Flusher
// and other interface assertions through middleware chains.
func (w *responseWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}
