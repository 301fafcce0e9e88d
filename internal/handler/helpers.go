package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/pulsemetrics/pulse/internal/apperr"
	"github.com/pulsemetrics/pulse/internal/model"
	"github.com/pulsemetrics/pulse/internal/server/middleware"
)

// maxBodyBytes caps request bodies. Every payload this API accepts is small.
const maxBodyBytes = 1 << 20

// writeJSON serializes v as JSON and writes it to the response with the given
// HTTP status code. The Content-Type header is set to application/json.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a structured error response using the standard error
// envelope.
func writeError(w http.ResponseWriter, code int, category, message string) {
	writeJSON(w, code, model.ErrorResponse{
		Error: model.ErrorDetail{
			Code:     code,
			Category: category,
			Message:  message,
		},
	})
}

// statusFor maps an error category to its HTTP status.
func statusFor(kind apperr.Kind) int {
	switch kind {
	case apperr.KindUnauthorized:
		return http.StatusUnauthorized
	case apperr.KindValidation:
		return http.StatusUnprocessableEntity
	case apperr.KindNotFound:
		return http.StatusNotFound
	case apperr.KindConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// writeAppError writes err using its category. Internal errors are logged
// with their cause; the response only carries the generic message.
func writeAppError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	kind := apperr.KindOf(err)
	status := statusFor(kind)
	if status == http.StatusInternalServerError {
		logger.ErrorContext(r.Context(), "request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"request_id", middleware.GetRequestID(r.Context()),
			"error", err,
		)
	}
	if status == http.StatusUnauthorized {
		w.Header().Set("WWW-Authenticate", "Bearer")
	}
	writeError(w, status, string(kind), apperr.Message(err))
}

// readJSON decodes the request body as JSON into v. The body is closed after
// decoding regardless of success or failure. Decode failures come back as
// validation errors.
func readJSON(w http.ResponseWriter, r *http.Request, v interface{}) error {
	defer r.Body.Close()
	body := http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(body).Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return apperr.Validation("Request body too large")
		}
		return apperr.Validation("Invalid request body: " + err.Error())
	}
	return nil
}

// queryString extracts a string query parameter.
func queryString(r *http.Request, key string) string {
	return r.URL.Query().Get(key)
}
