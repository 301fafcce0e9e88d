package service

import (
	"errors"

	"github.com/pulsemetrics/pulse/internal/apperr"
	"github.com/pulsemetrics/pulse/internal/store"
)

// storeError translates a store error into an apperr category. notFound is
// the message used when the row does not exist.
func storeError(err error, notFound string) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, store.ErrNotFound):
		return apperr.NotFound(notFound)
	case errors.Is(err, store.ErrKeyLimit):
		return apperr.Conflict("Maximum number of active API keys reached for this project")
	case errors.Is(err, store.ErrLastActiveKey):
		return apperr.Conflict("Cannot delete the last active API key of a project")
	case errors.Is(err, store.ErrConflict):
		return apperr.Conflict("Resource already exists")
	}
	var appErr *apperr.Error
	if errors.As(err, &appErr) {
		return err
	}
	return apperr.Internal("Internal server error", err)
}
