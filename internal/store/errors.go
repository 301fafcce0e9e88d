package store

import "errors"

var (
	// ErrNotFound is returned when a requested resource does not exist in the store.
	ErrNotFound = errors.New("not found")

	// ErrConflict wraps unique constraint violations.
	ErrConflict = errors.New("conflict")

	// ErrKeyLimit is returned when a project already holds the maximum number
	// of active API keys.
	ErrKeyLimit = errors.New("active api key limit reached")

	// ErrLastActiveKey is returned when deleting the only active key of a
	// project.
	ErrLastActiveKey = errors.New("cannot delete the last active api key")
)
