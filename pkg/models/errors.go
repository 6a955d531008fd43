package models

import "errors"

// Sentinel errors shared across the repository, service and API layers.
// NotFound is returned (not panicked, not wrapped in an HTTP error) so
// callers can branch with errors.Is in the common case.
var (
	ErrNotFound      = errors.New("flow not found")
	ErrInvalidPhase  = errors.New("invalid phase")
	ErrInvalidStatus = errors.New("invalid status")
	ErrValidation    = errors.New("validation failed")
)
