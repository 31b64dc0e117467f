package domain

import "errors"

// Sentinel errors of the coordination workflow. Handlers map these to
// problem-JSON responses; services wrap them with context via fmt.Errorf
// and %w so errors.Is still matches at the edge.
var (
	ErrUnauthorized      = errors.New("unauthorized")
	ErrForbidden         = errors.New("forbidden")
	ErrNotFound          = errors.New("not found")
	ErrInvalidState      = errors.New("invalid state for operation")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrAlreadyAssigned   = errors.New("delivery already assigned")
	ErrDriverUnavailable = errors.New("driver unavailable")
	ErrInvalidAmount     = errors.New("invalid amount")
	ErrInvalidSplit      = errors.New("split does not sum to total")
	ErrValidation        = errors.New("validation failed")
	ErrGatewayFailure    = errors.New("payment gateway failure")
)
