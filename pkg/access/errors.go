package access

import "errors"

var (
	// ErrNotFound is returned when a rule or resource does not exist
	ErrNotFound = errors.New("not found")

	// ErrForbidden is returned by the enforcer when no level grants access
	ErrForbidden = errors.New("forbidden")

	// ErrInvalidRule is returned when a rule's target shape is inconsistent with its target type
	ErrInvalidRule = errors.New("invalid rule")

	// ErrInvalidationFailed is returned when a rule change was committed but the
	// decision cache could not be cleared
	ErrInvalidationFailed = errors.New("cache invalidation failed")
)
