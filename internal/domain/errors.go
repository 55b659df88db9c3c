package domain

import "errors"

// Failure kinds of a pipeline run. Callers use errors.Is; the wrapping error
// carries the detail.
var (
	ErrTaxonomyUnavailable  = errors.New("taxonomy unavailable")
	ErrInferenceUnavailable = errors.New("inference unavailable")
	ErrUnresolvedLabel      = errors.New("unresolved label")
	ErrUpdateRejected       = errors.New("update rejected")
	ErrTicketNotFound       = errors.New("ticket not found")
)
