package registry

import "errors"

var (
	ErrMissingFields     = errors.New("missing required fields")
	ErrTooManyCodes      = errors.New("too many codes requested")
	ErrAgentRequired     = errors.New("select an agent")
	ErrAgentNotFound     = errors.New("agent not found")
	ErrNoCodesSelected   = errors.New("no codes selected")
	ErrNoUnassignedCodes = errors.New("no unassigned codes available")
	ErrCodeNotFound      = errors.New("promo code not found")
	ErrCodeNotAssigned   = errors.New("promo code is not assigned to an agent")
	ErrStoreWrite        = errors.New("store write failed")
)

// IsValidation reports whether err was raised by input checks, before any mutation.
func IsValidation(err error) bool {
	return errors.Is(err, ErrMissingFields) ||
		errors.Is(err, ErrTooManyCodes) ||
		errors.Is(err, ErrAgentRequired) ||
		errors.Is(err, ErrNoCodesSelected)
}
