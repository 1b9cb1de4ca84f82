// Package fault defines the stable error kinds shared by every domain
// package. External layers classify failures with errors.Is against these
// sentinels instead of inspecting message text.
package fault

import "errors"

var (
	// ErrValidation signals malformed, missing, or zero-valued input.
	ErrValidation = errors.New("validation failed")
	// ErrNotFound signals an unknown grievance, bid, or account identity.
	ErrNotFound = errors.New("not found")
	// ErrUnauthorized signals the caller lacks the required capability or
	// is not the resource's counterparty.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrState signals the operation is invalid for the current status.
	ErrState = errors.New("invalid state")
	// ErrArithmetic signals supplied funds do not exactly match the
	// required amount, or a fixed-point computation overflowed.
	ErrArithmetic = errors.New("arithmetic mismatch")
	// ErrTransfer signals an escrow payout leg failed to move funds.
	ErrTransfer = errors.New("transfer failed")
)

// Kind returns the wire label for err's kind, or "internal" when the error
// does not wrap any known sentinel.
func Kind(err error) string {
	switch {
	case errors.Is(err, ErrValidation):
		return "validation"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, ErrState):
		return "invalid_state"
	case errors.Is(err, ErrArithmetic):
		return "arithmetic"
	case errors.Is(err, ErrTransfer):
		return "transfer"
	default:
		return "internal"
	}
}
