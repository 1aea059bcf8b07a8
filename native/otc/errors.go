package otc

import "errors"

// Error kinds surfaced by the settlement engine. Every failure aborts the
// enclosing ledger transaction, so callers never observe partial fund
// movement. Role, state, and amount errors are caller-fixable and safe to
// retry with corrected inputs.
var (
	// ErrUnauthorized means the caller lacks the required role
	// (owner/agent/approver/consigner/beneficiary).
	ErrUnauthorized = errors.New("otc: unauthorized")
	// ErrBadState means the operation was attempted from an invalid
	// lifecycle state.
	ErrBadState = errors.New("otc: bad state")
	// ErrTooEarlyForRefund means the emergency-refund deadline has not been
	// reached.
	ErrTooEarlyForRefund = errors.New("otc: too early for emergency refund")
	// ErrTooEarlyToClaim means the offer lockup has not elapsed.
	ErrTooEarlyToClaim = errors.New("otc: too early to claim")
	// ErrAmountRange means an amount is zero, outside the configured
	// bounds, or exceeds the remaining inventory.
	ErrAmountRange = errors.New("otc: amount out of range")
	// ErrInvalidTerms means a discount, lockup, or commission lies outside
	// the configured bounds.
	ErrInvalidTerms = errors.New("otc: invalid terms")
	// ErrTokenNotActive means the token is unregistered or deactivated.
	ErrTokenNotActive = errors.New("otc: token not active")
	// ErrPaused means the desk is paused.
	ErrPaused = errors.New("otc: desk paused")
	// ErrNotFound means the referenced entity does not exist.
	ErrNotFound = errors.New("otc: not found")
	// ErrBadPrice means a USD price is unset or outside sane bounds.
	ErrBadPrice = errors.New("otc: bad price")
	// ErrStalePrice means the reference price exceeded the maximum age.
	ErrStalePrice = errors.New("otc: stale price")
)
