package escrow

import "errors"

// Error kinds surfaced by the ledger and the custody protocol. Every rejected
// call wraps exactly one of these so callers can switch on errors.Is while the
// wrapped message carries the human-readable reason.
var (
	// ErrNotFound marks an unknown record id.
	ErrNotFound = errors.New("escrow: record not found")
	// ErrUnauthorized marks a caller mismatch against depositor, counterparty
	// or authority.
	ErrUnauthorized = errors.New("escrow: unauthorized caller")
	// ErrInvalidState marks an operation attempted on a record outside
	// StatusAwaitingConfirmation.
	ErrInvalidState = errors.New("escrow: record not awaiting confirmation")
	// ErrPreconditionFailed marks deadline expiry, an opposing confirmation,
	// malformed input or an out-of-bounds parameter value.
	ErrPreconditionFailed = errors.New("escrow: precondition failed")
	// ErrTransferFailed marks a value movement rejected by the custody
	// channel; the triggering call leaves no state behind.
	ErrTransferFailed = errors.New("escrow: transfer failed")
)
