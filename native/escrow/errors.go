package escrow

import "errors"

// Error kinds surfaced by the escrow engine. Every failure is a whole-operation
// abort; callers branch with errors.Is.
var (
	ErrNotFound            = errors.New("escrow: contract not found")
	ErrUnauthorized        = errors.New("escrow: caller not authorized")
	ErrWrongStatus         = errors.New("escrow: operation not legal in current status")
	ErrAlreadySet          = errors.New("escrow: value already set")
	ErrAmountMismatch      = errors.New("escrow: deposited value does not match contract amount")
	ErrInvalidAmount       = errors.New("escrow: amount must be positive")
	ErrInvalidCounterparty = errors.New("escrow: counterparty must not be the zero address")
	ErrInvalidContentHash  = errors.New("escrow: content hash fails format check")
	ErrInvalidOracle       = errors.New("escrow: oracle must not be the zero address")
	ErrHashMismatch        = errors.New("escrow: tracking secret does not match stored hash")
	ErrTimeoutNotReached   = errors.New("escrow: approval timeout not reached")
	ErrNoFunds             = errors.New("escrow: no withdrawable balance")
	ErrReentrant           = errors.New("escrow: reentrant call rejected")
	ErrTransferFailed      = errors.New("escrow: external transfer failed")
)
