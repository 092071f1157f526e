package payment

import (
	"errors"
	"fmt"

	"creatorpay/internal/common/money"
)

// Typed failures surfaced by payment transitions. Callers switch on
// these, never on message text.
var (
	// ErrInvalidTransition means the requested transition is not legal
	// from the payment's current status.
	ErrInvalidTransition = errors.New("invalid transition")

	// ErrNotAuthorized means the acting caller does not own the payment.
	ErrNotAuthorized = errors.New("not authorized")

	// ErrStaleState means a concurrent transition won; the caller must
	// re-fetch and retry.
	ErrStaleState = errors.New("stale state")

	// ErrInsufficientFunds means the funding source cannot cover the
	// payout. The payment is moved to failed.
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrMethodNotVerified means the destination payout method has not
	// completed verification. The payment is left untouched.
	ErrMethodNotVerified = errors.New("payout method not verified")
)

// BelowMinimumError is returned when a payout is under the configured
// minimum. The payment is moved to failed.
type BelowMinimumError struct {
	Minimum money.Money
}

func (e *BelowMinimumError) Error() string {
	return fmt.Sprintf("payout below the %s minimum", e.Minimum)
}

// ProviderError wraps a failure reported by the payout provider,
// preserving its text. The payment is moved to failed.
type ProviderError struct {
	Message string
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("payout provider: %s", e.Message)
}

// Failure codes persisted on failed payments.
const (
	FailureInsufficientFunds  = "insufficient_funds"
	FailureBelowMinimumPayout = "below_minimum_payout"
	FailureProviderError      = "provider_error"
	FailureDisputed           = "disputed"
)
