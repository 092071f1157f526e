package payout

import (
	"errors"
	"fmt"
)

var (
	// ErrVerificationMismatch means the submitted micro-deposit amounts
	// do not match the provider's records.
	ErrVerificationMismatch = errors.New("micro-deposit amounts do not match")

	// ErrNotInitialized means micro-deposit verification was attempted
	// before the provider bank account exists.
	ErrNotInitialized = errors.New("bank account not initialized with provider")

	// ErrMethodInUse means the method is referenced by an in-flight
	// payout and cannot be deleted yet.
	ErrMethodInUse = errors.New("payout method is in use")

	// ErrNotOwner means the acting caller does not own the method.
	ErrNotOwner = errors.New("payout method belongs to another owner")

	// ErrStaleState means a concurrent update won; reload and retry.
	ErrStaleState = errors.New("payout method state is stale")
)

// ValidationError reports a missing or malformed payout-method field.
type ValidationError struct {
	Field string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s is required", e.Field)
}

// InvalidAddressError reports a wallet address that fails the network's
// structural checks.
type InvalidAddressError struct {
	Network string
	Reason  string
}

func (e *InvalidAddressError) Error() string {
	return fmt.Sprintf("invalid %s address: %s", e.Network, e.Reason)
}
