// Package fees computes the platform and processing fee split for a payment.
package fees

import (
	"errors"

	"creatorpay/internal/common/money"
	"creatorpay/internal/feeconfig"
)

// ErrInvalidAmount is returned when the gross amount is not positive.
var ErrInvalidAmount = errors.New("gross amount must be positive")

// Breakdown is the fee split for a single gross amount. The invariant
// Gross = PlatformFee + ProcessingFee + Net holds by construction: both
// fees are rounded independently and Net is derived by subtraction.
type Breakdown struct {
	Gross         money.Money `json:"gross"`
	PlatformFee   money.Money `json:"platform_fee"`
	ProcessingFee money.Money `json:"processing_fee"`
	Net           money.Money `json:"net"`
}

// Compute splits a gross amount using an already-resolved fee snapshot.
// Partnership-level fee overrides are resolved by the caller; this
// function is pure.
func Compute(gross money.Money, snap feeconfig.Snapshot) (Breakdown, error) {
	if !gross.IsPositive() {
		return Breakdown{}, ErrInvalidAmount
	}

	platformFee := gross.PercentBps(snap.PlatformFeeBps)
	processingFee := gross.PercentBps(snap.ProcessingFeeBps)
	net := gross.MustSub(platformFee).MustSub(processingFee)

	if net.IsNegative() {
		return Breakdown{}, ErrInvalidAmount
	}

	return Breakdown{
		Gross:         gross,
		PlatformFee:   platformFee,
		ProcessingFee: processingFee,
		Net:           net,
	}, nil
}
