// Package funding manages the platform-side accounts that cover
// creator payouts.
package funding

import (
	"time"

	"creatorpay/internal/common/money"
)

// Kind identifies the funding source type.
type Kind string

const (
	KindBank   Kind = "bank"
	KindWallet Kind = "wallet"
	KindCard   Kind = "card"
)

// Status is a funding account's lifecycle state. Only active accounts
// can cover payouts.
type Status string

const (
	StatusActive   Status = "active"
	StatusPending  Status = "pending"
	StatusDisabled Status = "disabled"
)

// Account is a platform funding source. At most one account is primary.
type Account struct {
	ID        string      `json:"id"`
	Name      string      `json:"name"`
	Kind      Kind        `json:"kind"`
	Last4     string      `json:"last4"`
	Status    Status      `json:"status"`
	IsPrimary bool        `json:"is_primary"`
	Balance   money.Money `json:"balance"`
	CreatedAt time.Time   `json:"created_at"`
	UpdatedAt time.Time   `json:"updated_at"`
}

// Available returns the balance net of the reserve holdback. The
// reserve is withheld from every payout decision, not transferred.
func (a *Account) Available(reserveBps int64) money.Money {
	reserve := a.Balance.PercentBps(reserveBps)
	return a.Balance.MustSub(reserve)
}

// AddRequest is the request to register a funding account.
type AddRequest struct {
	Name         string `json:"name" validate:"required"`
	Kind         Kind   `json:"kind" validate:"required,oneof=bank wallet card"`
	Last4        string `json:"last4" validate:"required,len=4,numeric"`
	BalanceMinor int64  `json:"balance_minor" validate:"gte=0"`
	Currency     string `json:"currency" validate:"omitempty,oneof=CAD USD EUR GBP"`
}
