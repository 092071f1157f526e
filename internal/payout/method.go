// Package payout manages creator payout destinations and their
// verification flows.
package payout

import (
	"time"
)

// Kind identifies a payout method variant.
type Kind string

const (
	KindETransfer Kind = "etransfer"
	KindWireACH   Kind = "wire_ach"
	KindPayPal    Kind = "paypal"
	KindCrypto    Kind = "crypto"
)

// VerificationStatus tracks bank account verification.
type VerificationStatus string

const (
	VerificationUnverified VerificationStatus = "unverified"
	VerificationPending    VerificationStatus = "pending"
	VerificationVerified   VerificationStatus = "verified"
)

// Method is a creator's or company's destination for funds. Exactly one
// method per owner is the default at any time.
type Method struct {
	ID        string `json:"id"`
	OwnerID   string `json:"owner_id"`
	Kind      Kind   `json:"kind"`
	IsDefault bool   `json:"is_default"`

	// ETransfer / PayPal
	Email string `json:"email,omitempty"`

	// ETransfer provider onboarding. Empty until the connected account
	// exists; the method is unusable for payouts before that.
	ProviderAccountID string `json:"provider_account_id,omitempty"`

	// WireACH
	RoutingNumber         string             `json:"routing_number,omitempty"`
	AccountNumber         string             `json:"account_number,omitempty"`
	HolderName            string             `json:"holder_name,omitempty"`
	HolderType            string             `json:"holder_type,omitempty"`
	AccountType           string             `json:"account_type,omitempty"`
	Country               string             `json:"country,omitempty"`
	VerificationStatus    VerificationStatus `json:"verification_status,omitempty"`
	ProviderBankAccountID string             `json:"provider_bank_account_id,omitempty"`
	VerificationMethod    string             `json:"verification_method,omitempty"`

	// Crypto
	WalletAddress string `json:"wallet_address,omitempty"`
	Network       string `json:"network,omitempty"`

	// Version guards concurrent updates. Updates carry the version they
	// loaded; a mismatch at the store means the caller lost.
	Version int64 `json:"version"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// UsableForPayout reports whether the method can receive a settlement.
func (m *Method) UsableForPayout() bool {
	switch m.Kind {
	case KindETransfer:
		return m.ProviderAccountID != ""
	case KindWireACH:
		return m.VerificationStatus == VerificationVerified
	case KindPayPal, KindCrypto:
		return true
	default:
		return false
	}
}

// AddRequest is the request to register a new payout method.
type AddRequest struct {
	OwnerID string `json:"owner_id" validate:"required"`
	Kind    Kind   `json:"kind" validate:"required,oneof=etransfer wire_ach paypal crypto"`

	Email string `json:"email,omitempty"`

	RoutingNumber string `json:"routing_number,omitempty"`
	AccountNumber string `json:"account_number,omitempty"`
	HolderName    string `json:"holder_name,omitempty"`
	HolderType    string `json:"holder_type,omitempty"`
	AccountType   string `json:"account_type,omitempty"`
	Country       string `json:"country,omitempty"`

	WalletAddress string `json:"wallet_address,omitempty"`
	Network       string `json:"network,omitempty"`
}

// Validate checks the variant's required fields.
func (r AddRequest) Validate() error {
	switch r.Kind {
	case KindETransfer, KindPayPal:
		if r.Email == "" {
			return &ValidationError{Field: "email"}
		}
	case KindWireACH:
		if r.RoutingNumber == "" {
			return &ValidationError{Field: "routing_number"}
		}
		if r.AccountNumber == "" {
			return &ValidationError{Field: "account_number"}
		}
		if r.HolderName == "" {
			return &ValidationError{Field: "holder_name"}
		}
	case KindCrypto:
		if r.WalletAddress == "" {
			return &ValidationError{Field: "wallet_address"}
		}
		if r.Network == "" {
			return &ValidationError{Field: "network"}
		}
	default:
		return &ValidationError{Field: "kind"}
	}
	return nil
}
