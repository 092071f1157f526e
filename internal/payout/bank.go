package payout

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"creatorpay/internal/common/events"
	"creatorpay/internal/common/middleware"
)

// BankAccountRequest carries the details submitted to the provider when
// registering an external bank account.
type BankAccountRequest struct {
	RoutingNumber string
	AccountNumber string
	HolderName    string
	HolderType    string
	AccountType   string
	Country       string
}

// BankAccountResult is the provider's response to a bank account
// registration.
type BankAccountResult struct {
	ProviderBankAccountID string
	VerificationMethod    string
	// Verified is true when the provider could verify the account
	// instantly; otherwise micro-deposits are pending.
	Verified bool
}

// BankProvider registers external bank accounts and confirms
// micro-deposit amounts.
type BankProvider interface {
	CreateBankAccount(ctx context.Context, ownerID string, req BankAccountRequest) (*BankAccountResult, error)
	// VerifyMicroDeposits returns ErrVerificationMismatch when the
	// amounts do not match the deposits the provider sent.
	VerifyMicroDeposits(ctx context.Context, providerBankAccountID string, amount1, amount2 int64) error
}

// BankVerification drives the wire/ACH account verification flow. A
// method becomes usable for payouts only once its status is verified.
type BankVerification struct {
	store     Store
	provider  BankProvider
	publisher Publisher
	logger    *slog.Logger
}

// NewBankVerification creates the bank verification flow.
func NewBankVerification(store Store, provider BankProvider, publisher Publisher, logger *slog.Logger) *BankVerification {
	return &BankVerification{
		store:     store,
		provider:  provider,
		publisher: publisher,
		logger:    logger.With("component", "payout.bank"),
	}
}

// CreateBankAccount submits a wire/ACH method's details to the provider.
// Instant verification marks the method verified; otherwise it moves to
// pending awaiting micro-deposit amounts. A provider failure or timeout
// leaves the method unverified so the call can be retried; it never
// leaves the method verified.
func (b *BankVerification) CreateBankAccount(ctx context.Context, actor middleware.Actor, methodID string) (*Method, error) {
	m, err := b.store.Get(ctx, methodID)
	if err != nil {
		return nil, err
	}
	if err := requireOwner(actor, m.OwnerID); err != nil {
		return nil, err
	}
	if m.Kind != KindWireACH {
		return nil, &ValidationError{Field: "kind"}
	}
	if m.VerificationStatus == VerificationVerified {
		return m, nil
	}

	result, err := b.provider.CreateBankAccount(ctx, m.OwnerID, BankAccountRequest{
		RoutingNumber: m.RoutingNumber,
		AccountNumber: m.AccountNumber,
		HolderName:    m.HolderName,
		HolderType:    m.HolderType,
		AccountType:   m.AccountType,
		Country:       m.Country,
	})
	if err != nil {
		b.logger.Warn("bank account registration failed",
			"method_id", m.ID, "owner_id", m.OwnerID, "error", err)
		return nil, fmt.Errorf("registering bank account: %w", err)
	}

	m.ProviderBankAccountID = result.ProviderBankAccountID
	m.VerificationMethod = result.VerificationMethod
	if result.Verified {
		m.VerificationStatus = VerificationVerified
	} else {
		m.VerificationStatus = VerificationPending
	}
	m.UpdatedAt = time.Now().UTC()

	if err := b.store.Update(ctx, m); err != nil {
		return nil, fmt.Errorf("saving bank account: %w", err)
	}

	if m.VerificationStatus == VerificationVerified {
		b.publishVerified(ctx, m)
	}
	b.logger.Info("bank account registered",
		"method_id", m.ID, "owner_id", m.OwnerID, "status", m.VerificationStatus)
	return m, nil
}

// VerifyMicroDeposits confirms the two deposit amounts, in minor units,
// against the provider. The provider bank account must exist first.
func (b *BankVerification) VerifyMicroDeposits(ctx context.Context, actor middleware.Actor, methodID string, amount1, amount2 int64) (*Method, error) {
	m, err := b.store.Get(ctx, methodID)
	if err != nil {
		return nil, err
	}
	if err := requireOwner(actor, m.OwnerID); err != nil {
		return nil, err
	}
	if m.Kind != KindWireACH {
		return nil, &ValidationError{Field: "kind"}
	}
	if m.VerificationStatus == VerificationVerified {
		return m, nil
	}
	if m.ProviderBankAccountID == "" {
		return nil, ErrNotInitialized
	}

	if err := b.provider.VerifyMicroDeposits(ctx, m.ProviderBankAccountID, amount1, amount2); err != nil {
		b.logger.Warn("micro-deposit verification failed",
			"method_id", m.ID, "owner_id", m.OwnerID, "error", err)
		return nil, err
	}

	m.VerificationStatus = VerificationVerified
	m.UpdatedAt = time.Now().UTC()
	if err := b.store.Update(ctx, m); err != nil {
		return nil, fmt.Errorf("saving verification: %w", err)
	}

	b.publishVerified(ctx, m)
	b.logger.Info("bank account verified", "method_id", m.ID, "owner_id", m.OwnerID)
	return m, nil
}

func (b *BankVerification) publishVerified(ctx context.Context, m *Method) {
	if b.publisher == nil {
		return
	}
	event, err := events.NewEvent(events.EventPayoutMethodVerified, "payout_method", m.ID, events.PayoutMethodData{
		MethodID:  m.ID,
		OwnerID:   m.OwnerID,
		Kind:      string(m.Kind),
		IsDefault: m.IsDefault,
	})
	if err != nil {
		b.logger.Error("building event", "error", err)
		return
	}
	event.WithCorrelation(middleware.GetCorrelationID(ctx))
	if err := b.publisher.Publish(ctx, event); err != nil {
		b.logger.Error("publishing event", "method_id", m.ID, "error", err)
	}
}
