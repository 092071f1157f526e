package payment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/oklog/ulid/v2"

	"creatorpay/internal/common/events"
	"creatorpay/internal/common/middleware"
	"creatorpay/internal/common/money"
	"creatorpay/internal/feeconfig"
	"creatorpay/internal/fees"
)

// Store persists payments.
type Store interface {
	Create(ctx context.Context, p *Payment) error
	Get(ctx context.Context, id string) (*Payment, error)
	// Update persists a transition guarded by the loaded version and
	// returns ErrStaleState when a concurrent transition won.
	Update(ctx context.Context, p *Payment) error
	ListByStatus(ctx context.Context, status Status, limit int) ([]*Payment, error)
	ListByCreator(ctx context.Context, creatorID string, limit, offset int) ([]*Payment, error)
	ListByCompany(ctx context.Context, companyID string, limit, offset int) ([]*Payment, error)
	SumEarnings(ctx context.Context, creatorID string) (money.Money, error)
}

// ConfigSource supplies the current fee configuration.
type ConfigSource interface {
	Get(ctx context.Context) (*feeconfig.Config, error)
}

// Destination is the payout-method view the settlement path needs.
type Destination struct {
	MethodID              string
	Kind                  string
	Email                 string
	ProviderAccountID     string
	ProviderBankAccountID string
	WalletAddress         string
	Network               string
}

// MethodSource resolves the verified default payout method for an owner.
// It returns ErrMethodNotVerified when the default method exists but has
// not completed verification or provider onboarding.
type MethodSource interface {
	VerifiedDefault(ctx context.Context, ownerID string) (*Destination, error)
}

// FundingSource exposes the primary funding account used to cover payouts.
type FundingSource interface {
	// PrimaryAvailable returns the primary account and its balance net
	// of the reserve holdback.
	PrimaryAvailable(ctx context.Context, reserveBps int64) (accountID string, available money.Money, err error)
	// Withdraw atomically debits the account, failing when the balance
	// no longer covers the amount.
	Withdraw(ctx context.Context, accountID string, amount money.Money) error
	// Refund re-credits a debit whose payout was never submitted.
	Refund(ctx context.Context, accountID string, amount money.Money) error
}

// Gateway submits payouts to the external provider. It returns
// ErrInsufficientFunds or *ProviderError; anything else is wrapped.
type Gateway interface {
	SendPayout(ctx context.Context, dest Destination, amount money.Money) error
}

// Notifier is invoked fire-and-forget on dispute and funding failures.
type Notifier interface {
	PaymentDisputed(ctx context.Context, p *Payment)
	PayoutFailed(ctx context.Context, p *Payment, code, message string)
}

// Publisher publishes domain events.
type Publisher interface {
	Publish(ctx context.Context, event *events.Event) error
}

// Service drives the payment state machine.
type Service struct {
	store     Store
	config    ConfigSource
	methods   MethodSource
	funding   FundingSource
	gateway   Gateway
	notifier  Notifier
	publisher Publisher
	logger    *slog.Logger
}

// NewService creates a payment service.
func NewService(store Store, config ConfigSource, methods MethodSource, funding FundingSource, gateway Gateway, notifier Notifier, publisher Publisher, logger *slog.Logger) *Service {
	return &Service{
		store:     store,
		config:    config,
		methods:   methods,
		funding:   funding,
		gateway:   gateway,
		notifier:  notifier,
		publisher: publisher,
		logger:    logger,
	}
}

// CreateRequest is the request to record a new payment.
type CreateRequest struct {
	ApplicationID string      `json:"application_id" validate:"required"`
	OfferID       string      `json:"offer_id" validate:"required"`
	CreatorID     string      `json:"creator_id" validate:"required"`
	CompanyID     string      `json:"company_id" validate:"required"`
	Gross         money.Money `json:"gross" validate:"required"`
	Description   string      `json:"description"`
	SaleRef       string      `json:"sale_ref"`
}

// Create records a payment in pending with fees computed from the
// current fee config snapshot. Payments are minted by the platform, not
// by the parties they pay, so the caller must hold the system or admin
// role.
func (s *Service) Create(ctx context.Context, actor middleware.Actor, req CreateRequest) (*Payment, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}

	cfg, err := s.config.Get(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading fee config: %w", err)
	}

	breakdown, err := fees.Compute(req.Gross, cfg.Snapshot())
	if err != nil {
		return nil, err
	}

	now := timeNow()
	p := &Payment{
		ID:            ulid.Make().String(),
		ApplicationID: req.ApplicationID,
		OfferID:       req.OfferID,
		CreatorID:     req.CreatorID,
		CompanyID:     req.CompanyID,
		SaleRef:       req.SaleRef,
		Gross:         breakdown.Gross,
		PlatformFee:   breakdown.PlatformFee,
		ProcessingFee: breakdown.ProcessingFee,
		Net:           breakdown.Net,
		Status:        StatusPending,
		Description:   req.Description,
		Version:       1,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	if err := s.store.Create(ctx, p); err != nil {
		return nil, fmt.Errorf("storing payment: %w", err)
	}

	s.publish(ctx, events.EventPaymentCreated, p, events.PaymentCreatedData{
		PaymentID:          p.ID,
		CreatorID:          p.CreatorID,
		CompanyID:          p.CompanyID,
		GrossMinor:         p.Gross.AmountMinor,
		PlatformFeeMinor:   p.PlatformFee.AmountMinor,
		ProcessingFeeMinor: p.ProcessingFee.AmountMinor,
		NetMinor:           p.Net.AmountMinor,
		Currency:           string(p.Gross.Currency),
	})

	s.logger.Info("payment created",
		"payment_id", p.ID,
		"creator_id", p.CreatorID,
		"gross", p.Gross.AmountMinor,
		"net", p.Net.AmountMinor,
	)

	return p, nil
}

// Get retrieves a payment.
func (s *Service) Get(ctx context.Context, id string) (*Payment, error) {
	return s.store.Get(ctx, id)
}

// ListByCreator lists a creator's payments. Creators see only their own
// history.
func (s *Service) ListByCreator(ctx context.Context, actor middleware.Actor, creatorID string, limit, offset int) ([]*Payment, error) {
	if err := requireSelf(actor, middleware.RoleCreator, creatorID); err != nil {
		return nil, err
	}
	return s.store.ListByCreator(ctx, creatorID, clampLimit(limit), offset)
}

// ListByCompany lists a company's payments. Companies see only their
// own history.
func (s *Service) ListByCompany(ctx context.Context, actor middleware.Actor, companyID string, limit, offset int) ([]*Payment, error) {
	if err := requireSelf(actor, middleware.RoleCompany, companyID); err != nil {
		return nil, err
	}
	return s.store.ListByCompany(ctx, companyID, clampLimit(limit), offset)
}

// TotalEarnings sums a creator's net amounts, excluding disputed and
// refunded payments.
func (s *Service) TotalEarnings(ctx context.Context, actor middleware.Actor, creatorID string) (money.Money, error) {
	if err := requireSelf(actor, middleware.RoleCreator, creatorID); err != nil {
		return money.Money{}, err
	}
	return s.store.SumEarnings(ctx, creatorID)
}

// Approve lets the owning company move a pending payment to processing.
func (s *Service) Approve(ctx context.Context, actor middleware.Actor, id string) (*Payment, error) {
	p, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.requireCompanyOwner(actor, p); err != nil {
		return nil, err
	}
	if err := p.Approve(); err != nil {
		return nil, err
	}
	if err := s.store.Update(ctx, p); err != nil {
		return nil, err
	}

	s.publish(ctx, events.EventPaymentApproved, p, nil)
	s.logger.Info("payment approved", "payment_id", p.ID, "company_id", actor.ID)
	return p, nil
}

// Dispute lets the owning company fail a pending or processing payment
// with a recorded reason.
func (s *Service) Dispute(ctx context.Context, actor middleware.Actor, id, reason string) (*Payment, error) {
	p, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.requireCompanyOwner(actor, p); err != nil {
		return nil, err
	}
	if err := p.Dispute(reason); err != nil {
		return nil, err
	}
	if err := s.store.Update(ctx, p); err != nil {
		return nil, err
	}

	s.notifier.PaymentDisputed(ctx, p)
	s.publish(ctx, events.EventPaymentDisputed, p, events.PaymentDisputedData{
		PaymentID: p.ID,
		CompanyID: p.CompanyID,
		CreatorID: p.CreatorID,
		Reason:    reason,
	})
	s.logger.Info("payment disputed", "payment_id", p.ID, "company_id", actor.ID)
	return p, nil
}

// MarkProcessing lets an admin move a pending payment to processing.
func (s *Service) MarkProcessing(ctx context.Context, actor middleware.Actor, id string) (*Payment, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}
	p, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := p.MarkProcessing(); err != nil {
		return nil, err
	}
	if err := s.store.Update(ctx, p); err != nil {
		return nil, err
	}

	s.publish(ctx, events.EventPaymentProcessing, p, nil)
	return p, nil
}

// Retry lets an admin move a failed payment back to processing.
func (s *Service) Retry(ctx context.Context, actor middleware.Actor, id string) (*Payment, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}
	p, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := p.Retry(); err != nil {
		return nil, err
	}
	if err := s.store.Update(ctx, p); err != nil {
		return nil, err
	}

	s.publish(ctx, events.EventPaymentRetried, p, nil)
	s.logger.Info("payment retried", "payment_id", p.ID)
	return p, nil
}

// RecordRefund records an external reversal of a completed payment.
func (s *Service) RecordRefund(ctx context.Context, actor middleware.Actor, id string) (*Payment, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}
	p, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := p.RecordRefund(); err != nil {
		return nil, err
	}
	if err := s.store.Update(ctx, p); err != nil {
		return nil, err
	}

	s.publish(ctx, events.EventPaymentRefunded, p, nil)
	s.logger.Info("payment refund recorded", "payment_id", p.ID)
	return p, nil
}

// Complete settles a processing payment to the creator's verified
// default payout method. Settlement failures move the payment to failed
// so operators always have an actionable item; the typed error tells the
// caller which precondition broke.
func (s *Service) Complete(ctx context.Context, actor middleware.Actor, id string) (*Payment, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}
	p, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.complete(ctx, p)
}

func (s *Service) complete(ctx context.Context, p *Payment) (*Payment, error) {
	if p.Status != StatusProcessing {
		return nil, fmt.Errorf("%w: cannot complete payment in status %s", ErrInvalidTransition, p.Status)
	}

	cfg, err := s.config.Get(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading fee config: %w", err)
	}

	minimum := money.New(cfg.MinimumPayoutMinor, p.Net.Currency)
	if p.Net.LessThan(minimum) {
		typed := &BelowMinimumError{Minimum: minimum}
		if err := s.failPayment(ctx, p, FailureBelowMinimumPayout, typed.Error()); err != nil {
			return nil, err
		}
		return p, typed
	}

	dest, err := s.methods.VerifiedDefault(ctx, p.CreatorID)
	if err != nil {
		// No usable destination: the payment stays processing since the
		// fix is verification, not a settlement retry.
		return nil, err
	}

	accountID, available, err := s.funding.PrimaryAvailable(ctx, cfg.ReserveBps)
	if err != nil {
		return nil, fmt.Errorf("checking funding balance: %w", err)
	}
	if available.LessThan(p.Net) {
		if err := s.failPayment(ctx, p, FailureInsufficientFunds, ErrInsufficientFunds.Error()); err != nil {
			return nil, err
		}
		s.notifier.PayoutFailed(ctx, p, FailureInsufficientFunds, ErrInsufficientFunds.Error())
		return p, ErrInsufficientFunds
	}

	// The debit lands before the payout is submitted so a completed
	// payment is always charged against the funding account. A failed
	// debit here means the balance moved under us since the check above.
	if err := s.funding.Withdraw(ctx, accountID, p.Net); err != nil {
		if ferr := s.failPayment(ctx, p, FailureInsufficientFunds, err.Error()); ferr != nil {
			return nil, ferr
		}
		s.notifier.PayoutFailed(ctx, p, FailureInsufficientFunds, err.Error())
		return p, fmt.Errorf("%w: %v", ErrInsufficientFunds, err)
	}

	if err := s.gateway.SendPayout(ctx, *dest, p.Net); err != nil {
		s.refundFunding(ctx, accountID, p)
		if errors.Is(err, ErrInsufficientFunds) {
			if ferr := s.failPayment(ctx, p, FailureInsufficientFunds, err.Error()); ferr != nil {
				return nil, ferr
			}
			s.notifier.PayoutFailed(ctx, p, FailureInsufficientFunds, err.Error())
			return p, ErrInsufficientFunds
		}
		typed := &ProviderError{Message: err.Error()}
		var pe *ProviderError
		if errors.As(err, &pe) {
			typed = pe
		}
		if ferr := s.failPayment(ctx, p, FailureProviderError, typed.Message); ferr != nil {
			return nil, ferr
		}
		return p, typed
	}

	if err := p.markCompleted(dest.MethodID); err != nil {
		return nil, err
	}
	if err := s.store.Update(ctx, p); err != nil {
		return nil, err
	}

	s.publish(ctx, events.EventPaymentCompleted, p, events.PaymentCompletedData{
		PaymentID:      p.ID,
		CreatorID:      p.CreatorID,
		NetMinor:       p.Net.AmountMinor,
		Currency:       string(p.Net.Currency),
		PayoutMethodID: dest.MethodID,
		CompletedAt:    *p.CompletedAt,
	})

	s.logger.Info("payment completed",
		"payment_id", p.ID,
		"creator_id", p.CreatorID,
		"net", p.Net.AmountMinor,
		"method_id", dest.MethodID,
	)

	return p, nil
}

// BulkResult reports the outcome of one payment in a bulk completion.
type BulkResult struct {
	PaymentID string `json:"payment_id"`
	Status    Status `json:"status"`
	ErrorCode string `json:"error_code,omitempty"`
	Message   string `json:"message,omitempty"`
}

// CompleteAllProcessing applies Complete to every processing payment.
// One failure never aborts the batch; each item's outcome is reported.
func (s *Service) CompleteAllProcessing(ctx context.Context, actor middleware.Actor) ([]BulkResult, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}

	pending, err := s.store.ListByStatus(ctx, StatusProcessing, 500)
	if err != nil {
		return nil, fmt.Errorf("listing processing payments: %w", err)
	}

	results := make([]BulkResult, 0, len(pending))
	for _, p := range pending {
		updated, err := s.complete(ctx, p)
		result := BulkResult{PaymentID: p.ID}
		if updated != nil {
			result.Status = updated.Status
		} else {
			result.Status = p.Status
		}
		if err != nil {
			result.ErrorCode = classify(err)
			result.Message = err.Error()
		}
		results = append(results, result)
	}

	s.logger.Info("bulk completion finished",
		"total", len(results),
	)

	return results, nil
}

// classify maps a settlement error to its failure code.
func classify(err error) string {
	var belowMin *BelowMinimumError
	var provider *ProviderError
	switch {
	case errors.Is(err, ErrInsufficientFunds):
		return FailureInsufficientFunds
	case errors.As(err, &belowMin):
		return FailureBelowMinimumPayout
	case errors.As(err, &provider):
		return FailureProviderError
	case errors.Is(err, ErrMethodNotVerified):
		return "method_not_verified"
	case errors.Is(err, ErrStaleState):
		return "stale_state"
	default:
		return "error"
	}
}

// failPayment persists a failed transition.
func (s *Service) failPayment(ctx context.Context, p *Payment, code, message string) error {
	if err := p.markFailed(code, message); err != nil {
		return err
	}
	if err := s.store.Update(ctx, p); err != nil {
		return err
	}
	s.publish(ctx, events.EventPaymentFailed, p, events.PaymentFailedData{
		PaymentID:   p.ID,
		CreatorID:   p.CreatorID,
		FailureCode: code,
		Message:     message,
	})
	s.logger.Warn("payment failed",
		"payment_id", p.ID,
		"failure_code", code,
	)
	return nil
}

// refundFunding re-credits a settlement debit whose payout was never
// submitted. A failed refund strands the debit, so it is logged at
// error level with everything an operator needs to re-credit manually.
func (s *Service) refundFunding(ctx context.Context, accountID string, p *Payment) {
	if err := s.funding.Refund(ctx, accountID, p.Net); err != nil {
		s.logger.Error("refunding funding debit failed",
			"payment_id", p.ID,
			"funding_account_id", accountID,
			"amount", p.Net.AmountMinor,
			"error", err,
		)
	}
}

func (s *Service) requireCompanyOwner(actor middleware.Actor, p *Payment) error {
	if actor.Role != middleware.RoleCompany || actor.ID != p.CompanyID {
		return fmt.Errorf("%w: payment belongs to another company", ErrNotAuthorized)
	}
	return nil
}

func requireAdmin(actor middleware.Actor) error {
	if actor.Role != middleware.RoleAdmin && actor.Role != middleware.RoleSystem {
		return fmt.Errorf("%w: admin role required", ErrNotAuthorized)
	}
	return nil
}

// requireSelf allows the named owner acting in the given role, plus
// admins and the system role.
func requireSelf(actor middleware.Actor, role middleware.Role, ownerID string) error {
	if actor.Role == middleware.RoleAdmin || actor.Role == middleware.RoleSystem {
		return nil
	}
	if actor.Role == role && actor.ID == ownerID {
		return nil
	}
	return fmt.Errorf("%w: not the resource owner", ErrNotAuthorized)
}

func (s *Service) publish(ctx context.Context, eventType string, p *Payment, data any) {
	if s.publisher == nil {
		return
	}
	if data == nil {
		data = map[string]string{"payment_id": p.ID, "status": string(p.Status)}
	}
	event, err := events.NewEvent(eventType, "payment", p.ID, data)
	if err != nil {
		s.logger.Error("building event", "type", eventType, "error", err)
		return
	}
	event.WithCorrelation(middleware.GetCorrelationID(ctx))
	if err := s.publisher.Publish(ctx, event); err != nil {
		s.logger.Error("publishing event", "type", eventType, "error", err)
	}
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return 50
	}
	if limit > 100 {
		return 100
	}
	return limit
}
