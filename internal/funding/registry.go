package funding

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/oklog/ulid/v2"

	"creatorpay/internal/common/database"
	"creatorpay/internal/common/events"
	"creatorpay/internal/common/middleware"
	"creatorpay/internal/common/money"
)

var (
	// ErrNoPrimary means no active primary funding account exists.
	ErrNoPrimary = errors.New("no primary funding account")

	// ErrAccountDisabled means the account cannot cover payouts in its
	// current status.
	ErrAccountDisabled = errors.New("funding account is not active")

	// ErrInsufficientBalance means a withdrawal exceeds the account
	// balance.
	ErrInsufficientBalance = errors.New("insufficient funding account balance")

	// ErrAdminRequired means the acting caller lacks the admin role.
	ErrAdminRequired = errors.New("admin role required")
)

// Store persists funding accounts.
type Store interface {
	Create(ctx context.Context, a *Account) error
	Get(ctx context.Context, id string) (*Account, error)
	List(ctx context.Context) ([]*Account, error)
	GetPrimary(ctx context.Context) (*Account, error)
	SetStatus(ctx context.Context, id string, status Status) (*Account, error)
	// SetPrimary demotes the current primary and promotes id in one
	// transaction.
	SetPrimary(ctx context.Context, id string) error
	Delete(ctx context.Context, id string) error
	// Withdraw atomically decrements the balance, failing when the
	// account would go negative.
	Withdraw(ctx context.Context, id string, amountMinor int64) error
	Deposit(ctx context.Context, id string, amountMinor int64) error
}

// Publisher publishes funding account change events.
type Publisher interface {
	Publish(ctx context.Context, event *events.Event) error
}

// Registry manages the platform's funding accounts. All mutations are
// admin-gated.
type Registry struct {
	store     Store
	publisher Publisher
	logger    *slog.Logger
}

// NewRegistry creates a funding account registry.
func NewRegistry(store Store, publisher Publisher, logger *slog.Logger) *Registry {
	return &Registry{
		store:     store,
		publisher: publisher,
		logger:    logger.With("component", "funding.registry"),
	}
}

// Add registers a funding account. The first account becomes primary.
func (r *Registry) Add(ctx context.Context, actor middleware.Actor, req AddRequest) (*Account, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}

	currency := money.Currency(req.Currency)
	if currency == "" {
		currency = money.DefaultCurrency
	}

	existing, err := r.store.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing accounts: %w", err)
	}

	now := time.Now().UTC()
	a := &Account{
		ID:        ulid.Make().String(),
		Name:      req.Name,
		Kind:      req.Kind,
		Last4:     req.Last4,
		Status:    StatusPending,
		IsPrimary: len(existing) == 0,
		Balance:   money.New(req.BalanceMinor, currency),
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := r.store.Create(ctx, a); err != nil {
		return nil, fmt.Errorf("creating account: %w", err)
	}

	r.publishChange(ctx, a, "added")
	r.logger.Info("funding account added",
		"account_id", a.ID, "kind", a.Kind, "is_primary", a.IsPrimary)
	return a, nil
}

// Get returns a single account.
func (r *Registry) Get(ctx context.Context, actor middleware.Actor, id string) (*Account, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}
	return r.store.Get(ctx, id)
}

// List returns all funding accounts.
func (r *Registry) List(ctx context.Context, actor middleware.Actor) ([]*Account, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}
	return r.store.List(ctx)
}

// SetStatus changes an account's lifecycle status.
func (r *Registry) SetStatus(ctx context.Context, actor middleware.Actor, id string, status Status) (*Account, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}
	switch status {
	case StatusActive, StatusPending, StatusDisabled:
	default:
		return nil, fmt.Errorf("unknown status %q", status)
	}

	a, err := r.store.SetStatus(ctx, id, status)
	if err != nil {
		return nil, err
	}

	r.publishChange(ctx, a, "status_changed")
	r.logger.Info("funding account status changed", "account_id", id, "status", status)
	return a, nil
}

// SetPrimary makes the account the payout funding source, demoting the
// previous primary atomically.
func (r *Registry) SetPrimary(ctx context.Context, actor middleware.Actor, id string) (*Account, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}

	if err := r.store.SetPrimary(ctx, id); err != nil {
		return nil, err
	}

	a, err := r.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	r.publishChange(ctx, a, "primary_changed")
	r.logger.Info("primary funding account changed", "account_id", id)
	return a, nil
}

// Delete removes a funding account. Deleting the primary deliberately
// leaves no primary; payouts halt until an admin picks a new one.
func (r *Registry) Delete(ctx context.Context, actor middleware.Actor, id string) error {
	if err := requireAdmin(actor); err != nil {
		return err
	}

	a, err := r.store.Get(ctx, id)
	if err != nil {
		return err
	}

	if err := r.store.Delete(ctx, id); err != nil {
		return err
	}

	if a.IsPrimary {
		r.logger.Warn("primary funding account deleted; payouts halted until a new primary is set",
			"account_id", id)
	}
	r.publishChange(ctx, a, "deleted")
	return nil
}

// PrimaryAvailable returns the primary account's balance net of the
// reserve holdback. It implements the settlement path's funding source.
func (r *Registry) PrimaryAvailable(ctx context.Context, reserveBps int64) (string, money.Money, error) {
	a, err := r.store.GetPrimary(ctx)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return "", money.Money{}, ErrNoPrimary
		}
		return "", money.Money{}, err
	}
	if a.Status != StatusActive {
		return "", money.Money{}, fmt.Errorf("%w: account %s is %s", ErrAccountDisabled, a.ID, a.Status)
	}
	return a.ID, a.Available(reserveBps), nil
}

// Withdraw debits a completed payout from the account balance.
func (r *Registry) Withdraw(ctx context.Context, accountID string, amount money.Money) error {
	if !amount.IsPositive() {
		return fmt.Errorf("withdrawal amount must be positive")
	}
	return r.store.Withdraw(ctx, accountID, amount.AmountMinor)
}

// Refund re-credits a settlement debit whose payout was never
// submitted. Unlike Deposit it carries no actor: the settlement path
// reverses its own withdrawals.
func (r *Registry) Refund(ctx context.Context, accountID string, amount money.Money) error {
	if !amount.IsPositive() {
		return fmt.Errorf("refund amount must be positive")
	}
	return r.store.Deposit(ctx, accountID, amount.AmountMinor)
}

// Deposit credits the account balance.
func (r *Registry) Deposit(ctx context.Context, actor middleware.Actor, accountID string, amount money.Money) error {
	if err := requireAdmin(actor); err != nil {
		return err
	}
	if !amount.IsPositive() {
		return fmt.Errorf("deposit amount must be positive")
	}
	return r.store.Deposit(ctx, accountID, amount.AmountMinor)
}

func requireAdmin(actor middleware.Actor) error {
	if actor.Role == middleware.RoleAdmin || actor.Role == middleware.RoleSystem {
		return nil
	}
	return ErrAdminRequired
}

func (r *Registry) publishChange(ctx context.Context, a *Account, change string) {
	if r.publisher == nil {
		return
	}
	event, err := events.NewEvent(events.EventFundingAccountChanged, "funding_account", a.ID, map[string]any{
		"account_id": a.ID,
		"change":     change,
		"is_primary": a.IsPrimary,
		"status":     string(a.Status),
	})
	if err != nil {
		r.logger.Error("building event", "error", err)
		return
	}
	event.WithCorrelation(middleware.GetCorrelationID(ctx))
	if err := r.publisher.Publish(ctx, event); err != nil {
		r.logger.Error("publishing event", "account_id", a.ID, "error", err)
	}
}
