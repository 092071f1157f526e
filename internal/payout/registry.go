package payout

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/oklog/ulid/v2"

	"creatorpay/internal/common/events"
	"creatorpay/internal/common/middleware"
)

// Store persists payout methods.
type Store interface {
	Create(ctx context.Context, m *Method) (err error)
	Get(ctx context.Context, id string) (*Method, error)
	ListByOwner(ctx context.Context, ownerID string) ([]*Method, error)
	GetDefault(ctx context.Context, ownerID string) (*Method, error)
	// Update persists changes guarded by the loaded version and returns
	// ErrStaleState when a concurrent update won.
	Update(ctx context.Context, m *Method) error
	// SetDefault demotes the current default and promotes methodID in a
	// single transaction.
	SetDefault(ctx context.Context, ownerID, methodID string) error
	// Delete removes the method and, when it was the default, promotes
	// the owner's oldest remaining method in the same transaction. It
	// returns the promoted method's ID, or "" when none remain.
	Delete(ctx context.Context, ownerID, methodID string) (promotedID string, err error)
	CountByOwner(ctx context.Context, ownerID string) (int, error)
}

// Provider creates connected accounts and onboarding links for
// e-transfer destinations.
type Provider interface {
	CreateConnectedAccount(ctx context.Context, ownerID, email string) (accountID string, err error)
	CreateOnboardingLink(ctx context.Context, accountID string) (url string, err error)
}

// AddressValidator checks a wallet address against its network's rules.
type AddressValidator interface {
	ValidateAddress(address, network string) error
}

// UsageChecker reports whether a method is referenced by an in-flight
// payout.
type UsageChecker interface {
	MethodInUse(ctx context.Context, methodID string) (bool, error)
}

// Publisher publishes payout method lifecycle events.
type Publisher interface {
	Publish(ctx context.Context, event *events.Event) error
}

// Registry manages an owner's set of payout methods.
type Registry struct {
	store     Store
	provider  Provider
	addresses AddressValidator
	usage     UsageChecker
	publisher Publisher
	logger    *slog.Logger
}

// NewRegistry creates a payout method registry.
func NewRegistry(store Store, provider Provider, addresses AddressValidator, usage UsageChecker, publisher Publisher, logger *slog.Logger) *Registry {
	return &Registry{
		store:     store,
		provider:  provider,
		addresses: addresses,
		usage:     usage,
		publisher: publisher,
		logger:    logger.With("component", "payout.registry"),
	}
}

// AddResult is the outcome of registering a method. OnboardingURL is set
// only for e-transfer methods whose connected account was created.
type AddResult struct {
	Method        *Method `json:"method"`
	OnboardingURL string  `json:"onboarding_url,omitempty"`
}

// AddMethod validates and stores a new payout method. The owner's first
// method becomes the default automatically. For e-transfer methods a
// provider connected account is created; a provider failure leaves the
// method stored but not yet usable, to be finished via EnsureOnboarding.
func (r *Registry) AddMethod(ctx context.Context, actor middleware.Actor, req AddRequest) (*AddResult, error) {
	if err := requireOwner(actor, req.OwnerID); err != nil {
		return nil, err
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if req.Kind == KindCrypto {
		if err := r.addresses.ValidateAddress(req.WalletAddress, req.Network); err != nil {
			return nil, err
		}
	}

	count, err := r.store.CountByOwner(ctx, req.OwnerID)
	if err != nil {
		return nil, fmt.Errorf("counting methods: %w", err)
	}

	now := time.Now().UTC()
	m := &Method{
		ID:            ulid.Make().String(),
		OwnerID:       req.OwnerID,
		Kind:          req.Kind,
		IsDefault:     count == 0,
		Email:         req.Email,
		RoutingNumber: req.RoutingNumber,
		AccountNumber: req.AccountNumber,
		HolderName:    req.HolderName,
		HolderType:    req.HolderType,
		AccountType:   req.AccountType,
		Country:       req.Country,
		WalletAddress: req.WalletAddress,
		Network:       req.Network,
		Version:       1,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if m.Kind == KindWireACH {
		m.VerificationStatus = VerificationUnverified
	}

	if err := r.store.Create(ctx, m); err != nil {
		return nil, fmt.Errorf("creating method: %w", err)
	}

	result := &AddResult{Method: m}
	if m.Kind == KindETransfer {
		url, err := r.startOnboarding(ctx, m)
		if err != nil {
			// The method stays registered without a connected account.
			r.logger.Warn("e-transfer onboarding deferred",
				"method_id", m.ID, "owner_id", m.OwnerID, "error", err)
		} else {
			result.OnboardingURL = url
		}
	}

	r.publishMethodEvent(ctx, events.EventPayoutMethodAdded, m)
	r.logger.Info("payout method added",
		"method_id", m.ID, "owner_id", m.OwnerID, "kind", m.Kind, "is_default", m.IsDefault)
	return result, nil
}

// EnsureOnboarding creates the provider connected account and onboarding
// link for an e-transfer method that does not have one yet, or returns a
// fresh link when the account already exists.
func (r *Registry) EnsureOnboarding(ctx context.Context, actor middleware.Actor, methodID string) (string, error) {
	m, err := r.ownedMethod(ctx, actor, methodID)
	if err != nil {
		return "", err
	}
	if m.Kind != KindETransfer {
		return "", &ValidationError{Field: "kind"}
	}

	if m.ProviderAccountID != "" {
		return r.provider.CreateOnboardingLink(ctx, m.ProviderAccountID)
	}
	return r.startOnboarding(ctx, m)
}

func (r *Registry) startOnboarding(ctx context.Context, m *Method) (string, error) {
	accountID, err := r.provider.CreateConnectedAccount(ctx, m.OwnerID, m.Email)
	if err != nil {
		return "", fmt.Errorf("creating connected account: %w", err)
	}

	m.ProviderAccountID = accountID
	m.UpdatedAt = time.Now().UTC()
	if err := r.store.Update(ctx, m); err != nil {
		return "", fmt.Errorf("saving connected account: %w", err)
	}

	url, err := r.provider.CreateOnboardingLink(ctx, accountID)
	if err != nil {
		return "", fmt.Errorf("creating onboarding link: %w", err)
	}
	return url, nil
}

// GetMethod returns a single method, enforcing ownership for non-admin
// actors.
func (r *Registry) GetMethod(ctx context.Context, actor middleware.Actor, methodID string) (*Method, error) {
	return r.ownedMethod(ctx, actor, methodID)
}

// ListMethods returns all of an owner's methods.
func (r *Registry) ListMethods(ctx context.Context, actor middleware.Actor, ownerID string) ([]*Method, error) {
	if err := requireOwner(actor, ownerID); err != nil {
		return nil, err
	}
	return r.store.ListByOwner(ctx, ownerID)
}

// SetDefault makes methodID the owner's default, demoting the previous
// default atomically.
func (r *Registry) SetDefault(ctx context.Context, actor middleware.Actor, methodID string) (*Method, error) {
	m, err := r.ownedMethod(ctx, actor, methodID)
	if err != nil {
		return nil, err
	}
	if m.IsDefault {
		return m, nil
	}

	if err := r.store.SetDefault(ctx, m.OwnerID, m.ID); err != nil {
		return nil, fmt.Errorf("setting default: %w", err)
	}
	m.IsDefault = true

	r.logger.Info("default payout method changed",
		"method_id", m.ID, "owner_id", m.OwnerID)
	return m, nil
}

// DeleteMethod removes a method. A method referenced by an in-flight
// payout cannot be deleted. Deleting the default promotes the oldest
// remaining method.
func (r *Registry) DeleteMethod(ctx context.Context, actor middleware.Actor, methodID string) error {
	m, err := r.ownedMethod(ctx, actor, methodID)
	if err != nil {
		return err
	}

	inUse, err := r.usage.MethodInUse(ctx, m.ID)
	if err != nil {
		return fmt.Errorf("checking usage: %w", err)
	}
	if inUse {
		return fmt.Errorf("%w: method %s", ErrMethodInUse, m.ID)
	}

	promotedID, err := r.store.Delete(ctx, m.OwnerID, m.ID)
	if err != nil {
		return fmt.Errorf("deleting method: %w", err)
	}

	r.publishMethodEvent(ctx, events.EventPayoutMethodDeleted, m)
	r.logger.Info("payout method deleted",
		"method_id", m.ID, "owner_id", m.OwnerID, "promoted_id", promotedID)
	return nil
}

// DefaultMethod returns the owner's current default method, or
// database.ErrNotFound when the owner has none.
func (r *Registry) DefaultMethod(ctx context.Context, ownerID string) (*Method, error) {
	return r.store.GetDefault(ctx, ownerID)
}

func (r *Registry) ownedMethod(ctx context.Context, actor middleware.Actor, methodID string) (*Method, error) {
	m, err := r.store.Get(ctx, methodID)
	if err != nil {
		return nil, err
	}
	if err := requireOwner(actor, m.OwnerID); err != nil {
		return nil, err
	}
	return m, nil
}

func requireOwner(actor middleware.Actor, ownerID string) error {
	if actor.Role == middleware.RoleAdmin || actor.Role == middleware.RoleSystem {
		return nil
	}
	if actor.ID != ownerID {
		return ErrNotOwner
	}
	return nil
}

func (r *Registry) publishMethodEvent(ctx context.Context, eventType string, m *Method) {
	if r.publisher == nil {
		return
	}
	event, err := events.NewEvent(eventType, "payout_method", m.ID, events.PayoutMethodData{
		MethodID:  m.ID,
		OwnerID:   m.OwnerID,
		Kind:      string(m.Kind),
		IsDefault: m.IsDefault,
	})
	if err != nil {
		r.logger.Error("building event", "type", eventType, "error", err)
		return
	}
	event.WithCorrelation(middleware.GetCorrelationID(ctx))
	if err := r.publisher.Publish(ctx, event); err != nil {
		r.logger.Error("publishing event", "type", eventType, "method_id", m.ID, "error", err)
	}
}
