package payment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"creatorpay/internal/common/middleware"
	"creatorpay/internal/common/money"
	"creatorpay/internal/feeconfig"
)

// memStore is an in-memory Store with the same version semantics as the
// PostgreSQL store.
type memStore struct {
	mu       sync.Mutex
	payments map[string]*Payment
}

func newMemStore() *memStore {
	return &memStore{payments: make(map[string]*Payment)}
}

func (m *memStore) Create(ctx context.Context, p *Payment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *p
	m.payments[p.ID] = &cp
	return nil
}

func (m *memStore) Get(ctx context.Context, id string) (*Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.payments[id]
	if !ok {
		return nil, fmt.Errorf("payment not found: %s", id)
	}
	cp := *p
	return &cp, nil
}

func (m *memStore) Update(ctx context.Context, p *Payment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	current, ok := m.payments[p.ID]
	if !ok {
		return fmt.Errorf("payment not found: %s", p.ID)
	}
	if current.Version != p.Version {
		return fmt.Errorf("%w: payment %s was modified concurrently", ErrStaleState, p.ID)
	}
	p.Version++
	cp := *p
	m.payments[p.ID] = &cp
	return nil
}

func (m *memStore) ListByStatus(ctx context.Context, status Status, limit int) ([]*Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Payment
	for _, p := range m.payments {
		if p.Status == status {
			cp := *p
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *memStore) ListByCreator(ctx context.Context, creatorID string, limit, offset int) ([]*Payment, error) {
	return nil, nil
}

func (m *memStore) ListByCompany(ctx context.Context, companyID string, limit, offset int) ([]*Payment, error) {
	return nil, nil
}

func (m *memStore) SumEarnings(ctx context.Context, creatorID string) (money.Money, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	total := money.Zero(money.CAD)
	for _, p := range m.payments {
		if p.CreatorID != creatorID || p.Status == StatusRefunded || p.IsDisputed() {
			continue
		}
		total = total.MustAdd(p.Net)
	}
	return total, nil
}

type fixedConfig struct {
	cfg feeconfig.Config
}

func (f *fixedConfig) Get(ctx context.Context) (*feeconfig.Config, error) {
	cfg := f.cfg
	return &cfg, nil
}

type fakeMethods struct {
	dest *Destination
	err  error
}

func (f *fakeMethods) VerifiedDefault(ctx context.Context, ownerID string) (*Destination, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.dest, nil
}

type fakeFunding struct {
	available   money.Money
	withdrawErr error
	withdrawn   []money.Money
	refunded    []money.Money
	withdrawMu  sync.Mutex
}

func (f *fakeFunding) PrimaryAvailable(ctx context.Context, reserveBps int64) (string, money.Money, error) {
	return "fa_1", f.available, nil
}

func (f *fakeFunding) Withdraw(ctx context.Context, accountID string, amount money.Money) error {
	f.withdrawMu.Lock()
	defer f.withdrawMu.Unlock()
	if f.withdrawErr != nil {
		return f.withdrawErr
	}
	f.withdrawn = append(f.withdrawn, amount)
	f.available = f.available.MustSub(amount)
	return nil
}

func (f *fakeFunding) Refund(ctx context.Context, accountID string, amount money.Money) error {
	f.withdrawMu.Lock()
	defer f.withdrawMu.Unlock()
	f.refunded = append(f.refunded, amount)
	f.available = f.available.MustAdd(amount)
	return nil
}

type fakeGateway struct {
	err   error
	sends int
}

func (f *fakeGateway) SendPayout(ctx context.Context, dest Destination, amount money.Money) error {
	f.sends++
	return f.err
}

type fakeNotifier struct {
	disputes int
	failures []string
}

func (f *fakeNotifier) PaymentDisputed(ctx context.Context, p *Payment) { f.disputes++ }
func (f *fakeNotifier) PayoutFailed(ctx context.Context, p *Payment, code, message string) {
	f.failures = append(f.failures, code)
}

type testEngine struct {
	svc      *Service
	store    *memStore
	funding  *fakeFunding
	gateway  *fakeGateway
	notifier *fakeNotifier
	methods  *fakeMethods
}

func newTestEngine(t *testing.T) *testEngine {
	t.Helper()
	store := newMemStore()
	funding := &fakeFunding{available: money.New(10000000, money.CAD)}
	gateway := &fakeGateway{}
	notifier := &fakeNotifier{}
	methods := &fakeMethods{dest: &Destination{MethodID: "pm_1", Kind: "wire_ach"}}
	cfg := &fixedConfig{cfg: *feeconfig.Default()}
	svc := NewService(store, cfg, methods, funding, gateway, notifier, nil,
		slog.New(slog.NewTextHandler(testWriter{t}, nil)))
	return &testEngine{svc: svc, store: store, funding: funding, gateway: gateway, notifier: notifier, methods: methods}
}

type testWriter struct{ t *testing.T }

func (w testWriter) Write(p []byte) (int, error) {
	w.t.Log(string(p))
	return len(p), nil
}

var (
	admin   = middleware.Actor{ID: "admin_1", Role: middleware.RoleAdmin}
	system  = middleware.Actor{ID: "svc_commerce", Role: middleware.RoleSystem}
	company = middleware.Actor{ID: "company_1", Role: middleware.RoleCompany}
)

func createPayment(t *testing.T, e *testEngine, grossMinor int64) *Payment {
	t.Helper()
	p, err := e.svc.Create(context.Background(), system, CreateRequest{
		ApplicationID: "app_1",
		OfferID:       "offer_1",
		CreatorID:     "creator_1",
		CompanyID:     "company_1",
		Gross:         money.New(grossMinor, money.CAD),
	})
	require.NoError(t, err)
	return p
}

func TestCreateComputesFees(t *testing.T) {
	e := newTestEngine(t)
	p := createPayment(t, e, 100000)

	assert.Equal(t, StatusPending, p.Status)
	assert.Equal(t, int64(4000), p.PlatformFee.AmountMinor)
	assert.Equal(t, int64(3000), p.ProcessingFee.AmountMinor)
	assert.Equal(t, int64(93000), p.Net.AmountMinor)
}

func TestCreateRequiresSystemOrAdminActor(t *testing.T) {
	e := newTestEngine(t)
	req := CreateRequest{
		ApplicationID: "app_1",
		OfferID:       "offer_1",
		CreatorID:     "creator_1",
		CompanyID:     "company_1",
		Gross:         money.New(100000, money.CAD),
	}
	ctx := context.Background()

	for _, actor := range []middleware.Actor{
		{ID: "creator_1", Role: middleware.RoleCreator},
		company,
		{}, // no actor headers at all
	} {
		_, err := e.svc.Create(ctx, actor, req)
		assert.ErrorIs(t, err, ErrNotAuthorized, "role %q", actor.Role)
	}

	_, err := e.svc.Create(ctx, admin, req)
	assert.NoError(t, err)
}

func TestApproveRequiresOwningCompany(t *testing.T) {
	e := newTestEngine(t)
	p := createPayment(t, e, 100000)
	ctx := context.Background()

	other := middleware.Actor{ID: "company_2", Role: middleware.RoleCompany}
	_, err := e.svc.Approve(ctx, other, p.ID)
	assert.ErrorIs(t, err, ErrNotAuthorized)

	approved, err := e.svc.Approve(ctx, company, p.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusProcessing, approved.Status)
}

func TestCompleteHappyPath(t *testing.T) {
	e := newTestEngine(t)
	p := createPayment(t, e, 100000)
	ctx := context.Background()

	_, err := e.svc.Approve(ctx, company, p.ID)
	require.NoError(t, err)

	completed, err := e.svc.Complete(ctx, admin, p.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, completed.Status)
	assert.Equal(t, "pm_1", completed.PayoutMethodID)
	assert.Equal(t, 1, e.gateway.sends)
	require.Len(t, e.funding.withdrawn, 1)
	assert.Equal(t, int64(93000), e.funding.withdrawn[0].AmountMinor)
}

func TestCompleteTwiceNeverDoublePays(t *testing.T) {
	e := newTestEngine(t)
	p := createPayment(t, e, 100000)
	ctx := context.Background()

	_, err := e.svc.Approve(ctx, company, p.ID)
	require.NoError(t, err)
	_, err = e.svc.Complete(ctx, admin, p.ID)
	require.NoError(t, err)

	_, err = e.svc.Complete(ctx, admin, p.ID)
	assert.ErrorIs(t, err, ErrInvalidTransition)
	assert.Equal(t, 1, e.gateway.sends)
	assert.Len(t, e.funding.withdrawn, 1)
}

func TestCompleteInsufficientFunds(t *testing.T) {
	e := newTestEngine(t)
	e.funding.available = money.New(10000, money.CAD) // $100.00

	p := createPayment(t, e, 50000) // $500.00 gross, net $465.00
	ctx := context.Background()
	_, err := e.svc.Approve(ctx, company, p.ID)
	require.NoError(t, err)

	_, err = e.svc.Complete(ctx, admin, p.ID)
	assert.ErrorIs(t, err, ErrInsufficientFunds)

	stored, err := e.store.Get(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, stored.Status, "payment must not be left processing")
	assert.Equal(t, FailureInsufficientFunds, stored.FailureCode)
	assert.False(t, stored.IsDisputed())
	assert.Equal(t, []string{FailureInsufficientFunds}, e.notifier.failures)
	assert.Equal(t, 0, e.gateway.sends)
}

func TestCompleteBelowMinimumPayout(t *testing.T) {
	e := newTestEngine(t)
	p := createPayment(t, e, 81) // net 75 cents, minimum is $50.00
	ctx := context.Background()
	_, err := e.svc.Approve(ctx, company, p.ID)
	require.NoError(t, err)

	_, err = e.svc.Complete(ctx, admin, p.ID)
	var belowMin *BelowMinimumError
	require.ErrorAs(t, err, &belowMin)
	assert.Equal(t, int64(5000), belowMin.Minimum.AmountMinor)
	assert.Contains(t, belowMin.Error(), "$50.00")

	stored, err := e.store.Get(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, stored.Status)
	assert.Equal(t, FailureBelowMinimumPayout, stored.FailureCode)
}

func TestWithdrawFailureNeverCompletesPayment(t *testing.T) {
	e := newTestEngine(t)
	e.funding.withdrawErr = errors.New("balance changed concurrently")

	p := createPayment(t, e, 100000)
	ctx := context.Background()
	_, err := e.svc.Approve(ctx, company, p.ID)
	require.NoError(t, err)

	// The balance check passes but the debit loses the race.
	_, err = e.svc.Complete(ctx, admin, p.ID)
	assert.ErrorIs(t, err, ErrInsufficientFunds)

	stored, err := e.store.Get(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, stored.Status, "an uncharged payout must not complete")
	assert.Equal(t, FailureInsufficientFunds, stored.FailureCode)
	assert.Equal(t, 0, e.gateway.sends, "payout must not be submitted without the debit")
	assert.Equal(t, []string{FailureInsufficientFunds}, e.notifier.failures)
}

func TestProviderFailureRefundsFundingDebit(t *testing.T) {
	e := newTestEngine(t)
	e.gateway.err = &ProviderError{Message: "provider unavailable"}
	before := e.funding.available

	p := createPayment(t, e, 100000)
	ctx := context.Background()
	_, err := e.svc.Approve(ctx, company, p.ID)
	require.NoError(t, err)

	_, err = e.svc.Complete(ctx, admin, p.ID)
	var provider *ProviderError
	require.ErrorAs(t, err, &provider)

	require.Len(t, e.funding.withdrawn, 1)
	require.Len(t, e.funding.refunded, 1)
	assert.Equal(t, e.funding.withdrawn[0], e.funding.refunded[0])
	assert.True(t, e.funding.available.Equal(before), "failed payout must not keep the debit")
}

func TestCompleteProviderErrorPreservesText(t *testing.T) {
	e := newTestEngine(t)
	e.gateway.err = &ProviderError{Message: "destination account closed"}

	p := createPayment(t, e, 100000)
	ctx := context.Background()
	_, err := e.svc.Approve(ctx, company, p.ID)
	require.NoError(t, err)

	_, err = e.svc.Complete(ctx, admin, p.ID)
	var provider *ProviderError
	require.ErrorAs(t, err, &provider)
	assert.Equal(t, "destination account closed", provider.Message)

	stored, err := e.store.Get(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, stored.Status)
	assert.Equal(t, FailureProviderError, stored.FailureCode)
	assert.Contains(t, stored.FailureMessage, "destination account closed")
}

func TestCompleteUnverifiedMethodLeavesPaymentProcessing(t *testing.T) {
	e := newTestEngine(t)
	e.methods.err = ErrMethodNotVerified

	p := createPayment(t, e, 100000)
	ctx := context.Background()
	_, err := e.svc.Approve(ctx, company, p.ID)
	require.NoError(t, err)

	_, err = e.svc.Complete(ctx, admin, p.ID)
	assert.ErrorIs(t, err, ErrMethodNotVerified)

	stored, err := e.store.Get(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusProcessing, stored.Status)
}

func TestCompleteRequiresAdmin(t *testing.T) {
	e := newTestEngine(t)
	p := createPayment(t, e, 100000)
	ctx := context.Background()

	_, err := e.svc.Complete(ctx, company, p.ID)
	assert.ErrorIs(t, err, ErrNotAuthorized)

	creator := middleware.Actor{ID: "creator_1", Role: middleware.RoleCreator}
	_, err = e.svc.Complete(ctx, creator, p.ID)
	assert.ErrorIs(t, err, ErrNotAuthorized)
}

func TestDisputeNotifies(t *testing.T) {
	e := newTestEngine(t)
	p := createPayment(t, e, 100000)
	ctx := context.Background()

	disputed, err := e.svc.Dispute(ctx, company, p.ID, "creator used forbidden keywords")
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, disputed.Status)
	assert.Equal(t, "creator used forbidden keywords", disputed.DisputeReason)
	assert.Equal(t, 1, e.notifier.disputes)
}

func TestDisputedExcludedFromEarnings(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	p1 := createPayment(t, e, 100000)
	createPayment(t, e, 100000)

	_, err := e.svc.Dispute(ctx, company, p1.ID, "invalid conversion")
	require.NoError(t, err)

	total, err := e.svc.TotalEarnings(ctx, admin, "creator_1")
	require.NoError(t, err)
	assert.Equal(t, int64(93000), total.AmountMinor)
}

func TestListAndEarningsScopedToOwner(t *testing.T) {
	e := newTestEngine(t)
	createPayment(t, e, 100000)
	ctx := context.Background()

	self := middleware.Actor{ID: "creator_1", Role: middleware.RoleCreator}
	other := middleware.Actor{ID: "creator_2", Role: middleware.RoleCreator}

	_, err := e.svc.TotalEarnings(ctx, self, "creator_1")
	assert.NoError(t, err)
	_, err = e.svc.TotalEarnings(ctx, other, "creator_1")
	assert.ErrorIs(t, err, ErrNotAuthorized)
	_, err = e.svc.TotalEarnings(ctx, company, "creator_1")
	assert.ErrorIs(t, err, ErrNotAuthorized, "companies cannot read creator earnings")

	_, err = e.svc.ListByCreator(ctx, self, "creator_1", 10, 0)
	assert.NoError(t, err)
	_, err = e.svc.ListByCreator(ctx, other, "creator_1", 10, 0)
	assert.ErrorIs(t, err, ErrNotAuthorized)

	_, err = e.svc.ListByCompany(ctx, company, "company_1", 10, 0)
	assert.NoError(t, err)
	otherCompany := middleware.Actor{ID: "company_2", Role: middleware.RoleCompany}
	_, err = e.svc.ListByCompany(ctx, otherCompany, "company_1", 10, 0)
	assert.ErrorIs(t, err, ErrNotAuthorized)

	_, err = e.svc.ListByCreator(ctx, admin, "creator_1", 10, 0)
	assert.NoError(t, err)
}

func TestConcurrentTransitionLoserGetsStaleState(t *testing.T) {
	e := newTestEngine(t)
	p := createPayment(t, e, 100000)
	ctx := context.Background()

	// Two actors load the same version.
	first, err := e.store.Get(ctx, p.ID)
	require.NoError(t, err)
	second, err := e.store.Get(ctx, p.ID)
	require.NoError(t, err)

	require.NoError(t, first.Approve())
	require.NoError(t, e.store.Update(ctx, first))

	require.NoError(t, second.Dispute("late dispute"))
	err = e.store.Update(ctx, second)
	assert.ErrorIs(t, err, ErrStaleState)
}

func TestCompleteAllProcessingReportsPerItem(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	good := createPayment(t, e, 100000)
	small := createPayment(t, e, 81)
	_, err := e.svc.Approve(ctx, company, good.ID)
	require.NoError(t, err)
	_, err = e.svc.Approve(ctx, company, small.ID)
	require.NoError(t, err)

	results, err := e.svc.CompleteAllProcessing(ctx, admin)
	require.NoError(t, err)
	require.Len(t, results, 2)

	byID := make(map[string]BulkResult)
	for _, r := range results {
		byID[r.PaymentID] = r
	}

	assert.Equal(t, StatusCompleted, byID[good.ID].Status)
	assert.Empty(t, byID[good.ID].ErrorCode)
	assert.Equal(t, StatusFailed, byID[small.ID].Status)
	assert.Equal(t, FailureBelowMinimumPayout, byID[small.ID].ErrorCode)
}
