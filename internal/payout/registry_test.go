package payout

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"creatorpay/internal/common/database"
	"creatorpay/internal/common/middleware"
)

type memStore struct {
	mu      sync.Mutex
	methods map[string]*Method
}

func newMemStore() *memStore {
	return &memStore{methods: make(map[string]*Method)}
}

func (s *memStore) Create(_ context.Context, m *Method) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *m
	s.methods[m.ID] = &cp
	return nil
}

func (s *memStore) Get(_ context.Context, id string) (*Method, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.methods[id]
	if !ok {
		return nil, database.ErrNotFound
	}
	cp := *m
	return &cp, nil
}

func (s *memStore) ListByOwner(_ context.Context, ownerID string) ([]*Method, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ownerMethodsLocked(ownerID), nil
}

func (s *memStore) GetDefault(_ context.Context, ownerID string) (*Method, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.methods {
		if m.OwnerID == ownerID && m.IsDefault {
			cp := *m
			return &cp, nil
		}
	}
	return nil, database.ErrNotFound
}

func (s *memStore) Update(_ context.Context, m *Method) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.methods[m.ID]
	if !ok {
		return database.ErrNotFound
	}
	if current.Version != m.Version {
		return fmt.Errorf("%w: method %s was modified concurrently", ErrStaleState, m.ID)
	}
	m.Version++
	cp := *m
	s.methods[m.ID] = &cp
	return nil
}

func (s *memStore) SetDefault(_ context.Context, ownerID, methodID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	target, ok := s.methods[methodID]
	if !ok || target.OwnerID != ownerID {
		return database.ErrNotFound
	}
	for _, m := range s.methods {
		if m.OwnerID == ownerID {
			m.IsDefault = false
		}
	}
	target.IsDefault = true
	return nil
}

func (s *memStore) Delete(_ context.Context, ownerID, methodID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.methods[methodID]
	if !ok || m.OwnerID != ownerID {
		return "", database.ErrNotFound
	}
	wasDefault := m.IsDefault
	delete(s.methods, methodID)
	if !wasDefault {
		return "", nil
	}
	remaining := s.ownerMethodsLocked(ownerID)
	if len(remaining) == 0 {
		return "", nil
	}
	oldest := remaining[0]
	s.methods[oldest.ID].IsDefault = true
	return oldest.ID, nil
}

func (s *memStore) CountByOwner(_ context.Context, ownerID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.ownerMethodsLocked(ownerID)), nil
}

func (s *memStore) ownerMethodsLocked(ownerID string) []*Method {
	var out []*Method
	for _, m := range s.methods {
		if m.OwnerID == ownerID {
			cp := *m
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

type fakeProvider struct {
	accounts    int
	links       int
	accountErr  error
	linkErr     error
	lastOwnerID string
}

func (p *fakeProvider) CreateConnectedAccount(_ context.Context, ownerID, _ string) (string, error) {
	if p.accountErr != nil {
		return "", p.accountErr
	}
	p.accounts++
	p.lastOwnerID = ownerID
	return fmt.Sprintf("acct_%d", p.accounts), nil
}

func (p *fakeProvider) CreateOnboardingLink(_ context.Context, accountID string) (string, error) {
	if p.linkErr != nil {
		return "", p.linkErr
	}
	p.links++
	return "https://onboard.example/" + accountID, nil
}

type allowAllAddresses struct{}

func (allowAllAddresses) ValidateAddress(_, _ string) error { return nil }

type fakeUsage struct {
	inUse map[string]bool
}

func (u *fakeUsage) MethodInUse(_ context.Context, methodID string) (bool, error) {
	return u.inUse[methodID], nil
}

func testLogger(t *testing.T) *slog.Logger {
	t.Helper()
	return slog.New(slog.NewTextHandler(testWriter{t}, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

type testWriter struct{ t *testing.T }

func (w testWriter) Write(p []byte) (int, error) {
	w.t.Log(string(p))
	return len(p), nil
}

func newTestRegistry(t *testing.T) (*Registry, *memStore, *fakeProvider, *fakeUsage) {
	store := newMemStore()
	provider := &fakeProvider{}
	usage := &fakeUsage{inUse: make(map[string]bool)}
	r := NewRegistry(store, provider, allowAllAddresses{}, usage, nil, testLogger(t))
	return r, store, provider, usage
}

var creator = middleware.Actor{ID: "creator_1", Role: middleware.RoleCreator}

func addMethod(t *testing.T, r *Registry, req AddRequest) *Method {
	t.Helper()
	res, err := r.AddMethod(context.Background(), creator, req)
	require.NoError(t, err)
	return res.Method
}

func TestFirstMethodBecomesDefault(t *testing.T) {
	r, _, _, _ := newTestRegistry(t)

	first := addMethod(t, r, AddRequest{OwnerID: "creator_1", Kind: KindPayPal, Email: "c@example.com"})
	assert.True(t, first.IsDefault)

	second := addMethod(t, r, AddRequest{OwnerID: "creator_1", Kind: KindPayPal, Email: "c2@example.com"})
	assert.False(t, second.IsDefault)
}

func TestAddETransferCreatesConnectedAccount(t *testing.T) {
	r, store, provider, _ := newTestRegistry(t)

	res, err := r.AddMethod(context.Background(), creator, AddRequest{
		OwnerID: "creator_1", Kind: KindETransfer, Email: "c@example.com",
	})
	require.NoError(t, err)
	assert.Equal(t, "https://onboard.example/acct_1", res.OnboardingURL)
	assert.Equal(t, 1, provider.accounts)

	stored, err := store.Get(context.Background(), res.Method.ID)
	require.NoError(t, err)
	assert.Equal(t, "acct_1", stored.ProviderAccountID)
	assert.True(t, stored.UsableForPayout())
}

func TestAddETransferSurvivesProviderOutage(t *testing.T) {
	r, store, provider, _ := newTestRegistry(t)
	provider.accountErr = errors.New("connection refused")

	res, err := r.AddMethod(context.Background(), creator, AddRequest{
		OwnerID: "creator_1", Kind: KindETransfer, Email: "c@example.com",
	})
	require.NoError(t, err)
	assert.Empty(t, res.OnboardingURL)

	stored, err := store.Get(context.Background(), res.Method.ID)
	require.NoError(t, err)
	assert.Empty(t, stored.ProviderAccountID)
	assert.False(t, stored.UsableForPayout())

	// Onboarding can be finished once the provider recovers.
	provider.accountErr = nil
	url, err := r.EnsureOnboarding(context.Background(), creator, res.Method.ID)
	require.NoError(t, err)
	assert.NotEmpty(t, url)

	stored, err = store.Get(context.Background(), res.Method.ID)
	require.NoError(t, err)
	assert.True(t, stored.UsableForPayout())
}

func TestAddMethodValidatesVariantFields(t *testing.T) {
	r, _, _, _ := newTestRegistry(t)

	cases := []struct {
		name  string
		req   AddRequest
		field string
	}{
		{"paypal without email", AddRequest{OwnerID: "creator_1", Kind: KindPayPal}, "email"},
		{"wire without routing", AddRequest{OwnerID: "creator_1", Kind: KindWireACH, AccountNumber: "123", HolderName: "A"}, "routing_number"},
		{"crypto without address", AddRequest{OwnerID: "creator_1", Kind: KindCrypto, Network: "ethereum"}, "wallet_address"},
		{"crypto without network", AddRequest{OwnerID: "creator_1", Kind: KindCrypto, WalletAddress: "0xabc"}, "network"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := r.AddMethod(context.Background(), creator, tc.req)
			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tc.field, verr.Field)
		})
	}
}

func TestAddMethodRejectsForeignOwner(t *testing.T) {
	r, _, _, _ := newTestRegistry(t)

	_, err := r.AddMethod(context.Background(), creator, AddRequest{
		OwnerID: "creator_2", Kind: KindPayPal, Email: "x@example.com",
	})
	assert.ErrorIs(t, err, ErrNotOwner)
}

func TestSetDefaultSwapsAtomically(t *testing.T) {
	r, store, _, _ := newTestRegistry(t)

	first := addMethod(t, r, AddRequest{OwnerID: "creator_1", Kind: KindPayPal, Email: "a@example.com"})
	second := addMethod(t, r, AddRequest{OwnerID: "creator_1", Kind: KindPayPal, Email: "b@example.com"})

	_, err := r.SetDefault(context.Background(), creator, second.ID)
	require.NoError(t, err)

	methods, err := store.ListByOwner(context.Background(), "creator_1")
	require.NoError(t, err)

	defaults := 0
	for _, m := range methods {
		if m.IsDefault {
			defaults++
			assert.Equal(t, second.ID, m.ID)
		}
	}
	assert.Equal(t, 1, defaults)
	_ = first
}

func TestDeleteDefaultPromotesOldestRemaining(t *testing.T) {
	r, store, _, _ := newTestRegistry(t)

	first := addMethod(t, r, AddRequest{OwnerID: "creator_1", Kind: KindPayPal, Email: "a@example.com"})
	second := addMethod(t, r, AddRequest{OwnerID: "creator_1", Kind: KindPayPal, Email: "b@example.com"})
	third := addMethod(t, r, AddRequest{OwnerID: "creator_1", Kind: KindPayPal, Email: "c@example.com"})

	// Distinct creation order for deterministic promotion.
	store.mu.Lock()
	store.methods[second.ID].CreatedAt = first.CreatedAt.Add(time.Second)
	store.methods[third.ID].CreatedAt = first.CreatedAt.Add(2 * time.Second)
	store.mu.Unlock()

	require.NoError(t, r.DeleteMethod(context.Background(), creator, first.ID))

	promoted, err := store.GetDefault(context.Background(), "creator_1")
	require.NoError(t, err)
	assert.Equal(t, second.ID, promoted.ID)
}

func TestDeleteBlockedWhileMethodInUse(t *testing.T) {
	r, store, _, usage := newTestRegistry(t)

	m := addMethod(t, r, AddRequest{OwnerID: "creator_1", Kind: KindPayPal, Email: "a@example.com"})
	usage.inUse[m.ID] = true

	err := r.DeleteMethod(context.Background(), creator, m.ID)
	assert.ErrorIs(t, err, ErrMethodInUse)

	_, err = store.Get(context.Background(), m.ID)
	assert.NoError(t, err)
}

func TestDeleteLastMethodLeavesNoDefault(t *testing.T) {
	r, store, _, _ := newTestRegistry(t)

	m := addMethod(t, r, AddRequest{OwnerID: "creator_1", Kind: KindPayPal, Email: "a@example.com"})
	require.NoError(t, r.DeleteMethod(context.Background(), creator, m.ID))

	_, err := store.GetDefault(context.Background(), "creator_1")
	assert.ErrorIs(t, err, database.ErrNotFound)
}

func TestAdminCanManageAnyOwner(t *testing.T) {
	r, _, _, _ := newTestRegistry(t)
	admin := middleware.Actor{ID: "admin_1", Role: middleware.RoleAdmin}

	m := addMethod(t, r, AddRequest{OwnerID: "creator_1", Kind: KindPayPal, Email: "a@example.com"})

	got, err := r.GetMethod(context.Background(), admin, m.ID)
	require.NoError(t, err)
	assert.Equal(t, m.ID, got.ID)
}
