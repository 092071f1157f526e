package payout

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeBankProvider struct {
	createErr      error
	verifyErr      error
	instant        bool
	createCalls    int
	verifyCalls    int
	lastAmount1    int64
	lastAmount2    int64
	expectedBankID string
}

func (p *fakeBankProvider) CreateBankAccount(_ context.Context, _ string, _ BankAccountRequest) (*BankAccountResult, error) {
	p.createCalls++
	if p.createErr != nil {
		return nil, p.createErr
	}
	return &BankAccountResult{
		ProviderBankAccountID: "ba_1",
		VerificationMethod:    "microdeposits",
		Verified:              p.instant,
	}, nil
}

func (p *fakeBankProvider) VerifyMicroDeposits(_ context.Context, bankID string, a1, a2 int64) error {
	p.verifyCalls++
	p.expectedBankID = bankID
	p.lastAmount1, p.lastAmount2 = a1, a2
	return p.verifyErr
}

func newBankFixture(t *testing.T) (*BankVerification, *memStore, *fakeBankProvider, *Method) {
	store := newMemStore()
	provider := &fakeBankProvider{}
	flow := NewBankVerification(store, provider, nil, testLogger(t))

	now := time.Now().UTC()
	m := &Method{
		ID:                 "pm_wire",
		OwnerID:            "creator_1",
		Kind:               KindWireACH,
		RoutingNumber:      "021000021",
		AccountNumber:      "000123456789",
		HolderName:         "Casey Creator",
		VerificationStatus: VerificationUnverified,
		Version:            1,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	require.NoError(t, store.Create(context.Background(), m))
	return flow, store, provider, m
}

func TestCreateBankAccountMovesToPending(t *testing.T) {
	flow, store, provider, m := newBankFixture(t)

	got, err := flow.CreateBankAccount(context.Background(), creator, m.ID)
	require.NoError(t, err)
	assert.Equal(t, VerificationPending, got.VerificationStatus)
	assert.Equal(t, "ba_1", got.ProviderBankAccountID)
	assert.Equal(t, 1, provider.createCalls)

	stored, err := store.Get(context.Background(), m.ID)
	require.NoError(t, err)
	assert.False(t, stored.UsableForPayout())
}

func TestCreateBankAccountInstantVerification(t *testing.T) {
	flow, store, provider, m := newBankFixture(t)
	provider.instant = true

	got, err := flow.CreateBankAccount(context.Background(), creator, m.ID)
	require.NoError(t, err)
	assert.Equal(t, VerificationVerified, got.VerificationStatus)

	stored, err := store.Get(context.Background(), m.ID)
	require.NoError(t, err)
	assert.True(t, stored.UsableForPayout())
}

func TestProviderTimeoutNeverLeavesVerified(t *testing.T) {
	flow, store, provider, m := newBankFixture(t)
	provider.createErr = context.DeadlineExceeded

	_, err := flow.CreateBankAccount(context.Background(), creator, m.ID)
	require.Error(t, err)

	stored, err := store.Get(context.Background(), m.ID)
	require.NoError(t, err)
	assert.Equal(t, VerificationUnverified, stored.VerificationStatus)
	assert.False(t, stored.UsableForPayout())

	// The registration can be retried once the provider recovers.
	provider.createErr = nil
	got, err := flow.CreateBankAccount(context.Background(), creator, m.ID)
	require.NoError(t, err)
	assert.Equal(t, VerificationPending, got.VerificationStatus)
}

func TestVerifyMicroDepositsRequiresInitialization(t *testing.T) {
	flow, _, provider, m := newBankFixture(t)

	_, err := flow.VerifyMicroDeposits(context.Background(), creator, m.ID, 32, 45)
	assert.ErrorIs(t, err, ErrNotInitialized)
	assert.Zero(t, provider.verifyCalls)
}

func TestVerifyMicroDepositsSuccess(t *testing.T) {
	flow, store, provider, m := newBankFixture(t)

	_, err := flow.CreateBankAccount(context.Background(), creator, m.ID)
	require.NoError(t, err)

	got, err := flow.VerifyMicroDeposits(context.Background(), creator, m.ID, 32, 45)
	require.NoError(t, err)
	assert.Equal(t, VerificationVerified, got.VerificationStatus)
	assert.Equal(t, "ba_1", provider.expectedBankID)
	assert.Equal(t, int64(32), provider.lastAmount1)
	assert.Equal(t, int64(45), provider.lastAmount2)

	stored, err := store.Get(context.Background(), m.ID)
	require.NoError(t, err)
	assert.True(t, stored.UsableForPayout())
}

func TestVerifyMicroDepositsMismatchStaysPending(t *testing.T) {
	flow, store, provider, m := newBankFixture(t)

	_, err := flow.CreateBankAccount(context.Background(), creator, m.ID)
	require.NoError(t, err)

	provider.verifyErr = ErrVerificationMismatch
	_, err = flow.VerifyMicroDeposits(context.Background(), creator, m.ID, 1, 2)
	assert.ErrorIs(t, err, ErrVerificationMismatch)

	stored, err := store.Get(context.Background(), m.ID)
	require.NoError(t, err)
	assert.Equal(t, VerificationPending, stored.VerificationStatus)
	assert.False(t, stored.UsableForPayout())
}

func TestVerifyIsIdempotentOnceVerified(t *testing.T) {
	flow, _, provider, m := newBankFixture(t)
	provider.instant = true

	_, err := flow.CreateBankAccount(context.Background(), creator, m.ID)
	require.NoError(t, err)

	got, err := flow.VerifyMicroDeposits(context.Background(), creator, m.ID, 1, 2)
	require.NoError(t, err)
	assert.Equal(t, VerificationVerified, got.VerificationStatus)
	assert.Zero(t, provider.verifyCalls)
}

func TestConcurrentBankRegistrationLoserGetsStaleState(t *testing.T) {
	_, store, _, m := newBankFixture(t)
	ctx := context.Background()

	// Two callers load the same version and both reach the provider.
	first, err := store.Get(ctx, m.ID)
	require.NoError(t, err)
	second, err := store.Get(ctx, m.ID)
	require.NoError(t, err)

	first.ProviderBankAccountID = "ba_1"
	first.VerificationStatus = VerificationPending
	require.NoError(t, store.Update(ctx, first))

	second.ProviderBankAccountID = "ba_2"
	second.VerificationStatus = VerificationPending
	err = store.Update(ctx, second)
	assert.ErrorIs(t, err, ErrStaleState)

	stored, err := store.Get(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, "ba_1", stored.ProviderBankAccountID,
		"the winner's provider account must not be overwritten")
}

func TestBankFlowRejectsForeignOwner(t *testing.T) {
	flow, _, _, m := newBankFixture(t)
	stranger := creator
	stranger.ID = "creator_2"

	_, err := flow.CreateBankAccount(context.Background(), stranger, m.ID)
	assert.ErrorIs(t, err, ErrNotOwner)
}
