package payment

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"creatorpay/internal/common/money"
)

func newTestPayment(status Status) *Payment {
	p := &Payment{
		ID:            "pay_1",
		ApplicationID: "app_1",
		OfferID:       "offer_1",
		CreatorID:     "creator_1",
		CompanyID:     "company_1",
		Gross:         money.New(100000, money.CAD),
		PlatformFee:   money.New(4000, money.CAD),
		ProcessingFee: money.New(3000, money.CAD),
		Net:           money.New(93000, money.CAD),
		Status:        status,
		Version:       1,
	}
	return p
}

func TestApproveFromPending(t *testing.T) {
	p := newTestPayment(StatusPending)
	require.NoError(t, p.Approve())
	assert.Equal(t, StatusProcessing, p.Status)
}

func TestApproveRejectedFromOtherStatuses(t *testing.T) {
	for _, status := range []Status{StatusProcessing, StatusCompleted, StatusFailed, StatusRefunded} {
		p := newTestPayment(status)
		err := p.Approve()
		assert.ErrorIs(t, err, ErrInvalidTransition, "status %s", status)
	}
}

func TestDisputeReachableFromPendingAndProcessing(t *testing.T) {
	for _, status := range []Status{StatusPending, StatusProcessing} {
		p := newTestPayment(status)
		require.NoError(t, p.Dispute("product returned"))
		assert.Equal(t, StatusFailed, p.Status)
		assert.Equal(t, "product returned", p.DisputeReason)
		assert.True(t, p.IsDisputed())
	}
}

func TestDisputeNotReachableFromCompleted(t *testing.T) {
	p := newTestPayment(StatusCompleted)
	assert.ErrorIs(t, p.Dispute("too late"), ErrInvalidTransition)

	p = newTestPayment(StatusRefunded)
	assert.ErrorIs(t, p.Dispute("too late"), ErrInvalidTransition)
}

func TestRetryOnlyFromFailed(t *testing.T) {
	p := newTestPayment(StatusFailed)
	p.FailureCode = FailureInsufficientFunds
	p.FailureMessage = "insufficient funds"
	require.NoError(t, p.Retry())
	assert.Equal(t, StatusProcessing, p.Status)
	assert.Empty(t, p.FailureCode)
	assert.Empty(t, p.FailureMessage)

	for _, status := range []Status{StatusPending, StatusProcessing, StatusCompleted, StatusRefunded} {
		p := newTestPayment(status)
		assert.ErrorIs(t, p.Retry(), ErrInvalidTransition, "status %s", status)
	}
}

func TestRetryClearsDispute(t *testing.T) {
	p := newTestPayment(StatusProcessing)
	require.NoError(t, p.Dispute("wrong tracking link"))
	require.True(t, p.IsDisputed())

	require.NoError(t, p.Retry())
	assert.False(t, p.IsDisputed())
	assert.Empty(t, p.DisputeReason)
}

func TestCompleteOnlyFromProcessing(t *testing.T) {
	p := newTestPayment(StatusProcessing)
	require.NoError(t, p.markCompleted("pm_1"))
	assert.Equal(t, StatusCompleted, p.Status)
	assert.Equal(t, "pm_1", p.PayoutMethodID)
	require.NotNil(t, p.CompletedAt)

	// Completing again never double-pays.
	assert.ErrorIs(t, p.markCompleted("pm_1"), ErrInvalidTransition)
}

func TestTerminalPaymentsAreImmutable(t *testing.T) {
	for _, status := range []Status{StatusCompleted, StatusRefunded} {
		p := newTestPayment(status)
		assert.True(t, p.IsTerminal())
		assert.ErrorIs(t, p.markFailed("x", "y"), ErrInvalidTransition)
	}
}

func TestRecordRefundOnlyFromCompleted(t *testing.T) {
	p := newTestPayment(StatusCompleted)
	require.NoError(t, p.RecordRefund())
	assert.Equal(t, StatusRefunded, p.Status)

	p = newTestPayment(StatusPending)
	assert.ErrorIs(t, p.RecordRefund(), ErrInvalidTransition)
}
