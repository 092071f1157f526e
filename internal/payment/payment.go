// Package payment implements the settlement lifecycle for creator earnings.
package payment

import (
	"fmt"
	"time"

	"creatorpay/internal/common/money"
)

func timeNow() time.Time { return time.Now().UTC() }

// Status represents the lifecycle state of a payment.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusRefunded   Status = "refunded"
)

// Payment is one unit of money owed to a creator. Amounts are fixed at
// creation from the fee config snapshot and become immutable once the
// payment reaches completed or refunded. Rows are never deleted.
type Payment struct {
	ID            string `json:"id"`
	ApplicationID string `json:"application_id"`
	OfferID       string `json:"offer_id"`
	CreatorID     string `json:"creator_id"`
	CompanyID     string `json:"company_id"`
	SaleRef       string `json:"sale_ref,omitempty"`

	Gross         money.Money `json:"gross"`
	PlatformFee   money.Money `json:"platform_fee"`
	ProcessingFee money.Money `json:"processing_fee"`
	Net           money.Money `json:"net"`

	Status      Status `json:"status"`
	Description string `json:"description,omitempty"`

	// DisputeReason is set when a company disputes the payment. A failed
	// payment with a non-empty reason is a dispute, and is excluded from
	// earnings aggregates.
	DisputeReason string `json:"dispute_reason,omitempty"`

	FailureCode    string `json:"failure_code,omitempty"`
	FailureMessage string `json:"failure_message,omitempty"`

	// PayoutMethodID records the destination once the payout settles.
	PayoutMethodID string `json:"payout_method_id,omitempty"`

	// Version guards concurrent transitions. Updates carry the version
	// they loaded; a mismatch at the store means the caller lost.
	Version int64 `json:"version"`

	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// IsDisputed reports whether the payment failed because of a company
// dispute.
func (p *Payment) IsDisputed() bool {
	return p.Status == StatusFailed && p.DisputeReason != ""
}

// IsTerminal reports whether amounts are frozen.
func (p *Payment) IsTerminal() bool {
	return p.Status == StatusCompleted || p.Status == StatusRefunded
}

// Approve transitions a pending payment to processing.
func (p *Payment) Approve() error {
	if p.Status != StatusPending {
		return fmt.Errorf("%w: cannot approve payment in status %s", ErrInvalidTransition, p.Status)
	}
	p.Status = StatusProcessing
	p.UpdatedAt = time.Now().UTC()
	return nil
}

// MarkProcessing transitions a pending payment to processing (admin path).
func (p *Payment) MarkProcessing() error {
	if p.Status != StatusPending {
		return fmt.Errorf("%w: cannot process payment in status %s", ErrInvalidTransition, p.Status)
	}
	p.Status = StatusProcessing
	p.UpdatedAt = time.Now().UTC()
	return nil
}

// Dispute moves a pending or processing payment to failed with the
// company's reason recorded.
func (p *Payment) Dispute(reason string) error {
	if p.Status != StatusPending && p.Status != StatusProcessing {
		return fmt.Errorf("%w: cannot dispute payment in status %s", ErrInvalidTransition, p.Status)
	}
	p.Status = StatusFailed
	p.DisputeReason = reason
	p.FailureCode = FailureDisputed
	p.FailureMessage = reason
	p.UpdatedAt = time.Now().UTC()
	return nil
}

// Retry moves a failed payment back to processing, clearing the failure
// record. A retried dispute is no longer disputed.
func (p *Payment) Retry() error {
	if p.Status != StatusFailed {
		return fmt.Errorf("%w: cannot retry payment in status %s", ErrInvalidTransition, p.Status)
	}
	p.Status = StatusProcessing
	p.DisputeReason = ""
	p.FailureCode = ""
	p.FailureMessage = ""
	p.UpdatedAt = time.Now().UTC()
	return nil
}

// markCompleted finalizes a processing payment.
func (p *Payment) markCompleted(payoutMethodID string) error {
	if p.Status != StatusProcessing {
		return fmt.Errorf("%w: cannot complete payment in status %s", ErrInvalidTransition, p.Status)
	}
	now := time.Now().UTC()
	p.Status = StatusCompleted
	p.PayoutMethodID = payoutMethodID
	p.CompletedAt = &now
	p.UpdatedAt = now
	return nil
}

// markFailed records a settlement failure. Failed payments stay visible
// and actionable; they are never left in processing.
func (p *Payment) markFailed(code, message string) error {
	if p.IsTerminal() {
		return fmt.Errorf("%w: cannot fail payment in status %s", ErrInvalidTransition, p.Status)
	}
	p.Status = StatusFailed
	p.FailureCode = code
	p.FailureMessage = message
	p.UpdatedAt = time.Now().UTC()
	return nil
}

// RecordRefund records an external reversal of a completed payment.
func (p *Payment) RecordRefund() error {
	if p.Status != StatusCompleted {
		return fmt.Errorf("%w: cannot refund payment in status %s", ErrInvalidTransition, p.Status)
	}
	p.Status = StatusRefunded
	p.UpdatedAt = time.Now().UTC()
	return nil
}
