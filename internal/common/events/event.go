package events

import (
	"encoding/json"
	"time"

	"github.com/oklog/ulid/v2"
)

// Event represents a domain event envelope
type Event struct {
	ID            string          `json:"event_id"`
	Type          string          `json:"type"`
	Version       int             `json:"version"`
	OccurredAt    time.Time       `json:"occurred_at"`
	CorrelationID string          `json:"correlation_id"`
	AggregateType string          `json:"aggregate_type"`
	AggregateID   string          `json:"aggregate_id"`
	Data          json.RawMessage `json:"data"`
}

// NewEvent creates a new event
func NewEvent(eventType, aggregateType, aggregateID string, data interface{}) (*Event, error) {
	dataBytes, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}

	return &Event{
		ID:            ulid.Make().String(),
		Type:          eventType,
		Version:       1,
		OccurredAt:    time.Now().UTC(),
		AggregateType: aggregateType,
		AggregateID:   aggregateID,
		Data:          dataBytes,
	}, nil
}

// WithCorrelation adds a correlation ID
func (e *Event) WithCorrelation(correlationID string) *Event {
	e.CorrelationID = correlationID
	return e
}

// DecodeData decodes the event data into a struct
func (e *Event) DecodeData(v interface{}) error {
	return json.Unmarshal(e.Data, v)
}

// Event types
const (
	// Payment lifecycle
	EventPaymentCreated    = "payment.created"
	EventPaymentApproved   = "payment.approved"
	EventPaymentDisputed   = "payment.disputed"
	EventPaymentProcessing = "payment.processing"
	EventPaymentCompleted  = "payment.completed"
	EventPaymentFailed     = "payment.failed"
	EventPaymentRetried    = "payment.retried"
	EventPaymentRefunded   = "payment.refunded"

	// Payout methods
	EventPayoutMethodAdded    = "payout.method.added"
	EventPayoutMethodVerified = "payout.method.verified"
	EventPayoutMethodDeleted  = "payout.method.deleted"

	// Admin configuration
	EventFeeConfigUpdated      = "admin.fee_config.updated"
	EventFundingAccountChanged = "admin.funding_account.changed"
)

// PaymentCreatedData is the data for payment.created events
type PaymentCreatedData struct {
	PaymentID          string `json:"payment_id"`
	CreatorID          string `json:"creator_id"`
	CompanyID          string `json:"company_id"`
	GrossMinor         int64  `json:"gross_minor"`
	PlatformFeeMinor   int64  `json:"platform_fee_minor"`
	ProcessingFeeMinor int64  `json:"processing_fee_minor"`
	NetMinor           int64  `json:"net_minor"`
	Currency           string `json:"currency"`
}

// PaymentDisputedData is the data for payment.disputed events
type PaymentDisputedData struct {
	PaymentID string `json:"payment_id"`
	CompanyID string `json:"company_id"`
	CreatorID string `json:"creator_id"`
	Reason    string `json:"reason"`
}

// PaymentCompletedData is the data for payment.completed events
type PaymentCompletedData struct {
	PaymentID      string    `json:"payment_id"`
	CreatorID      string    `json:"creator_id"`
	NetMinor       int64     `json:"net_minor"`
	Currency       string    `json:"currency"`
	PayoutMethodID string    `json:"payout_method_id"`
	CompletedAt    time.Time `json:"completed_at"`
}

// PaymentFailedData is the data for payment.failed events
type PaymentFailedData struct {
	PaymentID   string `json:"payment_id"`
	CreatorID   string `json:"creator_id"`
	FailureCode string `json:"failure_code"`
	Message     string `json:"message"`
}

// FeeConfigData is the data for admin.fee_config.updated events
type FeeConfigData struct {
	PlatformFeeBps     int64 `json:"platform_fee_bps"`
	ProcessingFeeBps   int64 `json:"processing_fee_bps"`
	MinimumPayoutMinor int64 `json:"minimum_payout_minor"`
	ReserveBps         int64 `json:"reserve_bps"`
}

// PayoutMethodData is the data for payout method events
type PayoutMethodData struct {
	MethodID  string `json:"method_id"`
	OwnerID   string `json:"owner_id"`
	Kind      string `json:"kind"`
	IsDefault bool   `json:"is_default"`
}
