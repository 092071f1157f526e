// Package notify publishes notification intents for downstream
// delivery workers. Publishing is fire-and-forget: a broker outage
// never blocks or fails a settlement.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/oklog/ulid/v2"

	"creatorpay/internal/payment"
)

// Notification kinds understood by delivery workers.
const (
	KindPaymentDisputed = "payment_disputed"
	KindPayoutFailed    = "payout_failed"
)

// Notification is the intent handed to delivery workers. How it reaches
// the recipient (email, push, in-app) is the worker's concern.
type Notification struct {
	ID          string    `json:"id"`
	Kind        string    `json:"kind"`
	RecipientID string    `json:"recipient_id"`
	PaymentID   string    `json:"payment_id"`
	Subject     string    `json:"subject"`
	Body        string    `json:"body"`
	CreatedAt   time.Time `json:"created_at"`
}

// Conn is the subset of the NATS connection the notifier uses.
type Conn interface {
	Publish(subject string, data []byte) error
}

var _ Conn = (*nats.Conn)(nil)

// Notifier publishes notifications over core NATS.
type Notifier struct {
	conn   Conn
	logger *slog.Logger
}

// New creates a notifier.
func New(conn Conn, logger *slog.Logger) *Notifier {
	return &Notifier{
		conn:   conn,
		logger: logger.With("component", "notify"),
	}
}

// PaymentDisputed tells the company and creator that a payment was
// disputed.
func (n *Notifier) PaymentDisputed(ctx context.Context, p *payment.Payment) {
	n.send(Notification{
		Kind:        KindPaymentDisputed,
		RecipientID: p.CreatorID,
		PaymentID:   p.ID,
		Subject:     "A payment was disputed",
		Body:        fmt.Sprintf("Payment %s was disputed: %s", p.ID, p.DisputeReason),
	})
}

// PayoutFailed tells the creator their payout could not be settled.
func (n *Notifier) PayoutFailed(ctx context.Context, p *payment.Payment, code, message string) {
	n.send(Notification{
		Kind:        KindPayoutFailed,
		RecipientID: p.CreatorID,
		PaymentID:   p.ID,
		Subject:     "Your payout could not be completed",
		Body:        fmt.Sprintf("Payout for payment %s failed (%s): %s", p.ID, code, message),
	})
}

func (n *Notifier) send(msg Notification) {
	msg.ID = ulid.Make().String()
	msg.CreatedAt = time.Now().UTC()

	data, err := json.Marshal(msg)
	if err != nil {
		n.logger.Error("marshaling notification", "kind", msg.Kind, "error", err)
		return
	}

	subject := "notifications." + msg.Kind
	if err := n.conn.Publish(subject, data); err != nil {
		n.logger.Warn("notification dropped",
			"kind", msg.Kind,
			"recipient_id", msg.RecipientID,
			"payment_id", msg.PaymentID,
			"error", err,
		)
		return
	}

	n.logger.Debug("notification published",
		"kind", msg.Kind,
		"recipient_id", msg.RecipientID,
		"payment_id", msg.PaymentID,
	)
}
