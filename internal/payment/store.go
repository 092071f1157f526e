package payment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"creatorpay/internal/common/database"
	"creatorpay/internal/common/money"
)

// PostgresStore implements Store using PostgreSQL.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const paymentColumns = `
	id, application_id, offer_id, creator_id, company_id, sale_ref,
	gross_minor, platform_fee_minor, processing_fee_minor, net_minor, currency,
	status, description, dispute_reason, failure_code, failure_message,
	payout_method_id, version, created_at, updated_at, completed_at
`

// Create inserts a new payment.
func (s *PostgresStore) Create(ctx context.Context, p *Payment) error {
	query := `
		INSERT INTO payments (` + paymentColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11,
			$12, $13, $14, $15, $16, $17, $18, $19, $20, $21)
	`

	_, err := s.pool.Exec(ctx, query,
		p.ID, p.ApplicationID, p.OfferID, p.CreatorID, p.CompanyID, nullStr(p.SaleRef),
		p.Gross.AmountMinor, p.PlatformFee.AmountMinor, p.ProcessingFee.AmountMinor,
		p.Net.AmountMinor, p.Gross.Currency,
		p.Status, p.Description, p.DisputeReason, p.FailureCode, p.FailureMessage,
		nullStr(p.PayoutMethodID), p.Version, p.CreatedAt, p.UpdatedAt, p.CompletedAt,
	)
	return err
}

// Get retrieves a payment by ID.
func (s *PostgresStore) Get(ctx context.Context, id string) (*Payment, error) {
	query := `SELECT ` + paymentColumns + ` FROM payments WHERE id = $1`
	return scanPayment(s.pool.QueryRow(ctx, query, id))
}

// Update persists a transition guarded by the version loaded with the
// payment. Zero rows affected means a concurrent transition won.
func (s *PostgresStore) Update(ctx context.Context, p *Payment) error {
	query := `
		UPDATE payments SET
			status = $3, description = $4, dispute_reason = $5,
			failure_code = $6, failure_message = $7, payout_method_id = $8,
			version = version + 1, updated_at = $9, completed_at = $10
		WHERE id = $1 AND version = $2
	`

	p.UpdatedAt = time.Now().UTC()

	tag, err := s.pool.Exec(ctx, query,
		p.ID, p.Version,
		p.Status, p.Description, p.DisputeReason,
		p.FailureCode, p.FailureMessage, nullStr(p.PayoutMethodID),
		p.UpdatedAt, p.CompletedAt,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: payment %s was modified concurrently", ErrStaleState, p.ID)
	}

	p.Version++
	return nil
}

// ListByStatus lists payments in a given status, oldest first.
func (s *PostgresStore) ListByStatus(ctx context.Context, status Status, limit int) ([]*Payment, error) {
	query := `SELECT ` + paymentColumns + `
		FROM payments WHERE status = $1
		ORDER BY created_at ASC
		LIMIT $2`
	return s.list(ctx, query, status, limit)
}

// ListByCreator lists a creator's payments, newest first.
func (s *PostgresStore) ListByCreator(ctx context.Context, creatorID string, limit, offset int) ([]*Payment, error) {
	query := `SELECT ` + paymentColumns + `
		FROM payments WHERE creator_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3`
	return s.list(ctx, query, creatorID, limit, offset)
}

// ListByCompany lists a company's payments, newest first.
func (s *PostgresStore) ListByCompany(ctx context.Context, companyID string, limit, offset int) ([]*Payment, error) {
	query := `SELECT ` + paymentColumns + `
		FROM payments WHERE company_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3`
	return s.list(ctx, query, companyID, limit, offset)
}

// SumEarnings sums a creator's net amounts excluding disputed and
// refunded payments.
func (s *PostgresStore) SumEarnings(ctx context.Context, creatorID string) (money.Money, error) {
	query := `
		SELECT COALESCE(SUM(net_minor), 0), COALESCE(MAX(currency), 'CAD')
		FROM payments
		WHERE creator_id = $1
		  AND status != 'refunded'
		  AND NOT (status = 'failed' AND dispute_reason != '')
	`

	var total int64
	var currency string
	if err := s.pool.QueryRow(ctx, query, creatorID).Scan(&total, &currency); err != nil {
		return money.Money{}, err
	}
	return money.New(total, money.Currency(currency)), nil
}

// MethodInUse reports whether an in-flight settlement depends on the
// payout method: either a processing payment already references it, or
// it is the default destination of a creator with processing payments.
func (s *PostgresStore) MethodInUse(ctx context.Context, methodID string) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1 FROM payments p
			WHERE p.status = 'processing'
			  AND (p.payout_method_id = $1
			       OR p.creator_id = (
			           SELECT m.owner_id FROM payout_methods m
			           WHERE m.id = $1 AND m.is_default
			       ))
		)
	`

	var inUse bool
	if err := s.pool.QueryRow(ctx, query, methodID).Scan(&inUse); err != nil {
		return false, err
	}
	return inUse, nil
}

func (s *PostgresStore) list(ctx context.Context, query string, args ...any) ([]*Payment, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var payments []*Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		payments = append(payments, p)
	}
	return payments, rows.Err()
}

func scanPayment(row pgx.Row) (*Payment, error) {
	var p Payment
	var saleRef, payoutMethodID *string
	var grossMinor, platformFeeMinor, processingFeeMinor, netMinor int64
	var currency string

	err := row.Scan(
		&p.ID, &p.ApplicationID, &p.OfferID, &p.CreatorID, &p.CompanyID, &saleRef,
		&grossMinor, &platformFeeMinor, &processingFeeMinor, &netMinor, &currency,
		&p.Status, &p.Description, &p.DisputeReason, &p.FailureCode, &p.FailureMessage,
		&payoutMethodID, &p.Version, &p.CreatedAt, &p.UpdatedAt, &p.CompletedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, database.ErrNotFound
		}
		return nil, err
	}

	if saleRef != nil {
		p.SaleRef = *saleRef
	}
	if payoutMethodID != nil {
		p.PayoutMethodID = *payoutMethodID
	}

	c := money.Currency(currency)
	p.Gross = money.New(grossMinor, c)
	p.PlatformFee = money.New(platformFeeMinor, c)
	p.ProcessingFee = money.New(processingFeeMinor, c)
	p.Net = money.New(netMinor, c)

	return &p, nil
}

func nullStr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
