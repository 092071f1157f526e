package feeconfig

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"creatorpay/internal/common/database"
)

// Store persists the fee configuration.
type Store interface {
	Get(ctx context.Context) (*Config, error)
	Update(ctx context.Context, patch Patch) (*Config, error)
}

// PostgresStore implements Store using PostgreSQL. The configuration is
// a single row; updates read and rewrite it inside one transaction so a
// multi-key admin write is all-or-nothing.
type PostgresStore struct {
	db *database.DB
}

// NewPostgresStore creates a new PostgreSQL store.
func NewPostgresStore(db *database.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Get retrieves the current configuration.
func (s *PostgresStore) Get(ctx context.Context) (*Config, error) {
	query := `
		SELECT platform_fee_bps, processing_fee_bps, minimum_payout_minor, reserve_bps, updated_at
		FROM fee_config
		WHERE id = 1
	`

	var cfg Config
	err := s.db.QueryRow(ctx, query).Scan(
		&cfg.PlatformFeeBps, &cfg.ProcessingFeeBps,
		&cfg.MinimumPayoutMinor, &cfg.ReserveBps, &cfg.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Default(), nil
		}
		return nil, fmt.Errorf("loading fee config: %w", err)
	}
	return &cfg, nil
}

// Update applies a validated patch atomically and returns the result.
func (s *PostgresStore) Update(ctx context.Context, patch Patch) (*Config, error) {
	if err := patch.Validate(); err != nil {
		return nil, err
	}

	var cfg Config
	err := s.db.WithTx(ctx, func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx, `
			SELECT platform_fee_bps, processing_fee_bps, minimum_payout_minor, reserve_bps, updated_at
			FROM fee_config WHERE id = 1 FOR UPDATE
		`).Scan(
			&cfg.PlatformFeeBps, &cfg.ProcessingFeeBps,
			&cfg.MinimumPayoutMinor, &cfg.ReserveBps, &cfg.UpdatedAt,
		)
		if err != nil {
			return fmt.Errorf("locking fee config: %w", err)
		}

		cfg = patch.Apply(cfg)
		cfg.UpdatedAt = time.Now().UTC()

		_, err = tx.Exec(ctx, `
			UPDATE fee_config SET
				platform_fee_bps = $1, processing_fee_bps = $2,
				minimum_payout_minor = $3, reserve_bps = $4, updated_at = $5
			WHERE id = 1
		`, cfg.PlatformFeeBps, cfg.ProcessingFeeBps, cfg.MinimumPayoutMinor, cfg.ReserveBps, cfg.UpdatedAt)
		if err != nil {
			return fmt.Errorf("updating fee config: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return &cfg, nil
}
