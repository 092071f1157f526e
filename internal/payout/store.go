package payout

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"creatorpay/internal/common/database"
)

// PostgresStore implements Store using PostgreSQL.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const methodColumns = `
	id, owner_id, kind, is_default, email, provider_account_id,
	routing_number, account_number, holder_name, holder_type, account_type, country,
	verification_status, provider_bank_account_id, verification_method,
	wallet_address, network, version, created_at, updated_at
`

// Create inserts a new payout method.
func (s *PostgresStore) Create(ctx context.Context, m *Method) error {
	query := `
		INSERT INTO payout_methods (` + methodColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10,
			$11, $12, $13, $14, $15, $16, $17, $18, $19, $20)
	`

	_, err := s.pool.Exec(ctx, query,
		m.ID, m.OwnerID, m.Kind, m.IsDefault, m.Email, m.ProviderAccountID,
		m.RoutingNumber, m.AccountNumber, m.HolderName, m.HolderType, m.AccountType, m.Country,
		string(m.VerificationStatus), m.ProviderBankAccountID, m.VerificationMethod,
		m.WalletAddress, m.Network, m.Version, m.CreatedAt, m.UpdatedAt,
	)
	if database.IsUniqueViolation(err) {
		return database.ErrAlreadyExists
	}
	return err
}

// Get retrieves a method by ID.
func (s *PostgresStore) Get(ctx context.Context, id string) (*Method, error) {
	query := `SELECT ` + methodColumns + ` FROM payout_methods WHERE id = $1`
	return scanMethod(s.pool.QueryRow(ctx, query, id))
}

// ListByOwner lists an owner's methods, oldest first.
func (s *PostgresStore) ListByOwner(ctx context.Context, ownerID string) ([]*Method, error) {
	query := `SELECT ` + methodColumns + `
		FROM payout_methods WHERE owner_id = $1
		ORDER BY created_at ASC`

	rows, err := s.pool.Query(ctx, query, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var methods []*Method
	for rows.Next() {
		m, err := scanMethod(rows)
		if err != nil {
			return nil, err
		}
		methods = append(methods, m)
	}
	return methods, rows.Err()
}

// GetDefault retrieves an owner's default method.
func (s *PostgresStore) GetDefault(ctx context.Context, ownerID string) (*Method, error) {
	query := `SELECT ` + methodColumns + `
		FROM payout_methods WHERE owner_id = $1 AND is_default`
	return scanMethod(s.pool.QueryRow(ctx, query, ownerID))
}

// Update persists method changes guarded by the version loaded with the
// method. Zero rows affected means either the row is gone or a
// concurrent update won.
func (s *PostgresStore) Update(ctx context.Context, m *Method) error {
	query := `
		UPDATE payout_methods SET
			email = $3, provider_account_id = $4,
			verification_status = $5, provider_bank_account_id = $6,
			verification_method = $7, version = version + 1, updated_at = $8
		WHERE id = $1 AND version = $2
	`

	tag, err := s.pool.Exec(ctx, query,
		m.ID, m.Version, m.Email, m.ProviderAccountID,
		string(m.VerificationStatus), m.ProviderBankAccountID,
		m.VerificationMethod, m.UpdatedAt,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := s.pool.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM payout_methods WHERE id = $1)`, m.ID,
		).Scan(&exists); err != nil {
			return err
		}
		if !exists {
			return database.ErrNotFound
		}
		return fmt.Errorf("%w: method %s was modified concurrently", ErrStaleState, m.ID)
	}

	m.Version++
	return nil
}

// SetDefault demotes the owner's current default and promotes methodID
// in one transaction, preserving the single-default invariant.
func (s *PostgresStore) SetDefault(ctx context.Context, ownerID, methodID string) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx,
			`UPDATE payout_methods SET is_default = false, updated_at = $2
			 WHERE owner_id = $1 AND is_default`,
			ownerID, time.Now().UTC(),
		); err != nil {
			return fmt.Errorf("demoting default: %w", err)
		}

		tag, err := tx.Exec(ctx,
			`UPDATE payout_methods SET is_default = true, updated_at = $3
			 WHERE id = $1 AND owner_id = $2`,
			methodID, ownerID, time.Now().UTC(),
		)
		if err != nil {
			return fmt.Errorf("promoting default: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return database.ErrNotFound
		}
		return nil
	})
}

// Delete removes a method. When it was the default, the owner's oldest
// remaining method is promoted in the same transaction.
func (s *PostgresStore) Delete(ctx context.Context, ownerID, methodID string) (string, error) {
	var promotedID string

	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		var wasDefault bool
		err := tx.QueryRow(ctx,
			`DELETE FROM payout_methods WHERE id = $1 AND owner_id = $2 RETURNING is_default`,
			methodID, ownerID,
		).Scan(&wasDefault)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return database.ErrNotFound
			}
			return err
		}
		if !wasDefault {
			return nil
		}

		err = tx.QueryRow(ctx,
			`UPDATE payout_methods SET is_default = true, updated_at = $2
			 WHERE id = (
				SELECT id FROM payout_methods
				WHERE owner_id = $1
				ORDER BY created_at ASC
				LIMIT 1
			 )
			 RETURNING id`,
			ownerID, time.Now().UTC(),
		).Scan(&promotedID)
		if err != nil && !errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("promoting replacement default: %w", err)
		}
		return nil
	})

	return promotedID, err
}

// CountByOwner counts an owner's methods.
func (s *PostgresStore) CountByOwner(ctx context.Context, ownerID string) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM payout_methods WHERE owner_id = $1`, ownerID,
	).Scan(&count)
	return count, err
}

func scanMethod(row pgx.Row) (*Method, error) {
	var m Method
	var status string

	err := row.Scan(
		&m.ID, &m.OwnerID, &m.Kind, &m.IsDefault, &m.Email, &m.ProviderAccountID,
		&m.RoutingNumber, &m.AccountNumber, &m.HolderName, &m.HolderType, &m.AccountType, &m.Country,
		&status, &m.ProviderBankAccountID, &m.VerificationMethod,
		&m.WalletAddress, &m.Network, &m.Version, &m.CreatedAt, &m.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, database.ErrNotFound
		}
		return nil, err
	}

	m.VerificationStatus = VerificationStatus(status)
	return &m, nil
}
