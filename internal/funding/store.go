package funding

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

const accountColumns = `
	id, name, kind, last4, status, is_primary, balance_minor, currency, created_at, updated_at
`

// Create inserts a funding account.
func (s *PostgresStore) Create(ctx context.Context, a *Account) error {
	query := `
		INSERT INTO funding_accounts (` + accountColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`

	_, err := s.pool.Exec(ctx, query,
		a.ID, a.Name, a.Kind, a.Last4, a.Status, a.IsPrimary,
		a.Balance.AmountMinor, a.Balance.Currency, a.CreatedAt, a.UpdatedAt,
	)
	if database.IsUniqueViolation(err) {
		return database.ErrAlreadyExists
	}
	return err
}

// Get retrieves an account by ID.
func (s *PostgresStore) Get(ctx context.Context, id string) (*Account, error) {
	query := `SELECT ` + accountColumns + ` FROM funding_accounts WHERE id = $1`
	return scanAccount(s.pool.QueryRow(ctx, query, id))
}

// List returns all accounts, oldest first.
func (s *PostgresStore) List(ctx context.Context) ([]*Account, error) {
	query := `SELECT ` + accountColumns + ` FROM funding_accounts ORDER BY created_at ASC`

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var accounts []*Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, a)
	}
	return accounts, rows.Err()
}

// GetPrimary retrieves the primary account.
func (s *PostgresStore) GetPrimary(ctx context.Context) (*Account, error) {
	query := `SELECT ` + accountColumns + ` FROM funding_accounts WHERE is_primary`
	return scanAccount(s.pool.QueryRow(ctx, query))
}

// SetStatus updates an account's status and returns the updated row.
func (s *PostgresStore) SetStatus(ctx context.Context, id string, status Status) (*Account, error) {
	query := `
		UPDATE funding_accounts SET status = $2, updated_at = $3
		WHERE id = $1
		RETURNING ` + accountColumns

	return scanAccount(s.pool.QueryRow(ctx, query, id, status, time.Now().UTC()))
}

// SetPrimary demotes the current primary and promotes id in one
// transaction.
func (s *PostgresStore) SetPrimary(ctx context.Context, id string) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx,
			`UPDATE funding_accounts SET is_primary = false, updated_at = $1 WHERE is_primary`,
			time.Now().UTC(),
		); err != nil {
			return fmt.Errorf("demoting primary: %w", err)
		}

		tag, err := tx.Exec(ctx,
			`UPDATE funding_accounts SET is_primary = true, updated_at = $2 WHERE id = $1`,
			id, time.Now().UTC(),
		)
		if err != nil {
			return fmt.Errorf("promoting primary: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return database.ErrNotFound
		}
		return nil
	})
}

// Delete removes an account. No replacement primary is promoted.
func (s *PostgresStore) Delete(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM funding_accounts WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return database.ErrNotFound
	}
	return nil
}

// Withdraw decrements the balance, refusing to let it go negative.
func (s *PostgresStore) Withdraw(ctx context.Context, id string, amountMinor int64) error {
	query := `
		UPDATE funding_accounts SET balance_minor = balance_minor - $2, updated_at = $3
		WHERE id = $1 AND balance_minor >= $2
	`

	tag, err := s.pool.Exec(ctx, query, id, amountMinor, time.Now().UTC())
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		// Either the account is gone or the balance is short.
		if _, getErr := s.Get(ctx, id); getErr != nil {
			return getErr
		}
		return fmt.Errorf("%w: account %s", ErrInsufficientBalance, id)
	}
	return nil
}

// Deposit increments the balance.
func (s *PostgresStore) Deposit(ctx context.Context, id string, amountMinor int64) error {
	query := `
		UPDATE funding_accounts SET balance_minor = balance_minor + $2, updated_at = $3
		WHERE id = $1
	`

	tag, err := s.pool.Exec(ctx, query, id, amountMinor, time.Now().UTC())
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return database.ErrNotFound
	}
	return nil
}

func scanAccount(row pgx.Row) (*Account, error) {
	var a Account
	var balanceMinor int64
	var currency string

	err := row.Scan(
		&a.ID, &a.Name, &a.Kind, &a.Last4, &a.Status, &a.IsPrimary,
		&balanceMinor, &currency, &a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, database.ErrNotFound
		}
		return nil, err
	}

	a.Balance = money.New(balanceMinor, money.Currency(currency))
	return &a, nil
}
