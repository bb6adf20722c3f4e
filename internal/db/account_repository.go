package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/retail-banking-sim/ledger-core/internal/domain"
)

// AccountRepository implements domain.AccountRepository using PostgreSQL.
type AccountRepository struct {
	pool *pgxpool.Pool
}

// NewAccountRepository creates a new AccountRepository.
func NewAccountRepository(pool *pgxpool.Pool) *AccountRepository {
	return &AccountRepository{
		pool: pool,
	}
}

const accountColumns = `id, balance_value, balance_currency_code, status, version, created_at, updated_at`

// Create persists a new account.
func (r *AccountRepository) Create(ctx context.Context, account *domain.Account) error {
	query := `
		INSERT INTO accounts (id, balance_value, balance_currency_code, status, version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	args := []any{
		account.ID,
		account.Balance.Value,
		account.Balance.CurrencyCode,
		string(account.Status),
		account.Version,
		account.CreatedAt,
		account.UpdatedAt,
	}

	var err error
	if tx := getTx(ctx); tx != nil {
		_, err = tx.Exec(ctx, query, args...)
	} else {
		_, err = r.pool.Exec(ctx, query, args...)
	}

	if err != nil {
		return fmt.Errorf("failed to create account: %w", mapPgError(err))
	}
	return nil
}

// GetByID retrieves an account by its unique identifier.
func (r *AccountRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE id = $1`

	var row pgx.Row
	if tx := getTx(ctx); tx != nil {
		row = tx.QueryRow(ctx, query, id)
	} else {
		row = r.pool.QueryRow(ctx, query, id)
	}

	return scanAccount(row)
}

// Update persists changes to an existing account, bumping its version.
// A concurrent modification (stale version) surfaces as domain.ErrConflict.
func (r *AccountRepository) Update(ctx context.Context, account *domain.Account) error {
	query := `
		UPDATE accounts
		SET balance_value = $2,
		    balance_currency_code = $3,
		    status = $4,
		    version = version + 1,
		    updated_at = $5
		WHERE id = $1 AND version = $6
	`

	args := []any{
		account.ID,
		account.Balance.Value,
		account.Balance.CurrencyCode,
		string(account.Status),
		account.UpdatedAt,
		account.Version,
	}

	var err error
	var rowsAffected int64
	if tx := getTx(ctx); tx != nil {
		result, execErr := tx.Exec(ctx, query, args...)
		err = execErr
		rowsAffected = result.RowsAffected()
	} else {
		result, execErr := r.pool.Exec(ctx, query, args...)
		err = execErr
		rowsAffected = result.RowsAffected()
	}

	if err != nil {
		return fmt.Errorf("failed to update account: %w", mapPgError(err))
	}
	if rowsAffected == 0 {
		return domain.ErrConflict
	}

	account.Version++
	return nil
}

// Lock acquires a pessimistic lock on the account for the duration of the
// transaction. This method MUST be called within a transaction context.
// Uses SELECT ... FOR UPDATE to lock the row; a wait beyond the configured
// lock timeout surfaces as domain.ErrLockTimeout.
func (r *AccountRepository) Lock(ctx context.Context, id uuid.UUID) (*domain.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE id = $1 FOR UPDATE`

	tx := getTx(ctx)
	if tx == nil {
		return nil, fmt.Errorf("account lock must be called within a transaction")
	}

	return scanAccount(tx.QueryRow(ctx, query, id))
}

// List returns all accounts in stable identifier order.
func (r *AccountRepository) List(ctx context.Context) ([]*domain.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts ORDER BY id`

	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list accounts: %w", err)
	}
	defer rows.Close()

	var accounts []*domain.Account
	for rows.Next() {
		account, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, account)
	}
	return accounts, rows.Err()
}

func scanAccount(row pgx.Row) (*domain.Account, error) {
	var account domain.Account
	var status string

	err := row.Scan(
		&account.ID,
		&account.Balance.Value,
		&account.Balance.CurrencyCode,
		&status,
		&account.Version,
		&account.CreatedAt,
		&account.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrAccountNotFound
		}
		return nil, fmt.Errorf("failed to scan account: %w", mapPgError(err))
	}

	account.Status = domain.AccountStatus(status)
	return &account, nil
}
