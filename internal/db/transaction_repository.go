package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/retail-banking-sim/ledger-core/internal/domain"
)

// TransactionRepository implements domain.TransactionRepository using
// PostgreSQL. The transactions table is append-only: rows are inserted once
// and never updated or deleted.
type TransactionRepository struct {
	pool *pgxpool.Pool
}

// NewTransactionRepository creates a new TransactionRepository.
func NewTransactionRepository(pool *pgxpool.Pool) *TransactionRepository {
	return &TransactionRepository{
		pool: pool,
	}
}

const transactionColumns = `id, kind, source_id, destination_id, amount_value, amount_currency_code,
	status, failure_reason, idempotency_key, created_at,
	source_balance_after, destination_balance_after`

// Create appends a new transaction record. Uniqueness of both the ID and the
// idempotency key is enforced by database constraints; a violation surfaces
// as domain.ErrDuplicateTransaction.
func (r *TransactionRepository) Create(ctx context.Context, txn *domain.Transaction) error {
	query := `
		INSERT INTO transactions (id, kind, source_id, destination_id, amount_value, amount_currency_code,
			status, failure_reason, idempotency_key, created_at,
			source_balance_after, destination_balance_after)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`

	var sourceBalanceAfter, destinationBalanceAfter decimal.NullDecimal
	if txn.SourceBalanceAfter != nil {
		sourceBalanceAfter = decimal.NewNullDecimal(txn.SourceBalanceAfter.Value)
	}
	if txn.DestinationBalanceAfter != nil {
		destinationBalanceAfter = decimal.NewNullDecimal(txn.DestinationBalanceAfter.Value)
	}

	args := []any{
		txn.ID,
		string(txn.Kind),
		txn.SourceID,
		txn.DestinationID,
		txn.Amount.Value,
		txn.Amount.CurrencyCode,
		string(txn.Status),
		txn.FailureReason,
		txn.IdempotencyKey,
		txn.CreatedAt,
		sourceBalanceAfter,
		destinationBalanceAfter,
	}

	var err error
	if tx := getTx(ctx); tx != nil {
		_, err = tx.Exec(ctx, query, args...)
	} else {
		_, err = r.pool.Exec(ctx, query, args...)
	}

	if err != nil {
		return fmt.Errorf("failed to create transaction: %w", mapPgError(err))
	}
	return nil
}

// GetByID retrieves a transaction by its unique identifier.
// Returns nil if no transaction is found.
func (r *TransactionRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE id = $1`
	return r.queryOne(ctx, query, id)
}

// GetByIdempotencyKey retrieves a transaction by its idempotency key.
// Returns nil if no transaction is found with the given key.
func (r *TransactionRepository) GetByIdempotencyKey(ctx context.Context, idempotencyKey string) (*domain.Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE idempotency_key = $1`
	return r.queryOne(ctx, query, idempotencyKey)
}

func (r *TransactionRepository) queryOne(ctx context.Context, query string, arg any) (*domain.Transaction, error) {
	var row pgx.Row
	if tx := getTx(ctx); tx != nil {
		row = tx.QueryRow(ctx, query, arg)
	} else {
		row = r.pool.QueryRow(ctx, query, arg)
	}

	txn, err := scanTransaction(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return txn, nil
}

// SumWithdrawnSince returns the total amount of SUCCESS withdrawals from the
// given account recorded at or after the given time.
func (r *TransactionRepository) SumWithdrawnSince(ctx context.Context, accountID uuid.UUID, since time.Time) (decimal.Decimal, error) {
	query := `
		SELECT COALESCE(SUM(amount_value), 0)
		FROM transactions
		WHERE kind = $1 AND status = $2 AND source_id = $3 AND created_at >= $4
	`

	args := []any{
		string(domain.KindWithdraw),
		string(domain.StatusSuccess),
		accountID,
		since,
	}

	var row pgx.Row
	if tx := getTx(ctx); tx != nil {
		row = tx.QueryRow(ctx, query, args...)
	} else {
		row = r.pool.QueryRow(ctx, query, args...)
	}

	var total decimal.Decimal
	if err := row.Scan(&total); err != nil {
		return decimal.Zero, fmt.Errorf("failed to sum withdrawals: %w", err)
	}
	return total, nil
}

// List returns the full transaction log in append order.
func (r *TransactionRepository) List(ctx context.Context) ([]*domain.Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM transactions ORDER BY created_at, id`

	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}
	defer rows.Close()

	var txns []*domain.Transaction
	for rows.Next() {
		txn, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		txns = append(txns, txn)
	}
	return txns, rows.Err()
}

func scanTransaction(row pgx.Row) (*domain.Transaction, error) {
	var txn domain.Transaction
	var kind, status string
	var sourceBalanceAfter, destinationBalanceAfter decimal.NullDecimal

	err := row.Scan(
		&txn.ID,
		&kind,
		&txn.SourceID,
		&txn.DestinationID,
		&txn.Amount.Value,
		&txn.Amount.CurrencyCode,
		&status,
		&txn.FailureReason,
		&txn.IdempotencyKey,
		&txn.CreatedAt,
		&sourceBalanceAfter,
		&destinationBalanceAfter,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan transaction: %w", err)
	}

	txn.Kind = domain.TransactionKind(kind)
	txn.Status = domain.TransactionStatus(status)
	if sourceBalanceAfter.Valid {
		txn.SourceBalanceAfter = &domain.Amount{
			Value:        sourceBalanceAfter.Decimal,
			CurrencyCode: txn.Amount.CurrencyCode,
		}
	}
	if destinationBalanceAfter.Valid {
		txn.DestinationBalanceAfter = &domain.Amount{
			Value:        destinationBalanceAfter.Decimal,
			CurrencyCode: txn.Amount.CurrencyCode,
		}
	}
	return &txn, nil
}
