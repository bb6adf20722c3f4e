package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// AccountRepository defines the interface for account data access operations.
// This follows the Repository pattern to abstract data persistence logic.
type AccountRepository interface {
	// Create persists a new account.
	Create(ctx context.Context, account *Account) error

	// GetByID retrieves an account by its unique identifier.
	// Returns ErrAccountNotFound if the account doesn't exist.
	GetByID(ctx context.Context, id uuid.UUID) (*Account, error)

	// Update persists changes to an existing account and bumps its version.
	// Returns ErrConflict if the account was modified concurrently.
	Update(ctx context.Context, account *Account) error

	// Lock acquires an exclusive lock on the account for the duration of the
	// transaction. Must be called within a transaction context. Returns
	// ErrLockTimeout if the lock cannot be acquired within the configured bound.
	Lock(ctx context.Context, id uuid.UUID) (*Account, error)

	// List returns all accounts. Used for reconciliation.
	List(ctx context.Context) ([]*Account, error)
}

// TransactionRepository defines the interface for the append-only transaction log.
type TransactionRepository interface {
	// Create appends a new transaction record. Both the transaction ID and the
	// idempotency key are unique; a duplicate insert returns
	// ErrDuplicateTransaction rather than overwriting.
	Create(ctx context.Context, txn *Transaction) error

	// GetByID retrieves a transaction by its unique identifier.
	GetByID(ctx context.Context, id uuid.UUID) (*Transaction, error)

	// GetByIdempotencyKey retrieves a transaction by its idempotency key.
	// Returns nil if no transaction is found with the given key.
	GetByIdempotencyKey(ctx context.Context, idempotencyKey string) (*Transaction, error)

	// SumWithdrawnSince returns the total amount of SUCCESS withdrawals from
	// the given account recorded at or after the given time. Feeds the daily
	// cumulative withdrawal limit check.
	SumWithdrawnSince(ctx context.Context, accountID uuid.UUID, since time.Time) (decimal.Decimal, error)

	// List returns the full transaction log in append order. Used for replay.
	List(ctx context.Context) ([]*Transaction, error)
}

// RiskFindingRepository defines the interface for persisted risk findings.
type RiskFindingRepository interface {
	// Create persists a new risk finding.
	Create(ctx context.Context, finding *RiskFinding) error

	// List returns findings matching the filter, newest first.
	List(ctx context.Context, filter RiskFindingFilter) ([]*RiskFinding, error)
}

// TransactionManager defines the interface for managing store transactions.
// This abstraction allows the engine to work with atomic units of work
// without being coupled to a specific store implementation.
type TransactionManager interface {
	// WithTransaction executes the given function within a store transaction.
	// If the function returns an error, the transaction is rolled back.
	// Otherwise, the transaction is committed.
	WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}

// EventPublisher publishes domain events to external systems (e.g. RabbitMQ).
type EventPublisher interface {
	PublishTransactionCompleted(ctx context.Context, txn *Transaction) error
	PublishRiskFinding(ctx context.Context, finding *RiskFinding) error
}
