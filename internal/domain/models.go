package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Amount represents a monetary value with currency.
// Uses decimal.Decimal to preserve fixed-point precision and avoid floating
// point errors.
type Amount struct {
	Value        decimal.Decimal
	CurrencyCode string // ISO 4217 currency code (e.g., "CNY")
}

// NewAmount parses a decimal string into an Amount.
func NewAmount(value, currencyCode string) (Amount, error) {
	v, err := decimal.NewFromString(value)
	if err != nil {
		return Amount{}, ErrInvalidAmount
	}
	return Amount{Value: v, CurrencyCode: currencyCode}, nil
}

// SameCurrency reports whether two amounts share a currency code.
func (a Amount) SameCurrency(other Amount) bool {
	return a.CurrencyCode == other.CurrencyCode
}

// String formats the amount with two decimal places, e.g. "100.50".
func (a Amount) String() string {
	return a.Value.StringFixed(2)
}

// AccountStatus represents the lifecycle state of an account.
// Accounts are never deleted; closed accounts are marked.
type AccountStatus string

const (
	// AccountStatusActive indicates the account accepts operations
	AccountStatusActive AccountStatus = "ACTIVE"

	// AccountStatusClosed indicates the account is closed and rejects operations
	AccountStatusClosed AccountStatus = "CLOSED"
)

// Account represents a bank account in the ledger.
// Its balance is a materialized view over the transaction log: it is mutated
// only through committed transactions and is always reconstructible by replay.
type Account struct {
	ID        uuid.UUID     // Unique identifier of the account
	Balance   Amount        // Current account balance, never negative
	Status    AccountStatus // Lifecycle state
	Version   int64         // Monotonically increasing, detects lost updates
	CreatedAt time.Time     // Timestamp when the account was created
	UpdatedAt time.Time     // Timestamp of the last account update
}

// NewAccount creates a new active Account with the given ID and balance.
func NewAccount(id uuid.UUID, balance Amount) *Account {
	now := time.Now()
	return &Account{
		ID:        id,
		Balance:   balance,
		Status:    AccountStatusActive,
		Version:   1,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Debit subtracts the given amount from the account balance.
// Returns ErrNegativeBalance if the result would be negative; sufficiency
// must have been checked under the same lock before calling.
// UpdatedAt is left to the caller, which stamps it from its own clock.
func (a *Account) Debit(amount Amount) error {
	newBalance := a.Balance.Value.Sub(amount.Value)
	if newBalance.IsNegative() {
		return ErrNegativeBalance
	}
	a.Balance.Value = newBalance
	return nil
}

// Credit adds the given amount to the account balance.
// UpdatedAt is left to the caller, which stamps it from its own clock.
func (a *Account) Credit(amount Amount) error {
	a.Balance.Value = a.Balance.Value.Add(amount.Value)
	return nil
}

// HasSufficientFunds checks if the account has enough balance for the given amount.
func (a *Account) HasSufficientFunds(amount Amount) bool {
	return a.Balance.Value.GreaterThanOrEqual(amount.Value)
}

// TransactionKind represents the type of a ledger operation.
type TransactionKind string

const (
	KindDeposit  TransactionKind = "DEPOSIT"
	KindWithdraw TransactionKind = "WITHDRAW"
	KindTransfer TransactionKind = "TRANSFER"
)

// TransactionStatus represents the terminal state of a transaction record.
type TransactionStatus string

const (
	// StatusSuccess indicates the operation committed and balances changed
	StatusSuccess TransactionStatus = "SUCCESS"

	// StatusFailed indicates the operation was rejected by a business rule;
	// the record exists for audit and balances are unchanged
	StatusFailed TransactionStatus = "FAILED"
)

// Transaction is the immutable, write-once record of a ledger operation.
// The transaction log is append-only and is the single source of truth:
// replaying all SUCCESS records from an empty ledger reproduces the live
// balances.
type Transaction struct {
	ID             uuid.UUID       // Globally unique transaction identifier
	Kind           TransactionKind // DEPOSIT, WITHDRAW or TRANSFER
	SourceID       *uuid.UUID      // Debited account (nil for DEPOSIT)
	DestinationID  *uuid.UUID      // Credited account (nil for WITHDRAW)
	Amount         Amount          // Positive operation amount
	Status         TransactionStatus
	FailureReason  string  // Set when Status is FAILED
	IdempotencyKey string  // Unique key to ensure idempotent operations
	CreatedAt      time.Time

	// Post-operation balances of the touched accounts, captured atomically
	// with the mutation. Nil on FAILED records and for the side an operation
	// doesn't touch.
	SourceBalanceAfter      *Amount
	DestinationBalanceAfter *Amount
}

// Result projects the transaction into the value returned to callers.
func (t *Transaction) Result() *TransactionResult {
	return &TransactionResult{
		TransactionID:           t.ID,
		Status:                  t.Status,
		FailureReason:           t.FailureReason,
		SourceBalanceAfter:      t.SourceBalanceAfter,
		DestinationBalanceAfter: t.DestinationBalanceAfter,
	}
}

// TransactionResult is the outcome of an engine operation as seen by the
// calling layer. A retried idempotency key yields an identical result.
type TransactionResult struct {
	TransactionID           uuid.UUID
	Status                  TransactionStatus
	FailureReason           string
	SourceBalanceAfter      *Amount
	DestinationBalanceAfter *Amount
}

// RiskLevel grades a risk finding.
type RiskLevel string

const (
	RiskLevelHigh   RiskLevel = "HIGH"
	RiskLevelMedium RiskLevel = "MEDIUM"
	RiskLevelLow    RiskLevel = "LOW"
)

// Risk types attached to findings for operations over configured thresholds.
const (
	RiskTypeDepositOverLimit  = "DEPOSIT_OVER_LIMIT"
	RiskTypeWithdrawOverLimit = "WITHDRAW_OVER_LIMIT"
	RiskTypeTransferOverLimit = "TRANSFER_OVER_LIMIT"
)

// RiskFindingStatus tracks the review state of a finding. The core only
// creates findings as PENDING; the review workflow that moves them to
// PROCESSED belongs to an external collaborator.
type RiskFindingStatus string

const (
	RiskFindingPending   RiskFindingStatus = "PENDING"
	RiskFindingProcessed RiskFindingStatus = "PROCESSED"
)

// RiskFinding is an advisory classification attached to a committed
// transaction that exceeded a configured threshold.
type RiskFinding struct {
	ID            uuid.UUID
	TransactionID uuid.UUID // Back-reference to the transaction that triggered it
	AccountID     uuid.UUID // Account the finding is attributed to
	RiskType      string
	RiskLevel     RiskLevel
	Amount        Amount
	Status        RiskFindingStatus
	Description   string
	CreatedAt     time.Time
}

// RiskFindingFilter narrows ListRiskFindings results. Nil fields match all.
type RiskFindingFilter struct {
	AccountID *uuid.UUID
	Status    *RiskFindingStatus
	RiskType  *string
	Since     *time.Time
}
