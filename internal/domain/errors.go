package domain

import "errors"

var (
	// ErrAccountNotFound is returned when an account doesn't exist
	ErrAccountNotFound = errors.New("account not found")

	// ErrAccountClosed is returned when an operation references a closed account
	ErrAccountClosed = errors.New("account is closed")

	// ErrAccountNotEmpty is returned when closing an account that still holds funds
	ErrAccountNotEmpty = errors.New("account balance must be zero before closing")

	// ErrInsufficientFunds is returned when the source account doesn't have enough balance
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrInvalidAmount is returned when the operation amount is invalid
	ErrInvalidAmount = errors.New("invalid amount: must be positive")

	// ErrSameAccount is returned when source and destination are the same account
	ErrSameAccount = errors.New("source and destination must be different accounts")

	// ErrCurrencyMismatch is returned when account and operation currencies don't match
	ErrCurrencyMismatch = errors.New("currency mismatch between accounts and operation")

	// ErrDailyLimitExceeded is returned when a withdrawal would push the account
	// over the configured daily cumulative withdrawal limit
	ErrDailyLimitExceeded = errors.New("daily withdrawal limit exceeded")

	// ErrMissingIdempotencyKey is returned when an operation carries no idempotency key
	ErrMissingIdempotencyKey = errors.New("idempotency key is required")

	// ErrDuplicateTransaction is returned when a transaction with the same ID or
	// idempotency key has already been recorded
	ErrDuplicateTransaction = errors.New("transaction already recorded")

	// ErrLockTimeout is returned when an account lock could not be acquired in time.
	// The operation may be retried with the same idempotency key.
	ErrLockTimeout = errors.New("timed out waiting for account lock")

	// ErrConflict is returned when a concurrent modification was detected.
	// The operation may be retried with the same idempotency key.
	ErrConflict = errors.New("concurrent modification detected")

	// ErrNegativeBalance indicates a mutation would have driven a balance below
	// zero through a path that should have been rejected earlier. It is an
	// internal invariant violation, never an expected business outcome.
	ErrNegativeBalance = errors.New("mutation would produce a negative balance")
)

// Failure reasons recorded on FAILED transactions. These are stable codes the
// calling layer can render into user-facing messages.
const (
	FailureReasonInsufficientBalance = "INSUFFICIENT_BALANCE"
	FailureReasonDailyLimitExceeded  = "DAILY_LIMIT_EXCEEDED"
)

// IsRetryable reports whether an error is transient: the caller may safely
// retry the operation with the same idempotency key.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrLockTimeout) ||
		errors.Is(err, ErrConflict) ||
		errors.Is(err, ErrDuplicateTransaction)
}
