package domain

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// EngineConfig tunes the engine's internal retry behavior for transient
// failures (lock timeouts, concurrent-modification conflicts).
type EngineConfig struct {
	MaxRetries   int
	RetryBackoff time.Duration
}

const (
	defaultMaxRetries   = 3
	defaultRetryBackoff = 50 * time.Millisecond
)

// Engine orchestrates deposits, withdrawals and transfers as atomic units.
// Each operation locks the involved accounts in a canonical order, validates
// balance sufficiency and the daily withdrawal limit atomically with the
// mutation, records exactly one transaction per accepted idempotency key,
// and persists risk findings for successful mutations, all inside a single
// store transaction, so a partial outcome is never observable.
type Engine struct {
	accounts  AccountRepository
	txns      TransactionRepository
	findings  RiskFindingRepository
	txManager TransactionManager
	risk      *RiskEvaluator
	// Optional publisher for committed-transaction and risk-finding events.
	publisher EventPublisher
	log       *logrus.Logger
	config    EngineConfig

	// now is the engine's clock; overridable in tests for the daily window.
	now func() time.Time
}

// NewEngine creates a transaction engine.
// Pass nil for publisher if no events should be emitted.
func NewEngine(
	accounts AccountRepository,
	txns TransactionRepository,
	findings RiskFindingRepository,
	txManager TransactionManager,
	risk *RiskEvaluator,
	publisher EventPublisher,
	log *logrus.Logger,
	config EngineConfig,
) *Engine {
	if config.MaxRetries <= 0 {
		config.MaxRetries = defaultMaxRetries
	}
	if config.RetryBackoff <= 0 {
		config.RetryBackoff = defaultRetryBackoff
	}
	if log == nil {
		log = logrus.New()
	}
	return &Engine{
		accounts:  accounts,
		txns:      txns,
		findings:  findings,
		txManager: txManager,
		risk:      risk,
		publisher: publisher,
		log:       log,
		config:    config,
		now:       time.Now,
	}
}

// operation is the internal, already-validated description of a ledger mutation.
type operation struct {
	kind           TransactionKind
	source         *uuid.UUID
	destination    *uuid.UUID
	amount         Amount
	idempotencyKey string
}

// lockOrder returns the involved account IDs in ascending identifier order.
// Locking in a fixed total order makes deadlock structurally impossible.
func (op operation) lockOrder() []uuid.UUID {
	ids := make([]uuid.UUID, 0, 2)
	if op.source != nil {
		ids = append(ids, *op.source)
	}
	if op.destination != nil {
		ids = append(ids, *op.destination)
	}
	sort.Slice(ids, func(i, j int) bool {
		return ids[i].String() < ids[j].String()
	})
	return ids
}

// Deposit increases the account's balance by amount and records a SUCCESS
// transaction. This operation is idempotent when called with the same
// idempotency key.
func (e *Engine) Deposit(ctx context.Context, accountID uuid.UUID, amount Amount, idempotencyKey string) (*TransactionResult, error) {
	if err := validateOperation(amount, idempotencyKey); err != nil {
		return nil, err
	}
	return e.run(ctx, operation{
		kind:           KindDeposit,
		destination:    &accountID,
		amount:         amount,
		idempotencyKey: idempotencyKey,
	})
}

// Withdraw decreases the account's balance by amount. Insufficient balance
// and daily-limit rejections are recorded as FAILED transactions for audit,
// with balances unchanged. Idempotent per key.
func (e *Engine) Withdraw(ctx context.Context, accountID uuid.UUID, amount Amount, idempotencyKey string) (*TransactionResult, error) {
	if err := validateOperation(amount, idempotencyKey); err != nil {
		return nil, err
	}
	return e.run(ctx, operation{
		kind:           KindWithdraw,
		source:         &accountID,
		amount:         amount,
		idempotencyKey: idempotencyKey,
	})
}

// Transfer moves amount from one account to another as a single atomic
// mutation: no reader ever observes the debit without the credit.
// Idempotent per key.
func (e *Engine) Transfer(ctx context.Context, fromID, toID uuid.UUID, amount Amount, idempotencyKey string) (*TransactionResult, error) {
	if fromID == toID {
		return nil, ErrSameAccount
	}
	if err := validateOperation(amount, idempotencyKey); err != nil {
		return nil, err
	}
	return e.run(ctx, operation{
		kind:           KindTransfer,
		source:         &fromID,
		destination:    &toID,
		amount:         amount,
		idempotencyKey: idempotencyKey,
	})
}

// OpenAccount creates an active account. A positive initial balance is
// applied as a regular deposit so the transaction log alone reproduces the
// account's balance on replay.
func (e *Engine) OpenAccount(ctx context.Context, initial Amount) (*Account, error) {
	if err := ValidateCurrencyCode(initial.CurrencyCode); err != nil {
		return nil, err
	}
	if initial.Value.IsNegative() {
		return nil, ErrInvalidAmount
	}

	account := NewAccount(uuid.New(), Amount{CurrencyCode: initial.CurrencyCode})
	if err := e.accounts.Create(ctx, account); err != nil {
		return nil, fmt.Errorf("failed to create account: %w", err)
	}

	if initial.Value.IsPositive() {
		if _, err := e.Deposit(ctx, account.ID, initial, "open:"+account.ID.String()); err != nil {
			return nil, fmt.Errorf("failed to apply initial balance: %w", err)
		}
		return e.accounts.GetByID(ctx, account.ID)
	}

	e.log.WithField("account_id", account.ID).Info("account opened")
	return account, nil
}

// CloseAccount marks an account as closed. The account must hold a zero
// balance; closed accounts are kept for audit, never deleted.
func (e *Engine) CloseAccount(ctx context.Context, accountID uuid.UUID) error {
	return e.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		account, err := e.accounts.Lock(txCtx, accountID)
		if err != nil {
			return err
		}
		if account.Status == AccountStatusClosed {
			return nil
		}
		if !account.Balance.Value.IsZero() {
			return ErrAccountNotEmpty
		}
		account.Status = AccountStatusClosed
		account.UpdatedAt = e.now()
		if err := e.accounts.Update(txCtx, account); err != nil {
			return fmt.Errorf("failed to close account: %w", err)
		}
		e.log.WithField("account_id", accountID).Info("account closed")
		return nil
	})
}

// GetBalance returns the account's balance, consistent with the latest
// committed transaction at the time of the read.
func (e *Engine) GetBalance(ctx context.Context, accountID uuid.UUID) (Amount, error) {
	account, err := e.accounts.GetByID(ctx, accountID)
	if err != nil {
		return Amount{}, err
	}
	return account.Balance, nil
}

// ListRiskFindings returns persisted findings matching the filter.
func (e *Engine) ListRiskFindings(ctx context.Context, filter RiskFindingFilter) ([]*RiskFinding, error) {
	return e.findings.List(ctx, filter)
}

// run drives an operation through the idempotency fast path and the bounded
// retry loop for transient failures.
func (e *Engine) run(ctx context.Context, op operation) (*TransactionResult, error) {
	// Fast path: a previously recorded key returns the stored result without
	// touching balances. The check is repeated under the account locks to
	// close the race between two concurrent retries of the same key.
	existing, err := e.txns.GetByIdempotencyKey(ctx, op.idempotencyKey)
	if err != nil {
		return nil, fmt.Errorf("failed to check idempotency: %w", err)
	}
	if existing != nil {
		return replayResult(existing)
	}

	var result *TransactionResult
	var opErr error
	for attempt := 0; ; attempt++ {
		result, opErr = e.execute(ctx, op)
		if opErr == nil || !IsRetryable(opErr) || attempt >= e.config.MaxRetries {
			break
		}
		e.log.WithFields(logrus.Fields{
			"kind":    op.kind,
			"key":     op.idempotencyKey,
			"attempt": attempt + 1,
		}).WithError(opErr).Warn("transient failure, retrying operation")

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(e.config.RetryBackoff * time.Duration(attempt+1)):
		}

		// A lost duplicate-key race means the other retry won; return its result.
		if existing, err := e.txns.GetByIdempotencyKey(ctx, op.idempotencyKey); err == nil && existing != nil {
			return replayResult(existing)
		}
	}
	return result, opErr
}

// execute performs a single attempt of the operation inside one store
// transaction: lock, validate, mutate, evaluate risk, record.
func (e *Engine) execute(ctx context.Context, op operation) (*TransactionResult, error) {
	var (
		result    *TransactionResult
		opErr     error
		committed *Transaction
		failed    *Transaction
		findings  []*RiskFinding
	)

	err := e.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		locked := make(map[uuid.UUID]*Account, 2)
		for _, id := range op.lockOrder() {
			account, err := e.accounts.Lock(txCtx, id)
			if err != nil {
				return err
			}
			if account.Status == AccountStatusClosed {
				return ErrAccountClosed
			}
			locked[id] = account
		}

		// Idempotency re-check under the locks.
		if existing, err := e.txns.GetByIdempotencyKey(txCtx, op.idempotencyKey); err != nil {
			return fmt.Errorf("failed to check idempotency: %w", err)
		} else if existing != nil {
			result, opErr = replayResult(existing)
			return nil
		}

		for _, account := range locked {
			if !account.Balance.SameCurrency(op.amount) {
				return ErrCurrencyMismatch
			}
		}

		now := e.now().UTC()
		txn := &Transaction{
			ID:             uuid.New(),
			Kind:           op.kind,
			SourceID:       op.source,
			DestinationID:  op.destination,
			Amount:         op.amount,
			IdempotencyKey: op.idempotencyKey,
			CreatedAt:      now,
		}

		// Business rules, evaluated atomically with the mutation. Rejections
		// here still commit a FAILED record for audit.
		if op.source != nil {
			source := locked[*op.source]

			if op.kind == KindWithdraw {
				withdrawnToday, err := e.txns.SumWithdrawnSince(txCtx, source.ID, startOfDay(now))
				if err != nil {
					return fmt.Errorf("failed to sum daily withdrawals: %w", err)
				}
				if e.risk.ExceedsDailyLimit(withdrawnToday, op.amount.Value) {
					if err := e.recordFailure(txCtx, txn, FailureReasonDailyLimitExceeded, ErrDailyLimitExceeded, &result, &opErr); err != nil {
						return err
					}
					failed = txn
					return nil
				}
			}

			if !source.HasSufficientFunds(op.amount) {
				if err := e.recordFailure(txCtx, txn, FailureReasonInsufficientBalance, ErrInsufficientFunds, &result, &opErr); err != nil {
					return err
				}
				failed = txn
				return nil
			}

			if err := source.Debit(op.amount); err != nil {
				return err
			}
			source.UpdatedAt = now
			if err := e.accounts.Update(txCtx, source); err != nil {
				return fmt.Errorf("failed to update source account: %w", err)
			}
			after := source.Balance
			txn.SourceBalanceAfter = &after
		}

		if op.destination != nil {
			destination := locked[*op.destination]
			if err := destination.Credit(op.amount); err != nil {
				return err
			}
			destination.UpdatedAt = now
			if err := e.accounts.Update(txCtx, destination); err != nil {
				return fmt.Errorf("failed to update destination account: %w", err)
			}
			after := destination.Balance
			txn.DestinationBalanceAfter = &after
		}

		txn.Status = StatusSuccess
		if err := e.txns.Create(txCtx, txn); err != nil {
			return err
		}

		findings = e.risk.Evaluate(txn)
		for _, finding := range findings {
			if err := e.findings.Create(txCtx, finding); err != nil {
				return fmt.Errorf("failed to record risk finding: %w", err)
			}
		}

		committed = txn
		result = txn.Result()
		return nil
	})
	if err != nil {
		return nil, err
	}

	if committed != nil {
		e.log.WithFields(logrus.Fields{
			"transaction_id": committed.ID,
			"kind":           committed.Kind,
			"amount":         committed.Amount.String(),
		}).Info("transaction committed")
		e.publish(committed, findings)
	} else if failed != nil {
		e.publish(failed, nil)
	}
	return result, opErr
}

// recordFailure stages a FAILED transaction record and maps it to the typed
// business error. The store transaction is committed (fn returns nil) so the
// audit record survives the rejection.
func (e *Engine) recordFailure(
	txCtx context.Context,
	txn *Transaction,
	reason string,
	cause error,
	result **TransactionResult,
	opErr *error,
) error {
	txn.Status = StatusFailed
	txn.FailureReason = reason
	if err := e.txns.Create(txCtx, txn); err != nil {
		return err
	}
	e.log.WithFields(logrus.Fields{
		"transaction_id": txn.ID,
		"kind":           txn.Kind,
		"reason":         reason,
	}).Info("transaction rejected")
	*result = txn.Result()
	*opErr = cause
	return nil
}

// publish emits events for a committed transaction, best-effort. Transient
// broker failures must not make an already-committed operation appear to
// fail, so publishing happens asynchronously and failures are only logged.
func (e *Engine) publish(txn *Transaction, findings []*RiskFinding) {
	if e.publisher == nil {
		return
	}
	go func() {
		ctx := context.Background()
		if err := e.publisher.PublishTransactionCompleted(ctx, txn); err != nil {
			e.log.WithError(err).Warn("failed to publish transaction completed event")
		}
		for _, finding := range findings {
			if err := e.publisher.PublishRiskFinding(ctx, finding); err != nil {
				e.log.WithError(err).Warn("failed to publish risk finding event")
			}
		}
	}()
}

// replayResult converts a previously recorded transaction into the result
// and error the original attempt produced.
func replayResult(txn *Transaction) (*TransactionResult, error) {
	result := txn.Result()
	if txn.Status == StatusFailed {
		return result, failureError(txn.FailureReason)
	}
	return result, nil
}

// failureError maps a recorded failure reason back to its sentinel error.
func failureError(reason string) error {
	switch reason {
	case FailureReasonInsufficientBalance:
		return ErrInsufficientFunds
	case FailureReasonDailyLimitExceeded:
		return ErrDailyLimitExceeded
	default:
		return fmt.Errorf("operation failed: %s", reason)
	}
}

// validateOperation rejects malformed requests before any lock is taken.
// Nothing is recorded for these.
func validateOperation(amount Amount, idempotencyKey string) error {
	if err := ValidateAmount(amount); err != nil {
		return err
	}
	if idempotencyKey == "" {
		return ErrMissingIdempotencyKey
	}
	return nil
}

// startOfDay returns midnight of the day containing t, in t's location.
// The daily withdrawal window is [startOfDay(now), now).
func startOfDay(t time.Time) time.Time {
	year, month, day := t.Date()
	return time.Date(year, month, day, 0, 0, 0, 0, t.Location())
}
