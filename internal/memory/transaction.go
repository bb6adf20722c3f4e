package memory

import (
	"context"

	"github.com/google/uuid"

	"github.com/retail-banking-sim/ledger-core/internal/domain"
)

// txKey is the key type for storing a transaction scope in context.
type txKey struct{}

// storeTx is one atomic unit of work. Repositories stage changes into it;
// commit applies everything to the shared store in one critical section.
type storeTx struct {
	store *Store

	lockedIDs []uuid.UUID
	locked    map[uuid.UUID]bool

	// Working copies of accounts read under their locks, plus a dirty set of
	// the ones Update was called on.
	accounts map[uuid.UUID]*domain.Account
	dirty    map[uuid.UUID]bool

	stagedTxns     []*domain.Transaction
	stagedFindings []*domain.RiskFinding
}

// TransactionManager implements domain.TransactionManager for the in-memory store.
type TransactionManager struct {
	store *Store
}

// NewTransactionManager creates a new TransactionManager.
func NewTransactionManager(store *Store) *TransactionManager {
	return &TransactionManager{store: store}
}

// WithTransaction executes the given function within a staged transaction.
// If the function returns an error, all staged changes are discarded.
// Otherwise, the changes are committed atomically. Account locks taken via
// AccountRepository.Lock are held for the whole scope and released at the end.
func (tm *TransactionManager) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	tx := &storeTx{
		store:    tm.store,
		locked:   make(map[uuid.UUID]bool),
		accounts: make(map[uuid.UUID]*domain.Account),
		dirty:    make(map[uuid.UUID]bool),
	}
	defer tx.releaseLocks()

	txCtx := context.WithValue(ctx, txKey{}, tx)
	if err := fn(txCtx); err != nil {
		return err // staged changes are simply dropped
	}

	return tx.commit()
}

// getTx retrieves the transaction scope from context.
// If no transaction is found, returns nil.
func getTx(ctx context.Context) *storeTx {
	if tx, ok := ctx.Value(txKey{}).(*storeTx); ok {
		return tx
	}
	return nil
}

// lock acquires the account's exclusive lock once per transaction scope.
func (tx *storeTx) lock(ctx context.Context, id uuid.UUID) error {
	if tx.locked[id] {
		return nil
	}
	if err := tx.store.acquire(ctx, id); err != nil {
		return err
	}
	tx.locked[id] = true
	tx.lockedIDs = append(tx.lockedIDs, id)
	return nil
}

func (tx *storeTx) releaseLocks() {
	// Release in reverse acquisition order.
	for i := len(tx.lockedIDs) - 1; i >= 0; i-- {
		tx.store.release(tx.lockedIDs[i])
	}
	tx.lockedIDs = nil
	tx.locked = make(map[uuid.UUID]bool)
}

// commit applies staged changes under the store mutex so the whole unit
// becomes visible to readers at once.
func (tx *storeTx) commit() error {
	s := tx.store
	s.mu.Lock()
	defer s.mu.Unlock()

	// The log is append-only and idempotency keys are unique. The account
	// locks serialize writers, so a violation here means a caller bypassed
	// the locking discipline.
	for _, txn := range tx.stagedTxns {
		if _, exists := s.txnByID[txn.ID]; exists {
			return domain.ErrDuplicateTransaction
		}
		if _, exists := s.txnByKey[txn.IdempotencyKey]; exists {
			return domain.ErrDuplicateTransaction
		}
	}

	for id := range tx.dirty {
		updated := cloneAccount(tx.accounts[id])
		if current, exists := s.accounts[id]; exists {
			updated.Version = current.Version + 1
		}
		s.accounts[id] = updated
	}

	for _, txn := range tx.stagedTxns {
		stored := cloneTransaction(txn)
		s.log = append(s.log, stored)
		s.txnByID[stored.ID] = stored
		s.txnByKey[stored.IdempotencyKey] = stored
	}

	for _, finding := range tx.stagedFindings {
		s.findings = append(s.findings, cloneFinding(finding))
	}

	return nil
}
