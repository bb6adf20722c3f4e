package memory

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/retail-banking-sim/ledger-core/internal/domain"
)

// TransactionRepository implements domain.TransactionRepository on the
// in-memory store. The log is append-only: records are never updated or
// removed once committed.
type TransactionRepository struct {
	store *Store
}

// NewTransactionRepository creates a new TransactionRepository.
func NewTransactionRepository(store *Store) *TransactionRepository {
	return &TransactionRepository{store: store}
}

// Create appends a new transaction record. Within a transaction scope the
// record is staged and becomes visible at commit; uniqueness of both the ID
// and the idempotency key is checked against committed and staged records.
func (r *TransactionRepository) Create(ctx context.Context, txn *domain.Transaction) error {
	if tx := getTx(ctx); tx != nil {
		if err := r.checkUnique(tx, txn); err != nil {
			return err
		}
		tx.stagedTxns = append(tx.stagedTxns, cloneTransaction(txn))
		return nil
	}

	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.txnByID[txn.ID]; exists {
		return domain.ErrDuplicateTransaction
	}
	if _, exists := s.txnByKey[txn.IdempotencyKey]; exists {
		return domain.ErrDuplicateTransaction
	}
	stored := cloneTransaction(txn)
	s.log = append(s.log, stored)
	s.txnByID[stored.ID] = stored
	s.txnByKey[stored.IdempotencyKey] = stored
	return nil
}

func (r *TransactionRepository) checkUnique(tx *storeTx, txn *domain.Transaction) error {
	s := r.store
	s.mu.RLock()
	_, idExists := s.txnByID[txn.ID]
	_, keyExists := s.txnByKey[txn.IdempotencyKey]
	s.mu.RUnlock()
	if idExists || keyExists {
		return domain.ErrDuplicateTransaction
	}
	for _, staged := range tx.stagedTxns {
		if staged.ID == txn.ID || staged.IdempotencyKey == txn.IdempotencyKey {
			return domain.ErrDuplicateTransaction
		}
	}
	return nil
}

// GetByID retrieves a transaction by its unique identifier.
// Returns nil if no transaction is found.
func (r *TransactionRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Transaction, error) {
	if tx := getTx(ctx); tx != nil {
		for _, staged := range tx.stagedTxns {
			if staged.ID == id {
				return cloneTransaction(staged), nil
			}
		}
	}

	s := r.store
	s.mu.RLock()
	defer s.mu.RUnlock()

	txn, exists := s.txnByID[id]
	if !exists {
		return nil, nil
	}
	return cloneTransaction(txn), nil
}

// GetByIdempotencyKey retrieves a transaction by its idempotency key.
// Returns nil if no transaction is found with the given key.
func (r *TransactionRepository) GetByIdempotencyKey(ctx context.Context, idempotencyKey string) (*domain.Transaction, error) {
	if tx := getTx(ctx); tx != nil {
		for _, staged := range tx.stagedTxns {
			if staged.IdempotencyKey == idempotencyKey {
				return cloneTransaction(staged), nil
			}
		}
	}

	s := r.store
	s.mu.RLock()
	defer s.mu.RUnlock()

	txn, exists := s.txnByKey[idempotencyKey]
	if !exists {
		return nil, nil
	}
	return cloneTransaction(txn), nil
}

// SumWithdrawnSince returns the total amount of SUCCESS withdrawals from the
// given account recorded at or after the given time. Committed records only:
// the account lock held by the calling transaction serializes withdrawals per
// account, so the committed view is stable for the duration of the check.
func (r *TransactionRepository) SumWithdrawnSince(ctx context.Context, accountID uuid.UUID, since time.Time) (decimal.Decimal, error) {
	s := r.store
	s.mu.RLock()
	defer s.mu.RUnlock()

	total := decimal.Zero
	for _, txn := range s.log {
		if txn.Kind != domain.KindWithdraw || txn.Status != domain.StatusSuccess {
			continue
		}
		if txn.SourceID == nil || *txn.SourceID != accountID {
			continue
		}
		if txn.CreatedAt.Before(since) {
			continue
		}
		total = total.Add(txn.Amount.Value)
	}
	return total, nil
}

// List returns the full transaction log in append order.
func (r *TransactionRepository) List(ctx context.Context) ([]*domain.Transaction, error) {
	s := r.store
	s.mu.RLock()
	defer s.mu.RUnlock()

	log := make([]*domain.Transaction, len(s.log))
	for i, txn := range s.log {
		log[i] = cloneTransaction(txn)
	}
	return log, nil
}
