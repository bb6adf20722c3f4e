// Package memory provides an in-process ledger store. Mutations are staged
// inside a transaction scope and applied under a store-wide mutex at commit,
// so readers never observe a partially-applied operation. Exclusive
// per-account locks with a bounded acquisition timeout provide the same
// discipline a SELECT ... FOR UPDATE row lock gives the PostgreSQL store.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/retail-banking-sim/ledger-core/internal/domain"
)

const defaultLockTimeout = 3 * time.Second

// Store holds the materialized accounts, the append-only transaction log and
// the persisted risk findings.
type Store struct {
	mu       sync.RWMutex
	accounts map[uuid.UUID]*domain.Account
	log      []*domain.Transaction
	txnByID  map[uuid.UUID]*domain.Transaction
	txnByKey map[string]*domain.Transaction
	findings []*domain.RiskFinding

	lockMu      sync.Mutex
	locks       map[uuid.UUID]chan struct{}
	lockTimeout time.Duration
}

// NewStore creates an empty store. lockTimeout bounds how long a caller may
// wait for an account lock before receiving ErrLockTimeout; zero selects the
// default.
func NewStore(lockTimeout time.Duration) *Store {
	if lockTimeout <= 0 {
		lockTimeout = defaultLockTimeout
	}
	return &Store{
		accounts:    make(map[uuid.UUID]*domain.Account),
		txnByID:     make(map[uuid.UUID]*domain.Transaction),
		txnByKey:    make(map[string]*domain.Transaction),
		locks:       make(map[uuid.UUID]chan struct{}),
		lockTimeout: lockTimeout,
	}
}

// lockChan returns the lock channel for an account, creating it lazily.
// A buffered channel of size one acts as a mutex that supports timeouts.
func (s *Store) lockChan(id uuid.UUID) chan struct{} {
	s.lockMu.Lock()
	defer s.lockMu.Unlock()
	ch, ok := s.locks[id]
	if !ok {
		ch = make(chan struct{}, 1)
		s.locks[id] = ch
	}
	return ch
}

// acquire takes the exclusive lock for an account, honoring the context and
// the configured timeout.
func (s *Store) acquire(ctx context.Context, id uuid.UUID) error {
	ch := s.lockChan(id)
	timer := time.NewTimer(s.lockTimeout)
	defer timer.Stop()

	select {
	case ch <- struct{}{}:
		return nil
	case <-timer.C:
		return domain.ErrLockTimeout
	case <-ctx.Done():
		return ctx.Err()
	}
}

// release frees an account lock previously taken by acquire.
func (s *Store) release(id uuid.UUID) {
	select {
	case <-s.lockChan(id):
	default:
	}
}

func cloneAccount(a *domain.Account) *domain.Account {
	c := *a
	return &c
}

func cloneTransaction(t *domain.Transaction) *domain.Transaction {
	c := *t
	return &c
}

func cloneFinding(f *domain.RiskFinding) *domain.RiskFinding {
	c := *f
	return &c
}
