package memory

import (
	"context"
	"fmt"
	"sort"

	"github.com/google/uuid"

	"github.com/retail-banking-sim/ledger-core/internal/domain"
)

// AccountRepository implements domain.AccountRepository on the in-memory store.
type AccountRepository struct {
	store *Store
}

// NewAccountRepository creates a new AccountRepository.
func NewAccountRepository(store *Store) *AccountRepository {
	return &AccountRepository{store: store}
}

// Create persists a new account.
func (r *AccountRepository) Create(ctx context.Context, account *domain.Account) error {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.accounts[account.ID]; exists {
		return fmt.Errorf("account %s already exists", account.ID)
	}
	s.accounts[account.ID] = cloneAccount(account)
	return nil
}

// GetByID retrieves an account by its unique identifier. Inside a transaction
// scope it returns the working copy so the caller observes its own staged
// changes; otherwise it returns the latest committed state.
func (r *AccountRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Account, error) {
	if tx := getTx(ctx); tx != nil {
		if account, ok := tx.accounts[id]; ok {
			return cloneAccount(account), nil
		}
	}

	s := r.store
	s.mu.RLock()
	defer s.mu.RUnlock()

	account, exists := s.accounts[id]
	if !exists {
		return nil, domain.ErrAccountNotFound
	}
	return cloneAccount(account), nil
}

// Update stages changes to an existing account. Must be called within a
// transaction scope; the staged state becomes visible at commit.
func (r *AccountRepository) Update(ctx context.Context, account *domain.Account) error {
	tx := getTx(ctx)
	if tx == nil {
		return fmt.Errorf("account update must be called within a transaction")
	}
	if !tx.locked[account.ID] {
		return domain.ErrConflict
	}
	tx.accounts[account.ID] = cloneAccount(account)
	tx.dirty[account.ID] = true
	return nil
}

// Lock acquires the account's exclusive lock for the duration of the
// transaction and returns a working copy of the committed state.
// Must be called within a transaction context.
func (r *AccountRepository) Lock(ctx context.Context, id uuid.UUID) (*domain.Account, error) {
	tx := getTx(ctx)
	if tx == nil {
		return nil, fmt.Errorf("account lock must be called within a transaction")
	}

	if err := tx.lock(ctx, id); err != nil {
		return nil, err
	}

	s := r.store
	s.mu.RLock()
	account, exists := s.accounts[id]
	s.mu.RUnlock()

	if !exists {
		return nil, domain.ErrAccountNotFound
	}

	working := cloneAccount(account)
	tx.accounts[id] = working
	return cloneAccount(working), nil
}

// List returns all accounts in stable identifier order.
func (r *AccountRepository) List(ctx context.Context) ([]*domain.Account, error) {
	s := r.store
	s.mu.RLock()
	defer s.mu.RUnlock()

	accounts := make([]*domain.Account, 0, len(s.accounts))
	for _, account := range s.accounts {
		accounts = append(accounts, cloneAccount(account))
	}
	sort.Slice(accounts, func(i, j int) bool {
		return accounts[i].ID.String() < accounts[j].ID.String()
	})
	return accounts, nil
}
