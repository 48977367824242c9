package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/refledger/ledger-engine/internal/model"
)

// MemoryStore implements Store with in-memory maps. Used for testing
// and development. Not suitable for production (no persistence).
type MemoryStore struct {
	mu       sync.RWMutex
	accounts map[string]*model.Account
	order    []string // insertion order, so listings are stable
	wallets  map[string]*model.Wallet
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		accounts: make(map[string]*model.Account),
		wallets:  make(map[string]*model.Wallet),
	}
}

func (s *MemoryStore) CreateAccount(_ context.Context, acc *model.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.accounts[acc.ID]; ok {
		return fmt.Errorf("%w: account %s already exists", model.ErrValidation, acc.ID)
	}
	for _, existing := range s.accounts {
		if existing.Phone == acc.Phone {
			return fmt.Errorf("%w: phone %s already registered", model.ErrValidation, acc.Phone)
		}
	}

	// Store a copy to avoid external mutation.
	s.accounts[acc.ID] = acc.Clone()
	s.order = append(s.order, acc.ID)
	return nil
}

func (s *MemoryStore) GetAccount(_ context.Context, id string) (*model.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	acc, ok := s.accounts[id]
	if !ok {
		return nil, fmt.Errorf("account %s: %w", id, model.ErrNotFound)
	}
	return acc.Clone(), nil
}

func (s *MemoryStore) FindAccountByPhone(_ context.Context, phone string) (*model.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, acc := range s.accounts {
		if acc.Phone == phone {
			return acc.Clone(), nil
		}
	}
	return nil, fmt.Errorf("account with phone %s: %w", phone, model.ErrNotFound)
}

func (s *MemoryStore) ListAccounts(_ context.Context) ([]model.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	accounts := make([]model.Account, 0, len(s.accounts))
	for _, id := range s.order {
		if acc, ok := s.accounts[id]; ok {
			accounts = append(accounts, *acc.Clone())
		}
	}
	return accounts, nil
}

func (s *MemoryStore) UpdateAccount(ctx context.Context, id string, fn UpdateFunc) (*model.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	acc, ok := s.accounts[id]
	if !ok {
		return nil, fmt.Errorf("account %s: %w", id, model.ErrNotFound)
	}

	working := acc.Clone()
	if err := fn(working); err != nil {
		return nil, err
	}
	working.ID = id
	s.accounts[id] = working
	return working.Clone(), nil
}

func (s *MemoryStore) DeleteAccount(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.accounts[id]; !ok {
		return fmt.Errorf("account %s: %w", id, model.ErrNotFound)
	}
	s.removeLocked(id)
	return nil
}

func (s *MemoryStore) DeleteAccounts(_ context.Context, criteria model.PruneCriteria) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var deleted []string
	for _, id := range append([]string(nil), s.order...) {
		if acc, ok := s.accounts[id]; ok && criteria.Matches(acc) {
			s.removeLocked(id)
			deleted = append(deleted, id)
		}
	}
	return deleted, nil
}

// removeLocked drops an account; the caller holds the write lock.
func (s *MemoryStore) removeLocked(id string) {
	delete(s.accounts, id)
	for i, oid := range s.order {
		if oid == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
}

func (s *MemoryStore) ListWallets(_ context.Context) ([]model.Wallet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	wallets := make([]model.Wallet, 0, len(s.wallets))
	for _, w := range s.wallets {
		wallets = append(wallets, *w)
	}
	sort.Slice(wallets, func(i, j int) bool { return wallets[i].Name < wallets[j].Name })
	return wallets, nil
}

func (s *MemoryStore) SeedWallets(_ context.Context, wallets []model.Wallet) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.wallets) > 0 {
		return false, nil
	}
	for _, w := range wallets {
		w := w
		s.wallets[w.Name] = &w
	}
	return true, nil
}

// ActivateWallet checks the target exists before touching any wallet, so
// an unknown name leaves the set unchanged.
func (s *MemoryStore) ActivateWallet(_ context.Context, name string) (*model.Wallet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	target, ok := s.wallets[name]
	if !ok {
		return nil, fmt.Errorf("wallet %s: %w", name, model.ErrNotFound)
	}
	for _, w := range s.wallets {
		w.Active = w.Name == name
	}
	copy := *target
	return &copy, nil
}

// SetWalletState overwrites a wallet as-is, bypassing the single-active
// rule. Tests use it to build broken states.
func (s *MemoryStore) SetWalletState(w model.Wallet) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.wallets[w.Name] = &w
}
