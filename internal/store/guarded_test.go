package store

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/sony/gobreaker"

	"github.com/refledger/ledger-engine/internal/model"
)

// flakyStore fails ListAccounts with a storage error while down is set.
type flakyStore struct {
	*MemoryStore
	down  bool
	calls int
}

func (f *flakyStore) ListAccounts(ctx context.Context) ([]model.Account, error) {
	f.calls++
	if f.down {
		return nil, fmt.Errorf("list accounts: %w: connection refused", model.ErrStorage)
	}
	return f.MemoryStore.ListAccounts(ctx)
}

func testBreaker() BreakerSettings {
	cfg := DefaultBreakerSettings()
	cfg.Timeout = time.Hour
	return cfg
}

func TestGuardedStore_TripsOnStorageErrors(t *testing.T) {
	ctx := context.Background()
	primary := &flakyStore{MemoryStore: NewMemoryStore(), down: true}
	s := NewGuardedStore(primary, testBreaker(), nil)

	for i := 0; i < 5; i++ {
		if _, err := s.ListAccounts(ctx); !errors.Is(err, model.ErrStorage) {
			t.Fatalf("call %d: expected ErrStorage, got %v", i, err)
		}
	}
	if s.State() != gobreaker.StateOpen {
		t.Fatalf("breaker state = %s, want open", s.State())
	}

	primary.down = false
	_, err := s.ListAccounts(ctx)
	if !errors.Is(err, model.ErrStorage) || !errors.Is(err, gobreaker.ErrOpenState) {
		t.Errorf("open breaker should fail fast with ErrStorage, got %v", err)
	}
	if primary.calls != 5 {
		t.Errorf("open breaker reached the primary: %d calls", primary.calls)
	}
}

func TestGuardedStore_DomainErrorsDoNotTrip(t *testing.T) {
	ctx := context.Background()
	s := NewGuardedStore(NewMemoryStore(), testBreaker(), nil)

	for i := 0; i < 10; i++ {
		if _, err := s.GetAccount(ctx, "missing"); !errors.Is(err, model.ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
		if _, err := s.ActivateWallet(ctx, "missing"); !errors.Is(err, model.ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
	}
	if s.State() != gobreaker.StateClosed {
		t.Errorf("breaker state = %s, want closed", s.State())
	}
}

func TestGuardedStore_PassesResultsThrough(t *testing.T) {
	ctx := context.Background()
	s := NewGuardedStore(NewMemoryStore(), DefaultBreakerSettings(), nil)

	if err := s.CreateAccount(ctx, newAccount("a1", "0100", time.Now())); err != nil {
		t.Fatal(err)
	}
	acc, err := s.UpdateAccount(ctx, "a1", func(a *model.Account) error {
		a.Name = "Mona"
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if acc.Name != "Mona" {
		t.Errorf("name = %q, want Mona", acc.Name)
	}

	wallets, err := s.ListWallets(ctx)
	if err != nil || len(wallets) != 0 {
		t.Errorf("ListWallets = %v, %v", wallets, err)
	}
}
