package wallet

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/refledger/ledger-engine/internal/model"
	"github.com/refledger/ledger-engine/internal/store"
)

type recorder struct {
	mu     sync.Mutex
	events []model.Event
}

func (r *recorder) Publish(ev model.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

var seeds = []model.Wallet{
	{Name: "A", Number: "111", Active: false},
	{Name: "B", Number: "222", Active: true},
}

func newSelector(t *testing.T) (*Selector, *store.MemoryStore, *recorder) {
	t.Helper()
	st := store.NewMemoryStore()
	rec := &recorder{}
	s := NewSelector(st, seeds, nil, rec)
	if _, err := s.Bootstrap(context.Background()); err != nil {
		t.Fatal(err)
	}
	return s, st, rec
}

func activeNames(t *testing.T, s *Selector) []string {
	t.Helper()
	wallets, err := s.List(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	var names []string
	for _, w := range wallets {
		if w.Active {
			names = append(names, w.Name)
		}
	}
	return names
}

func TestSetActive_SwitchesWallet(t *testing.T) {
	ctx := context.Background()
	s, _, rec := newSelector(t)

	w, err := s.SetActive(ctx, "A")
	if err != nil {
		t.Fatal(err)
	}
	if w.Name != "A" || !w.Active {
		t.Errorf("SetActive returned %+v", w)
	}

	got, err := s.GetActive(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if got.Name != "A" || got.Number != "111" {
		t.Errorf("GetActive = %+v, want A", got)
	}
	if names := activeNames(t, s); len(names) != 1 || names[0] != "A" {
		t.Errorf("active wallets = %v, want [A]", names)
	}
	if len(rec.events) != 1 || rec.events[0].Type != EventWalletActivated || rec.events[0].Wallet != "A" {
		t.Errorf("events = %+v", rec.events)
	}
}

func TestSetActive_UnknownNameLeavesSetUnchanged(t *testing.T) {
	ctx := context.Background()
	s, _, rec := newSelector(t)

	if _, err := s.SetActive(ctx, "Z"); !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if names := activeNames(t, s); len(names) != 1 || names[0] != "B" {
		t.Errorf("active wallets = %v, want [B]", names)
	}
	if len(rec.events) != 0 {
		t.Error("failed activation must not publish")
	}
}

func TestSetActive_EmptyName(t *testing.T) {
	s, _, _ := newSelector(t)
	if _, err := s.SetActive(context.Background(), "  "); !errors.Is(err, model.ErrValidation) {
		t.Errorf("expected ErrValidation, got %v", err)
	}
}

func TestSetActive_ConcurrentSwitchesKeepOneActive(t *testing.T) {
	ctx := context.Background()
	s, _, _ := newSelector(t)

	var wg sync.WaitGroup
	for i := 0; i < 40; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			name := "A"
			if i%2 == 0 {
				name = "B"
			}
			if _, err := s.SetActive(ctx, name); err != nil {
				t.Error(err)
			}
		}(i)
	}
	wg.Wait()

	if names := activeNames(t, s); len(names) != 1 {
		t.Errorf("expected exactly one active wallet, got %v", names)
	}
}

func TestGetActive_NoneAndMany(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	s := NewSelector(st, seeds, nil, nil)

	if _, err := s.GetActive(ctx); !errors.Is(err, model.ErrNotFound) {
		t.Errorf("empty set: expected ErrNotFound, got %v", err)
	}

	st.SetWalletState(model.Wallet{Name: "A", Number: "1", Active: true})
	st.SetWalletState(model.Wallet{Name: "B", Number: "2", Active: true})
	if _, err := s.GetActive(ctx); !errors.Is(err, model.ErrConsistency) {
		t.Errorf("two active: expected ErrConsistency, got %v", err)
	}

	// Activation repairs the broken state.
	if _, err := s.SetActive(ctx, "B"); err != nil {
		t.Fatal(err)
	}
	got, err := s.GetActive(ctx)
	if err != nil || got.Name != "B" {
		t.Errorf("after repair: %v, %v", got, err)
	}
}

func TestBootstrap(t *testing.T) {
	ctx := context.Background()
	s, _, _ := newSelector(t)

	seeded, err := s.Bootstrap(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if seeded {
		t.Error("second bootstrap should be a no-op")
	}
	wallets, _ := s.List(ctx)
	if len(wallets) != 2 {
		t.Errorf("expected 2 wallets, got %d", len(wallets))
	}

	bad := NewSelector(store.NewMemoryStore(), []model.Wallet{{Name: "A"}, {Name: "B"}}, nil, nil)
	if _, err := bad.Bootstrap(ctx); !errors.Is(err, model.ErrValidation) {
		t.Errorf("seeds without an active wallet: expected ErrValidation, got %v", err)
	}
}

func TestBootstrap_ConcurrentSeedsOnce(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		seeders int
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			// Independent selectors share only the store.
			s := NewSelector(st, seeds, nil, nil)
			seeded, err := s.Bootstrap(ctx)
			if err != nil {
				t.Error(fmt.Errorf("bootstrap %d: %w", i, err))
				return
			}
			if seeded {
				mu.Lock()
				seeders++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	if seeders != 1 {
		t.Errorf("expected exactly one seeder, got %d", seeders)
	}
}
