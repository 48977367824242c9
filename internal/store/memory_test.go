package store

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/refledger/ledger-engine/internal/model"
)

func newAccount(id, phone string, joined time.Time) *model.Account {
	return &model.Account{
		ID:       id,
		Phone:    phone,
		JoinedAt: joined,
		Products: []model.Product{model.NewSignupProduct(joined)},
	}
}

func TestMemoryStore_CreateAndGet(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	acc := newAccount("a1", "0100", time.Now())

	if err := s.CreateAccount(ctx, acc); err != nil {
		t.Fatal(err)
	}
	acc.Name = "mutated after create"

	got, err := s.GetAccount(ctx, "a1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Name != "" {
		t.Error("store kept a reference to the caller's account")
	}
	if len(got.Products) != 1 {
		t.Errorf("expected 1 product, got %d", len(got.Products))
	}

	if _, err := s.GetAccount(ctx, "missing"); !errors.Is(err, model.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestMemoryStore_DuplicatePhone(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	_ = s.CreateAccount(ctx, newAccount("a1", "0100", time.Now()))

	err := s.CreateAccount(ctx, newAccount("a2", "0100", time.Now()))
	if !errors.Is(err, model.ErrValidation) {
		t.Errorf("expected ErrValidation for duplicate phone, got %v", err)
	}

	found, err := s.FindAccountByPhone(ctx, "0100")
	if err != nil || found.ID != "a1" {
		t.Errorf("FindAccountByPhone = %v, %v", found, err)
	}
}

func TestMemoryStore_UpdateAccount_ErrorDiscardsChanges(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	_ = s.CreateAccount(ctx, newAccount("a1", "0100", time.Now()))

	_, err := s.UpdateAccount(ctx, "a1", func(acc *model.Account) error {
		acc.Balance = decimal.NewFromInt(999)
		return errors.New("boom")
	})
	if err == nil {
		t.Fatal("expected error")
	}
	got, _ := s.GetAccount(ctx, "a1")
	if !got.Balance.IsZero() {
		t.Errorf("failed update leaked balance %s", got.Balance)
	}
}

func TestMemoryStore_UpdateAccount_Serialized(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	_ = s.CreateAccount(ctx, newAccount("a1", "0100", time.Now()))

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.UpdateAccount(ctx, "a1", func(acc *model.Account) error {
				acc.InvitesCount++
				return nil
			})
		}()
	}
	wg.Wait()

	got, _ := s.GetAccount(ctx, "a1")
	if got.InvitesCount != 50 {
		t.Errorf("lost updates: invites = %d, want 50", got.InvitesCount)
	}
}

func TestMemoryStore_DeleteAccounts(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	now := time.Now()
	_ = s.CreateAccount(ctx, newAccount("old", "1", now.Add(-120*time.Hour)))
	_ = s.CreateAccount(ctx, newAccount("new", "2", now))

	referred := newAccount("child", "3", now)
	referred.ReferrerID = "old"
	_ = s.CreateAccount(ctx, referred)

	deleted, err := s.DeleteAccounts(ctx, model.PruneCriteria{
		JoinedBefore: now.Add(-96 * time.Hour), MaxProducts: 1,
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(deleted) != 1 || deleted[0] != "old" {
		t.Fatalf("deleted = %v, want [old]", deleted)
	}

	accounts, _ := s.ListAccounts(ctx)
	if len(accounts) != 2 {
		t.Fatalf("expected 2 remaining accounts, got %d", len(accounts))
	}
	child, err := s.GetAccount(ctx, "child")
	if err != nil {
		t.Fatal("deleting a referrer must not cascade to referred accounts")
	}
	if child.ReferrerID != "old" {
		t.Error("referrer reference should be left as-is")
	}
}

func TestMemoryStore_Wallets(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	seeded, err := s.SeedWallets(ctx, []model.Wallet{
		{Name: "A", Number: "1", Active: false},
		{Name: "B", Number: "2", Active: true},
	})
	if err != nil || !seeded {
		t.Fatalf("seed = %v, %v", seeded, err)
	}
	again, _ := s.SeedWallets(ctx, []model.Wallet{{Name: "C"}})
	if again {
		t.Error("seeding a non-empty collection should be a no-op")
	}

	w, err := s.ActivateWallet(ctx, "A")
	if err != nil {
		t.Fatal(err)
	}
	if !w.Active || w.Name != "A" {
		t.Errorf("activated wallet = %+v", w)
	}

	if _, err := s.ActivateWallet(ctx, "Z"); !errors.Is(err, model.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}

	wallets, _ := s.ListWallets(ctx)
	active := 0
	for _, w := range wallets {
		if w.Active {
			active++
			if w.Name != "A" {
				t.Errorf("wrong wallet active: %s", w.Name)
			}
		}
	}
	if active != 1 {
		t.Errorf("unknown name must leave exactly one active wallet, got %d", active)
	}
}
