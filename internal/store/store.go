// Package store defines the persistence interface for the ledger engine.
// Implementations include PostgreSQL (source of truth), Redis (read-through
// cache), a circuit-breaker guard, and in-memory (for testing).
package store

import (
	"context"

	"github.com/refledger/ledger-engine/internal/model"
)

// UpdateFunc mutates an account inside Store.UpdateAccount. Returning an
// error discards every change.
type UpdateFunc func(acc *model.Account) error

// Store is the persistence interface. Errors wrap the taxonomy in model:
// ErrNotFound for missing records, ErrValidation for rejected writes and
// ErrStorage for backend failures.
type Store interface {
	// --- Accounts ---

	// CreateAccount persists a new account with its nested records.
	CreateAccount(ctx context.Context, acc *model.Account) error

	// GetAccount retrieves an account with all nested records.
	GetAccount(ctx context.Context, id string) (*model.Account, error)

	// FindAccountByPhone retrieves an account by its unique phone number.
	FindAccountByPhone(ctx context.Context, phone string) (*model.Account, error)

	// ListAccounts returns every account.
	ListAccounts(ctx context.Context) ([]model.Account, error)

	// UpdateAccount loads the account, applies fn and saves the result as
	// one all-or-nothing write. Updates to the same account are serialized.
	UpdateAccount(ctx context.Context, id string, fn UpdateFunc) (*model.Account, error)

	// DeleteAccount removes one account. Accounts it referred keep their
	// (now dangling) reference.
	DeleteAccount(ctx context.Context, id string) error

	// DeleteAccounts removes every account matching the criteria and
	// returns the deleted IDs.
	DeleteAccounts(ctx context.Context, criteria model.PruneCriteria) ([]string, error)

	// --- Wallets ---

	// ListWallets returns the payout wallets ordered by name.
	ListWallets(ctx context.Context) ([]model.Wallet, error)

	// SeedWallets inserts wallets only if the collection is empty and
	// reports whether it did.
	SeedWallets(ctx context.Context, wallets []model.Wallet) (bool, error)

	// ActivateWallet makes the named wallet the only active one in a
	// single atomic step. If no wallet has that name nothing changes.
	ActivateWallet(ctx context.Context, name string) (*model.Wallet, error)
}
