// Package wallet manages the payout wallet set. At most one wallet is
// active at any time; the active one receives incoming deposits.
package wallet

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/refledger/ledger-engine/internal/metrics"
	"github.com/refledger/ledger-engine/internal/model"
	"github.com/refledger/ledger-engine/internal/store"
)

// EventWalletActivated is published after a successful switch.
const EventWalletActivated = "wallet_activated"

// Publisher receives wallet events.
type Publisher interface {
	Publish(ev model.Event)
}

// Selector switches and reports the active wallet.
type Selector struct {
	store  store.Store
	seeds  []model.Wallet
	logger *zap.Logger
	pub    Publisher

	// mu serializes writers to the wallet set within this process. The
	// store's atomic activation covers other processes.
	mu sync.Mutex
}

// NewSelector creates a selector. seeds is the wallet set Bootstrap
// installs into an empty collection. logger and pub may be nil.
func NewSelector(st store.Store, seeds []model.Wallet, logger *zap.Logger, pub Publisher) *Selector {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Selector{store: st, seeds: seeds, logger: logger, pub: pub}
}

// SetActive makes name the only active wallet. An unknown name returns
// model.ErrNotFound and leaves the set unchanged.
func (s *Selector) SetActive(ctx context.Context, name string) (*model.Wallet, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		metrics.WalletActivations.WithLabelValues("invalid").Inc()
		return nil, fmt.Errorf("%w: wallet name is required", model.ErrValidation)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	w, err := s.store.ActivateWallet(ctx, name)
	if err != nil {
		outcome := "error"
		if errors.Is(err, model.ErrNotFound) {
			outcome = "not_found"
		}
		metrics.WalletActivations.WithLabelValues(outcome).Inc()
		return nil, err
	}

	metrics.WalletActivations.WithLabelValues("ok").Inc()
	s.logger.Info("wallet activated", zap.String("wallet", w.Name))
	if s.pub != nil {
		s.pub.Publish(model.Event{Type: EventWalletActivated, Wallet: w.Name})
	}
	return w, nil
}

// GetActive returns the single active wallet. No active wallet is
// model.ErrNotFound; more than one is model.ErrConsistency.
func (s *Selector) GetActive(ctx context.Context) (*model.Wallet, error) {
	wallets, err := s.store.ListWallets(ctx)
	if err != nil {
		return nil, err
	}

	var active []model.Wallet
	for _, w := range wallets {
		if w.Active {
			active = append(active, w)
		}
	}

	switch len(active) {
	case 0:
		return nil, fmt.Errorf("active wallet: %w", model.ErrNotFound)
	case 1:
		return &active[0], nil
	default:
		names := make([]string, len(active))
		for i, w := range active {
			names[i] = w.Name
		}
		s.logger.Error("multiple active wallets", zap.Strings("wallets", names))
		return nil, fmt.Errorf("%w: %d wallets active (%s)", model.ErrConsistency, len(active), strings.Join(names, ", "))
	}
}

// List returns every wallet ordered by name.
func (s *Selector) List(ctx context.Context) ([]model.Wallet, error) {
	return s.store.ListWallets(ctx)
}

// Bootstrap installs the seed wallets if the collection is empty and
// reports whether it did.
func (s *Selector) Bootstrap(ctx context.Context) (bool, error) {
	active := 0
	for _, w := range s.seeds {
		if w.Active {
			active++
		}
	}
	if len(s.seeds) == 0 || active != 1 {
		return false, fmt.Errorf("%w: seed wallets need exactly one active wallet, got %d of %d",
			model.ErrValidation, active, len(s.seeds))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	seeded, err := s.store.SeedWallets(ctx, s.seeds)
	if err != nil {
		return false, err
	}
	if seeded {
		s.logger.Info("wallets seeded", zap.Int("count", len(s.seeds)))
	}
	return seeded, nil
}
