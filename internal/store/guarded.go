package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sony/gobreaker"

	"github.com/refledger/ledger-engine/internal/model"
)

// BreakerSettings configures the circuit breaker in front of the primary store.
type BreakerSettings struct {
	Name        string
	MaxRequests uint32        // half-open trial requests
	Interval    time.Duration // closed: counter reset period
	Timeout     time.Duration // open -> half-open
	MinRequests uint32
	FailureRate float64
}

// DefaultBreakerSettings trips after 5 requests with at least 60% failures.
func DefaultBreakerSettings() BreakerSettings {
	return BreakerSettings{
		Name:        "store",
		MaxRequests: 3,
		Interval:    30 * time.Second,
		Timeout:     10 * time.Second,
		MinRequests: 5,
		FailureRate: 0.6,
	}
}

// GuardedStore wraps a primary Store with a circuit breaker. While the
// breaker is open every call fails fast with model.ErrStorage. Domain
// outcomes (not found, validation) and caller cancellation do not count
// as failures.
type GuardedStore struct {
	primary Store
	cb      *gobreaker.CircuitBreaker
}

// NewGuardedStore creates a guarded wrapper. onStateChange may be nil.
func NewGuardedStore(primary Store, cfg BreakerSettings, onStateChange func(name string, from, to gobreaker.State)) *GuardedStore {
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= cfg.MinRequests && failureRatio >= cfg.FailureRate
		},
		IsSuccessful:  isBreakerSuccess,
		OnStateChange: onStateChange,
	})
	return &GuardedStore{primary: primary, cb: cb}
}

// State reports the breaker state, for health checks.
func (s *GuardedStore) State() gobreaker.State {
	return s.cb.State()
}

func isBreakerSuccess(err error) bool {
	return err == nil ||
		errors.Is(err, model.ErrNotFound) ||
		errors.Is(err, model.ErrValidation) ||
		errors.Is(err, model.ErrConsistency) ||
		errors.Is(err, context.Canceled)
}

func guard[T any](s *GuardedStore, fn func() (T, error)) (T, error) {
	result, err := s.cb.Execute(func() (any, error) {
		return fn()
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		var zero T
		return zero, fmt.Errorf("%s: %w: %w", s.cb.Name(), model.ErrStorage, err)
	}
	if err != nil {
		var zero T
		return zero, err
	}
	return result.(T), nil
}

func guardErr(s *GuardedStore, fn func() error) error {
	_, err := guard(s, func() (struct{}, error) {
		return struct{}{}, fn()
	})
	return err
}

func (s *GuardedStore) CreateAccount(ctx context.Context, acc *model.Account) error {
	return guardErr(s, func() error { return s.primary.CreateAccount(ctx, acc) })
}

func (s *GuardedStore) GetAccount(ctx context.Context, id string) (*model.Account, error) {
	return guard(s, func() (*model.Account, error) { return s.primary.GetAccount(ctx, id) })
}

func (s *GuardedStore) FindAccountByPhone(ctx context.Context, phone string) (*model.Account, error) {
	return guard(s, func() (*model.Account, error) { return s.primary.FindAccountByPhone(ctx, phone) })
}

func (s *GuardedStore) ListAccounts(ctx context.Context) ([]model.Account, error) {
	return guard(s, func() ([]model.Account, error) { return s.primary.ListAccounts(ctx) })
}

// UpdateAccount reports errors from fn unchanged. They are domain errors
// in practice and do not trip the breaker.
func (s *GuardedStore) UpdateAccount(ctx context.Context, id string, fn UpdateFunc) (*model.Account, error) {
	return guard(s, func() (*model.Account, error) { return s.primary.UpdateAccount(ctx, id, fn) })
}

func (s *GuardedStore) DeleteAccount(ctx context.Context, id string) error {
	return guardErr(s, func() error { return s.primary.DeleteAccount(ctx, id) })
}

func (s *GuardedStore) DeleteAccounts(ctx context.Context, criteria model.PruneCriteria) ([]string, error) {
	return guard(s, func() ([]string, error) { return s.primary.DeleteAccounts(ctx, criteria) })
}

func (s *GuardedStore) ListWallets(ctx context.Context) ([]model.Wallet, error) {
	return guard(s, func() ([]model.Wallet, error) { return s.primary.ListWallets(ctx) })
}

func (s *GuardedStore) SeedWallets(ctx context.Context, wallets []model.Wallet) (bool, error) {
	return guard(s, func() (bool, error) { return s.primary.SeedWallets(ctx, wallets) })
}

func (s *GuardedStore) ActivateWallet(ctx context.Context, name string) (*model.Wallet, error) {
	return guard(s, func() (*model.Wallet, error) { return s.primary.ActivateWallet(ctx, name) })
}
