// Package recompute keeps stored balances current. A batch prunes
// abandoned accounts, then recomputes and persists every remaining account
// in parallel. Single accounts can also be recomputed on demand.
package recompute

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/refledger/ledger-engine/internal/ledger"
	"github.com/refledger/ledger-engine/internal/metrics"
	"github.com/refledger/ledger-engine/internal/model"
	"github.com/refledger/ledger-engine/internal/retention"
	"github.com/refledger/ledger-engine/internal/store"
)

// EventBalancesRecomputed is published after every batch.
const EventBalancesRecomputed = "balances_recomputed"

// Publisher receives engine events. The WebSocket hub implements it.
type Publisher interface {
	Publish(ev model.Event)
}

// Config tunes the scheduler.
type Config struct {
	Concurrency  int
	BatchTimeout time.Duration
	Policy       retention.Policy
}

// DefaultConfig returns eight workers, a two minute bound and the default
// retention policy.
func DefaultConfig() Config {
	return Config{
		Concurrency:  8,
		BatchTimeout: 2 * time.Minute,
		Policy:       retention.DefaultPolicy(),
	}
}

// Failure records one account that could not be recomputed.
type Failure struct {
	AccountID string `json:"account_id"`
	Error     string `json:"error"`
}

// Report summarizes one batch.
type Report struct {
	StartedAt  time.Time     `json:"started_at"`
	Duration   time.Duration `json:"duration"`
	Pruned     []string      `json:"pruned"`
	Recomputed int           `json:"recomputed"`
	Failures   []Failure     `json:"failures"`
	Skipped    []string      `json:"skipped"`
}

// Scheduler runs recompute batches against a store.
type Scheduler struct {
	store  store.Store
	cfg    Config
	logger *zap.Logger
	pub    Publisher
	now    func() time.Time
	group  singleflight.Group
}

// NewScheduler creates a scheduler. pub may be nil.
func NewScheduler(st store.Store, cfg Config, logger *zap.Logger, pub Publisher) *Scheduler {
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	if cfg.BatchTimeout <= 0 {
		cfg.BatchTimeout = DefaultConfig().BatchTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		store:  st,
		cfg:    cfg,
		logger: logger,
		pub:    pub,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// SetClock replaces the time source. Tests only.
func (s *Scheduler) SetClock(now func() time.Time) {
	s.now = now
}

// RunBatch prunes abandoned accounts and recomputes the rest. Concurrent
// callers share one running batch and its result. The batch is bounded by
// BatchTimeout only: a caller whose ctx ends stops waiting and gets its
// ctx error, while the batch carries on for the others. Per-account
// failures are reported, not returned; the error is non-nil only when
// pruning or listing fails or the batch hits its timeout.
func (s *Scheduler) RunBatch(ctx context.Context) (*Report, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("recompute batch: %w", err)
	}
	ch := s.group.DoChan("batch", func() (any, error) {
		return s.runBatch(context.WithoutCancel(ctx))
	})
	select {
	case res := <-ch:
		if res.Shared {
			s.logger.Debug("recompute batch coalesced")
		}
		rep, _ := res.Val.(*Report)
		return rep, res.Err
	case <-ctx.Done():
		return nil, fmt.Errorf("recompute batch: %w", ctx.Err())
	}
}

func (s *Scheduler) runBatch(ctx context.Context) (*Report, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.BatchTimeout)
	defer cancel()

	start := time.Now()
	now := s.now()
	rep := &Report{StartedAt: now}
	defer func() {
		rep.Duration = time.Since(start)
		metrics.RecomputeDuration.Observe(rep.Duration.Seconds())
	}()

	pruned, err := s.store.DeleteAccounts(ctx, s.cfg.Policy.Criteria(now))
	if err != nil {
		metrics.RecomputeBatches.WithLabelValues("error").Inc()
		s.logger.Error("recompute batch: prune failed", zap.Error(err))
		return nil, fmt.Errorf("recompute batch: prune: %w", asStorage(err))
	}
	rep.Pruned = pruned
	metrics.AccountsPruned.Add(float64(len(pruned)))

	accounts, err := s.store.ListAccounts(ctx)
	if err != nil {
		metrics.RecomputeBatches.WithLabelValues("error").Inc()
		s.logger.Error("recompute batch: list failed", zap.Error(err))
		return nil, fmt.Errorf("recompute batch: list accounts: %w", asStorage(err))
	}
	metrics.AccountsTotal.Set(float64(len(accounts)))

	var (
		mu sync.Mutex
		g  errgroup.Group
	)
	g.SetLimit(s.cfg.Concurrency)

	for i := range accounts {
		id := accounts[i].ID
		if ctx.Err() != nil {
			mu.Lock()
			rep.Skipped = append(rep.Skipped, id)
			mu.Unlock()
			continue
		}
		g.Go(func() error {
			if ctx.Err() != nil {
				mu.Lock()
				rep.Skipped = append(rep.Skipped, id)
				mu.Unlock()
				return nil
			}
			_, _, err := s.recompute(ctx, id, now)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				rep.Failures = append(rep.Failures, Failure{AccountID: id, Error: err.Error()})
				s.logger.Warn("recompute account failed", zap.String("account_id", id), zap.Error(err))
				return nil
			}
			rep.Recomputed++
			return nil
		})
	}
	_ = g.Wait()

	fields := []zap.Field{
		zap.Int("pruned", len(rep.Pruned)),
		zap.Int("recomputed", rep.Recomputed),
		zap.Int("failed", len(rep.Failures)),
		zap.Int("skipped", len(rep.Skipped)),
	}

	if err := ctx.Err(); err != nil {
		metrics.RecomputeBatches.WithLabelValues("error").Inc()
		s.logger.Warn("recompute batch cut short", append(fields, zap.Error(err))...)
		return rep, fmt.Errorf("recompute batch: %d accounts skipped: %w", len(rep.Skipped), err)
	}

	if len(rep.Failures) > 0 {
		metrics.RecomputeBatches.WithLabelValues("partial").Inc()
	} else {
		metrics.RecomputeBatches.WithLabelValues("ok").Inc()
	}
	s.logger.Info("recompute batch done", fields...)

	if s.pub != nil {
		s.pub.Publish(model.Event{Type: EventBalancesRecomputed, Count: rep.Recomputed})
	}
	return rep, nil
}

// RecomputeAccount recomputes and persists one account as of now.
func (s *Scheduler) RecomputeAccount(ctx context.Context, id string) (*model.Account, ledger.Breakdown, error) {
	return s.recompute(ctx, id, s.now())
}

func (s *Scheduler) recompute(ctx context.Context, id string, now time.Time) (*model.Account, ledger.Breakdown, error) {
	var b ledger.Breakdown
	acc, err := s.store.UpdateAccount(ctx, id, func(acc *model.Account) error {
		var err error
		b, err = ledger.Recompute(acc, now)
		return err
	})
	if err != nil {
		metrics.AccountsRecomputed.WithLabelValues("error").Inc()
		return nil, ledger.Breakdown{}, err
	}
	metrics.AccountsRecomputed.WithLabelValues("ok").Inc()
	return acc, b, nil
}

// Abandoned lists the accounts the next batch would prune, without
// deleting anything.
func (s *Scheduler) Abandoned(ctx context.Context) ([]model.Account, error) {
	accounts, err := s.store.ListAccounts(ctx)
	if err != nil {
		return nil, err
	}
	now := s.now()
	var out []model.Account
	for i := range accounts {
		if s.cfg.Policy.Abandoned(&accounts[i], now) {
			out = append(out, accounts[i])
		}
	}
	return out, nil
}

// Run executes a batch immediately and then every interval until ctx ends.
func (s *Scheduler) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.logger.Info("recompute scheduler started", zap.Duration("interval", interval))
	for {
		if _, err := s.RunBatch(ctx); err != nil && ctx.Err() == nil {
			s.logger.Error("scheduled recompute failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			s.logger.Info("recompute scheduler stopped")
			return
		case <-ticker.C:
		}
	}
}

func asStorage(err error) error {
	if errors.Is(err, model.ErrStorage) {
		return err
	}
	return fmt.Errorf("%w: %w", model.ErrStorage, err)
}
