// Package app wires configuration into the running engine: the storage
// chain, the recompute scheduler, the wallet selector and the account
// service. Both the HTTP server and ledgerctl build on it.
package app

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/refledger/ledger-engine/internal/account"
	"github.com/refledger/ledger-engine/internal/config"
	"github.com/refledger/ledger-engine/internal/dashboard"
	"github.com/refledger/ledger-engine/internal/metrics"
	"github.com/refledger/ledger-engine/internal/recompute"
	"github.com/refledger/ledger-engine/internal/retention"
	"github.com/refledger/ledger-engine/internal/store"
	"github.com/refledger/ledger-engine/internal/wallet"
)

// Publisher receives engine events. *api.WSHub satisfies it.
type Publisher interface {
	recompute.Publisher
	wallet.Publisher
}

// App holds the wired components.
type App struct {
	Config    *config.Config
	Logger    *zap.Logger
	Store     store.Store
	Engine    *recompute.Scheduler
	Wallets   *wallet.Selector
	Accounts  *account.Service
	Dashboard *dashboard.Aggregator

	guard   *store.GuardedStore
	closers []func()
}

// New opens storage and builds the engine. pub may be nil.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger, pub Publisher) (*App, error) {
	a := &App{Config: cfg, Logger: logger}
	if cfg.JWTSecret == config.DevJWTSecret {
		logger.Warn("using the development jwt_secret; anyone can mint tokens for this instance")
	}

	st, err := a.openStore(ctx)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Store = st

	var (
		recomputePub recompute.Publisher
		walletPub    wallet.Publisher
	)
	if pub != nil {
		recomputePub, walletPub = pub, pub
	}

	a.Engine = recompute.NewScheduler(st, recompute.Config{
		Concurrency:  cfg.RecomputeConcurrency,
		BatchTimeout: cfg.RecomputeTimeout.Duration,
		Policy:       retention.NewPolicy(cfg.RetentionWindow.Duration),
	}, logger.Named("recompute"), recomputePub)
	a.Wallets = wallet.NewSelector(st, cfg.Seeds(), logger.Named("wallet"), walletPub)
	a.Accounts = account.NewService(st, a.Engine, a.Wallets, logger.Named("account"))
	a.Accounts.SetCatalogue(cfg.Catalogue())
	a.Dashboard = dashboard.NewAggregator(cfg.Location())
	return a, nil
}

// openStore builds memory or postgres, then the breaker, then the cache.
func (a *App) openStore(ctx context.Context) (store.Store, error) {
	cfg := a.Config
	if cfg.DatabaseURL == "" {
		a.Logger.Warn("database_url not set, using in-memory store (data will not persist)")
		return store.NewMemoryStore(), nil
	}

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	a.closers = append(a.closers, pool.Close)
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	pg := store.NewPostgresStore(pool)
	if err := pg.Migrate(ctx); err != nil {
		return nil, err
	}
	a.Logger.Info("connected to PostgreSQL")

	a.guard = store.NewGuardedStore(pg, store.DefaultBreakerSettings(), a.onBreakerChange)
	var st store.Store = a.guard

	if cfg.RedisURL != "" {
		opt, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("invalid redis_url: %w", err)
		}
		rdb := redis.NewClient(opt)
		a.closers = append(a.closers, func() { rdb.Close() })
		st = store.NewCachedStore(st, rdb, cfg.CacheTTL.Duration)
		a.Logger.Info("Redis cache enabled", zap.Duration("ttl", cfg.CacheTTL.Duration))
	}
	return st, nil
}

func (a *App) onBreakerChange(name string, from, to gobreaker.State) {
	metrics.StoreBreakerState.WithLabelValues(name).Set(breakerGauge(to))
	a.Logger.Warn("store breaker state changed",
		zap.String("name", name),
		zap.String("from", from.String()),
		zap.String("to", to.String()),
	)
}

func breakerGauge(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return 0
	}
}

// StoreState reports the storage breaker state, or "closed" when storage
// is not guarded.
func (a *App) StoreState() string {
	if a.guard == nil {
		return gobreaker.StateClosed.String()
	}
	return a.guard.State().String()
}

// Close releases storage connections in reverse order.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
