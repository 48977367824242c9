package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/refledger/ledger-engine/internal/api"
	"github.com/refledger/ledger-engine/internal/app"
	"github.com/refledger/ledger-engine/internal/config"
	"github.com/refledger/ledger-engine/internal/logging"
	"github.com/refledger/ledger-engine/internal/metrics"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	logger, err := logging.NewLogger(cfg.LogLevel)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// --- WebSocket hub ---
	wsHub := api.NewWSHub(logger.Named("ws"))
	go wsHub.Run(ctx)

	// --- Engine ---
	eng, err := app.New(ctx, cfg, logger, wsHub)
	if err != nil {
		logger.Fatal("engine init failed", zap.Error(err))
	}
	defer eng.Close()

	if seeded, err := eng.Wallets.Bootstrap(ctx); err != nil {
		logger.Fatal("wallet bootstrap failed", zap.Error(err))
	} else if seeded {
		logger.Info("wallet set seeded", zap.Int("wallets", len(cfg.Wallets)))
	}

	go eng.Engine.Run(ctx, cfg.RecomputeInterval.Duration)

	handler := api.NewHandler(api.Deps{
		Accounts:  eng.Accounts,
		Wallets:   eng.Wallets,
		Engine:    eng.Engine,
		Dashboard: eng.Dashboard,
		Hub:       wsHub,
		JWTSecret: []byte(cfg.JWTSecret),
		Logger:    logger.Named("api"),
	})

	// --- HTTP router ---
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(logging.Middleware(logger.Named("http")))
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(metrics.Middleware)

	// CORS middleware for frontend cross-origin requests.
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
			if r.Method == "OPTIONS" {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	})

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"status":     "ok",
			"service":    "ledger-engine",
			"store":      eng.StoreState(),
			"ws_clients": wsHub.ClientCount(),
		})
	})

	// Prometheus metrics endpoint.
	r.Handle("/metrics", metrics.Handler())

	r.Mount("/api/v1", handler.Routes())

	// --- Server ---
	srv := &http.Server{
		Addr:         ":" + strconv.Itoa(cfg.Port),
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 35 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("ledger-engine listening", zap.Int("port", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	logger.Info("shutting down ledger-engine...")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", zap.Error(err))
	}
	logger.Info("ledger-engine stopped")
}
