package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/refledger/ledger-engine/internal/app"
	"github.com/refledger/ledger-engine/internal/config"
	"github.com/refledger/ledger-engine/internal/logging"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:          "ledgerctl",
	Short:        "Operate the referral ledger engine",
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", os.Getenv("LEDGER_CONFIG"), "Path to a TOML config file")
}

// withEngine loads config, wires storage and runs fn.
func withEngine(cmd *cobra.Command, fn func(ctx context.Context, a *app.App) error) error {
	cfg, err := config.LoadFile(configPath)
	if err != nil {
		return err
	}
	logger, err := logging.NewLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx := cmd.Context()
	a, err := app.New(ctx, cfg, logger, nil)
	if err != nil {
		logger.Error("engine init failed", zap.Error(err))
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	return nil
}
