package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/refledger/ledger-engine/internal/app"
)

func init() {
	rootCmd.AddCommand(walletCmd)
	walletCmd.AddCommand(walletListCmd)
	walletCmd.AddCommand(walletActiveCmd)
	walletCmd.AddCommand(walletActivateCmd)
	walletCmd.AddCommand(walletBootstrapCmd)
}

var walletCmd = &cobra.Command{
	Use:   "wallet",
	Short: "Inspect and switch the payout wallet",
}

var walletListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all wallets",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withEngine(cmd, func(ctx context.Context, a *app.App) error {
			wallets, err := a.Wallets.List(ctx)
			if err != nil {
				return err
			}
			for _, w := range wallets {
				mark := " "
				if w.Active {
					mark = "*"
				}
				fmt.Printf("%s %s\t%s\n", mark, w.Name, w.Number)
			}
			return nil
		})
	},
}

var walletActiveCmd = &cobra.Command{
	Use:   "active",
	Short: "Print the active wallet",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withEngine(cmd, func(ctx context.Context, a *app.App) error {
			w, err := a.Wallets.GetActive(ctx)
			if err != nil {
				return err
			}
			return printJSON(w)
		})
	},
}

var walletActivateCmd = &cobra.Command{
	Use:   "activate NAME",
	Short: "Make NAME the only active wallet",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEngine(cmd, func(ctx context.Context, a *app.App) error {
			w, err := a.Wallets.SetActive(ctx, args[0])
			if err != nil {
				return err
			}
			fmt.Printf("active wallet: %s (%s)\n", w.Name, w.Number)
			return nil
		})
	},
}

var walletBootstrapCmd = &cobra.Command{
	Use:   "bootstrap",
	Short: "Seed the configured wallets into an empty wallet set",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withEngine(cmd, func(ctx context.Context, a *app.App) error {
			seeded, err := a.Wallets.Bootstrap(ctx)
			if err != nil {
				return err
			}
			if seeded {
				fmt.Printf("seeded %d wallet(s)\n", len(a.Config.Wallets))
			} else {
				fmt.Println("wallet set already populated, nothing to do")
			}
			return nil
		})
	},
}
