package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/refledger/ledger-engine/internal/app"
)

func init() {
	rootCmd.AddCommand(recomputeCmd)
	recomputeCmd.AddCommand(recomputeAccountCmd)
	rootCmd.AddCommand(pruneCmd)

	pruneCmd.Flags().Bool("dry-run", false, "List abandoned accounts without deleting them")
}

var recomputeCmd = &cobra.Command{
	Use:   "recompute",
	Short: "Prune abandoned accounts and recompute every balance",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withEngine(cmd, func(ctx context.Context, a *app.App) error {
			rep, err := a.Engine.RunBatch(ctx)
			if err != nil {
				return err
			}
			return printJSON(rep)
		})
	},
}

var recomputeAccountCmd = &cobra.Command{
	Use:   "account ACCOUNT_ID",
	Short: "Recompute one account and print its statement",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEngine(cmd, func(ctx context.Context, a *app.App) error {
			acc, b, err := a.Engine.RecomputeAccount(ctx, args[0])
			if err != nil {
				return err
			}
			return printJSON(map[string]any{"account_id": acc.ID, "statement": b})
		})
	},
}

var pruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete abandoned accounts",
	Long: `Delete accounts that joined before the retention window, hold only the
signup product and never invited anyone. A full recompute batch performs
the same pruning; use --dry-run to preview it.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		dryRun, _ := cmd.Flags().GetBool("dry-run")
		return withEngine(cmd, func(ctx context.Context, a *app.App) error {
			if dryRun {
				abandoned, err := a.Engine.Abandoned(ctx)
				if err != nil {
					return err
				}
				for _, acc := range abandoned {
					fmt.Printf("%s\t%s\t%s\n", acc.ID, acc.Phone, acc.JoinedAt.Format("2006-01-02"))
				}
				fmt.Printf("%d abandoned account(s)\n", len(abandoned))
				return nil
			}
			rep, err := a.Engine.RunBatch(ctx)
			if err != nil {
				return err
			}
			fmt.Printf("pruned %d account(s), recomputed %d\n", len(rep.Pruned), rep.Recomputed)
			return nil
		})
	},
}
