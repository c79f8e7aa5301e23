package cascade

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/zenGate-Global/palmyra-tenancy/apps/cli/cmd/cmdutil"
)

// Command groups cascade maintenance helpers.
func Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cascade",
		Short: "Status cascade utilities",
	}

	cmd.AddCommand(reconcileCommand())
	return cmd
}

func reconcileCommand() *cobra.Command {
	var (
		limit     int
		skipPurge bool
	)

	c := &cobra.Command{
		Use:   "reconcile",
		Short: "Re-apply status cascades that did not reach their tenant schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := cmdutil.Open(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			ctx := cmdutil.Context(cmd)
			res, err := a.Accounts.Reconcile(ctx, limit)
			if err != nil {
				return fmt.Errorf("reconcile: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Pending: %d | Applied: %d | Failed: %d\n", res.Pending, res.Applied, res.Failed)

			if !skipPurge {
				purged, err := a.Challenges.PurgeExpired(ctx, time.Now())
				if err != nil {
					cmdutil.Logger(a).Warn("purge expired challenges", zap.Error(err))
				} else {
					fmt.Fprintf(cmd.OutOrStdout(), "Purged challenges: %d\n", purged)
				}
			}
			if res.Failed > 0 {
				return fmt.Errorf("%d cascade(s) still pending", res.Failed)
			}
			return nil
		},
	}

	c.Flags().IntVar(&limit, "limit", 100, "maximum accounts to process")
	c.Flags().BoolVar(&skipPurge, "skip-purge", false, "keep expired login challenges")
	return c
}
