package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

func newCleanupCmd() *cobra.Command {
	var days int

	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Delete metrics older than the retention period",
		Long: `Delete every metric, in every project, recorded more than --days days ago.
Without --days the configured metrics.retention_days applies. The server runs the
same sweep on metrics.sweep_interval; this command runs it once.`,
		Example: `  pulse cleanup
  pulse cleanup --days 30`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer a.Close()

			if !cmd.Flags().Changed("days") {
				days = a.cfg.Metrics.RetentionDays
			}
			n, err := a.sweeper.Cleanup(context.Background(), days)
			if err != nil {
				return userError(err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted %d metrics older than %d days\n", n, days)
			return nil
		},
	}

	cmd.Flags().IntVar(&days, "days", 0, "Retention period in days (default: metrics.retention_days)")

	return cmd
}
