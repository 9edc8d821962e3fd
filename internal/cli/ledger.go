package cli

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/upb/activity-sync/app"
)

// NewLedgerCommand creates the ledger command group.
func NewLedgerCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ledger",
		Short: "Manage the webhook delivery ledger",
	}
	cmd.AddCommand(newLedgerPurgeCommand(rootOpts))
	return cmd
}

func newLedgerPurgeCommand(rootOpts *RootOptions) *cobra.Command {
	var olderThan time.Duration

	cmd := &cobra.Command{
		Use:           "purge",
		Short:         "Remove processed deliveries past retention",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDependencies(cmd.Context(), rootOpts, func(deps *app.Dependencies) error {
				retention := olderThan
				if retention == 0 && deps.Config.Database != nil {
					retention = deps.Config.Database.LedgerRetention
				}
				if retention <= 0 {
					return fmt.Errorf("--older-than must be positive")
				}

				removed, err := deps.PurgeLedger(cmd.Context(), retention)
				if err != nil {
					return fmt.Errorf("purge ledger: %w", err)
				}
				result := map[string]interface{}{"removed": removed, "olderThan": retention.String()}
				return writeResult(cmd.OutOrStdout(), rootOpts.Format, result, func(w io.Writer) {
					fmt.Fprintf(w, "removed %d deliveries older than %s\n", removed, retention)
				})
			})
		},
	}

	cmd.Flags().DurationVar(&olderThan, "older-than", 0, "retention (defaults to LEDGER_RETENTION)")

	return cmd
}
