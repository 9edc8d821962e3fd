package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/upb/activity-sync/app"
	"github.com/upb/activity-sync/models"
)

// NewTierCommand creates the tier command.
func NewTierCommand(rootOpts *RootOptions) *cobra.Command {
	var email string

	cmd := &cobra.Command{
		Use:           "tier",
		Short:         "Resolve a user's subscription tier from the CRM",
		Long:          "Resolve a user's subscription tier directly from the CRM, bypassing the cache.",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDependencies(cmd.Context(), rootOpts, func(deps *app.Dependencies) error {
				snapshot, err := deps.Subscriptions.Resolve(cmd.Context(), email)
				if err != nil {
					return fmt.Errorf("resolve tier for %s: %w", email, err)
				}
				return writeResult(cmd.OutOrStdout(), rootOpts.Format, snapshot, func(w io.Writer) {
					fmt.Fprintf(w, "tier: %s\n", snapshot.Tier)
					if snapshot.StartDate != "" {
						fmt.Fprintf(w, "start: %s\n", snapshot.StartDate)
					}
					if snapshot.NextInvoiceDate != "" {
						fmt.Fprintf(w, "next invoice: %s\n", snapshot.NextInvoiceDate)
					}
				})
			})
		},
	}

	cmd.Flags().StringVar(&email, "email", "", "user email")
	_ = cmd.MarkFlagRequired("email")

	return cmd
}

// NewPricesCommand creates the prices command.
func NewPricesCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "prices",
		Short:         "Show tax-inclusive catalog prices",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDependencies(cmd.Context(), rootOpts, func(deps *app.Dependencies) error {
				prices, err := deps.Catalog.Prices(cmd.Context())
				if err != nil {
					return fmt.Errorf("read prices: %w", err)
				}
				return writeResult(cmd.OutOrStdout(), rootOpts.Format, prices, func(w io.Writer) {
					fmt.Fprintf(w, "%-6s %8s %8s %8s\n", "TIER", "UNIQUE", "MONTH", "YEAR")
					for _, row := range []struct {
						name string
						p    models.ProductPrices
					}{{"free", prices.Free}, {"plus", prices.Plus}, {"pro", prices.Pro}} {
						fmt.Fprintf(w, "%-6s %8.2f %8s %8s\n", row.name, row.p.Unique, formatPrice(row.p.Month), formatPrice(row.p.Year))
					}
				})
			})
		},
	}
}
