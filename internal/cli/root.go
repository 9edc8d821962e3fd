// Package cli implements the sync-engine command line.
package cli

import (
	"context"
	"fmt"
	"slices"

	"github.com/spf13/cobra"

	"github.com/upb/activity-sync/app"
	"github.com/upb/activity-sync/config"
	"github.com/upb/activity-sync/internal/observability"
)

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// Loader builds the application dependencies for one command run
type Loader func(ctx context.Context) (*app.Dependencies, error)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Format string // "json" | "text"

	load Loader
}

// NewRootCommand creates the root command wired to the real CRM and identity provider.
func NewRootCommand() *cobra.Command {
	return NewRootCommandWithLoader(LoadDependencies)
}

// NewRootCommandWithLoader creates the root command with a custom dependency loader.
func NewRootCommandWithLoader(load Loader) *cobra.Command {
	opts := &RootOptions{load: load}

	cmd := &cobra.Command{
		Use:   "sync-engine",
		Short: "Identity activity and subscription sync engine",
		Long: `Reconciles identity provider events into CRM contacts with per-client
engagement metrics, and serves subscription tiers and the Plus offer.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains(ValidFormats, opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			return nil
		},
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")

	cmd.AddCommand(NewServeCommand(opts))
	cmd.AddCommand(NewResyncCommand(opts))
	cmd.AddCommand(NewTierCommand(opts))
	cmd.AddCommand(NewPricesCommand(opts))
	cmd.AddCommand(NewLedgerCommand(opts))

	return cmd
}

// LoadDependencies reads the environment configuration and wires the application
func LoadDependencies(ctx context.Context) (*app.Dependencies, error) {
	cfg, err := config.New(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	logger, err := observability.NewLogger(cfg.Observability)
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}

	return app.NewDependencies(ctx, cfg, logger)
}

// withDependencies loads the dependencies, runs fn and closes them
func withDependencies(ctx context.Context, opts *RootOptions, fn func(*app.Dependencies) error) error {
	deps, err := opts.load(ctx)
	if err != nil {
		return err
	}
	defer deps.Close(context.Background())

	return fn(deps)
}
