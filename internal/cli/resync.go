package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/upb/activity-sync/app"
	"github.com/upb/activity-sync/models"
)

// ResyncOptions holds flags for the resync command.
type ResyncOptions struct {
	UserID  string
	Email   string
	Client  string
	Action  string
	EventID string
}

// NewResyncCommand creates the resync command.
func NewResyncCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ResyncOptions{}

	cmd := &cobra.Command{
		Use:   "resync",
		Short: "Replay an identity event for one user",
		Long: `Replay an identity event that was never delivered. Identity fields are
read from the identity provider, so only the user id is required. Passing
the sender's --event-id lets the delivery ledger drop a replay of an event
that was in fact processed.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			action, err := models.ParseAction(opts.Action)
			if err != nil {
				return err
			}
			evt := models.IdentityEvent{
				EventID:  opts.EventID,
				Action:   action,
				UserID:   opts.UserID,
				Email:    opts.Email,
				ClientID: opts.Client,
			}

			return withDependencies(cmd.Context(), rootOpts, func(deps *app.Dependencies) error {
				result, err := deps.Activity.Handle(cmd.Context(), evt)
				if err != nil {
					return fmt.Errorf("resync %s: %w", opts.UserID, err)
				}
				return writeResult(cmd.OutOrStdout(), rootOpts.Format, result, func(w io.Writer) {
					fmt.Fprintf(w, "outcome: %s\n", result.Outcome)
					if result.ContactID != 0 {
						fmt.Fprintf(w, "contact: %d (created: %t)\n", result.ContactID, result.Created)
					}
					if result.Reason != "" {
						fmt.Fprintf(w, "reason:  %s\n", result.Reason)
					}
				})
			})
		},
	}

	cmd.Flags().StringVar(&opts.UserID, "user-id", "", "identity provider user id")
	cmd.Flags().StringVar(&opts.Email, "email", "", "email, when the user no longer exists in the identity provider")
	cmd.Flags().StringVar(&opts.Client, "client", "", "client application (pictime, pictalk, ...)")
	cmd.Flags().StringVar(&opts.Action, "action", string(models.ActionLogin), "action to replay")
	cmd.Flags().StringVar(&opts.EventID, "event-id", "", "event id of the missed delivery, for deduplication")
	cmd.MarkFlagsOneRequired("user-id", "email")

	return cmd
}
