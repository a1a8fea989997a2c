package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/voltchain/internal/ir"
	"github.com/roach88/voltchain/internal/store"
)

// EventsOptions holds flags for the events command.
type EventsOptions struct {
	*RootOptions
	After int64
	Name  string
	Limit int
}

// NewEventsCommand creates the events command.
func NewEventsCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &EventsOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "events",
		Short: "List committed notifications",
		Long: `List the notification log of the configured namespace in commit order.

Use --after with the last seq seen to poll for new notifications.

Examples:
  voltchain events
  voltchain events --name TokensBurned
  voltchain events --after 42 --limit 10 --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return listEvents(opts, cmd)
		},
	}

	cmd.Flags().Int64Var(&opts.After, "after", 0, "only notifications with seq greater than this")
	cmd.Flags().StringVar(&opts.Name, "name", "", "only notifications with this event name")
	cmd.Flags().IntVar(&opts.Limit, "limit", 0, "maximum number of notifications (0 = all)")

	return cmd
}

func listEvents(opts *EventsOptions, cmd *cobra.Command) error {
	if opts.After < 0 {
		return NewExitError(ExitCommandError, "--after must be non-negative").WithCode(ErrCodeInvalidInput)
	}
	f := opts.formatter(cmd)

	st, err := opts.openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	log, err := st.Notifications(cmd.Context(), store.NotificationQuery{
		Namespace: opts.Config.Namespace,
		AfterSeq:  opts.After,
		Name:      opts.Name,
		Limit:     opts.Limit,
	})
	if err != nil {
		return WrapExitError(ExitCommandError, "list notifications", err).WithCode(ErrCodeStore)
	}
	if log == nil {
		log = []ir.Notification{}
	}

	return f.Success(log, func(w io.Writer) {
		if len(log) == 0 {
			fmt.Fprintln(w, "No notifications.")
			return
		}
		for _, n := range log {
			payload, err := ir.MarshalCanonical(n.Payload)
			if err != nil {
				payload = []byte("{}")
			}
			fmt.Fprintf(w, "%6d  %-16s %-15s %s %s\n", n.Seq, n.Name, n.Transition, n.Caller, payload)
		}
	})
}
