package commands

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/openfroyo/pathguard/pkg/stores"
)

func newHistoryCommand() *cobra.Command {
	var (
		query stores.EventQuery
		since time.Duration
	)

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show persisted failover events",
		Long: `Show failover, failback, monitoring and configuration events recorded
by previous runs, newest first.`,
		Example: `  # Last 50 events
  pathguard history --limit 50

  # Switches of one group in the last day
  pathguard history --group primary_failover --type failover.triggered --since 24h`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			a, err := newApp(ctx, true)
			if err != nil {
				return err
			}
			defer func() { _ = a.close(ctx) }()

			if a.store == nil {
				return fmt.Errorf("no store configured")
			}

			if since > 0 {
				query.Since = time.Now().Add(-since)
			}

			events, err := a.store.ListEvents(ctx, query)
			if err != nil {
				return err
			}
			return printEvents(cmd.OutOrStdout(), events)
		},
	}

	cmd.Flags().StringVar(&query.Group, "group", "", "only events of this failover group")
	cmd.Flags().StringVar(&query.Device, "device", "", "only events of this device")
	cmd.Flags().StringVar(&query.Type, "type", "", "only events of this type")
	cmd.Flags().DurationVar(&since, "since", 0, "only events newer than this age (e.g. 1h)")
	cmd.Flags().IntVar(&query.Limit, "limit", 100, "maximum number of events")
	cmd.Flags().IntVar(&query.Offset, "offset", 0, "number of events to skip")

	return cmd
}

func printEvents(out io.Writer, events []*stores.FailoverEvent) error {
	if jsonOutput {
		if events == nil {
			events = []*stores.FailoverEvent{}
		}
		return printOutput(out, events)
	}

	if len(events) == 0 {
		fmt.Fprintln(out, "No events recorded")
		return nil
	}

	t := newTable(out, "TIME", "TYPE", "GROUP", "DEVICE", "FROM", "TO", "MESSAGE")
	for _, e := range events {
		t.row(
			formatTime(e.Timestamp),
			e.Type,
			dash(e.Group),
			dash(e.Device),
			dash(e.From),
			dash(e.To),
			e.Message,
		)
	}
	return t.flush()
}
