package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/openfroyo/pathguard/pkg/config"
	"github.com/openfroyo/pathguard/pkg/stores"
	"github.com/openfroyo/pathguard/pkg/telemetry"
)

const statusTimeout = 5 * time.Second

func newStatusCommand() *cobra.Command {
	var (
		url     string
		offline bool
		limit   int
	)

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show failover group status",
		Long: `Show the state of every failover group.

The status is read from a running 'pathguard run' instance through its
/status endpoint. When no instance answers, the most recent switch events
are read from the store instead.`,
		Example: `  # Query the instance on the configured metrics listener
  pathguard status

  # Query a remote instance
  pathguard status --url http://10.0.0.5:9090

  # Read persisted history only
  pathguard status --offline`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			out := cmd.OutOrStdout()

			cfg, err := loadConfig(ctx)
			if err != nil {
				return err
			}

			if !offline {
				if url == "" {
					url = statusURL(cfg.Telemetry.Metrics)
				}
				view, err := fetchStatus(ctx, url)
				if err == nil {
					return printStatus(out, view)
				}
				log.Warn().Err(err).Str("url", url).Msg("Running instance not reachable, reading history")
			}

			a, err := buildApp(ctx, cfg, true)
			if err != nil {
				return err
			}
			defer func() { _ = a.close(ctx) }()

			if a.store == nil {
				return fmt.Errorf("no running instance and no store configured")
			}

			events, err := a.store.ListEvents(ctx, stores.EventQuery{Limit: limit})
			if err != nil {
				return err
			}
			return printEvents(out, events)
		},
	}

	cmd.Flags().StringVar(&url, "url", "", "base URL of a running instance")
	cmd.Flags().BoolVar(&offline, "offline", false, "read persisted history without contacting an instance")
	cmd.Flags().IntVar(&limit, "limit", 20, "number of events shown when reading history")

	return cmd
}

// statusURL derives the base URL of the local instance from its listener.
func statusURL(mc config.MetricsConfig) string {
	host, port, err := net.SplitHostPort(mc.ListenAddress)
	if err != nil {
		return "http://" + mc.ListenAddress
	}
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "127.0.0.1"
	}
	return "http://" + net.JoinHostPort(host, port)
}

func fetchStatus(ctx context.Context, base string) (*statusView, error) {
	ctx, cancel := context.WithTimeout(ctx, statusTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimSuffix(base, "/")+telemetry.StatusPath, nil)
	if err != nil {
		return nil, err
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status endpoint returned %s", resp.Status)
	}

	var view statusView
	if err := json.NewDecoder(resp.Body).Decode(&view); err != nil {
		return nil, fmt.Errorf("failed to decode status: %w", err)
	}
	return &view, nil
}

func printStatus(out io.Writer, view *statusView) error {
	if jsonOutput {
		return printOutput(out, view)
	}

	state := "stopped"
	if view.Monitoring {
		state = "running"
	}
	fmt.Fprintf(out, "Monitoring: %s\n\n", state)

	t := newTable(out, "GROUP", "DEVICE", "PHASE", "ACTIVE", "PRIMARIES", "BACKUPS", "FAILURES", "SWITCHES", "LAST SWITCH")
	for _, g := range view.Groups {
		t.row(
			g.Name,
			g.Device,
			string(g.Phase),
			g.CurrentActive,
			strings.Join(g.Primaries, ","),
			strings.Join(g.Backups, ","),
			strconv.Itoa(g.Failures),
			strconv.Itoa(g.Switches),
			formatTime(g.LastSwitch),
		)
	}
	if len(view.Groups) == 0 {
		fmt.Fprintln(out, "No failover groups registered")
	}
	return t.flush()
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format(time.RFC3339)
}
