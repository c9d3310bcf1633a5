// Package cli implements the keepalive command, which plays the part of an
// application load: it consults the throttle and pings the heartbeat recorder.
package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"keepalive-service/internal/config"
	"keepalive-service/internal/factory"
)

// flags override the matching KEEPALIVE_* environment settings when set.
type flags struct {
	url         string
	source      string
	statePath   string
	stateDriver string
	apiKey      string
}

func (f *flags) apply(cfg *config.Config) {
	if f.url != "" {
		cfg.KeepAlive.FunctionURL = f.url
	}
	if f.source != "" {
		cfg.KeepAlive.Source = f.source
	}
	if f.statePath != "" {
		cfg.KeepAlive.StatePath = f.statePath
	}
	if f.stateDriver != "" {
		cfg.KeepAlive.StateDriver = f.stateDriver
	}
	if f.apiKey != "" {
		cfg.KeepAlive.APIKey = f.apiKey
	}
}

// NewRootCmd builds the command tree.
func NewRootCmd() *cobra.Command {
	opts := &flags{}

	root := &cobra.Command{
		Use:   "keepalive",
		Short: "Keep a free-tier backend awake with throttled heartbeats",
		Long: `keepalive pings the heartbeat recorder at most once per interval
(24h by default) and remembers the last successful ping locally.

Run it from cron or a login hook; calls inside the interval are no-ops.

Examples:
  # Ping if due
  keepalive run

  # Ping now regardless of the last run
  keepalive run --force

  # Show when the last ping succeeded
  keepalive status`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVar(&opts.url, "url", "", "heartbeat recorder URL (env KEEPALIVE_FUNCTION_URL)")
	root.PersistentFlags().StringVar(&opts.source, "source", "", "origin tag sent with each ping (env KEEPALIVE_SOURCE)")
	root.PersistentFlags().StringVar(&opts.statePath, "state", "", "sqlite state file (env KEEPALIVE_STATE_PATH)")
	root.PersistentFlags().StringVar(&opts.stateDriver, "state-driver", "", "state backend: sqlite, redis or memory")
	root.PersistentFlags().StringVar(&opts.apiKey, "api-key", "", "API key sent as apikey and bearer token")

	root.AddCommand(newRunCmd(opts), newStatusCmd(opts))
	return root
}

// Execute runs the root command
func Execute() error {
	return NewRootCmd().Execute()
}

// openFactory loads configuration, applies flag overrides and opens the client factory.
func openFactory(opts *flags) (*factory.Factory, error) {
	f, err := factory.NewClientFactory()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	opts.apply(f.Config())
	if err := f.Config().Validate(); err != nil {
		f.Close()
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return f, nil
}
