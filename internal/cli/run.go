package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func newRunCmd(opts *flags) *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Ping the heartbeat recorder if the interval has elapsed",
		Long: `Check the stored lastKeepAlive timestamp and ping the recorder when it is
missing or older than the interval. The timestamp only moves forward after the
recorder acknowledges the ping, so a failed run is retried next time.`,
		Example: `  keepalive run
  keepalive run --force --source cron`,
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := openFactory(opts)
			if err != nil {
				return err
			}
			defer f.Close()

			throttle, err := f.Throttle()
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			out := cmd.OutOrStdout()

			if !force && !throttle.ShouldInvoke(ctx) {
				last, _ := throttle.LastSuccess(ctx)
				if last != nil {
					fmt.Fprintf(out, "Skipped: last keep-alive at %s\n", last.Format(time.RFC3339))
				} else {
					fmt.Fprintln(out, "Skipped: keep-alive not due")
				}
				return nil
			}

			result, err := throttle.Run(ctx)
			if err != nil {
				return fmt.Errorf("keep-alive failed: %w", err)
			}
			fmt.Fprintf(out, "Keep-alive recorded (source: %s)\n", result.Source)
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "ping even if the interval has not elapsed")
	return cmd
}
