package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func newStatusCmd(opts *flags) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the last successful keep-alive and whether one is due",
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
			cfg := f.Config().KeepAlive

			last, err := throttle.LastSuccess(ctx)
			if err != nil {
				return fmt.Errorf("failed to read keep-alive state: %w", err)
			}

			fmt.Fprintf(out, "Recorder:  %s\n", cfg.FunctionURL)
			fmt.Fprintf(out, "State:     %s\n", cfg.StateDriver)
			if last == nil {
				fmt.Fprintln(out, "Last sent: never")
			} else {
				fmt.Fprintf(out, "Last sent: %s (%s ago)\n",
					last.Format(time.RFC3339), time.Since(*last).Round(time.Minute))
			}
			fmt.Fprintf(out, "Due now:   %t\n", throttle.ShouldInvoke(ctx))
			return nil
		},
	}
}
