package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func newWatchdogCommand(ctx *commandContext) *cobra.Command {
	var olderThan time.Duration

	cmd := &cobra.Command{
		Use:   "watchdog",
		Short: "Re-enqueue instances stuck in processing",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if olderThan <= 0 {
				olderThan = cfg.Watchdog.StaleAfter.Std()
			}

			return ctx.withStack(cmd, false, func(runCtx context.Context, s *stack) error {
				n, err := s.watchdog.Requeue(runCtx, olderThan)
				fmt.Fprintf(cmd.OutOrStdout(), "requeued %d instance(s) claimed more than %s ago\n", n, olderThan)
				return err
			})
		},
	}

	cmd.Flags().DurationVar(&olderThan, "older-than", 0, "Claim age after which an instance is requeued (default watchdog.stale_after)")
	return cmd
}
