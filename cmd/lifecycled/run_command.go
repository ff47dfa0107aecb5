package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

func newRunCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Assign, claim and dispatch every due instance once",
		Long: "Run performs one pass of the life cycle engine and exits. Schedule it\n" +
			"externally (cron, systemd timer). A non-zero exit means the pass failed.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStack(cmd, false, func(runCtx context.Context, s *stack) error {
				res, err := s.engine.Run(runCtx)
				fmt.Fprintf(cmd.OutOrStdout(), "batch %s: assigned %d, claimed %d, dispatched %d\n",
					res.BatchID, res.Assigned, res.Claimed, res.Dispatched)
				return err
			})
		},
	}
}

// withStack loads config, builds the logger and the wired stack, and runs fn.
func (c *commandContext) withStack(cmd *cobra.Command, withWorker bool, fn func(context.Context, *stack) error) (err error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return err
	}
	logger, err := newLogger(cfg, cmd.ErrOrStderr())
	if err != nil {
		return err
	}

	s, err := openStack(cmd.Context(), cfg, logger, withWorker)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := s.Close(context.WithoutCancel(cmd.Context())); closeErr != nil && err == nil {
			err = closeErr
		}
	}()

	return fn(cmd.Context(), s)
}
