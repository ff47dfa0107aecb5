package main

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gofrs/flock"
	"github.com/spf13/cobra"
)

const workerStopTimeout = 30 * time.Second

func newWorkCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "work",
		Short: "Process stage jobs until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			unlock, err := acquireWorkerLock(cfg.DatabasePath)
			if err != nil {
				return err
			}
			defer unlock()

			return ctx.withStack(cmd, true, func(runCtx context.Context, s *stack) error {
				signalCtx, cancel := signal.NotifyContext(runCtx, syscall.SIGINT, syscall.SIGTERM)
				defer cancel()

				if err := startWorker(signalCtx, s); err != nil {
					return err
				}
				<-signalCtx.Done()
				return stopWorker(runCtx, s)
			})
		},
	}
}

// acquireWorkerLock takes an exclusive lock beside the database file so
// only one worker process consumes its queue. In-memory databases are
// private to the process and need no lock.
func acquireWorkerLock(dbPath string) (func(), error) {
	if isMemoryDatabase(dbPath) {
		return func() {}, nil
	}

	lockPath := dbPath + ".worker.lock"
	lock := flock.New(lockPath)
	ok, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquire worker lock: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("another lifecycled worker is already running (lock %s)", lockPath)
	}
	return func() { _ = lock.Unlock() }, nil
}

func isMemoryDatabase(dbPath string) bool {
	return dbPath == ":memory:" || strings.HasPrefix(dbPath, "file::memory:")
}

func startWorker(ctx context.Context, s *stack) error {
	// The client outlives ctx so that Stop can drain in-flight jobs.
	if err := s.client.Start(context.WithoutCancel(ctx)); err != nil {
		return fmt.Errorf("starting worker: %w", err)
	}
	s.logger.InfoContext(ctx, "stage worker started")
	return nil
}

func stopWorker(ctx context.Context, s *stack) error {
	stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), workerStopTimeout)
	defer cancel()

	if err := s.client.Stop(stopCtx); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("stopping worker: %w", err)
	}
	s.logger.InfoContext(ctx, "stage worker stopped")
	return nil
}
