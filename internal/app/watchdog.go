package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/neomorfeo/lifecycled/internal/domain"
)

// Watchdog re-enqueues instances that have sat in processing for too long,
// e.g. because their enqueue failed during dispatch. It leaves their state
// and batch untouched.
type Watchdog struct {
	instances domain.InstanceRepository
	scheduler domain.StageScheduler
	pageSize  int
	logger    *slog.Logger
	now       func() time.Time
}

// NewWatchdog creates a watchdog. pageSize <= 0 uses DefaultPageSize.
func NewWatchdog(instances domain.InstanceRepository, scheduler domain.StageScheduler, pageSize int, logger *slog.Logger) *Watchdog {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Watchdog{
		instances: instances,
		scheduler: scheduler,
		pageSize:  pageSize,
		logger:    logger,
		now:       time.Now,
	}
}

// Requeue schedules every instance claimed more than olderThan ago and
// refreshes its claim time. It returns how many were requeued.
func (w *Watchdog) Requeue(ctx context.Context, olderThan time.Duration) (int, error) {
	now := w.now().UTC()
	cutoff := now.Add(-olderThan)

	var requeued int
	afterID := ""
	for {
		page, err := w.instances.StaleClaims(ctx, cutoff, afterID, w.pageSize)
		if err != nil {
			return requeued, fmt.Errorf("listing stale claims: %w", err)
		}

		for _, inst := range page {
			if err := w.scheduler.Schedule(ctx, inst, inst.NotBefore(now)); err != nil {
				return requeued, fmt.Errorf("requeueing instance %s: %w", inst.ID, err)
			}
			if err := w.instances.TouchClaim(ctx, inst.ID, now); err != nil {
				return requeued, err
			}
			requeued++
			w.logger.WarnContext(ctx, "requeued stale instance",
				"instance_id", inst.ID,
				"batch_id", derefString(inst.BatchID),
				"claimed_at", inst.ClaimedAt,
			)
		}

		if len(page) < w.pageSize {
			return requeued, nil
		}
		afterID = page[len(page)-1].ID
	}
}

func derefString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
