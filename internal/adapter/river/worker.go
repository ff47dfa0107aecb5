package river

import (
	"context"
	"log/slog"

	"github.com/riverqueue/river"

	"github.com/neomorfeo/lifecycled/internal/domain"
)

// StageWorker executes stage jobs. Errors returned by the executor are
// retried by River with its default backoff.
type StageWorker struct {
	river.WorkerDefaults[StageJobArgs]
	executor domain.StageExecutor
}

// NewStageWorker creates a worker that hands each job to executor.
func NewStageWorker(executor domain.StageExecutor) *StageWorker {
	return &StageWorker{executor: executor}
}

// Work processes a single stage job.
func (w *StageWorker) Work(ctx context.Context, job *river.Job[StageJobArgs]) error {
	slog.DebugContext(ctx, "processing stage job",
		"instance_id", job.Args.InstanceID,
		"stage_id", job.Args.StageID,
		"batch_id", job.Args.BatchID,
		"job_id", job.ID,
		"attempt", job.Attempt,
	)
	return w.executor.Execute(ctx, job.Args.Snapshot())
}
