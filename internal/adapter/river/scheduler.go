package river

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/riverqueue/river"
	"github.com/riverqueue/river/rivertype"

	"github.com/neomorfeo/lifecycled/internal/domain"
)

// Compile-time check: Scheduler implements domain.StageScheduler.
var _ domain.StageScheduler = (*Scheduler)(nil)

// StageJobArgs carries one instance's snapshot to a stage worker. River
// serializes it as JSON into its job table, so the worker starts from the
// state the instance had when it was dispatched.
//
// A job is unique per instance, stage and batch: re-enqueueing the same
// claim while its job is still live is a no-op.
type StageJobArgs struct {
	InstanceID  string          `json:"instance_id" river:"unique"`
	LifeCycleID string          `json:"life_cycle_id"`
	StageID     string          `json:"stage_id" river:"unique"`
	BatchID     string          `json:"batch_id" river:"unique"`
	Attempts    int             `json:"attempts"`
	Payload     json.RawMessage `json:"payload"`
	SubjectType string          `json:"subject_type"`
	SubjectID   string          `json:"subject_id"`
}

// Kind returns the unique job type identifier used by River's job routing.
func (StageJobArgs) Kind() string { return "lifecycle.stage.execute" }

// Snapshot converts the job back into the domain view.
func (a StageJobArgs) Snapshot() domain.Snapshot {
	return domain.Snapshot{
		InstanceID:  a.InstanceID,
		LifeCycleID: a.LifeCycleID,
		StageID:     a.StageID,
		BatchID:     a.BatchID,
		Attempts:    a.Attempts,
		Payload:     a.Payload,
		Subject:     domain.SubjectRef{Type: a.SubjectType, ID: a.SubjectID},
	}
}

func stageJobArgs(snap domain.Snapshot) StageJobArgs {
	return StageJobArgs{
		InstanceID:  snap.InstanceID,
		LifeCycleID: snap.LifeCycleID,
		StageID:     snap.StageID,
		BatchID:     snap.BatchID,
		Attempts:    snap.Attempts,
		Payload:     snap.Payload,
		SubjectType: snap.Subject.Type,
		SubjectID:   snap.Subject.ID,
	}
}

// uniqueStates leaves out completed and discarded, so a claim whose job
// already finished can still be re-enqueued by the watchdog.
var uniqueStates = []rivertype.JobState{
	rivertype.JobStateAvailable,
	rivertype.JobStatePending,
	rivertype.JobStateRetryable,
	rivertype.JobStateRunning,
	rivertype.JobStateScheduled,
}

// Client is the River client type parameterized for SQLite (*sql.Tx).
type Client = river.Client[*sql.Tx]

// Scheduler implements domain.StageScheduler by enqueuing River jobs.
type Scheduler struct {
	client *Client
	logger *slog.Logger
}

// NewScheduler creates a scheduler backed by the given River client.
func NewScheduler(client *Client, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{client: client, logger: logger}
}

// Schedule enqueues a stage job for inst that becomes available at notBefore.
func (s *Scheduler) Schedule(ctx context.Context, inst domain.Instance, notBefore time.Time) error {
	res, err := s.client.Insert(ctx, stageJobArgs(domain.SnapshotOf(inst)), &river.InsertOpts{
		ScheduledAt: notBefore,
		UniqueOpts: river.UniqueOpts{
			ByArgs:  true,
			ByState: uniqueStates,
		},
	})
	if err != nil {
		return fmt.Errorf("enqueuing stage job: %w", err)
	}

	if res.UniqueSkippedAsDuplicate {
		s.logger.DebugContext(ctx, "stage job already enqueued",
			"instance_id", inst.ID,
			"job_id", res.Job.ID,
		)
	}
	return nil
}
