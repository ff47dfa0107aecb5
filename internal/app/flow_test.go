package app_test

import (
	"context"
	"testing"
	"time"

	"github.com/neomorfeo/lifecycled/internal/adapter/fsm"
	"github.com/neomorfeo/lifecycled/internal/adapter/sqlite"
	"github.com/neomorfeo/lifecycled/internal/app"
	"github.com/neomorfeo/lifecycled/internal/domain"
)

// queuedJob is one stage job handed to the scheduler.
type queuedJob struct {
	snap      domain.Snapshot
	notBefore time.Time
}

// jobQueue keeps scheduled snapshots until the test runs them.
type jobQueue struct {
	jobs []queuedJob
}

func (q *jobQueue) Schedule(_ context.Context, inst domain.Instance, notBefore time.Time) error {
	q.jobs = append(q.jobs, queuedJob{snap: domain.SnapshotOf(inst), notBefore: notBefore})
	return nil
}

func (q *jobQueue) drain() []queuedJob {
	jobs := q.jobs
	q.jobs = nil
	return jobs
}

// TestLifeCycle_WalksAllStagesAcrossRuns drives one subject through a
// three-stage life cycle on the SQLite store, one minute-cadence run at a time.
func TestLifeCycle_WalksAllStagesAcrossRuns(t *testing.T) {
	ctx := context.Background()
	store, err := sqlite.New(":memory:")
	if err != nil {
		t.Fatalf("creating store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	current := time.Date(2026, 3, 1, 12, 0, 10, 0, time.UTC)
	now := func() time.Time { return current }

	svc := app.NewLifeCycleService(store, store)
	if _, err := svc.DefineLifeCycle(ctx, app.LifeCycleInput{
		Code:           "onboarding",
		Active:         true,
		StartsAt:       current.Add(-24 * time.Hour),
		ActivateByCron: true,
	}); err != nil {
		t.Fatalf("DefineLifeCycle: %v", err)
	}
	for _, st := range []app.StageInput{
		{Order: 1, Handler: "noop"},
		{Order: 2, Handler: "noop", Delay: 30 * time.Second},
		{Order: 3, Handler: "noop", Delay: time.Hour},
	} {
		if _, err := svc.AddStage(ctx, "onboarding", st); err != nil {
			t.Fatalf("AddStage %d: %v", st.Order, err)
		}
	}
	inst, err := svc.Enroll(ctx, "onboarding", app.EnrollInput{Subject: domain.SubjectRef{Type: "user", ID: "42"}})
	if err != nil {
		t.Fatalf("Enroll: %v", err)
	}

	queue := &jobQueue{}
	engine := app.NewEngine(store, queue, app.EngineConfig{}, app.WithClock(now))

	var executed []int
	subjects := app.NewSubjectRegistry(false, nil)
	subjects.Register("user", app.SubjectResolverFunc(func(_ context.Context, id string) (any, error) {
		return id, nil
	}))
	runner := app.NewStageRunner(app.RunnerConfig{
		Definitions: store,
		Instances:   store,
		Validator:   fsm.New(),
		Subjects:    subjects,
		Handlers: map[string]app.StageHandler{
			"noop": app.StageHandlerFunc(func(_ context.Context, sc app.StageContext) error {
				executed = append(executed, sc.Stage.Order)
				return nil
			}),
		},
		Now: now,
	})

	steps := []struct {
		at            time.Time
		wantClaimed   int64
		wantNotBefore time.Time
	}{
		{time.Date(2026, 3, 1, 12, 0, 10, 0, time.UTC), 1, time.Date(2026, 3, 1, 12, 0, 10, 0, time.UTC)},
		// Stage 2 was armed 30s after 12:00:10, rounded up to 12:01.
		{time.Date(2026, 3, 1, 12, 1, 5, 0, time.UTC), 1, time.Date(2026, 3, 1, 12, 1, 0, 0, time.UTC)},
		// Stage 3 is due at 13:02, outside the 10 minute lead.
		{time.Date(2026, 3, 1, 12, 2, 5, 0, time.UTC), 0, time.Time{}},
		{time.Date(2026, 3, 1, 13, 0, 10, 0, time.UTC), 1, time.Date(2026, 3, 1, 13, 2, 0, 0, time.UTC)},
		{time.Date(2026, 3, 1, 13, 5, 0, 0, time.UTC), 0, time.Time{}},
	}

	for i, step := range steps {
		current = step.at
		res, err := engine.Run(ctx)
		if err != nil {
			t.Fatalf("run %d at %s: %v", i+1, step.at.Format(time.TimeOnly), err)
		}
		if res.Claimed != step.wantClaimed {
			t.Fatalf("run %d at %s claimed %d, want %d", i+1, step.at.Format(time.TimeOnly), res.Claimed, step.wantClaimed)
		}

		for _, job := range queue.drain() {
			if !job.notBefore.Equal(step.wantNotBefore) {
				t.Errorf("run %d: notBefore = %v, want %v", i+1, job.notBefore, step.wantNotBefore)
			}
			if err := runner.Execute(ctx, job.snap); err != nil {
				t.Fatalf("run %d: Execute: %v", i+1, err)
			}
		}
	}

	if len(executed) != 3 || executed[0] != 1 || executed[1] != 2 || executed[2] != 3 {
		t.Errorf("executed stages = %v, want [1 2 3]", executed)
	}
	got, err := store.GetInstance(ctx, inst.ID)
	if err != nil {
		t.Fatalf("GetInstance: %v", err)
	}
	if got.State != domain.StateCompleted {
		t.Errorf("State = %q, want %q", got.State, domain.StateCompleted)
	}
	if got.BatchID != nil {
		t.Errorf("BatchID = %v, want nil once completed", *got.BatchID)
	}
}
