package domain

import (
	"context"
	"time"
)

// ClaimStore is the persistence contract of the scheduling engine. Each method
// is a single set-based statement evaluated under the given eligibility.
type ClaimStore interface {
	// AssignFirstStages sets the minimum-order stage on eligible instances without one.
	AssignFirstStages(ctx context.Context, e Eligibility) (int64, error)
	// ClaimBatch atomically moves eligible pending instances to processing under batchID.
	ClaimBatch(ctx context.Context, batchID string, e Eligibility) (int64, error)
	// ClaimedPage returns up to q.Limit instances of the batch with id > q.AfterID, by ascending id.
	ClaimedPage(ctx context.Context, q PageQuery) ([]Instance, error)
}

// PageQuery selects one keyset page of a claimed batch.
type PageQuery struct {
	BatchID     string
	Eligibility Eligibility
	AfterID     string
	Limit       int
}

// DefinitionRepository defines the persistence contract for life cycles and stages.
type DefinitionRepository interface {
	CreateLifeCycle(ctx context.Context, lc LifeCycle) error
	GetLifeCycle(ctx context.Context, id string) (LifeCycle, error)
	GetLifeCycleByCode(ctx context.Context, code string) (LifeCycle, error)
	CreateStage(ctx context.Context, stage Stage) error
	GetStage(ctx context.Context, id string) (Stage, error)
	ListStages(ctx context.Context, lifeCycleID string) ([]Stage, error)
	// NextStage returns the stage with the smallest order greater than afterOrder.
	NextStage(ctx context.Context, lifeCycleID string, afterOrder int) (Stage, error)
}

// InstanceRepository defines the persistence contract for instances outside the claim path.
type InstanceRepository interface {
	CreateInstance(ctx context.Context, inst Instance) error
	GetInstance(ctx context.Context, id string) (Instance, error)
	ListInstances(ctx context.Context, filter InstanceFilter) ([]Instance, error)
	// ApplyChange updates the instance only while its state equals change.From.
	// It returns ErrStaleInstance when the state moved underneath.
	ApplyChange(ctx context.Context, change InstanceChange) error
	IncrementAttempts(ctx context.Context, id string) (int, error)
	// StaleClaims pages processing instances claimed before cutoff, by ascending id.
	StaleClaims(ctx context.Context, cutoff time.Time, afterID string, limit int) ([]Instance, error)
	TouchClaim(ctx context.Context, id string, at time.Time) error
}

// InstanceFilter holds optional criteria for listing instances.
type InstanceFilter struct {
	LifeCycleCode string
	State         *State
	Limit         int
	Offset        int
}

// StageScheduler hands an instance to the stage execution facility.
// It must not wait for execution; notBefore is the earliest delivery time.
type StageScheduler interface {
	Schedule(ctx context.Context, inst Instance, notBefore time.Time) error
}

// StageExecutor performs a stage's effect and moves the instance on.
type StageExecutor interface {
	Execute(ctx context.Context, snap Snapshot) error
}

// TransitionValidator checks whether an event is valid from a given state
// and returns the resulting state.
type TransitionValidator interface {
	Apply(ctx context.Context, current State, event Event) (State, error)
}

// SubjectResolver loads the business entity a subject reference points at.
type SubjectResolver interface {
	Resolve(ctx context.Context, id string) (any, error)
}
