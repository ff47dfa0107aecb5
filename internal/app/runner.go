package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/neomorfeo/lifecycled/internal/domain"
)

// DefaultMaxAttempts is how many times a stage may fail before the instance is marked failed.
const DefaultMaxAttempts = 3

// StageContext is what a stage handler gets to work with.
type StageContext struct {
	Instance domain.Instance
	Stage    domain.Stage
	Subject  any
}

// StageHandler performs the effect of a stage on its subject.
type StageHandler interface {
	Handle(ctx context.Context, sc StageContext) error
}

// StageHandlerFunc adapts a function to StageHandler.
type StageHandlerFunc func(ctx context.Context, sc StageContext) error

// Handle calls f.
func (f StageHandlerFunc) Handle(ctx context.Context, sc StageContext) error {
	return f(ctx, sc)
}

// RunnerConfig holds the dependencies of a StageRunner.
type RunnerConfig struct {
	Definitions domain.DefinitionRepository
	Instances   domain.InstanceRepository
	Validator   domain.TransitionValidator
	Subjects    *SubjectRegistry
	Handlers    map[string]StageHandler
	MaxAttempts int
	Logger      *slog.Logger
	Now         func() time.Time
}

// StageRunner is the default domain.StageExecutor. It runs the stage
// handler and then advances, completes or fails the instance.
type StageRunner struct {
	defs        domain.DefinitionRepository
	instances   domain.InstanceRepository
	validator   domain.TransitionValidator
	subjects    *SubjectRegistry
	handlers    map[string]StageHandler
	maxAttempts int
	logger      *slog.Logger
	now         func() time.Time
}

// Compile-time check: StageRunner implements domain.StageExecutor.
var _ domain.StageExecutor = (*StageRunner)(nil)

// NewStageRunner creates a runner from cfg.
func NewStageRunner(cfg RunnerConfig) *StageRunner {
	r := &StageRunner{
		defs:        cfg.Definitions,
		instances:   cfg.Instances,
		validator:   cfg.Validator,
		subjects:    cfg.Subjects,
		handlers:    cfg.Handlers,
		maxAttempts: cfg.MaxAttempts,
		logger:      cfg.Logger,
		now:         cfg.Now,
	}
	if r.subjects == nil {
		r.subjects = NewSubjectRegistry(false, nil)
	}
	if r.maxAttempts <= 0 {
		r.maxAttempts = DefaultMaxAttempts
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}
	if r.now == nil {
		r.now = time.Now
	}
	return r
}

// Execute runs one stage for the instance in snap. A returned error asks
// the queue to retry; permanent failures are recorded on the instance and
// return nil.
func (r *StageRunner) Execute(ctx context.Context, snap domain.Snapshot) error {
	log := r.logger.With("instance_id", snap.InstanceID, "batch_id", snap.BatchID, "stage_id", snap.StageID)

	inst, err := r.instances.GetInstance(ctx, snap.InstanceID)
	if errors.Is(err, domain.ErrInstanceNotFound) {
		log.WarnContext(ctx, "instance vanished before execution")
		return nil
	}
	if err != nil {
		return fmt.Errorf("loading instance: %w", err)
	}

	if !stillClaimed(inst, snap) {
		log.InfoContext(ctx, "skipping stale stage job", "state", inst.State)
		return nil
	}

	if snap.StageID == "" {
		log.ErrorContext(ctx, "life cycle has no stages")
		return r.transition(ctx, inst, domain.EventFail, domain.InstanceChange{})
	}

	stage, err := r.defs.GetStage(ctx, snap.StageID)
	if err != nil {
		return fmt.Errorf("loading stage: %w", err)
	}

	handler, ok := r.handlers[stage.Handler]
	if !ok {
		log.ErrorContext(ctx, "stage failed permanently",
			"handler", stage.Handler,
			"error", domain.ErrHandlerNotFound,
		)
		return r.transition(ctx, inst, domain.EventFail, domain.InstanceChange{})
	}

	subject, err := r.subjects.Resolve(ctx, inst.Subject)
	if errors.Is(err, domain.ErrSubjectTypeUnknown) {
		log.ErrorContext(ctx, "stage failed permanently", "error", err)
		return r.transition(ctx, inst, domain.EventFail, domain.InstanceChange{})
	}
	if err != nil {
		return r.recordFailure(ctx, inst, stage, err)
	}

	if err := handler.Handle(ctx, StageContext{Instance: inst, Stage: stage, Subject: subject}); err != nil {
		return r.recordFailure(ctx, inst, stage, err)
	}

	return r.advance(ctx, inst, stage)
}

func stillClaimed(inst domain.Instance, snap domain.Snapshot) bool {
	if inst.State != domain.StateProcessing {
		return false
	}
	if inst.BatchID == nil || *inst.BatchID != snap.BatchID {
		return false
	}
	current := ""
	if inst.CurrentStageID != nil {
		current = *inst.CurrentStageID
	}
	return current == snap.StageID
}

// recordFailure bumps the attempt counter. Below the limit the error is
// returned so the queue retries; at the limit the instance fails.
func (r *StageRunner) recordFailure(ctx context.Context, inst domain.Instance, stage domain.Stage, cause error) error {
	attempts, err := r.instances.IncrementAttempts(ctx, inst.ID)
	if err != nil {
		return fmt.Errorf("recording attempt: %w", err)
	}

	if attempts >= r.maxAttempts {
		r.logger.ErrorContext(ctx, "stage failed permanently",
			"instance_id", inst.ID,
			"stage_order", stage.Order,
			"attempts", attempts,
			"error", cause,
		)
		return r.transition(ctx, inst, domain.EventFail, domain.InstanceChange{})
	}

	return fmt.Errorf("stage %d attempt %d/%d: %w", stage.Order, attempts, r.maxAttempts, cause)
}

// advance moves the instance onto the next stage, or completes it after the last one.
func (r *StageRunner) advance(ctx context.Context, inst domain.Instance, stage domain.Stage) error {
	next, err := r.defs.NextStage(ctx, inst.LifeCycleID, stage.Order)
	if errors.Is(err, domain.ErrStageNotFound) {
		return r.transition(ctx, inst, domain.EventComplete, domain.InstanceChange{})
	}
	if err != nil {
		return fmt.Errorf("loading next stage: %w", err)
	}

	return r.transition(ctx, inst, domain.EventAdvance, domain.InstanceChange{
		StageID:       next.ID,
		SetExecutesAt: true,
		ExecutesAt:    domain.ArmExecutesAt(r.now(), next.Delay),
		ResetAttempts: true,
	})
}

func (r *StageRunner) transition(ctx context.Context, inst domain.Instance, event domain.Event, change domain.InstanceChange) error {
	to, err := r.validator.Apply(ctx, inst.State, event)
	if err != nil {
		return err
	}

	change.ID = inst.ID
	change.From = inst.State
	change.To = to
	change.BatchID = derefString(inst.BatchID)

	if err := r.instances.ApplyChange(ctx, change); err != nil {
		if errors.Is(err, domain.ErrStaleInstance) {
			r.logger.WarnContext(ctx, "instance moved concurrently", "instance_id", inst.ID, "event", event)
			return nil
		}
		return fmt.Errorf("applying %s: %w", event, err)
	}

	r.logger.InfoContext(ctx, "instance transitioned",
		"instance_id", inst.ID,
		"event", event,
		"from", inst.State,
		"to", to,
	)
	return nil
}
