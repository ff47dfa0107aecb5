package app

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"time"

	"github.com/neomorfeo/lifecycled/internal/domain"
)

// DefaultPageSize bounds how many claimed instances dispatch holds at once.
const DefaultPageSize = 100

// EngineConfig tunes a scheduling run.
type EngineConfig struct {
	PageSize   int
	WindowLead time.Duration
}

func (c EngineConfig) withDefaults() EngineConfig {
	if c.PageSize <= 0 {
		c.PageSize = DefaultPageSize
	}
	if c.WindowLead <= 0 {
		c.WindowLead = domain.DefaultWindowLead
	}
	return c
}

// RunResult summarizes one scheduling pass.
type RunResult struct {
	BatchID    string
	Assigned   int64
	Claimed    int64
	Dispatched int
}

// Engine assigns first stages, claims eligible instances into a batch and
// hands the batch to the stage scheduler. It holds no state between runs.
type Engine struct {
	store     domain.ClaimStore
	scheduler domain.StageScheduler
	cfg       EngineConfig
	logger    *slog.Logger
	now       func() time.Time
	batchID   func() string
}

// EngineOption customizes an Engine.
type EngineOption func(*Engine)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) EngineOption {
	return func(e *Engine) { e.now = now }
}

// WithLogger sets the engine logger.
func WithLogger(logger *slog.Logger) EngineOption {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithBatchIDs replaces the batch id generator.
func WithBatchIDs(gen func() string) EngineOption {
	return func(e *Engine) { e.batchID = gen }
}

// NewEngine creates an engine over the given store and scheduler.
func NewEngine(store domain.ClaimStore, scheduler domain.StageScheduler, cfg EngineConfig, opts ...EngineOption) *Engine {
	e := &Engine{
		store:     store,
		scheduler: scheduler,
		cfg:       cfg.withDefaults(),
		logger:    slog.Default(),
		now:       time.Now,
		batchID:   generateBatchID,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Engine) eligibility() domain.Eligibility {
	return domain.WindowedEligibility(e.now(), e.cfg.WindowLead, true)
}

// Run performs one full pass: assign, claim, dispatch.
// Persistence failures abort the run; rows not yet claimed stay pending for the next one.
func (e *Engine) Run(ctx context.Context) (RunResult, error) {
	var res RunResult

	assigned, err := e.AssignStages(ctx)
	if err != nil {
		return res, err
	}
	res.Assigned = assigned

	batchID, claimed, err := e.Claim(ctx)
	if err != nil {
		return res, err
	}
	res.BatchID = batchID
	res.Claimed = claimed

	if claimed > 0 {
		res.Dispatched, err = e.Dispatch(ctx, batchID)
	}

	e.logger.InfoContext(ctx, "life cycle run finished",
		"batch_id", res.BatchID,
		"assigned", res.Assigned,
		"claimed", res.Claimed,
		"dispatched", res.Dispatched,
	)
	return res, err
}

// AssignStages gives every eligible stageless instance its first stage.
func (e *Engine) AssignStages(ctx context.Context) (int64, error) {
	n, err := e.store.AssignFirstStages(ctx, e.eligibility())
	if err != nil {
		return 0, fmt.Errorf("assigning stages: %w", err)
	}
	return n, nil
}

// Claim moves every eligible pending instance into a fresh batch and returns its id.
func (e *Engine) Claim(ctx context.Context) (string, int64, error) {
	batchID := e.batchID()
	n, err := e.store.ClaimBatch(ctx, batchID, e.eligibility())
	if err != nil {
		return "", 0, fmt.Errorf("claiming batch: %w", err)
	}
	e.logger.DebugContext(ctx, "batch claimed", "batch_id", batchID, "claimed", n)
	return batchID, n, nil
}

// Dispatch schedules every instance of batchID that is still eligible.
// Enqueue failures do not stop the pass; they are reported together in a
// *domain.DispatchError once all pages have been visited.
func (e *Engine) Dispatch(ctx context.Context, batchID string) (int, error) {
	elig := e.eligibility()

	var (
		dispatched int
		failedIDs  []string
		errs       []error
	)
	for page, err := range e.Pages(ctx, batchID, elig, "") {
		if err != nil {
			return dispatched, fmt.Errorf("dispatching batch %s: %w", batchID, err)
		}
		for _, inst := range page {
			if err := e.scheduler.Schedule(ctx, inst, inst.NotBefore(elig.Now)); err != nil {
				e.logger.ErrorContext(ctx, "enqueue failed",
					"batch_id", batchID,
					"instance_id", inst.ID,
					"error", err,
				)
				failedIDs = append(failedIDs, inst.ID)
				errs = append(errs, err)
				continue
			}
			dispatched++
		}
	}

	if len(failedIDs) > 0 {
		return dispatched, &domain.DispatchError{
			BatchID:     batchID,
			InstanceIDs: failedIDs,
			Err:         errors.Join(errs...),
		}
	}
	return dispatched, nil
}

// Pages lazily walks a claimed batch in keyset pages starting after afterID.
// A consumer that stops early can resume by passing the last id it saw.
func (e *Engine) Pages(ctx context.Context, batchID string, elig domain.Eligibility, afterID string) iter.Seq2[[]domain.Instance, error] {
	return func(yield func([]domain.Instance, error) bool) {
		cursor := afterID
		for {
			page, err := e.store.ClaimedPage(ctx, domain.PageQuery{
				BatchID:     batchID,
				Eligibility: elig,
				AfterID:     cursor,
				Limit:       e.cfg.PageSize,
			})
			if err != nil {
				yield(nil, err)
				return
			}
			if len(page) == 0 {
				return
			}
			if !yield(page, nil) {
				return
			}
			if len(page) < e.cfg.PageSize {
				return
			}
			cursor = page[len(page)-1].ID
		}
	}
}
