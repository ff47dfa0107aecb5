package otel

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/neomorfeo/lifecycled/internal/domain"
)

// TracingScheduler wraps a domain.StageScheduler with OpenTelemetry tracing.
type TracingScheduler struct {
	next     domain.StageScheduler
	tracer   trace.Tracer
	enqueued metric.Int64Counter
}

// Compile-time check: TracingScheduler implements domain.StageScheduler.
var _ domain.StageScheduler = (*TracingScheduler)(nil)

// NewTracingScheduler creates a tracing decorator around the given scheduler.
func NewTracingScheduler(next domain.StageScheduler) (*TracingScheduler, error) {
	enqueued, err := otel.Meter(instrumentationName).Int64Counter("lifecycle.stage_jobs.enqueued",
		metric.WithDescription("Stage jobs handed to the queue, by outcome"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating enqueued counter: %w", err)
	}
	return &TracingScheduler{
		next:     next,
		tracer:   otel.Tracer(instrumentationName),
		enqueued: enqueued,
	}, nil
}

func (s *TracingScheduler) Schedule(ctx context.Context, inst domain.Instance, notBefore time.Time) error {
	snap := domain.SnapshotOf(inst)
	ctx, span := s.tracer.Start(ctx, "StageScheduler.Schedule",
		trace.WithAttributes(
			attribute.String("instance.id", snap.InstanceID),
			attribute.String("stage.id", snap.StageID),
			attribute.String("batch.id", snap.BatchID),
			attribute.String("job.not_before", notBefore.UTC().Format(time.RFC3339)),
		),
	)
	defer span.End()

	err := s.next.Schedule(ctx, inst, notBefore)
	recordErr(span, err)
	s.enqueued.Add(ctx, 1, metric.WithAttributes(outcome(err)))
	return err
}

// TracingExecutor wraps a domain.StageExecutor with OpenTelemetry tracing.
type TracingExecutor struct {
	next     domain.StageExecutor
	tracer   trace.Tracer
	executed metric.Int64Counter
}

// Compile-time check: TracingExecutor implements domain.StageExecutor.
var _ domain.StageExecutor = (*TracingExecutor)(nil)

// NewTracingExecutor creates a tracing decorator around the given executor.
func NewTracingExecutor(next domain.StageExecutor) (*TracingExecutor, error) {
	executed, err := otel.Meter(instrumentationName).Int64Counter("lifecycle.stages.executed",
		metric.WithDescription("Stage executions, by outcome"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating executed counter: %w", err)
	}
	return &TracingExecutor{
		next:     next,
		tracer:   otel.Tracer(instrumentationName),
		executed: executed,
	}, nil
}

func (e *TracingExecutor) Execute(ctx context.Context, snap domain.Snapshot) error {
	ctx, span := e.tracer.Start(ctx, "StageExecutor.Execute",
		trace.WithAttributes(
			attribute.String("instance.id", snap.InstanceID),
			attribute.String("life_cycle.id", snap.LifeCycleID),
			attribute.String("stage.id", snap.StageID),
			attribute.String("batch.id", snap.BatchID),
			attribute.String("subject.type", snap.Subject.Type),
		),
	)
	defer span.End()

	err := e.next.Execute(ctx, snap)
	recordErr(span, err)
	e.executed.Add(ctx, 1, metric.WithAttributes(outcome(err)))
	return err
}

func outcome(err error) attribute.KeyValue {
	if err != nil {
		return attribute.String("outcome", "error")
	}
	return attribute.String("outcome", "ok")
}
