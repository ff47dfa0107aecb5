package otel

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/neomorfeo/lifecycled/internal/domain"
)

const instrumentationName = "github.com/neomorfeo/lifecycled/internal/adapter/otel"

func recordErr(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}

func eligibilityAttrs(e domain.Eligibility) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String("eligibility.window_start", e.WindowStart.Format("15:04:05")),
		attribute.String("eligibility.window_end", e.WindowEnd.Format("15:04:05")),
		attribute.Bool("eligibility.only_by_cron", e.OnlyByCron),
	}
}

// TracingClaimStore wraps a domain.ClaimStore with OpenTelemetry tracing
// and counts the instances each phase touched.
type TracingClaimStore struct {
	next     domain.ClaimStore
	tracer   trace.Tracer
	assigned metric.Int64Counter
	claimed  metric.Int64Counter
}

// Compile-time check: TracingClaimStore implements domain.ClaimStore.
var _ domain.ClaimStore = (*TracingClaimStore)(nil)

// NewTracingClaimStore creates a tracing decorator around the given store.
func NewTracingClaimStore(next domain.ClaimStore) (*TracingClaimStore, error) {
	meter := otel.Meter(instrumentationName)

	assigned, err := meter.Int64Counter("lifecycle.instances.assigned",
		metric.WithDescription("Instances placed on their first stage"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating assigned counter: %w", err)
	}
	claimed, err := meter.Int64Counter("lifecycle.instances.claimed",
		metric.WithDescription("Instances moved to processing by a run"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating claimed counter: %w", err)
	}

	return &TracingClaimStore{
		next:     next,
		tracer:   otel.Tracer(instrumentationName),
		assigned: assigned,
		claimed:  claimed,
	}, nil
}

func (s *TracingClaimStore) AssignFirstStages(ctx context.Context, e domain.Eligibility) (int64, error) {
	ctx, span := s.tracer.Start(ctx, "ClaimStore.AssignFirstStages",
		trace.WithAttributes(eligibilityAttrs(e)...),
	)
	defer span.End()

	n, err := s.next.AssignFirstStages(ctx, e)
	recordErr(span, err)
	if err == nil {
		span.SetAttributes(attribute.Int64("result.count", n))
		s.assigned.Add(ctx, n)
	}
	return n, err
}

func (s *TracingClaimStore) ClaimBatch(ctx context.Context, batchID string, e domain.Eligibility) (int64, error) {
	ctx, span := s.tracer.Start(ctx, "ClaimStore.ClaimBatch",
		trace.WithAttributes(append(eligibilityAttrs(e), attribute.String("batch.id", batchID))...),
	)
	defer span.End()

	n, err := s.next.ClaimBatch(ctx, batchID, e)
	recordErr(span, err)
	if err == nil {
		span.SetAttributes(attribute.Int64("result.count", n))
		s.claimed.Add(ctx, n)
	}
	return n, err
}

func (s *TracingClaimStore) ClaimedPage(ctx context.Context, q domain.PageQuery) ([]domain.Instance, error) {
	ctx, span := s.tracer.Start(ctx, "ClaimStore.ClaimedPage",
		trace.WithAttributes(
			attribute.String("batch.id", q.BatchID),
			attribute.String("page.after_id", q.AfterID),
			attribute.Int("page.limit", q.Limit),
		),
	)
	defer span.End()

	page, err := s.next.ClaimedPage(ctx, q)
	recordErr(span, err)
	if err == nil {
		span.SetAttributes(attribute.Int("result.count", len(page)))
	}
	return page, err
}
