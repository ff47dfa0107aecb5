package fsm_test

import (
	"context"
	"errors"
	"testing"

	adapter "github.com/neomorfeo/lifecycled/internal/adapter/fsm"
	"github.com/neomorfeo/lifecycled/internal/domain"
)

func TestValidator_AllTransitions(t *testing.T) {
	v := adapter.New()
	ctx := context.Background()

	for _, tr := range domain.Transitions {
		dst, err := v.Apply(ctx, tr.Src, tr.Event)
		if err != nil {
			t.Errorf("Apply(%q, %q) unexpected error: %v", tr.Src, tr.Event, err)
			continue
		}
		if dst != tr.Dst {
			t.Errorf("Apply(%q, %q) = %q, want %q", tr.Src, tr.Event, dst, tr.Dst)
		}
	}
}

func TestValidator_RejectsBackwardAndSkippingMoves(t *testing.T) {
	v := adapter.New()
	ctx := context.Background()

	cases := []struct {
		from  domain.State
		event domain.Event
	}{
		{domain.StatePending, domain.EventComplete},
		{domain.StatePending, domain.EventFail},
		{domain.StatePending, domain.EventAdvance},
		{domain.StateProcessing, domain.EventClaim},
		{domain.StateCompleted, domain.EventClaim},
		{domain.StateCompleted, domain.EventAdvance},
		{domain.StateFailed, domain.EventClaim},
	}

	for _, tc := range cases {
		_, err := v.Apply(ctx, tc.from, tc.event)
		var trErr *domain.TransitionError
		if !errors.As(err, &trErr) {
			t.Errorf("Apply(%q, %q): expected TransitionError, got %v", tc.from, tc.event, err)
			continue
		}
		if trErr.Event != tc.event || trErr.Current != tc.from {
			t.Errorf("TransitionError = %+v, want event %q from %q", trErr, tc.event, tc.from)
		}
	}
}

func TestValidator_UnknownEvent(t *testing.T) {
	v := adapter.New()

	_, err := v.Apply(context.Background(), domain.StatePending, domain.Event("rewind"))
	var trErr *domain.TransitionError
	if !errors.As(err, &trErr) {
		t.Fatalf("expected TransitionError, got %v", err)
	}
}

func TestValidator_StageLoop(t *testing.T) {
	v := adapter.New()
	ctx := context.Background()

	// Two stages then completion: claim, advance, claim, complete.
	steps := []struct {
		from  domain.State
		event domain.Event
		want  domain.State
	}{
		{domain.StatePending, domain.EventClaim, domain.StateProcessing},
		{domain.StateProcessing, domain.EventAdvance, domain.StatePending},
		{domain.StatePending, domain.EventClaim, domain.StateProcessing},
		{domain.StateProcessing, domain.EventComplete, domain.StateCompleted},
	}

	for _, s := range steps {
		got, err := v.Apply(ctx, s.from, s.event)
		if err != nil {
			t.Fatalf("Apply(%q, %q) failed: %v", s.from, s.event, err)
		}
		if got != s.want {
			t.Errorf("Apply(%q, %q) = %q, want %q", s.from, s.event, got, s.want)
		}
	}
}
