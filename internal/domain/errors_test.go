package domain_test

import (
	"errors"
	"testing"

	"github.com/neomorfeo/lifecycled/internal/domain"
)

func TestCodeConflictError_Error(t *testing.T) {
	err := &domain.CodeConflictError{Code: "onboarding"}
	want := `life cycle code "onboarding" is already in use`
	if got := err.Error(); got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}

func TestStageOrderConflictError_Error(t *testing.T) {
	err := &domain.StageOrderConflictError{LifeCycleID: "lc-1", Order: 2}
	want := `stage order 2 is already used in life cycle "lc-1"`
	if got := err.Error(); got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}

func TestTransitionError_Error(t *testing.T) {
	err := &domain.TransitionError{
		Event:   domain.EventComplete,
		Current: domain.StatePending,
	}
	want := `event "complete" is not valid from state "pending"`
	if got := err.Error(); got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}

func TestDispatchError_Unwrap(t *testing.T) {
	cause := errors.New("queue down")
	err := &domain.DispatchError{BatchID: "b-1", InstanceIDs: []string{"i-1", "i-2"}, Err: cause}

	if !errors.Is(err, cause) {
		t.Error("DispatchError should unwrap to its cause")
	}
	want := "batch b-1: 2 instance(s) not enqueued [i-1, i-2]: queue down"
	if got := err.Error(); got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}

func TestValidationError_Error(t *testing.T) {
	err := &domain.ValidationError{Field: "code", Reason: "must not be empty"}
	want := "invalid code: must not be empty"
	if got := err.Error(); got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}
