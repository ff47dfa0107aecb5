package domain

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for simple conditions without extra context.
var (
	ErrLifeCycleNotFound  = errors.New("life cycle not found")
	ErrStageNotFound      = errors.New("stage not found")
	ErrInstanceNotFound   = errors.New("instance not found")
	ErrStaleInstance      = errors.New("instance changed state concurrently")
	ErrHandlerNotFound    = errors.New("stage handler not registered")
	ErrSubjectTypeUnknown = errors.New("subject type not registered")
)

// CodeConflictError is returned when a life cycle code is already in use.
type CodeConflictError struct {
	Code string
}

func (e *CodeConflictError) Error() string {
	return fmt.Sprintf("life cycle code %q is already in use", e.Code)
}

// StageOrderConflictError is returned when a stage order is taken within a life cycle.
type StageOrderConflictError struct {
	LifeCycleID string
	Order       int
}

func (e *StageOrderConflictError) Error() string {
	return fmt.Sprintf("stage order %d is already used in life cycle %q", e.Order, e.LifeCycleID)
}

// ValidationError is returned when caller input is rejected.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// TransitionError is returned when a state transition is not allowed.
type TransitionError struct {
	Event   Event
	Current State
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("event %q is not valid from state %q", e.Event, e.Current)
}

// DispatchError reports instances of a batch that could not be enqueued.
// They stay processing under the batch until a watchdog requeues them.
type DispatchError struct {
	BatchID     string
	InstanceIDs []string
	Err         error
}

func (e *DispatchError) Error() string {
	return fmt.Sprintf("batch %s: %d instance(s) not enqueued [%s]: %v",
		e.BatchID, len(e.InstanceIDs), strings.Join(e.InstanceIDs, ", "), e.Err)
}

func (e *DispatchError) Unwrap() error {
	return e.Err
}
