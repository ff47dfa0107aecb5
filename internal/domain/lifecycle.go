package domain

import (
	"encoding/json"
	"time"
)

// State represents where an instance is in its current stage.
type State string

const (
	StatePending    State = "pending"
	StateProcessing State = "processing"
	StateCompleted  State = "completed"
	StateFailed     State = "failed"
)

// Valid reports whether s is one of the known instance states.
func (s State) Valid() bool {
	switch s {
	case StatePending, StateProcessing, StateCompleted, StateFailed:
		return true
	}
	return false
}

// Event represents an action that triggers an instance state transition.
type Event string

const (
	EventClaim    Event = "claim"
	EventAdvance  Event = "advance"
	EventComplete Event = "complete"
	EventFail     Event = "fail"
)

// Transition defines a valid state change: an event moves an instance from Src to Dst.
type Transition struct {
	Event Event
	Src   State
	Dst   State
}

// Transitions defines all valid state changes of an instance.
// Advance is the only way back to pending, and it always moves the
// instance onto its next stage.
var Transitions = []Transition{
	{Event: EventClaim, Src: StatePending, Dst: StateProcessing},
	{Event: EventAdvance, Src: StateProcessing, Dst: StatePending},
	{Event: EventComplete, Src: StateProcessing, Dst: StateCompleted},
	{Event: EventFail, Src: StateProcessing, Dst: StateFailed},
}

// LifeCycle is a named, time-windowed definition governing a sequence of stages.
type LifeCycle struct {
	ID             string
	Code           string
	Active         bool
	StartsAt       time.Time
	EndsAt         *time.Time
	ActivateByCron bool
	CreatedAt      time.Time
}

// Stage is one ordered step within a life cycle.
type Stage struct {
	ID          string
	LifeCycleID string
	Order       int
	// Handler names the stage handler that performs this stage's effect.
	Handler string
	// Delay is added to the time of arrival at this stage to compute the
	// instance's next executesAt. Zero means "as soon as possible".
	Delay time.Duration
}

// SubjectRef points at the external business entity an instance drives.
type SubjectRef struct {
	Type string
	ID   string
}

// Instance is a single subject's progress through a life cycle's stages.
type Instance struct {
	ID             string
	LifeCycleID    string
	CurrentStageID *string
	State          State
	BatchID        *string
	ExecutesAt     *time.Time
	Attempts       int
	Payload        json.RawMessage
	Subject        SubjectRef
	ClaimedAt      *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time

	// CurrentStage is populated by dispatch queries that resolve the stage relation.
	CurrentStage *Stage
}

// NewInstance creates an instance in the initial pending state with no stage.
func NewInstance(id, lifeCycleID string, subject SubjectRef, payload json.RawMessage, executesAt *time.Time) Instance {
	now := time.Now().UTC()
	if len(payload) == 0 {
		payload = json.RawMessage(`{}`)
	}
	return Instance{
		ID:          id,
		LifeCycleID: lifeCycleID,
		State:       StatePending,
		ExecutesAt:  executesAt,
		Payload:     payload,
		Subject:     subject,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// NotBefore returns the earliest time the instance may execute: its
// executesAt when set, otherwise now.
func (i Instance) NotBefore(now time.Time) time.Time {
	if i.ExecutesAt != nil {
		return *i.ExecutesAt
	}
	return now
}

// InstanceChange describes a compare-and-set update applied by the executor side.
// The update only takes effect while the stored state still equals From and,
// when From is processing, the stored batch still equals BatchID.
type InstanceChange struct {
	ID      string
	From    State
	To      State
	BatchID string
	// StageID moves the instance onto another stage when non-empty.
	StageID string
	// SetExecutesAt writes ExecutesAt (nil clears it).
	SetExecutesAt bool
	ExecutesAt    *time.Time
	ResetAttempts bool
}

// Snapshot is what the stage execution facility receives for one instance.
type Snapshot struct {
	InstanceID  string
	LifeCycleID string
	StageID     string
	BatchID     string
	Attempts    int
	Payload     json.RawMessage
	Subject     SubjectRef
}

// SnapshotOf captures inst as handed to the executor.
func SnapshotOf(inst Instance) Snapshot {
	snap := Snapshot{
		InstanceID:  inst.ID,
		LifeCycleID: inst.LifeCycleID,
		Attempts:    inst.Attempts,
		Payload:     inst.Payload,
		Subject:     inst.Subject,
	}
	if inst.CurrentStageID != nil {
		snap.StageID = *inst.CurrentStageID
	}
	if inst.BatchID != nil {
		snap.BatchID = *inst.BatchID
	}
	return snap
}
