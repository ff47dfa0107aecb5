package fsm

import (
	"context"
	"errors"

	loopfsm "github.com/looplab/fsm"

	"github.com/neomorfeo/lifecycled/internal/domain"
)

// Compile-time check: Validator implements domain.TransitionValidator.
var _ domain.TransitionValidator = (*Validator)(nil)

// instanceEvents is domain.Transitions in looplab/fsm form. Transitions that
// share an event and destination collapse into one EventDesc with several sources.
var instanceEvents = eventDescs(domain.Transitions)

func eventDescs(transitions []domain.Transition) []loopfsm.EventDesc {
	index := make(map[[2]string]int)
	var out []loopfsm.EventDesc

	for _, t := range transitions {
		k := [2]string{string(t.Event), string(t.Dst)}
		if i, ok := index[k]; ok {
			out[i].Src = append(out[i].Src, string(t.Src))
			continue
		}
		index[k] = len(out)
		out = append(out, loopfsm.EventDesc{
			Name: string(t.Event),
			Src:  []string{string(t.Src)},
			Dst:  string(t.Dst),
		})
	}
	return out
}

// Validator implements domain.TransitionValidator using looplab/fsm.
// looplab/fsm machines are stateful, so each Apply builds a throwaway
// machine seeded with the instance's current state.
type Validator struct{}

// New creates a new FSM-backed transition validator.
func New() *Validator {
	return &Validator{}
}

// Apply returns the state event leads to from current, or a
// domain.TransitionError when the event is not allowed there.
func (v *Validator) Apply(ctx context.Context, current domain.State, event domain.Event) (domain.State, error) {
	machine := loopfsm.NewFSM(string(current), instanceEvents, nil)

	if err := machine.Event(ctx, string(event)); err != nil {
		var invalidEvent loopfsm.InvalidEventError
		var unknownEvent loopfsm.UnknownEventError
		if errors.As(err, &invalidEvent) || errors.As(err, &unknownEvent) {
			return "", &domain.TransitionError{Event: event, Current: current}
		}
		return "", err
	}

	return domain.State(machine.Current()), nil
}
