package hsm

import (
	"fmt"

	"github.com/statecraft/hsm/embedded"
)

// macrostep is the pure transition function (spec §4.4): select and apply
// transitions for the external event, then drain the internal queue and
// the eventless ("always") closure until the machine is stable.
func (m *Machine[T]) macrostep(state *State[T], event Event) (*State[T], error) {
	current := state.clone()
	current.Event = event

	enabled, err := m.selectTransitions(current, event)
	if err != nil {
		return nil, err
	}
	if len(enabled) == 0 {
		current.Changed = false
		return current, nil
	}
	next, err := m.applyMicrostep(current, enabled)
	if err != nil {
		return nil, err
	}
	return m.settleEventless(next)
}

// settleEventless fires eventless ("always") transitions repeatedly before
// ever looking at the internal queue, and only drains a raised event once
// no eventless transition is enabled against the current configuration —
// the eventless closure runs to completion first each iteration, exactly
// as SCXML's macrostep loop checks the optional-event selection ahead of
// the internal-queue dequeue (spec §4.4 "eventless closure"). Checking the
// queue first would let an earlier-raised event get discarded (no
// transition matches it from the state active when it was queued) instead
// of waiting for the eventless closure to reach the state that does match.
// It also retires every raised error.execution that drains with no
// transition to catch it into next.UnhandledErrors (spec §4.6, §7), for
// the Interpreter to report through OnError and, in strict mode, stop on.
func (m *Machine[T]) settleEventless(state *State[T]) (*State[T], error) {
	next := state
	for {
		eventless, err := m.selectEventlessTransitions(next)
		if err != nil {
			return nil, err
		}
		if len(eventless) > 0 {
			pending := next.internalQueue
			next, err = m.applyMicrostep(next, eventless)
			if err != nil {
				return nil, err
			}
			next.internalQueue = append(pending, next.internalQueue...)
			continue
		}
		if len(next.internalQueue) == 0 {
			return next, nil
		}
		internalEvent := next.internalQueue[0]
		rest := append([]embedded.Event{}, next.internalQueue[1:]...)
		next.internalQueue = rest

		enabled, err := m.selectTransitions(next, internalEvent)
		if err != nil {
			return nil, err
		}
		if len(enabled) == 0 {
			if internalEvent.Name() == EventErrorExecution {
				if execErr, ok := internalEvent.Data().(error); ok {
					next.UnhandledErrors = append(next.UnhandledErrors, execErr)
				}
			}
			continue
		}
		next.Event = internalEvent
		next, err = m.applyMicrostep(next, enabled)
		next.internalQueue = append(rest, next.internalQueue...)
		if err != nil {
			return nil, err
		}
	}
}

// enterInitial computes the machine's starting configuration by firing the
// root's initial transition and then settling the eventless closure, the
// way the first macrostep of a freshly started SCXML session does.
func (m *Machine[T]) enterInitial(state *State[T]) (*State[T], error) {
	init := get[*transitionNode](m.model, m.model.root.initial)
	if init == nil {
		return nil, fmt.Errorf("machine has no initial transition")
	}
	next, err := m.applyMicrostep(state, []*transitionNode{init})
	if err != nil {
		return nil, err
	}
	return m.settleEventless(next)
}
