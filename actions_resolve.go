package hsm

import (
	"log/slog"
	"time"

	"github.com/statecraft/hsm/embedded"
)

// runBehavior looks up and runs the action list registered under
// behaviorQN (an entry, exit, or transition-effect list), a no-op if the
// state/transition declared none.
func (m *Machine[T]) runBehavior(label string, state *State[T], event Event, behaviorQN string) error {
	if behaviorQN == "" {
		return nil
	}
	b := get[*behaviorNode[T]](m.model, behaviorQN)
	if b == nil {
		return nil
	}
	return m.runActions(label, state, event, b.actions)
}

func (m *Machine[T]) runActions(label string, state *State[T], event Event, actions []ActionDescriptor[T]) error {
	for _, a := range actions {
		if err := m.runAction(label, state, event, a); err != nil {
			return err
		}
	}
	return nil
}

func (m *Machine[T]) runAction(label string, state *State[T], event Event, a ActionDescriptor[T]) (err error) {
	defer recoverToError(&err, func(e error) error { return &ActionError{Action: label, Err: e} })
	switch a.kind {
	case Kinds.Exec:
		if a.Exec != nil {
			a.Exec(state.Context, event, state)
		}
	case Kinds.Assign:
		if a.Assign != nil {
			state.Context = a.Assign(state.Context, event, state)
		}
	case Kinds.Raise:
		var data any
		if a.EventData != nil {
			data = a.EventData(state.Context, event)
		}
		state.internalQueue = append(state.internalQueue, NewEvent(a.EventName, data))
	case Kinds.Send:
		m.resolveSend(state, event, a)
	case Kinds.Cancel:
		state.Cancellations = append(state.Cancellations, a.CancelID)
	case Kinds.Log:
		m.resolveLog(state, event, a)
	case Kinds.Choose:
		return m.resolveChoose(label, state, event, a)
	case Kinds.Pure:
		if a.Pure != nil {
			return m.runActions(label, state, event, a.Pure(state.Context, event))
		}
	case Kinds.Stop:
		state.StopRequests = append(state.StopRequests, a.Stop)
	}
	return nil
}

func (m *Machine[T]) resolveSend(state *State[T], event Event, a ActionDescriptor[T]) {
	var data any
	if a.EventData != nil {
		data = a.EventData(state.Context, event)
	}
	var delay time.Duration
	if a.Delay != nil {
		delay = a.Delay(state.Context)
	}
	state.Outbox = append(state.Outbox, OutboundSend{
		To:     a.To,
		Event:  NewEvent(a.EventName, data),
		Delay:  delay,
		SendID: a.SendID,
	})
}

func (m *Machine[T]) resolveLog(state *State[T], event Event, a ActionDescriptor[T]) {
	var payload any
	if a.LogExpr != nil {
		payload = a.LogExpr(state.Context, event)
	}
	slog.Info(a.Label, "event", event.Name(), "data", payload)
}

func (m *Machine[T]) resolveChoose(label string, state *State[T], event Event, a ActionDescriptor[T]) error {
	for _, branch := range a.Branches {
		ok := true
		var err error
		switch {
		case branch.Guard != nil:
			ok = branch.Guard(state.Context, event, state)
		case branch.GuardBy != nil:
			ok, err = evaluateGuardDescriptor(m, branch.GuardBy, state.Context, event, state)
		}
		if err != nil {
			return err
		}
		if ok {
			return m.runActions(label, state, event, branch.Actions)
		}
	}
	return nil
}

// scheduleDelayedTransitionsOf queues an OutboundSend for every `after`
// transition declared on qn, keyed by a SendID cancelDelayedTransitionsOf
// can later look up to stop the pending timer before it fires (spec
// §4.1.5 "after is canceled by exiting its source before it fires").
func (m *Machine[T]) scheduleDelayedTransitionsOf(qn string, next *State[T]) {
	v, ok := m.model.namespace[qn].(embedded.Vertex)
	if !ok {
		return
	}
	for _, id := range v.Transitions() {
		t := get[*transitionNode](m.model, id)
		if t == nil || t.delayRef == "" {
			continue
		}
		holder := get[*delayHolder[T]](m.model, join(t.source, ".delay."+t.delayRef))
		if holder == nil || holder.fn == nil {
			continue
		}
		next.Outbox = append(next.Outbox, OutboundSend{
			Event:  NewEvent(AfterEvent(t.delayRef, t.source)),
			Delay:  holder.fn(next.Context),
			SendID: join(t.source, ".delay."+t.delayRef),
		})
	}
}

func (m *Machine[T]) cancelDelayedTransitionsOf(qn string, next *State[T]) {
	v, ok := m.model.namespace[qn].(embedded.Vertex)
	if !ok {
		return
	}
	for _, id := range v.Transitions() {
		t := get[*transitionNode](m.model, id)
		if t == nil || t.delayRef == "" {
			continue
		}
		next.Cancellations = append(next.Cancellations, join(t.source, ".delay."+t.delayRef))
	}
}

// startInvocationsOf and stopInvocationsOf keep a pure State's Children
// bookkeeping in sync with which invoke ids should be running; the
// Interpreter diffs successive States' Children to decide what to
// actually start/stop (spec §4.7 keeps actor lifecycle out of Machine).
func (m *Machine[T]) startInvocationsOf(qn string, next *State[T]) {
	s, ok := m.model.namespace[qn].(*stateNode)
	if !ok {
		return
	}
	for _, invId := range s.invocations {
		if inv := get[*invokeNode](m.model, invId); inv != nil {
			next.Children[inv.id] = struct{}{}
		}
	}
}

func (m *Machine[T]) stopInvocationsOf(qn string, next *State[T]) {
	s, ok := m.model.namespace[qn].(*stateNode)
	if !ok {
		return
	}
	for _, invId := range s.invocations {
		if inv := get[*invokeNode](m.model, invId); inv != nil {
			delete(next.Children, inv.id)
		}
	}
}
