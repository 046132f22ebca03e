package hsm

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"

	"github.com/statecraft/hsm/clock"
	"github.com/statecraft/hsm/embedded"
	"github.com/statecraft/hsm/pkg/telemetry"
	"github.com/statecraft/hsm/queue"
)

// Subscription is a handle returned by Service.Subscribe; Unsubscribe
// removes the callback. Calling it more than once is a no-op.
type Subscription struct {
	unsubscribe func()
}

// Unsubscribe removes the associated callback, if it has not already
// been removed.
func (s Subscription) Unsubscribe() {
	if s.unsubscribe != nil {
		s.unsubscribe()
	}
}

// Service drives a compiled Machine against a live external event queue,
// a clock for delayed sends, and a set of spawned child actors (spec
// §4.7 "Interpreter"). It is the only part of the runtime that performs
// side effects; Machine.Transition itself stays pure.
type Service[T any] struct {
	mu      sync.Mutex
	process sync.Mutex

	id      string
	machine *Machine[T]
	state   *State[T]
	ext     *queue.Queue
	clk     clock.Clock
	tracer  trace.Tracer
	strict  bool

	actors map[string]embedded.Actor
	timers map[string]clock.Timer

	subSeq      int
	subscribers map[int]func(*State[T])

	onTransition []func(*State[T])
	onDone       []func(*State[T])
	onError      []func(error)
	onStop       []func()

	started bool
	stopped bool
}

// InterpreterOption configures a Service at construction time.
type InterpreterOption[T any] func(*Service[T])

// WithClock installs a non-default time source, normally clock.NewMock()
// for deterministic tests of `after` transitions and delayed sends.
func WithClock[T any](c clock.Clock) InterpreterOption[T] {
	return func(s *Service[T]) { s.clk = c }
}

// WithID overrides the Service's generated id.
func WithID[T any](id string) InterpreterOption[T] {
	return func(s *Service[T]) { s.id = id }
}

// WithTracer installs a real OpenTelemetry tracer in place of the
// zero-configuration no-op default.
func WithTracer[T any](t trace.Tracer) InterpreterOption[T] {
	return func(s *Service[T]) { s.tracer = t }
}

// WithStrict stops the Service on the first transition error, or the
// first error.execution that settles with no transition to catch it,
// instead of logging it and continuing to drain the queue.
func WithStrict[T any]() InterpreterOption[T] {
	return func(s *Service[T]) { s.strict = true }
}

// Interpret creates a Service for machine. Call Start to begin processing.
func Interpret[T any](machine *Machine[T], opts ...InterpreterOption[T]) *Service[T] {
	id := ""
	if u, err := uuid.NewV7(); err == nil {
		id = u.String()
	}
	s := &Service[T]{
		id:          id,
		machine:     machine,
		ext:         queue.New(),
		clk:         clock.Make(),
		tracer:      telemetry.Default,
		actors:      map[string]embedded.Actor{},
		timers:      map[string]clock.Timer{},
		subscribers: map[int]func(*State[T]){},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start computes (or adopts) the initial state, spawns any root-level
// invocations it declares, and notifies subscribers. Starting twice is a
// no-op (spec §9 Open Question 2: root invocations start exactly once).
func (s *Service[T]) Start(initial ...*State[T]) *Service[T] {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return s
	}
	s.started = true
	s.mu.Unlock()

	ctx, span := telemetry.StartSpan(context.Background(), s.tracer, "hsm.start")
	defer span.End()

	var state *State[T]
	var err error
	if len(initial) > 0 {
		state = initial[0]
	} else {
		state, err = s.machine.InitialState()
	}
	if err != nil {
		s.handleError(err)
		return s
	}

	s.mu.Lock()
	s.state = state
	s.mu.Unlock()

	s.applySideEffects(nil, state)
	s.forwardAutoForward(state.Event)
	s.publish(state, true)
	if state.Done {
		s.publishDone(state)
	}
	if s.reportUnhandledErrors(state) {
		s.Stop()
	}
	_ = ctx
	return s
}

// Stop terminates every spawned actor and pending timer and runs the
// registered OnStop callbacks. Stopping twice is a no-op.
func (s *Service[T]) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	actors := s.actors
	s.actors = map[string]embedded.Actor{}
	timers := s.timers
	s.timers = map[string]clock.Timer{}
	cbs := append([]func(){}, s.onStop...)
	s.mu.Unlock()

	s.ext.Drain()

	for _, a := range actors {
		a.Stop()
	}
	for _, t := range timers {
		t.Stop()
	}
	for _, cb := range cbs {
		cb()
	}
}

// Send enqueues an external event and drains the queue.
func (s *Service[T]) Send(event Event) {
	s.mu.Lock()
	stopped := s.stopped
	s.mu.Unlock()
	if stopped {
		return
	}
	s.ext.Push(event)
	s.drain()
}

// Batch enqueues several external events before draining them in order;
// the state each event produces is published as it is processed.
func (s *Service[T]) Batch(events []Event) {
	s.mu.Lock()
	stopped := s.stopped
	s.mu.Unlock()
	if stopped {
		return
	}
	for _, e := range events {
		s.ext.Push(e)
	}
	s.drain()
}

// Broadcast sends event to this service and forwards it to every running
// child actor regardless of that invocation's AutoForward setting — the
// DispatchAll-equivalent supplement noted in SPEC_FULL.md.
func (s *Service[T]) Broadcast(event Event) {
	s.Send(event)
	s.mu.Lock()
	actors := make([]embedded.Actor, 0, len(s.actors))
	for _, a := range s.actors {
		actors = append(actors, a)
	}
	s.mu.Unlock()
	for _, a := range actors {
		a.Send(event)
	}
}

// State returns the current snapshot.
func (s *Service[T]) State() *State[T] {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Subscribe registers cb to be called with every new state, including
// non-changing ones, until the returned Subscription is unsubscribed.
func (s *Service[T]) Subscribe(cb func(*State[T])) Subscription {
	s.mu.Lock()
	s.subSeq++
	id := s.subSeq
	s.subscribers[id] = cb
	s.mu.Unlock()
	return Subscription{unsubscribe: func() {
		s.mu.Lock()
		delete(s.subscribers, id)
		s.mu.Unlock()
	}}
}

// OnTransition registers cb to run after every changed transition.
func (s *Service[T]) OnTransition(cb func(*State[T])) {
	s.mu.Lock()
	s.onTransition = append(s.onTransition, cb)
	s.mu.Unlock()
}

// OnDone registers cb to run when the machine reaches a final
// configuration.
func (s *Service[T]) OnDone(cb func(*State[T])) {
	s.mu.Lock()
	s.onDone = append(s.onDone, cb)
	s.mu.Unlock()
}

// OnError registers cb to run when a transition fails (a guard or action
// error). If no OnError callback is registered, errors are logged via
// slog instead.
func (s *Service[T]) OnError(cb func(error)) {
	s.mu.Lock()
	s.onError = append(s.onError, cb)
	s.mu.Unlock()
}

// OnStop registers cb to run when Stop is called.
func (s *Service[T]) OnStop(cb func()) {
	s.mu.Lock()
	s.onStop = append(s.onStop, cb)
	s.mu.Unlock()
}

// drain processes the external queue to exhaustion. Concurrent callers
// that find drain already running simply enqueue and return: the active
// drain loop will observe their event since the queue is shared.
func (s *Service[T]) drain() {
	if !s.process.TryLock() {
		return
	}
	defer func() {
		s.process.Unlock()
		// an event pushed after the last Pop found the queue empty, but
		// before the unlock above, has no other drain to pick it up
		if s.ext.Len() > 0 {
			s.drain()
		}
	}()

	for {
		s.mu.Lock()
		if s.stopped {
			s.mu.Unlock()
			return
		}
		e := s.ext.Pop()
		prev := s.state
		s.mu.Unlock()
		if e == nil {
			return
		}

		ctx, span := telemetry.StartSpan(context.Background(), s.tracer, "hsm.transition")
		next, err := s.machine.Transition(prev, e)
		span.End()
		_ = ctx
		if err != nil {
			s.handleError(err)
			if s.strict {
				s.Stop()
				return
			}
			continue
		}

		s.mu.Lock()
		s.state = next
		s.mu.Unlock()

		s.applySideEffects(prev, next)
		s.forwardAutoForward(e)

		s.publish(next, next.Changed)
		if next.Done {
			s.publishDone(next)
		}
		if s.reportUnhandledErrors(next) {
			s.Stop()
			return
		}
	}
}

// reportUnhandledErrors runs the registered OnError callbacks for every
// error.execution raised during next's macrostep that no onError-style
// transition ever claimed (spec §7: "if unhandled and the machine is in
// strict mode, the interpreter stops"). It reports in the same way a hard
// transition error would, then tells the caller whether to stop draining.
func (s *Service[T]) reportUnhandledErrors(next *State[T]) bool {
	if len(next.UnhandledErrors) == 0 {
		return false
	}
	for _, err := range next.UnhandledErrors {
		s.handleError(err)
	}
	return s.strict
}

// publish hands state to every subscriber and, when changed is set, to the
// OnTransition callbacks.
func (s *Service[T]) publish(state *State[T], changed bool) {
	s.mu.Lock()
	subs := make([]func(*State[T]), 0, len(s.subscribers))
	for _, cb := range s.subscribers {
		subs = append(subs, cb)
	}
	trans := append([]func(*State[T]){}, s.onTransition...)
	s.mu.Unlock()
	for _, cb := range subs {
		cb(state)
	}
	if !changed {
		return
	}
	for _, cb := range trans {
		cb(state)
	}
}

func (s *Service[T]) publishDone(state *State[T]) {
	s.mu.Lock()
	cbs := append([]func(*State[T]){}, s.onDone...)
	s.mu.Unlock()
	for _, cb := range cbs {
		cb(state)
	}
}

func (s *Service[T]) handleError(err error) {
	s.mu.Lock()
	cbs := append([]func(error){}, s.onError...)
	s.mu.Unlock()
	if len(cbs) == 0 {
		slog.Error("hsm: transition error", "service", s.id, "error", err)
		return
	}
	for _, cb := range cbs {
		cb(err)
	}
}

// applySideEffects starts/stops child actors per the Children diff
// between prev and next, honors explicit StopRequests/Cancellations, and
// schedules or delivers every queued OutboundSend (spec §4.6, §4.7).
func (s *Service[T]) applySideEffects(prev, next *State[T]) {
	model := s.machine.model
	started, stopped := diffChildren(prev, next)

	for _, id := range stopped {
		s.mu.Lock()
		actor := s.actors[id]
		delete(s.actors, id)
		s.mu.Unlock()
		if actor != nil {
			actor.Stop()
		}
	}
	for _, id := range started {
		inv := findInvokeByID(model, id)
		if inv == nil {
			continue
		}
		factory := get[*invokeFactoryNode[T]](model, inv.QualifiedName()+".factory")
		if factory == nil || factory.factory == nil {
			continue
		}
		var data any
		if factory.data != nil {
			data = factory.data(next.Context, next.Event)
		}
		actor := factory.factory(next.Context, next.Event, data)
		s.mu.Lock()
		s.actors[id] = actor
		s.mu.Unlock()
		actor.Start()
	}
	for _, id := range next.StopRequests {
		s.mu.Lock()
		actor := s.actors[id]
		delete(s.actors, id)
		s.mu.Unlock()
		if actor != nil {
			actor.Stop()
		}
	}
	for _, id := range next.Cancellations {
		s.mu.Lock()
		t := s.timers[id]
		delete(s.timers, id)
		s.mu.Unlock()
		if t != nil {
			t.Stop()
		}
	}
	for _, send := range next.Outbox {
		send := send
		if send.Delay > 0 {
			timer := s.clk.AfterFunc(send.Delay, func() { s.deliver(send) })
			if send.SendID != "" {
				s.mu.Lock()
				s.timers[send.SendID] = timer
				s.mu.Unlock()
			}
			continue
		}
		s.deliver(send)
	}
}

func (s *Service[T]) deliver(send OutboundSend) {
	if send.To != "" {
		s.mu.Lock()
		actor := s.actors[send.To]
		s.mu.Unlock()
		if actor != nil {
			actor.Send(send.Event)
		}
		return
	}
	s.ext.Push(send.Event)
	s.drain()
}

// forwardAutoForward delivers event to every currently running actor
// whose Invoke declaration set AutoForward (spec §4.7).
func (s *Service[T]) forwardAutoForward(event Event) {
	if event == nil {
		return
	}
	model := s.machine.model
	s.mu.Lock()
	actors := make(map[string]embedded.Actor, len(s.actors))
	for k, v := range s.actors {
		actors[k] = v
	}
	s.mu.Unlock()
	for id, actor := range actors {
		if inv := findInvokeByID(model, id); inv != nil && inv.autoForward {
			actor.Send(event)
		}
	}
}

func findInvokeByID[T any](model *Model[T], id string) *invokeNode {
	for _, el := range model.namespace {
		if inv, ok := el.(*invokeNode); ok && inv.id == id {
			return inv
		}
	}
	return nil
}

func diffChildren[T any](prev, next *State[T]) (started, stopped []string) {
	var prevChildren map[string]struct{}
	if prev != nil {
		prevChildren = prev.Children
	}
	for id := range next.Children {
		if _, ok := prevChildren[id]; !ok {
			started = append(started, id)
		}
	}
	for id := range prevChildren {
		if _, ok := next.Children[id]; !ok {
			stopped = append(stopped, id)
		}
	}
	return
}
