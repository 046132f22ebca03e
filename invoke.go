package hsm

import "github.com/statecraft/hsm/embedded"

// machineActor adapts a running Interpreter to embedded.Actor so a machine
// can invoke another compiled machine as a child (spec §4.7 "invoke a
// nested machine").
type machineActor[T any] struct {
	svc *Service[T]
}

func (m *machineActor[T]) Id() string        { return m.svc.id }
func (m *machineActor[T]) Start()            { m.svc.Start() }
func (m *machineActor[T]) Stop()             { m.svc.Stop() }
func (m *machineActor[T]) Send(e embedded.Event) { m.svc.Send(e) }
func (m *machineActor[T]) Snapshot() any     { return m.svc.State() }

// NestedMachine builds an ActorFactory that spawns a freshly interpreted
// child machine when invoked, reporting its context type independently of
// the parent's (spec §4.7: invoked machines are fully independent
// sessions, not required to share a context shape with their parent).
func NestedMachine[T any, C any](machine *Machine[C], initialCtx C, opts ...InterpreterOption[C]) ActorFactory[T] {
	return func(ctx T, event Event, data any) embedded.Actor {
		svc := Interpret(machine.WithContext(initialCtx), opts...)
		return &machineActor[C]{svc: svc}
	}
}
