package hsm

import (
	"fmt"

	"github.com/statecraft/hsm/embedded"
)

func registerBehavior[T any](model *Model[T], owner string, suffix string, actions []ActionDescriptor[T]) string {
	qn := join(owner, suffix)
	if existing := get[*behaviorNode[T]](model, qn); existing != nil {
		existing.actions = append(existing.actions, actions...)
		return qn
	}
	model.namespace[qn] = &behaviorNode[T]{
		element: element{kind: Kinds.Behavior, qualifiedName: qn},
		actions: actions,
	}
	return qn
}

// Entry declares the enclosing state's entry action list, run on every
// microstep that enters it (spec §4.3).
func Entry[T any](actions ...ActionDescriptor[T]) RedifinableElement[T] {
	return func(model *Model[T], stack []embedded.Element) embedded.Element {
		owner := find(stack, Kinds.State)
		if owner == nil {
			panic(fmt.Errorf("Entry must be declared within a State"))
		}
		owner.(*stateNode).entry = registerBehavior(model, owner.QualifiedName(), ".entry", actions)
		return owner
	}
}

// Exit declares the enclosing state's exit action list, run on every
// microstep that leaves it (spec §4.3).
func Exit[T any](actions ...ActionDescriptor[T]) RedifinableElement[T] {
	return func(model *Model[T], stack []embedded.Element) embedded.Element {
		owner := find(stack, Kinds.State)
		if owner == nil {
			panic(fmt.Errorf("Exit must be declared within a State"))
		}
		owner.(*stateNode).exit = registerBehavior(model, owner.QualifiedName(), ".exit", actions)
		return owner
	}
}

// Activity registers an action list on the enclosing state, exposed through
// the state's Activity() accessor (the diagram exporter reads it). Neither
// the microstep nor the interpreter runs these actions, on entry, on exit
// or at any other time.
func Activity[T any](actions ...ActionDescriptor[T]) RedifinableElement[T] {
	return func(model *Model[T], stack []embedded.Element) embedded.Element {
		owner := find(stack, Kinds.State)
		if owner == nil {
			panic(fmt.Errorf("Activity must be declared within a State"))
		}
		owner.(*stateNode).activity = registerBehavior(model, owner.QualifiedName(), ".activity", actions)
		return owner
	}
}

// Effect declares the enclosing transition's action list, run during the
// microstep that fires it, after exiting the exit set and before entering
// the entry set (spec §4.2, §4.3).
func Effect[T any](actions ...ActionDescriptor[T]) RedifinableElement[T] {
	return func(model *Model[T], stack []embedded.Element) embedded.Element {
		owner := find(stack, Kinds.Transition)
		if owner == nil {
			panic(fmt.Errorf("Effect must be declared within a Transition"))
		}
		t := owner.(*transitionNode)
		t.effect = registerBehavior(model, t.QualifiedName(), ".effect", actions)
		return t
	}
}

// invokeNode describes a child actor spawned on entry to its owning state
// (spec §3 "invoke descriptor", §4.7).
type invokeNode struct {
	element
	id             string
	src            string
	autoForward    bool
	sync           bool
	onDoneTarget   string
	onErrorTarget  string
}

func (i *invokeNode) InvokeID() string    { return i.id }
func (i *invokeNode) Src() string         { return i.src }
func (i *invokeNode) AutoForward() bool   { return i.autoForward }
func (i *invokeNode) Sync() bool          { return i.sync }

// invokeFactoryNode carries the typed ActorFactory through the namespace.
type invokeFactoryNode[T any] struct {
	element
	factory ActorFactory[T]
	data    func(ctx T, event Event) any
}

// ActorFactory builds a child embedded.Actor given the parent's context
// and the event that triggered entry (spec §4.7 invoke).
type ActorFactory[T any] func(ctx T, event Event, data any) embedded.Actor

// Invoke declares a child actor spawned when the enclosing state is
// entered and stopped when it is exited (spec §4.7). An empty id defaults
// to the state's qualified name, a ".", and the number of invocations
// already declared on that state (e.g. "/s.0").
func Invoke[T any](id string, factory ActorFactory[T], opts ...InvokeOption[T]) RedifinableElement[T] {
	return func(model *Model[T], stack []embedded.Element) embedded.Element {
		owner := find(stack, Kinds.State)
		if owner == nil {
			panic(fmt.Errorf("Invoke must be declared within a State"))
		}
		state := owner.(*stateNode)
		if id == "" {
			id = fmt.Sprintf("%s.%d", state.QualifiedName(), len(state.invocations))
		}
		node := &invokeNode{
			element: element{kind: Kinds.Invoke, qualifiedName: join(state.QualifiedName(), ".invoke."+id)},
			id:      id,
		}
		for _, opt := range opts {
			opt(node)
		}
		model.namespace[node.QualifiedName()] = node
		model.namespace[node.QualifiedName()+".factory"] = &invokeFactoryNode[T]{
			element: element{kind: Kinds.Invoke, qualifiedName: node.QualifiedName() + ".factory"},
			factory: factory,
		}
		state.invocations = append(state.invocations, node.QualifiedName())

		stack = append(stack, state)
		if node.onDoneTarget != "" {
			Transition(Source[T](state.QualifiedName()), Trigger[T](DoneInvoke(id)), Target[T](node.onDoneTarget))(model, stack)
		}
		if node.onErrorTarget != "" {
			Transition(Source[T](state.QualifiedName()), Trigger[T](ErrorPlatform(id)), Target[T](node.onErrorTarget))(model, stack)
		}
		return node
	}
}

// InvokeOption configures an Invoke declaration.
type InvokeOption[T any] func(*invokeNode)

// OnDone routes the child actor's completion event to a transition target
// local to the invoking state.
func OnDone[T any](target string) InvokeOption[T] {
	return func(n *invokeNode) { n.onDoneTarget = target }
}

// OnError routes the child actor's error event to a transition target
// local to the invoking state.
func OnError[T any](target string) InvokeOption[T] {
	return func(n *invokeNode) { n.onErrorTarget = target }
}

// AutoForward causes every event sent to the parent to also be forwarded
// to this child actor (spec §4.7).
func AutoForward[T any]() InvokeOption[T] { return func(n *invokeNode) { n.autoForward = true } }

// Sync sets the invocation's sync flag, readable through Sync(). The
// interpreter does not act on it: the parent neither waits for the child
// nor receives the child's state changes as events.
func Sync[T any]() InvokeOption[T] { return func(n *invokeNode) { n.sync = true } }
