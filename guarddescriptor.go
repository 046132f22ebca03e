package hsm

import (
	"fmt"

	"github.com/statecraft/hsm/embedded"
)

// GuardDescriptor is the declarative, serializable form of a guard
// expression (spec §3 "guard"): either a named predicate resolved against
// the machine's guard registry, or one of the built-in combinators
// (stateIn/and/or/not) composed from other descriptors.
type GuardDescriptor struct {
	Op     string // "named", "stateIn", "and", "or", "not"
	Name   string
	Params map[string]any
	Value  StateValue
	Args   []*GuardDescriptor
}

// Named references a guard registered by name via Provide/WithConfig.
func Named(name string, params ...map[string]any) *GuardDescriptor {
	d := &GuardDescriptor{Op: "named", Name: name}
	if len(params) > 0 {
		d.Params = params[0]
	}
	return d
}

// StateIn builds a guard satisfied when the machine's current value
// recursively contains the given partial value (spec §4.5 stateIn).
func StateIn(value StateValue) *GuardDescriptor {
	return &GuardDescriptor{Op: "stateIn", Value: value}
}

// And composes guards that must all pass.
func And(args ...*GuardDescriptor) *GuardDescriptor { return &GuardDescriptor{Op: "and", Args: args} }

// Or composes guards where at least one must pass.
func Or(args ...*GuardDescriptor) *GuardDescriptor { return &GuardDescriptor{Op: "or", Args: args} }

// Not negates a guard.
func Not(arg *GuardDescriptor) *GuardDescriptor {
	return &GuardDescriptor{Op: "not", Args: []*GuardDescriptor{arg}}
}

// Guard attaches a closure-form guard to the enclosing transition.
func Guard[T any](fn GuardFn[T]) RedifinableElement[T] {
	return func(model *Model[T], stack []embedded.Element) embedded.Element {
		owner := find(stack, Kinds.Transition)
		if owner == nil {
			panic(fmt.Errorf("Guard must be declared within a Transition"))
		}
		t := owner.(*transitionNode)
		qn := join(t.QualifiedName(), ".guard")
		model.namespace[qn] = &constraintNode[T]{
			element: element{kind: Kinds.Constraint, qualifiedName: qn},
			fn:      fn,
		}
		t.guard = qn
		return t
	}
}

// GuardWith attaches a declarative GuardDescriptor to the enclosing
// transition, resolved at evaluation time against the machine's registry.
func GuardWith[T any](descriptor *GuardDescriptor) RedifinableElement[T] {
	return func(model *Model[T], stack []embedded.Element) embedded.Element {
		owner := find(stack, Kinds.Transition)
		if owner == nil {
			panic(fmt.Errorf("GuardWith must be declared within a Transition"))
		}
		t := owner.(*transitionNode)
		qn := join(t.QualifiedName(), ".guard")
		model.namespace[qn] = &constraintNode[T]{
			element:    element{kind: Kinds.Constraint, qualifiedName: qn},
			descriptor: descriptor,
		}
		t.guard = qn
		return t
	}
}

// evaluateGuard resolves and runs a compiled guard, recursing through the
// and/or/not/stateIn combinators for declarative descriptors.
func evaluateGuard[T any](m *Machine[T], qn string, ctx T, event Event, state *State[T]) (ok bool, err error) {
	defer recoverToError(&err, nil)
	if qn == "" {
		return true, nil
	}
	c := get[*constraintNode[T]](m.model, qn)
	if c == nil {
		return false, fmt.Errorf("unresolved guard %s", qn)
	}
	if c.fn != nil {
		return c.fn(ctx, event, state), nil
	}
	if c.descriptor != nil {
		return evaluateGuardDescriptor(m, c.descriptor, ctx, event, state)
	}
	return false, fmt.Errorf("guard %s has neither a closure nor a descriptor", qn)
}

func evaluateGuardDescriptor[T any](m *Machine[T], d *GuardDescriptor, ctx T, event Event, state *State[T]) (bool, error) {
	switch d.Op {
	case "named":
		fn, ok := m.guards[d.Name]
		if !ok {
			return false, fmt.Errorf("unknown named guard %q", d.Name)
		}
		return fn(ctx, event, state), nil
	case "stateIn":
		if state == nil {
			return false, nil
		}
		return Contains(state.Value, d.Value), nil
	case "and":
		for _, arg := range d.Args {
			ok, err := evaluateGuardDescriptor(m, arg, ctx, event, state)
			if err != nil {
				return false, err
			}
			if !ok {
				return false, nil
			}
		}
		return true, nil
	case "or":
		for _, arg := range d.Args {
			ok, err := evaluateGuardDescriptor(m, arg, ctx, event, state)
			if err != nil {
				return false, err
			}
			if ok {
				return true, nil
			}
		}
		return false, nil
	case "not":
		if len(d.Args) != 1 {
			return false, fmt.Errorf("not() requires exactly one argument")
		}
		ok, err := evaluateGuardDescriptor(m, d.Args[0], ctx, event, state)
		return !ok, err
	default:
		return false, fmt.Errorf("unknown guard op %q", d.Op)
	}
}
