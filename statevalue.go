package hsm

import "github.com/statecraft/hsm/pkg/set"

// StateValue is the recursively defined value described in spec §3: either
// an atomic leaf (StringValue) or a mapping from child key to child value
// (MapValue), for compound and parallel regions respectively.
type StateValue interface {
	// Equal reports whether two state values describe the same tree of
	// keys with identical leaves.
	Equal(other StateValue) bool
	// contains reports whether this value recursively contains partial
	// (see Contains).
	contains(partial StateValue) bool
}

// StringValue is an atomic leaf state value (a leaf state's key).
type StringValue string

func (s StringValue) Equal(other StateValue) bool {
	o, ok := other.(StringValue)
	return ok && s == o
}

func (s StringValue) contains(partial StateValue) bool {
	p, ok := partial.(StringValue)
	return ok && s == p
}

// MapValue is a compound/parallel state value: child key -> child value.
type MapValue map[string]StateValue

func (m MapValue) Equal(other StateValue) bool {
	o, ok := other.(MapValue)
	if !ok || len(m) != len(o) {
		return false
	}
	for k, v := range m {
		ov, ok := o[k]
		if !ok || !v.Equal(ov) {
			return false
		}
	}
	return true
}

// contains reports whether partial is satisfied by m: every key in partial
// must be present in m with a value that recursively contains partial's.
func (m MapValue) contains(partial StateValue) bool {
	p, ok := partial.(MapValue)
	if !ok {
		return false
	}
	for k, v := range p {
		mv, ok := m[k]
		if !ok || !mv.contains(v) {
			return false
		}
	}
	return true
}

// Contains reports whether value satisfies the partial state value per
// spec §4.5's stateIn semantics: recursive containment, not equality.
func Contains(value, partial StateValue) bool {
	if value == nil || partial == nil {
		return value == partial
	}
	return value.contains(partial)
}

// valueToConfiguration flattens a StateValue into the set of every
// qualified name it names, relative to the node whose value this is (base
// is that node's qualified name, "" for the root) — not just the atomic
// leaves but every intermediate compound/parallel ancestor a MapValue key
// stands for, matching what buildValue/addDescendantStatesToEnter keep in
// Configuration during normal operation.
func valueToConfiguration(base string, value StateValue, into set.Set[string]) {
	switch v := value.(type) {
	case StringValue:
		into.Add(join(base, string(v)))
	case MapValue:
		for key, child := range v {
			qn := join(base, key)
			into.Add(qn)
			valueToConfiguration(qn, child, into)
		}
	}
}
