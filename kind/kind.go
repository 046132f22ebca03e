// Package kind implements a compact tagged-variant "kind" encoding for every
// element in a compiled machine: state nodes, transitions, events, behaviors
// and actions all carry one of these values instead of a Go type switch.
//
// Kinds are 64-bit values built from a base id (1..255) optionally layered on
// top of one or more "parent" kinds via Kind(id, bases...). IsKind reports
// whether a value carries a given base anywhere in its ancestry, so e.g.
// IsKind(External, Transition) is true without External needing to embed
// Transition's full bit pattern by hand.
package kind

const (
	length   = 64
	idLength = 8
	depthMax = length / idLength
	idMask   = (1 << idLength) - 1
)

// Kind is a tagged-variant identifier carrying its own ancestry.
type Kind = uint64

// Bases returns the ancestor ids packed into t, most specific first.
func Bases(t Kind) [depthMax]Kind {
	var bases [depthMax]Kind
	for i := 1; i < depthMax; i++ {
		bases[i-1] = (t >> (idLength * i)) & idMask
	}
	return bases
}

// New builds a kind from a base id layered on top of zero or more parent kinds.
func New(id Kind, bases ...Kind) Kind {
	id = id & idMask
	ids := make(map[Kind]struct{})
	for _, base := range bases {
		for j := 0; j < depthMax; j++ {
			baseId := (base >> (idLength * j)) & idMask
			if baseId == 0 {
				break
			}
			if _, ok := ids[baseId]; !ok {
				ids[baseId] = struct{}{}
				id |= baseId << (idLength * len(ids))
			}
		}
	}
	return id
}

// IsKind reports whether kind carries any of the given bases in its ancestry.
func IsKind(k Kind, bases ...Kind) bool {
	for _, base := range bases {
		baseId := base & idMask
		if k == baseId {
			return true
		}
		for i := 0; i < depthMax; i++ {
			if (k>>(idLength*i))&idMask == baseId {
				return true
			}
		}
	}
	return false
}

// Registry is the full set of kinds used by the compiler and runtime.
type Registry struct {
	Null Kind

	Element    Kind
	Vertex     Kind
	Constraint Kind
	Behavior   Kind
	Machine    Kind
	State      Kind
	Final      Kind

	Transition Kind
	Internal   Kind
	External   Kind
	Local      Kind
	Self       Kind

	Event         Kind
	NullEvent     Kind
	WildcardEvent Kind
	TimeEvent     Kind
	CompletionEvent Kind
	DoneEvent     Kind
	ErrorEvent    Kind
	PlatformEvent Kind
	UpdateEvent   Kind

	Concurrent Kind // activities / invoked actors running alongside a state

	PseudoState Kind
	Initial     Kind
	Choice      Kind
	History     Kind
	ShallowHistory Kind
	DeepHistory    Kind
	Parallel       Kind

	Action Kind
	Assign Kind
	Raise  Kind
	Send   Kind
	Cancel Kind
	Log    Kind
	Pure   Kind
	Choose Kind
	Invoke Kind
	Stop   Kind
	Exec   Kind
}

// Kinds returns the process-wide kind registry, mirroring the teacher's
// package-level `var Kinds = kind.Kinds()`.
func Kinds() Registry {
	r := Registry{}
	r.Null = New(0)
	r.Element = New(1)
	r.Vertex = New(2, r.Element)
	r.Constraint = New(3, r.Element)
	r.Behavior = New(4, r.Element)
	r.Machine = New(5, r.Behavior)
	r.State = New(6, r.Vertex)
	r.Transition = New(7, r.Element)
	r.Internal = New(8, r.Transition)
	r.External = New(9, r.Transition)
	r.Local = New(10, r.Transition)
	r.Self = New(11, r.Transition)
	r.Event = New(12, r.Element)
	r.TimeEvent = New(13, r.Event)
	r.Concurrent = New(14, r.Behavior)
	r.PseudoState = New(15, r.Vertex)
	r.Initial = New(16, r.PseudoState)
	r.Choice = New(18, r.PseudoState)
	r.History = New(19, r.PseudoState)
	r.ShallowHistory = New(20, r.History)
	r.DeepHistory = New(21, r.History)
	r.Parallel = New(22, r.State)
	r.Final = New(23, r.Vertex)
	r.NullEvent = New(24, r.Event)
	r.WildcardEvent = New(25, r.Event)
	r.CompletionEvent = New(26, r.Event)
	r.DoneEvent = New(27, r.Event)
	r.ErrorEvent = New(28, r.Event)
	r.PlatformEvent = New(29, r.Event)
	r.UpdateEvent = New(30, r.Event)
	r.Action = New(31, r.Element)
	r.Assign = New(32, r.Action)
	r.Raise = New(33, r.Action)
	r.Send = New(34, r.Action)
	r.Cancel = New(35, r.Action)
	r.Log = New(36, r.Action)
	r.Pure = New(37, r.Action)
	r.Choose = New(38, r.Action)
	r.Invoke = New(39, r.Action)
	r.Stop = New(40, r.Action)
	r.Exec = New(41, r.Action)
	return r
}
