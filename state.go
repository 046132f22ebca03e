package hsm

import (
	"encoding/json"
	"time"

	"github.com/statecraft/hsm/embedded"
	"github.com/statecraft/hsm/pkg/set"
)

// State is the immutable snapshot returned after every transition (spec
// §3): the current StateValue, the user context, the triggering event, the
// full active configuration (every active state, ancestors included), and
// bookkeeping the interpreter needs to resume (history, internal queue,
// ids of the active invocations).
type State[T any] struct {
	Value         StateValue
	Context       T
	Event         Event
	InternalEvent SCXMLEvent
	Configuration set.Set[string]
	Tags          set.Set[string]
	Changed       bool
	Done          bool

	// History maps a history pseudostate's qualified name to the
	// configuration it should restore on re-entry (spec §4.4), carried
	// as-is through MarshalJSON/StateFromJSON for persistence.
	History map[string][]string

	// Children tracks active invocations by invoke id, surfaced to callers
	// who want to inspect running child actors without reaching into the
	// interpreter.
	Children map[string]struct{}

	// internalQueue carries raised events/eventless sentinels generated by
	// the microstep just completed, drained by the macrostep driver before
	// it considers the machine settled (spec §4.4).
	internalQueue []embedded.Event

	// Outbox, Cancellations and StopRequests are the side effects a
	// microstep wants performed but cannot perform itself, since Machine
	// is pure: the Interpreter reads these off every returned State and
	// schedules the sends, cancels the pending timers, and stops the
	// actors, respectively (spec §4.7).
	Outbox        []OutboundSend
	Cancellations []string
	StopRequests  []string

	// UnhandledErrors collects every error.execution raised during this
	// macrostep that settled with no transition to catch it (spec §4.6,
	// §7): an assign/action/invocation failure the machine itself never
	// routed anywhere via an onError-style transition. The Interpreter
	// surfaces these through OnError and, in strict mode, stops draining
	// further events.
	UnhandledErrors []error
}

// OutboundSend is a Send action descriptor's compiled intent, queued for
// the Interpreter to actually deliver (spec §4.6 "send").
type OutboundSend struct {
	To     string
	Event  Event
	Delay  time.Duration
	SendID string
}

func newState[T any](ctx T) *State[T] {
	return &State[T]{
		Context:       ctx,
		Configuration: set.New[string](),
		Tags:          set.New[string](),
		Children:      map[string]struct{}{},
		History:       map[string][]string{},
	}
}

// clone produces a shallow copy of s with its own mutable configuration,
// tag set and history map, so building the next State never mutates a
// previously returned one.
func (s *State[T]) clone() *State[T] {
	n := &State[T]{
		Value:         s.Value,
		Context:       s.Context,
		Event:         s.Event,
		InternalEvent: s.InternalEvent,
		Configuration: set.New[string](),
		Tags:          set.New[string](),
		Changed:       false,
		Done:          s.Done,
		History:       map[string][]string{},
		Children:      map[string]struct{}{},
	}
	for _, c := range s.Configuration.Slice() {
		n.Configuration.Add(c)
	}
	for _, t := range s.Tags.Slice() {
		n.Tags.Add(t)
	}
	for k, v := range s.History {
		cp := make([]string, len(v))
		copy(cp, v)
		n.History[k] = cp
	}
	for k := range s.Children {
		n.Children[k] = struct{}{}
	}
	return n
}

// Matches reports whether partial is satisfied by s.Value per the stateIn
// containment rule (spec §4.5).
func (s *State[T]) Matches(partial StateValue) bool {
	return Contains(s.Value, partial)
}

// HasTag reports whether tag is carried by any active state (spec §3 tag
// set).
func (s *State[T]) HasTag(tag string) bool {
	return s.Tags.Contains(tag)
}

// stateJSON is the wire representation of State used by MarshalJSON.
type stateJSON struct {
	Value   json.RawMessage `json:"value"`
	Context any             `json:"context"`
	Tags    []string        `json:"tags,omitempty"`
	Done    bool            `json:"done"`
	History map[string][]string `json:"history,omitempty"`
}

// MarshalJSON serializes a State for external persistence (spec §6): the
// value tree, context, tags and done flag. The configuration and internal
// queue are reconstructable from Value plus the compiled Machine, so they
// are not carried on the wire.
func (s *State[T]) MarshalJSON() ([]byte, error) {
	valueJSON, err := marshalStateValue(s.Value)
	if err != nil {
		return nil, err
	}
	return json.Marshal(stateJSON{
		Value:   valueJSON,
		Context: s.Context,
		Tags:    s.Tags.Slice(),
		Done:    s.Done,
		History: s.History,
	})
}

func marshalStateValue(v StateValue) (json.RawMessage, error) {
	switch t := v.(type) {
	case nil:
		return json.Marshal(nil)
	case StringValue:
		return json.Marshal(string(t))
	case MapValue:
		out := map[string]json.RawMessage{}
		for k, child := range t {
			raw, err := marshalStateValue(child)
			if err != nil {
				return nil, err
			}
			out[k] = raw
		}
		return json.Marshal(out)
	default:
		return json.Marshal(v)
	}
}

// StateFromJSON reconstructs a State snapshot from MarshalJSON's output
// (the context is decoded from the serialized data, or left as T's zero
// value when absent; the Machine's initial context is not used), then
// recomputes Configuration and Tags from Value the way the machine itself
// would.
func StateFromJSON[T any](m *Machine[T], data []byte) (*State[T], error) {
	var wire stateJSON
	if err := json.Unmarshal(data, &wire); err != nil {
		return nil, err
	}
	value, err := unmarshalStateValue(wire.Value)
	if err != nil {
		return nil, err
	}
	var ctx T
	if wire.Context != nil {
		raw, err := json.Marshal(wire.Context)
		if err != nil {
			return nil, err
		}
		if err := json.Unmarshal(raw, &ctx); err != nil {
			return nil, err
		}
	}
	s := newState(ctx)
	s.Value = value
	s.Done = wire.Done
	if wire.History != nil {
		s.History = wire.History
	}
	valueToConfiguration("", value, s.Configuration)
	for _, tag := range wire.Tags {
		s.Tags.Add(tag)
	}
	m.recomputeTags(s)
	return s, nil
}

func unmarshalStateValue(raw json.RawMessage) (StateValue, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return StringValue(s), nil
	}
	var m map[string]json.RawMessage
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, err
	}
	out := MapValue{}
	for k, v := range m {
		child, err := unmarshalStateValue(v)
		if err != nil {
			return nil, err
		}
		out[k] = child
	}
	return out, nil
}
