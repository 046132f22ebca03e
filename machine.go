package hsm

import (
	"path"

	"github.com/statecraft/hsm/pkg/set"
)

// Options registers named guards, actions, delays and actor factories
// without rebuilding the compiled tree (spec §6 "provide"). Only Guards is
// consulted, by Named guard descriptors (GuardWith(Named(...))); the
// Actions, Delays and Actors maps are stored on the machine but nothing
// reads them.
type Options[T any] struct {
	Guards  map[string]GuardFn[T]
	Actions map[string]ActionFn[T]
	Delays  map[string]DelayFn[T]
	Actors  map[string]ActorFactory[T]
}

// Machine is a compiled, immutable machine definition (spec §3 "Machine").
// It is safe for concurrent use: Transition and InitialState never mutate
// the receiver, only the registries installed by WithConfig/Provide are
// copy-on-write.
type Machine[T any] struct {
	model          *Model[T]
	initialContext T
	guards         map[string]GuardFn[T]
	actions        map[string]ActionFn[T]
	delays         map[string]DelayFn[T]
	actors         map[string]ActorFactory[T]
}

// Model exposes the compiled definition for devtools (diagram export,
// schema introspection) that need to walk the namespace directly.
func (m *Machine[T]) Model() *Model[T] { return m.model }

func (m *Machine[T]) withCopy(fn func(*Machine[T])) *Machine[T] {
	clone := &Machine[T]{
		model:          m.model,
		initialContext: m.initialContext,
		guards:         copyMap(m.guards),
		actions:        copyMap(m.actions),
		delays:         copyMap(m.delays),
		actors:         copyMap(m.actors),
	}
	fn(clone)
	return clone
}

func copyMap[K comparable, V any](src map[K]V) map[K]V {
	out := make(map[K]V, len(src))
	for k, v := range src {
		out[k] = v
	}
	return out
}

// WithContext returns a machine whose InitialState starts from ctx instead
// of T's zero value.
func (m *Machine[T]) WithContext(ctx T) *Machine[T] {
	return m.withCopy(func(c *Machine[T]) { c.initialContext = ctx })
}

// WithConfig merges named guards/actions/delays/actors into the machine's
// registries. Named guard descriptors resolve against the guard registry;
// the action, delay and actor registries are not read.
func (m *Machine[T]) WithConfig(options Options[T]) *Machine[T] {
	return m.withCopy(func(c *Machine[T]) {
		for k, v := range options.Guards {
			c.guards[k] = v
		}
		for k, v := range options.Actions {
			c.actions[k] = v
		}
		for k, v := range options.Delays {
			c.delays[k] = v
		}
		for k, v := range options.Actors {
			c.actors[k] = v
		}
	})
}

// Provide is an alias for WithConfig, matching the verb the rest of the
// pack's configuration-registry APIs use.
func (m *Machine[T]) Provide(options Options[T]) *Machine[T] { return m.WithConfig(options) }

// InitialState computes the machine's starting snapshot: the default
// entry set from the root, with entry actions executed against a fresh (or
// supplied) context (spec §4.1 "initial transition").
func (m *Machine[T]) InitialState(ctx ...T) (*State[T], error) {
	c := m.initialContext
	if len(ctx) > 0 {
		c = ctx[0]
	}
	state := newState(c)
	state.Event = NewEvent(EventInit)
	return m.enterInitial(state)
}

// Transition is the pure transition function (spec §4.1 "transition"):
// given a snapshot and an event, it returns the next snapshot, running the
// full micro/macrostep algorithm but never scheduling delayed sends or
// spawning actors itself — that is the Interpreter's job.
func (m *Machine[T]) Transition(state *State[T], event Event) (*State[T], error) {
	return m.macrostep(state, event)
}

// recomputeTags rebuilds s.Tags from s.Configuration by walking each
// configured state's ancestry and unioning every stateNode.tags found.
func (m *Machine[T]) recomputeTags(s *State[T]) {
	s.Tags = set.New[string]()
	seen := set.New[string]()
	for _, qn := range s.Configuration.Slice() {
		for cur := qn; cur != "" && cur != "/"; cur = path.Dir(cur) {
			if seen.Contains(cur) {
				continue
			}
			seen.Add(cur)
			if node := get[*stateNode](m.model, cur); node != nil {
				for _, tag := range node.tags {
					s.Tags.Add(tag)
				}
			}
			if cur == path.Dir(cur) {
				break
			}
		}
	}
}
