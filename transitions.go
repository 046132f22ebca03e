package hsm

import (
	"path"
	"sort"
	"strings"

	"github.com/statecraft/hsm/embedded"
	"github.com/statecraft/hsm/pkg/set"
)

// children returns the elements directly owned by qn (states,
// pseudostates and transitions), ordered by the document order of states
// and pseudostates.
func children[T any](model *Model[T], qn string) []embedded.NamedElement {
	var out []embedded.NamedElement
	for _, el := range model.namespace {
		named, ok := el.(embedded.NamedElement)
		if !ok {
			continue
		}
		if named.Owner() != qn {
			continue
		}
		if strings.HasPrefix(named.Name(), ".") {
			continue // skip synthesized helper elements (.initial, .entry, .guard, …)
		}
		out = append(out, named)
	}
	sort.Slice(out, func(i, j int) bool { return documentOrder(model, out[i].QualifiedName()) < documentOrder(model, out[j].QualifiedName()) })
	return out
}

func documentOrder[T any](model *Model[T], qn string) int {
	if el, ok := model.namespace[qn]; ok {
		if e, ok := el.(*stateNode); ok {
			return e.order
		}
		if e, ok := el.(*vertex); ok {
			return e.order
		}
	}
	return 0
}

func childStates[T any](model *Model[T], qn string) []*stateNode {
	var out []*stateNode
	for _, el := range children(model, qn) {
		if s, ok := el.(*stateNode); ok {
			out = append(out, s)
		}
	}
	return out
}

// matchesEventType reports whether a transition's declared event tokens
// match the given event name. "" matches only the NULL event; "*" matches
// every non-NULL event; a token ending in ".*" matches itself and anything sharing
// that dot-prefix (spec §4.2 "wildcard/prefix-token matching").
func matchesEventType(tokens []embedded.Event, eventName string) bool {
	for _, tok := range tokens {
		name := tok.Name()
		switch {
		case name == "" && eventName == "":
			return true
		case name == "*" && eventName != "":
			return true
		case strings.HasSuffix(name, ".*"):
			prefix := strings.TrimSuffix(name, ".*")
			if eventName == prefix || strings.HasPrefix(eventName, prefix+".") {
				return true
			}
		case name == eventName:
			return true
		}
	}
	return false
}

func isEventlessList(tokens []embedded.Event) bool {
	for _, tok := range tokens {
		if tok.Name() == "" {
			return true
		}
	}
	return len(tokens) == 0
}

// candidateTransitions returns the transitions of node (or, for a choice
// pseudostate, its outgoing transitions) whose event tokens match
// eventName, in document order.
func candidateTransitions[T any](model *Model[T], vertexQN string, eventName string) []*transitionNode {
	v, ok := model.namespace[vertexQN]
	if !ok {
		return nil
	}
	named, ok := v.(embedded.Vertex)
	if !ok {
		return nil
	}
	var out []*transitionNode
	for _, id := range named.Transitions() {
		t := get[*transitionNode](model, id)
		if t == nil {
			continue
		}
		if matchesEventType(t.events, eventName) {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].order < out[j].order })
	return out
}

// selectTransitions walks from every atomic active state up through its
// ancestors, in document order, picking for each the first enabled
// transition whose guard passes (spec §4.2). Parallel regions contribute
// independently; selected transitions that are not pairwise consistent
// (per SCXML's "are these transitions' exit sets disjoint" rule) are
// pruned in removeConflictingTransitions.
func (m *Machine[T]) selectTransitions(state *State[T], event Event) ([]*transitionNode, error) {
	eventName := ""
	if event != nil {
		eventName = event.Name()
	}
	return m.selectTransitionsFiltered(state, event, func(tokens []embedded.Event) bool {
		return matchesEventType(tokens, eventName)
	})
}

func (m *Machine[T]) selectEventlessTransitions(state *State[T]) ([]*transitionNode, error) {
	return m.selectTransitionsFiltered(state, nullEvent, isEventlessList)
}

func (m *Machine[T]) selectTransitionsFiltered(state *State[T], event Event, match func([]embedded.Event) bool) ([]*transitionNode, error) {
	atomics := sortedByDocumentOrder(m.model, atomicConfiguration(m.model, state.Configuration), false)
	var enabled []*transitionNode
	seenState := map[string]bool{}
	for _, leaf := range atomics {
		for cur := leaf; cur != "" ; cur = path.Dir(cur) {
			if seenState[cur] {
				if cur == path.Dir(cur) {
					break
				}
				continue
			}
			seenState[cur] = true
			node, ok := m.model.namespace[cur].(embedded.Vertex)
			if ok {
				found, err := m.firstEnabledTransition(node, event, match, state)
				if err != nil {
					return nil, err
				}
				if found != nil {
					enabled = append(enabled, found)
					break
				}
			}
			if cur == path.Dir(cur) || cur == "/" {
				break
			}
		}
	}
	return removeConflictingTransitions(m.model, enabled), nil
}

func (m *Machine[T]) firstEnabledTransition(v embedded.Vertex, event Event, match func([]embedded.Event) bool, state *State[T]) (*transitionNode, error) {
	var candidates []*transitionNode
	for _, id := range v.Transitions() {
		t := get[*transitionNode](m.model, id)
		if t != nil && match(t.events) {
			candidates = append(candidates, t)
		}
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].order < candidates[j].order })
	for _, t := range candidates {
		ok, err := evaluateGuard(m, t.guard, state.Context, event, state)
		if err != nil {
			return nil, &GuardError{Transition: t.QualifiedName(), Err: err}
		}
		if ok {
			return t, nil
		}
	}
	return nil, nil
}

// removeConflictingTransitions drops lower-priority transitions whose
// exit set overlaps an earlier one's, the way SCXML's microstep
// preprocessing does (spec §4.3).
func removeConflictingTransitions[T any](model *Model[T], enabled []*transitionNode) []*transitionNode {
	var filtered []*transitionNode
	for _, t1 := range enabled {
		conflict := false
		var toRemove []*transitionNode
		for _, t2 := range filtered {
			if transitionsConflict(model, t1, t2) {
				if isAncestor(sourceOf(t2), sourceOf(t1)) || sourceOf(t1) == sourceOf(t2) {
					toRemove = append(toRemove, t2)
				} else {
					conflict = true
					break
				}
			}
		}
		if conflict {
			continue
		}
		next := filtered[:0:0]
		for _, f := range filtered {
			remove := false
			for _, r := range toRemove {
				if f == r {
					remove = true
					break
				}
			}
			if !remove {
				next = append(next, f)
			}
		}
		filtered = append(next, t1)
	}
	return filtered
}

func sourceOf(t *transitionNode) string { return t.source }

func transitionsConflict[T any](model *Model[T], t1, t2 *transitionNode) bool {
	if t1 == t2 {
		return false
	}
	exit1 := transitionExitDomain(model, t1)
	exit2 := transitionExitDomain(model, t2)
	return exit1 == exit2 || isAncestor(exit1, exit2) || isAncestor(exit2, exit1)
}

// transitionExitDomain approximates a transition's domain (the LCCA of its
// source and every effective target) well enough to detect region overlap
// between candidates without needing the full effective-target resolution
// (history/initial expansion happens later, in computeExitSet).
func transitionExitDomain[T any](model *Model[T], t *transitionNode) string {
	if t.internal {
		return t.source
	}
	domain := t.source
	for _, target := range t.targets {
		domain = lcca(domain, target)
	}
	return domain
}

// atomicConfiguration returns the qualified names of the atomic (non
// compound/non-parallel) states in configuration — the states selection
// actually starts from, per spec §4.2: each atomic state attempts
// selection at itself, then climbs to successive proper ancestors until
// one candidate passes or the root is reached. An active compound or
// parallel ancestor is never an independent origin of its own; it is
// only ever reached via that climb.
func atomicConfiguration[T any](model *Model[T], configuration set.Set[string]) []string {
	var out []string
	for _, qn := range configuration.Slice() {
		if s, ok := model.namespace[qn].(*stateNode); ok && (s.compound || s.parallel) {
			continue
		}
		out = append(out, qn)
	}
	return out
}
