package hsm

import (
	"path"
	"sort"

	"github.com/statecraft/hsm/embedded"
	"github.com/statecraft/hsm/kind"
	"github.com/statecraft/hsm/pkg/set"
)

// getEffectiveTargetStates resolves a transition's declared targets into
// the atomic/compound states actually entered: a history pseudostate
// target expands to its recorded configuration (or, absent one, to the
// history node's default transition target), everything else passes
// through unchanged (spec §4.4 "history").
func getEffectiveTargetStates[T any](model *Model[T], t *transitionNode, state *State[T]) []string {
	var out []string
	for _, target := range t.targets {
		node, ok := model.namespace[target]
		if !ok {
			continue
		}
		if s, ok := node.(*stateNode); ok && s.historyKind != 0 {
			if recorded, ok := state.History[target]; ok {
				out = append(out, recorded...)
				continue
			}
			if def := candidateTransitions(model, target, ""); len(def) > 0 {
				out = append(out, getEffectiveTargetStates(model, def[0], state)...)
				continue
			}
		}
		out = append(out, target)
	}
	return out
}

// computeExitDomain returns the LCCA of a transition's source and its
// resolved effective targets (the transition's "domain" in SCXML terms).
func computeExitDomain[T any](model *Model[T], t *transitionNode, effectiveTargets []string) string {
	if t.internal || len(effectiveTargets) == 0 {
		return t.source
	}
	domain := t.source
	for _, target := range effectiveTargets {
		domain = lcca(domain, target)
	}
	return domain
}

// computeExitSet returns every currently active state that must be exited
// for the given enabled transitions to fire: every configured descendant
// of each transition's domain (spec §4.3).
func computeExitSet[T any](model *Model[T], configuration set.Set[string], enabled []*transitionNode, state *State[T]) []string {
	out := set.New[string]()
	for _, t := range enabled {
		effective := getEffectiveTargetStates(model, t, state)
		if len(effective) == 0 {
			// a targetless transition never exits/re-enters anything; it
			// only runs its own effect (spec §4.2 "targetless transition").
			continue
		}
		domain := computeExitDomain(model, t, effective)
		for _, active := range configuration.Slice() {
			if isAncestor(domain, active) {
				out.Add(active)
			}
		}
	}
	return sortedByDocumentOrder(model, out.Slice(), true)
}

// addDescendantStatesToEnter adds qn and, recursively, the states that must
// accompany it: its default initial child for a compound state, every
// child for a parallel state, recorded/default history content for a
// history pseudostate, or — for a choice pseudostate — the targets of
// whichever of its own outgoing transitions is first enabled, evaluated
// against the context/event being entered (spec §4.4, §3 "choice"). It never
// walks ancestors itself — the caller (computeEntrySet for a transition's
// own targets, or this function for a compound/history/choice node's
// resolved targets) is responsible for calling addAncestorStatesToEnter with
// the correct boundary once the descendant expansion is known.
func addDescendantStatesToEnter[T any](m *Machine[T], qn string, state *State[T], into *orderedSet, defaults map[string][]*transitionNode) error {
	model := m.model
	node, ok := model.namespace[qn]
	if !ok {
		return nil
	}
	if s, ok := node.(*stateNode); ok && s.historyKind != 0 {
		targets, ok := state.History[qn]
		if !ok {
			if def := candidateTransitions(model, qn, ""); len(def) > 0 {
				targets = def[0].targets
			}
		}
		for _, target := range targets {
			if err := addDescendantStatesToEnter(m, target, state, into, defaults); err != nil {
				return err
			}
		}
		for _, target := range targets {
			if err := addAncestorStatesToEnter(m, target, s.Owner(), state, into, defaults); err != nil {
				return err
			}
		}
		return nil
	}
	if v, ok := node.(*vertex); ok && kind.IsKind(v.Kind(), Kinds.Choice) {
		t, err := m.firstEnabledTransition(v, state.Event, func(tokens []embedded.Event) bool { return true }, state)
		if err != nil {
			return err
		}
		if t == nil {
			return nil
		}
		for _, target := range t.targets {
			if err := addDescendantStatesToEnter(m, target, state, into, defaults); err != nil {
				return err
			}
		}
		for _, target := range t.targets {
			if err := addAncestorStatesToEnter(m, target, v.Owner(), state, into, defaults); err != nil {
				return err
			}
		}
		return nil
	}
	into.add(qn)
	s, ok := node.(*stateNode)
	if !ok {
		return nil
	}
	if s.compound {
		if s.initial != "" {
			if init := get[*transitionNode](model, s.initial); init != nil {
				defaults[qn] = append(defaults[qn], init)
				for _, target := range init.targets {
					if err := addDescendantStatesToEnter(m, target, state, into, defaults); err != nil {
						return err
					}
				}
				for _, target := range init.targets {
					if err := addAncestorStatesToEnter(m, target, qn, state, into, defaults); err != nil {
						return err
					}
				}
			}
		}
	} else if s.parallel {
		for _, child := range childStates(model, qn) {
			if into.contains(child.QualifiedName()) {
				continue
			}
			if err := addDescendantStatesToEnter(m, child.QualifiedName(), state, into, defaults); err != nil {
				return err
			}
		}
	}
	return nil
}

// addAncestorStatesToEnter walks from qn's parent up to (but not
// including) ancestor, adding every intermediate compound ancestor and,
// for a parallel ancestor, every other region's default descendants so
// orthogonal siblings enter together (spec §4.4).
func addAncestorStatesToEnter[T any](m *Machine[T], qn string, ancestor string, state *State[T], into *orderedSet, defaults map[string][]*transitionNode) error {
	model := m.model
	for cur := path.Dir(qn); cur != "" && cur != ancestor; cur = path.Dir(cur) {
		into.add(cur)
		if s, ok := model.namespace[cur].(*stateNode); ok && s.parallel {
			for _, child := range childStates(model, cur) {
				if !into.contains(child.QualifiedName()) {
					if err := addDescendantStatesToEnter(m, child.QualifiedName(), state, into, defaults); err != nil {
						return err
					}
				}
			}
		}
		if cur == path.Dir(cur) {
			break
		}
	}
	return nil
}

// computeEntrySet returns every state that must be entered for the given
// enabled transitions to fire, in document order (spec §4.3, §4.4), plus
// the default-initial transitions (keyed by the compound state that owns
// them) whose effects must run immediately after that state's own entry
// action (spec §4.4 "initial").
func (m *Machine[T]) computeEntrySet(enabled []*transitionNode, state *State[T]) ([]string, map[string][]*transitionNode, error) {
	into := newOrderedSet()
	defaults := map[string][]*transitionNode{}
	for _, t := range enabled {
		effective := getEffectiveTargetStates(m.model, t, state)
		for _, target := range effective {
			if err := addDescendantStatesToEnter(m, target, state, into, defaults); err != nil {
				return nil, nil, err
			}
		}
		domain := computeExitDomain(m.model, t, effective)
		for _, target := range effective {
			if err := addAncestorStatesToEnter(m, target, domain, state, into, defaults); err != nil {
				return nil, nil, err
			}
		}
	}
	return sortedByDocumentOrder(m.model, into.items, false), defaults, nil
}

func sortedByDocumentOrder[T any](model *Model[T], qns []string, reverse bool) []string {
	out := append([]string{}, qns...)
	sort.Slice(out, func(i, j int) bool {
		oi, oj := documentOrder(model, out[i]), documentOrder(model, out[j])
		if reverse {
			return oi > oj
		}
		return oi < oj
	})
	return out
}

// orderedSet is a tiny insertion-deduplicating helper used while walking
// the entry/exit computation, kept local since set.Set has no ordering
// guarantees and entry/exit order is semantically load-bearing.
type orderedSet struct {
	items []string
	seen  map[string]bool
}

func newOrderedSet() *orderedSet { return &orderedSet{seen: map[string]bool{}} }

func (o *orderedSet) add(qn string) {
	if o.seen[qn] {
		return
	}
	o.seen[qn] = true
	o.items = append(o.items, qn)
}

func (o *orderedSet) contains(qn string) bool { return o.seen[qn] }

// recordHistory snapshots, for every history pseudostate child of an
// exiting compound/parallel state, the configuration it should restore on
// re-entry (spec §4.4): shallow records direct active children, deep
// records every active atomic descendant.
func recordHistory[T any](model *Model[T], exiting string, configuration set.Set[string], state *State[T]) {
	for _, el := range children(model, exiting) {
		s, ok := el.(*stateNode)
		if !ok || s.historyKind == 0 {
			continue
		}
		var recorded []string
		for _, active := range configuration.Slice() {
			if !isAncestor(exiting, active) && active != exiting {
				continue
			}
			if s.IsDeepHistory() {
				if isLeafConfigured(configuration, active) {
					recorded = append(recorded, active)
				}
			} else {
				if path.Dir(active) == exiting || isDirectChildOf(model, exiting, active) {
					recorded = append(recorded, active)
				}
			}
		}
		state.History[s.QualifiedName()] = recorded
	}
}

func isDirectChildOf[T any](model *Model[T], parent, qn string) bool {
	return path.Dir(qn) == parent
}

func isLeafConfigured(configuration set.Set[string], qn string) bool {
	if !configuration.Contains(qn) {
		return false
	}
	for _, other := range configuration.Slice() {
		if isAncestor(qn, other) {
			return false
		}
	}
	return true
}

// applyMicrostep executes one microstep for the given enabled, mutually
// non-conflicting transitions against state, returning the next state
// (spec §4.3): exit actions run in reverse document order, then every
// transition's effect, then entry actions in document order. Raised
// events land on the returned state's internal queue.
//
// An assign/action failure never aborts the microstep itself (spec §4.6
// "on exception, enqueue an error.execution raised event"): it is
// converted into a raised error.execution event via raiseExecutionError
// and the state finishes exiting/entering as normal, so a declared
// reaction to error.execution sees a consistent configuration. Only a
// structural failure computing the entry set itself (a choice
// pseudostate's guard, per Open Question 1) still aborts and returns a Go
// error.
func (m *Machine[T]) applyMicrostep(state *State[T], enabled []*transitionNode) (*State[T], error) {
	next := state.clone()
	next.internalQueue = nil
	// side effects and unclaimed errors of earlier microsteps in the same
	// macrostep stay on the state the macrostep finally returns
	next.Outbox = append([]OutboundSend{}, state.Outbox...)
	next.Cancellations = append([]string{}, state.Cancellations...)
	next.StopRequests = append([]string{}, state.StopRequests...)
	next.UnhandledErrors = append([]error{}, state.UnhandledErrors...)

	exitSet := computeExitSet(m.model, state.Configuration, enabled, state)
	for _, exiting := range exitSet {
		if s, ok := m.model.namespace[exiting].(*stateNode); ok && (s.compound || s.parallel) {
			recordHistory(m.model, exiting, state.Configuration, next)
		}
	}
	for _, exiting := range exitSet {
		if err := m.runBehavior(exiting+".exit", next, state.Event, exitBehaviorOf(m.model, exiting)); err != nil {
			m.raiseExecutionError(next, err)
		}
		m.stopInvocationsOf(exiting, next)
		m.cancelDelayedTransitionsOf(exiting, next)
		next.Configuration.Remove(exiting)
	}

	for _, t := range enabled {
		if err := m.runBehavior(t.QualifiedName(), next, state.Event, t.effect); err != nil {
			m.raiseExecutionError(next, err)
		}
	}

	entrySet, defaultEffects, err := m.computeEntrySet(enabled, state)
	if err != nil {
		return nil, err
	}
	var enteredFinals []string
	for _, entering := range entrySet {
		next.Configuration.Add(entering)
		if err := m.runBehavior(entering+".entry", next, state.Event, entryBehaviorOf(m.model, entering)); err != nil {
			m.raiseExecutionError(next, err)
		}
		m.startInvocationsOf(entering, next)
		m.scheduleDelayedTransitionsOf(entering, next)
		for _, init := range defaultEffects[entering] {
			if err := m.runBehavior(init.QualifiedName(), next, state.Event, init.effect); err != nil {
				m.raiseExecutionError(next, err)
			}
		}
		if s, ok := m.model.namespace[entering].(*stateNode); ok && s.final {
			enteredFinals = append(enteredFinals, entering)
		}
	}
	m.raiseDoneStateEvents(enteredFinals, next)

	next.Value = configurationToValue(m.model, next.Configuration)
	next.Changed = !next.Configuration.Equal(state.Configuration)
	m.recomputeTags(next)
	next.Done = m.isInFinalConfiguration(next)
	return next, nil
}

func exitBehaviorOf[T any](model *Model[T], qn string) string {
	if s, ok := model.namespace[qn].(*stateNode); ok {
		return s.exit
	}
	return ""
}

func entryBehaviorOf[T any](model *Model[T], qn string) string {
	if s, ok := model.namespace[qn].(*stateNode); ok {
		return s.entry
	}
	return ""
}

// configurationToValue rebuilds the tree-shaped StateValue described by
// the spec from a flat set of active atomic/compound qualified names
// (the inverse of valueToConfiguration).
func configurationToValue[T any](model *Model[T], configuration set.Set[string]) StateValue {
	return buildValue(model, "/", configuration)
}

func buildValue[T any](model *Model[T], qn string, configuration set.Set[string]) StateValue {
	node, ok := model.namespace[qn].(*stateNode)
	compound := qn == "/" || (ok && node.compound)
	parallel := ok && node.parallel
	if !compound && !parallel {
		return StringValue(path.Base(qn))
	}
	out := MapValue{}
	for _, child := range childStates(model, qn) {
		if !stateActive(configuration, child.QualifiedName()) {
			continue
		}
		childValue := buildValue(model, child.QualifiedName(), configuration)
		if leaf, ok := childValue.(StringValue); ok && !parallel {
			// a compound node whose active child is atomic takes that child's key
			return leaf
		}
		out[child.Name()] = childValue
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func stateActive(configuration set.Set[string], qn string) bool {
	if configuration.Contains(qn) {
		return true
	}
	for _, active := range configuration.Slice() {
		if isAncestor(qn, active) || active == qn {
			return true
		}
	}
	return false
}

func (m *Machine[T]) isInFinalConfiguration(state *State[T]) bool {
	root := &m.model.root
	return stateReachedDone(m.model, root.QualifiedName(), state.Configuration)
}

// raiseExecutionError wraps err as an ActionError (unless it already is
// one) and raises it as an error.execution internal event, carrying the
// error itself as the event's data so an onError-style transition can
// inspect it, and so settleEventless can record it in
// State.UnhandledErrors if nothing ever claims it (spec §4.6, §7).
func (m *Machine[T]) raiseExecutionError(next *State[T], err error) {
	var wrapped error = err
	if _, ok := err.(*ActionError); !ok {
		wrapped = &ActionError{Err: err}
	}
	next.internalQueue = append(next.internalQueue, NewEvent(EventErrorExecution, wrapped))
}

// raiseDoneStateEvents climbs from each final state entered this microstep
// through its compound/parallel ancestors, raising done.state.<id> on the
// internal queue for every ancestor whose own completion condition is now
// satisfied (spec §3, §4.4 "done.state" — a compound state is done once its
// active child is final, a parallel state once every region is). The root
// itself never gets a done.state event; completion of the whole machine is
// already surfaced via State.Done.
func (m *Machine[T]) raiseDoneStateEvents(enteredFinals []string, next *State[T]) {
	if len(enteredFinals) == 0 {
		return
	}
	raised := set.New[string]()
	for _, finalQn := range enteredFinals {
		node, ok := m.model.namespace[finalQn].(*stateNode)
		if !ok {
			continue
		}
		var data any
		if node.doneData != "" {
			if dd := get[*doneDataNode[T]](m.model, node.doneData); dd != nil && dd.Fn != nil {
				data = dd.Fn(next.Context, next.Event)
			}
		}
		qn := finalQn
		for {
			parent := path.Dir(qn)
			if parent == "/" {
				break
			}
			if !stateReachedDone(m.model, parent, next.Configuration) {
				break
			}
			if !raised.Contains(parent) {
				raised.Add(parent)
				next.internalQueue = append(next.internalQueue, NewEvent(DoneState(parent), data))
			}
			qn = parent
		}
	}
}

func stateReachedDone[T any](model *Model[T], qn string, configuration set.Set[string]) bool {
	node, ok := model.namespace[qn].(*stateNode)
	if ok && node.final {
		return true
	}
	kids := childStates(model, qn)
	if len(kids) == 0 {
		return qn != "/" && ok && node.final
	}
	if ok && node.parallel {
		for _, child := range kids {
			if !stateActive(configuration, child.QualifiedName()) {
				continue
			}
			if !stateReachedDone(model, child.QualifiedName(), configuration) {
				return false
			}
		}
		return true
	}
	for _, child := range kids {
		if stateActive(configuration, child.QualifiedName()) {
			return stateReachedDone(model, child.QualifiedName(), configuration)
		}
	}
	return false
}
