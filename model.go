// Package hsm implements the compiler, transition algebra, microstep and
// macrostep engine, and actor interpreter for a hierarchical statechart
// runtime faithful to the SCXML algorithm (see SPEC_FULL.md).
//
// A machine is declared with Define using a small internal DSL of
// RedifinableElement builder functions (State, Transition, Initial, …),
// mirroring the teacher's apply-a-worklist-of-closures compiler: each
// builder function both registers its element in the model's namespace and
// can push follow-up closures onto the model's worklist, which Define
// drains to a fixpoint before returning the compiled Machine.
package hsm

import (
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/statecraft/hsm/embedded"
	"github.com/statecraft/hsm/kind"
)

// Kinds is the process-wide kind registry, exposed the way the teacher
// exposes `var Kinds = kind.Kinds()`.
var Kinds = kind.Kinds()

/******* element *******/

type element struct {
	kind          uint64
	qualifiedName string
	id            string
	order         int
	metadata      map[string]any
}

func (e *element) Kind() uint64 {
	if e == nil {
		return 0
	}
	return e.kind
}

func (e *element) Owner() string {
	if e == nil {
		return ""
	}
	return path.Dir(e.qualifiedName)
}

func (e *element) Id() string {
	if e == nil {
		return ""
	}
	if e.id != "" {
		return e.id
	}
	return e.qualifiedName
}

func (e *element) Name() string {
	if e == nil {
		return ""
	}
	return path.Base(e.qualifiedName)
}

func (e *element) QualifiedName() string {
	if e == nil {
		return ""
	}
	return e.qualifiedName
}

func (e *element) Metadata() map[string]any {
	if e == nil {
		return nil
	}
	return e.metadata
}

/******* vertex *******/

type vertex struct {
	element
	transitions []string
}

func (v *vertex) Transitions() []string { return v.transitions }
func (v *vertex) addTransition(id string) { v.transitions = append(v.transitions, id) }

/******* stateNode *******/

type stateNode struct {
	vertex
	entry       string
	exit        string
	activity    string
	initial     string // qualified name of the `.initial` pseudostate, if compound/parallel
	compound    bool
	parallel    bool
	final       bool
	historyKind int // 0 = not a history node, kind.ShallowHistory or kind.DeepHistory
	doneData    string // qualified name of a behavior computing final doneData
	invocations []string
	tags        []string
}

func (s *stateNode) Entry() string    { return s.entry }
func (s *stateNode) Exit() string     { return s.exit }
func (s *stateNode) Activity() string { return s.activity }
func (s *stateNode) IsCompound() bool { return s.compound }
func (s *stateNode) IsParallel() bool { return s.parallel }
func (s *stateNode) IsFinal() bool    { return s.final }
func (s *stateNode) Initial() string  { return s.initial }
func (s *stateNode) IsHistory() bool  { return s.historyKind != 0 }
func (s *stateNode) IsDeepHistory() bool {
	return s.historyKind == int(Kinds.DeepHistory)
}

/******* transitionNode *******/

type transitionNode struct {
	element
	source   string
	targets  []string
	guard    string
	effect   string
	events   []embedded.Event
	internal bool
	delayRef string // non-empty for `after`-synthesized transitions
}

func (t *transitionNode) Source() string { return t.source }
func (t *transitionNode) Target() string {
	if len(t.targets) == 0 {
		return ""
	}
	return t.targets[0]
}
func (t *transitionNode) Targets() []string      { return t.targets }
func (t *transitionNode) Guard() string          { return t.guard }
func (t *transitionNode) Effect() string         { return t.effect }
func (t *transitionNode) Events() []embedded.Event { return t.events }
func (t *transitionNode) Internal() bool         { return t.internal }

/******* behaviorNode / constraintNode *******/

// ActionFn is a user-supplied effect: entry, exit, activity, transition
// effect, or the body of an Exec action descriptor.
type ActionFn[T any] func(ctx T, event Event, state *State[T])

// GuardFn is a user-supplied guard predicate.
type GuardFn[T any] func(ctx T, event Event, state *State[T]) bool

// DelayFn computes the delay for an `after` transition from the current
// context.
type DelayFn[T any] func(ctx T) time.Duration

type behaviorNode[T any] struct {
	element
	actions []ActionDescriptor[T]
}

func (b *behaviorNode[T]) Action() any { return b.actions }

type constraintNode[T any] struct {
	element
	fn         GuardFn[T]
	descriptor *GuardDescriptor
}

func (c *constraintNode[T]) Expression() any { return c.fn }

/******* Model / RedifinableElement *******/

// RedifinableElement is a single compiler builder step: given the model
// under construction and the stack of enclosing elements, it registers (or
// mutates) an element and returns it.
type RedifinableElement[T any] func(model *Model[T], stack []embedded.Element) embedded.Element

// Model is the machine definition under construction. Namespace holds every
// compiled element, keyed by qualified name; Push queues follow-up builder
// steps (Target uses it to validate its target) that must run once the
// rest of the tree exists.
type Model[T any] struct {
	root      stateNode
	namespace map[string]embedded.Element
	elements  []RedifinableElement[T]
	orderSeq  int
}

func (m *Model[T]) Namespace() map[string]embedded.Element { return m.namespace }
func (m *Model[T]) Push(partial RedifinableElement[T])      { m.elements = append(m.elements, partial) }
func (m *Model[T]) nextOrder() int                           { m.orderSeq++; return m.orderSeq }
func (m *Model[T]) Id() string                               { return m.root.Id() }
func (m *Model[T]) QualifiedName() string                    { return m.root.QualifiedName() }

func apply[T any](model *Model[T], stack []embedded.Element, partials ...RedifinableElement[T]) {
	for _, partial := range partials {
		partial(model, stack)
	}
}

func find(stack []embedded.Element, maybeKinds ...uint64) embedded.Element {
	for i := len(stack) - 1; i >= 0; i-- {
		if kind.IsKind(stack[i].Kind(), maybeKinds...) {
			return stack[i]
		}
	}
	return nil
}

func get[E embedded.Element](model namespaceHolder, name string) E {
	var zero E
	if name == "" {
		return zero
	}
	if el, ok := model.Namespace()[name]; ok {
		if typed, ok := el.(E); ok {
			return typed
		}
	}
	return zero
}

type namespaceHolder interface {
	Namespace() map[string]embedded.Element
}

// join mimics path.Join but treats "" as the machine root "/".
func join(base, name string) string {
	if base == "" {
		base = "/"
	}
	return path.Join(base, name)
}

// lcca finds the least common compound ancestor of two qualified names —
// the glossary's LCCA (spec §4.3): the innermost node containing both.
func lcca(a, b string) string {
	if a == b {
		return path.Dir(a)
	}
	if a == "" {
		return b
	}
	if b == "" {
		return a
	}
	if path.Dir(a) == path.Dir(b) {
		return path.Dir(a)
	}
	if isAncestor(a, b) {
		return a
	}
	if isAncestor(b, a) {
		return b
	}
	return lcca(path.Dir(a), path.Dir(b))
}

// isAncestor reports whether current is a proper ancestor of target.
func isAncestor(current, target string) bool {
	current = path.Clean(current)
	target = path.Clean(target)
	if current == target || current == "." || target == "." {
		return false
	}
	if current == "/" {
		return true
	}
	parent := path.Dir(target)
	for parent != "/" {
		if parent == current {
			return true
		}
		parent = path.Dir(parent)
	}
	return parent == current
}

/******* Define / State / Transition builders *******/

// Define compiles a machine from a sequence of builder elements, draining
// the worklist to a fixpoint the way the teacher's Define/apply loop does:
// Target pushes a follow-up step (deferred target validation) that must
// see the whole tree. A panic raised by any builder step is returned as a
// *CompileError.
func Define[T any](elements ...RedifinableElement[T]) (*Machine[T], error) {
	model := &Model[T]{
		root: stateNode{
			vertex: vertex{element: element{kind: Kinds.State, qualifiedName: "/"}, transitions: []string{}},
		},
		namespace: map[string]embedded.Element{},
		elements:  elements,
	}
	model.root.compound = true
	var buildErr error
	func() {
		defer func() {
			if r := recover(); r != nil {
				if err, ok := r.(error); ok {
					buildErr = err
				} else {
					buildErr = fmt.Errorf("%v", r)
				}
			}
		}()
		stack := []embedded.Element{&model.root}
		for len(model.elements) > 0 {
			pending := model.elements
			model.elements = nil
			apply(model, stack, pending...)
		}
	}()
	if buildErr != nil {
		return nil, &CompileError{Err: buildErr}
	}
	if model.root.initial == "" {
		return nil, &CompileError{Err: fmt.Errorf("machine has no initial state")}
	}
	return &Machine[T]{model: model}, nil
}

// State declares a named child state (atomic unless it declares an Initial
// or is marked Parallel; child states alone do not make it compound).
func State[T any](name string, children ...RedifinableElement[T]) RedifinableElement[T] {
	return func(model *Model[T], stack []embedded.Element) embedded.Element {
		owner := find(stack, Kinds.Machine, Kinds.State)
		if owner == nil {
			panic(fmt.Errorf("state %q must be declared within a machine or state", name))
		}
		node := &stateNode{
			vertex: vertex{element: element{kind: Kinds.State, qualifiedName: join(owner.QualifiedName(), name), order: model.nextOrder()}, transitions: []string{}},
		}
		if _, exists := model.namespace[node.QualifiedName()]; exists {
			panic(fmt.Errorf("duplicate state id %q", node.QualifiedName()))
		}
		model.namespace[node.QualifiedName()] = node
		stack = append(stack, node)
		apply(model, stack, children...)
		if node.initial != "" {
			node.compound = true
		}
		return node
	}
}

// Parallel declares a named child state whose direct children are all
// simultaneously active orthogonal regions (spec §3 type=parallel).
func Parallel[T any](name string, children ...RedifinableElement[T]) RedifinableElement[T] {
	return func(model *Model[T], stack []embedded.Element) embedded.Element {
		el := State(name, children...)(model, stack)
		node := el.(*stateNode)
		node.parallel = true
		node.compound = false
		return node
	}
}

// Final marks the current state (or declares a named child state) as a
// final state, optionally with a DoneData mapper (spec §3, §4.4).
func Final[T any](nameOrDoneData any, children ...RedifinableElement[T]) RedifinableElement[T] {
	name := ""
	switch v := nameOrDoneData.(type) {
	case string:
		name = v
	case RedifinableElement[T]:
		children = append([]RedifinableElement[T]{v}, children...)
	}
	return func(model *Model[T], stack []embedded.Element) embedded.Element {
		var node *stateNode
		if name != "" {
			node = State(name, children...)(model, stack).(*stateNode)
		} else {
			owner := find(stack, Kinds.State)
			if owner == nil {
				panic(fmt.Errorf("final must be declared within a state"))
			}
			node = owner.(*stateNode)
		}
		node.final = true
		node.compound = false
		return node
	}
}

// doneDataNode carries the typed DoneData mapper through the untyped
// namespace, the way behaviorNode/constraintNode carry their closures.
type doneDataNode[T any] struct {
	element
	Fn func(ctx T, event Event) any
}

// DoneData attaches a final-state data mapper, consumed when the machine
// builds the `done.state.<id>` event data (spec §3).
func DoneData[T any](fn func(ctx T, event Event) any) RedifinableElement[T] {
	return func(model *Model[T], stack []embedded.Element) embedded.Element {
		owner := find(stack, Kinds.State)
		if owner == nil {
			panic(fmt.Errorf("DoneData must be declared within a final state"))
		}
		qn := join(owner.QualifiedName(), ".doneData")
		model.namespace[qn] = &doneDataNode[T]{
			element: element{kind: Kinds.Behavior, qualifiedName: qn},
			Fn:      fn,
		}
		owner.(*stateNode).doneData = qn
		return owner
	}
}

// History declares a history pseudostate child of the current state:
// shallow (records the last active direct child) or deep (records every
// last active atomic descendant) per spec §3/§4.4.
func History[T any](name string, deep bool) RedifinableElement[T] {
	return func(model *Model[T], stack []embedded.Element) embedded.Element {
		owner := find(stack, Kinds.State)
		if owner == nil {
			panic(fmt.Errorf("history %q must be declared within a state", name))
		}
		hkind := int(Kinds.ShallowHistory)
		if deep {
			hkind = int(Kinds.DeepHistory)
		}
		node := &stateNode{
			vertex:      vertex{element: element{kind: Kinds.History, qualifiedName: join(owner.QualifiedName(), name), order: model.nextOrder()}},
			historyKind: hkind,
		}
		model.namespace[node.QualifiedName()] = node
		return node
	}
}

// Tag attaches one or more tags to the enclosing state (spec §3 tag set).
func Tag[T any](tags ...string) RedifinableElement[T] {
	return func(model *Model[T], stack []embedded.Element) embedded.Element {
		owner := find(stack, Kinds.State)
		if owner == nil {
			panic(fmt.Errorf("tag must be declared within a state"))
		}
		owner.(*stateNode).tags = append(owner.(*stateNode).tags, tags...)
		return owner
	}
}

func normalizeTargetRef(stack []embedded.Element, name string) string {
	if name == "" {
		return ""
	}
	if strings.HasPrefix(name, "#") {
		return strings.TrimPrefix(name, "#")
	}
	if path.IsAbs(name) {
		return name
	}
	if ancestor := find(stack, Kinds.State); ancestor != nil {
		return join(ancestor.QualifiedName(), name)
	}
	return join("/", name)
}

// Source overrides a transition's source (default: the enclosing state).
func Source[T any](name string) RedifinableElement[T] {
	return func(model *Model[T], stack []embedded.Element) embedded.Element {
		owner := find(stack, Kinds.Transition)
		if owner == nil {
			panic(fmt.Errorf("Source must be declared within a Transition"))
		}
		owner.(*transitionNode).source = normalizeTargetRef(stack, name)
		return owner
	}
}

// Target adds a resolved target to the enclosing transition. Multiple
// Target calls on one transition enter multiple orthogonal regions.
func Target[T any](name string) RedifinableElement[T] {
	return func(model *Model[T], stack []embedded.Element) embedded.Element {
		owner := find(stack, Kinds.Transition)
		if owner == nil {
			panic(fmt.Errorf("Target must be declared within a Transition"))
		}
		t := owner.(*transitionNode)
		qn := normalizeTargetRef(stack, name)
		t.targets = append(t.targets, qn)
		model.Push(func(model *Model[T], stack []embedded.Element) embedded.Element {
			if _, ok := model.namespace[qn]; !ok {
				panic(fmt.Errorf("transition %s targets unknown state %s", t.QualifiedName(), qn))
			}
			return t
		})
		return t
	}
}

// Internal marks the enclosing transition as internal regardless of
// whether it declares a target (spec §3: "internal (bool)").
func Internal[T any]() RedifinableElement[T] {
	return func(model *Model[T], stack []embedded.Element) embedded.Element {
		owner := find(stack, Kinds.Transition)
		if owner == nil {
			panic(fmt.Errorf("Internal must be declared within a Transition"))
		}
		owner.(*transitionNode).internal = true
		return owner
	}
}

// Trigger adds one or more event tokens to the enclosing transition. A
// token of "" denotes a NULL (eventless, `always`) transition; "*" is the
// wildcard; a trailing ".*" is a prefix-token match (spec §3, §4.2).
func Trigger[T any](tokens ...string) RedifinableElement[T] {
	return func(model *Model[T], stack []embedded.Element) embedded.Element {
		owner := find(stack, Kinds.Transition)
		if owner == nil {
			panic(fmt.Errorf("Trigger must be declared within a Transition"))
		}
		t := owner.(*transitionNode)
		for _, tok := range tokens {
			t.events = append(t.events, &event{kind: Kinds.Event, name: tok})
		}
		return t
	}
}

// Always is sugar for Trigger("") — an eventless transition.
func Always[T any]() RedifinableElement[T] { return Trigger[T]("") }

// After declares a delayed transition: the enclosing transition fires
// `expr(ctx)` after entry of its source, unless canceled by exit first
// (spec §4.1.5).
func After[T any](expr DelayFn[T], maybeRef ...string) RedifinableElement[T] {
	return func(model *Model[T], stack []embedded.Element) embedded.Element {
		owner := find(stack, Kinds.Transition)
		if owner == nil {
			panic(fmt.Errorf("After must be declared within a Transition"))
		}
		t := owner.(*transitionNode)
		ref := maybeRef0(maybeRef, fmt.Sprintf("%d", len(t.events)))
		t.delayRef = ref
		qn := join(t.source, ".delay."+ref)
		model.namespace[qn] = &delayHolder[T]{element: element{kind: Kinds.TimeEvent, qualifiedName: qn}, fn: expr}
		t.events = append(t.events, &event{kind: Kinds.TimeEvent, name: AfterEvent(ref, t.source)})
		return t
	}
}

func maybeRef0(vs []string, def string) string {
	if len(vs) > 0 {
		return vs[0]
	}
	return def
}

// delayHolder carries a DelayFn through the namespace the way
// behaviorNode/constraintNode carry ActionFn/GuardFn.
type delayHolder[T any] struct {
	element
	fn DelayFn[T]
}

// Transition declares a transition on the enclosing state (or with an
// explicit Source).
func Transition[T any](children ...RedifinableElement[T]) RedifinableElement[T] {
	return func(model *Model[T], stack []embedded.Element) embedded.Element {
		owner := find(stack, Kinds.Vertex)
		if owner == nil {
			panic(fmt.Errorf("transition must be declared within a state"))
		}
		name := fmt.Sprintf("transition_%d", model.nextOrder())
		t := &transitionNode{
			element: element{kind: Kinds.Transition, qualifiedName: join(owner.QualifiedName(), name), order: model.nextOrder()},
			source:  owner.QualifiedName(),
			events:  []embedded.Event{},
		}
		model.namespace[t.QualifiedName()] = t
		stack = append(stack, t)
		apply(model, stack, children...)

		sourceEl, ok := model.namespace[t.source]
		if !ok {
			panic(fmt.Errorf("transition references unknown source %s", t.source))
		}
		if adder, ok := sourceEl.(interface{ addTransition(string) }); ok {
			adder.addTransition(t.QualifiedName())
		}
		if len(t.targets) == 0 {
			t.internal = true
		}
		// Auto-internal-by-leading-delimiter (spec §4.1) is deliberately not
		// derived here — see DESIGN.md: every Target() call in this DSL
		// addresses states by absolute path, so the literal rule would mark
		// nearly all transitions internal rather than the rare special case
		// it names in the original string-target convention.
		return t
	}
}

// Initial declares the compound/parallel initial transition: the
// enclosing state's (or machine root's) default entry target.
func Initial[T any](target string, children ...RedifinableElement[T]) RedifinableElement[T] {
	return func(model *Model[T], stack []embedded.Element) embedded.Element {
		owner := find(stack, Kinds.State)
		if owner == nil {
			owner = &model.root
		}
		qn := join(owner.QualifiedName(), ".initial")
		if _, exists := model.namespace[qn]; exists {
			panic(fmt.Errorf("state %s already has an initial transition", owner.QualifiedName()))
		}
		initialVertex := &vertex{element: element{kind: Kinds.Initial, qualifiedName: qn}}
		model.namespace[qn] = initialVertex
		targetQn := normalizeTargetRef(stack, target)
		all := append([]RedifinableElement[T]{Source[T](qn), Target[T](target)}, children...)
		stack = append(stack, initialVertex)
		tEl := Transition(all...)(model, stack)
		t := tEl.(*transitionNode)
		if t.guard != "" {
			panic(fmt.Errorf("initial transition of %s cannot have a guard", owner.QualifiedName()))
		}
		if len(t.events) != 0 {
			panic(fmt.Errorf("initial transition of %s cannot have triggers", owner.QualifiedName()))
		}
		ownerPrefix := owner.QualifiedName()
		if ownerPrefix == "/" {
			ownerPrefix = ""
		}
		if !strings.HasPrefix(targetQn, ownerPrefix+"/") && targetQn != owner.QualifiedName() {
			panic(fmt.Errorf("initial transition of %s must target a descendant, not %s", owner.QualifiedName(), targetQn))
		}
		if state, ok := owner.(*stateNode); ok {
			state.initial = qn
			state.compound = !state.parallel
		} else {
			model.root.initial = qn
		}
		return t
	}
}

// Choice declares a choice pseudostate with an ordered list of guarded
// transitions; the last transition must omit its guard and acts as the
// default (spec §3 candidate-selection "first guard-passing candidate wins").
func Choice[T any](name string, transitions ...RedifinableElement[T]) RedifinableElement[T] {
	return func(model *Model[T], stack []embedded.Element) embedded.Element {
		owner := find(stack, Kinds.State, Kinds.Transition)
		if owner == nil {
			panic(fmt.Errorf("choice must be declared within a state or as a transition target"))
		}
		if kind.IsKind(owner.Kind(), Kinds.Transition) {
			owner = find(stack, Kinds.State)
			if owner == nil {
				owner = &model.root
			}
		}
		qn := join(owner.QualifiedName(), name)
		node := &vertex{element: element{kind: Kinds.Choice, qualifiedName: qn, order: model.nextOrder()}}
		model.namespace[qn] = node
		stack = append(stack, node)
		apply(model, stack, transitions...)
		if len(node.transitions) == 0 {
			panic(fmt.Errorf("choice %s must have at least one transition", qn))
		}
		if last := get[*transitionNode](model, node.transitions[len(node.transitions)-1]); last != nil {
			if last.guard != "" {
				panic(fmt.Errorf("the last transition of choice %s cannot have a guard", qn))
			}
		}
		return node
	}
}
