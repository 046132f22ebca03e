package hsm

import "fmt"

// ActionDescriptor is the declarative action union consumed by entry,
// exit, activity, and transition-effect lists (spec §3 "action
// descriptor"): assign, raise, send, cancel, log, choose, pure, stop, or a
// raw Exec closure.
type ActionDescriptor[T any] struct {
	kind uint64

	// Exec is the body of an Exec action, and of raw ActionFn-wrapped
	// closures passed to Entry/Exit/Effect.
	Exec ActionFn[T]

	// Assign updates the context.
	Assign func(ctx T, event Event, state *State[T]) T

	// Raise/Send describe an event to enqueue.
	EventName string
	EventData func(ctx T, event Event) any
	Delay     DelayFn[T]
	SendID    string
	To        string // actor id to Send to; "" means the interpreter itself

	// Cancel names a previously scheduled SendID to cancel.
	CancelID string

	// Log.
	Label   string
	LogExpr func(ctx T, event Event) any

	// Choose evaluates guarded branches in order, taking the first whose
	// guard (or unconditional default) passes.
	Branches []ChooseBranch[T]

	// Pure computes its action list dynamically from context/event.
	Pure func(ctx T, event Event) []ActionDescriptor[T]

	// Stop names a child actor (by invoke id) to terminate.
	Stop string
}

// ChooseBranch is one arm of a Choose action descriptor.
type ChooseBranch[T any] struct {
	Guard   GuardFn[T]
	GuardBy *GuardDescriptor
	Actions []ActionDescriptor[T]
}

// Exec wraps a raw Go function as an action descriptor.
func Exec[T any](fn ActionFn[T]) ActionDescriptor[T] {
	return ActionDescriptor[T]{kind: Kinds.Exec, Exec: fn}
}

// Assign updates the machine's context from the current context and event.
func Assign[T any](fn func(ctx T, event Event, state *State[T]) T) ActionDescriptor[T] {
	return ActionDescriptor[T]{kind: Kinds.Assign, Assign: fn}
}

// Raise enqueues an internal event, processed before any external event
// (spec §4.6).
func Raise[T any](name string, data ...func(ctx T, event Event) any) ActionDescriptor[T] {
	d := ActionDescriptor[T]{kind: Kinds.Raise, EventName: name}
	if len(data) > 0 {
		d.EventData = data[0]
	}
	return d
}

// Send enqueues an external event, optionally delayed and/or addressed to
// a specific actor (spec §4.6).
func Send[T any](name string, opts ...SendOption[T]) ActionDescriptor[T] {
	d := ActionDescriptor[T]{kind: Kinds.Send, EventName: name}
	for _, opt := range opts {
		opt(&d)
	}
	return d
}

// SendOption configures a Send action descriptor.
type SendOption[T any] func(*ActionDescriptor[T])

func WithData[T any](fn func(ctx T, event Event) any) SendOption[T] {
	return func(d *ActionDescriptor[T]) { d.EventData = fn }
}

func WithDelay[T any](fn DelayFn[T]) SendOption[T] {
	return func(d *ActionDescriptor[T]) { d.Delay = fn }
}

func WithSendID[T any](id string) SendOption[T] {
	return func(d *ActionDescriptor[T]) { d.SendID = id }
}

func WithTarget[T any](actorID string) SendOption[T] {
	return func(d *ActionDescriptor[T]) { d.To = actorID }
}

// Cancel revokes a previously scheduled delayed Send by id.
func Cancel[T any](sendID string) ActionDescriptor[T] {
	return ActionDescriptor[T]{kind: Kinds.Cancel, CancelID: sendID}
}

// Log emits a structured log line at the current microstep, with an
// optional computed payload (spec §3, ambient logging via slog).
func Log[T any](label string, expr ...func(ctx T, event Event) any) ActionDescriptor[T] {
	d := ActionDescriptor[T]{kind: Kinds.Log, Label: label}
	if len(expr) > 0 {
		d.LogExpr = expr[0]
	}
	return d
}

// Choose evaluates branches in order and runs the first whose guard
// passes, falling through silently if none do.
func Choose[T any](branches ...ChooseBranch[T]) ActionDescriptor[T] {
	return ActionDescriptor[T]{kind: Kinds.Choose, Branches: branches}
}

// When pairs a guard with an action list for use inside Choose.
func When[T any](guard GuardFn[T], actions ...ActionDescriptor[T]) ChooseBranch[T] {
	return ChooseBranch[T]{Guard: guard, Actions: actions}
}

// Otherwise is the unconditional default branch of a Choose, matched only
// if no earlier branch's guard passed.
func Otherwise[T any](actions ...ActionDescriptor[T]) ChooseBranch[T] {
	return ChooseBranch[T]{Actions: actions}
}

// Pure computes its action list dynamically rather than declaring one
// statically.
func Pure[T any](fn func(ctx T, event Event) []ActionDescriptor[T]) ActionDescriptor[T] {
	return ActionDescriptor[T]{kind: Kinds.Pure, Pure: fn}
}

// Stop terminates a previously invoked child actor by its invoke id.
func Stop[T any](invokeID string) ActionDescriptor[T] {
	return ActionDescriptor[T]{kind: Kinds.Stop, Stop: invokeID}
}

func actionListID[T any](owner string, suffix string, n int) string {
	return fmt.Sprintf("%s.%s.%d", owner, suffix, n)
}
