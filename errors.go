package hsm

import "fmt"

// CompileError wraps a failure encountered while compiling a machine
// definition (spec §4.1): duplicate ids, dangling targets, malformed
// initial/choice declarations. Define returns *CompileError rather than
// panicking: builder misuse (e.g. Entry outside a State) is recovered and
// returned the same way.
type CompileError struct {
	Err error
}

func (e *CompileError) Error() string {
	if e == nil || e.Err == nil {
		return "hsm: compile error"
	}
	return fmt.Sprintf("hsm: compile error: %s", e.Err)
}

func (e *CompileError) Unwrap() error { return e.Err }

// GuardError wraps a panic or error surfaced while evaluating a guard
// during candidate selection. Per the decision recorded in DESIGN.md
// (Open Question 1), a guard error aborts the current selection attempt
// and is propagated to the caller rather than being treated as "guard
// failed"; it does not corrupt the machine's configuration, since
// selection happens before any exit/entry action has run.
type GuardError struct {
	Transition string
	Err        error
}

func (e *GuardError) Error() string {
	return fmt.Sprintf("hsm: guard error evaluating transition %s: %s", e.Transition, e.Err)
}

func (e *GuardError) Unwrap() error { return e.Err }

// ActionError wraps a panic or error surfaced while executing an entry,
// exit, activity, or transition-effect action during a microstep.
type ActionError struct {
	Action string
	Err    error
}

func (e *ActionError) Error() string {
	return fmt.Sprintf("hsm: action error executing %s: %s", e.Action, e.Err)
}

func (e *ActionError) Unwrap() error { return e.Err }

func recoverToError(into *error, wrap func(error) error) {
	if r := recover(); r != nil {
		var err error
		if e, ok := r.(error); ok {
			err = e
		} else {
			err = fmt.Errorf("%v", r)
		}
		if wrap != nil {
			err = wrap(err)
		}
		*into = err
	}
}
