package hsm_test

import (
	"testing"

	"github.com/statecraft/hsm"
)

// buildCaughtActionErrorMachine panics in risky's entry action and declares
// an ordinary transition on the resulting error.execution event, exercising
// the raise-and-continue path of an action failure (spec §4.6, §7): the
// panic must not abort the microstep or surface as a Go error, only divert
// the machine through its own declared reaction.
func buildCaughtActionErrorMachine() *hsm.Machine[*storage] {
	m, err := hsm.Define[*storage](
		hsm.State("start",
			hsm.Transition(hsm.Trigger("GO"), hsm.Target("/risky")),
		),
		hsm.State("risky",
			hsm.Entry(hsm.Exec(func(ctx *storage, event hsm.Event, state *hsm.State[*storage]) {
				panic("boom")
			})),
			hsm.Transition(hsm.Trigger(hsm.EventErrorExecution), hsm.Target("/recovered")),
		),
		hsm.State("recovered"),
		hsm.Initial("start"),
	)
	if err != nil {
		panic(err)
	}
	return m
}

func TestActionPanicIsCatchableAsErrorExecution(t *testing.T) {
	m := buildCaughtActionErrorMachine()

	state, err := m.InitialState(&storage{})
	if err != nil {
		t.Fatal(err)
	}

	state, err = m.Transition(state, hsm.NewEvent("GO"))
	if err != nil {
		t.Fatalf("an action panic must raise error.execution rather than abort the transition, got err=%v", err)
	}
	if !state.Configuration.Contains("/recovered") {
		t.Fatalf("expected the declared error.execution transition to land in /recovered, got %v", state.Value)
	}
	if state.Configuration.Contains("/risky") {
		t.Fatalf("/risky should have been exited on the way to /recovered, got %v", state.Value)
	}
	if len(state.UnhandledErrors) != 0 {
		t.Fatalf("expected the error to be claimed by the declared transition, got %v", state.UnhandledErrors)
	}
}

// buildUnhandledActionErrorMachine panics in risky's entry action but never
// declares a reaction to error.execution, so the raised event settles
// unclaimed and must surface through State.UnhandledErrors/Service.OnError.
func buildUnhandledActionErrorMachine() *hsm.Machine[*storage] {
	m, err := hsm.Define[*storage](
		hsm.State("start",
			hsm.Transition(hsm.Trigger("GO"), hsm.Target("/risky")),
		),
		hsm.State("risky",
			hsm.Entry(hsm.Exec(func(ctx *storage, event hsm.Event, state *hsm.State[*storage]) {
				panic("boom")
			})),
			hsm.Transition(hsm.Trigger("NEXT"), hsm.Target("/after")),
		),
		hsm.State("after"),
		hsm.Initial("start"),
	)
	if err != nil {
		panic(err)
	}
	return m
}

func TestUnhandledActionErrorStopsStrictService(t *testing.T) {
	m := buildUnhandledActionErrorMachine()
	svc := hsm.Interpret[*storage](m, hsm.WithStrict[*storage]()).Start(mustInitial(t, m))

	var errs []error
	svc.OnError(func(err error) { errs = append(errs, err) })

	svc.Send(hsm.NewEvent("GO"))
	if len(errs) != 1 {
		t.Fatalf("expected exactly one unhandled error.execution reported, got %d: %v", len(errs), errs)
	}
	if !svc.State().Configuration.Contains("/risky") {
		t.Fatalf("expected /risky to still be entered despite the action panic, got %v", svc.State().Value)
	}

	svc.Send(hsm.NewEvent("NEXT"))
	if svc.State().Configuration.Contains("/after") {
		t.Fatalf("strict mode should stop draining after an unhandled error.execution, got %v", svc.State().Value)
	}
}
