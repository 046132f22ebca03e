package hsm_test

import (
	"testing"
	"time"

	"github.com/statecraft/hsm"
	"github.com/statecraft/hsm/clock"
)

func buildFinalMachine() *hsm.Machine[*storage] {
	m, err := hsm.Define[*storage](
		hsm.State("run",
			hsm.Transition(hsm.Trigger("FINISH"), hsm.Target("/done")),
		),
		hsm.Final("done"),
		hsm.Initial("run"),
	)
	if err != nil {
		panic(err)
	}
	return m
}

func TestServiceReachesDoneOnFinalState(t *testing.T) {
	m := buildFinalMachine()
	svc := hsm.Interpret[*storage](m).Start(mustInitial(t, m))

	transitionCount := 0
	svc.OnTransition(func(s *hsm.State[*storage]) { transitionCount++ })

	done := false
	svc.OnDone(func(s *hsm.State[*storage]) { done = true })

	if !svc.State().Configuration.Contains("/run") {
		t.Fatalf("expected to start in /run, got %v", svc.State().Value)
	}

	svc.Send(hsm.NewEvent("FINISH"))

	if !svc.State().Configuration.Contains("/done") {
		t.Fatalf("expected /done after FINISH, got %v", svc.State().Value)
	}
	if !svc.State().Done {
		t.Fatalf("expected State.Done to be true")
	}
	if !done {
		t.Fatalf("expected OnDone callback to fire")
	}
	if transitionCount != 1 {
		t.Fatalf("expected exactly one OnTransition call, got %d", transitionCount)
	}
}

func buildDelayedMachine() *hsm.Machine[*storage] {
	m, err := hsm.Define[*storage](
		hsm.State("waiting",
			hsm.Transition(hsm.Trigger("SKIP"), hsm.Target("/skipped")),
			hsm.Transition(hsm.After(func(ctx *storage) time.Duration { return 5 * time.Second }), hsm.Target("/done")),
		),
		hsm.State("skipped"),
		hsm.Final("done"),
		hsm.Initial("waiting"),
	)
	if err != nil {
		panic(err)
	}
	return m
}

func TestServiceAfterTransitionFiresOnMockClockAdvance(t *testing.T) {
	m := buildDelayedMachine()
	mock := clock.NewMock()
	svc := hsm.Interpret[*storage](m, hsm.WithClock[*storage](mock)).Start(mustInitial(t, m))

	if !svc.State().Configuration.Contains("/waiting") {
		t.Fatalf("expected to start in /waiting, got %v", svc.State().Value)
	}

	mock.Advance(3 * time.Second)
	if !svc.State().Configuration.Contains("/waiting") {
		t.Fatalf("should still be waiting before the delay elapses, got %v", svc.State().Value)
	}

	mock.Advance(2 * time.Second)
	if !svc.State().Configuration.Contains("/done") {
		t.Fatalf("expected /done once the 5s delay elapses, got %v", svc.State().Value)
	}
	if !svc.State().Done {
		t.Fatalf("expected State.Done to be true")
	}
}

func TestServiceAfterTransitionCanceledByExit(t *testing.T) {
	m := buildDelayedMachine()
	mock := clock.NewMock()
	svc := hsm.Interpret[*storage](m, hsm.WithClock[*storage](mock)).Start(mustInitial(t, m))

	svc.Send(hsm.NewEvent("SKIP"))
	if !svc.State().Configuration.Contains("/skipped") {
		t.Fatalf("expected /skipped after SKIP, got %v", svc.State().Value)
	}

	mock.Advance(10 * time.Second)
	if !svc.State().Configuration.Contains("/skipped") {
		t.Fatalf("the canceled delayed transition must not fire after exit, got %v", svc.State().Value)
	}
}

func mustInitial(t *testing.T, m *hsm.Machine[*storage]) *hsm.State[*storage] {
	t.Helper()
	state, err := m.InitialState(&storage{})
	if err != nil {
		t.Fatal(err)
	}
	return state
}
