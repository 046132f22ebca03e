package hsm_test

import (
	"testing"

	"github.com/statecraft/hsm"
)

// buildParallelDoneMachine puts a final state in each of two orthogonal
// regions and listens for the resulting done.state(/p) completion event on
// the parallel state itself, exercising the internal-queue propagation that
// turns "every region reached its final state" into a regular transition
// trigger (spec §3, §4.4 "done.state").
func buildParallelDoneMachine() *hsm.Machine[*storage] {
	m, err := hsm.Define[*storage](
		hsm.Parallel("p",
			hsm.State("a",
				hsm.State("a1",
					hsm.Transition(hsm.Trigger("A_DONE"), hsm.Target("/p/a/a_final")),
				),
				hsm.Final("a_final"),
				hsm.Initial("a1"),
			),
			hsm.State("b",
				hsm.State("b1",
					hsm.Transition(hsm.Trigger("B_DONE"), hsm.Target("/p/b/b_final")),
				),
				hsm.Final("b_final"),
				hsm.Initial("b1"),
			),
			hsm.Transition(hsm.Trigger(hsm.DoneState("/p")), hsm.Target("/settled")),
		),
		hsm.State("settled"),
		hsm.Initial("p"),
	)
	if err != nil {
		panic(err)
	}
	return m
}

func TestParallelDoneStateFiresOnceAllRegionsFinal(t *testing.T) {
	m := buildParallelDoneMachine()

	state, err := m.InitialState(&storage{})
	if err != nil {
		t.Fatal(err)
	}
	if !state.Configuration.Contains("/p/a/a1") || !state.Configuration.Contains("/p/b/b1") {
		t.Fatalf("expected both regions at their initial state, got %v", state.Value)
	}

	state, err = m.Transition(state, hsm.NewEvent("A_DONE"))
	if err != nil {
		t.Fatal(err)
	}
	if !state.Configuration.Contains("/p/a/a_final") {
		t.Fatalf("expected region a final after A_DONE, got %v", state.Value)
	}
	if state.Configuration.Contains("/settled") {
		t.Fatalf("must not settle until every region reaches its final state, got %v", state.Value)
	}

	state, err = m.Transition(state, hsm.NewEvent("B_DONE"))
	if err != nil {
		t.Fatal(err)
	}
	if !state.Configuration.Contains("/settled") {
		t.Fatalf("expected done.state(/p) to fire /settled once both regions are final, got %v", state.Value)
	}
	if state.Configuration.Contains("/p") {
		t.Fatalf("/p should have been exited once /settled was entered, got %v", state.Value)
	}
}

// buildCompoundDoneMachine checks the simpler compound case: a state whose
// single active child becomes final raises done.state directly for its
// immediate parent, carrying that final child's DoneData along.
func buildCompoundDoneMachine() *hsm.Machine[*storage] {
	m, err := hsm.Define[*storage](
		hsm.State("s",
			hsm.State("working",
				hsm.Transition(hsm.Trigger("FINISH"), hsm.Target("/s/finished")),
			),
			hsm.Final("finished",
				hsm.DoneData(func(ctx *storage, event hsm.Event) any { return ctx.foo }),
			),
			hsm.Initial("working"),
			hsm.Transition(hsm.Trigger(hsm.DoneState("/s")), hsm.Target("/after")),
		),
		hsm.State("after"),
		hsm.Initial("s"),
	)
	if err != nil {
		panic(err)
	}
	return m
}

func TestCompoundDoneStateCarriesFinalChildData(t *testing.T) {
	m := buildCompoundDoneMachine()

	state, err := m.InitialState(&storage{foo: 7})
	if err != nil {
		t.Fatal(err)
	}
	if !state.Configuration.Contains("/s/working") {
		t.Fatalf("expected /s/working initially, got %v", state.Value)
	}

	state, err = m.Transition(state, hsm.NewEvent("FINISH"))
	if err != nil {
		t.Fatal(err)
	}
	if !state.Configuration.Contains("/after") {
		t.Fatalf("expected done.state(/s) to route to /after, got %v", state.Value)
	}
	if got := state.Event.Data(); got != 7 {
		t.Fatalf("expected the done.state(/s) event to carry the final child's data 7, got %v", got)
	}
}
