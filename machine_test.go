package hsm_test

import (
	"slices"
	"testing"

	"github.com/statecraft/hsm"
	"github.com/statecraft/hsm/pkg/tests"
)

type trace struct {
	sync []string
}

func (tr *trace) reset() { tr.sync = nil }

func (tr *trace) matches(expected []string) bool {
	return slices.Equal(tr.sync, expected)
}

type storage struct {
	foo int
}

func mockAction(tr *trace, name string) hsm.ActionDescriptor[*storage] {
	return hsm.Exec(func(ctx *storage, event hsm.Event, state *hsm.State[*storage]) {
		tr.sync = append(tr.sync, name)
	})
}

// buildClassicMachine compiles the canonical seven-state, two-region
// example (s/s1/s11, s2/s21/s211, s3) used across the UML statechart
// literature, exercising compound entry/exit, guarded transitions,
// cross-region targets and a choice pseudostate.
func buildClassicMachine(tr *trace) *hsm.Machine[*storage] {
	m, err := hsm.Define[*storage](
		hsm.State("s",
			hsm.Entry(mockAction(tr, "s.entry")),
			hsm.Exit(mockAction(tr, "s.exit")),
			hsm.State("s1",
				hsm.State("s11",
					hsm.Entry(mockAction(tr, "s11.entry")),
					hsm.Exit(mockAction(tr, "s11.exit")),
				),
				hsm.Initial("s11", hsm.Effect(mockAction(tr, "s1.initial.effect"))),
				hsm.Exit(mockAction(tr, "s1.exit")),
				hsm.Entry(mockAction(tr, "s1.entry")),
				hsm.Transition(hsm.Trigger("I"), hsm.Effect(mockAction(tr, "s1.I.transition.effect"))),
				hsm.Transition(hsm.Trigger("A"), hsm.Target("/s/s1"), hsm.Effect(mockAction(tr, "s1.A.transition.effect"))),
			),
			hsm.Transition(hsm.Trigger("D"), hsm.Source("/s/s1/s11"), hsm.Target("/s/s1"),
				hsm.Effect(mockAction(tr, "s11.D.transition.effect")),
				hsm.Guard(func(ctx *storage, event hsm.Event, state *hsm.State[*storage]) bool {
					ok := ctx.foo == 1
					ctx.foo = 0
					return ok
				}),
			),
			hsm.Initial("s1/s11", hsm.Effect(mockAction(tr, "s.initial.effect"))),
			hsm.State("s2",
				hsm.Entry(mockAction(tr, "s2.entry")),
				hsm.Exit(mockAction(tr, "s2.exit")),
				hsm.State("s21",
					hsm.State("s211",
						hsm.Entry(mockAction(tr, "s211.entry")),
						hsm.Exit(mockAction(tr, "s211.exit")),
						hsm.Transition(hsm.Trigger("G"), hsm.Target("/s/s1/s11"), hsm.Effect(mockAction(tr, "s211.G.transition.effect"))),
					),
					hsm.Initial("s211", hsm.Effect(mockAction(tr, "s21.initial.effect"))),
					hsm.Entry(mockAction(tr, "s21.entry")),
					hsm.Exit(mockAction(tr, "s21.exit")),
				),
				hsm.Initial("s21/s211", hsm.Effect(mockAction(tr, "s2.initial.effect"))),
				hsm.Transition(hsm.Trigger("C"), hsm.Target("/s/s1"), hsm.Effect(mockAction(tr, "s2.C.transition.effect"))),
			),
			hsm.State("s3",
				hsm.Entry(mockAction(tr, "s3.entry")),
				hsm.Exit(mockAction(tr, "s3.exit")),
			),
		),
		hsm.Choice("initial_choice", hsm.Transition(hsm.Target("/s/s2"))),
		hsm.Initial("/initial_choice", hsm.Effect(mockAction(tr, "initial.effect"))),
		hsm.Transition(hsm.Trigger("D"), hsm.Source("/s"), hsm.Target("/s"), hsm.Effect(mockAction(tr, "s.D.transition.effect"))),
		hsm.Transition(hsm.Trigger("C"), hsm.Source("/s/s1"), hsm.Target("/s/s2"), hsm.Effect(mockAction(tr, "s1.C.transition.effect"))),
		hsm.Transition(hsm.Trigger("E"), hsm.Source("/s"), hsm.Target("/s/s1/s11"), hsm.Effect(mockAction(tr, "s.E.transition.effect"))),
		hsm.Transition(hsm.Trigger("G"), hsm.Source("/s/s1/s11"), hsm.Target("/s/s2/s21/s211"), hsm.Effect(mockAction(tr, "s11.G.transition.effect"))),
		hsm.Transition(hsm.Trigger("I"), hsm.Source("/s"), hsm.Effect(mockAction(tr, "s.I.transition.effect")),
			hsm.Guard(func(ctx *storage, event hsm.Event, state *hsm.State[*storage]) bool {
				ok := ctx.foo == 0
				ctx.foo = 1
				return ok
			}),
		),
		hsm.Choice("h_choice",
			hsm.Transition(hsm.Target("/s/s1"), hsm.Guard(func(ctx *storage, event hsm.Event, state *hsm.State[*storage]) bool {
				return ctx.foo == 0
			})),
			hsm.Transition(hsm.Target("/s/s2"), hsm.Effect(mockAction(tr, "s11.H.choice.transition.effect"))),
		),
		hsm.Transition(hsm.Trigger("H"), hsm.Source("/s/s1/s11"), hsm.Target("/h_choice"),
			hsm.Effect(mockAction(tr, "s11.H.transition.effect")),
		),
	)
	if err != nil {
		panic(err)
	}
	return m
}

func TestClassicInitialState(t *testing.T) {
	tr := &trace{}
	m := buildClassicMachine(tr)
	state, err := m.InitialState(&storage{})
	if err != nil {
		t.Fatal(err)
	}
	if !state.Configuration.Contains("/s/s2/s21/s211") {
		t.Fatalf("initial state is not /s/s2/s21/s211, got %v", state.Value)
	}
	if !tr.matches([]string{"initial.effect", "s.entry", "s2.entry", "s2.initial.effect", "s21.entry", "s211.entry"}) {
		t.Fatalf("trace is not correct: %v", tr.sync)
	}
}

func TestClassicCrossRegionTransition(t *testing.T) {
	tr := &trace{}
	m := buildClassicMachine(tr)
	state, err := m.InitialState(&storage{})
	if err != nil {
		t.Fatal(err)
	}
	tr.reset()
	state, err = m.Transition(state, hsm.NewEvent("G"))
	if err != nil {
		t.Fatal(err)
	}
	if !state.Configuration.Contains("/s/s1/s11") {
		t.Fatalf("state is not correct: %v", state.Value)
	}
	if !tr.matches([]string{"s211.exit", "s21.exit", "s2.exit", "s211.G.transition.effect", "s1.entry", "s11.entry"}) {
		t.Fatalf("trace is not correct: %v", tr.sync)
	}
}

func TestClassicGuardedSelfTransition(t *testing.T) {
	tr := &trace{}
	m := buildClassicMachine(tr)
	state, err := m.InitialState(&storage{})
	if err != nil {
		t.Fatal(err)
	}
	state, err = m.Transition(state, hsm.NewEvent("G"))
	if err != nil {
		t.Fatal(err)
	}
	// s1 declares its own unconditional "I" transition, which takes
	// priority over the guarded one declared on s: selection walks from
	// the active leaf up through ancestors and stops at the first vertex
	// with a matching enabled transition, so the outer one is never even
	// considered while s1's own fires. It has no target, so nothing
	// exits or re-enters.
	tr.reset()
	state, err = m.Transition(state, hsm.NewEvent("I"))
	if err != nil {
		t.Fatal(err)
	}
	if !state.Configuration.Contains("/s/s1/s11") {
		t.Fatalf("state is not correct: %v", state.Value)
	}
	if !tr.matches([]string{"s1.I.transition.effect"}) {
		t.Fatalf("trace is not correct: %v", tr.sync)
	}

	tr.reset()
	state, err = m.Transition(state, hsm.NewEvent("A"))
	if err != nil {
		t.Fatal(err)
	}
	if !state.Configuration.Contains("/s/s1/s11") {
		t.Fatalf("state is not correct: %v", state.Value)
	}
	if !tr.matches([]string{"s11.exit", "s1.exit", "s1.A.transition.effect", "s1.entry", "s1.initial.effect", "s11.entry"}) {
		t.Fatalf("trace is not correct: %v", tr.sync)
	}
}

func TestClassicScenarioHarness(t *testing.T) {
	tr := &trace{}
	sc := tests.Scenario[*storage]{
		Machine: buildClassicMachine(tr),
		Context: &storage{},
		Steps: []tests.Step[*storage]{
			{
				Event:         hsm.NewEvent("G"),
				Configured:    []string{"/s/s1/s11"},
				NotConfigured: []string{"/s/s2"},
			},
			{
				Event:         hsm.NewEvent("C"),
				Configured:    []string{"/s/s2/s21/s211"},
				NotConfigured: []string{"/s/s1"},
			},
		},
	}
	sc.Initial.Configured = []string{"/s/s2/s21/s211"}
	sc.Run(t)
}

func TestClassicChoicePseudostate(t *testing.T) {
	tr := &trace{}
	m := buildClassicMachine(tr)
	state, err := m.InitialState(&storage{})
	if err != nil {
		t.Fatal(err)
	}
	state, err = m.Transition(state, hsm.NewEvent("G")) // -> /s/s1/s11, foo == 0
	if err != nil {
		t.Fatal(err)
	}
	tr.reset()
	state, err = m.Transition(state, hsm.NewEvent("H"))
	if err != nil {
		t.Fatal(err)
	}
	// foo == 0 at this point, so the choice's first guarded candidate
	// (target /s/s1) wins and the choice pseudostate itself never appears
	// in the resulting configuration.
	if !state.Configuration.Contains("/s/s1/s11") {
		t.Fatalf("state is not correct: %v", state.Value)
	}
	if slices.Contains(tr.sync, "s11.H.choice.transition.effect") {
		t.Fatalf("the default choice branch should not have fired: %v", tr.sync)
	}
	if !slices.Contains(tr.sync, "s11.H.transition.effect") {
		t.Fatalf("trace is missing the triggering transition's effect: %v", tr.sync)
	}
}
