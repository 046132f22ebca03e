package hsm_test

import (
	"testing"

	"github.com/statecraft/hsm"
	"github.com/statecraft/hsm/pkg/tests"
)

// buildParallelMachine compiles a two-region orthogonal state with a
// shallow history pseudostate in one region, exercising the entry-set
// algorithm's "parallel ancestor pulls in every other region's default
// descendants" path and history-restore-on-reentry.
func buildParallelMachine() *hsm.Machine[*storage] {
	m, err := hsm.Define[*storage](
		hsm.Parallel("p",
			hsm.State("a",
				hsm.State("a1",
					hsm.Transition(hsm.Trigger("NEXT"), hsm.Target("/p/a/a2")),
				),
				hsm.State("a2"),
				hsm.History("h", false),
				hsm.Initial("a1"),
			),
			hsm.State("b",
				hsm.State("b1"),
				hsm.State("b2"),
				hsm.Initial("b1"),
			),
		),
		hsm.State("done"),
		hsm.Initial("p"),
		hsm.Transition(hsm.Trigger("OUT"), hsm.Source("/p"), hsm.Target("/done")),
		hsm.Transition(hsm.Trigger("BACK"), hsm.Source("/done"), hsm.Target("/p/a/h")),
	)
	if err != nil {
		panic(err)
	}
	return m
}

func TestParallelRegionsAndShallowHistory(t *testing.T) {
	sc := tests.Scenario[*storage]{
		Machine: buildParallelMachine(),
		Context: &storage{},
		Steps: []tests.Step[*storage]{
			{
				// only region a's active child changes; region b is untouched.
				Event:         hsm.NewEvent("NEXT"),
				Configured:    []string{"/p/a/a2", "/p/b/b1"},
				NotConfigured: []string{"/p/a/a1"},
			},
			{
				// leaving the parallel state records a2 as region a's history.
				Event:         hsm.NewEvent("OUT"),
				Configured:    []string{"/done"},
				NotConfigured: []string{"/p", "/p/a", "/p/a/a2", "/p/b", "/p/b/b1"},
			},
			{
				// re-entering through region a's history restores a2 there,
				// while region b (never targeted) enters through its own
				// default initial transition via the shared parallel ancestor.
				Event:         hsm.NewEvent("BACK"),
				Configured:    []string{"/p", "/p/a", "/p/a/a2", "/p/b", "/p/b/b1"},
				NotConfigured: []string{"/done", "/p/a/a1", "/p/b/b2"},
			},
		},
	}
	sc.Initial.Configured = []string{"/p/a/a1", "/p/b/b1"}
	sc.Initial.NotConfigured = []string{"/done"}
	sc.Run(t)
}
