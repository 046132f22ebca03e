// Package tests is a small scenario-runner harness shared by this module's
// own test files: drive a compiled Machine through InitialState and a
// sequence of events, asserting the resulting configuration after each step.
package tests

import (
	"testing"

	"github.com/statecraft/hsm"
	"github.com/stretchr/testify/require"
)

// Step describes one event dispatch and the shape of the configuration it
// must produce.
type Step[T any] struct {
	Event         hsm.Event
	Configured    []string
	NotConfigured []string
	Check         func(t *testing.T, state *hsm.State[T])
}

// Scenario drives a Machine through its initial state followed by Steps in
// order, asserting after each one.
type Scenario[T any] struct {
	Machine *hsm.Machine[T]
	Context T
	Initial struct {
		Configured    []string
		NotConfigured []string
		Check         func(t *testing.T, state *hsm.State[T])
	}
	Steps []Step[T]
}

// Run executes sc against t, failing immediately on the first violated
// assertion, and returns the final state.
func (sc Scenario[T]) Run(t *testing.T) *hsm.State[T] {
	t.Helper()
	state, err := sc.Machine.InitialState(sc.Context)
	require.NoError(t, err)
	assertConfiguration(t, "initial", state, sc.Initial.Configured, sc.Initial.NotConfigured)
	if sc.Initial.Check != nil {
		sc.Initial.Check(t, state)
	}
	for i, step := range sc.Steps {
		next, err := sc.Machine.Transition(state, step.Event)
		require.NoErrorf(t, err, "step %d (%s)", i, step.Event.Name())
		state = next
		assertConfiguration(t, step.Event.Name(), state, step.Configured, step.NotConfigured)
		if step.Check != nil {
			step.Check(t, state)
		}
	}
	return state
}

func assertConfiguration[T any](t *testing.T, label string, state *hsm.State[T], configured, notConfigured []string) {
	t.Helper()
	for _, qn := range configured {
		require.Truef(t, state.Configuration.Contains(qn), "%s: expected %s configured, got %v", label, qn, state.Value)
	}
	for _, qn := range notConfigured {
		require.Falsef(t, state.Configuration.Contains(qn), "%s: expected %s not configured, got %v", label, qn, state.Value)
	}
}
