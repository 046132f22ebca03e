package hsm_test

import (
	"testing"

	"github.com/statecraft/hsm"
)

// jsonCtx is a context type with an exported field, since encoding/json
// silently drops storage's lowercase field and would make a round-trip
// assertion on Context meaningless.
type jsonCtx struct {
	Count int
}

// buildJSONMachine nests "region" two levels deep under "outer", carrying a
// tag and a shallow history pseudostate, giving MarshalJSON/StateFromJSON a
// non-trivial Value tree, a Tags set, a History entry to round-trip, and
// more than one compound ancestor that a post-restore transition's exit set
// must still walk through.
func buildJSONMachine() *hsm.Machine[jsonCtx] {
	m, err := hsm.Define[jsonCtx](
		hsm.State("outer",
			hsm.State("region",
				hsm.Tag[jsonCtx]("active"),
				hsm.State("r1",
					hsm.Transition(hsm.Trigger("NEXT"), hsm.Target("/outer/region/r2")),
				),
				hsm.State("r2"),
				hsm.History("h", false),
				hsm.Initial("r1"),
			),
			hsm.Initial("region"),
		),
		hsm.State("out"),
		hsm.Initial("outer"),
		hsm.Transition(hsm.Trigger("OUT"), hsm.Source("/outer/region"), hsm.Target("/out")),
	)
	if err != nil {
		panic(err)
	}
	return m
}

func TestStateJSONRoundTrip(t *testing.T) {
	m := buildJSONMachine()

	state, err := m.InitialState(jsonCtx{Count: 3})
	if err != nil {
		t.Fatal(err)
	}
	state, err = m.Transition(state, hsm.NewEvent("NEXT"))
	if err != nil {
		t.Fatal(err)
	}
	if !state.Configuration.Contains("/outer/region/r2") {
		t.Fatalf("expected /outer/region/r2 before serializing, got %v", state.Value)
	}
	if !state.HasTag("active") {
		t.Fatalf("expected the region tag before serializing")
	}

	data, err := state.MarshalJSON()
	if err != nil {
		t.Fatalf("MarshalJSON failed: %v", err)
	}
	restored, err := hsm.StateFromJSON(m, data)
	if err != nil {
		t.Fatalf("StateFromJSON failed: %v", err)
	}

	if !restored.Configuration.Contains("/outer/region/r2") {
		t.Fatalf("expected restored configuration to contain /outer/region/r2, got %v", restored.Value)
	}
	if restored.Configuration.Contains("/outer/region/r1") {
		t.Fatalf("restored configuration must not resurrect /outer/region/r1, got %v", restored.Value)
	}
	if !restored.Configuration.Contains("/outer/region") || !restored.Configuration.Contains("/outer") {
		t.Fatalf("restored configuration must contain every compound ancestor, not just the leaf, got %v", restored.Configuration.Slice())
	}
	if !restored.HasTag("active") {
		t.Fatalf("expected restored state to recompute the region tag from its configuration")
	}
	if restored.Context.Count != 3 {
		t.Fatalf("expected context to round-trip, got %+v", restored.Context)
	}
	if restored.Done != state.Done {
		t.Fatalf("expected Done to round-trip, got %v want %v", restored.Done, state.Done)
	}

	// Fire OUT from the restored snapshot itself, not the pre-serialization
	// one, so a missing compound ancestor in restored.Configuration would
	// actually be caught: its exit action, history recording and the
	// outer ancestor's own exit would all silently no-op otherwise.
	restored, err = m.Transition(restored, hsm.NewEvent("OUT"))
	if err != nil {
		t.Fatal(err)
	}
	if !restored.Configuration.Contains("/out") {
		t.Fatalf("expected /out after OUT, got %v", restored.Value)
	}
	if restored.Configuration.Contains("/outer") {
		t.Fatalf("/outer should have been exited once /out was entered, got %v", restored.Value)
	}
	if got := restored.History["/outer/region/h"]; len(got) != 1 || got[0] != "/outer/region/r2" {
		t.Fatalf("expected history to record /outer/region/r2, got %v", restored.History)
	}

	data, err = restored.MarshalJSON()
	if err != nil {
		t.Fatalf("MarshalJSON failed: %v", err)
	}
	restored, err = hsm.StateFromJSON(m, data)
	if err != nil {
		t.Fatalf("StateFromJSON failed: %v", err)
	}
	if got := restored.History["/outer/region/h"]; len(got) != 1 || got[0] != "/outer/region/r2" {
		t.Fatalf("expected restored history to record /outer/region/r2, got %v", restored.History)
	}
	if !restored.Configuration.Contains("/out") {
		t.Fatalf("expected restored configuration to contain /out, got %v", restored.Value)
	}
}
