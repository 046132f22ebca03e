package kind_test

import (
	"testing"

	"github.com/statecraft/hsm/kind"
)

func TestKinds(t *testing.T) {
	Kinds := kind.Kinds()

	if !kind.IsKind(Kinds.Machine, Kinds.Behavior) {
		t.Errorf("Machine should be a Behavior")
	}
	if kind.IsKind(Kinds.Machine, Kinds.Vertex) {
		t.Errorf("Machine should not be a Vertex")
	}
	if !kind.IsKind(Kinds.State, Kinds.Vertex) {
		t.Errorf("State should be a Vertex")
	}
	if kind.IsKind(Kinds.State, Kinds.Behavior) {
		t.Errorf("State should not be a Behavior")
	}
	if !kind.IsKind(Kinds.Choice, Kinds.PseudoState) {
		t.Errorf("Choice should be a PseudoState")
	}
	if !kind.IsKind(Kinds.Choice, Kinds.Vertex) {
		t.Errorf("Choice should be a Vertex")
	}
	if !kind.IsKind(Kinds.ShallowHistory, Kinds.History) {
		t.Errorf("ShallowHistory should be a History")
	}
	if !kind.IsKind(Kinds.DeepHistory, Kinds.PseudoState) {
		t.Errorf("DeepHistory should be a PseudoState")
	}
	if !kind.IsKind(Kinds.Parallel, Kinds.State) {
		t.Errorf("Parallel should be a State")
	}
	if !kind.IsKind(Kinds.Internal, Kinds.Transition) {
		t.Errorf("Internal should be a Transition")
	}
}
