package lifecycle

import "testing"

func TestState_DefaultStarting(t *testing.T) {
	var s State
	if got := s.Phase(); got != PhaseStarting {
		t.Errorf("Phase() = %v, want starting", got)
	}
}

func TestState_ServeThenDrain(t *testing.T) {
	var s State
	s.Serve()
	if got := s.Phase(); got != PhaseServing {
		t.Fatalf("Phase() after Serve = %v, want serving", got)
	}
	s.Drain()
	if got := s.Phase(); got != PhaseDraining {
		t.Fatalf("Phase() after Drain = %v, want draining", got)
	}
	s.Serve()
	if got := s.Phase(); got != PhaseDraining {
		t.Errorf("Serve() after Drain changed phase to %v", got)
	}
}

func TestPhase_String(t *testing.T) {
	if PhaseDraining.String() != "draining" || Phase(42).String() != "unknown" {
		t.Error("Phase.String() mismatch")
	}
}
