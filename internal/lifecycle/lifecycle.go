package lifecycle

import "sync/atomic"

// Phase is the process lifecycle phase reported by /health.
type Phase int32

const (
	PhaseStarting Phase = iota
	PhaseServing
	PhaseDraining
)

func (p Phase) String() string {
	switch p {
	case PhaseStarting:
		return "starting"
	case PhaseServing:
		return "serving"
	case PhaseDraining:
		return "draining"
	default:
		return "unknown"
	}
}

// State holds the current phase. The zero value is PhaseStarting.
type State struct {
	phase atomic.Int32
}

// Serve marks the process ready for traffic. No-op once draining.
func (s *State) Serve() {
	s.phase.CompareAndSwap(int32(PhaseStarting), int32(PhaseServing))
}

// Drain marks the process as shutting down. Irreversible.
func (s *State) Drain() {
	s.phase.Store(int32(PhaseDraining))
}

func (s *State) Phase() Phase {
	return Phase(s.phase.Load())
}
