// Package lifecycle tracks the process phase shared by main, the health handler and the scheduler.
package lifecycle

import (
	"sync/atomic"
	"time"
)

// Phase is the coarse process state reported by /health.
type Phase int32

const (
	// PhaseStarting covers config load and cache warming.
	PhaseStarting Phase = iota
	// PhaseServing means the listener is accepting traffic.
	PhaseServing
	// PhaseDraining starts on SIGTERM/SIGINT; new traffic should go elsewhere.
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
	}
	return "unknown"
}

var (
	phase     atomic.Int32
	startedAt atomic.Int64 // unix nanos of the last transition into PhaseServing
)

// SetPhase records the current phase. Entering PhaseServing resets the uptime clock.
func SetPhase(p Phase) {
	if p == PhaseServing && Phase(phase.Load()) != PhaseServing {
		startedAt.Store(time.Now().UnixNano())
	}
	phase.Store(int32(p))
}

// CurrentPhase returns the recorded phase.
func CurrentPhase() Phase {
	return Phase(phase.Load())
}

// Uptime returns how long the process has been serving. Zero before PhaseServing.
func Uptime() time.Duration {
	ns := startedAt.Load()
	if ns == 0 {
		return 0
	}
	return time.Since(time.Unix(0, ns))
}

// SetShuttingDown switches between draining and serving.
func SetShuttingDown(v bool) {
	if v {
		SetPhase(PhaseDraining)
		return
	}
	SetPhase(PhaseServing)
}

// IsShuttingDown reports whether the process is draining.
func IsShuttingDown() bool {
	return CurrentPhase() == PhaseDraining
}
