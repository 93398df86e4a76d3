// Package lifecycle tracks the process phase for readiness reporting.
package lifecycle

import "sync/atomic"

// Phase is the coarse process state.
type Phase int32

const (
	Starting Phase = iota
	Serving
	Draining
)

func (p Phase) String() string {
	switch p {
	case Starting:
		return "starting"
	case Serving:
		return "serving"
	case Draining:
		return "shutting-down"
	}
	return "unknown"
}

var phase atomic.Int32

// SetPhase records the current phase. main moves Starting -> Serving once the listener
// is up and Serving -> Draining on SIGTERM/SIGINT.
func SetPhase(p Phase) {
	phase.Store(int32(p))
}

// CurrentPhase returns the last phase set.
func CurrentPhase() Phase {
	return Phase(phase.Load())
}

// IsShuttingDown reports whether the process is draining and should not receive new traffic.
func IsShuttingDown() bool {
	return CurrentPhase() == Draining
}
