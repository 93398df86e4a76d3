package lifecycle

import "testing"

func TestPhase_Transitions(t *testing.T) {
	defer SetPhase(Starting)

	SetPhase(Starting)
	if IsShuttingDown() {
		t.Error("IsShuttingDown() = true while starting")
	}

	SetPhase(Serving)
	if got := CurrentPhase(); got != Serving {
		t.Errorf("CurrentPhase() = %v, want serving", got)
	}

	SetPhase(Draining)
	if !IsShuttingDown() {
		t.Error("IsShuttingDown() = false after SetPhase(Draining)")
	}
}

func TestPhase_String(t *testing.T) {
	tests := map[Phase]string{
		Starting: "starting",
		Serving:  "serving",
		Draining: "shutting-down",
		Phase(9): "unknown",
	}
	for p, want := range tests {
		if got := p.String(); got != want {
			t.Errorf("Phase(%d).String() = %q, want %q", p, got, want)
		}
	}
}
