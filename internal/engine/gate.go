// File: internal/engine/gate.go
package engine

// Gate is the transition taken at the end of an iteration.
type Gate uint8

const (
	// GateContinue enters the next iteration.
	GateContinue Gate = iota
	// GateEscalate sends the queued questions to the LLM, then continues.
	GateEscalate
	// GateStop ends the loop.
	GateStop
)

func (g Gate) String() string {
	switch g {
	case GateContinue:
		return "continue"
	case GateEscalate:
		return "escalate"
	case GateStop:
		return "stop"
	}
	return "unknown"
}

// Round summarizes one iteration for the gate.
type Round struct {
	// Resolved counts questions resolved or skipped locally.
	Resolved int
	// Corrections counts corrections applied after the fan-out.
	Corrections int
	// Queued is the LLM queue length after resolved questions were dropped.
	Queued int
	// Enqueued counts LLM requests added during the fan-out.
	Enqueued int
}

// Decide escalates only when nothing moved locally and questions wait for
// the model, and stops when nothing moved and nothing waits.
func Decide(r Round) Gate {
	if r.Resolved > 0 || r.Corrections > 0 {
		return GateContinue
	}
	if r.Queued > 0 {
		return GateEscalate
	}
	if r.Enqueued == 0 {
		return GateStop
	}
	return GateContinue
}
