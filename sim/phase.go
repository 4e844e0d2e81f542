package sim

import (
	"errors"
	"fmt"
)

// ErrInvalidPhase is returned when an operation is not allowed in the
// current phase.
var ErrInvalidPhase = errors.New("sim: invalid phase")

// Phase is the orchestrator state.
type Phase uint32

const (
	Initialized Phase = iota
	Running
	Collecting
	Executing
	Settled
	Finished
)

var phaseNames = [...]string{
	Initialized: "initialized",
	Running:     "running",
	Collecting:  "collecting",
	Executing:   "executing",
	Settled:     "settled",
	Finished:    "finished",
}

func (p Phase) String() string {
	if int(p) < len(phaseNames) {
		return phaseNames[p]
	}
	return fmt.Sprintf("phase(%d)", uint32(p))
}

// transitions lists the legal successors of each phase.
var transitions = map[Phase][]Phase{
	Initialized: {Running, Finished},
	Running:     {Collecting, Finished},
	Collecting:  {Executing, Finished},
	Executing:   {Settled, Finished},
	Settled:     {Collecting, Finished},
}

func canTransition(from, to Phase) bool {
	for _, p := range transitions[from] {
		if p == to {
			return true
		}
	}
	return false
}

// idle reports whether no step is in flight and the run is not over.
func (p Phase) idle() bool {
	return p == Initialized || p == Running || p == Settled
}
