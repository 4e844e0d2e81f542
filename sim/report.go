package sim

import (
	"fmt"
	"time"

	"github.com/eth2030/agentsim/core"
	"github.com/eth2030/agentsim/core/state"
	"github.com/eth2030/agentsim/core/types"
)

// TxResult is one transaction of a step with its outcome.
type TxResult struct {
	Agent   string
	Index   int
	Tx      *types.Transaction
	Outcome *core.Outcome
}

// AgentError records an agent whose Observe failed.
type AgentError struct {
	Agent string
	Err   error
}

// StepReport is the result of one settled step.
type StepReport struct {
	Step uint64
	// Block is the block the step's transactions executed in.
	Block       state.BlockInfo
	Results     []TxResult
	AgentErrors []AgentError
	// Snapshot is the handle retained after the step, zero if none.
	Snapshot state.SnapshotID
	Root     types.Hash
	Duration time.Duration
}

// Logs returns every log emitted during the step, in order.
func (r *StepReport) Logs() []*types.Log {
	var logs []*types.Log
	for _, res := range r.Results {
		logs = append(logs, res.Outcome.Logs...)
	}
	return logs
}

// FatalError is an internal invariant violation that halted the run.
type FatalError struct {
	Step   uint64
	Reason string
	Err    error
}

func (e *FatalError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("fatal at step %d: %s: %v", e.Step, e.Reason, e.Err)
	}
	return fmt.Sprintf("fatal at step %d: %s", e.Step, e.Reason)
}

func (e *FatalError) Unwrap() error { return e.Err }

// Report is the result of a run.
type Report struct {
	Steps     []*StepReport
	FinalRoot types.Hash
	// Interrupted is set when the context or timeout ended the run early.
	Interrupted bool
	Fatal       *FatalError
}

// Summary counts outcomes per status.
type Summary struct {
	Steps       int
	Success     int
	Revert      int
	Error       int
	Rejected    int
	AgentErrors int
	GasUsed     uint64
}

func (s Summary) String() string {
	return fmt.Sprintf("steps=%d success=%d revert=%d error=%d rejected=%d agentErrors=%d gasUsed=%d",
		s.Steps, s.Success, s.Revert, s.Error, s.Rejected, s.AgentErrors, s.GasUsed)
}

// Summary tallies the report.
func (r *Report) Summary() Summary {
	s := Summary{Steps: len(r.Steps)}
	for _, step := range r.Steps {
		s.AgentErrors += len(step.AgentErrors)
		for _, res := range step.Results {
			switch res.Outcome.Status {
			case core.StatusSuccess:
				s.Success++
			case core.StatusRevert:
				s.Revert++
			case core.StatusError:
				s.Error++
			case core.StatusRejected:
				s.Rejected++
			}
			s.GasUsed += res.Outcome.GasUsed
		}
	}
	return s
}

// Outcomes flattens the outcomes of all steps in execution order.
func (r *Report) Outcomes() []*core.Outcome {
	var out []*core.Outcome
	for _, step := range r.Steps {
		for _, res := range step.Results {
			out = append(out, res.Outcome)
		}
	}
	return out
}

// ReportSink receives step reports as they settle and the final report.
type ReportSink interface {
	WriteStep(r *StepReport) error
	Finish(r *Report, world *state.WorldState) error
}
