package vm

import (
	"log/slog"

	"github.com/eth2030/agentsim/core/types"
	"github.com/eth2030/agentsim/log"
	"github.com/holiman/uint256"
)

// Tracer captures EVM execution step by step.
type Tracer interface {
	// CaptureStart is called at the beginning of a top-level call or create.
	CaptureStart(from, to types.Address, create bool, input []byte, gas uint64, value *uint256.Int)
	// CaptureState is called before each opcode executes, and once more
	// with err set when a frame fails.
	CaptureState(pc uint64, op OpCode, gas, cost uint64, stack *Stack, memory *Memory, depth int, err error)
	// CaptureEnd is called at the end of the top-level call or create.
	CaptureEnd(output []byte, gasUsed uint64, err error)
}

// StructLogEntry is a single step recorded by StructLogTracer.
type StructLogEntry struct {
	Pc      uint64
	Op      OpCode
	Gas     uint64
	GasCost uint64
	Depth   int
	Stack   []uint256.Int
	Err     error
}

// StructLogTracer collects every executed step in memory. Limit caps the
// number of entries kept; zero means unlimited.
type StructLogTracer struct {
	Logs  []StructLogEntry
	Limit int

	output  []byte
	err     error
	gasUsed uint64
}

// NewStructLogTracer returns a new StructLogTracer.
func NewStructLogTracer() *StructLogTracer {
	return &StructLogTracer{}
}

// CaptureStart resets the tracer so it can be reused.
func (t *StructLogTracer) CaptureStart(from, to types.Address, create bool, input []byte, gas uint64, value *uint256.Int) {
	t.Logs = t.Logs[:0]
	t.output, t.err, t.gasUsed = nil, nil, 0
}

// CaptureState records one opcode step with a copy of the stack.
func (t *StructLogTracer) CaptureState(pc uint64, op OpCode, gas, cost uint64, stack *Stack, memory *Memory, depth int, err error) {
	if t.Limit > 0 && len(t.Logs) >= t.Limit {
		return
	}
	t.Logs = append(t.Logs, StructLogEntry{
		Pc:      pc,
		Op:      op,
		Gas:     gas,
		GasCost: cost,
		Depth:   depth,
		Stack:   append([]uint256.Int(nil), stack.Data()...),
		Err:     err,
	})
}

// CaptureEnd records the result of the traced execution.
func (t *StructLogTracer) CaptureEnd(output []byte, gasUsed uint64, err error) {
	t.output = append([]byte(nil), output...)
	t.gasUsed = gasUsed
	t.err = err
}

func (t *StructLogTracer) Output() []byte  { return t.output }
func (t *StructLogTracer) GasUsed() uint64 { return t.gasUsed }
func (t *StructLogTracer) Error() error    { return t.err }

// LoggingTracer writes each step to a structured logger at debug level.
type LoggingTracer struct {
	logger *log.Logger
}

// NewLoggingTracer creates a tracer logging through l.
func NewLoggingTracer(l *log.Logger) *LoggingTracer {
	return &LoggingTracer{logger: l.Module("evm")}
}

func (t *LoggingTracer) CaptureStart(from, to types.Address, create bool, input []byte, gas uint64, value *uint256.Int) {
	t.logger.Debug("evm start", "from", from, "to", to, "create", create, "gas", gas, "value", value.Dec())
}

func (t *LoggingTracer) CaptureState(pc uint64, op OpCode, gas, cost uint64, stack *Stack, memory *Memory, depth int, err error) {
	if !t.logger.Enabled(slog.LevelDebug) {
		return
	}
	if err != nil {
		t.logger.Debug("evm fault", "pc", pc, "op", op.String(), "depth", depth, "err", err)
		return
	}
	t.logger.Debug("evm step", "pc", pc, "op", op.String(), "gas", gas, "cost", cost, "depth", depth, "stack", stack.Len())
}

func (t *LoggingTracer) CaptureEnd(output []byte, gasUsed uint64, err error) {
	t.logger.Debug("evm end", "gasUsed", gasUsed, "output", len(output), "err", err)
}
