package metrics

// Pre-defined simulation metrics. All metrics live in DefaultRegistry so they
// are globally accessible without passing a registry around.

var (
	// ---- Orchestrator ----

	// SimSteps counts settled simulation steps.
	SimSteps = DefaultRegistry.Counter("sim.steps")
	// SimStepTime records step duration in milliseconds.
	SimStepTime = DefaultRegistry.Histogram("sim.step_ms")
	// SimAgentErrors counts agent observe failures.
	SimAgentErrors = DefaultRegistry.Counter("sim.agent_errors")

	// ---- Transaction outcomes ----

	TxSuccess  = DefaultRegistry.Counter("sim.tx.success")
	TxRevert   = DefaultRegistry.Counter("sim.tx.revert")
	TxError    = DefaultRegistry.Counter("sim.tx.error")
	TxRejected = DefaultRegistry.Counter("sim.tx.rejected")
	// TxGasUsed records gas used per executed transaction.
	TxGasUsed = DefaultRegistry.Histogram("sim.gas_used")

	// ---- State ----

	// StateSnapshots tracks the number of retained world-state snapshots.
	StateSnapshots = DefaultRegistry.Gauge("state.snapshots")
	// StateApplies counts state diffs committed to the world state.
	StateApplies = DefaultRegistry.Counter("state.applies")

	// ---- EVM ----

	// EVMCalls counts EVM call/create frames entered.
	EVMCalls = DefaultRegistry.Counter("evm.calls")
)
