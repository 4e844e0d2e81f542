// Package sim implements the simulation orchestrator. A Simulation owns the
// world state and a population of agents, and advances discrete steps: it
// polls every agent, applies the proposed transactions in a fixed order and
// reports the outcomes back.
package sim

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync/atomic"

	"github.com/eth2030/agentsim/agent"
	"github.com/eth2030/agentsim/core"
	"github.com/eth2030/agentsim/core/state"
	"github.com/eth2030/agentsim/core/types"
	"github.com/eth2030/agentsim/log"
	"github.com/eth2030/agentsim/metrics"
	"github.com/holiman/uint256"
	"golang.org/x/sync/errgroup"
)

// AdminName is the name of the passive account every simulation starts with.
const AdminName = "admin"

// AdminAddress is the address of the admin account.
var AdminAddress = types.BytesToAddress([]byte{0x01})

var (
	ErrDuplicateName    = errors.New("sim: duplicate agent name")
	ErrDuplicateAddress = errors.New("sim: duplicate agent address")
	ErrNilAgent         = errors.New("sim: nil agent")
)

// Option configures a Simulation.
type Option func(*Simulation)

// WithSink persists step reports as they settle.
func WithSink(sink ReportSink) Option {
	return func(s *Simulation) { s.sink = sink }
}

// WithLogger replaces the module logger.
func WithLogger(l *log.Logger) Option {
	return func(s *Simulation) { s.logger = l }
}

// Simulation is the orchestrator. It is not safe for concurrent use; only
// Phase may be called from other goroutines.
type Simulation struct {
	config Config
	world  *state.WorldState
	exec   *core.Executor
	sink   ReportSink
	logger *log.Logger

	agents []agent.Agent
	names  map[string]int
	addrs  map[types.Address]int

	phase   atomic.Uint32
	step    uint64
	genesis state.SnapshotID
	// snapSteps maps retained snapshots to the step they were taken after.
	snapSteps map[state.SnapshotID]uint64
	reports   []*StepReport
	fatal     *FatalError
}

// New creates a simulation over world. The simulation takes ownership of
// world; callers must not mutate it afterwards.
func New(world *state.WorldState, config Config, opts ...Option) (*Simulation, error) {
	if world == nil {
		return nil, errors.New("sim: nil world state")
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	s := &Simulation{
		config:    config,
		world:     world,
		exec:      core.NewExecutor(config.Chain, config.VM),
		logger:    log.Default().Module("sim"),
		names:     make(map[string]int),
		addrs:     make(map[types.Address]int),
		snapSteps: make(map[state.SnapshotID]uint64),
	}
	for _, opt := range opts {
		opt(s)
	}
	if err := s.AddAgent(agent.NewUser(AdminName, AdminAddress)); err != nil {
		return nil, err
	}
	return s, nil
}

// Phase returns the current orchestrator phase.
func (s *Simulation) Phase() Phase { return Phase(s.phase.Load()) }

func (s *Simulation) setPhase(to Phase) error {
	from := s.Phase()
	if !canTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidPhase, from, to)
	}
	s.phase.Store(uint32(to))
	return nil
}

// Config returns the simulation configuration.
func (s *Simulation) Config() Config { return s.config }

// State returns a read-only view of the world state.
func (s *Simulation) State() state.View { return readOnly{s.world} }

// Root returns the current world state root.
func (s *Simulation) Root() types.Hash { return s.world.Root() }

// CurrentStep returns the last settled step, zero before the first.
func (s *Simulation) CurrentStep() uint64 { return s.step }

// Genesis returns the snapshot taken before the first step, zero if the
// run has not started.
func (s *Simulation) Genesis() state.SnapshotID { return s.genesis }

// Agents returns the registered agents in polling order.
func (s *Simulation) Agents() []agent.Agent {
	return append([]agent.Agent(nil), s.agents...)
}

// Agent returns the agent registered under name.
func (s *Simulation) Agent(name string) (agent.Agent, bool) {
	i, ok := s.names[name]
	if !ok {
		return nil, false
	}
	return s.agents[i], true
}

// Reports returns the step reports recorded so far.
func (s *Simulation) Reports() []*StepReport {
	return append([]*StepReport(nil), s.reports...)
}

// AddAgent registers a. Agents are polled in registration order. The
// agent's account is created if it does not exist.
func (s *Simulation) AddAgent(a agent.Agent) error {
	if a == nil {
		return ErrNilAgent
	}
	if !s.Phase().idle() {
		return fmt.Errorf("%w: add agent while %s", ErrInvalidPhase, s.Phase())
	}
	if _, ok := s.names[a.Name()]; ok {
		return fmt.Errorf("%w: %q", ErrDuplicateName, a.Name())
	}
	if i, ok := s.addrs[a.Address()]; ok {
		return fmt.Errorf("%w: %v already used by %q", ErrDuplicateAddress, a.Address(), s.agents[i].Name())
	}
	s.names[a.Name()] = len(s.agents)
	s.addrs[a.Address()] = len(s.agents)
	s.agents = append(s.agents, a)
	s.world.CreateAccount(a.Address())
	s.logger.Debug("agent added", "name", a.Name(), "address", a.Address())
	return nil
}

// start takes the genesis snapshot and enters Running.
func (s *Simulation) start() error {
	if s.Phase() != Initialized {
		return nil
	}
	if err := s.setPhase(Running); err != nil {
		return err
	}
	s.genesis = s.world.Snapshot()
	s.snapSteps[s.genesis] = 0
	s.logger.Info("simulation started", "agents", len(s.agents), "root", s.world.Root())
	return nil
}

// Run executes the configured number of steps, counting steps already
// taken with Step. The context and timeout are checked between steps only;
// when either ends the run the report is marked Interrupted. A fatal
// condition returns the report together with the *FatalError.
func (s *Simulation) Run(ctx context.Context) (*Report, error) {
	if s.Phase() == Finished {
		return nil, fmt.Errorf("%w: run already finished", ErrInvalidPhase)
	}
	if s.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.config.Timeout)
		defer cancel()
	}
	if err := s.start(); err != nil {
		return nil, err
	}
	interrupted := false
	for s.step < s.config.Steps {
		if ctx.Err() != nil {
			interrupted = true
			s.logger.Warn("simulation interrupted", "step", s.step, "err", ctx.Err())
			break
		}
		if _, err := s.Step(ctx); err != nil {
			return s.finish(interrupted), err
		}
	}
	report := s.finish(interrupted)
	return report, s.finishSink(report)
}

// finish enters Finished and builds the final report.
func (s *Simulation) finish(interrupted bool) *Report {
	if s.Phase() != Finished {
		s.phase.Store(uint32(Finished))
	}
	report := &Report{
		Steps:       append([]*StepReport(nil), s.reports...),
		FinalRoot:   s.world.Root(),
		Interrupted: interrupted,
		Fatal:       s.fatal,
	}
	sum := report.Summary()
	s.logger.Info("simulation finished", "steps", sum.Steps, "success", sum.Success, "revert", sum.Revert,
		"error", sum.Error, "rejected", sum.Rejected, "root", report.FinalRoot, "interrupted", interrupted)
	return report
}

func (s *Simulation) finishSink(report *Report) error {
	if s.sink == nil {
		return nil
	}
	if err := s.sink.Finish(report, s.world); err != nil {
		return fmt.Errorf("sim: report sink: %w", err)
	}
	return nil
}

// proposal is one transaction collected from an agent.
type proposal struct {
	agent int
	tx    *types.Transaction
}

// Step runs a single step: Collecting, Executing, Settled.
func (s *Simulation) Step(ctx context.Context) (*StepReport, error) {
	if err := s.start(); err != nil {
		return nil, err
	}
	if err := s.setPhase(Collecting); err != nil {
		return nil, err
	}
	var (
		timer  = metrics.NewTimer(metrics.SimStepTime)
		number = s.step + 1
		report = &StepReport{Step: number, Block: s.world.Block()}
	)
	proposals := s.collect(ctx, number, report)

	if err := s.setPhase(Executing); err != nil {
		return nil, err
	}
	var logIndex uint
	for i, p := range proposals {
		tx := p.tx.Copy()
		tx.From = s.agents[p.agent].Address()

		out := s.exec.Execute(tx, s.world)
		if out.Fatal != nil {
			s.reports = append(s.reports, report)
			return report, s.halt(number, "transaction commit", out.Fatal)
		}
		for _, l := range out.Logs {
			l.Step, l.TxIndex, l.Index = number, uint(i), logIndex
			logIndex++
		}
		report.Results = append(report.Results, TxResult{
			Agent:   s.agents[p.agent].Name(),
			Index:   i,
			Tx:      tx,
			Outcome: out,
		})
	}

	if err := s.setPhase(Settled); err != nil {
		return nil, err
	}
	s.settle(report)
	report.Duration = timer.Stop()
	metrics.SimSteps.Inc()
	s.logger.Info("step settled", "step", number, "block", report.Block.Number, "txs", len(report.Results),
		"agentErrors", len(report.AgentErrors), "root", report.Root, "elapsed", report.Duration)

	if s.sink != nil {
		if err := s.sink.WriteStep(report); err != nil {
			s.phase.Store(uint32(Finished))
			return report, fmt.Errorf("sim: report sink: %w", err)
		}
	}
	return report, nil
}

// collect polls every agent once. Proposals are ordered by agent
// registration index, then by the order the agent returned them, whether
// or not the agents ran in parallel.
func (s *Simulation) collect(ctx context.Context, step uint64, report *StepReport) []proposal {
	var (
		obs  = agent.Observation{Step: step, View: readOnly{s.world}}
		txs  = make([][]*types.Transaction, len(s.agents))
		errs = make([]error, len(s.agents))
	)
	if s.config.ParallelObserve && len(s.agents) > 1 {
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(runtime.GOMAXPROCS(0))
		for i, a := range s.agents {
			g.Go(func() error {
				txs[i], errs[i] = observe(gctx, a, obs)
				return nil
			})
		}
		_ = g.Wait()
	} else {
		for i, a := range s.agents {
			txs[i], errs[i] = observe(ctx, a, obs)
		}
	}

	var proposals []proposal
	for i, a := range s.agents {
		if errs[i] != nil {
			metrics.SimAgentErrors.Inc()
			s.logger.Warn("agent observe failed", "agent", a.Name(), "step", step, "err", errs[i])
			report.AgentErrors = append(report.AgentErrors, AgentError{Agent: a.Name(), Err: errs[i]})
			continue
		}
		for _, tx := range txs[i] {
			if tx != nil {
				proposals = append(proposals, proposal{agent: i, tx: tx})
			}
		}
	}
	return proposals
}

// observe runs one agent, turning a panic into an error.
func observe(ctx context.Context, a agent.Agent, obs agent.Observation) (txs []*types.Transaction, err error) {
	defer func() {
		if r := recover(); r != nil {
			txs, err = nil, fmt.Errorf("agent panicked: %v", r)
		}
	}()
	return a.Observe(ctx, obs)
}

// settle records the step, advances the block, retains a snapshot when due
// and notifies receivers.
func (s *Simulation) settle(report *StepReport) {
	s.step = report.Step
	report.Root = s.world.Root()
	// The snapshot captures the boundary after the block advanced, so a
	// rollback resumes in the next block.
	s.world.AdvanceBlock(s.config.BlockTime)
	if every := s.config.SnapshotEvery; every > 0 && report.Step%every == 0 {
		report.Snapshot = s.world.Snapshot()
		s.snapSteps[report.Snapshot] = report.Step
	}
	s.reports = append(s.reports, report)

	logs := report.Logs()
	for i, a := range s.agents {
		recv, ok := a.(agent.Receiver)
		if !ok {
			continue
		}
		fb := agent.Feedback{Step: report.Step}
		for _, res := range report.Results {
			if s.names[res.Agent] == i {
				fb.Results = append(fb.Results, agent.Result{Index: res.Index, Tx: res.Tx, Outcome: res.Outcome})
			}
		}
		if f, ok := a.(agent.Filterer); ok {
			fb.Logs = agent.FilterLogs(logs, f.Filters())
		}
		recv.Notify(fb)
	}
}

// halt records a fatal condition and finishes the run.
func (s *Simulation) halt(step uint64, reason string, err error) *FatalError {
	s.fatal = &FatalError{Step: step, Reason: reason, Err: err}
	s.phase.Store(uint32(Finished))
	s.logger.Error("simulation halted", "step", step, "reason", reason, "err", err)
	return s.fatal
}

// Rollback restores the world to a retained snapshot and rewinds the step
// counter to the step it was taken after. Reports of later steps are
// dropped. An invalid handle is an invariant violation and halts the run.
// Agents keep their internal state.
//
// A run that finished without a fatal error can be rolled back too; it
// returns to Settled and Run or Step continue from the restored step.
func (s *Simulation) Rollback(id state.SnapshotID) error {
	phase := s.Phase()
	reopen := phase == Finished && s.fatal == nil
	if !phase.idle() && !reopen {
		return fmt.Errorf("%w: rollback while %s", ErrInvalidPhase, phase)
	}
	if err := s.world.Restore(id); err != nil {
		return s.halt(s.step, "restore snapshot", err)
	}
	step := s.snapSteps[id]
	for sid := range s.snapSteps {
		if sid > id {
			delete(s.snapSteps, sid)
		}
	}
	kept := s.reports[:0]
	for _, r := range s.reports {
		if r.Step <= step {
			kept = append(kept, r)
		}
	}
	s.reports = kept
	s.step = step
	if phase == Running || reopen {
		s.phase.Store(uint32(Settled))
	}
	s.logger.Info("rolled back", "snapshot", id, "step", step, "root", s.world.Root())
	return nil
}

// Deploy creates a contract from the given initcode outside the step loop.
// The outcome is returned even when the creation fails; the error is then
// the unpacked execution error.
func (s *Simulation) Deploy(from types.Address, initcode []byte, value *uint256.Int) (*core.Outcome, error) {
	if !s.Phase().idle() {
		return nil, fmt.Errorf("%w: deploy while %s", ErrInvalidPhase, s.Phase())
	}
	tx := &types.Transaction{
		From:     from,
		Value:    types.CopyU256(value),
		Data:     append([]byte(nil), initcode...),
		GasLimit: s.setupGas(),
	}
	out := s.exec.Execute(tx, s.world)
	if out.Fatal != nil {
		return out, s.halt(s.step, "deploy commit", out.Fatal)
	}
	if _, err := out.Unpack(); err != nil {
		return out, fmt.Errorf("sim: deploy: %w", err)
	}
	s.logger.Debug("contract deployed", "from", from, "address", out.ContractAddress, "gasUsed", out.GasUsed)
	return out, nil
}

// Call runs a read-only call against the current state. Nothing is
// committed.
func (s *Simulation) Call(ctx context.Context, from, to types.Address, data []byte) *core.Outcome {
	return s.exec.Call(ctx, &types.Transaction{
		From:     from,
		To:       &to,
		Data:     data,
		GasLimit: s.setupGas(),
	}, s.world)
}

func (s *Simulation) setupGas() uint64 {
	if gl := s.world.Block().GasLimit; gl > 0 {
		return gl
	}
	return agent.DefaultGasLimit
}
