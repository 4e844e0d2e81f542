package sim

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/eth2030/agentsim/agent"
	"github.com/eth2030/agentsim/core"
	"github.com/eth2030/agentsim/core/state"
	"github.com/eth2030/agentsim/core/types"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	alice = types.HexToAddress("0x000000000000000000000000000000000000a11c")
	bob   = types.HexToAddress("0x0000000000000000000000000000000000000b0b")
	carol = types.HexToAddress("0x00000000000000000000000000000000000ca401")

	// revertCode reverts unconditionally with empty data.
	revertCode = []byte{0x60, 0x00, 0x60, 0x00, 0xfd}
	// logCode emits LOG1 with topic 0x2a and stops.
	logCode = []byte{0x60, 0x2a, 0x60, 0x00, 0x60, 0x00, 0xa1, 0x00}
)

// initcode wraps runtime in a constructor returning it.
func initcode(runtime []byte) []byte {
	prefix := []byte{
		0x60, byte(len(runtime)), // PUSH1 len
		0x80,       // DUP1
		0x60, 0x0b, // PUSH1 11
		0x60, 0x00, // PUSH1 0
		0x39,       // CODECOPY
		0x60, 0x00, // PUSH1 0
		0xf3, // RETURN
	}
	return append(prefix, runtime...)
}

func newWorld(balances map[types.Address]uint64) *state.WorldState {
	alloc := make(state.GenesisAlloc, len(balances))
	for addr, bal := range balances {
		alloc[addr] = state.GenesisAccount{Balance: uint256.NewInt(bal)}
	}
	return state.NewWorldState(alloc, state.BlockInfo{
		Number:    1,
		Timestamp: 1000,
		GasLimit:  30_000_000,
		ChainID:   1337,
	})
}

func testConfig(steps uint64) Config {
	cfg := DefaultConfig()
	cfg.Steps = steps
	return cfg
}

func newSim(t *testing.T, world *state.WorldState, cfg Config, agents ...agent.Agent) *Simulation {
	t.Helper()
	s, err := New(world, cfg)
	require.NoError(t, err)
	for _, a := range agents {
		require.NoError(t, s.AddAgent(a))
	}
	return s
}

func transfer(step uint64, to types.Address, value uint64) agent.Call {
	return agent.Call{Step: step, To: types.AddressPtr(to), Value: uint256.NewInt(value)}
}

func TestTransferScenario(t *testing.T) {
	world := newWorld(map[types.Address]uint64{alice: 1000})
	s := newSim(t, world, testConfig(1),
		agent.NewScripted("alice", alice, agent.Settings{}, []agent.Call{transfer(1, bob, 400)}))

	report, err := s.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, report.Steps, 1)
	require.Len(t, report.Steps[0].Results, 1)

	res := report.Steps[0].Results[0]
	assert.Equal(t, "alice", res.Agent)
	assert.Equal(t, core.StatusSuccess, res.Outcome.Status)
	assert.Equal(t, uint64(600), world.GetBalance(alice).Uint64())
	assert.Equal(t, uint64(400), world.GetBalance(bob).Uint64())
	assert.Equal(t, uint64(1), world.GetNonce(alice))
	assert.Equal(t, world.Root(), report.FinalRoot)
}

func TestInsufficientBalanceScenario(t *testing.T) {
	world := newWorld(map[types.Address]uint64{alice: 100})
	s := newSim(t, world, testConfig(1),
		agent.NewScripted("alice", alice, agent.Settings{}, []agent.Call{transfer(1, bob, 500)}))

	report, err := s.Run(context.Background())
	require.NoError(t, err)

	out := report.Outcomes()
	require.Len(t, out, 1)
	assert.Equal(t, core.StatusRejected, out[0].Status)
	assert.ErrorIs(t, out[0].Err, core.ErrInsufficientFunds)
	assert.Equal(t, uint64(100), world.GetBalance(alice).Uint64())
	assert.True(t, world.GetBalance(bob).IsZero())
	assert.Zero(t, world.GetNonce(alice))
}

func TestRevertScenario(t *testing.T) {
	world := newWorld(map[types.Address]uint64{alice: 1000})
	s, err := New(world, testConfig(1))
	require.NoError(t, err)

	deployed, err := s.Deploy(AdminAddress, initcode(revertCode), nil)
	require.NoError(t, err)
	contract := deployed.ContractAddress
	assert.Equal(t, revertCode, world.GetCode(contract))

	require.NoError(t, s.AddAgent(agent.NewScripted("alice", alice, agent.Settings{},
		[]agent.Call{transfer(1, contract, 50)})))

	report, err := s.Run(context.Background())
	require.NoError(t, err)
	out := report.Outcomes()
	require.Len(t, out, 1)
	assert.Equal(t, core.StatusRevert, out[0].Status)
	assert.Equal(t, uint64(1000), world.GetBalance(alice).Uint64())
	assert.True(t, world.GetBalance(contract).IsZero())
	assert.Equal(t, uint64(1), world.GetNonce(alice))
}

func TestDeployFailureReturnsOutcome(t *testing.T) {
	s, err := New(newWorld(nil), testConfig(1))
	require.NoError(t, err)

	out, err := s.Deploy(AdminAddress, revertCode, nil)
	require.Error(t, err)
	var execErr *core.ExecutionError
	require.ErrorAs(t, err, &execErr)
	assert.Equal(t, core.StatusRevert, execErr.Status)
	require.NotNil(t, out)
	assert.Equal(t, types.Address{}, out.ContractAddress)
}

// randomSim builds a population of random agents sending to each other.
func randomSim(t *testing.T, seed uint64, parallel bool) (*Simulation, *state.WorldState) {
	t.Helper()
	addrs := []types.Address{alice, bob, carol}
	balances := map[types.Address]uint64{alice: 1_000_000, bob: 1_000_000, carol: 1_000_000}
	world := newWorld(balances)
	cfg := testConfig(20)
	cfg.Seed = seed
	cfg.ParallelObserve = parallel
	s := newSim(t, world, cfg)
	for i, addr := range addrs {
		a, err := agent.NewRandom([]string{"alice", "bob", "carol"}[i], addr,
			agent.Settings{GasLimit: 21_000, GasPrice: uint256.NewInt(1)},
			agent.RandomPolicy{Targets: addrs, MaxValue: uint256.NewInt(500_000), Probability: 0.7}, seed)
		require.NoError(t, err)
		require.NoError(t, s.AddAgent(a))
	}
	return s, world
}

func statuses(r *Report) []string {
	var out []string
	for _, o := range r.Outcomes() {
		out = append(out, o.Status.String()+" "+o.Tx.String())
	}
	return out
}

func TestDeterminism(t *testing.T) {
	s1, _ := randomSim(t, 7, true)
	r1, err := s1.Run(context.Background())
	require.NoError(t, err)

	s2, _ := randomSim(t, 7, true)
	r2, err := s2.Run(context.Background())
	require.NoError(t, err)

	s3, _ := randomSim(t, 7, false)
	r3, err := s3.Run(context.Background())
	require.NoError(t, err)

	require.NotEmpty(t, r1.Outcomes())
	assert.Equal(t, statuses(r1), statuses(r2))
	assert.Equal(t, r1.FinalRoot, r2.FinalRoot)
	assert.Equal(t, r1.FinalRoot, r3.FinalRoot, "parallel observation must not change the result")
	for i := range r1.Steps {
		assert.Equal(t, r1.Steps[i].Root, r2.Steps[i].Root)
	}

	s4, _ := randomSim(t, 8, true)
	r4, err := s4.Run(context.Background())
	require.NoError(t, err)
	assert.NotEqual(t, r1.FinalRoot, r4.FinalRoot)
}

func TestConservationAndNonces(t *testing.T) {
	s, world := randomSim(t, 3, true)
	total, overflow := world.TotalBalance()
	require.False(t, overflow)

	accepted := make(map[types.Address]uint64)
	for i := 0; i < 20; i++ {
		report, err := s.Step(context.Background())
		require.NoError(t, err)
		for _, res := range report.Results {
			if res.Outcome.Status != core.StatusRejected {
				accepted[res.Tx.From]++
			}
		}
		now, _ := world.TotalBalance()
		require.True(t, total.Eq(now), "step %d changed total balance", report.Step)
	}
	require.NotEmpty(t, accepted)
	for _, addr := range []types.Address{alice, bob, carol} {
		assert.Equal(t, accepted[addr], world.GetNonce(addr), "nonce of %v", addr)
	}
}

func TestPhases(t *testing.T) {
	var seen []Phase
	var s *Simulation
	probe := agent.NewFunc("probe", alice, agent.Settings{}, func(context.Context, agent.Observation) ([]*types.Transaction, error) {
		seen = append(seen, s.Phase())
		return nil, nil
	})
	s = newSim(t, newWorld(nil), testConfig(2), probe)
	assert.Equal(t, Initialized, s.Phase())

	_, err := s.Step(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Settled, s.Phase())
	assert.Equal(t, uint64(1), s.CurrentStep())
	assert.NotZero(t, s.Genesis())

	report, err := s.Run(context.Background())
	require.NoError(t, err)
	assert.Len(t, report.Steps, 2)
	assert.Equal(t, Finished, s.Phase())
	assert.Equal(t, []Phase{Collecting, Collecting}, seen)

	_, err = s.Step(context.Background())
	assert.ErrorIs(t, err, ErrInvalidPhase)
	_, err = s.Run(context.Background())
	assert.ErrorIs(t, err, ErrInvalidPhase)
	assert.ErrorIs(t, s.AddAgent(agent.NewUser("late", bob)), ErrInvalidPhase)
}

func TestAddAgentValidation(t *testing.T) {
	world := newWorld(nil)
	s := newSim(t, world, testConfig(1))

	a, ok := s.Agent(AdminName)
	require.True(t, ok)
	assert.Equal(t, AdminAddress, a.Address())

	assert.ErrorIs(t, s.AddAgent(agent.NewUser(AdminName, bob)), ErrDuplicateName)
	assert.ErrorIs(t, s.AddAgent(agent.NewUser("other", AdminAddress)), ErrDuplicateAddress)
	assert.ErrorIs(t, s.AddAgent(nil), ErrNilAgent)

	require.NoError(t, s.AddAgent(agent.NewUser("bob", bob)))
	assert.True(t, world.Exist(bob), "agent account is created")
	assert.Len(t, s.Agents(), 2)
}

func TestAgentErrorsAreRecorded(t *testing.T) {
	world := newWorld(map[types.Address]uint64{alice: 100})
	boom := errors.New("boom")
	s := newSim(t, world, testConfig(1),
		agent.NewFunc("failing", bob, agent.Settings{}, func(context.Context, agent.Observation) ([]*types.Transaction, error) {
			return []*types.Transaction{{To: &carol}}, boom
		}),
		agent.NewFunc("panicking", carol, agent.Settings{}, func(context.Context, agent.Observation) ([]*types.Transaction, error) {
			panic("bad agent")
		}),
		agent.NewScripted("alice", alice, agent.Settings{}, []agent.Call{transfer(1, bob, 10)}),
	)

	report, err := s.Run(context.Background())
	require.NoError(t, err)
	step := report.Steps[0]
	require.Len(t, step.AgentErrors, 2)
	assert.Equal(t, "failing", step.AgentErrors[0].Agent)
	assert.ErrorIs(t, step.AgentErrors[0].Err, boom)
	assert.Equal(t, "panicking", step.AgentErrors[1].Agent)
	require.Len(t, step.Results, 1, "failing agents contribute no transactions")
	assert.Equal(t, core.StatusSuccess, step.Results[0].Outcome.Status)
	assert.Equal(t, 2, report.Summary().AgentErrors)
}

func TestSenderIsRewrittenToAgent(t *testing.T) {
	world := newWorld(map[types.Address]uint64{alice: 100, bob: 100})
	s := newSim(t, world, testConfig(1),
		agent.NewFunc("alice", alice, agent.Settings{}, func(context.Context, agent.Observation) ([]*types.Transaction, error) {
			return []*types.Transaction{{From: bob, To: &carol, Value: uint256.NewInt(10), GasLimit: 21_000}}, nil
		}))

	report, err := s.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, core.StatusSuccess, report.Outcomes()[0].Status)
	assert.Equal(t, alice, report.Steps[0].Results[0].Tx.From)
	assert.Equal(t, uint64(90), world.GetBalance(alice).Uint64())
	assert.Equal(t, uint64(100), world.GetBalance(bob).Uint64())
}

func TestSameStepOrdering(t *testing.T) {
	// bob can only pay carol after alice's transfer in the same step.
	world := newWorld(map[types.Address]uint64{alice: 100})
	s := newSim(t, world, testConfig(1),
		agent.NewScripted("alice", alice, agent.Settings{}, []agent.Call{transfer(1, bob, 50)}),
		agent.NewScripted("bob", bob, agent.Settings{}, []agent.Call{transfer(1, carol, 30)}),
	)
	report, err := s.Run(context.Background())
	require.NoError(t, err)
	for _, o := range report.Outcomes() {
		assert.Equal(t, core.StatusSuccess, o.Status)
	}
	assert.Equal(t, uint64(20), world.GetBalance(bob).Uint64())
	assert.Equal(t, uint64(30), world.GetBalance(carol).Uint64())
}

func TestReactiveFeedback(t *testing.T) {
	world := newWorld(map[types.Address]uint64{alice: 1000, bob: 1000})
	s := newSim(t, world, testConfig(3))
	out, err := s.Deploy(AdminAddress, initcode(revertCode), nil)
	require.NoError(t, err)
	target := out.ContractAddress

	var onRevert *agent.Reactive
	onRevert = agent.NewReactive("retry", alice, agent.Settings{}, agent.RepeatOn(agent.OnRevert, func(uint64) *types.Transaction {
		return onRevert.NewTx(&target, nil, nil)
	}))
	var onSuccess *agent.Reactive
	onSuccess = agent.NewReactive("once", bob, agent.Settings{}, agent.RepeatOn(agent.OnSuccess, func(uint64) *types.Transaction {
		return onSuccess.NewTx(&target, nil, nil)
	}))
	require.NoError(t, s.AddAgent(onRevert))
	require.NoError(t, s.AddAgent(onSuccess))

	report, err := s.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 4, report.Summary().Revert)
	assert.Equal(t, uint64(3), world.GetNonce(alice))
	assert.Equal(t, uint64(1), world.GetNonce(bob))

	last := onRevert.Last()
	require.NotNil(t, last)
	assert.Equal(t, uint64(3), last.Step)
	require.Len(t, last.Results, 1)
	assert.Equal(t, alice, last.Results[0].Tx.From)
	require.NotNil(t, onSuccess.Last())
	assert.Empty(t, onSuccess.Last().Results, "only own results are delivered")
}

type watcher struct {
	*agent.Reactive
	filters []types.LogFilter
}

func (w *watcher) Filters() []types.LogFilter { return w.filters }

func TestLogStampingAndDelivery(t *testing.T) {
	world := newWorld(nil)
	s := newSim(t, world, testConfig(1))
	out, err := s.Deploy(AdminAddress, initcode(logCode), nil)
	require.NoError(t, err)
	emitter := out.ContractAddress

	call := func(step uint64) []agent.Call {
		return []agent.Call{{Step: step, To: &emitter}, {Step: step, To: &emitter}}
	}
	w := &watcher{
		Reactive: agent.NewReactive("watcher", carol, agent.Settings{}, func(agent.Observation, *agent.Feedback) []*types.Transaction { return nil }),
		filters:  []types.LogFilter{{Addresses: []types.Address{emitter}}},
	}
	require.NoError(t, s.AddAgent(agent.NewScripted("alice", alice, agent.Settings{}, call(1))))
	require.NoError(t, s.AddAgent(agent.NewScripted("bob", bob, agent.Settings{}, call(1))))
	require.NoError(t, s.AddAgent(w))

	report, err := s.Run(context.Background())
	require.NoError(t, err)
	logs := report.Steps[0].Logs()
	require.Len(t, logs, 4)
	for i, l := range logs {
		assert.Equal(t, uint64(1), l.Step)
		assert.Equal(t, uint(i), l.TxIndex)
		assert.Equal(t, uint(i), l.Index)
		assert.Equal(t, emitter, l.Address)
		assert.Equal(t, types.BytesToHash([]byte{0x2a}), l.Topics[0])
	}
	fb := w.Last()
	require.NotNil(t, fb)
	assert.Len(t, fb.Logs, 4)
	assert.Empty(t, fb.Results)
}

func TestBlockAdvances(t *testing.T) {
	cfg := testConfig(3)
	cfg.BlockTime = 5
	s := newSim(t, newWorld(nil), cfg)
	report, err := s.Run(context.Background())
	require.NoError(t, err)
	for i, step := range report.Steps {
		assert.Equal(t, uint64(i+1), step.Step)
		assert.Equal(t, uint64(1+i), step.Block.Number)
		assert.Equal(t, uint64(1000+5*i), step.Block.Timestamp)
	}
	assert.Equal(t, uint64(4), s.State().Block().Number)
}

func TestRollback(t *testing.T) {
	s, world := randomSim(t, 11, true)
	genesisRoot := world.Root()

	var reports []*StepReport
	for i := 0; i < 3; i++ {
		r, err := s.Step(context.Background())
		require.NoError(t, err)
		require.NotZero(t, r.Snapshot)
		reports = append(reports, r)
	}

	require.NoError(t, s.Rollback(reports[1].Snapshot))
	assert.Equal(t, uint64(2), s.CurrentStep())
	assert.Equal(t, reports[1].Root, world.Root())
	assert.Len(t, s.Reports(), 2)
	assert.Equal(t, reports[2].Block.Number, world.Block().Number)

	next, err := s.Step(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(3), next.Step)

	require.NoError(t, s.Rollback(s.Genesis()))
	assert.Equal(t, genesisRoot, world.Root())
	assert.Zero(t, s.CurrentStep())
	assert.Empty(t, s.Reports())
}

func TestRollbackAfterFinishedRun(t *testing.T) {
	s, world := randomSim(t, 5, false)
	first, err := s.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, Finished, s.Phase())
	require.Len(t, first.Steps, 20)

	mid := first.Steps[9]
	require.NoError(t, s.Rollback(mid.Snapshot))
	assert.Equal(t, Settled, s.Phase())
	assert.Equal(t, uint64(10), s.CurrentStep())
	assert.Equal(t, mid.Root, world.Root())

	second, err := s.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Finished, s.Phase())
	require.Len(t, second.Steps, 20)
	assert.Equal(t, uint64(20), second.Steps[19].Step)
	assert.Equal(t, first.Steps[:10], second.Steps[:10])
}

func TestRollbackInvalidHandleIsFatal(t *testing.T) {
	s, _ := randomSim(t, 1, true)
	first, err := s.Step(context.Background())
	require.NoError(t, err)
	_, err = s.Step(context.Background())
	require.NoError(t, err)

	require.NoError(t, s.Rollback(s.Genesis()))
	err = s.Rollback(first.Snapshot)
	var fatal *FatalError
	require.ErrorAs(t, err, &fatal)
	assert.ErrorIs(t, err, state.ErrInvalidSnapshot)
	assert.Equal(t, Finished, s.Phase())

	_, err = s.Step(context.Background())
	assert.ErrorIs(t, err, ErrInvalidPhase)
	assert.ErrorIs(t, s.Rollback(s.Genesis()), ErrInvalidPhase)
}

func TestSnapshotEvery(t *testing.T) {
	cfg := testConfig(4)
	cfg.SnapshotEvery = 2
	s := newSim(t, newWorld(nil), cfg)
	report, err := s.Run(context.Background())
	require.NoError(t, err)
	assert.Zero(t, report.Steps[0].Snapshot)
	assert.NotZero(t, report.Steps[1].Snapshot)
	assert.Zero(t, report.Steps[2].Snapshot)
	assert.NotZero(t, report.Steps[3].Snapshot)
}

func TestRunInterrupted(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	var s *Simulation
	s = newSim(t, newWorld(nil), testConfig(10),
		agent.NewFunc("stopper", alice, agent.Settings{}, func(_ context.Context, obs agent.Observation) ([]*types.Transaction, error) {
			calls++
			if obs.Step == 3 {
				cancel()
			}
			return nil, nil
		}))

	report, err := s.Run(ctx)
	require.NoError(t, err)
	assert.True(t, report.Interrupted)
	assert.Len(t, report.Steps, 3, "the running step completes")
	assert.Equal(t, 3, calls)
	assert.Nil(t, report.Fatal)
}

func TestRunTimeout(t *testing.T) {
	cfg := testConfig(1000)
	cfg.Timeout = 20 * time.Millisecond
	cfg.ParallelObserve = false
	s := newSim(t, newWorld(nil), cfg,
		agent.NewFunc("slow", alice, agent.Settings{}, func(context.Context, agent.Observation) ([]*types.Transaction, error) {
			time.Sleep(5 * time.Millisecond)
			return nil, nil
		}))
	report, err := s.Run(context.Background())
	require.NoError(t, err)
	assert.True(t, report.Interrupted)
	assert.Less(t, len(report.Steps), 1000)
}

func TestReadOnlyCall(t *testing.T) {
	world := newWorld(nil)
	s := newSim(t, world, testConfig(1))
	// returns 42 as a 32-byte word
	runtime := []byte{0x60, 0x2a, 0x60, 0x00, 0x52, 0x60, 0x20, 0x60, 0x00, 0xf3}
	out, err := s.Deploy(AdminAddress, initcode(runtime), nil)
	require.NoError(t, err)

	root := world.Root()
	res := s.Call(context.Background(), alice, out.ContractAddress, nil)
	ret, err := res.Unpack()
	require.NoError(t, err)
	assert.Equal(t, uint64(42), new(uint256.Int).SetBytes(ret).Uint64())
	assert.Equal(t, root, world.Root())
}

func TestViewIsReadOnly(t *testing.T) {
	var got state.View
	s := newSim(t, newWorld(nil), testConfig(1),
		agent.NewFunc("peek", alice, agent.Settings{}, func(_ context.Context, obs agent.Observation) ([]*types.Transaction, error) {
			got = obs.View
			return nil, nil
		}))
	_, err := s.Run(context.Background())
	require.NoError(t, err)
	_, isWorld := got.(*state.WorldState)
	assert.False(t, isWorld)
}

type recordingSink struct {
	steps    []uint64
	finished *Report
	fail     error
}

func (r *recordingSink) WriteStep(sr *StepReport) error {
	r.steps = append(r.steps, sr.Step)
	return r.fail
}

func (r *recordingSink) Finish(rep *Report, _ *state.WorldState) error {
	r.finished = rep
	return nil
}

func TestReportSink(t *testing.T) {
	sink := &recordingSink{}
	s, err := New(newWorld(nil), testConfig(3), WithSink(sink))
	require.NoError(t, err)
	report, err := s.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []uint64{1, 2, 3}, sink.steps)
	assert.Same(t, report, sink.finished)

	failing := &recordingSink{fail: errors.New("disk full")}
	s, err = New(newWorld(nil), testConfig(3), WithSink(failing))
	require.NoError(t, err)
	report, err = s.Run(context.Background())
	require.Error(t, err)
	assert.Nil(t, report.Fatal)
	assert.Equal(t, []uint64{1}, failing.steps)
	assert.Equal(t, Finished, s.Phase())
}

func TestConfigValidate(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	bad := cfg
	bad.Steps = 0
	assert.Error(t, bad.Validate())

	bad = cfg
	bad.Timeout = -time.Second
	assert.Error(t, bad.Validate())

	bad = cfg
	bad.VM.MaxCallDepth = 2048
	assert.Error(t, bad.Validate())

	bad = cfg
	bad.Chain.Fork = "prague"
	assert.ErrorIs(t, bad.Validate(), core.ErrUnsupportedFork)

	_, err := New(newWorld(nil), bad)
	assert.Error(t, err)
}

func TestPhaseString(t *testing.T) {
	assert.Equal(t, "collecting", Collecting.String())
	assert.Equal(t, "phase(42)", Phase(42).String())
}
