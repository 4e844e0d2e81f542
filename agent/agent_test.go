package agent

import (
	"context"
	"testing"

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
)

func newView(balances map[types.Address]uint64) state.View {
	alloc := make(state.GenesisAlloc, len(balances))
	for addr, bal := range balances {
		alloc[addr] = state.GenesisAccount{Balance: uint256.NewInt(bal)}
	}
	return state.NewWorldState(alloc, state.BlockInfo{Number: 1, GasLimit: 30_000_000})
}

func observe(t *testing.T, a Agent, step uint64, view state.View) []*types.Transaction {
	t.Helper()
	txs, err := a.Observe(context.Background(), Observation{Step: step, View: view})
	require.NoError(t, err)
	return txs
}

func TestBaseDefaults(t *testing.T) {
	b := NewBase("alice", alice, Settings{})
	assert.Equal(t, DefaultGasLimit, b.Settings().GasLimit)

	tx := b.NewTx(&bob, uint256.NewInt(5), []byte{1, 2})
	assert.Equal(t, alice, tx.From)
	require.NotNil(t, tx.To)
	assert.Equal(t, bob, *tx.To)
	assert.Equal(t, uint64(5), tx.Value.Uint64())
	assert.True(t, tx.GasPrice.IsZero())
	assert.Nil(t, tx.Nonce)

	create := b.NewTx(nil, nil, []byte{0x00})
	assert.True(t, create.IsCreate())
	assert.True(t, create.Value.IsZero())
}

func TestNewTxCopiesInputs(t *testing.T) {
	b := NewBase("alice", alice, Settings{GasPrice: uint256.NewInt(7)})
	data := []byte{1}
	value := uint256.NewInt(1)
	tx := b.NewTx(&bob, value, data)
	data[0] = 9
	value.SetUint64(9)
	b.Settings().GasPrice.SetUint64(9)

	assert.Equal(t, []byte{1}, tx.Data)
	assert.Equal(t, uint64(1), tx.Value.Uint64())
	assert.Equal(t, uint64(7), tx.GasPrice.Uint64())
}

func TestUserIsPassive(t *testing.T) {
	u := NewUser("admin", alice)
	assert.Empty(t, observe(t, u, 1, newView(nil)))
	assert.Equal(t, "admin", u.Name())
	assert.Equal(t, alice, u.Address())
}

func TestScriptedReplaysOnce(t *testing.T) {
	s := NewScripted("script", alice, Settings{GasLimit: 100_000}, []Call{
		{Step: 1, To: &bob, Value: uint256.NewInt(1)},
		{Step: 1, To: &carol, Value: uint256.NewInt(2), GasLimit: 50_000},
		{Step: 3, Data: []byte{0x00}},
	})
	view := newView(nil)

	assert.Equal(t, []uint64{1, 3}, s.Remaining())

	txs := observe(t, s, 1, view)
	require.Len(t, txs, 2)
	assert.Equal(t, bob, *txs[0].To)
	assert.Equal(t, uint64(100_000), txs[0].GasLimit)
	assert.Equal(t, carol, *txs[1].To)
	assert.Equal(t, uint64(50_000), txs[1].GasLimit)

	assert.Empty(t, observe(t, s, 1, view), "a step is replayed only once")
	assert.Empty(t, observe(t, s, 2, view))

	txs = observe(t, s, 3, view)
	require.Len(t, txs, 1)
	assert.True(t, txs[0].IsCreate())
	assert.Empty(t, s.Remaining())
}

func TestRandomIsDeterministic(t *testing.T) {
	policy := RandomPolicy{
		Targets:     []types.Address{bob, carol},
		MaxValue:    uint256.NewInt(100),
		Probability: 0.5,
	}
	view := newView(map[types.Address]uint64{alice: 1_000_000})

	run := func(seed uint64, name string) []string {
		r, err := NewRandom(name, alice, Settings{}, policy, seed)
		require.NoError(t, err)
		var out []string
		for step := uint64(1); step <= 50; step++ {
			for _, tx := range observe(t, r, step, view) {
				require.LessOrEqual(t, tx.Value.Uint64(), uint64(100))
				out = append(out, tx.String())
			}
		}
		return out
	}

	first := run(42, "rnd")
	assert.Equal(t, first, run(42, "rnd"))
	assert.NotEmpty(t, first)
	assert.NotEqual(t, first, run(43, "rnd"))
	assert.NotEqual(t, first, run(42, "other"))
}

func TestRandomCapsValueAtBalance(t *testing.T) {
	r, err := NewRandom("rnd", alice, Settings{}, RandomPolicy{
		Targets:     []types.Address{bob},
		MaxValue:    uint256.NewInt(1_000_000),
		Probability: 1,
	}, 1)
	require.NoError(t, err)

	view := newView(map[types.Address]uint64{alice: 3})
	for step := uint64(1); step <= 10; step++ {
		txs := observe(t, r, step, view)
		require.Len(t, txs, 1)
		assert.LessOrEqual(t, txs[0].Value.Uint64(), uint64(3))
	}
}

func TestRandomPolicyValidation(t *testing.T) {
	_, err := NewRandom("rnd", alice, Settings{}, RandomPolicy{}, 1)
	assert.ErrorIs(t, err, ErrNoTargets)

	_, err = NewRandom("rnd", alice, Settings{}, RandomPolicy{Targets: []types.Address{bob}, Probability: 1.5}, 1)
	assert.Error(t, err)
}

func TestRandomZeroProbabilityNeverSends(t *testing.T) {
	r, err := NewRandom("rnd", alice, Settings{}, RandomPolicy{Targets: []types.Address{bob}}, 1)
	require.NoError(t, err)
	view := newView(map[types.Address]uint64{alice: 10})
	for step := uint64(1); step <= 20; step++ {
		assert.Empty(t, observe(t, r, step, view))
	}
}

func TestReactiveRepeatOnRevert(t *testing.T) {
	var r *Reactive
	r = NewReactive("react", alice, Settings{}, RepeatOn(OnRevert, func(step uint64) *types.Transaction {
		return r.NewTx(&bob, nil, nil)
	}))
	view := newView(nil)

	txs := observe(t, r, 1, view)
	require.Len(t, txs, 1, "fires before any feedback")
	assert.Nil(t, r.Last())

	r.Notify(Feedback{Step: 1, Results: []Result{{Tx: txs[0], Outcome: &core.Outcome{Status: core.StatusRevert}}}})
	assert.Len(t, observe(t, r, 2, view), 1)

	r.Notify(Feedback{Step: 2, Results: []Result{{Outcome: &core.Outcome{Status: core.StatusSuccess}}}})
	assert.Empty(t, observe(t, r, 3, view))

	r.Notify(Feedback{Step: 3})
	assert.Empty(t, observe(t, r, 4, view))
	assert.Equal(t, uint64(3), r.Last().Step)
}

func TestTriggerMatches(t *testing.T) {
	tests := []struct {
		trigger Trigger
		status  core.Status
		want    bool
	}{
		{OnAny, core.StatusRejected, true},
		{OnAny, core.StatusSuccess, true},
		{OnSuccess, core.StatusSuccess, true},
		{OnSuccess, core.StatusRevert, false},
		{OnRevert, core.StatusRevert, true},
		{OnRevert, core.StatusError, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.trigger.Matches(tt.status), "%d/%s", tt.trigger, tt.status)
	}
}

func TestFuncAgent(t *testing.T) {
	f := NewFunc("fn", alice, Settings{}, func(_ context.Context, obs Observation) ([]*types.Transaction, error) {
		if obs.View.GetBalance(alice).IsZero() {
			return nil, nil
		}
		return []*types.Transaction{{From: alice, To: &bob}}, nil
	})
	assert.Empty(t, observe(t, f, 1, newView(nil)))
	assert.Len(t, observe(t, f, 1, newView(map[types.Address]uint64{alice: 1})), 1)
}

func TestFilterLogs(t *testing.T) {
	topic := types.BytesToHash([]byte{1})
	logs := []*types.Log{
		{Address: bob, Topics: []types.Hash{topic}},
		{Address: carol},
	}
	assert.Nil(t, FilterLogs(logs, nil))

	got := FilterLogs(logs, []types.LogFilter{{Addresses: []types.Address{carol}}})
	require.Len(t, got, 1)
	assert.Equal(t, carol, got[0].Address)

	got = FilterLogs(logs, []types.LogFilter{{Topics: [][]types.Hash{{topic}}}, {Addresses: []types.Address{bob}}})
	require.Len(t, got, 1, "a log matching two filters is delivered once")
}
