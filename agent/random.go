package agent

import (
	"context"
	"encoding/binary"
	"errors"
	"math"
	"math/rand/v2"

	"github.com/eth2030/agentsim/core/types"
	"github.com/eth2030/agentsim/crypto"
	"github.com/holiman/uint256"
)

// ErrNoTargets is returned by NewRandom when no target is given.
var ErrNoTargets = errors.New("random agent needs at least one target")

// RandomPolicy parameterizes a Random agent.
type RandomPolicy struct {
	Targets []types.Address
	// MaxValue bounds the value of each transfer (inclusive).
	MaxValue *uint256.Int
	// Probability of sending a transaction at a step, in [0, 1].
	Probability float64
	Data        []byte
}

// Random sends transfers to random targets. Its generator is seeded from
// the simulation seed and the agent name, so a run is reproducible and
// agents sharing a seed still diverge.
type Random struct {
	Base
	policy RandomPolicy
	rng    *rand.Rand
}

// NewRandom creates a stochastic agent.
func NewRandom(name string, addr types.Address, settings Settings, policy RandomPolicy, seed uint64) (*Random, error) {
	if len(policy.Targets) == 0 {
		return nil, ErrNoTargets
	}
	if policy.Probability < 0 || policy.Probability > 1 || math.IsNaN(policy.Probability) {
		return nil, errors.New("random agent probability must be within [0, 1]")
	}
	h := crypto.Keccak256([]byte(name))
	return &Random{
		Base:   NewBase(name, addr, settings),
		policy: policy,
		rng:    rand.New(rand.NewPCG(seed, binary.BigEndian.Uint64(h[:8]))),
	}, nil
}

// Observe draws at most one transfer. The value never exceeds the agent's
// balance, so a funded agent is not rejected for its value alone. The
// generator advances identically whatever the balance.
func (r *Random) Observe(_ context.Context, obs Observation) ([]*types.Transaction, error) {
	var (
		fire   = r.rng.Float64() < r.policy.Probability
		target = r.policy.Targets[r.rng.IntN(len(r.policy.Targets))]
		draw   = r.rng.Uint64()
	)
	if !fire {
		return nil, nil
	}
	value := new(uint256.Int)
	if limit := r.maxValue(); limit != math.MaxUint64 {
		value.SetUint64(draw % (limit + 1))
	} else {
		value.SetUint64(draw)
	}
	if balance := obs.View.GetBalance(r.Address()); balance.Lt(value) {
		value.Set(balance)
	}
	return []*types.Transaction{r.NewTx(&target, value, r.policy.Data)}, nil
}

func (r *Random) maxValue() uint64 {
	if r.policy.MaxValue == nil {
		return 0
	}
	if !r.policy.MaxValue.IsUint64() {
		return math.MaxUint64
	}
	return r.policy.MaxValue.Uint64()
}
