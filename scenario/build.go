package scenario

import (
	"fmt"
	"time"

	"github.com/eth2030/agentsim/agent"
	"github.com/eth2030/agentsim/core/state"
	"github.com/eth2030/agentsim/core/types"
	"github.com/eth2030/agentsim/log"
	"github.com/eth2030/agentsim/sim"
	"github.com/holiman/uint256"
)

// DefaultGasLimit is the block gas limit when the scenario sets none.
const DefaultGasLimit uint64 = 30_000_000

// Options override scenario values when building. Zero values keep the
// scenario's setting.
type Options struct {
	Steps   uint64
	Seed    *uint64
	Timeout time.Duration
	Sink    sim.ReportSink
}

// Config returns the simulation configuration the scenario describes,
// with opts applied on top.
func (sc *Scenario) Config(opts Options) (sim.Config, error) {
	cfg := sim.DefaultConfig()
	s := sc.Simulation
	if s.Steps > 0 {
		cfg.Steps = s.Steps
	}
	cfg.Seed = s.Seed
	if s.BlockTime > 0 {
		cfg.BlockTime = s.BlockTime
	}
	if s.SnapshotEvery != nil {
		cfg.SnapshotEvery = *s.SnapshotEvery
	}
	if s.Parallel != nil {
		cfg.ParallelObserve = *s.Parallel
	}
	timeout, err := sc.timeout()
	if err != nil {
		return cfg, err
	}
	cfg.Timeout = timeout
	cfg.Chain.Fork = sc.Chain.Fork
	cfg.Chain.ChainID = sc.Chain.ChainID
	cfg.Chain.EnforceBaseFee = sc.Chain.EnforceBaseFee

	if opts.Steps > 0 {
		cfg.Steps = opts.Steps
	}
	if opts.Seed != nil {
		cfg.Seed = *opts.Seed
	}
	if opts.Timeout > 0 {
		cfg.Timeout = opts.Timeout
	}
	return cfg, cfg.Validate()
}

// Genesis returns the initial accounts and first block. Agent balances are
// added to any balance the account already has.
func (sc *Scenario) Genesis() (state.GenesisAlloc, state.BlockInfo, error) {
	alloc := make(state.GenesisAlloc)
	for _, spec := range sc.Accounts {
		addr, err := parseAddress(spec.Address)
		if err != nil {
			return nil, state.BlockInfo{}, err
		}
		ga := state.GenesisAccount{Nonce: spec.Nonce, Storage: make(map[types.Hash]types.Hash)}
		if ga.Balance, err = parseQuantity(spec.Balance); err != nil {
			return nil, state.BlockInfo{}, err
		}
		if ga.Code, err = parseBytes(spec.Code); err != nil {
			return nil, state.BlockInfo{}, err
		}
		for k, v := range spec.Storage {
			key, err := types.ParseU256(k)
			if err != nil {
				return nil, state.BlockInfo{}, err
			}
			val, err := types.ParseU256(v)
			if err != nil {
				return nil, state.BlockInfo{}, err
			}
			ga.Storage[types.U256ToHash(key)] = types.U256ToHash(val)
		}
		alloc[addr] = ga
	}
	for i := range sc.Agents {
		spec := &sc.Agents[i]
		if spec.Balance == "" {
			continue
		}
		addr, err := spec.address()
		if err != nil {
			return nil, state.BlockInfo{}, err
		}
		bal, err := parseQuantity(spec.Balance)
		if err != nil {
			return nil, state.BlockInfo{}, err
		}
		ga := alloc[addr]
		if ga.Balance == nil {
			ga.Balance = new(uint256.Int)
		}
		if _, overflow := ga.Balance.AddOverflow(ga.Balance, bal); overflow {
			return nil, state.BlockInfo{}, fmt.Errorf("%w: agent %q: balance overflows", ErrInvalid, spec.Name)
		}
		alloc[addr] = ga
	}

	c := sc.Chain
	block := state.BlockInfo{
		Number:    c.Number,
		Timestamp: c.Timestamp,
		GasLimit:  c.GasLimit,
		ChainID:   c.ChainID,
	}
	if block.Number == 0 {
		block.Number = 1
	}
	block.GasLimit = sc.blockGasLimit()
	var err error
	if block.BaseFee, err = parseQuantity(c.BaseFee); err != nil {
		return nil, state.BlockInfo{}, err
	}
	if c.Coinbase != "" {
		if block.Coinbase, err = parseAddress(c.Coinbase); err != nil {
			return nil, state.BlockInfo{}, err
		}
	}
	return alloc, block, nil
}

// blockGasLimit is the chain gas limit, or DefaultGasLimit when unset.
func (sc *Scenario) blockGasLimit() uint64 {
	if sc.Chain.GasLimit == 0 {
		return DefaultGasLimit
	}
	return sc.Chain.GasLimit
}

// Build creates a simulation with every account and agent of the scenario.
func (sc *Scenario) Build(opts Options) (*sim.Simulation, error) {
	if err := sc.Validate(); err != nil {
		return nil, err
	}
	cfg, err := sc.Config(opts)
	if err != nil {
		return nil, err
	}
	alloc, block, err := sc.Genesis()
	if err != nil {
		return nil, err
	}
	var simOpts []sim.Option
	if opts.Sink != nil {
		simOpts = append(simOpts, sim.WithSink(opts.Sink))
	}
	s, err := sim.New(state.NewWorldState(alloc, block), cfg, simOpts...)
	if err != nil {
		return nil, err
	}

	resolve := sc.resolver()
	for i := range sc.Agents {
		spec := &sc.Agents[i]
		a, err := sc.buildAgent(spec, cfg.Seed, resolve)
		if err != nil {
			return nil, fmt.Errorf("agent %q: %w", spec.Name, err)
		}
		if err := s.AddAgent(a); err != nil {
			return nil, err
		}
	}
	log.Default().Module("scenario").Info("scenario built", "name", sc.Name, "accounts", len(alloc),
		"agents", len(sc.Agents), "steps", cfg.Steps, "seed", cfg.Seed)
	return s, nil
}

func (sc *Scenario) buildAgent(spec *AgentSpec, seed uint64, resolve func(string) (types.Address, error)) (agent.Agent, error) {
	factory, ok := lookupKind(spec.Kind)
	if !ok {
		return nil, fmt.Errorf("%w: unknown kind %q", ErrInvalid, spec.Kind)
	}
	addr, err := spec.address()
	if err != nil {
		return nil, err
	}
	env := &Env{Address: addr, Seed: seed, Resolve: resolve}
	// Agents without a limit of their own fill the block.
	env.Settings.GasLimit = spec.GasLimit
	if env.Settings.GasLimit == 0 {
		env.Settings.GasLimit = sc.blockGasLimit()
	}
	if env.Settings.GasPrice, err = parseQuantity(spec.GasPrice); err != nil {
		return nil, err
	}
	if len(spec.Watch) > 0 {
		var filter types.LogFilter
		for _, ref := range spec.Watch {
			addr, err := resolve(ref)
			if err != nil {
				return nil, err
			}
			filter.Addresses = append(filter.Addresses, addr)
		}
		env.Settings.Filters = []types.LogFilter{filter}
	}
	return factory(spec, env)
}
