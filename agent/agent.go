// Package agent defines the actors that drive a simulation. An agent sees a
// read-only view of the world at each step and proposes transactions from
// its own account; it never mutates state directly.
package agent

import (
	"context"

	"github.com/eth2030/agentsim/core"
	"github.com/eth2030/agentsim/core/state"
	"github.com/eth2030/agentsim/core/types"
	"github.com/holiman/uint256"
)

// DefaultGasLimit is the gas limit of agent transactions unless configured.
const DefaultGasLimit uint64 = 30_000_000

// Observation is what an agent sees when polled.
type Observation struct {
	Step uint64
	View state.View
}

// Agent is a simulation actor. Observe must not retain View beyond the call
// and must be safe to run concurrently with other agents' Observe.
type Agent interface {
	Name() string
	Address() types.Address
	Observe(ctx context.Context, obs Observation) ([]*types.Transaction, error)
}

// Result pairs one of the agent's transactions with its outcome.
type Result struct {
	// Index is the transaction's position within the step.
	Index   int
	Tx      *types.Transaction
	Outcome *core.Outcome
}

// Feedback is delivered to a Receiver after each step settles.
type Feedback struct {
	Step    uint64
	Results []Result
	// Logs are the step's logs matching the agent's filters.
	Logs []*types.Log
}

// Receiver is implemented by agents that react to their outcomes.
type Receiver interface {
	Notify(fb Feedback)
}

// Filterer is implemented by agents that subscribe to logs.
type Filterer interface {
	Filters() []types.LogFilter
}

// Settings are the per-agent transaction parameters.
type Settings struct {
	GasLimit uint64
	GasPrice *uint256.Int
	Filters  []types.LogFilter
}

// Base carries the identity and settings shared by every agent kind.
type Base struct {
	name     string
	addr     types.Address
	settings Settings
}

// NewBase creates the common part of an agent. A zero gas limit takes
// DefaultGasLimit.
func NewBase(name string, addr types.Address, settings Settings) Base {
	if settings.GasLimit == 0 {
		settings.GasLimit = DefaultGasLimit
	}
	return Base{name: name, addr: addr, settings: settings}
}

func (b Base) Name() string               { return b.name }
func (b Base) Address() types.Address     { return b.addr }
func (b Base) Filters() []types.LogFilter { return b.settings.Filters }
func (b Base) Settings() Settings         { return b.settings }

// NewTx builds a transaction from the agent's account with its gas
// settings. A nil to creates a contract.
func (b Base) NewTx(to *types.Address, value *uint256.Int, data []byte) *types.Transaction {
	tx := &types.Transaction{
		From:     b.addr,
		Value:    types.CopyU256(value),
		Data:     append([]byte(nil), data...),
		GasLimit: b.settings.GasLimit,
		GasPrice: types.CopyU256(b.settings.GasPrice),
	}
	if to != nil {
		tx.To = types.AddressPtr(*to)
	}
	return tx
}

// FilterLogs returns the logs matching any of filters. No filters match
// nothing.
func FilterLogs(logs []*types.Log, filters []types.LogFilter) []*types.Log {
	if len(filters) == 0 {
		return nil
	}
	var out []*types.Log
	for _, l := range logs {
		for i := range filters {
			if types.FilterMatch(l, &filters[i]) {
				out = append(out, l)
				break
			}
		}
	}
	return out
}
