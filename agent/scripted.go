package agent

import (
	"context"
	"sort"
	"sync"

	"github.com/eth2030/agentsim/core/types"
	"github.com/holiman/uint256"
)

// Call is one scripted transaction. A nil To deploys Data as initcode.
// Zero GasLimit takes the agent's setting.
type Call struct {
	Step     uint64
	To       *types.Address
	Value    *uint256.Int
	Data     []byte
	GasLimit uint64
}

// Scripted replays a fixed transaction list. Each step's calls are returned
// the first time that step is observed and never again, so a rolled-back
// step is not replayed.
type Scripted struct {
	Base

	mu     sync.Mutex
	script map[uint64][]Call
	played map[uint64]bool
}

// NewScripted creates an agent replaying calls at their steps, in the
// order given.
func NewScripted(name string, addr types.Address, settings Settings, calls []Call) *Scripted {
	s := &Scripted{
		Base:   NewBase(name, addr, settings),
		script: make(map[uint64][]Call),
		played: make(map[uint64]bool),
	}
	for _, c := range calls {
		s.script[c.Step] = append(s.script[c.Step], c)
	}
	return s
}

func (s *Scripted) Observe(_ context.Context, obs Observation) ([]*types.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.played[obs.Step] {
		return nil, nil
	}
	s.played[obs.Step] = true

	calls := s.script[obs.Step]
	txs := make([]*types.Transaction, 0, len(calls))
	for _, c := range calls {
		tx := s.NewTx(c.To, c.Value, c.Data)
		if c.GasLimit != 0 {
			tx.GasLimit = c.GasLimit
		}
		txs = append(txs, tx)
	}
	return txs, nil
}

// Remaining returns the steps that still have unplayed calls, ascending.
func (s *Scripted) Remaining() []uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	var steps []uint64
	for step := range s.script {
		if !s.played[step] {
			steps = append(steps, step)
		}
	}
	sort.Slice(steps, func(i, j int) bool { return steps[i] < steps[j] })
	return steps
}
