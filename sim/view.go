package sim

import (
	"github.com/eth2030/agentsim/core/state"
	"github.com/eth2030/agentsim/core/types"
	"github.com/holiman/uint256"
)

// readOnly hides the world state behind the View methods so an agent
// cannot reach the mutating API by type assertion.
type readOnly struct {
	w *state.WorldState
}

func (v readOnly) GetAccount(addr types.Address) types.Account { return v.w.GetAccount(addr) }
func (v readOnly) GetBalance(addr types.Address) *uint256.Int  { return v.w.GetBalance(addr) }
func (v readOnly) GetNonce(addr types.Address) uint64          { return v.w.GetNonce(addr) }
func (v readOnly) GetCode(addr types.Address) []byte           { return v.w.GetCode(addr) }
func (v readOnly) Exist(addr types.Address) bool               { return v.w.Exist(addr) }
func (v readOnly) Block() state.BlockInfo                      { return v.w.Block() }

func (v readOnly) GetState(addr types.Address, key types.Hash) types.Hash {
	return v.w.GetState(addr, key)
}
