// state_diff.go describes the set of account changes a transaction produces,
// tracking balance, nonce, code, and storage transitions per account.
package state

import (
	"bytes"
	"sort"

	"github.com/eth2030/agentsim/core/types"
	"github.com/holiman/uint256"
)

// BalanceChange records a balance transition.
type BalanceChange struct {
	From *uint256.Int
	To   *uint256.Int
}

// NonceChange records a nonce transition.
type NonceChange struct {
	From uint64
	To   uint64
}

// CodeChange records a code transition.
type CodeChange struct {
	From []byte
	To   []byte
}

// StorageChange records a single storage slot transition.
type StorageChange struct {
	Key  types.Hash
	From types.Hash
	To   types.Hash
}

// AccountDiff aggregates all changes for a single account.
type AccountDiff struct {
	Address types.Address
	Balance *BalanceChange
	Nonce   *NonceChange
	Code    *CodeChange
	Storage []StorageChange // sorted by key

	// Created is set when the account did not exist before the transaction.
	Created bool
	// Deleted is set when the account is removed (self-destructed in the
	// transaction that created it).
	Deleted bool
}

// IsEmpty reports whether the diff carries no change at all.
func (d *AccountDiff) IsEmpty() bool {
	return d.Balance == nil && d.Nonce == nil && d.Code == nil && len(d.Storage) == 0 && !d.Deleted
}

// StateDiff is the ordered set of account changes produced by one
// transaction, computed against world-state revision Base. Accounts are
// sorted by address.
type StateDiff struct {
	Base     uint64
	Accounts []AccountDiff

	applied bool
}

// IsEmpty reports whether the diff changes nothing.
func (d *StateDiff) IsEmpty() bool {
	return d == nil || len(d.Accounts) == 0
}

// Applied reports whether the diff has been committed to a world state.
func (d *StateDiff) Applied() bool {
	return d != nil && d.applied
}

// Touched returns the addresses of all changed accounts, sorted.
func (d *StateDiff) Touched() []types.Address {
	if d == nil {
		return nil
	}
	out := make([]types.Address, len(d.Accounts))
	for i := range d.Accounts {
		out[i] = d.Accounts[i].Address
	}
	return out
}

// Account returns the diff entry for addr, if any.
func (d *StateDiff) Account(addr types.Address) (*AccountDiff, bool) {
	if d == nil {
		return nil, false
	}
	i := sort.Search(len(d.Accounts), func(i int) bool {
		return d.Accounts[i].Address.Cmp(addr) >= 0
	})
	if i < len(d.Accounts) && d.Accounts[i].Address == addr {
		return &d.Accounts[i], true
	}
	return nil, false
}

// diffAccount compares a transaction-scoped object against its world origin
// and returns the resulting AccountDiff. origin is nil for new accounts.
func diffAccount(addr types.Address, origin *account, obj *stateObject) AccountDiff {
	d := AccountDiff{Address: addr, Created: origin == nil}
	before := origin
	if before == nil {
		before = emptyAccount()
	}
	if obj.selfDestructed {
		if origin != nil {
			d.Deleted = true
		}
		return d
	}
	if !before.balance.Eq(obj.balance) {
		d.Balance = &BalanceChange{
			From: new(uint256.Int).Set(before.balance),
			To:   new(uint256.Int).Set(obj.balance),
		}
	}
	if before.nonce != obj.nonce {
		d.Nonce = &NonceChange{From: before.nonce, To: obj.nonce}
	}
	if !bytes.Equal(before.code, obj.code) {
		d.Code = &CodeChange{
			From: append([]byte(nil), before.code...),
			To:   append([]byte(nil), obj.code...),
		}
	}
	for key, val := range obj.dirtyStorage {
		prev := before.storage[key]
		if prev != val {
			d.Storage = append(d.Storage, StorageChange{Key: key, From: prev, To: val})
		}
	}
	sort.Slice(d.Storage, func(i, j int) bool {
		return d.Storage[i].Key.Cmp(d.Storage[j].Key) < 0
	})
	return d
}
