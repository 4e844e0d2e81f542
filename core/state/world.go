// Package state implements the world state store of the simulation: the
// authoritative account map with copy-on-write snapshots, and the
// transaction-scoped journaled overlay the EVM executes against.
package state

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"sort"
	"sync"

	"github.com/eth2030/agentsim/core/types"
	"github.com/eth2030/agentsim/crypto"
	"github.com/eth2030/agentsim/metrics"
	"github.com/holiman/uint256"
)

// BlockInfo is the block-level metadata of the simulated chain.
type BlockInfo struct {
	Number      uint64
	Timestamp   uint64
	BaseFee     *uint256.Int
	BlobBaseFee *uint256.Int
	Coinbase    types.Address
	GasLimit    uint64
	ChainID     uint64
	PrevRandao  types.Hash
}

// Copy returns a deep copy of the block info.
func (b BlockInfo) Copy() BlockInfo {
	cpy := b
	cpy.BaseFee = types.CopyU256(b.BaseFee)
	cpy.BlobBaseFee = types.CopyU256(b.BlobBaseFee)
	return cpy
}

// GenesisAccount is the initial content of one account.
type GenesisAccount struct {
	Balance *uint256.Int
	Nonce   uint64
	Code    []byte
	Storage map[types.Hash]types.Hash
}

// GenesisAlloc is the initial account set the world state is built from.
type GenesisAlloc map[types.Address]GenesisAccount

// account is the stored form of an account. Objects are shared between the
// live map and snapshots; an object whose gen differs from the world's
// current generation is frozen and must be cloned before writing.
type account struct {
	nonce    uint64
	balance  *uint256.Int
	code     []byte
	codeHash types.Hash
	storage  map[types.Hash]types.Hash
	gen      uint64
}

func emptyAccount() *account {
	return &account{
		balance:  new(uint256.Int),
		codeHash: types.EmptyCodeHash,
		storage:  map[types.Hash]types.Hash{},
	}
}

func (a *account) clone(gen uint64) *account {
	cpy := &account{
		nonce:    a.nonce,
		balance:  new(uint256.Int).Set(a.balance),
		code:     a.code, // code is never mutated in place
		codeHash: a.codeHash,
		storage:  make(map[types.Hash]types.Hash, len(a.storage)),
		gen:      gen,
	}
	for k, v := range a.storage {
		cpy.storage[k] = v
	}
	return cpy
}

func (a *account) export(addr types.Address) types.Account {
	out := types.Account{
		Address:  addr,
		Nonce:    a.nonce,
		Balance:  new(uint256.Int).Set(a.balance),
		Code:     append([]byte(nil), a.code...),
		CodeHash: a.codeHash,
		Storage:  make(map[types.Hash]types.Hash, len(a.storage)),
	}
	for k, v := range a.storage {
		out.Storage[k] = v
	}
	return out
}

// SnapshotID is an opaque handle to a retained world-state snapshot.
type SnapshotID uint64

type worldSnapshot struct {
	accounts map[types.Address]*account
	block    BlockInfo
}

// View is the read-only face of the world state handed to agents.
type View interface {
	GetAccount(addr types.Address) types.Account
	GetBalance(addr types.Address) *uint256.Int
	GetNonce(addr types.Address) uint64
	GetCode(addr types.Address) []byte
	GetState(addr types.Address, key types.Hash) types.Hash
	Exist(addr types.Address) bool
	Block() BlockInfo
}

// WorldState is the authoritative account store. It is exclusively owned by
// one simulation; a RWMutex lets agents read it concurrently while no
// transaction is being applied.
type WorldState struct {
	mu       sync.RWMutex
	accounts map[types.Address]*account
	block    BlockInfo
	revision uint64
	gen      uint64

	snapshots    map[SnapshotID]*worldSnapshot
	nextSnapshot SnapshotID
}

// NewWorldState builds a world state from the genesis allocation.
func NewWorldState(alloc GenesisAlloc, block BlockInfo) *WorldState {
	w := &WorldState{
		accounts:     make(map[types.Address]*account, len(alloc)),
		block:        block.Copy(),
		snapshots:    make(map[SnapshotID]*worldSnapshot),
		nextSnapshot: 1,
	}
	for addr, ga := range alloc {
		acct := emptyAccount()
		acct.nonce = ga.Nonce
		if ga.Balance != nil {
			acct.balance.Set(ga.Balance)
		}
		if len(ga.Code) > 0 {
			acct.code = append([]byte(nil), ga.Code...)
			acct.codeHash = crypto.Keccak256Hash(acct.code)
		}
		for k, v := range ga.Storage {
			if v != (types.Hash{}) {
				acct.storage[k] = v
			}
		}
		w.accounts[addr] = acct
	}
	return w
}

// Revision returns the current revision. Diffs must be built against it.
func (w *WorldState) Revision() uint64 {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.revision
}

// Block returns a copy of the current block info.
func (w *WorldState) Block() BlockInfo {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.block.Copy()
}

// SetBlock replaces the block info.
func (w *WorldState) SetBlock(b BlockInfo) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.block = b.Copy()
}

// AdvanceBlock moves to the next block: number + 1, timestamp + dt and a
// fresh PREVRANDAO value derived from the previous one.
func (w *WorldState) AdvanceBlock(dt uint64) BlockInfo {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.block.Number++
	w.block.Timestamp += dt
	var num [8]byte
	binary.BigEndian.PutUint64(num[:], w.block.Number)
	w.block.PrevRandao = crypto.Keccak256Hash(w.block.PrevRandao.Bytes(), num[:])
	return w.block.Copy()
}

// GetAccount returns a detached copy of the account at addr. Unknown
// accounts read as empty.
func (w *WorldState) GetAccount(addr types.Address) types.Account {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if acct := w.accounts[addr]; acct != nil {
		return acct.export(addr)
	}
	return types.NewAccount(addr)
}

// GetBalance returns the balance of addr.
func (w *WorldState) GetBalance(addr types.Address) *uint256.Int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if acct := w.accounts[addr]; acct != nil {
		return new(uint256.Int).Set(acct.balance)
	}
	return new(uint256.Int)
}

// GetNonce returns the nonce of addr.
func (w *WorldState) GetNonce(addr types.Address) uint64 {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if acct := w.accounts[addr]; acct != nil {
		return acct.nonce
	}
	return 0
}

// GetCode returns the code of addr.
func (w *WorldState) GetCode(addr types.Address) []byte {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if acct := w.accounts[addr]; acct != nil {
		return append([]byte(nil), acct.code...)
	}
	return nil
}

// GetState returns a storage slot of addr; unset slots read as zero.
func (w *WorldState) GetState(addr types.Address, key types.Hash) types.Hash {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if acct := w.accounts[addr]; acct != nil {
		return acct.storage[key]
	}
	return types.Hash{}
}

// Exist reports whether an account is stored at addr.
func (w *WorldState) Exist(addr types.Address) bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.accounts[addr] != nil
}

// CreateAccount makes sure an account exists at addr without changing it.
// Returns false when the account already existed.
func (w *WorldState) CreateAccount(addr types.Address) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.accounts[addr] != nil {
		return false
	}
	acct := emptyAccount()
	acct.gen = w.gen
	w.accounts[addr] = acct
	w.revision++
	return true
}

// Mint credits amount to addr outside of any transaction. It is meant for
// scenario setup, where issuance is explicit.
func (w *WorldState) Mint(addr types.Address, amount *uint256.Int) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	cur := types.CopyU256(nil)
	if acct := w.accounts[addr]; acct != nil {
		cur.Set(acct.balance)
	}
	if _, overflow := cur.AddOverflow(cur, amount); overflow {
		return fmt.Errorf("mint %s: %w", addr, types.ErrOverflow)
	}
	w.writable(addr).balance = cur
	w.revision++
	return nil
}

// SetCode installs code at addr outside of any transaction. Like Apply it
// refuses to replace existing code.
func (w *WorldState) SetCode(addr types.Address, code []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if acct := w.accounts[addr]; acct != nil && len(acct.code) > 0 {
		return fmt.Errorf("%w: %s", ErrCodeImmutable, addr)
	}
	acct := w.writable(addr)
	acct.code = append([]byte(nil), code...)
	acct.codeHash = crypto.Keccak256Hash(acct.code)
	w.revision++
	return nil
}

// lookup returns the stored object for addr without copying. Callers must
// treat it as read-only.
func (w *WorldState) lookup(addr types.Address) *account {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.accounts[addr]
}

// Addresses returns every stored address in ascending order.
func (w *WorldState) Addresses() []types.Address {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.sortedAddresses()
}

func (w *WorldState) sortedAddresses() []types.Address {
	addrs := make([]types.Address, 0, len(w.accounts))
	for addr := range w.accounts {
		addrs = append(addrs, addr)
	}
	sort.Slice(addrs, func(i, j int) bool { return addrs[i].Cmp(addrs[j]) < 0 })
	return addrs
}

// TotalBalance returns the sum of all balances. The second result reports
// a 256-bit overflow, which can only happen with absurd genesis values.
func (w *WorldState) TotalBalance() (*uint256.Int, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	total := new(uint256.Int)
	for _, acct := range w.accounts {
		if _, overflow := total.AddOverflow(total, acct.balance); overflow {
			return total, true
		}
	}
	return total, false
}

// Root returns a deterministic digest of every account: address, nonce,
// balance, code hash and the sorted non-zero storage. Two world states with
// equal roots are observably identical.
func (w *WorldState) Root() types.Hash {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if len(w.accounts) == 0 {
		return types.EmptyRootHash
	}
	var buf bytes.Buffer
	var num [8]byte
	for _, addr := range w.sortedAddresses() {
		acct := w.accounts[addr]
		buf.Write(addr[:])
		binary.BigEndian.PutUint64(num[:], acct.nonce)
		buf.Write(num[:])
		bal := acct.balance.Bytes32()
		buf.Write(bal[:])
		buf.Write(acct.codeHash[:])
		keys := make([]types.Hash, 0, len(acct.storage))
		for k, v := range acct.storage {
			if v != (types.Hash{}) {
				keys = append(keys, k)
			}
		}
		sort.Slice(keys, func(i, j int) bool { return keys[i].Cmp(keys[j]) < 0 })
		binary.BigEndian.PutUint64(num[:], uint64(len(keys)))
		buf.Write(num[:])
		for _, k := range keys {
			v := acct.storage[k]
			buf.Write(k[:])
			buf.Write(v[:])
		}
	}
	return crypto.Keccak256Hash(buf.Bytes())
}

// writable returns a mutable object for addr, cloning it first when it is
// shared with a snapshot. Caller must hold w.mu for writing.
func (w *WorldState) writable(addr types.Address) *account {
	acct := w.accounts[addr]
	switch {
	case acct == nil:
		acct = emptyAccount()
		acct.gen = w.gen
	case acct.gen != w.gen:
		acct = acct.clone(w.gen)
	default:
		return acct
	}
	w.accounts[addr] = acct
	return acct
}

// Apply commits diff atomically. Every check runs before the first write,
// so a rejected diff leaves the store untouched.
func (w *WorldState) Apply(diff *StateDiff) error {
	if diff == nil {
		return ErrNilDiff
	}
	w.mu.Lock()
	defer w.mu.Unlock()

	if diff.applied {
		return ErrDiffApplied
	}
	if diff.Base != w.revision {
		return fmt.Errorf("%w: diff base %d, store revision %d", ErrStaleDiff, diff.Base, w.revision)
	}
	for i := range diff.Accounts {
		if err := w.validate(&diff.Accounts[i]); err != nil {
			return err
		}
	}
	for i := range diff.Accounts {
		d := &diff.Accounts[i]
		if d.Deleted {
			delete(w.accounts, d.Address)
			continue
		}
		acct := w.writable(d.Address)
		if d.Balance != nil {
			acct.balance = new(uint256.Int).Set(d.Balance.To)
		}
		if d.Nonce != nil {
			acct.nonce = d.Nonce.To
		}
		if d.Code != nil {
			acct.code = append([]byte(nil), d.Code.To...)
			acct.codeHash = crypto.Keccak256Hash(acct.code)
		}
		for _, sc := range d.Storage {
			if sc.To == (types.Hash{}) {
				delete(acct.storage, sc.Key)
			} else {
				acct.storage[sc.Key] = sc.To
			}
		}
	}
	w.revision++
	diff.applied = true
	metrics.StateApplies.Inc()
	return nil
}

func (w *WorldState) validate(d *AccountDiff) error {
	acct := w.accounts[d.Address]
	if acct == nil {
		acct = emptyAccount()
	}
	if d.Balance != nil && !acct.balance.Eq(d.Balance.From) {
		return fmt.Errorf("%w: balance of %s", ErrDiffConflict, d.Address)
	}
	if d.Nonce != nil {
		if acct.nonce != d.Nonce.From {
			return fmt.Errorf("%w: nonce of %s", ErrDiffConflict, d.Address)
		}
		if d.Nonce.To < d.Nonce.From {
			return fmt.Errorf("%w: %s %d -> %d", ErrNonceRegression, d.Address, d.Nonce.From, d.Nonce.To)
		}
	}
	if d.Code != nil {
		if len(acct.code) > 0 {
			return fmt.Errorf("%w: %s", ErrCodeImmutable, d.Address)
		}
		if !bytes.Equal(acct.code, d.Code.From) {
			return fmt.Errorf("%w: code of %s", ErrDiffConflict, d.Address)
		}
	}
	for _, sc := range d.Storage {
		if acct.storage[sc.Key] != sc.From {
			return fmt.Errorf("%w: slot %s of %s", ErrDiffConflict, sc.Key, d.Address)
		}
	}
	return nil
}

// Snapshot captures the current state and returns a handle to it. The
// capture shares every account object with the live state; objects are
// cloned lazily on their next write.
func (w *WorldState) Snapshot() SnapshotID {
	w.mu.Lock()
	defer w.mu.Unlock()
	snap := &worldSnapshot{
		accounts: make(map[types.Address]*account, len(w.accounts)),
		block:    w.block.Copy(),
	}
	for addr, acct := range w.accounts {
		snap.accounts[addr] = acct
	}
	w.gen++
	id := w.nextSnapshot
	w.nextSnapshot++
	w.snapshots[id] = snap
	metrics.StateSnapshots.Set(int64(len(w.snapshots)))
	return id
}

// Restore replaces the current state with the snapshot id. Every handle
// taken after id is invalidated; id itself stays valid.
func (w *WorldState) Restore(id SnapshotID) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	snap, ok := w.snapshots[id]
	if !ok {
		return fmt.Errorf("%w: %d", ErrInvalidSnapshot, id)
	}
	w.accounts = make(map[types.Address]*account, len(snap.accounts))
	for addr, acct := range snap.accounts {
		w.accounts[addr] = acct
	}
	w.block = snap.block.Copy()
	w.gen++
	w.revision++
	for sid := range w.snapshots {
		if sid > id {
			delete(w.snapshots, sid)
		}
	}
	metrics.StateSnapshots.Set(int64(len(w.snapshots)))
	return nil
}

// Release drops a retained snapshot.
func (w *WorldState) Release(id SnapshotID) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, ok := w.snapshots[id]; !ok {
		return fmt.Errorf("%w: %d", ErrInvalidSnapshot, id)
	}
	delete(w.snapshots, id)
	metrics.StateSnapshots.Set(int64(len(w.snapshots)))
	return nil
}

// HasSnapshot reports whether id is a valid, retained handle.
func (w *WorldState) HasSnapshot(id SnapshotID) bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	_, ok := w.snapshots[id]
	return ok
}

// Snapshots returns the number of retained snapshots.
func (w *WorldState) Snapshots() int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return len(w.snapshots)
}

var _ View = (*WorldState)(nil)
