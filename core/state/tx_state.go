package state

import (
	"sort"

	"github.com/eth2030/agentsim/core/types"
	"github.com/eth2030/agentsim/crypto"
	"github.com/holiman/uint256"
)

// stateObject is the transaction-scoped working copy of one account. Storage
// writes land in dirtyStorage; reads of clean slots fall through to origin.
type stateObject struct {
	origin       *account // world object at first touch, nil for new accounts
	nonce        uint64
	balance      *uint256.Int
	code         []byte
	codeHash     types.Hash
	dirtyStorage map[types.Hash]types.Hash

	created        bool // contract created in this transaction (EIP-6780)
	selfDestructed bool
}

func newStateObject(origin *account) *stateObject {
	obj := &stateObject{
		origin:       origin,
		balance:      new(uint256.Int),
		codeHash:     types.EmptyCodeHash,
		dirtyStorage: make(map[types.Hash]types.Hash),
	}
	if origin != nil {
		obj.nonce = origin.nonce
		obj.balance.Set(origin.balance)
		obj.code = origin.code
		obj.codeHash = origin.codeHash
	}
	return obj
}

func (o *stateObject) committedState(key types.Hash) types.Hash {
	if o.origin == nil {
		return types.Hash{}
	}
	return o.origin.storage[key]
}

func (o *stateObject) state(key types.Hash) types.Hash {
	if v, ok := o.dirtyStorage[key]; ok {
		return v
	}
	return o.committedState(key)
}

func (o *stateObject) hasStorage() bool {
	for _, v := range o.dirtyStorage {
		if v != (types.Hash{}) {
			return true
		}
	}
	return o.origin != nil && len(o.origin.storage) > 0
}

// TxState is the mutation arena of a single transaction. It reads through
// to the WorldState it was opened on and never writes to it; Diff returns
// the accumulated changes for the world to Apply.
type TxState struct {
	world            *WorldState
	base             uint64
	objects          map[types.Address]*stateObject
	journal          *journal
	logs             []*types.Log
	refund           uint64
	accessList       *accessList
	transientStorage map[types.Address]map[types.Hash]types.Hash
}

// NewTxState opens a transaction overlay on world at its current revision.
func NewTxState(world *WorldState) *TxState {
	return &TxState{
		world:            world,
		base:             world.Revision(),
		objects:          make(map[types.Address]*stateObject),
		journal:          newJournal(),
		accessList:       newAccessList(),
		transientStorage: make(map[types.Address]map[types.Hash]types.Hash),
	}
}

// Block returns the block info of the underlying world.
func (s *TxState) Block() BlockInfo {
	return s.world.Block()
}

func (s *TxState) getStateObject(addr types.Address) *stateObject {
	if obj, ok := s.objects[addr]; ok {
		return obj
	}
	origin := s.world.lookup(addr)
	if origin == nil {
		return nil
	}
	// Loading an existing account is not journaled: the copy is identical
	// to the world until a journaled write changes it.
	obj := newStateObject(origin)
	s.objects[addr] = obj
	return obj
}

func (s *TxState) getOrNewStateObject(addr types.Address) *stateObject {
	if obj := s.getStateObject(addr); obj != nil {
		return obj
	}
	obj := newStateObject(nil)
	s.objects[addr] = obj
	s.journal.append(touchChange{addr: addr})
	return obj
}

// --- Account operations ---

// CreateContract marks addr as a contract created in this transaction. An
// existing balance is preserved.
func (s *TxState) CreateContract(addr types.Address) {
	obj := s.getOrNewStateObject(addr)
	if !obj.created {
		s.journal.append(createContractChange{addr: addr})
		obj.created = true
	}
}

// IsNewContract reports whether addr was created in this transaction.
func (s *TxState) IsNewContract(addr types.Address) bool {
	if obj := s.getStateObject(addr); obj != nil {
		return obj.created
	}
	return false
}

// SubBalance debits amount from addr. A debit larger than the balance
// fails with ErrBalanceUnderflow and changes nothing.
func (s *TxState) SubBalance(addr types.Address, amount *uint256.Int) error {
	if amount.IsZero() {
		return nil
	}
	obj := s.getOrNewStateObject(addr)
	next, underflow := new(uint256.Int).SubOverflow(obj.balance, amount)
	if underflow {
		return ErrBalanceUnderflow
	}
	s.journal.append(balanceChange{addr: addr, prev: obj.balance})
	obj.balance = next
	return nil
}

// AddBalance credits amount to addr, creating the account if needed.
func (s *TxState) AddBalance(addr types.Address, amount *uint256.Int) {
	obj := s.getOrNewStateObject(addr)
	if amount.IsZero() {
		return
	}
	s.journal.append(balanceChange{addr: addr, prev: obj.balance})
	obj.balance = new(uint256.Int).Add(obj.balance, amount)
}

// GetBalance returns a copy of the balance of addr.
func (s *TxState) GetBalance(addr types.Address) *uint256.Int {
	if obj := s.getStateObject(addr); obj != nil {
		return new(uint256.Int).Set(obj.balance)
	}
	return new(uint256.Int)
}

func (s *TxState) GetNonce(addr types.Address) uint64 {
	if obj := s.getStateObject(addr); obj != nil {
		return obj.nonce
	}
	return 0
}

func (s *TxState) SetNonce(addr types.Address, nonce uint64) {
	obj := s.getOrNewStateObject(addr)
	s.journal.append(nonceChange{addr: addr, prev: obj.nonce})
	obj.nonce = nonce
}

func (s *TxState) GetCode(addr types.Address) []byte {
	if obj := s.getStateObject(addr); obj != nil {
		return obj.code
	}
	return nil
}

func (s *TxState) SetCode(addr types.Address, code []byte) {
	obj := s.getOrNewStateObject(addr)
	s.journal.append(codeChange{addr: addr, prevCode: obj.code, prevHash: obj.codeHash})
	obj.code = code
	obj.codeHash = crypto.Keccak256Hash(code)
}

// GetCodeHash returns the code hash of addr, or the zero hash for accounts
// that do not exist (EXTCODEHASH semantics).
func (s *TxState) GetCodeHash(addr types.Address) types.Hash {
	if obj := s.getStateObject(addr); obj != nil {
		return obj.codeHash
	}
	return types.Hash{}
}

func (s *TxState) GetCodeSize(addr types.Address) int {
	return len(s.GetCode(addr))
}

// --- Self-destruct (EIP-6780) ---

// SelfDestruct removes addr at the end of the transaction and zeroes its
// balance. It only takes effect for contracts created in this transaction.
func (s *TxState) SelfDestruct(addr types.Address) {
	obj := s.getStateObject(addr)
	if obj == nil || !obj.created {
		return
	}
	s.journal.append(selfDestructChange{
		addr:           addr,
		prevDestructed: obj.selfDestructed,
		prevBalance:    obj.balance,
	})
	obj.selfDestructed = true
	obj.balance = new(uint256.Int)
}

func (s *TxState) HasSelfDestructed(addr types.Address) bool {
	if obj := s.getStateObject(addr); obj != nil {
		return obj.selfDestructed
	}
	return false
}

// --- Storage operations ---

func (s *TxState) GetState(addr types.Address, key types.Hash) types.Hash {
	if obj := s.getStateObject(addr); obj != nil {
		return obj.state(key)
	}
	return types.Hash{}
}

func (s *TxState) SetState(addr types.Address, key types.Hash, value types.Hash) {
	obj := s.getOrNewStateObject(addr)
	prev, prevExists := obj.dirtyStorage[key]
	s.journal.append(storageChange{addr: addr, key: key, prev: prev, prevExists: prevExists})
	obj.dirtyStorage[key] = value
}

// GetCommittedState returns the value of a slot at the start of the
// transaction (the "original value" of EIP-2200).
func (s *TxState) GetCommittedState(addr types.Address, key types.Hash) types.Hash {
	if obj := s.getStateObject(addr); obj != nil {
		return obj.committedState(key)
	}
	return types.Hash{}
}

// --- Account existence ---

func (s *TxState) Exist(addr types.Address) bool {
	return s.getStateObject(addr) != nil
}

// Empty reports EIP-161 emptiness: zero nonce, zero balance, no code.
func (s *TxState) Empty(addr types.Address) bool {
	obj := s.getStateObject(addr)
	if obj == nil {
		return true
	}
	return obj.nonce == 0 && obj.balance.IsZero() && len(obj.code) == 0
}

// HasCollision reports whether a contract cannot be deployed at addr
// because it already has a nonce, code or storage.
func (s *TxState) HasCollision(addr types.Address) bool {
	obj := s.getStateObject(addr)
	if obj == nil {
		return false
	}
	return obj.nonce != 0 || len(obj.code) > 0 || obj.hasStorage()
}

// --- Snapshot and revert ---

// Snapshot returns a revision id for the current journal position.
func (s *TxState) Snapshot() int {
	return s.journal.snapshot()
}

// RevertToSnapshot undoes all changes made after the snapshot was taken.
// It panics on an unknown id: that is an interpreter bug.
func (s *TxState) RevertToSnapshot(id int) {
	if !s.journal.revertToSnapshot(id, s) {
		panic("state: revert to unknown journal snapshot")
	}
}

// --- Logs ---

// AddLog records a log emitted during execution. Its Index is assigned from
// the order of emission.
func (s *TxState) AddLog(log *types.Log) {
	s.journal.append(logChange{prevLen: len(s.logs)})
	log.Index = uint(len(s.logs))
	s.logs = append(s.logs, log)
}

// Logs returns the logs emitted so far.
func (s *TxState) Logs() []*types.Log {
	return s.logs
}

// --- Refund counter ---

func (s *TxState) AddRefund(gas uint64) {
	s.journal.append(refundChange{prev: s.refund})
	s.refund += gas
}

func (s *TxState) SubRefund(gas uint64) {
	s.journal.append(refundChange{prev: s.refund})
	if gas > s.refund {
		panic("state: refund counter below zero")
	}
	s.refund -= gas
}

func (s *TxState) GetRefund() uint64 {
	return s.refund
}

// --- Access list (EIP-2929) ---

func (s *TxState) AddAddressToAccessList(addr types.Address) {
	if !s.accessList.AddAddress(addr) {
		s.journal.append(accessListAddAccountChange{addr: addr})
	}
}

func (s *TxState) AddSlotToAccessList(addr types.Address, slot types.Hash) {
	addrPresent, slotPresent := s.accessList.AddSlot(addr, slot)
	if !addrPresent {
		s.journal.append(accessListAddAccountChange{addr: addr})
	}
	if !slotPresent {
		s.journal.append(accessListAddSlotChange{addr: addr, slot: slot})
	}
}

func (s *TxState) AddressInAccessList(addr types.Address) bool {
	return s.accessList.ContainsAddress(addr)
}

func (s *TxState) SlotInAccessList(addr types.Address, slot types.Hash) (addressOk bool, slotOk bool) {
	return s.accessList.ContainsSlot(addr, slot)
}

// --- Transient storage (EIP-1153) ---

func (s *TxState) GetTransientState(addr types.Address, key types.Hash) types.Hash {
	return s.transientStorage[addr][key]
}

func (s *TxState) SetTransientState(addr types.Address, key types.Hash, value types.Hash) {
	prev := s.GetTransientState(addr, key)
	if prev == value {
		return
	}
	s.journal.append(transientStorageChange{addr: addr, key: key, prev: prev})
	s.setTransient(addr, key, value)
}

func (s *TxState) setTransient(addr types.Address, key, value types.Hash) {
	if value == (types.Hash{}) {
		delete(s.transientStorage[addr], key)
		if len(s.transientStorage[addr]) == 0 {
			delete(s.transientStorage, addr)
		}
		return
	}
	if _, ok := s.transientStorage[addr]; !ok {
		s.transientStorage[addr] = make(map[types.Hash]types.Hash)
	}
	s.transientStorage[addr][key] = value
}

// --- Diff ---

// Diff returns the changes accumulated so far against the world revision
// the overlay was opened on. Self-destructed accounts are reported as
// deleted. Accounts left empty and untouched are omitted.
func (s *TxState) Diff() *StateDiff {
	addrs := make([]types.Address, 0, len(s.objects))
	for addr := range s.objects {
		addrs = append(addrs, addr)
	}
	sort.Slice(addrs, func(i, j int) bool { return addrs[i].Cmp(addrs[j]) < 0 })

	diff := &StateDiff{Base: s.base}
	for _, addr := range addrs {
		obj := s.objects[addr]
		d := diffAccount(addr, obj.origin, obj)
		if d.IsEmpty() {
			continue
		}
		diff.Accounts = append(diff.Accounts, d)
	}
	return diff
}
