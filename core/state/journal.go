package state

import (
	"github.com/eth2030/agentsim/core/types"
	"github.com/holiman/uint256"
)

// journalEntry is a revertible state change.
type journalEntry interface {
	revert(s *TxState)
}

// journal tracks state modifications for snapshot/revert. Each call frame
// takes a snapshot on entry; a failing frame reverts to it, discarding only
// the entries it appended.
type journal struct {
	entries   []journalEntry
	snapshots map[int]int // snapshot ID -> entry index
	nextID    int
}

func newJournal() *journal {
	return &journal{
		snapshots: make(map[int]int),
	}
}

func (j *journal) append(entry journalEntry) {
	j.entries = append(j.entries, entry)
}

func (j *journal) length() int {
	return len(j.entries)
}

func (j *journal) snapshot() int {
	id := j.nextID
	j.nextID++
	j.snapshots[id] = len(j.entries)
	return id
}

// revertToSnapshot undoes every entry recorded after snapshot id. It
// reports false when id is unknown.
func (j *journal) revertToSnapshot(id int, s *TxState) bool {
	idx, ok := j.snapshots[id]
	if !ok {
		return false
	}
	// Revert in reverse order.
	for i := len(j.entries) - 1; i >= idx; i-- {
		j.entries[i].revert(s)
	}
	j.entries = j.entries[:idx]

	// Remove invalidated snapshots.
	for sid := range j.snapshots {
		if sid >= id {
			delete(j.snapshots, sid)
		}
	}
	return true
}

// --- Concrete journal entries ---

type touchChange struct {
	addr types.Address
}

func (ch touchChange) revert(s *TxState) {
	delete(s.objects, ch.addr)
}

type createContractChange struct {
	addr types.Address
}

func (ch createContractChange) revert(s *TxState) {
	if obj := s.objects[ch.addr]; obj != nil {
		obj.created = false
	}
}

type balanceChange struct {
	addr types.Address
	prev *uint256.Int
}

func (ch balanceChange) revert(s *TxState) {
	if obj := s.objects[ch.addr]; obj != nil {
		obj.balance = ch.prev
	}
}

type nonceChange struct {
	addr types.Address
	prev uint64
}

func (ch nonceChange) revert(s *TxState) {
	if obj := s.objects[ch.addr]; obj != nil {
		obj.nonce = ch.prev
	}
}

type codeChange struct {
	addr     types.Address
	prevCode []byte
	prevHash types.Hash
}

func (ch codeChange) revert(s *TxState) {
	if obj := s.objects[ch.addr]; obj != nil {
		obj.code = ch.prevCode
		obj.codeHash = ch.prevHash
	}
}

type storageChange struct {
	addr       types.Address
	key        types.Hash
	prev       types.Hash
	prevExists bool // true if the key was present in dirtyStorage before
}

func (ch storageChange) revert(s *TxState) {
	if obj := s.objects[ch.addr]; obj != nil {
		if ch.prevExists {
			obj.dirtyStorage[ch.key] = ch.prev
		} else {
			// The slot was not dirty before this write; drop it so the
			// committed value is visible again.
			delete(obj.dirtyStorage, ch.key)
		}
	}
}

type selfDestructChange struct {
	addr           types.Address
	prevDestructed bool
	prevBalance    *uint256.Int
}

func (ch selfDestructChange) revert(s *TxState) {
	if obj := s.objects[ch.addr]; obj != nil {
		obj.selfDestructed = ch.prevDestructed
		obj.balance = ch.prevBalance
	}
}

type accessListAddAccountChange struct {
	addr types.Address
}

func (ch accessListAddAccountChange) revert(s *TxState) {
	s.accessList.DeleteAddress(ch.addr)
}

type accessListAddSlotChange struct {
	addr types.Address
	slot types.Hash
}

func (ch accessListAddSlotChange) revert(s *TxState) {
	s.accessList.DeleteSlot(ch.addr, ch.slot)
}

type transientStorageChange struct {
	addr types.Address
	key  types.Hash
	prev types.Hash
}

func (ch transientStorageChange) revert(s *TxState) {
	s.setTransient(ch.addr, ch.key, ch.prev)
}

type logChange struct {
	prevLen int
}

func (ch logChange) revert(s *TxState) {
	s.logs = s.logs[:ch.prevLen]
}

type refundChange struct {
	prev uint64
}

func (ch refundChange) revert(s *TxState) {
	s.refund = ch.prev
}
