package state

import "github.com/eth2030/agentsim/core/types"

// accessList tracks warm addresses and storage slots per EIP-2929. An
// address entry with a nil slot set is warm without any warm slots.
type accessList struct {
	addresses map[types.Address]map[types.Hash]struct{}
}

func newAccessList() *accessList {
	return &accessList{
		addresses: make(map[types.Address]map[types.Hash]struct{}),
	}
}

// AddAddress marks addr warm. Returns true if it was already warm.
func (al *accessList) AddAddress(addr types.Address) bool {
	if _, ok := al.addresses[addr]; ok {
		return true
	}
	al.addresses[addr] = nil
	return false
}

// AddSlot marks (addr, slot) warm, reporting what was already present.
func (al *accessList) AddSlot(addr types.Address, slot types.Hash) (addrPresent bool, slotPresent bool) {
	slots, addrPresent := al.addresses[addr]
	if slots == nil {
		slots = make(map[types.Hash]struct{})
		al.addresses[addr] = slots
	}
	if _, slotPresent = slots[slot]; slotPresent {
		return addrPresent, true
	}
	slots[slot] = struct{}{}
	return addrPresent, false
}

// ContainsAddress returns whether the address is warm.
func (al *accessList) ContainsAddress(addr types.Address) bool {
	_, ok := al.addresses[addr]
	return ok
}

// ContainsSlot returns whether the address and slot are warm.
func (al *accessList) ContainsSlot(addr types.Address, slot types.Hash) (addressOk bool, slotOk bool) {
	slots, ok := al.addresses[addr]
	if !ok {
		return false, false
	}
	_, slotOk = slots[slot]
	return true, slotOk
}

// DeleteAddress removes an address from the access list. Used during revert.
func (al *accessList) DeleteAddress(addr types.Address) {
	delete(al.addresses, addr)
}

// DeleteSlot removes a slot from an address in the access list. Used during revert.
func (al *accessList) DeleteSlot(addr types.Address, slot types.Hash) {
	if slots := al.addresses[addr]; slots != nil {
		delete(slots, slot)
	}
}
