package vm

import (
	"github.com/eth2030/agentsim/core/types"
	"github.com/holiman/uint256"
)

// bitvec marks the code positions that hold opcodes (as opposed to PUSH
// immediates). Bit i set means byte i is an instruction.
type bitvec []byte

func (b bitvec) set(pos uint64)        { b[pos/8] |= 1 << (pos % 8) }
func (b bitvec) isSet(pos uint64) bool { return b[pos/8]&(1<<(pos%8)) != 0 }

// codeBitmap scans code once and records every instruction boundary.
func codeBitmap(code []byte) bitvec {
	bits := make(bitvec, len(code)/8+1)
	for pc := uint64(0); pc < uint64(len(code)); {
		op := OpCode(code[pc])
		bits.set(pc)
		if op.IsPush() {
			pc += uint64(op-PUSH1) + 2
			continue
		}
		pc++
	}
	return bits
}

// Contract is the execution context of one call frame: the code being run,
// on whose behalf, and the gas left.
type Contract struct {
	CallerAddress types.Address
	Address       types.Address
	Code          []byte
	CodeHash      types.Hash
	Input         []byte
	Gas           uint64
	Value         *uint256.Int

	// IsDeployment is set while running initcode.
	IsDeployment bool

	analysis bitvec
}

// NewContract creates a frame for caller invoking addr.
func NewContract(caller, addr types.Address, value *uint256.Int, gas uint64) *Contract {
	if value == nil {
		value = new(uint256.Int)
	}
	return &Contract{
		CallerAddress: caller,
		Address:       addr,
		Value:         value,
		Gas:           gas,
	}
}

// SetCallCode sets the code executed by the frame.
func (c *Contract) SetCallCode(hash types.Hash, code []byte) {
	c.Code = code
	c.CodeHash = hash
	c.analysis = nil
}

// GetOp returns the opcode at n, or STOP past the end of the code.
func (c *Contract) GetOp(n uint64) OpCode {
	if n < uint64(len(c.Code)) {
		return OpCode(c.Code[n])
	}
	return STOP
}

// UseGas consumes gas and reports whether enough was left.
func (c *Contract) UseGas(gas uint64) bool {
	if c.Gas < gas {
		return false
	}
	c.Gas -= gas
	return true
}

// RefundGas returns unused gas from a child frame.
func (c *Contract) RefundGas(gas uint64) {
	c.Gas += gas
}

// validJumpdest reports whether dest is a JUMPDEST that is not inside PUSH
// data.
func (c *Contract) validJumpdest(dest *uint256.Int) bool {
	udest, overflow := dest.Uint64WithOverflow()
	if overflow || udest >= uint64(len(c.Code)) {
		return false
	}
	if OpCode(c.Code[udest]) != JUMPDEST {
		return false
	}
	if c.analysis == nil {
		c.analysis = codeBitmap(c.Code)
	}
	return c.analysis.isSet(udest)
}
