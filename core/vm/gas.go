package vm

import (
	"github.com/eth2030/agentsim/core/types"
	"github.com/ethereum/go-ethereum/params"
	"github.com/holiman/uint256"
)

// Gas cost constants for the Cancun rule set.
const (
	GasQuickStep   uint64 = 2
	GasFastestStep uint64 = 3
	GasFastStep    uint64 = 5
	GasMidStep     uint64 = 8
	GasSlowStep    uint64 = 10
	GasExtStep     uint64 = 20

	JumpdestGas      = params.JumpdestGas
	Keccak256Gas     = params.Keccak256Gas
	Keccak256WordGas = params.Keccak256WordGas
	CopyGas          = params.CopyGas
	ExpByteGas       = params.ExpByteEIP158
	MemoryGas        = params.MemoryGas
	QuadCoeffDiv     = params.QuadCoeffDiv

	LogGas      = params.LogGas
	LogTopicGas = params.LogTopicGas
	LogDataGas  = params.LogDataGas

	CreateGas       = params.CreateGas
	CreateDataGas   = params.CreateDataGas
	InitCodeWordGas = params.InitCodeWordGas

	CallValueTransferGas    = params.CallValueTransferGas
	CallNewAccountGas       = params.CallNewAccountGas
	CallStipend             = params.CallStipend
	SelfdestructGas         = params.SelfdestructGasEIP150
	CreateBySelfdestructGas = params.CreateBySelfdestructGas

	ColdAccountAccessCost = params.ColdAccountAccessCostEIP2929
	ColdSloadCost         = params.ColdSloadCostEIP2929
	WarmStorageReadCost   = params.WarmStorageReadCostEIP2929

	SstoreSetGas    = params.SstoreSetGasEIP2200
	SstoreResetGas  = params.SstoreResetGasEIP2200
	SstoreSentryGas = params.SstoreSentryGasEIP2200
	// SstoreClearsScheduleRefund is the refund for clearing a slot after the
	// reduced refund schedule (SSTORE_RESET - COLD_SLOAD + ACCESS_LIST_KEY).
	SstoreClearsScheduleRefund = params.SstoreClearsScheduleRefundEIP3529

	TloadGas  uint64 = 100
	TstoreGas uint64 = 100

	// MaxRefundQuotient caps the refund at gasUsed/5.
	MaxRefundQuotient = params.RefundQuotientEIP3529

	MaxCodeSize     = 24576
	MaxInitCodeSize = 2 * MaxCodeSize

	// MaxCallDepth is the deepest frame nesting allowed.
	MaxCallDepth = 1024

	// CallGasFraction is the 63/64 divisor for forwarded gas.
	CallGasFraction uint64 = 64

	// BlockHashWindow is how many recent blocks BLOCKHASH can see.
	BlockHashWindow uint64 = 256
)

// toWordSize rounds a byte count up to 32-byte words.
func toWordSize(size uint64) uint64 {
	if size > ^uint64(0)-31 {
		return ^uint64(0)/32 + 1
	}
	return (size + 31) / 32
}

// memoryGasCost returns the gas to grow mem to newMemSize bytes. The
// quadratic schedule is 3*words + words^2/512.
func memoryGasCost(mem *Memory, newMemSize uint64) (uint64, error) {
	if newMemSize == 0 {
		return 0, nil
	}
	// Beyond this size the square overflows uint64.
	if newMemSize > 0x1FFFFFFFE0 {
		return 0, ErrGasUintOverflow
	}
	newMemSizeWords := toWordSize(newMemSize)
	newMemSize = newMemSizeWords * 32

	if newMemSize > uint64(mem.Len()) {
		square := newMemSizeWords * newMemSizeWords
		linCoef := newMemSizeWords * MemoryGas
		quadCoef := square / QuadCoeffDiv
		newTotalFee := linCoef + quadCoef

		fee := newTotalFee - mem.lastGasCost
		mem.lastGasCost = newTotalFee
		return fee, nil
	}
	return 0, nil
}

// MemoryGasCost returns the total gas for a memory of size bytes.
func MemoryGasCost(size uint64) uint64 {
	words := toWordSize(size)
	return words*MemoryGas + words*words/QuadCoeffDiv
}

// callGas applies the 63/64 rule: the callee receives the requested amount
// capped at all but one 64th of what is left after base is charged.
func callGas(availableGas, base uint64, callCost *uint256.Int) (uint64, error) {
	if availableGas < base {
		return 0, ErrOutOfGas
	}
	availableGas -= base
	gas := availableGas - availableGas/CallGasFraction
	if !callCost.IsUint64() || gas < callCost.Uint64() {
		return gas, nil
	}
	return callCost.Uint64(), nil
}

// CallGas is the exported form of the 63/64 rule with no base cost.
func CallGas(availableGas uint64, requested *uint256.Int) uint64 {
	gas, _ := callGas(availableGas, 0, requested)
	return gas
}

// IntrinsicGas computes the up-front gas of a transaction: the base fee for
// a call or creation, calldata bytes, and initcode words for creations.
func IntrinsicGas(data []byte, isCreate bool) (uint64, error) {
	var gas uint64
	if isCreate {
		gas = TxGasContractCreation
	} else {
		gas = TxGas
	}
	if len(data) > 0 {
		var nz uint64
		for _, b := range data {
			if b != 0 {
				nz++
			}
		}
		z := uint64(len(data)) - nz

		if (^uint64(0)-gas)/TxDataNonZeroGas < nz {
			return 0, ErrGasUintOverflow
		}
		gas += nz * TxDataNonZeroGas

		if (^uint64(0)-gas)/TxDataZeroGas < z {
			return 0, ErrGasUintOverflow
		}
		gas += z * TxDataZeroGas

		if isCreate {
			words := toWordSize(uint64(len(data)))
			if (^uint64(0)-gas)/InitCodeWordGas < words {
				return 0, ErrGasUintOverflow
			}
			gas += words * InitCodeWordGas
		}
	}
	return gas, nil
}

// Transaction-level gas constants.
const (
	TxGas                 uint64 = 21000
	TxGasContractCreation uint64 = 53000
	TxDataZeroGas         uint64 = 4
	TxDataNonZeroGas      uint64 = 16
)

// gasEIP2929AccountCheck charges the cold surcharge for addr and warms it.
// Opcodes that use it carry WarmStorageReadCost as constant gas.
func gasEIP2929AccountCheck(evm *EVM, addr types.Address) uint64 {
	if evm.StateDB.AddressInAccessList(addr) {
		return 0
	}
	evm.StateDB.AddAddressToAccessList(addr)
	return ColdAccountAccessCost - WarmStorageReadCost
}

// gasEIP2929SlotCheck charges the cold surcharge for a storage slot.
func gasEIP2929SlotCheck(evm *EVM, addr types.Address, slot types.Hash) uint64 {
	if _, slotOk := evm.StateDB.SlotInAccessList(addr, slot); slotOk {
		return 0
	}
	evm.StateDB.AddSlotToAccessList(addr, slot)
	return ColdSloadCost - WarmStorageReadCost
}
