package vm

import (
	"errors"
	"fmt"

	"github.com/eth2030/agentsim/core/types"
)

// dynamicGasFunc computes the variable part of an operation's gas cost,
// including memory expansion to memorySize bytes.
type dynamicGasFunc func(evm *EVM, contract *Contract, stack *Stack, mem *Memory, memorySize uint64) (uint64, error)

func addGas(a, b uint64) (uint64, error) {
	sum, overflow := types.SafeAddGas(a, b)
	if overflow {
		return 0, ErrGasUintOverflow
	}
	return sum, nil
}

func mulGas(a, b uint64) (uint64, error) {
	prod, overflow := types.SafeMulGas(a, b)
	if overflow {
		return 0, ErrGasUintOverflow
	}
	return prod, nil
}

// memoryCopierGas charges memory expansion plus CopyGas per word of the
// length found at stackpos.
func memoryCopierGas(stackpos int) dynamicGasFunc {
	return func(evm *EVM, contract *Contract, stack *Stack, mem *Memory, memorySize uint64) (uint64, error) {
		gas, err := memoryGasCost(mem, memorySize)
		if err != nil {
			return 0, err
		}
		words, overflow := stack.Back(stackpos).Uint64WithOverflow()
		if overflow {
			return 0, ErrGasUintOverflow
		}
		if words, err = mulGas(toWordSize(words), CopyGas); err != nil {
			return 0, err
		}
		return addGas(gas, words)
	}
}

var (
	gasCallDataCopy   = memoryCopierGas(2)
	gasCodeCopy       = memoryCopierGas(2)
	gasMcopy          = memoryCopierGas(2)
	gasExtCodeCopy    = memoryCopierGas(3)
	gasReturnDataCopy = memoryCopierGas(2)
)

func pureMemoryGascost(evm *EVM, contract *Contract, stack *Stack, mem *Memory, memorySize uint64) (uint64, error) {
	return memoryGasCost(mem, memorySize)
}

var (
	gasReturn  = pureMemoryGascost
	gasRevert  = pureMemoryGascost
	gasMLoad   = pureMemoryGascost
	gasMStore8 = pureMemoryGascost
	gasMStore  = pureMemoryGascost
)

func gasKeccak256(evm *EVM, contract *Contract, stack *Stack, mem *Memory, memorySize uint64) (uint64, error) {
	gas, err := memoryGasCost(mem, memorySize)
	if err != nil {
		return 0, err
	}
	wordGas, overflow := stack.Back(1).Uint64WithOverflow()
	if overflow {
		return 0, ErrGasUintOverflow
	}
	if wordGas, err = mulGas(toWordSize(wordGas), Keccak256WordGas); err != nil {
		return 0, err
	}
	return addGas(gas, wordGas)
}

func gasExp(evm *EVM, contract *Contract, stack *Stack, mem *Memory, memorySize uint64) (uint64, error) {
	expByteLen := uint64((stack.Back(1).BitLen() + 7) / 8)
	return mulGas(expByteLen, ExpByteGas)
}

func makeGasLog(n uint64) dynamicGasFunc {
	return func(evm *EVM, contract *Contract, stack *Stack, mem *Memory, memorySize uint64) (uint64, error) {
		requestedSize, overflow := stack.Back(1).Uint64WithOverflow()
		if overflow {
			return 0, ErrGasUintOverflow
		}
		gas, err := memoryGasCost(mem, memorySize)
		if err != nil {
			return 0, err
		}
		if gas, err = addGas(gas, LogGas); err != nil {
			return 0, err
		}
		if gas, err = addGas(gas, n*LogTopicGas); err != nil {
			return 0, err
		}
		dataGas, err := mulGas(requestedSize, LogDataGas)
		if err != nil {
			return 0, err
		}
		return addGas(gas, dataGas)
	}
}

// gasCreateEip3860 charges memory plus initcode words and rejects oversized
// initcode.
func gasCreateEip3860(evm *EVM, contract *Contract, stack *Stack, mem *Memory, memorySize uint64) (uint64, error) {
	gas, err := memoryGasCost(mem, memorySize)
	if err != nil {
		return 0, err
	}
	size, overflow := stack.Back(2).Uint64WithOverflow()
	if overflow {
		return 0, ErrGasUintOverflow
	}
	if size > MaxInitCodeSize {
		return 0, fmt.Errorf("%w: size %d", ErrMaxInitCodeSizeExceeded, size)
	}
	return addGas(gas, InitCodeWordGas*toWordSize(size))
}

// gasCreate2Eip3860 additionally charges hashing of the initcode.
func gasCreate2Eip3860(evm *EVM, contract *Contract, stack *Stack, mem *Memory, memorySize uint64) (uint64, error) {
	gas, err := memoryGasCost(mem, memorySize)
	if err != nil {
		return 0, err
	}
	size, overflow := stack.Back(2).Uint64WithOverflow()
	if overflow {
		return 0, ErrGasUintOverflow
	}
	if size > MaxInitCodeSize {
		return 0, fmt.Errorf("%w: size %d", ErrMaxInitCodeSizeExceeded, size)
	}
	return addGas(gas, (InitCodeWordGas+Keccak256WordGas)*toWordSize(size))
}

// --- Access-list (warm/cold) gas ---

func gasSLoadEIP2929(evm *EVM, contract *Contract, stack *Stack, mem *Memory, memorySize uint64) (uint64, error) {
	slot := types.Hash(stack.Back(0).Bytes32())
	return gasEIP2929SlotCheck(evm, contract.Address, slot), nil
}

func gasAccountCheckEIP2929(evm *EVM, contract *Contract, stack *Stack, mem *Memory, memorySize uint64) (uint64, error) {
	addr := types.Address(stack.Back(0).Bytes20())
	return gasEIP2929AccountCheck(evm, addr), nil
}

var (
	gasBalanceEIP2929     = gasAccountCheckEIP2929
	gasExtCodeSizeEIP2929 = gasAccountCheckEIP2929
	gasExtCodeHashEIP2929 = gasAccountCheckEIP2929
)

func gasExtCodeCopyEIP2929(evm *EVM, contract *Contract, stack *Stack, mem *Memory, memorySize uint64) (uint64, error) {
	gas, err := gasExtCodeCopy(evm, contract, stack, mem, memorySize)
	if err != nil {
		return 0, err
	}
	addr := types.Address(stack.Back(0).Bytes20())
	return addGas(gas, gasEIP2929AccountCheck(evm, addr))
}

// gasSStoreEIP2929 implements net-metered SSTORE with cold slot surcharge and
// the reduced clearing refund.
func gasSStoreEIP2929(evm *EVM, contract *Contract, stack *Stack, mem *Memory, memorySize uint64) (uint64, error) {
	// A frame with only the call stipend left must not write storage.
	if contract.Gas <= SstoreSentryGas {
		return 0, errors.New("not enough gas for reentrancy sentry")
	}
	var (
		db      = evm.StateDB
		slot    = types.Hash(stack.Back(0).Bytes32())
		value   = types.Hash(stack.Back(1).Bytes32())
		current = db.GetState(contract.Address, slot)
		cost    uint64
	)
	if _, slotOk := db.SlotInAccessList(contract.Address, slot); !slotOk {
		cost = ColdSloadCost
		db.AddSlotToAccessList(contract.Address, slot)
	}
	if current == value {
		return cost + WarmStorageReadCost, nil
	}
	original := db.GetCommittedState(contract.Address, slot)
	if original == current {
		if original.IsZero() {
			return cost + SstoreSetGas, nil
		}
		if value.IsZero() {
			db.AddRefund(SstoreClearsScheduleRefund)
		}
		return cost + (SstoreResetGas - ColdSloadCost), nil
	}
	if !original.IsZero() {
		if current.IsZero() {
			db.SubRefund(SstoreClearsScheduleRefund)
		} else if value.IsZero() {
			db.AddRefund(SstoreClearsScheduleRefund)
		}
	}
	if original == value {
		if original.IsZero() {
			db.AddRefund(SstoreSetGas - WarmStorageReadCost)
		} else {
			db.AddRefund((SstoreResetGas - ColdSloadCost) - WarmStorageReadCost)
		}
	}
	return cost + WarmStorageReadCost, nil
}

// --- Calls ---

func gasCall(evm *EVM, contract *Contract, stack *Stack, mem *Memory, memorySize uint64) (uint64, error) {
	var (
		gas            uint64
		transfersValue = !stack.Back(2).IsZero()
		address        = types.Address(stack.Back(1).Bytes20())
	)
	if transfersValue && evm.StateDB.Empty(address) {
		gas += CallNewAccountGas
	}
	if transfersValue {
		gas += CallValueTransferGas
	}
	memoryGas, err := memoryGasCost(mem, memorySize)
	if err != nil {
		return 0, err
	}
	if gas, err = addGas(gas, memoryGas); err != nil {
		return 0, err
	}
	if evm.callGasTemp, err = callGas(contract.Gas, gas, stack.Back(0)); err != nil {
		return 0, err
	}
	return addGas(gas, evm.callGasTemp)
}

func gasCallCode(evm *EVM, contract *Contract, stack *Stack, mem *Memory, memorySize uint64) (uint64, error) {
	memoryGas, err := memoryGasCost(mem, memorySize)
	if err != nil {
		return 0, err
	}
	gas := memoryGas
	if !stack.Back(2).IsZero() {
		if gas, err = addGas(gas, CallValueTransferGas); err != nil {
			return 0, err
		}
	}
	if evm.callGasTemp, err = callGas(contract.Gas, gas, stack.Back(0)); err != nil {
		return 0, err
	}
	return addGas(gas, evm.callGasTemp)
}

func gasDelegateCall(evm *EVM, contract *Contract, stack *Stack, mem *Memory, memorySize uint64) (uint64, error) {
	gas, err := memoryGasCost(mem, memorySize)
	if err != nil {
		return 0, err
	}
	if evm.callGasTemp, err = callGas(contract.Gas, gas, stack.Back(0)); err != nil {
		return 0, err
	}
	return addGas(gas, evm.callGasTemp)
}

func gasStaticCall(evm *EVM, contract *Contract, stack *Stack, mem *Memory, memorySize uint64) (uint64, error) {
	return gasDelegateCall(evm, contract, stack, mem, memorySize)
}

// makeCallVariantGasCallEIP2929 wraps a call gas function with the cold
// account surcharge. The surcharge is deducted before the 63/64 computation
// so the callee sees the reduced budget.
func makeCallVariantGasCallEIP2929(oldCalculator dynamicGasFunc) dynamicGasFunc {
	return func(evm *EVM, contract *Contract, stack *Stack, mem *Memory, memorySize uint64) (uint64, error) {
		addr := types.Address(stack.Back(1).Bytes20())
		warmAccess := evm.StateDB.AddressInAccessList(addr)
		coldCost := ColdAccountAccessCost - WarmStorageReadCost
		if !warmAccess {
			evm.StateDB.AddAddressToAccessList(addr)
			if !contract.UseGas(coldCost) {
				return 0, ErrOutOfGas
			}
		}
		gas, err := oldCalculator(evm, contract, stack, mem, memorySize)
		if warmAccess || err != nil {
			return gas, err
		}
		// Undo the temporary charge; the caller deducts the full total.
		contract.Gas += coldCost
		return addGas(gas, coldCost)
	}
}

var (
	gasCallEIP2929         = makeCallVariantGasCallEIP2929(gasCall)
	gasCallCodeEIP2929     = makeCallVariantGasCallEIP2929(gasCallCode)
	gasDelegateCallEIP2929 = makeCallVariantGasCallEIP2929(gasDelegateCall)
	gasStaticCallEIP2929   = makeCallVariantGasCallEIP2929(gasStaticCall)
)

func gasSelfdestructEIP3529(evm *EVM, contract *Contract, stack *Stack, mem *Memory, memorySize uint64) (uint64, error) {
	var (
		gas     uint64
		address = types.Address(stack.Back(0).Bytes20())
	)
	if !evm.StateDB.AddressInAccessList(address) {
		evm.StateDB.AddAddressToAccessList(address)
		gas = ColdAccountAccessCost
	}
	if evm.StateDB.Empty(address) && !evm.StateDB.GetBalance(contract.Address).IsZero() {
		gas += CreateBySelfdestructGas
	}
	return gas, nil
}
