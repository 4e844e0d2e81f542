package vm

import (
	"github.com/eth2030/agentsim/core/types"
	"github.com/eth2030/agentsim/crypto"
	"github.com/holiman/uint256"
)

// canTransfer reports whether addr holds at least amount.
func (evm *EVM) canTransfer(addr types.Address, amount *uint256.Int) bool {
	return !evm.StateDB.GetBalance(addr).Lt(amount)
}

// transfer moves amount from sender to recipient. Zero transfers are no-ops.
func (evm *EVM) transfer(sender, recipient types.Address, amount *uint256.Int) error {
	if amount.IsZero() {
		return nil
	}
	if err := evm.StateDB.SubBalance(sender, amount); err != nil {
		return ErrInsufficientBalance
	}
	evm.StateDB.AddBalance(recipient, amount)
	return nil
}

func (evm *EVM) captureStart(from, to types.Address, create bool, input []byte, gas uint64, value *uint256.Int) {
	if evm.depth == 0 && evm.Config.Tracer != nil {
		evm.Config.Tracer.CaptureStart(from, to, create, input, gas, value)
	}
}

func (evm *EVM) captureEnd(depth int, output []byte, startGas, leftOver uint64, err error) {
	if depth == 0 && evm.Config.Tracer != nil {
		evm.Config.Tracer.CaptureEnd(output, startGas-leftOver, err)
	}
}

// Call runs the code at addr with the given input, transferring value from
// caller. It returns the output, the unused gas and the failure, if any.
// State changes are reverted on failure.
func (evm *EVM) Call(caller, addr types.Address, input []byte, gas uint64, value *uint256.Int) (ret []byte, leftOverGas uint64, err error) {
	if value == nil {
		value = new(uint256.Int)
	}
	if evm.depth > evm.Config.maxDepth() {
		return nil, gas, ErrDepth
	}
	if !value.IsZero() && !evm.canTransfer(caller, value) {
		return nil, gas, ErrInsufficientBalance
	}
	depth := evm.depth
	evm.captureStart(caller, addr, false, input, gas, value)
	defer func(startGas uint64) { evm.captureEnd(depth, ret, startGas, leftOverGas, err) }(gas)

	snapshot := evm.StateDB.Snapshot()
	p, isPrecompile := evm.precompile(addr)

	if !evm.StateDB.Exist(addr) && !isPrecompile && value.IsZero() {
		// Calling a non-existing account with no value is a no-op.
		return nil, gas, nil
	}
	if err = evm.transfer(caller, addr, value); err != nil {
		evm.StateDB.RevertToSnapshot(snapshot)
		return nil, gas, err
	}

	if isPrecompile {
		ret, gas, err = RunPrecompiledContract(p, input, gas)
	} else {
		code := evm.StateDB.GetCode(addr)
		if len(code) > 0 {
			contract := NewContract(caller, addr, value, gas)
			contract.SetCallCode(evm.StateDB.GetCodeHash(addr), code)
			ret, err = evm.Run(contract, input, false)
			gas = contract.Gas
		}
	}
	if err != nil {
		evm.StateDB.RevertToSnapshot(snapshot)
		if err != ErrExecutionReverted {
			gas = 0
		}
	}
	return ret, gas, err
}

// CallCode runs the code at addr in the context of caller: storage and
// balance are the caller's own.
func (evm *EVM) CallCode(caller, addr types.Address, input []byte, gas uint64, value *uint256.Int) (ret []byte, leftOverGas uint64, err error) {
	if value == nil {
		value = new(uint256.Int)
	}
	if evm.depth > evm.Config.maxDepth() {
		return nil, gas, ErrDepth
	}
	if !evm.canTransfer(caller, value) {
		return nil, gas, ErrInsufficientBalance
	}
	snapshot := evm.StateDB.Snapshot()

	if p, isPrecompile := evm.precompile(addr); isPrecompile {
		ret, gas, err = RunPrecompiledContract(p, input, gas)
	} else {
		contract := NewContract(caller, caller, value, gas)
		contract.SetCallCode(evm.StateDB.GetCodeHash(addr), evm.StateDB.GetCode(addr))
		ret, err = evm.Run(contract, input, false)
		gas = contract.Gas
	}
	if err != nil {
		evm.StateDB.RevertToSnapshot(snapshot)
		if err != ErrExecutionReverted {
			gas = 0
		}
	}
	return ret, gas, err
}

// DelegateCall runs the code at addr in the context of the parent frame,
// keeping the parent's caller and value.
func (evm *EVM) DelegateCall(parent *Contract, addr types.Address, input []byte, gas uint64) (ret []byte, leftOverGas uint64, err error) {
	if evm.depth > evm.Config.maxDepth() {
		return nil, gas, ErrDepth
	}
	snapshot := evm.StateDB.Snapshot()

	if p, isPrecompile := evm.precompile(addr); isPrecompile {
		ret, gas, err = RunPrecompiledContract(p, input, gas)
	} else {
		contract := NewContract(parent.CallerAddress, parent.Address, parent.Value, gas)
		contract.SetCallCode(evm.StateDB.GetCodeHash(addr), evm.StateDB.GetCode(addr))
		ret, err = evm.Run(contract, input, false)
		gas = contract.Gas
	}
	if err != nil {
		evm.StateDB.RevertToSnapshot(snapshot)
		if err != ErrExecutionReverted {
			gas = 0
		}
	}
	return ret, gas, err
}

// StaticCall runs the code at addr with state modifications forbidden for
// the whole sub-tree of calls.
func (evm *EVM) StaticCall(caller, addr types.Address, input []byte, gas uint64) (ret []byte, leftOverGas uint64, err error) {
	if evm.depth > evm.Config.maxDepth() {
		return nil, gas, ErrDepth
	}
	depth := evm.depth
	evm.captureStart(caller, addr, false, input, gas, new(uint256.Int))
	defer func(startGas uint64) { evm.captureEnd(depth, ret, startGas, leftOverGas, err) }(gas)

	snapshot := evm.StateDB.Snapshot()

	if p, isPrecompile := evm.precompile(addr); isPrecompile {
		ret, gas, err = RunPrecompiledContract(p, input, gas)
	} else {
		contract := NewContract(caller, addr, new(uint256.Int), gas)
		contract.SetCallCode(evm.StateDB.GetCodeHash(addr), evm.StateDB.GetCode(addr))
		ret, err = evm.Run(contract, input, true)
		gas = contract.Gas
	}
	if err != nil {
		evm.StateDB.RevertToSnapshot(snapshot)
		if err != ErrExecutionReverted {
			gas = 0
		}
	}
	return ret, gas, err
}

// Create deploys code using the caller's nonce to derive the address.
func (evm *EVM) Create(caller types.Address, code []byte, gas uint64, value *uint256.Int) ([]byte, types.Address, uint64, error) {
	contractAddr := crypto.CreateAddress(caller, evm.StateDB.GetNonce(caller))
	return evm.create(caller, code, gas, value, contractAddr)
}

// Create2 deploys code at keccak256(0xff ++ caller ++ salt ++ keccak256(code))[12:].
func (evm *EVM) Create2(caller types.Address, code []byte, gas uint64, endowment *uint256.Int, salt types.Hash) ([]byte, types.Address, uint64, error) {
	contractAddr := crypto.CreateAddress2(caller, salt, crypto.Keccak256(code))
	return evm.create(caller, code, gas, endowment, contractAddr)
}

// create runs initcode and stores the returned runtime code at address.
// The caller's nonce is bumped before anything can fail, so it survives a
// failed deployment.
func (evm *EVM) create(caller types.Address, code []byte, gas uint64, value *uint256.Int, address types.Address) (ret []byte, createAddress types.Address, leftOverGas uint64, err error) {
	if value == nil {
		value = new(uint256.Int)
	}
	if evm.depth > evm.Config.maxDepth() {
		return nil, types.Address{}, gas, ErrDepth
	}
	if !evm.canTransfer(caller, value) {
		return nil, types.Address{}, gas, ErrInsufficientBalance
	}
	nonce := evm.StateDB.GetNonce(caller)
	if nonce+1 < nonce {
		return nil, types.Address{}, gas, ErrNonceUintOverflow
	}
	evm.StateDB.SetNonce(caller, nonce+1)
	evm.StateDB.AddAddressToAccessList(address)

	if evm.StateDB.HasCollision(address) {
		return nil, types.Address{}, 0, ErrContractAddressCollision
	}

	depth := evm.depth
	evm.captureStart(caller, address, true, code, gas, value)
	defer func(startGas uint64) { evm.captureEnd(depth, ret, startGas, leftOverGas, err) }(gas)

	snapshot := evm.StateDB.Snapshot()
	evm.StateDB.CreateContract(address)
	evm.StateDB.SetNonce(address, 1)
	if err = evm.transfer(caller, address, value); err != nil {
		evm.StateDB.RevertToSnapshot(snapshot)
		return nil, types.Address{}, gas, err
	}

	contract := NewContract(caller, address, value, gas)
	contract.SetCallCode(crypto.Keccak256Hash(code), code)
	contract.IsDeployment = true

	ret, err = evm.initNewContract(contract, address)
	if err != nil {
		evm.StateDB.RevertToSnapshot(snapshot)
		if err != ErrExecutionReverted {
			contract.UseGas(contract.Gas)
		}
	}
	return ret, address, contract.Gas, err
}

// initNewContract runs initcode and, on success, validates and stores the
// returned runtime code.
func (evm *EVM) initNewContract(contract *Contract, address types.Address) ([]byte, error) {
	ret, err := evm.Run(contract, nil, false)
	if err != nil {
		return ret, err
	}
	if len(ret) > MaxCodeSize {
		return ret, ErrMaxCodeSizeExceeded
	}
	if len(ret) >= 1 && ret[0] == 0xEF {
		return ret, ErrInvalidCode
	}
	createDataGas := uint64(len(ret)) * CreateDataGas
	if !contract.UseGas(createDataGas) {
		return ret, ErrCodeStoreOutOfGas
	}
	evm.StateDB.SetCode(address, ret)
	return ret, nil
}
