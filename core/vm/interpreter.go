// Package vm implements the Ethereum Virtual Machine used by the simulator:
// a Cancun instruction set on 256-bit words, with journaled state access
// provided by the caller.
package vm

import (
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/eth2030/agentsim/core/types"
	"github.com/eth2030/agentsim/metrics"
	"github.com/holiman/uint256"
)

// ErrExecutionAborted is returned when the EVM is cancelled mid-run.
var ErrExecutionAborted = errors.New("execution aborted")

// GetHashFunc returns the hash of the block with the given number.
type GetHashFunc func(uint64) types.Hash

// BlockContext provides the EVM with block-level information.
type BlockContext struct {
	GetHash     GetHashFunc
	BlockNumber uint64
	Time        uint64
	Coinbase    types.Address
	GasLimit    uint64
	BaseFee     *uint256.Int
	BlobBaseFee *uint256.Int
	PrevRandao  types.Hash
	ChainID     uint64
}

// TxContext provides the EVM with transaction-level information.
type TxContext struct {
	Origin     types.Address
	GasPrice   *uint256.Int
	BlobHashes []types.Hash
}

// StateDB is the state the EVM reads and writes during one transaction. It
// is journaled: Snapshot and RevertToSnapshot bracket every frame.
type StateDB interface {
	CreateContract(addr types.Address)
	IsNewContract(addr types.Address) bool
	HasCollision(addr types.Address) bool

	GetBalance(addr types.Address) *uint256.Int
	AddBalance(addr types.Address, amount *uint256.Int)
	SubBalance(addr types.Address, amount *uint256.Int) error
	GetNonce(addr types.Address) uint64
	SetNonce(addr types.Address, nonce uint64)
	GetCode(addr types.Address) []byte
	SetCode(addr types.Address, code []byte)
	GetCodeHash(addr types.Address) types.Hash
	GetCodeSize(addr types.Address) int

	GetState(addr types.Address, key types.Hash) types.Hash
	SetState(addr types.Address, key types.Hash, value types.Hash)
	GetCommittedState(addr types.Address, key types.Hash) types.Hash

	GetTransientState(addr types.Address, key types.Hash) types.Hash
	SetTransientState(addr types.Address, key types.Hash, value types.Hash)

	SelfDestruct(addr types.Address)
	HasSelfDestructed(addr types.Address) bool

	Exist(addr types.Address) bool
	Empty(addr types.Address) bool

	Snapshot() int
	RevertToSnapshot(id int)

	AddLog(log *types.Log)

	AddRefund(gas uint64)
	SubRefund(gas uint64)
	GetRefund() uint64

	AddAddressToAccessList(addr types.Address)
	AddSlotToAccessList(addr types.Address, slot types.Hash)
	AddressInAccessList(addr types.Address) bool
	SlotInAccessList(addr types.Address, slot types.Hash) (addressOk bool, slotOk bool)
}

// Config holds EVM configuration options.
type Config struct {
	// MaxCallDepth bounds frame nesting. Zero means MaxCallDepth.
	MaxCallDepth int
	// Tracer, when set, receives every executed opcode.
	Tracer Tracer
}

func (c Config) maxDepth() int {
	if c.MaxCallDepth > 0 {
		return c.MaxCallDepth
	}
	return MaxCallDepth
}

// EVM executes calls and contract creations against a StateDB. An EVM is
// used for a single transaction and is not safe for concurrent use, except
// for Cancel.
type EVM struct {
	Context   BlockContext
	TxContext TxContext
	Config    Config
	StateDB   StateDB

	depth       int
	readOnly    bool
	jumpTable   *JumpTable
	precompiles map[types.Address]PrecompiledContract
	returnData  []byte
	callGasTemp uint64
	abort       atomic.Bool
}

// NewEVM creates an EVM for one transaction.
func NewEVM(blockCtx BlockContext, txCtx TxContext, statedb StateDB, config Config) *EVM {
	return &EVM{
		Context:     blockCtx,
		TxContext:   txCtx,
		Config:      config,
		StateDB:     statedb,
		jumpTable:   NewCancunJumpTable(),
		precompiles: PrecompiledContractsCancun,
	}
}

// Cancel aborts any running execution. Safe to call from another goroutine.
func (evm *EVM) Cancel() {
	evm.abort.Store(true)
}

// Cancelled reports whether Cancel has been called.
func (evm *EVM) Cancelled() bool {
	return evm.abort.Load()
}

// Depth returns the current call depth.
func (evm *EVM) Depth() int {
	return evm.depth
}

func (evm *EVM) precompile(addr types.Address) (PrecompiledContract, bool) {
	p, ok := evm.precompiles[addr]
	return p, ok
}

// PreWarmAccessList marks the sender, the recipient, every precompile and
// the coinbase as warm before execution starts.
func (evm *EVM) PreWarmAccessList(sender types.Address, to *types.Address) {
	evm.StateDB.AddAddressToAccessList(sender)
	if to != nil {
		evm.StateDB.AddAddressToAccessList(*to)
	}
	for _, addr := range ActivePrecompiles() {
		evm.StateDB.AddAddressToAccessList(addr)
	}
	evm.StateDB.AddAddressToAccessList(evm.Context.Coinbase)
}

// Run interprets the contract's code. Any error other than
// ErrExecutionReverted means the frame consumed all of its gas.
func (evm *EVM) Run(contract *Contract, input []byte, readOnly bool) (ret []byte, err error) {
	evm.depth++
	defer func() { evm.depth-- }()

	if readOnly && !evm.readOnly {
		evm.readOnly = true
		defer func() { evm.readOnly = false }()
	}
	// The return data of the previous call is not visible to this frame.
	evm.returnData = nil

	if len(contract.Code) == 0 {
		return nil, nil
	}
	metrics.EVMCalls.Inc()

	var (
		op     OpCode
		mem    = NewMemory()
		stack  = NewStack()
		pc     = uint64(0)
		cost   uint64
		gasCpy uint64
		res    []byte
		tracer = evm.Config.Tracer
	)
	contract.Input = input

	for {
		if evm.abort.Load() {
			return nil, ErrExecutionAborted
		}
		if tracer != nil {
			gasCpy = contract.Gas
		}
		op = contract.GetOp(pc)
		operation := evm.jumpTable[op]
		cost = operation.constantGas

		if sLen := stack.Len(); sLen < operation.minStack {
			return nil, &ErrStackUnderflowAt{StackLen: sLen, Required: operation.minStack}
		} else if sLen > operation.maxStack {
			return nil, &ErrStackOverflowAt{StackLen: sLen, Limit: operation.maxStack}
		}
		if evm.readOnly && operation.writes {
			return nil, ErrWriteProtection
		}
		if !contract.UseGas(cost) {
			return nil, ErrOutOfGas
		}

		var memorySize uint64
		if operation.memorySize != nil {
			memSize, overflow := operation.memorySize(stack)
			if overflow {
				return nil, ErrGasUintOverflow
			}
			if memorySize, overflow = types.SafeMulGas(toWordSize(memSize), 32); overflow {
				return nil, ErrGasUintOverflow
			}
		}
		if operation.dynamicGas != nil {
			dynamicCost, err := operation.dynamicGas(evm, contract, stack, mem, memorySize)
			cost += dynamicCost
			if err != nil {
				return nil, fmt.Errorf("%w: %v", ErrOutOfGas, err)
			}
			if !contract.UseGas(dynamicCost) {
				return nil, ErrOutOfGas
			}
		}
		if tracer != nil {
			tracer.CaptureState(pc, op, gasCpy, cost, stack, mem, evm.depth, nil)
		}
		if memorySize > 0 {
			mem.Resize(memorySize)
		}

		res, err = operation.execute(&pc, evm, contract, mem, stack)
		if err != nil {
			break
		}
		if !operation.jumps {
			pc++
		}
	}

	if err == errStopToken {
		err = nil
	}
	if err != nil && tracer != nil && !IsRevert(err) {
		tracer.CaptureState(pc, op, gasCpy, cost, stack, mem, evm.depth, err)
	}
	return res, err
}
