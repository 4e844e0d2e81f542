// Package core applies transactions to the world state: validation, gas
// purchase and settlement around one EVM execution, and the atomic commit
// of the resulting diff.
package core

import (
	"context"
	"encoding/binary"
	"fmt"

	"github.com/eth2030/agentsim/core/state"
	"github.com/eth2030/agentsim/core/types"
	"github.com/eth2030/agentsim/core/vm"
	"github.com/eth2030/agentsim/crypto"
	"github.com/eth2030/agentsim/log"
	"github.com/eth2030/agentsim/metrics"
	"github.com/holiman/uint256"
)

// DefaultCallGas is the gas given to a read-only call that names no limit
// on a world with no block gas limit.
const DefaultCallGas uint64 = 50_000_000

// Executor applies transactions to a world state one at a time. It holds no
// per-transaction state and may be reused.
type Executor struct {
	Config   ChainConfig
	VMConfig vm.Config

	logger *log.Logger
}

// NewExecutor creates an executor for the given chain configuration.
func NewExecutor(config ChainConfig, vmConfig vm.Config) *Executor {
	return &Executor{
		Config:   config,
		VMConfig: vmConfig,
		logger:   log.Default().Module("executor"),
	}
}

// SimulatedBlockHash is the BLOCKHASH value of block n. The simulator keeps
// no headers, so hashes are derived from the number alone.
func SimulatedBlockHash(n uint64) types.Hash {
	var num [8]byte
	binary.BigEndian.PutUint64(num[:], n)
	return crypto.Keccak256Hash([]byte("agentsim-block"), num[:])
}

func (e *Executor) blockContext(block state.BlockInfo) vm.BlockContext {
	chainID := block.ChainID
	if e.Config.ChainID != 0 {
		chainID = e.Config.ChainID
	}
	return vm.BlockContext{
		GetHash:     SimulatedBlockHash,
		BlockNumber: block.Number,
		Time:        block.Timestamp,
		Coinbase:    block.Coinbase,
		GasLimit:    block.GasLimit,
		BaseFee:     block.BaseFee,
		BlobBaseFee: block.BlobBaseFee,
		PrevRandao:  block.PrevRandao,
		ChainID:     chainID,
	}
}

// validate checks the preconditions of tx and returns its intrinsic gas.
func (e *Executor) validate(tx *types.Transaction, db *state.TxState, block state.BlockInfo) (uint64, error) {
	if block.GasLimit > 0 && tx.GasLimit > block.GasLimit {
		return 0, fmt.Errorf("%w: have %d, max %d", ErrGasLimitTooHigh, tx.GasLimit, block.GasLimit)
	}
	nonce := db.GetNonce(tx.From)
	if tx.Nonce != nil && *tx.Nonce != nonce {
		return 0, fmt.Errorf("%w: address %v, tx nonce: %d, state nonce: %d", ErrNonceMismatch, tx.From, *tx.Nonce, nonce)
	}
	if nonce+1 < nonce {
		return 0, fmt.Errorf("%w: address %v, nonce: %d", ErrNonceMax, tx.From, nonce)
	}
	if db.GetCodeSize(tx.From) > 0 {
		return 0, fmt.Errorf("%w: address %v", ErrSenderHasCode, tx.From)
	}
	if tx.IsCreate() && len(tx.Data) > vm.MaxInitCodeSize {
		return 0, fmt.Errorf("%w: code size %d limit %d", ErrInitCodeTooLarge, len(tx.Data), vm.MaxInitCodeSize)
	}
	igas, err := vm.IntrinsicGas(tx.Data, tx.IsCreate())
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrIntrinsicGas, err)
	}
	if tx.GasLimit < igas {
		return 0, fmt.Errorf("%w: have %d, want %d", ErrIntrinsicGas, tx.GasLimit, igas)
	}
	if e.Config.EnforceBaseFee && block.BaseFee != nil && tx.GasPriceOrZero().Lt(block.BaseFee) {
		return 0, fmt.Errorf("%w: price %s, base fee %s", ErrFeeTooLow, tx.GasPriceOrZero().Dec(), block.BaseFee.Dec())
	}
	cost, overflow := tx.Cost()
	if overflow {
		return 0, fmt.Errorf("%w: cost overflows", ErrInsufficientFunds)
	}
	if balance := db.GetBalance(tx.From); balance.Lt(cost) {
		return 0, fmt.Errorf("%w: address %v have %s want %s", ErrInsufficientFunds, tx.From, balance.Dec(), cost.Dec())
	}
	return igas, nil
}

// Execute applies tx to world. Rejected transactions leave world untouched;
// every other outcome commits a diff. On Revert and Error the diff carries
// only the sender's nonce bump and the fee paid for the consumed gas.
func (e *Executor) Execute(tx *types.Transaction, world *state.WorldState) *Outcome {
	out := &Outcome{Tx: tx}
	block := world.Block()
	db := state.NewTxState(world)

	igas, err := e.validate(tx, db, block)
	if err != nil {
		out.Status, out.Err = StatusRejected, err
		e.record(out)
		return out
	}

	var (
		price    = tx.GasPriceOrZero()
		value    = tx.ValueOrZero()
		isCreate = tx.IsCreate()
	)
	// Buy gas. validate has already checked the balance covers it.
	if err := db.SubBalance(tx.From, new(uint256.Int).Mul(price, uint256.NewInt(tx.GasLimit))); err != nil {
		out.Status, out.Err = StatusRejected, fmt.Errorf("%w: %v", ErrInsufficientFunds, err)
		e.record(out)
		return out
	}
	// Create bumps the nonce itself, before deriving the address.
	if !isCreate {
		db.SetNonce(tx.From, db.GetNonce(tx.From)+1)
	}

	evm := vm.NewEVM(e.blockContext(block), vm.TxContext{Origin: tx.From, GasPrice: price}, db, e.VMConfig)
	evm.PreWarmAccessList(tx.From, tx.To)

	var (
		gas     = tx.GasLimit - igas
		ret     []byte
		left    uint64
		vmerr   error
		created types.Address
	)
	if isCreate {
		ret, created, left, vmerr = evm.Create(tx.From, tx.Data, gas, value)
	} else {
		ret, left, vmerr = evm.Call(tx.From, *tx.To, tx.Data, gas, value)
	}

	gasUsed := tx.GasLimit - left
	refund := db.GetRefund()
	if limit := gasUsed / vm.MaxRefundQuotient; refund > limit {
		refund = limit
	}
	gasUsed -= refund

	if !price.IsZero() {
		db.AddBalance(tx.From, new(uint256.Int).Mul(price, uint256.NewInt(tx.GasLimit-gasUsed)))
		db.AddBalance(block.Coinbase, new(uint256.Int).Mul(price, uint256.NewInt(gasUsed)))
	}

	out.Status = statusOf(vmerr)
	out.Err = vmerr
	out.ReturnData = ret
	out.GasUsed = gasUsed
	if out.Status == StatusSuccess {
		out.Logs = db.Logs()
		if isCreate {
			out.ContractAddress = created
		}
	}
	out.Diff = db.Diff()
	if err := world.Apply(out.Diff); err != nil {
		out.Fatal = fmt.Errorf("commit transaction diff: %w", err)
		e.logger.Error("state commit failed", "tx", tx, "err", err)
		return out
	}
	e.record(out)
	return out
}

func (e *Executor) record(out *Outcome) {
	switch out.Status {
	case StatusSuccess:
		metrics.TxSuccess.Inc()
	case StatusRevert:
		metrics.TxRevert.Inc()
	case StatusError:
		metrics.TxError.Inc()
	case StatusRejected:
		metrics.TxRejected.Inc()
		e.logger.Debug("transaction rejected", "from", out.Tx.From, "err", out.Err)
		return
	}
	metrics.TxGasUsed.Observe(float64(out.GasUsed))
	if out.Status != StatusSuccess {
		e.logger.Debug("transaction failed", "from", out.Tx.From, "status", out.Status, "gasUsed", out.GasUsed, "err", out.Err)
	}
}

// Call runs msg against world without committing anything, in the style of
// eth_call. Nonce, balance-for-gas and fee rules are not applied. The
// returned outcome carries the diff the call would have produced. ctx may
// abort the execution.
func (e *Executor) Call(ctx context.Context, msg *types.Transaction, world *state.WorldState) *Outcome {
	out := &Outcome{Tx: msg}
	if err := ctx.Err(); err != nil {
		out.Status, out.Err = StatusError, err
		return out
	}
	block := world.Block()
	db := state.NewTxState(world)

	gas := msg.GasLimit
	if gas == 0 {
		gas = block.GasLimit
	}
	if gas == 0 {
		gas = DefaultCallGas
	}
	evm := vm.NewEVM(e.blockContext(block), vm.TxContext{Origin: msg.From, GasPrice: msg.GasPriceOrZero()}, db, e.VMConfig)
	stop := context.AfterFunc(ctx, evm.Cancel)
	defer stop()
	evm.PreWarmAccessList(msg.From, msg.To)

	var (
		ret   []byte
		left  uint64
		vmerr error
	)
	if msg.IsCreate() {
		var created types.Address
		ret, created, left, vmerr = evm.Create(msg.From, msg.Data, gas, msg.ValueOrZero())
		if vmerr == nil {
			out.ContractAddress = created
		}
	} else {
		ret, left, vmerr = evm.Call(msg.From, *msg.To, msg.Data, gas, msg.ValueOrZero())
	}
	out.Status = statusOf(vmerr)
	out.Err = vmerr
	out.ReturnData = ret
	out.GasUsed = gas - left
	if out.Status == StatusSuccess {
		out.Logs = db.Logs()
	}
	out.Diff = db.Diff()
	return out
}
