package types

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/holiman/uint256"
)

// Transaction is a request by an agent to transfer value and/or invoke code.
// Signatures are not modelled: simulated accounts are pre-authorized, so the
// sender is carried explicitly. A transaction is immutable once submitted;
// use Copy before editing a transaction that may already be queued.
type Transaction struct {
	From     Address
	To       *Address     // nil for contract creation
	Value    *uint256.Int // nil means zero
	Data     []byte
	GasLimit uint64
	GasPrice *uint256.Int // nil means zero
	// Nonce pins the expected sender nonce. When nil the executor uses the
	// sender's current nonce.
	Nonce *uint64
}

// IsCreate reports whether the transaction deploys a new contract.
func (tx *Transaction) IsCreate() bool {
	return tx.To == nil
}

// ValueOrZero returns the transferred value, never nil.
func (tx *Transaction) ValueOrZero() *uint256.Int {
	return CopyU256(tx.Value)
}

// GasPriceOrZero returns the gas price, never nil.
func (tx *Transaction) GasPriceOrZero() *uint256.Int {
	return CopyU256(tx.GasPrice)
}

// Cost returns value + gasLimit*gasPrice and whether the computation
// overflowed 256 bits.
func (tx *Transaction) Cost() (*uint256.Int, bool) {
	fee, overflow := new(uint256.Int).MulOverflow(tx.GasPriceOrZero(), uint256.NewInt(tx.GasLimit))
	if overflow {
		return nil, true
	}
	total, overflow := new(uint256.Int).AddOverflow(fee, tx.ValueOrZero())
	if overflow {
		return nil, true
	}
	return total, false
}

// Copy returns a deep copy of the transaction.
func (tx *Transaction) Copy() *Transaction {
	cpy := &Transaction{
		From:     tx.From,
		GasLimit: tx.GasLimit,
		Data:     append([]byte(nil), tx.Data...),
	}
	if tx.To != nil {
		to := *tx.To
		cpy.To = &to
	}
	if tx.Value != nil {
		cpy.Value = new(uint256.Int).Set(tx.Value)
	}
	if tx.GasPrice != nil {
		cpy.GasPrice = new(uint256.Int).Set(tx.GasPrice)
	}
	if tx.Nonce != nil {
		n := *tx.Nonce
		cpy.Nonce = &n
	}
	return cpy
}

// String renders a short human-readable description.
func (tx *Transaction) String() string {
	to := "create"
	if tx.To != nil {
		to = tx.To.Hex()
	}
	return fmt.Sprintf("tx{from=%s to=%s value=%s gas=%d data=%s}",
		tx.From.Hex(), to, tx.ValueOrZero().Dec(), tx.GasLimit, hexutil.Encode(tx.Data))
}

// AddressPtr returns a pointer to a copy of addr, handy for Transaction.To.
func AddressPtr(addr Address) *Address {
	return &addr
}
