package vm

import (
	"errors"
	"fmt"
)

// List of execution errors. Every error except ErrExecutionReverted consumes
// all gas handed to the failing frame.
var (
	ErrOutOfGas                 = errors.New("out of gas")
	ErrCodeStoreOutOfGas        = errors.New("contract creation code storage out of gas")
	ErrStackOverflow            = errors.New("stack overflow")
	ErrStackUnderflow           = errors.New("stack underflow")
	ErrInvalidJump              = errors.New("invalid jump destination")
	ErrWriteProtection          = errors.New("write protection")
	ErrExecutionReverted        = errors.New("execution reverted")
	ErrDepth                    = errors.New("max call depth exceeded")
	ErrInvalidOpCode            = errors.New("invalid opcode")
	ErrReturnDataOutOfBounds    = errors.New("return data out of bounds")
	ErrInsufficientBalance      = errors.New("insufficient balance for transfer")
	ErrContractAddressCollision = errors.New("contract address collision")
	ErrMaxCodeSizeExceeded      = errors.New("max code size exceeded")
	ErrMaxInitCodeSizeExceeded  = errors.New("max initcode size exceeded")
	ErrInvalidCode              = errors.New("invalid code: must not begin with 0xef")
	ErrGasUintOverflow          = errors.New("gas uint64 overflow")
	ErrNonceUintOverflow        = errors.New("nonce uint64 overflow")
)

// IsRevert reports whether err is a REVERT, the only failure that refunds
// the remaining gas of a frame.
func IsRevert(err error) bool {
	return errors.Is(err, ErrExecutionReverted)
}

// errStopToken is an internal token signalling a clean halt (STOP, RETURN,
// SELFDESTRUCT). It never escapes Run.
var errStopToken = errors.New("stop token")

// ErrInvalidOpCodeAt reports the undefined opcode that was hit. It matches
// ErrInvalidOpCode under errors.Is.
type ErrInvalidOpCodeAt struct {
	Op OpCode
}

func (e *ErrInvalidOpCodeAt) Error() string { return "invalid opcode: " + e.Op.String() }

func (e *ErrInvalidOpCodeAt) Unwrap() error { return ErrInvalidOpCode }

// ErrStackUnderflowAt carries the stack depth seen when an operation needed
// more items.
type ErrStackUnderflowAt struct {
	StackLen int
	Required int
}

func (e *ErrStackUnderflowAt) Error() string {
	return fmt.Sprintf("stack underflow (%d <=> %d)", e.StackLen, e.Required)
}

func (e *ErrStackUnderflowAt) Unwrap() error { return ErrStackUnderflow }

// ErrStackOverflowAt carries the stack depth seen when an operation would
// exceed the limit.
type ErrStackOverflowAt struct {
	StackLen int
	Limit    int
}

func (e *ErrStackOverflowAt) Error() string {
	return fmt.Sprintf("stack limit reached %d (%d)", e.StackLen, e.Limit)
}

func (e *ErrStackOverflowAt) Unwrap() error { return ErrStackOverflow }
