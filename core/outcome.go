package core

import (
	"errors"
	"fmt"

	"github.com/eth2030/agentsim/core/state"
	"github.com/eth2030/agentsim/core/types"
	"github.com/eth2030/agentsim/core/vm"
)

// Status is the result class of one transaction.
type Status uint8

const (
	StatusSuccess Status = iota
	StatusRevert
	StatusError
	StatusRejected
)

func (s Status) String() string {
	switch s {
	case StatusSuccess:
		return "success"
	case StatusRevert:
		return "revert"
	case StatusError:
		return "error"
	case StatusRejected:
		return "rejected"
	}
	return fmt.Sprintf("status(%d)", uint8(s))
}

// MarshalText encodes the status by name.
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// ParseStatus is the inverse of Status.String.
func ParseStatus(name string) (Status, error) {
	for s := StatusSuccess; s <= StatusRejected; s++ {
		if s.String() == name {
			return s, nil
		}
	}
	return 0, fmt.Errorf("unknown status %q", name)
}

// statusOf maps an EVM error to an outcome status.
func statusOf(err error) Status {
	switch {
	case err == nil:
		return StatusSuccess
	case errors.Is(err, vm.ErrExecutionReverted):
		return StatusRevert
	default:
		return StatusError
	}
}

// Outcome is the result of applying one transaction.
type Outcome struct {
	Status Status
	// Err is the validation error for Rejected, the EVM error for Revert
	// and Error, and nil for Success.
	Err        error
	ReturnData []byte
	GasUsed    uint64
	// Logs are the logs emitted by a successful transaction, in order.
	Logs []*types.Log
	// Diff is the change committed to the world state. It is nil for
	// Rejected, and on Revert/Error carries only the sender's nonce and fee.
	Diff *state.StateDiff
	// ContractAddress is the derived address of a creation.
	ContractAddress types.Address
	Tx              *types.Transaction

	// Fatal is set when the diff could not be committed. It is an internal
	// invariant violation, never a transaction failure.
	Fatal error
}

// Succeeded reports whether the transaction completed successfully.
func (o *Outcome) Succeeded() bool {
	return o.Status == StatusSuccess && o.Fatal == nil
}

// Unpack returns the return data of a successful execution, or an
// *ExecutionError describing the failure.
func (o *Outcome) Unpack() ([]byte, error) {
	if o.Fatal != nil {
		return nil, o.Fatal
	}
	if o.Status == StatusSuccess {
		return o.ReturnData, nil
	}
	return nil, &ExecutionError{Status: o.Status, Output: o.ReturnData, GasUsed: o.GasUsed, Err: o.Err}
}

// ExecutionError is returned by Outcome.Unpack for failed transactions.
type ExecutionError struct {
	Status  Status
	Output  []byte
	GasUsed uint64
	Err     error
}

func (e *ExecutionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("transaction %s: %v (gas used %d)", e.Status, e.Err, e.GasUsed)
	}
	return fmt.Sprintf("transaction %s (gas used %d)", e.Status, e.GasUsed)
}

func (e *ExecutionError) Unwrap() error { return e.Err }
