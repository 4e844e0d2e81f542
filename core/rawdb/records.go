package rawdb

import (
	"github.com/eth2030/agentsim/core/types"
	"github.com/holiman/uint256"
)

// LogRecord is the stored form of a log.
type LogRecord struct {
	Address types.Address
	Topics  []types.Hash
	Data    []byte
}

// TxRecord is the stored form of one transaction and its outcome.
type TxRecord struct {
	Agent           string
	From            types.Address
	To              []byte // empty for creation
	Value           *uint256.Int
	Data            []byte
	GasLimit        uint64
	GasPrice        *uint256.Int
	Status          string
	GasUsed         uint64
	ReturnData      []byte
	Err             string
	ContractAddress types.Address
	Logs            []LogRecord
}

// AgentErrorRecord stores an observe failure.
type AgentErrorRecord struct {
	Agent string
	Err   string
}

// StepRecord is the stored form of one settled simulation step.
type StepRecord struct {
	Step        uint64
	Block       uint64
	Timestamp   uint64
	Root        types.Hash
	Snapshot    uint64 // zero when the step was not snapshotted
	Results     []TxRecord
	AgentErrors []AgentErrorRecord
}

// StorageRecord is one non-zero storage slot.
type StorageRecord struct {
	Key   types.Hash
	Value types.Hash
}

// AccountRecord is the stored form of a final account.
type AccountRecord struct {
	Nonce   uint64
	Balance *uint256.Int
	Code    []byte
	Storage []StorageRecord // sorted by key
}

// RunMeta describes a finished run.
type RunMeta struct {
	Scenario    string
	Seed        uint64
	Steps       uint64
	FinalRoot   types.Hash
	Interrupted bool
	Fatal       string
}
