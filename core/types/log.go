// log.go implements EVM log records and the log filters agents subscribe with.
package types

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common/hexutil"
)

// MaxTopicsPerLog is the maximum number of indexed topics in a single log event.
// EVM LOG0..LOG4 opcodes allow 0-4 topics.
const MaxTopicsPerLog = 4

// Log represents a contract log event.
type Log struct {
	Address Address
	Topics  []Hash
	Data    []byte
	Step    uint64 // simulation step the emitting transaction ran in
	TxIndex uint   // index of the transaction within its step
	Index   uint   // index of the log within its step
}

// Copy returns a deep copy of the log.
func (l *Log) Copy() *Log {
	cpy := *l
	cpy.Topics = append([]Hash(nil), l.Topics...)
	cpy.Data = append([]byte(nil), l.Data...)
	return &cpy
}

// LogFilter defines criteria for matching logs. A log matches if:
//   - Addresses is empty OR the log address is in Addresses.
//   - For each position i in Topics: Topics[i] is empty (wildcard)
//     OR the log's topic at position i is in Topics[i].
type LogFilter struct {
	// Addresses restricts matching to logs from these contract addresses.
	// An empty slice matches all addresses.
	Addresses []Address

	// Topics is a positional filter. Each inner slice represents acceptable
	// values for that topic index (OR within position, AND across positions).
	// A nil or empty inner slice matches any value at that position.
	Topics [][]Hash
}

// jsonLog is the JSON-serializable representation of a log.
type jsonLog struct {
	Address  string   `json:"address"`
	Topics   []string `json:"topics"`
	Data     string   `json:"data"`
	Step     uint64   `json:"step"`
	TxIndex  uint     `json:"transactionIndex"`
	LogIndex uint     `json:"logIndex"`
}

// MarshalJSON serializes a log using Ethereum hex encoding conventions.
func (l *Log) MarshalJSON() ([]byte, error) {
	topics := make([]string, len(l.Topics))
	for i, t := range l.Topics {
		topics[i] = t.Hex()
	}
	return json.Marshal(jsonLog{
		Address:  l.Address.Hex(),
		Topics:   topics,
		Data:     hexutil.Encode(l.Data),
		Step:     l.Step,
		TxIndex:  l.TxIndex,
		LogIndex: l.Index,
	})
}

// UnmarshalJSON deserializes a log from its JSON form.
func (l *Log) UnmarshalJSON(data []byte) error {
	var jl jsonLog
	if err := json.Unmarshal(data, &jl); err != nil {
		return fmt.Errorf("log: json unmarshal: %w", err)
	}
	if len(jl.Topics) > MaxTopicsPerLog {
		return errors.New("log: too many topics")
	}
	addr, err := hexutil.Decode(jl.Address)
	if err != nil {
		return fmt.Errorf("log: parse address: %w", err)
	}
	body, err := hexutil.Decode(jl.Data)
	if err != nil {
		return fmt.Errorf("log: parse data: %w", err)
	}
	l.Address = BytesToAddress(addr)
	l.Topics = l.Topics[:0]
	for _, ts := range jl.Topics {
		raw, err := hexutil.Decode(ts)
		if err != nil {
			return fmt.Errorf("log: parse topic: %w", err)
		}
		l.Topics = append(l.Topics, BytesToHash(raw))
	}
	l.Data = body
	l.Step = jl.Step
	l.TxIndex = jl.TxIndex
	l.Index = jl.LogIndex
	return nil
}

// FilterMatch returns true if the log satisfies the given filter criteria.
func FilterMatch(l *Log, f *LogFilter) bool {
	if l == nil || f == nil {
		return false
	}

	if len(f.Addresses) > 0 {
		found := false
		for _, addr := range f.Addresses {
			if l.Address == addr {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}

	for i, topicSet := range f.Topics {
		if len(topicSet) == 0 {
			continue
		}
		if i >= len(l.Topics) {
			return false
		}
		found := false
		for _, t := range topicSet {
			if l.Topics[i] == t {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// FilterLogs applies the filter criteria to a list of logs and returns
// only those that match.
func FilterLogs(logs []*Log, f *LogFilter) []*Log {
	if f == nil || len(logs) == 0 {
		return nil
	}
	var result []*Log
	for _, l := range logs {
		if FilterMatch(l, f) {
			result = append(result, l)
		}
	}
	return result
}
