package rawdb

import (
	"encoding/binary"

	"github.com/eth2030/agentsim/core/types"
)

// Key prefixes. Each record type has a distinct one-byte prefix.
var (
	stepPrefix    = []byte("s") // s + step (8 bytes BE) -> StepRecord RLP
	accountPrefix = []byte("a") // a + address -> AccountRecord RLP
	runMetaKey    = []byte("m") // -> RunMeta RLP
)

func encodeStep(step uint64) []byte {
	enc := make([]byte, 8)
	binary.BigEndian.PutUint64(enc, step)
	return enc
}

// stepKey = stepPrefix + step
func stepKey(step uint64) []byte {
	return append(append([]byte{}, stepPrefix...), encodeStep(step)...)
}

// accountKey = accountPrefix + address
func accountKey(addr types.Address) []byte {
	return append(append([]byte{}, accountPrefix...), addr[:]...)
}
