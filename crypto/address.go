package crypto

import (
	"github.com/eth2030/agentsim/core/types"
	"github.com/ethereum/go-ethereum/rlp"
)

// CreateAddress returns the address of a contract created by sender at the
// given nonce: keccak256(rlp([sender, nonce]))[12:].
func CreateAddress(sender types.Address, nonce uint64) types.Address {
	data, err := rlp.EncodeToBytes([]interface{}{sender.Bytes(), nonce})
	if err != nil {
		// Encoding a byte slice and an integer cannot fail.
		panic(err)
	}
	return types.BytesToAddress(Keccak256(data)[12:])
}

// CreateAddress2 returns the CREATE2 address:
// keccak256(0xff ++ sender ++ salt ++ keccak256(initCode))[12:].
func CreateAddress2(sender types.Address, salt types.Hash, initCodeHash []byte) types.Address {
	return types.BytesToAddress(Keccak256([]byte{0xff}, sender.Bytes(), salt.Bytes(), initCodeHash)[12:])
}
