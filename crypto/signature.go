package crypto

import (
	"crypto/ecdsa"
	"math/big"

	"github.com/eth2030/agentsim/core/types"
	gethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// SignatureLength is the size of a [R || S || V] recoverable signature.
const SignatureLength = 65

// HexToECDSA parses a hex-encoded secp256k1 private key.
func HexToECDSA(hexkey string) (*ecdsa.PrivateKey, error) {
	return gethcrypto.HexToECDSA(hexkey)
}

// Sign produces a recoverable signature of a 32-byte digest. V is 0 or 1.
func Sign(digest []byte, key *ecdsa.PrivateKey) ([]byte, error) {
	return gethcrypto.Sign(digest, key)
}

// Ecrecover returns the uncompressed public key that produced sig over
// digest.
func Ecrecover(digest, sig []byte) ([]byte, error) {
	return gethcrypto.Ecrecover(digest, sig)
}

// ValidateSignatureValues checks that v is 0 or 1 and r, s are in range.
// Low-s is not required, matching the ecrecover precompile.
func ValidateSignatureValues(v byte, r, s *big.Int) bool {
	return gethcrypto.ValidateSignatureValues(v, r, s, false)
}

// PubkeyToAddress derives the account address of a public key.
func PubkeyToAddress(p ecdsa.PublicKey) types.Address {
	return types.Address(gethcrypto.PubkeyToAddress(p))
}

// PubkeyBytesToAddress derives an address from an uncompressed 65-byte key.
func PubkeyBytesToAddress(pub []byte) types.Address {
	return types.BytesToAddress(Keccak256(pub[1:])[12:])
}
