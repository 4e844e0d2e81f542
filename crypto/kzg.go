package crypto

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"sync"

	goethkzg "github.com/crate-crypto/go-eth-kzg"
	"github.com/eth2030/agentsim/core/types"
)

// KZG sizes used by the point-evaluation precompile.
const (
	KZGBytesPerCommitment = 48
	KZGBytesPerProof      = 48
	KZGBytesPerScalar     = 32

	// KZGVersionedHashVersion is the first byte of an EIP-4844 versioned hash.
	KZGVersionedHashVersion = 0x01
)

var (
	ErrKZGInvalidCommitmentSize = errors.New("kzg: invalid commitment size")
	ErrKZGInvalidProofSize      = errors.New("kzg: invalid proof size")
	ErrKZGVerifyFailed          = errors.New("kzg: proof verification failed")
)

var (
	kzgOnce    sync.Once
	kzgContext *goethkzg.Context
	kzgInitErr error
)

// kzgCtx lazily loads the Ethereum ceremony trusted setup. Loading takes a few
// seconds so it only happens on the first point evaluation.
func kzgCtx() (*goethkzg.Context, error) {
	kzgOnce.Do(func() {
		kzgContext, kzgInitErr = goethkzg.NewContext4096Secure()
		if kzgInitErr != nil {
			kzgInitErr = fmt.Errorf("kzg: failed to initialize go-eth-kzg context: %w", kzgInitErr)
		}
	})
	return kzgContext, kzgInitErr
}

// KZGToVersionedHash computes the EIP-4844 versioned hash of a commitment:
// 0x01 ++ sha256(commitment)[1:].
func KZGToVersionedHash(commitment []byte) types.Hash {
	h := sha256.Sum256(commitment)
	h[0] = KZGVersionedHashVersion
	return types.Hash(h)
}

// KZGVerifyProof checks that the polynomial committed to by commitment
// evaluates to y at z.
func KZGVerifyProof(commitment []byte, z, y [KZGBytesPerScalar]byte, proof []byte) error {
	if len(commitment) != KZGBytesPerCommitment {
		return ErrKZGInvalidCommitmentSize
	}
	if len(proof) != KZGBytesPerProof {
		return ErrKZGInvalidProofSize
	}
	ctx, err := kzgCtx()
	if err != nil {
		return err
	}
	var (
		comm goethkzg.KZGCommitment
		prf  goethkzg.KZGProof
	)
	copy(comm[:], commitment)
	copy(prf[:], proof)
	if err := ctx.VerifyKZGProof(comm, goethkzg.Scalar(z), goethkzg.Scalar(y), prf); err != nil {
		return fmt.Errorf("%w: %v", ErrKZGVerifyFailed, err)
	}
	return nil
}
