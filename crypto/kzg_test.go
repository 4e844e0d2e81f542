package crypto

import (
	"errors"
	"testing"
)

func TestKZGToVersionedHash(t *testing.T) {
	commitment := make([]byte, KZGBytesPerCommitment)
	h := KZGToVersionedHash(commitment)
	if h[0] != KZGVersionedHashVersion {
		t.Fatalf("version byte = %#x, want %#x", h[0], KZGVersionedHashVersion)
	}
	commitment[0] = 1
	if KZGToVersionedHash(commitment) == h {
		t.Fatal("different commitments produced the same versioned hash")
	}
}

func TestKZGVerifyProofSizes(t *testing.T) {
	var z, y [KZGBytesPerScalar]byte
	if err := KZGVerifyProof(make([]byte, 47), z, y, make([]byte, 48)); !errors.Is(err, ErrKZGInvalidCommitmentSize) {
		t.Fatalf("short commitment: got %v", err)
	}
	if err := KZGVerifyProof(make([]byte, 48), z, y, make([]byte, 49)); !errors.Is(err, ErrKZGInvalidProofSize) {
		t.Fatalf("long proof: got %v", err)
	}
}
