package crypto

import (
	"math/big"
	"testing"
)

func TestSignAndRecover(t *testing.T) {
	key, err := HexToECDSA("289c2857d4598e37fb9647507e47a309d6133539bf21a8b9cb6df88fd5232032")
	if err != nil {
		t.Fatalf("HexToECDSA: %v", err)
	}
	digest := Keccak256([]byte("agentsim"))
	sig, err := Sign(digest, key)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	if len(sig) != SignatureLength {
		t.Fatalf("signature length = %d, want %d", len(sig), SignatureLength)
	}
	pub, err := Ecrecover(digest, sig)
	if err != nil {
		t.Fatalf("Ecrecover: %v", err)
	}
	if got, want := PubkeyBytesToAddress(pub), PubkeyToAddress(key.PublicKey); got != want {
		t.Errorf("recovered %s, want %s", got, want)
	}
	// Well-known address of this test key.
	if got := PubkeyToAddress(key.PublicKey).Hex(); got != "0x970e8128ab834e8eac17ab8e3812f010678cf791" {
		t.Errorf("address = %s", got)
	}
}

func TestValidateSignatureValues(t *testing.T) {
	one := big.NewInt(1)
	if !ValidateSignatureValues(0, one, one) {
		t.Error("v=0 r=s=1 should be valid")
	}
	if ValidateSignatureValues(2, one, one) {
		t.Error("v=2 should be invalid")
	}
	if ValidateSignatureValues(0, new(big.Int), one) {
		t.Error("r=0 should be invalid")
	}
}
