package vm

import (
	"bytes"
	"encoding/hex"
	"errors"
	"testing"

	"github.com/eth2030/agentsim/core/types"
	"github.com/eth2030/agentsim/crypto"
	"github.com/ethereum/go-ethereum/common"
)

func mustPrecompile(t *testing.T, addr byte) PrecompiledContract {
	t.Helper()
	p, ok := PrecompiledContractsCancun[types.BytesToAddress([]byte{addr})]
	if !ok {
		t.Fatalf("no precompile at %#x", addr)
	}
	return p
}

func mustHex(t *testing.T, s string) []byte {
	t.Helper()
	b, err := hex.DecodeString(s)
	if err != nil {
		t.Fatal(err)
	}
	return b
}

func TestActivePrecompiles(t *testing.T) {
	addrs := ActivePrecompiles()
	if len(addrs) != 10 {
		t.Fatalf("precompiles = %d, want 10", len(addrs))
	}
	for i, addr := range addrs {
		if addr != types.BytesToAddress([]byte{byte(i + 1)}) {
			t.Errorf("precompile %d = %s", i, addr)
		}
		if !IsPrecompiledContract(addr) {
			t.Errorf("%s not reported as precompile", addr)
		}
	}
	if IsPrecompiledContract(types.BytesToAddress([]byte{0x0b})) {
		t.Error("0x0b is not active in Cancun")
	}
}

func TestHashPrecompiles(t *testing.T) {
	tests := []struct {
		addr  byte
		input []byte
		want  string
		gas   uint64
	}{
		{0x02, nil, "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855", 60},
		{0x03, nil, "0000000000000000000000009c1185a5c5e9fc54612808977ee8f548b2258d31", 600},
		{0x04, []byte{1, 2, 3}, "010203", 18},
	}
	for _, tt := range tests {
		p := mustPrecompile(t, tt.addr)
		out, left, err := RunPrecompiledContract(p, tt.input, 1000)
		if err != nil {
			t.Fatalf("%#x: %v", tt.addr, err)
		}
		if hex.EncodeToString(out) != tt.want {
			t.Errorf("%#x output = %x, want %s", tt.addr, out, tt.want)
		}
		if used := 1000 - left; used != tt.gas {
			t.Errorf("%#x gas = %d, want %d", tt.addr, used, tt.gas)
		}
	}
}

func TestPrecompileOutOfGas(t *testing.T) {
	_, left, err := RunPrecompiledContract(mustPrecompile(t, 0x02), nil, 10)
	if !errors.Is(err, ErrOutOfGas) || left != 0 {
		t.Fatalf("err = %v left = %d", err, left)
	}
}

func TestEcrecoverPrecompile(t *testing.T) {
	key, err := crypto.HexToECDSA("289c2857d4598e37fb9647507e47a309d6133539bf21a8b9cb6df88fd5232032")
	if err != nil {
		t.Fatal(err)
	}
	digest := crypto.Keccak256([]byte("agentsim"))
	sig, err := crypto.Sign(digest, key)
	if err != nil {
		t.Fatal(err)
	}
	input := make([]byte, 128)
	copy(input, digest)
	input[63] = sig[64] + 27
	copy(input[64:], sig[:64])

	out, _, err := RunPrecompiledContract(mustPrecompile(t, 0x01), input, 3000)
	if err != nil {
		t.Fatal(err)
	}
	want := common.LeftPadBytes(crypto.PubkeyToAddress(key.PublicKey).Bytes(), 32)
	if !bytes.Equal(out, want) {
		t.Errorf("recovered %x, want %x", out, want)
	}

	// A malformed v yields empty output, not an error.
	input[63] = 30
	out, _, err = RunPrecompiledContract(mustPrecompile(t, 0x01), input, 3000)
	if err != nil || len(out) != 0 {
		t.Errorf("bad v: out=%x err=%v", out, err)
	}
}

func TestModExpPrecompile(t *testing.T) {
	// 3^5 mod 7 with one-byte operands.
	input := make([]byte, 96)
	input[31], input[63], input[95] = 1, 1, 1
	input = append(input, 3, 5, 7)
	out, left, err := RunPrecompiledContract(mustPrecompile(t, 0x05), input, 1000)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(out, []byte{5}) {
		t.Errorf("output = %x, want 05", out)
	}
	if used := 1000 - left; used != 200 {
		t.Errorf("gas = %d, want minimum 200", used)
	}
}

func TestBn256Precompiles(t *testing.T) {
	// G1 generator (1, 2).
	g := make([]byte, 64)
	g[31], g[63] = 1, 2

	sum, _, err := RunPrecompiledContract(mustPrecompile(t, 0x06), append(append([]byte{}, g...), g...), 1000)
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	scalar := make([]byte, 32)
	scalar[31] = 2
	double, _, err := RunPrecompiledContract(mustPrecompile(t, 0x07), append(append([]byte{}, g...), scalar...), 10000)
	if err != nil {
		t.Fatalf("mul: %v", err)
	}
	if !bytes.Equal(sum, double) {
		t.Errorf("G+G = %x, 2G = %x", sum, double)
	}

	out, left, err := RunPrecompiledContract(mustPrecompile(t, 0x08), nil, 100000)
	if err != nil {
		t.Fatalf("pairing: %v", err)
	}
	if !bytes.Equal(out, true32Byte) {
		t.Errorf("empty pairing = %x, want true", out)
	}
	if used := 100000 - left; used != Bn256PairingBaseGas {
		t.Errorf("pairing gas = %d", used)
	}

	if _, _, err := RunPrecompiledContract(mustPrecompile(t, 0x08), make([]byte, 100), 100000); !errors.Is(err, errBadPairingInput) {
		t.Errorf("odd pairing input err = %v", err)
	}
}

func TestBlake2FPrecompile(t *testing.T) {
	// Twelve rounds over "abc" with the blake2b-512 parameter block.
	input := mustHex(t, "0000000c48c9bdf267e6096a3ba7ca8485ae67bb2bf894fe72f36e3cf1361d5f3af54fa5d182e6ad7f520e511f6c3e2b8c68059b6bbd41fbabd9831f79217e1319cde05b61626300000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000300000000000000000000000000000001")
	want := "ba80a53f981c4d0d6a2797b69f12f6e94c212f14685ac4b74b12bb6fdbffa2d17d87c5392aab792dc252d5de4533cc9518d38aa8dbf1925ab92386edd4009923"

	out, left, err := RunPrecompiledContract(mustPrecompile(t, 0x09), input, 100)
	if err != nil {
		t.Fatal(err)
	}
	if hex.EncodeToString(out) != want {
		t.Errorf("output = %x", out)
	}
	if left != 88 {
		t.Errorf("gas left = %d, want 88", left)
	}

	bad := append([]byte(nil), input...)
	bad[212] = 2
	if _, _, err := RunPrecompiledContract(mustPrecompile(t, 0x09), bad, 100); !errors.Is(err, errBlake2FInvalidFinalFlag) {
		t.Errorf("final flag err = %v", err)
	}
	if _, _, err := RunPrecompiledContract(mustPrecompile(t, 0x09), input[:100], 100); !errors.Is(err, errBlake2FInvalidInputLength) {
		t.Errorf("length err = %v", err)
	}
}

func TestPointEvaluationRejectsMalformedInput(t *testing.T) {
	p := mustPrecompile(t, 0x0a)
	if _, _, err := RunPrecompiledContract(p, make([]byte, 100), BlobTxPointEvaluationGas); !errors.Is(err, errPointEvaluationInputLength) {
		t.Errorf("short input err = %v", err)
	}
	// A zero versioned hash never matches a commitment's hash.
	if _, _, err := RunPrecompiledContract(p, make([]byte, 192), BlobTxPointEvaluationGas); !errors.Is(err, errPointEvaluationHash) {
		t.Errorf("hash mismatch err = %v", err)
	}
}

func TestCallIntoPrecompile(t *testing.T) {
	evm, _ := newTestEVM(t, nil)
	identity := types.BytesToAddress([]byte{0x04})
	ret, left, err := evm.Call(testCaller, identity, []byte("echo"), 1000, nil)
	if err != nil {
		t.Fatal(err)
	}
	if string(ret) != "echo" {
		t.Errorf("identity returned %q", ret)
	}
	if left != 1000-18 {
		t.Errorf("left = %d", left)
	}
}
