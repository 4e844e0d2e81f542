package vm

import (
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"math/big"
	"sort"

	"github.com/eth2030/agentsim/core/types"
	"github.com/eth2030/agentsim/crypto"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto/blake2b"
	bn256 "github.com/ethereum/go-ethereum/crypto/bn256/cloudflare"
	"golang.org/x/crypto/ripemd160"
)

// PrecompiledContract is a native contract living at a fixed address.
type PrecompiledContract interface {
	RequiredGas(input []byte) uint64
	Run(input []byte) ([]byte, error)
}

// Precompile gas constants.
const (
	EcrecoverGas             uint64 = 3000
	Sha256BaseGas            uint64 = 60
	Sha256PerWordGas         uint64 = 12
	Ripemd160BaseGas         uint64 = 600
	Ripemd160PerWordGas      uint64 = 120
	IdentityBaseGas          uint64 = 15
	IdentityPerWordGas       uint64 = 3
	Bn256AddGas              uint64 = 150
	Bn256ScalarMulGas        uint64 = 6000
	Bn256PairingBaseGas      uint64 = 45000
	Bn256PairingPerPointGas  uint64 = 34000
	BlobTxPointEvaluationGas uint64 = 50000
)

// PrecompiledContractsCancun is the precompile set at addresses 0x01-0x0a.
var PrecompiledContractsCancun = map[types.Address]PrecompiledContract{
	types.BytesToAddress([]byte{0x01}): &ecrecover{},
	types.BytesToAddress([]byte{0x02}): &sha256hash{},
	types.BytesToAddress([]byte{0x03}): &ripemd160hash{},
	types.BytesToAddress([]byte{0x04}): &dataCopy{},
	types.BytesToAddress([]byte{0x05}): &bigModExp{},
	types.BytesToAddress([]byte{0x06}): &bn256Add{},
	types.BytesToAddress([]byte{0x07}): &bn256ScalarMul{},
	types.BytesToAddress([]byte{0x08}): &bn256Pairing{},
	types.BytesToAddress([]byte{0x09}): &blake2F{},
	types.BytesToAddress([]byte{0x0a}): &kzgPointEvaluation{},
}

var activePrecompiles = func() []types.Address {
	out := make([]types.Address, 0, len(PrecompiledContractsCancun))
	for addr := range PrecompiledContractsCancun {
		out = append(out, addr)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Cmp(out[j]) < 0 })
	return out
}()

// ActivePrecompiles returns the precompile addresses in ascending order.
func ActivePrecompiles() []types.Address {
	return activePrecompiles
}

// IsPrecompiledContract reports whether addr hosts a precompile.
func IsPrecompiledContract(addr types.Address) bool {
	_, ok := PrecompiledContractsCancun[addr]
	return ok
}

// RunPrecompiledContract charges the required gas and runs p. Running out of
// gas consumes everything supplied.
func RunPrecompiledContract(p PrecompiledContract, input []byte, suppliedGas uint64) ([]byte, uint64, error) {
	gasCost := p.RequiredGas(input)
	if suppliedGas < gasCost {
		return nil, 0, ErrOutOfGas
	}
	suppliedGas -= gasCost
	output, err := p.Run(input)
	return output, suppliedGas, err
}

func wordCount(size int) uint64 {
	return (uint64(size) + 31) / 32
}

// --- 0x01 ecrecover ---

type ecrecover struct{}

func (c *ecrecover) RequiredGas(input []byte) uint64 {
	return EcrecoverGas
}

// Run returns the 32-byte left-padded signer address, or empty output for
// any malformed signature.
func (c *ecrecover) Run(input []byte) ([]byte, error) {
	const ecRecoverInputLength = 128
	input = common.RightPadBytes(input, ecRecoverInputLength)

	r := new(big.Int).SetBytes(input[64:96])
	s := new(big.Int).SetBytes(input[96:128])
	v := input[63] - 27

	// v must be a single byte 27 or 28 left-padded with zeroes.
	if !allZero(input[32:63]) || !crypto.ValidateSignatureValues(v, r, s) {
		return nil, nil
	}
	sig := make([]byte, 65)
	copy(sig, input[64:128])
	sig[64] = v

	pubKey, err := crypto.Ecrecover(input[:32], sig)
	if err != nil {
		return nil, nil
	}
	return common.LeftPadBytes(crypto.PubkeyBytesToAddress(pubKey).Bytes(), 32), nil
}

func allZero(b []byte) bool {
	for _, x := range b {
		if x != 0 {
			return false
		}
	}
	return true
}

// --- 0x02 sha256 ---

type sha256hash struct{}

func (c *sha256hash) RequiredGas(input []byte) uint64 {
	return wordCount(len(input))*Sha256PerWordGas + Sha256BaseGas
}

func (c *sha256hash) Run(input []byte) ([]byte, error) {
	h := sha256.Sum256(input)
	return h[:], nil
}

// --- 0x03 ripemd160 ---

type ripemd160hash struct{}

func (c *ripemd160hash) RequiredGas(input []byte) uint64 {
	return wordCount(len(input))*Ripemd160PerWordGas + Ripemd160BaseGas
}

func (c *ripemd160hash) Run(input []byte) ([]byte, error) {
	h := ripemd160.New()
	h.Write(input)
	return common.LeftPadBytes(h.Sum(nil), 32), nil
}

// --- 0x04 identity ---

type dataCopy struct{}

func (c *dataCopy) RequiredGas(input []byte) uint64 {
	return wordCount(len(input))*IdentityPerWordGas + IdentityBaseGas
}

func (c *dataCopy) Run(input []byte) ([]byte, error) {
	return common.CopyBytes(input), nil
}

// --- 0x05 modexp ---

type bigModExp struct{}

var (
	big1   = big.NewInt(1)
	big3   = big.NewInt(3)
	big7   = big.NewInt(7)
	big8   = big.NewInt(8)
	big32  = big.NewInt(32)
	big200 = big.NewInt(200)
)

// RequiredGas implements the EIP-2565 pricing: words(max(base, mod))^2 *
// max(adjusted exponent length, 1) / 3, at least 200.
func (c *bigModExp) RequiredGas(input []byte) uint64 {
	var (
		baseLen = new(big.Int).SetBytes(getData(input, 0, 32))
		expLen  = new(big.Int).SetBytes(getData(input, 32, 32))
		modLen  = new(big.Int).SetBytes(getData(input, 64, 32))
	)
	if len(input) > 96 {
		input = input[96:]
	} else {
		input = input[:0]
	}
	// Retrieve the head 32 bytes of exp for the adjusted exponent length.
	var expHead *big.Int
	if big.NewInt(int64(len(input))).Cmp(baseLen) <= 0 {
		expHead = new(big.Int)
	} else {
		if expLen.Cmp(big32) > 0 {
			expHead = new(big.Int).SetBytes(getData(input, baseLen.Uint64(), 32))
		} else {
			expHead = new(big.Int).SetBytes(getData(input, baseLen.Uint64(), expLen.Uint64()))
		}
	}
	var msb int
	if bitlen := expHead.BitLen(); bitlen > 0 {
		msb = bitlen - 1
	}
	adjExpLen := new(big.Int)
	if expLen.Cmp(big32) > 0 {
		adjExpLen.Sub(expLen, big32)
		adjExpLen.Mul(big8, adjExpLen)
	}
	adjExpLen.Add(adjExpLen, big.NewInt(int64(msb)))

	gas := new(big.Int)
	if modLen.Cmp(baseLen) < 0 {
		gas.Set(baseLen)
	} else {
		gas.Set(modLen)
	}
	// words = ceil(x / 8); complexity = words^2
	gas.Add(gas, big7)
	gas.Div(gas, big8)
	gas.Mul(gas, gas)

	if adjExpLen.Cmp(big1) < 0 {
		adjExpLen.Set(big1)
	}
	gas.Mul(gas, adjExpLen)
	gas.Div(gas, big3)
	if gas.BitLen() > 64 {
		return ^uint64(0)
	}
	if gas.Cmp(big200) < 0 {
		return 200
	}
	return gas.Uint64()
}

func (c *bigModExp) Run(input []byte) ([]byte, error) {
	var (
		baseLen = new(big.Int).SetBytes(getData(input, 0, 32)).Uint64()
		expLen  = new(big.Int).SetBytes(getData(input, 32, 32)).Uint64()
		modLen  = new(big.Int).SetBytes(getData(input, 64, 32)).Uint64()
	)
	if len(input) > 96 {
		input = input[96:]
	} else {
		input = input[:0]
	}
	if baseLen == 0 && modLen == 0 {
		return []byte{}, nil
	}
	var (
		base = new(big.Int).SetBytes(getData(input, 0, baseLen))
		exp  = new(big.Int).SetBytes(getData(input, baseLen, expLen))
		mod  = new(big.Int).SetBytes(getData(input, baseLen+expLen, modLen))
		v    []byte
	)
	switch {
	case mod.BitLen() == 0:
		// Modulo 0 is undefined, return zero.
		return common.LeftPadBytes([]byte{}, int(modLen)), nil
	case base.BitLen() == 1:
		// A base of 1 only needs the reduction.
		v = base.Mod(base, mod).Bytes()
	default:
		v = base.Exp(base, exp, mod).Bytes()
	}
	return common.LeftPadBytes(v, int(modLen)), nil
}

// --- 0x06..0x08 alt_bn128 ---

var errBadPairingInput = errors.New("bad elliptic curve pairing size")

var (
	true32Byte  = []byte{0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 1}
	false32Byte = make([]byte, 32)
)

func newCurvePoint(blob []byte) (*bn256.G1, error) {
	p := new(bn256.G1)
	if _, err := p.Unmarshal(blob); err != nil {
		return nil, err
	}
	return p, nil
}

func newTwistPoint(blob []byte) (*bn256.G2, error) {
	p := new(bn256.G2)
	if _, err := p.Unmarshal(blob); err != nil {
		return nil, err
	}
	return p, nil
}

type bn256Add struct{}

func (c *bn256Add) RequiredGas(input []byte) uint64 {
	return Bn256AddGas
}

func (c *bn256Add) Run(input []byte) ([]byte, error) {
	x, err := newCurvePoint(getData(input, 0, 64))
	if err != nil {
		return nil, err
	}
	y, err := newCurvePoint(getData(input, 64, 64))
	if err != nil {
		return nil, err
	}
	res := new(bn256.G1)
	res.Add(x, y)
	return res.Marshal(), nil
}

type bn256ScalarMul struct{}

func (c *bn256ScalarMul) RequiredGas(input []byte) uint64 {
	return Bn256ScalarMulGas
}

func (c *bn256ScalarMul) Run(input []byte) ([]byte, error) {
	p, err := newCurvePoint(getData(input, 0, 64))
	if err != nil {
		return nil, err
	}
	res := new(bn256.G1)
	res.ScalarMult(p, new(big.Int).SetBytes(getData(input, 64, 32)))
	return res.Marshal(), nil
}

type bn256Pairing struct{}

func (c *bn256Pairing) RequiredGas(input []byte) uint64 {
	return Bn256PairingBaseGas + uint64(len(input)/192)*Bn256PairingPerPointGas
}

func (c *bn256Pairing) Run(input []byte) ([]byte, error) {
	if len(input)%192 > 0 {
		return nil, errBadPairingInput
	}
	var (
		cs []*bn256.G1
		ts []*bn256.G2
	)
	for i := 0; i < len(input); i += 192 {
		c, err := newCurvePoint(input[i : i+64])
		if err != nil {
			return nil, err
		}
		t, err := newTwistPoint(input[i+64 : i+192])
		if err != nil {
			return nil, err
		}
		cs = append(cs, c)
		ts = append(ts, t)
	}
	if bn256.PairingCheck(cs, ts) {
		return true32Byte, nil
	}
	return false32Byte, nil
}

// --- 0x09 blake2f ---

const blake2FInputLength = 213

var (
	errBlake2FInvalidInputLength = errors.New("invalid input length")
	errBlake2FInvalidFinalFlag   = errors.New("invalid final flag")
)

type blake2F struct{}

// RequiredGas is one gas per round.
func (c *blake2F) RequiredGas(input []byte) uint64 {
	if len(input) != blake2FInputLength {
		return 0
	}
	return uint64(binary.BigEndian.Uint32(input[0:4]))
}

func (c *blake2F) Run(input []byte) ([]byte, error) {
	if len(input) != blake2FInputLength {
		return nil, errBlake2FInvalidInputLength
	}
	if input[212] != 0 && input[212] != 1 {
		return nil, errBlake2FInvalidFinalFlag
	}
	var (
		rounds = binary.BigEndian.Uint32(input[0:4])
		final  = input[212] == 1
		h      [8]uint64
		m      [16]uint64
		t      [2]uint64
	)
	for i := 0; i < 8; i++ {
		offset := 4 + i*8
		h[i] = binary.LittleEndian.Uint64(input[offset : offset+8])
	}
	for i := 0; i < 16; i++ {
		offset := 68 + i*8
		m[i] = binary.LittleEndian.Uint64(input[offset : offset+8])
	}
	t[0] = binary.LittleEndian.Uint64(input[196:204])
	t[1] = binary.LittleEndian.Uint64(input[204:212])

	blake2b.F(&h, m, t, final, rounds)

	output := make([]byte, 64)
	for i := 0; i < 8; i++ {
		offset := i * 8
		binary.LittleEndian.PutUint64(output[offset:offset+8], h[i])
	}
	return output, nil
}

// --- 0x0a KZG point evaluation ---

var (
	errPointEvaluationInputLength = errors.New("invalid input length")
	errPointEvaluationHash        = errors.New("mismatched versioned hash")
)

// pointEvaluationOutput is FIELD_ELEMENTS_PER_BLOB ++ BLS_MODULUS.
var pointEvaluationOutput = common.Hex2Bytes(
	"0000000000000000000000000000000000000000000000000000000000001000" +
		"73eda753299d7d483339d80809a1d80553bda402fffe5bfeffffffff00000001")

type kzgPointEvaluation struct{}

func (c *kzgPointEvaluation) RequiredGas(input []byte) uint64 {
	return BlobTxPointEvaluationGas
}

// Run verifies that the blob committed to by commitment evaluates to y at
// z. Input: versioned_hash | z | y | commitment | proof.
func (c *kzgPointEvaluation) Run(input []byte) ([]byte, error) {
	const inputLength = 192
	if len(input) != inputLength {
		return nil, errPointEvaluationInputLength
	}
	var versionedHash types.Hash
	copy(versionedHash[:], input[:32])

	var z, y [32]byte
	copy(z[:], input[32:64])
	copy(y[:], input[64:96])

	commitment := input[96:144]
	if crypto.KZGToVersionedHash(commitment) != versionedHash {
		return nil, errPointEvaluationHash
	}
	proof := input[144:inputLength]
	if err := crypto.KZGVerifyProof(commitment, z, y, proof); err != nil {
		return nil, err
	}
	return common.CopyBytes(pointEvaluationOutput), nil
}
