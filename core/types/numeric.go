package types

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common/math"
	"github.com/holiman/uint256"
)

// ErrOverflow is returned by the checked arithmetic helpers.
var ErrOverflow = errors.New("arithmetic overflow")

// ParseU256 parses a decimal or 0x-prefixed hexadecimal quantity. An empty
// string parses as zero.
func ParseU256(s string) (*uint256.Int, error) {
	s = strings.TrimSpace(strings.ReplaceAll(s, "_", ""))
	if s == "" {
		return new(uint256.Int), nil
	}
	if has0xPrefix(s) {
		// Leading zero digits are accepted, as in storage keys like 0x01.
		digits := strings.TrimLeft(s[2:], "0")
		if digits == "" && len(s) > 2 {
			return new(uint256.Int), nil
		}
		v, err := uint256.FromHex("0x" + digits)
		if err != nil {
			return nil, fmt.Errorf("invalid hex quantity %q: %w", s, err)
		}
		return v, nil
	}
	v, err := uint256.FromDecimal(s)
	if err != nil {
		return nil, fmt.Errorf("invalid decimal quantity %q: %w", s, err)
	}
	return v, nil
}

// MustU256 is ParseU256 for constants; it panics on malformed input.
func MustU256(s string) *uint256.Int {
	v, err := ParseU256(s)
	if err != nil {
		panic(err)
	}
	return v
}

// U256ToHash returns the big-endian 32-byte form of v.
func U256ToHash(v *uint256.Int) Hash {
	return Hash(v.Bytes32())
}

// HashToU256 interprets h as a big-endian 256-bit unsigned integer.
func HashToU256(h Hash) *uint256.Int {
	return new(uint256.Int).SetBytes32(h[:])
}

// CheckedAdd returns a + b, or ErrOverflow when the sum exceeds 2^256-1.
func CheckedAdd(a, b *uint256.Int) (*uint256.Int, error) {
	sum, overflow := new(uint256.Int).AddOverflow(a, b)
	if overflow {
		return nil, ErrOverflow
	}
	return sum, nil
}

// CheckedSub returns a - b, or ErrOverflow when b > a.
func CheckedSub(a, b *uint256.Int) (*uint256.Int, error) {
	diff, underflow := new(uint256.Int).SubOverflow(a, b)
	if underflow {
		return nil, ErrOverflow
	}
	return diff, nil
}

// CheckedMul returns a * b, or ErrOverflow when the product exceeds 2^256-1.
func CheckedMul(a, b *uint256.Int) (*uint256.Int, error) {
	prod, overflow := new(uint256.Int).MulOverflow(a, b)
	if overflow {
		return nil, ErrOverflow
	}
	return prod, nil
}

// SafeAddGas adds two gas quantities, reporting uint64 overflow.
func SafeAddGas(a, b uint64) (uint64, bool) {
	return math.SafeAdd(a, b)
}

// SafeMulGas multiplies two gas quantities, reporting uint64 overflow.
func SafeMulGas(a, b uint64) (uint64, bool) {
	return math.SafeMul(a, b)
}

// CopyU256 returns a fresh copy of v, treating nil as zero.
func CopyU256(v *uint256.Int) *uint256.Int {
	if v == nil {
		return new(uint256.Int)
	}
	return new(uint256.Int).Set(v)
}
