package crypto

import (
	"encoding/hex"
	"testing"

	"github.com/eth2030/agentsim/core/types"
)

func TestCreateAddress(t *testing.T) {
	sender := types.HexToAddress("0x970e8128ab834e8eac17ab8e3812f010678cf791")
	tests := []struct {
		nonce uint64
		want  string
	}{
		{0, "0x333c3310824b7c685133f2bedb2ca4b8b4df633d"},
		{1, "0x8bda78331c916a08481428e4b07c96d3e916d165"},
		{2, "0xc9ddedf451bc62ce88bf9292afb13df35b670699"},
	}
	for _, tt := range tests {
		got := CreateAddress(sender, tt.nonce)
		if got != types.HexToAddress(tt.want) {
			t.Errorf("CreateAddress(nonce=%d) = %s, want %s", tt.nonce, got, tt.want)
		}
	}
}

func TestCreateAddress2(t *testing.T) {
	// Examples from EIP-1014.
	tests := []struct {
		sender, salt, code, want string
	}{
		{"0x0000000000000000000000000000000000000000", "0x00", "00", "0x4D1A2e2bB4F88F0250f26Ffff098B0b30B26BF38"},
		{"0xdeadbeef00000000000000000000000000000000", "0x00", "00", "0xB928f69Bb1D91Cd65274e3c79d8986362984fDA3"},
		{"0xdeadbeef00000000000000000000000000000000", "0x000000000000000000000000feed000000000000000000000000000000000000", "00", "0xD04116cDd17beBE565EB2422F2497E06cC1C9833"},
		{"0x0000000000000000000000000000000000000000", "0x00", "deadbeef", "0x70f2b2914A2a4b783FaEFb75f459A580616Fcb5e"},
		{"0x00000000000000000000000000000000deadbeef", "0xcafebabe", "deadbeef", "0x60f3f640a8508fC6a86d45DF051962668E1e8AC7"},
		{"0x0000000000000000000000000000000000000000", "0x00", "", "0xE33C0C7F7df4809055C3ebA6c09CFe4BaF1BD9e0"},
	}
	for i, tt := range tests {
		code, err := hex.DecodeString(tt.code)
		if err != nil {
			t.Fatal(err)
		}
		got := CreateAddress2(types.HexToAddress(tt.sender), types.HexToHash(tt.salt), Keccak256(code))
		if got != types.HexToAddress(tt.want) {
			t.Errorf("example %d: CreateAddress2 = %s, want %s", i, got, tt.want)
		}
	}
}
