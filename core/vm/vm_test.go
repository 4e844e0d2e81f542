package vm

import (
	"bytes"
	"testing"

	"github.com/eth2030/agentsim/core/types"
	"github.com/holiman/uint256"
)

func TestStackOps(t *testing.T) {
	st := NewStack()
	for i := uint64(1); i <= 3; i++ {
		st.Push(uint256.NewInt(i))
	}
	if st.Peek().Uint64() != 3 || st.Back(2).Uint64() != 1 {
		t.Fatalf("unexpected layout %v", st.Data())
	}
	st.Swap(2)
	if st.Peek().Uint64() != 1 || st.Back(2).Uint64() != 3 {
		t.Errorf("swap: %v", st.Data())
	}
	st.Dup(2)
	if st.Len() != 4 || st.Peek().Uint64() != 2 {
		t.Errorf("dup: %v", st.Data())
	}
	v := st.Pop()
	if v.Uint64() != 2 || st.Len() != 3 {
		t.Errorf("pop = %d len %d", v.Uint64(), st.Len())
	}
}

func TestMemoryOps(t *testing.T) {
	m := NewMemory()
	m.Resize(64)
	m.Set32(0, uint256.NewInt(0xff))
	if m.Data()[31] != 0xff {
		t.Errorf("Set32 wrote %x", m.Data()[:32])
	}
	m.Set(32, 3, []byte{1, 2, 3})
	m.Copy(40, 32, 3)
	if !bytes.Equal(m.GetCopy(40, 3), []byte{1, 2, 3}) {
		t.Errorf("Copy: %x", m.GetCopy(40, 3))
	}
	if m.GetCopy(0, 0) != nil {
		t.Error("zero-size read should be nil")
	}
	if m.Len() != 64 {
		t.Errorf("len = %d", m.Len())
	}
}

func TestMemoryGasCost(t *testing.T) {
	tests := []struct {
		size uint64
		want uint64
	}{
		{0, 0},
		{1, 3},
		{32, 3},
		{64, 6},
		{1024, 32*3 + 32*32/512},
	}
	for _, tt := range tests {
		if got := MemoryGasCost(tt.size); got != tt.want {
			t.Errorf("MemoryGasCost(%d) = %d, want %d", tt.size, got, tt.want)
		}
	}

	// Expansion is charged only for the delta.
	m := NewMemory()
	first, err := memoryGasCost(m, 32)
	if err != nil || first != 3 {
		t.Fatalf("first = %d, %v", first, err)
	}
	m.Resize(32)
	second, _ := memoryGasCost(m, 64)
	if second != 3 {
		t.Errorf("second expansion = %d, want 3", second)
	}
}

func TestCallGasRule(t *testing.T) {
	if got := CallGas(6400, uint256.NewInt(10000)); got != 6300 {
		t.Errorf("capped = %d, want 6300", got)
	}
	if got := CallGas(6400, uint256.NewInt(100)); got != 100 {
		t.Errorf("requested = %d, want 100", got)
	}
	if _, err := callGas(10, 20, uint256.NewInt(1)); err != ErrOutOfGas {
		t.Errorf("base above available: %v", err)
	}
}

func TestIntrinsicGas(t *testing.T) {
	tests := []struct {
		name   string
		data   []byte
		create bool
		want   uint64
	}{
		{"empty call", nil, false, 21000},
		{"calldata", []byte{0, 1, 0, 2}, false, 21000 + 2*4 + 2*16},
		{"create", []byte{1}, true, 53000 + 16 + 2},
		{"create two words", make([]byte, 33), true, 53000 + 33*4 + 2*2},
	}
	for _, tt := range tests {
		got, err := IntrinsicGas(tt.data, tt.create)
		if err != nil {
			t.Fatalf("%s: %v", tt.name, err)
		}
		if got != tt.want {
			t.Errorf("%s = %d, want %d", tt.name, got, tt.want)
		}
	}
}

func TestJumpdestAnalysis(t *testing.T) {
	code := []byte{byte(PUSH2), byte(JUMPDEST), byte(JUMPDEST), byte(JUMPDEST)}
	c := NewContract(testCaller, testTarget, nil, 0)
	c.SetCallCode(types.Hash{}, code)
	if c.validJumpdest(uint256.NewInt(1)) || c.validJumpdest(uint256.NewInt(2)) {
		t.Error("push data accepted as jumpdest")
	}
	if !c.validJumpdest(uint256.NewInt(3)) {
		t.Error("real jumpdest rejected")
	}
	if c.validJumpdest(uint256.NewInt(100)) {
		t.Error("out of range accepted")
	}
}

func TestOpCodeNames(t *testing.T) {
	tests := map[OpCode]string{
		ADD:    "ADD",
		PUSH0:  "PUSH0",
		PUSH32: "PUSH32",
		DUP16:  "DUP16",
		LOG4:   "LOG4",
	}
	for op, name := range tests {
		if op.String() != name {
			t.Errorf("%#x = %q, want %q", byte(op), op.String(), name)
		}
		if got, ok := StringToOp(name); !ok || got != op {
			t.Errorf("StringToOp(%q) = %v, %v", name, got, ok)
		}
	}
	if !PUSH1.IsPush() || PUSH0.IsPush() || ADD.IsPush() {
		t.Error("IsPush mismatch")
	}
}

func TestCancunJumpTable(t *testing.T) {
	jt := NewCancunJumpTable()
	for i, op := range jt {
		if op == nil {
			t.Fatalf("nil entry at %#x", i)
		}
	}
	if jt[MCOPY].undefined || jt[BLOBHASH].undefined || jt[TSTORE].undefined {
		t.Error("Cancun opcodes missing")
	}
	if !jt[0x0c].undefined {
		t.Error("0x0c should be undefined")
	}
}
