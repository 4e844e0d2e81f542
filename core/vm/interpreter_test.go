package vm

import (
	"bytes"
	"errors"
	"testing"

	"github.com/eth2030/agentsim/core/state"
	"github.com/eth2030/agentsim/core/types"
	"github.com/eth2030/agentsim/crypto"
	"github.com/holiman/uint256"
)

var (
	testCaller = types.HexToAddress("0x00000000000000000000000000000000000a11ce")
	testTarget = types.HexToAddress("0x000000000000000000000000000000000000c0de")
	testOther  = types.HexToAddress("0x000000000000000000000000000000000000beef")
)

// newTestEVM opens a transaction overlay on a world built from alloc and
// returns an EVM bound to it.
func newTestEVM(t *testing.T, alloc state.GenesisAlloc) (*EVM, *state.TxState) {
	t.Helper()
	world := state.NewWorldState(alloc, state.BlockInfo{
		Number:   10,
		GasLimit: 30_000_000,
		ChainID:  1337,
	})
	db := state.NewTxState(world)
	evm := NewEVM(BlockContext{
		BlockNumber: 10,
		Time:        1000,
		GasLimit:    30_000_000,
		ChainID:     1337,
		GetHash: func(n uint64) types.Hash {
			return types.BytesToHash([]byte{byte(n)})
		},
	}, TxContext{Origin: testCaller}, db, Config{})
	evm.PreWarmAccessList(testCaller, &testTarget)
	return evm, db
}

func withCode(code []byte) state.GenesisAlloc {
	return state.GenesisAlloc{testTarget: {Code: code}}
}

func pushAddr(addr types.Address) []byte {
	return append([]byte{byte(PUSH20)}, addr.Bytes()...)
}

func TestCallReturnsSum(t *testing.T) {
	code := []byte{
		byte(PUSH1), 10,
		byte(PUSH1), 20,
		byte(ADD),
		byte(PUSH1), 0,
		byte(MSTORE),
		byte(PUSH1), 32,
		byte(PUSH1), 0,
		byte(RETURN),
	}
	evm, _ := newTestEVM(t, withCode(code))
	ret, left, err := evm.Call(testCaller, testTarget, nil, 100000, nil)
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if got := new(uint256.Int).SetBytes(ret); got.Uint64() != 30 {
		t.Errorf("result = %v, want 30", got)
	}
	// 5 pushes, ADD, MSTORE and one word of memory.
	if used := 100000 - left; used != 24 {
		t.Errorf("gas used = %d, want 24", used)
	}
}

func TestJumpValidation(t *testing.T) {
	tests := []struct {
		name string
		code []byte
		err  error
	}{
		{"no jumpdest", []byte{byte(PUSH1), 3, byte(JUMP), byte(STOP)}, ErrInvalidJump},
		{"inside push data", []byte{byte(PUSH1), byte(JUMPDEST), byte(PUSH1), 1, byte(JUMP)}, ErrInvalidJump},
		{"out of range", []byte{byte(PUSH2), 0xff, 0xff, byte(JUMP)}, ErrInvalidJump},
		{"valid", []byte{byte(PUSH1), 4, byte(JUMP), byte(INVALID), byte(JUMPDEST), byte(STOP)}, nil},
		{"jumpi not taken", []byte{byte(PUSH1), 0, byte(PUSH1), 9, byte(JUMPI), byte(STOP)}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			evm, _ := newTestEVM(t, withCode(tt.code))
			_, left, err := evm.Call(testCaller, testTarget, nil, 100000, nil)
			if !errors.Is(err, tt.err) {
				t.Fatalf("err = %v, want %v", err, tt.err)
			}
			if tt.err != nil && left != 0 {
				t.Errorf("failed call left %d gas, want 0", left)
			}
		})
	}
}

func TestExceptionalHalts(t *testing.T) {
	tests := []struct {
		name string
		code []byte
		gas  uint64
		err  error
	}{
		{"stack underflow", []byte{byte(ADD)}, 100000, ErrStackUnderflow},
		{"out of gas", []byte{byte(PUSH1), 1, byte(PUSH1), 2, byte(ADD)}, 5, ErrOutOfGas},
		{"undefined opcode", []byte{0x0c}, 100000, ErrInvalidOpCode},
		{"designated invalid", []byte{byte(INVALID)}, 100000, ErrInvalidOpCode},
		{"returndata out of bounds", []byte{byte(PUSH1), 1, byte(PUSH1), 0, byte(PUSH1), 0, byte(RETURNDATACOPY)}, 100000, ErrReturnDataOutOfBounds},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			evm, _ := newTestEVM(t, withCode(tt.code))
			_, left, err := evm.Call(testCaller, testTarget, nil, tt.gas, nil)
			if !errors.Is(err, tt.err) {
				t.Fatalf("err = %v, want %v", err, tt.err)
			}
			if left != 0 {
				t.Errorf("left = %d, want 0", left)
			}
		})
	}
}

func TestStackOverflow(t *testing.T) {
	// JUMPDEST PUSH0 PUSH1 0 JUMP grows the stack by one per loop.
	code := []byte{byte(JUMPDEST), byte(PUSH0), byte(PUSH1), 0, byte(JUMP)}
	evm, _ := newTestEVM(t, withCode(code))
	_, _, err := evm.Call(testCaller, testTarget, nil, 1_000_000, nil)
	if !errors.Is(err, ErrStackOverflow) {
		t.Fatalf("err = %v, want stack overflow", err)
	}
}

func TestSstoreGasAndRefund(t *testing.T) {
	slot := types.Hash{}
	// SSTORE(0, 1); SSTORE(0, 2); SSTORE(0, 0)
	code := []byte{
		byte(PUSH1), 1, byte(PUSH1), 0, byte(SSTORE),
		byte(PUSH1), 2, byte(PUSH1), 0, byte(SSTORE),
		byte(PUSH1), 0, byte(PUSH1), 0, byte(SSTORE),
		byte(STOP),
	}
	evm, db := newTestEVM(t, withCode(code))
	_, left, err := evm.Call(testCaller, testTarget, nil, 100000, nil)
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	// cold set 22100, dirty write 100, dirty reset to original 100, pushes 18.
	if used := 100000 - left; used != 22100+100+100+18 {
		t.Errorf("gas used = %d", used)
	}
	// Restoring the original zero refunds SSTORE_SET - WARM_READ.
	if got := db.GetRefund(); got != SstoreSetGas-WarmStorageReadCost {
		t.Errorf("refund = %d, want %d", got, SstoreSetGas-WarmStorageReadCost)
	}
	if v := db.GetState(testTarget, slot); !v.IsZero() {
		t.Errorf("slot = %x, want zero", v)
	}
}

func TestSstoreSentry(t *testing.T) {
	code := []byte{byte(PUSH1), 1, byte(PUSH1), 0, byte(SSTORE)}
	evm, _ := newTestEVM(t, withCode(code))
	_, _, err := evm.Call(testCaller, testTarget, nil, 2306, nil)
	if !errors.Is(err, ErrOutOfGas) {
		t.Fatalf("err = %v, want out of gas", err)
	}
}

func TestRevertRollsBackAndKeepsGas(t *testing.T) {
	code := []byte{
		byte(PUSH1), 1, byte(PUSH1), 0, byte(SSTORE),
		byte(PUSH1), 0xaa, byte(PUSH1), 0, byte(MSTORE8),
		byte(PUSH1), 1, byte(PUSH1), 0, byte(REVERT),
	}
	evm, db := newTestEVM(t, withCode(code))
	ret, left, err := evm.Call(testCaller, testTarget, nil, 100000, nil)
	if !errors.Is(err, ErrExecutionReverted) {
		t.Fatalf("err = %v, want revert", err)
	}
	if !bytes.Equal(ret, []byte{0xaa}) {
		t.Errorf("revert data = %x, want aa", ret)
	}
	if left == 0 {
		t.Error("revert should return unused gas")
	}
	if v := db.GetState(testTarget, types.Hash{}); !v.IsZero() {
		t.Errorf("storage not rolled back: %x", v)
	}
}

func TestStaticCallWriteProtection(t *testing.T) {
	code := []byte{byte(PUSH1), 1, byte(PUSH1), 0, byte(SSTORE), byte(STOP)}
	evm, _ := newTestEVM(t, withCode(code))
	_, left, err := evm.StaticCall(testCaller, testTarget, nil, 100000)
	if !errors.Is(err, ErrWriteProtection) {
		t.Fatalf("err = %v, want write protection", err)
	}
	if left != 0 {
		t.Errorf("left = %d, want 0", left)
	}
}

func TestCallValueTransfer(t *testing.T) {
	alloc := state.GenesisAlloc{testCaller: {Balance: uint256.NewInt(1000)}}
	evm, db := newTestEVM(t, alloc)

	_, left, err := evm.Call(testCaller, testOther, nil, 50000, uint256.NewInt(100))
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if left != 50000 {
		t.Errorf("plain transfer used gas: left %d", left)
	}
	if got := db.GetBalance(testCaller).Uint64(); got != 900 {
		t.Errorf("caller balance = %d, want 900", got)
	}
	if got := db.GetBalance(testOther).Uint64(); got != 100 {
		t.Errorf("recipient balance = %d, want 100", got)
	}

	_, left, err = evm.Call(testCaller, testOther, nil, 50000, uint256.NewInt(5000))
	if !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("err = %v, want insufficient balance", err)
	}
	if left != 50000 {
		t.Errorf("insufficient balance should not consume gas, left %d", left)
	}
}

func TestNestedCallValueAndReturn(t *testing.T) {
	// Callee returns CALLVALUE as a word.
	callee := []byte{
		byte(CALLVALUE), byte(PUSH1), 0, byte(MSTORE),
		byte(PUSH1), 32, byte(PUSH1), 0, byte(RETURN),
	}
	// Caller: CALL(gas, other, 7, 0, 0, 0, 32) then return memory[0:32].
	caller := []byte{
		byte(PUSH1), 32, byte(PUSH1), 0, byte(PUSH1), 0, byte(PUSH1), 0,
		byte(PUSH1), 7,
	}
	caller = append(caller, pushAddr(testOther)...)
	caller = append(caller,
		byte(GAS), byte(CALL), byte(POP),
		byte(PUSH1), 32, byte(PUSH1), 0, byte(RETURN),
	)
	alloc := state.GenesisAlloc{
		testTarget: {Code: caller, Balance: uint256.NewInt(10)},
		testOther:  {Code: callee},
	}
	evm, db := newTestEVM(t, alloc)
	ret, _, err := evm.Call(testCaller, testTarget, nil, 200000, nil)
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if got := new(uint256.Int).SetBytes(ret).Uint64(); got != 7 {
		t.Errorf("callee saw value %d, want 7", got)
	}
	if got := db.GetBalance(testOther).Uint64(); got != 7 {
		t.Errorf("callee balance = %d, want 7", got)
	}
}

func TestDelegateCallContext(t *testing.T) {
	library := types.HexToAddress("0x0000000000000000000000000000000000001111")
	// Library stores CALLER into slot 0 of whatever context runs it.
	libCode := []byte{byte(CALLER), byte(PUSH1), 0, byte(SSTORE), byte(STOP)}
	proxy := []byte{byte(PUSH1), 0, byte(PUSH1), 0, byte(PUSH1), 0, byte(PUSH1), 0}
	proxy = append(proxy, pushAddr(library)...)
	proxy = append(proxy, byte(GAS), byte(DELEGATECALL), byte(STOP))

	alloc := state.GenesisAlloc{
		testTarget: {Code: proxy},
		library:    {Code: libCode},
	}
	evm, db := newTestEVM(t, alloc)
	if _, _, err := evm.Call(testCaller, testTarget, nil, 200000, nil); err != nil {
		t.Fatalf("Call: %v", err)
	}
	got := db.GetState(testTarget, types.Hash{})
	if types.BytesToAddress(got[12:]) != testCaller {
		t.Errorf("proxy slot 0 = %x, want caller %s", got, testCaller)
	}
	if v := db.GetState(library, types.Hash{}); !v.IsZero() {
		t.Errorf("library storage written: %x", v)
	}
}

// runtimeReturning42 returns the 32-byte word 42.
var runtimeReturning42 = []byte{
	byte(PUSH1), 42, byte(PUSH1), 0, byte(MSTORE),
	byte(PUSH1), 32, byte(PUSH1), 0, byte(RETURN),
}

// deployer wraps runtime code in initcode that copies and returns it.
func deployer(runtime []byte) []byte {
	n := byte(len(runtime))
	init := []byte{
		byte(PUSH1), n, byte(PUSH1), 12, byte(PUSH1), 0, byte(CODECOPY),
		byte(PUSH1), n, byte(PUSH1), 0, byte(RETURN),
	}
	return append(init, runtime...)
}

func TestCreateDeploysCode(t *testing.T) {
	evm, db := newTestEVM(t, nil)
	_, addr, _, err := evm.Create(testCaller, deployer(runtimeReturning42), 200000, nil)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if want := crypto.CreateAddress(testCaller, 0); addr != want {
		t.Errorf("address = %s, want %s", addr, want)
	}
	if !bytes.Equal(db.GetCode(addr), runtimeReturning42) {
		t.Errorf("code = %x", db.GetCode(addr))
	}
	if n := db.GetNonce(testCaller); n != 1 {
		t.Errorf("creator nonce = %d, want 1", n)
	}
	if n := db.GetNonce(addr); n != 1 {
		t.Errorf("contract nonce = %d, want 1", n)
	}
	ret, _, err := evm.Call(testCaller, addr, nil, 100000, nil)
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if new(uint256.Int).SetBytes(ret).Uint64() != 42 {
		t.Errorf("deployed code returned %x", ret)
	}
}

func TestCreateRejectsEFPrefix(t *testing.T) {
	init := []byte{
		byte(PUSH1), 0xef, byte(PUSH1), 0, byte(MSTORE8),
		byte(PUSH1), 1, byte(PUSH1), 0, byte(RETURN),
	}
	evm, db := newTestEVM(t, nil)
	_, addr, left, err := evm.Create(testCaller, init, 200000, nil)
	if !errors.Is(err, ErrInvalidCode) {
		t.Fatalf("err = %v, want invalid code", err)
	}
	if left != 0 {
		t.Errorf("left = %d, want 0", left)
	}
	if db.GetCodeSize(addr) != 0 {
		t.Error("code stored despite failure")
	}
	if n := db.GetNonce(testCaller); n != 1 {
		t.Errorf("creator nonce = %d, want 1 after failed create", n)
	}
}

func TestCreateCollision(t *testing.T) {
	addr := crypto.CreateAddress(testCaller, 0)
	alloc := state.GenesisAlloc{addr: {Nonce: 1}}
	evm, _ := newTestEVM(t, alloc)
	_, _, left, err := evm.Create(testCaller, deployer(runtimeReturning42), 200000, nil)
	if !errors.Is(err, ErrContractAddressCollision) {
		t.Fatalf("err = %v, want collision", err)
	}
	if left != 0 {
		t.Errorf("collision left %d gas", left)
	}
}

func TestCreate2Address(t *testing.T) {
	evm, _ := newTestEVM(t, nil)
	init := deployer(runtimeReturning42)
	salt := types.HexToHash("0x01")
	_, addr, _, err := evm.Create2(testCaller, init, 200000, nil, salt)
	if err != nil {
		t.Fatalf("Create2: %v", err)
	}
	if want := crypto.CreateAddress2(testCaller, salt, crypto.Keccak256(init)); addr != want {
		t.Errorf("address = %s, want %s", addr, want)
	}
	// Redeploying with the same salt collides.
	if _, _, _, err := evm.Create2(testCaller, init, 200000, nil, salt); !errors.Is(err, ErrContractAddressCollision) {
		t.Errorf("second deploy err = %v, want collision", err)
	}
}

func TestSelfDestructSameTransaction(t *testing.T) {
	init := append(pushAddr(testOther), byte(SELFDESTRUCT))
	alloc := state.GenesisAlloc{testCaller: {Balance: uint256.NewInt(100)}}
	evm, db := newTestEVM(t, alloc)
	_, addr, _, err := evm.Create(testCaller, init, 200000, uint256.NewInt(50))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if !db.HasSelfDestructed(addr) {
		t.Error("contract created in this transaction should be destroyed")
	}
	if got := db.GetBalance(testOther).Uint64(); got != 50 {
		t.Errorf("beneficiary balance = %d, want 50", got)
	}
	if _, ok := db.Diff().Account(addr); ok {
		t.Error("destroyed contract should not appear in the diff")
	}
}

func TestSelfDestructExistingContract(t *testing.T) {
	code := append(pushAddr(testOther), byte(SELFDESTRUCT))
	alloc := state.GenesisAlloc{testTarget: {Code: code, Balance: uint256.NewInt(70)}}
	evm, db := newTestEVM(t, alloc)
	if _, _, err := evm.Call(testCaller, testTarget, nil, 100000, nil); err != nil {
		t.Fatalf("Call: %v", err)
	}
	if db.HasSelfDestructed(testTarget) {
		t.Error("pre-existing contract must survive SELFDESTRUCT")
	}
	if len(db.GetCode(testTarget)) == 0 {
		t.Error("code removed")
	}
	if got := db.GetBalance(testOther).Uint64(); got != 70 {
		t.Errorf("beneficiary balance = %d, want 70", got)
	}
	if !db.GetBalance(testTarget).IsZero() {
		t.Error("balance not moved")
	}
}

func TestTransientStorage(t *testing.T) {
	code := []byte{
		byte(PUSH1), 9, byte(PUSH1), 1, byte(TSTORE),
		byte(PUSH1), 1, byte(TLOAD), byte(PUSH1), 0, byte(MSTORE),
		byte(PUSH1), 32, byte(PUSH1), 0, byte(RETURN),
	}
	evm, db := newTestEVM(t, withCode(code))
	ret, _, err := evm.Call(testCaller, testTarget, nil, 100000, nil)
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if new(uint256.Int).SetBytes(ret).Uint64() != 9 {
		t.Errorf("TLOAD = %x, want 9", ret)
	}
	if d, ok := db.Diff().Account(testTarget); ok && len(d.Storage) > 0 {
		t.Error("transient storage leaked into persistent storage")
	}
}

func TestLogEmission(t *testing.T) {
	code := []byte{
		byte(PUSH1), 0x77, byte(PUSH1), 0, byte(MSTORE8),
		byte(PUSH1), 0xab, // topic
		byte(PUSH1), 1, byte(PUSH1), 0, byte(LOG1),
		byte(STOP),
	}
	evm, db := newTestEVM(t, withCode(code))
	if _, _, err := evm.Call(testCaller, testTarget, nil, 100000, nil); err != nil {
		t.Fatalf("Call: %v", err)
	}
	logs := db.Logs()
	if len(logs) != 1 {
		t.Fatalf("logs = %d, want 1", len(logs))
	}
	if logs[0].Address != testTarget || logs[0].Topics[0] != types.BytesToHash([]byte{0xab}) {
		t.Errorf("unexpected log %+v", logs[0])
	}
	if !bytes.Equal(logs[0].Data, []byte{0x77}) {
		t.Errorf("log data = %x", logs[0].Data)
	}
}

func TestBlockOpcodes(t *testing.T) {
	tests := []struct {
		op   OpCode
		want uint64
	}{
		{NUMBER, 10},
		{TIMESTAMP, 1000},
		{CHAINID, 1337},
		{GASLIMIT, 30_000_000},
		{PUSH0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.op.String(), func(t *testing.T) {
			code := []byte{byte(tt.op), byte(PUSH1), 0, byte(MSTORE), byte(PUSH1), 32, byte(PUSH1), 0, byte(RETURN)}
			evm, _ := newTestEVM(t, withCode(code))
			ret, _, err := evm.Call(testCaller, testTarget, nil, 100000, nil)
			if err != nil {
				t.Fatalf("Call: %v", err)
			}
			if got := new(uint256.Int).SetBytes(ret).Uint64(); got != tt.want {
				t.Errorf("%s = %d, want %d", tt.op, got, tt.want)
			}
		})
	}
}

func TestBlockhashWindow(t *testing.T) {
	tests := []struct {
		number uint64
		want   uint64
	}{
		{9, 9},
		{10, 0}, // current block is not visible
		{0, 0},  // genesis hash is byte(0)
	}
	for _, tt := range tests {
		code := []byte{byte(PUSH1), byte(tt.number), byte(BLOCKHASH), byte(PUSH1), 0, byte(MSTORE), byte(PUSH1), 32, byte(PUSH1), 0, byte(RETURN)}
		evm, _ := newTestEVM(t, withCode(code))
		ret, _, err := evm.Call(testCaller, testTarget, nil, 100000, nil)
		if err != nil {
			t.Fatalf("Call: %v", err)
		}
		if got := new(uint256.Int).SetBytes(ret).Uint64(); got != tt.want {
			t.Errorf("BLOCKHASH(%d) = %d, want %d", tt.number, got, tt.want)
		}
	}
}

func TestTracerCapturesSteps(t *testing.T) {
	code := []byte{byte(PUSH1), 1, byte(PUSH1), 2, byte(ADD), byte(STOP)}
	evm, _ := newTestEVM(t, withCode(code))
	tracer := NewStructLogTracer()
	evm.Config.Tracer = tracer
	if _, _, err := evm.Call(testCaller, testTarget, nil, 100000, nil); err != nil {
		t.Fatalf("Call: %v", err)
	}
	if len(tracer.Logs) != 4 {
		t.Fatalf("steps = %d, want 4", len(tracer.Logs))
	}
	if tracer.Logs[2].Op != ADD || len(tracer.Logs[2].Stack) != 2 {
		t.Errorf("step 2 = %+v", tracer.Logs[2])
	}
	if tracer.GasUsed() != 9 {
		t.Errorf("traced gas = %d, want 9", tracer.GasUsed())
	}
}

func TestCancelAbortsExecution(t *testing.T) {
	loop := []byte{byte(JUMPDEST), byte(PUSH1), 0, byte(JUMP)}
	evm, _ := newTestEVM(t, withCode(loop))
	evm.Cancel()
	_, _, err := evm.Call(testCaller, testTarget, nil, 1_000_000, nil)
	if !errors.Is(err, ErrExecutionAborted) {
		t.Fatalf("err = %v, want aborted", err)
	}
}

func TestCallDepthLimit(t *testing.T) {
	evm, _ := newTestEVM(t, withCode([]byte{byte(STOP)}))
	evm.depth = MaxCallDepth + 1
	_, left, err := evm.Call(testCaller, testTarget, nil, 1000, nil)
	if !errors.Is(err, ErrDepth) {
		t.Fatalf("err = %v, want depth error", err)
	}
	if left != 1000 {
		t.Errorf("depth failure should return gas, left %d", left)
	}
}

func TestColdAccountAccess(t *testing.T) {
	// BALANCE of a cold address then the same address again.
	code := append(pushAddr(testOther), byte(BALANCE), byte(POP))
	code = append(code, pushAddr(testOther)...)
	code = append(code, byte(BALANCE), byte(POP), byte(STOP))
	evm, _ := newTestEVM(t, withCode(code))
	_, left, err := evm.Call(testCaller, testTarget, nil, 100000, nil)
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	want := 2*GasFastestStep + ColdAccountAccessCost + WarmStorageReadCost + 2*GasQuickStep
	if used := 100000 - left; used != want {
		t.Errorf("gas used = %d, want %d", used, want)
	}
}
