package vm

// operation is the interpreter's metadata for one opcode.
type operation struct {
	execute     executionFunc
	constantGas uint64
	dynamicGas  dynamicGasFunc
	minStack    int // items the operation pops
	maxStack    int // stack size above which the operation would overflow
	memorySize  memorySizeFunc
	jumps       bool // the operation sets pc itself
	writes      bool // the operation modifies state; forbidden under STATICCALL
	undefined   bool
}

// JumpTable maps every opcode byte to its operation.
type JumpTable [256]*operation

func minStack(pops, push int) int { return pops }

func maxStack(pop, push int) int { return stackLimit + pop - push }

func minDupStack(n int) int { return n }
func maxDupStack(n int) int { return maxStack(n, n+1) }

func minSwapStack(n int) int { return minStack(n, n) }
func maxSwapStack(n int) int { return maxStack(n, n) }

// NewCancunJumpTable returns the instruction set active on Cancun.
func NewCancunJumpTable() *JumpTable {
	tbl := JumpTable{
		STOP:       {execute: opStop, minStack: minStack(0, 0), maxStack: maxStack(0, 0)},
		ADD:        {execute: opAdd, constantGas: GasFastestStep, minStack: minStack(2, 1), maxStack: maxStack(2, 1)},
		MUL:        {execute: opMul, constantGas: GasFastStep, minStack: minStack(2, 1), maxStack: maxStack(2, 1)},
		SUB:        {execute: opSub, constantGas: GasFastestStep, minStack: minStack(2, 1), maxStack: maxStack(2, 1)},
		DIV:        {execute: opDiv, constantGas: GasFastStep, minStack: minStack(2, 1), maxStack: maxStack(2, 1)},
		SDIV:       {execute: opSdiv, constantGas: GasFastStep, minStack: minStack(2, 1), maxStack: maxStack(2, 1)},
		MOD:        {execute: opMod, constantGas: GasFastStep, minStack: minStack(2, 1), maxStack: maxStack(2, 1)},
		SMOD:       {execute: opSmod, constantGas: GasFastStep, minStack: minStack(2, 1), maxStack: maxStack(2, 1)},
		ADDMOD:     {execute: opAddmod, constantGas: GasMidStep, minStack: minStack(3, 1), maxStack: maxStack(3, 1)},
		MULMOD:     {execute: opMulmod, constantGas: GasMidStep, minStack: minStack(3, 1), maxStack: maxStack(3, 1)},
		EXP:        {execute: opExp, constantGas: GasSlowStep, dynamicGas: gasExp, minStack: minStack(2, 1), maxStack: maxStack(2, 1)},
		SIGNEXTEND: {execute: opSignExtend, constantGas: GasFastStep, minStack: minStack(2, 1), maxStack: maxStack(2, 1)},

		LT:     {execute: opLt, constantGas: GasFastestStep, minStack: minStack(2, 1), maxStack: maxStack(2, 1)},
		GT:     {execute: opGt, constantGas: GasFastestStep, minStack: minStack(2, 1), maxStack: maxStack(2, 1)},
		SLT:    {execute: opSlt, constantGas: GasFastestStep, minStack: minStack(2, 1), maxStack: maxStack(2, 1)},
		SGT:    {execute: opSgt, constantGas: GasFastestStep, minStack: minStack(2, 1), maxStack: maxStack(2, 1)},
		EQ:     {execute: opEq, constantGas: GasFastestStep, minStack: minStack(2, 1), maxStack: maxStack(2, 1)},
		ISZERO: {execute: opIszero, constantGas: GasFastestStep, minStack: minStack(1, 1), maxStack: maxStack(1, 1)},
		AND:    {execute: opAnd, constantGas: GasFastestStep, minStack: minStack(2, 1), maxStack: maxStack(2, 1)},
		OR:     {execute: opOr, constantGas: GasFastestStep, minStack: minStack(2, 1), maxStack: maxStack(2, 1)},
		XOR:    {execute: opXor, constantGas: GasFastestStep, minStack: minStack(2, 1), maxStack: maxStack(2, 1)},
		NOT:    {execute: opNot, constantGas: GasFastestStep, minStack: minStack(1, 1), maxStack: maxStack(1, 1)},
		BYTE:   {execute: opByte, constantGas: GasFastestStep, minStack: minStack(2, 1), maxStack: maxStack(2, 1)},
		SHL:    {execute: opSHL, constantGas: GasFastestStep, minStack: minStack(2, 1), maxStack: maxStack(2, 1)},
		SHR:    {execute: opSHR, constantGas: GasFastestStep, minStack: minStack(2, 1), maxStack: maxStack(2, 1)},
		SAR:    {execute: opSAR, constantGas: GasFastestStep, minStack: minStack(2, 1), maxStack: maxStack(2, 1)},

		KECCAK256: {execute: opKeccak256, constantGas: Keccak256Gas, dynamicGas: gasKeccak256, minStack: minStack(2, 1), maxStack: maxStack(2, 1), memorySize: memoryKeccak256},

		ADDRESS:        {execute: opAddress, constantGas: GasQuickStep, minStack: minStack(0, 1), maxStack: maxStack(0, 1)},
		BALANCE:        {execute: opBalance, constantGas: WarmStorageReadCost, dynamicGas: gasBalanceEIP2929, minStack: minStack(1, 1), maxStack: maxStack(1, 1)},
		ORIGIN:         {execute: opOrigin, constantGas: GasQuickStep, minStack: minStack(0, 1), maxStack: maxStack(0, 1)},
		CALLER:         {execute: opCaller, constantGas: GasQuickStep, minStack: minStack(0, 1), maxStack: maxStack(0, 1)},
		CALLVALUE:      {execute: opCallValue, constantGas: GasQuickStep, minStack: minStack(0, 1), maxStack: maxStack(0, 1)},
		CALLDATALOAD:   {execute: opCallDataLoad, constantGas: GasFastestStep, minStack: minStack(1, 1), maxStack: maxStack(1, 1)},
		CALLDATASIZE:   {execute: opCallDataSize, constantGas: GasQuickStep, minStack: minStack(0, 1), maxStack: maxStack(0, 1)},
		CALLDATACOPY:   {execute: opCallDataCopy, constantGas: GasFastestStep, dynamicGas: gasCallDataCopy, minStack: minStack(3, 0), maxStack: maxStack(3, 0), memorySize: memoryCallDataCopy},
		CODESIZE:       {execute: opCodeSize, constantGas: GasQuickStep, minStack: minStack(0, 1), maxStack: maxStack(0, 1)},
		CODECOPY:       {execute: opCodeCopy, constantGas: GasFastestStep, dynamicGas: gasCodeCopy, minStack: minStack(3, 0), maxStack: maxStack(3, 0), memorySize: memoryCodeCopy},
		GASPRICE:       {execute: opGasprice, constantGas: GasQuickStep, minStack: minStack(0, 1), maxStack: maxStack(0, 1)},
		EXTCODESIZE:    {execute: opExtCodeSize, constantGas: WarmStorageReadCost, dynamicGas: gasExtCodeSizeEIP2929, minStack: minStack(1, 1), maxStack: maxStack(1, 1)},
		EXTCODECOPY:    {execute: opExtCodeCopy, constantGas: WarmStorageReadCost, dynamicGas: gasExtCodeCopyEIP2929, minStack: minStack(4, 0), maxStack: maxStack(4, 0), memorySize: memoryExtCodeCopy},
		RETURNDATASIZE: {execute: opReturnDataSize, constantGas: GasQuickStep, minStack: minStack(0, 1), maxStack: maxStack(0, 1)},
		RETURNDATACOPY: {execute: opReturnDataCopy, constantGas: GasFastestStep, dynamicGas: gasReturnDataCopy, minStack: minStack(3, 0), maxStack: maxStack(3, 0), memorySize: memoryReturnDataCopy},
		EXTCODEHASH:    {execute: opExtCodeHash, constantGas: WarmStorageReadCost, dynamicGas: gasExtCodeHashEIP2929, minStack: minStack(1, 1), maxStack: maxStack(1, 1)},

		BLOCKHASH:   {execute: opBlockhash, constantGas: GasExtStep, minStack: minStack(1, 1), maxStack: maxStack(1, 1)},
		COINBASE:    {execute: opCoinbase, constantGas: GasQuickStep, minStack: minStack(0, 1), maxStack: maxStack(0, 1)},
		TIMESTAMP:   {execute: opTimestamp, constantGas: GasQuickStep, minStack: minStack(0, 1), maxStack: maxStack(0, 1)},
		NUMBER:      {execute: opNumber, constantGas: GasQuickStep, minStack: minStack(0, 1), maxStack: maxStack(0, 1)},
		PREVRANDAO:  {execute: opRandom, constantGas: GasQuickStep, minStack: minStack(0, 1), maxStack: maxStack(0, 1)},
		GASLIMIT:    {execute: opGasLimit, constantGas: GasQuickStep, minStack: minStack(0, 1), maxStack: maxStack(0, 1)},
		CHAINID:     {execute: opChainID, constantGas: GasQuickStep, minStack: minStack(0, 1), maxStack: maxStack(0, 1)},
		SELFBALANCE: {execute: opSelfBalance, constantGas: GasFastStep, minStack: minStack(0, 1), maxStack: maxStack(0, 1)},
		BASEFEE:     {execute: opBaseFee, constantGas: GasQuickStep, minStack: minStack(0, 1), maxStack: maxStack(0, 1)},
		BLOBHASH:    {execute: opBlobHash, constantGas: GasFastestStep, minStack: minStack(1, 1), maxStack: maxStack(1, 1)},
		BLOBBASEFEE: {execute: opBlobBaseFee, constantGas: GasQuickStep, minStack: minStack(0, 1), maxStack: maxStack(0, 1)},

		POP:      {execute: opPop, constantGas: GasQuickStep, minStack: minStack(1, 0), maxStack: maxStack(1, 0)},
		MLOAD:    {execute: opMload, constantGas: GasFastestStep, dynamicGas: gasMLoad, minStack: minStack(1, 1), maxStack: maxStack(1, 1), memorySize: memoryMLoad},
		MSTORE:   {execute: opMstore, constantGas: GasFastestStep, dynamicGas: gasMStore, minStack: minStack(2, 0), maxStack: maxStack(2, 0), memorySize: memoryMStore},
		MSTORE8:  {execute: opMstore8, constantGas: GasFastestStep, dynamicGas: gasMStore8, minStack: minStack(2, 0), maxStack: maxStack(2, 0), memorySize: memoryMStore8},
		SLOAD:    {execute: opSload, constantGas: WarmStorageReadCost, dynamicGas: gasSLoadEIP2929, minStack: minStack(1, 1), maxStack: maxStack(1, 1)},
		SSTORE:   {execute: opSstore, dynamicGas: gasSStoreEIP2929, minStack: minStack(2, 0), maxStack: maxStack(2, 0), writes: true},
		JUMP:     {execute: opJump, constantGas: GasMidStep, minStack: minStack(1, 0), maxStack: maxStack(1, 0), jumps: true},
		JUMPI:    {execute: opJumpi, constantGas: GasSlowStep, minStack: minStack(2, 0), maxStack: maxStack(2, 0), jumps: true},
		PC:       {execute: opPc, constantGas: GasQuickStep, minStack: minStack(0, 1), maxStack: maxStack(0, 1)},
		MSIZE:    {execute: opMsize, constantGas: GasQuickStep, minStack: minStack(0, 1), maxStack: maxStack(0, 1)},
		GAS:      {execute: opGas, constantGas: GasQuickStep, minStack: minStack(0, 1), maxStack: maxStack(0, 1)},
		JUMPDEST: {execute: opJumpdest, constantGas: JumpdestGas, minStack: minStack(0, 0), maxStack: maxStack(0, 0)},
		TLOAD:    {execute: opTload, constantGas: TloadGas, minStack: minStack(1, 1), maxStack: maxStack(1, 1)},
		TSTORE:   {execute: opTstore, constantGas: TstoreGas, minStack: minStack(2, 0), maxStack: maxStack(2, 0), writes: true},
		MCOPY:    {execute: opMcopy, constantGas: GasFastestStep, dynamicGas: gasMcopy, minStack: minStack(3, 0), maxStack: maxStack(3, 0), memorySize: memoryMcopy},
		PUSH0:    {execute: opPush0, constantGas: GasQuickStep, minStack: minStack(0, 1), maxStack: maxStack(0, 1)},

		CREATE:       {execute: opCreate, constantGas: CreateGas, dynamicGas: gasCreateEip3860, minStack: minStack(3, 1), maxStack: maxStack(3, 1), memorySize: memoryCreate, writes: true},
		CALL:         {execute: opCall, constantGas: WarmStorageReadCost, dynamicGas: gasCallEIP2929, minStack: minStack(7, 1), maxStack: maxStack(7, 1), memorySize: memoryCall},
		CALLCODE:     {execute: opCallCode, constantGas: WarmStorageReadCost, dynamicGas: gasCallCodeEIP2929, minStack: minStack(7, 1), maxStack: maxStack(7, 1), memorySize: memoryCall},
		RETURN:       {execute: opReturn, dynamicGas: gasReturn, minStack: minStack(2, 0), maxStack: maxStack(2, 0), memorySize: memoryReturn},
		DELEGATECALL: {execute: opDelegateCall, constantGas: WarmStorageReadCost, dynamicGas: gasDelegateCallEIP2929, minStack: minStack(6, 1), maxStack: maxStack(6, 1), memorySize: memoryDelegateCall},
		CREATE2:      {execute: opCreate2, constantGas: CreateGas, dynamicGas: gasCreate2Eip3860, minStack: minStack(4, 1), maxStack: maxStack(4, 1), memorySize: memoryCreate2, writes: true},
		STATICCALL:   {execute: opStaticCall, constantGas: WarmStorageReadCost, dynamicGas: gasStaticCallEIP2929, minStack: minStack(6, 1), maxStack: maxStack(6, 1), memorySize: memoryStaticCall},
		REVERT:       {execute: opRevert, dynamicGas: gasRevert, minStack: minStack(2, 0), maxStack: maxStack(2, 0), memorySize: memoryRevert},
		SELFDESTRUCT: {execute: opSelfdestruct6780, constantGas: SelfdestructGas, dynamicGas: gasSelfdestructEIP3529, minStack: minStack(1, 0), maxStack: maxStack(1, 0), writes: true},
	}

	for i := 0; i < 32; i++ {
		tbl[PUSH1+OpCode(i)] = &operation{
			execute:     makePush(uint64(i + 1)),
			constantGas: GasFastestStep,
			minStack:    minStack(0, 1),
			maxStack:    maxStack(0, 1),
		}
	}
	for i := 1; i <= 16; i++ {
		tbl[DUP1+OpCode(i-1)] = &operation{
			execute:     makeDup(i),
			constantGas: GasFastestStep,
			minStack:    minDupStack(i),
			maxStack:    maxDupStack(i),
		}
		tbl[SWAP1+OpCode(i-1)] = &operation{
			execute:     makeSwap(i),
			constantGas: GasFastestStep,
			minStack:    minSwapStack(i + 1),
			maxStack:    maxSwapStack(i + 1),
		}
	}
	for i := 0; i <= 4; i++ {
		tbl[LOG0+OpCode(i)] = &operation{
			execute:    makeLog(i),
			dynamicGas: makeGasLog(uint64(i)),
			minStack:   minStack(i+2, 0),
			maxStack:   maxStack(i+2, 0),
			memorySize: memoryLog,
			writes:     true,
		}
	}

	// Fill the gaps so the interpreter never meets a nil entry.
	for i, entry := range tbl {
		if entry == nil {
			tbl[i] = &operation{execute: opUndefined, maxStack: maxStack(0, 0), undefined: true}
		}
	}
	return &tbl
}
