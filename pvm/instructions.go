package pvm

import "fmt"

// Opcode numbers follow the JAM PVM instruction set; only the subset the
// host needs is executed, anything else panics the machine.
const (
	// Instructions without Arguments
	TRAP        = 0
	FALLTHROUGH = 1

	// One Immediate
	ECALLI = 10

	// One Register and One Extended Width Immediate
	LOAD_IMM_64 = 20

	// One Offset
	JUMP = 40

	// One Register & One Immediate
	JUMP_IND  = 50
	LOAD_IMM  = 51
	LOAD_U8   = 52
	LOAD_U32  = 56
	LOAD_U64  = 58
	STORE_U8  = 59
	STORE_U32 = 61
	STORE_U64 = 62

	// One Register, One Immediate and One Offset
	LOAD_IMM_JUMP   = 80
	BRANCH_EQ_IMM   = 81
	BRANCH_NE_IMM   = 82
	BRANCH_LT_U_IMM = 83
	BRANCH_GE_U_IMM = 85

	// Two Registers
	MOVE_REG = 100

	// Two Registers & One Immediate
	STORE_IND_U8  = 120
	STORE_IND_U32 = 122
	STORE_IND_U64 = 123
	LOAD_IND_U8   = 124
	LOAD_IND_U32  = 128
	LOAD_IND_U64  = 130
	AND_IMM       = 132
	XOR_IMM       = 133
	OR_IMM        = 134
	SET_LT_U_IMM  = 136
	ADD_IMM_64    = 149
	MUL_IMM_64    = 150
	SHLO_L_IMM_64 = 151
	SHLO_R_IMM_64 = 152

	// Two Registers & One Offset
	BRANCH_EQ   = 170
	BRANCH_NE   = 171
	BRANCH_LT_U = 172
	BRANCH_GE_U = 174

	// Three Registers
	ADD_64    = 200
	SUB_64    = 201
	MUL_64    = 202
	DIV_U_64  = 203
	REM_U_64  = 205
	SHLO_L_64 = 207
	SHLO_R_64 = 208
	AND       = 210
	XOR       = 211
	OR        = 212
	SET_LT_U  = 216
	CMOV_IZ   = 218
	CMOV_NZ   = 219
)

type operandClass uint8

const (
	argsNone operandClass = iota
	argsOneImm
	argsRegExtImm
	argsOffset
	argsRegImm
	argsRegImmOffset
	argsTwoRegs
	argsTwoRegsImm
	argsTwoRegsOffset
	argsThreeRegs
	argsInvalid
)

// operand byte lengths per class
var operandLen = [argsInvalid]uint32{
	argsNone:          0,
	argsOneImm:        4,
	argsRegExtImm:     9,
	argsOffset:        4,
	argsRegImm:        5,
	argsRegImmOffset:  9,
	argsTwoRegs:       1,
	argsTwoRegsImm:    5,
	argsTwoRegsOffset: 5,
	argsThreeRegs:     2,
}

type instrDef struct {
	name  string
	class operandClass
}

var instrTable = map[byte]instrDef{
	TRAP:            {"TRAP", argsNone},
	FALLTHROUGH:     {"FALLTHROUGH", argsNone},
	ECALLI:          {"ECALLI", argsOneImm},
	LOAD_IMM_64:     {"LOAD_IMM_64", argsRegExtImm},
	JUMP:            {"JUMP", argsOffset},
	JUMP_IND:        {"JUMP_IND", argsRegImm},
	LOAD_IMM:        {"LOAD_IMM", argsRegImm},
	LOAD_U8:         {"LOAD_U8", argsRegImm},
	LOAD_U32:        {"LOAD_U32", argsRegImm},
	LOAD_U64:        {"LOAD_U64", argsRegImm},
	STORE_U8:        {"STORE_U8", argsRegImm},
	STORE_U32:       {"STORE_U32", argsRegImm},
	STORE_U64:       {"STORE_U64", argsRegImm},
	LOAD_IMM_JUMP:   {"LOAD_IMM_JUMP", argsRegImmOffset},
	BRANCH_EQ_IMM:   {"BRANCH_EQ_IMM", argsRegImmOffset},
	BRANCH_NE_IMM:   {"BRANCH_NE_IMM", argsRegImmOffset},
	BRANCH_LT_U_IMM: {"BRANCH_LT_U_IMM", argsRegImmOffset},
	BRANCH_GE_U_IMM: {"BRANCH_GE_U_IMM", argsRegImmOffset},
	MOVE_REG:        {"MOVE_REG", argsTwoRegs},
	STORE_IND_U8:    {"STORE_IND_U8", argsTwoRegsImm},
	STORE_IND_U32:   {"STORE_IND_U32", argsTwoRegsImm},
	STORE_IND_U64:   {"STORE_IND_U64", argsTwoRegsImm},
	LOAD_IND_U8:     {"LOAD_IND_U8", argsTwoRegsImm},
	LOAD_IND_U32:    {"LOAD_IND_U32", argsTwoRegsImm},
	LOAD_IND_U64:    {"LOAD_IND_U64", argsTwoRegsImm},
	AND_IMM:         {"AND_IMM", argsTwoRegsImm},
	XOR_IMM:         {"XOR_IMM", argsTwoRegsImm},
	OR_IMM:          {"OR_IMM", argsTwoRegsImm},
	SET_LT_U_IMM:    {"SET_LT_U_IMM", argsTwoRegsImm},
	ADD_IMM_64:      {"ADD_IMM_64", argsTwoRegsImm},
	MUL_IMM_64:      {"MUL_IMM_64", argsTwoRegsImm},
	SHLO_L_IMM_64:   {"SHLO_L_IMM_64", argsTwoRegsImm},
	SHLO_R_IMM_64:   {"SHLO_R_IMM_64", argsTwoRegsImm},
	BRANCH_EQ:       {"BRANCH_EQ", argsTwoRegsOffset},
	BRANCH_NE:       {"BRANCH_NE", argsTwoRegsOffset},
	BRANCH_LT_U:     {"BRANCH_LT_U", argsTwoRegsOffset},
	BRANCH_GE_U:     {"BRANCH_GE_U", argsTwoRegsOffset},
	ADD_64:          {"ADD_64", argsThreeRegs},
	SUB_64:          {"SUB_64", argsThreeRegs},
	MUL_64:          {"MUL_64", argsThreeRegs},
	DIV_U_64:        {"DIV_U_64", argsThreeRegs},
	REM_U_64:        {"REM_U_64", argsThreeRegs},
	SHLO_L_64:       {"SHLO_L_64", argsThreeRegs},
	SHLO_R_64:       {"SHLO_R_64", argsThreeRegs},
	AND:             {"AND", argsThreeRegs},
	XOR:             {"XOR", argsThreeRegs},
	OR:              {"OR", argsThreeRegs},
	SET_LT_U:        {"SET_LT_U", argsThreeRegs},
	CMOV_IZ:         {"CMOV_IZ", argsThreeRegs},
	CMOV_NZ:         {"CMOV_NZ", argsThreeRegs},
}

func opcodeStr(op byte) string {
	if d, ok := instrTable[op]; ok {
		return d.name
	}
	return fmt.Sprintf("OPCODE_%d", op)
}

// IsBasicBlockInstruction reports whether op ends a basic block.
func IsBasicBlockInstruction(op byte) bool {
	switch op {
	case TRAP, FALLTHROUGH, ECALLI, JUMP, JUMP_IND, LOAD_IMM_JUMP,
		BRANCH_EQ_IMM, BRANCH_NE_IMM, BRANCH_LT_U_IMM, BRANCH_GE_U_IMM,
		BRANCH_EQ, BRANCH_NE, BRANCH_LT_U, BRANCH_GE_U:
		return true
	}
	return false
}

const numRegisters = 13

// Register indices. a0..a5 carry call arguments and a0 the result.
const (
	RA = iota
	SP
	T0
	T1
	T2
	S0
	S1
	A0
	A1
	A2
	A3
	A4
	A5
)

func reg(index int) string {
	names := [numRegisters]string{"ra", "sp", "t0", "t1", "t2", "s0", "s1", "a0", "a1", "a2", "a3", "a4", "a5"}
	if index >= 0 && index < numRegisters {
		return names[index]
	}
	return fmt.Sprintf("R%d", index)
}

// z_encode sign-extends the low n bytes of a.
func z_encode(a uint64, n uint32) int64 {
	if n == 0 || n > 8 {
		return 0
	}
	shift := 64 - 8*n
	return int64(a<<shift) >> shift
}
