package pvm

import (
	"fmt"
)

// Label is a code position resolved when the program is built.
type Label int

type fixup struct {
	at    int // operand offset of the 4-byte relative target
	pc    int // pc of the instruction the offset is relative to
	label Label
}

// Assembler builds programs instruction by instruction. Errors are
// collected and reported by Build.
type Assembler struct {
	code    []byte
	bitmask []byte
	labels  []int
	fixups  []fixup
	imports []Import
	exports []Export
	ro      []byte
	rwSize  uint32
	err     error
}

func NewAssembler() *Assembler { return &Assembler{} }

func (a *Assembler) fail(format string, args ...any) {
	if a.err == nil {
		a.err = fmt.Errorf(format, args...)
	}
}

// PC is the position of the next instruction.
func (a *Assembler) PC() int { return len(a.code) }

// Import declares a host function and returns its ECALLI index.
func (a *Assembler) Import(module, name string, version uint32) uint32 {
	for i, imp := range a.imports {
		if imp.Module == module && imp.Name == name && imp.Version == version {
			return uint32(i)
		}
	}
	a.imports = append(a.imports, Import{Module: module, Name: name, Version: version})
	return uint32(len(a.imports) - 1)
}

// Export names the next instruction as an entry point.
func (a *Assembler) Export(name string) {
	for _, e := range a.exports {
		if e.Name == name {
			a.fail("duplicate export %q", name)
			return
		}
	}
	a.exports = append(a.exports, Export{Name: name, PC: uint32(len(a.code))})
}

// ROData appends bytes to the read-only region and returns their address.
func (a *Assembler) ROData(b []byte) uint32 {
	addr := uint32(ROBase + len(a.ro))
	a.ro = append(a.ro, b...)
	return addr
}

// RW reserves n zeroed bytes in the writable region and returns their address.
func (a *Assembler) RW(n uint32) uint32 {
	addr := RWBase + a.rwSize
	a.rwSize += n
	return addr
}

func (a *Assembler) NewLabel() Label {
	a.labels = append(a.labels, -1)
	return Label(len(a.labels) - 1)
}

func (a *Assembler) Bind(l Label) {
	if a.labels[l] >= 0 {
		a.fail("label %d bound twice", l)
		return
	}
	a.labels[l] = len(a.code)
}

func (a *Assembler) emit(op byte, operands ...byte) int {
	pc := len(a.code)
	a.code = append(a.code, op)
	a.bitmask = append(a.bitmask, 1)
	a.code = append(a.code, operands...)
	for range operands {
		a.bitmask = append(a.bitmask, 0)
	}
	return pc
}

func regs(ra, rb int) byte {
	return byte(ra&15) | byte(rb&15)<<4
}

func imm(x int64) []byte { return EL(uint64(x), 4) }

func (a *Assembler) target(pc int, at int, l Label) {
	a.fixups = append(a.fixups, fixup{at: at, pc: pc, label: l})
}

func (a *Assembler) Trap()        { a.emit(TRAP) }
func (a *Assembler) Fallthrough() { a.emit(FALLTHROUGH) }

// Ecalli calls the import with the given index; args in a0.., result in a0.
func (a *Assembler) Ecalli(index uint32) { a.emit(ECALLI, EL(uint64(index), 4)...) }

func (a *Assembler) LoadImm64(ra int, v uint64) {
	a.emit(LOAD_IMM_64, append([]byte{regs(ra, 0)}, EL(v, 8)...)...)
}

// LoadImm loads a sign-extended 32-bit immediate.
func (a *Assembler) LoadImm(ra int, v int32) {
	a.emit(LOAD_IMM, append([]byte{regs(ra, 0)}, imm(int64(v))...)...)
}

func (a *Assembler) Jump(l Label) {
	pc := a.emit(JUMP, imm(0)...)
	a.target(pc, pc+1, l)
}

func (a *Assembler) JumpInd(ra int, off int32) {
	a.emit(JUMP_IND, append([]byte{regs(ra, 0)}, imm(int64(off))...)...)
}

// Halt returns from the current call.
func (a *Assembler) Halt() { a.JumpInd(RA, 0) }

func (a *Assembler) regImm(op byte, ra int, v int32) {
	a.emit(op, append([]byte{regs(ra, 0)}, imm(int64(v))...)...)
}

func (a *Assembler) LoadU8(ra int, addr uint32)   { a.regImm(LOAD_U8, ra, int32(addr)) }
func (a *Assembler) LoadU32(ra int, addr uint32)  { a.regImm(LOAD_U32, ra, int32(addr)) }
func (a *Assembler) LoadU64(ra int, addr uint32)  { a.regImm(LOAD_U64, ra, int32(addr)) }
func (a *Assembler) StoreU8(ra int, addr uint32)  { a.regImm(STORE_U8, ra, int32(addr)) }
func (a *Assembler) StoreU32(ra int, addr uint32) { a.regImm(STORE_U32, ra, int32(addr)) }
func (a *Assembler) StoreU64(ra int, addr uint32) { a.regImm(STORE_U64, ra, int32(addr)) }

func (a *Assembler) regImmOffset(op byte, ra int, v int32, l Label) {
	operands := append([]byte{regs(ra, 0)}, imm(int64(v))...)
	pc := a.emit(op, append(operands, imm(0)...)...)
	a.target(pc, pc+6, l)
}

func (a *Assembler) LoadImmJump(ra int, v int32, l Label)  { a.regImmOffset(LOAD_IMM_JUMP, ra, v, l) }
func (a *Assembler) BranchEqImm(ra int, v int32, l Label)  { a.regImmOffset(BRANCH_EQ_IMM, ra, v, l) }
func (a *Assembler) BranchNeImm(ra int, v int32, l Label)  { a.regImmOffset(BRANCH_NE_IMM, ra, v, l) }
func (a *Assembler) BranchLtUImm(ra int, v int32, l Label) { a.regImmOffset(BRANCH_LT_U_IMM, ra, v, l) }
func (a *Assembler) BranchGeUImm(ra int, v int32, l Label) { a.regImmOffset(BRANCH_GE_U_IMM, ra, v, l) }

// MoveReg copies rb into ra.
func (a *Assembler) MoveReg(ra, rb int) { a.emit(MOVE_REG, regs(ra, rb)) }

func (a *Assembler) twoRegsImm(op byte, ra, rb int, v int32) {
	a.emit(op, append([]byte{regs(ra, rb)}, imm(int64(v))...)...)
}

func (a *Assembler) StoreIndU8(ra, rb int, off int32)  { a.twoRegsImm(STORE_IND_U8, ra, rb, off) }
func (a *Assembler) StoreIndU32(ra, rb int, off int32) { a.twoRegsImm(STORE_IND_U32, ra, rb, off) }
func (a *Assembler) StoreIndU64(ra, rb int, off int32) { a.twoRegsImm(STORE_IND_U64, ra, rb, off) }
func (a *Assembler) LoadIndU8(ra, rb int, off int32)   { a.twoRegsImm(LOAD_IND_U8, ra, rb, off) }
func (a *Assembler) LoadIndU32(ra, rb int, off int32)  { a.twoRegsImm(LOAD_IND_U32, ra, rb, off) }
func (a *Assembler) LoadIndU64(ra, rb int, off int32)  { a.twoRegsImm(LOAD_IND_U64, ra, rb, off) }
func (a *Assembler) AndImm(ra, rb int, v int32)        { a.twoRegsImm(AND_IMM, ra, rb, v) }
func (a *Assembler) XorImm(ra, rb int, v int32)        { a.twoRegsImm(XOR_IMM, ra, rb, v) }
func (a *Assembler) OrImm(ra, rb int, v int32)         { a.twoRegsImm(OR_IMM, ra, rb, v) }
func (a *Assembler) SetLtUImm(ra, rb int, v int32)     { a.twoRegsImm(SET_LT_U_IMM, ra, rb, v) }
func (a *Assembler) AddImm64(ra, rb int, v int32)      { a.twoRegsImm(ADD_IMM_64, ra, rb, v) }
func (a *Assembler) MulImm64(ra, rb int, v int32)      { a.twoRegsImm(MUL_IMM_64, ra, rb, v) }
func (a *Assembler) ShloLImm64(ra, rb int, v int32)    { a.twoRegsImm(SHLO_L_IMM_64, ra, rb, v) }
func (a *Assembler) ShloRImm64(ra, rb int, v int32)    { a.twoRegsImm(SHLO_R_IMM_64, ra, rb, v) }

func (a *Assembler) twoRegsOffset(op byte, ra, rb int, l Label) {
	pc := a.emit(op, append([]byte{regs(ra, rb)}, imm(0)...)...)
	a.target(pc, pc+2, l)
}

func (a *Assembler) BranchEq(ra, rb int, l Label)  { a.twoRegsOffset(BRANCH_EQ, ra, rb, l) }
func (a *Assembler) BranchNe(ra, rb int, l Label)  { a.twoRegsOffset(BRANCH_NE, ra, rb, l) }
func (a *Assembler) BranchLtU(ra, rb int, l Label) { a.twoRegsOffset(BRANCH_LT_U, ra, rb, l) }
func (a *Assembler) BranchGeU(ra, rb int, l Label) { a.twoRegsOffset(BRANCH_GE_U, ra, rb, l) }

// threeRegs computes rd = ra op rb.
func (a *Assembler) threeRegs(op byte, rd, ra, rb int) { a.emit(op, regs(ra, rb), byte(rd)) }

func (a *Assembler) Add64(rd, ra, rb int)   { a.threeRegs(ADD_64, rd, ra, rb) }
func (a *Assembler) Sub64(rd, ra, rb int)   { a.threeRegs(SUB_64, rd, ra, rb) }
func (a *Assembler) Mul64(rd, ra, rb int)   { a.threeRegs(MUL_64, rd, ra, rb) }
func (a *Assembler) DivU64(rd, ra, rb int)  { a.threeRegs(DIV_U_64, rd, ra, rb) }
func (a *Assembler) RemU64(rd, ra, rb int)  { a.threeRegs(REM_U_64, rd, ra, rb) }
func (a *Assembler) ShloL64(rd, ra, rb int) { a.threeRegs(SHLO_L_64, rd, ra, rb) }
func (a *Assembler) ShloR64(rd, ra, rb int) { a.threeRegs(SHLO_R_64, rd, ra, rb) }
func (a *Assembler) And(rd, ra, rb int)     { a.threeRegs(AND, rd, ra, rb) }
func (a *Assembler) Xor(rd, ra, rb int)     { a.threeRegs(XOR, rd, ra, rb) }
func (a *Assembler) Or(rd, ra, rb int)      { a.threeRegs(OR, rd, ra, rb) }
func (a *Assembler) SetLtU(rd, ra, rb int)  { a.threeRegs(SET_LT_U, rd, ra, rb) }
func (a *Assembler) CmovIz(rd, ra, rb int)  { a.threeRegs(CMOV_IZ, rd, ra, rb) }
func (a *Assembler) CmovNz(rd, ra, rb int)  { a.threeRegs(CMOV_NZ, rd, ra, rb) }

// Raw emits an arbitrary byte as an instruction start, for tests of
// illegal code.
func (a *Assembler) Raw(op byte, operands ...byte) { a.emit(op, operands...) }

// Build resolves labels and returns the program.
func (a *Assembler) Build() (*Program, error) {
	if a.err != nil {
		return nil, a.err
	}
	code := append([]byte(nil), a.code...)
	for _, f := range a.fixups {
		dst := a.labels[f.label]
		if dst < 0 {
			return nil, fmt.Errorf("label %d never bound", f.label)
		}
		copy(code[f.at:f.at+4], imm(int64(dst-f.pc)))
	}
	return &Program{
		Imports: append([]Import(nil), a.imports...),
		Exports: append([]Export(nil), a.exports...),
		ROData:  append([]byte(nil), a.ro...),
		RWSize:  a.rwSize,
		Code:    code,
		Bitmask: append([]byte(nil), a.bitmask...),
	}, nil
}

// Assemble builds and encodes in one step.
func (a *Assembler) Assemble() ([]byte, error) {
	p, err := a.Build()
	if err != nil {
		return nil, err
	}
	return p.Encode(), nil
}
