package pvm

import (
	"bytes"
	"fmt"
	"strings"
)

var programMagic = []byte("PVMC")

const programVersion = 1

// Size caps keep decoding of hostile blobs bounded.
const (
	maxCodeSize   = 1 << 24
	maxROSize     = 1 << 20
	maxRWSize     = 1 << 20
	maxImports    = 1 << 12
	maxExports    = 1 << 12
	maxNameLength = 64
)

// Memory layout of an instance.
const (
	ROBase = 0x10000
	RWBase = 0x20000
	// HaltAddress in ra makes a final JUMP_IND halt the machine.
	HaltAddress = uint64(1<<32 - 1<<16)
)

type Import struct {
	Module  string
	Name    string
	Version uint32
}

func (i Import) String() string {
	return fmt.Sprintf("%s.%s@%d", i.Module, i.Name, i.Version)
}

type Export struct {
	Name string
	PC   uint32
}

// Program is a decoded contract blob.
type Program struct {
	Imports []Import
	Exports []Export
	ROData  []byte
	RWSize  uint32
	Code    []byte
	// Bitmask has one entry per code byte, 1 where an instruction starts.
	Bitmask []byte
}

func (p *Program) Export(name string) (uint32, bool) {
	for _, e := range p.Exports {
		if e.Name == name {
			return e.PC, true
		}
	}
	return 0, false
}

func (p *Program) isInstructionStart(pc uint64) bool {
	return pc < uint64(len(p.Code)) && p.Bitmask[pc] == 1
}

// skip returns the operand length of the instruction at pc.
func (p *Program) skip(pc uint64) uint32 {
	if d, ok := instrTable[p.Code[pc]]; ok {
		return operandLen[d.class]
	}
	n := uint64(len(p.Code))
	for i := pc + 1; i < n; i++ {
		if p.Bitmask[i] == 1 {
			return uint32(i - pc - 1)
		}
	}
	return uint32(n - pc - 1)
}

func encodeString(buf *bytes.Buffer, s string) {
	buf.Write(E(uint64(len(s))))
	buf.WriteString(s)
}

// Encode serializes the program.
func (p *Program) Encode() []byte {
	var buf bytes.Buffer
	buf.Write(programMagic)
	buf.WriteByte(programVersion)
	buf.Write(E(uint64(len(p.Imports))))
	for _, imp := range p.Imports {
		encodeString(&buf, imp.Module)
		encodeString(&buf, imp.Name)
		buf.Write(E(uint64(imp.Version)))
	}
	buf.Write(E(uint64(len(p.Exports))))
	for _, e := range p.Exports {
		encodeString(&buf, e.Name)
		buf.Write(E(uint64(e.PC)))
	}
	buf.Write(E(uint64(len(p.ROData))))
	buf.Write(p.ROData)
	buf.Write(E(uint64(p.RWSize)))
	buf.Write(E(uint64(len(p.Code))))
	buf.Write(p.Code)
	buf.Write(compressBits(p.Bitmask))
	return buf.Bytes()
}

// compressBits packs a 0/1 bitmask LSB first.
func compressBits(bitmask []byte) []byte {
	compressed := make([]byte, (len(bitmask)+7)/8)
	for i, bit := range bitmask {
		if bit != 0 {
			compressed[i/8] |= 1 << (i % 8)
		}
	}
	return compressed
}

func expandBits(packed []byte, n int) []byte {
	out := make([]byte, n)
	for i := range out {
		out[i] = (packed[i/8] >> (i % 8)) & 1
	}
	return out
}

type decoder struct {
	b   []byte
	off int
}

func (d *decoder) nat(what string, limit uint64) (uint64, error) {
	x, n, err := DecodeE(d.b[d.off:])
	if err != nil {
		return 0, fmt.Errorf("%s: %w", what, err)
	}
	if x > limit {
		return 0, fmt.Errorf("%s %d exceeds %d", what, x, limit)
	}
	d.off += int(n)
	return x, nil
}

func (d *decoder) bytes(what string, n uint64) ([]byte, error) {
	if uint64(len(d.b)-d.off) < n {
		return nil, fmt.Errorf("%s: %w", what, errShortInput)
	}
	out := bytes.Clone(d.b[d.off : d.off+int(n)])
	d.off += int(n)
	return out, nil
}

func (d *decoder) str(what string) (string, error) {
	n, err := d.nat(what+" length", maxNameLength)
	if err != nil {
		return "", err
	}
	b, err := d.bytes(what, n)
	return string(b), err
}

// DecodeProgram parses and validates a blob produced by Encode.
func DecodeProgram(blob []byte) (*Program, error) {
	if len(blob) < len(programMagic)+1 || !bytes.Equal(blob[:len(programMagic)], programMagic) {
		return nil, fmt.Errorf("not a pvm program")
	}
	if blob[len(programMagic)] != programVersion {
		return nil, fmt.Errorf("unsupported program version %d", blob[len(programMagic)])
	}
	d := &decoder{b: blob, off: len(programMagic) + 1}
	p := &Program{}

	n, err := d.nat("import count", maxImports)
	if err != nil {
		return nil, err
	}
	for i := uint64(0); i < n; i++ {
		var imp Import
		if imp.Module, err = d.str("import module"); err != nil {
			return nil, err
		}
		if imp.Name, err = d.str("import name"); err != nil {
			return nil, err
		}
		v, err := d.nat("import version", 1<<32-1)
		if err != nil {
			return nil, err
		}
		imp.Version = uint32(v)
		p.Imports = append(p.Imports, imp)
	}

	if n, err = d.nat("export count", maxExports); err != nil {
		return nil, err
	}
	for i := uint64(0); i < n; i++ {
		var e Export
		if e.Name, err = d.str("export name"); err != nil {
			return nil, err
		}
		pc, err := d.nat("export pc", maxCodeSize)
		if err != nil {
			return nil, err
		}
		e.PC = uint32(pc)
		p.Exports = append(p.Exports, e)
	}

	if n, err = d.nat("ro size", maxROSize); err != nil {
		return nil, err
	}
	if p.ROData, err = d.bytes("ro data", n); err != nil {
		return nil, err
	}
	rw, err := d.nat("rw size", maxRWSize)
	if err != nil {
		return nil, err
	}
	p.RWSize = uint32(rw)

	if n, err = d.nat("code size", maxCodeSize); err != nil {
		return nil, err
	}
	if p.Code, err = d.bytes("code", n); err != nil {
		return nil, err
	}
	packed, err := d.bytes("bitmask", (n+7)/8)
	if err != nil {
		return nil, err
	}
	if d.off != len(blob) {
		return nil, fmt.Errorf("%d trailing bytes", len(blob)-d.off)
	}
	p.Bitmask = expandBits(packed, len(p.Code))

	for _, e := range p.Exports {
		if !p.isInstructionStart(uint64(e.PC)) {
			return nil, fmt.Errorf("export %s at %d is not an instruction", e.Name, e.PC)
		}
	}
	return p, nil
}

// Disassemble renders one instruction per line.
func (p *Program) Disassemble() string {
	var sb strings.Builder
	labels := make(map[uint32]string)
	for _, e := range p.Exports {
		labels[e.PC] = e.Name
	}
	for _, imp := range p.Imports {
		fmt.Fprintf(&sb, "; import %s\n", imp)
	}
	for pc := uint64(0); pc < uint64(len(p.Code)); {
		if name, ok := labels[uint32(pc)]; ok {
			fmt.Fprintf(&sb, "%s:\n", name)
		}
		olen := uint64(p.skip(pc))
		end := pc + 1 + olen
		if end > uint64(len(p.Code)) {
			end = uint64(len(p.Code))
		}
		fmt.Fprintf(&sb, "%6d: %s\n", pc, DisassembleSingleInstruction(p.Code[pc], p.Code[pc+1:end], pc, p.Imports))
		pc = end
	}
	return sb.String()
}

// DisassembleSingleInstruction formats one instruction. imports may be nil.
func DisassembleSingleInstruction(op byte, operands []byte, pc uint64, imports []Import) string {
	d, ok := instrTable[op]
	if !ok || uint32(len(operands)) < operandLen[d.class] {
		return fmt.Sprintf("%s %x", opcodeStr(op), operands)
	}
	ra, rb := int(min(12, operands0(operands)&15)), int(min(12, operands0(operands)>>4))
	imm := func(at int) int64 { return z_encode(DecodeEL(operands[at:at+4]), 4) }
	target := func(at int) uint64 { return uint64(int64(pc) + imm(at)) }
	switch d.class {
	case argsNone:
		return d.name
	case argsOneImm:
		idx := DecodeEL(operands[:4])
		if idx < uint64(len(imports)) {
			return fmt.Sprintf("%s %d ; %s", d.name, idx, imports[idx])
		}
		return fmt.Sprintf("%s %d", d.name, idx)
	case argsRegExtImm:
		return fmt.Sprintf("%s %s, 0x%x", d.name, reg(ra), DecodeEL(operands[1:9]))
	case argsOffset:
		return fmt.Sprintf("%s @%d", d.name, target(0))
	case argsRegImm:
		return fmt.Sprintf("%s %s, %d", d.name, reg(ra), imm(1))
	case argsRegImmOffset:
		return fmt.Sprintf("%s %s, %d, @%d", d.name, reg(ra), imm(1), target(5))
	case argsTwoRegs:
		return fmt.Sprintf("%s %s, %s", d.name, reg(ra), reg(rb))
	case argsTwoRegsImm:
		return fmt.Sprintf("%s %s, %s, %d", d.name, reg(ra), reg(rb), imm(1))
	case argsTwoRegsOffset:
		return fmt.Sprintf("%s %s, %s, @%d", d.name, reg(ra), reg(rb), target(1))
	case argsThreeRegs:
		return fmt.Sprintf("%s %s, %s, %s", d.name, reg(int(min(12, operands[1]))), reg(ra), reg(rb))
	}
	return d.name
}

func operands0(operands []byte) byte {
	if len(operands) == 0 {
		return 0
	}
	return operands[0]
}
