package pvm

import (
	"context"
	"encoding/binary"
	"fmt"

	"github.com/colorfulnotion/contracthost/bridge"
	"github.com/colorfulnotion/contracthost/budget"
	"github.com/colorfulnotion/contracthost/log"
)

// Machine states.
const (
	HALT  = 0 // regular halt
	PANIC = 1 // trap or illegal instruction
	FAULT = 2 // memory access outside the mapped regions
	HOST  = 3 // host-call
	OOG   = 4 // budget exhausted
)

// VM executes one call into a Program. Memory persists across calls made
// on the same instance; registers do not.
type VM struct {
	prog    *Program
	imports []*bridge.HostFunc
	meter   bridge.Meter

	ro []byte
	rw []byte

	pc           uint64
	register     [numRegisters]uint64
	MachineState int
	terminated   bool
	fault        *bridge.Trap
	hostErr      error

	steps uint64
}

func newVM(prog *Program, imports []*bridge.HostFunc, meter bridge.Meter) *VM {
	return &VM{
		prog:    prog,
		imports: imports,
		meter:   meter,
		ro:      prog.ROData,
		rw:      make([]byte, prog.RWSize),
	}
}

// Steps is the number of instructions executed so far.
func (vm *VM) Steps() uint64 { return vm.steps }

func (vm *VM) Register(i int) uint64 { return vm.register[i] }

// Invoke runs the export at pc with args in a0.. and returns a0.
func (vm *VM) Invoke(ctx context.Context, entry uint32, args []uint64) (uint64, error) {
	if len(args) > A5-A0+1 {
		return 0, &bridge.Trap{Kind: bridge.TrapIllegalInstruction, Msg: fmt.Sprintf("%d arguments exceed registers", len(args))}
	}
	vm.register = [numRegisters]uint64{}
	vm.register[RA] = HaltAddress
	for i, a := range args {
		vm.register[A0+i] = a
	}
	vm.pc = uint64(entry)
	vm.terminated = false
	vm.MachineState = HALT
	vm.fault = nil
	vm.hostErr = nil

	if err := vm.Execute(ctx); err != nil {
		return 0, err
	}
	return vm.register[A0], nil
}

// Execute runs until the machine terminates. Each basic block is charged
// before any of its instructions run.
func (vm *VM) Execute(ctx context.Context) error {
	for !vm.terminated {
		if err := ctx.Err(); err != nil {
			return err
		}
		n := vm.basicBlockLength(vm.pc)
		if err := vm.meter.Charge(budget.InsnExec, n); err != nil {
			vm.MachineState = OOG
			return err
		}
		for i := uint64(0); i < n && !vm.terminated; i++ {
			vm.step(ctx)
		}
	}
	switch vm.MachineState {
	case HALT:
		return nil
	case HOST:
		return vm.hostErr
	default:
		if vm.fault == nil {
			vm.fault = &bridge.Trap{Kind: bridge.TrapUnknown, PC: vm.pc}
		}
		log.Debug(log.PvmMonitoring, "terminated", "state", vm.MachineState, "pc", vm.pc, "trap", vm.fault)
		return vm.fault
	}
}

// basicBlockLength counts instructions up to and including the next
// block terminator. A block that runs off the code still counts the
// instruction that will panic.
func (vm *VM) basicBlockLength(pc uint64) uint64 {
	code := vm.prog.Code
	var n uint64
	for pc < uint64(len(code)) {
		op := code[pc]
		n++
		if IsBasicBlockInstruction(op) {
			return n
		}
		pc += 1 + uint64(vm.prog.skip(pc))
	}
	return n + 1
}

func (vm *VM) panicWith(kind bridge.TrapKind, format string, args ...any) {
	vm.terminated = true
	vm.MachineState = PANIC
	vm.fault = &bridge.Trap{Kind: kind, PC: vm.pc, Msg: fmt.Sprintf(format, args...)}
}

func (vm *VM) faultAt(addr uint64) {
	vm.terminated = true
	vm.MachineState = FAULT
	vm.fault = &bridge.Trap{Kind: bridge.TrapOutOfBounds, PC: vm.pc, Msg: fmt.Sprintf("address 0x%x", addr)}
}

func (vm *VM) step(ctx context.Context) {
	code := vm.prog.Code
	if !vm.prog.isInstructionStart(vm.pc) {
		vm.panicWith(bridge.TrapIllegalInstruction, "pc %d is not an instruction", vm.pc)
		return
	}
	opcode := code[vm.pc]
	def, ok := instrTable[opcode]
	if !ok {
		vm.panicWith(bridge.TrapIllegalInstruction, "unknown opcode %d", opcode)
		return
	}
	olen := uint64(operandLen[def.class])
	if vm.pc+1+olen > uint64(len(code)) {
		vm.panicWith(bridge.TrapIllegalInstruction, "truncated %s", def.name)
		return
	}
	operands := code[vm.pc+1 : vm.pc+1+olen]
	next := vm.pc + 1 + olen
	vm.steps++
	log.Trace(log.PvmMonitoring, "step", "pc", vm.pc, "insn", def.name)

	switch def.class {
	case argsNone:
		vm.HandleNoArgs(opcode, next)
	case argsOneImm:
		vm.HandleOneImm(ctx, opcode, operands, next)
	case argsRegExtImm:
		vm.register[regA(operands)] = DecodeEL(operands[1:9])
		vm.pc = next
	case argsOffset:
		vm.jump(vm.offset(operands, 0))
	case argsRegImm:
		vm.HandleOneRegOneImm(opcode, operands, next)
	case argsRegImmOffset:
		vm.HandleOneRegOneImmOneOffset(opcode, operands, next)
	case argsTwoRegs:
		vm.register[regA(operands)] = vm.register[regB(operands)]
		vm.pc = next
	case argsTwoRegsImm:
		vm.HandleTwoRegsOneImm(opcode, operands, next)
	case argsTwoRegsOffset:
		vm.HandleTwoRegsOneOffset(opcode, operands, next)
	case argsThreeRegs:
		vm.HandleThreeRegs(opcode, operands, next)
	}
}

func regA(operands []byte) int { return int(min(12, operands[0]&15)) }
func regB(operands []byte) int { return int(min(12, operands[0]>>4)) }

func imm32(operands []byte, at int) uint64 {
	return uint64(z_encode(DecodeEL(operands[at:at+4]), 4))
}

func (vm *VM) offset(operands []byte, at int) uint64 {
	return uint64(int64(vm.pc) + z_encode(DecodeEL(operands[at:at+4]), 4))
}

func (vm *VM) jump(target uint64) {
	if !vm.prog.isInstructionStart(target) {
		vm.panicWith(bridge.TrapIllegalInstruction, "jump to %d", target)
		return
	}
	vm.pc = target
}

func (vm *VM) branch(target, next uint64, condition bool) {
	if condition {
		vm.jump(target)
		return
	}
	vm.pc = next
}

// djump is an indirect jump; HaltAddress ends the call.
func (vm *VM) djump(a uint64) {
	if a == HaltAddress {
		vm.terminated = true
		vm.MachineState = HALT
		return
	}
	vm.jump(a)
}

func (vm *VM) HandleNoArgs(opcode byte, next uint64) {
	switch opcode {
	case TRAP:
		vm.panicWith(bridge.TrapUnreachable, "TRAP")
	case FALLTHROUGH:
		vm.pc = next
	}
}

func (vm *VM) HandleOneImm(ctx context.Context, opcode byte, operands []byte, next uint64) {
	if opcode != ECALLI {
		return
	}
	idx := DecodeEL(operands[:4])
	if idx >= uint64(len(vm.imports)) {
		vm.panicWith(bridge.TrapIllegalInstruction, "ECALLI %d without import", idx)
		return
	}
	f := vm.imports[idx]
	args := make([]uint64, f.Arity)
	copy(args, vm.register[A0:A0+f.Arity])
	ret, err := f.Call(ctx, args)
	if err != nil {
		vm.terminated = true
		vm.MachineState = HOST
		vm.hostErr = err
		return
	}
	vm.register[A0] = ret
	vm.pc = next
}

func (vm *VM) HandleOneRegOneImm(opcode byte, operands []byte, next uint64) {
	ra := regA(operands)
	vx := imm32(operands, 1)
	addr := uint64(uint32(vx))
	switch opcode {
	case JUMP_IND:
		vm.djump(uint64(uint32(vm.register[ra] + vx)))
		return
	case LOAD_IMM:
		vm.register[ra] = vx
	case LOAD_U8:
		if v, ok := vm.load(addr, 1); ok {
			vm.register[ra] = v
		}
	case LOAD_U32:
		if v, ok := vm.load(addr, 4); ok {
			vm.register[ra] = v
		}
	case LOAD_U64:
		if v, ok := vm.load(addr, 8); ok {
			vm.register[ra] = v
		}
	case STORE_U8:
		vm.store(addr, 1, vm.register[ra])
	case STORE_U32:
		vm.store(addr, 4, vm.register[ra])
	case STORE_U64:
		vm.store(addr, 8, vm.register[ra])
	}
	if !vm.terminated {
		vm.pc = next
	}
}

func (vm *VM) HandleOneRegOneImmOneOffset(opcode byte, operands []byte, next uint64) {
	ra := regA(operands)
	vx := imm32(operands, 1)
	target := vm.offset(operands, 5)
	switch opcode {
	case LOAD_IMM_JUMP:
		vm.register[ra] = vx
		vm.jump(target)
	case BRANCH_EQ_IMM:
		vm.branch(target, next, vm.register[ra] == vx)
	case BRANCH_NE_IMM:
		vm.branch(target, next, vm.register[ra] != vx)
	case BRANCH_LT_U_IMM:
		vm.branch(target, next, vm.register[ra] < vx)
	case BRANCH_GE_U_IMM:
		vm.branch(target, next, vm.register[ra] >= vx)
	}
}

func (vm *VM) HandleTwoRegsOneImm(opcode byte, operands []byte, next uint64) {
	ra, rb := regA(operands), regB(operands)
	vx := imm32(operands, 1)
	valueB := vm.register[rb]
	addr := uint64(uint32(valueB + vx))
	switch opcode {
	case STORE_IND_U8:
		vm.store(addr, 1, vm.register[ra])
	case STORE_IND_U32:
		vm.store(addr, 4, vm.register[ra])
	case STORE_IND_U64:
		vm.store(addr, 8, vm.register[ra])
	case LOAD_IND_U8:
		if v, ok := vm.load(addr, 1); ok {
			vm.register[ra] = v
		}
	case LOAD_IND_U32:
		if v, ok := vm.load(addr, 4); ok {
			vm.register[ra] = v
		}
	case LOAD_IND_U64:
		if v, ok := vm.load(addr, 8); ok {
			vm.register[ra] = v
		}
	case AND_IMM:
		vm.register[ra] = valueB & vx
	case XOR_IMM:
		vm.register[ra] = valueB ^ vx
	case OR_IMM:
		vm.register[ra] = valueB | vx
	case SET_LT_U_IMM:
		vm.register[ra] = boolToUint(valueB < vx)
	case ADD_IMM_64:
		vm.register[ra] = valueB + vx
	case MUL_IMM_64:
		vm.register[ra] = valueB * vx
	case SHLO_L_IMM_64:
		vm.register[ra] = valueB << (vx & 63)
	case SHLO_R_IMM_64:
		vm.register[ra] = valueB >> (vx & 63)
	}
	if !vm.terminated {
		vm.pc = next
	}
}

func (vm *VM) HandleTwoRegsOneOffset(opcode byte, operands []byte, next uint64) {
	valueA, valueB := vm.register[regA(operands)], vm.register[regB(operands)]
	target := vm.offset(operands, 1)
	switch opcode {
	case BRANCH_EQ:
		vm.branch(target, next, valueA == valueB)
	case BRANCH_NE:
		vm.branch(target, next, valueA != valueB)
	case BRANCH_LT_U:
		vm.branch(target, next, valueA < valueB)
	case BRANCH_GE_U:
		vm.branch(target, next, valueA >= valueB)
	}
}

func (vm *VM) HandleThreeRegs(opcode byte, operands []byte, next uint64) {
	valueA, valueB := vm.register[regA(operands)], vm.register[regB(operands)]
	rd := int(min(12, operands[1]))
	var result uint64
	switch opcode {
	case ADD_64:
		result = valueA + valueB
	case SUB_64:
		result = valueA - valueB
	case MUL_64:
		result = valueA * valueB
	case DIV_U_64:
		if valueB == 0 {
			result = ^uint64(0)
		} else {
			result = valueA / valueB
		}
	case REM_U_64:
		if valueB == 0 {
			result = valueA
		} else {
			result = valueA % valueB
		}
	case SHLO_L_64:
		result = valueA << (valueB & 63)
	case SHLO_R_64:
		result = valueA >> (valueB & 63)
	case AND:
		result = valueA & valueB
	case XOR:
		result = valueA ^ valueB
	case OR:
		result = valueA | valueB
	case SET_LT_U:
		result = boolToUint(valueA < valueB)
	case CMOV_IZ:
		result = vm.register[rd]
		if valueB == 0 {
			result = valueA
		}
	case CMOV_NZ:
		result = vm.register[rd]
		if valueB != 0 {
			result = valueA
		}
	}
	vm.register[rd] = result
	vm.pc = next
}

func boolToUint(b bool) uint64 {
	if b {
		return 1
	}
	return 0
}

// region maps addr..addr+n onto ro or rw; writable reports which.
func (vm *VM) region(addr, n uint64) ([]byte, bool) {
	if addr >= ROBase && addr+n <= ROBase+uint64(len(vm.ro)) {
		return vm.ro[addr-ROBase : addr-ROBase+n], false
	}
	if addr >= RWBase && addr+n <= RWBase+uint64(len(vm.rw)) {
		return vm.rw[addr-RWBase : addr-RWBase+n], true
	}
	return nil, false
}

func (vm *VM) load(addr, n uint64) (uint64, bool) {
	b, _ := vm.region(addr, n)
	if b == nil {
		vm.faultAt(addr)
		return 0, false
	}
	switch n {
	case 1:
		return uint64(b[0]), true
	case 4:
		return uint64(binary.LittleEndian.Uint32(b)), true
	default:
		return binary.LittleEndian.Uint64(b), true
	}
}

func (vm *VM) store(addr, n, v uint64) {
	b, writable := vm.region(addr, n)
	if b == nil || !writable {
		vm.faultAt(addr)
		return
	}
	switch n {
	case 1:
		b[0] = byte(v)
	case 4:
		binary.LittleEndian.PutUint32(b, uint32(v))
	default:
		binary.LittleEndian.PutUint64(b, v)
	}
}

// memory exposes the instance address space to the host. Reads cover
// both regions; writes only the rw region.
type memory struct {
	vm *VM
}

func (m memory) Size() uint32 { return uint32(RWBase + len(m.vm.rw)) }

func (m memory) Read(offset, length uint32) ([]byte, bool) {
	if length == 0 {
		return nil, true
	}
	b, _ := m.vm.region(uint64(offset), uint64(length))
	return b, b != nil
}

func (m memory) Write(offset uint32, data []byte) bool {
	if len(data) == 0 {
		return true
	}
	b, writable := m.vm.region(uint64(offset), uint64(len(data)))
	if b == nil || !writable {
		return false
	}
	copy(b, data)
	return true
}
