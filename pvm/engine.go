package pvm

import (
	"context"
	"fmt"

	"github.com/colorfulnotion/contracthost/bridge"
	"github.com/colorfulnotion/contracthost/budget"
	"github.com/colorfulnotion/contracthost/hosterrors"
	"github.com/colorfulnotion/contracthost/log"
)

// Engine is the reference interpreter. It holds no state.
type Engine struct{}

func NewEngine() *Engine { return &Engine{} }

func (*Engine) Name() string { return "pvm" }

func (*Engine) Instantiate(ctx context.Context, code []byte, linker bridge.Linker) (bridge.Instance, error) {
	prog, err := DecodeProgram(code)
	if err != nil {
		return nil, &bridge.Trap{Kind: bridge.TrapIllegalInstruction, Msg: err.Error()}
	}
	if err := linker.Charge(budget.MemAlloc, uint64(prog.RWSize)); err != nil {
		return nil, err
	}
	imports := make([]*bridge.HostFunc, len(prog.Imports))
	for i, imp := range prog.Imports {
		f, err := linker.Resolve(imp.Module, imp.Name, imp.Version)
		if err != nil {
			return nil, err
		}
		if f.Arity > A5-A0+1 {
			return nil, hosterrors.InvalidInput(hosterrors.CodeExceededLimit, "%s takes %d arguments, pvm passes at most %d", imp, f.Arity, A5-A0+1)
		}
		imports[i] = f
	}
	log.Debug(log.PvmMonitoring, "instantiated", "code", len(prog.Code), "imports", len(imports), "exports", len(prog.Exports))
	return &Instance{prog: prog, vm: newVM(prog, imports, linker)}, nil
}

// Instance is one instantiated program.
type Instance struct {
	prog *Program
	vm   *VM
}

func (i *Instance) Call(ctx context.Context, export string, args []uint64) (uint64, error) {
	pc, ok := i.prog.Export(export)
	if !ok {
		return 0, hosterrors.New(hosterrors.KindMissingFunction, hosterrors.CodeMissingValue, "no export %q", export)
	}
	return i.vm.Invoke(ctx, pc, args)
}

func (i *Instance) Memory() bridge.Memory { return memory{vm: i.vm} }

func (i *Instance) Close(context.Context) error { return nil }

// VM exposes the machine for tests and tooling.
func (i *Instance) VM() *VM { return i.vm }

func (i *Instance) String() string {
	return fmt.Sprintf("pvm instance: %d bytes code, %d steps", len(i.prog.Code), i.vm.Steps())
}
