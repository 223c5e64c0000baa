// Package wasmvm runs contracts compiled to WebAssembly on wazero.
//
// Contracts see every host function as (i64...) -> i64 over Val payloads.
// An import field "name" binds version 1 of module.name; "name@N" binds
// version N.
//
// Modules are rewritten before compilation to burn fuel from an injected
// global at every function entry and loop header, so execution is metered
// in InsnExec units without relying on wall-clock limits.
package wasmvm

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/sys"

	"github.com/colorfulnotion/contracthost/bridge"
	"github.com/colorfulnotion/contracthost/budget"
	"github.com/colorfulnotion/contracthost/dispatch"
	"github.com/colorfulnotion/contracthost/hosterrors"
	"github.com/colorfulnotion/contracthost/log"
)

const contractModuleName = "contract"

// Engine compiles and instantiates wasm modules with the wazero
// interpreter. Each instance owns its runtime, so host modules bound to
// one frame never leak into another.
type Engine struct {
	memoryLimitPages uint32
}

type Option func(*Engine)

// WithMemoryLimitPages caps guest linear memory, in 64KiB pages.
func WithMemoryLimitPages(pages uint32) Option {
	return func(e *Engine) { e.memoryLimitPages = pages }
}

func NewEngine(opts ...Option) *Engine {
	e := &Engine{memoryLimitPages: 256}
	for _, o := range opts {
		o(e)
	}
	return e
}

func (*Engine) Name() string { return "wasm" }

// callState carries the first host error across wazero's panic/recover
// boundary so it reaches the caller with its kind intact.
type callState struct {
	hostErr error
}

func (s *callState) fail(err error) {
	if s.hostErr == nil {
		s.hostErr = err
	}
	panic(err)
}

func (e *Engine) Instantiate(ctx context.Context, code []byte, linker bridge.Linker) (bridge.Instance, error) {
	cfg := wazero.NewRuntimeConfigInterpreter().
		WithCloseOnContextDone(true).
		WithMemoryLimitPages(e.memoryLimitPages)
	r := wazero.NewRuntimeWithConfig(ctx, cfg)
	inst, err := e.instantiate(ctx, r, code, linker)
	if err != nil {
		if cerr := r.Close(ctx); cerr != nil {
			log.Warn(log.WasmMonitoring, "runtime close failed", "err", cerr)
		}
		return nil, err
	}
	return inst, nil
}

func (e *Engine) instantiate(ctx context.Context, r wazero.Runtime, code []byte, linker bridge.Linker) (*Instance, error) {
	m := &fuelMeter{linker: linker}
	m.issued = int64(min(linker.Headroom(budget.InsnExec), math.MaxInt64))
	metered, err := instrument(code, m.issued)
	if err != nil {
		return nil, err
	}
	compiled, err := r.CompileModule(ctx, metered)
	if err != nil {
		return nil, &bridge.Trap{Kind: bridge.TrapIllegalInstruction, Msg: err.Error()}
	}
	if len(compiled.ImportedMemories()) > 0 {
		return nil, hosterrors.InvalidInput(hosterrors.CodeInvalidValue, "contract must define its own memory")
	}

	state := &callState{}
	byModule := make(map[string][]api.FunctionDefinition)
	var order []string
	for _, def := range compiled.ImportedFunctions() {
		mod, _, _ := def.Import()
		if _, ok := byModule[mod]; !ok {
			order = append(order, mod)
		}
		byModule[mod] = append(byModule[mod], def)
	}
	for _, mod := range order {
		builder := r.NewHostModuleBuilder(mod)
		for _, def := range byModule[mod] {
			_, field, _ := def.Import()
			name, version, err := dispatch.SplitVersion(field)
			if err != nil {
				return nil, hosterrors.InvalidInput(hosterrors.CodeInvalidValue, "import %s.%s: %v", mod, field, err)
			}
			f, err := linker.Resolve(mod, name, version)
			if err != nil {
				return nil, err
			}
			if err := checkSignature(def, f.Arity); err != nil {
				return nil, err
			}
			builder.NewFunctionBuilder().
				WithGoModuleFunction(hostCall(state, m, f), def.ParamTypes(), def.ResultTypes()).
				Export(field)
		}
		if _, err := builder.Instantiate(ctx); err != nil {
			return nil, hosterrors.Invariant("host module %s: %v", mod, err)
		}
	}

	mod, err := r.InstantiateModule(ctx, compiled, wazero.NewModuleConfig().WithName(contractModuleName).WithStartFunctions())
	if err != nil {
		if m.fuel != nil {
			if serr := m.settle(); serr != nil && state.hostErr == nil {
				return nil, serr
			}
		}
		return nil, translate(ctx, state, err)
	}
	if err := m.bind(mod); err != nil {
		return nil, err
	}
	// start functions and the initial memory
	if err := m.settle(); err != nil {
		return nil, err
	}
	log.Debug(log.WasmMonitoring, "instantiated", "code", len(code), "metered", len(metered), "imports", len(compiled.ImportedFunctions()), "exports", len(compiled.ExportedFunctions()))
	return &Instance{runtime: r, module: mod, state: state, meter: m}, nil
}

// checkSignature requires the all-i64 calling convention.
func checkSignature(def api.FunctionDefinition, arity int) error {
	mod, field, _ := def.Import()
	params, results := def.ParamTypes(), def.ResultTypes()
	if len(params) != arity || len(results) != 1 {
		return hosterrors.InvalidInput(hosterrors.CodeUnexpectedSize, "import %s.%s: want %d params and 1 result, got %d and %d", mod, field, arity, len(params), len(results))
	}
	types := make([]api.ValueType, 0, len(params)+1)
	types = append(append(types, params...), results...)
	for _, t := range types {
		if t != api.ValueTypeI64 {
			return hosterrors.InvalidInput(hosterrors.CodeUnexpectedType, "import %s.%s: %s is not i64", mod, field, api.ValueTypeName(t))
		}
	}
	return nil
}

// hostCall settles the guest's fuel before the host function runs, so
// the host sees the budget as the guest left it, and refills after.
func hostCall(state *callState, m *fuelMeter, f *bridge.HostFunc) api.GoModuleFunc {
	return func(ctx context.Context, caller api.Module, stack []uint64) {
		if err := m.bind(caller); err != nil {
			state.fail(err)
		}
		if err := m.settle(); err != nil {
			state.fail(err)
		}
		ret, err := f.Call(ctx, append([]uint64(nil), stack[:f.Arity]...))
		if err != nil {
			state.fail(err)
		}
		m.refill()
		stack[0] = ret
	}
}

// Instance is one instantiated wasm contract.
type Instance struct {
	runtime wazero.Runtime
	module  api.Module
	state   *callState
	meter   *fuelMeter
}

// Call runs an export with the budget's remaining InsnExec headroom as
// fuel. Fuel burnt and memory grown are charged when the call returns,
// whether or not it trapped.
func (i *Instance) Call(ctx context.Context, export string, args []uint64) (uint64, error) {
	fn := i.module.ExportedFunction(export)
	if fn == nil {
		return 0, hosterrors.New(hosterrors.KindMissingFunction, hosterrors.CodeMissingValue, "no export %q", export)
	}
	def := fn.Definition()
	if len(def.ParamTypes()) != len(args) || len(def.ResultTypes()) != 1 {
		return 0, hosterrors.InvalidInput(hosterrors.CodeUnexpectedSize, "export %s takes %d params, got %d", export, len(def.ParamTypes()), len(args))
	}
	i.state.hostErr = nil
	i.meter.refill()
	ret, err := fn.Call(ctx, args...)
	serr := i.meter.settle()
	if err != nil {
		if i.state.hostErr == nil && serr != nil {
			return 0, serr
		}
		return 0, translate(ctx, i.state, err)
	}
	if serr != nil {
		return 0, serr
	}
	return ret[0], nil
}

func (i *Instance) Memory() bridge.Memory {
	if mem := i.module.Memory(); mem != nil {
		return mem
	}
	return nil
}

func (i *Instance) Close(ctx context.Context) error {
	return i.runtime.Close(ctx)
}

var trapMessages = []struct {
	fragment string
	kind     bridge.TrapKind
}{
	{"unreachable", bridge.TrapUnreachable},
	{"out of bounds memory access", bridge.TrapOutOfBounds},
	{"stack overflow", bridge.TrapStackOverflow},
	{"integer divide by zero", bridge.TrapDivisionByZero},
	{"integer overflow", bridge.TrapIntegerOverflow},
	{"invalid table access", bridge.TrapIllegalInstruction},
	{"indirect call type mismatch", bridge.TrapIllegalInstruction},
	{"invalid conversion to integer", bridge.TrapIntegerOverflow},
}

// translate turns a wazero error into a host error or a bridge trap.
func translate(ctx context.Context, state *callState, err error) error {
	if state.hostErr != nil {
		return state.hostErr
	}
	var exit *sys.ExitError
	if errors.As(err, &exit) {
		switch exit.ExitCode() {
		case sys.ExitCodeContextCanceled, sys.ExitCodeDeadlineExceeded:
			return fmt.Errorf("wasm: %w", ctx.Err())
		}
		return &bridge.Trap{Kind: bridge.TrapUnknown, Msg: fmt.Sprintf("exit code %d", exit.ExitCode())}
	}
	if ctx.Err() != nil {
		return fmt.Errorf("wasm: %w", ctx.Err())
	}
	msg := err.Error()
	if j := strings.IndexByte(msg, '\n'); j >= 0 {
		msg = msg[:j]
	}
	for _, t := range trapMessages {
		if strings.Contains(msg, t.fragment) {
			return &bridge.Trap{Kind: t.kind, Msg: msg}
		}
	}
	log.Warn(log.WasmMonitoring, "unrecognised engine error", "err", err)
	return err
}
