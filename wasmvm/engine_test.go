package wasmvm

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/colorfulnotion/contracthost/bridge"
	"github.com/colorfulnotion/contracthost/budget"
	"github.com/colorfulnotion/contracthost/hosterrors"
	"github.com/colorfulnotion/contracthost/val"
)

func uleb(x uint64) []byte {
	var out []byte
	for {
		b := byte(x & 0x7f)
		x >>= 7
		if x == 0 {
			return append(out, b)
		}
		out = append(out, b|0x80)
	}
}

func sleb(x int64) []byte {
	var out []byte
	for {
		b := byte(x & 0x7f)
		x >>= 7
		if (x == 0 && b&0x40 == 0) || (x == -1 && b&0x40 != 0) {
			return append(out, b)
		}
		out = append(out, b|0x80)
	}
}

func name(s string) []byte { return append(uleb(uint64(len(s))), s...) }

func section(id byte, items ...[]byte) []byte {
	body := uleb(uint64(len(items)))
	for _, it := range items {
		body = append(body, it...)
	}
	return append(append([]byte{id}, uleb(uint64(len(body)))...), body...)
}

func cat(parts ...[]byte) []byte {
	var out []byte
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}

func funcBody(code ...byte) []byte {
	body := append([]byte{0x00}, code...) // no locals
	body = append(body, 0x0b)
	return append(uleb(uint64(len(body))), body...)
}

// testModule imports vec.<field> (i64)->i64 and exports:
//
//	double(x)  calls the import
//	answer()   returns U32(42)
//	boom()     unreachable
//	div()      1 / 0
//	spin()     loops forever
func testModule(field string) []byte {
	const (
		typeUnary = 0
		typeNone  = 1
	)
	answer := val.FromU32(42).Payload()
	return cat(
		[]byte{0x00, 'a', 's', 'm', 0x01, 0x00, 0x00, 0x00},
		section(1,
			[]byte{0x60, 0x01, 0x7e, 0x01, 0x7e},
			[]byte{0x60, 0x00, 0x01, 0x7e},
		),
		section(2, cat(name("vec"), name(field), []byte{0x00, typeUnary})),
		section(3, []byte{typeUnary}, []byte{typeNone}, []byte{typeNone}, []byte{typeNone}, []byte{typeNone}),
		section(5, []byte{0x00, 0x01}),
		section(7,
			cat(name("double"), []byte{0x00, 1}),
			cat(name("answer"), []byte{0x00, 2}),
			cat(name("boom"), []byte{0x00, 3}),
			cat(name("div"), []byte{0x00, 4}),
			cat(name("spin"), []byte{0x00, 5}),
			cat(name("memory"), []byte{0x02, 0}),
		),
		section(10,
			funcBody(0x20, 0x00, 0x10, 0x00),
			funcBody(append([]byte{0x42}, sleb(int64(answer))...)...),
			funcBody(0x00),
			funcBody(0x42, 0x01, 0x42, 0x00, 0x80),
			funcBody(0x03, 0x40, 0x0c, 0x00, 0x0b, 0x42, 0x00),
		),
	)
}

type testLinker struct {
	*budget.Budget
	versions []uint32
	mem      *bridge.LinearMemory
}

func (l *testLinker) Resolve(module, name string, version uint32) (*bridge.HostFunc, error) {
	if module != "vec" || name != "len" {
		return nil, hosterrors.New(hosterrors.KindMissingFunction, hosterrors.CodeMissingValue, "%s.%s@%d", module, name, version)
	}
	l.versions = append(l.versions, version)
	return bridge.NewHostFunc(module, name, version, 1, l, func(_ context.Context, args []val.Val) (val.Val, error) {
		x, err := args[0].U32()
		if err != nil {
			return 0, err
		}
		return val.FromU32(2 * x), nil
	}), nil
}

func (l *testLinker) AttachMemory(mem *bridge.LinearMemory) { l.mem = mem }

func instantiate(t *testing.T, field string) (*Instance, *testLinker) {
	l := &testLinker{Budget: budget.Unlimited()}
	inst, err := NewEngine().Instantiate(context.Background(), testModule(field), l)
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, inst.Close(context.Background())) })
	return inst.(*Instance), l
}

func TestCallExports(t *testing.T) {
	inst, l := instantiate(t, "len")
	require.Equal(t, []uint32{1}, l.versions)

	ret, err := inst.Call(context.Background(), "answer", nil)
	require.NoError(t, err)
	require.Equal(t, val.FromU32(42).Payload(), ret)

	ret, err = inst.Call(context.Background(), "double", []uint64{val.FromU32(21).Payload()})
	require.NoError(t, err)
	require.Equal(t, val.FromU32(42).Payload(), ret)
	require.Equal(t, uint64(2), l.Tally(budget.EngineValConvert).Count)

	_, err = inst.Call(context.Background(), "missing", nil)
	require.ErrorIs(t, err, hosterrors.ErrMissingFunction)
	_, err = inst.Call(context.Background(), "answer", []uint64{1})
	require.ErrorIs(t, err, hosterrors.ErrInvalidInput)

	require.Equal(t, uint32(1<<16), inst.Memory().Size())
}

func TestVersionedImport(t *testing.T) {
	_, l := instantiate(t, "len@3")
	require.Equal(t, []uint32{3}, l.versions)

	_, err := NewEngine().Instantiate(context.Background(), testModule("len@0"), &testLinker{Budget: budget.Unlimited()})
	require.ErrorIs(t, err, hosterrors.ErrInvalidInput)
	_, err = NewEngine().Instantiate(context.Background(), testModule("size"), &testLinker{Budget: budget.Unlimited()})
	require.ErrorIs(t, err, hosterrors.ErrMissingFunction)
}

func TestHostErrorSurvivesEngine(t *testing.T) {
	inst, _ := instantiate(t, "len")
	_, err := inst.Call(context.Background(), "double", []uint64{val.True.Payload()})
	require.ErrorIs(t, err, hosterrors.ErrConversion)

	// the instance keeps working after a failed call
	ret, err := inst.Call(context.Background(), "double", []uint64{val.FromU32(1).Payload()})
	require.NoError(t, err)
	require.Equal(t, val.FromU32(2).Payload(), ret)
}

func TestTraps(t *testing.T) {
	for export, kind := range map[string]bridge.TrapKind{
		"boom": bridge.TrapUnreachable,
		"div":  bridge.TrapDivisionByZero,
	} {
		inst, _ := instantiate(t, "len")
		_, err := inst.Call(context.Background(), export, nil)
		var trap *bridge.Trap
		require.ErrorAs(t, err, &trap, export)
		require.Equal(t, kind, trap.Kind, export)
		require.ErrorIs(t, bridge.TranslateTrap(err), hosterrors.ErrEngineTrap, export)
	}

	// malformed binaries are rejected before compilation
	_, err := NewEngine().Instantiate(context.Background(), []byte("junk"), &testLinker{Budget: budget.Unlimited()})
	require.ErrorIs(t, err, hosterrors.ErrInvalidInput)
}

// TestDeadline covers cancellation by the caller; fuel is unlimited here.
func TestDeadline(t *testing.T) {
	inst, _ := instantiate(t, "len")
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := inst.Call(ctx, "spin", nil)
	require.True(t, errors.Is(err, context.DeadlineExceeded), "%v", err)
	require.ErrorIs(t, bridge.TranslateTrap(err), hosterrors.ErrInvariantViolation)
}

func TestRunThroughBridge(t *testing.T) {
	l := &testLinker{Budget: budget.Unlimited()}
	ret, err := bridge.Run(context.Background(), NewEngine(), testModule("len"), l, "double", []val.Val{val.FromU32(8)})
	require.NoError(t, err)
	require.Equal(t, val.FromU32(16), ret)
	require.NotNil(t, l.mem)
	require.Equal(t, uint64(1), l.Tally(budget.InstantiateContract).Count)

	// a zero budget stops before the module is even compiled
	zero := &testLinker{Budget: budget.New(budget.Limits{}, budget.DefaultCostParams())}
	_, err = bridge.Run(context.Background(), NewEngine(), testModule("len"), zero, "answer", nil)
	require.ErrorIs(t, err, hosterrors.ErrBudgetExceeded)
	require.Empty(t, zero.versions)
}

func withBudget(t *testing.T, code []byte, b *budget.Budget) (*Instance, *testLinker) {
	l := &testLinker{Budget: b}
	inst, err := NewEngine().Instantiate(context.Background(), code, l)
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, inst.Close(context.Background())) })
	return inst.(*Instance), l
}

// singleExport builds a module with one () -> i64 function exported as
// export, a one page memory and optional extra sections before the code.
func singleExport(export string, extra []byte, code ...byte) []byte {
	return cat(
		[]byte{0x00, 'a', 's', 'm', 0x01, 0x00, 0x00, 0x00},
		section(1, []byte{0x60, 0x00, 0x01, 0x7e}),
		section(3, []byte{0x00}),
		section(5, []byte{0x00, 0x01}),
		extra,
		section(7, cat(name(export), []byte{0x00, 0}), cat(name("memory"), []byte{0x02, 0})),
		section(10, funcBody(code...)),
	)
}

func growModule(pages int64) []byte {
	return singleExport("grow", nil, cat([]byte{0x41}, sleb(pages), []byte{0x40, 0x00, 0x1a, 0x42, 0x00})...)
}

func TestFuelIsChargedPerInstruction(t *testing.T) {
	inst, l := instantiate(t, "len")

	_, err := inst.Call(context.Background(), "answer", nil)
	require.NoError(t, err)
	// i64.const, end
	require.Equal(t, budget.Tally{Count: 1, Input: 2, CPU: 8}, l.Tally(budget.InsnExec))

	// local.get, call, end: settled at the host call, nothing after it
	_, err = inst.Call(context.Background(), "double", []uint64{val.FromU32(1).Payload()})
	require.NoError(t, err)
	require.Equal(t, uint64(5), l.Tally(budget.InsnExec).Input)
	require.Equal(t, uint64(2), l.Tally(budget.InsnExec).Count)
}

func TestLoopRunsOutOfFuel(t *testing.T) {
	limits := budget.Limits{CPU: 2_000_000, Mem: 1 << 30}
	var consumed []uint64
	for range 2 {
		inst, l := withBudget(t, testModule("len"), budget.New(limits, budget.DefaultCostParams()))
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		_, err := inst.Call(ctx, "spin", nil)
		cancel()
		require.ErrorIs(t, err, hosterrors.ErrBudgetExceeded)
		require.NotNil(t, l.Exceeded())
		require.LessOrEqual(t, l.CPUConsumed(), limits.CPU)
		require.ErrorIs(t, bridge.TranslateTrap(err), hosterrors.ErrBudgetExceeded)
		consumed = append(consumed, l.CPUConsumed())
	}
	require.Equal(t, consumed[0], consumed[1])

	// the breach keeps its kind through the bridge
	l := &testLinker{Budget: budget.New(limits, budget.DefaultCostParams())}
	ret, err := bridge.Run(context.Background(), NewEngine(), testModule("len"), l, "spin", nil)
	require.ErrorIs(t, err, hosterrors.ErrBudgetExceeded)
	require.Zero(t, ret)
}

func TestMemoryGrowthIsCharged(t *testing.T) {
	inst, l := withBudget(t, growModule(2), budget.Unlimited())
	require.Equal(t, uint64(1<<16), l.Tally(budget.MemAlloc).Input)
	_, err := inst.Call(context.Background(), "grow", nil)
	require.NoError(t, err)
	require.Equal(t, uint32(3<<16), inst.Memory().Size())
	require.Equal(t, budget.Tally{Count: 2, Input: 3 << 16, CPU: 2*16 + (3<<16)/8, Mem: 2*16 + 3<<16}, l.Tally(budget.MemAlloc))

	inst, l = withBudget(t, growModule(200), budget.New(budget.Limits{CPU: 1 << 40, Mem: 1 << 20}, budget.DefaultCostParams()))
	_, err = inst.Call(context.Background(), "grow", nil)
	require.ErrorIs(t, err, hosterrors.ErrBudgetExceeded)
	require.LessOrEqual(t, l.MemConsumed(), uint64(1<<20))
}

func TestInstrumentation(t *testing.T) {
	answer := val.FromU32(42).Payload()

	// an existing global keeps index 0; fuel lands after it
	globals := section(6, []byte{0x7f, 0x00, 0x41, 0x07, 0x0b})
	inst, _ := withBudget(t, singleExport("answer", globals, cat([]byte{0x23, 0x00, 0x1a, 0x42}, sleb(int64(answer)))...), budget.Unlimited())
	ret, err := inst.Call(context.Background(), "answer", nil)
	require.NoError(t, err)
	require.Equal(t, answer, ret)

	for name, code := range map[string][]byte{
		"simd":          singleExport("f", nil, 0xfd, 0x0c),
		"reserved name": singleExport(fuelExport, nil, 0x42, 0x00),
		"fuel global":   singleExport("f", nil, 0x42, 0x05, 0x24, 0x00, 0x42, 0x00),
		"truncated":     singleExport("f", nil, 0x42),
	} {
		_, err := NewEngine().Instantiate(context.Background(), code, &testLinker{Budget: budget.Unlimited()})
		require.ErrorIs(t, err, hosterrors.ErrInvalidInput, name)
	}
}
