package bridge

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/colorfulnotion/contracthost/budget"
	"github.com/colorfulnotion/contracthost/hosterrors"
	"github.com/colorfulnotion/contracthost/val"
)

type fakeHost struct {
	*budget.Budget
	mem *LinearMemory
}

func (h *fakeHost) Resolve(module, name string, version uint32) (*HostFunc, error) {
	if module != "int" || name != "double" {
		return nil, hosterrors.New(hosterrors.KindMissingFunction, hosterrors.CodeMissingValue, "%s.%s", module, name)
	}
	return NewHostFunc(module, name, version, 1, h, func(_ context.Context, args []val.Val) (val.Val, error) {
		x, err := args[0].U32()
		if err != nil {
			return 0, err
		}
		return val.FromU32(2 * x), nil
	}), nil
}

func (h *fakeHost) AttachMemory(m *LinearMemory) { h.mem = m }

// fakeEngine calls int.double on its first argument, or returns a
// scripted error.
type fakeEngine struct {
	fail error
	ret  *uint64
}

func (fakeEngine) Name() string { return "fake" }

func (e fakeEngine) Instantiate(_ context.Context, _ []byte, l Linker) (Instance, error) {
	f, err := l.Resolve("int", "double", 1)
	if err != nil {
		return nil, err
	}
	return &fakeInstance{e: e, double: f, mem: make(SliceMemory, 64)}, nil
}

type fakeInstance struct {
	e      fakeEngine
	double *HostFunc
	mem    SliceMemory
}

func (i *fakeInstance) Call(ctx context.Context, export string, args []uint64) (uint64, error) {
	if i.e.fail != nil {
		return 0, i.e.fail
	}
	if i.e.ret != nil {
		return *i.e.ret, nil
	}
	if export != "main" {
		return 0, hosterrors.New(hosterrors.KindMissingFunction, hosterrors.CodeMissingValue, "no export %s", export)
	}
	return i.double.Call(ctx, args)
}

func (i *fakeInstance) Memory() Memory               { return i.mem }
func (i *fakeInstance) Close(context.Context) error { return nil }

func TestRunRoundTrip(t *testing.T) {
	h := &fakeHost{Budget: budget.Unlimited()}
	ret, err := Run(context.Background(), fakeEngine{}, []byte{1, 2, 3}, h, "main", []val.Val{val.FromU32(21)})
	require.NoError(t, err)
	require.Equal(t, val.FromU32(42), ret)
	require.NotNil(t, h.mem)
	// arg in, host arg, host result, result out
	require.Equal(t, uint64(4), h.Tally(budget.EngineValConvert).Count)
	require.Equal(t, uint64(3), h.Tally(budget.InstantiateContract).Input)
}

func TestRunRejectsBadPayload(t *testing.T) {
	bad := uint64(0xff)
	h := &fakeHost{Budget: budget.Unlimited()}
	_, err := Run(context.Background(), fakeEngine{ret: &bad}, nil, h, "main", nil)
	require.ErrorIs(t, err, hosterrors.ErrConversion)
}

func TestRunTranslatesTraps(t *testing.T) {
	cases := []struct {
		fail error
		want error
	}{
		{&Trap{Kind: TrapDivisionByZero}, &hosterrors.HostError{Kind: hosterrors.KindEngineTrap, Code: hosterrors.CodeArithDomain}},
		{&Trap{Kind: TrapOutOfBounds}, &hosterrors.HostError{Kind: hosterrors.KindEngineTrap, Code: hosterrors.CodeIndexBounds}},
		{hosterrors.InvalidInput(hosterrors.CodeIndexBounds, "x"), hosterrors.ErrInvalidInput},
		{hosterrors.NewAbort(hosterrors.KindBudgetExceeded, hosterrors.CodeExceededLimit, "x"), hosterrors.ErrBudgetExceeded},
		{errors.New("engine exploded"), hosterrors.ErrInvariantViolation},
		{context.Canceled, hosterrors.ErrInvariantViolation},
	}
	for _, c := range cases {
		h := &fakeHost{Budget: budget.Unlimited()}
		_, err := Run(context.Background(), fakeEngine{fail: c.fail}, nil, h, "main", nil)
		require.ErrorIs(t, err, c.want, c.fail.Error())
	}
}

func TestHostFuncArity(t *testing.T) {
	h := &fakeHost{Budget: budget.Unlimited()}
	f, err := h.Resolve("int", "double", 1)
	require.NoError(t, err)
	_, err = f.Call(context.Background(), []uint64{1, 2})
	require.ErrorIs(t, err, hosterrors.ErrInvalidInput)
	_, err = f.Call(context.Background(), []uint64{val.True.Payload()})
	require.ErrorIs(t, err, hosterrors.ErrConversion)
}

func TestLinearMemory(t *testing.T) {
	b := budget.Unlimited()
	m := NewLinearMemory(make(SliceMemory, 32), b)

	require.NoError(t, m.Write(4, []byte("hello")))
	got, err := m.Read(4, 5)
	require.NoError(t, err)
	require.Equal(t, []byte("hello"), got)
	require.Equal(t, uint64(10), b.Tally(budget.MemCpy).Input)

	_, err = m.Read(30, 4)
	require.ErrorIs(t, err, &hosterrors.HostError{Kind: hosterrors.KindEngineTrap, Code: hosterrors.CodeIndexBounds})
	require.Error(t, m.Write(0xffffffff, []byte{1, 2}))
	// failed accesses are not charged
	require.Equal(t, uint64(10), b.Tally(budget.MemCpy).Input)

	vs := []val.Val{val.FromU32(1), val.True, val.MustSymbol("abc")}
	require.NoError(t, m.WriteVals(8, vs))
	back, err := m.ReadVals(8, 3)
	require.NoError(t, err)
	require.Equal(t, vs, back)
}
