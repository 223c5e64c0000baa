package dispatch

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/colorfulnotion/contracthost/budget"
	"github.com/colorfulnotion/contracthost/hosterrors"
	"github.com/colorfulnotion/contracthost/val"
)

type testEnv struct {
	b *budget.Budget
}

func (e *testEnv) Charge(ty budget.CostType, size uint64) error { return e.b.Charge(ty, size) }

func addU32(_ *testEnv, args []val.Val) (val.Val, error) {
	a, _ := args[0].U32()
	b, _ := args[1].U32()
	return val.FromU32(a + b), nil
}

func testEntries() []Entry[*testEnv] {
	return []Entry[*testEnv]{
		{ID: Identifier{"int", "add", 1}, Args: []Shape{U32, U32}, Ret: U32, Handler: addU32},
		{ID: Identifier{"int", "add", 2}, Args: []Shape{U32, U32}, Ret: U32, Handler: addU32},
		{ID: Identifier{"ctx", "noop", 1}, Ret: Void, Handler: func(*testEnv, []val.Val) (val.Val, error) { return val.Void, nil }},
		{ID: Identifier{"ctx", "liar", 1}, Ret: Bool, Handler: func(*testEnv, []val.Val) (val.Val, error) { return val.Void, nil }},
	}
}

func TestNewTableSortsAndRejectsDuplicates(t *testing.T) {
	tbl, err := NewTable(testEntries())
	require.NoError(t, err)
	require.Equal(t, 4, tbl.Len())

	es := tbl.Entries()
	require.Equal(t, "ctx.liar@1", es[0].ID.String())
	require.Equal(t, "int.add@2", es[3].ID.String())

	_, err = NewTable(append(testEntries(), testEntries()[0]))
	require.Error(t, err)
}

func TestDispatch(t *testing.T) {
	tbl, err := NewTable(testEntries())
	require.NoError(t, err)
	env := &testEnv{b: budget.Unlimited()}

	ret, err := tbl.Dispatch(env, Identifier{"int", "add", 1}, []val.Val{val.FromU32(2), val.FromU32(3)})
	require.NoError(t, err)
	require.Equal(t, val.FromU32(5), ret)
	require.Equal(t, uint64(1), env.b.Tally(budget.DispatchHostFunction).Count)

	_, err = tbl.Dispatch(env, Identifier{"int", "add", 3}, nil)
	require.ErrorIs(t, err, hosterrors.ErrMissingFunction)

	_, err = tbl.Dispatch(env, Identifier{"int", "add", 1}, []val.Val{val.FromU32(2)})
	require.ErrorIs(t, err, hosterrors.ErrInvalidInput)

	_, err = tbl.Dispatch(env, Identifier{"int", "add", 1}, []val.Val{val.FromU32(2), val.True})
	require.ErrorIs(t, err, hosterrors.ErrInvalidInput)

	// rejected calls are not charged
	require.Equal(t, uint64(1), env.b.Tally(budget.DispatchHostFunction).Count)

	_, err = tbl.Dispatch(env, Identifier{"ctx", "liar", 1}, nil)
	require.True(t, hosterrors.IsFatal(err))
}

func TestDispatchChargesBeforeHandler(t *testing.T) {
	tbl, err := NewTable(testEntries())
	require.NoError(t, err)
	env := &testEnv{b: budget.New(budget.Limits{CPU: 0, Mem: 1 << 20}, budget.DefaultCostParams())}

	_, err = tbl.Dispatch(env, Identifier{"ctx", "noop", 1}, nil)
	require.ErrorIs(t, err, hosterrors.ErrBudgetExceeded)
}

func TestParseIdentifier(t *testing.T) {
	id, err := ParseIdentifier("vec.push_back")
	require.NoError(t, err)
	require.Equal(t, Identifier{"vec", "push_back", 1}, id)

	id, err = ParseIdentifier("vec.push_back@3")
	require.NoError(t, err)
	require.Equal(t, uint32(3), id.Version)

	for _, bad := range []string{"vec", ".x", "vec.x@0", "vec.x@y"} {
		_, err = ParseIdentifier(bad)
		require.Error(t, err, bad)
	}
}

func TestShapeMatches(t *testing.T) {
	big, ok := val.SmallUnsigned(val.TagU64Small, 7)
	require.True(t, ok)
	require.True(t, U64.Matches(big))
	require.True(t, U64.Matches(val.ObjectVal(val.TagU64Object, 3, 0)))
	require.False(t, U64.Matches(val.FromU32(7)))
	require.True(t, Object.Matches(val.ObjectVal(val.TagVecObject, 3, 0)))
	require.False(t, Object.Matches(val.Void))
	require.True(t, Any.Matches(val.Void))
	require.False(t, Any.Matches(val.Val(0xff)))
	require.True(t, Symbol.Matches(val.MustSymbol("abc")))
}
