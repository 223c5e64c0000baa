package host

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/colorfulnotion/contracthost/budget"
	"github.com/colorfulnotion/contracthost/codec"
	"github.com/colorfulnotion/contracthost/hosterrors"
	"github.com/colorfulnotion/contracthost/pvm"
	"github.com/colorfulnotion/contracthost/storage"
	"github.com/colorfulnotion/contracthost/val"
)

func cid(b byte) storage.ContractID {
	var id storage.ContractID
	id[31] = b
	return id
}

var (
	outerID = cid(1)
	innerID = cid(2)
)

func newHost(t *testing.T, cfg Config, opts ...Option) *Host {
	t.Helper()
	h, err := New(cfg, opts...)
	require.NoError(t, err)
	return h
}

// call is Guest.Call that fails the test on error.
func call(t *testing.T, g *Guest, name string, args ...val.Val) val.Val {
	t.Helper()
	v, err := g.Call(name, args...)
	require.NoError(t, err, name)
	return v
}

func put(g *Guest, key string, v val.Val) error {
	_, err := g.Call("ledger.put_contract_data", val.MustSymbol(key), v, val.FromU32(uint32(storage.Persistent)))
	return err
}

func ledgerKey(t *testing.T, key string) []byte {
	t.Helper()
	k, err := LedgerKey(storage.Persistent, codec.Symbol(key))
	require.NoError(t, err)
	return k
}

func invoke(t *testing.T, h *Host, id storage.ContractID, fn string, args ...codec.Value) (*Result, error) {
	t.Helper()
	return h.Invoke(context.Background(), Invocation{Contract: id, Function: fn, Args: args})
}

func TestVecPushIsCopyOnWrite(t *testing.T) {
	c := NativeContract{"main": func(g *Guest, args []val.Val) (val.Val, error) {
		orig := args[0]
		pushed := call(t, g, "vec.push_back", orig, val.FromU32(8))
		out := call(t, g, "vec.new")
		out = call(t, g, "vec.push_back", out, orig)
		return g.Call("vec.push_back", out, pushed)
	}}
	h := newHost(t, DefaultConfig(), WithContract(outerID, c))

	res, err := invoke(t, h, outerID, "main", codec.Vec(codec.U32(7)))
	require.NoError(t, err)
	want := codec.Vec(codec.Vec(codec.U32(7)), codec.Vec(codec.U32(7), codec.U32(8)))
	require.True(t, codec.Equal(want, res.Value), "got %s", res.Value)
}

func TestZeroBudgetFailsBeforeAnyWrite(t *testing.T) {
	ran := false
	c := NativeContract{"main": func(g *Guest, _ []val.Val) (val.Val, error) {
		ran = true
		return val.Void, put(g, "k", val.FromU32(1))
	}}
	cfg := DefaultConfig()
	cfg.Limits.CPU = 0
	h := newHost(t, cfg, WithContract(outerID, c))

	res, err := invoke(t, h, outerID, "main")
	require.ErrorIs(t, err, hosterrors.ErrBudgetExceeded)
	require.True(t, hosterrors.IsFatal(err))
	require.False(t, ran)
	require.Empty(t, res.Writes)
	require.Empty(t, res.Events)
	require.Zero(t, res.Budget.CPUConsumed)
}

func TestBudgetExhaustedMidwayDiscardsWrites(t *testing.T) {
	c := NativeContract{"main": func(g *Guest, _ []val.Val) (val.Val, error) {
		if err := put(g, "k", val.FromU32(1)); err != nil {
			return 0, err
		}
		v := call(t, g, "vec.new")
		for {
			next, err := g.Call("vec.push_back", v, val.FromU32(1))
			if err != nil {
				return 0, err
			}
			v = next
		}
	}}
	cfg := DefaultConfig()
	cfg.Limits.CPU = 200_000
	h := newHost(t, cfg, WithContract(outerID, c))

	res, err := invoke(t, h, outerID, "main")
	require.ErrorIs(t, err, hosterrors.ErrBudgetExceeded)
	require.Empty(t, res.Writes)
	require.LessOrEqual(t, res.Budget.CPUConsumed, cfg.Limits.CPU)
	require.Equal(t, FrameAborted, res.Trace.State)
}

func failingInner(t *testing.T) NativeContract {
	return NativeContract{
		"fail": func(g *Guest, _ []val.Val) (val.Val, error) {
			require.NoError(t, put(g, "b", val.FromU32(2)))
			topics := call(t, g, "vec.push_back", call(t, g, "vec.new"), val.MustSymbol("inner"))
			call(t, g, "ctx.contract_event", topics, val.FromU32(1))
			empty := call(t, g, "vec.new")
			return g.Call("vec.get", empty, val.FromU32(5))
		},
		"raise": func(g *Guest, _ []val.Val) (val.Val, error) {
			return g.Call("ctx.fail_with_status", val.StatusVal(hosterrors.KindContract, 7))
		},
		"echo": func(g *Guest, args []val.Val) (val.Val, error) {
			return args[0], nil
		},
	}
}

// callInner invokes fn on innerID with args and returns what call.call
// produced.
func callInner(t *testing.T, g *Guest, fn string, args ...val.Val) val.Val {
	addr, err := g.Value(codec.Address(innerID))
	require.NoError(t, err)
	vec := call(t, g, "vec.new")
	for _, a := range args {
		vec = call(t, g, "vec.push_back", vec, a)
	}
	return call(t, g, "call.call", addr, val.MustSymbol(fn), vec)
}

func TestInnerFailureReachesOuterAsStatus(t *testing.T) {
	outer := NativeContract{"main": func(g *Guest, _ []val.Val) (val.Val, error) {
		require.NoError(t, put(g, "a", val.FromU32(1)))
		return callInner(t, g, "fail"), nil
	}}
	h := newHost(t, DefaultConfig(), WithContract(outerID, outer), WithContract(innerID, failingInner(t)))

	res, err := invoke(t, h, outerID, "main")
	require.NoError(t, err)
	require.True(t, codec.Equal(codec.Status(hosterrors.KindInvalidInput, hosterrors.CodeIndexBounds), res.Value), "got %s", res.Value)

	require.Len(t, res.Writes, 1)
	require.Equal(t, outerID, res.Writes[0].Contract)
	require.Equal(t, ledgerKey(t, "a"), res.Writes[0].Key)
	require.Empty(t, res.Events, "inner events roll back with the inner frame")

	require.Len(t, res.Trace.Children, 1)
	require.Equal(t, FrameFailed, res.Trace.Children[0].State)
	require.Equal(t, FrameReturned, res.Trace.State)
	require.NotEmpty(t, res.Diagnostics)
}

func TestContractStatusPropagates(t *testing.T) {
	outer := NativeContract{
		"main": func(g *Guest, _ []val.Val) (val.Val, error) {
			return callInner(t, g, "raise"), nil
		},
		"bad": func(g *Guest, _ []val.Val) (val.Val, error) {
			return g.Call("ctx.fail_with_status", val.StatusVal(hosterrors.KindStorage, 1))
		},
	}
	h := newHost(t, DefaultConfig(), WithContract(outerID, outer), WithContract(innerID, failingInner(t)))

	res, err := invoke(t, h, outerID, "main")
	require.NoError(t, err)
	require.True(t, codec.Equal(codec.Status(hosterrors.KindContract, 7), res.Value))

	_, err = invoke(t, h, outerID, "bad")
	require.ErrorIs(t, err, hosterrors.ErrInvalidInput)
}

func TestFatalErrorCannotBeCaught(t *testing.T) {
	inner := NativeContract{"burn": func(g *Guest, _ []val.Val) (val.Val, error) {
		for {
			if _, err := g.Call("vec.new"); err != nil {
				return 0, err
			}
		}
	}}
	outer := NativeContract{"main": func(g *Guest, _ []val.Val) (val.Val, error) {
		addr, err := g.Value(codec.Address(innerID))
		if err != nil {
			return 0, err
		}
		args, err := g.Call("vec.new")
		if err != nil {
			return 0, err
		}
		_, err = g.Call("call.call", addr, val.MustSymbol("burn"), args)
		require.ErrorIs(t, err, hosterrors.ErrBudgetExceeded)
		// swallowing the error does not resume the invocation
		return val.Void, nil
	}}
	cfg := DefaultConfig()
	cfg.Limits.CPU = 100_000
	h := newHost(t, cfg, WithContract(outerID, outer), WithContract(innerID, inner))

	_, err := invoke(t, h, outerID, "main")
	require.ErrorIs(t, err, hosterrors.ErrBudgetExceeded)
}

func TestMapIteratesInKeyOrder(t *testing.T) {
	c := NativeContract{"main": func(g *Guest, args []val.Val) (val.Val, error) {
		require.Equal(t, val.MustSymbol("a"), call(t, g, "map.key_by_pos", args[0], val.FromU32(0)))
		require.Equal(t, val.FromU32(1), call(t, g, "map.val_by_pos", args[0], val.FromU32(0)))
		return g.Call("map.keys", args[0])
	}}
	h := newHost(t, DefaultConfig(), WithContract(outerID, c))

	m := codec.Map(
		codec.MapEntry{Key: codec.Symbol("b"), Val: codec.U32(2)},
		codec.MapEntry{Key: codec.Symbol("a"), Val: codec.U32(1)},
	)
	res, err := invoke(t, h, outerID, "main", m)
	require.NoError(t, err)
	require.True(t, codec.Equal(codec.Vec(codec.Symbol("a"), codec.Symbol("b")), res.Value), "got %s", res.Value)

	dup := codec.Map(
		codec.MapEntry{Key: codec.Symbol("a"), Val: codec.U32(2)},
		codec.MapEntry{Key: codec.Symbol("a"), Val: codec.U32(1)},
	)
	_, err = invoke(t, h, outerID, "main", dup)
	require.ErrorIs(t, err, &hosterrors.HostError{Kind: hosterrors.KindInvalidInput, Code: hosterrors.CodeExistingValue})
}

func TestForgedHandlesAreDenied(t *testing.T) {
	accessDenied := &hosterrors.HostError{Kind: hosterrors.KindObjectTypeMismatch, Code: hosterrors.CodeAccessDenied}
	c := NativeContract{
		"relative": func(g *Guest, _ []val.Val) (val.Val, error) {
			return g.Call("vec.len", val.ObjectVal(val.TagVecObject, 40<<1, 0))
		},
		"absolute": func(g *Guest, _ []val.Val) (val.Val, error) {
			return g.Call("vec.len", val.ObjectVal(val.TagVecObject, 1, 0))
		},
		"result": func(g *Guest, _ []val.Val) (val.Val, error) {
			return val.ObjectVal(val.TagBytesObject, 9<<1, 0), nil
		},
	}
	h := newHost(t, DefaultConfig(), WithContract(outerID, c))
	for _, fn := range []string{"relative", "absolute", "result"} {
		_, err := invoke(t, h, outerID, fn)
		require.ErrorIs(t, err, accessDenied, fn)
		require.False(t, hosterrors.IsFatal(err))
	}
}

func TestHandlesDoNotLeakAcrossFrames(t *testing.T) {
	var leaked val.Val
	inner := NativeContract{
		"make": func(g *Guest, _ []val.Val) (val.Val, error) {
			for i := 0; i < 6; i++ {
				leaked = call(t, g, "vec.push_back", call(t, g, "vec.new"), val.FromU32(uint32(i)))
			}
			return val.Void, nil
		},
	}
	outer := NativeContract{"main": func(g *Guest, _ []val.Val) (val.Val, error) {
		callInner(t, g, "make")
		// the inner frame's handle numbering means nothing here
		_, err := g.Call("vec.len", leaked)
		return val.Void, err
	}}
	h := newHost(t, DefaultConfig(), WithContract(outerID, outer), WithContract(innerID, inner))
	_, err := invoke(t, h, outerID, "main")
	require.ErrorIs(t, err, hosterrors.ErrObjectTypeMismatch)
}

func TestReturnedObjectsSurviveFramePop(t *testing.T) {
	outer := NativeContract{"main": func(g *Guest, _ []val.Val) (val.Val, error) {
		v := call(t, g, "vec.push_back", call(t, g, "vec.new"), val.FromU32(3))
		got := callInner(t, g, "echo", v)
		require.Equal(t, val.FromU32(1), call(t, g, "vec.len", got))
		return got, nil
	}}
	h := newHost(t, DefaultConfig(), WithContract(outerID, outer), WithContract(innerID, failingInner(t)))
	res, err := invoke(t, h, outerID, "main")
	require.NoError(t, err)
	require.True(t, codec.Equal(codec.Vec(codec.U32(3)), res.Value))
}

func TestDepthLimit(t *testing.T) {
	self := cid(9)
	c := NativeContract{"recurse": func(g *Guest, _ []val.Val) (val.Val, error) {
		addr := call(t, g, "ctx.get_current_contract_address")
		return g.Call("call.call", addr, val.MustSymbol("recurse"), call(t, g, "vec.new"))
	}}
	cfg := DefaultConfig()
	cfg.MaxDepth = 4
	h := newHost(t, cfg, WithContract(self, c))

	res, err := invoke(t, h, self, "recurse")
	require.NoError(t, err)
	require.True(t, codec.Equal(codec.Status(hosterrors.KindInvalidInput, hosterrors.CodeExceededLimit), res.Value))

	frames := 0
	res.Trace.Walk(func(*FrameTrace) { frames++ })
	require.Equal(t, 4, frames)
}

func TestMissingContractAndFunction(t *testing.T) {
	outer := NativeContract{"main": func(g *Guest, _ []val.Val) (val.Val, error) {
		return callInner(t, g, "anything"), nil
	}}
	h := newHost(t, DefaultConfig(), WithContract(outerID, outer))

	res, err := invoke(t, h, outerID, "main")
	require.NoError(t, err)
	k, _, _ := statusOf(res.Value)
	require.Equal(t, hosterrors.KindMissingFunction, k)

	_, err = invoke(t, h, outerID, "nope")
	require.ErrorIs(t, err, hosterrors.ErrMissingFunction)
	_, err = invoke(t, h, cid(77), "main")
	require.ErrorIs(t, err, hosterrors.ErrMissingFunction)
}

func statusOf(v codec.Value) (hosterrors.Kind, hosterrors.Code, bool) {
	if v.Type != codec.TypeError {
		return 0, 0, false
	}
	return hosterrors.Kind(v.Hi), hosterrors.Code(v.U), true
}

func TestLedgerData(t *testing.T) {
	c := NativeContract{
		"write": func(g *Guest, args []val.Val) (val.Val, error) {
			return val.Void, put(g, "k", args[0])
		},
		"read": func(g *Guest, _ []val.Val) (val.Val, error) {
			return g.Call("ledger.get_contract_data", val.MustSymbol("k"), val.FromU32(0))
		},
		"cycle": func(g *Guest, _ []val.Val) (val.Val, error) {
			key, dur := val.MustSymbol("t"), val.FromU32(uint32(storage.Temporary))
			require.Equal(t, val.False, call(t, g, "ledger.has_contract_data", key, dur))
			call(t, g, "ledger.put_contract_data", key, val.True, dur)
			require.Equal(t, val.True, call(t, g, "ledger.has_contract_data", key, dur))
			require.Equal(t, val.False, call(t, g, "ledger.has_contract_data", key, val.FromU32(0)))
			call(t, g, "ledger.del_contract_data", key, dur)
			_, err := g.Call("ledger.del_contract_data", key, dur)
			require.ErrorIs(t, err, hosterrors.ErrStorage)
			_, err = g.Call("ledger.has_contract_data", key, val.FromU32(3))
			require.ErrorIs(t, err, hosterrors.ErrInvalidInput)
			return val.Void, nil
		},
	}
	h := newHost(t, DefaultConfig(), WithContract(outerID, c))

	res, err := invoke(t, h, outerID, "write", codec.Vec(codec.String("hello")))
	require.NoError(t, err)
	require.Len(t, res.Writes, 1)
	require.Len(t, res.Footprint, 1)
	require.Equal(t, storage.ReadWrite, res.Footprint[0].Access)

	snap := storage.NewMemorySnapshot()
	require.NoError(t, snap.Apply(res.Writes))
	res, err = h.Invoke(context.Background(), Invocation{Contract: outerID, Function: "read", Snapshot: snap})
	require.NoError(t, err)
	require.True(t, codec.Equal(codec.Vec(codec.String("hello")), res.Value))
	require.Empty(t, res.Writes)

	_, err = invoke(t, h, outerID, "read")
	require.ErrorIs(t, err, &hosterrors.HostError{Kind: hosterrors.KindStorage, Code: hosterrors.CodeMissingValue})

	res, err = invoke(t, h, outerID, "cycle")
	require.NoError(t, err)
	require.Len(t, res.Writes, 1)
	require.True(t, res.Writes[0].Deleted)
}

func TestEnforcingFootprint(t *testing.T) {
	c := NativeContract{"write": func(g *Guest, _ []val.Val) (val.Val, error) {
		return val.Void, put(g, "k", val.FromU32(1))
	}}
	cfg := DefaultConfig()
	cfg.FootprintMode = storage.Enforcing
	h := newHost(t, cfg, WithContract(outerID, c))

	_, err := h.Invoke(context.Background(), Invocation{Contract: outerID, Function: "write", Footprint: storage.NewFootprint()})
	require.ErrorIs(t, err, &hosterrors.HostError{Kind: hosterrors.KindStorage, Code: hosterrors.CodeAccessDenied})

	fp := storage.NewFootprint()
	fp.Declare(outerID, ledgerKey(t, "k"), storage.ReadWrite)
	res, err := h.Invoke(context.Background(), Invocation{Contract: outerID, Function: "write", Footprint: fp})
	require.NoError(t, err)
	require.Len(t, res.Writes, 1)
}

func TestInvocationsAreDeterministic(t *testing.T) {
	c := NativeContract{"main": func(g *Guest, _ []val.Val) (val.Val, error) {
		r := call(t, g, "prng.bytes_new", val.FromU32(16))
		require.NoError(t, put(g, "r", r))
		topics := call(t, g, "vec.push_back", call(t, g, "vec.new"), val.MustSymbol("draw"))
		call(t, g, "ctx.contract_event", topics, r)
		return g.Call("crypto.compute_hash_sha256", r)
	}}
	cfg := DefaultConfig()
	cfg.Seed[0] = 42
	run := func() *Result {
		h := newHost(t, cfg, WithContract(outerID, c))
		res, err := invoke(t, h, outerID, "main")
		require.NoError(t, err)
		return res
	}
	a, b := run(), run()
	require.True(t, codec.Equal(a.Value, b.Value))
	require.Equal(t, a.Writes, b.Writes)
	require.Equal(t, len(a.Events), len(b.Events))
	require.True(t, codec.Equal(a.Events[0].Data, b.Events[0].Data))
	require.Equal(t, a.Budget.CPUConsumed, b.Budget.CPUConsumed)
	require.Equal(t, a.Budget.MemConsumed, b.Budget.MemConsumed)
	require.NotEqual(t, a.ID, b.ID)

	cfg.Seed[0] = 43
	other := run()
	require.False(t, codec.Equal(a.Value, other.Value))
}

func TestBudgetMonotonicAcrossFrames(t *testing.T) {
	var seen []uint64
	hook := func(ev LifecycleEvent, f *Frame) {
		seen = append(seen, f.Env().Budget().CPUConsumed)
	}
	outer := NativeContract{"main": func(g *Guest, _ []val.Val) (val.Val, error) {
		callInner(t, g, "fail")
		return callInner(t, g, "echo", val.FromU32(1)), nil
	}}
	h := newHost(t, DefaultConfig(), WithContract(outerID, outer), WithContract(innerID, failingInner(t)), WithLifecycleHook(hook))
	res, err := invoke(t, h, outerID, "main")
	require.NoError(t, err)
	require.Len(t, seen, 6)
	for i := 1; i < len(seen); i++ {
		require.GreaterOrEqual(t, seen[i], seen[i-1])
	}
	var sum uint64
	for _, c := range res.Trace.Children {
		sum += c.CPU
	}
	require.LessOrEqual(t, sum, res.Trace.CPU)
	require.Equal(t, uint64(3), res.Budget.Tallies[budget.GuardFrame].Count)
}

func TestBytecodeGuest(t *testing.T) {
	a := pvm.NewAssembler()
	push := a.Import("vec", "push_back", 1)
	a.Export("push")
	a.LoadImm64(pvm.A1, val.FromU32(1).Payload())
	a.Ecalli(push)
	a.Halt()
	a.Export("forge")
	a.LoadImm64(pvm.A0, val.ObjectVal(val.TagVecObject, 3<<1, 0).Payload())
	a.Halt()
	code, err := a.Assemble()
	require.NoError(t, err)

	h := newHost(t, DefaultConfig(), WithContract(outerID, &BytecodeContract{Engine: pvm.NewEngine(), Code: code}))
	res, err := invoke(t, h, outerID, "push", codec.Vec(codec.U32(0)))
	require.NoError(t, err)
	require.True(t, codec.Equal(codec.Vec(codec.U32(0), codec.U32(1)), res.Value), "got %s", res.Value)
	require.Positive(t, res.Budget.Tallies[budget.InsnExec].Count)

	_, err = invoke(t, h, outerID, "forge")
	require.ErrorIs(t, err, &hosterrors.HostError{Kind: hosterrors.KindObjectTypeMismatch, Code: hosterrors.CodeAccessDenied})

	// host errors inside bytecode fail the frame
	_, err = invoke(t, h, outerID, "push", codec.U32(3))
	require.ErrorIs(t, err, hosterrors.ErrInvalidInput)
}

func TestSpansAndTrace(t *testing.T) {
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	outer := NativeContract{"main": func(g *Guest, _ []val.Val) (val.Val, error) {
		g.Log("calling %s", "inner")
		return callInner(t, g, "echo", val.FromU32(5)), nil
	}}
	h := newHost(t, DefaultConfig(), WithContract(outerID, outer), WithContract(innerID, failingInner(t)), WithTracer(tp.Tracer("test")))

	res, err := invoke(t, h, outerID, "main")
	require.NoError(t, err)
	require.True(t, codec.Equal(codec.U32(5), res.Value))

	var names []string
	for _, s := range sr.Ended() {
		names = append(names, s.Name())
	}
	assert.ElementsMatch(t, []string{"frame echo", "frame main", "invoke main"}, names)

	tree := res.Trace.Tree()
	assert.True(t, strings.Contains(tree, ".main returned"), tree)
	assert.True(t, strings.Contains(tree, ".echo returned => 5"), tree)
	require.Len(t, res.Diagnostics, 1)
	assert.Equal(t, "calling inner", res.Diagnostics[0].Message)
}

func TestHostIsReusable(t *testing.T) {
	c := NativeContract{"main": func(g *Guest, args []val.Val) (val.Val, error) {
		return g.Call("vec.len", args[0])
	}}
	h := newHost(t, DefaultConfig(), WithContract(outerID, c))
	var cpu uint64
	for i := 0; i < 3; i++ {
		res, err := invoke(t, h, outerID, "main", codec.Vec(codec.U32(1), codec.U32(2)))
		require.NoError(t, err)
		require.True(t, codec.Equal(codec.U32(2), res.Value))
		if i > 0 {
			require.Equal(t, cpu, res.Budget.CPUConsumed)
		}
		cpu = res.Budget.CPUConsumed
	}
	require.Equal(t, []storage.ContractID{outerID}, h.Contracts())
}
