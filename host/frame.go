package host

import (
	"context"
	"fmt"

	"github.com/colorfulnotion/contracthost/bridge"
	"github.com/colorfulnotion/contracthost/budget"
	"github.com/colorfulnotion/contracthost/hosterrors"
	"github.com/colorfulnotion/contracthost/object"
	"github.com/colorfulnotion/contracthost/storage"
	"github.com/colorfulnotion/contracthost/val"
)

type FrameState uint8

const (
	FrameActive FrameState = iota
	FrameReturned
	FrameFailed
	FrameAborted
)

func (s FrameState) String() string {
	switch s {
	case FrameActive:
		return "active"
	case FrameReturned:
		return "returned"
	case FrameFailed:
		return "failed"
	case FrameAborted:
		return "aborted"
	}
	return fmt.Sprintf("state(%d)", uint8(s))
}

// maxHandles keeps relative handles inside the 31 bits left after the
// absolute flag.
const maxHandles = 1 << 31

// Frame is one contract invocation on the call stack. Guests running in
// the frame only ever hold relative handles: indexes into the frame's own
// table of absolute Vals. A handle that is not in the table cannot be
// named, which is what isolates frames from each other.
type Frame struct {
	env      *Env
	ctx      context.Context
	contract storage.ContractID
	function string
	parent   *Frame
	depth    int

	handles []val.Val
	index   map[val.Val]uint32

	mem  *bridge.LinearMemory
	prng *PRNG

	state       FrameState
	err         error
	cpuAtEntry  uint64
	memAtEntry  uint64
	storageMark int
	eventMark   int
	trace       *FrameTrace
}

func (f *Frame) Contract() storage.ContractID { return f.contract }
func (f *Frame) Function() string             { return f.function }
func (f *Frame) Parent() *Frame               { return f.parent }
func (f *Frame) Depth() int                   { return f.depth }
func (f *Frame) State() FrameState            { return f.state }
func (f *Frame) Err() error                   { return f.err }
func (f *Frame) Env() *Env                    { return f.env }
func (f *Frame) Store() *object.Store         { return f.env.store }
func (f *Frame) Context() context.Context     { return f.ctx }

// Charge meters against the invocation budget; frames have no limit of
// their own.
func (f *Frame) Charge(ty budget.CostType, size uint64) error {
	return f.env.Charge(ty, size)
}

// CPUUsed and MemUsed are the frame's sub-ledger, including children.
func (f *Frame) CPUUsed() uint64 { return f.env.budget.CPUConsumed() - f.cpuAtEntry }
func (f *Frame) MemUsed() uint64 { return f.env.budget.MemConsumed() - f.memAtEntry }

func accessDenied(v val.Val, why string) error {
	return hosterrors.New(hosterrors.KindObjectTypeMismatch, hosterrors.CodeAccessDenied, "%s: %s", v, why)
}

// absolute maps a guest Val onto the store. Non-object Vals pass through.
func (f *Frame) absolute(v val.Val) (val.Val, error) {
	if !v.IsObject() {
		return v, nil
	}
	if object.IsAbsolute(v) {
		return 0, accessDenied(v, "absolute handle from guest")
	}
	i := v.Handle() >> 1
	if int(i) >= len(f.handles) || v.Generation() != 0 {
		return 0, accessDenied(v, "handle not visible in this frame")
	}
	abs := f.handles[i]
	if abs.Tag() != v.Tag() {
		return 0, hosterrors.TypeMismatch("handle %d holds %s, guest claims %s", i, abs.Tag(), v.Tag())
	}
	return abs, nil
}

func (f *Frame) absoluteAll(vs []val.Val) ([]val.Val, error) {
	out := make([]val.Val, len(vs))
	for i, v := range vs {
		abs, err := f.absolute(v)
		if err != nil {
			return nil, err
		}
		out[i] = abs
	}
	return out, nil
}

// relative grants the frame access to an absolute Val and returns the
// handle the guest sees. The frame holds a reference until it is popped.
func (f *Frame) relative(v val.Val) (val.Val, error) {
	if !v.IsObject() {
		return v, nil
	}
	if i, ok := f.index[v]; ok {
		return val.ObjectVal(v.Tag(), i<<1, 0), nil
	}
	if len(f.handles) >= maxHandles {
		return 0, hosterrors.InvalidInput(hosterrors.CodeExceededLimit, "frame handle table full")
	}
	if err := f.env.store.Retain(v); err != nil {
		return 0, err
	}
	i := uint32(len(f.handles))
	f.handles = append(f.handles, v)
	f.index[v] = i
	return val.ObjectVal(v.Tag(), i<<1, 0), nil
}

func (f *Frame) relativeAll(vs []val.Val) ([]val.Val, error) {
	out := make([]val.Val, len(vs))
	for i, v := range vs {
		rel, err := f.relative(v)
		if err != nil {
			return nil, err
		}
		out[i] = rel
	}
	return out, nil
}

// release drops the frame's references.
func (f *Frame) release() error {
	for _, v := range f.handles {
		if err := f.env.store.Release(v); err != nil {
			return err
		}
	}
	f.handles, f.index = nil, nil
	return nil
}

// invokeHost runs table entry i on behalf of the guest. Arguments and the
// result are guest-relative.
func (f *Frame) invokeHost(i int, args []val.Val) (val.Val, error) {
	if f.env.abort != nil {
		return 0, f.env.abort
	}
	abs, err := f.absoluteAll(args)
	if err != nil {
		return 0, f.env.fail(err)
	}
	ret, err := f.env.host.table.DispatchIndex(f, i, abs)
	if err != nil {
		return 0, f.env.fail(err)
	}
	rel, err := f.relative(ret)
	if err != nil {
		return 0, f.env.fail(err)
	}
	return rel, nil
}

func (f *Frame) Headroom(ty budget.CostType) uint64 { return f.env.Headroom(ty) }

// Resolve binds a bytecode import to the dispatch table.
func (f *Frame) Resolve(module, name string, version uint32) (*bridge.HostFunc, error) {
	e, i, ok := f.env.host.table.Lookup(module, name, version)
	if !ok {
		return nil, hosterrors.New(hosterrors.KindMissingFunction, hosterrors.CodeMissingValue, "no host function %s.%s@%d", module, name, version)
	}
	return bridge.NewHostFunc(module, name, version, e.Arity(), f, func(_ context.Context, args []val.Val) (val.Val, error) {
		return f.invokeHost(i, args)
	}), nil
}

func (f *Frame) AttachMemory(mem *bridge.LinearMemory) { f.mem = mem }

// Memory is the running contract's linear memory.
func (f *Frame) Memory() (*bridge.LinearMemory, error) {
	if f.mem == nil {
		return nil, hosterrors.InvalidInput(hosterrors.CodeInvalidAction, "contract %s has no linear memory", f.contract)
	}
	return f.mem, nil
}

// PRNG returns the frame's generator, seeding it from the invocation
// generator on first use.
func (f *Frame) PRNG() (*PRNG, error) {
	if f.prng == nil {
		seed, err := f.env.prng.SubSeed()
		if err != nil {
			return nil, err
		}
		f.prng = NewPRNG(seed, f.env)
	}
	return f.prng, nil
}
