package host

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/colorfulnotion/contracthost/budget"
	"github.com/colorfulnotion/contracthost/codec"
	"github.com/colorfulnotion/contracthost/hosterrors"
	"github.com/colorfulnotion/contracthost/log"
	"github.com/colorfulnotion/contracthost/object"
	"github.com/colorfulnotion/contracthost/storage"
	"github.com/colorfulnotion/contracthost/val"
)

// Env is the state of a single invocation. It owns the budget, the object
// store, the storage overlay and the call stack; nothing in it outlives
// Invoke.
type Env struct {
	host    *Host
	id      uuid.UUID
	budget  *budget.Budget
	store   *object.Store
	storage *storage.Storage
	prng    *PRNG
	log     *log.Logger

	frames      []*Frame
	top         *Frame
	events      []Event
	diagnostics []Event

	// abort is latched by the first fatal error. Once set, every charge
	// and host call fails with it, whatever the guest did with the error.
	abort *hosterrors.Abort
	root  *FrameTrace
}

func (h *Host) newEnv(inv Invocation) *Env {
	snap := inv.Snapshot
	if snap == nil {
		snap = storage.NewMemorySnapshot()
	}
	fp := inv.Footprint
	if fp == nil {
		fp = storage.NewFootprint()
	}
	e := &Env{
		host:    h,
		id:      uuid.New(),
		budget:  budget.New(h.cfg.Limits, h.cfg.CostParams),
		storage: storage.New(snap, h.cfg.FootprintMode, fp),
	}
	e.log = log.New("invocation", e.id)
	e.store = object.NewStore(e)
	e.prng = NewPRNG(h.cfg.Seed, e)
	return e
}

func (e *Env) ID() uuid.UUID              { return e.id }
func (e *Env) Budget() budget.Report      { return e.budget.Report() }
func (e *Env) Ledger() LedgerInfo         { return e.host.cfg.Ledger }
func (e *Env) Aborted() *hosterrors.Abort { return e.abort }

func (e *Env) Charge(ty budget.CostType, size uint64) error {
	if e.abort != nil {
		return e.abort
	}
	if err := e.budget.Charge(ty, size); err != nil {
		return e.fail(err)
	}
	return nil
}

func (e *Env) Headroom(ty budget.CostType) uint64 {
	if e.abort != nil {
		return 0
	}
	return e.budget.Headroom(ty)
}

// fail latches fatal errors. Errors outside the taxonomy are treated as
// invariant violations.
func (e *Env) fail(err error) error {
	if e.abort != nil {
		return e.abort
	}
	if _, ab := hosterrors.Classify(err); ab != nil {
		e.abort = ab
		e.log.Debug(log.FrameMonitoring, "invocation aborted", "kind", ab.Kind, "err", ab.Msg)
		return ab
	}
	return err
}

// ToVal converts an external value into the object store, charging
// ValDeser per node.
func (e *Env) ToVal(v codec.Value) (val.Val, error) {
	if err := v.Validate(); err != nil {
		return 0, err
	}
	return converter{store: e.store, meter: e, ty: budget.ValDeser}.toVal(v, 0)
}

// FromVal converts a store value to its external form, charging ValSer
// per node.
func (e *Env) FromVal(v val.Val) (codec.Value, error) {
	return converter{store: e.store, meter: e, ty: budget.ValSer}.fromVal(v, 0)
}

// describe renders v for diagnostics without charging.
func (e *Env) describe(v val.Val) string {
	x, err := converter{store: e.store, meter: freeMeter{}, ty: budget.ValSer}.fromVal(v, 0)
	if err != nil {
		return v.String()
	}
	return x.String()
}

type freeMeter struct{}

func (freeMeter) Charge(budget.CostType, uint64) error { return nil }

// diagnostic records an uncharged event.
func (e *Env) diagnostic(f *Frame, msg string, data ...codec.Value) {
	ev := Event{Kind: DiagnosticEvent, Message: msg, Data: codec.Vec(data...)}
	if f != nil {
		ev.Contract, ev.Depth = f.contract, f.depth
	}
	e.diagnostics = append(e.diagnostics, ev)
	e.log.Debug(log.HostMonitoring, "diagnostic", "event", ev.String())
}

func (e *Env) current() *Frame {
	if len(e.frames) == 0 {
		return nil
	}
	return e.frames[len(e.frames)-1]
}

// call runs fn on a contract in a new frame. args and the result are
// absolute. Failure of the child leaves the caller's writes and events
// untouched and undoes the child's.
func (e *Env) call(ctx context.Context, parent *Frame, id storage.ContractID, fn string, args []val.Val) (val.Val, error) {
	if e.abort != nil {
		return 0, e.abort
	}
	depth := 0
	if parent != nil {
		depth = parent.depth + 1
	}
	if depth >= e.host.cfg.MaxDepth {
		return 0, hosterrors.InvalidInput(hosterrors.CodeExceededLimit, "call depth %d exceeds limit %d", depth+1, e.host.cfg.MaxDepth)
	}
	c, ok := e.host.contracts[id]
	if !ok {
		return 0, hosterrors.New(hosterrors.KindMissingFunction, hosterrors.CodeMissingValue, "no contract %s", id)
	}
	if err := e.Charge(budget.GuardFrame, 0); err != nil {
		return 0, err
	}

	f := e.push(ctx, parent, id, fn, depth)
	ret, err := e.enter(f, c, args)
	return e.pop(f, ret, err)
}

func (e *Env) push(ctx context.Context, parent *Frame, id storage.ContractID, fn string, depth int) *Frame {
	f := &Frame{
		env:         e,
		ctx:         ctx,
		contract:    id,
		function:    fn,
		parent:      parent,
		depth:       depth,
		index:       make(map[val.Val]uint32),
		cpuAtEntry:  e.budget.CPUConsumed(),
		memAtEntry:  e.budget.MemConsumed(),
		storageMark: e.storage.Checkpoint(),
		eventMark:   len(e.events),
	}
	f.trace = &FrameTrace{Contract: id, Function: fn, Depth: depth}
	if parent != nil {
		parent.trace.Children = append(parent.trace.Children, f.trace)
	} else {
		e.root = f.trace
		e.top = f
	}
	e.frames = append(e.frames, f)
	e.log.Debug(log.FrameMonitoring, "frame pushed", "contract", id, "fn", fn, "depth", depth)
	if e.host.hook != nil {
		e.host.hook(FramePushed, f)
	}
	return f
}

func (e *Env) enter(f *Frame, c Contract, args []val.Val) (val.Val, error) {
	rel, err := f.relativeAll(args)
	if err != nil {
		return 0, e.fail(err)
	}
	ctx, span := e.host.tracer.Start(f.ctx, "frame "+f.function, trace.WithAttributes(
		attribute.String("contract", f.contract.String()),
		attribute.Int("depth", f.depth),
	))
	defer span.End()
	f.ctx = ctx

	ret, err := c.Run(ctx, &Guest{f: f}, f.function, rel)
	if e.abort != nil {
		err = e.abort
	}
	if err == nil {
		ret, err = f.absolute(ret)
	}
	if err != nil {
		err = e.fail(err)
		spanStatus(span, err)
		return 0, err
	}
	spanStatus(span, nil)
	return ret, nil
}

// pop hands a successful result to the parent's handle table before the
// child's references are dropped. The top frame is released by Invoke
// once the result has been converted.
func (e *Env) pop(f *Frame, ret val.Val, err error) (val.Val, error) {
	e.frames = e.frames[:len(e.frames)-1]
	f.trace.CPU, f.trace.Mem = f.CPUUsed(), f.MemUsed()
	defer func() {
		f.trace.State = f.state
		e.log.Debug(log.FrameMonitoring, "frame popped", "contract", f.contract, "fn", f.function, "state", f.state, "cpu", f.trace.CPU)
		if e.host.hook != nil {
			e.host.hook(FramePopped, f)
		}
	}()

	if err == nil && f.parent != nil {
		if _, rerr := f.parent.relative(ret); rerr != nil {
			err = e.fail(rerr)
		}
	}
	if err != nil {
		f.err = err
		if hosterrors.IsFatal(err) {
			f.state = FrameAborted
		} else {
			f.state = FrameFailed
			e.storage.Rollback(f.storageMark)
			e.events = e.events[:f.eventMark]
		}
		f.trace.Result = hosterrors.GetErrorName(err)
		e.diagnostic(f, fmt.Sprintf("frame failed: %v", err))
		if rerr := f.release(); rerr != nil {
			return 0, e.fail(rerr)
		}
		return 0, err
	}

	f.state = FrameReturned
	f.trace.Result = e.describe(ret)
	if f.parent != nil {
		if rerr := f.release(); rerr != nil {
			return 0, e.fail(rerr)
		}
	}
	return ret, nil
}

// invoke runs the top-level call and converts its result.
func (e *Env) invoke(ctx context.Context, inv Invocation) (codec.Value, error) {
	args := make([]val.Val, len(inv.Args))
	for i, a := range inv.Args {
		v, err := e.ToVal(a)
		if err != nil {
			return codec.Value{}, e.fail(err)
		}
		args[i] = v
	}
	ret, err := e.call(ctx, nil, inv.Contract, inv.Function, args)
	if err != nil {
		return codec.Value{}, err
	}
	out, err := e.FromVal(ret)
	if err != nil {
		return codec.Value{}, e.fail(err)
	}
	if err := e.top.release(); err != nil {
		return codec.Value{}, e.fail(err)
	}
	if e.abort != nil {
		return codec.Value{}, e.abort
	}
	return out, nil
}

// spanStatus marks span with the outcome of an invocation.
func spanStatus(span trace.Span, err error) {
	if err == nil {
		span.SetStatus(codes.Ok, "")
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, hosterrors.GetErrorName(err))
}
