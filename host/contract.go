package host

import (
	"context"
	"fmt"

	"github.com/colorfulnotion/contracthost/bridge"
	"github.com/colorfulnotion/contracthost/codec"
	"github.com/colorfulnotion/contracthost/dispatch"
	"github.com/colorfulnotion/contracthost/hosterrors"
	"github.com/colorfulnotion/contracthost/storage"
	"github.com/colorfulnotion/contracthost/val"
)

// Contract is code the host can run in a frame. args and the result are
// relative to the frame.
type Contract interface {
	Run(ctx context.Context, g *Guest, fn string, args []val.Val) (val.Val, error)
}

// NativeFunc is a contract function written in Go. It reaches the host
// only through g, under the same metering and isolation as bytecode.
type NativeFunc func(g *Guest, args []val.Val) (val.Val, error)

type NativeContract map[string]NativeFunc

func (c NativeContract) Run(_ context.Context, g *Guest, fn string, args []val.Val) (val.Val, error) {
	f, ok := c[fn]
	if !ok {
		return 0, hosterrors.New(hosterrors.KindMissingFunction, hosterrors.CodeMissingValue, "contract %s has no function %q", g.f.contract, fn)
	}
	return f(g, args)
}

// BytecodeContract runs Code on Engine. The engine instance lives for one
// frame.
type BytecodeContract struct {
	Engine bridge.Engine
	Code   []byte
}

func (c *BytecodeContract) Run(ctx context.Context, g *Guest, fn string, args []val.Val) (val.Val, error) {
	return bridge.Run(ctx, c.Engine, c.Code, g.f, fn, args)
}

type LifecycleEvent uint8

const (
	FramePushed LifecycleEvent = iota
	FramePopped
)

func (ev LifecycleEvent) String() string {
	if ev == FramePopped {
		return "popped"
	}
	return "pushed"
}

// LifecycleHook observes frame pushes and pops. It must not call back
// into the host.
type LifecycleHook func(ev LifecycleEvent, f *Frame)

// Guest is the view a native contract has of its frame.
type Guest struct {
	f *Frame
}

func (g *Guest) Contract() storage.ContractID { return g.f.contract }
func (g *Guest) Depth() int                   { return g.f.depth }
func (g *Guest) Context() context.Context     { return g.f.ctx }

// Call invokes a host function by name, "module.function" or
// "module.function@version".
func (g *Guest) Call(name string, args ...val.Val) (val.Val, error) {
	id, err := dispatch.ParseIdentifier(name)
	if err != nil {
		return 0, g.f.env.fail(hosterrors.New(hosterrors.KindMissingFunction, hosterrors.CodeInvalidValue, "%v", err))
	}
	_, i, ok := g.f.env.host.table.Lookup(id.Module, id.Function, id.Version)
	if !ok {
		return 0, g.f.env.fail(hosterrors.New(hosterrors.KindMissingFunction, hosterrors.CodeMissingValue, "no host function %s", id))
	}
	return g.f.invokeHost(i, args)
}

// Log records a diagnostic event. It is not charged.
func (g *Guest) Log(format string, args ...any) {
	g.f.env.diagnostic(g.f, fmt.Sprintf(format, args...))
}

// Value converts an external value into a handle for this frame.
func (g *Guest) Value(v codec.Value) (val.Val, error) {
	abs, err := g.f.env.ToVal(v)
	if err != nil {
		return 0, g.f.env.fail(err)
	}
	return g.f.relative(abs)
}

// Decode converts a handle held by this frame to its external form.
func (g *Guest) Decode(v val.Val) (codec.Value, error) {
	abs, err := g.f.absolute(v)
	if err != nil {
		return codec.Value{}, g.f.env.fail(err)
	}
	out, err := g.f.env.FromVal(abs)
	if err != nil {
		return codec.Value{}, g.f.env.fail(err)
	}
	return out, nil
}
