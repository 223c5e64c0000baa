package bridge

import (
	"context"

	"github.com/colorfulnotion/contracthost/budget"
	"github.com/colorfulnotion/contracthost/hosterrors"
	"github.com/colorfulnotion/contracthost/val"
)

// Meter is the budget slice engines and the bridge charge against.
type Meter interface {
	Charge(ty budget.CostType, size uint64) error
}

// Engine executes contract bytecode. Engines are stateless; all
// per-execution state lives in the Instance.
type Engine interface {
	Name() string
	Instantiate(ctx context.Context, code []byte, linker Linker) (Instance, error)
}

// Linker resolves imports and meters the engine's own work. The host
// implements it once per frame.
type Linker interface {
	Meter
	// Headroom is how much input a charge of ty can still take. Engines
	// that meter inside the guest hand this out as fuel.
	Headroom(ty budget.CostType) uint64
	Resolve(module, name string, version uint32) (*HostFunc, error)
}

// Instance is one instantiated contract. Calls into it are synchronous
// and only suspend at host function boundaries.
type Instance interface {
	Call(ctx context.Context, export string, args []uint64) (uint64, error)
	// Memory may be nil for engines without linear memory.
	Memory() Memory
	Close(ctx context.Context) error
}

// Memory is the raw linear memory an engine exposes. Implementations
// report false instead of panicking on out-of-range access.
type Memory interface {
	Size() uint32
	Read(offset, length uint32) ([]byte, bool)
	Write(offset uint32, data []byte) bool
}

// HostFunc is a resolved import. Engines pass raw payloads; HostFunc
// validates and meters the conversion on both sides.
type HostFunc struct {
	Module  string
	Name    string
	Version uint32
	Arity   int

	meter Meter
	fn    func(ctx context.Context, args []val.Val) (val.Val, error)
}

func NewHostFunc(module, name string, version uint32, arity int, meter Meter,
	fn func(ctx context.Context, args []val.Val) (val.Val, error)) *HostFunc {
	return &HostFunc{Module: module, Name: name, Version: version, Arity: arity, meter: meter, fn: fn}
}

func (h *HostFunc) Call(ctx context.Context, raw []uint64) (uint64, error) {
	if len(raw) != h.Arity {
		return 0, hosterrors.InvalidInput(hosterrors.CodeUnexpectedSize, "%s.%s takes %d arguments, got %d", h.Module, h.Name, h.Arity, len(raw))
	}
	args := make([]val.Val, len(raw))
	for i, p := range raw {
		v, err := ToVal(h.meter, p)
		if err != nil {
			return 0, err
		}
		args[i] = v
	}
	ret, err := h.fn(ctx, args)
	if err != nil {
		return 0, err
	}
	return FromVal(h.meter, ret)
}

// ToVal validates a payload coming out of an engine.
func ToVal(m Meter, payload uint64) (val.Val, error) {
	if err := m.Charge(budget.EngineValConvert, 0); err != nil {
		return 0, err
	}
	return val.FromPayload(payload)
}

// FromVal converts a Val into an engine payload.
func FromVal(m Meter, v val.Val) (uint64, error) {
	if err := m.Charge(budget.EngineValConvert, 0); err != nil {
		return 0, err
	}
	return v.Payload(), nil
}
