package bridge

import (
	"context"

	"github.com/colorfulnotion/contracthost/budget"
	"github.com/colorfulnotion/contracthost/log"
	"github.com/colorfulnotion/contracthost/val"
)

// Host is the frame-side half of a bridge call.
type Host interface {
	Linker
	// AttachMemory hands the frame a checked view of the instance memory.
	AttachMemory(mem *LinearMemory)
}

// Run instantiates code on engine and calls fn with args. Arguments and
// the result cross as raw payloads; the result is validated before it is
// handed back.
func Run(ctx context.Context, engine Engine, code []byte, host Host, fn string, args []val.Val) (val.Val, error) {
	if err := host.Charge(budget.InstantiateContract, uint64(len(code))); err != nil {
		return 0, err
	}
	inst, err := engine.Instantiate(ctx, code, host)
	if err != nil {
		return 0, TranslateTrap(err)
	}
	defer func() {
		if cerr := inst.Close(ctx); cerr != nil {
			log.Warn(log.BridgeMonitoring, "instance close failed", "engine", engine.Name(), "err", cerr)
		}
	}()
	if mem := inst.Memory(); mem != nil {
		host.AttachMemory(NewLinearMemory(mem, host))
	}

	raw := make([]uint64, len(args))
	for i, a := range args {
		p, err := FromVal(host, a)
		if err != nil {
			return 0, err
		}
		raw[i] = p
	}
	log.Trace(log.BridgeMonitoring, "call", "engine", engine.Name(), "fn", fn, "args", len(args))
	ret, err := inst.Call(ctx, fn, raw)
	if err != nil {
		return 0, TranslateTrap(err)
	}
	return ToVal(host, ret)
}
