package host

import (
	"slices"

	"github.com/colorfulnotion/contracthost/codec"
	"github.com/colorfulnotion/contracthost/dispatch"
	"github.com/colorfulnotion/contracthost/hosterrors"
	"github.com/colorfulnotion/contracthost/object"
	"github.com/colorfulnotion/contracthost/storage"
	"github.com/colorfulnotion/contracthost/val"
)

const maxEventTopics = 4

func ctxEntries() []entry {
	const m = "ctx"
	return []entry{
		hostfn(m, "obj_cmp", func(f *Frame, a []val.Val) (val.Val, error) {
			c, err := f.Store().Compare(a[0], a[1])
			return val.FromI32(int32(c)), err
		}, dispatch.I32, dispatch.Any, dispatch.Any),
		hostfn(m, "contract_event", func(f *Frame, a []val.Val) (val.Val, error) {
			topics, err := f.Store().Vec(a[0])
			if err != nil {
				return 0, err
			}
			if len(topics) > maxEventTopics {
				return 0, hosterrors.InvalidInput(hosterrors.CodeExceededLimit, "%d event topics, at most %d", len(topics), maxEventTopics)
			}
			ev := Event{Kind: ContractEvent, Contract: f.contract, Depth: f.depth, Topics: make([]codec.Value, len(topics))}
			for i, t := range topics {
				if ev.Topics[i], err = f.env.FromVal(t); err != nil {
					return 0, err
				}
			}
			if ev.Data, err = f.env.FromVal(a[1]); err != nil {
				return 0, err
			}
			f.env.events = append(f.env.events, ev)
			return val.Void, nil
		}, dispatch.Void, dispatch.Vec, dispatch.Any),
		// log_from_linear_memory is diagnostic only and charges nothing.
		hostfn(m, "log_from_linear_memory", func(f *Frame, a []val.Val) (val.Val, error) {
			mem, err := f.Memory()
			if err != nil {
				return 0, err
			}
			mem = mem.Unmetered()
			msg, err := mem.Read(u32Arg(a[0]), u32Arg(a[1]))
			if err != nil {
				return 0, err
			}
			rel, err := mem.ReadVals(u32Arg(a[2]), u32Arg(a[3]))
			if err != nil {
				return 0, err
			}
			vals, err := f.absoluteAll(rel)
			if err != nil {
				return 0, err
			}
			data := make([]codec.Value, len(vals))
			for i, v := range vals {
				x, err := converter{store: f.Store(), meter: freeMeter{}, ty: 0}.fromVal(v, 0)
				if err != nil {
					x = codec.String(v.String())
				}
				data[i] = x
			}
			f.env.diagnostic(f, string(msg), data...)
			return val.Void, nil
		}, dispatch.Void, dispatch.U32, dispatch.U32, dispatch.U32, dispatch.U32),
		hostfn(m, "get_current_contract_address", func(f *Frame, _ []val.Val) (val.Val, error) {
			return f.Store().Add(object.Address(f.contract))
		}, dispatch.Address),
		// get_invoking_contract is Void for the top-level frame.
		hostfn(m, "get_invoking_contract", func(f *Frame, _ []val.Val) (val.Val, error) {
			if f.parent == nil {
				return val.Void, nil
			}
			return f.Store().Add(object.Address(f.parent.contract))
		}, dispatch.Any),
		hostfn(m, "get_ledger_sequence", func(f *Frame, _ []val.Val) (val.Val, error) {
			return val.FromU32(f.env.Ledger().Sequence), nil
		}, dispatch.U32),
		hostfn(m, "get_ledger_timestamp", func(f *Frame, _ []val.Val) (val.Val, error) {
			return f.Store().TimepointVal(f.env.Ledger().Timestamp)
		}, dispatch.Timepoint),
		hostfn(m, "get_ledger_version", func(f *Frame, _ []val.Val) (val.Val, error) {
			return val.FromU32(f.env.Ledger().ProtocolVersion), nil
		}, dispatch.U32),
		hostfn(m, "get_ledger_network_id", func(f *Frame, _ []val.Val) (val.Val, error) {
			id := f.env.Ledger().NetworkID
			return f.Store().Add(object.Bytes(id[:]))
		}, dispatch.Bytes),
		// fail_with_status never returns normally. Only Contract statuses
		// may be raised by contracts.
		hostfn(m, "fail_with_status", func(f *Frame, a []val.Val) (val.Val, error) {
			k, c, _ := a[0].Status()
			if k != hosterrors.KindContract {
				return 0, hosterrors.InvalidInput(hosterrors.CodeInvalidAction, "contracts may only fail with Contract statuses, got %s", k)
			}
			return 0, hosterrors.New(hosterrors.KindContract, c, "contract %s failed with code %d", f.contract, uint32(c))
		}, dispatch.Void, dispatch.Status),
	}
}

func callEntries() []entry {
	return []entry{
		// call runs fn on another contract. Recoverable failures of the
		// callee come back as a Status Val; its writes and events are
		// undone and the caller continues.
		hostfn("call", "call", func(f *Frame, a []val.Val) (val.Val, error) {
			s := f.Store()
			addr, err := s.Address(a[0])
			if err != nil {
				return 0, err
			}
			name, err := s.SymbolBytes(a[1])
			if err != nil {
				return 0, err
			}
			args, err := s.Vec(a[2])
			if err != nil {
				return 0, err
			}
			ret, err := f.env.call(f.ctx, f, storage.ContractID(addr), string(name), slices.Clone(args))
			if err != nil {
				if hosterrors.IsFatal(err) {
					return 0, err
				}
				return val.StatusFromError(err), nil
			}
			return ret, nil
		}, dispatch.Any, dispatch.Address, dispatch.Symbol, dispatch.Vec),
	}
}

func addrEntries() []entry {
	const m = "addr"
	return []entry{
		hostfn(m, "from_bytes", func(f *Frame, a []val.Val) (val.Val, error) {
			b, err := sizedBytes(f, a[0], 32, "address")
			if err != nil {
				return 0, err
			}
			return f.Store().Add(object.Address(b))
		}, dispatch.Address, dispatch.Bytes),
		hostfn(m, "to_bytes", func(f *Frame, a []val.Val) (val.Val, error) {
			addr, err := f.Store().Address(a[0])
			if err != nil {
				return 0, err
			}
			return f.Store().Add(object.Bytes(addr[:]))
		}, dispatch.Bytes, dispatch.Address),
	}
}
