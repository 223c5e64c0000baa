package host

import (
	"slices"

	"github.com/colorfulnotion/contracthost/budget"
	"github.com/colorfulnotion/contracthost/dispatch"
	"github.com/colorfulnotion/contracthost/hosterrors"
	"github.com/colorfulnotion/contracthost/object"
	"github.com/colorfulnotion/contracthost/val"
)

func recEntries() []entry {
	const m = "rec"
	return []entry{
		// new takes field names as a Vec of Symbols in strictly increasing
		// order and a Vec of values of the same length.
		hostfn(m, "new", func(f *Frame, a []val.Val) (val.Val, error) {
			s := f.Store()
			names, err := s.Vec(a[0])
			if err != nil {
				return 0, err
			}
			values, err := s.Vec(a[1])
			if err != nil {
				return 0, err
			}
			if len(names) != len(values) {
				return 0, hosterrors.InvalidInput(hosterrors.CodeUnexpectedSize, "%d fields, %d values", len(names), len(values))
			}
			if err := f.Charge(budget.VecEntry, uint64(len(names))); err != nil {
				return 0, err
			}
			fields := make([]string, len(names))
			for i, n := range names {
				b, err := s.SymbolBytes(n)
				if err != nil {
					return 0, err
				}
				fields[i] = string(b)
				if i > 0 && fields[i-1] >= fields[i] {
					return 0, hosterrors.InvalidInput(hosterrors.CodeInvalidValue, "record fields not strictly increasing at %q", fields[i])
				}
			}
			return s.Add(object.Record{Fields: fields, Values: slices.Clone(values)})
		}, dispatch.Record, dispatch.Vec, dispatch.Vec),
		hostfn(m, "get", func(f *Frame, a []val.Val) (val.Val, error) {
			r, err := f.Store().Record(a[0])
			if err != nil {
				return 0, err
			}
			name, err := f.Store().SymbolBytes(a[1])
			if err != nil {
				return 0, err
			}
			i, ok := slices.BinarySearch(r.Fields, string(name))
			if !ok {
				return 0, hosterrors.InvalidInput(hosterrors.CodeMissingValue, "record has no field %q", name)
			}
			return r.Values[i], nil
		}, dispatch.Any, dispatch.Record, dispatch.Symbol),
		hostfn(m, "len", func(f *Frame, a []val.Val) (val.Val, error) {
			r, err := f.Store().Record(a[0])
			if err != nil {
				return 0, err
			}
			return val.FromU32(uint32(len(r.Fields))), nil
		}, dispatch.U32, dispatch.Record),
		hostfn(m, "fields", func(f *Frame, a []val.Val) (val.Val, error) {
			s := f.Store()
			r, err := s.Record(a[0])
			if err != nil {
				return 0, err
			}
			out := make(object.Vec, len(r.Fields))
			for i, name := range r.Fields {
				if out[i], err = s.SymbolVal([]byte(name)); err != nil {
					return 0, err
				}
			}
			return s.Add(out)
		}, dispatch.Vec, dispatch.Record),
	}
}
