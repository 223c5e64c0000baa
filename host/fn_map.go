package host

import (
	"github.com/colorfulnotion/contracthost/budget"
	"github.com/colorfulnotion/contracthost/dispatch"
	"github.com/colorfulnotion/contracthost/hosterrors"
	"github.com/colorfulnotion/contracthost/object"
	"github.com/colorfulnotion/contracthost/val"
)

func mapPos(f *Frame, v, pos val.Val) (object.Map, int, error) {
	m, err := f.Store().Map(v)
	if err != nil {
		return nil, 0, err
	}
	i := int(u32Arg(pos))
	if i >= len(m) {
		return nil, 0, indexBounds(i, len(m))
	}
	return m, i, nil
}

func mapColumn(f *Frame, v val.Val, keys bool) (val.Val, error) {
	m, err := f.Store().Map(v)
	if err != nil {
		return 0, err
	}
	if err := f.Charge(budget.MapEntry, uint64(len(m))); err != nil {
		return 0, err
	}
	out := make(object.Vec, len(m))
	for i, e := range m {
		if keys {
			out[i] = e.Key
		} else {
			out[i] = e.Val
		}
	}
	return f.Store().Add(out)
}

func mapEntries() []entry {
	const m = "map"
	return []entry{
		hostfn(m, "new", func(f *Frame, _ []val.Val) (val.Val, error) {
			return f.Store().NewMap(nil)
		}, dispatch.Map),
		hostfn(m, "put", func(f *Frame, a []val.Val) (val.Val, error) {
			if err := f.Charge(budget.MapEntry, 1); err != nil {
				return 0, err
			}
			return f.Store().MapPut(a[0], a[1], a[2])
		}, dispatch.Map, dispatch.Map, dispatch.Any, dispatch.Any),
		hostfn(m, "get", func(f *Frame, a []val.Val) (val.Val, error) {
			if err := f.Charge(budget.MapEntry, 1); err != nil {
				return 0, err
			}
			v, ok, err := f.Store().MapGet(a[0], a[1])
			if err != nil {
				return 0, err
			}
			if !ok {
				return 0, hosterrors.InvalidInput(hosterrors.CodeMissingValue, "map has no key %s", f.env.describe(a[1]))
			}
			return v, nil
		}, dispatch.Any, dispatch.Map, dispatch.Any),
		hostfn(m, "del", func(f *Frame, a []val.Val) (val.Val, error) {
			if err := f.Charge(budget.MapEntry, 1); err != nil {
				return 0, err
			}
			return f.Store().MapDel(a[0], a[1])
		}, dispatch.Map, dispatch.Map, dispatch.Any),
		hostfn(m, "len", func(f *Frame, a []val.Val) (val.Val, error) {
			mp, err := f.Store().Map(a[0])
			if err != nil {
				return 0, err
			}
			return val.FromU32(uint32(len(mp))), nil
		}, dispatch.U32, dispatch.Map),
		hostfn(m, "has", func(f *Frame, a []val.Val) (val.Val, error) {
			if err := f.Charge(budget.MapEntry, 1); err != nil {
				return 0, err
			}
			_, ok, err := f.Store().MapGet(a[0], a[1])
			return val.FromBool(ok), err
		}, dispatch.Bool, dispatch.Map, dispatch.Any),
		hostfn(m, "key_by_pos", func(f *Frame, a []val.Val) (val.Val, error) {
			mp, i, err := mapPos(f, a[0], a[1])
			if err != nil {
				return 0, err
			}
			return mp[i].Key, nil
		}, dispatch.Any, dispatch.Map, dispatch.U32),
		hostfn(m, "val_by_pos", func(f *Frame, a []val.Val) (val.Val, error) {
			mp, i, err := mapPos(f, a[0], a[1])
			if err != nil {
				return 0, err
			}
			return mp[i].Val, nil
		}, dispatch.Any, dispatch.Map, dispatch.U32),
		hostfn(m, "keys", func(f *Frame, a []val.Val) (val.Val, error) {
			return mapColumn(f, a[0], true)
		}, dispatch.Vec, dispatch.Map),
		hostfn(m, "values", func(f *Frame, a []val.Val) (val.Val, error) {
			return mapColumn(f, a[0], false)
		}, dispatch.Vec, dispatch.Map),
		// new_from_linear_memory reads n keys at keys_pos and n values at
		// vals_pos. Keys need not be sorted; duplicates are rejected.
		hostfn(m, "new_from_linear_memory", func(f *Frame, a []val.Val) (val.Val, error) {
			n := u32Arg(a[2])
			keys, err := f.readVals(u32Arg(a[0]), n)
			if err != nil {
				return 0, err
			}
			vals, err := f.readVals(u32Arg(a[1]), n)
			if err != nil {
				return 0, err
			}
			entries := make([]object.MapEntry, n)
			for i := range entries {
				entries[i] = object.MapEntry{Key: keys[i], Val: vals[i]}
			}
			return f.Store().NewMap(entries)
		}, dispatch.Map, dispatch.U32, dispatch.U32, dispatch.U32),
		hostfn(m, "unpack_to_linear_memory", func(f *Frame, a []val.Val) (val.Val, error) {
			mp, err := f.Store().Map(a[0])
			if err != nil {
				return 0, err
			}
			if n := u32Arg(a[3]); int(n) != len(mp) {
				return 0, hosterrors.InvalidInput(hosterrors.CodeUnexpectedSize, "map has %d entries, buffer holds %d", len(mp), n)
			}
			keys := make([]val.Val, len(mp))
			vals := make([]val.Val, len(mp))
			for i, e := range mp {
				keys[i], vals[i] = e.Key, e.Val
			}
			if err := f.writeVals(u32Arg(a[1]), keys); err != nil {
				return 0, err
			}
			return val.Void, f.writeVals(u32Arg(a[2]), vals)
		}, dispatch.Void, dispatch.Map, dispatch.U32, dispatch.U32, dispatch.U32),
	}
}
