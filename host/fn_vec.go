package host

import (
	"slices"

	"github.com/colorfulnotion/contracthost/budget"
	"github.com/colorfulnotion/contracthost/dispatch"
	"github.com/colorfulnotion/contracthost/hosterrors"
	"github.com/colorfulnotion/contracthost/object"
	"github.com/colorfulnotion/contracthost/val"
)

// Every vec operation that changes contents returns a new Vec; the input
// handle keeps its old value.

func updateVec(f *Frame, v val.Val, fn func(object.Vec) (object.Vec, error)) (val.Val, error) {
	return f.Store().Update(v, func(o object.Object) (object.Object, error) {
		return fn(o.(object.Vec))
	})
}

func vecIndex(f *Frame, v, idx val.Val) (object.Vec, int, error) {
	items, err := f.Store().Vec(v)
	if err != nil {
		return nil, 0, err
	}
	i := int(u32Arg(idx))
	if i >= len(items) {
		return nil, 0, indexBounds(i, len(items))
	}
	return items, i, nil
}

// readVals loads n guest Vals from linear memory and resolves them.
func (f *Frame) readVals(pos, n uint32) ([]val.Val, error) {
	mem, err := f.Memory()
	if err != nil {
		return nil, err
	}
	vs, err := mem.ReadVals(pos, n)
	if err != nil {
		return nil, err
	}
	return f.absoluteAll(vs)
}

// writeVals stores absolute Vals into linear memory as guest handles.
func (f *Frame) writeVals(pos uint32, vs []val.Val) error {
	mem, err := f.Memory()
	if err != nil {
		return err
	}
	rel, err := f.relativeAll(vs)
	if err != nil {
		return err
	}
	return mem.WriteVals(pos, rel)
}

// vecScan returns the index of the first (or last) element equal to x.
func vecScan(f *Frame, v, x val.Val, last bool) (val.Val, error) {
	items, err := f.Store().Vec(v)
	if err != nil {
		return 0, err
	}
	if err := f.Charge(budget.VecEntry, uint64(len(items))); err != nil {
		return 0, err
	}
	for n := range items {
		i := n
		if last {
			i = len(items) - 1 - n
		}
		eq, err := f.Store().Equal(items[i], x)
		if err != nil {
			return 0, err
		}
		if eq {
			return val.FromU32(uint32(i)), nil
		}
	}
	return val.Void, nil
}

func vecEntries() []entry {
	const m = "vec"
	return []entry{
		hostfn(m, "new", func(f *Frame, _ []val.Val) (val.Val, error) {
			return f.Store().Add(object.Vec{})
		}, dispatch.Vec),
		hostfn(m, "put", func(f *Frame, a []val.Val) (val.Val, error) {
			_, i, err := vecIndex(f, a[0], a[1])
			if err != nil {
				return 0, err
			}
			return updateVec(f, a[0], func(items object.Vec) (object.Vec, error) {
				items[i] = a[2]
				return items, nil
			})
		}, dispatch.Vec, dispatch.Vec, dispatch.U32, dispatch.Any),
		hostfn(m, "get", func(f *Frame, a []val.Val) (val.Val, error) {
			items, i, err := vecIndex(f, a[0], a[1])
			if err != nil {
				return 0, err
			}
			return items[i], nil
		}, dispatch.Any, dispatch.Vec, dispatch.U32),
		hostfn(m, "del", func(f *Frame, a []val.Val) (val.Val, error) {
			_, i, err := vecIndex(f, a[0], a[1])
			if err != nil {
				return 0, err
			}
			return updateVec(f, a[0], func(items object.Vec) (object.Vec, error) {
				return slices.Delete(items, i, i+1), nil
			})
		}, dispatch.Vec, dispatch.Vec, dispatch.U32),
		hostfn(m, "len", func(f *Frame, a []val.Val) (val.Val, error) {
			items, err := f.Store().Vec(a[0])
			if err != nil {
				return 0, err
			}
			return val.FromU32(uint32(len(items))), nil
		}, dispatch.U32, dispatch.Vec),
		hostfn(m, "push_front", func(f *Frame, a []val.Val) (val.Val, error) {
			return updateVec(f, a[0], func(items object.Vec) (object.Vec, error) {
				return slices.Insert(items, 0, a[1]), nil
			})
		}, dispatch.Vec, dispatch.Vec, dispatch.Any),
		hostfn(m, "pop_front", func(f *Frame, a []val.Val) (val.Val, error) {
			return updateVec(f, a[0], func(items object.Vec) (object.Vec, error) {
				if len(items) == 0 {
					return nil, indexBounds(0, 0)
				}
				return items[1:], nil
			})
		}, dispatch.Vec, dispatch.Vec),
		hostfn(m, "push_back", func(f *Frame, a []val.Val) (val.Val, error) {
			return updateVec(f, a[0], func(items object.Vec) (object.Vec, error) {
				return append(items, a[1]), nil
			})
		}, dispatch.Vec, dispatch.Vec, dispatch.Any),
		hostfn(m, "pop_back", func(f *Frame, a []val.Val) (val.Val, error) {
			return updateVec(f, a[0], func(items object.Vec) (object.Vec, error) {
				if len(items) == 0 {
					return nil, indexBounds(0, 0)
				}
				return items[:len(items)-1], nil
			})
		}, dispatch.Vec, dispatch.Vec),
		hostfn(m, "front", func(f *Frame, a []val.Val) (val.Val, error) {
			items, err := f.Store().Vec(a[0])
			if err != nil {
				return 0, err
			}
			if len(items) == 0 {
				return 0, indexBounds(0, 0)
			}
			return items[0], nil
		}, dispatch.Any, dispatch.Vec),
		hostfn(m, "back", func(f *Frame, a []val.Val) (val.Val, error) {
			items, err := f.Store().Vec(a[0])
			if err != nil {
				return 0, err
			}
			if len(items) == 0 {
				return 0, indexBounds(0, 0)
			}
			return items[len(items)-1], nil
		}, dispatch.Any, dispatch.Vec),
		hostfn(m, "insert", func(f *Frame, a []val.Val) (val.Val, error) {
			i := int(u32Arg(a[1]))
			return updateVec(f, a[0], func(items object.Vec) (object.Vec, error) {
				if i > len(items) {
					return nil, indexBounds(i, len(items))
				}
				return slices.Insert(items, i, a[2]), nil
			})
		}, dispatch.Vec, dispatch.Vec, dispatch.U32, dispatch.Any),
		hostfn(m, "append", func(f *Frame, a []val.Val) (val.Val, error) {
			tail, err := f.Store().Vec(a[1])
			if err != nil {
				return 0, err
			}
			if err := f.Charge(budget.MemCpy, 8*uint64(len(tail))); err != nil {
				return 0, err
			}
			return updateVec(f, a[0], func(items object.Vec) (object.Vec, error) {
				return append(items, tail...), nil
			})
		}, dispatch.Vec, dispatch.Vec, dispatch.Vec),
		hostfn(m, "slice", func(f *Frame, a []val.Val) (val.Val, error) {
			items, err := f.Store().Vec(a[0])
			if err != nil {
				return 0, err
			}
			start, end := u32Arg(a[1]), u32Arg(a[2])
			if err := sliceBounds(start, end, len(items)); err != nil {
				return 0, err
			}
			if err := f.Charge(budget.MemCpy, 8*uint64(end-start)); err != nil {
				return 0, err
			}
			return f.Store().Add(slices.Clone(items[start:end]))
		}, dispatch.Vec, dispatch.Vec, dispatch.U32, dispatch.U32),
		hostfn(m, "first_index_of", func(f *Frame, a []val.Val) (val.Val, error) {
			return vecScan(f, a[0], a[1], false)
		}, dispatch.Any, dispatch.Vec, dispatch.Any),
		hostfn(m, "last_index_of", func(f *Frame, a []val.Val) (val.Val, error) {
			return vecScan(f, a[0], a[1], true)
		}, dispatch.Any, dispatch.Vec, dispatch.Any),
		// binary_search returns found<<32 | index, where index is the
		// insertion point when not found.
		hostfn(m, "binary_search", func(f *Frame, a []val.Val) (val.Val, error) {
			items, err := f.Store().Vec(a[0])
			if err != nil {
				return 0, err
			}
			var cmpErr error
			i, found := slices.BinarySearchFunc(items, a[1], func(e, x val.Val) int {
				if cmpErr != nil {
					return 0
				}
				if err := f.Charge(budget.VecEntry, 1); err != nil {
					cmpErr = err
					return 0
				}
				c, err := f.Store().Compare(e, x)
				if err != nil {
					cmpErr = err
				}
				return c
			})
			if cmpErr != nil {
				return 0, cmpErr
			}
			r := uint64(i)
			if found {
				r |= 1 << 32
			}
			return f.Store().U64Val(r)
		}, dispatch.U64, dispatch.Vec, dispatch.Any),
		hostfn(m, "new_from_linear_memory", func(f *Frame, a []val.Val) (val.Val, error) {
			items, err := f.readVals(u32Arg(a[0]), u32Arg(a[1]))
			if err != nil {
				return 0, err
			}
			return f.Store().Add(object.Vec(items))
		}, dispatch.Vec, dispatch.U32, dispatch.U32),
		hostfn(m, "unpack_to_linear_memory", func(f *Frame, a []val.Val) (val.Val, error) {
			items, err := f.Store().Vec(a[0])
			if err != nil {
				return 0, err
			}
			if n := u32Arg(a[2]); int(n) != len(items) {
				return 0, hosterrors.InvalidInput(hosterrors.CodeUnexpectedSize, "vec has %d elements, buffer holds %d", len(items), n)
			}
			return val.Void, f.writeVals(u32Arg(a[1]), items)
		}, dispatch.Void, dispatch.Vec, dispatch.U32, dispatch.U32),
	}
}
