package host

import (
	"bytes"
	"encoding/binary"
	"slices"

	"github.com/colorfulnotion/contracthost/budget"
	"github.com/colorfulnotion/contracthost/codec"
	"github.com/colorfulnotion/contracthost/dispatch"
	"github.com/colorfulnotion/contracthost/hosterrors"
	"github.com/colorfulnotion/contracthost/object"
	"github.com/colorfulnotion/contracthost/val"
)

func updateBytes(f *Frame, v val.Val, fn func(object.Bytes) (object.Bytes, error)) (val.Val, error) {
	return f.Store().Update(v, func(o object.Object) (object.Object, error) {
		return fn(o.(object.Bytes))
	})
}

func byteArg(v val.Val) (byte, error) {
	x := u32Arg(v)
	if x > 0xff {
		return 0, hosterrors.InvalidInput(hosterrors.CodeInvalidValue, "%d is not a byte", x)
	}
	return byte(x), nil
}

func bytesIndex(f *Frame, v, idx val.Val) (object.Bytes, int, error) {
	b, err := f.Store().Bytes(v)
	if err != nil {
		return nil, 0, err
	}
	i := int(u32Arg(idx))
	if i >= len(b) {
		return nil, 0, indexBounds(i, len(b))
	}
	return b, i, nil
}

func (f *Frame) readMemory(pos, n uint32) ([]byte, error) {
	mem, err := f.Memory()
	if err != nil {
		return nil, err
	}
	return mem.Read(pos, n)
}

// copyOut writes src[off:off+n] to linear memory at pos.
func (f *Frame) copyOut(src []byte, off, pos, n uint32) error {
	if uint64(off)+uint64(n) > uint64(len(src)) {
		return hosterrors.InvalidInput(hosterrors.CodeIndexBounds, "range [%d, %d) out of bounds for length %d", off, uint64(off)+uint64(n), len(src))
	}
	mem, err := f.Memory()
	if err != nil {
		return err
	}
	return mem.Write(pos, src[off:off+n])
}

func bufEntries() []entry {
	const m = "buf"
	return []entry{
		hostfn(m, "bytes_new", func(f *Frame, _ []val.Val) (val.Val, error) {
			return f.Store().Add(object.Bytes{})
		}, dispatch.Bytes),
		hostfn(m, "bytes_put", func(f *Frame, a []val.Val) (val.Val, error) {
			_, i, err := bytesIndex(f, a[0], a[1])
			if err != nil {
				return 0, err
			}
			x, err := byteArg(a[2])
			if err != nil {
				return 0, err
			}
			return updateBytes(f, a[0], func(b object.Bytes) (object.Bytes, error) {
				b[i] = x
				return b, nil
			})
		}, dispatch.Bytes, dispatch.Bytes, dispatch.U32, dispatch.U32),
		hostfn(m, "bytes_get", func(f *Frame, a []val.Val) (val.Val, error) {
			b, i, err := bytesIndex(f, a[0], a[1])
			if err != nil {
				return 0, err
			}
			return val.FromU32(uint32(b[i])), nil
		}, dispatch.U32, dispatch.Bytes, dispatch.U32),
		hostfn(m, "bytes_del", func(f *Frame, a []val.Val) (val.Val, error) {
			_, i, err := bytesIndex(f, a[0], a[1])
			if err != nil {
				return 0, err
			}
			return updateBytes(f, a[0], func(b object.Bytes) (object.Bytes, error) {
				return slices.Delete(b, i, i+1), nil
			})
		}, dispatch.Bytes, dispatch.Bytes, dispatch.U32),
		hostfn(m, "bytes_len", func(f *Frame, a []val.Val) (val.Val, error) {
			b, err := f.Store().Bytes(a[0])
			if err != nil {
				return 0, err
			}
			return val.FromU32(uint32(len(b))), nil
		}, dispatch.U32, dispatch.Bytes),
		hostfn(m, "bytes_push", func(f *Frame, a []val.Val) (val.Val, error) {
			x, err := byteArg(a[1])
			if err != nil {
				return 0, err
			}
			return updateBytes(f, a[0], func(b object.Bytes) (object.Bytes, error) {
				return append(b, x), nil
			})
		}, dispatch.Bytes, dispatch.Bytes, dispatch.U32),
		hostfn(m, "bytes_pop", func(f *Frame, a []val.Val) (val.Val, error) {
			return updateBytes(f, a[0], func(b object.Bytes) (object.Bytes, error) {
				if len(b) == 0 {
					return nil, indexBounds(0, 0)
				}
				return b[:len(b)-1], nil
			})
		}, dispatch.Bytes, dispatch.Bytes),
		hostfn(m, "bytes_front", func(f *Frame, a []val.Val) (val.Val, error) {
			b, err := f.Store().Bytes(a[0])
			if err != nil {
				return 0, err
			}
			if len(b) == 0 {
				return 0, indexBounds(0, 0)
			}
			return val.FromU32(uint32(b[0])), nil
		}, dispatch.U32, dispatch.Bytes),
		hostfn(m, "bytes_back", func(f *Frame, a []val.Val) (val.Val, error) {
			b, err := f.Store().Bytes(a[0])
			if err != nil {
				return 0, err
			}
			if len(b) == 0 {
				return 0, indexBounds(0, 0)
			}
			return val.FromU32(uint32(b[len(b)-1])), nil
		}, dispatch.U32, dispatch.Bytes),
		hostfn(m, "bytes_insert", func(f *Frame, a []val.Val) (val.Val, error) {
			i := int(u32Arg(a[1]))
			x, err := byteArg(a[2])
			if err != nil {
				return 0, err
			}
			return updateBytes(f, a[0], func(b object.Bytes) (object.Bytes, error) {
				if i > len(b) {
					return nil, indexBounds(i, len(b))
				}
				return slices.Insert(b, i, x), nil
			})
		}, dispatch.Bytes, dispatch.Bytes, dispatch.U32, dispatch.U32),
		hostfn(m, "bytes_append", func(f *Frame, a []val.Val) (val.Val, error) {
			tail, err := f.Store().Bytes(a[1])
			if err != nil {
				return 0, err
			}
			if err := f.Charge(budget.MemCpy, uint64(len(tail))); err != nil {
				return 0, err
			}
			return updateBytes(f, a[0], func(b object.Bytes) (object.Bytes, error) {
				return append(b, tail...), nil
			})
		}, dispatch.Bytes, dispatch.Bytes, dispatch.Bytes),
		hostfn(m, "bytes_slice", func(f *Frame, a []val.Val) (val.Val, error) {
			b, err := f.Store().Bytes(a[0])
			if err != nil {
				return 0, err
			}
			start, end := u32Arg(a[1]), u32Arg(a[2])
			if err := sliceBounds(start, end, len(b)); err != nil {
				return 0, err
			}
			if err := f.Charge(budget.MemCpy, uint64(end-start)); err != nil {
				return 0, err
			}
			return f.Store().Add(object.Bytes(bytes.Clone(b[start:end])))
		}, dispatch.Bytes, dispatch.Bytes, dispatch.U32, dispatch.U32),
		hostfn(m, "bytes_new_from_linear_memory", func(f *Frame, a []val.Val) (val.Val, error) {
			b, err := f.readMemory(u32Arg(a[0]), u32Arg(a[1]))
			if err != nil {
				return 0, err
			}
			return f.Store().Add(object.Bytes(b))
		}, dispatch.Bytes, dispatch.U32, dispatch.U32),
		hostfn(m, "bytes_copy_to_linear_memory", func(f *Frame, a []val.Val) (val.Val, error) {
			b, err := f.Store().Bytes(a[0])
			if err != nil {
				return 0, err
			}
			return val.Void, f.copyOut(b, u32Arg(a[1]), u32Arg(a[2]), u32Arg(a[3]))
		}, dispatch.Void, dispatch.Bytes, dispatch.U32, dispatch.U32, dispatch.U32),
		// bytes_copy_from_linear_memory overwrites b[b_pos:b_pos+len] with
		// memory, growing b when the range runs past its end.
		hostfn(m, "bytes_copy_from_linear_memory", func(f *Frame, a []val.Val) (val.Val, error) {
			off := int(u32Arg(a[1]))
			src, err := f.readMemory(u32Arg(a[2]), u32Arg(a[3]))
			if err != nil {
				return 0, err
			}
			return updateBytes(f, a[0], func(b object.Bytes) (object.Bytes, error) {
				if off > len(b) {
					return nil, indexBounds(off, len(b))
				}
				if end := off + len(src); end > len(b) {
					b = append(b, make([]byte, end-len(b))...)
				}
				copy(b[off:], src)
				return b, nil
			})
		}, dispatch.Bytes, dispatch.Bytes, dispatch.U32, dispatch.U32, dispatch.U32),

		hostfn(m, "string_new_from_linear_memory", func(f *Frame, a []val.Val) (val.Val, error) {
			b, err := f.readMemory(u32Arg(a[0]), u32Arg(a[1]))
			if err != nil {
				return 0, err
			}
			return f.Store().Add(object.String(b))
		}, dispatch.String, dispatch.U32, dispatch.U32),
		hostfn(m, "string_copy_to_linear_memory", func(f *Frame, a []val.Val) (val.Val, error) {
			s, err := f.Store().Str(a[0])
			if err != nil {
				return 0, err
			}
			return val.Void, f.copyOut(s, u32Arg(a[1]), u32Arg(a[2]), u32Arg(a[3]))
		}, dispatch.Void, dispatch.String, dispatch.U32, dispatch.U32, dispatch.U32),
		hostfn(m, "string_len", func(f *Frame, a []val.Val) (val.Val, error) {
			s, err := f.Store().Str(a[0])
			if err != nil {
				return 0, err
			}
			return val.FromU32(uint32(len(s))), nil
		}, dispatch.U32, dispatch.String),
		hostfn(m, "string_to_bytes", func(f *Frame, a []val.Val) (val.Val, error) {
			s, err := f.Store().Str(a[0])
			if err != nil {
				return 0, err
			}
			if err := f.Charge(budget.MemCpy, uint64(len(s))); err != nil {
				return 0, err
			}
			return f.Store().Add(object.Bytes(bytes.Clone(s)))
		}, dispatch.Bytes, dispatch.String),

		hostfn(m, "symbol_new_from_linear_memory", func(f *Frame, a []val.Val) (val.Val, error) {
			b, err := f.readMemory(u32Arg(a[0]), u32Arg(a[1]))
			if err != nil {
				return 0, err
			}
			v, err := f.Store().SymbolVal(b)
			if err != nil {
				return 0, hosterrors.InvalidInput(hosterrors.CodeInvalidValue, "%v", err)
			}
			return v, nil
		}, dispatch.Symbol, dispatch.U32, dispatch.U32),
		hostfn(m, "symbol_len", func(f *Frame, a []val.Val) (val.Val, error) {
			b, err := f.Store().SymbolBytes(a[0])
			if err != nil {
				return 0, err
			}
			return val.FromU32(uint32(len(b))), nil
		}, dispatch.U32, dispatch.Symbol),
		// symbol_index_in_linear_memory scans n (ptr u32, len u32) slices
		// starting at pos and returns the index of the one equal to sym.
		hostfn(m, "symbol_index_in_linear_memory", func(f *Frame, a []val.Val) (val.Val, error) {
			sym, err := f.Store().SymbolBytes(a[0])
			if err != nil {
				return 0, err
			}
			n := u32Arg(a[2])
			if uint64(n)*8 > uint64(^uint32(0)) {
				return 0, indexBounds(int(n), 0)
			}
			table, err := f.readMemory(u32Arg(a[1]), n*8)
			if err != nil {
				return 0, err
			}
			for i := uint32(0); i < n; i++ {
				ptr := binary.LittleEndian.Uint32(table[i*8:])
				size := binary.LittleEndian.Uint32(table[i*8+4:])
				if int(size) != len(sym) {
					continue
				}
				cand, err := f.readMemory(ptr, size)
				if err != nil {
					return 0, err
				}
				if err := f.Charge(budget.MemCmp, uint64(size)); err != nil {
					return 0, err
				}
				if bytes.Equal(cand, sym) {
					return val.FromU32(i), nil
				}
			}
			return 0, hosterrors.InvalidInput(hosterrors.CodeMissingValue, "symbol %q not in slice table", sym)
		}, dispatch.U32, dispatch.Symbol, dispatch.U32, dispatch.U32),

		hostfn(m, "serialize_to_bytes", func(f *Frame, a []val.Val) (val.Val, error) {
			v, err := f.env.FromVal(a[0])
			if err != nil {
				return 0, err
			}
			b, err := codec.Marshal(v)
			if err != nil {
				return 0, hosterrors.Conversion(hosterrors.CodeInvalidValue, "%v", err)
			}
			return f.Store().Add(object.Bytes(b))
		}, dispatch.Bytes, dispatch.Any),
		hostfn(m, "deserialize_from_bytes", func(f *Frame, a []val.Val) (val.Val, error) {
			b, err := f.Store().Bytes(a[0])
			if err != nil {
				return 0, err
			}
			if err := f.Charge(budget.ValDeser, uint64(len(b))); err != nil {
				return 0, err
			}
			v, err := codec.Unmarshal(b)
			if err != nil {
				return 0, hosterrors.Conversion(hosterrors.CodeInvalidValue, "%v", err)
			}
			return f.env.ToVal(v)
		}, dispatch.Any, dispatch.Bytes),
	}
}
