package host

import (
	"slices"

	"github.com/colorfulnotion/contracthost/dispatch"
	"github.com/colorfulnotion/contracthost/hosterrors"
	"github.com/colorfulnotion/contracthost/object"
	"github.com/colorfulnotion/contracthost/val"
)

// maxPrngBytes caps a single draw.
const maxPrngBytes = 1 << 16

func prngEntries() []entry {
	const m = "prng"
	return []entry{
		hostfn(m, "bytes_new", func(f *Frame, a []val.Val) (val.Val, error) {
			n := u32Arg(a[0])
			if n > maxPrngBytes {
				return 0, hosterrors.InvalidInput(hosterrors.CodeExceededLimit, "prng draw of %d bytes", n)
			}
			p, err := f.PRNG()
			if err != nil {
				return 0, err
			}
			b := make([]byte, n)
			if err := p.Fill(b); err != nil {
				return 0, err
			}
			return f.Store().Add(object.Bytes(b))
		}, dispatch.Bytes, dispatch.U32),
		hostfn(m, "u64_in_inclusive_range", func(f *Frame, a []val.Val) (val.Val, error) {
			lo, err := f.Store().ToU64(a[0])
			if err != nil {
				return 0, err
			}
			hi, err := f.Store().ToU64(a[1])
			if err != nil {
				return 0, err
			}
			p, err := f.PRNG()
			if err != nil {
				return 0, err
			}
			x, err := p.Uint64InRange(lo, hi)
			if err != nil {
				return 0, err
			}
			return f.Store().U64Val(x)
		}, dispatch.U64, dispatch.U64, dispatch.U64),
		// vec_shuffle is a Fisher-Yates shuffle into a new Vec.
		hostfn(m, "vec_shuffle", func(f *Frame, a []val.Val) (val.Val, error) {
			items, err := f.Store().Vec(a[0])
			if err != nil {
				return 0, err
			}
			p, err := f.PRNG()
			if err != nil {
				return 0, err
			}
			out := slices.Clone(items)
			for i := len(out) - 1; i > 0; i-- {
				j, err := p.Uint64InRange(0, uint64(i))
				if err != nil {
					return 0, err
				}
				out[i], out[j] = out[j], out[i]
			}
			return f.Store().Add(out)
		}, dispatch.Vec, dispatch.Vec),
	}
}
