package host

import (
	"sync"

	"github.com/colorfulnotion/contracthost/dispatch"
	"github.com/colorfulnotion/contracthost/hosterrors"
	"github.com/colorfulnotion/contracthost/val"
)

type entry = dispatch.Entry[*Frame]

// hostfn declares version 1 of module.name.
func hostfn(module, name string, h dispatch.Handler[*Frame], ret dispatch.Shape, args ...dispatch.Shape) entry {
	return entry{
		ID:      dispatch.Identifier{Module: module, Function: name, Version: 1},
		Args:    args,
		Ret:     ret,
		Handler: h,
	}
}

// DefaultTable is the host function table shared by every Host. It is
// built once and never mutated.
var DefaultTable = sync.OnceValues(func() (*dispatch.Table[*Frame], error) {
	var all []entry
	for _, mod := range [][]entry{
		intEntries(),
		vecEntries(),
		mapEntries(),
		bufEntries(),
		recEntries(),
		cryptoEntries(),
		prngEntries(),
		ledgerEntries(),
		ctxEntries(),
		callEntries(),
		addrEntries(),
	} {
		all = append(all, mod...)
	}
	return dispatch.NewTable(all)
})

// u32Arg reads a small unsigned argument already checked by the table.
func u32Arg(v val.Val) uint32 {
	x, _ := v.U32()
	return x
}

func indexBounds(i, n int) error {
	return hosterrors.InvalidInput(hosterrors.CodeIndexBounds, "index %d out of bounds for length %d", i, n)
}

// sliceBounds checks the half-open range [start, end) against length n.
func sliceBounds(start, end uint32, n int) error {
	if start > end || int(end) > n {
		return hosterrors.InvalidInput(hosterrors.CodeIndexBounds, "range [%d, %d) out of bounds for length %d", start, end, n)
	}
	return nil
}
