package bridge

import (
	"encoding/binary"

	"github.com/colorfulnotion/contracthost/budget"
	"github.com/colorfulnotion/contracthost/hosterrors"
	"github.com/colorfulnotion/contracthost/val"
)

// LinearMemory is the host's checked view of a guest's memory. Every copy
// is charged before any byte moves.
type LinearMemory struct {
	mem   Memory
	meter Meter
}

func NewLinearMemory(mem Memory, meter Meter) *LinearMemory {
	return &LinearMemory{mem: mem, meter: meter}
}

func (m *LinearMemory) Size() uint32 { return m.mem.Size() }

type freeMeter struct{}

func (freeMeter) Charge(budget.CostType, uint64) error { return nil }

// Unmetered returns a view of the same memory that charges nothing. It is
// for diagnostics, which must not affect the budget.
func (m *LinearMemory) Unmetered() *LinearMemory {
	return &LinearMemory{mem: m.mem, meter: freeMeter{}}
}

func (m *LinearMemory) bounds(offset, length uint32) error {
	end := uint64(offset) + uint64(length)
	if end > uint64(m.mem.Size()) {
		return hosterrors.New(hosterrors.KindEngineTrap, hosterrors.CodeIndexBounds,
			"linear memory access [%d, %d) outside %d bytes", offset, end, m.mem.Size())
	}
	return nil
}

func (m *LinearMemory) Read(offset, length uint32) ([]byte, error) {
	if err := m.bounds(offset, length); err != nil {
		return nil, err
	}
	if err := m.meter.Charge(budget.MemCpy, uint64(length)); err != nil {
		return nil, err
	}
	b, ok := m.mem.Read(offset, length)
	if !ok {
		return nil, hosterrors.New(hosterrors.KindEngineTrap, hosterrors.CodeIndexBounds, "linear memory read at %d", offset)
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out, nil
}

func (m *LinearMemory) Write(offset uint32, data []byte) error {
	if err := m.bounds(offset, uint32(len(data))); err != nil {
		return err
	}
	if err := m.meter.Charge(budget.MemCpy, uint64(len(data))); err != nil {
		return err
	}
	if !m.mem.Write(offset, data) {
		return hosterrors.New(hosterrors.KindEngineTrap, hosterrors.CodeIndexBounds, "linear memory write at %d", offset)
	}
	return nil
}

// ReadVals decodes n consecutive little-endian payloads.
func (m *LinearMemory) ReadVals(offset, n uint32) ([]val.Val, error) {
	if uint64(n)*8 > uint64(^uint32(0)) {
		return nil, hosterrors.New(hosterrors.KindEngineTrap, hosterrors.CodeIndexBounds, "%d vals exceed linear memory", n)
	}
	b, err := m.Read(offset, n*8)
	if err != nil {
		return nil, err
	}
	out := make([]val.Val, n)
	for i := range out {
		v, err := ToVal(m.meter, binary.LittleEndian.Uint64(b[i*8:]))
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func (m *LinearMemory) WriteVals(offset uint32, vs []val.Val) error {
	b := make([]byte, 8*len(vs))
	for i, v := range vs {
		p, err := FromVal(m.meter, v)
		if err != nil {
			return err
		}
		binary.LittleEndian.PutUint64(b[i*8:], p)
	}
	return m.Write(offset, b)
}

// SliceMemory is a Memory over a plain byte slice.
type SliceMemory []byte

func (s SliceMemory) Size() uint32 { return uint32(len(s)) }

func (s SliceMemory) Read(offset, length uint32) ([]byte, bool) {
	end := uint64(offset) + uint64(length)
	if end > uint64(len(s)) {
		return nil, false
	}
	return s[offset:end], true
}

func (s SliceMemory) Write(offset uint32, data []byte) bool {
	end := uint64(offset) + uint64(len(data))
	if end > uint64(len(s)) {
		return false
	}
	copy(s[offset:end], data)
	return true
}
