package object

import (
	"github.com/colorfulnotion/contracthost/budget"
	"github.com/colorfulnotion/contracthost/hosterrors"
	"github.com/colorfulnotion/contracthost/val"
)

// Meter is the slice of the budget the store charges against.
type Meter interface {
	Charge(ty budget.CostType, size uint64) error
}

const generationMask = 1<<24 - 1

type slot struct {
	obj  Object
	gen  uint32
	refs uint32
}

// Store is the per-invocation object arena. Handles are slot indices with
// a generation counter so a reclaimed slot can never be reached through
// an old Val. Every allocation is charged before the arena changes.
type Store struct {
	meter Meter
	slots []slot
	free  []uint32
	live  int
}

func NewStore(m Meter) *Store {
	return &Store{meter: m}
}

// AbsoluteHandle marks host-side handles; relative guest handles have the
// low bit clear.
func AbsoluteHandle(index uint32) uint32 { return index<<1 | 1 }

func IsAbsolute(v val.Val) bool { return v.Handle()&1 == 1 }

// Live is the number of objects currently held by the arena.
func (s *Store) Live() int { return s.live }

func (s *Store) Meter() Meter { return s.meter }

// Add stores obj and returns its Val. Contained object Vals gain a
// reference held by the new container.
func (s *Store) Add(obj Object) (val.Val, error) {
	if err := s.meter.Charge(budget.HostObjAlloc, 0); err != nil {
		return 0, err
	}
	if err := s.meter.Charge(budget.MemAlloc, obj.footprint()); err != nil {
		return 0, err
	}
	kids := obj.children()
	for _, c := range kids {
		if !c.IsObject() {
			continue
		}
		if _, err := s.Get(c); err != nil {
			return 0, err
		}
	}
	for _, c := range kids {
		if c.IsObject() {
			s.slots[c.Handle()>>1].refs++
		}
	}

	var idx uint32
	if n := len(s.free); n > 0 {
		idx = s.free[n-1]
		s.free = s.free[:n-1]
	} else {
		idx = uint32(len(s.slots))
		s.slots = append(s.slots, slot{})
	}
	sl := &s.slots[idx]
	sl.obj = obj
	sl.refs = 0
	s.live++
	return val.ObjectVal(obj.Tag(), AbsoluteHandle(idx), sl.gen&generationMask), nil
}

// Get resolves an absolute object Val. Anything that does not name a live
// slot is a host bug, since guests only ever hold relative handles.
func (s *Store) Get(v val.Val) (Object, error) {
	if !v.IsObject() {
		return nil, hosterrors.TypeMismatch("expected object, got %s", v.Tag())
	}
	h := v.Handle()
	if h&1 == 0 {
		return nil, hosterrors.Invariant("relative handle %d reached the object store", h)
	}
	idx := h >> 1
	if int(idx) >= len(s.slots) {
		return nil, hosterrors.Invariant("handle %d out of range", idx)
	}
	sl := &s.slots[idx]
	if sl.obj == nil || sl.gen&generationMask != v.Generation() {
		return nil, hosterrors.Invariant("stale handle %d gen %d", idx, v.Generation())
	}
	if sl.obj.Tag() != v.Tag() {
		return nil, hosterrors.Invariant("handle %d tagged %s holds %s", idx, v.Tag(), sl.obj.Tag())
	}
	return sl.obj, nil
}

// Retain adds a reference. Non-object Vals are ignored.
func (s *Store) Retain(v val.Val) error {
	if !v.IsObject() {
		return nil
	}
	if _, err := s.Get(v); err != nil {
		return err
	}
	s.slots[v.Handle()>>1].refs++
	return nil
}

// Release drops a reference and reclaims the object and any children
// whose count reaches zero. Reclaimed memory is not refunded.
func (s *Store) Release(v val.Val) error {
	if !v.IsObject() {
		return nil
	}
	if _, err := s.Get(v); err != nil {
		return err
	}
	stack := []val.Val{v}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		sl := &s.slots[cur.Handle()>>1]
		if sl.refs == 0 {
			return hosterrors.Invariant("release of unreferenced object %s", cur)
		}
		sl.refs--
		if sl.refs > 0 {
			continue
		}
		for _, c := range sl.obj.children() {
			if c.IsObject() {
				stack = append(stack, c)
			}
		}
		sl.obj = nil
		sl.gen++
		s.free = append(s.free, cur.Handle()>>1)
		s.live--
	}
	return nil
}

// Update is the clone-on-write path: fn receives a private copy of the
// object behind v and whatever it returns is stored under a new handle.
func (s *Store) Update(v val.Val, fn func(Object) (Object, error)) (val.Val, error) {
	obj, err := s.Get(v)
	if err != nil {
		return 0, err
	}
	if err := s.meter.Charge(budget.MemCpy, obj.footprint()); err != nil {
		return 0, err
	}
	next, err := fn(obj.clone())
	if err != nil {
		return 0, err
	}
	return s.Add(next)
}

func typed[T Object](s *Store, v val.Val, tag val.Tag) (T, error) {
	var zero T
	if v.Tag() != tag {
		return zero, hosterrors.TypeMismatch("expected %s, got %s", tag, v.Tag())
	}
	obj, err := s.Get(v)
	if err != nil {
		return zero, err
	}
	t, ok := obj.(T)
	if !ok {
		return zero, hosterrors.Invariant("object behind %s has type %T", v, obj)
	}
	return t, nil
}

// The typed getters return read-only views. Callers must not modify them.

func (s *Store) Vec(v val.Val) (Vec, error)         { return typed[Vec](s, v, val.TagVecObject) }
func (s *Store) Map(v val.Val) (Map, error)         { return typed[Map](s, v, val.TagMapObject) }
func (s *Store) Bytes(v val.Val) (Bytes, error)     { return typed[Bytes](s, v, val.TagBytesObject) }
func (s *Store) Str(v val.Val) (String, error)      { return typed[String](s, v, val.TagStringObject) }
func (s *Store) Address(v val.Val) (Address, error) { return typed[Address](s, v, val.TagAddressObject) }
func (s *Store) Record(v val.Val) (Record, error)   { return typed[Record](s, v, val.TagRecordObject) }
func (s *Store) BigInt(v val.Val) (BigInt, error)   { return typed[BigInt](s, v, val.TagBigIntObject) }
