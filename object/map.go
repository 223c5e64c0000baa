package object

import (
	"slices"

	"github.com/colorfulnotion/contracthost/budget"
	"github.com/colorfulnotion/contracthost/hosterrors"
	"github.com/colorfulnotion/contracthost/val"
)

// NewMap sorts entries by key and stores them. Duplicate keys are rejected
// rather than silently collapsed.
func (s *Store) NewMap(entries []MapEntry) (val.Val, error) {
	if err := s.meter.Charge(budget.MemCpy, 16*uint64(len(entries))); err != nil {
		return 0, err
	}
	sorted := slices.Clone(entries)
	var cmpErr error
	slices.SortStableFunc(sorted, func(a, b MapEntry) int {
		if cmpErr != nil {
			return 0
		}
		c, err := s.Compare(a.Key, b.Key)
		if err != nil {
			cmpErr = err
		}
		return c
	})
	if cmpErr != nil {
		return 0, cmpErr
	}
	for i := 1; i < len(sorted); i++ {
		c, err := s.Compare(sorted[i-1].Key, sorted[i].Key)
		if err != nil {
			return 0, err
		}
		if c == 0 {
			return 0, hosterrors.InvalidInput(hosterrors.CodeExistingValue, "duplicate map key %s", sorted[i].Key)
		}
	}
	return s.Add(Map(sorted))
}

// MapFind binary searches m for key.
func (s *Store) MapFind(m Map, key val.Val) (int, bool, error) {
	lo, hi := 0, len(m)
	for lo < hi {
		if err := s.meter.Charge(budget.MapEntry, 0); err != nil {
			return 0, false, err
		}
		mid := int(uint(lo+hi) >> 1)
		c, err := s.Compare(m[mid].Key, key)
		if err != nil {
			return 0, false, err
		}
		switch {
		case c == 0:
			return mid, true, nil
		case c < 0:
			lo = mid + 1
		default:
			hi = mid
		}
	}
	return lo, false, nil
}

func (s *Store) MapGet(mv, key val.Val) (val.Val, bool, error) {
	m, err := s.Map(mv)
	if err != nil {
		return 0, false, err
	}
	i, ok, err := s.MapFind(m, key)
	if err != nil || !ok {
		return 0, false, err
	}
	return m[i].Val, true, nil
}

// MapPut returns a new map with key bound to value.
func (s *Store) MapPut(mv, key, value val.Val) (val.Val, error) {
	m, err := s.Map(mv)
	if err != nil {
		return 0, err
	}
	i, found, err := s.MapFind(m, key)
	if err != nil {
		return 0, err
	}
	return s.Update(mv, func(o Object) (Object, error) {
		next := o.(Map)
		if found {
			next[i].Val = value
			return next, nil
		}
		return slices.Insert(next, i, MapEntry{Key: key, Val: value}), nil
	})
}

// MapDel returns a new map without key. A missing key is an error.
func (s *Store) MapDel(mv, key val.Val) (val.Val, error) {
	m, err := s.Map(mv)
	if err != nil {
		return 0, err
	}
	i, found, err := s.MapFind(m, key)
	if err != nil {
		return 0, err
	}
	if !found {
		return 0, hosterrors.InvalidInput(hosterrors.CodeMissingValue, "map key %s not found", key)
	}
	return s.Update(mv, func(o Object) (Object, error) {
		return slices.Delete(o.(Map), i, i+1), nil
	})
}
