package object

import (
	"bytes"
	"cmp"
	"strings"

	"github.com/colorfulnotion/contracthost/budget"
	"github.com/colorfulnotion/contracthost/hosterrors"
	"github.com/colorfulnotion/contracthost/val"
)

// Equal is structural equality; handle numbers never matter.
func (s *Store) Equal(a, b val.Val) (bool, error) {
	c, err := s.Compare(a, b)
	return c == 0, err
}

// Compare implements the total order over all Vals: by class first, then
// by value within a class, recursing into containers.
func (s *Store) Compare(a, b val.Val) (int, error) {
	if a == b {
		return 0, nil
	}
	if c, ok := val.CompareImmediate(a, b); ok {
		return c, nil
	}
	if err := s.meter.Charge(budget.VisitObject, 0); err != nil {
		return 0, err
	}
	switch cls := a.Class(); cls {
	case val.ClassU64, val.ClassTimepoint, val.ClassDuration:
		var x, y uint64
		var err error
		switch cls {
		case val.ClassU64:
			if x, err = s.ToU64(a); err == nil {
				y, err = s.ToU64(b)
			}
		case val.ClassTimepoint:
			if x, err = s.ToTimepoint(a); err == nil {
				y, err = s.ToTimepoint(b)
			}
		default:
			if x, err = s.ToDuration(a); err == nil {
				y, err = s.ToDuration(b)
			}
		}
		return cmp.Compare(x, y), err
	case val.ClassI64:
		x, err := s.ToI64(a)
		if err != nil {
			return 0, err
		}
		y, err := s.ToI64(b)
		return cmp.Compare(x, y), err
	case val.ClassU128:
		xh, xl, err := s.ToU128(a)
		if err != nil {
			return 0, err
		}
		yh, yl, err := s.ToU128(b)
		if err != nil {
			return 0, err
		}
		if c := cmp.Compare(xh, yh); c != 0 {
			return c, nil
		}
		return cmp.Compare(xl, yl), nil
	case val.ClassI128:
		xh, xl, err := s.ToI128(a)
		if err != nil {
			return 0, err
		}
		yh, yl, err := s.ToI128(b)
		if err != nil {
			return 0, err
		}
		if c := cmp.Compare(xh, yh); c != 0 {
			return c, nil
		}
		return cmp.Compare(xl, yl), nil
	case val.ClassU256:
		x, err := s.ToU256(a)
		if err != nil {
			return 0, err
		}
		y, err := s.ToU256(b)
		if err != nil {
			return 0, err
		}
		return x.Cmp(y), nil
	case val.ClassI256:
		x, err := s.ToI256(a)
		if err != nil {
			return 0, err
		}
		y, err := s.ToI256(b)
		if err != nil {
			return 0, err
		}
		switch {
		case x.Slt(y):
			return -1, nil
		case x.Sgt(y):
			return 1, nil
		}
		return 0, nil
	case val.ClassBytes:
		x, err := s.Bytes(a)
		if err != nil {
			return 0, err
		}
		y, err := s.Bytes(b)
		if err != nil {
			return 0, err
		}
		return s.compareBytes(x, y)
	case val.ClassString:
		x, err := s.Str(a)
		if err != nil {
			return 0, err
		}
		y, err := s.Str(b)
		if err != nil {
			return 0, err
		}
		return s.compareBytes(x, y)
	case val.ClassSymbol:
		x, err := s.SymbolBytes(a)
		if err != nil {
			return 0, err
		}
		y, err := s.SymbolBytes(b)
		if err != nil {
			return 0, err
		}
		return s.compareBytes(x, y)
	case val.ClassAddress:
		x, err := s.Address(a)
		if err != nil {
			return 0, err
		}
		y, err := s.Address(b)
		if err != nil {
			return 0, err
		}
		return s.compareBytes(x[:], y[:])
	case val.ClassBigInt:
		x, err := s.BigInt(a)
		if err != nil {
			return 0, err
		}
		y, err := s.BigInt(b)
		if err != nil {
			return 0, err
		}
		return x.V.Cmp(y.V), nil
	case val.ClassVec:
		x, err := s.Vec(a)
		if err != nil {
			return 0, err
		}
		y, err := s.Vec(b)
		if err != nil {
			return 0, err
		}
		return s.compareSeq(x, y)
	case val.ClassMap:
		x, err := s.Map(a)
		if err != nil {
			return 0, err
		}
		y, err := s.Map(b)
		if err != nil {
			return 0, err
		}
		for i := 0; i < min(len(x), len(y)); i++ {
			if c, err := s.Compare(x[i].Key, y[i].Key); err != nil || c != 0 {
				return c, err
			}
			if c, err := s.Compare(x[i].Val, y[i].Val); err != nil || c != 0 {
				return c, err
			}
		}
		return cmp.Compare(len(x), len(y)), nil
	case val.ClassRecord:
		x, err := s.Record(a)
		if err != nil {
			return 0, err
		}
		y, err := s.Record(b)
		if err != nil {
			return 0, err
		}
		for i := 0; i < min(len(x.Fields), len(y.Fields)); i++ {
			if c := strings.Compare(x.Fields[i], y.Fields[i]); c != 0 {
				return c, nil
			}
		}
		if c := cmp.Compare(len(x.Fields), len(y.Fields)); c != 0 {
			return c, nil
		}
		return s.compareSeq(x.Values, y.Values)
	}
	return 0, hosterrors.Invariant("compare of unordered class %d", a.Class())
}

func (s *Store) compareBytes(x, y []byte) (int, error) {
	if err := s.meter.Charge(budget.MemCmp, uint64(min(len(x), len(y)))); err != nil {
		return 0, err
	}
	return bytes.Compare(x, y), nil
}

func (s *Store) compareSeq(x, y []val.Val) (int, error) {
	for i := 0; i < min(len(x), len(y)); i++ {
		if c, err := s.Compare(x[i], y[i]); err != nil || c != 0 {
			return c, err
		}
	}
	return cmp.Compare(len(x), len(y)), nil
}
