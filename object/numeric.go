package object

import (
	"math/big"

	"github.com/holiman/uint256"

	"github.com/colorfulnotion/contracthost/hosterrors"
	"github.com/colorfulnotion/contracthost/val"
)

// The constructors below pick the small form whenever the value fits, so
// every Val the host hands out is canonical.

func (s *Store) U64Val(x uint64) (val.Val, error) {
	if v, ok := val.SmallUnsigned(val.TagU64Small, x); ok {
		return v, nil
	}
	return s.Add(U64(x))
}

func (s *Store) I64Val(x int64) (val.Val, error) {
	if v, ok := val.SmallSigned(val.TagI64Small, x); ok {
		return v, nil
	}
	return s.Add(I64(x))
}

func (s *Store) TimepointVal(x uint64) (val.Val, error) {
	if v, ok := val.SmallUnsigned(val.TagTimepointSmall, x); ok {
		return v, nil
	}
	return s.Add(Timepoint(x))
}

func (s *Store) DurationVal(x uint64) (val.Val, error) {
	if v, ok := val.SmallUnsigned(val.TagDurationSmall, x); ok {
		return v, nil
	}
	return s.Add(Duration(x))
}

func (s *Store) U128Val(hi, lo uint64) (val.Val, error) {
	if hi == 0 {
		if v, ok := val.SmallUnsigned(val.TagU128Small, lo); ok {
			return v, nil
		}
	}
	return s.Add(U128{Hi: hi, Lo: lo})
}

func (s *Store) I128Val(hi int64, lo uint64) (val.Val, error) {
	if (hi == 0 && int64(lo) >= 0) || (hi == -1 && int64(lo) < 0) {
		if v, ok := val.SmallSigned(val.TagI128Small, int64(lo)); ok {
			return v, nil
		}
	}
	return s.Add(I128{Hi: hi, Lo: lo})
}

func (s *Store) U256Val(x *uint256.Int) (val.Val, error) {
	if x.IsUint64() {
		if v, ok := val.SmallUnsigned(val.TagU256Small, x.Uint64()); ok {
			return v, nil
		}
	}
	return s.Add(U256{V: *x})
}

// I256Val takes a two's complement 256-bit value.
func (s *Store) I256Val(x *uint256.Int) (val.Val, error) {
	if lo, ok := int64Of(x); ok {
		if v, ok := val.SmallSigned(val.TagI256Small, lo); ok {
			return v, nil
		}
	}
	return s.Add(I256{V: *x})
}

func int64Of(x *uint256.Int) (int64, bool) {
	lo := int64(x[0])
	ext := uint64(lo >> 63)
	if x[1] == ext && x[2] == ext && x[3] == ext {
		return lo, true
	}
	return 0, false
}

func (s *Store) BigIntVal(x *big.Int) (val.Val, error) {
	return s.Add(BigInt{V: new(big.Int).Set(x)})
}

func (s *Store) ToU64(v val.Val) (uint64, error) {
	return s.unsigned64(v, val.TagU64Small, val.TagU64Object)
}

func (s *Store) ToTimepoint(v val.Val) (uint64, error) {
	return s.unsigned64(v, val.TagTimepointSmall, val.TagTimepointObject)
}

func (s *Store) ToDuration(v val.Val) (uint64, error) {
	return s.unsigned64(v, val.TagDurationSmall, val.TagDurationObject)
}

func (s *Store) unsigned64(v val.Val, small, obj val.Tag) (uint64, error) {
	switch v.Tag() {
	case small:
		return v.SmallU64(), nil
	case obj:
		o, err := s.Get(v)
		if err != nil {
			return 0, err
		}
		switch x := o.(type) {
		case U64:
			return uint64(x), nil
		case Timepoint:
			return uint64(x), nil
		case Duration:
			return uint64(x), nil
		}
	}
	return 0, hosterrors.Conversion(hosterrors.CodeUnexpectedType, "expected %s, got %s", obj, v.Tag())
}

func (s *Store) ToI64(v val.Val) (int64, error) {
	switch v.Tag() {
	case val.TagI64Small:
		return v.SmallI64(), nil
	case val.TagI64Object:
		o, err := s.Get(v)
		if err != nil {
			return 0, err
		}
		return int64(o.(I64)), nil
	}
	return 0, hosterrors.Conversion(hosterrors.CodeUnexpectedType, "expected I64, got %s", v.Tag())
}

func (s *Store) ToU128(v val.Val) (hi, lo uint64, err error) {
	switch v.Tag() {
	case val.TagU128Small:
		return 0, v.SmallU64(), nil
	case val.TagU128Object:
		o, err := s.Get(v)
		if err != nil {
			return 0, 0, err
		}
		x := o.(U128)
		return x.Hi, x.Lo, nil
	}
	return 0, 0, hosterrors.Conversion(hosterrors.CodeUnexpectedType, "expected U128, got %s", v.Tag())
}

func (s *Store) ToI128(v val.Val) (hi int64, lo uint64, err error) {
	switch v.Tag() {
	case val.TagI128Small:
		x := v.SmallI64()
		return x >> 63, uint64(x), nil
	case val.TagI128Object:
		o, err := s.Get(v)
		if err != nil {
			return 0, 0, err
		}
		x := o.(I128)
		return x.Hi, x.Lo, nil
	}
	return 0, 0, hosterrors.Conversion(hosterrors.CodeUnexpectedType, "expected I128, got %s", v.Tag())
}

func (s *Store) ToU256(v val.Val) (*uint256.Int, error) {
	switch v.Tag() {
	case val.TagU256Small:
		return uint256.NewInt(v.SmallU64()), nil
	case val.TagU256Object:
		o, err := s.Get(v)
		if err != nil {
			return nil, err
		}
		x := o.(U256)
		return new(uint256.Int).Set(&x.V), nil
	}
	return nil, hosterrors.Conversion(hosterrors.CodeUnexpectedType, "expected U256, got %s", v.Tag())
}

// ToI256 returns the two's complement form.
func (s *Store) ToI256(v val.Val) (*uint256.Int, error) {
	switch v.Tag() {
	case val.TagI256Small:
		x := v.SmallI64()
		if x >= 0 {
			return uint256.NewInt(uint64(x)), nil
		}
		return new(uint256.Int).Neg(uint256.NewInt(uint64(-x))), nil
	case val.TagI256Object:
		o, err := s.Get(v)
		if err != nil {
			return nil, err
		}
		x := o.(I256)
		return new(uint256.Int).Set(&x.V), nil
	}
	return nil, hosterrors.Conversion(hosterrors.CodeUnexpectedType, "expected I256, got %s", v.Tag())
}

func (s *Store) ToBigInt(v val.Val) (*big.Int, error) {
	b, err := s.BigInt(v)
	if err != nil {
		return nil, err
	}
	return new(big.Int).Set(b.V), nil
}

// SymbolVal stores a symbol, small when it fits.
func (s *Store) SymbolVal(sym []byte) (val.Val, error) {
	if err := val.ValidateSymbol(sym); err != nil {
		return 0, err
	}
	if len(sym) <= val.MaxSmallSymbolLen {
		return val.SymbolSmall(string(sym))
	}
	return s.Add(Symbol(append([]byte(nil), sym...)))
}

func (s *Store) SymbolBytes(v val.Val) ([]byte, error) {
	switch v.Tag() {
	case val.TagSymbolSmall:
		str, err := v.SymbolSmallString()
		return []byte(str), err
	case val.TagSymbolObject:
		sym, err := typed[Symbol](s, v, val.TagSymbolObject)
		return []byte(sym), err
	}
	return nil, hosterrors.Conversion(hosterrors.CodeUnexpectedType, "expected Symbol, got %s", v.Tag())
}
