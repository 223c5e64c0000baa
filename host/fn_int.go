package host

import (
	"math/big"
	"math/bits"

	"github.com/holiman/uint256"

	"github.com/colorfulnotion/contracthost/budget"
	"github.com/colorfulnotion/contracthost/dispatch"
	"github.com/colorfulnotion/contracthost/hosterrors"
	"github.com/colorfulnotion/contracthost/object"
	"github.com/colorfulnotion/contracthost/val"
)

// 64-bit values travel as two U32 words because every host function
// argument is a Val. word 0 is the low half.

// maxBigIntBits bounds BigInt results so a loop of multiplications cannot
// outrun the memory model.
const maxBigIntBits = 8192

func join64(args []val.Val) uint64 {
	return uint64(u32Arg(args[0]))<<32 | uint64(u32Arg(args[1]))
}

func word64(x uint64, w val.Val) (val.Val, error) {
	switch u32Arg(w) {
	case 0:
		return val.FromU32(uint32(x)), nil
	case 1:
		return val.FromU32(uint32(x >> 32)), nil
	}
	return 0, hosterrors.InvalidInput(hosterrors.CodeIndexBounds, "word %d of a 64-bit value", u32Arg(w))
}

func arithDomain(format string, args ...any) error {
	return hosterrors.InvalidInput(hosterrors.CodeArithDomain, format, args...)
}

func intEntries() []entry {
	const m = "int"
	return []entry{
		hostfn(m, "obj_from_u64", func(f *Frame, a []val.Val) (val.Val, error) {
			return f.Store().U64Val(join64(a))
		}, dispatch.U64, dispatch.U32, dispatch.U32),
		hostfn(m, "obj_to_u64", func(f *Frame, a []val.Val) (val.Val, error) {
			x, err := f.Store().ToU64(a[0])
			if err != nil {
				return 0, err
			}
			return word64(x, a[1])
		}, dispatch.U32, dispatch.U64, dispatch.U32),
		hostfn(m, "obj_from_i64", func(f *Frame, a []val.Val) (val.Val, error) {
			return f.Store().I64Val(int64(join64(a)))
		}, dispatch.I64, dispatch.U32, dispatch.U32),
		hostfn(m, "obj_to_i64", func(f *Frame, a []val.Val) (val.Val, error) {
			x, err := f.Store().ToI64(a[0])
			if err != nil {
				return 0, err
			}
			return word64(uint64(x), a[1])
		}, dispatch.U32, dispatch.I64, dispatch.U32),
		hostfn(m, "timepoint_from_u64", func(f *Frame, a []val.Val) (val.Val, error) {
			return f.Store().TimepointVal(join64(a))
		}, dispatch.Timepoint, dispatch.U32, dispatch.U32),
		hostfn(m, "timepoint_to_u64", func(f *Frame, a []val.Val) (val.Val, error) {
			x, err := f.Store().ToTimepoint(a[0])
			if err != nil {
				return 0, err
			}
			return word64(x, a[1])
		}, dispatch.U32, dispatch.Timepoint, dispatch.U32),
		hostfn(m, "duration_from_u64", func(f *Frame, a []val.Val) (val.Val, error) {
			return f.Store().DurationVal(join64(a))
		}, dispatch.Duration, dispatch.U32, dispatch.U32),
		hostfn(m, "duration_to_u64", func(f *Frame, a []val.Val) (val.Val, error) {
			x, err := f.Store().ToDuration(a[0])
			if err != nil {
				return 0, err
			}
			return word64(x, a[1])
		}, dispatch.U32, dispatch.Duration, dispatch.U32),

		hostfn(m, "obj_from_u128_pieces", func(f *Frame, a []val.Val) (val.Val, error) {
			s := f.Store()
			hi, err := s.ToU64(a[0])
			if err != nil {
				return 0, err
			}
			lo, err := s.ToU64(a[1])
			if err != nil {
				return 0, err
			}
			return s.U128Val(hi, lo)
		}, dispatch.U128, dispatch.U64, dispatch.U64),
		hostfn(m, "obj_to_u128_lo64", func(f *Frame, a []val.Val) (val.Val, error) {
			_, lo, err := f.Store().ToU128(a[0])
			if err != nil {
				return 0, err
			}
			return f.Store().U64Val(lo)
		}, dispatch.U64, dispatch.U128),
		hostfn(m, "obj_to_u128_hi64", func(f *Frame, a []val.Val) (val.Val, error) {
			hi, _, err := f.Store().ToU128(a[0])
			if err != nil {
				return 0, err
			}
			return f.Store().U64Val(hi)
		}, dispatch.U64, dispatch.U128),
		hostfn(m, "obj_from_i128_pieces", func(f *Frame, a []val.Val) (val.Val, error) {
			s := f.Store()
			hi, err := s.ToI64(a[0])
			if err != nil {
				return 0, err
			}
			lo, err := s.ToU64(a[1])
			if err != nil {
				return 0, err
			}
			return s.I128Val(hi, lo)
		}, dispatch.I128, dispatch.I64, dispatch.U64),
		hostfn(m, "obj_to_i128_lo64", func(f *Frame, a []val.Val) (val.Val, error) {
			_, lo, err := f.Store().ToI128(a[0])
			if err != nil {
				return 0, err
			}
			return f.Store().U64Val(lo)
		}, dispatch.U64, dispatch.I128),
		hostfn(m, "obj_to_i128_hi64", func(f *Frame, a []val.Val) (val.Val, error) {
			hi, _, err := f.Store().ToI128(a[0])
			if err != nil {
				return 0, err
			}
			return f.Store().I64Val(hi)
		}, dispatch.I64, dispatch.I128),
		hostfn(m, "obj_from_u256_pieces", u256FromPieces,
			dispatch.U256, dispatch.U64, dispatch.U64, dispatch.U64, dispatch.U64),
		hostfn(m, "u256_val_from_be_bytes", func(f *Frame, a []val.Val) (val.Val, error) {
			b, err := f.Store().Bytes(a[0])
			if err != nil {
				return 0, err
			}
			if len(b) > 32 {
				return 0, hosterrors.InvalidInput(hosterrors.CodeUnexpectedSize, "%d bytes do not fit in u256", len(b))
			}
			return f.Store().U256Val(new(uint256.Int).SetBytes(b))
		}, dispatch.U256, dispatch.Bytes),
		hostfn(m, "u256_val_to_be_bytes", func(f *Frame, a []val.Val) (val.Val, error) {
			x, err := f.Store().ToU256(a[0])
			if err != nil {
				return 0, err
			}
			be := x.Bytes32()
			return f.Store().Add(object.Bytes(be[:]))
		}, dispatch.Bytes, dispatch.U256),

		hostfn(m, "u256_add", u256Op(budget.Int256AddSub, func(x, y *uint256.Int) (*uint256.Int, error) {
			r, over := new(uint256.Int).AddOverflow(x, y)
			if over {
				return nil, arithDomain("u256 add overflow")
			}
			return r, nil
		}), dispatch.U256, dispatch.U256, dispatch.U256),
		hostfn(m, "u256_sub", u256Op(budget.Int256AddSub, func(x, y *uint256.Int) (*uint256.Int, error) {
			r, under := new(uint256.Int).SubOverflow(x, y)
			if under {
				return nil, arithDomain("u256 sub underflow")
			}
			return r, nil
		}), dispatch.U256, dispatch.U256, dispatch.U256),
		hostfn(m, "u256_mul", u256Op(budget.Int256Mul, u256Mul), dispatch.U256, dispatch.U256, dispatch.U256),
		hostfn(m, "u256_div", u256Op(budget.Int256Div, func(x, y *uint256.Int) (*uint256.Int, error) {
			if y.IsZero() {
				return nil, arithDomain("u256 division by zero")
			}
			return new(uint256.Int).Div(x, y), nil
		}), dispatch.U256, dispatch.U256, dispatch.U256),
		hostfn(m, "u256_rem_euclid", u256Op(budget.Int256Div, func(x, y *uint256.Int) (*uint256.Int, error) {
			if y.IsZero() {
				return nil, arithDomain("u256 remainder by zero")
			}
			return new(uint256.Int).Mod(x, y), nil
		}), dispatch.U256, dispatch.U256, dispatch.U256),
		hostfn(m, "u256_pow", func(f *Frame, a []val.Val) (val.Val, error) {
			return intPow(f, a, false, u256Mul)
		}, dispatch.U256, dispatch.U256, dispatch.U32),
		hostfn(m, "u256_shl", func(f *Frame, a []val.Val) (val.Val, error) {
			return intShift(f, a, false, func(x *uint256.Int, n uint) *uint256.Int { return new(uint256.Int).Lsh(x, n) })
		}, dispatch.U256, dispatch.U256, dispatch.U32),
		hostfn(m, "u256_shr", func(f *Frame, a []val.Val) (val.Val, error) {
			return intShift(f, a, false, func(x *uint256.Int, n uint) *uint256.Int { return new(uint256.Int).Rsh(x, n) })
		}, dispatch.U256, dispatch.U256, dispatch.U32),

		hostfn(m, "i256_add", i256Op(budget.Int256AddSub, i256Add), dispatch.I256, dispatch.I256, dispatch.I256),
		hostfn(m, "i256_sub", i256Op(budget.Int256AddSub, i256Sub), dispatch.I256, dispatch.I256, dispatch.I256),
		hostfn(m, "i256_mul", i256Op(budget.Int256Mul, i256Mul), dispatch.I256, dispatch.I256, dispatch.I256),
		hostfn(m, "i256_div", i256Op(budget.Int256Div, i256Div), dispatch.I256, dispatch.I256, dispatch.I256),
		hostfn(m, "i256_pow", func(f *Frame, a []val.Val) (val.Val, error) {
			return intPow(f, a, true, i256Mul)
		}, dispatch.I256, dispatch.I256, dispatch.U32),
		hostfn(m, "i256_shl", func(f *Frame, a []val.Val) (val.Val, error) {
			return intShift(f, a, true, func(x *uint256.Int, n uint) *uint256.Int { return new(uint256.Int).Lsh(x, n) })
		}, dispatch.I256, dispatch.I256, dispatch.U32),
		hostfn(m, "i256_shr", func(f *Frame, a []val.Val) (val.Val, error) {
			return intShift(f, a, true, func(x *uint256.Int, n uint) *uint256.Int { return new(uint256.Int).SRsh(x, n) })
		}, dispatch.I256, dispatch.I256, dispatch.U32),

		hostfn(m, "bigint_from_be_bytes", func(f *Frame, a []val.Val) (val.Val, error) {
			neg, err := a[0].Bool()
			if err != nil {
				return 0, err
			}
			b, err := f.Store().Bytes(a[1])
			if err != nil {
				return 0, err
			}
			if len(b)*8 > maxBigIntBits {
				return 0, hosterrors.InvalidInput(hosterrors.CodeExceededLimit, "bigint of %d bytes", len(b))
			}
			if err := f.Charge(budget.BigIntArith, uint64(len(b))); err != nil {
				return 0, err
			}
			x := new(big.Int).SetBytes(b)
			if neg {
				x.Neg(x)
			}
			return f.Store().BigIntVal(x)
		}, dispatch.BigInt, dispatch.Bool, dispatch.Bytes),
		// bigint_to_be_bytes is the magnitude only; bigint_is_negative
		// supplies the sign bigint_from_be_bytes takes back.
		hostfn(m, "bigint_to_be_bytes", func(f *Frame, a []val.Val) (val.Val, error) {
			x, err := f.Store().BigInt(a[0])
			if err != nil {
				return 0, err
			}
			return f.Store().Add(object.Bytes(x.V.Bytes()))
		}, dispatch.Bytes, dispatch.BigInt),
		hostfn(m, "bigint_is_negative", func(f *Frame, a []val.Val) (val.Val, error) {
			x, err := f.Store().BigInt(a[0])
			if err != nil {
				return 0, err
			}
			return val.FromBool(x.V.Sign() < 0), nil
		}, dispatch.Bool, dispatch.BigInt),
		hostfn(m, "bigint_add", bigOp((*big.Int).Add), dispatch.BigInt, dispatch.BigInt, dispatch.BigInt),
		hostfn(m, "bigint_sub", bigOp((*big.Int).Sub), dispatch.BigInt, dispatch.BigInt, dispatch.BigInt),
		hostfn(m, "bigint_mul", bigOp((*big.Int).Mul), dispatch.BigInt, dispatch.BigInt, dispatch.BigInt),
		hostfn(m, "bigint_cmp", func(f *Frame, a []val.Val) (val.Val, error) {
			x, y, err := bigPair(f, a)
			if err != nil {
				return 0, err
			}
			return val.FromI32(int32(x.Cmp(y))), nil
		}, dispatch.I32, dispatch.BigInt, dispatch.BigInt),
	}
}

func u256FromPieces(f *Frame, a []val.Val) (val.Val, error) {
	var words [4]uint64
	for i := range words {
		w, err := f.Store().ToU64(a[i])
		if err != nil {
			return 0, err
		}
		words[3-i] = w
	}
	x := uint256.Int(words)
	return f.Store().U256Val(&x)
}

func u256Mul(x, y *uint256.Int) (*uint256.Int, error) {
	r, over := new(uint256.Int).MulOverflow(x, y)
	if over {
		return nil, arithDomain("u256 mul overflow")
	}
	return r, nil
}

func u256Op(ty budget.CostType, op func(x, y *uint256.Int) (*uint256.Int, error)) dispatch.Handler[*Frame] {
	return func(f *Frame, a []val.Val) (val.Val, error) {
		if err := f.Charge(ty, 0); err != nil {
			return 0, err
		}
		s := f.Store()
		x, err := s.ToU256(a[0])
		if err != nil {
			return 0, err
		}
		y, err := s.ToU256(a[1])
		if err != nil {
			return 0, err
		}
		r, err := op(x, y)
		if err != nil {
			return 0, err
		}
		return s.U256Val(r)
	}
}

func i256Op(ty budget.CostType, op func(x, y *uint256.Int) (*uint256.Int, error)) dispatch.Handler[*Frame] {
	return func(f *Frame, a []val.Val) (val.Val, error) {
		if err := f.Charge(ty, 0); err != nil {
			return 0, err
		}
		s := f.Store()
		x, err := s.ToI256(a[0])
		if err != nil {
			return 0, err
		}
		y, err := s.ToI256(a[1])
		if err != nil {
			return 0, err
		}
		r, err := op(x, y)
		if err != nil {
			return 0, err
		}
		return s.I256Val(r)
	}
}

// i256 values are two's complement in a uint256.

func neg256(x *uint256.Int) bool { return x.Sign() < 0 }

var (
	i256Min      = new(uint256.Int).Lsh(uint256.NewInt(1), 255)
	i256MinusOne = new(uint256.Int).SetAllOne()
)

func i256Add(x, y *uint256.Int) (*uint256.Int, error) {
	r := new(uint256.Int).Add(x, y)
	if neg256(x) == neg256(y) && neg256(r) != neg256(x) {
		return nil, arithDomain("i256 add overflow")
	}
	return r, nil
}

func i256Sub(x, y *uint256.Int) (*uint256.Int, error) {
	r := new(uint256.Int).Sub(x, y)
	if neg256(x) != neg256(y) && neg256(r) != neg256(x) {
		return nil, arithDomain("i256 sub overflow")
	}
	return r, nil
}

func abs256(x *uint256.Int) *uint256.Int {
	if neg256(x) {
		return new(uint256.Int).Neg(x)
	}
	return new(uint256.Int).Set(x)
}

func i256Mul(x, y *uint256.Int) (*uint256.Int, error) {
	p, over := new(uint256.Int).MulOverflow(abs256(x), abs256(y))
	negative := neg256(x) != neg256(y) && !p.IsZero()
	if over || p.Gt(i256Min) || (!negative && p.Eq(i256Min)) {
		return nil, arithDomain("i256 mul overflow")
	}
	if negative {
		p.Neg(p)
	}
	return p, nil
}

func i256Div(x, y *uint256.Int) (*uint256.Int, error) {
	if y.IsZero() {
		return nil, arithDomain("i256 division by zero")
	}
	if x.Eq(i256Min) && y.Eq(i256MinusOne) {
		return nil, arithDomain("i256 division overflow")
	}
	return new(uint256.Int).SDiv(x, y), nil
}

func intPow(f *Frame, a []val.Val, signed bool, mul func(x, y *uint256.Int) (*uint256.Int, error)) (val.Val, error) {
	e := u32Arg(a[1])
	if err := f.Charge(budget.Int256Pow, uint64(bits.Len32(e))); err != nil {
		return 0, err
	}
	s := f.Store()
	toInt, mk := s.ToU256, s.U256Val
	if signed {
		toInt, mk = s.ToI256, s.I256Val
	}
	base, err := toInt(a[0])
	if err != nil {
		return 0, err
	}
	r := uint256.NewInt(1)
	for e > 0 {
		if e&1 == 1 {
			if r, err = mul(r, base); err != nil {
				return 0, err
			}
		}
		e >>= 1
		if e > 0 {
			if base, err = mul(base, base); err != nil {
				return 0, err
			}
		}
	}
	return mk(r)
}

func intShift(f *Frame, a []val.Val, signed bool, shift func(x *uint256.Int, n uint) *uint256.Int) (val.Val, error) {
	if err := f.Charge(budget.Int256Shift, 0); err != nil {
		return 0, err
	}
	n := u32Arg(a[1])
	if n >= 256 {
		return 0, arithDomain("shift by %d", n)
	}
	s := f.Store()
	if signed {
		x, err := s.ToI256(a[0])
		if err != nil {
			return 0, err
		}
		return s.I256Val(shift(x, uint(n)))
	}
	x, err := s.ToU256(a[0])
	if err != nil {
		return 0, err
	}
	return s.U256Val(shift(x, uint(n)))
}

func bigPair(f *Frame, a []val.Val) (*big.Int, *big.Int, error) {
	x, err := f.Store().BigInt(a[0])
	if err != nil {
		return nil, nil, err
	}
	y, err := f.Store().BigInt(a[1])
	if err != nil {
		return nil, nil, err
	}
	if err := f.Charge(budget.BigIntArith, uint64(len(x.V.Bits())+len(y.V.Bits()))*8); err != nil {
		return nil, nil, err
	}
	return x.V, y.V, nil
}

func bigOp(op func(z, x, y *big.Int) *big.Int) dispatch.Handler[*Frame] {
	return func(f *Frame, a []val.Val) (val.Val, error) {
		x, y, err := bigPair(f, a)
		if err != nil {
			return 0, err
		}
		r := op(new(big.Int), x, y)
		if r.BitLen() > maxBigIntBits {
			return 0, arithDomain("bigint result of %d bits exceeds %d", r.BitLen(), maxBigIntBits)
		}
		return f.Store().BigIntVal(r)
	}
}
