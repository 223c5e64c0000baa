package host

import (
	"bytes"

	"github.com/holiman/uint256"

	"github.com/colorfulnotion/contracthost/bridge"
	"github.com/colorfulnotion/contracthost/budget"
	"github.com/colorfulnotion/contracthost/codec"
	"github.com/colorfulnotion/contracthost/hosterrors"
	"github.com/colorfulnotion/contracthost/object"
	"github.com/colorfulnotion/contracthost/val"
)

// converter moves values between the codec tree and the object store,
// charging ty once per node visited.
type converter struct {
	store *object.Store
	meter bridge.Meter
	ty    budget.CostType
}

func (c converter) visit(depth int) error {
	if depth > codec.MaxDepth {
		return hosterrors.Conversion(hosterrors.CodeExceededLimit, "value nested deeper than %d", codec.MaxDepth)
	}
	return c.meter.Charge(c.ty, 0)
}

func (c converter) toVal(v codec.Value, depth int) (val.Val, error) {
	if err := c.visit(depth); err != nil {
		return 0, err
	}
	s := c.store
	switch v.Type {
	case codec.TypeBool:
		return val.FromBool(v.B), nil
	case codec.TypeVoid:
		return val.Void, nil
	case codec.TypeError:
		return val.StatusVal(hosterrors.Kind(v.Hi), hosterrors.Code(v.U)), nil
	case codec.TypeU32:
		return val.FromU32(uint32(v.U)), nil
	case codec.TypeI32:
		return val.FromI32(int32(v.I)), nil
	case codec.TypeU64:
		return s.U64Val(v.U)
	case codec.TypeI64:
		return s.I64Val(v.I)
	case codec.TypeTimepoint:
		return s.TimepointVal(v.U)
	case codec.TypeDuration:
		return s.DurationVal(v.U)
	case codec.TypeU128:
		return s.U128Val(v.Hi, v.U)
	case codec.TypeI128:
		return s.I128Val(v.I, v.U)
	case codec.TypeU256:
		return s.U256Val(new(uint256.Int).SetBytes32(v.Raw))
	case codec.TypeI256:
		return s.I256Val(new(uint256.Int).SetBytes32(v.Raw))
	case codec.TypeBytes:
		return s.Add(object.Bytes(bytes.Clone(v.Raw)))
	case codec.TypeString:
		return s.Add(object.String(bytes.Clone(v.Raw)))
	case codec.TypeSymbol:
		return s.SymbolVal(v.Raw)
	case codec.TypeAddress:
		return s.Add(object.Address(v.Raw))
	case codec.TypeBigInt:
		return s.BigIntVal(v.BigInt())
	case codec.TypeVec:
		items, err := c.toVals(v.Vec, depth)
		if err != nil {
			return 0, err
		}
		return s.Add(object.Vec(items))
	case codec.TypeMap:
		entries := make([]object.MapEntry, len(v.Map))
		for i, e := range v.Map {
			k, err := c.toVal(e.Key, depth+1)
			if err != nil {
				return 0, err
			}
			x, err := c.toVal(e.Val, depth+1)
			if err != nil {
				return 0, err
			}
			entries[i] = object.MapEntry{Key: k, Val: x}
		}
		return s.NewMap(entries)
	case codec.TypeRecord:
		for i := 1; i < len(v.Fields); i++ {
			if v.Fields[i-1] >= v.Fields[i] {
				return 0, hosterrors.Conversion(hosterrors.CodeInvalidValue, "record fields not strictly increasing at %q", v.Fields[i])
			}
		}
		values, err := c.toVals(v.Vec, depth)
		if err != nil {
			return 0, err
		}
		return s.Add(object.Record{Fields: append([]string(nil), v.Fields...), Values: values})
	}
	return 0, hosterrors.Conversion(hosterrors.CodeUnexpectedType, "unknown value type %s", v.Type)
}

func (c converter) toVals(items []codec.Value, depth int) ([]val.Val, error) {
	out := make([]val.Val, len(items))
	for i, it := range items {
		x, err := c.toVal(it, depth+1)
		if err != nil {
			return nil, err
		}
		out[i] = x
	}
	return out, nil
}

func (c converter) fromVal(v val.Val, depth int) (codec.Value, error) {
	if err := c.visit(depth); err != nil {
		return codec.Value{}, err
	}
	s := c.store
	switch v.Class() {
	case val.ClassBool:
		b, err := v.Bool()
		return codec.Bool(b), err
	case val.ClassVoid:
		return codec.Void(), nil
	case val.ClassError:
		k, code, _ := v.Status()
		return codec.Status(k, code), nil
	case val.ClassU32:
		x, err := v.U32()
		return codec.U32(x), err
	case val.ClassI32:
		x, err := v.I32()
		return codec.I32(x), err
	case val.ClassU64:
		x, err := s.ToU64(v)
		return codec.U64(x), err
	case val.ClassI64:
		x, err := s.ToI64(v)
		return codec.I64(x), err
	case val.ClassTimepoint:
		x, err := s.ToTimepoint(v)
		return codec.Timepoint(x), err
	case val.ClassDuration:
		x, err := s.ToDuration(v)
		return codec.Duration(x), err
	case val.ClassU128:
		hi, lo, err := s.ToU128(v)
		return codec.U128(hi, lo), err
	case val.ClassI128:
		hi, lo, err := s.ToI128(v)
		return codec.I128(hi, lo), err
	case val.ClassU256:
		x, err := s.ToU256(v)
		if err != nil {
			return codec.Value{}, err
		}
		return codec.U256(x.Bytes32()), nil
	case val.ClassI256:
		x, err := s.ToI256(v)
		if err != nil {
			return codec.Value{}, err
		}
		return codec.I256(x.Bytes32()), nil
	case val.ClassSymbol:
		b, err := s.SymbolBytes(v)
		return codec.Symbol(string(b)), err
	case val.ClassBytes:
		b, err := s.Bytes(v)
		return codec.Bytes(bytes.Clone(b)), err
	case val.ClassString:
		b, err := s.Str(v)
		return codec.String(string(b)), err
	case val.ClassAddress:
		a, err := s.Address(v)
		return codec.Address(a), err
	case val.ClassBigInt:
		b, err := s.BigInt(v)
		if err != nil {
			return codec.Value{}, err
		}
		return codec.BigInt(b.V), nil
	case val.ClassVec:
		items, err := s.Vec(v)
		if err != nil {
			return codec.Value{}, err
		}
		out, err := c.fromVals(items, depth)
		return codec.Vec(out...), err
	case val.ClassMap:
		m, err := s.Map(v)
		if err != nil {
			return codec.Value{}, err
		}
		entries := make([]codec.MapEntry, len(m))
		for i, e := range m {
			k, err := c.fromVal(e.Key, depth+1)
			if err != nil {
				return codec.Value{}, err
			}
			x, err := c.fromVal(e.Val, depth+1)
			if err != nil {
				return codec.Value{}, err
			}
			entries[i] = codec.MapEntry{Key: k, Val: x}
		}
		return codec.Map(entries...), nil
	case val.ClassRecord:
		r, err := s.Record(v)
		if err != nil {
			return codec.Value{}, err
		}
		out, err := c.fromVals(r.Values, depth)
		return codec.Record(append([]string(nil), r.Fields...), out), err
	}
	return codec.Value{}, hosterrors.Conversion(hosterrors.CodeUnexpectedType, "cannot convert %s", v.Tag())
}

func (c converter) fromVals(items []val.Val, depth int) ([]codec.Value, error) {
	out := make([]codec.Value, len(items))
	for i, it := range items {
		x, err := c.fromVal(it, depth+1)
		if err != nil {
			return nil, err
		}
		out[i] = x
	}
	return out, nil
}
