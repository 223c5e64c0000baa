package codec

import (
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"

	"github.com/colorfulnotion/contracthost/hosterrors"
	"github.com/colorfulnotion/contracthost/val"
)

// Type is the external type of a Value. The order matches the host's
// comparison classes.
type Type uint8

const (
	TypeBool Type = iota
	TypeVoid
	TypeError
	TypeU32
	TypeI32
	TypeU64
	TypeI64
	TypeTimepoint
	TypeDuration
	TypeU128
	TypeI128
	TypeU256
	TypeI256
	TypeBytes
	TypeString
	TypeSymbol
	TypeVec
	TypeMap
	TypeAddress
	TypeRecord
	TypeBigInt
	numTypes
)

var typeNames = [numTypes]string{
	"bool", "void", "error", "u32", "i32", "u64", "i64", "timepoint", "duration",
	"u128", "i128", "u256", "i256", "bytes", "string", "symbol", "vec", "map",
	"address", "record", "bigint",
}

func (t Type) String() string {
	if t < numTypes {
		return typeNames[t]
	}
	return fmt.Sprintf("type(%d)", uint8(t))
}

// ParseType is the inverse of String.
func ParseType(s string) (Type, bool) {
	for i, n := range typeNames {
		if n == s {
			return Type(i), true
		}
	}
	return 0, false
}

// Value is the ledger-side tree form of a host value. Field use depends on
// Type; unused fields stay zero so the canonical encoding is unique.
//
//	U     u32, u64, timepoint, duration, low word of 128-bit, error code
//	I     i32, i64, high word of i128
//	Hi    high word of u128, error kind
//	Raw   bytes, string, symbol, address (32), u256/i256 (32, big-endian),
//	      bigint magnitude (big-endian)
//	B     bool, bigint sign
type Value struct {
	Type   Type       `cbor:"1,keyasint"`
	B      bool       `cbor:"2,keyasint,omitempty"`
	U      uint64     `cbor:"3,keyasint,omitempty"`
	I      int64      `cbor:"4,keyasint,omitempty"`
	Hi     uint64     `cbor:"5,keyasint,omitempty"`
	Raw    []byte     `cbor:"6,keyasint,omitempty"`
	Vec    []Value    `cbor:"7,keyasint,omitempty"`
	Map    []MapEntry `cbor:"8,keyasint,omitempty"`
	Fields []string   `cbor:"9,keyasint,omitempty"`
}

type MapEntry struct {
	Key Value `cbor:"1,keyasint"`
	Val Value `cbor:"2,keyasint"`
}

func Bool(b bool) Value  { return Value{Type: TypeBool, B: b} }
func Void() Value        { return Value{Type: TypeVoid} }
func U32(x uint32) Value { return Value{Type: TypeU32, U: uint64(x)} }
func I32(x int32) Value  { return Value{Type: TypeI32, I: int64(x)} }
func U64(x uint64) Value { return Value{Type: TypeU64, U: x} }
func I64(x int64) Value  { return Value{Type: TypeI64, I: x} }

func Timepoint(x uint64) Value { return Value{Type: TypeTimepoint, U: x} }
func Duration(x uint64) Value  { return Value{Type: TypeDuration, U: x} }

func U128(hi, lo uint64) Value { return Value{Type: TypeU128, Hi: hi, U: lo} }
func I128(hi int64, lo uint64) Value {
	return Value{Type: TypeI128, I: hi, U: lo}
}

// U256 and I256 take 32 big-endian bytes; I256 is two's complement.
func U256(be [32]byte) Value { return Value{Type: TypeU256, Raw: be[:]} }
func I256(be [32]byte) Value { return Value{Type: TypeI256, Raw: be[:]} }

func Bytes(b []byte) Value     { return Value{Type: TypeBytes, Raw: b} }
func String(s string) Value    { return Value{Type: TypeString, Raw: []byte(s)} }
func Symbol(s string) Value    { return Value{Type: TypeSymbol, Raw: []byte(s)} }
func Vec(items ...Value) Value { return Value{Type: TypeVec, Vec: items} }
func Map(entries ...MapEntry) Value {
	return Value{Type: TypeMap, Map: entries}
}
func Address(id [32]byte) Value { return Value{Type: TypeAddress, Raw: id[:]} }

func Record(fields []string, values []Value) Value {
	return Value{Type: TypeRecord, Fields: fields, Vec: values}
}

func Status(kind hosterrors.Kind, code hosterrors.Code) Value {
	return Value{Type: TypeError, Hi: uint64(kind), U: uint64(code)}
}

func BigInt(x *big.Int) Value {
	return Value{Type: TypeBigInt, B: x.Sign() < 0, Raw: new(big.Int).Abs(x).Bytes()}
}

func (v Value) BigInt() *big.Int {
	x := new(big.Int).SetBytes(v.Raw)
	if v.B {
		x.Neg(x)
	}
	return x
}

// Validate checks the shape of a decoded tree. Failures are ConversionErrors.
func (v Value) Validate() error {
	return v.validate(0)
}

// MaxDepth bounds container nesting of decoded values.
const MaxDepth = 32

func (v Value) validate(depth int) error {
	if depth > MaxDepth {
		return hosterrors.Conversion(hosterrors.CodeExceededLimit, "value nested deeper than %d", MaxDepth)
	}
	switch v.Type {
	case TypeU32:
		if v.U > 0xffffffff {
			return hosterrors.Conversion(hosterrors.CodeArithDomain, "u32 out of range")
		}
	case TypeI32:
		if v.I != int64(int32(v.I)) {
			return hosterrors.Conversion(hosterrors.CodeArithDomain, "i32 out of range")
		}
	case TypeError:
		if !hosterrors.Kind(v.Hi).Valid() || v.U > 0xffffffff {
			return hosterrors.Conversion(hosterrors.CodeInvalidValue, "bad status")
		}
	case TypeU256, TypeI256, TypeAddress:
		if len(v.Raw) != 32 {
			return hosterrors.Conversion(hosterrors.CodeUnexpectedSize, "%s needs 32 bytes, got %d", v.Type, len(v.Raw))
		}
	case TypeSymbol:
		if err := val.ValidateSymbol(v.Raw); err != nil {
			return err
		}
	case TypeBigInt:
		if len(v.Raw) > 0 && v.Raw[0] == 0 {
			return hosterrors.Conversion(hosterrors.CodeInvalidValue, "bigint magnitude has leading zero")
		}
		if len(v.Raw) == 0 && v.B {
			return hosterrors.Conversion(hosterrors.CodeInvalidValue, "negative zero bigint")
		}
	case TypeVec:
		for _, it := range v.Vec {
			if err := it.validate(depth + 1); err != nil {
				return err
			}
		}
	case TypeMap:
		for _, e := range v.Map {
			if err := e.Key.validate(depth + 1); err != nil {
				return err
			}
			if err := e.Val.validate(depth + 1); err != nil {
				return err
			}
		}
	case TypeRecord:
		if len(v.Fields) != len(v.Vec) {
			return hosterrors.Conversion(hosterrors.CodeUnexpectedSize, "record has %d fields and %d values", len(v.Fields), len(v.Vec))
		}
		for _, f := range v.Fields {
			if err := val.ValidateSymbol([]byte(f)); err != nil {
				return err
			}
		}
		for _, it := range v.Vec {
			if err := it.validate(depth + 1); err != nil {
				return err
			}
		}
	case TypeBool, TypeVoid, TypeU64, TypeI64, TypeTimepoint, TypeDuration,
		TypeU128, TypeI128, TypeBytes, TypeString:
	default:
		return hosterrors.Conversion(hosterrors.CodeUnexpectedType, "unknown value type %d", uint8(v.Type))
	}
	return nil
}

func (v Value) String() string {
	var sb strings.Builder
	v.write(&sb)
	return sb.String()
}

func (v Value) write(sb *strings.Builder) {
	switch v.Type {
	case TypeBool:
		fmt.Fprintf(sb, "%t", v.B)
	case TypeVoid:
		sb.WriteString("void")
	case TypeError:
		fmt.Fprintf(sb, "error(%s,%d)", hosterrors.Kind(v.Hi), v.U)
	case TypeU32, TypeU64:
		fmt.Fprintf(sb, "%d", v.U)
	case TypeI32, TypeI64:
		fmt.Fprintf(sb, "%d", v.I)
	case TypeTimepoint, TypeDuration:
		fmt.Fprintf(sb, "%s(%d)", v.Type, v.U)
	case TypeU128:
		fmt.Fprintf(sb, "u128(%d,%d)", v.Hi, v.U)
	case TypeI128:
		fmt.Fprintf(sb, "i128(%d,%d)", v.I, v.U)
	case TypeU256, TypeI256, TypeAddress:
		fmt.Fprintf(sb, "%s(0x%s)", v.Type, hex.EncodeToString(v.Raw))
	case TypeBytes:
		fmt.Fprintf(sb, "0x%s", hex.EncodeToString(v.Raw))
	case TypeString:
		fmt.Fprintf(sb, "%q", v.Raw)
	case TypeSymbol:
		sb.WriteString(string(v.Raw))
	case TypeBigInt:
		sb.WriteString(v.BigInt().String())
	case TypeVec:
		sb.WriteByte('[')
		for i, it := range v.Vec {
			if i > 0 {
				sb.WriteString(", ")
			}
			it.write(sb)
		}
		sb.WriteByte(']')
	case TypeMap:
		sb.WriteByte('{')
		for i, e := range v.Map {
			if i > 0 {
				sb.WriteString(", ")
			}
			e.Key.write(sb)
			sb.WriteString(": ")
			e.Val.write(sb)
		}
		sb.WriteByte('}')
	case TypeRecord:
		sb.WriteByte('(')
		for i, f := range v.Fields {
			if i > 0 {
				sb.WriteString(", ")
			}
			sb.WriteString(f)
			sb.WriteString("=")
			v.Vec[i].write(sb)
		}
		sb.WriteByte(')')
	default:
		sb.WriteString("?")
	}
}
