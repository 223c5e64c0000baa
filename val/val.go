package val

import (
	"encoding/binary"
	"fmt"

	"github.com/colorfulnotion/contracthost/hosterrors"
)

// Val is the 64-bit tagged word exchanged between guests and the host.
//
// Bits 0-7 hold the tag and bits 8-63 the 56-bit body. Tags with a split
// body keep a 24-bit minor in bits 8-31 and a 32-bit major in bits 32-63.
type Val uint64

type Tag uint8

const (
	TagFalse          Tag = 0
	TagTrue           Tag = 1
	TagVoid           Tag = 2
	TagError          Tag = 3
	TagU32            Tag = 4
	TagI32            Tag = 5
	TagU64Small       Tag = 6
	TagI64Small       Tag = 7
	TagTimepointSmall Tag = 8
	TagDurationSmall  Tag = 9
	TagU128Small      Tag = 10
	TagI128Small      Tag = 11
	TagU256Small      Tag = 12
	TagI256Small      Tag = 13
	TagSymbolSmall    Tag = 14

	TagU64Object       Tag = 64
	TagI64Object       Tag = 65
	TagTimepointObject Tag = 66
	TagDurationObject  Tag = 67
	TagU128Object      Tag = 68
	TagI128Object      Tag = 69
	TagU256Object      Tag = 70
	TagI256Object      Tag = 71
	TagBytesObject     Tag = 72
	TagStringObject    Tag = 73
	TagSymbolObject    Tag = 74
	TagVecObject       Tag = 75
	TagMapObject       Tag = 76
	TagAddressObject   Tag = 77
	TagRecordObject    Tag = 78
	TagBigIntObject    Tag = 79

	tagSmallUpperBound  = 15
	tagObjectLowerBound = 64
	tagObjectUpperBound = 80
)

const (
	tagBits   = 8
	minorBits = 24
	bodyBits  = 56

	bodyMask  = uint64(1)<<bodyBits - 1
	minorMask = uint32(1)<<minorBits - 1

	// MaxSmallU64 is the largest unsigned value carried without an object.
	MaxSmallU64 = uint64(1)<<bodyBits - 1
	// MinSmallI64 and MaxSmallI64 bound the signed small range.
	MinSmallI64 = -(int64(1) << (bodyBits - 1))
	MaxSmallI64 = int64(1)<<(bodyBits-1) - 1
)

const (
	False = Val(TagFalse)
	True  = Val(TagTrue)
	Void  = Val(TagVoid)
)

var tagNames = map[Tag]string{
	TagFalse: "False", TagTrue: "True", TagVoid: "Void", TagError: "Error",
	TagU32: "U32", TagI32: "I32", TagU64Small: "U64Small", TagI64Small: "I64Small",
	TagTimepointSmall: "TimepointSmall", TagDurationSmall: "DurationSmall",
	TagU128Small: "U128Small", TagI128Small: "I128Small",
	TagU256Small: "U256Small", TagI256Small: "I256Small", TagSymbolSmall: "SymbolSmall",
	TagU64Object: "U64Object", TagI64Object: "I64Object",
	TagTimepointObject: "TimepointObject", TagDurationObject: "DurationObject",
	TagU128Object: "U128Object", TagI128Object: "I128Object",
	TagU256Object: "U256Object", TagI256Object: "I256Object",
	TagBytesObject: "BytesObject", TagStringObject: "StringObject",
	TagSymbolObject: "SymbolObject", TagVecObject: "VecObject", TagMapObject: "MapObject",
	TagAddressObject: "AddressObject", TagRecordObject: "RecordObject",
	TagBigIntObject: "BigIntObject",
}

func (t Tag) String() string {
	if n, ok := tagNames[t]; ok {
		return n
	}
	return fmt.Sprintf("Tag(%d)", uint8(t))
}

func (t Tag) Valid() bool {
	return t < tagSmallUpperBound || (t >= tagObjectLowerBound && t < tagObjectUpperBound)
}

func (t Tag) IsObject() bool {
	return t >= tagObjectLowerBound && t < tagObjectUpperBound
}

func (v Val) Tag() Tag        { return Tag(v & 0xff) }
func (v Val) Body() uint64    { return uint64(v) >> tagBits }
func (v Val) Minor() uint32   { return uint32(uint64(v)>>tagBits) & minorMask }
func (v Val) Major() uint32   { return uint32(uint64(v) >> 32) }
func (v Val) Payload() uint64 { return uint64(v) }
func (v Val) IsObject() bool  { return v.Tag().IsObject() }

func fromBody(t Tag, body uint64) Val {
	return Val(body<<tagBits | uint64(t))
}

func fromMajorMinor(t Tag, major, minor uint32) Val {
	return Val(uint64(major)<<32 | uint64(minor&minorMask)<<tagBits | uint64(t))
}

// FromPayload validates raw bits received from a guest or the wire. Only
// canonical encodings are accepted.
func FromPayload(p uint64) (Val, error) {
	v := Val(p)
	t := v.Tag()
	if !t.Valid() {
		return 0, hosterrors.Conversion(hosterrors.CodeUnexpectedType, "unknown tag %d", uint8(t))
	}
	switch t {
	case TagFalse, TagTrue, TagVoid:
		if v.Body() != 0 {
			return 0, hosterrors.Conversion(hosterrors.CodeInvalidValue, "%s with non-zero body", t)
		}
	case TagU32, TagI32:
		if v.Minor() != 0 {
			return 0, hosterrors.Conversion(hosterrors.CodeInvalidValue, "%s with non-zero minor", t)
		}
	case TagError:
		if !hosterrors.Kind(v.Minor()).Valid() {
			return 0, hosterrors.Conversion(hosterrors.CodeInvalidValue, "unknown error kind %d", v.Minor())
		}
	case TagSymbolSmall:
		if !validSymbolBody(v.Body()) {
			return 0, hosterrors.Conversion(hosterrors.CodeInvalidValue, "malformed small symbol")
		}
	}
	return v, nil
}

// Bytes is the on-wire form: 8 bytes little-endian.
func (v Val) Bytes() [8]byte {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], uint64(v))
	return b
}

func FromBytes(b []byte) (Val, error) {
	if len(b) != 8 {
		return 0, hosterrors.Conversion(hosterrors.CodeUnexpectedSize, "val needs 8 bytes, got %d", len(b))
	}
	return FromPayload(binary.LittleEndian.Uint64(b))
}

func FromBool(b bool) Val {
	if b {
		return True
	}
	return False
}

func (v Val) Bool() (bool, error) {
	switch v.Tag() {
	case TagTrue:
		return true, nil
	case TagFalse:
		return false, nil
	}
	return false, mismatch(v, "Bool")
}

func (v Val) IsVoid() bool { return v == Void }

func FromU32(x uint32) Val { return fromMajorMinor(TagU32, x, 0) }
func FromI32(x int32) Val  { return fromMajorMinor(TagI32, uint32(x), 0) }

func (v Val) U32() (uint32, error) {
	if v.Tag() != TagU32 {
		return 0, mismatch(v, "U32")
	}
	return v.Major(), nil
}

func (v Val) I32() (int32, error) {
	if v.Tag() != TagI32 {
		return 0, mismatch(v, "I32")
	}
	return int32(v.Major()), nil
}

// SmallUnsigned packs x under t when it fits in the body. t must be one of
// the unsigned small tags.
func SmallUnsigned(t Tag, x uint64) (Val, bool) {
	if x > MaxSmallU64 {
		return 0, false
	}
	return fromBody(t, x), true
}

// SmallSigned packs x under t when it fits in the signed 56-bit range.
func SmallSigned(t Tag, x int64) (Val, bool) {
	if x < MinSmallI64 || x > MaxSmallI64 {
		return 0, false
	}
	return fromBody(t, uint64(x)&bodyMask), true
}

// SmallU64 decodes the body of an unsigned small Val.
func (v Val) SmallU64() uint64 { return v.Body() }

// SmallI64 sign-extends the body of a signed small Val.
func (v Val) SmallI64() int64 { return int64(uint64(v)) >> tagBits }

// StatusVal encodes a failure kind and code as an Error Val.
func StatusVal(kind hosterrors.Kind, code hosterrors.Code) Val {
	return fromMajorMinor(TagError, uint32(code), uint32(kind))
}

// StatusFromError maps a recoverable error to its Status Val.
func StatusFromError(err error) Val {
	he, ab := hosterrors.Classify(err)
	if ab != nil {
		return StatusVal(ab.Kind, ab.Code)
	}
	return StatusVal(he.Kind, he.Code)
}

func (v Val) Status() (hosterrors.Kind, hosterrors.Code, bool) {
	if v.Tag() != TagError {
		return 0, 0, false
	}
	return hosterrors.Kind(v.Minor()), hosterrors.Code(v.Major()), true
}

func (v Val) IsStatus() bool { return v.Tag() == TagError }

// ObjectVal builds an object reference. handle goes in the major half and
// the generation in the minor half.
func ObjectVal(t Tag, handle, generation uint32) Val {
	return fromMajorMinor(t, handle, generation)
}

func (v Val) Handle() uint32     { return v.Major() }
func (v Val) Generation() uint32 { return v.Minor() }

func mismatch(v Val, want string) error {
	return hosterrors.Conversion(hosterrors.CodeUnexpectedType, "expected %s, got %s", want, v.Tag())
}

// Expect returns a ConversionError unless v carries tag t.
func (v Val) Expect(t Tag) error {
	if v.Tag() != t {
		return mismatch(v, t.String())
	}
	return nil
}

func (v Val) String() string {
	switch t := v.Tag(); t {
	case TagFalse:
		return "false"
	case TagTrue:
		return "true"
	case TagVoid:
		return "void"
	case TagError:
		k, c, _ := v.Status()
		return fmt.Sprintf("Error(%s,%d)", k, uint32(c))
	case TagU32:
		return fmt.Sprintf("U32(%d)", v.Major())
	case TagI32:
		return fmt.Sprintf("I32(%d)", int32(v.Major()))
	case TagU64Small, TagTimepointSmall, TagDurationSmall, TagU128Small, TagU256Small:
		return fmt.Sprintf("%s(%d)", t, v.SmallU64())
	case TagI64Small, TagI128Small, TagI256Small:
		return fmt.Sprintf("%s(%d)", t, v.SmallI64())
	case TagSymbolSmall:
		s, _ := v.SymbolSmallString()
		return fmt.Sprintf("Sym(%s)", s)
	default:
		if t.IsObject() {
			return fmt.Sprintf("%s#%d.%d", t, v.Handle(), v.Generation())
		}
		return fmt.Sprintf("Bad(%#x)", uint64(v))
	}
}
