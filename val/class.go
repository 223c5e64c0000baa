package val

import (
	"cmp"
	"strings"
)

// Class groups the small and object forms of one logical type. Values of
// different classes order by class.
type Class uint8

const (
	ClassBool Class = iota
	ClassVoid
	ClassError
	ClassU32
	ClassI32
	ClassU64
	ClassI64
	ClassTimepoint
	ClassDuration
	ClassU128
	ClassI128
	ClassU256
	ClassI256
	ClassBytes
	ClassString
	ClassSymbol
	ClassVec
	ClassMap
	ClassAddress
	ClassRecord
	ClassBigInt
	ClassInvalid
)

func (t Tag) Class() Class {
	switch t {
	case TagFalse, TagTrue:
		return ClassBool
	case TagVoid:
		return ClassVoid
	case TagError:
		return ClassError
	case TagU32:
		return ClassU32
	case TagI32:
		return ClassI32
	case TagU64Small, TagU64Object:
		return ClassU64
	case TagI64Small, TagI64Object:
		return ClassI64
	case TagTimepointSmall, TagTimepointObject:
		return ClassTimepoint
	case TagDurationSmall, TagDurationObject:
		return ClassDuration
	case TagU128Small, TagU128Object:
		return ClassU128
	case TagI128Small, TagI128Object:
		return ClassI128
	case TagU256Small, TagU256Object:
		return ClassU256
	case TagI256Small, TagI256Object:
		return ClassI256
	case TagBytesObject:
		return ClassBytes
	case TagStringObject:
		return ClassString
	case TagSymbolSmall, TagSymbolObject:
		return ClassSymbol
	case TagVecObject:
		return ClassVec
	case TagMapObject:
		return ClassMap
	case TagAddressObject:
		return ClassAddress
	case TagRecordObject:
		return ClassRecord
	case TagBigIntObject:
		return ClassBigInt
	}
	return ClassInvalid
}

func (v Val) Class() Class { return v.Tag().Class() }

// SmallTagFor returns the small tag of a numeric class, or false if the
// class has no small form.
func SmallTagFor(c Class) (Tag, bool) {
	switch c {
	case ClassU64:
		return TagU64Small, true
	case ClassI64:
		return TagI64Small, true
	case ClassTimepoint:
		return TagTimepointSmall, true
	case ClassDuration:
		return TagDurationSmall, true
	case ClassU128:
		return TagU128Small, true
	case ClassI128:
		return TagI128Small, true
	case ClassU256:
		return TagU256Small, true
	case ClassI256:
		return TagI256Small, true
	}
	return 0, false
}

// IsSignedSmall reports whether the small form of t is sign-extended.
func (t Tag) IsSignedSmall() bool {
	return t == TagI64Small || t == TagI128Small || t == TagI256Small
}

// CompareImmediate orders two non-object Vals. The second result is false
// when either side is an object, in which case the caller needs the store.
func CompareImmediate(a, b Val) (int, bool) {
	if a.IsObject() || b.IsObject() {
		if ca, cb := a.Class(), b.Class(); ca != cb {
			return cmp.Compare(ca, cb), true
		}
		return 0, false
	}
	if a == b {
		return 0, true
	}
	ca, cb := a.Class(), b.Class()
	if ca != cb {
		return cmp.Compare(ca, cb), true
	}
	switch ca {
	case ClassBool:
		return cmp.Compare(a.Tag(), b.Tag()), true
	case ClassError:
		if c := cmp.Compare(a.Minor(), b.Minor()); c != 0 {
			return c, true
		}
		return cmp.Compare(a.Major(), b.Major()), true
	case ClassU32:
		return cmp.Compare(a.Major(), b.Major()), true
	case ClassI32:
		return cmp.Compare(int32(a.Major()), int32(b.Major())), true
	case ClassSymbol:
		sa, _ := a.SymbolSmallString()
		sb, _ := b.SymbolSmallString()
		return strings.Compare(sa, sb), true
	}
	if a.Tag().IsSignedSmall() {
		return cmp.Compare(a.SmallI64(), b.SmallI64()), true
	}
	return cmp.Compare(a.SmallU64(), b.SmallU64()), true
}
