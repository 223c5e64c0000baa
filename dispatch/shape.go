package dispatch

import (
	"github.com/colorfulnotion/contracthost/val"
)

// Shape constrains the class of one argument or result.
type Shape uint8

const (
	Any Shape = iota
	Bool
	Void
	Status
	U32
	I32
	U64
	I64
	Timepoint
	Duration
	U128
	I128
	U256
	I256
	Bytes
	String
	Symbol
	Vec
	Map
	Address
	Record
	BigInt
	// Object accepts any object-tagged Val.
	Object
	numShapes
)

var shapeNames = [numShapes]string{
	"any", "bool", "void", "status", "u32", "i32", "u64", "i64", "timepoint", "duration",
	"u128", "i128", "u256", "i256", "bytes", "string", "symbol", "vec", "map", "address",
	"record", "bigint", "object",
}

func (s Shape) String() string {
	if s < numShapes {
		return shapeNames[s]
	}
	return "invalid"
}

var shapeClass = [numShapes]val.Class{
	Bool: val.ClassBool, Void: val.ClassVoid, Status: val.ClassError,
	U32: val.ClassU32, I32: val.ClassI32, U64: val.ClassU64, I64: val.ClassI64,
	Timepoint: val.ClassTimepoint, Duration: val.ClassDuration,
	U128: val.ClassU128, I128: val.ClassI128, U256: val.ClassU256, I256: val.ClassI256,
	Bytes: val.ClassBytes, String: val.ClassString, Symbol: val.ClassSymbol,
	Vec: val.ClassVec, Map: val.ClassMap, Address: val.ClassAddress,
	Record: val.ClassRecord, BigInt: val.ClassBigInt,
}

// Matches reports whether v has this shape. Both small and object forms
// of a class match.
func (s Shape) Matches(v val.Val) bool {
	if !v.Tag().Valid() {
		return false
	}
	switch s {
	case Any:
		return true
	case Object:
		return v.IsObject()
	}
	if s >= numShapes {
		return false
	}
	return v.Class() == shapeClass[s]
}
