package object

import (
	"math/big"
	"slices"

	"github.com/holiman/uint256"

	"github.com/colorfulnotion/contracthost/val"
)

// Object is an immutable host-side value referenced by an object Val.
type Object interface {
	Tag() val.Tag
	// footprint is the number of bytes charged to MemAlloc on creation
	footprint() uint64
	clone() Object
	// children lists contained object Vals for reference tracking
	children() []val.Val
}

type (
	U64       uint64
	I64       int64
	Timepoint uint64
	Duration  uint64
	U128      struct{ Hi, Lo uint64 }
	I128      struct {
		Hi int64
		Lo uint64
	}
	U256    struct{ V uint256.Int }
	I256    struct{ V uint256.Int }
	Bytes   []byte
	String  []byte
	Symbol  []byte
	Vec     []val.Val
	Map     []MapEntry
	Address [32]byte
	BigInt  struct{ V *big.Int }
	Record  struct {
		Fields []string
		Values []val.Val
	}
)

type MapEntry struct {
	Key val.Val
	Val val.Val
}

func (U64) Tag() val.Tag       { return val.TagU64Object }
func (I64) Tag() val.Tag       { return val.TagI64Object }
func (Timepoint) Tag() val.Tag { return val.TagTimepointObject }
func (Duration) Tag() val.Tag  { return val.TagDurationObject }
func (U128) Tag() val.Tag      { return val.TagU128Object }
func (I128) Tag() val.Tag      { return val.TagI128Object }
func (U256) Tag() val.Tag      { return val.TagU256Object }
func (I256) Tag() val.Tag      { return val.TagI256Object }
func (Bytes) Tag() val.Tag     { return val.TagBytesObject }
func (String) Tag() val.Tag    { return val.TagStringObject }
func (Symbol) Tag() val.Tag    { return val.TagSymbolObject }
func (Vec) Tag() val.Tag       { return val.TagVecObject }
func (Map) Tag() val.Tag       { return val.TagMapObject }
func (Address) Tag() val.Tag   { return val.TagAddressObject }
func (BigInt) Tag() val.Tag    { return val.TagBigIntObject }
func (Record) Tag() val.Tag    { return val.TagRecordObject }

func (U64) footprint() uint64       { return 8 }
func (I64) footprint() uint64       { return 8 }
func (Timepoint) footprint() uint64 { return 8 }
func (Duration) footprint() uint64  { return 8 }
func (U128) footprint() uint64      { return 16 }
func (I128) footprint() uint64      { return 16 }
func (U256) footprint() uint64      { return 32 }
func (I256) footprint() uint64      { return 32 }
func (b Bytes) footprint() uint64   { return uint64(len(b)) }
func (s String) footprint() uint64  { return uint64(len(s)) }
func (s Symbol) footprint() uint64  { return uint64(len(s)) }
func (v Vec) footprint() uint64     { return 8 * uint64(len(v)) }
func (m Map) footprint() uint64     { return 16 * uint64(len(m)) }
func (Address) footprint() uint64   { return 32 }
func (b BigInt) footprint() uint64  { return uint64(len(b.V.Bits())) * 8 }
func (r Record) footprint() uint64 {
	n := 8 * uint64(len(r.Values))
	for _, f := range r.Fields {
		n += uint64(len(f))
	}
	return n
}

func (x U64) clone() Object       { return x }
func (x I64) clone() Object       { return x }
func (x Timepoint) clone() Object { return x }
func (x Duration) clone() Object  { return x }
func (x U128) clone() Object      { return x }
func (x I128) clone() Object      { return x }
func (x U256) clone() Object      { return x }
func (x I256) clone() Object      { return x }
func (b Bytes) clone() Object     { return slices.Clone(b) }
func (s String) clone() Object    { return slices.Clone(s) }
func (s Symbol) clone() Object    { return slices.Clone(s) }
func (v Vec) clone() Object       { return slices.Clone(v) }
func (m Map) clone() Object       { return slices.Clone(m) }
func (a Address) clone() Object   { return a }
func (b BigInt) clone() Object    { return BigInt{V: new(big.Int).Set(b.V)} }
func (r Record) clone() Object {
	return Record{Fields: slices.Clone(r.Fields), Values: slices.Clone(r.Values)}
}

func (U64) children() []val.Val       { return nil }
func (I64) children() []val.Val       { return nil }
func (Timepoint) children() []val.Val { return nil }
func (Duration) children() []val.Val  { return nil }
func (U128) children() []val.Val      { return nil }
func (I128) children() []val.Val      { return nil }
func (U256) children() []val.Val      { return nil }
func (I256) children() []val.Val      { return nil }
func (Bytes) children() []val.Val     { return nil }
func (String) children() []val.Val    { return nil }
func (Symbol) children() []val.Val    { return nil }
func (Address) children() []val.Val   { return nil }
func (BigInt) children() []val.Val    { return nil }
func (v Vec) children() []val.Val     { return v }
func (r Record) children() []val.Val  { return r.Values }
func (m Map) children() []val.Val {
	out := make([]val.Val, 0, 2*len(m))
	for _, e := range m {
		out = append(out, e.Key, e.Val)
	}
	return out
}
