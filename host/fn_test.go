package host

import (
	"context"
	"crypto/ed25519"
	"crypto/sha256"
	"math/big"
	"testing"

	bls12381 "github.com/consensys/gnark-crypto/ecc/bls12-381"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/blake2b"

	"github.com/colorfulnotion/contracthost/codec"
	"github.com/colorfulnotion/contracthost/hosterrors"
	"github.com/colorfulnotion/contracthost/val"
)

// passthrough calls the host function named by the invoked function with
// the invocation arguments.
type passthrough struct{}

func (passthrough) Run(_ context.Context, g *Guest, fn string, args []val.Val) (val.Val, error) {
	return g.Call(fn, args...)
}

var (
	arithDomainErr = &hosterrors.HostError{Kind: hosterrors.KindInvalidInput, Code: hosterrors.CodeArithDomain}
	indexBoundsErr = &hosterrors.HostError{Kind: hosterrors.KindInvalidInput, Code: hosterrors.CodeIndexBounds}
)

type fnCase struct {
	name string
	fn   string
	args []codec.Value
	want codec.Value
	err  error
}

func runCases(t *testing.T, cases []fnCase) {
	h := newHost(t, DefaultConfig(), WithContract(outerID, passthrough{}))
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			res, err := invoke(t, h, outerID, tc.fn, tc.args...)
			if tc.err != nil {
				require.ErrorIs(t, err, tc.err)
				require.False(t, hosterrors.IsFatal(err))
				return
			}
			require.NoError(t, err)
			require.True(t, codec.Equal(tc.want, res.Value), "want %s, got %s", tc.want, res.Value)
		})
	}
}

func u256(x *uint256.Int) codec.Value { return codec.U256(x.Bytes32()) }

func i256(x int64) codec.Value {
	v := uint256.NewInt(0)
	if x < 0 {
		v.SetUint64(uint64(-x))
		v.Neg(v)
	} else {
		v.SetUint64(uint64(x))
	}
	return codec.I256(v.Bytes32())
}

func i256MinVal() codec.Value {
	return codec.I256(new(uint256.Int).Lsh(uint256.NewInt(1), 255).Bytes32())
}

func TestIntFunctions(t *testing.T) {
	max := new(uint256.Int).SetAllOne()
	pow255 := new(uint256.Int).Lsh(uint256.NewInt(1), 255)
	runCases(t, []fnCase{
		{name: "u64 from words", fn: "int.obj_from_u64", args: []codec.Value{codec.U32(1), codec.U32(2)}, want: codec.U64(1<<32 | 2)},
		{name: "u64 high word", fn: "int.obj_to_u64", args: []codec.Value{codec.U64(7<<32 | 9), codec.U32(1)}, want: codec.U32(7)},
		{name: "u64 low word", fn: "int.obj_to_u64", args: []codec.Value{codec.U64(7<<32 | 9), codec.U32(0)}, want: codec.U32(9)},
		{name: "u64 bad word", fn: "int.obj_to_u64", args: []codec.Value{codec.U64(1), codec.U32(2)}, err: indexBoundsErr},
		{name: "u64 wrong type", fn: "int.obj_to_u64", args: []codec.Value{codec.I64(1), codec.U32(0)}, err: hosterrors.ErrInvalidInput},
		{name: "u128 hi", fn: "int.obj_to_u128_hi64", args: []codec.Value{codec.U128(5, 6)}, want: codec.U64(5)},

		{name: "u256 add", fn: "int.u256_add", args: []codec.Value{u256(uint256.NewInt(2)), u256(uint256.NewInt(3))}, want: u256(uint256.NewInt(5))},
		{name: "u256 add overflow", fn: "int.u256_add", args: []codec.Value{u256(max), u256(uint256.NewInt(1))}, err: arithDomainErr},
		{name: "u256 sub underflow", fn: "int.u256_sub", args: []codec.Value{u256(uint256.NewInt(1)), u256(uint256.NewInt(2))}, err: arithDomainErr},
		{name: "u256 mul overflow", fn: "int.u256_mul", args: []codec.Value{u256(pow255), u256(uint256.NewInt(2))}, err: arithDomainErr},
		{name: "u256 div", fn: "int.u256_div", args: []codec.Value{u256(uint256.NewInt(17)), u256(uint256.NewInt(5))}, want: u256(uint256.NewInt(3))},
		{name: "u256 div zero", fn: "int.u256_div", args: []codec.Value{u256(uint256.NewInt(17)), u256(uint256.NewInt(0))}, err: arithDomainErr},
		{name: "u256 rem", fn: "int.u256_rem_euclid", args: []codec.Value{u256(uint256.NewInt(17)), u256(uint256.NewInt(5))}, want: u256(uint256.NewInt(2))},
		{name: "u256 pow", fn: "int.u256_pow", args: []codec.Value{u256(uint256.NewInt(3)), codec.U32(5)}, want: u256(uint256.NewInt(243))},
		{name: "u256 pow overflow", fn: "int.u256_pow", args: []codec.Value{u256(uint256.NewInt(2)), codec.U32(256)}, err: arithDomainErr},
		{name: "u256 shl", fn: "int.u256_shl", args: []codec.Value{u256(uint256.NewInt(1)), codec.U32(255)}, want: u256(pow255)},
		{name: "u256 shl too far", fn: "int.u256_shl", args: []codec.Value{u256(uint256.NewInt(1)), codec.U32(256)}, err: arithDomainErr},
		{name: "u256 be bytes", fn: "int.u256_val_from_be_bytes", args: []codec.Value{codec.Bytes([]byte{1, 0})}, want: u256(uint256.NewInt(256))},
		{name: "u256 be bytes too long", fn: "int.u256_val_from_be_bytes", args: []codec.Value{codec.Bytes(make([]byte, 33))}, err: hosterrors.ErrInvalidInput},

		{name: "i256 add", fn: "int.i256_add", args: []codec.Value{i256(-5), i256(3)}, want: i256(-2)},
		{name: "i256 sub overflow", fn: "int.i256_sub", args: []codec.Value{i256MinVal(), i256(1)}, err: arithDomainErr},
		{name: "i256 mul", fn: "int.i256_mul", args: []codec.Value{i256(-4), i256(6)}, want: i256(-24)},
		{name: "i256 mul min", fn: "int.i256_mul", args: []codec.Value{i256MinVal(), i256(1)}, want: i256MinVal()},
		{name: "i256 mul overflow", fn: "int.i256_mul", args: []codec.Value{i256MinVal(), i256(-1)}, err: arithDomainErr},
		{name: "i256 div", fn: "int.i256_div", args: []codec.Value{i256(-7), i256(2)}, want: i256(-3)},
		{name: "i256 div overflow", fn: "int.i256_div", args: []codec.Value{i256MinVal(), i256(-1)}, err: arithDomainErr},
		{name: "i256 pow", fn: "int.i256_pow", args: []codec.Value{i256(-2), codec.U32(3)}, want: i256(-8)},
		{name: "i256 shr", fn: "int.i256_shr", args: []codec.Value{i256(-8), codec.U32(1)}, want: i256(-4)},

		{name: "bigint add", fn: "int.bigint_add", args: []codec.Value{codec.BigInt(big.NewInt(-5)), codec.BigInt(big.NewInt(7))}, want: codec.BigInt(big.NewInt(2))},
		{name: "bigint mul", fn: "int.bigint_mul", args: []codec.Value{codec.BigInt(new(big.Int).Lsh(big.NewInt(1), 200)), codec.BigInt(big.NewInt(-1))}, want: codec.BigInt(new(big.Int).Neg(new(big.Int).Lsh(big.NewInt(1), 200)))},
		{name: "bigint mul cap", fn: "int.bigint_mul", args: []codec.Value{codec.BigInt(new(big.Int).Lsh(big.NewInt(1), 5000)), codec.BigInt(new(big.Int).Lsh(big.NewInt(1), 5000))}, err: hosterrors.ErrInvalidInput},
		{name: "bigint cmp", fn: "int.bigint_cmp", args: []codec.Value{codec.BigInt(big.NewInt(-5)), codec.BigInt(big.NewInt(7))}, want: codec.I32(-1)},
		{name: "bigint from bytes", fn: "int.bigint_from_be_bytes", args: []codec.Value{codec.Bool(true), codec.Bytes([]byte{1, 0})}, want: codec.BigInt(big.NewInt(-256))},
		{name: "bigint to bytes drops sign", fn: "int.bigint_to_be_bytes", args: []codec.Value{codec.BigInt(big.NewInt(-256))}, want: codec.Bytes([]byte{1, 0})},
		{name: "bigint is negative", fn: "int.bigint_is_negative", args: []codec.Value{codec.BigInt(big.NewInt(-256))}, want: codec.Bool(true)},
		{name: "bigint zero not negative", fn: "int.bigint_is_negative", args: []codec.Value{codec.BigInt(big.NewInt(0))}, want: codec.Bool(false)},
	})
}

func TestBigIntBytesRoundTrip(t *testing.T) {
	c := NativeContract{"main": func(g *Guest, args []val.Val) (val.Val, error) {
		neg := call(t, g, "int.bigint_is_negative", args[0])
		mag := call(t, g, "int.bigint_to_be_bytes", args[0])
		return g.Call("int.bigint_from_be_bytes", neg, mag)
	}}
	h := newHost(t, DefaultConfig(), WithContract(outerID, c))
	for _, x := range []*big.Int{big.NewInt(-256), big.NewInt(0), new(big.Int).Lsh(big.NewInt(-3), 100)} {
		res, err := invoke(t, h, outerID, "main", codec.BigInt(x))
		require.NoError(t, err, x.String())
		require.True(t, codec.Equal(codec.BigInt(x), res.Value), "want %s, got %s", x, res.Value)
	}
}

func TestVecFunctions(t *testing.T) {
	v := codec.Vec(codec.U32(1), codec.U32(3), codec.U32(5))
	runCases(t, []fnCase{
		{name: "get", fn: "vec.get", args: []codec.Value{v, codec.U32(2)}, want: codec.U32(5)},
		{name: "get out of bounds", fn: "vec.get", args: []codec.Value{v, codec.U32(3)}, err: indexBoundsErr},
		{name: "put", fn: "vec.put", args: []codec.Value{v, codec.U32(0), codec.Void()}, want: codec.Vec(codec.Void(), codec.U32(3), codec.U32(5))},
		{name: "del", fn: "vec.del", args: []codec.Value{v, codec.U32(1)}, want: codec.Vec(codec.U32(1), codec.U32(5))},
		{name: "insert at end", fn: "vec.insert", args: []codec.Value{v, codec.U32(3), codec.U32(7)}, want: codec.Vec(codec.U32(1), codec.U32(3), codec.U32(5), codec.U32(7))},
		{name: "insert past end", fn: "vec.insert", args: []codec.Value{v, codec.U32(4), codec.U32(7)}, err: indexBoundsErr},
		{name: "push front", fn: "vec.push_front", args: []codec.Value{v, codec.U32(0)}, want: codec.Vec(codec.U32(0), codec.U32(1), codec.U32(3), codec.U32(5))},
		{name: "pop front", fn: "vec.pop_front", args: []codec.Value{v}, want: codec.Vec(codec.U32(3), codec.U32(5))},
		{name: "pop empty", fn: "vec.pop_back", args: []codec.Value{codec.Vec()}, err: indexBoundsErr},
		{name: "front", fn: "vec.front", args: []codec.Value{v}, want: codec.U32(1)},
		{name: "back", fn: "vec.back", args: []codec.Value{v}, want: codec.U32(5)},
		{name: "append", fn: "vec.append", args: []codec.Value{v, codec.Vec(codec.U32(9))}, want: codec.Vec(codec.U32(1), codec.U32(3), codec.U32(5), codec.U32(9))},
		{name: "slice", fn: "vec.slice", args: []codec.Value{v, codec.U32(1), codec.U32(3)}, want: codec.Vec(codec.U32(3), codec.U32(5))},
		{name: "slice reversed", fn: "vec.slice", args: []codec.Value{v, codec.U32(2), codec.U32(1)}, err: hosterrors.ErrInvalidInput},
		{name: "first index", fn: "vec.first_index_of", args: []codec.Value{codec.Vec(codec.U32(4), codec.U32(4)), codec.U32(4)}, want: codec.U32(0)},
		{name: "last index", fn: "vec.last_index_of", args: []codec.Value{codec.Vec(codec.U32(4), codec.U32(4)), codec.U32(4)}, want: codec.U32(1)},
		{name: "index missing", fn: "vec.first_index_of", args: []codec.Value{v, codec.U32(4)}, want: codec.Void()},
		{name: "search found", fn: "vec.binary_search", args: []codec.Value{v, codec.U32(3)}, want: codec.U64(1<<32 | 1)},
		{name: "search insertion point", fn: "vec.binary_search", args: []codec.Value{v, codec.U32(4)}, want: codec.U64(2)},
		{name: "len", fn: "vec.len", args: []codec.Value{v}, want: codec.U32(3)},
		{name: "arity", fn: "vec.len", args: []codec.Value{v, v}, err: &hosterrors.HostError{Kind: hosterrors.KindInvalidInput, Code: hosterrors.CodeUnexpectedSize}},
		{name: "shape", fn: "vec.len", args: []codec.Value{codec.U32(1)}, err: &hosterrors.HostError{Kind: hosterrors.KindInvalidInput, Code: hosterrors.CodeUnexpectedType}},
		{name: "unknown function", fn: "vec.nope", err: hosterrors.ErrMissingFunction},
	})
}

func TestMapFunctions(t *testing.T) {
	m := codec.Map(
		codec.MapEntry{Key: codec.U32(2), Val: codec.String("two")},
		codec.MapEntry{Key: codec.U32(1), Val: codec.String("one")},
	)
	runCases(t, []fnCase{
		{name: "get", fn: "map.get", args: []codec.Value{m, codec.U32(2)}, want: codec.String("two")},
		{name: "get missing", fn: "map.get", args: []codec.Value{m, codec.U32(3)}, err: &hosterrors.HostError{Kind: hosterrors.KindInvalidInput, Code: hosterrors.CodeMissingValue}},
		{name: "has", fn: "map.has", args: []codec.Value{m, codec.U32(1)}, want: codec.Bool(true)},
		{name: "put keeps order", fn: "map.put", args: []codec.Value{m, codec.U32(0), codec.Void()}, want: codec.Map(
			codec.MapEntry{Key: codec.U32(0), Val: codec.Void()},
			codec.MapEntry{Key: codec.U32(1), Val: codec.String("one")},
			codec.MapEntry{Key: codec.U32(2), Val: codec.String("two")},
		)},
		{name: "len", fn: "map.len", args: []codec.Value{m}, want: codec.U32(2)},
		{name: "del", fn: "map.del", args: []codec.Value{m, codec.U32(1)}, want: codec.Map(codec.MapEntry{Key: codec.U32(2), Val: codec.String("two")})},
		{name: "del missing", fn: "map.del", args: []codec.Value{m, codec.U32(5)}, err: hosterrors.ErrInvalidInput},
		{name: "values", fn: "map.values", args: []codec.Value{m}, want: codec.Vec(codec.String("one"), codec.String("two"))},
		{name: "key by pos", fn: "map.key_by_pos", args: []codec.Value{m, codec.U32(2)}, err: indexBoundsErr},
	})
}

func TestRecordFunctions(t *testing.T) {
	fields := codec.Vec(codec.Symbol("a"), codec.Symbol("b"))
	values := codec.Vec(codec.U32(1), codec.U32(2))
	rec := codec.Record([]string{"a", "b"}, []codec.Value{codec.U32(1), codec.U32(2)})
	runCases(t, []fnCase{
		{name: "new", fn: "rec.new", args: []codec.Value{fields, values}, want: rec},
		{name: "unordered", fn: "rec.new", args: []codec.Value{codec.Vec(codec.Symbol("b"), codec.Symbol("a")), values}, err: hosterrors.ErrInvalidInput},
		{name: "length mismatch", fn: "rec.new", args: []codec.Value{fields, codec.Vec()}, err: hosterrors.ErrInvalidInput},
		{name: "get", fn: "rec.get", args: []codec.Value{rec, codec.Symbol("b")}, want: codec.U32(2)},
		{name: "get missing", fn: "rec.get", args: []codec.Value{rec, codec.Symbol("c")}, err: hosterrors.ErrInvalidInput},
		{name: "fields", fn: "rec.fields", args: []codec.Value{rec}, want: fields},
		{name: "len", fn: "rec.len", args: []codec.Value{rec}, want: codec.U32(2)},
	})
}

func TestBufFunctions(t *testing.T) {
	b := codec.Bytes([]byte{1, 2, 3})
	runCases(t, []fnCase{
		{name: "push", fn: "buf.bytes_push", args: []codec.Value{b, codec.U32(4)}, want: codec.Bytes([]byte{1, 2, 3, 4})},
		{name: "push not a byte", fn: "buf.bytes_push", args: []codec.Value{b, codec.U32(256)}, err: hosterrors.ErrInvalidInput},
		{name: "get", fn: "buf.bytes_get", args: []codec.Value{b, codec.U32(1)}, want: codec.U32(2)},
		{name: "insert", fn: "buf.bytes_insert", args: []codec.Value{b, codec.U32(0), codec.U32(9)}, want: codec.Bytes([]byte{9, 1, 2, 3})},
		{name: "slice", fn: "buf.bytes_slice", args: []codec.Value{b, codec.U32(1), codec.U32(3)}, want: codec.Bytes([]byte{2, 3})},
		{name: "append", fn: "buf.bytes_append", args: []codec.Value{b, codec.Bytes([]byte{4})}, want: codec.Bytes([]byte{1, 2, 3, 4})},
		{name: "pop empty", fn: "buf.bytes_pop", args: []codec.Value{codec.Bytes(nil)}, err: indexBoundsErr},
		{name: "string len", fn: "buf.string_len", args: []codec.Value{codec.String("héllo")}, want: codec.U32(6)},
		{name: "string bytes", fn: "buf.string_to_bytes", args: []codec.Value{codec.String("hi")}, want: codec.Bytes([]byte("hi"))},
		{name: "symbol len", fn: "buf.symbol_len", args: []codec.Value{codec.Symbol("transfer")}, want: codec.U32(8)},
		{name: "no memory", fn: "buf.bytes_new_from_linear_memory", args: []codec.Value{codec.U32(0), codec.U32(1)}, err: hosterrors.ErrInvalidInput},
	})
}

func TestSerializeRoundTrip(t *testing.T) {
	c := NativeContract{"main": func(g *Guest, args []val.Val) (val.Val, error) {
		enc := call(t, g, "buf.serialize_to_bytes", args[0])
		return g.Call("buf.deserialize_from_bytes", enc)
	}, "garbage": func(g *Guest, _ []val.Val) (val.Val, error) {
		b, err := g.Value(codec.Bytes([]byte{0xff, 0x00}))
		if err != nil {
			return 0, err
		}
		return g.Call("buf.deserialize_from_bytes", b)
	}}
	h := newHost(t, DefaultConfig(), WithContract(outerID, c))
	in := codec.Vec(
		codec.Map(codec.MapEntry{Key: codec.Symbol("k"), Val: codec.I128(-1, 5)}),
		codec.Record([]string{"x"}, []codec.Value{codec.Address(innerID)}),
		codec.Status(hosterrors.KindContract, 3),
	)
	res, err := invoke(t, h, outerID, "main", in)
	require.NoError(t, err)
	require.True(t, codec.Equal(in, res.Value), "got %s", res.Value)

	_, err = invoke(t, h, outerID, "garbage")
	require.ErrorIs(t, err, hosterrors.ErrConversion)
}

func TestHashFunctions(t *testing.T) {
	msg := []byte("abc")
	sha := sha256.Sum256(msg)
	b2 := blake2b.Sum256(msg)
	runCases(t, []fnCase{
		{name: "sha256", fn: "crypto.compute_hash_sha256", args: []codec.Value{codec.Bytes(msg)}, want: codec.Bytes(sha[:])},
		{name: "keccak256", fn: "crypto.compute_hash_keccak256", args: []codec.Value{codec.Bytes(msg)}, want: codec.Bytes(crypto.Keccak256(msg))},
		{name: "blake2b", fn: "crypto.compute_hash_blake2b", args: []codec.Value{codec.Bytes(msg)}, want: codec.Bytes(b2[:])},
	})
}

func TestSignatureFunctions(t *testing.T) {
	seed := make([]byte, ed25519.SeedSize)
	seed[0] = 7
	priv := ed25519.NewKeyFromSeed(seed)
	pub := priv.Public().(ed25519.PublicKey)
	msg := []byte("transfer 10")
	sig := ed25519.Sign(priv, msg)
	bad := append([]byte(nil), sig...)
	bad[0] ^= 1

	key, err := crypto.HexToECDSA("4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318")
	require.NoError(t, err)
	digest := crypto.Keccak256(msg)
	esig, err := crypto.Sign(digest, key)
	require.NoError(t, err)

	runCases(t, []fnCase{
		{name: "ed25519 valid", fn: "crypto.verify_sig_ed25519", args: []codec.Value{codec.Bytes(pub), codec.Bytes(msg), codec.Bytes(sig)}, want: codec.Bool(true)},
		{name: "ed25519 invalid", fn: "crypto.verify_sig_ed25519", args: []codec.Value{codec.Bytes(pub), codec.Bytes(msg), codec.Bytes(bad)}, want: codec.Bool(false)},
		{name: "ed25519 short key", fn: "crypto.verify_sig_ed25519", args: []codec.Value{codec.Bytes(pub[:31]), codec.Bytes(msg), codec.Bytes(sig)}, err: hosterrors.ErrInvalidInput},
		{name: "secp256k1 recover", fn: "crypto.recover_key_ecdsa_secp256k1", args: []codec.Value{codec.Bytes(digest), codec.Bytes(esig[:64]), codec.U32(uint32(esig[64]))}, want: codec.Bytes(crypto.FromECDSAPub(&key.PublicKey))},
		{name: "secp256k1 bad recid", fn: "crypto.recover_key_ecdsa_secp256k1", args: []codec.Value{codec.Bytes(digest), codec.Bytes(esig[:64]), codec.U32(4)}, err: hosterrors.ErrInvalidInput},
	})
}

func TestBLSFunctions(t *testing.T) {
	_, _, g1, g2 := bls12381.Generators()
	var two, neg bls12381.G1Affine
	two.ScalarMultiplication(&g1, big.NewInt(2))
	neg.Neg(&g1)
	g1b, twob, negb, g2b := g1.RawBytes(), two.RawBytes(), neg.RawBytes(), g2.RawBytes()

	runCases(t, []fnCase{
		{name: "g1 add", fn: "crypto.bls12_381_g1_add", args: []codec.Value{codec.Bytes(g1b[:]), codec.Bytes(g1b[:])}, want: codec.Bytes(twob[:])},
		{name: "g1 mul", fn: "crypto.bls12_381_g1_mul", args: []codec.Value{codec.Bytes(g1b[:]), u256(uint256.NewInt(2))}, want: codec.Bytes(twob[:])},
		{name: "g1 bad size", fn: "crypto.bls12_381_g1_add", args: []codec.Value{codec.Bytes(g1b[:48]), codec.Bytes(g1b[:])}, err: hosterrors.ErrInvalidInput},
		{name: "pairing", fn: "crypto.bls12_381_pairing_check", args: []codec.Value{
			codec.Vec(codec.Bytes(g1b[:]), codec.Bytes(negb[:])),
			codec.Vec(codec.Bytes(g2b[:]), codec.Bytes(g2b[:])),
		}, want: codec.Bool(true)},
		{name: "pairing fails", fn: "crypto.bls12_381_pairing_check", args: []codec.Value{
			codec.Vec(codec.Bytes(g1b[:])),
			codec.Vec(codec.Bytes(g2b[:])),
		}, want: codec.Bool(false)},
		{name: "pairing length mismatch", fn: "crypto.bls12_381_pairing_check", args: []codec.Value{
			codec.Vec(codec.Bytes(g1b[:])),
			codec.Vec(),
		}, err: hosterrors.ErrInvalidInput},
	})
}

func TestPrngFunctions(t *testing.T) {
	c := NativeContract{"main": func(g *Guest, _ []val.Val) (val.Val, error) {
		lo, err := g.Value(codec.U64(10))
		require.NoError(t, err)
		for i := 0; i < 32; i++ {
			x := call(t, g, "prng.u64_in_inclusive_range", lo, lo)
			d, err := g.Decode(x)
			require.NoError(t, err)
			require.True(t, codec.Equal(codec.U64(10), d))
		}
		hi, err := g.Value(codec.U64(12))
		require.NoError(t, err)
		x, err := g.Decode(call(t, g, "prng.u64_in_inclusive_range", lo, hi))
		require.NoError(t, err)
		require.True(t, x.U >= 10 && x.U <= 12)
		_, err = g.Call("prng.u64_in_inclusive_range", hi, lo)
		require.ErrorIs(t, err, hosterrors.ErrInvalidInput)
		_, err = g.Call("prng.bytes_new", val.FromU32(maxPrngBytes+1))
		require.ErrorIs(t, err, hosterrors.ErrInvalidInput)

		v, err := g.Value(codec.Vec(codec.U32(1), codec.U32(2), codec.U32(3), codec.U32(4)))
		require.NoError(t, err)
		return g.Call("prng.vec_shuffle", v)
	}}
	h := newHost(t, DefaultConfig(), WithContract(outerID, c))
	res, err := invoke(t, h, outerID, "main")
	require.NoError(t, err)
	require.Len(t, res.Value.Vec, 4)
	seen := map[uint64]bool{}
	for _, v := range res.Value.Vec {
		seen[v.U] = true
	}
	require.Len(t, seen, 4)
}

func TestContextFunctions(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Ledger.Sequence = 77
	cfg.Ledger.Timestamp = 1_700_000_000
	cfg.Ledger.NetworkID[0] = 0xab
	inner := NativeContract{"who": func(g *Guest, _ []val.Val) (val.Val, error) {
		return g.Call("ctx.get_invoking_contract")
	}}
	outer := NativeContract{
		"main": func(g *Guest, _ []val.Val) (val.Val, error) {
			require.Equal(t, val.FromU32(77), call(t, g, "ctx.get_ledger_sequence"))
			ts, err := g.Decode(call(t, g, "ctx.get_ledger_timestamp"))
			require.NoError(t, err)
			require.True(t, codec.Equal(codec.Timepoint(1_700_000_000), ts))
			id, err := g.Decode(call(t, g, "ctx.get_ledger_network_id"))
			require.NoError(t, err)
			require.Equal(t, byte(0xab), id.Raw[0])
			require.Equal(t, val.Void, call(t, g, "ctx.get_invoking_contract"))
			require.Equal(t, val.FromI32(-1), call(t, g, "ctx.obj_cmp", val.FromU32(1), val.FromU32(2)))
			return callInner(t, g, "who"), nil
		},
		"topics": func(g *Guest, _ []val.Val) (val.Val, error) {
			v, err := g.Value(codec.Vec(codec.U32(1), codec.U32(2), codec.U32(3), codec.U32(4), codec.U32(5)))
			require.NoError(t, err)
			return g.Call("ctx.contract_event", v, val.Void)
		},
	}
	h := newHost(t, cfg, WithContract(outerID, outer), WithContract(innerID, inner))
	res, err := invoke(t, h, outerID, "main")
	require.NoError(t, err)
	require.True(t, codec.Equal(codec.Address(outerID), res.Value))

	_, err = invoke(t, h, outerID, "topics")
	require.ErrorIs(t, err, &hosterrors.HostError{Kind: hosterrors.KindInvalidInput, Code: hosterrors.CodeExceededLimit})
}

func TestAddressFunctions(t *testing.T) {
	runCases(t, []fnCase{
		{name: "from bytes", fn: "addr.from_bytes", args: []codec.Value{codec.Bytes(innerID[:])}, want: codec.Address(innerID)},
		{name: "to bytes", fn: "addr.to_bytes", args: []codec.Value{codec.Address(innerID)}, want: codec.Bytes(innerID[:])},
		{name: "short", fn: "addr.from_bytes", args: []codec.Value{codec.Bytes(innerID[:4])}, err: hosterrors.ErrInvalidInput},
	})
}
