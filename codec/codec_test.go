package codec

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/colorfulnotion/contracthost/hosterrors"
)

func sampleTree() Value {
	var id [32]byte
	id[31] = 7
	return Vec(
		Bool(true),
		U32(9),
		I64(-3),
		U128(1, 2),
		Symbol("transfer"),
		String("hello"),
		Address(id),
		Map(MapEntry{Key: Symbol("a"), Val: U32(1)}),
		Record([]string{"amount", "to"}, []Value{I128(0, 50), Address(id)}),
		BigInt(new(big.Int).Neg(new(big.Int).Lsh(big.NewInt(1), 100))),
		Status(hosterrors.KindContract, 17),
	)
}

func TestMarshalDeterministic(t *testing.T) {
	v := sampleTree()
	a, err := Marshal(v)
	require.NoError(t, err)
	b, err := Marshal(sampleTree())
	require.NoError(t, err)
	require.Equal(t, a, b)

	back, err := Unmarshal(a)
	require.NoError(t, err)
	require.True(t, Equal(v, back))
	require.Equal(t, v.String(), back.String())
	require.Equal(t, 0, back.Vec[9].BigInt().Cmp(new(big.Int).Neg(new(big.Int).Lsh(big.NewInt(1), 100))))
}

func TestValidateRejects(t *testing.T) {
	cases := []Value{
		{Type: TypeU32, U: 1 << 40},
		{Type: TypeAddress, Raw: []byte{1, 2}},
		Symbol("not-a-symbol"),
		{Type: TypeRecord, Fields: []string{"a"}},
		{Type: 99},
		{Type: TypeBigInt, B: true},
	}
	for _, c := range cases {
		_, err := Marshal(c)
		require.ErrorIs(t, err, hosterrors.ErrConversion, c.Type.String())
	}
}

func TestUnmarshalGarbage(t *testing.T) {
	_, err := Unmarshal([]byte{0xff, 0x00, 0x13})
	require.ErrorIs(t, err, hosterrors.ErrConversion)
}

func TestParseType(t *testing.T) {
	for ty := TypeBool; ty < numTypes; ty++ {
		back, ok := ParseType(ty.String())
		require.True(t, ok)
		require.Equal(t, ty, back)
	}
}
