package pvm

import (
	"errors"
)

var errShortInput = errors.New("short input")

// EL encodes x as l little-endian bytes.
func EL(x uint64, l uint32) []byte {
	out := make([]byte, l)
	for i := range out {
		out[i] = byte(x)
		x >>= 8
	}
	return out
}

func DecodeEL(encoded []byte) uint64 {
	var x uint64
	for i := len(encoded) - 1; i >= 0; i-- {
		x = x<<8 | uint64(encoded[i])
	}
	return x
}

// E is the variable-length natural number encoding: the count of leading
// one bits in the first byte gives the number of trailing bytes.
func E(x uint64) []byte {
	if x == 0 {
		return []byte{0}
	}
	for l := uint32(0); l < 8; l++ {
		if x < 1<<(7*(l+1)) {
			prefix := byte(256 - (uint32(1) << (8 - l)))
			first := prefix + byte(x>>(8*l))
			return append([]byte{first}, EL(x, l)...)
		}
	}
	return append([]byte{0xff}, EL(x, 8)...)
}

// DecodeE returns the value and the number of bytes consumed.
func DecodeE(encoded []byte) (uint64, uint32, error) {
	if len(encoded) == 0 {
		return 0, 0, errShortInput
	}
	first := encoded[0]
	if first == 0xff {
		if len(encoded) < 9 {
			return 0, 0, errShortInput
		}
		return DecodeEL(encoded[1:9]), 9, nil
	}
	var l uint32
	for first&(0x80>>l) != 0 {
		l++
	}
	if uint32(len(encoded)) < 1+l {
		return 0, 0, errShortInput
	}
	high := uint64(first & (0xff >> (l + 1)))
	return high<<(8*l) | DecodeEL(encoded[1:1+l]), 1 + l, nil
}
