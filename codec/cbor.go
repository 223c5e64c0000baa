package codec

import (
	"bytes"
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"github.com/colorfulnotion/contracthost/hosterrors"
)

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("codec: failed to create CBOR enc mode: %v", err))
	}
	encMode = em
	dm, err := cbor.DecOptions{
		DupMapKey:       cbor.DupMapKeyEnforcedAPF,
		MaxNestedLevels: 2*MaxDepth + 4,
	}.DecMode()
	if err != nil {
		panic(fmt.Sprintf("codec: failed to create CBOR dec mode: %v", err))
	}
	decMode = dm
}

// Marshal produces the canonical encoding of v.
func Marshal(v Value) ([]byte, error) {
	if err := v.Validate(); err != nil {
		return nil, err
	}
	b, err := encMode.Marshal(v)
	if err != nil {
		return nil, hosterrors.Conversion(hosterrors.CodeInvalidValue, "encode: %v", err)
	}
	return b, nil
}

// Unmarshal decodes and validates a Value. Input that is not in canonical
// form is rejected so every value has exactly one encoding.
func Unmarshal(data []byte) (Value, error) {
	var v Value
	if err := decMode.Unmarshal(data, &v); err != nil {
		return Value{}, hosterrors.Conversion(hosterrors.CodeInvalidValue, "decode: %v", err)
	}
	if err := v.Validate(); err != nil {
		return Value{}, err
	}
	again, err := encMode.Marshal(v)
	if err != nil || !bytes.Equal(again, data) {
		return Value{}, hosterrors.Conversion(hosterrors.CodeInvalidValue, "non-canonical encoding")
	}
	return v, nil
}

// Equal compares two trees by their canonical encodings.
func Equal(a, b Value) bool {
	x, err1 := encMode.Marshal(a)
	y, err2 := encMode.Marshal(b)
	return err1 == nil && err2 == nil && bytes.Equal(x, y)
}
