package val

import (
	"strings"

	"github.com/colorfulnotion/contracthost/hosterrors"
)

const (
	// MaxSmallSymbolLen is the longest symbol packed into a Val body.
	MaxSmallSymbolLen = 9
	// MaxSymbolLen bounds symbol objects.
	MaxSymbolLen = 32

	symbolCodeBits = 6
	symbolCodeMask = 1<<symbolCodeBits - 1
)

func symbolCode(c byte) (uint64, bool) {
	switch {
	case c == '_':
		return 1, true
	case c >= '0' && c <= '9':
		return 2 + uint64(c-'0'), true
	case c >= 'A' && c <= 'Z':
		return 12 + uint64(c-'A'), true
	case c >= 'a' && c <= 'z':
		return 38 + uint64(c-'a'), true
	}
	return 0, false
}

func symbolChar(code uint64) byte {
	switch {
	case code == 1:
		return '_'
	case code < 12:
		return byte('0' + code - 2)
	case code < 38:
		return byte('A' + code - 12)
	default:
		return byte('a' + code - 38)
	}
}

// ValidateSymbol checks the character set and length of a symbol.
func ValidateSymbol(s []byte) error {
	if len(s) > MaxSymbolLen {
		return hosterrors.Conversion(hosterrors.CodeExceededLimit, "symbol longer than %d", MaxSymbolLen)
	}
	for _, c := range s {
		if _, ok := symbolCode(c); !ok {
			return hosterrors.Conversion(hosterrors.CodeInvalidValue, "invalid symbol char %q", c)
		}
	}
	return nil
}

// SymbolSmall packs s into a Val. It fails for symbols that need an object.
func SymbolSmall(s string) (Val, error) {
	if len(s) > MaxSmallSymbolLen {
		return 0, hosterrors.Conversion(hosterrors.CodeExceededLimit, "symbol %q too long for small form", s)
	}
	var body uint64
	for i := 0; i < len(s); i++ {
		code, ok := symbolCode(s[i])
		if !ok {
			return 0, hosterrors.Conversion(hosterrors.CodeInvalidValue, "invalid symbol char %q", s[i])
		}
		body = body<<symbolCodeBits | code
	}
	return fromBody(TagSymbolSmall, body), nil
}

// MustSymbol is SymbolSmall for compile-time constants.
func MustSymbol(s string) Val {
	v, err := SymbolSmall(s)
	if err != nil {
		panic(err)
	}
	return v
}

func (v Val) SymbolSmallString() (string, error) {
	if v.Tag() != TagSymbolSmall {
		return "", mismatch(v, "SymbolSmall")
	}
	body := v.Body()
	var buf [MaxSmallSymbolLen]byte
	n := MaxSmallSymbolLen
	for body != 0 {
		n--
		buf[n] = symbolChar(body & symbolCodeMask)
		body >>= symbolCodeBits
	}
	return string(buf[n:]), nil
}

// nonzero codes must be contiguous from the low end
func validSymbolBody(body uint64) bool {
	for body != 0 {
		if body&symbolCodeMask == 0 {
			return false
		}
		body >>= symbolCodeBits
	}
	return true
}

// IsSymbolChars reports whether every byte of s is a symbol character.
func IsSymbolChars(s string) bool {
	return strings.IndexFunc(s, func(r rune) bool {
		if r > 0x7f {
			return true
		}
		_, ok := symbolCode(byte(r))
		return !ok
	}) < 0
}
