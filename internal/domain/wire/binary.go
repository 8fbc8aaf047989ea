package wire

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/GriffinCanCode/corsbroker/internal/shared/types"
)

// EncodeBinary maps every byte to the character with the same code point.
func EncodeBinary(data []byte) string {
	n := len(data)
	for _, b := range data {
		if b >= utf8.RuneSelf {
			n++
		}
	}

	var sb strings.Builder
	sb.Grow(n)
	for _, b := range data {
		sb.WriteRune(rune(b))
	}
	return sb.String()
}

// DecodeBinary is the inverse of EncodeBinary. It fails on characters
// above U+00FF.
func DecodeBinary(s string) ([]byte, error) {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); {
		r, size := utf8.DecodeRuneInString(s[i:])
		if r == utf8.RuneError && size <= 1 {
			return nil, fmt.Errorf("%w: invalid UTF-8 at offset %d", types.ErrInvalidRequest, i)
		}
		if r > 0xFF {
			return nil, fmt.Errorf("%w: character U+%04X at offset %d is not a byte", types.ErrInvalidRequest, r, i)
		}
		out = append(out, byte(r))
		i += size
	}
	return out, nil
}

// Length returns the length of s in characters.
func Length(s string) int {
	return utf8.RuneCountInString(s)
}
