package nbt

import (
	"unicode/utf16"
	"unicode/utf8"
)

// appendMUTF8 appends s to b in Java's modified UTF-8: NUL is written as two bytes and runes
// outside the BMP are written as a surrogate pair of three-byte sequences. It returns false if
// s is not valid UTF-8.
func appendMUTF8(b []byte, s string) ([]byte, bool) {
	if isPlainASCII(s) {
		return append(b, s...), true
	}
	for i := 0; i < len(s); {
		r, size := utf8.DecodeRuneInString(s[i:])
		if r == utf8.RuneError && size == 1 {
			return b, false
		}
		i += size
		switch {
		case r == 0:
			b = append(b, 0xc0, 0x80)
		case r < 0x80:
			b = append(b, byte(r))
		case r < 0x800:
			b = append(b, 0xc0|byte(r>>6), 0x80|byte(r&0x3f))
		case r < 0x10000:
			b = appendThreeByte(b, r)
		default:
			hi, lo := utf16.EncodeRune(r)
			b = appendThreeByte(appendThreeByte(b, hi), lo)
		}
	}
	return b, true
}

func appendThreeByte(b []byte, r rune) []byte {
	return append(b, 0xe0|byte(r>>12), 0x80|byte((r>>6)&0x3f), 0x80|byte(r&0x3f))
}

// decodeMUTF8 converts modified UTF-8 bytes into a Go string.
func decodeMUTF8(b []byte) (string, bool) {
	if isPlainASCII(b) {
		return string(b), true
	}
	out := make([]byte, 0, len(b))
	var pending rune = -1
	for i := 0; i < len(b); {
		c := b[i]
		var r rune
		switch {
		case c < 0x80:
			r = rune(c)
			i++
		case c&0xe0 == 0xc0:
			if i+1 >= len(b) || b[i+1]&0xc0 != 0x80 {
				return "", false
			}
			r = rune(c&0x1f)<<6 | rune(b[i+1]&0x3f)
			i += 2
		case c&0xf0 == 0xe0:
			if i+2 >= len(b) || b[i+1]&0xc0 != 0x80 || b[i+2]&0xc0 != 0x80 {
				return "", false
			}
			r = rune(c&0x0f)<<12 | rune(b[i+1]&0x3f)<<6 | rune(b[i+2]&0x3f)
			i += 3
		default:
			return "", false
		}
		if pending >= 0 {
			if !utf16.IsSurrogate(r) || r < 0xdc00 {
				return "", false
			}
			out = utf8.AppendRune(out, utf16.DecodeRune(pending, r))
			pending = -1
			continue
		}
		if utf16.IsSurrogate(r) {
			if r >= 0xdc00 {
				// A low surrogate without a preceding high one.
				return "", false
			}
			pending = r
			continue
		}
		out = utf8.AppendRune(out, r)
	}
	if pending >= 0 {
		return "", false
	}
	return string(out), true
}

func isPlainASCII[S string | []byte](s S) bool {
	for i := 0; i < len(s); i++ {
		if s[i] == 0 || s[i] >= 0x80 {
			return false
		}
	}
	return true
}
