package document

import "unicode/utf8"

// ValidText reports whether s is valid UTF-8 made only of runes the XML 1.0
// Char production allows. Anything else would be rewritten on encode.
func ValidText(s string) bool {
	for i := 0; i < len(s); {
		r, size := utf8.DecodeRuneInString(s[i:])
		if r == utf8.RuneError && size == 1 {
			return false
		}
		if !isChar(r) {
			return false
		}
		i += size
	}
	return true
}

func isChar(r rune) bool {
	switch {
	case r == 0x09 || r == 0x0A || r == 0x0D:
		return true
	case r >= 0x20 && r <= 0xD7FF:
		return true
	case r >= 0xE000 && r <= 0xFFFD:
		return true
	default:
		return r >= 0x10000 && r <= 0x10FFFF
	}
}
