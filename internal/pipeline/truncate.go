package pipeline

import (
	"unicode"
	"unicode/utf8"
)

// Truncate returns the shortest prefix of text holding maxChars
// non-whitespace characters. Whitespace is never counted and is kept as is up
// to the cut. Text that already fits is returned unchanged. With maxChars 0
// only the leading whitespace survives.
func Truncate(text string, maxChars uint) string {
	if countNonSpace(text) <= maxChars {
		return text
	}
	var count uint
	for i := 0; i < len(text); {
		r, size := utf8.DecodeRuneInString(text[i:])
		if !unicode.IsSpace(r) {
			if count == maxChars {
				return text[:i]
			}
			count++
			if count == maxChars {
				return text[:i+size]
			}
		}
		i += size
	}
	return text
}

func countNonSpace(text string) uint {
	var n uint
	for _, r := range text {
		if !unicode.IsSpace(r) {
			n++
		}
	}
	return n
}
