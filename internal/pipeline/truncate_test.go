package pipeline

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTruncate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		text string
		max  uint
		want string
	}{
		{name: "fits exactly", text: "hello   world", max: 8, want: "hello   world"},
		{name: "cut drops trailing whitespace", text: "hello   world", max: 5, want: "hello"},
		{name: "cut keeps inner whitespace", text: "hello   world", max: 6, want: "hello   w"},
		{name: "under budget", text: "  a b  ", max: 10, want: "  a b  "},
		{name: "zero budget keeps leading whitespace", text: "\n\t abc", max: 0, want: "\n\t "},
		{name: "empty text", text: "", max: 0, want: ""},
		{name: "multibyte runes", text: "héllo wörld", max: 7, want: "héllo wö"},
		{name: "only whitespace", text: " \n \t ", max: 0, want: " \n \t "},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tt.want, Truncate(tt.text, tt.max))
		})
	}
}

func TestTruncateBoundAndIdempotence(t *testing.T) {
	t.Parallel()

	texts := []string{
		"",
		"hello   world",
		"  leading and trailing  ",
		"Go\tis\nexpressive, concise, clean, and efficient.",
		strings.Repeat("ab ", 200),
		"日本語 のテキスト です",
	}
	for _, text := range texts {
		for max := uint(0); max <= 60; max++ {
			out := Truncate(text, max)
			if countNonSpace(text) <= max {
				require.Equal(t, text, out)
			} else {
				require.LessOrEqual(t, countNonSpace(out), max)
				require.True(t, strings.HasPrefix(text, out))
			}
			require.Equal(t, out, Truncate(out, max))
		}
	}
}
