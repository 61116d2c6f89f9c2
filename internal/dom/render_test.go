package dom

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func TestTruncateRuneBoundary(t *testing.T) {
	cases := []struct {
		in string
		n  int
	}{
		{"résumé filtré", 6},      // cut lands inside the é sequence
		{"日本語のテキスト", 10},         // three-byte runes
		{"plain ascii text", 5},   // boundary already clean
		{strings.Repeat("ü", 40), 7},
	}
	for _, c := range cases {
		got := truncate(c.in, c.n)
		if !utf8.ValidString(got) {
			t.Errorf("truncate(%q, %d) = %q is not valid UTF-8", c.in, c.n, got)
		}
		if len(got) > c.n+len("…") {
			t.Errorf("truncate(%q, %d) = %q exceeds the byte budget", c.in, c.n, got)
		}
	}
	if got := truncate("short", 60); got != "short" {
		t.Errorf("under-budget string must pass through, got %q", got)
	}
}
