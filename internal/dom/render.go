package dom

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// DefaultAttributeAllowlist is the attribute set included in model-facing
// renders. Order matters: earlier attributes win when values repeat.
var DefaultAttributeAllowlist = []string{
	"title", "type", "name", "role", "value", "placeholder",
	"aria-label", "aria-expanded", "alt", "href",
}

// RenderForModel produces the compact line-oriented page text handed to the
// language model: one `[index]<tag attr=val>text` line per interactive
// element, with bare lines for visible text that belongs to no interactive
// element. Attributes that merely repeat the visible text, or repeat each
// other, are dropped.
func RenderForModel(s *Snapshot, allowlist []string) string {
	if allowlist == nil {
		allowlist = DefaultAttributeAllowlist
	}
	var lines []string
	var walk func(n Node, underInteractive bool)
	walk = func(n Node, underInteractive bool) {
		switch v := n.(type) {
		case *TextNode:
			if !underInteractive && v.Visible {
				if t := strings.TrimSpace(v.Text); t != "" {
					lines = append(lines, t)
				}
			}
		case *ElementNode:
			inner := underInteractive
			if v.HighlightIndex >= 0 {
				lines = append(lines, renderElementLine(v, allowlist))
				inner = true
			}
			for _, c := range v.Children {
				walk(c, inner)
			}
		}
	}
	walk(s.Root, false)
	return strings.Join(lines, "\n")
}

func renderElementLine(el *ElementNode, allowlist []string) string {
	text := TextUntilNextInteractive(el)
	var attrs []string
	seen := map[string]bool{}
	for _, k := range allowlist {
		v := strings.TrimSpace(el.Attr(k))
		if v == "" {
			continue
		}
		// Skip attributes that duplicate the visible text or an
		// attribute already emitted.
		if v == text || seen[v] {
			continue
		}
		seen[v] = true
		attrs = append(attrs, fmt.Sprintf("%s=%s", k, truncate(v, 60)))
	}
	var b strings.Builder
	fmt.Fprintf(&b, "[%d]<%s", el.HighlightIndex, el.Tag)
	if len(attrs) > 0 {
		b.WriteByte(' ')
		b.WriteString(strings.Join(attrs, " "))
	}
	b.WriteByte('>')
	b.WriteString(truncate(text, 120))
	b.WriteString("</" + el.Tag + ">")
	return b.String()
}

// truncate cuts at a rune boundary so a multi-byte sequence is never
// split mid-rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	cut := n
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "…"
}
