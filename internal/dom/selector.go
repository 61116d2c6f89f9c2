package dom

import (
	"fmt"
	"regexp"
	"strings"
)

// safeAttributes is the bounded allowlist of attributes considered stable
// enough to key a selector on, in preference order.
var safeAttributes = []string{
	"id", "name", "type", "role",
	"aria-label", "aria-labelledby",
	"data-testid", "data-test-id", "data-qa", "data-cy",
	"href",
}

// classToken accepts only classes matching a strict identifier grammar;
// anything else is assumed to be build-generated and volatile.
var classToken = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_-]*$`)

// volatileClassPrefixes are generated-class families excluded even when
// they fit the identifier grammar.
var volatileClassPrefixes = []string{"css-", "sc-", "jss", "makeStyles", "Mui", "chakra-"}

// SelectorFor derives a CSS selector for an element. The result is
// deterministic for the same node: a structural path anchored at the
// nearest stable id, widened with safe class tokens, positional
// pseudo-classes for ambiguous siblings, and at most two safe attribute
// matches on the target itself. On failure it falls back to the ephemeral
// highlight-index selector, which resolves until the next capture only.
func SelectorFor(el *ElementNode) string {
	sel, err := synthesize(el)
	if err != nil || sel == "" {
		return FallbackSelector(el)
	}
	return sel
}

// FallbackSelector keys on the capture-local highlight attribute the
// driver stamps on interactive elements. Recoverable but non-durable.
func FallbackSelector(el *ElementNode) string {
	if el.HighlightIndex >= 0 {
		return fmt.Sprintf(`%s[%s="%d"]`, el.Tag, highlightAttr, el.HighlightIndex)
	}
	return el.Tag
}

func synthesize(el *ElementNode) (string, error) {
	if el == nil || el.Tag == "" {
		return "", fmt.Errorf("no element")
	}
	var segments []string
	selfAnchored := false
	for n := el; n != nil; n = n.Parent {
		seg, anchored, err := segmentFor(n)
		if err != nil {
			return "", err
		}
		segments = append([]string{seg}, segments...)
		if anchored {
			selfAnchored = n == el
			break
		}
	}
	sel := strings.Join(segments, " > ")
	// An id anchor on the target is already unique; widening it with
	// attribute matches only couples the selector to values that churn
	// with the item.
	if !selfAnchored {
		if attrs := attributeMatches(el); attrs != "" {
			sel += attrs
		}
	}
	return sel, nil
}

// segmentFor builds one path segment. It reports anchored=true when the
// segment carries an id and the path does not need to reach further up.
func segmentFor(n *ElementNode) (string, bool, error) {
	if id := n.Attr("id"); id != "" && classToken.MatchString(id) {
		return fmt.Sprintf("%s#%s", n.Tag, id), true, nil
	}
	seg := n.Tag
	for _, cls := range safeClasses(n, 2) {
		seg += "." + cls
	}
	if pos, ambiguous := siblingPosition(n, seg); ambiguous {
		seg += fmt.Sprintf(":nth-of-type(%d)", pos)
	}
	return seg, false, nil
}

func safeClasses(n *ElementNode, max int) []string {
	var out []string
	for _, cls := range strings.Fields(n.Attr("class")) {
		if !classToken.MatchString(cls) {
			continue
		}
		volatile := false
		for _, p := range volatileClassPrefixes {
			if strings.HasPrefix(cls, p) {
				volatile = true
				break
			}
		}
		if volatile {
			continue
		}
		out = append(out, cls)
		if len(out) == max {
			break
		}
	}
	return out
}

// siblingPosition counts same-tag element siblings. The positional
// pseudo-class is only added when the plain segment is ambiguous among
// them.
func siblingPosition(n *ElementNode, seg string) (int, bool) {
	if n.Parent == nil {
		return 1, false
	}
	pos, sameTag := 0, 0
	for _, sib := range n.Parent.Children {
		e, ok := sib.(*ElementNode)
		if !ok || e.Tag != n.Tag {
			continue
		}
		sameTag++
		if e == n {
			pos = sameTag
		}
	}
	return pos, sameTag > 1
}

// attributeMatches renders up to two safe attributes on the target as
// exact matches, degrading to substring matches when the value carries
// characters unsafe to quote exactly.
func attributeMatches(el *ElementNode) string {
	var b strings.Builder
	count := 0
	for _, k := range safeAttributes {
		if k == "id" {
			continue // already an anchor when usable
		}
		v := el.Attr(k)
		if v == "" {
			continue
		}
		if exactSafe(v) {
			fmt.Fprintf(&b, `[%s="%s"]`, k, v)
		} else if frag := safeFragment(v); frag != "" {
			fmt.Fprintf(&b, `[%s*="%s"]`, k, frag)
		} else {
			continue
		}
		count++
		if count == 2 {
			break
		}
	}
	return b.String()
}

func exactSafe(v string) bool {
	if len(v) > 64 {
		return false
	}
	return !strings.ContainsAny(v, "\"'\\\n\r\t")
}

// safeFragment extracts the longest quotable run of the value for a
// substring match.
func safeFragment(v string) string {
	best := ""
	run := strings.FieldsFunc(v, func(r rune) bool {
		return r == '"' || r == '\'' || r == '\\' || r == '\n' || r == '\r' || r == '\t'
	})
	for _, r := range run {
		if len(r) > len(best) {
			best = r
		}
	}
	if len(best) > 48 {
		best = best[:48]
	}
	return best
}
