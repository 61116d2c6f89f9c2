// Package dom holds the page snapshot model: a typed tree of element and
// text nodes captured from a live page, with snapshot-local highlight
// indexes for interactive elements, a continuity hash, and a CSS selector
// synthesizer. A snapshot is immutable once built and owned by the capture
// that produced it; the next capture replaces it wholesale.
package dom

import (
	"sort"
	"strings"
)

// Node is either *ElementNode or *TextNode.
type Node interface {
	isNode()
	NodeVisible() bool
}

// ElementNode is a single element in a captured snapshot. Parent is a
// back-reference for traversal only; ownership flows strictly downward
// through Children.
type ElementNode struct {
	Tag        string
	Attributes map[string]string
	Children   []Node

	Visible     bool
	Interactive bool
	InViewport  bool

	// HighlightIndex is dense, assigned only to interactive visible
	// elements, and unique within one snapshot. -1 when unassigned.
	// It is never stable across snapshots.
	HighlightIndex int

	// XPath is the structural path from the root, e.g. /html/body/div[2]/a.
	XPath string

	Parent *ElementNode
}

func (e *ElementNode) isNode()           {}
func (e *ElementNode) NodeVisible() bool { return e.Visible }

// Attr returns the value of an attribute, or "".
func (e *ElementNode) Attr(name string) string {
	if e.Attributes == nil {
		return ""
	}
	return e.Attributes[name]
}

// AncestorTags returns the tag chain from the root down to this element.
func (e *ElementNode) AncestorTags() []string {
	var tags []string
	for n := e; n != nil; n = n.Parent {
		tags = append(tags, n.Tag)
	}
	// Reverse into root-first order.
	for i, j := 0, len(tags)-1; i < j; i, j = i+1, j-1 {
		tags[i], tags[j] = tags[j], tags[i]
	}
	return tags
}

// sortedAttrs renders the attribute set as k=v pairs in key order, so the
// result is independent of map iteration order.
func (e *ElementNode) sortedAttrs() string {
	if len(e.Attributes) == 0 {
		return ""
	}
	keys := make([]string, 0, len(e.Attributes))
	for k := range e.Attributes {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteByte(';')
		}
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(e.Attributes[k])
	}
	return b.String()
}

// TextNode is a run of text under an element.
type TextNode struct {
	Text    string
	Visible bool
	Parent  *ElementNode
}

func (t *TextNode) isNode()           {}
func (t *TextNode) NodeVisible() bool { return t.Visible }

// TextUntilNextInteractive collects the visible text beneath el, stopping
// at nested interactive elements so a parent never swallows the label of a
// child button or link.
func TextUntilNextInteractive(el *ElementNode) string {
	var parts []string
	var walk func(n Node)
	walk = func(n Node) {
		switch v := n.(type) {
		case *TextNode:
			if v.Visible {
				if s := strings.TrimSpace(v.Text); s != "" {
					parts = append(parts, s)
				}
			}
		case *ElementNode:
			if v != el && v.Interactive && v.Visible {
				return
			}
			for _, c := range v.Children {
				walk(c)
			}
		}
	}
	walk(el)
	return strings.Join(parts, " ")
}
