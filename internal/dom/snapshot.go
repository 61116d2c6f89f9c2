package dom

import (
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/andybalholm/cascadia"
	"golang.org/x/net/html"
)

// RawNode is the wire form a driver's in-page walker returns. A node with
// an empty Tag is a text node carrying Text.
type RawNode struct {
	Tag         string            `json:"tag,omitempty"`
	Text        string            `json:"text,omitempty"`
	Attributes  map[string]string `json:"attrs,omitempty"`
	Visible     bool              `json:"visible"`
	Interactive bool              `json:"interactive"`
	InViewport  bool              `json:"inViewport"`
	Children    []RawNode         `json:"children,omitempty"`
}

// Snapshot is one immutable capture of the visible, interactive DOM.
type Snapshot struct {
	Root       *ElementNode
	URL        string
	Title      string
	CapturedAt time.Time

	// SelectorMap gives O(1) lookup from highlight index to element.
	SelectorMap map[int]*ElementNode

	size int

	matchOnce sync.Once
	matchErr  error
	doc       *html.Node
	byOrdinal map[string]*ElementNode
}

// Build converts a raw driver tree into a snapshot, assigning dense
// highlight indexes to interactive visible elements in document order.
func Build(raw RawNode, url, title string) *Snapshot {
	s := &Snapshot{
		URL:         url,
		Title:       title,
		CapturedAt:  time.Now(),
		SelectorMap: make(map[int]*ElementNode),
	}
	next := 0
	s.Root = s.buildElement(raw, nil, "", &next)
	return s
}

// Inert returns the failure snapshot for disallowed or special URLs: a
// single root with no children and nothing interactive. Callers get an
// empty but well-formed page instead of an error.
func Inert(url string) *Snapshot {
	root := &ElementNode{
		Tag:            "html",
		Attributes:     map[string]string{},
		Visible:        false,
		HighlightIndex: -1,
		XPath:          "/html",
	}
	return &Snapshot{
		Root:        root,
		URL:         url,
		CapturedAt:  time.Now(),
		SelectorMap: map[int]*ElementNode{},
		size:        1,
	}
}

func (s *Snapshot) buildElement(raw RawNode, parent *ElementNode, parentPath string, next *int) *ElementNode {
	el := &ElementNode{
		Tag:            strings.ToLower(raw.Tag),
		Attributes:     raw.Attributes,
		Visible:        raw.Visible,
		Interactive:    raw.Interactive,
		InViewport:     raw.InViewport,
		HighlightIndex: -1,
		Parent:         parent,
	}
	if el.Attributes == nil {
		el.Attributes = map[string]string{}
	}
	el.XPath = childXPath(parentPath, el.Tag, positionAmongRaw(raw, parent, parentPath))
	if el.Interactive && el.Visible {
		el.HighlightIndex = *next
		s.SelectorMap[*next] = el
		*next++
	}
	s.size++
	for _, c := range raw.Children {
		if c.Tag == "" {
			if strings.TrimSpace(c.Text) == "" {
				continue
			}
			el.Children = append(el.Children, &TextNode{Text: c.Text, Visible: c.Visible, Parent: el})
			s.size++
			continue
		}
		el.Children = append(el.Children, s.buildElement(c, el, el.XPath, next))
	}
	return el
}

// positionAmongRaw is resolved after siblings exist; Build fills XPath as it
// goes, so the position is derived from the parent's current children.
func positionAmongRaw(raw RawNode, parent *ElementNode, parentPath string) int {
	if parent == nil {
		return 1
	}
	pos := 1
	for _, sib := range parent.Children {
		if e, ok := sib.(*ElementNode); ok && e.Tag == strings.ToLower(raw.Tag) {
			pos++
		}
	}
	return pos
}

func childXPath(parentPath, tag string, pos int) string {
	if parentPath == "" {
		return "/" + tag
	}
	if pos > 1 {
		return fmt.Sprintf("%s/%s[%d]", parentPath, tag, pos)
	}
	return parentPath + "/" + tag
}

// Size reports the node count; the change analyzer uses the delta between
// captures as its DOM-size heuristic.
func (s *Snapshot) Size() int { return s.size }

// Element returns the node carrying the given highlight index.
func (s *Snapshot) Element(highlightIndex int) (*ElementNode, bool) {
	el, ok := s.SelectorMap[highlightIndex]
	return el, ok
}

// ordinalAttr carries the snapshot-internal node ordinal through the HTML
// round trip used for selector matching. highlightAttr mirrors the live
// attribute the capture script stamps on interactive elements, which keeps
// fallback selectors resolvable.
const (
	ordinalAttr   = "data-siphon-id"
	highlightAttr = "data-siphon-hl"
)

// Query resolves a CSS selector against the snapshot and returns matching
// elements in document order. The snapshot tree is serialized to HTML once
// and matched with cascadia; results map back through node ordinals.
func (s *Snapshot) Query(selector string) ([]*ElementNode, error) {
	sel, err := cascadia.ParseGroup(selector)
	if err != nil {
		return nil, fmt.Errorf("bad selector %q: %w", selector, err)
	}
	if err := s.ensureMatchDoc(); err != nil {
		return nil, err
	}
	var out []*ElementNode
	for _, n := range cascadia.QueryAll(s.doc, sel) {
		for _, a := range n.Attr {
			if a.Key == ordinalAttr {
				if el, ok := s.byOrdinal[a.Val]; ok {
					out = append(out, el)
				}
			}
		}
	}
	return out, nil
}

// QueryOne returns the first match for a selector, or nil when nothing
// matches.
func (s *Snapshot) QueryOne(selector string) (*ElementNode, error) {
	els, err := s.Query(selector)
	if err != nil {
		return nil, err
	}
	if len(els) == 0 {
		return nil, nil
	}
	return els[0], nil
}

// Count returns how many elements match a selector; bad selectors count as
// zero since wait predicates poll it in a loop.
func (s *Snapshot) Count(selector string) int {
	els, err := s.Query(selector)
	if err != nil {
		return 0
	}
	return len(els)
}

func (s *Snapshot) ensureMatchDoc() error {
	s.matchOnce.Do(func() {
		s.byOrdinal = make(map[string]*ElementNode)
		var b strings.Builder
		ord := 0
		s.writeHTML(&b, s.Root, &ord, true)
		doc, err := html.Parse(strings.NewReader(b.String()))
		if err != nil {
			s.matchErr = fmt.Errorf("snapshot reparse: %w", err)
			return
		}
		s.doc = doc
	})
	return s.matchErr
}

func (s *Snapshot) writeHTML(b *strings.Builder, el *ElementNode, ord *int, tagged bool) {
	id := strconv.Itoa(*ord)
	*ord++
	if tagged {
		s.byOrdinal[id] = el
	}
	b.WriteByte('<')
	b.WriteString(el.Tag)
	for k, v := range el.Attributes {
		if strings.HasPrefix(k, "data-siphon-") {
			continue
		}
		b.WriteByte(' ')
		b.WriteString(k)
		b.WriteString(`="`)
		b.WriteString(html.EscapeString(v))
		b.WriteByte('"')
	}
	if tagged {
		fmt.Fprintf(b, ` %s="%s"`, ordinalAttr, id)
		if el.HighlightIndex >= 0 {
			fmt.Fprintf(b, ` %s="%d"`, highlightAttr, el.HighlightIndex)
		}
	}
	b.WriteByte('>')
	for _, c := range el.Children {
		switch v := c.(type) {
		case *TextNode:
			b.WriteString(html.EscapeString(v.Text))
		case *ElementNode:
			s.writeHTML(b, v, ord, tagged)
		}
	}
	b.WriteString("</")
	b.WriteString(el.Tag)
	b.WriteByte('>')
}

// OuterHTML serializes one element subtree without snapshot-internal
// attributes. Extraction commands hand this raw content to the parser.
func (s *Snapshot) OuterHTML(el *ElementNode) string {
	var b strings.Builder
	ord := 0
	s.writeHTML(&b, el, &ord, false)
	return b.String()
}
