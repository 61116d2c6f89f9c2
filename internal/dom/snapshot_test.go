package dom

import (
	"strings"
	"testing"
)

// listRaw builds a small listing page: a header, a list with three
// clickable items, and a details panel.
func listRaw() RawNode {
	item := func(href, label string) RawNode {
		return RawNode{
			Tag:         "a",
			Attributes:  map[string]string{"href": href, "class": "item"},
			Visible:     true,
			Interactive: true,
			InViewport:  true,
			Children: []RawNode{
				{Text: label, Visible: true},
			},
		}
	}
	return RawNode{
		Tag: "html", Visible: true,
		Children: []RawNode{
			{Tag: "body", Visible: true, Children: []RawNode{
				{Tag: "h1", Visible: true, Children: []RawNode{{Text: "Listings", Visible: true}}},
				{Tag: "ul", Attributes: map[string]string{"class": "list"}, Visible: true, Children: []RawNode{
					{Tag: "li", Visible: true, Children: []RawNode{item("/jobs/1", "First")}},
					{Tag: "li", Visible: true, Children: []RawNode{item("/jobs/2", "Second")}},
					{Tag: "li", Visible: true, Children: []RawNode{item("/jobs/3", "Third")}},
				}},
				{Tag: "div", Attributes: map[string]string{"id": "details"}, Visible: true, Children: []RawNode{
					{Text: "pick an item", Visible: true},
				}},
			}},
		},
	}
}

func TestBuild_HighlightIndexesDenseAndUnique(t *testing.T) {
	s := Build(listRaw(), "https://example.com/jobs", "Jobs")

	if len(s.SelectorMap) != 3 {
		t.Fatalf("expected 3 interactive elements, got %d", len(s.SelectorMap))
	}
	seen := map[int]bool{}
	var check func(n Node)
	check = func(n Node) {
		el, ok := n.(*ElementNode)
		if !ok {
			return
		}
		if el.HighlightIndex >= 0 {
			if !el.Interactive || !el.Visible {
				t.Errorf("highlight index %d on non-interactive element <%s>", el.HighlightIndex, el.Tag)
			}
			if seen[el.HighlightIndex] {
				t.Errorf("duplicate highlight index %d", el.HighlightIndex)
			}
			seen[el.HighlightIndex] = true
		}
		for _, c := range el.Children {
			check(c)
		}
	}
	check(s.Root)
	for i := 0; i < 3; i++ {
		if !seen[i] {
			t.Errorf("highlight indexes not dense: missing %d", i)
		}
	}
}

func TestInertSnapshot(t *testing.T) {
	s := Inert("chrome://settings")
	if len(s.Root.Children) != 0 {
		t.Error("inert root must have no children")
	}
	if s.Root.Interactive {
		t.Error("inert root must not be interactive")
	}
	if len(s.SelectorMap) != 0 {
		t.Error("inert snapshot must expose no interactive elements")
	}
}

func TestQuery_ClassAndIDSelectors(t *testing.T) {
	s := Build(listRaw(), "https://example.com/jobs", "Jobs")

	items, err := s.Query("ul.list a.item")
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(items) != 3 {
		t.Fatalf("expected 3 items, got %d", len(items))
	}
	if items[0].Attr("href") != "/jobs/1" {
		t.Errorf("items not in document order: first href = %q", items[0].Attr("href"))
	}

	details, err := s.QueryOne("#details")
	if err != nil {
		t.Fatalf("query one: %v", err)
	}
	if details == nil || details.Tag != "div" {
		t.Fatalf("expected #details div, got %+v", details)
	}

	if got := s.Count(".missing"); got != 0 {
		t.Errorf("Count(.missing) = %d, want 0", got)
	}
	if got := s.Count("ul.list a"); got != 3 {
		t.Errorf("Count(ul.list a) = %d, want 3", got)
	}
}

func TestTextUntilNextInteractive_StopsAtNestedButton(t *testing.T) {
	raw := RawNode{
		Tag: "div", Visible: true, Interactive: true,
		Children: []RawNode{
			{Text: "Card title", Visible: true},
			{Tag: "button", Visible: true, Interactive: true, Children: []RawNode{
				{Text: "Delete", Visible: true},
			}},
		},
	}
	s := Build(raw, "", "")
	got := TextUntilNextInteractive(s.Root)
	if got != "Card title" {
		t.Errorf("parent text swallowed child button label: %q", got)
	}
}

func TestOuterHTML_StripsInternalAttributes(t *testing.T) {
	s := Build(listRaw(), "https://example.com/jobs", "Jobs")
	el, err := s.QueryOne("ul.list")
	if err != nil || el == nil {
		t.Fatalf("query: %v", err)
	}
	h := s.OuterHTML(el)
	if strings.Contains(h, "data-siphon") {
		t.Errorf("outer html leaks internal attributes: %s", h)
	}
	if !strings.Contains(h, `href="/jobs/2"`) {
		t.Errorf("outer html missing item content: %s", h)
	}
}

func TestRenderForModel(t *testing.T) {
	s := Build(listRaw(), "https://example.com/jobs", "Jobs")
	out := RenderForModel(s, nil)

	if !strings.Contains(out, "[0]<a href=/jobs/1>First</a>") {
		t.Errorf("render missing indexed line:\n%s", out)
	}
	if !strings.Contains(out, "Listings") {
		t.Errorf("render missing page text:\n%s", out)
	}
	// Text under an interactive element must not repeat as a bare line.
	for _, line := range strings.Split(out, "\n") {
		if line == "First" {
			t.Errorf("interactive child text duplicated as bare line:\n%s", out)
		}
	}
}

func TestRenderForModel_DeduplicatesAttributes(t *testing.T) {
	raw := RawNode{
		Tag: "body", Visible: true,
		Children: []RawNode{{
			Tag:         "button",
			Attributes:  map[string]string{"title": "Apply", "aria-label": "Apply"},
			Visible:     true,
			Interactive: true,
			Children:    []RawNode{{Text: "Apply", Visible: true}},
		}},
	}
	out := RenderForModel(Build(raw, "", ""), nil)
	if strings.Count(out, "Apply") != 1 {
		t.Errorf("attributes repeating visible text must be dropped: %s", out)
	}
}
