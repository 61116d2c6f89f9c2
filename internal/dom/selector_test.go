package dom

import (
	"strings"
	"testing"
)

func TestSelectorFor_Deterministic(t *testing.T) {
	s := Build(listRaw(), "https://example.com/jobs", "Jobs")
	el, _ := s.Element(1)
	first := SelectorFor(el)
	for i := 0; i < 5; i++ {
		if got := SelectorFor(el); got != first {
			t.Fatalf("selector not deterministic: %q vs %q", got, first)
		}
	}
}

func TestSelectorFor_ResolvesBackToSameNode(t *testing.T) {
	s := Build(listRaw(), "https://example.com/jobs", "Jobs")
	for idx := 0; idx < 3; idx++ {
		el, _ := s.Element(idx)
		sel := SelectorFor(el)
		matches, err := s.Query(sel)
		if err != nil {
			t.Fatalf("synthesized selector %q does not parse: %v", sel, err)
		}
		found := false
		for _, m := range matches {
			if m == el {
				found = true
			}
		}
		if !found {
			t.Errorf("selector %q does not resolve to its own element", sel)
		}
	}
}

func TestSelectorFor_AnchorsOnID(t *testing.T) {
	raw := RawNode{
		Tag: "html", Visible: true,
		Children: []RawNode{{Tag: "body", Visible: true, Children: []RawNode{
			{Tag: "div", Attributes: map[string]string{"id": "sidebar"}, Visible: true, Children: []RawNode{
				{Tag: "button", Visible: true, Interactive: true},
			}},
		}}},
	}
	s := Build(raw, "", "")
	el, _ := s.Element(0)
	sel := SelectorFor(el)
	if !strings.HasPrefix(sel, "div#sidebar") {
		t.Errorf("expected id anchor, got %q", sel)
	}
}

func TestSelectorFor_IDAnchorCarriesNoAttributes(t *testing.T) {
	raw := RawNode{
		Tag: "body", Visible: true,
		Children: []RawNode{{
			Tag:         "a",
			Attributes:  map[string]string{"id": "job-1", "href": "/jobs/1", "class": "job-card"},
			Visible:     true,
			Interactive: true,
		}},
	}
	s := Build(raw, "", "")
	el, _ := s.Element(0)
	sel := SelectorFor(el)
	if sel != "a#job-1" {
		t.Errorf("an id anchor is unique on its own, got %q", sel)
	}
}

func TestSelectorFor_SkipsVolatileClasses(t *testing.T) {
	raw := RawNode{
		Tag: "body", Visible: true,
		Children: []RawNode{{
			Tag:         "button",
			Attributes:  map[string]string{"class": "css-1q2w3e primary"},
			Visible:     true,
			Interactive: true,
		}},
	}
	s := Build(raw, "", "")
	el, _ := s.Element(0)
	sel := SelectorFor(el)
	if strings.Contains(sel, "css-1q2w3e") {
		t.Errorf("volatile class leaked into selector: %q", sel)
	}
	if !strings.Contains(sel, ".primary") {
		t.Errorf("stable class missing from selector: %q", sel)
	}
}

func TestSelectorFor_PositionalForAmbiguousSiblings(t *testing.T) {
	s := Build(listRaw(), "https://example.com/jobs", "Jobs")
	el, _ := s.Element(2) // third item, identical class
	sel := SelectorFor(el)
	if !strings.Contains(sel, ":nth-of-type(3)") {
		t.Errorf("ambiguous sibling selector missing positional: %q", sel)
	}
}

func TestSelectorFor_SubstringMatchForUnsafeValues(t *testing.T) {
	raw := RawNode{
		Tag: "body", Visible: true,
		Children: []RawNode{{
			Tag:         "a",
			Attributes:  map[string]string{"href": `/x?q="quoted"&id=7`},
			Visible:     true,
			Interactive: true,
		}},
	}
	s := Build(raw, "", "")
	el, _ := s.Element(0)
	sel := SelectorFor(el)
	if !strings.Contains(sel, `[href*=`) {
		t.Errorf("unsafe value should degrade to substring match: %q", sel)
	}
}

func TestFallbackSelector(t *testing.T) {
	s := Build(listRaw(), "https://example.com/jobs", "Jobs")
	el, _ := s.Element(0)
	sel := FallbackSelector(el)
	if sel != `a[data-siphon-hl="0"]` {
		t.Errorf("unexpected fallback selector %q", sel)
	}
	matches, err := s.Query(sel)
	if err != nil || len(matches) != 1 || matches[0] != el {
		t.Errorf("fallback selector must resolve within the same snapshot: %v %v", matches, err)
	}
}
