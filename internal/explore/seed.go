package explore

import (
	"fmt"
	"regexp"
	"strings"

	"siphon/internal/bindings"
)

// SeedBindings converts what a finished exploration learned into page
// bindings for the explored URL pattern, so later recipe runs start from
// stored knowledge instead of a discovery round trip. It returns nil when
// the run learned nothing a binding set can carry.
func SeedBindings(res *Result, urlPattern string) *bindings.PageBindings {
	if res == nil {
		return nil
	}
	items := res.KeyElements["job_listings"]
	if len(items) == 0 {
		return nil
	}

	b := bindings.New(urlPattern)
	b.ListItem = generalizeItemSelector(items)
	b.List = containerFor(b.ListItem)
	if selectorTag(b.ListItem) == "a" {
		// Anchors carry their identity in the href.
		b.ItemID = &bindings.ItemIDRule{From: bindings.ItemIDFromHref}
	}

	for _, p := range res.Patterns {
		switch {
		case p.Action == ActionClick && (p.ChangeType == ChangeModalOpened || p.ChangeType == ChangeContentLoaded):
			b.ClickBehavior = bindings.ClickInline
		case p.Action == ActionClick && p.ChangeType == ChangeNavigation && b.ClickBehavior == "":
			b.ClickBehavior = bindings.ClickNavigate
		case p.Action == ActionScroll && p.ChangeType == ChangeContentLoaded:
			b.ScrollBehavior = bindings.ScrollInfinite
		}
	}
	if b.ScrollBehavior == "" && len(res.KeyElements["pagination"]) > 0 {
		// Load-more style paging drives the same scroll-and-wait cycle.
		b.ScrollBehavior = bindings.ScrollInfinite
	}

	if !bindings.Validate(b).Valid {
		return nil
	}
	return b
}

// idSelectorRe matches id-anchored selectors whose id ends in a numeric
// run, e.g. a#job-17.
var idSelectorRe = regexp.MustCompile(`^([a-zA-Z]+)#([A-Za-z0-9_-]*?)(\d+)$`)

// generalizeItemSelector collapses per-item selectors into one that
// matches the whole collection. Id-anchored selectors sharing a stem
// (a#job-1, a#job-2) become a prefix match; anything else falls back to
// the first example.
func generalizeItemSelector(sels []string) string {
	tag, stem := "", ""
	matched := 0
	for _, s := range sels {
		m := idSelectorRe.FindStringSubmatch(s)
		if m == nil {
			continue
		}
		if matched == 0 {
			tag, stem = m[1], m[2]
		} else if m[1] != tag || m[2] != stem {
			return sels[0]
		}
		matched++
	}
	if matched >= 2 && stem != "" {
		return fmt.Sprintf(`%s[id^="%s"]`, tag, stem)
	}
	return sels[0]
}

// containerFor derives the list region from an item selector: its path
// prefix when one exists, the document body otherwise.
func containerFor(itemSel string) string {
	if i := strings.LastIndex(itemSel, " > "); i > 0 {
		return itemSel[:i]
	}
	return "body"
}

var leadingTagRe = regexp.MustCompile(`^[a-zA-Z]+`)

func selectorTag(sel string) string {
	return leadingTagRe.FindString(sel)
}
