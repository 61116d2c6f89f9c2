package bindings

import (
	"fmt"
	"regexp"
)

// Report is the outcome of structural validation. Validation never probes
// the live page; it only checks that required keys are present and
// well-typed.
type Report struct {
	Valid    bool     `json:"valid"`
	Errors   []string `json:"errors,omitempty"`
	Warnings []string `json:"warnings,omitempty"`
}

// Validate checks the bindings structurally. Bindings failing validation
// are never persisted and always trigger rediscovery.
func Validate(b *PageBindings) Report {
	var r Report
	if b == nil {
		r.Errors = append(r.Errors, "bindings are nil")
		return r
	}
	if b.URLPattern == "" {
		r.Errors = append(r.Errors, "urlPattern is required")
	}
	if b.List == "" {
		r.Errors = append(r.Errors, "LIST selector is required")
	}
	if b.ListItem == "" {
		r.Errors = append(r.Errors, "LIST_ITEM selector is required")
	}

	for name, c := range map[string]*Condition{
		"PAGE_LOADED":   b.PageLoaded,
		"LIST_UPDATED":  b.ListUpdated,
		"NO_MORE_ITEMS": b.NoMoreItems,
	} {
		if c == nil {
			continue
		}
		if c.Exists == "" && c.CountChanged == "" {
			r.Errors = append(r.Errors, fmt.Sprintf("%s must set exists or countChanged", name))
		}
		if c.Exists != "" && c.CountChanged != "" {
			r.Errors = append(r.Errors, fmt.Sprintf("%s cannot set both exists and countChanged", name))
		}
	}

	if b.ItemID != nil {
		switch b.ItemID.From {
		case ItemIDFromAttribute:
			if b.ItemID.Pattern == "" {
				r.Errors = append(r.Errors, "ITEM_ID from=attribute requires the attribute name in pattern")
			}
		case ItemIDFromHref:
			if b.ItemID.Pattern != "" {
				if _, err := regexp.Compile(b.ItemID.Pattern); err != nil {
					r.Errors = append(r.Errors, fmt.Sprintf("ITEM_ID pattern does not compile: %v", err))
				}
			}
		default:
			r.Errors = append(r.Errors, fmt.Sprintf("ITEM_ID from must be %q or %q", ItemIDFromAttribute, ItemIDFromHref))
		}
	} else {
		r.Warnings = append(r.Warnings, "no ITEM_ID rule; falling back to element identity hashing")
	}

	switch b.ScrollBehavior {
	case "", ScrollNone, ScrollInfinite:
	default:
		r.Errors = append(r.Errors, fmt.Sprintf("unknown SCROLL_BEHAVIOR %q", b.ScrollBehavior))
	}
	switch b.ClickBehavior {
	case "", ClickInline, ClickNavigate:
	default:
		r.Errors = append(r.Errors, fmt.Sprintf("unknown CLICK_BEHAVIOR %q", b.ClickBehavior))
	}

	if b.PageLoaded == nil {
		r.Warnings = append(r.Warnings, "no PAGE_LOADED condition; runs rely on the driver load wait only")
	}

	r.Valid = len(r.Errors) == 0
	return r
}
