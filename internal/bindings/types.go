// Package bindings holds the versioned per-site semantic selector
// configuration: named page regions, wait conditions, the item identity
// rule, and behavior flags, plus the store that persists them.
package bindings

import (
	"time"

	"github.com/google/uuid"
)

// FreshnessWindow is how long a binding set stays usable without
// rediscovery.
const FreshnessWindow = 24 * time.Hour

// Behavior flag values.
const (
	ScrollNone     = "none"
	ScrollInfinite = "infinite"

	ClickInline   = "inline"
	ClickNavigate = "navigate"
)

// ItemID source values.
const (
	ItemIDFromAttribute = "attribute"
	ItemIDFromHref      = "href"
)

// Condition is a wait predicate: either "this selector exists" or "the
// match count for this selector changed since the action".
type Condition struct {
	Exists       string `json:"exists,omitempty"`
	CountChanged string `json:"countChanged,omitempty"`
}

// ItemIDRule extracts a stable identity for a list item. From "attribute"
// reads the attribute named by Pattern; from "href" applies Pattern as a
// regular expression to the item's href and takes the first capture group.
type ItemIDRule struct {
	From    string `json:"from"`
	Pattern string `json:"pattern,omitempty"`
}

// PageBindings maps semantic page concepts to live selectors for one URL
// pattern. It round-trips losslessly through JSON.
type PageBindings struct {
	ID         string    `json:"id"`
	URLPattern string    `json:"urlPattern"`
	Version    int       `json:"version"`
	UpdatedAt  time.Time `json:"updatedAt"`

	List         string `json:"LIST,omitempty"`
	ListItem     string `json:"LIST_ITEM,omitempty"`
	DetailsPanel string `json:"DETAILS_PANEL,omitempty"`

	PageLoaded  *Condition `json:"PAGE_LOADED,omitempty"`
	ListUpdated *Condition `json:"LIST_UPDATED,omitempty"`
	NoMoreItems *Condition `json:"NO_MORE_ITEMS,omitempty"`

	ItemID *ItemIDRule `json:"ITEM_ID,omitempty"`

	ScrollBehavior string `json:"SCROLL_BEHAVIOR,omitempty"`
	ClickBehavior  string `json:"CLICK_BEHAVIOR,omitempty"`
}

// New creates empty bindings for a URL pattern.
func New(urlPattern string) *PageBindings {
	return &PageBindings{
		ID:         uuid.NewString(),
		URLPattern: urlPattern,
		Version:    1,
		UpdatedAt:  time.Now().UTC(),
	}
}

// Fresh reports whether the bindings are inside the freshness window.
// Stale bindings must be re-validated by discovery before reuse.
func (b *PageBindings) Fresh(now time.Time) bool {
	return now.Sub(b.UpdatedAt) < FreshnessWindow
}

// Clone returns a deep copy. The executor mutates a working copy when the
// navigator patches a stale selector mid-run; the stored record stays
// untouched until the runner persists a successful cycle.
func (b *PageBindings) Clone() *PageBindings {
	c := *b
	if b.PageLoaded != nil {
		v := *b.PageLoaded
		c.PageLoaded = &v
	}
	if b.ListUpdated != nil {
		v := *b.ListUpdated
		c.ListUpdated = &v
	}
	if b.NoMoreItems != nil {
		v := *b.NoMoreItems
		c.NoMoreItems = &v
	}
	if b.ItemID != nil {
		v := *b.ItemID
		c.ItemID = &v
	}
	return &c
}

// Merge overlays the non-empty fields of patch onto b. Used to apply
// targeted binding fixes for the remainder of a run.
func (b *PageBindings) Merge(patch *PageBindings) {
	if patch == nil {
		return
	}
	if patch.List != "" {
		b.List = patch.List
	}
	if patch.ListItem != "" {
		b.ListItem = patch.ListItem
	}
	if patch.DetailsPanel != "" {
		b.DetailsPanel = patch.DetailsPanel
	}
	if patch.PageLoaded != nil {
		b.PageLoaded = patch.PageLoaded
	}
	if patch.ListUpdated != nil {
		b.ListUpdated = patch.ListUpdated
	}
	if patch.NoMoreItems != nil {
		b.NoMoreItems = patch.NoMoreItems
	}
	if patch.ItemID != nil {
		b.ItemID = patch.ItemID
	}
	if patch.ScrollBehavior != "" {
		b.ScrollBehavior = patch.ScrollBehavior
	}
	if patch.ClickBehavior != "" {
		b.ClickBehavior = patch.ClickBehavior
	}
}
