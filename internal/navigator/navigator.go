// Package navigator discovers page bindings with the language model and
// repairs individual stale bindings. Discovery reads the whole rendered
// page; a fix call carries only the failing binding's context, which
// keeps repair cheap.
package navigator

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"siphon/internal/bindings"
	"siphon/internal/llm"
)

// Navigator wraps the model client for binding work.
type Navigator struct {
	client llm.Client
	log    *zap.Logger
}

// New creates a navigator.
func New(client llm.Client, log *zap.Logger) *Navigator {
	if log == nil {
		log = zap.NewNop()
	}
	return &Navigator{client: client, log: log.Named("navigator")}
}

// Discovery is the outcome of whole-page binding discovery.
type Discovery struct {
	Success  bool
	Bindings *bindings.PageBindings
	Err      string
}

// Fix is the outcome of a targeted binding repair.
type Fix struct {
	Success bool
	Patch   *bindings.PageBindings
	Err     string
}

const discoverSystemPrompt = `You analyze rendered web pages and bind semantic page regions to CSS selectors.
The page render lists interactive elements as [index]<tag attrs>text lines.
Derive durable selectors from the attributes shown; never invent selectors for elements not present.
Identify: the list container (LIST), one repeated list item (LIST_ITEM), an optional details region (DETAILS_PANEL),
wait conditions for page load and list growth, how items are identified (ITEM_ID), and scroll/click behavior.`

const fixSystemPrompt = `You repair one stale CSS selector binding on a web page.
Given the binding name, its previous selector, the failure, and the current page render,
answer with a replacement selector that exists on the page now. Do not change anything else.`

var conditionProps = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"exists":       llm.StringProp("selector that must exist"),
		"countChanged": llm.StringProp("selector whose match count must change"),
	},
}

var discoverSchema = llm.ToolSchema{
	Name:        "set_bindings",
	Description: "Bind semantic page regions and behaviors to live selectors.",
	Parameters: llm.ObjectSchema(map[string]any{
		"LIST":          llm.StringProp("CSS selector of the list container"),
		"LIST_ITEM":     llm.StringProp("CSS selector matching every list item"),
		"DETAILS_PANEL": llm.StringProp("CSS selector of the detail region, if any"),
		"PAGE_LOADED":   conditionProps,
		"LIST_UPDATED":  conditionProps,
		"NO_MORE_ITEMS": conditionProps,
		"ITEM_ID": map[string]any{
			"type": "object",
			"properties": map[string]any{
				"from":    llm.EnumProp("identity source", "attribute", "href"),
				"pattern": llm.StringProp("attribute name, or regexp with one capture group for href"),
			},
		},
		"SCROLL_BEHAVIOR": llm.EnumProp("how more items load", "none", "infinite"),
		"CLICK_BEHAVIOR":  llm.EnumProp("what clicking an item does", "inline", "navigate"),
	}, "LIST", "LIST_ITEM"),
}

var fixSchema = llm.ToolSchema{
	Name:        "fix_binding",
	Description: "Provide a replacement selector for one stale binding.",
	Parameters: llm.ObjectSchema(map[string]any{
		"selector": llm.StringProp("replacement CSS selector present on the current page"),
	}, "selector"),
}

// DiscoverBindings makes one model call over the rendered page and
// returns structurally validated bindings. Callers re-run discovery
// whenever bindings are absent, stale, or invalid; a discovery result is
// never reused across those states.
func (n *Navigator) DiscoverBindings(ctx context.Context, urlPattern, domContext string) Discovery {
	msg := fmt.Sprintf("URL pattern: %s\n\nPage render:\n%s", urlPattern, domContext)
	res, err := n.client.Invoke(ctx, discoverSystemPrompt,
		[]llm.Message{{Role: llm.RoleUser, Content: msg}},
		[]llm.ToolSchema{discoverSchema})
	if err != nil {
		return Discovery{Err: err.Error()}
	}

	var wire bindings.PageBindings
	if err := llm.RequiredArgs(res.ToolCall, discoverSchema, &wire); err != nil {
		return Discovery{Err: err.Error()}
	}

	b := bindings.New(urlPattern)
	b.Merge(&wire)
	if report := bindings.Validate(b); !report.Valid {
		n.log.Warn("discovery produced invalid bindings", zap.Strings("errors", report.Errors))
		return Discovery{Err: fmt.Sprintf("discovered bindings invalid: %v", report.Errors)}
	}
	n.log.Info("bindings discovered", zap.String("urlPattern", urlPattern),
		zap.String("list", b.List), zap.String("item", b.ListItem))
	return Discovery{Success: true, Bindings: b}
}

// FixBinding makes one model call carrying only the failing binding's
// context and returns a partial patch for it.
func (n *Navigator) FixBinding(ctx context.Context, commandType, name, currentValue, errText, domContext string) Fix {
	msg := fmt.Sprintf("Command: %s\nBinding: %s\nPrevious selector: %s\nFailure: %s\n\nCurrent page render:\n%s",
		commandType, name, currentValue, errText, domContext)
	res, err := n.client.Invoke(ctx, fixSystemPrompt,
		[]llm.Message{{Role: llm.RoleUser, Content: msg}},
		[]llm.ToolSchema{fixSchema})
	if err != nil {
		return Fix{Err: err.Error()}
	}

	var args struct {
		Selector string `json:"selector"`
	}
	if err := llm.RequiredArgs(res.ToolCall, fixSchema, &args); err != nil {
		return Fix{Err: err.Error()}
	}
	if args.Selector == "" {
		return Fix{Err: "model returned an empty selector"}
	}

	patch, err := patchFor(name, args.Selector)
	if err != nil {
		return Fix{Err: err.Error()}
	}
	n.log.Info("binding fix produced", zap.String("binding", name), zap.String("selector", args.Selector))
	return Fix{Success: true, Patch: patch}
}

// patchFor places a replacement selector into the field named by the
// binding, rejecting names outside the semantic vocabulary.
func patchFor(name, selector string) (*bindings.PageBindings, error) {
	p := &bindings.PageBindings{}
	switch name {
	case "LIST":
		p.List = selector
	case "LIST_ITEM":
		p.ListItem = selector
	case "DETAILS_PANEL":
		p.DetailsPanel = selector
	case "PAGE_LOADED":
		p.PageLoaded = &bindings.Condition{Exists: selector}
	case "LIST_UPDATED":
		p.ListUpdated = &bindings.Condition{CountChanged: selector}
	case "NO_MORE_ITEMS":
		p.NoMoreItems = &bindings.Condition{Exists: selector}
	default:
		return nil, fmt.Errorf("cannot patch unknown binding %q", name)
	}
	return p, nil
}
