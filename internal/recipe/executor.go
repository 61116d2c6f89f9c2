package recipe

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"go.uber.org/zap"

	"siphon/internal/bindings"
	"siphon/internal/dom"
	"siphon/internal/driver"
)

// Item is one extracted record: raw content plus the identity that
// deduplicated it. Parsing raw content into fields is the runner's job.
type Item struct {
	ID      string            `json:"id"`
	URL     string            `json:"url,omitempty"`
	RawHTML string            `json:"rawHtml,omitempty"`
	Fields  map[string]string `json:"fields,omitempty"`
}

// Stats accumulates execution counters.
type Stats struct {
	CommandsExecuted int `json:"commandsExecuted"`
	ItemsExtracted   int `json:"itemsExtracted"`
	ScrollCycles     int `json:"scrollCycles"`
	FixesApplied     int `json:"fixesApplied"`
}

// Result is the terminal artifact of one execution. Partial items and
// logs are always present, even on failure.
type Result struct {
	Success bool     `json:"success"`
	Items   []Item   `json:"items"`
	Stats   Stats    `json:"stats"`
	Logs    []string `json:"logs,omitempty"`
	Error   string   `json:"error,omitempty"`
}

// ConditionTimeoutError reports a wait predicate that never became true.
type ConditionTimeoutError struct {
	Condition string
	Selector  string
	Waited    time.Duration
}

func (e *ConditionTimeoutError) Error() string {
	return fmt.Sprintf("condition %s on %q timeout after %s", e.Condition, e.Selector, e.Waited)
}

// FixRequest carries the context of a failed selector resolution to
// whoever can repair it (the navigator, via the runner).
type FixRequest struct {
	Command      CommandType
	Binding      string
	CurrentValue string
	Err          string
	DOMContext   string
}

// FixFunc produces a partial bindings patch for a failed selector. The
// executor merges the patch into its working copy for the remainder of
// the run only; persistence is the runner's responsibility.
type FixFunc func(ctx context.Context, req FixRequest) (*bindings.PageBindings, bool)

// ExecutorConfig bounds one execution.
type ExecutorConfig struct {
	MaxItems         int
	MaxScrollCycles  int
	ConditionTimeout time.Duration
	PollInterval     time.Duration
	LoadTimeout      time.Duration
}

// DefaultExecutorConfig returns the standard budgets.
func DefaultExecutorConfig() ExecutorConfig {
	return ExecutorConfig{
		MaxItems:         50,
		MaxScrollCycles:  10,
		ConditionTimeout: 10 * time.Second,
		PollInterval:     200 * time.Millisecond,
		LoadTimeout:      20 * time.Second,
	}
}

// Executor interprets a recipe against bindings and a driver.
type Executor struct {
	cfg ExecutorConfig
	fix FixFunc
	log *zap.Logger
}

// NewExecutor creates an executor. fix may be nil, in which case selector
// failures are terminal for the step that hit them.
func NewExecutor(cfg ExecutorConfig, fix FixFunc, log *zap.Logger) *Executor {
	if cfg.MaxItems <= 0 {
		cfg.MaxItems = 50
	}
	if cfg.MaxScrollCycles <= 0 {
		cfg.MaxScrollCycles = 10
	}
	if cfg.ConditionTimeout <= 0 {
		cfg.ConditionTimeout = 10 * time.Second
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 200 * time.Millisecond
	}
	if cfg.LoadTimeout <= 0 {
		cfg.LoadTimeout = 20 * time.Second
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Executor{cfg: cfg, fix: fix, log: log.Named("executor")}
}

// errEnd stops command interpretation without marking failure.
var errEnd = errors.New("recipe end")

// Execute interprets the recipe sequentially. It mutates only a working
// clone of the bindings; the caller's record stays untouched.
func (e *Executor) Execute(ctx context.Context, drv driver.Driver, b *bindings.PageBindings, rec *Recipe) *Result {
	res := &Result{}
	working := b.Clone()

	for _, cmd := range rec.Commands {
		if err := ctx.Err(); err != nil {
			return e.fail(res, fmt.Errorf("run cancelled: %w", err))
		}
		res.Stats.CommandsExecuted++
		err := e.step(ctx, drv, working, cmd, res)
		if errors.Is(err, errEnd) {
			break
		}
		if err != nil {
			return e.fail(res, err)
		}
	}
	res.Success = true
	return res
}

func (e *Executor) fail(res *Result, err error) *Result {
	res.Error = err.Error()
	res.Logs = append(res.Logs, "failed: "+err.Error())
	e.log.Warn("execution failed", zap.String("error", res.Error))
	return res
}

func (e *Executor) step(ctx context.Context, drv driver.Driver, working *bindings.PageBindings, cmd Command, res *Result) error {
	switch cmd.Type {
	case OpenPage:
		if err := drv.Navigate(ctx, cmd.URL); err != nil {
			return err
		}
		if err := drv.WaitForLoad(ctx, e.cfg.LoadTimeout); err != nil {
			return err
		}
		res.Logs = append(res.Logs, "opened "+cmd.URL)
		return nil

	case WaitFor:
		cond, name := conditionFor(working, cmd.Condition)
		if cond == nil {
			return fmt.Errorf("WAIT_FOR: unknown condition %q", cmd.Condition)
		}
		baseline := -1
		if cond.CountChanged != "" {
			snap, err := drv.Capture(ctx)
			if err != nil {
				return err
			}
			baseline = snap.Count(cond.CountChanged)
		}
		return e.awaitCondition(ctx, drv, name, cond, baseline)

	case Scroll:
		res.Stats.ScrollCycles++
		return drv.Scroll(ctx, driver.ScrollRequest{Direction: cmd.Direction})

	case TypeText:
		sel, binding := resolveSelector(working, cmd.Selector)
		return e.withFix(ctx, drv, working, cmd.Type, binding, sel, res, func(s string) error {
			return drv.Type(ctx, s, cmd.Text)
		})

	case Submit:
		sel, binding := resolveSelector(working, cmd.Selector)
		return e.withFix(ctx, drv, working, cmd.Type, binding, sel, res, func(s string) error {
			return drv.Click(ctx, s)
		})

	case ForEachItemInList:
		return e.runForEach(ctx, drv, working, cmd, res)

	case End:
		return errEnd

	case ExtractDetails, SaveItem, MarkDone:
		return fmt.Errorf("%s outside FOR_EACH_ITEM_IN_LIST", cmd.Type)

	default:
		return fmt.Errorf("unknown command type %q", cmd.Type)
	}
}

// withFix runs an action for a selector and, on resolution failure, asks
// for a binding fix and retries once with the patched value.
func (e *Executor) withFix(ctx context.Context, drv driver.Driver, working *bindings.PageBindings, cmdType CommandType, binding, sel string, res *Result, do func(string) error) error {
	err := do(sel)
	var selErr *driver.SelectorError
	if err == nil || !errors.As(err, &selErr) {
		return err
	}
	patched, ok := e.requestFix(ctx, drv, working, cmdType, binding, sel, err, res)
	if !ok {
		return err
	}
	retrySel := sel
	if binding != "" {
		retrySel, _ = resolveSelector(working, binding)
	} else if patched != "" {
		retrySel = patched
	}
	return do(retrySel)
}

// requestFix invokes the injected fix callback and merges the patch into
// the working bindings for the remainder of this run. Returns the patched
// value for the failing binding when one applies.
func (e *Executor) requestFix(ctx context.Context, drv driver.Driver, working *bindings.PageBindings, cmdType CommandType, binding, current string, cause error, res *Result) (string, bool) {
	if e.fix == nil {
		return "", false
	}
	domContext := ""
	if snap, err := drv.Capture(ctx); err == nil {
		domContext = dom.RenderForModel(snap, nil)
	}
	patch, ok := e.fix(ctx, FixRequest{
		Command:      cmdType,
		Binding:      binding,
		CurrentValue: current,
		Err:          cause.Error(),
		DOMContext:   domContext,
	})
	if !ok || patch == nil {
		return "", false
	}
	working.Merge(patch)
	res.Stats.FixesApplied++
	res.Logs = append(res.Logs, fmt.Sprintf("binding fix applied for %s", binding))
	e.log.Info("binding fix applied", zap.String("binding", binding))
	patched, _ := resolveSelector(working, binding)
	return patched, true
}

func (e *Executor) awaitCondition(ctx context.Context, drv driver.Driver, name string, cond *bindings.Condition, baseline int) error {
	deadline := time.Now().Add(e.cfg.ConditionTimeout)
	sel := cond.Exists
	if sel == "" {
		sel = cond.CountChanged
	}
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		snap, err := drv.Capture(ctx)
		if err != nil {
			return err
		}
		if cond.Exists != "" && snap.Count(cond.Exists) > 0 {
			return nil
		}
		if cond.CountChanged != "" && snap.Count(cond.CountChanged) != baseline {
			return nil
		}
		if time.Now().After(deadline) {
			return &ConditionTimeoutError{Condition: name, Selector: sel, Waited: e.cfg.ConditionTimeout}
		}
		time.Sleep(e.cfg.PollInterval)
	}
}

// runForEach re-captures the snapshot each iteration, visits every unseen
// item, and drives scroll+wait cycles for infinite lists until the item
// budget, the scroll budget, or NO_MORE_ITEMS stops it.
func (e *Executor) runForEach(ctx context.Context, drv driver.Driver, working *bindings.PageBindings, cmd Command, res *Result) error {
	budget := e.cfg.MaxItems
	if cmd.MaxItems > 0 {
		budget = cmd.MaxItems
	}
	seen := make(map[string]bool)
	listURL := drv.URL()
	scrolls := 0
	prevTotal := -1

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		snap, err := drv.Capture(ctx)
		if err != nil {
			return err
		}
		items, err := e.queryItems(ctx, drv, working, snap, res)
		if err != nil {
			return err
		}

		newSeen := 0
		for _, it := range items {
			if res.Stats.ItemsExtracted >= budget {
				res.Logs = append(res.Logs, "item budget reached")
				return nil
			}
			id := itemIdentity(working, it)
			if seen[id] {
				continue
			}
			seen[id] = true
			newSeen++
			if err := e.processItem(ctx, drv, working, cmd.Body, snap, it, id, listURL, res); err != nil {
				if errors.Is(err, errEnd) {
					return errEnd
				}
				return err
			}
			// Item actions may have replaced the page; recapture before
			// resolving the next item so stale nodes are never reused.
			if working.ClickBehavior != "" {
				break
			}
		}

		if res.Stats.ItemsExtracted >= budget {
			return nil
		}
		if working.ClickBehavior != "" && newSeen > 0 {
			continue
		}
		if working.NoMoreItems != nil && working.NoMoreItems.Exists != "" && snap.Count(working.NoMoreItems.Exists) > 0 {
			res.Logs = append(res.Logs, "no-more-items condition satisfied")
			return nil
		}
		if working.ScrollBehavior != bindings.ScrollInfinite {
			return nil
		}
		if scrolls >= e.cfg.MaxScrollCycles {
			res.Logs = append(res.Logs, "scroll budget reached")
			return nil
		}
		if newSeen == 0 && len(items) == prevTotal {
			res.Logs = append(res.Logs, "list stopped growing")
			return nil
		}
		prevTotal = len(items)

		if err := drv.Scroll(ctx, driver.ScrollRequest{Direction: "down"}); err != nil {
			return err
		}
		scrolls++
		res.Stats.ScrollCycles++
		if working.ListUpdated != nil {
			baseline := len(items)
			if working.ListUpdated.Exists != "" {
				baseline = -1
			}
			if err := e.awaitCondition(ctx, drv, "LIST_UPDATED", working.ListUpdated, baseline); err != nil {
				var timeout *ConditionTimeoutError
				if errors.As(err, &timeout) {
					res.Logs = append(res.Logs, "list did not grow after scroll")
					return nil
				}
				return err
			}
		}
	}
}

// queryItems resolves LIST_ITEM matches, treating zero matches as a
// resolution failure eligible for a binding fix.
func (e *Executor) queryItems(ctx context.Context, drv driver.Driver, working *bindings.PageBindings, snap *dom.Snapshot, res *Result) ([]*dom.ElementNode, error) {
	items, err := snap.Query(working.ListItem)
	if err == nil && len(items) > 0 {
		return items, nil
	}
	cause := err
	if cause == nil {
		cause = fmt.Errorf("selector %q matched no elements", working.ListItem)
	}
	if _, ok := e.requestFix(ctx, drv, working, ForEachItemInList, "LIST_ITEM", working.ListItem, cause, res); !ok {
		return nil, fmt.Errorf("LIST_ITEM resolution failed: %w", cause)
	}
	fresh, err := drv.Capture(ctx)
	if err != nil {
		return nil, err
	}
	items, err = fresh.Query(working.ListItem)
	if err != nil {
		return nil, fmt.Errorf("LIST_ITEM resolution failed after fix: %w", err)
	}
	if len(items) == 0 {
		return nil, fmt.Errorf("LIST_ITEM %q matched no elements after fix", working.ListItem)
	}
	return items, nil
}

// processItem interprets the body commands for one unseen item.
func (e *Executor) processItem(ctx context.Context, drv driver.Driver, working *bindings.PageBindings, body []Command, snap *dom.Snapshot, it *dom.ElementNode, id, listURL string, res *Result) error {
	itemSel := dom.SelectorFor(it)
	raw := ""

	for _, bc := range body {
		res.Stats.CommandsExecuted++
		switch bc.Type {
		case ExtractDetails:
			content, err := e.extractDetails(ctx, drv, working, snap, it, itemSel, listURL, res)
			if err != nil {
				return err
			}
			raw = content
		case SaveItem:
			if raw == "" {
				raw = snap.OuterHTML(it)
			}
			res.Items = append(res.Items, Item{ID: id, URL: drv.URL(), RawHTML: raw})
			res.Stats.ItemsExtracted++
		case MarkDone:
			res.Logs = append(res.Logs, "done: "+id)
		case End:
			return errEnd
		default:
			if err := e.step(ctx, drv, working, bc, res); err != nil {
				return err
			}
		}
	}
	return nil
}

// extractDetails performs the configured click behavior and returns the
// raw detail content for the item.
func (e *Executor) extractDetails(ctx context.Context, drv driver.Driver, working *bindings.PageBindings, snap *dom.Snapshot, it *dom.ElementNode, itemSel, listURL string, res *Result) (string, error) {
	switch working.ClickBehavior {
	case bindings.ClickInline:
		err := e.withFix(ctx, drv, working, ExtractDetails, "LIST_ITEM", itemSel, res, func(s string) error {
			return drv.Click(ctx, s)
		})
		if err != nil {
			return "", err
		}
		if working.DetailsPanel != "" {
			if err := e.awaitCondition(ctx, drv, "DETAILS_PANEL", &bindings.Condition{Exists: working.DetailsPanel}, -1); err != nil {
				return "", err
			}
		}
		fresh, err := drv.Capture(ctx)
		if err != nil {
			return "", err
		}
		return e.panelContent(fresh, working)

	case bindings.ClickNavigate:
		if err := drv.Click(ctx, itemSel); err != nil {
			return "", err
		}
		if err := drv.WaitForLoad(ctx, e.cfg.LoadTimeout); err != nil {
			return "", err
		}
		fresh, err := drv.Capture(ctx)
		if err != nil {
			return "", err
		}
		content, err := e.panelContent(fresh, working)
		if err != nil {
			return "", err
		}
		if err := drv.Navigate(ctx, listURL); err != nil {
			return "", err
		}
		if err := drv.WaitForLoad(ctx, e.cfg.LoadTimeout); err != nil {
			return "", err
		}
		return content, nil

	default:
		// No click behavior: the item's own markup is the content.
		return snap.OuterHTML(it), nil
	}
}

func (e *Executor) panelContent(snap *dom.Snapshot, working *bindings.PageBindings) (string, error) {
	if working.DetailsPanel != "" {
		panel, err := snap.QueryOne(working.DetailsPanel)
		if err != nil {
			return "", err
		}
		if panel != nil {
			return snap.OuterHTML(panel), nil
		}
	}
	return snap.OuterHTML(snap.Root), nil
}

// resolveSelector maps a semantic binding key to its live selector; any
// other value passes through as a raw selector with no binding name.
func resolveSelector(b *bindings.PageBindings, key string) (selector, binding string) {
	switch key {
	case "LIST":
		return b.List, key
	case "LIST_ITEM":
		return b.ListItem, key
	case "DETAILS_PANEL":
		return b.DetailsPanel, key
	default:
		return key, ""
	}
}

// conditionFor resolves a WAIT_FOR target: a named wait condition, a
// region key (waited on as existence), or a raw selector.
func conditionFor(b *bindings.PageBindings, name string) (*bindings.Condition, string) {
	switch name {
	case "PAGE_LOADED":
		return b.PageLoaded, name
	case "LIST_UPDATED":
		return b.ListUpdated, name
	case "NO_MORE_ITEMS":
		return b.NoMoreItems, name
	case "LIST":
		if b.List == "" {
			return nil, name
		}
		return &bindings.Condition{Exists: b.List}, name
	case "LIST_ITEM":
		if b.ListItem == "" {
			return nil, name
		}
		return &bindings.Condition{Exists: b.ListItem}, name
	case "DETAILS_PANEL":
		if b.DetailsPanel == "" {
			return nil, name
		}
		return &bindings.Condition{Exists: b.DetailsPanel}, name
	default:
		return &bindings.Condition{Exists: name}, name
	}
}

// itemIdentity derives the dedup key for a list item from the ITEM_ID
// rule, falling back to the element identity hash when no rule matches.
func itemIdentity(b *bindings.PageBindings, it *dom.ElementNode) string {
	if b.ItemID != nil {
		switch b.ItemID.From {
		case bindings.ItemIDFromAttribute:
			if v := findAttr(it, b.ItemID.Pattern); v != "" {
				return v
			}
		case bindings.ItemIDFromHref:
			if href := findAttr(it, "href"); href != "" {
				if b.ItemID.Pattern == "" {
					return href
				}
				re, err := regexp.Compile(b.ItemID.Pattern)
				if err == nil {
					if m := re.FindStringSubmatch(href); len(m) > 1 {
						return m[1]
					}
				}
			}
		}
	}
	return string(dom.Identity(it))
}

// findAttr returns the attribute from the element or its first descendant
// carrying it; list items often wrap the anchor that holds the identity.
func findAttr(el *dom.ElementNode, name string) string {
	if v := el.Attr(name); v != "" {
		return v
	}
	for _, c := range el.Children {
		if sub, ok := c.(*dom.ElementNode); ok {
			if v := findAttr(sub, name); v != "" {
				return v
			}
		}
	}
	return ""
}
