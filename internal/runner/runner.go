// Package runner drives a full recipe run: it resolves bindings from the
// store, falls back to model discovery, executes the recipe with
// self-healing fixes, and persists the bindings that carried a successful
// run.
package runner

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"siphon/internal/bindings"
	"siphon/internal/dom"
	"siphon/internal/driver"
	"siphon/internal/navigator"
	"siphon/internal/recipe"
)

// BindingProvider is the slice of the navigator the runner needs.
type BindingProvider interface {
	DiscoverBindings(ctx context.Context, urlPattern, domContext string) navigator.Discovery
	FixBinding(ctx context.Context, commandType, name, currentValue, errText, domContext string) navigator.Fix
}

// Result is the outcome of one recipe run, across at most two execution
// cycles.
type Result struct {
	Success    bool
	Items      []recipe.Item
	Stats      recipe.Stats
	Logs       []string
	Cycles     int
	Discovered bool
	Error      string
}

// Runner owns the run loop for one driver session.
type Runner struct {
	store bindings.Store
	nav   BindingProvider
	cfg   recipe.ExecutorConfig
	log   *zap.Logger
	now   func() time.Time
}

// New creates a runner. The navigator may be nil for offline runs against
// stored bindings only.
func New(store bindings.Store, nav BindingProvider, cfg recipe.ExecutorConfig, log *zap.Logger) *Runner {
	if log == nil {
		log = zap.NewNop()
	}
	return &Runner{store: store, nav: nav, cfg: cfg, log: log.Named("runner"), now: time.Now}
}

// bindingErrorFragments are the failure shapes that indicate stale
// bindings rather than a broken site or recipe. Only these justify the
// second, discovery-forced cycle.
var bindingErrorFragments = []string{
	"timeout",
	"not found",
	"no element",
	"selector",
	"cannot find",
	"does not exist",
	"nil pointer",
	"null",
}

func isBindingError(msg string) bool {
	lower := strings.ToLower(msg)
	for _, frag := range bindingErrorFragments {
		if strings.Contains(lower, frag) {
			return true
		}
	}
	return false
}

// Run executes a recipe. Cycle one uses stored bindings when they are
// fresh and valid, otherwise discovers. If cycle one fails with a
// binding-shaped error and extracted nothing, cycle two forces discovery
// and tries once more. Bindings are persisted only after a successful
// cycle.
func (r *Runner) Run(ctx context.Context, drv driver.Driver, rec *recipe.Recipe) *Result {
	if err := rec.Validate(); err != nil {
		return &Result{Error: fmt.Sprintf("recipe invalid: %v", err)}
	}

	res := &Result{}
	b, discovered, err := r.resolveBindings(ctx, drv, rec, false)
	if err != nil {
		res.Error = err.Error()
		return res
	}
	res.Discovered = discovered

	cycle := r.executeCycle(ctx, drv, rec, b)
	res.Cycles = 1
	res.Items = cycle.result.Items
	res.Stats = cycle.result.Stats
	res.Logs = append(res.Logs, cycle.result.Logs...)

	if cycle.result.Success {
		r.finish(res, cycle)
		return res
	}

	res.Error = cycle.result.Error
	if discovered || len(cycle.result.Items) > 0 || !isBindingError(cycle.result.Error) {
		// Fresh discovery already failed, or the run produced items, or
		// the failure does not look like stale bindings. Retrying with
		// the same inputs cannot help.
		return res
	}

	r.log.Info("retrying with forced discovery", zap.String("recipe", rec.Name),
		zap.String("firstError", cycle.result.Error))
	b, _, err = r.resolveBindings(ctx, drv, rec, true)
	if err != nil {
		res.Error = fmt.Sprintf("%s; rediscovery failed: %v", res.Error, err)
		return res
	}
	res.Discovered = true

	cycle = r.executeCycle(ctx, drv, rec, b)
	res.Cycles = 2
	res.Items = cycle.result.Items
	res.Stats = cycle.result.Stats
	res.Logs = append(res.Logs, cycle.result.Logs...)
	if cycle.result.Success {
		res.Error = ""
		r.finish(res, cycle)
		return res
	}
	res.Error = cycle.result.Error
	return res
}

// cycleOutcome pairs an execution result with the bindings that produced
// it, fix patches folded in, so a success can be persisted as-is.
type cycleOutcome struct {
	result   *recipe.Result
	bindings *bindings.PageBindings
}

func (r *Runner) executeCycle(ctx context.Context, drv driver.Driver, rec *recipe.Recipe, b *bindings.PageBindings) *cycleOutcome {
	effective := b.Clone()
	var fix recipe.FixFunc
	if r.nav != nil {
		fix = func(ctx context.Context, req recipe.FixRequest) (*bindings.PageBindings, bool) {
			out := r.nav.FixBinding(ctx, string(req.Command), req.Binding, req.CurrentValue,
				req.Err, req.DOMContext)
			if !out.Success {
				r.log.Warn("binding fix declined", zap.String("binding", req.Binding), zap.String("reason", out.Err))
				return nil, false
			}
			effective.Merge(out.Patch)
			return out.Patch, true
		}
	}
	ex := recipe.NewExecutor(r.cfg, fix, r.log)
	result := ex.Execute(ctx, drv, b, rec)
	for i := range result.Items {
		parseFields(&result.Items[i])
	}
	return &cycleOutcome{result: result, bindings: effective}
}

// finish persists the bindings that carried the successful cycle.
func (r *Runner) finish(res *Result, cycle *cycleOutcome) {
	res.Success = true
	if r.store == nil {
		return
	}
	b := cycle.bindings
	b.Version++
	b.UpdatedAt = r.now().UTC()
	if err := r.store.Save(b); err != nil {
		// The run itself succeeded; a persistence failure only costs the
		// next run a rediscovery.
		r.log.Warn("bindings not persisted", zap.String("urlPattern", b.URLPattern), zap.Error(err))
	}
}

// resolveBindings returns stored bindings when they are fresh and valid,
// otherwise runs discovery against the recipe's entry page.
func (r *Runner) resolveBindings(ctx context.Context, drv driver.Driver, rec *recipe.Recipe, force bool) (*bindings.PageBindings, bool, error) {
	if !force && r.store != nil {
		stored, err := r.store.Load(rec.URLPattern)
		if err != nil {
			return nil, false, fmt.Errorf("load bindings: %w", err)
		}
		if stored != nil && stored.Fresh(r.now()) && bindings.Validate(stored).Valid {
			r.log.Debug("using stored bindings", zap.String("urlPattern", rec.URLPattern),
				zap.Int("version", stored.Version))
			return stored, false, nil
		}
	}
	if r.nav == nil {
		return nil, false, fmt.Errorf("no usable bindings for %s and no model configured", rec.URLPattern)
	}

	render, err := r.renderEntryPage(ctx, drv, rec)
	if err != nil {
		return nil, false, err
	}
	d := r.nav.DiscoverBindings(ctx, rec.URLPattern, render)
	if !d.Success {
		return nil, false, fmt.Errorf("binding discovery failed: %s", d.Err)
	}
	return d.Bindings, true, nil
}

// renderEntryPage navigates to the recipe's first OPEN_PAGE target and
// renders the captured snapshot for the model.
func (r *Runner) renderEntryPage(ctx context.Context, drv driver.Driver, rec *recipe.Recipe) (string, error) {
	url := rec.EntryURL()
	if url == "" {
		return "", fmt.Errorf("recipe %s has no OPEN_PAGE command to discover from", rec.Name)
	}
	if err := drv.Navigate(ctx, url); err != nil {
		return "", fmt.Errorf("open %s for discovery: %w", url, err)
	}
	if err := drv.WaitForLoad(ctx, r.cfg.LoadTimeout); err != nil {
		return "", fmt.Errorf("wait for %s: %w", url, err)
	}
	snap, err := drv.Capture(ctx)
	if err != nil {
		return "", fmt.Errorf("capture %s: %w", url, err)
	}
	return dom.RenderForModel(snap, nil), nil
}

// parseFields derives structured fields from an item's raw content.
// Parse failures leave the raw content as the only field.
func parseFields(it *recipe.Item) {
	if it.RawHTML == "" {
		return
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(it.RawHTML))
	if err != nil {
		return
	}
	if it.Fields == nil {
		it.Fields = map[string]string{}
	}
	if title := firstText(doc, "h1, h2, h3, h4, [class*=title]"); title != "" {
		it.Fields["title"] = title
	}
	if link, ok := doc.Find("a[href]").First().Attr("href"); ok {
		it.Fields["link"] = link
	}
	if text := strings.TrimSpace(doc.Text()); text != "" {
		it.Fields["text"] = collapseSpace(text)
	}
}

func firstText(doc *goquery.Document, selector string) string {
	return strings.TrimSpace(doc.Find(selector).First().Text())
}

func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
