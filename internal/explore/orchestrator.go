// Package explore runs goal-directed site exploration: a decision loop
// that acts on the page, classifies what each action changed, and builds
// a memory of pages and behavior patterns. Hard circuit breakers bound
// the loop so a run always terminates, whatever the model decides.
package explore

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"siphon/internal/dom"
	"siphon/internal/driver"
	"siphon/internal/llm"
)

// Action type vocabulary for the decision tool. Closed union: anything
// else from the model is treated as observe.
const (
	ActionClick   = "click"
	ActionScroll  = "scroll"
	ActionType    = "type_text"
	ActionObserve = "observe"
	ActionDone    = "done"
)

// decision is one resolved model choice.
type decision struct {
	Action   string
	Index    int
	Selector string
	Text     string
	Reason   string
}

// Config bounds an exploration run.
type Config struct {
	MaxSteps       int
	LoadTimeout    time.Duration
	ObservePause   time.Duration
	ScrollWindow   time.Duration
	MaxSameClicks  int
	MaxPatternHits int
	MaxScrolls     int
	MaxObserves    int
}

// DefaultConfig returns the standard exploration bounds.
func DefaultConfig() Config {
	return Config{
		MaxSteps:       25,
		LoadTimeout:    15 * time.Second,
		ObservePause:   500 * time.Millisecond,
		ScrollWindow:   time.Minute,
		MaxSameClicks:  5,
		MaxPatternHits: 4,
		MaxScrolls:     8,
		MaxObserves:    5,
	}
}

// Result is what an exploration run learned.
type Result struct {
	Success            bool
	Steps              int
	Pages              []*PageNode
	NavigationPath     []string
	Patterns           []*BehaviorPattern
	KeyElements        map[string][]string
	FinalUnderstanding string
	Error              string
}

// Orchestrator owns one exploration run.
type Orchestrator struct {
	drv          driver.Driver
	client       llm.Client
	analyzer     *Analyzer
	consolidator *Consolidator
	memory       *Memory
	cfg          Config
	log          *zap.Logger
	now          func() time.Time

	clicksBySelector    map[string]int
	patternClicks       int
	scrollTimes         []time.Time
	consecutiveObserves int
}

// NewOrchestrator wires an exploration run over a driver and model.
func NewOrchestrator(drv driver.Driver, client llm.Client, cfg Config, log *zap.Logger) *Orchestrator {
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.MaxSteps <= 0 {
		cfg = DefaultConfig()
	}
	return &Orchestrator{
		drv:              drv,
		client:           client,
		analyzer:         NewAnalyzer(client, log),
		consolidator:     NewConsolidator(client, log),
		memory:           NewMemory(),
		cfg:              cfg,
		log:              log.Named("explore"),
		now:              time.Now,
		clicksBySelector: map[string]int{},
	}
}

// Memory exposes the run's memory, mainly for inspection after Explore
// returns.
func (o *Orchestrator) Memory() *Memory {
	return o.memory
}

const decideSystemPrompt = `You explore a website to understand its structure and behavior.
Each turn you see the current page render, what you know so far, and you pick ONE action.
Only act on elements present in the render, referenced by their [index].
Prefer actions that reveal new behavior over repeating what is already confirmed.
Use observe when the page needs time, and done when the site's listing behavior is understood.`

var decideSchema = llm.ToolSchema{
	Name:        "take_action",
	Description: "Choose the next exploration action.",
	Parameters: llm.ObjectSchema(map[string]any{
		"action": llm.EnumProp("what to do next",
			ActionClick, ActionScroll, ActionType, ActionObserve, ActionDone),
		"index": map[string]any{"type": "integer", "description": "highlight index of the target element, for click and type_text"},
		"text":   llm.StringProp("text to enter, for type_text"),
		"reason": llm.StringProp("one line on why this action"),
	}, "action", "reason"),
}

// Explore runs the loop until done, a circuit breaker, the step cap, a
// stop signal, or context cancellation.
func (o *Orchestrator) Explore(ctx context.Context, startURL, goal string, stop <-chan struct{}) *Result {
	res := &Result{KeyElements: map[string][]string{}}

	if err := o.drv.Navigate(ctx, startURL); err != nil {
		res.Error = fmt.Sprintf("open %s: %v", startURL, err)
		return res
	}
	if err := o.drv.WaitForLoad(ctx, o.cfg.LoadTimeout); err != nil {
		o.log.Warn("initial load incomplete", zap.Error(err))
	}
	o.memory.VisitPage(o.drv.URL(), "start", o.now())

	var doneReason string
	for step := 0; step < o.cfg.MaxSteps; step++ {
		if err := ctx.Err(); err != nil {
			res.Error = fmt.Sprintf("exploration cancelled: %v", err)
			break
		}
		if stopped(stop) {
			doneReason = "stop requested"
			break
		}
		res.Steps = step + 1

		before, err := o.drv.Capture(ctx)
		if err != nil {
			res.Error = fmt.Sprintf("capture: %v", err)
			break
		}

		d := o.decide(ctx, goal, before)
		d = o.applyBreakers(d)
		o.log.Debug("step decided", zap.Int("step", step),
			zap.String("action", d.Action), zap.String("selector", d.Selector),
			zap.String("reason", d.Reason))

		if d.Action == ActionDone {
			doneReason = d.Reason
			break
		}

		if err := o.act(ctx, d); err != nil {
			// A failed action is an observation about the page, not a
			// fatal condition. Note it and keep exploring.
			o.log.Warn("action failed", zap.String("action", d.Action),
				zap.String("selector", d.Selector), zap.Error(err))
			o.bumpBreakers(d)
			continue
		}

		after, err := o.drv.Capture(ctx)
		if err != nil {
			res.Error = fmt.Sprintf("capture after action: %v", err)
			break
		}

		ca := o.analyzer.Analyze(ctx, d.describe(), before, after)
		o.memory.UpdateFromClassification(d.Action, d.Selector, ca, o.now())
		if ca.ChangeType != ChangeNone && ca.ChangeType != ChangeMinor {
			target := ca.ElementType
			if target == "" {
				target = d.targetDescription(before)
			}
			o.memory.AddObservation(Observation{
				Step:     step,
				Action:   d.Action,
				Selector: d.Selector,
				Target:   target,
				Change:   *ca,
				At:       o.now(),
			})
		}
		if o.consolidator.ShouldRun(o.memory, o.now()) {
			o.consolidator.Consolidate(ctx, o.memory, o.now())
		}
		o.bumpBreakers(d)
	}

	// Flush whatever observations remain before reporting.
	o.consolidator.Consolidate(ctx, o.memory, o.now())
	o.summarizePages(ctx)

	res.Pages = o.memory.Pages()
	res.NavigationPath = o.memory.NavigationPath()
	res.Patterns = o.memory.ConfirmedPatterns()
	res.KeyElements = o.memory.DiscoveredSelectors()
	res.FinalUnderstanding = o.summarize(ctx, goal, doneReason)
	res.Success = res.Error == "" && len(res.Pages) > 0
	o.log.Info("exploration finished", zap.Bool("success", res.Success),
		zap.Int("steps", res.Steps), zap.Int("patterns", len(res.Patterns)),
		zap.String("reason", doneReason))
	o.log.Debug("confirmed patterns", zap.String("patterns", marshalPatterns(res.Patterns)))
	return res
}

// decide asks the model for the next action. Any malformed or unusable
// answer degrades to observe.
func (o *Orchestrator) decide(ctx context.Context, goal string, snap *dom.Snapshot) decision {
	if o.client == nil {
		return decision{Action: ActionObserve, Reason: "no model configured"}
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Goal: %s\n\nWhat is known:\n%s\n", goal, o.memory.Summary())
	if roles := o.memory.DiscoveredSelectors(); len(roles) > 0 {
		b.WriteString("Identified elements:\n")
		for role, sels := range roles {
			fmt.Fprintf(&b, "- %s: %s\n", role, strings.Join(sels, ", "))
		}
	}
	fmt.Fprintf(&b, "\nCurrent page (%s):\n%s", snap.URL, dom.RenderForModel(snap, nil))

	res, err := o.client.Invoke(ctx, decideSystemPrompt,
		[]llm.Message{{Role: llm.RoleUser, Content: b.String()}},
		[]llm.ToolSchema{decideSchema})
	if err != nil {
		o.log.Warn("decision call failed, observing", zap.Error(err))
		return decision{Action: ActionObserve, Reason: "model unavailable"}
	}

	var args struct {
		Action string `json:"action"`
		Index  int    `json:"index"`
		Text   string `json:"text"`
		Reason string `json:"reason"`
	}
	if err := llm.RequiredArgs(res.ToolCall, decideSchema, &args); err != nil {
		o.log.Warn("decision unusable, observing", zap.Error(err))
		return decision{Action: ActionObserve, Reason: "malformed decision"}
	}

	d := decision{Action: args.Action, Index: args.Index, Text: args.Text, Reason: args.Reason}
	switch d.Action {
	case ActionClick, ActionType:
		el, ok := snap.Element(d.Index)
		if !ok {
			o.log.Warn("decision targets unknown element, observing", zap.Int("index", d.Index))
			return decision{Action: ActionObserve, Reason: "target not on page"}
		}
		d.Selector = dom.SelectorFor(el)
	case ActionScroll, ActionObserve, ActionDone:
	default:
		return decision{Action: ActionObserve, Reason: "unknown action " + d.Action}
	}
	return d
}

// applyBreakers enforces the termination guarantees, in priority order.
// Checks cascade: a decision demoted to observe still falls through to
// the observe cap, so the loop cannot oscillate between breakers.
func (o *Orchestrator) applyBreakers(d decision) decision {
	if d.Action == ActionClick && o.clicksBySelector[d.Selector] >= o.cfg.MaxSameClicks {
		d = decision{Action: ActionObserve, Reason: "same element clicked too often"}
	}
	if d.Action == ActionClick && o.patternClicks >= o.cfg.MaxPatternHits &&
		len(o.memory.ConfirmedPatterns()) >= 2 {
		return decision{Action: ActionDone, Reason: "behavior already confirmed, further clicks add nothing"}
	}
	if d.Action == ActionScroll && o.scrollsInWindow() >= o.cfg.MaxScrolls {
		d = decision{Action: ActionObserve, Reason: "scroll budget exhausted"}
	}
	if d.Action == ActionObserve && o.consecutiveObserves >= o.cfg.MaxObserves {
		return decision{Action: ActionDone, Reason: "page stopped yielding new information"}
	}
	return d
}

// bumpBreakers updates circuit breaker state after an action.
func (o *Orchestrator) bumpBreakers(d decision) {
	switch d.Action {
	case ActionClick:
		o.clicksBySelector[d.Selector]++
		if o.memory.MatchingPattern(ActionClick, d.Selector) != nil {
			o.patternClicks++
		}
		o.consecutiveObserves = 0
	case ActionScroll:
		o.scrollTimes = append(o.scrollTimes, o.now())
		o.consecutiveObserves = 0
	case ActionType:
		o.consecutiveObserves = 0
	case ActionObserve:
		o.consecutiveObserves++
	}
}

func (o *Orchestrator) scrollsInWindow() int {
	cutoff := o.now().Add(-o.cfg.ScrollWindow)
	n := 0
	for _, t := range o.scrollTimes {
		if t.After(cutoff) {
			n++
		}
	}
	return n
}

// act executes one decision against the driver.
func (o *Orchestrator) act(ctx context.Context, d decision) error {
	switch d.Action {
	case ActionClick:
		if err := o.drv.Click(ctx, d.Selector); err != nil {
			return err
		}
		return o.drv.WaitForLoad(ctx, o.cfg.LoadTimeout)
	case ActionScroll:
		return o.drv.Scroll(ctx, driver.ScrollRequest{Direction: "down", Percent: 80})
	case ActionType:
		return o.drv.Type(ctx, d.Selector, d.Text)
	case ActionObserve:
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(o.cfg.ObservePause):
			return nil
		}
	}
	return nil
}

func (d decision) describe() string {
	switch d.Action {
	case ActionClick:
		return "clicked " + d.Selector
	case ActionScroll:
		return "scrolled down"
	case ActionType:
		return fmt.Sprintf("typed %q into %s", d.Text, d.Selector)
	default:
		return d.Action
	}
}

// targetDescription names the clicked element for pattern grouping.
func (d decision) targetDescription(snap *dom.Snapshot) string {
	el, ok := snap.Element(d.Index)
	if !ok {
		return ""
	}
	parts := []string{el.Tag}
	if cls := el.Attr("class"); cls != "" {
		parts = append(parts, cls)
	}
	return strings.Join(parts, " ")
}

const pageSummarySystemPrompt = `You summarize one explored web page in a single sentence:
what kind of page it is and what it offers. No preamble.`

// summarizePages writes a one-line summary onto every visited page that
// lacks one. Best effort; a page without a summary is not an error.
func (o *Orchestrator) summarizePages(ctx context.Context) {
	if o.client == nil {
		return
	}
	for _, p := range o.memory.Pages() {
		if p.Summary != "" {
			continue
		}
		msg := fmt.Sprintf("URL: %s\nVisits: %d\nNotable elements: %s",
			p.URL, p.Visits, strings.Join(p.KeyElements, ", "))
		res, err := o.client.Invoke(ctx, pageSummarySystemPrompt,
			[]llm.Message{{Role: llm.RoleUser, Content: msg}}, nil)
		if err != nil || res.Text == "" {
			continue
		}
		o.memory.SetPageSummary(p.URL, strings.TrimSpace(res.Text))
	}
}

const summarizeSystemPrompt = `You write the final report of a site exploration.
Summarize in a few sentences how the explored site presents its listings,
how details are revealed, and how more content loads. Plain prose, no lists.`

// summarize asks the model for the closing understanding; without a
// model it falls back to the memory summary.
func (o *Orchestrator) summarize(ctx context.Context, goal, doneReason string) string {
	summary := o.memory.Summary()
	if o.client == nil {
		return summary
	}
	msg := fmt.Sprintf("Goal: %s\nStop reason: %s\n\n%s", goal, doneReason, summary)
	res, err := o.client.Invoke(ctx, summarizeSystemPrompt,
		[]llm.Message{{Role: llm.RoleUser, Content: msg}}, nil)
	if err != nil || res.Text == "" {
		return summary
	}
	return res.Text
}

func stopped(stop <-chan struct{}) bool {
	if stop == nil {
		return false
	}
	select {
	case <-stop:
		return true
	default:
		return false
	}
}
