package explore

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"siphon/internal/dom"
	"siphon/internal/llm"
)

// Change type vocabulary. Closed set: the analyzer never emits anything
// outside it, whatever the model says.
const (
	ChangeNavigation       = "navigation"
	ChangeModalOpened      = "modal_opened"
	ChangeModalClosed      = "modal_closed"
	ChangeContentLoaded    = "content_loaded"
	ChangeContentRemoved   = "content_removed"
	ChangeSelectionChanged = "selection_changed"
	ChangeNone             = "no_change"
	ChangeMinor            = "minor_change"
)

var changeTypes = map[string]bool{
	ChangeNavigation:       true,
	ChangeModalOpened:      true,
	ChangeModalClosed:      true,
	ChangeContentLoaded:    true,
	ChangeContentRemoved:   true,
	ChangeSelectionChanged: true,
	ChangeNone:             true,
	ChangeMinor:            true,
}

// ChangeAnalysis classifies what one action did to the page.
type ChangeAnalysis struct {
	ChangeType        string
	Effect            string
	ElementType       string
	IsNewPageType     bool
	PageType          string
	PageUnderstanding string
	BeforeURL         string
	AfterURL          string
}

// Analyzer classifies before/after snapshot pairs. The model supplies the
// semantic reading; hard URL rules are enforced here and cannot be
// overridden by the model.
type Analyzer struct {
	client llm.Client
	log    *zap.Logger
}

// NewAnalyzer creates an analyzer. A nil client degrades to size-delta
// heuristics only.
func NewAnalyzer(client llm.Client, log *zap.Logger) *Analyzer {
	if log == nil {
		log = zap.NewNop()
	}
	return &Analyzer{client: client, log: log.Named("analyzer")}
}

const analyzeSystemPrompt = `You compare two renders of a web page, before and after one user action.
Classify what changed and describe the effect in one short sentence.
modal_opened means a detail region or overlay appeared; modal_closed means one went away.
content_loaded means more content appeared on the same page; content_removed means content disappeared.
selection_changed means the active or highlighted element changed.
navigation means the browser moved to a different page.`

var analyzeSchema = llm.ToolSchema{
	Name:        "classify_change",
	Description: "Classify the page change caused by the last action.",
	Parameters: llm.ObjectSchema(map[string]any{
		"changeType": llm.EnumProp("kind of change",
			ChangeNavigation, ChangeModalOpened, ChangeModalClosed, ChangeContentLoaded,
			ChangeContentRemoved, ChangeSelectionChanged, ChangeNone, ChangeMinor),
		"effect":            llm.StringProp("one-sentence description of what the action did"),
		"elementType":       llm.StringProp("kind of element acted on, e.g. job card, filter button"),
		"isNewPageType":     map[string]any{"type": "boolean", "description": "true only when the after page is a structurally different kind of page"},
		"pageType":          llm.StringProp("short name for the after page's kind, when it is a new page type"),
		"pageUnderstanding": llm.StringProp("one sentence on what the after page is for, when it is a new page type"),
	}, "changeType", "effect"),
}

// Analyze classifies the change between two captures of the same session.
func (a *Analyzer) Analyze(ctx context.Context, actionDesc string, before, after *dom.Snapshot) *ChangeAnalysis {
	ca := &ChangeAnalysis{BeforeURL: before.URL, AfterURL: after.URL}
	sameURL := before.URL == after.URL
	delta := after.Size() - before.Size()

	// Identical URL and identical size needs no model round trip.
	if sameURL && delta == 0 {
		ca.ChangeType = ChangeNone
		ca.Effect = "nothing changed"
		return ca
	}

	if a.client == nil {
		a.classifyByDelta(ca, sameURL, delta)
		return ca
	}

	msg := fmt.Sprintf("Action: %s\nURL before: %s\nURL after: %s\n\nBefore:\n%s\n\nAfter:\n%s",
		actionDesc, before.URL, after.URL,
		dom.RenderForModel(before, nil), dom.RenderForModel(after, nil))
	res, err := a.client.Invoke(ctx, analyzeSystemPrompt,
		[]llm.Message{{Role: llm.RoleUser, Content: msg}},
		[]llm.ToolSchema{analyzeSchema})
	if err != nil {
		a.log.Warn("change classification failed, using size heuristic", zap.Error(err))
		a.classifyByDelta(ca, sameURL, delta)
		return ca
	}

	var args struct {
		ChangeType        string `json:"changeType"`
		Effect            string `json:"effect"`
		ElementType       string `json:"elementType"`
		IsNewPageType     bool   `json:"isNewPageType"`
		PageType          string `json:"pageType"`
		PageUnderstanding string `json:"pageUnderstanding"`
	}
	if err := llm.RequiredArgs(res.ToolCall, analyzeSchema, &args); err != nil {
		a.log.Warn("change classification unusable, using size heuristic", zap.Error(err))
		a.classifyByDelta(ca, sameURL, delta)
		return ca
	}

	ca.ChangeType = args.ChangeType
	ca.Effect = args.Effect
	ca.ElementType = args.ElementType
	ca.IsNewPageType = args.IsNewPageType
	ca.PageType = args.PageType
	ca.PageUnderstanding = args.PageUnderstanding
	if !changeTypes[ca.ChangeType] {
		ca.ChangeType = ChangeMinor
	}

	// Hard rule: without a URL change there was no navigation and no new
	// page type, whatever the model concluded. Downgrade by size delta.
	if sameURL {
		if ca.ChangeType == ChangeNavigation {
			a.classifyByDelta(ca, true, delta)
		}
		ca.IsNewPageType = false
		ca.PageType = ""
		ca.PageUnderstanding = ""
	}
	return ca
}

// classifyByDelta fills in a change type from the URL and the DOM size
// delta alone.
func (a *Analyzer) classifyByDelta(ca *ChangeAnalysis, sameURL bool, delta int) {
	switch {
	case !sameURL:
		ca.ChangeType = ChangeNavigation
		if ca.Effect == "" {
			ca.Effect = "navigated to a different page"
		}
	case delta > 20:
		ca.ChangeType = ChangeContentLoaded
		if ca.Effect == "" {
			ca.Effect = "substantial content appeared"
		}
	case delta < -20:
		ca.ChangeType = ChangeContentRemoved
		if ca.Effect == "" {
			ca.Effect = "substantial content disappeared"
		}
	case delta != 0:
		ca.ChangeType = ChangeMinor
		if ca.Effect == "" {
			ca.Effect = "small page change"
		}
	default:
		ca.ChangeType = ChangeNone
		if ca.Effect == "" {
			ca.Effect = "nothing changed"
		}
	}
}
