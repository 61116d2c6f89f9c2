package explore

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"siphon/internal/dom"
	"siphon/internal/driver"
	"siphon/internal/llm"
)

// countingModel answers every invocation with one canned tool call.
type countingModel struct {
	calls int
	args  map[string]any
}

func (c *countingModel) Invoke(ctx context.Context, system string, messages []llm.Message, tools []llm.ToolSchema) (*llm.Result, error) {
	c.calls++
	raw, _ := json.Marshal(c.args)
	name := ""
	if len(tools) > 0 {
		name = tools[0].Name
	}
	return &llm.Result{ToolCall: &llm.ToolCall{Name: name, Args: raw}}, nil
}

func snapshotOf(t *testing.T, url, htmlText string) *dom.Snapshot {
	t.Helper()
	drv := driver.NewStatic(map[string]string{url: htmlText}, driver.URLPolicy{})
	if err := drv.Navigate(context.Background(), url); err != nil {
		t.Fatal(err)
	}
	snap, err := drv.Capture(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	return snap
}

func TestAnalyze_IdenticalPagesSkipModel(t *testing.T) {
	page := snapshotOf(t, "https://a.example/", `<html><body><button>Go</button></body></html>`)
	model := &countingModel{}
	ca := NewAnalyzer(model, nil).Analyze(context.Background(), "clicked button", page, page)
	if ca.ChangeType != ChangeNone {
		t.Errorf("changeType = %s", ca.ChangeType)
	}
	if model.calls != 0 {
		t.Errorf("no model call for identical captures, got %d", model.calls)
	}
}

func TestAnalyze_NavigationNeedsURLChange(t *testing.T) {
	before := snapshotOf(t, "https://a.example/", `<html><body><button>Go</button></body></html>`)
	after := snapshotOf(t, "https://a.example/", `<html><body><button>Go</button><div><p>panel</p><p>text</p></div></body></html>`)

	model := &countingModel{args: map[string]any{
		"changeType":    ChangeNavigation,
		"effect":        "went to a new page",
		"isNewPageType": true,
	}}
	ca := NewAnalyzer(model, nil).Analyze(context.Background(), "clicked button", before, after)

	if ca.ChangeType == ChangeNavigation {
		t.Error("same URL can never classify as navigation")
	}
	if ca.IsNewPageType {
		t.Error("same URL can never be a new page type")
	}
	if model.calls != 1 {
		t.Errorf("model calls = %d", model.calls)
	}
}

func TestAnalyze_RealNavigationKept(t *testing.T) {
	before := snapshotOf(t, "https://a.example/jobs", `<html><body><a href="/jobs/1">Job</a></body></html>`)
	after := snapshotOf(t, "https://a.example/jobs/1", `<html><body><h1>Job 1</h1><button>Apply</button></body></html>`)

	model := &countingModel{args: map[string]any{
		"changeType":    ChangeNavigation,
		"effect":        "opened the job detail page",
		"isNewPageType": true,
	}}
	ca := NewAnalyzer(model, nil).Analyze(context.Background(), "clicked job link", before, after)
	if ca.ChangeType != ChangeNavigation || !ca.IsNewPageType {
		t.Errorf("analysis = %+v", ca)
	}
}

func TestAnalyze_ChangeTypeVocabulary(t *testing.T) {
	for _, ct := range []string{
		"navigation", "modal_opened", "modal_closed", "content_loaded",
		"content_removed", "selection_changed", "no_change", "minor_change",
	} {
		if !changeTypes[ct] {
			t.Errorf("change type %q missing from the closed set", ct)
		}
	}
	if len(changeTypes) != 8 {
		t.Errorf("closed set has %d members, want 8", len(changeTypes))
	}
}

func TestAnalyze_CarriesClassificationFields(t *testing.T) {
	before := snapshotOf(t, "https://a.example/jobs", `<html><body><a href="/jobs/1">Job</a></body></html>`)
	after := snapshotOf(t, "https://a.example/jobs/1", `<html><body><h1>Job 1</h1><button>Apply</button></body></html>`)

	model := &countingModel{args: map[string]any{
		"changeType":        ChangeNavigation,
		"effect":            "opened the job detail page",
		"elementType":       "job card",
		"isNewPageType":     true,
		"pageType":          "job_detail",
		"pageUnderstanding": "shows one job's full description",
	}}
	ca := NewAnalyzer(model, nil).Analyze(context.Background(), "clicked job link", before, after)
	if ca.ElementType != "job card" || ca.PageType != "job_detail" {
		t.Errorf("classification fields dropped: %+v", ca)
	}
	if ca.PageUnderstanding == "" {
		t.Error("pageUnderstanding dropped")
	}
}

func TestAnalyze_SameURLClearsPageFields(t *testing.T) {
	before := snapshotOf(t, "https://a.example/", `<html><body><button>Go</button></body></html>`)
	after := snapshotOf(t, "https://a.example/", `<html><body><button>Go</button><div><p>panel</p></div></body></html>`)
	model := &countingModel{args: map[string]any{
		"changeType":        ChangeModalOpened,
		"effect":            "panel appeared",
		"isNewPageType":     true,
		"pageType":          "job_detail",
		"pageUnderstanding": "hallucinated",
	}}
	ca := NewAnalyzer(model, nil).Analyze(context.Background(), "clicked", before, after)
	if ca.PageType != "" || ca.PageUnderstanding != "" || ca.IsNewPageType {
		t.Errorf("same URL must clear new-page fields: %+v", ca)
	}
}

func TestAnalyze_DeltaContentRemoved(t *testing.T) {
	big := `<html><body><button>Go</button><ul>` + strings.Repeat("<li><p>row</p><p>detail</p></li>", 20) + `</ul></body></html>`
	before := snapshotOf(t, "https://a.example/", big)
	after := snapshotOf(t, "https://a.example/", `<html><body><button>Go</button></body></html>`)
	ca := NewAnalyzer(nil, nil).Analyze(context.Background(), "clicked close", before, after)
	if ca.ChangeType != ChangeContentRemoved {
		t.Errorf("large negative delta = %s, want content_removed", ca.ChangeType)
	}
}

func TestAnalyze_UnknownChangeTypeClamped(t *testing.T) {
	before := snapshotOf(t, "https://a.example/", `<html><body><button>Go</button></body></html>`)
	after := snapshotOf(t, "https://a.example/", `<html><body><button>Go</button><p>x</p></body></html>`)
	model := &countingModel{args: map[string]any{"changeType": "everything_exploded", "effect": "???"}}
	ca := NewAnalyzer(model, nil).Analyze(context.Background(), "clicked", before, after)
	if !changeTypes[ca.ChangeType] {
		t.Errorf("change type outside the closed set: %s", ca.ChangeType)
	}
}

func TestAnalyze_NoModelUsesDelta(t *testing.T) {
	before := snapshotOf(t, "https://a.example/a", `<html><body><a href="/b">go</a></body></html>`)
	after := snapshotOf(t, "https://a.example/b", `<html><body><h1>B</h1></body></html>`)
	ca := NewAnalyzer(nil, nil).Analyze(context.Background(), "clicked", before, after)
	if ca.ChangeType != ChangeNavigation {
		t.Errorf("URL change without model = %s, want navigation", ca.ChangeType)
	}
}
