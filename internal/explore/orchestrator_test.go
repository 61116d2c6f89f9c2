package explore

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"go.uber.org/goleak"

	"siphon/internal/driver"
	"siphon/internal/llm"
)

func TestMain(m *testing.M) {
	// opencensus (linked through the genai SDK) starts a worker goroutine
	// in init that never exits.
	goleak.VerifyTestMain(m,
		goleak.IgnoreTopFunction("go.opencensus.io/stats/view.(*worker).start"))
}

// scriptedModel routes invocations by tool name: decisions come from the
// decide function, change classification from classify, and everything
// else degrades (no tool call) so deterministic fallbacks run.
type scriptedModel struct {
	decideCalls int
	decide      func(call int) map[string]any
	classify    map[string]any
	summary     string
}

func (s *scriptedModel) Invoke(ctx context.Context, system string, messages []llm.Message, tools []llm.ToolSchema) (*llm.Result, error) {
	if len(tools) == 0 {
		return &llm.Result{Text: s.summary}, nil
	}
	switch tools[0].Name {
	case "take_action":
		s.decideCalls++
		raw, _ := json.Marshal(s.decide(s.decideCalls))
		return &llm.Result{ToolCall: &llm.ToolCall{Name: "take_action", Args: raw}}, nil
	case "classify_change":
		raw, _ := json.Marshal(s.classify)
		return &llm.Result{ToolCall: &llm.ToolCall{Name: "classify_change", Args: raw}}, nil
	default:
		return &llm.Result{Text: "no structured answer"}, nil
	}
}

func fastExploreConfig() Config {
	cfg := DefaultConfig()
	cfg.LoadTimeout = time.Second
	cfg.ObservePause = time.Millisecond
	return cfg
}

const exploreListPage = `<html><body>
<ul class="list">
<li><a id="job-1" class="job-card" href="/jobs/1">Staff Engineer</a></li>
<li><a id="job-2" class="job-card" href="/jobs/2">SRE</a></li>
</ul>
</body></html>`

const exploreStart = "https://a.example/jobs"

// A model that only ever clicks the same element must still terminate:
// the same-selector cap demotes clicks to observes, and the observe cap
// finishes the run.
func TestExplore_AlwaysClickTerminates(t *testing.T) {
	drv := driver.NewStatic(map[string]string{
		exploreStart: `<html><body><button class="filter-toggle">Filters</button></body></html>`,
	}, driver.URLPolicy{})

	model := &scriptedModel{
		decide: func(int) map[string]any {
			return map[string]any{"action": "click", "index": 0, "reason": "click it again"}
		},
		summary: "the page has one filter toggle",
	}
	o := NewOrchestrator(drv, model, fastExploreConfig(), nil)

	done := make(chan *Result, 1)
	go func() { done <- o.Explore(context.Background(), exploreStart, "understand the page", nil) }()

	var res *Result
	select {
	case res = <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("exploration did not terminate")
	}
	if res.Steps >= DefaultConfig().MaxSteps {
		t.Errorf("breakers should finish well before the step cap, took %d steps", res.Steps)
	}
	if !res.Success {
		t.Errorf("a bounded run over a visited page is a success: %s", res.Error)
	}
	clicks := 0
	for _, a := range drv.Actions {
		if strings.HasPrefix(a, "click:") {
			clicks++
		}
	}
	if clicks != DefaultConfig().MaxSameClicks {
		t.Errorf("same-selector clicks issued = %d, want exactly %d before the cap demotes them",
			clicks, DefaultConfig().MaxSameClicks)
	}
}

// Two clicks with the same inline effect confirm a behavior pattern, and
// the confirmed pattern's selectors surface under a semantic role.
func TestExplore_ConfirmsPattern(t *testing.T) {
	drv := driver.NewStatic(map[string]string{exploreStart: exploreListPage}, driver.URLPolicy{})
	panelFor := func(extra string) string {
		return exploreListPage[:len(exploreListPage)-len("</body></html>")] +
			`<div class="details"><p>role</p><p>team</p>` + extra + `</div></body></html>`
	}
	drv.Rules["click:a#job-1"] = driver.Mutation{SetHTML: panelFor("")}
	drv.Rules["click:a#job-2"] = driver.Mutation{SetHTML: panelFor("<p>salary</p><p>location</p>")}

	model := &scriptedModel{
		decide: func(call int) map[string]any {
			switch call {
			case 1:
				return map[string]any{"action": "click", "index": 0, "reason": "open first job"}
			case 2:
				return map[string]any{"action": "click", "index": 1, "reason": "open second job"}
			default:
				return map[string]any{"action": "done", "reason": "listing behavior understood"}
			}
		},
		classify: map[string]any{
			"changeType": ChangeModalOpened,
			"effect":     `opened details panel for "a job"`,
		},
		summary: "clicking a job card opens an inline details panel",
	}
	o := NewOrchestrator(drv, model, fastExploreConfig(), nil)
	res := o.Explore(context.Background(), exploreStart, "understand the job board", nil)

	if !res.Success {
		t.Fatalf("exploration failed: %s", res.Error)
	}
	if len(res.Patterns) != 1 {
		t.Fatalf("confirmed patterns = %d, want 1", len(res.Patterns))
	}
	p := res.Patterns[0]
	if p.Action != ActionClick || p.Count != 2 || p.ChangeType != ChangeModalOpened {
		t.Errorf("pattern = %+v", p)
	}
	if got := res.KeyElements["job_listings"]; len(got) == 0 {
		t.Errorf("job card selectors should surface as job_listings, got %v", res.KeyElements)
	}
	if res.FinalUnderstanding != model.summary {
		t.Errorf("final understanding = %q", res.FinalUnderstanding)
	}
	if len(res.NavigationPath) != 1 {
		t.Errorf("inline panels must not extend the navigation path: %v", res.NavigationPath)
	}
}

// A decision pointing at an element that is not on the page degrades to
// observe instead of acting blind.
func TestExplore_UnknownTargetObserves(t *testing.T) {
	drv := driver.NewStatic(map[string]string{
		exploreStart: `<html><body><button>Only</button></body></html>`,
	}, driver.URLPolicy{})
	model := &scriptedModel{
		decide: func(call int) map[string]any {
			if call == 1 {
				return map[string]any{"action": "click", "index": 99, "reason": "hallucinated"}
			}
			return map[string]any{"action": "done", "reason": "stop"}
		},
	}
	o := NewOrchestrator(drv, model, fastExploreConfig(), nil)
	res := o.Explore(context.Background(), exploreStart, "goal", nil)
	if !res.Success {
		t.Fatalf("run failed: %s", res.Error)
	}
	if len(drv.Actions) != 1 { // the initial navigate only, never a click
		t.Errorf("driver actions = %v", drv.Actions)
	}
}

func TestExplore_StopSignal(t *testing.T) {
	drv := driver.NewStatic(map[string]string{
		exploreStart: `<html><body><button>Go</button></body></html>`,
	}, driver.URLPolicy{})
	model := &scriptedModel{
		decide: func(int) map[string]any {
			return map[string]any{"action": "observe", "reason": "wait"}
		},
	}
	stop := make(chan struct{})
	close(stop)

	o := NewOrchestrator(drv, model, fastExploreConfig(), nil)
	res := o.Explore(context.Background(), exploreStart, "goal", stop)
	if res.Steps != 0 {
		t.Errorf("a closed stop channel must halt before the first step, ran %d", res.Steps)
	}
}

func TestExplore_CancelledContext(t *testing.T) {
	drv := driver.NewStatic(map[string]string{
		exploreStart: `<html><body><button>Go</button></body></html>`,
	}, driver.URLPolicy{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	o := NewOrchestrator(drv, &scriptedModel{
		decide: func(int) map[string]any { return map[string]any{"action": "observe", "reason": "wait"} },
	}, fastExploreConfig(), nil)
	res := o.Explore(ctx, exploreStart, "goal", nil)
	if res.Success {
		t.Error("cancelled exploration is not a success")
	}
}
