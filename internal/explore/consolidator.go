package explore

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"siphon/internal/llm"
)

// Consolidation cadence. Raw observations are cheap to record and
// expensive to reason over, so they are generalized in batches.
const (
	consolidateEveryN   = 3
	consolidateAfterAge = 30 * time.Second
)

// Consolidator turns batches of raw observations into generalized
// behavior patterns.
type Consolidator struct {
	client llm.Client
	log    *zap.Logger
}

// NewConsolidator creates a consolidator. A nil client groups
// observations deterministically by action and effect.
func NewConsolidator(client llm.Client, log *zap.Logger) *Consolidator {
	if log == nil {
		log = zap.NewNop()
	}
	return &Consolidator{client: client, log: log.Named("consolidator")}
}

// ShouldRun decides whether a consolidation pass is due:
// the first two observations with no patterns yet, every third new
// observation after that, or any pending work older than the age cap.
func (c *Consolidator) ShouldRun(m *Memory, now time.Time) bool {
	pending := len(m.PendingObservations())
	if pending == 0 {
		return false
	}
	if m.PatternCount() == 0 && pending >= 2 {
		return true
	}
	if pending >= consolidateEveryN {
		return true
	}
	last := m.LastConsolidation()
	return !last.IsZero() && now.Sub(last) >= consolidateAfterAge
}

const consolidateSystemPrompt = `You generalize raw browsing observations into reusable behavior patterns.
Group observations that describe the same kind of action with the same kind of effect,
even when they touched different elements. Describe each group's target as a kind of element,
not a specific one. Keep the effect description generic: no quoted titles, no counts.`

var consolidateSchema = llm.ToolSchema{
	Name:        "record_patterns",
	Description: "Record the generalized behavior patterns found in the observations.",
	Parameters: llm.ObjectSchema(map[string]any{
		"patterns": map[string]any{
			"type": "array",
			"items": llm.ObjectSchema(map[string]any{
				"action":     llm.StringProp("the action kind, e.g. click or scroll"),
				"targetType": llm.StringProp("kind of element acted on, e.g. job card"),
				"effect":     llm.StringProp("generic effect description"),
				"changeType": llm.EnumProp("kind of change",
					ChangeNavigation, ChangeModalOpened, ChangeModalClosed, ChangeContentLoaded,
					ChangeContentRemoved, ChangeSelectionChanged),
				"selectors": map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
				"count":     map[string]any{"type": "integer", "description": "observations in this group"},
			}, "action", "effect", "changeType"),
		},
	}, "patterns"),
}

// Consolidate generalizes the pending observations into patterns and
// applies them to memory. Model failures degrade to deterministic
// grouping rather than losing the batch.
func (c *Consolidator) Consolidate(ctx context.Context, m *Memory, now time.Time) {
	pending := m.PendingObservations()
	if len(pending) == 0 {
		return
	}

	patterns := c.groupWithModel(ctx, pending, now)
	if patterns == nil {
		patterns = groupDeterministic(pending)
	}
	m.ApplyConsolidation(patterns, now)
	c.log.Info("observations consolidated",
		zap.Int("observations", len(pending)), zap.Int("patterns", len(patterns)))
}

func (c *Consolidator) groupWithModel(ctx context.Context, pending []Observation, now time.Time) []*BehaviorPattern {
	if c.client == nil {
		return nil
	}

	var b strings.Builder
	for i, o := range pending {
		fmt.Fprintf(&b, "%d. action=%s selector=%s target=%s change=%s effect=%s\n",
			i+1, o.Action, o.Selector, o.Target, o.Change.ChangeType, o.Change.Effect)
	}
	res, err := c.client.Invoke(ctx, consolidateSystemPrompt,
		[]llm.Message{{Role: llm.RoleUser, Content: "Observations:\n" + b.String()}},
		[]llm.ToolSchema{consolidateSchema})
	if err != nil {
		c.log.Warn("consolidation model call failed, grouping deterministically", zap.Error(err))
		return nil
	}

	var args struct {
		Patterns []struct {
			Action     string   `json:"action"`
			TargetType string   `json:"targetType"`
			Effect     string   `json:"effect"`
			ChangeType string   `json:"changeType"`
			Selectors  []string `json:"selectors"`
			Count      int      `json:"count"`
		} `json:"patterns"`
	}
	if err := llm.RequiredArgs(res.ToolCall, consolidateSchema, &args); err != nil {
		c.log.Warn("consolidation answer unusable, grouping deterministically", zap.Error(err))
		return nil
	}

	var out []*BehaviorPattern
	for _, pa := range args.Patterns {
		if pa.Action == "" || !changeTypes[pa.ChangeType] {
			continue
		}
		count := pa.Count
		if count < 1 {
			count = 1
		}
		p := newPattern(pa.Action, pa.TargetType, pa.Effect, pa.ChangeType, "", now)
		p.Count = count
		for _, s := range pa.Selectors {
			p.Selectors = appendUnique(p.Selectors, s, 3)
		}
		out = append(out, p)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// groupDeterministic buckets observations by action, change type, and
// normalized effect.
func groupDeterministic(pending []Observation) []*BehaviorPattern {
	byKey := map[string]*BehaviorPattern{}
	var order []string
	for _, o := range pending {
		key := patternKey(o.Action, o.Change.ChangeType, o.Change.Effect)
		if p, ok := byKey[key]; ok {
			p.absorb(o.Selector)
			continue
		}
		p := newPattern(o.Action, o.Target, o.Change.Effect, o.Change.ChangeType, o.Selector, o.At)
		byKey[key] = p
		order = append(order, key)
	}
	out := make([]*BehaviorPattern, 0, len(order))
	for _, key := range order {
		out = append(out, byKey[key])
	}
	return out
}

// marshalPatterns renders patterns as JSON for logs and final reports.
func marshalPatterns(ps []*BehaviorPattern) string {
	data, err := json.MarshalIndent(ps, "", "  ")
	if err != nil {
		return "[]"
	}
	return string(data)
}
