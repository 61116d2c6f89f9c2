package explore

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
)

// BehaviorPattern is a generalized observation: acting on this kind of
// target produces this kind of change. Patterns start unconfirmed and
// become trustworthy once seen twice.
type BehaviorPattern struct {
	ID         string    `json:"id"`
	Action     string    `json:"action"`
	TargetType string    `json:"targetType"`
	Effect     string    `json:"effect"`
	ChangeType string    `json:"changeType"`
	Selectors  []string  `json:"selectors"`
	Count      int       `json:"count"`
	FirstSeen  time.Time `json:"firstSeen"`
}

// Confirmed reports whether the pattern has recurred.
func (p *BehaviorPattern) Confirmed() bool {
	return p.Count >= 2
}

// Key is the dedup identity: two observations describe the same pattern
// when action, change type, and normalized effect coincide, regardless of
// which specific element produced them.
func (p *BehaviorPattern) Key() string {
	return patternKey(p.Action, p.ChangeType, p.Effect)
}

func patternKey(action, changeType, effect string) string {
	return fmt.Sprintf("%s|%s|%s", action, changeType, normalizeEffect(effect))
}

var (
	quotedRe  = regexp.MustCompile(`"[^"]*"|'[^']*'`)
	forAtRe   = regexp.MustCompile(`\b(?:for|at)\s+\S+`)
	numbersRe = regexp.MustCompile(`\b\d+\b`)
)

// normalizeEffect strips the instance-specific parts of an effect
// description so that "opened panel for \"Staff Engineer\"" and "opened
// panel for \"SRE\"" collapse to one pattern.
func normalizeEffect(s string) string {
	s = strings.ToLower(s)
	s = quotedRe.ReplaceAllString(s, "")
	s = forAtRe.ReplaceAllString(s, "")
	s = numbersRe.ReplaceAllString(s, "")
	return strings.Join(strings.Fields(s), " ")
}

// newPattern starts a pattern from a single observation.
func newPattern(action, targetType, effect, changeType, selector string, seen time.Time) *BehaviorPattern {
	p := &BehaviorPattern{
		ID:         uuid.NewString(),
		Action:     action,
		TargetType: targetType,
		Effect:     effect,
		ChangeType: changeType,
		Count:      1,
		FirstSeen:  seen,
	}
	if selector != "" {
		p.Selectors = []string{selector}
	}
	return p
}

// absorb folds another sighting into the pattern, keeping at most three
// example selectors.
func (p *BehaviorPattern) absorb(selector string) {
	p.Count++
	if selector == "" {
		return
	}
	for _, s := range p.Selectors {
		if s == selector {
			return
		}
	}
	if len(p.Selectors) < 3 {
		p.Selectors = append(p.Selectors, selector)
	}
}
