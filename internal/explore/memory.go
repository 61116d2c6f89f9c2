package explore

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// PageNode is one kind of page the exploration has seen.
type PageNode struct {
	URL          string    `json:"url"`
	PageType     string    `json:"pageType"`
	Summary      string    `json:"summary"`
	KeyElements  []string  `json:"keyElements,omitempty"`
	FirstVisited time.Time `json:"firstVisited"`
	Visits       int       `json:"visits"`
}

// Edge records that an action on one page led to another.
type Edge struct {
	FromURL  string `json:"fromUrl"`
	ToURL    string `json:"toUrl"`
	Action   string `json:"action"`
	Selector string `json:"selector,omitempty"`
}

// Observation is one raw action/effect record awaiting consolidation.
type Observation struct {
	Step     int            `json:"step"`
	Action   string         `json:"action"`
	Selector string         `json:"selector,omitempty"`
	Target   string         `json:"target,omitempty"`
	Change   ChangeAnalysis `json:"change"`
	At       time.Time      `json:"at"`
}

// Memory is the exploration's working model of the site: a page graph,
// raw observations, and consolidated behavior patterns. Safe for use from
// the orchestrator loop and concurrent readers.
type Memory struct {
	mu sync.Mutex

	pages          map[string]*PageNode
	pageOrder      []string
	edges          []Edge
	navigationPath []string

	observations []Observation
	consolidated int // observations[:consolidated] have been through consolidation

	patterns map[string]*BehaviorPattern

	lastConsolidation time.Time
}

// NewMemory creates an empty memory rooted nowhere.
func NewMemory() *Memory {
	return &Memory{
		pages:    map[string]*PageNode{},
		patterns: map[string]*BehaviorPattern{},
	}
}

// VisitPage records arrival on a URL, creating the page node on first
// visit.
func (m *Memory) VisitPage(url, pageType string, now time.Time) *PageNode {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.visitLocked(url, pageType, now)
}

func (m *Memory) visitLocked(url, pageType string, now time.Time) *PageNode {
	n, ok := m.pages[url]
	if !ok {
		n = &PageNode{URL: url, PageType: pageType, FirstVisited: now}
		m.pages[url] = n
		m.pageOrder = append(m.pageOrder, url)
	}
	n.Visits++
	if len(m.navigationPath) == 0 || m.navigationPath[len(m.navigationPath)-1] != url {
		m.navigationPath = append(m.navigationPath, url)
	}
	return n
}

// UpdateFromClassification folds one analyzed action into the graph. A
// new page node appears only for a confirmed new page type reached
// through an actual URL change; same-URL changes annotate the current
// page instead.
func (m *Memory) UpdateFromClassification(action, selector string, ca *ChangeAnalysis, now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if ca.BeforeURL != ca.AfterURL {
		m.edges = append(m.edges, Edge{
			FromURL:  ca.BeforeURL,
			ToURL:    ca.AfterURL,
			Action:   action,
			Selector: selector,
		})
		pageType := ""
		if ca.IsNewPageType {
			pageType = ca.PageType
		}
		n := m.visitLocked(ca.AfterURL, pageType, now)
		if n.Summary == "" && ca.PageUnderstanding != "" {
			n.Summary = ca.PageUnderstanding
		}
		return
	}

	if n, ok := m.pages[ca.AfterURL]; ok && ca.ChangeType != ChangeNone && ca.ChangeType != ChangeMinor {
		n.KeyElements = appendUnique(n.KeyElements, selector, 12)
	}
}

// AddObservation queues a raw observation for consolidation.
func (m *Memory) AddObservation(o Observation) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.observations = append(m.observations, o)
}

// PendingObservations returns the observations not yet consolidated.
func (m *Memory) PendingObservations() []Observation {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Observation, len(m.observations)-m.consolidated)
	copy(out, m.observations[m.consolidated:])
	return out
}

// PatternCount returns how many patterns exist, confirmed or not.
func (m *Memory) PatternCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.patterns)
}

// LastConsolidation returns when consolidation last ran.
func (m *Memory) LastConsolidation() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastConsolidation
}

// ApplyConsolidation merges consolidated patterns into memory and marks
// the pending observations as absorbed. An incoming pattern that matches
// an existing one by key adds its count and keeps the original FirstSeen.
func (m *Memory) ApplyConsolidation(incoming []*BehaviorPattern, now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, p := range incoming {
		key := p.Key()
		if have, ok := m.patterns[key]; ok {
			have.Count += p.Count
			for _, s := range p.Selectors {
				if len(have.Selectors) >= 3 {
					break
				}
				have.Selectors = appendUnique(have.Selectors, s, 3)
			}
			continue
		}
		cp := *p
		if cp.FirstSeen.IsZero() {
			cp.FirstSeen = now
		}
		m.patterns[key] = &cp
	}
	m.consolidated = len(m.observations)
	m.lastConsolidation = now
}

// MatchingPattern finds a confirmed pattern whose example selectors
// include the given one for the given action.
func (m *Memory) MatchingPattern(action, selector string) *BehaviorPattern {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.patterns {
		if p.Action != action || !p.Confirmed() {
			continue
		}
		for _, s := range p.Selectors {
			if s == selector {
				return p
			}
		}
	}
	return nil
}

// ConfirmedPatterns returns confirmed patterns ordered by first sighting.
func (m *Memory) ConfirmedPatterns() []*BehaviorPattern {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*BehaviorPattern
	for _, p := range m.patterns {
		if p.Confirmed() {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FirstSeen.Before(out[j].FirstSeen) })
	return out
}

// Pages returns page nodes in first-visit order.
func (m *Memory) Pages() []*PageNode {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*PageNode, 0, len(m.pageOrder))
	for _, url := range m.pageOrder {
		out = append(out, m.pages[url])
	}
	return out
}

// NavigationPath returns the visited URLs in order.
func (m *Memory) NavigationPath() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.navigationPath))
	copy(out, m.navigationPath)
	return out
}

// SetPageSummary records a model-written summary for a page.
func (m *Memory) SetPageSummary(url, summary string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if n, ok := m.pages[url]; ok {
		n.Summary = summary
	}
}

// Summary renders a compact textual view of what is known, suitable for
// inclusion in a decision prompt.
func (m *Memory) Summary() string {
	m.mu.Lock()
	defer m.mu.Unlock()

	var b strings.Builder
	fmt.Fprintf(&b, "Pages seen: %d\n", len(m.pages))
	for _, url := range m.pageOrder {
		n := m.pages[url]
		fmt.Fprintf(&b, "- %s (visits=%d)", n.URL, n.Visits)
		if n.Summary != "" {
			fmt.Fprintf(&b, ": %s", n.Summary)
		}
		b.WriteString("\n")
	}
	confirmed := 0
	for _, p := range m.patterns {
		if p.Confirmed() {
			confirmed++
		}
	}
	fmt.Fprintf(&b, "Behavior patterns: %d confirmed, %d total\n", confirmed, len(m.patterns))
	for _, p := range m.patterns {
		if !p.Confirmed() {
			continue
		}
		fmt.Fprintf(&b, "- %s on %s causes %s (%s, seen %dx)\n",
			p.Action, p.TargetType, p.Effect, p.ChangeType, p.Count)
	}
	return b.String()
}

// selectorRoles maps semantic roles to the substrings that identify them
// in pattern targets and selectors.
var selectorRoles = map[string][]string{
	"filter_button": {"filter"},
	"apply_button":  {"apply", "submit"},
	"job_listings":  {"job", "listing", "card", "result"},
	"search_input":  {"search", "query"},
	"pagination":    {"pagination", "page-", "next", "load-more"},
	"close_button":  {"close", "dismiss"},
}

// DiscoveredSelectors buckets the selectors of confirmed patterns into
// semantic roles. Only confirmed patterns contribute; a single sighting
// is not evidence.
func (m *Memory) DiscoveredSelectors() map[string][]string {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := map[string][]string{}
	for _, p := range m.patterns {
		if !p.Confirmed() {
			continue
		}
		for _, sel := range p.Selectors {
			hay := strings.ToLower(sel + " " + p.TargetType)
			for role, frags := range selectorRoles {
				for _, f := range frags {
					if strings.Contains(hay, f) {
						out[role] = appendUnique(out[role], sel, 8)
						break
					}
				}
			}
		}
	}
	return out
}

func appendUnique(list []string, v string, max int) []string {
	if v == "" {
		return list
	}
	for _, have := range list {
		if have == v {
			return list
		}
	}
	if len(list) >= max {
		return list
	}
	return append(list, v)
}
