package driver

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/net/html"

	"siphon/internal/dom"
)

// Static is a Driver over in-memory HTML documents. It backs offline
// recipe runs and every test that would otherwise need a live browser.
// Pages map URLs to HTML; Rules script what an action does to the page.
type Static struct {
	mu     sync.Mutex
	pages  map[string]string
	cur    string
	title  string
	policy URLPolicy

	// Rules maps "click:<selector>" / "type:<selector>" / "scroll" to a
	// mutation applied when the action runs. Unmatched clicks on anchors
	// follow their href.
	Rules map[string]Mutation

	// Actions records every performed action for assertions.
	Actions []string
}

// Mutation is the scripted effect of an action on the static page.
type Mutation struct {
	SetHTML string // replace the current page's HTML
	GotoURL string // navigate to another page in Pages
	Fail    error  // make the action fail
}

// NewStatic creates a static driver positioned nowhere; call Navigate
// first, as a recipe's OPEN_PAGE would.
func NewStatic(pages map[string]string, policy URLPolicy) *Static {
	return &Static{
		pages:  pages,
		policy: policy,
		Rules:  map[string]Mutation{},
	}
}

// SetPage replaces the HTML behind a URL.
func (s *Static) SetPage(url, htmlText string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pages[url] = htmlText
}

func (s *Static) record(action string) {
	s.Actions = append(s.Actions, action)
}

// Capture parses the current page into a snapshot. Disallowed or unknown
// locations produce an inert snapshot, never an error.
func (s *Static) Capture(ctx context.Context) (*dom.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cur == "" || s.policy.Check(s.cur) != nil {
		return dom.Inert(s.cur), nil
	}
	src, ok := s.pages[s.cur]
	if !ok {
		return dom.Inert(s.cur), nil
	}
	doc, err := html.Parse(strings.NewReader(src))
	if err != nil {
		return nil, fmt.Errorf("parse page: %w", err)
	}
	raw := htmlToRaw(doc)
	if raw == nil {
		return dom.Inert(s.cur), nil
	}
	return dom.Build(*raw, s.cur, s.title), nil
}

func (s *Static) snapshotLocked() (*dom.Snapshot, error) {
	src, ok := s.pages[s.cur]
	if !ok {
		return nil, fmt.Errorf("no page at %q", s.cur)
	}
	doc, err := html.Parse(strings.NewReader(src))
	if err != nil {
		return nil, err
	}
	raw := htmlToRaw(doc)
	if raw == nil {
		return nil, fmt.Errorf("empty document at %q", s.cur)
	}
	return dom.Build(*raw, s.cur, s.title), nil
}

func (s *Static) apply(m Mutation) error {
	if m.Fail != nil {
		return m.Fail
	}
	if m.SetHTML != "" {
		s.pages[s.cur] = m.SetHTML
	}
	if m.GotoURL != "" {
		s.cur = m.GotoURL
	}
	return nil
}

// Click resolves the selector against the current page, applies any
// scripted rule, and otherwise follows anchor hrefs.
func (s *Static) Click(ctx context.Context, selector string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("click:" + selector)

	snap, err := s.snapshotLocked()
	if err != nil {
		return &SelectorError{Selector: selector, Cause: err}
	}
	el, err := snap.QueryOne(selector)
	if err != nil {
		return &SelectorError{Selector: selector, Cause: err}
	}
	if el == nil {
		return &SelectorError{Selector: selector, Cause: fmt.Errorf("no match")}
	}
	if rule, ok := s.Rules["click:"+selector]; ok {
		return s.apply(rule)
	}
	if href := el.Attr("href"); href != "" && s.linkTarget(href) != "" {
		s.cur = s.linkTarget(href)
	}
	return nil
}

// linkTarget resolves an href against known pages; relative hrefs resolve
// against the current URL's origin.
func (s *Static) linkTarget(href string) string {
	if _, ok := s.pages[href]; ok {
		return href
	}
	if strings.HasPrefix(href, "/") {
		if i := strings.Index(strings.TrimPrefix(s.cur, "https://"), "/"); i >= 0 {
			origin := s.cur[:len("https://")+i]
			if _, ok := s.pages[origin+href]; ok {
				return origin + href
			}
		}
	}
	return ""
}

func (s *Static) Type(ctx context.Context, selector, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record(fmt.Sprintf("type:%s:%s", selector, text))

	snap, err := s.snapshotLocked()
	if err != nil {
		return &SelectorError{Selector: selector, Cause: err}
	}
	el, err := snap.QueryOne(selector)
	if err != nil || el == nil {
		return &SelectorError{Selector: selector, Cause: fmt.Errorf("no match")}
	}
	if rule, ok := s.Rules["type:"+selector]; ok {
		return s.apply(rule)
	}
	return nil
}

func (s *Static) Scroll(ctx context.Context, req ScrollRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("scroll:" + req.Direction)
	if rule, ok := s.Rules["scroll"]; ok {
		return s.apply(rule)
	}
	return nil
}

func (s *Static) SelectDropdown(ctx context.Context, index int, optionText string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record(fmt.Sprintf("select:%d:%s", index, optionText))
	return nil
}

func (s *Static) Navigate(ctx context.Context, rawURL string) error {
	if err := s.policy.Check(rawURL); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("navigate:" + rawURL)
	s.cur = rawURL
	return nil
}

// Screenshot has nothing to rasterize; callers must tolerate nil.
func (s *Static) Screenshot(ctx context.Context) ([]byte, error) {
	return nil, nil
}

func (s *Static) WaitForLoad(ctx context.Context, timeout time.Duration) error {
	return nil
}

func (s *Static) URL() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cur
}

func (s *Static) Title() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.title
}

// interactiveTags are elements considered actionable in parsed HTML.
var interactiveTags = map[string]bool{
	"a": true, "button": true, "input": true, "select": true,
	"textarea": true, "summary": true, "option": true,
}

var skippedTags = map[string]bool{
	"script": true, "style": true, "noscript": true, "template": true,
	"head": true, "meta": true, "link": true, "title": true,
}

// htmlToRaw converts a parsed HTML tree into the driver wire form,
// applying the same visibility/interactivity heuristics the live capture
// script uses.
func htmlToRaw(n *html.Node) *dom.RawNode {
	switch n.Type {
	case html.DocumentNode:
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if c.Type == html.ElementNode {
				return htmlToRaw(c)
			}
		}
		return nil
	case html.TextNode:
		if strings.TrimSpace(n.Data) == "" {
			return nil
		}
		return &dom.RawNode{Text: n.Data, Visible: true}
	case html.ElementNode:
		tag := strings.ToLower(n.Data)
		if skippedTags[tag] {
			return nil
		}
		attrs := make(map[string]string, len(n.Attr))
		for _, a := range n.Attr {
			attrs[a.Key] = a.Val
		}
		raw := &dom.RawNode{
			Tag:         tag,
			Attributes:  attrs,
			Visible:     visibleByAttrs(attrs),
			InViewport:  true,
			Interactive: interactiveTags[tag] || attrs["onclick"] != "" || attrs["role"] == "button",
		}
		if !raw.Visible {
			raw.Interactive = false
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if child := htmlToRaw(c); child != nil {
				child.Visible = child.Visible && raw.Visible
				raw.Children = append(raw.Children, *child)
			}
		}
		return raw
	default:
		return nil
	}
}

func visibleByAttrs(attrs map[string]string) bool {
	if _, hidden := attrs["hidden"]; hidden {
		return false
	}
	style := strings.ReplaceAll(attrs["style"], " ", "")
	if strings.Contains(style, "display:none") || strings.Contains(style, "visibility:hidden") {
		return false
	}
	if attrs["type"] == "hidden" {
		return false
	}
	return true
}
