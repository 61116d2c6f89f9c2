// Package driver defines the browser interface the engine acts through,
// plus the two implementations: a go-rod driver for live Chrome and a
// static HTML driver for offline runs and tests. Exactly one driver
// action is in flight per session at any time; the engine suspends on
// every call.
package driver

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"siphon/internal/dom"
)

// ScrollRequest describes one scroll action. Direction is "up" or "down";
// Percent scrolls by a fraction of the viewport (0 means one viewport).
// Container optionally scopes the scroll to a scrollable element.
type ScrollRequest struct {
	Direction string
	Percent   float64
	Container string
}

// Driver is the browser surface the engine consumes. Capture never fails
// for disallowed URLs; it returns an inert snapshot instead.
type Driver interface {
	Capture(ctx context.Context) (*dom.Snapshot, error)
	Click(ctx context.Context, selector string) error
	Type(ctx context.Context, selector, text string) error
	Scroll(ctx context.Context, req ScrollRequest) error
	SelectDropdown(ctx context.Context, index int, optionText string) error
	Navigate(ctx context.Context, rawURL string) error
	Screenshot(ctx context.Context) ([]byte, error)
	WaitForLoad(ctx context.Context, timeout time.Duration) error
	URL() string
	Title() string
}

// DisallowedNavigationError reports a navigation target outside the URL
// policy. It is fatal to the requested action only; the session continues
// on the current page.
type DisallowedNavigationError struct {
	URL    string
	Reason string
}

func (e *DisallowedNavigationError) Error() string {
	return fmt.Sprintf("navigation to %q disallowed: %s", e.URL, e.Reason)
}

// SelectorError reports a selector that did not resolve to an actionable
// element. The executor turns these into binding fix requests.
type SelectorError struct {
	Selector string
	Cause    error
}

func (e *SelectorError) Error() string {
	return fmt.Sprintf("element not found for selector %q: %v", e.Selector, e.Cause)
}

func (e *SelectorError) Unwrap() error { return e.Cause }

// URLPolicy is the allow/deny list applied before every navigation.
// Deny wins over allow; an empty allow list admits every host not denied.
// Special browser schemes are always denied.
type URLPolicy struct {
	AllowedHosts []string
	DeniedHosts  []string
}

// Check returns a DisallowedNavigationError when the URL falls outside
// the policy.
func (p URLPolicy) Check(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return &DisallowedNavigationError{URL: rawURL, Reason: "unparseable URL"}
	}
	switch u.Scheme {
	case "http", "https":
	case "":
		return &DisallowedNavigationError{URL: rawURL, Reason: "missing scheme"}
	default:
		return &DisallowedNavigationError{URL: rawURL, Reason: "special scheme " + u.Scheme}
	}
	host := strings.ToLower(u.Hostname())
	for _, d := range p.DeniedHosts {
		if hostMatches(host, d) {
			return &DisallowedNavigationError{URL: rawURL, Reason: "host on deny list"}
		}
	}
	if len(p.AllowedHosts) == 0 {
		return nil
	}
	for _, a := range p.AllowedHosts {
		if hostMatches(host, a) {
			return nil
		}
	}
	return &DisallowedNavigationError{URL: rawURL, Reason: "host not on allow list"}
}

// hostMatches supports exact hosts and "*.example.com" suffix patterns.
func hostMatches(host, pattern string) bool {
	pattern = strings.ToLower(pattern)
	if strings.HasPrefix(pattern, "*.") {
		suffix := pattern[1:] // keep the dot
		return strings.HasSuffix(host, suffix) || host == pattern[2:]
	}
	return host == pattern
}
