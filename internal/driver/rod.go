package driver

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"go.uber.org/zap"

	"siphon/internal/dom"
)

// RodConfig holds browser configuration for the live driver.
type RodConfig struct {
	Headless            bool     `json:"headless"`
	ViewportWidth       int      `json:"viewport_width"`
	ViewportHeight      int      `json:"viewport_height"`
	NavigationTimeoutMs int      `json:"navigation_timeout_ms"`
	AllowedHosts        []string `json:"allowed_hosts"`
	DeniedHosts         []string `json:"denied_hosts"`
}

// DefaultRodConfig returns sensible defaults.
func DefaultRodConfig() RodConfig {
	return RodConfig{
		Headless:            true,
		ViewportWidth:       1920,
		ViewportHeight:      1080,
		NavigationTimeoutMs: 30000,
	}
}

// NavigationTimeout returns the navigation timeout.
func (c RodConfig) NavigationTimeout() time.Duration {
	if c.NavigationTimeoutMs == 0 {
		return 30 * time.Second
	}
	return time.Duration(c.NavigationTimeoutMs) * time.Millisecond
}

// Rod drives a live Chrome page over the DevTools protocol. One Rod owns
// one page exclusively; sessions never share a driver handle.
type Rod struct {
	cfg     RodConfig
	policy  URLPolicy
	log     *zap.Logger
	browser *rod.Browser
	page    *rod.Page

	lastSnapshot *dom.Snapshot
}

// NewRod creates an unstarted live driver.
func NewRod(cfg RodConfig, log *zap.Logger) *Rod {
	if log == nil {
		log = zap.NewNop()
	}
	return &Rod{
		cfg:    cfg,
		policy: URLPolicy{AllowedHosts: cfg.AllowedHosts, DeniedHosts: cfg.DeniedHosts},
		log:    log.Named("driver"),
	}
}

// Start launches Chrome and opens the session's page.
func (r *Rod) Start(ctx context.Context) error {
	if r.browser != nil {
		if _, err := r.browser.Version(); err == nil {
			return nil
		}
		r.log.Warn("stale browser connection, relaunching")
		_ = r.browser.Close()
		r.browser = nil
	}

	l := launcher.New().Headless(r.cfg.Headless).Leakless(true)
	controlURL, err := l.Launch()
	if err != nil {
		return fmt.Errorf("launch chrome: %w", err)
	}
	browser := rod.New().ControlURL(controlURL).Context(ctx)
	if err := browser.Connect(); err != nil {
		return fmt.Errorf("connect chrome: %w", err)
	}
	page, err := browser.Page(proto.TargetCreateTarget{URL: "about:blank"})
	if err != nil {
		_ = browser.Close()
		return fmt.Errorf("open page: %w", err)
	}
	if err := (proto.EmulationSetDeviceMetricsOverride{
		Width:             r.cfg.ViewportWidth,
		Height:            r.cfg.ViewportHeight,
		DeviceScaleFactor: 1,
	}).Call(page); err != nil {
		r.log.Warn("viewport override failed", zap.Error(err))
	}
	r.browser = browser
	r.page = page
	return nil
}

// Close shuts the browser down.
func (r *Rod) Close() error {
	if r.browser == nil {
		return nil
	}
	err := r.browser.Close()
	r.browser = nil
	r.page = nil
	return err
}

// Capture walks the live DOM and builds a snapshot. Pages the policy
// rejects come back as an inert snapshot, matching the static driver.
func (r *Rod) Capture(ctx context.Context) (*dom.Snapshot, error) {
	cur := r.URL()
	if r.policy.Check(cur) != nil {
		return dom.Inert(cur), nil
	}
	res, err := r.page.Context(ctx).Evaluate(&rod.EvalOptions{
		JS:      captureScript,
		ByValue: true,
	})
	if err != nil {
		return nil, fmt.Errorf("dom capture: %w", err)
	}
	raw, err := res.Value.MarshalJSON()
	if err != nil {
		return nil, fmt.Errorf("dom capture encode: %w", err)
	}
	var root dom.RawNode
	if err := json.Unmarshal(raw, &root); err != nil {
		return nil, fmt.Errorf("dom capture decode: %w", err)
	}
	snap := dom.Build(root, cur, r.Title())
	r.lastSnapshot = snap
	return snap, nil
}

// Click clicks the first element matching the selector.
func (r *Rod) Click(ctx context.Context, selector string) error {
	el, err := r.page.Context(ctx).Element(selector)
	if err != nil {
		return &SelectorError{Selector: selector, Cause: err}
	}
	if err := el.ScrollIntoView(); err != nil {
		r.log.Debug("scroll into view failed", zap.String("selector", selector), zap.Error(err))
	}
	return el.Click(proto.InputMouseButtonLeft, 1)
}

// Type focuses the element and inputs text.
func (r *Rod) Type(ctx context.Context, selector, text string) error {
	el, err := r.page.Context(ctx).Element(selector)
	if err != nil {
		return &SelectorError{Selector: selector, Cause: err}
	}
	return el.Input(text)
}

// Scroll scrolls the window or a container element.
func (r *Rod) Scroll(ctx context.Context, req ScrollRequest) error {
	dir := 1.0
	if req.Direction == "up" {
		dir = -1
	}
	frac := req.Percent
	if frac <= 0 {
		frac = 1
	}
	js := `(frac, container) => {
		const delta = window.innerHeight * frac;
		if (container) {
			const el = document.querySelector(container);
			if (el) { el.scrollTop += delta; return; }
		}
		window.scrollBy(0, delta);
	}`
	_, err := r.page.Context(ctx).Evaluate(&rod.EvalOptions{
		JS:      js,
		ByValue: true,
		JSArgs:  []interface{}{dir * frac, req.Container},
	})
	return err
}

// SelectDropdown picks an option by visible text on the dropdown carrying
// the given highlight index from the last capture.
func (r *Rod) SelectDropdown(ctx context.Context, index int, optionText string) error {
	if r.lastSnapshot == nil {
		return fmt.Errorf("no snapshot captured yet")
	}
	node, ok := r.lastSnapshot.Element(index)
	if !ok {
		return &SelectorError{Selector: fmt.Sprintf("highlight %d", index), Cause: fmt.Errorf("index not in snapshot")}
	}
	sel := dom.FallbackSelector(node)
	el, err := r.page.Context(ctx).Element(sel)
	if err != nil {
		return &SelectorError{Selector: sel, Cause: err}
	}
	return el.Select([]string{optionText}, true, rod.SelectorTypeText)
}

// Navigate checks the URL policy and loads the page.
func (r *Rod) Navigate(ctx context.Context, rawURL string) error {
	if err := r.policy.Check(rawURL); err != nil {
		return err
	}
	return r.page.Context(ctx).Timeout(r.cfg.NavigationTimeout()).Navigate(rawURL)
}

// Screenshot captures the viewport; callers tolerate nil on failure.
func (r *Rod) Screenshot(ctx context.Context) ([]byte, error) {
	data, err := r.page.Context(ctx).Screenshot(false, nil)
	if err != nil {
		r.log.Debug("screenshot failed", zap.Error(err))
		return nil, nil
	}
	return data, nil
}

// WaitForLoad waits for the load event and a briefly stable DOM.
func (r *Rod) WaitForLoad(ctx context.Context, timeout time.Duration) error {
	page := r.page.Context(ctx).Timeout(timeout)
	if err := page.WaitLoad(); err != nil {
		return fmt.Errorf("wait for load: %w", err)
	}
	if err := page.WaitDOMStable(500*time.Millisecond, 0.1); err != nil {
		r.log.Debug("dom did not settle", zap.Error(err))
	}
	return nil
}

// URL reports the current page URL.
func (r *Rod) URL() string {
	if r.page == nil {
		return ""
	}
	info, err := r.page.Info()
	if err != nil {
		return ""
	}
	return info.URL
}

// Title reports the current page title.
func (r *Rod) Title() string {
	if r.page == nil {
		return ""
	}
	info, err := r.page.Info()
	if err != nil {
		return ""
	}
	return info.Title
}

// captureScript walks the visible DOM and returns the raw node tree. It
// stamps data-siphon-hl on interactive visible elements in document order
// so fallback selectors resolve against the live page until the next
// capture.
const captureScript = `() => {
	let hl = 0;
	const interactiveTags = new Set(['a','button','input','select','textarea','summary','option']);

	const isVisible = (el) => {
		const style = window.getComputedStyle(el);
		if (style.display === 'none' || style.visibility === 'hidden' || style.opacity === '0') return false;
		const rect = el.getBoundingClientRect();
		return rect.width > 0 && rect.height > 0;
	};

	const inViewport = (el) => {
		const rect = el.getBoundingClientRect();
		return rect.bottom > 0 && rect.top < window.innerHeight &&
			rect.right > 0 && rect.left < window.innerWidth;
	};

	const isInteractive = (el) => {
		const tag = el.tagName.toLowerCase();
		if (interactiveTags.has(tag)) return true;
		if (el.hasAttribute('onclick') || el.getAttribute('role') === 'button') return true;
		return window.getComputedStyle(el).cursor === 'pointer' && el.childElementCount === 0;
	};

	const walk = (el) => {
		const tag = el.tagName.toLowerCase();
		if (['script','style','noscript','template','meta','link'].includes(tag)) return null;
		const visible = isVisible(el);
		const node = {
			tag,
			attrs: {},
			visible,
			interactive: visible && isInteractive(el),
			inViewport: visible && inViewport(el),
			children: [],
		};
		for (const a of el.attributes) {
			if (a.name.startsWith('data-siphon-')) continue;
			node.attrs[a.name] = a.value.slice(0, 256);
		}
		if (node.interactive) {
			el.setAttribute('data-siphon-hl', String(hl++));
		} else {
			el.removeAttribute('data-siphon-hl');
		}
		for (const child of el.childNodes) {
			if (child.nodeType === Node.TEXT_NODE) {
				const text = child.textContent;
				if (text && text.trim()) {
					node.children.push({text, visible});
				}
			} else if (child.nodeType === Node.ELEMENT_NODE) {
				const sub = walk(child);
				if (sub) node.children.push(sub);
			}
		}
		return node;
	};

	return walk(document.documentElement);
}`
