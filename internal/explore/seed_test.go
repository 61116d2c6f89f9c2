package explore

import (
	"testing"
	"time"

	"siphon/internal/bindings"
)

func confirmedPattern(action, target, effect, changeType string, sels ...string) *BehaviorPattern {
	p := newPattern(action, target, effect, changeType, "", time.Now())
	p.Count = 2
	p.Selectors = sels
	return p
}

func TestSeedBindings_FromConfirmedRun(t *testing.T) {
	res := &Result{
		Success: true,
		KeyElements: map[string][]string{
			"job_listings": {"a#job-1", "a#job-2"},
		},
		Patterns: []*BehaviorPattern{
			confirmedPattern("click", "job card", "opens inline details", ChangeModalOpened, "a#job-1", "a#job-2"),
			confirmedPattern("scroll", "job list", "more jobs load", ChangeContentLoaded),
		},
	}

	b := SeedBindings(res, "https://a.example/jobs")
	if b == nil {
		t.Fatal("a run with confirmed listing behavior must seed bindings")
	}
	if b.ListItem != `a[id^="job-"]` {
		t.Errorf("item selector = %q, want the per-item ids generalized", b.ListItem)
	}
	if b.List == "" {
		t.Error("list region must be set")
	}
	if b.ClickBehavior != bindings.ClickInline {
		t.Errorf("click behavior = %q, want inline from the modal pattern", b.ClickBehavior)
	}
	if b.ScrollBehavior != bindings.ScrollInfinite {
		t.Errorf("scroll behavior = %q, want infinite from the scroll pattern", b.ScrollBehavior)
	}
	if b.ItemID == nil || b.ItemID.From != bindings.ItemIDFromHref {
		t.Errorf("anchor items should key identity on href, got %+v", b.ItemID)
	}
	if report := bindings.Validate(b); !report.Valid {
		t.Errorf("seeded bindings must validate: %v", report.Errors)
	}
}

func TestSeedBindings_NavigationClicks(t *testing.T) {
	res := &Result{
		KeyElements: map[string][]string{"job_listings": {"a.job-card"}},
		Patterns: []*BehaviorPattern{
			confirmedPattern("click", "job card", "opens the job page", ChangeNavigation, "a.job-card"),
		},
	}
	b := SeedBindings(res, "https://a.example/jobs")
	if b == nil {
		t.Fatal("seed failed")
	}
	if b.ClickBehavior != bindings.ClickNavigate {
		t.Errorf("click behavior = %q, want navigate", b.ClickBehavior)
	}
	if b.ListItem != "a.job-card" {
		t.Errorf("single selector passes through, got %q", b.ListItem)
	}
}

func TestSeedBindings_PaginationImpliesScrolling(t *testing.T) {
	res := &Result{
		KeyElements: map[string][]string{
			"job_listings": {"div.listing"},
			"pagination":   {"button.load-more"},
		},
	}
	b := SeedBindings(res, "https://a.example/jobs")
	if b == nil {
		t.Fatal("seed failed")
	}
	if b.ScrollBehavior != bindings.ScrollInfinite {
		t.Errorf("scroll behavior = %q", b.ScrollBehavior)
	}
}

func TestSeedBindings_NothingLearned(t *testing.T) {
	if b := SeedBindings(&Result{Success: true}, "https://a.example/"); b != nil {
		t.Errorf("no listing selectors, no seed; got %+v", b)
	}
	if b := SeedBindings(nil, "https://a.example/"); b != nil {
		t.Error("nil result must not seed")
	}
}

func TestGeneralizeItemSelector(t *testing.T) {
	cases := []struct {
		sels []string
		want string
	}{
		{[]string{"a#job-1", "a#job-2", "a#job-3"}, `a[id^="job-"]`},
		{[]string{"a#job-1", "div#row-2"}, "a#job-1"}, // mixed stems stay specific
		{[]string{"li.result"}, "li.result"},
	}
	for _, c := range cases {
		if got := generalizeItemSelector(c.sels); got != c.want {
			t.Errorf("generalize(%v) = %q, want %q", c.sels, got, c.want)
		}
	}
}
