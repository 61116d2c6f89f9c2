package explore

import (
	"context"
	"testing"
	"time"
)

func TestConsolidator_ShouldRun(t *testing.T) {
	c := NewConsolidator(nil, nil)
	now := time.Now()

	m := NewMemory()
	if c.ShouldRun(m, now) {
		t.Error("nothing pending, nothing to do")
	}

	m.AddObservation(Observation{Action: "click"})
	if c.ShouldRun(m, now) {
		t.Error("one observation with no patterns is not enough")
	}
	m.AddObservation(Observation{Action: "click"})
	if !c.ShouldRun(m, now) {
		t.Error("two observations with no patterns yet must trigger the first pass")
	}
	c.Consolidate(context.Background(), m, now)

	// With patterns established, consolidation waits for a batch of three.
	m.AddObservation(Observation{Action: "scroll"})
	m.AddObservation(Observation{Action: "scroll"})
	if c.ShouldRun(m, now) {
		t.Error("two pending with existing patterns is below the batch size")
	}
	m.AddObservation(Observation{Action: "scroll"})
	if !c.ShouldRun(m, now) {
		t.Error("three pending must trigger")
	}
	c.Consolidate(context.Background(), m, now)

	// A single straggler triggers once it has aged past the cap.
	m.AddObservation(Observation{Action: "click"})
	if c.ShouldRun(m, now) {
		t.Error("a fresh straggler waits")
	}
	if !c.ShouldRun(m, now.Add(consolidateAfterAge+time.Second)) {
		t.Error("aged pending work must trigger")
	}
}

func TestConsolidate_DeterministicWithoutModel(t *testing.T) {
	c := NewConsolidator(nil, nil)
	m := NewMemory()
	now := time.Now()
	for i, sel := range []string{"a#job-1", "a#job-2"} {
		m.AddObservation(Observation{
			Step:     i,
			Action:   "click",
			Selector: sel,
			Target:   "a job-card",
			Change:   ChangeAnalysis{ChangeType: ChangeModalOpened, Effect: `opened panel for "X"`},
			At:       now,
		})
	}
	c.Consolidate(context.Background(), m, now)

	if len(m.PendingObservations()) != 0 {
		t.Error("pending observations must be absorbed")
	}
	confirmed := m.ConfirmedPatterns()
	if len(confirmed) != 1 || confirmed[0].Count != 2 {
		t.Fatalf("confirmed = %+v", confirmed)
	}
}
