package milestone_test

import (
	"testing"
	"time"

	"formtrack/internal/domain"
	"formtrack/internal/milestone"
)

func strPtr(s string) *string { return &s }

func projectWith(slots ...domain.Milestone) domain.Project {
	return domain.Project{ID: "p-1", Municipality: "Aurora", Milestones: slots}
}

func TestCompletionRatio(t *testing.T) {
	p := projectWith(domain.NewMilestones()...)
	if got := milestone.CompletionRatio(p); got != 0 {
		t.Fatalf("fresh project completion = %v, want 0", got)
	}
	p.Milestones[0].Completed = true
	p.Milestones[1].Completed = true
	got := milestone.CompletionRatio(p)
	want := 100 * 2.0 / 9.0
	if got != want {
		t.Fatalf("completion = %v, want %v", got, want)
	}
	for i := range p.Milestones {
		p.Milestones[i].Completed = true
	}
	if got := milestone.CompletionRatio(p); got != 100 {
		t.Fatalf("full completion = %v, want 100", got)
	}
}

func TestCompletionRatioEmpty(t *testing.T) {
	if got := milestone.CompletionRatio(domain.Project{}); got != 0 {
		t.Fatalf("empty project completion = %v, want 0", got)
	}
}

func TestNextPicksEarliestPending(t *testing.T) {
	asOf := time.Date(2026, 3, 10, 15, 30, 0, 0, time.UTC)
	slots := domain.NewMilestones()
	slots[0].StartDate = strPtr("2026-03-01T09:00:00Z") // diagnostic, past
	slots[1].StartDate = strPtr("2026-03-20T09:00:00Z") // simulado-1
	slots[2].StartDate = strPtr("2026-03-12T09:00:00Z") // simulado-2
	p := projectWith(slots...)

	next, ok := milestone.Next(p, asOf)
	if !ok {
		t.Fatal("expected an upcoming milestone")
	}
	if next.Name != "simulado-2" {
		t.Fatalf("next = %s, want simulado-2", next.Name)
	}
	if !next.Date.Equal(time.Date(2026, 3, 12, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("next date = %v", next.Date)
	}
}

func TestNextSameDayCounts(t *testing.T) {
	// Scheduled later the same day still qualifies: comparison is by day.
	asOf := time.Date(2026, 3, 10, 23, 0, 0, 0, time.UTC)
	slots := domain.NewMilestones()
	slots[3].StartDate = strPtr("2026-03-10T08:00:00Z")
	next, ok := milestone.Next(projectWith(slots...), asOf)
	if !ok || next.Name != "simulado-3" {
		t.Fatalf("next = %+v ok=%v, want simulado-3", next, ok)
	}
}

func TestNextSlotOrderBreaksTies(t *testing.T) {
	asOf := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	slots := domain.NewMilestones()
	// devolutiva-1 appears after simulado-1 in slot order, same date.
	slots[5].StartDate = strPtr("2026-03-15T09:00:00Z")
	slots[1].StartDate = strPtr("2026-03-15T18:00:00Z")
	next, ok := milestone.Next(projectWith(slots...), asOf)
	if !ok || next.Name != "simulado-1" {
		t.Fatalf("next = %+v ok=%v, want simulado-1", next, ok)
	}
}

func TestNextSkipsCompletedAndUnscheduled(t *testing.T) {
	asOf := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	slots := domain.NewMilestones()
	slots[0].StartDate = strPtr("2026-03-05T09:00:00Z")
	slots[0].Completed = true
	if _, ok := milestone.Next(projectWith(slots...), asOf); ok {
		t.Fatal("completed slot must not be upcoming")
	}
	if _, ok := milestone.Next(projectWith(domain.NewMilestones()...), asOf); ok {
		t.Fatal("unscheduled project has no upcoming milestone")
	}
}

func TestNextIgnoresMalformedDates(t *testing.T) {
	asOf := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	slots := domain.NewMilestones()
	slots[0].StartDate = strPtr("not-a-date")
	slots[1].StartDate = strPtr("2026-04-01T00:00:00Z")
	next, ok := milestone.Next(projectWith(slots...), asOf)
	if !ok || next.Name != "simulado-1" {
		t.Fatalf("next = %+v ok=%v, want simulado-1", next, ok)
	}
}

func TestNewMilestonesCanonicalOrder(t *testing.T) {
	slots := domain.NewMilestones()
	if len(slots) != 9 {
		t.Fatalf("slot count = %d, want 9", len(slots))
	}
	wantNames := []string{
		"diagnostic",
		"simulado-1", "simulado-2", "simulado-3", "simulado-4",
		"devolutiva-1", "devolutiva-2", "devolutiva-3", "devolutiva-4",
	}
	for i, m := range slots {
		if m.Name() != wantNames[i] {
			t.Fatalf("slot %d = %s, want %s", i, m.Name(), wantNames[i])
		}
		if m.Completed || m.StartDate != nil || m.EndDate != nil {
			t.Fatalf("slot %s not seeded empty", m.Name())
		}
	}
}
