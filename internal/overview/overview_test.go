package overview_test

import (
	"fmt"
	"testing"
	"time"

	"formtrack/internal/domain"
	"formtrack/internal/overview"
)

var today = time.Date(2026, 4, 15, 10, 0, 0, 0, time.UTC)

func strPtr(s string) *string { return &s }

func task(id string, priority domain.Priority, due *string, projectID string) domain.Task {
	t := domain.Task{
		ID:          id,
		Description: id,
		Status:      domain.TaskPending,
		Priority:    priority,
		DueDate:     due,
		Origin:      domain.OriginManual,
	}
	if projectID != "" {
		t.ProjectID = &projectID
	}
	return t
}

func TestProjectViewsCounts(t *testing.T) {
	slots := domain.NewMilestones()
	slots[0].Completed = true
	slots[1].StartDate = strPtr("2026-04-20T09:00:00Z")
	snap := overview.Snapshot{
		Projects: []domain.Project{{ID: "p-1", Municipality: "Aurora", Milestones: slots}},
		Tasks: []domain.Task{
			task("t-urgent", domain.PriorityUrgent, nil, "p-1"),
			task("t-late", domain.PriorityNormal, strPtr("2026-04-14T23:59:00Z"), "p-1"),
			task("t-today", domain.PriorityNormal, strPtr("2026-04-15T00:00:00Z"), "p-1"),
			task("t-other", domain.PriorityUrgent, nil, ""),
		},
	}
	views := overview.ProjectViews(snap, today)
	if len(views) != 1 {
		t.Fatalf("views = %d, want 1", len(views))
	}
	v := views[0]
	if v.TaskCount != 3 {
		t.Fatalf("task count = %d, want 3", v.TaskCount)
	}
	if v.UrgentCount != 1 {
		t.Fatalf("urgent count = %d, want 1", v.UrgentCount)
	}
	// due yesterday is overdue, due today is not
	if v.OverdueCount != 1 {
		t.Fatalf("overdue count = %d, want 1", v.OverdueCount)
	}
	if v.Next == nil || v.Next.Name != "simulado-1" {
		t.Fatalf("next = %+v, want simulado-1", v.Next)
	}
	want := 100 * 1.0 / 9.0
	if v.Completion != want {
		t.Fatalf("completion = %v, want %v", v.Completion, want)
	}
}

func TestNeedingAttentionStableDesc(t *testing.T) {
	views := []overview.ProjectView{
		{Project: domain.Project{ID: "calm"}, UrgentCount: 0, OverdueCount: 0},
		{Project: domain.Project{ID: "busy-a"}, UrgentCount: 2, OverdueCount: 1},
		{Project: domain.Project{ID: "busy-b"}, UrgentCount: 1, OverdueCount: 2},
		{Project: domain.Project{ID: "mid"}, UrgentCount: 1, OverdueCount: 0},
	}
	got := overview.NeedingAttention(views)
	wantOrder := []string{"busy-a", "busy-b", "mid", "calm"}
	for i, id := range wantOrder {
		if got[i].ID != id {
			t.Fatalf("position %d = %s, want %s", i, got[i].ID, id)
		}
	}
	// input untouched
	if views[0].ID != "calm" {
		t.Fatal("NeedingAttention must not reorder its input")
	}
}

func TestCriticalDisjointAndCapped(t *testing.T) {
	var tasks []domain.Task
	// urgent and overdue at once: must appear only under urgent
	tasks = append(tasks, task("both", domain.PriorityUrgent, strPtr("2026-04-01T00:00:00Z"), ""))
	for i := 0; i < 7; i++ {
		due := fmt.Sprintf("2026-04-%02dT00:00:00Z", 2+i)
		tasks = append(tasks, task(fmt.Sprintf("late-%d", i), domain.PriorityNormal, strPtr(due), ""))
	}
	done := task("done-late", domain.PriorityNormal, strPtr("2026-04-01T00:00:00Z"), "")
	done.Status = domain.TaskDone
	tasks = append(tasks, done)
	tasks = append(tasks, task("undated-urgent", domain.PriorityUrgent, nil, ""))

	crit := overview.Critical(tasks, today, 5)
	if len(crit.Urgent) != 2 {
		t.Fatalf("urgent = %d, want 2", len(crit.Urgent))
	}
	if crit.Urgent[0].ID != "both" || crit.Urgent[1].ID != "undated-urgent" {
		t.Fatalf("urgent order = %s,%s; dated first", crit.Urgent[0].ID, crit.Urgent[1].ID)
	}
	if len(crit.Overdue) != 5 {
		t.Fatalf("overdue = %d, want cap of 5", len(crit.Overdue))
	}
	for i, got := range crit.Overdue {
		want := fmt.Sprintf("late-%d", i)
		if got.ID != want {
			t.Fatalf("overdue[%d] = %s, want %s", i, got.ID, want)
		}
	}
	for _, u := range crit.Urgent {
		for _, o := range crit.Overdue {
			if u.ID == o.ID {
				t.Fatalf("task %s in both lists", u.ID)
			}
		}
	}
}

func TestCriticalSkipsDone(t *testing.T) {
	done := task("d", domain.PriorityUrgent, nil, "")
	done.Status = domain.TaskDone
	crit := overview.Critical([]domain.Task{done}, today, 5)
	if len(crit.Urgent)+len(crit.Overdue) != 0 {
		t.Fatal("done tasks must never be critical")
	}
}

func TestOverdueBoundary(t *testing.T) {
	cases := []struct {
		due  string
		want int
	}{
		{"2026-04-14T23:59:59Z", 1}, // yesterday, any time of day
		{"2026-04-15T00:00:00Z", 0}, // today is not overdue
		{"2026-04-16T00:00:00Z", 0},
	}
	for _, tc := range cases {
		crit := overview.Critical([]domain.Task{task("x", domain.PriorityNormal, strPtr(tc.due), "")}, today, 5)
		if len(crit.Overdue) != tc.want {
			t.Fatalf("due %s: overdue = %d, want %d", tc.due, len(crit.Overdue), tc.want)
		}
	}
}

func TestWeekAheadWindowInclusive(t *testing.T) {
	slots := domain.NewMilestones()
	slots[1].StartDate = strPtr("2026-04-22T09:00:00Z") // today+7, inclusive
	snap := overview.Snapshot{
		Projects: []domain.Project{{ID: "p-1", Municipality: "Aurora", Milestones: slots}},
		Trainings: []domain.Training{
			{ID: "tr-today", Title: "Formação A", StartDate: strPtr("2026-04-15T14:00:00Z")},
			{ID: "tr-late", Title: "Formação B", StartDate: strPtr("2026-04-23T09:00:00Z")}, // past window
			{ID: "tr-past", Title: "Formação C", StartDate: strPtr("2026-04-14T09:00:00Z")},
			{ID: "tr-undated", Title: "Formação D"},
		},
	}
	entries := overview.WeekAhead(snap, today, 7)
	if len(entries) != 2 {
		t.Fatalf("entries = %d, want 2", len(entries))
	}
	if entries[0].Kind != overview.EntryTrainingStart || entries[0].EntityID != "tr-today" {
		t.Fatalf("first entry = %+v", entries[0])
	}
	if entries[1].Kind != overview.EntryProjectMilestone || entries[1].Label != "Aurora: simulado-1" {
		t.Fatalf("second entry = %+v", entries[1])
	}
}

func TestWeekAheadSortedAscending(t *testing.T) {
	snap := overview.Snapshot{
		Trainings: []domain.Training{
			{ID: "b", Title: "B", StartDate: strPtr("2026-04-18T00:00:00Z")},
			{ID: "a", Title: "A", StartDate: strPtr("2026-04-16T00:00:00Z")},
		},
	}
	entries := overview.WeekAhead(snap, today, 7)
	if len(entries) != 2 || entries[0].EntityID != "a" || entries[1].EntityID != "b" {
		t.Fatalf("entries not sorted by date: %+v", entries)
	}
}
