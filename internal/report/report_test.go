package report_test

import (
	"testing"

	"formtrack/internal/domain"
	"formtrack/internal/overview"
	"formtrack/internal/report"
)

func strPtr(s string) *string { return &s }

func view(id, createdAt string) overview.ProjectView {
	return overview.ProjectView{Project: domain.Project{ID: id, Municipality: id, CreatedAt: createdAt}}
}

func TestGroupByYearDescUndatedLast(t *testing.T) {
	views := []overview.ProjectView{
		view("a", "2024-02-01T00:00:00Z"),
		view("b", "2026-01-15T00:00:00Z"),
		view("c", ""),
		view("d", "2026-11-30T00:00:00Z"),
		view("e", "garbage"),
	}
	groups := report.GroupByYear(views)
	if len(groups) != 3 {
		t.Fatalf("groups = %d, want 3", len(groups))
	}
	if groups[0].Year != 2026 || groups[1].Year != 2024 {
		t.Fatalf("year order = %d,%d; want 2026,2024", groups[0].Year, groups[1].Year)
	}
	if groups[2].Year != report.UndatedYear {
		t.Fatalf("last group year = %d, want undated sentinel", groups[2].Year)
	}
	if len(groups[2].Projects) != 2 {
		t.Fatalf("undated bucket = %d, want 2", len(groups[2].Projects))
	}
	// flattening reproduces every input exactly once
	seen := map[string]int{}
	total := 0
	for _, g := range groups {
		for _, v := range g.Projects {
			seen[v.ID]++
			total++
		}
	}
	if total != len(views) {
		t.Fatalf("flattened %d projects, want %d", total, len(views))
	}
	for _, v := range views {
		if seen[v.ID] != 1 {
			t.Fatalf("project %s appears %d times", v.ID, seen[v.ID])
		}
	}
}

func TestGroupByYearKeepsInputOrderWithinBucket(t *testing.T) {
	views := []overview.ProjectView{
		view("first", "2026-01-01T00:00:00Z"),
		view("second", "2026-06-01T00:00:00Z"),
	}
	groups := report.GroupByYear(views)
	if len(groups) != 1 || groups[0].Projects[0].ID != "first" || groups[0].Projects[1].ID != "second" {
		t.Fatalf("bucket order changed: %+v", groups)
	}
}

func TestExportRowsSlotOrder(t *testing.T) {
	slots := domain.NewMilestones()
	slots[0].Completed = true
	slots[0].StartDate = strPtr("2026-02-01T00:00:00Z")
	slots[0].EndDate = strPtr("2026-02-02T00:00:00Z")
	slots[4].StartDate = strPtr("2026-05-01T00:00:00Z")
	projects := []domain.Project{
		{ID: "p-1", Municipality: "Aurora", Region: "Norte", Milestones: slots},
		{ID: "p-2", Municipality: "Bela Vista", Milestones: domain.NewMilestones()},
	}
	rows := report.ExportRows(projects)
	if len(rows) != 18 {
		t.Fatalf("rows = %d, want 18", len(rows))
	}
	first := rows[0]
	if first.Municipality != "Aurora" || first.Region != "Norte" || first.Milestone != "diagnostic" {
		t.Fatalf("first row = %+v", first)
	}
	if first.Status != "done" || first.StartDate != "2026-02-01T00:00:00Z" || first.EndDate != "2026-02-02T00:00:00Z" {
		t.Fatalf("first row state = %+v", first)
	}
	if rows[4].Milestone != "simulado-4" || rows[4].Status != "pending" {
		t.Fatalf("row 4 = %+v", rows[4])
	}
	if rows[9].Municipality != "Bela Vista" || rows[9].Milestone != "diagnostic" {
		t.Fatalf("row 9 = %+v", rows[9])
	}
	for _, r := range rows[9:] {
		if r.Status != "pending" || r.StartDate != "" {
			t.Fatalf("unscheduled project row = %+v", r)
		}
	}
}
