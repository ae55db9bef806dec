// Package report turns enriched project views into display and export
// groupings. Actual spreadsheet serialization is the caller's concern;
// this package only produces rows.
package report

import (
	"sort"
	"time"

	"formtrack/internal/domain"
	"formtrack/internal/overview"
)

// UndatedYear is the sentinel bucket for projects without a usable
// creation timestamp. It sorts after every real year.
const UndatedYear = 0

// YearGroup is one bucket of projects sharing a creation year.
type YearGroup struct {
	Year     int                    `json:"year"`
	Projects []overview.ProjectView `json:"projects"`
}

// GroupByYear buckets views by the calendar year of their creation
// timestamp, most recent year first, undated last. Flattening the groups
// in order reproduces every input project exactly once.
func GroupByYear(views []overview.ProjectView) []YearGroup {
	buckets := map[int][]overview.ProjectView{}
	for _, v := range views {
		year := UndatedYear
		if t, err := time.Parse(time.RFC3339, v.CreatedAt); err == nil {
			year = t.UTC().Year()
		}
		buckets[year] = append(buckets[year], v)
	}
	years := make([]int, 0, len(buckets))
	for y := range buckets {
		years = append(years, y)
	}
	sort.Sort(sort.Reverse(sort.IntSlice(years)))
	groups := make([]YearGroup, 0, len(years))
	for _, y := range years {
		if y == UndatedYear {
			continue
		}
		groups = append(groups, YearGroup{Year: y, Projects: buckets[y]})
	}
	if undated, ok := buckets[UndatedYear]; ok {
		groups = append(groups, YearGroup{Year: UndatedYear, Projects: undated})
	}
	return groups
}

// Row is one milestone line of the project export.
type Row struct {
	Municipality string `json:"municipality"`
	Region       string `json:"region"`
	Milestone    string `json:"milestone"`
	StartDate    string `json:"start_date,omitempty"`
	EndDate      string `json:"end_date,omitempty"`
	Status       string `json:"status" enum:"done,pending"`
}

// ExportRows flattens each project's milestone list into export rows,
// preserving the canonical slot order within a project.
func ExportRows(projects []domain.Project) []Row {
	var rows []Row
	for _, p := range projects {
		for _, m := range p.Milestones {
			row := Row{
				Municipality: p.Municipality,
				Region:       p.Region,
				Milestone:    m.Name(),
				Status:       statusLabel(m),
			}
			if m.StartDate != nil {
				row.StartDate = *m.StartDate
			}
			if m.EndDate != nil {
				row.EndDate = *m.EndDate
			}
			rows = append(rows, row)
		}
	}
	return rows
}

func statusLabel(m domain.Milestone) string {
	if m.Completed {
		return "done"
	}
	return "pending"
}
