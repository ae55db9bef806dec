// Package milestone derives schedule state from a project's fixed slots.
// Everything here is pure: no storage access, no clock, no errors.
package milestone

import (
	"time"

	"formtrack/internal/domain"
)

// Upcoming is the next pending milestone of a project.
type Upcoming struct {
	Name string    `json:"name"`
	Date time.Time `json:"date"`
}

// CompletionRatio returns how complete the project schedule is, in [0,100].
// Every slot counts in the denominator, scheduled or not.
func CompletionRatio(p domain.Project) float64 {
	if len(p.Milestones) == 0 {
		return 0
	}
	done := 0
	for _, m := range p.Milestones {
		if m.Completed {
			done++
		}
	}
	return 100 * float64(done) / float64(len(p.Milestones))
}

// Next returns the earliest milestone that is scheduled, not completed, and
// dated on or after asOf's calendar day. Slot order breaks date ties, so the
// scan keeps the first hit per date. ok is false when nothing qualifies.
func Next(p domain.Project, asOf time.Time) (Upcoming, bool) {
	floor := domain.StartOfDay(asOf)
	var best Upcoming
	found := false
	for _, m := range p.Milestones {
		if m.Completed || m.StartDate == nil {
			continue
		}
		day, ok := domain.Day(*m.StartDate)
		if !ok || day.Before(floor) {
			continue
		}
		if !found || day.Before(best.Date) {
			best = Upcoming{Name: m.Name(), Date: day}
			found = true
		}
	}
	return best, found
}
