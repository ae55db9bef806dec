// Package overview joins projects, tasks, and trainings into the enriched
// views behind the dashboard and reports. It works over an in-memory
// snapshot fetched by the caller; nothing here touches storage.
package overview

import (
	"fmt"
	"sort"
	"time"

	"formtrack/internal/domain"
	"formtrack/internal/milestone"
)

// DefaultCriticalLimit caps each critical-task list.
const DefaultCriticalLimit = 5

// DefaultHorizonDays is the week-ahead window size.
const DefaultHorizonDays = 7

// Snapshot is one consistent read of all entities. Views are recomputed
// from a fresh snapshot after a write completes, never incrementally.
type Snapshot struct {
	Projects  []domain.Project
	Tasks     []domain.Task
	Trainings []domain.Training
}

// ProjectView is a project enriched with schedule and task-load state.
type ProjectView struct {
	domain.Project
	Completion   float64             `json:"completion"`
	Next         *milestone.Upcoming `json:"next_milestone,omitempty"`
	TaskCount    int                 `json:"task_count"`
	UrgentCount  int                 `json:"urgent_count"`
	OverdueCount int                 `json:"overdue_count"`
}

// ProjectViews builds one view per project, in input order.
func ProjectViews(snap Snapshot, today time.Time) []ProjectView {
	floor := domain.StartOfDay(today)
	views := make([]ProjectView, 0, len(snap.Projects))
	for _, p := range snap.Projects {
		v := ProjectView{
			Project:    p,
			Completion: milestone.CompletionRatio(p),
		}
		if next, ok := milestone.Next(p, today); ok {
			v.Next = &next
		}
		for _, t := range snap.Tasks {
			if t.ProjectID == nil || *t.ProjectID != p.ID {
				continue
			}
			v.TaskCount++
			if t.Priority == domain.PriorityUrgent {
				v.UrgentCount++
			}
			if overdue(t, floor) {
				v.OverdueCount++
			}
		}
		views = append(views, v)
	}
	return views
}

// NeedingAttention orders views by urgent+overdue load, heaviest first.
// The sort is stable; ties keep snapshot order.
func NeedingAttention(views []ProjectView) []ProjectView {
	out := make([]ProjectView, len(views))
	copy(out, views)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].UrgentCount+out[i].OverdueCount > out[j].UrgentCount+out[j].OverdueCount
	})
	return out
}

// CriticalTasks are the two disjoint attention lists: urgent open tasks,
// and overdue tasks that are not urgent. A task that is both urgent and
// overdue appears only under Urgent.
type CriticalTasks struct {
	Urgent  []domain.Task `json:"urgent"`
	Overdue []domain.Task `json:"overdue"`
}

// Critical builds the critical-task lists, each capped at limit entries and
// sorted ascending by due date with undated tasks last.
func Critical(tasks []domain.Task, today time.Time, limit int) CriticalTasks {
	if limit <= 0 {
		limit = DefaultCriticalLimit
	}
	floor := domain.StartOfDay(today)
	var urgent, late []domain.Task
	for _, t := range tasks {
		if t.Status == domain.TaskDone {
			continue
		}
		switch {
		case t.Priority == domain.PriorityUrgent:
			urgent = append(urgent, t)
		case overdue(t, floor):
			late = append(late, t)
		}
	}
	sortByDue(urgent)
	sortByDue(late)
	return CriticalTasks{Urgent: clip(urgent, limit), Overdue: clip(late, limit)}
}

type EntryKind string

const (
	EntryTrainingStart    EntryKind = "training-start"
	EntryProjectMilestone EntryKind = "project-milestone"
)

// ScheduleEntry is one upcoming event on the week-ahead board.
type ScheduleEntry struct {
	Kind     EntryKind `json:"kind" enum:"training-start,project-milestone"`
	Date     time.Time `json:"date"`
	Label    string    `json:"label"`
	EntityID string    `json:"entity_id"`
}

// WeekAhead collects training starts and next project milestones falling in
// [today, today+horizonDays], both ends inclusive, sorted ascending by date.
func WeekAhead(snap Snapshot, today time.Time, horizonDays int) []ScheduleEntry {
	if horizonDays <= 0 {
		horizonDays = DefaultHorizonDays
	}
	floor := domain.StartOfDay(today)
	ceil := floor.AddDate(0, 0, horizonDays)
	var entries []ScheduleEntry
	for _, tr := range snap.Trainings {
		if tr.StartDate == nil {
			continue
		}
		day, ok := domain.Day(*tr.StartDate)
		if !ok || day.Before(floor) || day.After(ceil) {
			continue
		}
		entries = append(entries, ScheduleEntry{
			Kind:     EntryTrainingStart,
			Date:     day,
			Label:    tr.Title,
			EntityID: tr.ID,
		})
	}
	for _, p := range snap.Projects {
		next, ok := milestone.Next(p, today)
		if !ok || next.Date.Before(floor) || next.Date.After(ceil) {
			continue
		}
		entries = append(entries, ScheduleEntry{
			Kind:     EntryProjectMilestone,
			Date:     next.Date,
			Label:    fmt.Sprintf("%s: %s", p.Municipality, next.Name),
			EntityID: p.ID,
		})
	}
	sort.SliceStable(entries, func(i, j int) bool { return entries[i].Date.Before(entries[j].Date) })
	return entries
}

// overdue reports whether the task's due day is strictly before floor.
// A task due exactly today is never overdue.
func overdue(t domain.Task, floor time.Time) bool {
	if t.DueDate == nil {
		return false
	}
	day, ok := domain.Day(*t.DueDate)
	return ok && day.Before(floor)
}

func sortByDue(tasks []domain.Task) {
	sort.SliceStable(tasks, func(i, j int) bool {
		di, dj := tasks[i].DueDate, tasks[j].DueDate
		switch {
		case di == nil:
			return false
		case dj == nil:
			return true
		}
		ti, iok := domain.Day(*di)
		tj, jok := domain.Day(*dj)
		if !iok || !jok {
			return jok
		}
		return ti.Before(tj)
	})
}

func clip(tasks []domain.Task, limit int) []domain.Task {
	if len(tasks) > limit {
		return tasks[:limit]
	}
	return tasks
}
