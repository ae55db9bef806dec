package domain

import (
	"fmt"
	"time"
)

// TrainingStatus is the closed set of training lifecycle states. The same
// type doubles as the trigger key recorded on automatically created tasks,
// so a task trigger can never drift from the status that produced it.
type TrainingStatus string

const (
	StatusPreparation  TrainingStatus = "preparation"
	StatusInTraining   TrainingStatus = "in_training"
	StatusPostTraining TrainingStatus = "post_training"
	StatusCompleted    TrainingStatus = "completed"
	StatusArchived     TrainingStatus = "archived"
)

// Valid reports whether s is one of the known training statuses.
func (s TrainingStatus) Valid() bool {
	switch s {
	case StatusPreparation, StatusInTraining, StatusPostTraining, StatusCompleted, StatusArchived:
		return true
	}
	return false
}

type TaskStatus string

const (
	TaskPending       TaskStatus = "pending"
	TaskInProgress    TaskStatus = "in_progress"
	TaskDone          TaskStatus = "done"
	TaskAwaitingReply TaskStatus = "awaiting_reply"
)

func (s TaskStatus) Valid() bool {
	switch s {
	case TaskPending, TaskInProgress, TaskDone, TaskAwaitingReply:
		return true
	}
	return false
}

type Priority string

const (
	PriorityNormal Priority = "normal"
	PriorityUrgent Priority = "urgent"
)

type Origin string

const (
	OriginManual    Origin = "manual"
	OriginAutomatic Origin = "automatic"
)

type ExpenseStatus string

const (
	ExpenseSubmitted  ExpenseStatus = "submitted"
	ExpenseApproved   ExpenseStatus = "approved"
	ExpenseRejected   ExpenseStatus = "rejected"
	ExpenseReimbursed ExpenseStatus = "reimbursed"
)

type MilestoneKind string

const (
	KindDiagnostic MilestoneKind = "diagnostic"
	KindSimulado   MilestoneKind = "simulado"
	KindDevolutiva MilestoneKind = "devolutiva"
)

const (
	SimuladoSlots   = 4
	DevolutivaSlots = 4
)

// Milestone is one slot of a project's fixed schedule. A slot with no start
// date is not yet scheduled; it still counts against completion.
type Milestone struct {
	Kind      MilestoneKind `json:"kind" enum:"diagnostic,simulado,devolutiva"`
	Seq       int           `json:"seq"`
	StartDate *string       `json:"start_date,omitempty" format:"date-time"`
	EndDate   *string       `json:"end_date,omitempty" format:"date-time"`
	Completed bool          `json:"completed"`
}

// Name returns the stable slot key, e.g. "diagnostic" or "simulado-2".
func (m Milestone) Name() string {
	if m.Kind == KindDiagnostic {
		return string(KindDiagnostic)
	}
	return fmt.Sprintf("%s-%d", m.Kind, m.Seq)
}

// NewMilestones returns the nine slots of a fresh project in canonical
// order: diagnostic, then simulado 1-4, then devolutiva 1-4.
func NewMilestones() []Milestone {
	slots := make([]Milestone, 0, 1+SimuladoSlots+DevolutivaSlots)
	slots = append(slots, Milestone{Kind: KindDiagnostic})
	for i := 1; i <= SimuladoSlots; i++ {
		slots = append(slots, Milestone{Kind: KindSimulado, Seq: i})
	}
	for i := 1; i <= DevolutivaSlots; i++ {
		slots = append(slots, Milestone{Kind: KindDevolutiva, Seq: i})
	}
	return slots
}

type Project struct {
	ID           string      `json:"id"`
	Municipality string      `json:"municipality"`
	Region       string      `json:"region,omitempty"`
	CreatedAt    string      `json:"created_at" format:"date-time"`
	Milestones   []Milestone `json:"milestones"`
}

type Trainer struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Email        string `json:"email,omitempty"`
	Municipality string `json:"municipality,omitempty"`
	Active       bool   `json:"active"`
	CreatedAt    string `json:"created_at" format:"date-time"`
}

type Training struct {
	ID           string         `json:"id"`
	Title        string         `json:"title"`
	Municipality string         `json:"municipality,omitempty"`
	TrainerID    *string        `json:"trainer_id,omitempty"`
	Status       TrainingStatus `json:"status" enum:"preparation,in_training,post_training,completed,archived"`
	StartDate    *string        `json:"start_date,omitempty" format:"date-time"`
	EndDate      *string        `json:"end_date,omitempty" format:"date-time"`
	CreatedAt    string         `json:"created_at" format:"date-time"`
	UpdatedAt    string         `json:"updated_at" format:"date-time"`
}

// Task is a follow-up work item ("demanda"). Automatic tasks carry the
// training that produced them plus the trigger status; the pair is unique.
type Task struct {
	ID            string          `json:"id"`
	Description   string          `json:"description"`
	Status        TaskStatus      `json:"status" enum:"pending,in_progress,done,awaiting_reply"`
	Priority      Priority        `json:"priority" enum:"normal,urgent"`
	DueDate       *string         `json:"due_date,omitempty" format:"date-time"`
	ProjectID     *string         `json:"project_id,omitempty"`
	ResponsibleID *string         `json:"responsible_id,omitempty"`
	Origin        Origin          `json:"origin" enum:"manual,automatic"`
	TrainingID    *string         `json:"training_id,omitempty"`
	Trigger       *TrainingStatus `json:"trigger,omitempty"`
	CreatedAt     string          `json:"created_at" format:"date-time"`
	UpdatedAt     string          `json:"updated_at" format:"date-time"`
}

type Expense struct {
	ID          string        `json:"id"`
	TrainerID   string        `json:"trainer_id"`
	TrainingID  *string       `json:"training_id,omitempty"`
	AmountCents int64         `json:"amount_cents"`
	Description string        `json:"description,omitempty"`
	Status      ExpenseStatus `json:"status" enum:"submitted,approved,rejected,reimbursed"`
	SubmittedAt string        `json:"submitted_at" format:"date-time"`
	ReviewedAt  *string       `json:"reviewed_at,omitempty" format:"date-time"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

type APIKey struct {
	ID        string `json:"id"`
	ActorID   string `json:"actor_id"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"key_hash"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

// Day parses an RFC3339 timestamp and truncates it to its UTC calendar day.
// Overdue/upcoming logic compares days, never raw instants.
func Day(ts string) (time.Time, bool) {
	t, err := time.Parse(time.RFC3339, ts)
	if err != nil {
		return time.Time{}, false
	}
	return StartOfDay(t), true
}

// StartOfDay returns midnight UTC of t's calendar day.
func StartOfDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
