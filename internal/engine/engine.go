package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"formtrack/internal/config"
	"formtrack/internal/domain"
	"formtrack/internal/events"
	"formtrack/internal/repo"
)

type Engine struct {
	DB     *sql.DB
	Repo   repo.Repo
	Events events.Writer
	Config *config.Config
	Now    func() time.Time
}

func New(db *sql.DB, cfg *config.Config) Engine {
	return Engine{
		DB:     db,
		Repo:   repo.Repo{DB: db},
		Events: events.Writer{DB: db},
		Config: cfg,
		Now:    time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) nowRFC3339() string {
	return e.now().UTC().Format(time.RFC3339)
}

// CreateProject registers a municipality implementation project. All nine
// schedule slots are seeded unscheduled and incomplete.
func (e Engine) CreateProject(ctx context.Context, municipality, region, actorID string) (domain.Project, error) {
	if municipality == "" {
		return domain.Project{}, errors.New("municipality is required")
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Project{}, err
	}
	defer tx.Rollback()

	p := domain.Project{
		ID:           uuid.NewString(),
		Municipality: municipality,
		Region:       region,
		CreatedAt:    e.nowRFC3339(),
		Milestones:   domain.NewMilestones(),
	}
	if err := e.Repo.InsertProject(ctx, tx, p); err != nil {
		return domain.Project{}, fmt.Errorf("insert project: %w", err)
	}
	if err := e.Events.Append(ctx, tx, "project.create", "project", p.ID, actorID, events.EventPayload{"municipality": p.Municipality}); err != nil {
		return domain.Project{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Project{}, err
	}
	return p, nil
}

// UpdateMilestone reschedules or completes one slot of a project's schedule.
func (e Engine) UpdateMilestone(ctx context.Context, projectID string, kind domain.MilestoneKind, seq int, u repo.MilestoneUpdate, actorID string) (domain.Project, error) {
	if err := validateSlot(kind, seq); err != nil {
		return domain.Project{}, err
	}
	if u.StartDate != nil && *u.StartDate != "" {
		if _, err := time.Parse(time.RFC3339, *u.StartDate); err != nil {
			return domain.Project{}, fmt.Errorf("invalid start_date: %w", err)
		}
	}
	if u.EndDate != nil && *u.EndDate != "" {
		if _, err := time.Parse(time.RFC3339, *u.EndDate); err != nil {
			return domain.Project{}, fmt.Errorf("invalid end_date: %w", err)
		}
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Project{}, err
	}
	defer tx.Rollback()

	if err := e.Repo.UpdateMilestone(ctx, tx, projectID, kind, seq, u); err != nil {
		return domain.Project{}, err
	}
	name := domain.Milestone{Kind: kind, Seq: seq}.Name()
	payload := events.EventPayload{"milestone": name}
	if u.Completed != nil {
		payload["completed"] = *u.Completed
	}
	if err := e.Events.Append(ctx, tx, "project.milestone", "project", projectID, actorID, payload); err != nil {
		return domain.Project{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Project{}, err
	}
	return e.Repo.GetProject(ctx, projectID)
}

func validateSlot(kind domain.MilestoneKind, seq int) error {
	switch kind {
	case domain.KindDiagnostic:
		if seq != 0 {
			return fmt.Errorf("diagnostic has a single slot")
		}
	case domain.KindSimulado:
		if seq < 1 || seq > domain.SimuladoSlots {
			return fmt.Errorf("simulado seq must be 1..%d", domain.SimuladoSlots)
		}
	case domain.KindDevolutiva:
		if seq < 1 || seq > domain.DevolutivaSlots {
			return fmt.Errorf("devolutiva seq must be 1..%d", domain.DevolutivaSlots)
		}
	default:
		return fmt.Errorf("unknown milestone kind %q", kind)
	}
	return nil
}

func (e Engine) CreateTrainer(ctx context.Context, name, email, municipality, actorID string) (domain.Trainer, error) {
	if name == "" {
		return domain.Trainer{}, errors.New("name is required")
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Trainer{}, err
	}
	defer tx.Rollback()

	t := domain.Trainer{
		ID:           uuid.NewString(),
		Name:         name,
		Email:        email,
		Municipality: municipality,
		Active:       true,
		CreatedAt:    e.nowRFC3339(),
	}
	if err := e.Repo.InsertTrainer(ctx, tx, t); err != nil {
		return domain.Trainer{}, fmt.Errorf("insert trainer: %w", err)
	}
	if err := e.Events.Append(ctx, tx, "trainer.create", "trainer", t.ID, actorID, events.EventPayload{"name": t.Name}); err != nil {
		return domain.Trainer{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Trainer{}, err
	}
	return t, nil
}

func (e Engine) SetTrainerActive(ctx context.Context, trainerID string, active bool, actorID string) (domain.Trainer, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Trainer{}, err
	}
	defer tx.Rollback()

	if err := e.Repo.SetTrainerActive(ctx, tx, trainerID, active); err != nil {
		return domain.Trainer{}, err
	}
	if err := e.Events.Append(ctx, tx, "trainer.active", "trainer", trainerID, actorID, events.EventPayload{"active": active}); err != nil {
		return domain.Trainer{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Trainer{}, err
	}
	return e.Repo.GetTrainer(ctx, trainerID)
}

// TrainingCreateOptions are parameters for creating a training session.
type TrainingCreateOptions struct {
	Title        string
	Municipality string
	TrainerID    string
	StartDate    string
	EndDate      string
	ActorID      string
}

func (e Engine) CreateTraining(ctx context.Context, opts TrainingCreateOptions) (domain.Training, error) {
	if opts.Title == "" {
		return domain.Training{}, errors.New("title is required")
	}
	for _, d := range []string{opts.StartDate, opts.EndDate} {
		if d == "" {
			continue
		}
		if _, err := time.Parse(time.RFC3339, d); err != nil {
			return domain.Training{}, fmt.Errorf("invalid date %q: %w", d, err)
		}
	}
	if opts.TrainerID != "" {
		if _, err := e.Repo.GetTrainer(ctx, opts.TrainerID); err != nil {
			return domain.Training{}, fmt.Errorf("trainer %s: %w", opts.TrainerID, err)
		}
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Training{}, err
	}
	defer tx.Rollback()

	now := e.nowRFC3339()
	t := domain.Training{
		ID:           uuid.NewString(),
		Title:        opts.Title,
		Municipality: opts.Municipality,
		Status:       domain.StatusPreparation,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if opts.TrainerID != "" {
		t.TrainerID = &opts.TrainerID
	}
	if opts.StartDate != "" {
		t.StartDate = &opts.StartDate
	}
	if opts.EndDate != "" {
		t.EndDate = &opts.EndDate
	}
	if err := e.Repo.InsertTraining(ctx, tx, t); err != nil {
		return domain.Training{}, fmt.Errorf("insert training: %w", err)
	}
	if err := e.Events.Append(ctx, tx, "training.create", "training", t.ID, opts.ActorID, events.EventPayload{"title": t.Title, "status": string(t.Status)}); err != nil {
		return domain.Training{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Training{}, err
	}
	return t, nil
}

// SetTrainingStatus moves a training to a new lifecycle status and, when the
// configuration carries an automation rule for that status, spawns the
// follow-up task. The status change commits on its own: a failure while
// creating the task leaves the new status in place and is reported to the
// caller so the task can be created by hand.
func (e Engine) SetTrainingStatus(ctx context.Context, trainingID string, status domain.TrainingStatus, actorID string) (domain.Training, *domain.Task, error) {
	if !status.Valid() {
		return domain.Training{}, nil, fmt.Errorf("unknown training status %q", status)
	}
	t, err := e.Repo.GetTraining(ctx, trainingID)
	if err != nil {
		return domain.Training{}, nil, err
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Training{}, nil, err
	}
	defer tx.Rollback()

	now := e.nowRFC3339()
	if err := e.Repo.UpdateTrainingStatus(ctx, tx, trainingID, status, now); err != nil {
		return domain.Training{}, nil, err
	}
	if err := e.Events.Append(ctx, tx, "training.status", "training", trainingID, actorID, events.EventPayload{
		"from": string(t.Status), "to": string(status),
	}); err != nil {
		return domain.Training{}, nil, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Training{}, nil, err
	}
	t.Status = status
	t.UpdatedAt = now

	rule, ok := e.ruleFor(status)
	if !ok {
		return t, nil, nil
	}
	task, err := e.spawnAutomatedTask(ctx, t, status, rule, actorID)
	if err != nil {
		return t, nil, fmt.Errorf("status updated but automated task failed: %w", err)
	}
	return t, task, nil
}

func (e Engine) ruleFor(status domain.TrainingStatus) (config.AutomationRule, bool) {
	if e.Config == nil {
		return config.AutomationRule{}, false
	}
	return e.Config.Rule(status)
}

// spawnAutomatedTask creates the rule's task unless one already exists for
// this (training, trigger) pair. The OR IGNORE insert backed by the partial
// unique index makes the check race-free: a concurrent duplicate simply
// writes no row.
func (e Engine) spawnAutomatedTask(ctx context.Context, t domain.Training, status domain.TrainingStatus, rule config.AutomationRule, actorID string) (*domain.Task, error) {
	if _, err := e.Repo.FindAutomatedTask(ctx, t.ID, status); err == nil {
		return nil, nil
	} else if !errors.Is(err, repo.ErrNotFound) {
		return nil, err
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	now := e.now().UTC()
	due := now.AddDate(0, 0, rule.DueDays()).Format(time.RFC3339)
	trigger := status
	task := domain.Task{
		ID:          uuid.NewString(),
		Description: rule.Describe(t.Title),
		Status:      domain.TaskPending,
		Priority:    domain.PriorityNormal,
		DueDate:     &due,
		Origin:      domain.OriginAutomatic,
		TrainingID:  &t.ID,
		Trigger:     &trigger,
		CreatedAt:   now.Format(time.RFC3339),
		UpdatedAt:   now.Format(time.RFC3339),
	}
	if actorID != "" {
		task.ResponsibleID = &actorID
	}
	inserted, err := e.Repo.InsertAutomatedTask(ctx, tx, task)
	if err != nil {
		return nil, fmt.Errorf("insert automated task: %w", err)
	}
	if !inserted {
		return nil, nil
	}
	if err := e.Events.Append(ctx, tx, "task.create", "task", task.ID, actorID, events.EventPayload{
		"origin": string(task.Origin), "training_id": t.ID, "trigger": string(status),
	}); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return &task, nil
}

// ManualTaskOptions are parameters for creating a manual task.
type ManualTaskOptions struct {
	Description   string
	Priority      string
	DueDate       string
	ProjectID     string
	TrainingID    string
	ResponsibleID string
	ActorID       string
}

func (e Engine) CreateTask(ctx context.Context, opts ManualTaskOptions) (domain.Task, error) {
	if opts.Description == "" {
		return domain.Task{}, errors.New("description is required")
	}
	priority := domain.PriorityNormal
	if opts.Priority != "" {
		priority = domain.Priority(opts.Priority)
		if priority != domain.PriorityNormal && priority != domain.PriorityUrgent {
			return domain.Task{}, fmt.Errorf("unknown priority %q", opts.Priority)
		}
	}
	if opts.DueDate != "" {
		if _, err := time.Parse(time.RFC3339, opts.DueDate); err != nil {
			return domain.Task{}, fmt.Errorf("invalid due_date: %w", err)
		}
	}
	if opts.ProjectID != "" {
		if _, err := e.Repo.GetProject(ctx, opts.ProjectID); err != nil {
			return domain.Task{}, fmt.Errorf("project %s: %w", opts.ProjectID, err)
		}
	}
	if opts.TrainingID != "" {
		if _, err := e.Repo.GetTraining(ctx, opts.TrainingID); err != nil {
			return domain.Task{}, fmt.Errorf("training %s: %w", opts.TrainingID, err)
		}
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Task{}, err
	}
	defer tx.Rollback()

	now := e.nowRFC3339()
	task := domain.Task{
		ID:          uuid.NewString(),
		Description: opts.Description,
		Status:      domain.TaskPending,
		Priority:    priority,
		Origin:      domain.OriginManual,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if opts.DueDate != "" {
		task.DueDate = &opts.DueDate
	}
	if opts.ProjectID != "" {
		task.ProjectID = &opts.ProjectID
	}
	if opts.TrainingID != "" {
		task.TrainingID = &opts.TrainingID
	}
	if opts.ResponsibleID != "" {
		task.ResponsibleID = &opts.ResponsibleID
	}
	if err := e.Repo.InsertTask(ctx, tx, task); err != nil {
		return domain.Task{}, fmt.Errorf("insert task: %w", err)
	}
	if err := e.Events.Append(ctx, tx, "task.create", "task", task.ID, opts.ActorID, events.EventPayload{"origin": string(task.Origin)}); err != nil {
		return domain.Task{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Task{}, err
	}
	return task, nil
}

func (e Engine) UpdateTaskStatus(ctx context.Context, taskID string, status domain.TaskStatus, actorID string) (domain.Task, error) {
	if !status.Valid() {
		return domain.Task{}, fmt.Errorf("unknown task status %q", status)
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Task{}, err
	}
	defer tx.Rollback()

	now := e.nowRFC3339()
	if err := e.Repo.UpdateTaskStatus(ctx, tx, taskID, status, now); err != nil {
		return domain.Task{}, err
	}
	if err := e.Events.Append(ctx, tx, "task.status", "task", taskID, actorID, events.EventPayload{"to": string(status)}); err != nil {
		return domain.Task{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Task{}, err
	}
	return e.Repo.GetTask(ctx, taskID)
}

// ExpenseSubmitOptions are parameters for submitting a reimbursement request.
type ExpenseSubmitOptions struct {
	TrainerID   string
	TrainingID  string
	AmountCents int64
	Description string
	ActorID     string
}

func (e Engine) SubmitExpense(ctx context.Context, opts ExpenseSubmitOptions) (domain.Expense, error) {
	if opts.TrainerID == "" {
		return domain.Expense{}, errors.New("trainer is required")
	}
	if opts.AmountCents <= 0 {
		return domain.Expense{}, errors.New("amount must be positive")
	}
	if _, err := e.Repo.GetTrainer(ctx, opts.TrainerID); err != nil {
		return domain.Expense{}, fmt.Errorf("trainer %s: %w", opts.TrainerID, err)
	}
	if opts.TrainingID != "" {
		if _, err := e.Repo.GetTraining(ctx, opts.TrainingID); err != nil {
			return domain.Expense{}, fmt.Errorf("training %s: %w", opts.TrainingID, err)
		}
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Expense{}, err
	}
	defer tx.Rollback()

	exp := domain.Expense{
		ID:          uuid.NewString(),
		TrainerID:   opts.TrainerID,
		AmountCents: opts.AmountCents,
		Description: opts.Description,
		Status:      domain.ExpenseSubmitted,
		SubmittedAt: e.nowRFC3339(),
	}
	if opts.TrainingID != "" {
		exp.TrainingID = &opts.TrainingID
	}
	if err := e.Repo.InsertExpense(ctx, tx, exp); err != nil {
		return domain.Expense{}, fmt.Errorf("insert expense: %w", err)
	}
	if err := e.Events.Append(ctx, tx, "expense.submit", "expense", exp.ID, opts.ActorID, events.EventPayload{
		"trainer_id": exp.TrainerID, "amount_cents": exp.AmountCents,
	}); err != nil {
		return domain.Expense{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Expense{}, err
	}
	return exp, nil
}

// ReviewExpense advances an expense along its review flow. Allowed moves:
// submitted to approved or rejected, approved to reimbursed.
func (e Engine) ReviewExpense(ctx context.Context, expenseID string, to domain.ExpenseStatus, actorID string) (domain.Expense, error) {
	exp, err := e.Repo.GetExpense(ctx, expenseID)
	if err != nil {
		return domain.Expense{}, err
	}
	if err := ensureExpenseTransition(exp.Status, to); err != nil {
		return domain.Expense{}, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Expense{}, err
	}
	defer tx.Rollback()

	now := e.nowRFC3339()
	if err := e.Repo.UpdateExpenseStatus(ctx, tx, expenseID, to, now); err != nil {
		return domain.Expense{}, err
	}
	if err := e.Events.Append(ctx, tx, "expense.review", "expense", expenseID, actorID, events.EventPayload{
		"from": string(exp.Status), "to": string(to),
	}); err != nil {
		return domain.Expense{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Expense{}, err
	}
	exp.Status = to
	exp.ReviewedAt = &now
	return exp, nil
}

func ensureExpenseTransition(from, to domain.ExpenseStatus) error {
	switch from {
	case domain.ExpenseSubmitted:
		if to == domain.ExpenseApproved || to == domain.ExpenseRejected {
			return nil
		}
	case domain.ExpenseApproved:
		if to == domain.ExpenseReimbursed {
			return nil
		}
	}
	return fmt.Errorf("cannot move expense from %s to %s", from, to)
}
