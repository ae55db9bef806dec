package engine_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"formtrack/internal/config"
	"formtrack/internal/db"
	"formtrack/internal/domain"
	"formtrack/internal/engine"
	"formtrack/internal/migrate"
	"formtrack/internal/repo"
)

var testNow = time.Date(2026, 4, 15, 10, 0, 0, 0, time.UTC)

type testEnv struct {
	Engine engine.Engine
	Ctx    context.Context
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	cfg := config.Default("prog-1")
	eng := engine.New(conn, cfg)
	eng.Now = func() time.Time { return testNow }
	return testEnv{Engine: eng, Ctx: context.Background()}
}

func TestProjectSeedsFullSchedule(t *testing.T) {
	env := newTestEnv(t)
	p, err := env.Engine.CreateProject(env.Ctx, "Aurora", "Norte", "tester")
	if err != nil {
		t.Fatalf("create project: %v", err)
	}
	stored, err := env.Engine.Repo.GetProject(env.Ctx, p.ID)
	if err != nil {
		t.Fatalf("get project: %v", err)
	}
	if len(stored.Milestones) != 9 {
		t.Fatalf("milestones = %d, want 9", len(stored.Milestones))
	}
	wantNames := []string{
		"diagnostic",
		"simulado-1", "simulado-2", "simulado-3", "simulado-4",
		"devolutiva-1", "devolutiva-2", "devolutiva-3", "devolutiva-4",
	}
	for i, m := range stored.Milestones {
		if m.Name() != wantNames[i] {
			t.Fatalf("slot %d = %s, want %s", i, m.Name(), wantNames[i])
		}
		if m.Completed || m.StartDate != nil {
			t.Fatalf("slot %s not seeded empty", m.Name())
		}
	}
}

func TestMilestoneUpdate(t *testing.T) {
	env := newTestEnv(t)
	p, err := env.Engine.CreateProject(env.Ctx, "Aurora", "", "tester")
	if err != nil {
		t.Fatal(err)
	}
	start := "2026-05-01T09:00:00Z"
	completed := true
	updated, err := env.Engine.UpdateMilestone(env.Ctx, p.ID, domain.KindSimulado, 2, repo.MilestoneUpdate{
		StartDate: &start,
		Completed: &completed,
	}, "tester")
	if err != nil {
		t.Fatalf("update milestone: %v", err)
	}
	slot := updated.Milestones[2]
	if slot.Name() != "simulado-2" || !slot.Completed || slot.StartDate == nil || *slot.StartDate != start {
		t.Fatalf("slot after update = %+v", slot)
	}

	if _, err := env.Engine.UpdateMilestone(env.Ctx, p.ID, domain.KindSimulado, 9, repo.MilestoneUpdate{Completed: &completed}, "tester"); err == nil {
		t.Fatal("expected slot range error")
	}
	if _, err := env.Engine.UpdateMilestone(env.Ctx, p.ID, "prova", 1, repo.MilestoneUpdate{Completed: &completed}, "tester"); err == nil {
		t.Fatal("expected unknown kind error")
	}
	_, err = env.Engine.UpdateMilestone(env.Ctx, "missing", domain.KindDiagnostic, 0, repo.MilestoneUpdate{Completed: &completed}, "tester")
	if !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("missing project err = %v, want ErrNotFound", err)
	}
}

func TestAutomationSpawnsTaskOnce(t *testing.T) {
	env := newTestEnv(t)
	tr, err := env.Engine.CreateTraining(env.Ctx, engine.TrainingCreateOptions{Title: "Oficina 1", ActorID: "tester"})
	if err != nil {
		t.Fatalf("create training: %v", err)
	}
	if tr.Status != domain.StatusPreparation {
		t.Fatalf("initial status = %s", tr.Status)
	}

	updated, task, err := env.Engine.SetTrainingStatus(env.Ctx, tr.ID, domain.StatusPostTraining, "tester")
	if err != nil {
		t.Fatalf("set status: %v", err)
	}
	if updated.Status != domain.StatusPostTraining {
		t.Fatalf("status = %s", updated.Status)
	}
	if task == nil {
		t.Fatal("expected automated task")
	}
	if task.Origin != domain.OriginAutomatic || task.Trigger == nil || *task.Trigger != domain.StatusPostTraining {
		t.Fatalf("task trigger = %+v", task)
	}
	if task.Description != "Enviar relatório de despesas e presença: Oficina 1" {
		t.Fatalf("task description = %q", task.Description)
	}
	wantDue := testNow.AddDate(0, 0, 2).Format(time.RFC3339)
	if task.DueDate == nil || *task.DueDate != wantDue {
		t.Fatalf("due = %v, want %s", task.DueDate, wantDue)
	}

	// repeat move: status stands, no second task
	_, again, err := env.Engine.SetTrainingStatus(env.Ctx, tr.ID, domain.StatusPostTraining, "tester")
	if err != nil {
		t.Fatalf("repeat set status: %v", err)
	}
	if again != nil {
		t.Fatal("duplicate automated task created")
	}
	tasks, err := env.Engine.Repo.ListTasks(env.Ctx, repo.TaskFilters{TrainingID: tr.ID, Origin: "automatic"})
	if err != nil {
		t.Fatal(err)
	}
	if len(tasks) != 1 {
		t.Fatalf("automatic tasks = %d, want 1", len(tasks))
	}

	// a different trigger spawns its own task
	_, done, err := env.Engine.SetTrainingStatus(env.Ctx, tr.ID, domain.StatusCompleted, "tester")
	if err != nil {
		t.Fatal(err)
	}
	if done == nil || done.Description != "Enviar e-mail de agradecimento e feedback: Oficina 1" {
		t.Fatalf("completed task = %+v", done)
	}
}

func TestStatusWithoutRuleSpawnsNothing(t *testing.T) {
	env := newTestEnv(t)
	tr, err := env.Engine.CreateTraining(env.Ctx, engine.TrainingCreateOptions{Title: "Oficina 2", ActorID: "tester"})
	if err != nil {
		t.Fatal(err)
	}
	for _, status := range []domain.TrainingStatus{domain.StatusInTraining, domain.StatusArchived} {
		updated, task, err := env.Engine.SetTrainingStatus(env.Ctx, tr.ID, status, "tester")
		if err != nil {
			t.Fatalf("set %s: %v", status, err)
		}
		if updated.Status != status {
			t.Fatalf("status = %s, want %s", updated.Status, status)
		}
		if task != nil {
			t.Fatalf("status %s must not spawn a task", status)
		}
	}
}

func TestUnknownTrainingStatusRejected(t *testing.T) {
	env := newTestEnv(t)
	tr, err := env.Engine.CreateTraining(env.Ctx, engine.TrainingCreateOptions{Title: "Oficina 3", ActorID: "tester"})
	if err != nil {
		t.Fatal(err)
	}
	if _, _, err := env.Engine.SetTrainingStatus(env.Ctx, tr.ID, "cancelled", "tester"); err == nil {
		t.Fatal("expected unknown status error")
	}
	stored, err := env.Engine.Repo.GetTraining(env.Ctx, tr.ID)
	if err != nil {
		t.Fatal(err)
	}
	if stored.Status != domain.StatusPreparation {
		t.Fatalf("status changed to %s on rejected input", stored.Status)
	}
}

func TestSetTrainingStatusNotFound(t *testing.T) {
	env := newTestEnv(t)
	_, _, err := env.Engine.SetTrainingStatus(env.Ctx, "missing", domain.StatusCompleted, "tester")
	if !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestManualTaskValidation(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.Engine.CreateTask(env.Ctx, engine.ManualTaskOptions{ActorID: "tester"}); err == nil {
		t.Fatal("expected description required error")
	}
	if _, err := env.Engine.CreateTask(env.Ctx, engine.ManualTaskOptions{Description: "x", Priority: "asap", ActorID: "tester"}); err == nil {
		t.Fatal("expected priority error")
	}
	_, err := env.Engine.CreateTask(env.Ctx, engine.ManualTaskOptions{Description: "x", TrainingID: "missing", ActorID: "tester"})
	if !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("missing training err = %v", err)
	}

	task, err := env.Engine.CreateTask(env.Ctx, engine.ManualTaskOptions{
		Description: "Ligar para a secretaria",
		Priority:    "urgent",
		DueDate:     "2026-04-20T00:00:00Z",
		ActorID:     "tester",
	})
	if err != nil {
		t.Fatalf("create task: %v", err)
	}
	if task.Origin != domain.OriginManual || task.Priority != domain.PriorityUrgent || task.Status != domain.TaskPending {
		t.Fatalf("task = %+v", task)
	}

	moved, err := env.Engine.UpdateTaskStatus(env.Ctx, task.ID, domain.TaskAwaitingReply, "tester")
	if err != nil || moved.Status != domain.TaskAwaitingReply {
		t.Fatalf("move status: %v (%+v)", err, moved)
	}
	if _, err := env.Engine.UpdateTaskStatus(env.Ctx, task.ID, "paused", "tester"); err == nil {
		t.Fatal("expected unknown task status error")
	}
}

func TestExpenseFlow(t *testing.T) {
	env := newTestEnv(t)
	trainer, err := env.Engine.CreateTrainer(env.Ctx, "Joana", "joana@example.org", "Aurora", "tester")
	if err != nil {
		t.Fatalf("create trainer: %v", err)
	}

	if _, err := env.Engine.SubmitExpense(env.Ctx, engine.ExpenseSubmitOptions{TrainerID: trainer.ID, AmountCents: 0, ActorID: "tester"}); err == nil {
		t.Fatal("expected positive amount error")
	}
	if _, err := env.Engine.SubmitExpense(env.Ctx, engine.ExpenseSubmitOptions{TrainerID: "missing", AmountCents: 100, ActorID: "tester"}); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("missing trainer err = %v", err)
	}

	exp, err := env.Engine.SubmitExpense(env.Ctx, engine.ExpenseSubmitOptions{
		TrainerID:   trainer.ID,
		AmountCents: 12550,
		Description: "Passagem de ônibus",
		ActorID:     "tester",
	})
	if err != nil {
		t.Fatalf("submit expense: %v", err)
	}
	if exp.Status != domain.ExpenseSubmitted {
		t.Fatalf("status = %s", exp.Status)
	}

	// submitted cannot be reimbursed directly
	if _, err := env.Engine.ReviewExpense(env.Ctx, exp.ID, domain.ExpenseReimbursed, "tester"); err == nil {
		t.Fatal("expected transition error")
	}

	approved, err := env.Engine.ReviewExpense(env.Ctx, exp.ID, domain.ExpenseApproved, "tester")
	if err != nil || approved.Status != domain.ExpenseApproved {
		t.Fatalf("approve: %v (%+v)", err, approved)
	}
	if approved.ReviewedAt == nil {
		t.Fatal("reviewed_at not set")
	}
	reimbursed, err := env.Engine.ReviewExpense(env.Ctx, exp.ID, domain.ExpenseReimbursed, "tester")
	if err != nil || reimbursed.Status != domain.ExpenseReimbursed {
		t.Fatalf("reimburse: %v (%+v)", err, reimbursed)
	}
	// terminal
	if _, err := env.Engine.ReviewExpense(env.Ctx, exp.ID, domain.ExpenseApproved, "tester"); err == nil {
		t.Fatal("expected terminal state error")
	}

	rejected, err := env.Engine.SubmitExpense(env.Ctx, engine.ExpenseSubmitOptions{TrainerID: trainer.ID, AmountCents: 500, ActorID: "tester"})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.ReviewExpense(env.Ctx, rejected.ID, domain.ExpenseRejected, "tester"); err != nil {
		t.Fatalf("reject: %v", err)
	}
	if _, err := env.Engine.ReviewExpense(env.Ctx, rejected.ID, domain.ExpenseReimbursed, "tester"); err == nil {
		t.Fatal("rejected expense must not move")
	}
}

func TestEventsRecorded(t *testing.T) {
	env := newTestEnv(t)
	tr, err := env.Engine.CreateTraining(env.Ctx, engine.TrainingCreateOptions{Title: "Oficina 4", ActorID: "tester"})
	if err != nil {
		t.Fatal(err)
	}
	if _, _, err := env.Engine.SetTrainingStatus(env.Ctx, tr.ID, domain.StatusPostTraining, "tester"); err != nil {
		t.Fatal(err)
	}
	events, err := env.Engine.Repo.LatestEvents(env.Ctx, 10, "training.status", "", "")
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 1 {
		t.Fatalf("training.status events = %d, want 1", len(events))
	}
	if events[0].EntityID != tr.ID || events[0].ActorID != "tester" {
		t.Fatalf("event = %+v", events[0])
	}
	taskEvents, err := env.Engine.Repo.LatestEvents(env.Ctx, 10, "task.create", "", "")
	if err != nil {
		t.Fatal(err)
	}
	if len(taskEvents) != 1 {
		t.Fatalf("task.create events = %d, want 1", len(taskEvents))
	}
}
