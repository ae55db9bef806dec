package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"formtrack/internal/config"
	"formtrack/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

// milestoneOrder keeps slot reads in canonical schedule order:
// diagnostic first, then simulados, then devolutivas, by sequence.
const milestoneOrder = `ORDER BY CASE kind WHEN 'diagnostic' THEN 0 WHEN 'simulado' THEN 1 ELSE 2 END, seq`

func (r Repo) InsertProject(ctx context.Context, tx *sql.Tx, p domain.Project) error {
	if _, err := tx.ExecContext(ctx, `INSERT INTO projects(id,municipality,region,created_at) VALUES (?,?,?,?)`,
		p.ID, p.Municipality, nullable(p.Region), p.CreatedAt); err != nil {
		return err
	}
	for _, m := range p.Milestones {
		if _, err := tx.ExecContext(ctx, `INSERT INTO project_milestones(project_id,kind,seq,start_date,end_date,completed) VALUES (?,?,?,?,?,?)`,
			p.ID, string(m.Kind), m.Seq, nullableStringPtr(m.StartDate), nullableStringPtr(m.EndDate), boolToInt(m.Completed)); err != nil {
			return err
		}
	}
	return nil
}

func (r Repo) GetProject(ctx context.Context, id string) (domain.Project, error) {
	var p domain.Project
	var region sql.NullString
	err := r.DB.QueryRowContext(ctx, `SELECT id,municipality,region,created_at FROM projects WHERE id=?`, id).
		Scan(&p.ID, &p.Municipality, &region, &p.CreatedAt)
	if err == sql.ErrNoRows {
		return p, ErrNotFound
	}
	if err != nil {
		return p, err
	}
	if region.Valid {
		p.Region = region.String
	}
	p.Milestones, err = r.listMilestones(ctx, p.ID)
	return p, err
}

func (r Repo) ListProjects(ctx context.Context) ([]domain.Project, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,municipality,COALESCE(region,'') AS region,created_at FROM projects ORDER BY created_at DESC, id DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Project
	for rows.Next() {
		var p domain.Project
		if err := rows.Scan(&p.ID, &p.Municipality, &p.Region, &p.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(res) == 0 {
		return res, nil
	}
	slots, err := r.listAllMilestones(ctx)
	if err != nil {
		return nil, err
	}
	for i := range res {
		res[i].Milestones = slots[res[i].ID]
	}
	return res, nil
}

func (r Repo) DeleteProject(ctx context.Context, id string) error {
	res, err := r.DB.ExecContext(ctx, `DELETE FROM projects WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) listMilestones(ctx context.Context, projectID string) ([]domain.Milestone, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT kind,seq,start_date,end_date,completed FROM project_milestones WHERE project_id=? `+milestoneOrder, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Milestone
	for rows.Next() {
		m, err := scanMilestone(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, m)
	}
	return res, rows.Err()
}

func (r Repo) listAllMilestones(ctx context.Context) (map[string][]domain.Milestone, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT project_id,kind,seq,start_date,end_date,completed FROM project_milestones `+milestoneOrder)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := map[string][]domain.Milestone{}
	for rows.Next() {
		var projectID, kind string
		var seq, completed int
		var start, end sql.NullString
		if err := rows.Scan(&projectID, &kind, &seq, &start, &end, &completed); err != nil {
			return nil, err
		}
		m := domain.Milestone{Kind: domain.MilestoneKind(kind), Seq: seq, Completed: completed != 0}
		if start.Valid {
			m.StartDate = &start.String
		}
		if end.Valid {
			m.EndDate = &end.String
		}
		res[projectID] = append(res[projectID], m)
	}
	return res, rows.Err()
}

func scanMilestone(rows *sql.Rows) (domain.Milestone, error) {
	var m domain.Milestone
	var kind string
	var completed int
	var start, end sql.NullString
	if err := rows.Scan(&kind, &m.Seq, &start, &end, &completed); err != nil {
		return m, err
	}
	m.Kind = domain.MilestoneKind(kind)
	m.Completed = completed != 0
	if start.Valid {
		m.StartDate = &start.String
	}
	if end.Valid {
		m.EndDate = &end.String
	}
	return m, nil
}

// MilestoneUpdate carries the optional fields of a slot update. Nil fields
// are left untouched; setting a date to the empty string clears it.
type MilestoneUpdate struct {
	StartDate *string
	EndDate   *string
	Completed *bool
}

func (r Repo) UpdateMilestone(ctx context.Context, tx *sql.Tx, projectID string, kind domain.MilestoneKind, seq int, u MilestoneUpdate) error {
	var fields []string
	var args []any
	if u.StartDate != nil {
		fields = append(fields, "start_date=?")
		args = append(args, nullable(*u.StartDate))
	}
	if u.EndDate != nil {
		fields = append(fields, "end_date=?")
		args = append(args, nullable(*u.EndDate))
	}
	if u.Completed != nil {
		fields = append(fields, "completed=?")
		args = append(args, boolToInt(*u.Completed))
	}
	if len(fields) == 0 {
		return nil
	}
	args = append(args, projectID, string(kind), seq)
	res, err := tx.ExecContext(ctx, fmt.Sprintf(`UPDATE project_milestones SET %s WHERE project_id=? AND kind=? AND seq=?`, strings.Join(fields, ",")), args...)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) InsertTraining(ctx context.Context, tx *sql.Tx, t domain.Training) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO trainings(id,title,municipality,trainer_id,status,start_date,end_date,created_at,updated_at) VALUES (?,?,?,?,?,?,?,?,?)`,
		t.ID, t.Title, nullable(t.Municipality), nullableStringPtr(t.TrainerID), string(t.Status),
		nullableStringPtr(t.StartDate), nullableStringPtr(t.EndDate), t.CreatedAt, t.UpdatedAt)
	return err
}

func (r Repo) GetTraining(ctx context.Context, id string) (domain.Training, error) {
	var t domain.Training
	var municipality, trainerID, start, end sql.NullString
	var status string
	err := r.DB.QueryRowContext(ctx, `SELECT id,title,municipality,trainer_id,status,start_date,end_date,created_at,updated_at FROM trainings WHERE id=?`, id).
		Scan(&t.ID, &t.Title, &municipality, &trainerID, &status, &start, &end, &t.CreatedAt, &t.UpdatedAt)
	if err == sql.ErrNoRows {
		return t, ErrNotFound
	}
	if err != nil {
		return t, err
	}
	t.Status = domain.TrainingStatus(status)
	if municipality.Valid {
		t.Municipality = municipality.String
	}
	if trainerID.Valid {
		t.TrainerID = &trainerID.String
	}
	if start.Valid {
		t.StartDate = &start.String
	}
	if end.Valid {
		t.EndDate = &end.String
	}
	return t, nil
}

type TrainingFilters struct {
	Status       string
	Municipality string
	TrainerID    string
}

func (r Repo) ListTrainings(ctx context.Context, f TrainingFilters) ([]domain.Training, error) {
	var clauses []string
	var args []any
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, f.Status)
	}
	if f.Municipality != "" {
		clauses = append(clauses, "municipality=?")
		args = append(args, f.Municipality)
	}
	if f.TrainerID != "" {
		clauses = append(clauses, "trainer_id=?")
		args = append(args, f.TrainerID)
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	rows, err := r.DB.QueryContext(ctx, `SELECT id,title,municipality,trainer_id,status,start_date,end_date,created_at,updated_at FROM trainings `+where+` ORDER BY created_at DESC, id DESC`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Training
	for rows.Next() {
		var t domain.Training
		var municipality, trainerID, start, end sql.NullString
		var status string
		if err := rows.Scan(&t.ID, &t.Title, &municipality, &trainerID, &status, &start, &end, &t.CreatedAt, &t.UpdatedAt); err != nil {
			return nil, err
		}
		t.Status = domain.TrainingStatus(status)
		if municipality.Valid {
			t.Municipality = municipality.String
		}
		if trainerID.Valid {
			t.TrainerID = &trainerID.String
		}
		if start.Valid {
			t.StartDate = &start.String
		}
		if end.Valid {
			t.EndDate = &end.String
		}
		res = append(res, t)
	}
	return res, rows.Err()
}

func (r Repo) UpdateTrainingStatus(ctx context.Context, tx *sql.Tx, id string, status domain.TrainingStatus, updatedAt string) error {
	res, err := tx.ExecContext(ctx, `UPDATE trainings SET status=?, updated_at=? WHERE id=?`, string(status), updatedAt, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) InsertTask(ctx context.Context, tx *sql.Tx, t domain.Task) error {
	_, err := tx.ExecContext(ctx, taskInsertSQL, taskInsertArgs(t)...)
	return err
}

// InsertAutomatedTask inserts with OR IGNORE so the partial unique index on
// (training_id, trigger_status) absorbs concurrent duplicates. It reports
// whether a row was actually written.
func (r Repo) InsertAutomatedTask(ctx context.Context, tx *sql.Tx, t domain.Task) (bool, error) {
	res, err := tx.ExecContext(ctx, strings.Replace(taskInsertSQL, "INSERT", "INSERT OR IGNORE", 1), taskInsertArgs(t)...)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

const taskInsertSQL = `INSERT INTO tasks(id,description,status,priority,due_date,project_id,responsible_id,origin,training_id,trigger_status,created_at,updated_at)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?)`

func taskInsertArgs(t domain.Task) []any {
	var trigger any
	if t.Trigger != nil {
		trigger = string(*t.Trigger)
	}
	return []any{
		t.ID, t.Description, string(t.Status), string(t.Priority), nullableStringPtr(t.DueDate),
		nullableStringPtr(t.ProjectID), nullableStringPtr(t.ResponsibleID), string(t.Origin),
		nullableStringPtr(t.TrainingID), trigger, t.CreatedAt, t.UpdatedAt,
	}
}

const taskSelectCols = `id,description,status,priority,due_date,project_id,responsible_id,origin,training_id,trigger_status,created_at,updated_at`

func scanTask(scan func(dest ...any) error) (domain.Task, error) {
	var t domain.Task
	var status, priority, origin string
	var due, projectID, responsibleID, trainingID, trigger sql.NullString
	if err := scan(&t.ID, &t.Description, &status, &priority, &due, &projectID, &responsibleID, &origin, &trainingID, &trigger, &t.CreatedAt, &t.UpdatedAt); err != nil {
		return t, err
	}
	t.Status = domain.TaskStatus(status)
	t.Priority = domain.Priority(priority)
	t.Origin = domain.Origin(origin)
	if due.Valid {
		t.DueDate = &due.String
	}
	if projectID.Valid {
		t.ProjectID = &projectID.String
	}
	if responsibleID.Valid {
		t.ResponsibleID = &responsibleID.String
	}
	if trainingID.Valid {
		t.TrainingID = &trainingID.String
	}
	if trigger.Valid {
		ts := domain.TrainingStatus(trigger.String)
		t.Trigger = &ts
	}
	return t, nil
}

func (r Repo) GetTask(ctx context.Context, id string) (domain.Task, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+taskSelectCols+` FROM tasks WHERE id=?`, id)
	t, err := scanTask(row.Scan)
	if err == sql.ErrNoRows {
		return t, ErrNotFound
	}
	return t, err
}

type TaskFilters struct {
	ProjectID  string
	TrainingID string
	Status     string
	Priority   string
	Origin     string
}

func (r Repo) ListTasks(ctx context.Context, f TaskFilters) ([]domain.Task, error) {
	var clauses []string
	var args []any
	if f.ProjectID != "" {
		clauses = append(clauses, "project_id=?")
		args = append(args, f.ProjectID)
	}
	if f.TrainingID != "" {
		clauses = append(clauses, "training_id=?")
		args = append(args, f.TrainingID)
	}
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, f.Status)
	}
	if f.Priority != "" {
		clauses = append(clauses, "priority=?")
		args = append(args, f.Priority)
	}
	if f.Origin != "" {
		clauses = append(clauses, "origin=?")
		args = append(args, f.Origin)
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	rows, err := r.DB.QueryContext(ctx, `SELECT `+taskSelectCols+` FROM tasks `+where+` ORDER BY created_at DESC, id DESC`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Task
	for rows.Next() {
		t, err := scanTask(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, t)
	}
	return res, rows.Err()
}

// FindAutomatedTask returns the automatic task spawned for a (training,
// trigger) pair, or ErrNotFound when none was ever created.
func (r Repo) FindAutomatedTask(ctx context.Context, trainingID string, trigger domain.TrainingStatus) (domain.Task, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+taskSelectCols+` FROM tasks WHERE origin='automatic' AND training_id=? AND trigger_status=? LIMIT 1`,
		trainingID, string(trigger))
	t, err := scanTask(row.Scan)
	if err == sql.ErrNoRows {
		return t, ErrNotFound
	}
	return t, err
}

func (r Repo) UpdateTaskStatus(ctx context.Context, tx *sql.Tx, id string, status domain.TaskStatus, updatedAt string) error {
	res, err := tx.ExecContext(ctx, `UPDATE tasks SET status=?, updated_at=? WHERE id=?`, string(status), updatedAt, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) UpsertConfig(ctx context.Context, programID string, cfg *config.Config) error {
	return upsertConfig(ctx, r.DB, nil, programID, cfg)
}

func (r Repo) UpsertConfigTx(ctx context.Context, tx *sql.Tx, programID string, cfg *config.Config) error {
	return upsertConfig(ctx, nil, tx, programID, cfg)
}

func upsertConfig(ctx context.Context, db *sql.DB, tx *sql.Tx, programID string, cfg *config.Config) error {
	if cfg == nil {
		return fmt.Errorf("config nil")
	}
	cfg.Program.ID = programID
	if err := cfg.Validate(); err != nil {
		return err
	}
	payload, err := json.Marshal(cfg)
	if err != nil {
		return err
	}
	now := time.Now().UTC().Format(time.RFC3339)
	exec := func(query string, args ...any) (sql.Result, error) {
		if tx != nil {
			return tx.ExecContext(ctx, query, args...)
		}
		return db.ExecContext(ctx, query, args...)
	}
	_, err = exec(`INSERT INTO workspace_configs(program_id,config_json,created_at,updated_at) VALUES (?,?,?,?)
ON CONFLICT(program_id) DO UPDATE SET config_json=excluded.config_json, updated_at=excluded.updated_at`, programID, string(payload), now, now)
	return err
}

func (r Repo) GetConfig(ctx context.Context, programID string) (*config.Config, error) {
	var payload string
	err := r.DB.QueryRowContext(ctx, `SELECT config_json FROM workspace_configs WHERE program_id=?`, programID).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var cfg config.Config
	if err := json.Unmarshal([]byte(payload), &cfg); err != nil {
		return nil, err
	}
	if cfg.Program.ID == "" {
		cfg.Program.ID = programID
	}
	return &cfg, cfg.Validate()
}

func (r Repo) LatestEvents(ctx context.Context, limit int, evtType, entityKind, entityID string) ([]domain.Event, error) {
	clauses := []string{"1=1"}
	var args []any
	if evtType != "" {
		clauses = append(clauses, "type=?")
		args = append(args, evtType)
	}
	if entityKind != "" {
		clauses = append(clauses, "entity_kind=?")
		args = append(args, entityKind)
	}
	if entityID != "" {
		clauses = append(clauses, "entity_id=?")
		args = append(args, entityID)
	}
	where := "WHERE " + strings.Join(clauses, " AND ")
	query := fmt.Sprintf(`SELECT id,ts,type,entity_kind,entity_id,actor_id,payload_json FROM events %s ORDER BY id DESC LIMIT ?`, where)
	args = append(args, limit)
	return r.queryEvents(ctx, query, args...)
}

// EventsAfter returns events with IDs greater than the cursor in ascending order.
func (r Repo) EventsAfter(ctx context.Context, limit int, cursor int64) ([]domain.Event, error) {
	if limit <= 0 {
		limit = 100
	}
	return r.queryEvents(ctx, `SELECT id,ts,type,entity_kind,entity_id,actor_id,payload_json FROM events WHERE id>? ORDER BY id ASC LIMIT ?`, cursor, limit)
}

// LatestEventID returns the most recent event ID.
func (r Repo) LatestEventID(ctx context.Context) (int64, error) {
	var id int64
	if err := r.DB.QueryRowContext(ctx, `SELECT COALESCE(MAX(id),0) FROM events`).Scan(&id); err != nil {
		return 0, err
	}
	return id, nil
}

func (r Repo) queryEvents(ctx context.Context, query string, args ...any) ([]domain.Event, error) {
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Event
	for rows.Next() {
		var e domain.Event
		var entityID, payload sql.NullString
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &e.EntityKind, &entityID, &e.ActorID, &payload); err != nil {
			return nil, err
		}
		if entityID.Valid {
			e.EntityID = entityID.String
		}
		if payload.Valid {
			e.Payload = payload.String
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableStringPtr(v *string) any {
	if v == nil || *v == "" {
		return nil
	}
	return *v
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
