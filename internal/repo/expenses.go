package repo

import (
	"context"
	"database/sql"
	"strings"

	"formtrack/internal/domain"
)

func (r Repo) InsertExpense(ctx context.Context, tx *sql.Tx, e domain.Expense) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO expenses(id,trainer_id,training_id,amount_cents,description,status,submitted_at,reviewed_at) VALUES (?,?,?,?,?,?,?,?)`,
		e.ID, e.TrainerID, nullableStringPtr(e.TrainingID), e.AmountCents, nullable(e.Description),
		string(e.Status), e.SubmittedAt, nullableStringPtr(e.ReviewedAt))
	return err
}

func (r Repo) GetExpense(ctx context.Context, id string) (domain.Expense, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT id,trainer_id,training_id,amount_cents,description,status,submitted_at,reviewed_at FROM expenses WHERE id=?`, id)
	e, err := scanExpense(row.Scan)
	if err == sql.ErrNoRows {
		return e, ErrNotFound
	}
	return e, err
}

type ExpenseFilters struct {
	TrainerID  string
	TrainingID string
	Status     string
}

func (r Repo) ListExpenses(ctx context.Context, f ExpenseFilters) ([]domain.Expense, error) {
	var clauses []string
	var args []any
	if f.TrainerID != "" {
		clauses = append(clauses, "trainer_id=?")
		args = append(args, f.TrainerID)
	}
	if f.TrainingID != "" {
		clauses = append(clauses, "training_id=?")
		args = append(args, f.TrainingID)
	}
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, f.Status)
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	rows, err := r.DB.QueryContext(ctx, `SELECT id,trainer_id,training_id,amount_cents,description,status,submitted_at,reviewed_at FROM expenses `+where+` ORDER BY submitted_at DESC, id DESC`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Expense
	for rows.Next() {
		e, err := scanExpense(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

func scanExpense(scan func(dest ...any) error) (domain.Expense, error) {
	var e domain.Expense
	var trainingID, description, reviewedAt sql.NullString
	var status string
	if err := scan(&e.ID, &e.TrainerID, &trainingID, &e.AmountCents, &description, &status, &e.SubmittedAt, &reviewedAt); err != nil {
		return e, err
	}
	e.Status = domain.ExpenseStatus(status)
	if trainingID.Valid {
		e.TrainingID = &trainingID.String
	}
	if description.Valid {
		e.Description = description.String
	}
	if reviewedAt.Valid {
		e.ReviewedAt = &reviewedAt.String
	}
	return e, nil
}

func (r Repo) UpdateExpenseStatus(ctx context.Context, tx *sql.Tx, id string, status domain.ExpenseStatus, reviewedAt string) error {
	res, err := tx.ExecContext(ctx, `UPDATE expenses SET status=?, reviewed_at=? WHERE id=?`, string(status), reviewedAt, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
