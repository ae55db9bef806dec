package repo

import (
	"context"
	"database/sql"
	"strings"

	"formtrack/internal/domain"
)

func (r Repo) InsertTrainer(ctx context.Context, tx *sql.Tx, t domain.Trainer) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO trainers(id,name,email,municipality,active,created_at) VALUES (?,?,?,?,?,?)`,
		t.ID, t.Name, nullable(t.Email), nullable(t.Municipality), boolToInt(t.Active), t.CreatedAt)
	return err
}

func (r Repo) GetTrainer(ctx context.Context, id string) (domain.Trainer, error) {
	var t domain.Trainer
	var email, municipality sql.NullString
	var active int
	err := r.DB.QueryRowContext(ctx, `SELECT id,name,email,municipality,active,created_at FROM trainers WHERE id=?`, id).
		Scan(&t.ID, &t.Name, &email, &municipality, &active, &t.CreatedAt)
	if err == sql.ErrNoRows {
		return t, ErrNotFound
	}
	if err != nil {
		return t, err
	}
	t.Active = active != 0
	if email.Valid {
		t.Email = email.String
	}
	if municipality.Valid {
		t.Municipality = municipality.String
	}
	return t, nil
}

type TrainerFilters struct {
	Municipality string
	ActiveOnly   bool
}

func (r Repo) ListTrainers(ctx context.Context, f TrainerFilters) ([]domain.Trainer, error) {
	var clauses []string
	var args []any
	if f.Municipality != "" {
		clauses = append(clauses, "municipality=?")
		args = append(args, f.Municipality)
	}
	if f.ActiveOnly {
		clauses = append(clauses, "active=1")
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	rows, err := r.DB.QueryContext(ctx, `SELECT id,name,email,municipality,active,created_at FROM trainers `+where+` ORDER BY name ASC, id ASC`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Trainer
	for rows.Next() {
		var t domain.Trainer
		var email, municipality sql.NullString
		var active int
		if err := rows.Scan(&t.ID, &t.Name, &email, &municipality, &active, &t.CreatedAt); err != nil {
			return nil, err
		}
		t.Active = active != 0
		if email.Valid {
			t.Email = email.String
		}
		if municipality.Valid {
			t.Municipality = municipality.String
		}
		res = append(res, t)
	}
	return res, rows.Err()
}

func (r Repo) SetTrainerActive(ctx context.Context, tx *sql.Tx, id string, active bool) error {
	res, err := tx.ExecContext(ctx, `UPDATE trainers SET active=? WHERE id=?`, boolToInt(active), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
