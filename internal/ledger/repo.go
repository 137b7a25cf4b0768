package ledger

import (
	"context"
	"database/sql"
	"errors"
)

type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo {
	return &PostgresRepo{db: db}
}

func (r *PostgresRepo) ActiveEvent(ctx context.Context) (*Event, error) {
	e := &Event{}
	query := `SELECT id, name, year, active FROM events WHERE active = TRUE ORDER BY year DESC LIMIT 1`
	err := r.db.QueryRowContext(ctx, query).Scan(&e.ID, &e.Name, &e.Year, &e.Active)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return e, nil
}

func (r *PostgresRepo) Incomes(ctx context.Context, eventID string) ([]Income, error) {
	query := `SELECT id, event_id, name, amount, status FROM incomes WHERE event_id = $1 ORDER BY created_at`
	rows, err := r.db.QueryContext(ctx, query, eventID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Income
	for rows.Next() {
		var in Income
		if err := rows.Scan(&in.ID, &in.EventID, &in.Name, &in.Amount, &in.Status); err != nil {
			return nil, err
		}
		out = append(out, in)
	}
	return out, rows.Err()
}

func (r *PostgresRepo) Expenses(ctx context.Context, eventID string) ([]Expense, error) {
	query := `SELECT id, event_id, description, amount, status FROM expenses WHERE event_id = $1 ORDER BY created_at`
	rows, err := r.db.QueryContext(ctx, query, eventID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Expense
	for rows.Next() {
		var ex Expense
		if err := rows.Scan(&ex.ID, &ex.EventID, &ex.Description, &ex.Amount, &ex.Status); err != nil {
			return nil, err
		}
		out = append(out, ex)
	}
	return out, rows.Err()
}
