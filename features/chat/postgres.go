package chat

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"finsight/internal/apperr"
)

// PostgresStore keeps turns in conversation_turns. Appends for one user are
// serialized with a transaction-scoped advisory lock on the user id.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const (
	lockUserQuery  = `SELECT pg_advisory_xact_lock(hashtext($1))`
	insertTurnSQL  = `INSERT INTO conversation_turns (id, user_id, query, response, data_source, intent, latency_ms) VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING created_at`
	trimTurnsSQL   = `DELETE FROM conversation_turns WHERE user_id = $1 AND seq NOT IN (SELECT seq FROM conversation_turns WHERE user_id = $1 ORDER BY seq DESC LIMIT $2)`
	historyTurnSQL = `SELECT id, user_id, query, response, data_source, intent, latency_ms, created_at FROM conversation_turns WHERE user_id = $1 ORDER BY seq DESC LIMIT $2`
)

func (s *PostgresStore) Append(ctx context.Context, turn Turn, limit int) (err error) {
	if turn.ID == "" {
		turn.ID = uuid.NewString()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: begin: %v", apperr.ErrPersistence, err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, lockUserQuery, turn.UserID); err != nil {
		return fmt.Errorf("%w: lock user log: %v", apperr.ErrPersistence, err)
	}
	if err = tx.QueryRowContext(ctx, insertTurnSQL, turn.ID, turn.UserID, turn.Query, turn.Response, string(turn.DataSource), turn.Intent, turn.LatencyMs).Scan(&turn.CreatedAt); err != nil {
		return fmt.Errorf("%w: insert turn: %v", apperr.ErrPersistence, err)
	}
	if limit > 0 {
		if _, err = tx.ExecContext(ctx, trimTurnsSQL, turn.UserID, limit); err != nil {
			return fmt.Errorf("%w: trim turns: %v", apperr.ErrPersistence, err)
		}
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit: %v", apperr.ErrPersistence, err)
	}
	return nil
}

func (s *PostgresStore) History(ctx context.Context, userID string, limit int) ([]Turn, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, historyTurnSQL, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var turns []Turn
	for rows.Next() {
		var t Turn
		var ds string
		if err := rows.Scan(&t.ID, &t.UserID, &t.Query, &t.Response, &ds, &t.Intent, &t.LatencyMs, &t.CreatedAt); err != nil {
			return nil, err
		}
		t.DataSource = DataSource(ds)
		turns = append(turns, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i, j := 0, len(turns)-1; i < j; i, j = i+1, j-1 {
		turns[i], turns[j] = turns[j], turns[i]
	}
	return turns, nil
}

func (s *PostgresStore) Clear(ctx context.Context, userID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM conversation_turns WHERE user_id = $1`, userID)
	return err
}
