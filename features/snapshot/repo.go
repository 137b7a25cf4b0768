package snapshot

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"finsight/internal/apperr"
)

type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo {
	return &PostgresRepo{db: db}
}

const (
	saveSnapshotSQL = `INSERT INTO snapshots (source_key, event_name, year, categories, entries, notes, status, created_by) VALUES ($1, $2, $3, $4, $5, $6, $7, $8) ` +
		`ON CONFLICT (source_key) DO UPDATE SET event_name = EXCLUDED.event_name, year = EXCLUDED.year, categories = EXCLUDED.categories, entries = EXCLUDED.entries, notes = EXCLUDED.notes, status = EXCLUDED.status, chunk_count = 0, error = '', updated_at = NOW() ` +
		`WHERE snapshots.status <> 'processing' RETURNING created_at, updated_at`
	selectSnapshotSQL = `SELECT source_key, event_name, year, categories, entries, notes, status, chunk_count, error, created_by, created_at, updated_at FROM snapshots`
	claimSnapshotSQL     = `UPDATE snapshots SET status = 'processing', claim_token = $2, error = '', updated_at = NOW() WHERE source_key = $1 AND (status <> 'processing' OR updated_at < NOW() - make_interval(secs => $3))`
	heartbeatSnapshotSQL = `UPDATE snapshots SET updated_at = NOW() WHERE source_key = $1 AND status = 'processing' AND claim_token = $2`
	finishSnapshotSQL    = `UPDATE snapshots SET status = $1, chunk_count = $2, error = $3, claim_token = '', updated_at = NOW() WHERE source_key = $4 AND status = 'processing' AND claim_token = $5`
)

func (r *PostgresRepo) Save(ctx context.Context, s *Snapshot) error {
	entries, err := json.Marshal(s.Entries)
	if err != nil {
		return fmt.Errorf("%w: encode entries: %v", apperr.ErrValidation, err)
	}
	err = r.db.QueryRowContext(ctx, saveSnapshotSQL,
		s.SourceKey, s.EventName, s.Year, pq.Array(s.Categories), entries, s.Notes, string(s.Status), s.CreatedBy,
	).Scan(&s.CreatedAt, &s.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %s", apperr.ErrAlreadyProcessing, s.SourceKey)
	}
	if err != nil {
		return fmt.Errorf("%w: save snapshot: %v", apperr.ErrPersistence, err)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSnapshot(row scanner) (Snapshot, error) {
	var s Snapshot
	var entries []byte
	var status string
	err := row.Scan(&s.SourceKey, &s.EventName, &s.Year, pq.Array(&s.Categories), &entries, &s.Notes,
		&status, &s.ChunkCount, &s.Error, &s.CreatedBy, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return Snapshot{}, err
	}
	s.Status = Status(status)
	if len(entries) > 0 {
		if err := json.Unmarshal(entries, &s.Entries); err != nil {
			return Snapshot{}, fmt.Errorf("decode entries of %s: %w", s.SourceKey, err)
		}
	}
	return s, nil
}

func (r *PostgresRepo) Get(ctx context.Context, sourceKey string) (*Snapshot, error) {
	s, err := scanSnapshot(r.db.QueryRowContext(ctx, selectSnapshotSQL+` WHERE source_key = $1`, sourceKey))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: snapshot %s", apperr.ErrNotFound, sourceKey)
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *PostgresRepo) List(ctx context.Context) ([]Snapshot, error) {
	rows, err := r.db.QueryContext(ctx, selectSnapshotSQL+` ORDER BY year DESC, source_key`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Snapshot
	for rows.Next() {
		s, err := scanSnapshot(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (r *PostgresRepo) Claim(ctx context.Context, sourceKey, token string, staleAfter time.Duration) (bool, error) {
	res, err := r.db.ExecContext(ctx, claimSnapshotSQL, sourceKey, token, staleAfter.Seconds())
	if err != nil {
		return false, fmt.Errorf("%w: claim snapshot: %v", apperr.ErrPersistence, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (r *PostgresRepo) Heartbeat(ctx context.Context, sourceKey, token string) error {
	res, err := r.db.ExecContext(ctx, heartbeatSnapshotSQL, sourceKey, token)
	if err != nil {
		return fmt.Errorf("%w: heartbeat snapshot: %v", apperr.ErrPersistence, err)
	}
	return claimHeld(res, sourceKey)
}

func (r *PostgresRepo) Finish(ctx context.Context, sourceKey, token string, status Status, chunkCount int, message string) error {
	res, err := r.db.ExecContext(ctx, finishSnapshotSQL, string(status), chunkCount, message, sourceKey, token)
	if err != nil {
		return fmt.Errorf("%w: finish snapshot: %v", apperr.ErrPersistence, err)
	}
	return claimHeld(res, sourceKey)
}

func claimHeld(res sql.Result, sourceKey string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrClaimLost, sourceKey)
	}
	return nil
}

func (r *PostgresRepo) Count(ctx context.Context) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM snapshots`).Scan(&count)
	return count, err
}
