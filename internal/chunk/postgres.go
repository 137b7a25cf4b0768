package chunk

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/lib/pq"

	"finsight/internal/apperr"
)

type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo {
	return &PostgresRepo{db: db}
}

func (r *PostgresRepo) PurgeBySourceKey(ctx context.Context, sourceKey string) (int, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM chunks WHERE source_key = $1`, sourceKey)
	if err != nil {
		return 0, fmt.Errorf("%w: purge chunks: %v", apperr.ErrPersistence, err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

const insertChunkQuery = `INSERT INTO chunks (source_key, chunk_index, content, embedding, metadata, year, status) VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING id, created_at`

func (r *PostgresRepo) BulkInsert(ctx context.Context, chunks []Chunk) (BulkResult, error) {
	var res BulkResult
	for i := range chunks {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		c := &chunks[i]
		if strings.TrimSpace(c.Content) == "" {
			res.Failed = append(res.Failed, InsertFailure{Index: i, Err: errEmptyContent})
			continue
		}
		if c.Status == "" {
			c.Status = StatusProcessing
		}
		meta, err := json.Marshal(c.Metadata)
		if err != nil {
			res.Failed = append(res.Failed, InsertFailure{Index: i, Err: err})
			continue
		}
		err = r.db.QueryRowContext(ctx, insertChunkQuery,
			c.SourceKey, c.Index, c.Content, pq.Array(c.Embedding), meta, c.Metadata.Year, string(c.Status),
		).Scan(&c.ID, &c.CreatedAt)
		if err != nil {
			slog.WarnContext(ctx, "chunk insert failed, skipping", "source_key", c.SourceKey, "chunk_index", c.Index, "error", err)
			res.Failed = append(res.Failed, InsertFailure{Index: i, Err: err})
			continue
		}
		res.Inserted++
	}
	return res, nil
}

func (r *PostgresRepo) FindByStatus(ctx context.Context, status Status, filter Filter) ([]Chunk, error) {
	query := `SELECT id, source_key, chunk_index, content, embedding, metadata, status, created_at FROM chunks WHERE status = $1`
	args := []interface{}{string(status)}
	var sb strings.Builder
	sb.WriteString(query)
	if filter.SourceKey != "" {
		args = append(args, filter.SourceKey)
		fmt.Fprintf(&sb, " AND source_key = $%d", len(args))
	}
	if filter.Year != 0 {
		args = append(args, filter.Year)
		fmt.Fprintf(&sb, " AND year = $%d", len(args))
	}
	sb.WriteString(" ORDER BY source_key, chunk_index")

	rows, err := r.db.QueryContext(ctx, sb.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("%w: find chunks: %v", apperr.ErrPersistence, err)
	}
	defer rows.Close()

	var out []Chunk
	for rows.Next() {
		var c Chunk
		var meta []byte
		var st string
		var emb []float32
		if err := rows.Scan(&c.ID, &c.SourceKey, &c.Index, &c.Content, pq.Array(&emb), &meta, &st, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("%w: scan chunk: %v", apperr.ErrPersistence, err)
		}
		if len(meta) > 0 {
			if err := json.Unmarshal(meta, &c.Metadata); err != nil {
				return nil, fmt.Errorf("%w: decode chunk metadata: %v", apperr.ErrPersistence, err)
			}
		}
		c.Embedding = emb
		c.Status = Status(st)
		out = append(out, c)
	}
	return out, rows.Err()
}

func (r *PostgresRepo) MarkReady(ctx context.Context, sourceKey string) (int, error) {
	res, err := r.db.ExecContext(ctx, `UPDATE chunks SET status = $1 WHERE source_key = $2 AND status = $3`,
		string(StatusReady), sourceKey, string(StatusProcessing))
	if err != nil {
		return 0, fmt.Errorf("%w: mark chunks ready: %v", apperr.ErrPersistence, err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// Count returns the number of chunks with the given status, or all chunks
// when status is empty.
func (r *PostgresRepo) Count(ctx context.Context, status Status) (int, error) {
	var n int
	var err error
	if status == "" {
		err = r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM chunks`).Scan(&n)
	} else {
		err = r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM chunks WHERE status = $1`, string(status)).Scan(&n)
	}
	if err != nil {
		return 0, fmt.Errorf("%w: count chunks: %v", apperr.ErrPersistence, err)
	}
	return n, nil
}
