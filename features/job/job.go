package job

import (
	"context"
	"encoding/json"
	"time"
)

// HandlerEmbed names failures raised while embedding a snapshot chunk.
const HandlerEmbed = "snapshot.embed"

// Job is a failed unit of ingestion work. Payload is the process task that
// Retry republishes.
type Job struct {
	ID         string          `json:"id"`
	SourceKey  string          `json:"source_key"`
	ChunkIndex int             `json:"chunk_index"`
	Handler    string          `json:"handler"`
	Payload    json.RawMessage `json:"payload"`
	Error      string          `json:"error"`
	Retries    int             `json:"retries"`
	CreatedAt  time.Time       `json:"created_at"`
}

type Repository interface {
	Save(ctx context.Context, job *Job) error
	List(ctx context.Context) ([]Job, error)
	Get(ctx context.Context, id string) (*Job, error)
	Delete(ctx context.Context, id string) error
	Count(ctx context.Context) (int, error)
}
