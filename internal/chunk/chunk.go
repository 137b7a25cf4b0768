// Package chunk holds the embedded text chunks of historical snapshots and
// the repositories that persist them.
package chunk

import (
	"context"
	"fmt"
	"time"

	"finsight/internal/apperr"
	"finsight/internal/text"
)

type Status string

const (
	StatusProcessing Status = "processing"
	StatusReady      Status = "ready"
)

// Metadata is stored alongside every chunk. Provenance fields are flattened
// into the same JSON object.
type Metadata struct {
	Year      int    `json:"year,omitempty"`
	EventName string `json:"event_name,omitempty"`
	text.Provenance
}

type Chunk struct {
	ID        string
	SourceKey string
	Index     int
	Content   string
	Embedding []float32
	Metadata  Metadata
	Status    Status
	CreatedAt time.Time
}

// Filter narrows FindByStatus. Zero values match everything.
type Filter struct {
	SourceKey string
	Year      int
}

func (f Filter) matches(c Chunk) bool {
	if f.SourceKey != "" && c.SourceKey != f.SourceKey {
		return false
	}
	if f.Year != 0 && c.Metadata.Year != f.Year {
		return false
	}
	return true
}

var errEmptyContent = fmt.Errorf("%w: chunk content is empty", apperr.ErrValidation)

// InsertFailure records a chunk that BulkInsert skipped.
type InsertFailure struct {
	Index int
	Err   error
}

type BulkResult struct {
	Inserted int
	Failed   []InsertFailure
}

// Repository persists chunks. BulkInsert is best effort: a chunk that fails
// to insert is reported in BulkResult.Failed and the rest still land. The
// returned error is reserved for failures that stop the whole batch.
type Repository interface {
	PurgeBySourceKey(ctx context.Context, sourceKey string) (int, error)
	BulkInsert(ctx context.Context, chunks []Chunk) (BulkResult, error)
	FindByStatus(ctx context.Context, status Status, filter Filter) ([]Chunk, error)
	MarkReady(ctx context.Context, sourceKey string) (int, error)
	Count(ctx context.Context, status Status) (int, error)
}
