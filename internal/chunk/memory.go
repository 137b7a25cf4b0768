package chunk

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryRepo is an in-process Repository used by tests and the ask command.
type MemoryRepo struct {
	mu     sync.RWMutex
	chunks []Chunk
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{}
}

func (r *MemoryRepo) PurgeBySourceKey(ctx context.Context, sourceKey string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	kept := r.chunks[:0]
	removed := 0
	for _, c := range r.chunks {
		if c.SourceKey == sourceKey {
			removed++
			continue
		}
		kept = append(kept, c)
	}
	r.chunks = kept
	return removed, nil
}

func (r *MemoryRepo) BulkInsert(ctx context.Context, chunks []Chunk) (BulkResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var res BulkResult
	for i, c := range chunks {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		if strings.TrimSpace(c.Content) == "" {
			res.Failed = append(res.Failed, InsertFailure{Index: i, Err: errEmptyContent})
			continue
		}
		if c.ID == "" {
			c.ID = uuid.NewString()
		}
		if c.Status == "" {
			c.Status = StatusProcessing
		}
		if c.CreatedAt.IsZero() {
			c.CreatedAt = time.Now()
		}
		c.Embedding = append([]float32(nil), c.Embedding...)
		r.chunks = append(r.chunks, c)
		res.Inserted++
	}
	return res, nil
}

func (r *MemoryRepo) FindByStatus(ctx context.Context, status Status, filter Filter) ([]Chunk, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []Chunk
	for _, c := range r.chunks {
		if c.Status == status && filter.matches(c) {
			out = append(out, c)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].SourceKey != out[j].SourceKey {
			return out[i].SourceKey < out[j].SourceKey
		}
		return out[i].Index < out[j].Index
	})
	return out, nil
}

func (r *MemoryRepo) MarkReady(ctx context.Context, sourceKey string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for i := range r.chunks {
		if r.chunks[i].SourceKey == sourceKey && r.chunks[i].Status == StatusProcessing {
			r.chunks[i].Status = StatusReady
			n++
		}
	}
	return n, nil
}

func (r *MemoryRepo) Count(ctx context.Context, status Status) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n := 0
	for _, c := range r.chunks {
		if status == "" || c.Status == status {
			n++
		}
	}
	return n, nil
}
