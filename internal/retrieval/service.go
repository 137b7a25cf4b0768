// Package retrieval finds the historical chunks most similar to a query.
package retrieval

import (
	"context"
	"time"

	"finsight/internal/chunk"
	"finsight/internal/settings"
	"finsight/internal/vector"
)

type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

type ChunkFinder interface {
	FindByStatus(ctx context.Context, status chunk.Status, filter chunk.Filter) ([]chunk.Chunk, error)
}

// SearchOptions narrow a search. Nil pointers use the stored settings.
type SearchOptions struct {
	Year      int
	SourceKey string
	Threshold *float64
	TopK      *int
}

type Service struct {
	embedder    Embedder
	chunks      ChunkFinder
	settings    *settings.Service
	logger      *QueryLogger
	focusedTopK int
}

// NewService wires the search path. focusedTopK caps results for queries
// scoped to one year.
func NewService(e Embedder, chunks ChunkFinder, set *settings.Service, l *QueryLogger, focusedTopK int) *Service {
	return &Service{embedder: e, chunks: chunks, settings: set, logger: l, focusedTopK: focusedTopK}
}

// Search embeds the query, loads ready chunks matching opts and ranks them by
// cosine similarity. Only ready chunks are ever visible.
func (s *Service) Search(ctx context.Context, query string, opts SearchOptions) ([]vector.Scored, error) {
	start := time.Now()
	var results []vector.Scored
	var err error

	defer func() {
		if s.logger != nil && err == nil {
			s.logger.Log(ctx, QueryLogEntry{
				Kind:       "search",
				Query:      query,
				Year:       opts.Year,
				NumResults: len(results),
				Duration:   time.Since(start),
			})
		}
	}()

	threshold := float64(vector.DefaultThreshold)
	topK := vector.DefaultTopK
	if cfg, serr := s.settings.Get(ctx); serr == nil {
		if cfg.SimilarityThreshold > 0 {
			threshold = float64(cfg.SimilarityThreshold)
		}
		if cfg.SearchTopK > 0 {
			topK = cfg.SearchTopK
		}
	}
	if opts.Year != 0 && s.focusedTopK > 0 && s.focusedTopK < topK {
		topK = s.focusedTopK
	}
	if opts.Threshold != nil {
		threshold = *opts.Threshold
	}
	if opts.TopK != nil {
		topK = *opts.TopK
	}

	vec, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, err
	}

	candidates, err := s.chunks.FindByStatus(ctx, chunk.StatusReady, chunk.Filter{Year: opts.Year, SourceKey: opts.SourceKey})
	if err != nil {
		return nil, err
	}

	results = vector.Rank(vec, candidates, threshold, topK)
	return results, nil
}
