package settings

import (
	"context"
	"fmt"

	"finsight/internal/apperr"
)

// Settings are the runtime-tunable knobs stored in the single settings row.
// Zero values fall back to the configured Defaults.
type Settings struct {
	ID                  int     `json:"-"`
	GeminiAPIKey        string  `json:"gemini_api_key"`
	EmbeddingModel      string  `json:"embedding_model"`
	SimpleModel         string  `json:"simple_model"`
	ComplexModel        string  `json:"complex_model"`
	SimilarityThreshold float32 `json:"similarity_threshold"`
	SearchTopK          int     `json:"search_top_k"`
}

type Repository interface {
	Get(ctx context.Context) (*Settings, error)
	Update(ctx context.Context, s *Settings) error
}

// Defaults come from the environment configuration.
type Defaults struct {
	GeminiAPIKey        string
	EmbeddingModel      string
	SimpleModel         string
	ComplexModel        string
	SimilarityThreshold float32
	SearchTopK          int
}

type Service struct {
	repo     Repository
	defaults Defaults
}

func NewService(repo Repository, defaults Defaults) *Service {
	return &Service{repo: repo, defaults: defaults}
}

// Get returns the stored settings with empty fields filled from defaults.
func (s *Service) Get(ctx context.Context) (*Settings, error) {
	stored, err := s.repo.Get(ctx)
	if err != nil {
		return nil, err
	}
	out := *stored
	if out.GeminiAPIKey == "" {
		out.GeminiAPIKey = s.defaults.GeminiAPIKey
	}
	if out.EmbeddingModel == "" {
		out.EmbeddingModel = s.defaults.EmbeddingModel
	}
	if out.SimpleModel == "" {
		out.SimpleModel = s.defaults.SimpleModel
	}
	if out.ComplexModel == "" {
		out.ComplexModel = s.defaults.ComplexModel
	}
	if out.SimilarityThreshold == 0 {
		out.SimilarityThreshold = s.defaults.SimilarityThreshold
	}
	if out.SearchTopK == 0 {
		out.SearchTopK = s.defaults.SearchTopK
	}
	return &out, nil
}

func (s *Service) Update(ctx context.Context, set *Settings) error {
	if set.SimilarityThreshold < 0 || set.SimilarityThreshold > 1 {
		return fmt.Errorf("%w: similarity_threshold must be within [0, 1]", apperr.ErrValidation)
	}
	if set.SearchTopK < 0 {
		return fmt.Errorf("%w: search_top_k must not be negative", apperr.ErrValidation)
	}
	return s.repo.Update(ctx, set)
}
