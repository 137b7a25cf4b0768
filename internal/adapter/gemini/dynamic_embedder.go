package gemini

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"finsight/internal/apperr"
	"finsight/internal/settings"
)

type DynamicEmbedder struct {
	settingsSvc *settings.Service
	clients     clientCache
}

func NewDynamicEmbedder(svc *settings.Service, opts ...option.ClientOption) *DynamicEmbedder {
	return &DynamicEmbedder{
		settingsSvc: svc,
		clients:     clientCache{opts: opts},
	}
}

// Embed reads the key and model from settings on every call, so a settings
// update takes effect without a restart.
func (e *DynamicEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("%w: nothing to embed", apperr.ErrValidation)
	}
	s, err := e.settingsSvc.Get(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get settings: %w", err)
	}

	if s.GeminiAPIKey == "" {
		return nil, fmt.Errorf("%w: gemini api key not configured", apperr.ErrProvider)
	}

	client, err := e.clients.get(ctx, s.GeminiAPIKey)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", apperr.ErrProvider, err)
	}

	slog.DebugContext(ctx, "embedding content", "model", s.EmbeddingModel, "length", len(text))
	res, err := client.EmbeddingModel(s.EmbeddingModel).EmbedContent(ctx, genai.Text(text))
	if err != nil {
		return nil, fmt.Errorf("%w: embed: %v", apperr.ErrProvider, err)
	}

	if res.Embedding == nil || len(res.Embedding.Values) == 0 {
		return nil, fmt.Errorf("%w: empty embedding received", apperr.ErrProvider)
	}

	return res.Embedding.Values, nil
}

func (e *DynamicEmbedder) Close() error {
	return e.clients.close()
}
