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

// Prompt is a single generation request. Complex selects the larger model.
type Prompt struct {
	System  string
	User    string
	Complex bool
}

type DynamicGenerator struct {
	settingsSvc *settings.Service
	clients     clientCache
	temperature float32
}

func NewDynamicGenerator(svc *settings.Service, opts ...option.ClientOption) *DynamicGenerator {
	return &DynamicGenerator{
		settingsSvc: svc,
		clients:     clientCache{opts: opts},
		temperature: 0.2,
	}
}

func (g *DynamicGenerator) Generate(ctx context.Context, p Prompt) (string, error) {
	s, err := g.settingsSvc.Get(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to get settings: %w", err)
	}
	if s.GeminiAPIKey == "" {
		return "", fmt.Errorf("%w: gemini api key not configured", apperr.ErrProvider)
	}

	client, err := g.clients.get(ctx, s.GeminiAPIKey)
	if err != nil {
		return "", fmt.Errorf("%w: %v", apperr.ErrProvider, err)
	}

	name := s.SimpleModel
	if p.Complex {
		name = s.ComplexModel
	}
	model := client.GenerativeModel(name)
	model.SetTemperature(g.temperature)
	if p.System != "" {
		model.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(p.System)}}
	}

	slog.DebugContext(ctx, "generating answer", "model", name, "prompt_len", len(p.User))
	resp, err := model.GenerateContent(ctx, genai.Text(p.User))
	if err != nil {
		return "", fmt.Errorf("%w: generate: %v", apperr.ErrProvider, err)
	}

	var sb strings.Builder
	for _, cand := range resp.Candidates {
		if cand.Content == nil {
			continue
		}
		for _, part := range cand.Content.Parts {
			if t, ok := part.(genai.Text); ok {
				sb.WriteString(string(t))
			}
		}
		break
	}

	out := strings.TrimSpace(sb.String())
	if out == "" {
		return "", fmt.Errorf("%w: empty generation", apperr.ErrProvider)
	}
	return out, nil
}

func (g *DynamicGenerator) Close() error {
	return g.clients.close()
}
