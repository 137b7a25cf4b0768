package app

import (
	"context"

	"finsight/internal/adapter/gemini"
)

// MockVectorStore is exported to the external test package.
type MockVectorStore struct {
	EnsureSchemaErr error
}

func (m *MockVectorStore) EnsureSchema(ctx context.Context) error {
	return m.EnsureSchemaErr
}

type MockEmbedder struct{}

func (m *MockEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return []float32{0.1, 0.2, 0.3}, nil
}

type MockGenerator struct{}

func (m *MockGenerator) Generate(ctx context.Context, p gemini.Prompt) (string, error) {
	return "generated", nil
}
