package cache

import (
	"context"
	"fmt"
	"sync/atomic"
)

// MockEmbedder maps exact texts to fixed vectors so similarity scores
// in tests are fully controlled.
type MockEmbedder struct {
	Vectors map[string][]float32
	Calls   atomic.Int64

	// EmbedFunc overrides the map lookup when set.
	EmbedFunc func(ctx context.Context, text string) ([]float32, error)
}

func (m *MockEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	m.Calls.Add(1)
	if m.EmbedFunc != nil {
		return m.EmbedFunc(ctx, text)
	}
	if vec, ok := m.Vectors[text]; ok {
		return vec, nil
	}
	return nil, fmt.Errorf("no vector scripted for %q", text)
}

func (m *MockEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		vec, err := m.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		out[i] = vec
	}
	return out, nil
}

func (m *MockEmbedder) Dimensions() int { return 3 }
func (m *MockEmbedder) Name() string    { return "mock" }
