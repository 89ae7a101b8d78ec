// Package embedding provides vector embeddings for semantic cache
// lookups. Two backends are supported: Ollama (local) and Google
// GenAI (cloud).
package embedding

import (
	"context"
	"fmt"
	"math"
)

// Embedder turns text into a vector. Implementations must be safe for
// concurrent use.
type Embedder interface {
	// Embed generates an embedding for a single text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch generates embeddings for multiple texts.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the dimensionality of produced vectors.
	Dimensions() int

	// Name identifies the backend, e.g. "ollama:embeddinggemma".
	Name() string
}

// HealthChecker is an optional interface for embedders that can verify
// their backing service is reachable.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Config selects and parameterizes an embedding backend.
type Config struct {
	// Provider: "ollama" or "genai"
	Provider string `json:"provider"`

	OllamaEndpoint string `json:"ollama_endpoint"` // Default: "http://localhost:11434"
	OllamaModel    string `json:"ollama_model"`    // Default: "embeddinggemma"

	GenAIAPIKey string `json:"genai_api_key"`
	GenAIModel  string `json:"genai_model"` // Default: "gemini-embedding-001"

	// TaskType for GenAI: "SEMANTIC_SIMILARITY", "RETRIEVAL_QUERY", ...
	TaskType string `json:"task_type"`
}

// DefaultConfig returns defaults aimed at a local Ollama server.
func DefaultConfig() Config {
	return Config{
		Provider:       "ollama",
		OllamaEndpoint: "http://localhost:11434",
		OllamaModel:    "embeddinggemma",
		GenAIModel:     "gemini-embedding-001",
		TaskType:       "SEMANTIC_SIMILARITY",
	}
}

// New creates an embedder from configuration.
func New(cfg Config) (Embedder, error) {
	switch cfg.Provider {
	case "ollama":
		return NewOllama(cfg.OllamaEndpoint, cfg.OllamaModel)
	case "genai":
		return NewGenAI(cfg.GenAIAPIKey, cfg.GenAIModel, cfg.TaskType)
	}
	return nil, fmt.Errorf("unsupported embedding provider: %s (use 'ollama' or 'genai')", cfg.Provider)
}

// Cosine calculates the cosine similarity between two vectors. The
// result lies in [-1, 1]; zero-magnitude vectors compare as 0.
func Cosine(a, b []float32) (float64, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("vectors must have the same length: %d != %d", len(a), len(b))
	}

	var dot, aMag, bMag float64
	for i := 0; i < len(a); i++ {
		dot += float64(a[i]) * float64(b[i])
		aMag += float64(a[i]) * float64(a[i])
		bMag += float64(b[i]) * float64(b[i])
	}
	if aMag == 0 || bMag == 0 {
		return 0, nil
	}
	return dot / (math.Sqrt(aMag) * math.Sqrt(bMag)), nil
}
