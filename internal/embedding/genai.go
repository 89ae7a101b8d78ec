package embedding

import (
	"context"
	"fmt"

	"google.golang.org/genai"
)

// GenAI generates embeddings using Google's Gemini API.
type GenAI struct {
	client   *genai.Client
	model    string
	taskType string
}

// NewGenAI creates a Gemini-backed embedder. The model defaults to
// gemini-embedding-001 and the task type to semantic similarity, which
// is what cache lookups want.
func NewGenAI(apiKey, model, taskType string) (*GenAI, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("GenAI API key is required")
	}
	if model == "" {
		model = "gemini-embedding-001"
	}

	ctx := context.Background()
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey: apiKey,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}

	var task string
	switch taskType {
	case "SEMANTIC_SIMILARITY", "":
		task = "SEMANTIC_SIMILARITY"
	case "CLASSIFICATION":
		task = "CLASSIFICATION"
	case "CLUSTERING":
		task = "CLUSTERING"
	case "RETRIEVAL_DOCUMENT":
		task = "RETRIEVAL_DOCUMENT"
	case "RETRIEVAL_QUERY":
		task = "RETRIEVAL_QUERY"
	case "CODE_RETRIEVAL_QUERY":
		task = "CODE_RETRIEVAL_QUERY"
	default:
		task = "SEMANTIC_SIMILARITY"
	}

	return &GenAI{client: client, model: model, taskType: task}, nil
}

func (e *GenAI) Embed(ctx context.Context, text string) ([]float32, error) {
	contents := []*genai.Content{
		genai.NewContentFromText(text, genai.RoleUser),
	}

	result, err := e.client.Models.EmbedContent(ctx,
		e.model,
		contents,
		&genai.EmbedContentConfig{TaskType: e.taskType},
	)
	if err != nil {
		return nil, fmt.Errorf("GenAI embed failed: %w", err)
	}
	if len(result.Embeddings) == 0 {
		return nil, fmt.Errorf("no embeddings returned")
	}
	return result.Embeddings[0].Values, nil
}

// EmbedBatch uses the API's native batch support.
func (e *GenAI) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	contents := make([]*genai.Content, len(texts))
	for i, text := range texts {
		contents[i] = genai.NewContentFromText(text, genai.RoleUser)
	}

	result, err := e.client.Models.EmbedContent(ctx,
		e.model,
		contents,
		&genai.EmbedContentConfig{TaskType: e.taskType},
	)
	if err != nil {
		return nil, fmt.Errorf("GenAI batch embed failed: %w", err)
	}

	embeddings := make([][]float32, len(result.Embeddings))
	for i, emb := range result.Embeddings {
		embeddings[i] = emb.Values
	}
	return embeddings, nil
}

// Dimensions returns the vector width of gemini-embedding-001.
func (e *GenAI) Dimensions() int {
	return 3072
}

func (e *GenAI) Name() string {
	return fmt.Sprintf("genai:%s", e.model)
}
