package provider

import (
	"context"
	"fmt"
	"strings"

	"google.golang.org/genai"
)

// Gemini talks to Google's Gemini API through the genai SDK.
type Gemini struct {
	client *genai.Client
	model  string
}

// NewGemini creates a Gemini-backed provider.
func NewGemini(cfg Config) (*Gemini, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("gemini API key is required")
	}
	model := cfg.Model
	if model == "" {
		model = "gemini-2.0-flash"
	}

	ctx := context.Background()
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}
	return &Gemini{client: client, model: model}, nil
}

func (p *Gemini) Name() string { return "gemini" }

func (p *Gemini) Generate(ctx context.Context, req GenerationRequest) (GenerationResponse, error) {
	// The SDK takes a single prompt, so the system prompt rides at the
	// top of the user content.
	prompt := req.UserPrompt()
	if req.SystemPrompt != "" {
		prompt = req.SystemPrompt + "\n\n" + prompt
	}

	result, err := p.client.Models.GenerateContent(ctx, req.Model(p.model), genai.Text(prompt), nil)
	if err != nil {
		return GenerationResponse{}, fmt.Errorf("gemini request failed: %w", err)
	}

	text, err := extractGeminiText(result)
	if err != nil {
		return GenerationResponse{}, err
	}

	resp := GenerationResponse{Text: text}
	if result.UsageMetadata != nil {
		resp.TokensUsed = int(result.UsageMetadata.TotalTokenCount)
	}
	return resp, nil
}

// GenerateStream is not implemented for this transport.
func (p *Gemini) GenerateStream(context.Context, GenerationRequest) (<-chan StreamChunk, error) {
	return nil, fmt.Errorf("gemini: %w", ErrStreamingUnsupported)
}

// HealthCheck sends a minimal generation to verify reachability and
// the API key.
func (p *Gemini) HealthCheck(ctx context.Context) error {
	result, err := p.client.Models.GenerateContent(ctx, p.model, genai.Text("ping"), nil)
	if err != nil {
		return fmt.Errorf("gemini unreachable: %w", err)
	}
	if _, err := extractGeminiText(result); err != nil {
		return err
	}
	return nil
}

func extractGeminiText(result *genai.GenerateContentResponse) (string, error) {
	if result == nil || len(result.Candidates) == 0 {
		return "", fmt.Errorf("empty response from gemini")
	}
	content := result.Candidates[0].Content
	if content == nil || len(content.Parts) == 0 {
		return "", fmt.Errorf("empty response from gemini")
	}
	text := strings.TrimSpace(content.Parts[0].Text)
	if text == "" {
		return "", fmt.Errorf("empty response from gemini")
	}
	return text, nil
}
