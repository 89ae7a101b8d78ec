package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"
)

const anthropicRequestGap = 100 * time.Millisecond

// Anthropic talks to the Anthropic messages API.
type Anthropic struct {
	apiKey      string
	model       string
	baseURL     string
	maxTokens   int
	temperature float64
	client      *http.Client

	mu          sync.Mutex
	lastRequest time.Time
}

// NewAnthropic creates an Anthropic-backed provider.
func NewAnthropic(cfg Config) (*Anthropic, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("anthropic API key is required")
	}
	p := &Anthropic{
		apiKey:      cfg.APIKey,
		model:       cfg.Model,
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		maxTokens:   cfg.MaxTokens,
		temperature: cfg.Temperature,
		client:      &http.Client{Timeout: cfg.Timeout},
	}
	if p.model == "" {
		p.model = "claude-sonnet-4-5"
	}
	if p.baseURL == "" {
		p.baseURL = "https://api.anthropic.com"
	}
	if p.maxTokens == 0 {
		p.maxTokens = 4096
	}
	if cfg.Timeout == 0 {
		p.client.Timeout = 120 * time.Second
	}
	return p, nil
}

func (p *Anthropic) Name() string { return "anthropic" }

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicRequest struct {
	Model       string             `json:"model"`
	MaxTokens   int                `json:"max_tokens"`
	Messages    []anthropicMessage `json:"messages"`
	System      string             `json:"system,omitempty"`
	Temperature float64            `json:"temperature,omitempty"`
}

type anthropicResponse struct {
	Content []struct {
		Text string `json:"text"`
	} `json:"content"`
	Usage struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

func (p *Anthropic) Generate(ctx context.Context, req GenerationRequest) (GenerationResponse, error) {
	if err := p.throttle(ctx); err != nil {
		return GenerationResponse{}, err
	}

	body, err := json.Marshal(anthropicRequest{
		Model:       req.Model(p.model),
		MaxTokens:   req.MaxTokens(p.maxTokens),
		Messages:    []anthropicMessage{{Role: "user", Content: req.UserPrompt()}},
		System:      req.SystemPrompt,
		Temperature: req.Temperature(p.temperature),
	})
	if err != nil {
		return GenerationResponse{}, fmt.Errorf("failed to marshal request: %w", err)
	}

	raw, err := postWithRetry(ctx, p.client, p.baseURL+"/v1/messages", body, map[string]string{
		"x-api-key":         p.apiKey,
		"anthropic-version": "2023-06-01",
	})
	if err != nil {
		return GenerationResponse{}, fmt.Errorf("anthropic request failed: %w", err)
	}

	var parsed anthropicResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return GenerationResponse{}, fmt.Errorf("failed to decode response: %w", err)
	}
	if parsed.Error != nil {
		return GenerationResponse{}, fmt.Errorf("anthropic error: %s", parsed.Error.Message)
	}
	if len(parsed.Content) == 0 {
		return GenerationResponse{}, fmt.Errorf("anthropic returned no content")
	}
	return GenerationResponse{
		Text:       strings.TrimSpace(parsed.Content[0].Text),
		TokensUsed: parsed.Usage.InputTokens + parsed.Usage.OutputTokens,
	}, nil
}

// GenerateStream is not implemented for this transport.
func (p *Anthropic) GenerateStream(context.Context, GenerationRequest) (<-chan StreamChunk, error) {
	return nil, fmt.Errorf("anthropic: %w", ErrStreamingUnsupported)
}

// HealthCheck lists models, which exercises both reachability and the
// API key.
func (p *Anthropic) HealthCheck(ctx context.Context) error {
	httpReq, err := http.NewRequestWithContext(ctx, "GET", p.baseURL+"/v1/models", nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("x-api-key", p.apiKey)
	httpReq.Header.Set("anthropic-version", "2023-06-01")
	resp, err := p.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("anthropic unreachable: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("anthropic returned status %d", resp.StatusCode)
	}
	return nil
}

func (p *Anthropic) throttle(ctx context.Context) error {
	p.mu.Lock()
	wait := anthropicRequestGap - time.Since(p.lastRequest)
	p.lastRequest = time.Now().Add(wait)
	p.mu.Unlock()
	return sleepCtx(ctx, wait)
}
