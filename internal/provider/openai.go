package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"
)

const openAIRequestGap = 100 * time.Millisecond

// OpenAI talks to the OpenAI chat completions API.
type OpenAI struct {
	apiKey      string
	model       string
	baseURL     string
	maxTokens   int
	temperature float64
	client      *http.Client

	mu          sync.Mutex
	lastRequest time.Time
}

// NewOpenAI creates an OpenAI-backed provider.
func NewOpenAI(cfg Config) (*OpenAI, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("openai API key is required")
	}
	p := &OpenAI{
		apiKey:      cfg.APIKey,
		model:       cfg.Model,
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		maxTokens:   cfg.MaxTokens,
		temperature: cfg.Temperature,
		client:      &http.Client{Timeout: cfg.Timeout},
	}
	if p.model == "" {
		p.model = "gpt-4o-mini"
	}
	if p.baseURL == "" {
		p.baseURL = "https://api.openai.com/v1"
	}
	if p.maxTokens == 0 {
		p.maxTokens = 4096
	}
	if cfg.Timeout == 0 {
		p.client.Timeout = 120 * time.Second
	}
	return p, nil
}

func (p *OpenAI) Name() string { return "openai" }

type openAIMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openAIRequest struct {
	Model       string          `json:"model"`
	Messages    []openAIMessage `json:"messages"`
	MaxTokens   int             `json:"max_tokens,omitempty"`
	Temperature float64         `json:"temperature,omitempty"`
}

type openAIResponse struct {
	Choices []struct {
		Message openAIMessage `json:"message"`
	} `json:"choices"`
	Usage struct {
		TotalTokens int `json:"total_tokens"`
	} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

func (p *OpenAI) Generate(ctx context.Context, req GenerationRequest) (GenerationResponse, error) {
	if err := p.throttle(ctx); err != nil {
		return GenerationResponse{}, err
	}

	messages := make([]openAIMessage, 0, 2)
	if req.SystemPrompt != "" {
		messages = append(messages, openAIMessage{Role: "system", Content: req.SystemPrompt})
	}
	messages = append(messages, openAIMessage{Role: "user", Content: req.UserPrompt()})

	body, err := json.Marshal(openAIRequest{
		Model:       req.Model(p.model),
		Messages:    messages,
		MaxTokens:   req.MaxTokens(p.maxTokens),
		Temperature: req.Temperature(p.temperature),
	})
	if err != nil {
		return GenerationResponse{}, fmt.Errorf("failed to marshal request: %w", err)
	}

	raw, err := postWithRetry(ctx, p.client, p.baseURL+"/chat/completions", body, map[string]string{
		"Authorization": "Bearer " + p.apiKey,
	})
	if err != nil {
		return GenerationResponse{}, fmt.Errorf("openai request failed: %w", err)
	}

	var parsed openAIResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return GenerationResponse{}, fmt.Errorf("failed to decode response: %w", err)
	}
	if parsed.Error != nil {
		return GenerationResponse{}, fmt.Errorf("openai error: %s", parsed.Error.Message)
	}
	if len(parsed.Choices) == 0 {
		return GenerationResponse{}, fmt.Errorf("openai returned no choices")
	}
	return GenerationResponse{
		Text:       strings.TrimSpace(parsed.Choices[0].Message.Content),
		TokensUsed: parsed.Usage.TotalTokens,
	}, nil
}

// GenerateStream is not implemented for this transport.
func (p *OpenAI) GenerateStream(context.Context, GenerationRequest) (<-chan StreamChunk, error) {
	return nil, fmt.Errorf("openai: %w", ErrStreamingUnsupported)
}

// HealthCheck lists models, which exercises both reachability and the
// API key.
func (p *OpenAI) HealthCheck(ctx context.Context) error {
	httpReq, err := http.NewRequestWithContext(ctx, "GET", p.baseURL+"/models", nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)
	resp, err := p.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("openai unreachable: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("openai returned status %d", resp.StatusCode)
	}
	return nil
}

// throttle enforces a minimum gap between requests from this client.
func (p *OpenAI) throttle(ctx context.Context) error {
	p.mu.Lock()
	wait := openAIRequestGap - time.Since(p.lastRequest)
	p.lastRequest = time.Now().Add(wait)
	p.mu.Unlock()
	return sleepCtx(ctx, wait)
}

// retryBase is the backoff unit between retries. Tests shrink it.
var retryBase = time.Second

// postWithRetry posts a JSON body, retrying 429 and 5xx responses with
// exponential backoff. The response body is returned for 2xx statuses.
func postWithRetry(ctx context.Context, client *http.Client, url string, body []byte, headers map[string]string) ([]byte, error) {
	const attempts = 3
	var lastErr error
	for i := 0; i < attempts; i++ {
		if i > 0 {
			if err := sleepCtx(ctx, time.Duration(1<<uint(i-1))*retryBase); err != nil {
				return nil, err
			}
		}

		httpReq, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("failed to create request: %w", err)
		}
		httpReq.Header.Set("Content-Type", "application/json")
		for k, v := range headers {
			httpReq.Header.Set(k, v)
		}

		resp, err := client.Do(httpReq)
		if err != nil {
			lastErr = err
			continue
		}
		raw, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			lastErr = fmt.Errorf("failed to read response: %w", err)
			continue
		}

		switch {
		case resp.StatusCode == http.StatusOK:
			return raw, nil
		case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
			lastErr = fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
			continue
		default:
			return nil, fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
		}
	}
	return nil, lastErr
}

// sleepCtx sleeps unless the context ends first. Non-positive
// durations return immediately.
func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
