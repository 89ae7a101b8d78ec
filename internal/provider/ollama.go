package provider

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Ollama talks to a local Ollama server. It is the zero-config
// fallback and the only built-in provider with real streaming.
type Ollama struct {
	baseURL     string
	model       string
	maxTokens   int
	temperature float64
	client      *http.Client
}

// NewOllama creates an Ollama-backed provider. No API key is needed.
func NewOllama(cfg Config) (*Ollama, error) {
	p := &Ollama{
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		model:       cfg.Model,
		maxTokens:   cfg.MaxTokens,
		temperature: cfg.Temperature,
		client:      &http.Client{Timeout: cfg.Timeout},
	}
	if p.baseURL == "" {
		p.baseURL = "http://localhost:11434"
	}
	if p.model == "" {
		p.model = "codellama"
	}
	if cfg.Timeout == 0 {
		p.client.Timeout = 300 * time.Second
	}
	return p, nil
}

func (p *Ollama) Name() string { return "ollama" }

type ollamaOptions struct {
	NumPredict  int     `json:"num_predict,omitempty"`
	Temperature float64 `json:"temperature,omitempty"`
}

type ollamaRequest struct {
	Model   string        `json:"model"`
	Prompt  string        `json:"prompt"`
	System  string        `json:"system,omitempty"`
	Stream  bool          `json:"stream"`
	Options ollamaOptions `json:"options,omitempty"`
}

type ollamaResponse struct {
	Response        string `json:"response"`
	Done            bool   `json:"done"`
	PromptEvalCount int    `json:"prompt_eval_count"`
	EvalCount       int    `json:"eval_count"`
	Error           string `json:"error"`
}

func (p *Ollama) Generate(ctx context.Context, req GenerationRequest) (GenerationResponse, error) {
	raw, err := p.post(ctx, req, false)
	if err != nil {
		return GenerationResponse{}, err
	}
	defer raw.Close()

	body, err := io.ReadAll(raw)
	if err != nil {
		return GenerationResponse{}, fmt.Errorf("failed to read response: %w", err)
	}
	var parsed ollamaResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return GenerationResponse{}, fmt.Errorf("failed to decode response: %w", err)
	}
	if parsed.Error != "" {
		return GenerationResponse{}, fmt.Errorf("ollama error: %s", parsed.Error)
	}
	return GenerationResponse{
		Text:       strings.TrimSpace(parsed.Response),
		TokensUsed: parsed.PromptEvalCount + parsed.EvalCount,
	}, nil
}

// GenerateStream streams deltas as Ollama emits them. The returned
// channel closes when generation finishes, fails, or ctx ends.
func (p *Ollama) GenerateStream(ctx context.Context, req GenerationRequest) (<-chan StreamChunk, error) {
	raw, err := p.post(ctx, req, true)
	if err != nil {
		return nil, err
	}

	out := make(chan StreamChunk)
	go func() {
		defer close(out)
		defer raw.Close()

		scanner := bufio.NewScanner(raw)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := bytes.TrimSpace(scanner.Bytes())
			if len(line) == 0 {
				continue
			}
			var chunk ollamaResponse
			if err := json.Unmarshal(line, &chunk); err != nil {
				p.send(ctx, out, StreamChunk{Err: fmt.Errorf("failed to decode stream chunk: %w", err)})
				return
			}
			if chunk.Error != "" {
				p.send(ctx, out, StreamChunk{Err: fmt.Errorf("ollama error: %s", chunk.Error)})
				return
			}
			if chunk.Response != "" {
				if !p.send(ctx, out, StreamChunk{Delta: chunk.Response}) {
					return
				}
			}
			if chunk.Done {
				return
			}
		}
		if err := scanner.Err(); err != nil {
			p.send(ctx, out, StreamChunk{Err: fmt.Errorf("stream read failed: %w", err)})
		}
	}()
	return out, nil
}

func (p *Ollama) send(ctx context.Context, out chan<- StreamChunk, chunk StreamChunk) bool {
	select {
	case out <- chunk:
		return true
	case <-ctx.Done():
		return false
	}
}

// HealthCheck verifies the server is up by listing installed models.
func (p *Ollama) HealthCheck(ctx context.Context) error {
	httpReq, err := http.NewRequestWithContext(ctx, "GET", p.baseURL+"/api/tags", nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := p.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("ollama not running at %s: %w", p.baseURL, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("ollama returned status %d", resp.StatusCode)
	}
	return nil
}

func (p *Ollama) post(ctx context.Context, req GenerationRequest, stream bool) (io.ReadCloser, error) {
	body, err := json.Marshal(ollamaRequest{
		Model:  req.Model(p.model),
		Prompt: req.UserPrompt(),
		System: req.SystemPrompt,
		Stream: stream,
		Options: ollamaOptions{
			NumPredict:  req.MaxTokens(p.maxTokens),
			Temperature: req.Temperature(p.temperature),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", p.baseURL+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("ollama request failed: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		return nil, fmt.Errorf("ollama returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	return resp.Body, nil
}
