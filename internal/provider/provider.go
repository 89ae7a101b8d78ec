// Package provider abstracts the model backends that generate slot
// code. Any conforming implementation is interchangeable: hosted HTTP
// APIs, a local Ollama server or the scripted in-process double.
package provider

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"foundry/internal/slot"
)

// Options carries per-request overrides on top of a provider's
// configured defaults.
type Options struct {
	Model     string
	MaxTokens int
}

// GenerationRequest is one slot generation job.
type GenerationRequest struct {
	Slot         slot.Slot
	Context      string
	SystemPrompt string
	Options      Options
}

// UserPrompt joins the context block and the slot prompt.
func (r GenerationRequest) UserPrompt() string {
	if r.Context == "" {
		return r.Slot.Prompt
	}
	return r.Context + "\n\n" + r.Slot.Prompt
}

// Model resolves the request override against a provider default.
func (r GenerationRequest) Model(fallback string) string {
	if r.Options.Model != "" {
		return r.Options.Model
	}
	return fallback
}

// MaxTokens resolves the request override against a provider default.
func (r GenerationRequest) MaxTokens(fallback int) int {
	if r.Options.MaxTokens > 0 {
		return r.Options.MaxTokens
	}
	return fallback
}

// Temperature resolves the slot override against a provider default.
func (r GenerationRequest) Temperature(fallback float64) float64 {
	if r.Slot.Temperature != nil {
		return *r.Slot.Temperature
	}
	return fallback
}

// GenerationResponse carries one backend result.
type GenerationResponse struct {
	Text       string
	TokensUsed int
	Metadata   map[string]string
}

// StreamChunk is one increment of a streaming generation. A non-nil
// Err terminates the stream.
type StreamChunk struct {
	Delta string
	Err   error
}

// ErrStreamingUnsupported is returned by providers without a streaming
// transport.
var ErrStreamingUnsupported = errors.New("streaming not supported")

// Provider generates code for slots. Implementations must be safe for
// concurrent use; the engine fans slot generations out across
// goroutines.
type Provider interface {
	// Name identifies the backend in logs and error values.
	Name() string

	// Generate produces code for one request.
	Generate(ctx context.Context, req GenerationRequest) (GenerationResponse, error)

	// GenerateStream emits the response incrementally. Providers
	// without streaming return ErrStreamingUnsupported.
	GenerateStream(ctx context.Context, req GenerationRequest) (<-chan StreamChunk, error)

	// HealthCheck verifies the backend is reachable.
	HealthCheck(ctx context.Context) error
}

// BatchProvider is an optional interface for backends with native
// multi-request batching.
type BatchProvider interface {
	GenerateBatch(ctx context.Context, reqs []GenerationRequest) ([]GenerationResponse, error)
}

// GenerateBatch uses native batching when p supports it and degrades
// to sequential Generate calls otherwise.
func GenerateBatch(ctx context.Context, p Provider, reqs []GenerationRequest) ([]GenerationResponse, error) {
	if bp, ok := p.(BatchProvider); ok {
		return bp.GenerateBatch(ctx, reqs)
	}
	out := make([]GenerationResponse, len(reqs))
	for i, req := range reqs {
		resp, err := p.Generate(ctx, req)
		if err != nil {
			return nil, fmt.Errorf("batch request %d: %w", i, err)
		}
		out[i] = resp
	}
	return out, nil
}

// =============================================================================
// SCRIPTED PROVIDER
// =============================================================================

// Scripted is a deterministic in-process provider for tests and dry
// runs. Responses are scripted per slot name; a sequence hands out one
// entry per attempt and repeats its last entry once exhausted.
type Scripted struct {
	mu        sync.Mutex
	sequences map[string][]string
	errs      map[string]error
	calls     map[string]int
	healthErr error
}

// NewScripted returns an empty scripted provider. Unscripted slots get
// a comment placeholder response.
func NewScripted() *Scripted {
	return &Scripted{
		sequences: make(map[string][]string),
		errs:      make(map[string]error),
		calls:     make(map[string]int),
	}
}

// WithResponse scripts a fixed response for a slot.
func (p *Scripted) WithResponse(slotName, text string) *Scripted {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sequences[slotName] = []string{text}
	return p
}

// WithSequence scripts one response per attempt for a slot.
func (p *Scripted) WithSequence(slotName string, texts ...string) *Scripted {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sequences[slotName] = texts
	return p
}

// WithError makes every generation for a slot fail.
func (p *Scripted) WithError(slotName string, err error) *Scripted {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.errs[slotName] = err
	return p
}

// WithHealthError makes HealthCheck fail.
func (p *Scripted) WithHealthError(err error) *Scripted {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.healthErr = err
	return p
}

// Calls reports how many generations ran for a slot.
func (p *Scripted) Calls(slotName string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls[slotName]
}

func (p *Scripted) Name() string { return "scripted" }

func (p *Scripted) Generate(ctx context.Context, req GenerationRequest) (GenerationResponse, error) {
	if err := ctx.Err(); err != nil {
		return GenerationResponse{}, err
	}

	p.mu.Lock()
	name := req.Slot.Name
	attempt := p.calls[name]
	p.calls[name]++
	err := p.errs[name]
	seq := p.sequences[name]
	p.mu.Unlock()

	if err != nil {
		return GenerationResponse{}, err
	}
	text := fmt.Sprintf("// generated %s", name)
	if len(seq) > 0 {
		if attempt >= len(seq) {
			attempt = len(seq) - 1
		}
		text = seq[attempt]
	}
	return GenerationResponse{
		Text:       text,
		TokensUsed: len(strings.Fields(text)),
	}, nil
}

// GenerateStream replays the scripted response in word-sized chunks.
func (p *Scripted) GenerateStream(ctx context.Context, req GenerationRequest) (<-chan StreamChunk, error) {
	resp, err := p.Generate(ctx, req)
	if err != nil {
		return nil, err
	}
	out := make(chan StreamChunk)
	go func() {
		defer close(out)
		for _, piece := range strings.SplitAfter(resp.Text, " ") {
			select {
			case out <- StreamChunk{Delta: piece}:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

func (p *Scripted) HealthCheck(context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.healthErr
}
