// Package engine orchestrates template rendering. For every slot
// marker it assembles an injection context, consults the cache, calls
// the provider inside a validate-and-heal retry loop and splices the
// accepted text back into the document. Failures surface as the typed
// errors in errors.go; progress surfaces through the observer.
package engine

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"foundry/internal/cache"
	"foundry/internal/config"
	"foundry/internal/injection"
	"foundry/internal/observer"
	"foundry/internal/provider"
	"foundry/internal/slot"
	"foundry/internal/template"
	"foundry/internal/toon"
	"foundry/internal/validate"
)

// Engine coordinates slot generation for templates. Configure it
// fully before the first render; the builders are not synchronized
// against in-flight generations.
type Engine struct {
	provider  provider.Provider
	validator validate.Validator
	cache     cache.Cache
	observer  observer.Observer
	global    injection.Context
	cfg       config.Config
	logger    *zap.Logger
}

// New returns an engine backed by p. Self-healing installs the
// auto-selecting validator and caching installs the exact-match tier;
// both can be swapped with the builders below.
func New(p provider.Provider, cfg config.Config) *Engine {
	e := &Engine{
		provider: p,
		observer: observer.Nop{},
		cfg:      cfg,
		logger:   zap.NewNop(),
	}
	if cfg.SelfHealing {
		e.validator = validate.NewAuto()
	}
	if cfg.CacheEnabled {
		e.cache = cache.NewExact()
	}
	return e
}

// WithValidator replaces the validator. Passing nil disables
// validation and healing entirely.
func (e *Engine) WithValidator(v validate.Validator) *Engine {
	e.validator = v
	return e
}

// WithCache replaces the cache tier. Passing nil disables caching.
func (e *Engine) WithCache(c cache.Cache) *Engine {
	e.cache = c
	return e
}

// WithObserver installs the event sink for generation lifecycle
// callbacks.
func (e *Engine) WithObserver(o observer.Observer) *Engine {
	if o == nil {
		o = observer.Nop{}
	}
	e.observer = o
	return e
}

// WithContext sets the global injection context sent with every
// generation.
func (e *Engine) WithContext(c injection.Context) *Engine {
	e.global = c
	return e
}

// WithLogger sets the logger for engine diagnostics.
func (e *Engine) WithLogger(l *zap.Logger) *Engine {
	if l == nil {
		l = zap.NewNop()
	}
	e.logger = l
	return e
}

// Render generates every referenced slot and returns the assembled
// document.
func (e *Engine) Render(ctx context.Context, t *template.Template) (string, error) {
	return e.RenderWithContext(ctx, t, injection.New())
}

// RenderWithContext renders t with a per-call context layered over
// the engine's global one.
func (e *Engine) RenderWithContext(ctx context.Context, t *template.Template, extra injection.Context) (string, error) {
	values, err := e.generateAll(ctx, t, extra)
	if err != nil {
		return "", err
	}
	return t.Render(values)
}

// GenerateSlot runs the full generation pipeline for one named slot
// and returns the accepted text without splicing it into a document.
func (e *Engine) GenerateSlot(ctx context.Context, t *template.Template, name string) (string, error) {
	s, ok := t.Slot(name)
	if !ok {
		return "", &template.MissingSlotError{Slot: name}
	}
	prompt, err := e.contextPrompt(injection.New())
	if err != nil {
		return "", err
	}
	return e.runSlot(ctx, t.Name, s, prompt)
}

// GenerateSlotStream streams one slot's generation straight from the
// provider. Streaming bypasses validation, healing and the cache;
// callers that need those guarantees use GenerateSlot.
func (e *Engine) GenerateSlotStream(ctx context.Context, t *template.Template, name string) (<-chan provider.StreamChunk, error) {
	s, ok := t.Slot(name)
	if !ok {
		return nil, &template.MissingSlotError{Slot: name}
	}
	prompt, err := e.contextPrompt(injection.New())
	if err != nil {
		return nil, err
	}
	req := provider.GenerationRequest{
		Slot:         s,
		Context:      prompt,
		SystemPrompt: e.cfg.SystemPrompt,
	}
	return e.provider.GenerateStream(ctx, req)
}

// InjectRaw generates code for a bare prompt with no surrounding
// document, through the full pipeline.
func (e *Engine) InjectRaw(ctx context.Context, prompt string) (string, error) {
	t := template.New("{{AI:gen}}").WithSlot("gen", prompt)
	return e.Render(ctx, t)
}

// Healthy reports whether the provider is reachable.
func (e *Engine) Healthy(ctx context.Context) error {
	return e.provider.HealthCheck(ctx)
}

// contextPrompt assembles the context block sent ahead of every slot
// prompt: the global context plus any per-call extra, compressed to
// TOON when configured or when the plain form crosses the auto
// threshold. With a validator installed the TDD notice is appended so
// the backend knows its output will be checked.
func (e *Engine) contextPrompt(extra injection.Context) (string, error) {
	base := e.global.ToPrompt()
	if p := extra.ToPrompt(); p != "" {
		if base == "" {
			base = p
		} else {
			base = base + "\n" + p
		}
	}

	prompt := base
	if e.cfg.ShouldUseToon(len(base)) {
		encoded, err := toon.Encode(e.global.Merge(extra).Value())
		if err != nil {
			return "", &SerializeError{Err: err}
		}
		prompt = e.cfg.Prompts.ToonHeader + "\n" + encoded + "\n\n" + e.cfg.Prompts.ToonNote
	}

	if e.validator != nil {
		prompt += e.cfg.Prompts.TDDNotice
	}
	return prompt, nil
}

// generateAll produces the slot name to generated text mapping for
// every slot referenced by t's content. Configured but unreferenced
// slots are skipped.
func (e *Engine) generateAll(ctx context.Context, t *template.Template, extra injection.Context) (map[string]string, error) {
	names := t.OrderedNames()
	values := make(map[string]string, len(names))
	if len(names) == 0 {
		return values, nil
	}

	prompt, err := e.contextPrompt(extra)
	if err != nil {
		return nil, err
	}

	if e.cfg.Parallel && len(names) > 1 {
		return e.generateParallel(ctx, t, names, prompt)
	}

	for _, name := range names {
		s, _ := t.Slot(name)
		e.logger.Debug("Generating slot", zap.String("template", t.Name), zap.String("slot", name))
		text, err := e.runSlot(ctx, t.Name, s, prompt)
		if err != nil {
			return nil, err
		}
		values[name] = text
	}
	return values, nil
}

// generateParallel fans slot generation out across goroutines. The
// first failure cancels the remaining generations and fails the whole
// render; no partial document is ever assembled.
func (e *Engine) generateParallel(ctx context.Context, t *template.Template, names []string, prompt string) (map[string]string, error) {
	var (
		mu     sync.Mutex
		values = make(map[string]string, len(names))
	)
	g, ctx := errgroup.WithContext(ctx)
	for _, name := range names {
		s, _ := t.Slot(name)
		g.Go(func() error {
			text, err := e.runSlot(ctx, t.Name, s, prompt)
			if err != nil {
				return err
			}
			mu.Lock()
			values[s.Name] = text
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return values, nil
}

// runSlot executes one generation task: observer bracketing around
// the cache-probe-and-heal loop.
func (e *Engine) runSlot(ctx context.Context, templateName string, s slot.Slot, contextPrompt string) (string, error) {
	id := uuid.New().String()
	req := provider.GenerationRequest{
		Slot:         s,
		Context:      contextPrompt,
		SystemPrompt: e.cfg.SystemPrompt,
	}

	e.notify(func(o observer.Observer) { o.OnStart(id, templateName, s.Name, req) })

	resp, err := e.heal(ctx, id, req)
	if err != nil {
		e.notify(func(o observer.Observer) { o.OnFailure(id, err) })
		return "", err
	}

	for k, v := range resp.Metadata {
		e.notify(func(o observer.Observer) { o.OnMetadata(id, k, v) })
	}
	e.notify(func(o observer.Observer) { o.OnSuccess(id, resp) })
	return resp.Text, nil
}

// notify delivers one observer callback, swallowing panics. A broken
// sink must never abort a render.
func (e *Engine) notify(fn func(observer.Observer)) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Warn("Observer panicked", zap.Any("panic", r))
		}
	}()
	fn(e.observer)
}
