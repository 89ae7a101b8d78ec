package foundry

import (
	"context"

	"foundry/internal/cache"
	"foundry/internal/config"
	"foundry/internal/embedding"
	"foundry/internal/engine"
	"foundry/internal/injection"
	"foundry/internal/observer"
	"foundry/internal/provider"
	"foundry/internal/slot"
	"foundry/internal/template"
	"foundry/internal/validate"
)

// Core model types.
type (
	Engine           = engine.Engine
	Session          = engine.Session
	Template         = template.Template
	TemplateMetadata = template.Metadata
	Slot             = slot.Slot
	Kind             = slot.Kind
	Constraints      = slot.Constraints
	Config           = config.Config
	Context          = injection.Context
	StyleGuide       = injection.StyleGuide
)

// Collaborator interfaces and their wire types.
type (
	Provider           = provider.Provider
	ProviderConfig     = provider.Config
	GenerationRequest  = provider.GenerationRequest
	GenerationResponse = provider.GenerationResponse
	StreamChunk        = provider.StreamChunk
	Validator          = validate.Validator
	Cache              = cache.Cache
	Embedder           = embedding.Embedder
	Observer           = observer.Observer
)

// Terminal error types surfaced by renders.
type (
	BackendError     = engine.BackendError
	ValidationError  = engine.ValidationError
	StuckError       = engine.StuckError
	MissingSlotError = template.MissingSlotError
	SerializeError   = engine.SerializeError
)

// Slot output kinds.
const (
	KindRaw       = slot.KindRaw
	KindFunction  = slot.KindFunction
	KindClass     = slot.KindClass
	KindHTML      = slot.KindHTML
	KindCSS       = slot.KindCSS
	KindScript    = slot.KindScript
	KindComponent = slot.KindComponent
)

// New returns an engine backed by p. See engine.New for the builder
// methods that attach caches, validators, observers and context.
func New(p Provider, cfg Config) *Engine {
	return engine.New(p, cfg)
}

// NewSession returns an empty incremental-render session bound to e.
func NewSession(e *Engine) *Session {
	return engine.NewSession(e)
}

// NewTemplate parses content for {{AI:name}} markers.
func NewTemplate(content string) *Template {
	return template.New(content)
}

// TemplateFromFile loads a template document from disk.
func TemplateFromFile(path string) (*Template, error) {
	return template.FromFile(path)
}

// NewSlot returns a required raw slot with an explicit prompt.
func NewSlot(name, prompt string) Slot {
	return slot.New(name, prompt)
}

// NewContext returns an empty injection context.
func NewContext() Context {
	return injection.New()
}

// DefaultConfig returns the stock engine configuration.
func DefaultConfig() Config {
	return config.Default()
}

// ConfigFromEnv layers FOUNDRY_* environment overrides on the stock
// configuration.
func ConfigFromEnv() Config {
	return config.FromEnv()
}

// NewProvider builds a backend by name (openai, anthropic, gemini,
// ollama, scripted).
func NewProvider(name string, cfg ProviderConfig) (Provider, error) {
	return provider.New(name, cfg)
}

// ProviderFromEnv resolves a backend from the environment, falling
// back to a local Ollama server.
func ProviderFromEnv() (Provider, error) {
	return provider.FromEnv()
}

// Inject fills a single bare prompt through a fresh engine with stock
// configuration. Convenience for one-shot use; build an Engine for
// anything repeated.
func Inject(ctx context.Context, p Provider, prompt string) (string, error) {
	return engine.New(p, config.Default()).InjectRaw(ctx, prompt)
}
