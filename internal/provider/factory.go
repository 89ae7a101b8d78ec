package provider

import (
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Config parameterizes a backend client. Zero fields fall back to
// per-provider defaults.
type Config struct {
	APIKey      string        `yaml:"api_key"`
	Model       string        `yaml:"model"`
	BaseURL     string        `yaml:"base_url"`
	MaxTokens   int           `yaml:"max_tokens"`
	Temperature float64       `yaml:"temperature"`
	Timeout     time.Duration `yaml:"timeout"`
}

var builders = map[string]func(Config) (Provider, error){
	"openai":    func(cfg Config) (Provider, error) { return NewOpenAI(cfg) },
	"anthropic": func(cfg Config) (Provider, error) { return NewAnthropic(cfg) },
	"gemini":    func(cfg Config) (Provider, error) { return NewGemini(cfg) },
	"ollama":    func(cfg Config) (Provider, error) { return NewOllama(cfg) },
	"scripted":  func(Config) (Provider, error) { return NewScripted(), nil },
}

// New builds a provider by name.
func New(name string, cfg Config) (Provider, error) {
	build, ok := builders[strings.ToLower(name)]
	if !ok {
		return nil, fmt.Errorf("unknown provider %q (known: %s)", name, strings.Join(Names(), ", "))
	}
	return build(cfg)
}

// Names lists the registered provider names in sorted order.
func Names() []string {
	names := make([]string, 0, len(builders))
	for name := range builders {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// FromEnv resolves a provider from the environment. FOUNDRY_PROVIDER
// picks one explicitly; otherwise the first configured API key wins in
// the order anthropic, openai, gemini, and a local Ollama server is
// the fallback.
func FromEnv() (Provider, error) {
	cfg := Config{
		Model:   os.Getenv("FOUNDRY_MODEL"),
		BaseURL: os.Getenv("FOUNDRY_BASE_URL"),
	}
	if raw := os.Getenv("FOUNDRY_MAX_TOKENS"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil {
			cfg.MaxTokens = n
		}
	}

	if name := os.Getenv("FOUNDRY_PROVIDER"); name != "" {
		cfg.APIKey = APIKeyFor(name)
		return New(name, cfg)
	}
	if key := os.Getenv("ANTHROPIC_API_KEY"); key != "" {
		cfg.APIKey = key
		return New("anthropic", cfg)
	}
	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		cfg.APIKey = key
		return New("openai", cfg)
	}
	if key := os.Getenv("GEMINI_API_KEY"); key != "" {
		cfg.APIKey = key
		return New("gemini", cfg)
	}
	return New("ollama", cfg)
}

// APIKeyFor returns the conventional environment key for a hosted
// provider, or "" for providers that need none.
func APIKeyFor(name string) string {
	switch strings.ToLower(name) {
	case "anthropic":
		return os.Getenv("ANTHROPIC_API_KEY")
	case "openai":
		return os.Getenv("OPENAI_API_KEY")
	case "gemini":
		return os.Getenv("GEMINI_API_KEY")
	}
	return ""
}
