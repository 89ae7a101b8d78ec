// Package config holds the engine policy knobs. The engine takes a
// Config by value and never reads the environment or filesystem
// itself; the FromEnv and Load adapters exist for callers that want
// ambient configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config controls engine behavior.
type Config struct {
	// ToonEnabled forces TOON context serialization on every request.
	ToonEnabled bool `yaml:"toon_enabled"`

	// AutoToonThreshold turns TOON on automatically once the rendered
	// context reaches this many characters. Zero disables the
	// heuristic.
	AutoToonThreshold int `yaml:"auto_toon_threshold"`

	// SelfHealing validates generations and feeds diagnostics back on
	// retry.
	SelfHealing bool `yaml:"self_healing"`

	// CacheEnabled routes generations through the cache when one is
	// attached.
	CacheEnabled bool `yaml:"cache_enabled"`

	// CacheThreshold is the cosine similarity floor for semantic cache
	// hits.
	CacheThreshold float64 `yaml:"cache_threshold"`

	// Parallel fans slot generations out across goroutines.
	Parallel bool `yaml:"parallel"`

	// MaxRetries bounds healing retries per slot. A slot is attempted
	// at most MaxRetries+1 times.
	MaxRetries int `yaml:"max_retries"`

	// RetryBackoff is the base delay between retries, scaled by the
	// attempt number. Parsed as a Go duration string.
	RetryBackoff string `yaml:"retry_backoff"`

	// SystemPrompt rides along on every generation request when set.
	SystemPrompt string `yaml:"system_prompt"`

	// Prompts are the fixed fragments spliced into generation prompts.
	Prompts Prompts `yaml:"prompts"`
}

// Prompts holds the boilerplate fragments around generated prompts.
// They are configurable so deployments can localize or harden them
// without forking.
type Prompts struct {
	ToonHeader      string `yaml:"toon_header"`
	ToonNote        string `yaml:"toon_note"`
	HealingFeedback string `yaml:"healing_feedback"`
	TDDNotice       string `yaml:"tdd_notice"`
}

// Default returns the stock configuration.
func Default() Config {
	return Config{
		ToonEnabled:       false,
		AutoToonThreshold: 2000,
		SelfHealing:       false,
		CacheEnabled:      false,
		CacheThreshold:    0.90,
		Parallel:          true,
		MaxRetries:        2,
		RetryBackoff:      "100ms",
		Prompts: Prompts{
			ToonHeader: "[CONTEXT:TOON]",
			ToonNote: "[TOON Protocol Note]\n" +
				"TOON is a compact key:value mapping protocol. Each line represents 'key: value'. " +
				"Use this context to inform your code generation, respecting the framework, language, " +
				"and architectural constraints defined within.",
			HealingFeedback: "[SELF-HEALING FEEDBACK]\n" +
				"Your previous output had validation errors. Please fix them and output ONLY the corrected code.\n" +
				"ERROR:\n",
			TDDNotice: "\n\nIMPORTANT: The system is running in TDD (Test-Driven Development) mode. " +
				"Your code will be validated against compiler checks and functional tests. " +
				"If possible, include unit tests in your response to help self-verify. " +
				"If validation fails, you will receive feedback to fix the code.",
		},
	}
}

// FromEnv builds a config from FOUNDRY_* environment variables,
// falling back to defaults for anything unset.
func FromEnv() Config {
	cfg := Default()
	cfg.applyEnvOverrides()
	return cfg
}

// Load reads a YAML config file layered over the defaults, then
// applies environment overrides. A missing file is not an error; you
// get FromEnv behavior.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return cfg, fmt.Errorf("failed to read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// applyEnvOverrides layers FOUNDRY_* variables over the config. Env
// wins over file values, same as API keys do.
func (c *Config) applyEnvOverrides() {
	if v, ok := boolEnv("FOUNDRY_TOON"); ok {
		c.ToonEnabled = v
	}
	if v, ok := boolEnv("FOUNDRY_HEALING"); ok {
		c.SelfHealing = v
	}
	if v, ok := boolEnv("FOUNDRY_CACHE"); ok {
		c.CacheEnabled = v
	}
	if v, ok := boolEnv("FOUNDRY_PARALLEL"); ok {
		c.Parallel = v
	}
	if v := os.Getenv("FOUNDRY_MAX_RETRIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			c.MaxRetries = n
		}
	}
	if v := os.Getenv("FOUNDRY_TOON_THRESHOLD"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			c.AutoToonThreshold = n
		}
	}
	if v := os.Getenv("FOUNDRY_CACHE_THRESHOLD"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			c.CacheThreshold = f
		}
	}
	if v := os.Getenv("FOUNDRY_RETRY_BACKOFF"); v != "" {
		if _, err := time.ParseDuration(v); err == nil {
			c.RetryBackoff = v
		}
	}
	if v := os.Getenv("FOUNDRY_SYSTEM_PROMPT"); v != "" {
		c.SystemPrompt = v
	}
}

// Save writes the config as YAML, creating parent directories.
func (c Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// ShouldUseToon reports whether a context of the given rendered length
// gets TOON serialization.
func (c Config) ShouldUseToon(contextLength int) bool {
	if c.ToonEnabled {
		return true
	}
	return c.AutoToonThreshold > 0 && contextLength >= c.AutoToonThreshold
}

// GetRetryBackoff parses the backoff setting, falling back to 100ms on
// bad input.
func (c Config) GetRetryBackoff() time.Duration {
	d, err := time.ParseDuration(c.RetryBackoff)
	if err != nil || d < 0 {
		return 100 * time.Millisecond
	}
	return d
}

// WithToon returns a copy with TOON forced on or off.
func (c Config) WithToon(enabled bool) Config {
	c.ToonEnabled = enabled
	return c
}

// WithHealing returns a copy with self-healing toggled.
func (c Config) WithHealing(enabled bool) Config {
	c.SelfHealing = enabled
	return c
}

// WithCache returns a copy with caching toggled.
func (c Config) WithCache(enabled bool) Config {
	c.CacheEnabled = enabled
	return c
}

// WithParallel returns a copy with parallel generation toggled.
func (c Config) WithParallel(enabled bool) Config {
	c.Parallel = enabled
	return c
}

// WithMaxRetries returns a copy with the retry bound replaced.
func (c Config) WithMaxRetries(n int) Config {
	c.MaxRetries = n
	return c
}

// WithSystemPrompt returns a copy with the system prompt replaced.
func (c Config) WithSystemPrompt(prompt string) Config {
	c.SystemPrompt = prompt
	return c
}

// boolEnv reads a boolean environment variable. "true" and "1" are
// true, "false" and "0" are false, anything else counts as unset.
func boolEnv(key string) (value, ok bool) {
	switch strings.ToLower(os.Getenv(key)) {
	case "true", "1":
		return true, true
	case "false", "0":
		return false, true
	}
	return false, false
}
