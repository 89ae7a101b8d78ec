// Package slot defines the fill-in regions of a template: what to
// generate, what shape the output must take and which constraints the
// generated code has to satisfy.
package slot

import (
	"fmt"
	"hash/fnv"
	"io"
	"regexp"
	"strings"
)

// Kind classifies what a slot expects the backend to produce. Unknown
// kinds are carried verbatim as custom kinds.
type Kind string

const (
	KindRaw       Kind = "raw"
	KindFunction  Kind = "function"
	KindClass     Kind = "class"
	KindHTML      Kind = "html"
	KindCSS       Kind = "css"
	KindScript    Kind = "script"
	KindComponent Kind = "component"
)

// ParseKind resolves a marker hint to a kind. Hints are matched case
// insensitively and common aliases (fn, struct, js, javascript) fold
// into their canonical kind.
func ParseKind(s string) Kind {
	switch strings.ToLower(s) {
	case "", "raw":
		return KindRaw
	case "function", "fn":
		return KindFunction
	case "class", "struct":
		return KindClass
	case "html":
		return KindHTML
	case "css":
		return KindCSS
	case "script", "js", "javascript":
		return KindScript
	case "component":
		return KindComponent
	}
	return Kind(strings.ToLower(s))
}

func (k Kind) String() string { return string(k) }

// IsCustom reports whether the kind is outside the built-in set.
func (k Kind) IsCustom() bool {
	switch k {
	case KindRaw, KindFunction, KindClass, KindHTML, KindCSS, KindScript, KindComponent:
		return false
	}
	return true
}

// Constraints bound what a slot accepts. Zero values mean unchecked.
type Constraints struct {
	MaxLines          int
	MaxChars          int
	RequiredImports   []string
	ForbiddenPatterns []string
	Language          string
	TestHarness       string
	TestCommand       string
}

// Check reports every constraint the snippet violates. A forbidden
// pattern that fails to compile is skipped rather than treated as a
// violation.
func (c *Constraints) Check(code string) []string {
	if c == nil {
		return nil
	}
	var violations []string
	if c.MaxLines > 0 {
		if n := countLines(code); n > c.MaxLines {
			violations = append(violations, fmt.Sprintf("code has %d lines, limit is %d", n, c.MaxLines))
		}
	}
	if c.MaxChars > 0 && len(code) > c.MaxChars {
		violations = append(violations, fmt.Sprintf("code has %d characters, limit is %d", len(code), c.MaxChars))
	}
	for _, imp := range c.RequiredImports {
		if !strings.Contains(code, imp) {
			violations = append(violations, fmt.Sprintf("missing required import %q", imp))
		}
	}
	for _, pat := range c.ForbiddenPatterns {
		re, err := regexp.Compile(pat)
		if err != nil {
			continue
		}
		if re.MatchString(code) {
			violations = append(violations, fmt.Sprintf("forbidden pattern %q matched", pat))
		}
	}
	return violations
}

func countLines(code string) int {
	if code == "" {
		return 0
	}
	return strings.Count(strings.TrimRight(code, "\n"), "\n") + 1
}

// Slot describes one fill-in region. Slots are plain values; the
// With* builders return modified copies so a slot handed to a
// generation task is never shared mutable state.
type Slot struct {
	Name        string
	Prompt      string
	Kind        Kind
	Constraints *Constraints
	Required    bool
	Default     string
	Temperature *float64
}

// New returns a required raw slot with an explicit prompt.
func New(name, prompt string) Slot {
	return Slot{
		Name:     name,
		Prompt:   prompt,
		Kind:     KindRaw,
		Required: true,
	}
}

// Auto returns a slot whose prompt is derived from its name. Templates
// use it for markers that were never explicitly configured.
func Auto(name string) Slot {
	return New(name, "Generate code for: "+name)
}

// WithKind returns a copy expecting the given output kind.
func (s Slot) WithKind(k Kind) Slot {
	s.Kind = k
	return s
}

// WithPrompt returns a copy with a replacement prompt.
func (s Slot) WithPrompt(prompt string) Slot {
	s.Prompt = prompt
	return s
}

// WithConstraints returns a copy bounded by c.
func (s Slot) WithConstraints(c Constraints) Slot {
	s.Constraints = &c
	return s
}

// Optional returns a copy that may be skipped at render time.
func (s Slot) Optional() Slot {
	s.Required = false
	return s
}

// WithDefault returns an optional copy that falls back to text when no
// generation result is available.
func (s Slot) WithDefault(text string) Slot {
	s.Default = text
	s.Required = false
	return s
}

// WithTemperature returns a copy carrying a sampling override.
func (s Slot) WithTemperature(t float64) Slot {
	s.Temperature = &t
	return s
}

// HasHarness reports whether the slot carries an executable test
// harness.
func (s Slot) HasHarness() bool {
	return s.Constraints != nil && s.Constraints.TestHarness != ""
}

// Fingerprint returns a 64-bit FNV-1a hash over every slot field in a
// fixed order. Equal slots hash equal across process restarts, which
// makes the hash usable as a persistent session key.
func (s Slot) Fingerprint() uint64 {
	h := fnv.New64a()
	writeField(h, s.Name)
	writeField(h, s.Prompt)
	writeField(h, string(s.Kind))
	writeField(h, s.Default)
	if s.Required {
		writeField(h, "1")
	} else {
		writeField(h, "0")
	}
	if s.Temperature != nil {
		fmt.Fprintf(h, "%g", *s.Temperature)
	}
	h.Write([]byte{0})
	if c := s.Constraints; c != nil {
		fmt.Fprintf(h, "%d|%d", c.MaxLines, c.MaxChars)
		for _, imp := range c.RequiredImports {
			writeField(h, imp)
		}
		for _, pat := range c.ForbiddenPatterns {
			writeField(h, pat)
		}
		writeField(h, c.Language)
		writeField(h, c.TestHarness)
		writeField(h, c.TestCommand)
	}
	return h.Sum64()
}

func writeField(h io.Writer, s string) {
	io.WriteString(h, s)
	h.Write([]byte{0})
}
