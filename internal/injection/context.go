// Package injection carries the structured context that rides along
// with every slot prompt: project facts, style rules, imports and the
// code surrounding the insertion point.
package injection

import (
	"fmt"
	"hash/fnv"
	"io"
	"sort"
	"strings"

	"foundry/internal/toon"
)

// StyleGuide pins the formatting conventions generated code must
// follow. Zero fields are omitted from prompts.
type StyleGuide struct {
	IndentStyle   string // "spaces" or "tabs"
	IndentSize    int
	MaxLineLength int
	QuoteStyle    string // "single" or "double"
	Semicolons    *bool
	Naming        string // e.g. "camelCase", "snake_case"
}

func (s *StyleGuide) describe() string {
	var b strings.Builder
	b.WriteString("Style guide:\n")
	if s.IndentStyle == "spaces" && s.IndentSize > 0 {
		fmt.Fprintf(&b, "  Indentation: %d spaces\n", s.IndentSize)
	} else if s.IndentStyle != "" {
		fmt.Fprintf(&b, "  Indentation: %s\n", s.IndentStyle)
	}
	if s.MaxLineLength > 0 {
		fmt.Fprintf(&b, "  Max line length: %d\n", s.MaxLineLength)
	}
	if s.QuoteStyle != "" {
		fmt.Fprintf(&b, "  Quotes: %s\n", s.QuoteStyle)
	}
	if s.Semicolons != nil {
		fmt.Fprintf(&b, "  Semicolons: %v\n", *s.Semicolons)
	}
	if s.Naming != "" {
		fmt.Fprintf(&b, "  Naming: %s\n", s.Naming)
	}
	return b.String()
}

// Context is the structured generation context. It is a plain value;
// the With* builders return modified copies and never alias the
// receiver's maps or slices, so contexts can be shared across
// concurrent generation tasks.
type Context struct {
	Project         string
	Language        string
	Framework       string
	Style           *StyleGuide
	SurroundingCode string
	Imports         []string
	Variables       map[string]string

	// Extra holds caller-defined entries that only surface in the
	// TOON-compressed form, not in the plain prompt text.
	Extra map[string]any
}

// New returns an empty context.
func New() Context { return Context{} }

// WithProject returns a copy naming the enclosing project.
func (c Context) WithProject(name string) Context {
	c.Project = name
	return c
}

// WithLanguage returns a copy naming the target language.
func (c Context) WithLanguage(lang string) Context {
	c.Language = lang
	return c
}

// WithFramework returns a copy naming the target framework.
func (c Context) WithFramework(fw string) Context {
	c.Framework = fw
	return c
}

// WithStyle returns a copy carrying a style guide.
func (c Context) WithStyle(s StyleGuide) Context {
	c.Style = &s
	return c
}

// WithSurroundingCode returns a copy carrying the code around the
// insertion point.
func (c Context) WithSurroundingCode(code string) Context {
	c.SurroundingCode = code
	return c
}

// WithImports returns a copy with the given imports appended.
func (c Context) WithImports(imports ...string) Context {
	c.Imports = append(append([]string(nil), c.Imports...), imports...)
	return c
}

// WithVariable returns a copy with one template variable set.
func (c Context) WithVariable(key, value string) Context {
	vars := make(map[string]string, len(c.Variables)+1)
	for k, v := range c.Variables {
		vars[k] = v
	}
	vars[key] = value
	c.Variables = vars
	return c
}

// WithExtra returns a copy with one caller-defined entry set.
func (c Context) WithExtra(key string, value any) Context {
	extra := make(map[string]any, len(c.Extra)+1)
	for k, v := range c.Extra {
		extra[k] = v
	}
	extra[key] = value
	c.Extra = extra
	return c
}

// Merge overlays other onto c and returns the result. Scalar fields
// from other win when set, imports concatenate, and map entries from
// other win on key clashes.
func (c Context) Merge(other Context) Context {
	out := c
	if other.Project != "" {
		out.Project = other.Project
	}
	if other.Language != "" {
		out.Language = other.Language
	}
	if other.Framework != "" {
		out.Framework = other.Framework
	}
	if other.Style != nil {
		out.Style = other.Style
	}
	if other.SurroundingCode != "" {
		out.SurroundingCode = other.SurroundingCode
	}
	if len(other.Imports) > 0 {
		out.Imports = append(append([]string(nil), c.Imports...), other.Imports...)
	}
	if len(other.Variables) > 0 {
		vars := make(map[string]string, len(c.Variables)+len(other.Variables))
		for k, v := range c.Variables {
			vars[k] = v
		}
		for k, v := range other.Variables {
			vars[k] = v
		}
		out.Variables = vars
	}
	if len(other.Extra) > 0 {
		extra := make(map[string]any, len(c.Extra)+len(other.Extra))
		for k, v := range c.Extra {
			extra[k] = v
		}
		for k, v := range other.Extra {
			extra[k] = v
		}
		out.Extra = extra
	}
	return out
}

// IsEmpty reports whether the context carries no information at all.
func (c Context) IsEmpty() bool {
	return c.Project == "" && c.Language == "" && c.Framework == "" &&
		c.Style == nil && c.SurroundingCode == "" &&
		len(c.Imports) == 0 && len(c.Variables) == 0 && len(c.Extra) == 0
}

// ToPrompt renders the context as plain prompt text. Field order is
// fixed and map keys are sorted, so equal contexts always produce
// identical prompts.
func (c Context) ToPrompt() string {
	var b strings.Builder
	if c.Project != "" {
		fmt.Fprintf(&b, "Project: %s\n", c.Project)
	}
	if c.Language != "" {
		fmt.Fprintf(&b, "Language: %s\n", c.Language)
	}
	if c.Framework != "" {
		fmt.Fprintf(&b, "Framework: %s\n", c.Framework)
	}
	if c.Style != nil {
		b.WriteString(c.Style.describe())
	}
	if len(c.Variables) > 0 {
		b.WriteString("Variables:\n")
		keys := make([]string, 0, len(c.Variables))
		for k := range c.Variables {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(&b, "  %s = %s\n", k, c.Variables[k])
		}
	}
	if len(c.Imports) > 0 {
		b.WriteString("Available imports:\n")
		for _, imp := range c.Imports {
			fmt.Fprintf(&b, "  - %s\n", imp)
		}
	}
	if c.SurroundingCode != "" {
		b.WriteString("Surrounding code:\n```\n")
		b.WriteString(c.SurroundingCode)
		if !strings.HasSuffix(c.SurroundingCode, "\n") {
			b.WriteByte('\n')
		}
		b.WriteString("```\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

// Value builds the tree handed to the TOON encoder. Extra entries are
// written first, so the built-in field names always win on a clash.
func (c Context) Value() map[string]any {
	m := make(map[string]any, len(c.Extra)+8)
	for k, v := range c.Extra {
		m[k] = v
	}
	if c.Project != "" {
		m["project"] = c.Project
	}
	if c.Language != "" {
		m["language"] = c.Language
	}
	if c.Framework != "" {
		m["framework"] = c.Framework
	}
	if s := c.Style; s != nil {
		style := make(map[string]any)
		if s.IndentStyle != "" {
			style["indent"] = s.IndentStyle
		}
		if s.IndentSize > 0 {
			style["indent_size"] = s.IndentSize
		}
		if s.MaxLineLength > 0 {
			style["max_line_length"] = s.MaxLineLength
		}
		if s.QuoteStyle != "" {
			style["quotes"] = s.QuoteStyle
		}
		if s.Semicolons != nil {
			style["semicolons"] = *s.Semicolons
		}
		if s.Naming != "" {
			style["naming"] = s.Naming
		}
		m["style"] = style
	}
	if len(c.Imports) > 0 {
		imports := make([]any, len(c.Imports))
		for i, imp := range c.Imports {
			imports[i] = imp
		}
		m["imports"] = imports
	}
	if len(c.Variables) > 0 {
		vars := make(map[string]any, len(c.Variables))
		for k, v := range c.Variables {
			vars[k] = v
		}
		m["variables"] = vars
	}
	if c.SurroundingCode != "" {
		m["surrounding_code"] = c.SurroundingCode
	}
	return m
}

// Fingerprint hashes the canonical TOON encoding of the context with
// FNV-1a. TOON output is deterministic, so the fingerprint is stable
// across process restarts and usable as a persistent session key.
func (c Context) Fingerprint() uint64 {
	h := fnv.New64a()
	if enc, err := toon.Encode(c.Value()); err == nil {
		io.WriteString(h, enc)
	} else {
		io.WriteString(h, c.ToPrompt())
	}
	return h.Sum64()
}
