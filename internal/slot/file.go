package slot

import (
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

type fileEntry struct {
	Prompt      string           `yaml:"prompt"`
	Kind        string           `yaml:"kind"`
	Required    *bool            `yaml:"required"`
	Default     string           `yaml:"default"`
	Temperature *float64         `yaml:"temperature"`
	Constraints *fileConstraints `yaml:"constraints"`
}

type fileConstraints struct {
	MaxLines          int      `yaml:"max_lines"`
	MaxChars          int      `yaml:"max_chars"`
	RequiredImports   []string `yaml:"required_imports"`
	ForbiddenPatterns []string `yaml:"forbidden_patterns"`
	Language          string   `yaml:"language"`
	TestHarness       string   `yaml:"test_harness"`
	TestCommand       string   `yaml:"test_command"`
}

// LoadFile reads slot definitions from a YAML document shaped as
//
//	slots:
//	  header:
//	    prompt: Generate the page header
//	    kind: html
//	    constraints:
//	      max_lines: 12
//
// Slots come back sorted by name. Omitted fields keep New's defaults;
// an omitted prompt derives one from the slot name.
func LoadFile(path string) ([]Slot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read slot file: %w", err)
	}

	var doc struct {
		Slots map[string]fileEntry `yaml:"slots"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse slot file: %w", err)
	}

	names := make([]string, 0, len(doc.Slots))
	for name := range doc.Slots {
		names = append(names, name)
	}
	sort.Strings(names)

	slots := make([]Slot, 0, len(names))
	for _, name := range names {
		entry := doc.Slots[name]

		s := New(name, entry.Prompt)
		if entry.Prompt == "" {
			s = Auto(name)
		}
		if entry.Kind != "" {
			s = s.WithKind(ParseKind(entry.Kind))
		}
		if entry.Default != "" {
			s = s.WithDefault(entry.Default)
		}
		if entry.Temperature != nil {
			s = s.WithTemperature(*entry.Temperature)
		}
		if c := entry.Constraints; c != nil {
			s = s.WithConstraints(Constraints{
				MaxLines:          c.MaxLines,
				MaxChars:          c.MaxChars,
				RequiredImports:   c.RequiredImports,
				ForbiddenPatterns: c.ForbiddenPatterns,
				Language:          c.Language,
				TestHarness:       c.TestHarness,
				TestCommand:       c.TestCommand,
			})
		}
		if entry.Required != nil {
			s.Required = *entry.Required
		}
		slots = append(slots, s)
	}
	return slots, nil
}
