// Package template parses documents containing {{AI:name}} markers and
// renders them by splicing generated fragments over the marker spans.
package template

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"foundry/internal/slot"
)

// Marker grammar: {{AI:name}} or {{AI:name:kind}}. Names are
// identifiers, kind hints are alphabetic. Anything else in the
// document is inert text.
var markerRe = regexp.MustCompile(`\{\{AI:([a-zA-Z_][a-zA-Z0-9_]*)(?::([a-zA-Z]+))?\}\}`)

// MissingSlotError reports a required slot with no generated value, or
// a lookup for a slot the template does not define.
type MissingSlotError struct {
	Slot string
}

func (e *MissingSlotError) Error() string {
	return fmt.Sprintf("missing slot %q", e.Slot)
}

// Metadata carries descriptive facts about a template. Nothing in the
// render pipeline reads it; it travels with the template for callers
// that catalog or publish them.
type Metadata struct {
	Description string
	Language    string
	Author      string
	Version     string
}

// Template is a document plus the slot definitions for its markers.
// Builders mutate the receiver and return it for chaining; configure a
// template fully before handing it to concurrent renders.
type Template struct {
	Content  string
	Name     string
	Source   string
	Slots    map[string]slot.Slot
	Metadata Metadata
}

// New parses content and registers an auto-prompted slot per distinct
// marker name. A marker kind hint overrides the slot kind; when a name
// appears several times the last hint wins and all spans share the one
// slot definition.
func New(content string) *Template {
	t := &Template{Content: content, Slots: make(map[string]slot.Slot)}
	for _, m := range markerRe.FindAllStringSubmatch(content, -1) {
		name, hint := m[1], m[2]
		s, ok := t.Slots[name]
		if !ok {
			s = slot.Auto(name)
		}
		if hint != "" {
			s = s.WithKind(slot.ParseKind(hint))
		}
		t.Slots[name] = s
	}
	return t
}

// FromFile reads a template document from disk. The template name is
// the file's base name without extension.
func FromFile(path string) (*Template, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read template: %w", err)
	}
	t := New(string(data))
	t.Source = path
	base := filepath.Base(path)
	t.Name = strings.TrimSuffix(base, filepath.Ext(base))
	return t, nil
}

// WithName sets a display name used in observer events and logs.
func (t *Template) WithName(name string) *Template {
	t.Name = name
	return t
}

// WithMetadata attaches descriptive metadata.
func (t *Template) WithMetadata(m Metadata) *Template {
	t.Metadata = m
	return t
}

// ConfigureSlot replaces the definition for s.Name. Configuring a slot
// that never appears in the content is legal; it is kept but never
// rendered.
func (t *Template) ConfigureSlot(s slot.Slot) *Template {
	t.Slots[s.Name] = s
	return t
}

// WithSlot sets an explicit prompt for name, preserving any kind the
// marker hint already established.
func (t *Template) WithSlot(name, prompt string) *Template {
	s, ok := t.Slots[name]
	if !ok {
		s = slot.New(name, prompt)
	} else {
		s = s.WithPrompt(prompt)
	}
	t.Slots[name] = s
	return t
}

// Slot returns the definition for name.
func (t *Template) Slot(name string) (slot.Slot, bool) {
	s, ok := t.Slots[name]
	return s, ok
}

// SlotNames lists every defined slot in sorted order, including
// configured slots without markers.
func (t *Template) SlotNames() []string {
	names := make([]string, 0, len(t.Slots))
	for name := range t.Slots {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// OrderedNames lists referenced slots in order of first appearance in
// the content. Configured but unreferenced slots are excluded.
func (t *Template) OrderedNames() []string {
	seen := make(map[string]bool)
	var names []string
	for _, loc := range t.locations() {
		if !seen[loc.name] {
			seen[loc.name] = true
			names = append(names, loc.name)
		}
	}
	return names
}

type location struct {
	start, end int
	name       string
}

func (t *Template) locations() []location {
	idx := markerRe.FindAllStringSubmatchIndex(t.Content, -1)
	locs := make([]location, 0, len(idx))
	for _, m := range idx {
		locs = append(locs, location{start: m[0], end: m[1], name: t.Content[m[2]:m[3]]})
	}
	return locs
}

// Render splices injections over their marker spans, replacing back to
// front so earlier offsets stay valid. A required slot with no
// injection aborts the render; optional slots fall back to their
// default. Injections for unknown names are ignored.
func (t *Template) Render(injections map[string]string) (string, error) {
	locs := t.locations()
	sort.Slice(locs, func(i, j int) bool { return locs[i].start > locs[j].start })

	out := t.Content
	for _, loc := range locs {
		text, ok := injections[loc.name]
		if !ok {
			s, exists := t.Slots[loc.name]
			if !exists || s.Required {
				return "", &MissingSlotError{Slot: loc.name}
			}
			text = s.Default
		}
		out = out[:loc.start] + text + out[loc.end:]
	}
	return out, nil
}
