package template

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"foundry/internal/slot"
)

func TestNewParsesMarkers(t *testing.T) {
	tmpl := New("Hello {{AI:greeting}} and {{AI:footer:html}}")

	if len(tmpl.Slots) != 2 {
		t.Fatalf("parsed %d slots, want 2", len(tmpl.Slots))
	}
	greeting, ok := tmpl.Slot("greeting")
	if !ok {
		t.Fatal("greeting slot missing")
	}
	if greeting.Prompt != "Generate code for: greeting" {
		t.Errorf("auto prompt = %q", greeting.Prompt)
	}
	if greeting.Kind != slot.KindRaw {
		t.Errorf("greeting kind = %q, want raw", greeting.Kind)
	}
	footer, _ := tmpl.Slot("footer")
	if footer.Kind != slot.KindHTML {
		t.Errorf("footer kind = %q, want html", footer.Kind)
	}
}

func TestKindHintAliases(t *testing.T) {
	tmpl := New("{{AI:a:fn}} {{AI:b:struct}} {{AI:c:js}}")
	wants := map[string]slot.Kind{
		"a": slot.KindFunction,
		"b": slot.KindClass,
		"c": slot.KindScript,
	}
	for name, want := range wants {
		s, _ := tmpl.Slot(name)
		if s.Kind != want {
			t.Errorf("slot %s kind = %q, want %q", name, s.Kind, want)
		}
	}
}

func TestDuplicateMarkersShareOneSlot(t *testing.T) {
	tmpl := New("{{AI:x}} middle {{AI:x:css}} end {{AI:x}}")

	if len(tmpl.Slots) != 1 {
		t.Fatalf("parsed %d slots, want 1", len(tmpl.Slots))
	}
	s, _ := tmpl.Slot("x")
	if s.Kind != slot.KindCSS {
		t.Errorf("kind = %q, want css from the hinted marker", s.Kind)
	}
	if got := tmpl.OrderedNames(); !reflect.DeepEqual(got, []string{"x"}) {
		t.Errorf("OrderedNames() = %v", got)
	}
}

func TestOrderedNamesFollowsAppearance(t *testing.T) {
	tmpl := New("{{AI:zeta}} {{AI:alpha}} {{AI:zeta}} {{AI:mid}}")
	want := []string{"zeta", "alpha", "mid"}
	if got := tmpl.OrderedNames(); !reflect.DeepEqual(got, want) {
		t.Errorf("OrderedNames() = %v, want %v", got, want)
	}
}

func TestConfiguredUnreferencedSlotIsNeverRendered(t *testing.T) {
	tmpl := New("static text only").
		ConfigureSlot(slot.New("ghost", "Generate something"))

	if got := tmpl.OrderedNames(); len(got) != 0 {
		t.Errorf("OrderedNames() = %v, want empty", got)
	}
	out, err := tmpl.Render(nil)
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if out != "static text only" {
		t.Errorf("Render() = %q", out)
	}
}

func TestRenderSplicesInjections(t *testing.T) {
	tmpl := New("<div>{{AI:content}}</div>")
	out, err := tmpl.Render(map[string]string{"content": "<p>Hello World</p>"})
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if out != "<div><p>Hello World</p></div>" {
		t.Errorf("Render() = %q", out)
	}
}

func TestRenderReplacesEverySpan(t *testing.T) {
	tmpl := New("{{AI:x}}-{{AI:x}}")
	out, err := tmpl.Render(map[string]string{"x": "v"})
	if err != nil {
		t.Fatal(err)
	}
	if out != "v-v" {
		t.Errorf("Render() = %q, want v-v", out)
	}
}

func TestRenderMissingRequiredSlot(t *testing.T) {
	tmpl := New("{{AI:body}}")
	_, err := tmpl.Render(map[string]string{})
	if err == nil {
		t.Fatal("expected an error for the missing required slot")
	}
	var missing *MissingSlotError
	if !errors.As(err, &missing) {
		t.Fatalf("error type %T, want *MissingSlotError", err)
	}
	if missing.Slot != "body" {
		t.Errorf("Slot = %q, want body", missing.Slot)
	}
}

func TestRenderOptionalFallsBackToDefault(t *testing.T) {
	tmpl := New("start {{AI:extra}} end")
	tmpl.ConfigureSlot(slot.New("extra", "p").WithDefault("[none]"))

	out, err := tmpl.Render(map[string]string{})
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if out != "start [none] end" {
		t.Errorf("Render() = %q", out)
	}
}

func TestRenderOptionalWithoutDefaultUsesEmpty(t *testing.T) {
	tmpl := New("a{{AI:gap}}b")
	tmpl.ConfigureSlot(slot.New("gap", "p").Optional())

	out, err := tmpl.Render(nil)
	if err != nil {
		t.Fatal(err)
	}
	if out != "ab" {
		t.Errorf("Render() = %q, want ab", out)
	}
}

func TestRenderIgnoresUnknownInjections(t *testing.T) {
	tmpl := New("{{AI:a}}")
	out, err := tmpl.Render(map[string]string{"a": "x", "stray": "y"})
	if err != nil {
		t.Fatal(err)
	}
	if out != "x" {
		t.Errorf("Render() = %q", out)
	}
}

func TestWithSlotPreservesHintKind(t *testing.T) {
	tmpl := New("{{AI:widget:component}}").
		WithSlot("widget", "Generate a date picker widget")

	s, _ := tmpl.Slot("widget")
	if s.Prompt != "Generate a date picker widget" {
		t.Errorf("Prompt = %q", s.Prompt)
	}
	if s.Kind != slot.KindComponent {
		t.Errorf("Kind = %q, want component to survive WithSlot", s.Kind)
	}
}

func TestWithMetadata(t *testing.T) {
	tmpl := New("{{AI:body}}").WithMetadata(Metadata{
		Description: "landing page shell",
		Language:    "html",
		Version:     "1.2.0",
	})

	if tmpl.Metadata.Description != "landing page shell" {
		t.Errorf("Description = %q", tmpl.Metadata.Description)
	}
	if tmpl.Metadata.Language != "html" {
		t.Errorf("Language = %q", tmpl.Metadata.Language)
	}
}

func TestFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "page.html.tmpl")
	content := "<html>{{AI:head:html}}</html>"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	tmpl, err := FromFile(path)
	if err != nil {
		t.Fatalf("FromFile: %v", err)
	}
	if tmpl.Name != "page.html" {
		t.Errorf("Name = %q, want page.html", tmpl.Name)
	}
	if tmpl.Source != path {
		t.Errorf("Source = %q", tmpl.Source)
	}
	if _, ok := tmpl.Slot("head"); !ok {
		t.Error("head slot not parsed from file")
	}
}

func TestFromFileMissing(t *testing.T) {
	if _, err := FromFile(filepath.Join(t.TempDir(), "absent.tmpl")); err == nil {
		t.Fatal("expected an error for a missing file")
	}
}

func TestSlotNamesSorted(t *testing.T) {
	tmpl := New("{{AI:zz}} {{AI:aa}}").ConfigureSlot(slot.New("mm", "p"))
	want := []string{"aa", "mm", "zz"}
	if got := tmpl.SlotNames(); !reflect.DeepEqual(got, want) {
		t.Errorf("SlotNames() = %v, want %v", got, want)
	}
}
