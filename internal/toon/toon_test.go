package toon

import (
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestEncodeScalars(t *testing.T) {
	tests := []struct {
		name string
		in   any
		want string
	}{
		{"null", nil, "~\n"},
		{"true", true, "T\n"},
		{"false", false, "F\n"},
		{"int", 42, "42\n"},
		{"negative", -7, "-7\n"},
		{"float", 2.5, "2.5\n"},
		{"integral float keeps fraction", 2.0, "2.0\n"},
		{"string", "hello", "hello\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Encode(tt.in)
			if err != nil {
				t.Fatalf("Encode(%v): %v", tt.in, err)
			}
			if got != tt.want {
				t.Errorf("Encode(%v) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestEncodeObjectSortsKeys(t *testing.T) {
	in := map[string]any{
		"zeta":  1,
		"alpha": "x",
		"mid": map[string]any{
			"b": true,
			"a": nil,
		},
	}
	want := strings.Join([]string{
		"alpha: x",
		"mid:",
		"  a: ~",
		"  b: T",
		"zeta: 1",
		"",
	}, "\n")

	got, err := Encode(in)
	if err != nil {
		t.Fatal(err)
	}
	if got != want {
		t.Errorf("Encode mismatch:\ngot:\n%s\nwant:\n%s", got, want)
	}

	// Sorted keys make output independent of map iteration order.
	again, err := Encode(in)
	if err != nil {
		t.Fatal(err)
	}
	if again != got {
		t.Error("Encode is not deterministic")
	}
}

func TestEncodeTabular(t *testing.T) {
	in := map[string]any{
		"items": []any{
			map[string]any{"id": 1, "name": "Apple", "price": 10},
			map[string]any{"id": 2, "name": "Banana", "price": 5},
		},
	}
	want := strings.Join([]string{
		"items[2]:",
		"  {id,name,price}:",
		"    1,Apple,10",
		"    2,Banana,5",
		"",
	}, "\n")

	got, err := Encode(in)
	if err != nil {
		t.Fatal(err)
	}
	if got != want {
		t.Errorf("Encode mismatch:\ngot:\n%s\nwant:\n%s", got, want)
	}
}

func TestEncodeScalarList(t *testing.T) {
	in := map[string]any{"tags": []any{"red", "green", "blue"}}
	want := strings.Join([]string{
		"tags[3]:",
		"  - red",
		"  - green",
		"  - blue",
		"",
	}, "\n")

	got, err := Encode(in)
	if err != nil {
		t.Fatal(err)
	}
	if got != want {
		t.Errorf("Encode mismatch:\ngot:\n%s\nwant:\n%s", got, want)
	}
}

func TestTabularEscapesCommas(t *testing.T) {
	in := []any{
		map[string]any{"name": "a,b", "n": 1},
		map[string]any{"name": "plain", "n": 2},
	}
	got, err := Encode(in)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(got, `a\,b`) {
		t.Errorf("comma not escaped in %q", got)
	}

	decoded, err := Decode(got)
	if err != nil {
		t.Fatal(err)
	}
	arr, ok := decoded.([]any)
	if !ok || len(arr) != 2 {
		t.Fatalf("decoded %T, want 2-element array", decoded)
	}
	first := arr[0].(map[string]any)
	if first["name"] != "a,b" {
		t.Errorf("name = %v, want a,b", first["name"])
	}
}

func TestMissingTabularFieldRendersNull(t *testing.T) {
	in := []any{
		map[string]any{"id": int64(1), "name": "full"},
		map[string]any{"id": int64(2)},
	}
	got, err := Encode(in)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(got, "2,~") {
		t.Errorf("missing field not rendered as ~ in %q", got)
	}
}

func TestRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		in   any
	}{
		{
			"flat object",
			map[string]any{"a": int64(1), "b": "two", "c": true, "d": nil, "e": 2.5},
		},
		{
			"nested object",
			map[string]any{
				"project": "shop",
				"meta": map[string]any{
					"version": int64(3),
					"beta":    false,
				},
			},
		},
		{
			"uniform object array",
			map[string]any{
				"users": []any{
					map[string]any{"id": int64(1), "name": "ada", "admin": true},
					map[string]any{"id": int64(2), "name": "bob", "admin": false},
				},
			},
		},
		{
			"scalar array",
			map[string]any{"tags": []any{"x", "y", "z"}},
		},
		{
			"numbers in lists",
			map[string]any{"nums": []any{int64(1), 2.5, int64(-3)}},
		},
		{
			"empty array",
			map[string]any{"none": []any{}},
		},
		{
			"empty object",
			map[string]any{},
		},
		{
			"deep mix",
			map[string]any{
				"svc": map[string]any{
					"name":  "api",
					"ports": []any{int64(80), int64(443)},
					"endpoints": []any{
						map[string]any{"path": "/a", "auth": true},
						map[string]any{"path": "/b", "auth": false},
					},
				},
			},
		},
		{
			"top level tabular",
			[]any{
				map[string]any{"k": "a", "v": int64(1)},
				map[string]any{"k": "b", "v": int64(2)},
			},
		},
		{
			"top level list",
			[]any{"one", "two"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			encoded, err := Encode(tt.in)
			if err != nil {
				t.Fatalf("Encode: %v", err)
			}
			decoded, err := Decode(encoded)
			if err != nil {
				t.Fatalf("Decode(%q): %v", encoded, err)
			}
			if diff := cmp.Diff(tt.in, decoded); diff != "" {
				t.Errorf("round trip mismatch (-want +got):\n%s\nencoded:\n%s", diff, encoded)
			}
		})
	}
}

func TestDecodePrimitiveOrder(t *testing.T) {
	tests := []struct {
		in   string
		want any
	}{
		{"~", nil},
		{"T", true},
		{"F", false},
		{"42", int64(42)},
		{"-1", int64(-1)},
		{"2.5", 2.5},
		{"2.0", 2.0},
		{"1e3", 1000.0},
		{"hello", "hello"},
		{"4two", "4two"},
	}
	for _, tt := range tests {
		if got := primitive(tt.in); got != tt.want {
			t.Errorf("primitive(%q) = %v (%T), want %v (%T)", tt.in, got, got, tt.want, tt.want)
		}
	}
}

func TestDecodeErrors(t *testing.T) {
	tests := []struct {
		name string
		in   string
	}{
		{"odd indent", "a:\n   b: 1\n"},
		{"tab indent", "a:\n\tb: 1\n"},
		{"row arity", "items[1]:\n  {a,b}:\n    1\n"},
		{"count mismatch", "items[3]:\n  - a\n  - b\n"},
		{"garbage", "just some words\nmore words\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Decode(tt.in); err == nil {
				t.Errorf("Decode(%q) succeeded, want error", tt.in)
			}
		})
	}
}

func TestDecodeEmptyInput(t *testing.T) {
	got, err := Decode("")
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(map[string]any{}, got); diff != "" {
		t.Errorf("empty input (-want +got):\n%s", diff)
	}
}

func TestCompressionRatio(t *testing.T) {
	rows := make([]any, 50)
	for i := range rows {
		rows[i] = map[string]any{"id": int64(i), "name": "item", "active": true}
	}
	v := map[string]any{"rows": rows}

	encoded, err := Encode(v)
	if err != nil {
		t.Fatal(err)
	}
	if ratio := CompressionRatio(v, encoded); ratio >= 1 {
		t.Errorf("ratio = %v, want < 1 for a uniform array", ratio)
	}
}
