// Package toon implements the token-oriented object notation used to
// compress structured context before it is embedded in a prompt.
//
// TOON trades JSON's punctuation for indentation, which materially cuts
// the token count of large structured payloads on typical model
// tokenizers. Uniform arrays of objects collapse into a tabular form
// with a single {field,field}: header and one comma-joined row per
// element.
//
// Scalars use a compact spelling: ~ is null, T and F are booleans,
// numbers keep their natural form and strings are written verbatim.
// Because strings are unquoted, a string that itself spells a primitive
// ("T", "42") decodes as that primitive, and values holding newlines or
// keys holding ':' or ',' are not round-trip safe. Mixed-shape arrays
// fall back to a lossy "- value" listing. Everything else round-trips
// through Decode.
//
// Encode output is deterministic: object keys are emitted in sorted
// order, so equal trees always produce identical text.
package toon

import (
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

const indentUnit = "  "

var arrayHeaderRe = regexp.MustCompile(`^([^:\[\]]+)\[(\d+)\]:$`)

// =============================================================================
// ENCODING
// =============================================================================

// Encode renders a value tree as TOON text. Maps must be keyed by
// strings; slices, arrays and typed maps are accepted and treated as
// []any / map[string]any. Integers decode back as int64 and fractional
// numbers as float64.
func Encode(v any) (string, error) {
	var b strings.Builder
	switch val := normalize(v).(type) {
	case map[string]any:
		if err := encodeObject(&b, val, 0); err != nil {
			return "", err
		}
	case []any:
		if err := encodeArray(&b, val, 0); err != nil {
			return "", err
		}
	default:
		s, err := scalar(val)
		if err != nil {
			return "", err
		}
		b.WriteString(s)
		b.WriteByte('\n')
	}
	return b.String(), nil
}

func encodeObject(b *strings.Builder, m map[string]any, depth int) error {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	pad := strings.Repeat(indentUnit, depth)
	for _, k := range keys {
		switch cv := normalize(m[k]).(type) {
		case map[string]any:
			b.WriteString(pad)
			b.WriteString(k)
			b.WriteString(":\n")
			if err := encodeObject(b, cv, depth+1); err != nil {
				return err
			}
		case []any:
			fmt.Fprintf(b, "%s%s[%d]:\n", pad, k, len(cv))
			if err := encodeArray(b, cv, depth+1); err != nil {
				return err
			}
		default:
			s, err := scalar(cv)
			if err != nil {
				return fmt.Errorf("key %q: %w", k, err)
			}
			b.WriteString(pad)
			b.WriteString(k)
			b.WriteString(": ")
			b.WriteString(s)
			b.WriteByte('\n')
		}
	}
	return nil
}

func encodeArray(b *strings.Builder, arr []any, depth int) error {
	if len(arr) == 0 {
		return nil
	}
	if fields, ok := tabularFields(arr); ok {
		return encodeTabular(b, arr, fields, depth)
	}

	pad := strings.Repeat(indentUnit, depth)
	for i, el := range arr {
		s, err := inline(normalize(el))
		if err != nil {
			return fmt.Errorf("element %d: %w", i, err)
		}
		b.WriteString(pad)
		b.WriteString("- ")
		b.WriteString(s)
		b.WriteByte('\n')
	}
	return nil
}

// tabularFields reports whether arr qualifies for the tabular form and
// returns its field set. All elements must be objects whose keys are a
// subset of the first element's keys, with scalar values throughout.
// Fields absent from a later element render as ~.
func tabularFields(arr []any) ([]string, bool) {
	first, ok := normalize(arr[0]).(map[string]any)
	if !ok {
		return nil, false
	}
	fields := make([]string, 0, len(first))
	for k := range first {
		if strings.ContainsAny(k, ",{}") {
			return nil, false
		}
		fields = append(fields, k)
	}
	sort.Strings(fields)

	known := make(map[string]bool, len(fields))
	for _, f := range fields {
		known[f] = true
	}
	for _, el := range arr {
		m, ok := normalize(el).(map[string]any)
		if !ok {
			return nil, false
		}
		for k, v := range m {
			if !known[k] || !isScalar(normalize(v)) {
				return nil, false
			}
		}
	}
	return fields, true
}

func encodeTabular(b *strings.Builder, arr []any, fields []string, depth int) error {
	pad := strings.Repeat(indentUnit, depth)
	b.WriteString(pad)
	b.WriteByte('{')
	b.WriteString(strings.Join(fields, ","))
	b.WriteString("}:\n")

	rowPad := strings.Repeat(indentUnit, depth+1)
	cells := make([]string, len(fields))
	for _, el := range arr {
		m := normalize(el).(map[string]any)
		for i, f := range fields {
			v, ok := m[f]
			if !ok {
				cells[i] = "~"
				continue
			}
			s, err := scalar(normalize(v))
			if err != nil {
				return fmt.Errorf("field %q: %w", f, err)
			}
			cells[i] = strings.ReplaceAll(s, ",", "\\,")
		}
		b.WriteString(rowPad)
		b.WriteString(strings.Join(cells, ","))
		b.WriteByte('\n')
	}
	return nil
}

func scalar(v any) (string, error) {
	switch val := v.(type) {
	case nil:
		return "~", nil
	case bool:
		if val {
			return "T", nil
		}
		return "F", nil
	case string:
		return val, nil
	case int:
		return strconv.Itoa(val), nil
	case int8:
		return strconv.FormatInt(int64(val), 10), nil
	case int16:
		return strconv.FormatInt(int64(val), 10), nil
	case int32:
		return strconv.FormatInt(int64(val), 10), nil
	case int64:
		return strconv.FormatInt(val, 10), nil
	case uint:
		return strconv.FormatUint(uint64(val), 10), nil
	case uint8:
		return strconv.FormatUint(uint64(val), 10), nil
	case uint16:
		return strconv.FormatUint(uint64(val), 10), nil
	case uint32:
		return strconv.FormatUint(uint64(val), 10), nil
	case uint64:
		return strconv.FormatUint(val, 10), nil
	case float32:
		return formatFloat(float64(val)), nil
	case float64:
		return formatFloat(val), nil
	}
	return "", fmt.Errorf("unsupported value type %T", v)
}

// formatFloat keeps a fractional digit on integral floats so 2.0 does
// not decode back as int64(2).
func formatFloat(f float64) string {
	if f == math.Trunc(f) && !math.IsInf(f, 0) && !math.IsNaN(f) {
		return strconv.FormatFloat(f, 'f', 1, 64)
	}
	return strconv.FormatFloat(f, 'g', -1, 64)
}

func isScalar(v any) bool {
	switch v.(type) {
	case nil, bool, string,
		int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64,
		float32, float64:
		return true
	}
	return false
}

// inline renders one element of a non-uniform array on a single line.
// Nested structures degrade to compact JSON and do not round-trip.
func inline(v any) (string, error) {
	if isScalar(v) {
		return scalar(v)
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("inline element: %w", err)
	}
	return string(raw), nil
}

// normalize widens typed slices and string-keyed maps into the []any /
// map[string]any shapes the encoder walks.
func normalize(v any) any {
	switch v.(type) {
	case nil, bool, string,
		int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64,
		float32, float64,
		map[string]any, []any:
		return v
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		out := make([]any, rv.Len())
		for i := range out {
			out[i] = rv.Index(i).Interface()
		}
		return out
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			return v
		}
		out := make(map[string]any, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			out[iter.Key().String()] = iter.Value().Interface()
		}
		return out
	case reflect.Pointer:
		if rv.IsNil() {
			return nil
		}
		return normalize(rv.Elem().Interface())
	}
	return v
}

// =============================================================================
// DECODING
// =============================================================================

type line struct {
	depth int
	text  string
	num   int
}

// Decode parses TOON text back into a value tree of map[string]any,
// []any, int64, float64, bool, string and nil. Empty input decodes as
// an empty object.
func Decode(input string) (any, error) {
	lines, err := splitLines(input)
	if err != nil {
		return nil, err
	}
	if len(lines) == 0 {
		return map[string]any{}, nil
	}

	var (
		v   any
		pos int
	)
	first := lines[0].text
	if isTabularHeader(first) || strings.HasPrefix(first, "- ") {
		v, pos, err = parseArray(lines, 0, 0)
	} else if len(lines) == 1 && !strings.Contains(first, ": ") && !strings.HasSuffix(first, ":") {
		return primitive(first), nil
	} else {
		v, pos, err = parseObject(lines, 0, 0)
	}
	if err != nil {
		return nil, err
	}
	if pos != len(lines) {
		return nil, fmt.Errorf("line %d: unexpected indentation", lines[pos].num)
	}
	return v, nil
}

func splitLines(input string) ([]line, error) {
	var out []line
	for i, raw := range strings.Split(input, "\n") {
		raw = strings.TrimSuffix(raw, "\r")
		if strings.TrimSpace(raw) == "" {
			continue
		}
		if strings.HasPrefix(raw, "\t") {
			return nil, fmt.Errorf("line %d: tab indentation", i+1)
		}
		spaces := 0
		for spaces < len(raw) && raw[spaces] == ' ' {
			spaces++
		}
		if spaces%2 != 0 {
			return nil, fmt.Errorf("line %d: odd indentation", i+1)
		}
		out = append(out, line{depth: spaces / 2, text: raw[spaces:], num: i + 1})
	}
	return out, nil
}

func parseObject(lines []line, pos, depth int) (map[string]any, int, error) {
	obj := make(map[string]any)
	for pos < len(lines) && lines[pos].depth == depth {
		ln := lines[pos]
		text := ln.text

		if m := arrayHeaderRe.FindStringSubmatch(text); m != nil {
			count, _ := strconv.Atoi(m[2])
			arr, next, err := parseArray(lines, pos+1, depth+1)
			if err != nil {
				return nil, 0, err
			}
			if len(arr) != count {
				return nil, 0, fmt.Errorf("line %d: array %q declares %d elements, found %d", ln.num, m[1], count, len(arr))
			}
			obj[m[1]] = arr
			pos = next
			continue
		}
		if idx := strings.Index(text, ": "); idx > 0 {
			obj[text[:idx]] = primitive(text[idx+2:])
			pos++
			continue
		}
		if strings.HasSuffix(text, ":") && len(text) > 1 {
			child, next, err := parseObject(lines, pos+1, depth+1)
			if err != nil {
				return nil, 0, err
			}
			obj[strings.TrimSuffix(text, ":")] = child
			pos = next
			continue
		}
		return nil, 0, fmt.Errorf("line %d: cannot parse %q", ln.num, text)
	}
	return obj, pos, nil
}

func parseArray(lines []line, pos, depth int) ([]any, int, error) {
	out := []any{}
	if pos >= len(lines) || lines[pos].depth != depth {
		return out, pos, nil
	}

	if text := lines[pos].text; isTabularHeader(text) {
		fields := strings.Split(text[1:len(text)-2], ",")
		pos++
		for pos < len(lines) && lines[pos].depth == depth+1 {
			cells := splitRow(lines[pos].text)
			if len(cells) != len(fields) {
				return nil, 0, fmt.Errorf("line %d: row has %d values, want %d", lines[pos].num, len(cells), len(fields))
			}
			el := make(map[string]any, len(fields))
			for i, f := range fields {
				el[f] = primitive(cells[i])
			}
			out = append(out, el)
			pos++
		}
		return out, pos, nil
	}

	for pos < len(lines) && lines[pos].depth == depth && strings.HasPrefix(lines[pos].text, "- ") {
		out = append(out, primitive(lines[pos].text[2:]))
		pos++
	}
	return out, pos, nil
}

func isTabularHeader(text string) bool {
	return strings.HasPrefix(text, "{") && strings.HasSuffix(text, "}:")
}

// primitive resolves a scalar token. Parse order is fixed: null, bool,
// integer, float, then verbatim string.
func primitive(s string) any {
	switch s {
	case "~":
		return nil
	case "T":
		return true
	case "F":
		return false
	}
	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		return i
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	return s
}

// splitRow splits a tabular row on commas, honoring the \, escape.
func splitRow(s string) []string {
	var (
		cells []string
		cur   strings.Builder
	)
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c == '\\' && i+1 < len(s) && s[i+1] == ',' {
			cur.WriteByte(',')
			i++
			continue
		}
		if c == ',' {
			cells = append(cells, cur.String())
			cur.Reset()
			continue
		}
		cur.WriteByte(c)
	}
	cells = append(cells, cur.String())
	return cells
}

// CompressionRatio reports len(encoded) / len(compact JSON) for the
// same value. Values below 1 mean TOON is smaller.
func CompressionRatio(v any, encoded string) float64 {
	raw, err := json.Marshal(normalize(v))
	if err != nil || len(raw) == 0 {
		return 1
	}
	return float64(len(encoded)) / float64(len(raw))
}
