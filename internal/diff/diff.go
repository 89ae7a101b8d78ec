// Package diff computes line diffs between successive render outputs
// so watch mode can report what a template edit changed in the
// generated document.
package diff

import (
	"fmt"
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"
)

// contextLines is how many unchanged lines frame each hunk. Change
// runs separated by at most twice this many context lines merge into
// one hunk.
const contextLines = 3

// LineType classifies one diff line.
type LineType int

const (
	LineContext LineType = iota
	LineAdded
	LineRemoved
)

// Line is a single line of a hunk. Number is the line's position in
// the new output for additions and in the old output otherwise,
// counting from 1.
type Line struct {
	Number  int
	Content string
	Type    LineType
}

// Hunk is one contiguous group of changes with surrounding context.
// Start positions count from 1; a zero count means the hunk touches no
// lines on that side and its start names the line the change sits
// after.
type Hunk struct {
	OldStart int
	OldCount int
	NewStart int
	NewCount int
	Lines    []Line
}

// Diff summarizes the line changes between two documents.
type Diff struct {
	Hunks   []Hunk
	Added   int
	Removed int
}

// Changed reports whether the two documents differ.
func (d Diff) Changed() bool { return len(d.Hunks) > 0 }

// Unified renders the diff in unified format, one hunk header per
// group of changes. An empty diff renders as the empty string.
func (d Diff) Unified() string {
	if len(d.Hunks) == 0 {
		return ""
	}
	var b strings.Builder
	for _, h := range d.Hunks {
		fmt.Fprintf(&b, "@@ -%d,%d +%d,%d @@\n", h.OldStart, h.OldCount, h.NewStart, h.NewCount)
		for _, l := range h.Lines {
			switch l.Type {
			case LineAdded:
				b.WriteByte('+')
			case LineRemoved:
				b.WriteByte('-')
			default:
				b.WriteByte(' ')
			}
			b.WriteString(l.Content)
			b.WriteByte('\n')
		}
	}
	return b.String()
}

// Compute diffs two documents line by line. The inputs are reduced to
// line tokens before matching, so the result never splits inside a
// line.
func Compute(old, new string) Diff {
	if old == new {
		return Diff{}
	}

	dmp := diffmatchpatch.New()
	dmp.DiffTimeout = 0
	a, b, lineIndex := dmp.DiffLinesToChars(old, new)
	diffs := dmp.DiffMain(a, b, false)
	diffs = dmp.DiffCleanupSemantic(diffs)
	diffs = dmp.DiffCharsToLines(diffs, lineIndex)

	return group(toOps(diffs))
}

// op is one line operation with its cursor position on both sides.
// The missing side of an addition or removal carries the cursor it
// would splice at, without advancing it.
type op struct {
	typ     LineType
	oldLine int
	newLine int
	content string
}

func toOps(diffs []diffmatchpatch.Diff) []op {
	var ops []op
	oldLine, newLine := 0, 0
	for _, d := range diffs {
		lines := strings.Split(d.Text, "\n")
		if n := len(lines); n > 0 && lines[n-1] == "" {
			lines = lines[:n-1]
		}
		for _, line := range lines {
			switch d.Type {
			case diffmatchpatch.DiffEqual:
				ops = append(ops, op{typ: LineContext, oldLine: oldLine, newLine: newLine, content: line})
				oldLine++
				newLine++
			case diffmatchpatch.DiffDelete:
				ops = append(ops, op{typ: LineRemoved, oldLine: oldLine, newLine: newLine, content: line})
				oldLine++
			case diffmatchpatch.DiffInsert:
				ops = append(ops, op{typ: LineAdded, oldLine: oldLine, newLine: newLine, content: line})
				newLine++
			}
		}
	}
	return ops
}

// group slices the operation stream into hunks. A run of changes
// claims contextLines of margin on both sides; runs whose gap fits
// inside the combined margins become one hunk.
func group(ops []op) Diff {
	var d Diff
	for i := 0; i < len(ops); {
		if ops[i].typ == LineContext {
			i++
			continue
		}

		start := i - contextLines
		if start < 0 {
			start = 0
		}
		last := i
		j := i + 1
		for j < len(ops) {
			if ops[j].typ != LineContext {
				last = j
				j++
				continue
			}
			k := j
			for k < len(ops) && ops[k].typ == LineContext {
				k++
			}
			if k < len(ops) && k-j <= 2*contextLines {
				last = k
				j = k + 1
				continue
			}
			break
		}
		end := last + contextLines + 1
		if end > len(ops) {
			end = len(ops)
		}

		h := makeHunk(ops[start:end])
		d.Hunks = append(d.Hunks, h)
		for _, l := range h.Lines {
			switch l.Type {
			case LineAdded:
				d.Added++
			case LineRemoved:
				d.Removed++
			}
		}
		i = end
	}
	return d
}

func makeHunk(ops []op) Hunk {
	h := Hunk{Lines: make([]Line, 0, len(ops))}
	for _, o := range ops {
		if o.typ != LineAdded {
			h.OldCount++
		}
		if o.typ != LineRemoved {
			h.NewCount++
		}
		number := o.oldLine + 1
		if o.typ == LineAdded {
			number = o.newLine + 1
		}
		h.Lines = append(h.Lines, Line{Number: number, Content: o.content, Type: o.typ})
	}
	h.OldStart = ops[0].oldLine + 1
	if h.OldCount == 0 {
		h.OldStart = ops[0].oldLine
	}
	h.NewStart = ops[0].newLine + 1
	if h.NewCount == 0 {
		h.NewStart = ops[0].newLine
	}
	return h
}
