package validate

import (
	"context"
	"fmt"
	"go/format"
	"go/parser"
	"go/token"
	"os/exec"
	"regexp"

	"foundry/internal/slot"
)

var packageClauseRe = regexp.MustCompile(`(?m)^package\s+\w+`)

// GoValidator checks Go snippets in process with go/parser and
// normalizes them with go/format. Snippets that arrive as complete
// files additionally go through go vet.
type GoValidator struct{}

// NewGo returns the Go language validator.
func NewGo() *GoValidator { return &GoValidator{} }

// Check parses the snippet, wrapping it in a synthetic package clause
// when it lacks one.
func (v *GoValidator) Check(_ context.Context, code string) (Result, error) {
	src := code
	if !packageClauseRe.MatchString(code) {
		src = "package snippet\n\n" + code
	}
	fset := token.NewFileSet()
	if _, err := parser.ParseFile(fset, "snippet.go", src, parser.AllErrors); err != nil {
		return Reject(fmt.Sprintf("go syntax error: %v", err)), nil
	}
	return Pass(), nil
}

func (v *GoValidator) Validate(ctx context.Context, kind slot.Kind, code string) (Result, error) {
	switch kind {
	case slot.KindRaw, slot.KindFunction, slot.KindClass, slot.KindComponent:
		return v.Check(ctx, code)
	}
	return Pass(), nil
}

func (v *GoValidator) ValidateSlot(ctx context.Context, s slot.Slot, code string) (Result, error) {
	if res := CheckConstraints(s, code); !res.Valid {
		return res, nil
	}
	res, err := v.Validate(ctx, s.Kind, code)
	if err != nil || !res.Valid {
		return res, err
	}
	res, err = v.vet(ctx, s.Kind, code)
	if err != nil || !res.Valid {
		return res, err
	}
	return runHarness(ctx, s, code)
}

// vet runs go vet over snippets that are complete files. Fragments
// cannot be type-checked standalone and skip the step, as does any
// machine without a go binary on PATH.
func (v *GoValidator) vet(ctx context.Context, kind slot.Kind, code string) (Result, error) {
	switch kind {
	case slot.KindRaw, slot.KindFunction, slot.KindClass, slot.KindComponent:
	default:
		return Pass(), nil
	}
	if !packageClauseRe.MatchString(code) {
		return Pass(), nil
	}
	if _, err := exec.LookPath("go"); err != nil {
		return Pass(), nil
	}
	return runSyntaxCheck(ctx, code, "foundry-*.go", "go", "vet")
}

// Format runs the snippet through go/format, which accepts whole files
// as well as bare declaration lists.
func (v *GoValidator) Format(_ context.Context, kind slot.Kind, code string) (string, error) {
	switch kind {
	case slot.KindRaw, slot.KindFunction, slot.KindClass, slot.KindComponent:
	default:
		return code, nil
	}
	formatted, err := format.Source([]byte(code))
	if err != nil {
		return code, err
	}
	return string(formatted), nil
}
