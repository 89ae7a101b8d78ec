// Package validate checks generated code before it is spliced into a
// rendered document. A rejection carries a diagnostic that feeds the
// engine's healing loop; a validator error aborts generation outright.
package validate

import (
	"context"
	"strings"

	"foundry/internal/slot"
)

// Result is the outcome of one validation pass.
type Result struct {
	Valid      bool
	Diagnostic string
}

// Pass returns an accepting result.
func Pass() Result { return Result{Valid: true} }

// Reject returns a failing result with a diagnostic for the healing
// loop.
func Reject(diagnostic string) Result { return Result{Diagnostic: diagnostic} }

// Validator inspects generated code.
type Validator interface {
	// Validate checks a snippet of the given kind. Kinds outside the
	// validator's competence pass untouched.
	Validate(ctx context.Context, kind slot.Kind, code string) (Result, error)

	// ValidateSlot checks a snippet against a slot's full contract,
	// including declarative constraints and any executable harness.
	ValidateSlot(ctx context.Context, s slot.Slot, code string) (Result, error)

	// Format normalizes a snippet. Formatting is best effort: an
	// error means "keep the original text", never a rejection.
	Format(ctx context.Context, kind slot.Kind, code string) (string, error)
}

// CheckConstraints folds a slot's declarative constraints into a
// result. Slots without constraints always pass.
func CheckConstraints(s slot.Slot, code string) Result {
	violations := s.Constraints.Check(code)
	if len(violations) == 0 {
		return Pass()
	}
	return Reject("constraint violations:\n- " + strings.Join(violations, "\n- "))
}

// sniffLanguage guesses the language of an unlabeled snippet. Go
// markers are checked first so Go's import lines and map literals are
// not mistaken for Python.
func sniffLanguage(code string) string {
	hasGo := strings.Contains(code, "func ") || strings.Contains(code, "package ") || strings.Contains(code, ":=")
	if !hasGo {
		if strings.Contains(code, "def ") || strings.Contains(code, "elif ") {
			return "python"
		}
		if strings.Contains(code, "function ") || strings.Contains(code, "=>") ||
			strings.Contains(code, "const ") || strings.Contains(code, "let ") {
			return "js"
		}
	}
	return "go"
}

// AutoValidator routes each slot to a language validator and then to
// the harness runner. Routing order: the slot's constraint language,
// then the declared kind, then text sniffing. Custom kinds and markup
// kinds have no language check and validate through their harness
// only.
type AutoValidator struct {
	golang  *GoValidator
	js      *JSValidator
	python  *PythonValidator
	harness *HarnessValidator
}

// NewAuto returns the composite validator the engine installs when
// self-healing is on and no validator was supplied.
func NewAuto() *AutoValidator {
	return &AutoValidator{
		golang:  NewGo(),
		js:      NewJS(),
		python:  NewPython(),
		harness: NewHarness(),
	}
}

type checker interface {
	Check(ctx context.Context, code string) (Result, error)
}

func (v *AutoValidator) pick(kind slot.Kind, language, code string) checker {
	switch strings.ToLower(language) {
	case "go", "golang":
		return v.golang
	case "python", "py":
		return v.python
	case "js", "javascript", "typescript":
		return v.js
	}
	switch kind {
	case slot.KindScript:
		return v.js
	case slot.KindHTML, slot.KindCSS:
		return nil
	case slot.KindRaw, slot.KindFunction, slot.KindClass, slot.KindComponent:
		switch sniffLanguage(code) {
		case "python":
			return v.python
		case "js":
			return v.js
		}
		return v.golang
	}
	// Custom kinds carry no language contract.
	return nil
}

func (v *AutoValidator) Validate(ctx context.Context, kind slot.Kind, code string) (Result, error) {
	if c := v.pick(kind, "", code); c != nil {
		return c.Check(ctx, code)
	}
	return Pass(), nil
}

func (v *AutoValidator) ValidateSlot(ctx context.Context, s slot.Slot, code string) (Result, error) {
	if res := CheckConstraints(s, code); !res.Valid {
		return res, nil
	}
	var language string
	if s.Constraints != nil {
		language = s.Constraints.Language
	}
	if c := v.pick(s.Kind, language, code); c != nil {
		res, err := c.Check(ctx, code)
		if err != nil || !res.Valid {
			return res, err
		}
	}
	return v.harness.ValidateSlot(ctx, s, code)
}

func (v *AutoValidator) Format(ctx context.Context, kind slot.Kind, code string) (string, error) {
	if c := v.pick(kind, "", code); c == v.golang {
		return v.golang.Format(ctx, kind, code)
	}
	return code, nil
}
