package validate

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"foundry/internal/slot"
)

// JSValidator shells out to node --check for JavaScript syntax
// validation.
type JSValidator struct {
	binary string
}

// NewJS returns the JavaScript validator. It expects node on PATH.
func NewJS() *JSValidator { return &JSValidator{binary: "node"} }

// Check validates the snippet regardless of kind.
func (v *JSValidator) Check(ctx context.Context, code string) (Result, error) {
	return runSyntaxCheck(ctx, code, "foundry-*.js", v.binary, "--check")
}

func (v *JSValidator) Validate(ctx context.Context, kind slot.Kind, code string) (Result, error) {
	if kind == slot.KindScript {
		return v.Check(ctx, code)
	}
	return Pass(), nil
}

func (v *JSValidator) ValidateSlot(ctx context.Context, s slot.Slot, code string) (Result, error) {
	if res := CheckConstraints(s, code); !res.Valid {
		return res, nil
	}
	res, err := v.Validate(ctx, s.Kind, code)
	if err != nil || !res.Valid {
		return res, err
	}
	return runHarness(ctx, s, code)
}

func (v *JSValidator) Format(_ context.Context, _ slot.Kind, code string) (string, error) {
	return code, nil
}

// PythonValidator shells out to python -m py_compile.
type PythonValidator struct {
	binary string
}

// NewPython returns the Python validator, preferring python3 when both
// interpreters are installed.
func NewPython() *PythonValidator {
	binary := "python3"
	if _, err := exec.LookPath(binary); err != nil {
		binary = "python"
	}
	return &PythonValidator{binary: binary}
}

// Check validates the snippet regardless of kind.
func (v *PythonValidator) Check(ctx context.Context, code string) (Result, error) {
	return runSyntaxCheck(ctx, code, "foundry-*.py", v.binary, "-m", "py_compile")
}

func (v *PythonValidator) Validate(ctx context.Context, kind slot.Kind, code string) (Result, error) {
	if kind == slot.Kind("python") || kind == slot.Kind("py") {
		return v.Check(ctx, code)
	}
	return Pass(), nil
}

func (v *PythonValidator) ValidateSlot(ctx context.Context, s slot.Slot, code string) (Result, error) {
	if res := CheckConstraints(s, code); !res.Valid {
		return res, nil
	}
	res, err := v.Validate(ctx, s.Kind, code)
	if err != nil || !res.Valid {
		return res, err
	}
	return runHarness(ctx, s, code)
}

func (v *PythonValidator) Format(_ context.Context, _ slot.Kind, code string) (string, error) {
	return code, nil
}

// runSyntaxCheck writes the snippet to a temp file and runs a checker
// binary over it. A non-zero exit is a rejection carrying the
// checker's combined output; a missing binary is an error.
func runSyntaxCheck(ctx context.Context, code, pattern, binary string, args ...string) (Result, error) {
	f, err := os.CreateTemp("", pattern)
	if err != nil {
		return Result{}, fmt.Errorf("failed to create temp file: %w", err)
	}
	path := f.Name()
	defer os.Remove(path)
	if _, err := f.WriteString(code); err != nil {
		f.Close()
		return Result{}, fmt.Errorf("failed to write snippet: %w", err)
	}
	if err := f.Close(); err != nil {
		return Result{}, fmt.Errorf("failed to close snippet: %w", err)
	}

	cmd := exec.CommandContext(ctx, binary, append(args, path)...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			msg := strings.TrimSpace(string(out))
			if msg == "" {
				msg = binary + " reported a syntax error"
			}
			return Reject(msg), nil
		}
		return Result{}, fmt.Errorf("%s unavailable: %w", binary, err)
	}
	return Pass(), nil
}
