package validate

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"strings"

	"foundry/internal/slot"
)

// CodePlaceholder marks where the candidate snippet lands inside a
// slot's test harness.
const CodePlaceholder = "{{CODE}}"

// FilePlaceholder marks where the harness file path lands inside a
// custom test command.
const FilePlaceholder = "{{FILE}}"

// HarnessValidator runs nothing but a slot's executable harness plus
// its declarative constraints. Use it when generation is driven purely
// by tests and language syntax is the harness's problem.
type HarnessValidator struct{}

// NewHarness returns the harness-only validator.
func NewHarness() *HarnessValidator { return &HarnessValidator{} }

func (v *HarnessValidator) Validate(_ context.Context, _ slot.Kind, _ string) (Result, error) {
	return Pass(), nil
}

func (v *HarnessValidator) ValidateSlot(ctx context.Context, s slot.Slot, code string) (Result, error) {
	if res := CheckConstraints(s, code); !res.Valid {
		return res, nil
	}
	return runHarness(ctx, s, code)
}

func (v *HarnessValidator) Format(_ context.Context, _ slot.Kind, code string) (string, error) {
	return code, nil
}

// runHarness substitutes the candidate for {{CODE}}, writes the result
// to a temp file and executes the slot's test command through the
// system shell. Exit zero accepts the candidate; a non-zero exit
// rejects it with the combined output as diagnostic. Slots without a
// harness pass.
func runHarness(ctx context.Context, s slot.Slot, code string) (Result, error) {
	c := s.Constraints
	if c == nil || c.TestHarness == "" {
		return Pass(), nil
	}

	program := strings.ReplaceAll(c.TestHarness, CodePlaceholder, code)
	suffix := harnessSuffix(s, program)

	f, err := os.CreateTemp("", "harness-*"+suffix)
	if err != nil {
		return Result{}, fmt.Errorf("failed to create harness file: %w", err)
	}
	path := f.Name()
	defer os.Remove(path)
	if _, err := f.WriteString(program); err != nil {
		f.Close()
		return Result{}, fmt.Errorf("failed to write harness: %w", err)
	}
	if err := f.Close(); err != nil {
		return Result{}, fmt.Errorf("failed to close harness: %w", err)
	}

	command := c.TestCommand
	if command == "" {
		command = defaultTestCommand(suffix)
	}
	if command == "" {
		// No runner exists for this harness type; accept rather than
		// guess.
		return Pass(), nil
	}
	command = strings.ReplaceAll(command, FilePlaceholder, path)

	shell, flag := "sh", "-c"
	if runtime.GOOS == "windows" {
		shell, flag = "cmd", "/C"
	}
	out, err := exec.CommandContext(ctx, shell, flag, command).CombinedOutput()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			msg := strings.TrimSpace(string(out))
			if msg == "" {
				msg = fmt.Sprintf("harness exited with %v", exitErr)
			}
			return Reject("test harness failed:\n" + msg), nil
		}
		return Result{}, fmt.Errorf("failed to run test harness: %w", err)
	}
	return Pass(), nil
}

// harnessSuffix picks the harness file extension: the constraint
// language wins, then the slot kind, then a sniff of the assembled
// program.
func harnessSuffix(s slot.Slot, program string) string {
	if s.Constraints != nil {
		switch strings.ToLower(s.Constraints.Language) {
		case "go", "golang":
			return ".go"
		case "python", "py":
			return ".py"
		case "js", "javascript":
			return ".js"
		}
	}
	switch s.Kind {
	case slot.KindScript:
		return ".js"
	case slot.KindHTML:
		return ".html"
	case slot.KindCSS:
		return ".css"
	}
	switch sniffLanguage(program) {
	case "python":
		return ".py"
	case "js":
		return ".js"
	}
	return ".go"
}

func defaultTestCommand(suffix string) string {
	switch suffix {
	case ".go":
		return "go run " + FilePlaceholder
	case ".js":
		return "node " + FilePlaceholder
	case ".py":
		return "python3 " + FilePlaceholder
	}
	return ""
}
