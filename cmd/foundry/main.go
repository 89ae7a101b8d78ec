package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"

	"foundry/internal/config"
	"foundry/internal/diff"
	"foundry/internal/engine"
	"foundry/internal/injection"
	"foundry/internal/observer"
	"foundry/internal/provider"
	"foundry/internal/slot"
	"foundry/internal/template"
	"foundry/internal/toon"
	"foundry/internal/usage"
	"foundry/internal/validate"
)

var (
	// Global flags
	verbose      bool
	configPath   string
	providerName string
	modelName    string
	timeout      time.Duration

	// Render flags
	outPath       string
	slotsPath     string
	watchTemplate bool
	projectName   string
	languageName  string
	frameworkName string
	contextVars   []string

	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "foundry",
	Short: "foundry - template-driven code generation",
	Long: `foundry renders documents whose {{AI:name}} slots are filled by a
generation backend, with validation-driven retries, response caching
and incremental re-rendering.

Pick a backend with --provider or FOUNDRY_PROVIDER (openai, anthropic,
gemini, ollama) and the matching API key; with nothing configured a
local Ollama server is assumed.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		zapCfg := zap.NewProductionConfig()
		if verbose {
			zapCfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		logger, err = zapCfg.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

var renderCmd = &cobra.Command{
	Use:   "render [template-file]",
	Short: "Render a template, generating code for every slot",
	Long: `Loads a template file, generates code for every {{AI:name}} marker
and writes the assembled document to stdout or --out.

With --watch the file is re-rendered on every save through an
incremental session: slots whose prompt and context are unchanged are
reused, so an edit to one slot costs one generation.

Example:
  foundry render page.html --slots slots.yaml --language html -o out.html`,
	Args: cobra.ExactArgs(1),
	RunE: runRender,
}

var slotsCmd = &cobra.Command{
	Use:   "slots [template-file]",
	Short: "List the slots a template defines",
	Args:  cobra.ExactArgs(1),
	RunE:  runSlots,
}

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Verify the provider is reachable and probe the validators",
	RunE:  runCheck,
}

var toonCmd = &cobra.Command{
	Use:   "toon",
	Short: "Encode or decode TOON context payloads",
}

var toonEncodeCmd = &cobra.Command{
	Use:   "encode",
	Short: "Read YAML or JSON on stdin, write TOON to stdout",
	RunE:  runToonEncode,
}

var toonDecodeCmd = &cobra.Command{
	Use:   "decode",
	Short: "Read TOON on stdin, write YAML to stdout",
	RunE:  runToonDecode,
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "foundry.yaml", "Config file (a missing file falls back to env and defaults)")
	rootCmd.PersistentFlags().StringVar(&providerName, "provider", "", "Provider name (default: FOUNDRY_PROVIDER or first configured API key)")
	rootCmd.PersistentFlags().StringVar(&modelName, "model", "", "Model override for the selected provider")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 5*time.Minute, "Per-render timeout")

	renderCmd.Flags().StringVarP(&outPath, "out", "o", "", "Output file (default: stdout)")
	renderCmd.Flags().StringVar(&slotsPath, "slots", "", "YAML slot definitions layered over the template markers")
	renderCmd.Flags().BoolVar(&watchTemplate, "watch", false, "Re-render incrementally when the template file changes")
	renderCmd.Flags().StringVar(&projectName, "project", "", "Project name for the injection context")
	renderCmd.Flags().StringVar(&languageName, "language", "", "Target language for the injection context")
	renderCmd.Flags().StringVar(&frameworkName, "framework", "", "Framework for the injection context")
	renderCmd.Flags().StringSliceVar(&contextVars, "var", nil, "Context variable as key=value (repeatable)")

	slotsCmd.Flags().StringVar(&slotsPath, "slots", "", "YAML slot definitions layered over the template markers")

	toonCmd.AddCommand(toonEncodeCmd)
	toonCmd.AddCommand(toonDecodeCmd)

	rootCmd.AddCommand(renderCmd)
	rootCmd.AddCommand(slotsCmd)
	rootCmd.AddCommand(checkCmd)
	rootCmd.AddCommand(toonCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runRender(cmd *cobra.Command, args []string) error {
	eng, tracker, err := buildEngine()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("Received shutdown signal")
		cancel()
	}()

	if watchTemplate {
		return watchRender(ctx, eng, tracker, args[0])
	}

	tmpl, err := loadTemplate(args[0])
	if err != nil {
		return err
	}

	rctx, rcancel := context.WithTimeout(ctx, timeout)
	defer rcancel()

	logger.Info("Rendering template",
		zap.String("template", tmpl.Name),
		zap.Int("slots", len(tmpl.OrderedNames())))
	out, err := eng.Render(rctx, tmpl)
	if err != nil {
		return err
	}
	logUsage(tracker)
	return writeOutput(out)
}

// watchRender re-renders through a session whenever the template file
// is saved. Session keys are slot and context fingerprints, so only
// edited slots hit the backend.
func watchRender(ctx context.Context, eng *engine.Engine, tracker *usage.Tracker, path string) error {
	sess := engine.NewSession(eng)

	var (
		prevOut  string
		rendered bool
	)
	render := func() {
		tmpl, err := loadTemplate(path)
		if err != nil {
			logger.Error("Template reload failed", zap.Error(err))
			return
		}
		rctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		out, err := sess.RenderIncremental(rctx, tmpl)
		if err != nil {
			logger.Error("Render failed", zap.Error(err))
			return
		}
		if rendered {
			reportChanges(prevOut, out)
		}
		prevOut, rendered = out, true
		logUsage(tracker)
		if err := writeOutput(out); err != nil {
			logger.Error("Output write failed", zap.Error(err))
		}
	}
	render()

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to start watcher: %w", err)
	}
	defer watcher.Close()

	// Watch the directory, not the file: editors that save via
	// rename-and-replace would otherwise drop the watch.
	dir := filepath.Dir(path)
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", dir, err)
	}
	logger.Info("Watching template", zap.String("path", path))

	target := filepath.Clean(path)
	var lastRender time.Time
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			// Debounce editor save bursts.
			if time.Since(lastRender) < 200*time.Millisecond {
				continue
			}
			lastRender = time.Now()
			logger.Debug("Template changed", zap.String("event", event.Op.String()))
			render()
		case werr, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn("Watcher error", zap.Error(werr))
		}
	}
}

// reportChanges diffs successive watch outputs. The unified diff is
// printed only when the document goes to a file; with no --out the
// document itself owns stdout.
func reportChanges(prev, next string) {
	d := diff.Compute(prev, next)
	if !d.Changed() {
		logger.Info("Output unchanged")
		return
	}
	logger.Info("Output changed",
		zap.Int("added", d.Added),
		zap.Int("removed", d.Removed),
		zap.Int("hunks", len(d.Hunks)))
	if outPath != "" {
		fmt.Print(d.Unified())
	}
}

func runSlots(cmd *cobra.Command, args []string) error {
	tmpl, err := loadTemplate(args[0])
	if err != nil {
		return err
	}

	referenced := make(map[string]bool)
	for _, name := range tmpl.OrderedNames() {
		referenced[name] = true
	}

	names := tmpl.SlotNames()
	if len(names) == 0 {
		fmt.Println("no slots defined")
		return nil
	}
	for _, name := range names {
		s, _ := tmpl.Slot(name)
		requirement := "required"
		if !s.Required {
			requirement = "optional"
		}
		note := ""
		if !referenced[name] {
			note = "  (configured but not referenced)"
		}
		fmt.Printf("%-20s %-10s %-9s %s%s\n", name, s.Kind, requirement, truncate(s.Prompt, 60), note)
	}
	return nil
}

func runCheck(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	p, err := buildProvider()
	if err != nil {
		return err
	}
	if err := p.HealthCheck(ctx); err != nil {
		fmt.Printf("provider  %-11s unreachable: %v\n", p.Name(), err)
		return fmt.Errorf("provider %s failed its health check", p.Name())
	}
	fmt.Printf("provider  %-11s ok\n", p.Name())

	v := validate.NewAuto()
	probes := []struct {
		name string
		kind slot.Kind
		code string
	}{
		{"go", slot.KindFunction, "func ok() int { return 1 }"},
		{"javascript", slot.KindFunction, "function ok() { return 1; }"},
		{"python", slot.KindFunction, "def ok():\n    return 1"},
	}
	for _, probe := range probes {
		res, err := v.Validate(ctx, probe.kind, probe.code)
		switch {
		case err != nil:
			fmt.Printf("validator %-11s unavailable: %v\n", probe.name, err)
		case !res.Valid:
			fmt.Printf("validator %-11s rejected its probe: %s\n", probe.name, res.Diagnostic)
		default:
			fmt.Printf("validator %-11s ok\n", probe.name)
		}
	}
	return nil
}

func runToonEncode(cmd *cobra.Command, args []string) error {
	data, err := io.ReadAll(cmd.InOrStdin())
	if err != nil {
		return fmt.Errorf("failed to read input: %w", err)
	}
	var v any
	if err := yaml.Unmarshal(data, &v); err != nil {
		return fmt.Errorf("failed to parse input: %w", err)
	}
	encoded, err := toon.Encode(v)
	if err != nil {
		return err
	}
	fmt.Fprint(cmd.OutOrStdout(), encoded)
	return nil
}

func runToonDecode(cmd *cobra.Command, args []string) error {
	data, err := io.ReadAll(cmd.InOrStdin())
	if err != nil {
		return fmt.Errorf("failed to read input: %w", err)
	}
	v, err := toon.Decode(string(data))
	if err != nil {
		return err
	}
	out, err := yaml.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal value: %w", err)
	}
	fmt.Fprint(cmd.OutOrStdout(), string(out))
	return nil
}

// buildEngine assembles the engine from config file, environment and
// flags. The zap observer mirrors generation lifecycle events into the
// structured log; the usage tracker rides alongside it so commands can
// report token spend.
func buildEngine() (*engine.Engine, *usage.Tracker, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, err
	}

	p, err := buildProvider()
	if err != nil {
		return nil, nil, err
	}

	injCtx, err := buildContext()
	if err != nil {
		return nil, nil, err
	}

	logger.Info("Engine ready",
		zap.String("provider", p.Name()),
		zap.Bool("self_healing", cfg.SelfHealing),
		zap.Bool("cache", cfg.CacheEnabled),
		zap.Bool("parallel", cfg.Parallel))

	tracker := usage.NewTracker(modelName)
	eng := engine.New(p, cfg).
		WithLogger(logger).
		WithObserver(observer.NewMulti(observer.NewZap(logger), tracker)).
		WithContext(injCtx)
	return eng, tracker, nil
}

// logUsage reports the tracker's running totals. In watch mode the
// totals accumulate across re-renders.
func logUsage(tracker *usage.Tracker) {
	stats := tracker.Stats()
	if stats.Total.Generations == 0 {
		return
	}
	logger.Info("Token usage",
		zap.Int("generations", stats.Total.Generations),
		zap.Int64("tokens", stats.Total.Tokens))
}

func buildProvider() (provider.Provider, error) {
	if providerName == "" && modelName == "" {
		return provider.FromEnv()
	}
	name := providerName
	if name == "" {
		name = os.Getenv("FOUNDRY_PROVIDER")
	}
	if name == "" {
		return nil, fmt.Errorf("--model requires --provider or FOUNDRY_PROVIDER")
	}
	return provider.New(name, provider.Config{
		APIKey:  provider.APIKeyFor(name),
		Model:   modelName,
		BaseURL: os.Getenv("FOUNDRY_BASE_URL"),
	})
}

func buildContext() (injection.Context, error) {
	ctx := injection.New()
	if projectName != "" {
		ctx = ctx.WithProject(projectName)
	}
	if languageName != "" {
		ctx = ctx.WithLanguage(languageName)
	}
	if frameworkName != "" {
		ctx = ctx.WithFramework(frameworkName)
	}
	for _, pair := range contextVars {
		k, v, ok := strings.Cut(pair, "=")
		if !ok || k == "" {
			return injection.Context{}, fmt.Errorf("invalid --var %q, expected key=value", pair)
		}
		ctx = ctx.WithVariable(k, v)
	}
	return ctx, nil
}

func loadTemplate(path string) (*template.Template, error) {
	tmpl, err := template.FromFile(path)
	if err != nil {
		return nil, err
	}
	if slotsPath != "" {
		defs, err := slot.LoadFile(slotsPath)
		if err != nil {
			return nil, err
		}
		for _, s := range defs {
			tmpl.ConfigureSlot(s)
		}
	}
	return tmpl, nil
}

func writeOutput(text string) error {
	if outPath == "" {
		fmt.Println(text)
		return nil
	}
	if err := os.WriteFile(outPath, []byte(text), 0o644); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	logger.Info("Output written", zap.String("path", outPath), zap.Int("bytes", len(text)))
	return nil
}

func truncate(s string, n int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
