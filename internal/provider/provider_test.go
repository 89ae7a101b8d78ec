package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"foundry/internal/slot"
)

var (
	_ Provider = (*OpenAI)(nil)
	_ Provider = (*Anthropic)(nil)
	_ Provider = (*Gemini)(nil)
	_ Provider = (*Ollama)(nil)
	_ Provider = (*Scripted)(nil)
)

func request(name string) GenerationRequest {
	return GenerationRequest{Slot: slot.Auto(name)}
}

// =============================================================================
// REQUEST RESOLVERS
// =============================================================================

func TestUserPromptJoinsContext(t *testing.T) {
	req := GenerationRequest{Slot: slot.New("greet", "Write a greeting")}
	if got := req.UserPrompt(); got != "Write a greeting" {
		t.Errorf("UserPrompt without context = %q", got)
	}

	req.Context = "Language: go"
	want := "Language: go\n\nWrite a greeting"
	if got := req.UserPrompt(); got != want {
		t.Errorf("UserPrompt with context = %q, want %q", got, want)
	}
}

func TestOptionResolvers(t *testing.T) {
	req := request("x")
	if got := req.Model("default"); got != "default" {
		t.Errorf("Model fallback = %q", got)
	}
	if got := req.MaxTokens(512); got != 512 {
		t.Errorf("MaxTokens fallback = %d", got)
	}
	if got := req.Temperature(0.7); got != 0.7 {
		t.Errorf("Temperature fallback = %v", got)
	}

	req.Options = Options{Model: "big", MaxTokens: 99}
	req.Slot = req.Slot.WithTemperature(0.1)
	if got := req.Model("default"); got != "big" {
		t.Errorf("Model override = %q", got)
	}
	if got := req.MaxTokens(512); got != 99 {
		t.Errorf("MaxTokens override = %d", got)
	}
	if got := req.Temperature(0.7); got != 0.1 {
		t.Errorf("Temperature override = %v", got)
	}
}

// =============================================================================
// SCRIPTED PROVIDER
// =============================================================================

func TestScriptedDefaultResponse(t *testing.T) {
	p := NewScripted()
	resp, err := p.Generate(context.Background(), request("greet"))
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if resp.Text != "// generated greet" {
		t.Errorf("Text = %q", resp.Text)
	}
	if resp.TokensUsed != 3 {
		t.Errorf("TokensUsed = %d, want 3", resp.TokensUsed)
	}
}

func TestScriptedSequenceRepeatsLast(t *testing.T) {
	p := NewScripted().WithSequence("greet", "first", "second")
	ctx := context.Background()

	want := []string{"first", "second", "second", "second"}
	for i, expected := range want {
		resp, err := p.Generate(ctx, request("greet"))
		if err != nil {
			t.Fatalf("attempt %d failed: %v", i, err)
		}
		if resp.Text != expected {
			t.Errorf("attempt %d = %q, want %q", i, resp.Text, expected)
		}
	}
	if got := p.Calls("greet"); got != 4 {
		t.Errorf("Calls = %d, want 4", got)
	}
}

func TestScriptedError(t *testing.T) {
	boom := errors.New("boom")
	p := NewScripted().WithError("greet", boom)
	_, err := p.Generate(context.Background(), request("greet"))
	if !errors.Is(err, boom) {
		t.Errorf("Generate error = %v, want boom", err)
	}
	if got := p.Calls("greet"); got != 1 {
		t.Errorf("failed generations should still count, got %d", got)
	}
}

func TestScriptedHealth(t *testing.T) {
	p := NewScripted()
	if err := p.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck = %v, want nil", err)
	}
	down := errors.New("down")
	p.WithHealthError(down)
	if err := p.HealthCheck(context.Background()); !errors.Is(err, down) {
		t.Errorf("HealthCheck = %v, want down", err)
	}
}

func TestScriptedStreamReassembles(t *testing.T) {
	const text = "func main() {\n\tprintln(42)\n}"
	p := NewScripted().WithResponse("main", text)

	chunks, err := p.GenerateStream(context.Background(), request("main"))
	if err != nil {
		t.Fatalf("GenerateStream failed: %v", err)
	}
	var sb strings.Builder
	for chunk := range chunks {
		if chunk.Err != nil {
			t.Fatalf("chunk error: %v", chunk.Err)
		}
		sb.WriteString(chunk.Delta)
	}
	if sb.String() != text {
		t.Errorf("reassembled = %q, want %q", sb.String(), text)
	}
}

func TestScriptedCanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewScripted().Generate(ctx, request("x"))
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Generate = %v, want context.Canceled", err)
	}
}

// =============================================================================
// FACTORY
// =============================================================================

func TestFactoryDispatch(t *testing.T) {
	p, err := New("scripted", Config{})
	if err != nil {
		t.Fatalf("New(scripted) failed: %v", err)
	}
	if p.Name() != "scripted" {
		t.Errorf("Name = %q", p.Name())
	}

	// Lookup is case-insensitive.
	if _, err := New("Scripted", Config{}); err != nil {
		t.Errorf("New(Scripted) failed: %v", err)
	}
}

func TestFactoryUnknown(t *testing.T) {
	_, err := New("mystery", Config{})
	if err == nil {
		t.Fatal("expected error for unknown provider")
	}
	if !strings.Contains(err.Error(), "mystery") || !strings.Contains(err.Error(), "ollama") {
		t.Errorf("error should name the input and the known providers: %v", err)
	}
}

func TestNamesSorted(t *testing.T) {
	names := Names()
	want := []string{"anthropic", "gemini", "ollama", "openai", "scripted"}
	if len(names) != len(want) {
		t.Fatalf("Names = %v", names)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Errorf("Names[%d] = %q, want %q", i, names[i], want[i])
		}
	}
}

func TestKeyedConstructorsRequireKeys(t *testing.T) {
	if _, err := NewOpenAI(Config{}); err == nil {
		t.Error("NewOpenAI should require an API key")
	}
	if _, err := NewAnthropic(Config{}); err == nil {
		t.Error("NewAnthropic should require an API key")
	}
	if _, err := NewGemini(Config{}); err == nil {
		t.Error("NewGemini should require an API key")
	}
	if _, err := NewOllama(Config{}); err != nil {
		t.Errorf("NewOllama should not require a key: %v", err)
	}
}

func clearProviderEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"FOUNDRY_PROVIDER", "FOUNDRY_MODEL", "FOUNDRY_BASE_URL", "FOUNDRY_MAX_TOKENS",
		"ANTHROPIC_API_KEY", "OPENAI_API_KEY", "GEMINI_API_KEY",
	} {
		t.Setenv(key, "")
	}
}

func TestFromEnvExplicit(t *testing.T) {
	clearProviderEnv(t)
	t.Setenv("FOUNDRY_PROVIDER", "scripted")

	p, err := FromEnv()
	if err != nil {
		t.Fatalf("FromEnv failed: %v", err)
	}
	if p.Name() != "scripted" {
		t.Errorf("Name = %q, want scripted", p.Name())
	}
}

func TestFromEnvKeyPriority(t *testing.T) {
	clearProviderEnv(t)
	t.Setenv("ANTHROPIC_API_KEY", "a-key")
	t.Setenv("OPENAI_API_KEY", "o-key")

	p, err := FromEnv()
	if err != nil {
		t.Fatalf("FromEnv failed: %v", err)
	}
	if p.Name() != "anthropic" {
		t.Errorf("Name = %q, want anthropic", p.Name())
	}
}

func TestFromEnvFallsBackToOllama(t *testing.T) {
	clearProviderEnv(t)

	p, err := FromEnv()
	if err != nil {
		t.Fatalf("FromEnv failed: %v", err)
	}
	if p.Name() != "ollama" {
		t.Errorf("Name = %q, want ollama", p.Name())
	}
}

// =============================================================================
// BATCHING
// =============================================================================

func TestGenerateBatchSequentialFallback(t *testing.T) {
	p := NewScripted().
		WithResponse("a", "alpha").
		WithResponse("b", "beta")

	out, err := GenerateBatch(context.Background(), p, []GenerationRequest{request("a"), request("b")})
	if err != nil {
		t.Fatalf("GenerateBatch failed: %v", err)
	}
	if len(out) != 2 || out[0].Text != "alpha" || out[1].Text != "beta" {
		t.Errorf("responses = %+v", out)
	}
}

func TestGenerateBatchReportsFailingIndex(t *testing.T) {
	p := NewScripted().WithError("b", errors.New("boom"))
	_, err := GenerateBatch(context.Background(), p, []GenerationRequest{request("a"), request("b")})
	if err == nil || !strings.Contains(err.Error(), "batch request 1") {
		t.Errorf("error = %v, want failing index", err)
	}
}

// =============================================================================
// OPENAI CLIENT
// =============================================================================

func TestOpenAIGenerate(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		if r.URL.Path != "/chat/completions" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer test-key" {
			t.Error("missing bearer token")
		}

		var body openAIRequest
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if len(body.Messages) != 2 || body.Messages[0].Role != "system" {
			t.Errorf("messages = %+v", body.Messages)
		}

		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{
			"choices": [{"message": {"role": "assistant", "content": "  func Greet() {}  "}}],
			"usage": {"total_tokens": 17}
		}`)
	}))
	defer server.Close()

	p, err := NewOpenAI(Config{APIKey: "test-key", BaseURL: server.URL})
	if err != nil {
		t.Fatalf("NewOpenAI failed: %v", err)
	}

	req := request("greet")
	req.SystemPrompt = "You generate Go."
	resp, err := p.Generate(context.Background(), req)
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if resp.Text != "func Greet() {}" {
		t.Errorf("Text = %q", resp.Text)
	}
	if resp.TokensUsed != 17 {
		t.Errorf("TokensUsed = %d", resp.TokensUsed)
	}
}

func TestOpenAIRetriesRateLimit(t *testing.T) {
	old := retryBase
	retryBase = time.Millisecond
	defer func() { retryBase = old }()

	attempts := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts < 3 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		fmt.Fprint(w, `{"choices": [{"message": {"content": "ok"}}]}`)
	}))
	defer server.Close()

	p, err := NewOpenAI(Config{APIKey: "test-key", BaseURL: server.URL})
	if err != nil {
		t.Fatalf("NewOpenAI failed: %v", err)
	}
	resp, err := p.Generate(context.Background(), request("x"))
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if attempts != 3 {
		t.Errorf("attempts = %d, want 3", attempts)
	}
	if resp.Text != "ok" {
		t.Errorf("Text = %q", resp.Text)
	}
}

func TestOpenAIDoesNotRetryClientErrors(t *testing.T) {
	attempts := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprint(w, `{"error": {"message": "bad key"}}`)
	}))
	defer server.Close()

	p, err := NewOpenAI(Config{APIKey: "wrong", BaseURL: server.URL})
	if err != nil {
		t.Fatalf("NewOpenAI failed: %v", err)
	}
	if _, err := p.Generate(context.Background(), request("x")); err == nil {
		t.Fatal("expected error")
	}
	if attempts != 1 {
		t.Errorf("attempts = %d, want 1", attempts)
	}
}

func TestOpenAIStreamingUnsupported(t *testing.T) {
	p, err := NewOpenAI(Config{APIKey: "k"})
	if err != nil {
		t.Fatalf("NewOpenAI failed: %v", err)
	}
	if _, err := p.GenerateStream(context.Background(), request("x")); !errors.Is(err, ErrStreamingUnsupported) {
		t.Errorf("GenerateStream = %v, want ErrStreamingUnsupported", err)
	}
}

func TestOpenAIHealthCheck(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/models" {
			t.Errorf("path = %s", r.URL.Path)
		}
		fmt.Fprint(w, `{"data": []}`)
	}))
	defer server.Close()

	p, err := NewOpenAI(Config{APIKey: "k", BaseURL: server.URL})
	if err != nil {
		t.Fatalf("NewOpenAI failed: %v", err)
	}
	if err := p.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck = %v", err)
	}
}

// =============================================================================
// ANTHROPIC CLIENT
// =============================================================================

func TestAnthropicGenerate(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/messages" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if r.Header.Get("x-api-key") != "test-key" {
			t.Error("missing x-api-key")
		}
		if r.Header.Get("anthropic-version") == "" {
			t.Error("missing anthropic-version")
		}

		var body anthropicRequest
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if body.System != "sys" {
			t.Errorf("system = %q", body.System)
		}
		if body.MaxTokens == 0 {
			t.Error("max_tokens must always be set")
		}

		fmt.Fprint(w, `{
			"content": [{"type": "text", "text": "func A() {}"}],
			"usage": {"input_tokens": 10, "output_tokens": 5}
		}`)
	}))
	defer server.Close()

	p, err := NewAnthropic(Config{APIKey: "test-key", BaseURL: server.URL})
	if err != nil {
		t.Fatalf("NewAnthropic failed: %v", err)
	}

	req := request("a")
	req.SystemPrompt = "sys"
	resp, err := p.Generate(context.Background(), req)
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if resp.Text != "func A() {}" {
		t.Errorf("Text = %q", resp.Text)
	}
	if resp.TokensUsed != 15 {
		t.Errorf("TokensUsed = %d, want 15", resp.TokensUsed)
	}
}

func TestAnthropicAPIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"error": {"type": "invalid_request_error", "message": "too long"}}`)
	}))
	defer server.Close()

	p, err := NewAnthropic(Config{APIKey: "k", BaseURL: server.URL})
	if err != nil {
		t.Fatalf("NewAnthropic failed: %v", err)
	}
	_, err = p.Generate(context.Background(), request("x"))
	if err == nil || !strings.Contains(err.Error(), "too long") {
		t.Errorf("error = %v, want API message", err)
	}
}

// =============================================================================
// OLLAMA CLIENT
// =============================================================================

func TestOllamaGenerate(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/generate" {
			t.Errorf("path = %s", r.URL.Path)
		}
		var body ollamaRequest
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if body.Stream {
			t.Error("stream should be false for Generate")
		}
		if body.Model != "codellama" {
			t.Errorf("model = %q", body.Model)
		}
		fmt.Fprint(w, `{"response": "print(1)", "done": true, "prompt_eval_count": 4, "eval_count": 3}`)
	}))
	defer server.Close()

	p, err := NewOllama(Config{BaseURL: server.URL})
	if err != nil {
		t.Fatalf("NewOllama failed: %v", err)
	}
	resp, err := p.Generate(context.Background(), request("x"))
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if resp.Text != "print(1)" {
		t.Errorf("Text = %q", resp.Text)
	}
	if resp.TokensUsed != 7 {
		t.Errorf("TokensUsed = %d, want 7", resp.TokensUsed)
	}
}

func TestOllamaStream(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body ollamaRequest
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if !body.Stream {
			t.Error("stream should be true for GenerateStream")
		}
		fmt.Fprintln(w, `{"response": "func ", "done": false}`)
		fmt.Fprintln(w, `{"response": "main()", "done": false}`)
		fmt.Fprintln(w, `{"response": "", "done": true, "eval_count": 2}`)
	}))
	defer server.Close()

	p, err := NewOllama(Config{BaseURL: server.URL})
	if err != nil {
		t.Fatalf("NewOllama failed: %v", err)
	}
	chunks, err := p.GenerateStream(context.Background(), request("x"))
	if err != nil {
		t.Fatalf("GenerateStream failed: %v", err)
	}

	var sb strings.Builder
	for chunk := range chunks {
		if chunk.Err != nil {
			t.Fatalf("chunk error: %v", chunk.Err)
		}
		sb.WriteString(chunk.Delta)
	}
	if sb.String() != "func main()" {
		t.Errorf("reassembled = %q", sb.String())
	}
}

func TestOllamaStreamSurfacesServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintln(w, `{"error": "model not found"}`)
	}))
	defer server.Close()

	p, err := NewOllama(Config{BaseURL: server.URL})
	if err != nil {
		t.Fatalf("NewOllama failed: %v", err)
	}
	chunks, err := p.GenerateStream(context.Background(), request("x"))
	if err != nil {
		t.Fatalf("GenerateStream failed: %v", err)
	}

	var streamErr error
	for chunk := range chunks {
		if chunk.Err != nil {
			streamErr = chunk.Err
		}
	}
	if streamErr == nil || !strings.Contains(streamErr.Error(), "model not found") {
		t.Errorf("stream error = %v", streamErr)
	}
}

func TestOllamaHealthCheck(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/tags" {
			t.Errorf("path = %s", r.URL.Path)
		}
		fmt.Fprint(w, `{"models": []}`)
	}))
	defer server.Close()

	p, err := NewOllama(Config{BaseURL: server.URL})
	if err != nil {
		t.Fatalf("NewOllama failed: %v", err)
	}
	if err := p.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck = %v", err)
	}

	server.Close()
	if err := p.HealthCheck(context.Background()); err == nil {
		t.Error("HealthCheck should fail once the server is gone")
	}
}
