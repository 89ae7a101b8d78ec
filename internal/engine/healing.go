package engine

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"foundry/internal/observer"
	"foundry/internal/provider"
	"foundry/internal/validate"
)

// cacheKey derives the exact-match key for a request. Every field
// that can change the backend's answer participates, so an override
// never aliases a value cached under different settings. The key is
// computed from the pristine request, before healing feedback mutates
// the prompt.
func cacheKey(req provider.GenerationRequest) string {
	return strings.Join([]string{
		req.Slot.Prompt,
		req.Context,
		req.Options.Model,
		strconv.Itoa(req.Options.MaxTokens),
	}, "\n")
}

// heal runs the generate-validate-heal loop for one request, bounded
// by MaxRetries+1 attempts. Rejected attempts feed their diagnostic
// back into the prompt; identical consecutive outputs abort early as
// stuck.
func (e *Engine) heal(ctx context.Context, id string, req provider.GenerationRequest) (provider.GenerationResponse, error) {
	key := cacheKey(req)
	if e.cache != nil {
		if text, ok := e.cache.Get(ctx, key); ok {
			e.logger.Debug("Cache hit", zap.String("slot", req.Slot.Name))
			return provider.GenerationResponse{
				Text:     text,
				Metadata: map[string]string{"cache": "hit"},
			}, nil
		}
	}

	retries := e.cfg.MaxRetries
	if retries < 0 {
		retries = 0
	}

	var (
		prevText string
		lastErr  error
	)
	work := req
	for attempt := 0; attempt <= retries; attempt++ {
		resp, err := e.provider.Generate(ctx, work)
		if err != nil {
			e.logger.Debug("Generation attempt failed",
				zap.String("slot", req.Slot.Name),
				zap.Int("attempt", attempt+1),
				zap.Error(err))
			if attempt < retries {
				backoff := e.cfg.GetRetryBackoff() * time.Duration(attempt+1)
				if serr := sleepCtx(ctx, backoff); serr != nil {
					return provider.GenerationResponse{}, &BackendError{Provider: e.provider.Name(), Attempts: attempt + 1, Err: serr}
				}
				continue
			}
			return provider.GenerationResponse{}, &BackendError{Provider: e.provider.Name(), Attempts: attempt + 1, Err: err}
		}

		text := stripCodeFences(resp.Text)
		if attempt > 0 && text == prevText {
			return provider.GenerationResponse{}, &StuckError{Slot: req.Slot.Name, Attempts: attempt + 1}
		}
		prevText = text

		var res validate.Result
		if e.validator == nil {
			res = validate.CheckConstraints(req.Slot, text)
		} else {
			if formatted, ferr := e.validator.Format(ctx, req.Slot.Kind, text); ferr == nil {
				text = formatted
			}
			var verr error
			res, verr = e.validator.ValidateSlot(ctx, req.Slot, text)
			if verr != nil {
				return provider.GenerationResponse{}, fmt.Errorf("validator: %w", verr)
			}
		}

		if res.Valid {
			if e.cache != nil {
				e.cache.Set(ctx, key, text)
			}
			resp.Text = text
			return resp, nil
		}

		e.logger.Info("Self-healing: validation failed",
			zap.String("slot", req.Slot.Name),
			zap.Int("attempt", attempt+1),
			zap.String("diagnostic", res.Diagnostic))
		e.notify(func(o observer.Observer) { o.OnHealingStep(id, attempt+1, res.Diagnostic) })
		lastErr = &ValidationError{Slot: req.Slot.Name, Attempts: attempt + 1, Diagnostic: res.Diagnostic}

		if attempt < retries {
			work.Slot.Prompt = work.Slot.Prompt + "\n\n" + e.cfg.Prompts.HealingFeedback + res.Diagnostic
		}
	}
	return provider.GenerationResponse{}, lastErr
}

// stripCodeFences unwraps a response the backend wrapped in a
// markdown code block. Text that is not fenced end to end passes
// through with only surrounding whitespace trimmed.
func stripCodeFences(text string) string {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "```") {
		return text
	}
	lines := strings.Split(text, "\n")
	lines = lines[1:]
	if n := len(lines); n > 0 && strings.TrimSpace(lines[n-1]) == "```" {
		lines = lines[:n-1]
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
