// Package observer defines the engine event sink. Observers receive
// lifecycle callbacks for every slot generation: start, healing
// attempts, terminal success or failure, plus free-form metadata.
//
// Callbacks are fire-and-forget. The engine recovers panics around the
// fan-out, so a broken sink cannot alter generation control flow, but
// sinks should still return quickly; they run on the generation path.
package observer

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"foundry/internal/provider"
)

// Observer receives engine lifecycle events. Implementations must be
// safe for concurrent use; parallel renders notify from multiple
// goroutines.
type Observer interface {
	// OnStart fires when a slot generation task begins. The id is
	// unique per task and correlates the remaining callbacks.
	OnStart(id, template, slot string, req provider.GenerationRequest)

	// OnHealingStep fires after a rejected validation, before the
	// retry. Attempt counts from 1.
	OnHealingStep(id string, attempt int, diagnostic string)

	// OnSuccess fires once with the accepted response.
	OnSuccess(id string, resp provider.GenerationResponse)

	// OnFailure fires once when a generation gives up.
	OnFailure(id string, err error)

	// OnMetadata reports auxiliary facts (cache hits, compression
	// ratios) keyed to a task.
	OnMetadata(id, key, value string)
}

// Nop discards all events.
type Nop struct{}

func (Nop) OnStart(string, string, string, provider.GenerationRequest) {}

func (Nop) OnHealingStep(string, int, string) {}

func (Nop) OnSuccess(string, provider.GenerationResponse) {}

func (Nop) OnFailure(string, error) {}

func (Nop) OnMetadata(string, string, string) {}

// =============================================================================
// ZAP SINK
// =============================================================================

// Zap logs engine events through a zap logger.
type Zap struct {
	logger *zap.Logger
}

// NewZap wraps a logger as an observer. A nil logger becomes a no-op
// logger.
func NewZap(logger *zap.Logger) *Zap {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Zap{logger: logger}
}

func (o *Zap) OnStart(id, template, slot string, req provider.GenerationRequest) {
	o.logger.Info("Generation started",
		zap.String("id", id),
		zap.String("template", template),
		zap.String("slot", slot),
		zap.String("kind", string(req.Slot.Kind)),
	)
}

func (o *Zap) OnHealingStep(id string, attempt int, diagnostic string) {
	o.logger.Warn("Healing retry",
		zap.String("id", id),
		zap.Int("attempt", attempt),
		zap.String("diagnostic", diagnostic),
	)
}

func (o *Zap) OnSuccess(id string, resp provider.GenerationResponse) {
	o.logger.Info("Generation succeeded",
		zap.String("id", id),
		zap.Int("tokens", resp.TokensUsed),
		zap.Int("bytes", len(resp.Text)),
	)
}

func (o *Zap) OnFailure(id string, err error) {
	o.logger.Error("Generation failed",
		zap.String("id", id),
		zap.Error(err),
	)
}

func (o *Zap) OnMetadata(id, key, value string) {
	o.logger.Debug("Generation metadata",
		zap.String("id", id),
		zap.String(key, value),
	)
}

// =============================================================================
// PROMETHEUS SINK
// =============================================================================

// Metrics exports engine events as Prometheus metrics.
type Metrics struct {
	generations *prometheus.CounterVec
	healing     *prometheus.CounterVec
	duration    *prometheus.HistogramVec
	tokens      prometheus.Counter

	mu     sync.Mutex
	starts map[string]taskStart
}

type taskStart struct {
	slot string
	at   time.Time
}

// NewMetrics registers the engine metrics with reg and returns the
// sink. Pass prometheus.DefaultRegisterer in production and a fresh
// prometheus.NewRegistry in tests.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		generations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "foundry_generations_total",
				Help: "Slot generations by terminal status",
			},
			[]string{"slot", "status"},
		),
		healing: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "foundry_healing_steps_total",
				Help: "Validation rejections that triggered a retry",
			},
			[]string{"slot"},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name: "foundry_generation_duration_seconds",
				Help: "Wall time per slot generation task",
			},
			[]string{"slot"},
		),
		tokens: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "foundry_tokens_used_total",
				Help: "Tokens reported by providers for accepted generations",
			},
		),
		starts: make(map[string]taskStart),
	}
	reg.MustRegister(m.generations, m.healing, m.duration, m.tokens)
	return m
}

func (m *Metrics) OnStart(id, _, slot string, _ provider.GenerationRequest) {
	m.mu.Lock()
	m.starts[id] = taskStart{slot: slot, at: time.Now()}
	m.mu.Unlock()
}

func (m *Metrics) OnHealingStep(id string, _ int, _ string) {
	m.healing.WithLabelValues(m.slotFor(id)).Inc()
}

func (m *Metrics) OnSuccess(id string, resp provider.GenerationResponse) {
	m.finish(id, "success")
	m.tokens.Add(float64(resp.TokensUsed))
}

func (m *Metrics) OnFailure(id string, _ error) {
	m.finish(id, "failure")
}

func (m *Metrics) OnMetadata(string, string, string) {}

func (m *Metrics) slotFor(id string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if start, ok := m.starts[id]; ok {
		return start.slot
	}
	return "unknown"
}

func (m *Metrics) finish(id, status string) {
	m.mu.Lock()
	start, ok := m.starts[id]
	delete(m.starts, id)
	m.mu.Unlock()

	slot := start.slot
	if !ok {
		slot = "unknown"
	}
	m.generations.WithLabelValues(slot, status).Inc()
	if ok {
		m.duration.WithLabelValues(slot).Observe(time.Since(start.at).Seconds())
	}
}

// =============================================================================
// FAN-OUT
// =============================================================================

// Multi forwards every event to each sink in order.
type Multi struct {
	sinks []Observer
}

// NewMulti combines sinks into one observer.
func NewMulti(sinks ...Observer) *Multi {
	return &Multi{sinks: sinks}
}

func (m *Multi) OnStart(id, template, slot string, req provider.GenerationRequest) {
	for _, s := range m.sinks {
		s.OnStart(id, template, slot, req)
	}
}

func (m *Multi) OnHealingStep(id string, attempt int, diagnostic string) {
	for _, s := range m.sinks {
		s.OnHealingStep(id, attempt, diagnostic)
	}
}

func (m *Multi) OnSuccess(id string, resp provider.GenerationResponse) {
	for _, s := range m.sinks {
		s.OnSuccess(id, resp)
	}
}

func (m *Multi) OnFailure(id string, err error) {
	for _, s := range m.sinks {
		s.OnFailure(id, err)
	}
}

func (m *Multi) OnMetadata(id, key, value string) {
	for _, s := range m.sinks {
		s.OnMetadata(id, key, value)
	}
}
