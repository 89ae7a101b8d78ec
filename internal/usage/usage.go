// Package usage aggregates the token spend providers report for
// accepted generations. A Tracker plugs into the engine as an observer
// and tallies by slot and by model; rejected drafts inside the healing
// loop never reach a terminal callback, so only accepted results
// count.
package usage

import (
	"sync"

	"foundry/internal/provider"
)

// Counts accumulates accepted generations and their token spend.
type Counts struct {
	Generations int
	Tokens      int64
}

func (c *Counts) add(tokens int) {
	c.Generations++
	c.Tokens += int64(tokens)
}

// Stats is a point-in-time copy of a tracker's tallies.
type Stats struct {
	Total   Counts
	BySlot  map[string]Counts
	ByModel map[string]Counts
}

type task struct {
	slot  string
	model string
}

// Tracker tallies engine generation events. Safe for concurrent use;
// parallel renders notify from multiple goroutines.
type Tracker struct {
	defaultModel string

	mu      sync.Mutex
	pending map[string]task
	total   Counts
	bySlot  map[string]Counts
	byModel map[string]Counts
}

// NewTracker returns an empty tracker. defaultModel labels requests
// that carry no model override.
func NewTracker(defaultModel string) *Tracker {
	if defaultModel == "" {
		defaultModel = "default"
	}
	return &Tracker{
		defaultModel: defaultModel,
		pending:      make(map[string]task),
		bySlot:       make(map[string]Counts),
		byModel:      make(map[string]Counts),
	}
}

func (t *Tracker) OnStart(id, _, slot string, req provider.GenerationRequest) {
	model := req.Options.Model
	if model == "" {
		model = t.defaultModel
	}
	t.mu.Lock()
	t.pending[id] = task{slot: slot, model: model}
	t.mu.Unlock()
}

func (t *Tracker) OnHealingStep(string, int, string) {}

func (t *Tracker) OnSuccess(id string, resp provider.GenerationResponse) {
	t.mu.Lock()
	defer t.mu.Unlock()
	started, ok := t.pending[id]
	if !ok {
		return
	}
	delete(t.pending, id)

	t.total.add(resp.TokensUsed)
	addTo(t.bySlot, started.slot, resp.TokensUsed)
	addTo(t.byModel, started.model, resp.TokensUsed)
}

func (t *Tracker) OnFailure(id string, _ error) {
	t.mu.Lock()
	delete(t.pending, id)
	t.mu.Unlock()
}

func (t *Tracker) OnMetadata(string, string, string) {}

// Stats returns a copy of the tallies. The tracker keeps counting;
// callers can snapshot between renders.
func (t *Tracker) Stats() Stats {
	t.mu.Lock()
	defer t.mu.Unlock()
	return Stats{
		Total:   t.total,
		BySlot:  copyCounts(t.bySlot),
		ByModel: copyCounts(t.byModel),
	}
}

func addTo(m map[string]Counts, key string, tokens int) {
	c := m[key]
	c.add(tokens)
	m[key] = c
}

func copyCounts(src map[string]Counts) map[string]Counts {
	dst := make(map[string]Counts, len(src))
	for key, counts := range src {
		dst[key] = counts
	}
	return dst
}
