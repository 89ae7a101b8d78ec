package engine

import (
	"context"
	"sync"

	"foundry/internal/injection"
	"foundry/internal/template"
)

// Key identifies one memoized generation: the slot's stable
// fingerprint paired with the fingerprint of the context it was
// generated under. Both hashes survive process restarts.
type Key struct {
	Slot    uint64
	Context uint64
}

// Session memoizes slot generations across repeated renders of a
// template. Re-rendering after editing one slot's prompt regenerates
// only that slot; everything with an unchanged definition and context
// is reused. Entries are never evicted; the session's lifetime is the
// caller's to manage.
type Session struct {
	engine *Engine

	mu      sync.Mutex
	results map[Key]string
}

// NewSession returns an empty session bound to e.
func NewSession(e *Engine) *Session {
	return &Session{
		engine:  e,
		results: make(map[Key]string),
	}
}

// Len reports how many generations the session has memoized.
func (s *Session) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.results)
}

// RenderIncremental renders t, reusing every slot whose definition
// and global context are unchanged since a previous call. Slots are
// generated sequentially in marker order; each attempt's feedback
// depends on the previous one, so there is nothing to fan out.
func (s *Session) RenderIncremental(ctx context.Context, t *template.Template) (string, error) {
	names := t.OrderedNames()
	values := make(map[string]string, len(names))

	prompt, err := s.engine.contextPrompt(injection.New())
	if err != nil {
		return "", err
	}
	contextFP := s.engine.global.Fingerprint()

	for _, name := range names {
		sl, _ := t.Slot(name)
		key := Key{Slot: sl.Fingerprint(), Context: contextFP}

		if text, ok := s.lookup(key); ok {
			values[name] = text
			continue
		}

		text, err := s.engine.runSlot(ctx, t.Name, sl, prompt)
		if err != nil {
			return "", err
		}
		s.store(key, text)
		values[name] = text
	}

	return t.Render(values)
}

func (s *Session) lookup(key Key) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	text, ok := s.results[key]
	return text, ok
}

func (s *Session) store(key Key, text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.results[key] = text
}
