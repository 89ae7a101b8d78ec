package engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"foundry/internal/injection"
	"foundry/internal/provider"
	"foundry/internal/template"
)

func TestSessionReusesUnchangedSlots(t *testing.T) {
	p := provider.NewScripted().
		WithResponse("header", "<h1>Shop</h1>").
		WithResponse("footer", "<small>2025</small>")
	sess := NewSession(New(p, testConfig()))
	tmpl := template.New("{{AI:header}}\n{{AI:footer}}")

	first, err := sess.RenderIncremental(context.Background(), tmpl)
	require.NoError(t, err)
	second, err := sess.RenderIncremental(context.Background(), tmpl)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 1, p.Calls("header"))
	assert.Equal(t, 1, p.Calls("footer"))
	assert.Equal(t, 2, sess.Len())
}

func TestSessionRegeneratesOnlyEditedSlot(t *testing.T) {
	p := provider.NewScripted().
		WithResponse("header", "<h1>Shop</h1>").
		WithSequence("footer", "<small>2025</small>", "<small>2026</small>")
	sess := NewSession(New(p, testConfig()))
	tmpl := template.New("{{AI:header}}\n{{AI:footer}}")

	_, err := sess.RenderIncremental(context.Background(), tmpl)
	require.NoError(t, err)

	tmpl.WithSlot("footer", "updated copyright line")
	out, err := sess.RenderIncremental(context.Background(), tmpl)
	require.NoError(t, err)

	assert.Equal(t, "<h1>Shop</h1>\n<small>2026</small>", out)
	assert.Equal(t, 1, p.Calls("header"))
	assert.Equal(t, 2, p.Calls("footer"))
	assert.Equal(t, 3, sess.Len())
}

func TestSessionKeysIncludeGlobalContext(t *testing.T) {
	p := provider.NewScripted().WithResponse("code", "body")
	e := New(p, testConfig())
	sess := NewSession(e)
	tmpl := template.New("{{AI:code}}")

	_, err := sess.RenderIncremental(context.Background(), tmpl)
	require.NoError(t, err)

	e.WithContext(injection.New().WithProject("aurora"))
	_, err = sess.RenderIncremental(context.Background(), tmpl)
	require.NoError(t, err)

	assert.Equal(t, 2, p.Calls("code"))
	assert.Equal(t, 2, sess.Len())
}

func TestSessionPropagatesGenerationFailure(t *testing.T) {
	p := provider.NewScripted().WithError("code", assert.AnError)
	sess := NewSession(New(p, testConfig()))

	_, err := sess.RenderIncremental(context.Background(), template.New("{{AI:code}}"))

	var be *BackendError
	require.ErrorAs(t, err, &be)
	assert.Zero(t, sess.Len())
}
