// Package foundry renders documents whose {{AI:name}} slots are
// filled by a code-generation backend. A render assembles an
// injection context (optionally compressed to the TOON notation),
// asks the configured provider to fill each slot, validates and
// self-heals rejected output, caches accepted generations and splices
// everything back into the document deterministically.
//
// The minimal flow:
//
//	p, err := foundry.ProviderFromEnv()
//	if err != nil {
//		log.Fatal(err)
//	}
//	eng := foundry.New(p, foundry.DefaultConfig())
//	tmpl := foundry.NewTemplate("<div>{{AI:greeting}}</div>").
//		WithSlot("greeting", "A one-line HTML greeting")
//	out, err := eng.Render(ctx, tmpl)
//
// Incremental re-rendering goes through a Session, which memoizes
// generations by slot and context fingerprint so repeated renders only
// pay for slots whose definitions changed.
//
// Everything here is a thin alias over the internal packages; the
// foundry command in cmd/foundry is a CLI over the same surface.
package foundry
