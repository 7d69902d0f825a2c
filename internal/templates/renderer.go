package templates

import (
	"context"
	"regexp"
)

// placeholderPattern matches {{name}} tokens, with optional inner whitespace.
// Substitution is single-pass: values containing {{...}} are not re-expanded.
var placeholderPattern = regexp.MustCompile(`\{\{\s*([a-zA-Z0-9_]+)\s*\}\}`)

type translationLookup interface {
	Lookup(ctx context.Context, key, channel, language string) (string, error)
}

// Renderer resolves a template body and substitutes named placeholders.
type Renderer struct {
	store translationLookup
}

func NewRenderer(store translationLookup) *Renderer {
	return &Renderer{store: store}
}

// Render resolves (key, channel, language) with English fallback and replaces
// every {{name}} token with tctx[name], or the empty string when absent.
// Unknown placeholders never fail; re-rendering identical inputs yields
// identical output.
func (r *Renderer) Render(ctx context.Context, key, language, channel string, tctx map[string]string) (string, error) {
	body, err := r.store.Lookup(ctx, key, channel, language)
	if err != nil {
		return "", err
	}
	return Substitute(body, tctx), nil
}

// Substitute performs the placeholder replacement on an already-resolved body.
func Substitute(body string, tctx map[string]string) string {
	return placeholderPattern.ReplaceAllStringFunc(body, func(token string) string {
		name := placeholderPattern.FindStringSubmatch(token)[1]
		return tctx[name]
	})
}
