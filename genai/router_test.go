package genai

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

type stubGenerator struct {
	text string
	err  error
}

func (s stubGenerator) Generate(_ context.Context, _ Request) (Response, error) {
	if s.err != nil {
		return Response{}, s.err
	}
	return Response{Text: s.text}, nil
}

func TestChooseProvider(t *testing.T) {
	tests := []struct {
		prompt string
		want   string
	}{
		{"make a beautiful ui design for my shop", ProviderClaude},
		{"implement a complex sorting algorithm", ProviderOpenAI},
		{"just a quick simple page", ProviderGemini},
		{"build me a bakery site", ProviderOpenAI},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ChooseProvider(tt.prompt), tt.prompt)
	}
}

func TestModelFor(t *testing.T) {
	assert.Equal(t, "gpt-4o", ModelFor(ProviderOpenAI))
	assert.Equal(t, "gemini-2.0-flash", ModelFor(ProviderGemini))
	assert.Equal(t, "claude-sonnet-4-20250514", ModelFor(ProviderClaude))
	assert.Equal(t, "gpt-4o", ModelFor("unknown"))
}

func TestRouter_Resolve(t *testing.T) {
	router := NewRouter(map[string]Generator{
		ProviderOpenAI: stubGenerator{text: "ok"},
	})

	provider, backend := router.Resolve(ProviderOpenAI, "anything")
	assert.Equal(t, ProviderOpenAI, provider)
	resp, err := backend.Generate(context.Background(), Request{})
	assert.NoError(t, err)
	assert.Equal(t, "ok", resp.Text)

	// Auto routing falls through to prompt hints.
	provider, _ = router.Resolve(ProviderAuto, "a beautiful ui design")
	assert.Equal(t, ProviderClaude, provider)

	// Unwired providers resolve to an erroring backend, not nil.
	_, backend = router.Resolve(ProviderGemini, "quick page")
	_, err = backend.Generate(context.Background(), Request{})
	assert.Error(t, err)
	assert.False(t, errors.Is(err, context.Canceled))
}
