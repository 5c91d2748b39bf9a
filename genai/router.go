package genai

import (
	"context"
	"fmt"
	"strings"
)

// Provider names accepted on build requests.
const (
	ProviderOpenAI = "openai"
	ProviderClaude = "claude"
	ProviderGemini = "gemini"
	ProviderAuto   = "auto"
)

// defaultModels maps providers to their default model.
var defaultModels = map[string]string{
	ProviderOpenAI: "gpt-4o",
	ProviderGemini: "gemini-2.0-flash",
	ProviderClaude: "claude-sonnet-4-20250514",
}

// ChooseProvider picks a provider from prompt hints when the caller asked
// for "auto" (or nothing). Design-heavy prompts go to claude, algorithmic
// ones to openai, quick ones to gemini; openai is the default.
func ChooseProvider(prompt string) string {
	lower := strings.ToLower(prompt)
	switch {
	case strings.Contains(lower, "design") || strings.Contains(lower, "ui") ||
		strings.Contains(lower, "beautiful") || strings.Contains(lower, "aesthetic"):
		return ProviderClaude
	case strings.Contains(lower, "complex") || strings.Contains(lower, "algorithm") ||
		strings.Contains(lower, "optimize"):
		return ProviderOpenAI
	case strings.Contains(lower, "simple") || strings.Contains(lower, "quick") ||
		strings.Contains(lower, "basic"):
		return ProviderGemini
	default:
		return ProviderOpenAI
	}
}

// ModelFor returns the default model for a provider, or the openai default
// for unknown providers.
func ModelFor(provider string) string {
	if model, ok := defaultModels[provider]; ok {
		return model
	}
	return defaultModels[ProviderOpenAI]
}

// Router resolves provider names to backends. Providers without a wired
// backend resolve to an erroring generator so callers exercise their
// fallback path instead of crashing.
type Router struct {
	backends map[string]Generator
}

// NewRouter creates a router over the given backends, keyed by provider.
func NewRouter(backends map[string]Generator) *Router {
	if backends == nil {
		backends = make(map[string]Generator)
	}
	return &Router{backends: backends}
}

// Resolve returns the provider to use and its backend. Empty and "auto"
// providers are routed by prompt hints.
func (r *Router) Resolve(provider, prompt string) (string, Generator) {
	if provider == "" || provider == ProviderAuto {
		provider = ChooseProvider(prompt)
	}
	if backend, ok := r.backends[provider]; ok {
		return provider, backend
	}
	return provider, unavailableGenerator{provider: provider}
}

// unavailableGenerator stands in for providers with no configured backend.
type unavailableGenerator struct {
	provider string
}

func (g unavailableGenerator) Generate(_ context.Context, _ Request) (Response, error) {
	return Response{}, fmt.Errorf("no backend configured for provider %q", g.provider)
}

var _ Generator = unavailableGenerator{}
