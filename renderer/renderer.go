// Copyright (C) 2025 Nirman AI (deveshjha247@gmail.com)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package renderer turns a spec into a deliverable HTML artifact.
//
// Like the planner, the renderer treats model output as an optimization:
// a failed or invalid generation falls back to a deterministic template
// built from the spec, so rendering never fails a build.
package renderer

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"

	"github.com/deveshjha247/Nirman/datatypes"
	"github.com/deveshjha247/Nirman/genai"
)

const rendererSystemPrompt = `You are a frontend engineer. Given a JSON application spec,
respond with ONLY a complete single-file HTML document implementing it.
Use Tailwind CSS via CDN. The response must start with <!DOCTYPE html>.
Do not include markdown fences or any prose.`

// Meta reports how an artifact was produced.
type Meta struct {
	Fallback  bool
	Provider  string
	GenError  string
	TokensIn  int
	TokensOut int
}

// Renderer produces HTML from specs.
type Renderer struct {
	router *genai.Router
	logger *slog.Logger
}

// New creates a renderer.
func New(router *genai.Router, logger *slog.Logger) *Renderer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Renderer{router: router, logger: logger}
}

// Render generates HTML for the spec. extraInstructions, when non-empty,
// is appended to the generation prompt (used for known-fix retries).
//
// The returned HTML is always non-empty: generation failures and invalid
// output yield the fallback template with Meta.Fallback set and
// Meta.GenError carrying the failure for signature mining.
func (r *Renderer) Render(ctx context.Context, spec *datatypes.SpecDoc, prompt, provider, extraInstructions string) (string, Meta) {
	meta := Meta{}

	resolvedProvider, backend := r.router.Resolve(provider, prompt)
	meta.Provider = resolvedProvider

	specJSON, err := json.Marshal(spec)
	if err != nil {
		// A spec that cannot marshal still renders via the template.
		meta.Fallback = true
		meta.GenError = err.Error()
		return FallbackTemplate(spec), meta
	}

	var sb strings.Builder
	sb.WriteString("User request: ")
	sb.WriteString(prompt)
	sb.WriteString("\n\nApplication spec:\n")
	sb.Write(specJSON)
	if extraInstructions != "" {
		sb.WriteString("\n\nAdditional instructions:\n")
		sb.WriteString(extraInstructions)
	}

	resp, err := backend.Generate(ctx, genai.Request{
		Prompt:       sb.String(),
		SystemPrompt: rendererSystemPrompt,
		Provider:     resolvedProvider,
		Model:        genai.ModelFor(resolvedProvider),
	})
	if err != nil {
		r.logger.Warn("render generation failed, using fallback template",
			slog.String("provider", resolvedProvider),
			slog.String("error", err.Error()))
		meta.Fallback = true
		meta.GenError = err.Error()
		return FallbackTemplate(spec), meta
	}
	meta.TokensIn = resp.TokensIn
	meta.TokensOut = resp.TokensOut

	html := stripFences(resp.Text)
	if !strings.Contains(strings.ToLower(html), "<html") {
		r.logger.Warn("render output is not an HTML document, using fallback template",
			slog.String("provider", resolvedProvider))
		meta.Fallback = true
		meta.GenError = "model output is not an HTML document"
		return FallbackTemplate(spec), meta
	}
	return html, meta
}

// stripFences removes a markdown fence the model may have wrapped the
// document in despite instructions.
func stripFences(s string) string {
	trimmed := strings.TrimSpace(s)
	if !strings.HasPrefix(trimmed, "```") {
		return trimmed
	}
	trimmed = strings.TrimPrefix(trimmed, "```html")
	trimmed = strings.TrimPrefix(trimmed, "```")
	trimmed = strings.TrimSuffix(strings.TrimSpace(trimmed), "```")
	return strings.TrimSpace(trimmed)
}
