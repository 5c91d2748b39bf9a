// Copyright (C) 2025 Nirman AI (deveshjha247@gmail.com)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package planner turns a build prompt into a structured application
// spec.
//
// The planner prefers a model-generated spec but never depends on one:
// when the generation call fails, returns garbage, or produces an invalid
// spec, a deterministic default spec is used instead. Planning therefore
// cannot fail a build.
package planner

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/deveshjha247/Nirman/datatypes"
	"github.com/deveshjha247/Nirman/genai"
)

const plannerSystemPrompt = `You are an application planner. Given a user's request,
respond with ONLY a JSON object describing the application to build:
{
  "app_name": string,
  "tone": string,
  "layout": "landing" | "webapp",
  "font": string,
  "colors": {"primary": "#hex", "secondary": "#hex"},
  "sections": [{"type": string, "headline": string, "subtext": string, "items": [string]}]
}
Do not include any prose outside the JSON object.`

// PreferenceSource supplies learned user preferences. Implemented by
// badgerstore.Store; nil lookups are tolerated.
type PreferenceSource interface {
	GetPreferences(ctx context.Context, userID string) (*datatypes.UserPreferences, error)
	GetPattern(ctx context.Context, industry, sectionType string) (*datatypes.DesignPattern, error)
}

// Meta reports how a plan was produced.
type Meta struct {
	Fallback       bool
	Provider       string
	Industry       string
	Personalized   bool
	PatternUsed    string
	PatternSection string
	TokensIn       int
	TokensOut      int
}

// Planner produces specs from prompts.
type Planner struct {
	router *genai.Router
	prefs  PreferenceSource
	logger *slog.Logger
}

// New creates a planner. prefs may be nil to disable personalization.
func New(router *genai.Router, prefs PreferenceSource, logger *slog.Logger) *Planner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Planner{router: router, prefs: prefs, logger: logger}
}

// Plan generates a spec for the prompt.
//
// The happy path asks the resolved provider for a JSON spec. Every
// failure mode (call error, unparseable output, invalid spec) falls back
// to the deterministic default spec. Industry enhancement, learned
// preferences, and mined patterns are applied on top in that order.
func (p *Planner) Plan(ctx context.Context, prompt, provider, userID string) (*datatypes.SpecDoc, Meta) {
	meta := Meta{}

	resolvedProvider, backend := p.router.Resolve(provider, prompt)
	meta.Provider = resolvedProvider

	spec := p.generateSpec(ctx, backend, resolvedProvider, prompt, &meta)
	if spec == nil {
		spec = DefaultSpec(prompt)
		meta.Fallback = true
	}

	industry := DetectIndustry(prompt)
	if industry != "" {
		EnhanceWithIndustry(spec, industry)
		meta.Industry = industry
	}

	p.personalize(ctx, spec, userID, industry, &meta)
	return spec, meta
}

func (p *Planner) generateSpec(ctx context.Context, backend genai.Generator, provider, prompt string, meta *Meta) *datatypes.SpecDoc {
	resp, err := backend.Generate(ctx, genai.Request{
		Prompt:       prompt,
		SystemPrompt: plannerSystemPrompt,
		Provider:     provider,
		Model:        genai.ModelFor(provider),
	})
	if err != nil {
		p.logger.Warn("planner generation failed, using default spec",
			slog.String("provider", provider),
			slog.String("error", err.Error()))
		return nil
	}
	meta.TokensIn = resp.TokensIn
	meta.TokensOut = resp.TokensOut

	raw, err := ExtractJSON(resp.Text)
	if err != nil {
		p.logger.Warn("planner response had no JSON, using default spec",
			slog.String("provider", provider))
		return nil
	}

	spec, err := specFromMap(raw)
	if err != nil {
		p.logger.Warn("planner produced invalid spec, using default",
			slog.String("error", err.Error()))
		return nil
	}
	return spec
}

// specFromMap converts extracted JSON into a validated SpecDoc, filling
// defaults for anything the model left out.
func specFromMap(raw map[string]any) (*datatypes.SpecDoc, error) {
	data, err := json.Marshal(raw)
	if err != nil {
		return nil, err
	}
	var spec datatypes.SpecDoc
	if err := json.Unmarshal(data, &spec); err != nil {
		return nil, err
	}

	if spec.AppName == "" {
		return nil, errors.New("spec missing app_name")
	}
	if len(spec.Sections) == 0 {
		return nil, errors.New("spec has no sections")
	}
	for _, sec := range spec.Sections {
		if sec.Type == "" {
			return nil, errors.New("spec section missing type")
		}
	}

	if spec.Colors.Primary == "" {
		spec.Colors.Primary = defaultPrimary
	}
	if spec.Colors.Secondary == "" {
		spec.Colors.Secondary = defaultSecondary
	}
	if spec.Font == "" {
		spec.Font = defaultFont
	}
	if spec.Tone == "" {
		spec.Tone = defaultTone
	}
	if spec.Layout == "" {
		spec.Layout = "landing"
	}
	return &spec, nil
}

func (p *Planner) personalize(ctx context.Context, spec *datatypes.SpecDoc, userID, industry string, meta *Meta) {
	if p.prefs == nil || userID == "" {
		return
	}

	if prefs, err := p.prefs.GetPreferences(ctx, userID); err == nil && prefs != nil {
		ApplyPreferences(spec, prefs)
		meta.Personalized = true
	}

	if industry == "" {
		return
	}
	// Try the strongest mined pattern for a section the spec carries.
	for _, sec := range spec.Sections {
		pattern, err := p.prefs.GetPattern(ctx, industry, sec.Type)
		if err != nil || pattern == nil {
			continue
		}
		if pattern.Score < 0.5 {
			continue
		}
		if MergePattern(spec, pattern) {
			meta.PatternUsed = pattern.ID
			meta.PatternSection = pattern.SectionType
			break
		}
	}
}
