// Copyright (C) 2025 Nirman AI (deveshjha247@gmail.com)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package datatypes

import "time"

// SpecSection is one block of a planned page. Type drives rendering
// (hero, features, pricing, testimonials, cta, footer, ...).
type SpecSection struct {
	Type     string         `json:"type"`
	Headline string         `json:"headline,omitempty"`
	Subtext  string         `json:"subtext,omitempty"`
	Items    []string       `json:"items,omitempty"`
	Extra    map[string]any `json:"extra,omitempty"`
}

// SpecColors holds the palette for a spec.
type SpecColors struct {
	Primary   string `json:"primary"`
	Secondary string `json:"secondary"`
}

// SpecDoc is a structured application spec produced by the planner (or the
// deterministic default when the planner cannot run).
type SpecDoc struct {
	AppName  string        `json:"app_name"`
	Industry string        `json:"industry,omitempty"`
	Tone     string        `json:"tone,omitempty"`
	Layout   string        `json:"layout,omitempty"` // "landing" or "webapp"
	Colors   SpecColors    `json:"colors"`
	Font     string        `json:"font,omitempty"`
	Sections []SpecSection `json:"sections"`
}

// SectionTypes returns the section types in order.
func (s *SpecDoc) SectionTypes() []string {
	types := make([]string, 0, len(s.Sections))
	for _, sec := range s.Sections {
		types = append(types, sec.Type)
	}
	return types
}

// HasSection reports whether a section of the given type exists.
func (s *SpecDoc) HasSection(sectionType string) bool {
	for _, sec := range s.Sections {
		if sec.Type == sectionType {
			return true
		}
	}
	return false
}

// SpecSource identifies how a spec version came to exist.
type SpecSource string

const (
	SpecSourcePlanner    SpecSource = "planner"
	SpecSourceUserEdit   SpecSource = "user_edit"
	SpecSourceRegenerate SpecSource = "regenerate"
)

// SpecVersion is an immutable snapshot of a project's spec. Version is
// 1-based and strictly increasing per project.
type SpecVersion struct {
	ProjectID string     `json:"project_id"`
	Version   int        `json:"version"`
	Source    SpecSource `json:"source"`
	Spec      SpecDoc    `json:"spec"`
	CreatedAt time.Time  `json:"created_at"`
}
