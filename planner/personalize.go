// Copyright (C) 2025 Nirman AI (deveshjha247@gmail.com)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package planner

import (
	"github.com/deveshjha247/Nirman/datatypes"
)

// maxPreferredSections bounds how many learned sections personalization
// may add to one spec.
const maxPreferredSections = 3

// ApplyPreferences folds a user's learned taste into a spec. Preferences
// fill gaps only: an explicit tone, font, or non-default palette in the
// spec always wins over the learned profile.
func ApplyPreferences(spec *datatypes.SpecDoc, prefs *datatypes.UserPreferences) {
	if spec == nil || prefs == nil {
		return
	}

	if spec.Tone == "" || spec.Tone == defaultTone {
		if prefs.PreferredTone != "" {
			spec.Tone = prefs.PreferredTone
		}
	}
	if spec.Font == "" || spec.Font == defaultFont {
		if prefs.PreferredFont != "" {
			spec.Font = prefs.PreferredFont
		}
	}
	if spec.Colors.Primary == defaultPrimary && prefs.ColorPrefs != nil {
		spec.Colors = *prefs.ColorPrefs
	}

	added := 0
	for _, sectionType := range prefs.TopSections(maxPreferredSections) {
		if added >= maxPreferredSections || len(spec.Sections) >= maxSections {
			break
		}
		if spec.HasSection(sectionType) {
			continue
		}
		insertBeforeFooter(spec, datatypes.SpecSection{Type: sectionType})
		added++
	}
}

// MergePattern uses a mined pattern's structure as a template for the
// matching section. The spec's own copy always wins over the pattern's;
// the pattern only contributes fields the section does not set.
func MergePattern(spec *datatypes.SpecDoc, pattern *datatypes.DesignPattern) bool {
	if spec == nil || pattern == nil {
		return false
	}
	for i := range spec.Sections {
		if spec.Sections[i].Type != pattern.SectionType {
			continue
		}
		sec := &spec.Sections[i]
		if sec.Headline == "" {
			if headline, ok := pattern.Structure["headline"].(string); ok {
				sec.Headline = headline
			}
		}
		if sec.Subtext == "" {
			if subtext, ok := pattern.Structure["subtext"].(string); ok {
				sec.Subtext = subtext
			}
		}
		if len(sec.Items) == 0 {
			if items, ok := pattern.Structure["items"].([]any); ok {
				for _, item := range items {
					if s, ok := item.(string); ok {
						sec.Items = append(sec.Items, s)
					}
				}
			}
		}
		return true
	}
	return false
}
