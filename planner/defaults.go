// Copyright (C) 2025 Nirman AI (deveshjha247@gmail.com)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package planner

import (
	"strings"

	"github.com/deveshjha247/Nirman/datatypes"
)

// Default palette. Industry enhancement only overrides colors while the
// primary still carries this value, so explicit model choices stick.
const (
	defaultPrimary   = "#6366f1"
	defaultSecondary = "#8b5cf6"
	defaultFont      = "Inter"
	defaultTone      = "modern"
)

// maxSections caps how many sections a spec may carry after
// personalization.
const maxSections = 8

// webappKeywords flip the default layout from landing page to webapp.
var webappKeywords = []string{"dashboard", "admin", "app", "crud", "login"}

// industryOrder fixes detection precedence: a prompt matching several
// industries always classifies as the earliest one listed here.
var industryOrder = []string{
	"food_delivery", "ecommerce", "saas", "portfolio",
	"healthcare", "education", "real_estate",
}

// industryKeywords maps detection keywords to an industry label.
var industryKeywords = map[string][]string{
	"food_delivery": {"food", "restaurant", "delivery", "menu", "pizza", "burger", "cafe"},
	"ecommerce":     {"shop", "store", "ecommerce", "e-commerce", "product", "cart", "sell"},
	"saas":          {"saas", "software", "subscription", "startup", "b2b", "analytics", "crm"},
	"portfolio":     {"portfolio", "photographer", "designer", "freelance", "resume", "artist"},
	"healthcare":    {"health", "clinic", "doctor", "medical", "dental", "wellness", "therapy"},
	"education":     {"school", "course", "learning", "education", "tutor", "academy", "training"},
	"real_estate":   {"real estate", "property", "homes", "realtor", "apartment", "listing"},
}

// industryTemplate carries the sections and palette typical for an
// industry.
type industryTemplate struct {
	sections  []string
	primary   string
	secondary string
}

var industryTemplates = map[string]industryTemplate{
	"food_delivery": {
		sections:  []string{"hero", "menu", "features", "testimonials", "cta", "footer"},
		primary:   "#ef4444",
		secondary: "#f97316",
	},
	"ecommerce": {
		sections:  []string{"hero", "products", "features", "testimonials", "cta", "footer"},
		primary:   "#0ea5e9",
		secondary: "#6366f1",
	},
	"saas": {
		sections:  []string{"hero", "features", "pricing", "testimonials", "cta", "footer"},
		primary:   "#6366f1",
		secondary: "#22d3ee",
	},
	"portfolio": {
		sections:  []string{"hero", "gallery", "about", "testimonials", "contact", "footer"},
		primary:   "#111827",
		secondary: "#f59e0b",
	},
	"healthcare": {
		sections:  []string{"hero", "services", "features", "testimonials", "contact", "footer"},
		primary:   "#14b8a6",
		secondary: "#0ea5e9",
	},
	"education": {
		sections:  []string{"hero", "courses", "features", "testimonials", "cta", "footer"},
		primary:   "#8b5cf6",
		secondary: "#ec4899",
	},
	"real_estate": {
		sections:  []string{"hero", "listings", "features", "testimonials", "contact", "footer"},
		primary:   "#1e40af",
		secondary: "#f59e0b",
	},
}

// DetectIndustry matches the prompt against the keyword table in
// precedence order. Empty string means no industry matched.
func DetectIndustry(prompt string) string {
	lower := strings.ToLower(prompt)
	for _, industry := range industryOrder {
		for _, kw := range industryKeywords[industry] {
			if strings.Contains(lower, kw) {
				return industry
			}
		}
	}
	return ""
}

// DefaultSpec builds the deterministic fallback spec for a prompt. It
// never fails: any prompt yields a renderable spec.
func DefaultSpec(prompt string) *datatypes.SpecDoc {
	layout := "landing"
	lower := strings.ToLower(prompt)
	for _, kw := range webappKeywords {
		if strings.Contains(lower, kw) {
			layout = "webapp"
			break
		}
	}

	name := appNameFrom(prompt)
	return &datatypes.SpecDoc{
		AppName: name,
		Tone:    defaultTone,
		Layout:  layout,
		Font:    defaultFont,
		Colors: datatypes.SpecColors{
			Primary:   defaultPrimary,
			Secondary: defaultSecondary,
		},
		Sections: []datatypes.SpecSection{
			{Type: "hero", Headline: name},
			{Type: "features"},
			{Type: "cta"},
			{Type: "footer"},
		},
	}
}

// appNameFrom derives a short display name from the prompt: the first few
// meaningful words, title-cased.
func appNameFrom(prompt string) string {
	words := strings.Fields(prompt)
	var picked []string
	for _, w := range words {
		cleaned := strings.Trim(w, ".,!?\"'")
		if cleaned == "" {
			continue
		}
		switch strings.ToLower(cleaned) {
		case "a", "an", "the", "build", "create", "make", "me", "my", "for", "please":
			continue
		}
		picked = append(picked, titleCase(cleaned))
		if len(picked) == 3 {
			break
		}
	}
	if len(picked) == 0 {
		return "My App"
	}
	return strings.Join(picked, " ")
}

func titleCase(word string) string {
	lower := strings.ToLower(word)
	return strings.ToUpper(lower[:1]) + lower[1:]
}

// EnhanceWithIndustry merges the industry template into the spec: missing
// template sections are appended (before the footer when present), and
// the palette is replaced only while the spec still carries the default
// primary.
func EnhanceWithIndustry(spec *datatypes.SpecDoc, industry string) {
	tmpl, ok := industryTemplates[industry]
	if !ok {
		return
	}
	spec.Industry = industry

	for _, sectionType := range tmpl.sections {
		if !spec.HasSection(sectionType) {
			insertBeforeFooter(spec, datatypes.SpecSection{Type: sectionType})
		}
	}

	if spec.Colors.Primary == defaultPrimary {
		spec.Colors.Primary = tmpl.primary
		spec.Colors.Secondary = tmpl.secondary
	}
}

// insertBeforeFooter appends a section, keeping the footer last.
func insertBeforeFooter(spec *datatypes.SpecDoc, section datatypes.SpecSection) {
	for i, sec := range spec.Sections {
		if sec.Type == "footer" {
			spec.Sections = append(spec.Sections[:i],
				append([]datatypes.SpecSection{section}, spec.Sections[i:]...)...)
			return
		}
	}
	spec.Sections = append(spec.Sections, section)
}
