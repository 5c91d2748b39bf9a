// Copyright (C) 2025 Nirman AI (deveshjha247@gmail.com)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package datatypes

import "time"

// LearningEventType identifies a user-behavior signal consumed by the
// learning subsystem. Unlike build event types this set is open: unknown
// types are stored and ignored by the aggregators.
type LearningEventType string

const (
	LearnThemeChanged    LearningEventType = "THEME_CHANGED"
	LearnSectionAdded    LearningEventType = "SECTION_ADDED"
	LearnSectionRemoved  LearningEventType = "SECTION_REMOVED"
	LearnLayoutChanged   LearningEventType = "LAYOUT_CHANGED"
	LearnPlanApproved    LearningEventType = "PLAN_APPROVED"
	LearnBuildSucceeded  LearningEventType = "BUILD_SUCCEEDED"
	LearnBuildFailed     LearningEventType = "BUILD_FAILED"
	LearnDeploySucceeded LearningEventType = "DEPLOY_SUCCEEDED"
	LearnRegenerated     LearningEventType = "REGENERATED"
)

// LearningEvent is a sanitized behavior record. Payloads are stripped of
// sensitive keys before they reach storage; see learning.Sanitize.
type LearningEvent struct {
	ID        string            `json:"id"`
	UserID    string            `json:"user_id"`
	ProjectID string            `json:"project_id,omitempty"`
	JobID     string            `json:"job_id,omitempty"`
	Type      LearningEventType `json:"type"`
	Payload   map[string]any    `json:"payload,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
}

// UserPreferences is the aggregated taste profile for one user. Weights
// and affinities are normalized to [0, 1].
type UserPreferences struct {
	UserID           string             `json:"user_id"`
	SectionWeights   map[string]float64 `json:"section_weights,omitempty"`
	IndustryAffinity map[string]float64 `json:"industry_affinity,omitempty"`
	PreferredTone    string             `json:"preferred_tone,omitempty"`
	PreferredFont    string             `json:"preferred_font,omitempty"`
	ColorPrefs       *SpecColors        `json:"color_prefs,omitempty"`
	UpdatedAt        time.Time          `json:"updated_at"`
}

// TopSections returns up to n section types ordered by descending weight.
func (p *UserPreferences) TopSections(n int) []string {
	type weighted struct {
		section string
		weight  float64
	}
	ranked := make([]weighted, 0, len(p.SectionWeights))
	for s, w := range p.SectionWeights {
		ranked = append(ranked, weighted{s, w})
	}
	// Insertion sort; the map is small and ties break on name for
	// deterministic output.
	for i := 1; i < len(ranked); i++ {
		for j := i; j > 0; j-- {
			a, b := ranked[j-1], ranked[j]
			if b.weight > a.weight || (b.weight == a.weight && b.section < a.section) {
				ranked[j-1], ranked[j] = b, a
			}
		}
	}
	if n > len(ranked) {
		n = len(ranked)
	}
	out := make([]string, 0, n)
	for _, r := range ranked[:n] {
		out = append(out, r.section)
	}
	return out
}

// DesignPattern is a mined, reusable section structure keyed by industry
// and section type. Score is in [0, 1].
type DesignPattern struct {
	ID          string         `json:"id"`
	Industry    string         `json:"industry"`
	SectionType string         `json:"section_type"`
	Structure   map[string]any `json:"structure,omitempty"`
	Score       float64        `json:"score"`
	Approvals   int            `json:"approvals"`
	Deploys     int            `json:"deploys"`
	UsageCount  int            `json:"usage_count"`
	Regenerates int            `json:"regenerates"`
	CreatedAt   time.Time      `json:"created_at"`
	LastUsedAt  time.Time      `json:"last_used_at,omitempty"`
}

// FixRule maps a normalized error signature to remediation instructions
// mined from builds that later succeeded.
type FixRule struct {
	ID              string    `json:"id"`
	Signature       string    `json:"signature"`
	Category        string    `json:"category,omitempty"`
	SampleError     string    `json:"sample_error,omitempty"`
	FixInstructions string    `json:"fix_instructions,omitempty"`
	OccurrenceCount int       `json:"occurrence_count"`
	FixSuccessCount int       `json:"fix_success_count"`
	LastSeenAt      time.Time `json:"last_seen_at"`
}

// SuccessRate is FixSuccessCount / OccurrenceCount, 0 when unseen.
func (r *FixRule) SuccessRate() float64 {
	if r.OccurrenceCount == 0 {
		return 0
	}
	return float64(r.FixSuccessCount) / float64(r.OccurrenceCount)
}

// LearningConfig holds per-user learning opt-outs. Both flags default to
// enabled for users with no stored config.
type LearningConfig struct {
	UserID                 string    `json:"user_id"`
	PersonalizationEnabled bool      `json:"personalization_enabled"`
	GlobalLearningEnabled  bool      `json:"global_learning_enabled"`
	UpdatedAt              time.Time `json:"updated_at"`
}

// DefaultLearningConfig returns the opt-in defaults for a user.
func DefaultLearningConfig(userID string) LearningConfig {
	return LearningConfig{
		UserID:                 userID,
		PersonalizationEnabled: true,
		GlobalLearningEnabled:  true,
	}
}
