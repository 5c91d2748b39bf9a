// Copyright (C) 2025 Nirman AI (deveshjha247@gmail.com)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package learning

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/deveshjha247/Nirman/datatypes"
	"github.com/deveshjha247/Nirman/storage/badgerstore"
)

const (
	// patternWindow is how far back the nightly miner looks for deploys.
	patternWindow = 7 * 24 * time.Hour

	// maxProjectRegens disqualifies churned projects from mining.
	maxProjectRegens = 3
)

// PatternScore computes a pattern's quality score:
//
//	min(1, (approvals + 2*deploys) / (uses + regenerates + 1))
//
// The score is always in [0, 1] and never decreases when approvals or
// deploys grow with the other inputs held fixed.
func PatternScore(approvals, deploys, uses, regenerates int) float64 {
	score := float64(approvals+2*deploys) / float64(uses+regenerates+1)
	if score > 1 {
		return 1
	}
	if score < 0 {
		return 0
	}
	return score
}

// PatternMiner distills deployed specs into reusable section patterns.
type PatternMiner struct {
	store  *badgerstore.Store
	logger *slog.Logger
}

// NewPatternMiner creates a miner.
func NewPatternMiner(store *badgerstore.Store, logger *slog.Logger) *PatternMiner {
	if logger == nil {
		logger = slog.Default()
	}
	return &PatternMiner{store: store, logger: logger}
}

// Mine scans recent deploys and upserts design patterns. Users who opted
// out of global learning are skipped, as are churned projects and
// sections the user regenerated.
func (m *PatternMiner) Mine(ctx context.Context) (int, error) {
	window, err := m.store.ListLearningEventsSince(ctx, time.Now().UTC().Add(-patternWindow))
	if err != nil {
		return 0, err
	}

	regens := sectionRegenCounts(window)
	approvals := projectApprovalCounts(window)

	mined := 0
	for _, ev := range window {
		if ev.Type != datatypes.LearnDeploySucceeded || ev.ProjectID == "" {
			continue
		}

		cfg, err := m.store.GetLearningConfig(ctx, ev.UserID)
		if err != nil || !cfg.GlobalLearningEnabled {
			continue
		}

		versions, err := m.store.ListSpecVersions(ctx, ev.ProjectID)
		if err != nil || len(versions) == 0 {
			continue
		}
		if regenerationCount(versions) > maxProjectRegens {
			m.logger.Debug("skipping churned project", slog.String("project_id", ev.ProjectID))
			continue
		}

		deployed := versions[len(versions)-1]
		industry := deployed.Spec.Industry
		if industry == "" {
			continue
		}

		for _, sec := range deployed.Spec.Sections {
			if regens[ev.ProjectID+"/"+sec.Type] > 0 {
				continue
			}
			if err := m.upsertPattern(ctx, industry, sec, approvals[ev.ProjectID]); err != nil {
				m.logger.Warn("pattern upsert failed",
					slog.String("industry", industry),
					slog.String("section", sec.Type),
					slog.String("error", err.Error()))
				continue
			}
			mined++
		}
	}
	return mined, nil
}

func (m *PatternMiner) upsertPattern(ctx context.Context, industry string, sec datatypes.SpecSection, approvals int) error {
	pat, err := m.store.GetPattern(ctx, industry, sec.Type)
	if errors.Is(err, badgerstore.ErrNotFound) {
		pat = &datatypes.DesignPattern{
			ID:          uuid.New().String(),
			Industry:    industry,
			SectionType: sec.Type,
			CreatedAt:   time.Now().UTC(),
		}
	} else if err != nil {
		return err
	}

	pat.Deploys++
	pat.Approvals += approvals
	pat.Structure = sectionStructure(sec)
	pat.Score = PatternScore(pat.Approvals, pat.Deploys, pat.UsageCount, pat.Regenerates)
	return m.store.PutPattern(ctx, pat)
}

func sectionStructure(sec datatypes.SpecSection) map[string]any {
	structure := map[string]any{}
	if sec.Headline != "" {
		structure["headline"] = sec.Headline
	}
	if sec.Subtext != "" {
		structure["subtext"] = sec.Subtext
	}
	if len(sec.Items) > 0 {
		items := make([]any, len(sec.Items))
		for i, item := range sec.Items {
			items[i] = item
		}
		structure["items"] = items
	}
	return structure
}

// sectionRegenCounts maps "projectID/sectionType" to how often the user
// regenerated that section within the window.
func sectionRegenCounts(events []datatypes.LearningEvent) map[string]int {
	counts := make(map[string]int)
	for _, ev := range events {
		if ev.Type != datatypes.LearnRegenerated || ev.ProjectID == "" {
			continue
		}
		if section, _ := ev.Payload["section"].(string); section != "" {
			counts[ev.ProjectID+"/"+section]++
		}
	}
	return counts
}

func projectApprovalCounts(events []datatypes.LearningEvent) map[string]int {
	counts := make(map[string]int)
	for _, ev := range events {
		if ev.Type == datatypes.LearnPlanApproved && ev.ProjectID != "" {
			counts[ev.ProjectID]++
		}
	}
	return counts
}

// regenerationCount counts regenerate-sourced spec versions for a project.
func regenerationCount(versions []datatypes.SpecVersion) int {
	count := 0
	for _, v := range versions {
		if v.Source == datatypes.SpecSourceRegenerate {
			count++
		}
	}
	return count
}
