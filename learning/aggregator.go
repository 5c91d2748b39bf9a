// Copyright (C) 2025 Nirman AI (deveshjha247@gmail.com)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package learning

import (
	"context"
	"log/slog"
	"time"

	"github.com/deveshjha247/Nirman/datatypes"
	"github.com/deveshjha247/Nirman/storage/badgerstore"
)

// aggregationWindow is how far back the nightly aggregator looks.
const aggregationWindow = 30 * 24 * time.Hour

// Aggregator rebuilds user preference profiles from the behavior log.
type Aggregator struct {
	store  *badgerstore.Store
	logger *slog.Logger
}

// NewAggregator creates an aggregator.
func NewAggregator(store *badgerstore.Store, logger *slog.Logger) *Aggregator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Aggregator{store: store, logger: logger}
}

// Aggregate recomputes preferences for every user with events in the
// window. Users who disabled personalization are skipped. Returns the
// number of profiles written.
func (a *Aggregator) Aggregate(ctx context.Context) (int, error) {
	window, err := a.store.ListLearningEventsSince(ctx, time.Now().UTC().Add(-aggregationWindow))
	if err != nil {
		return 0, err
	}

	byUser := make(map[string][]datatypes.LearningEvent)
	for _, ev := range window {
		byUser[ev.UserID] = append(byUser[ev.UserID], ev)
	}

	written := 0
	for userID, events := range byUser {
		cfg, err := a.store.GetLearningConfig(ctx, userID)
		if err != nil {
			a.logger.Warn("learning config lookup failed",
				slog.String("user_id", userID), slog.String("error", err.Error()))
			continue
		}
		if !cfg.PersonalizationEnabled {
			continue
		}

		prefs := a.profileFrom(userID, events)
		if err := a.store.PutPreferences(ctx, prefs); err != nil {
			a.logger.Warn("preference write failed",
				slog.String("user_id", userID), slog.String("error", err.Error()))
			continue
		}
		written++
	}
	return written, nil
}

// profileFrom distills one user's events into a preference profile.
func (a *Aggregator) profileFrom(userID string, events []datatypes.LearningEvent) *datatypes.UserPreferences {
	sectionCounts := make(map[string]float64)
	industryCounts := make(map[string]float64)
	toneCounts := make(map[string]int)
	var colors *datatypes.SpecColors

	for _, ev := range events {
		switch ev.Type {
		case datatypes.LearnSectionAdded:
			if section, _ := ev.Payload["section"].(string); section != "" {
				sectionCounts[section]++
			}
		case datatypes.LearnBuildSucceeded, datatypes.LearnDeploySucceeded:
			if industry, _ := ev.Payload["industry"].(string); industry != "" {
				industryCounts[industry]++
			}
		case datatypes.LearnPlanApproved:
			if tone, _ := ev.Payload["tone"].(string); tone != "" {
				toneCounts[tone]++
			}
			if sections, ok := ev.Payload["sections"].([]any); ok {
				for _, s := range sections {
					if section, ok := s.(string); ok && section != "" {
						sectionCounts[section]++
					}
				}
			}
		case datatypes.LearnThemeChanged:
			primary, _ := ev.Payload["primary"].(string)
			secondary, _ := ev.Payload["secondary"].(string)
			if primary != "" {
				colors = &datatypes.SpecColors{Primary: primary, Secondary: secondary}
			}
		}
	}

	normalizeWeights(sectionCounts)
	normalizeWeights(industryCounts)

	prefs := &datatypes.UserPreferences{
		UserID:           userID,
		SectionWeights:   sectionCounts,
		IndustryAffinity: industryCounts,
		PreferredTone:    dominantKey(toneCounts),
		ColorPrefs:       colors,
	}
	return prefs
}

// dominantKey returns the most frequent key, ties broken alphabetically.
func dominantKey(counts map[string]int) string {
	best := ""
	bestCount := 0
	for key, count := range counts {
		if count > bestCount || (count == bestCount && best != "" && key < best) {
			best = key
			bestCount = count
		}
	}
	return best
}

// Cleanup enforces retention: behavior events older than 90 days are
// deleted, and stale low-score patterns are dropped.
func Cleanup(ctx context.Context, store *badgerstore.Store, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	cutoff := time.Now().UTC().Add(-90 * 24 * time.Hour)

	deleted, err := store.DeleteLearningEventsBefore(ctx, cutoff)
	if err != nil {
		return err
	}

	patterns, err := store.ListPatterns(ctx)
	if err != nil {
		return err
	}
	droppedPatterns := 0
	for _, pat := range patterns {
		if pat.CreatedAt.Before(cutoff) && pat.Score < 0.3 {
			if err := store.DeletePattern(ctx, pat.Industry, pat.SectionType); err != nil {
				logger.Warn("pattern delete failed",
					slog.String("industry", pat.Industry),
					slog.String("section", pat.SectionType),
					slog.String("error", err.Error()))
				continue
			}
			droppedPatterns++
		}
	}

	logger.Info("learning retention cleanup finished",
		slog.Int("events_deleted", deleted),
		slog.Int("patterns_deleted", droppedPatterns))
	return nil
}
