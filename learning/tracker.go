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
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/deveshjha247/Nirman/datatypes"
	"github.com/deveshjha247/Nirman/storage/badgerstore"
)

// Inline nudge sizes applied by the tracker on trigger events. The
// nightly aggregator recomputes profiles from scratch; nudges just keep
// the profile fresh between runs.
const (
	sectionNudge  = 0.1
	industryNudge = 0.15
)

// Tracker records behavior events and applies inline preference nudges.
type Tracker struct {
	store  *badgerstore.Store
	logger *slog.Logger
}

// NewTracker creates a tracker.
func NewTracker(store *badgerstore.Store, logger *slog.Logger) *Tracker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Tracker{store: store, logger: logger}
}

// Track sanitizes and persists a behavior event, then applies any inline
// preference nudge the event type triggers. Callers on the build path
// should log the returned error, not propagate it.
func (t *Tracker) Track(ctx context.Context, ev datatypes.LearningEvent) error {
	if ev.UserID == "" {
		return errors.New("learning event user id is required")
	}
	if ev.ID == "" {
		ev.ID = uuid.New().String()
	}
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now().UTC()
	}
	ev.Payload = Sanitize(ev.Payload)

	if err := t.store.PutLearningEvent(ctx, &ev); err != nil {
		return fmt.Errorf("track %s: %w", ev.Type, err)
	}

	if err := t.nudge(ctx, ev); err != nil {
		// Nudges are best effort; the event itself is stored.
		t.logger.Warn("preference nudge failed",
			slog.String("user_id", ev.UserID),
			slog.String("event_type", string(ev.Type)),
			slog.String("error", err.Error()))
	}
	return nil
}

// nudge applies the inline preference update for trigger event types.
func (t *Tracker) nudge(ctx context.Context, ev datatypes.LearningEvent) error {
	switch ev.Type {
	case datatypes.LearnSectionAdded:
		section, _ := ev.Payload["section"].(string)
		if section == "" {
			return nil
		}
		return t.updatePrefs(ctx, ev.UserID, func(prefs *datatypes.UserPreferences) {
			if prefs.SectionWeights == nil {
				prefs.SectionWeights = make(map[string]float64)
			}
			prefs.SectionWeights[section] += sectionNudge
			normalizeWeights(prefs.SectionWeights)
		})

	case datatypes.LearnBuildSucceeded:
		industry, _ := ev.Payload["industry"].(string)
		if industry == "" {
			return nil
		}
		return t.updatePrefs(ctx, ev.UserID, func(prefs *datatypes.UserPreferences) {
			if prefs.IndustryAffinity == nil {
				prefs.IndustryAffinity = make(map[string]float64)
			}
			prefs.IndustryAffinity[industry] += industryNudge
			normalizeWeights(prefs.IndustryAffinity)
		})

	case datatypes.LearnThemeChanged:
		primary, _ := ev.Payload["primary"].(string)
		secondary, _ := ev.Payload["secondary"].(string)
		if primary == "" {
			return nil
		}
		return t.updatePrefs(ctx, ev.UserID, func(prefs *datatypes.UserPreferences) {
			prefs.ColorPrefs = &datatypes.SpecColors{Primary: primary, Secondary: secondary}
		})

	case datatypes.LearnLayoutChanged:
		tone, _ := ev.Payload["tone"].(string)
		if tone == "" {
			return nil
		}
		return t.updatePrefs(ctx, ev.UserID, func(prefs *datatypes.UserPreferences) {
			prefs.PreferredTone = tone
		})
	}
	return nil
}

func (t *Tracker) updatePrefs(ctx context.Context, userID string, apply func(*datatypes.UserPreferences)) error {
	prefs, err := t.store.GetPreferences(ctx, userID)
	if errors.Is(err, badgerstore.ErrNotFound) {
		prefs = &datatypes.UserPreferences{UserID: userID}
	} else if err != nil {
		return err
	}
	apply(prefs)
	return t.store.PutPreferences(ctx, prefs)
}

// RecordPatternUsage bumps a pattern's usage counters when the planner
// applies it to a new spec.
func (t *Tracker) RecordPatternUsage(ctx context.Context, industry, sectionType string) error {
	pat, err := t.store.GetPattern(ctx, industry, sectionType)
	if err != nil {
		return fmt.Errorf("record pattern usage %s/%s: %w", industry, sectionType, err)
	}
	pat.UsageCount++
	pat.LastUsedAt = time.Now().UTC()
	pat.Score = PatternScore(pat.Approvals, pat.Deploys, pat.UsageCount, pat.Regenerates)
	return t.store.PutPattern(ctx, pat)
}

// normalizeWeights rescales all weights into [0, 1] by dividing by the
// maximum. Weights keep their relative order.
func normalizeWeights(weights map[string]float64) {
	var max float64
	for _, w := range weights {
		if w > max {
			max = w
		}
	}
	if max <= 0 {
		return
	}
	for k, w := range weights {
		weights[k] = w / max
	}
}
