// Copyright (C) 2025 Nirman AI (deveshjha247@gmail.com)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package learning

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/deveshjha247/Nirman/datatypes"
	"github.com/deveshjha247/Nirman/storage/badgerstore"
)

const (
	// fixWindow is how far back the hourly miner looks for failures.
	fixWindow = 24 * time.Hour

	// knownFixThreshold is the minimum success rate before a rule's
	// instructions are trusted on retries.
	knownFixThreshold = 0.5

	// maxNormalizedLen caps the normalized error text.
	maxNormalizedLen = 500
)

// Normalization strips the volatile parts of error messages so that the
// same underlying failure always hashes to the same signature.
var (
	reLineNum    = regexp.MustCompile(`line \d+`)
	reAtLocation = regexp.MustCompile(`at \S+:\d+:\d+`)
	reFilePath   = regexp.MustCompile(`(?:[a-zA-Z]:)?(?:[\\/][\w.\-]+){2,}`)
	reISODate    = regexp.MustCompile(`\d{4}-\d{2}-\d{2}(?:[T ][\d:.]+Z?)?`)
	reWhitespace = regexp.MustCompile(`\s+`)
)

// NormalizeError canonicalizes an error message: lowercased, with line
// numbers, code locations, file paths, and dates replaced by
// placeholders, whitespace collapsed, and length capped.
func NormalizeError(errMsg string) string {
	s := strings.ToLower(errMsg)
	s = reAtLocation.ReplaceAllString(s, "at FILE:N:N")
	s = reLineNum.ReplaceAllString(s, "line N")
	s = reISODate.ReplaceAllString(s, "DATE")
	s = reFilePath.ReplaceAllString(s, "FILE")
	s = reWhitespace.ReplaceAllString(s, " ")
	s = strings.TrimSpace(s)
	if len(s) > maxNormalizedLen {
		s = s[:maxNormalizedLen]
	}
	return s
}

// ErrorSignature returns the hex SHA-256 of the normalized error.
func ErrorSignature(errMsg string) string {
	sum := sha256.Sum256([]byte(NormalizeError(errMsg)))
	return hex.EncodeToString(sum[:])
}

// RecordError upserts the fix rule for a failure, incrementing its
// occurrence count. The build path calls this on every generation
// failure so the miner and KnownFix see errors that never fail a job.
func RecordError(ctx context.Context, store *badgerstore.Store, errMsg, category string) (*datatypes.FixRule, error) {
	signature := ErrorSignature(errMsg)
	rule, err := store.GetFixRule(ctx, signature)
	if errors.Is(err, badgerstore.ErrNotFound) {
		rule = &datatypes.FixRule{
			ID:          uuid.New().String(),
			Signature:   signature,
			Category:    category,
			SampleError: NormalizeError(errMsg),
		}
	} else if err != nil {
		return nil, err
	}
	rule.OccurrenceCount++
	if err := store.PutFixRule(ctx, rule); err != nil {
		return nil, err
	}
	return rule, nil
}

// RecordFixAttempt credits a fix rule after a retry. Only successes
// count; a rule for an unrecorded error is a no-op.
func RecordFixAttempt(ctx context.Context, store *badgerstore.Store, errMsg string, success bool) error {
	if !success {
		return nil
	}
	rule, err := store.GetFixRule(ctx, ErrorSignature(errMsg))
	if errors.Is(err, badgerstore.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	rule.FixSuccessCount++
	return store.PutFixRule(ctx, rule)
}

// FixMiner links build failures to the spec changes that later fixed
// them.
//
// Thread Safety: Mine is meant to run single-flighted from the
// scheduler; concurrent Mine calls may double count.
type FixMiner struct {
	store   *badgerstore.Store
	logger  *slog.Logger
	lastRun time.Time
}

// NewFixMiner creates a miner.
func NewFixMiner(store *badgerstore.Store, logger *slog.Logger) *FixMiner {
	if logger == nil {
		logger = slog.Default()
	}
	return &FixMiner{store: store, logger: logger}
}

// Mine scans recent BUILD_FAILED events, counting occurrences per error
// signature. When the same project later produced a BUILD_SUCCEEDED
// event, the failure counts as fixed and the spec changes between the
// two builds become the rule's fix instructions.
func (m *FixMiner) Mine(ctx context.Context) (int, error) {
	now := time.Now().UTC()
	since := m.lastRun
	if since.IsZero() {
		since = now.Add(-fixWindow)
	}
	window, err := m.store.ListLearningEventsSince(ctx, since)
	if err != nil {
		return 0, err
	}

	processed := 0
	for i, ev := range window {
		if ev.Type != datatypes.LearnBuildFailed {
			continue
		}
		errMsg, _ := ev.Payload["error"].(string)
		if errMsg == "" {
			continue
		}

		signature := ErrorSignature(errMsg)
		rule, err := m.store.GetFixRule(ctx, signature)
		if errors.Is(err, badgerstore.ErrNotFound) {
			rule = &datatypes.FixRule{
				ID:          uuid.New().String(),
				Signature:   signature,
				SampleError: NormalizeError(errMsg),
			}
		} else if err != nil {
			m.logger.Warn("fix rule lookup failed", slog.String("error", err.Error()))
			continue
		}

		rule.OccurrenceCount++
		if fixed, instructions := m.laterSuccess(ctx, window[i+1:], ev); fixed {
			rule.FixSuccessCount++
			if instructions != "" {
				rule.FixInstructions = instructions
			}
		}

		if err := m.store.PutFixRule(ctx, rule); err != nil {
			m.logger.Warn("fix rule write failed", slog.String("error", err.Error()))
			continue
		}
		processed++
	}
	m.lastRun = now
	return processed, nil
}

// laterSuccess reports whether the same project later built successfully,
// and summarizes the spec changes made in between.
func (m *FixMiner) laterSuccess(ctx context.Context, laterEvents []datatypes.LearningEvent, failure datatypes.LearningEvent) (bool, string) {
	if failure.ProjectID == "" {
		return false, ""
	}
	for _, ev := range laterEvents {
		if ev.Type != datatypes.LearnBuildSucceeded || ev.ProjectID != failure.ProjectID {
			continue
		}
		if !ev.CreatedAt.After(failure.CreatedAt) {
			continue
		}
		return true, m.interveningDiff(ctx, failure.ProjectID, failure.CreatedAt, ev.CreatedAt)
	}
	return false, ""
}

// interveningDiff summarizes spec versions created between a failure and
// the success that followed it.
func (m *FixMiner) interveningDiff(ctx context.Context, projectID string, from, to time.Time) string {
	versions, err := m.store.ListSpecVersions(ctx, projectID)
	if err != nil || len(versions) < 2 {
		return ""
	}

	var before, after *datatypes.SpecVersion
	for i := range versions {
		v := &versions[i]
		if !v.CreatedAt.After(from) {
			before = v
		}
		if after == nil && v.CreatedAt.After(from) && !v.CreatedAt.After(to) {
			after = v
		}
	}
	// Version timestamps can be coarser than event timestamps; fall back
	// to the oldest and newest snapshots rather than give up.
	if before == nil {
		before = &versions[0]
	}
	if after == nil {
		after = &versions[len(versions)-1]
	}
	if before.Version == after.Version {
		return ""
	}
	return DiffSummary(&before.Spec, &after.Spec)
}

// DiffSummary describes what changed between two specs, section by
// section. Used as fix instructions for retries.
func DiffSummary(before, after *datatypes.SpecDoc) string {
	if before == nil || after == nil {
		return ""
	}
	var changes []string

	beforeSections := map[string]bool{}
	for _, sec := range before.Sections {
		beforeSections[sec.Type] = true
	}
	afterSections := map[string]bool{}
	for _, sec := range after.Sections {
		afterSections[sec.Type] = true
		if !beforeSections[sec.Type] {
			changes = append(changes, fmt.Sprintf("added section %q", sec.Type))
		}
	}
	for _, sec := range before.Sections {
		if !afterSections[sec.Type] {
			changes = append(changes, fmt.Sprintf("removed section %q", sec.Type))
		}
	}
	if before.Layout != after.Layout && after.Layout != "" {
		changes = append(changes, fmt.Sprintf("changed layout to %q", after.Layout))
	}
	if before.Colors != after.Colors {
		changes = append(changes, "changed color palette")
	}
	if before.Font != after.Font && after.Font != "" {
		changes = append(changes, fmt.Sprintf("changed font to %q", after.Font))
	}
	if len(changes) == 0 {
		return ""
	}
	return "Previous fix: " + strings.Join(changes, "; ")
}

// KnownFix returns the fix rule for an error if its instructions have
// proven reliable, nil otherwise.
func KnownFix(ctx context.Context, store *badgerstore.Store, errMsg string) (*datatypes.FixRule, error) {
	rule, err := store.GetFixRule(ctx, ErrorSignature(errMsg))
	if errors.Is(err, badgerstore.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if rule.SuccessRate() < knownFixThreshold || rule.FixInstructions == "" {
		return nil, nil
	}
	return rule, nil
}
