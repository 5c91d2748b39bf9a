// Copyright (C) 2025 Nirman AI (deveshjha247@gmail.com)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package badgerstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"

	"github.com/deveshjha247/Nirman/datatypes"
)

// Sentinel errors returned by the store.
var (
	ErrJobNotFound       = errors.New("job not found")
	ErrArtifactNotFound  = errors.New("artifact not found")
	ErrNotFound          = errors.New("record not found")
	ErrTerminalState     = errors.New("job is in a terminal state")
	ErrInvalidTransition = errors.New("invalid job status transition")
	ErrInvalidEventType  = errors.New("unknown event type")
)

// Key layout. Seq and version components are zero-padded so that
// lexicographic prefix iteration yields numeric order.
const (
	prefixJob       = "job:"
	prefixEvent     = "ev:"
	prefixEventMeta = "evmeta:"
	prefixArtifact  = "art:"
	prefixSpec      = "spec:"
	prefixLearnEv   = "lev:"
	prefixPrefs     = "pref:"
	prefixPattern   = "pat:"
	prefixFixRule   = "fix:"
	prefixLearnCfg  = "lcfg:"
)

// appendRetries bounds the optimistic-concurrency retry loop for
// sequence-assigning appends.
const appendRetries = 16

func jobKey(id string) []byte        { return []byte(prefixJob + id) }
func eventMetaKey(id string) []byte  { return []byte(prefixEventMeta + id) }
func artifactKey(id string) []byte   { return []byte(prefixArtifact + id) }
func prefsKey(user string) []byte    { return []byte(prefixPrefs + user) }
func fixRuleKey(sig string) []byte   { return []byte(prefixFixRule + sig) }
func learnCfgKey(user string) []byte { return []byte(prefixLearnCfg + user) }

func eventKey(jobID string, seq int64) []byte {
	return []byte(fmt.Sprintf("%s%s:%012d", prefixEvent, jobID, seq))
}

func specKey(projectID string, version int) []byte {
	return []byte(fmt.Sprintf("%s%s:%06d", prefixSpec, projectID, version))
}

func learnEventKey(at time.Time, id string) []byte {
	return []byte(fmt.Sprintf("%s%019d:%s", prefixLearnEv, at.UnixNano(), id))
}

func patternKey(industry, sectionType string) []byte {
	return []byte(prefixPattern + industry + ":" + sectionType)
}

// Store is the typed persistence layer for the build engine.
//
// Thread Safety: all methods are safe for concurrent use; write paths rely
// on BadgerDB transaction conflict detection with bounded retries.
type Store struct {
	db *DB
}

// NewStore wraps an open database.
func NewStore(db *DB) *Store {
	return &Store{db: db}
}

// DB exposes the underlying database for lifecycle management.
func (s *Store) DB() *DB {
	return s.db
}

func putJSON(txn *badger.Txn, key []byte, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", key, err)
	}
	return txn.Set(key, data)
}

func getJSON(txn *badger.Txn, key []byte, v any) error {
	item, err := txn.Get(key)
	if err != nil {
		return err
	}
	return item.Value(func(val []byte) error {
		return json.Unmarshal(val, v)
	})
}

// =============================================================================
// Jobs
// =============================================================================

// CreateJob persists a new job record.
func (s *Store) CreateJob(ctx context.Context, job *datatypes.Job) error {
	if job.ID == "" {
		return errors.New("job id is required")
	}
	return s.db.WithTxn(ctx, func(txn *badger.Txn) error {
		return putJSON(txn, jobKey(job.ID), job)
	})
}

// GetJob returns the job or ErrJobNotFound.
func (s *Store) GetJob(ctx context.Context, id string) (*datatypes.Job, error) {
	var job datatypes.Job
	err := s.db.WithReadTxn(ctx, func(txn *badger.Txn) error {
		return getJSON(txn, jobKey(id), &job)
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job %s: %w", id, err)
	}
	return &job, nil
}

// UpdateJob applies fn to the stored job inside a transaction and persists
// the result. fn may return an error to abort the update.
func (s *Store) UpdateJob(ctx context.Context, id string, fn func(*datatypes.Job) error) (*datatypes.Job, error) {
	var job datatypes.Job
	err := s.db.WithTxn(ctx, func(txn *badger.Txn) error {
		if err := getJSON(txn, jobKey(id), &job); err != nil {
			return err
		}
		if err := fn(&job); err != nil {
			return err
		}
		job.UpdatedAt = time.Now().UTC()
		return putJSON(txn, jobKey(id), &job)
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, err
	}
	return &job, nil
}

// TransitionJob moves a job to the next status, enforcing the state
// machine. Writes against terminal jobs return ErrTerminalState; other
// disallowed moves return ErrInvalidTransition. mutate, when non-nil, is
// applied after the status change within the same transaction.
func (s *Store) TransitionJob(ctx context.Context, id string, next datatypes.JobStatus, mutate func(*datatypes.Job)) (*datatypes.Job, error) {
	return s.UpdateJob(ctx, id, func(job *datatypes.Job) error {
		if job.Status.IsTerminal() {
			return fmt.Errorf("%s -> %s: %w", job.Status, next, ErrTerminalState)
		}
		if !job.Status.CanTransitionTo(next) {
			return fmt.Errorf("%s -> %s: %w", job.Status, next, ErrInvalidTransition)
		}
		job.Status = next
		if mutate != nil {
			mutate(job)
		}
		return nil
	})
}

// =============================================================================
// Build events
// =============================================================================

// closingEvents maps each terminal status to the event types that may
// still be appended once the job has reached it: the events announcing
// that outcome. Everything else against a terminal job is rejected.
var closingEvents = map[datatypes.JobStatus]map[datatypes.EventType]struct{}{
	datatypes.JobSuccess:   {datatypes.EventJobCompleted: {}},
	datatypes.JobFailed:    {datatypes.EventError: {}, datatypes.EventJobFailed: {}},
	datatypes.JobCancelled: {datatypes.EventJobCancelled: {}},
}

// AppendEvent assigns the next sequence number for the event's job and
// persists the event. Sequence numbers are 1-based and gapless: the commit
// of the event and of the per-job counter happen in one transaction, and
// conflicting concurrent appends are retried. Appends against a terminal
// job return ErrTerminalState, except for the event that announces the
// terminal outcome itself.
func (s *Store) AppendEvent(ctx context.Context, ev *datatypes.BuildEvent) (*datatypes.BuildEvent, error) {
	if !ev.Type.Valid() {
		return nil, fmt.Errorf("%q: %w", ev.Type, ErrInvalidEventType)
	}
	if ev.JobID == "" {
		return nil, errors.New("event job id is required")
	}
	if ev.ID == "" {
		ev.ID = uuid.New().String()
	}
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now().UTC()
	}

	var lastErr error
	for attempt := 0; attempt < appendRetries; attempt++ {
		stored := *ev
		err := s.db.WithTxn(ctx, func(txn *badger.Txn) error {
			if err := checkJobAcceptsEvent(txn, ev.JobID, ev.Type); err != nil {
				return err
			}
			last, err := readSeq(txn, ev.JobID)
			if err != nil {
				return err
			}
			stored.Seq = last + 1
			if err := putJSON(txn, eventKey(ev.JobID, stored.Seq), &stored); err != nil {
				return err
			}
			return txn.Set(eventMetaKey(ev.JobID), []byte(fmt.Sprintf("%d", stored.Seq)))
		})
		if err == nil {
			return &stored, nil
		}
		if !errors.Is(err, badger.ErrConflict) {
			return nil, fmt.Errorf("append event for job %s: %w", ev.JobID, err)
		}
		lastErr = err
	}
	return nil, fmt.Errorf("append event for job %s: retries exhausted: %w", ev.JobID, lastErr)
}

// checkJobAcceptsEvent enforces terminality inside the append transaction.
// Jobs without a stored record accept any event: the event log does not
// require a job row (standalone logs, tests).
func checkJobAcceptsEvent(txn *badger.Txn, jobID string, eventType datatypes.EventType) error {
	var job datatypes.Job
	err := getJSON(txn, jobKey(jobID), &job)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if !job.Status.IsTerminal() {
		return nil
	}
	if _, ok := closingEvents[job.Status][eventType]; ok {
		return nil
	}
	return fmt.Errorf("append %s to %s job: %w", eventType, job.Status, ErrTerminalState)
}

func readSeq(txn *badger.Txn, jobID string) (int64, error) {
	item, err := txn.Get(eventMetaKey(jobID))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	var seq int64
	err = item.Value(func(val []byte) error {
		_, scanErr := fmt.Sscanf(string(val), "%d", &seq)
		return scanErr
	})
	return seq, err
}

// LastEventSeq returns the highest sequence number stored for a job, or 0.
func (s *Store) LastEventSeq(ctx context.Context, jobID string) (int64, error) {
	var seq int64
	err := s.db.WithReadTxn(ctx, func(txn *badger.Txn) error {
		var err error
		seq, err = readSeq(txn, jobID)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("last event seq for job %s: %w", jobID, err)
	}
	return seq, nil
}

// ListEvents returns the full event log for a job in sequence order.
func (s *Store) ListEvents(ctx context.Context, jobID string) ([]datatypes.BuildEvent, error) {
	var events []datatypes.BuildEvent
	prefix := []byte(prefixEvent + jobID + ":")
	err := s.db.WithReadTxn(ctx, func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			var ev datatypes.BuildEvent
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &ev)
			}); err != nil {
				return err
			}
			events = append(events, ev)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list events for job %s: %w", jobID, err)
	}
	return events, nil
}

// =============================================================================
// Artifacts
// =============================================================================

// PutArtifact persists a generated artifact.
func (s *Store) PutArtifact(ctx context.Context, art *datatypes.Artifact) error {
	if art.ID == "" {
		return errors.New("artifact id is required")
	}
	return s.db.WithTxn(ctx, func(txn *badger.Txn) error {
		return putJSON(txn, artifactKey(art.ID), art)
	})
}

// GetArtifact returns the artifact or ErrArtifactNotFound.
func (s *Store) GetArtifact(ctx context.Context, id string) (*datatypes.Artifact, error) {
	var art datatypes.Artifact
	err := s.db.WithReadTxn(ctx, func(txn *badger.Txn) error {
		return getJSON(txn, artifactKey(id), &art)
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrArtifactNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get artifact %s: %w", id, err)
	}
	return &art, nil
}

// =============================================================================
// Spec versions
// =============================================================================

// AppendSpecVersion stores a new spec snapshot for a project, assigning
// version = latest + 1 (1 for the first snapshot).
func (s *Store) AppendSpecVersion(ctx context.Context, projectID string, source datatypes.SpecSource, spec datatypes.SpecDoc) (*datatypes.SpecVersion, error) {
	if projectID == "" {
		return nil, errors.New("project id is required")
	}

	var stored datatypes.SpecVersion
	var lastErr error
	for attempt := 0; attempt < appendRetries; attempt++ {
		err := s.db.WithTxn(ctx, func(txn *badger.Txn) error {
			latest, err := latestSpecVersion(txn, projectID)
			if err != nil {
				return err
			}
			stored = datatypes.SpecVersion{
				ProjectID: projectID,
				Version:   latest + 1,
				Source:    source,
				Spec:      spec,
				CreatedAt: time.Now().UTC(),
			}
			return putJSON(txn, specKey(projectID, stored.Version), &stored)
		})
		if err == nil {
			return &stored, nil
		}
		if !errors.Is(err, badger.ErrConflict) {
			return nil, fmt.Errorf("append spec version for project %s: %w", projectID, err)
		}
		lastErr = err
	}
	return nil, fmt.Errorf("append spec version for project %s: retries exhausted: %w", projectID, lastErr)
}

func latestSpecVersion(txn *badger.Txn, projectID string) (int, error) {
	prefix := []byte(prefixSpec + projectID + ":")
	opts := badger.DefaultIteratorOptions
	opts.Prefix = prefix
	opts.Reverse = true
	opts.PrefetchValues = false
	it := txn.NewIterator(opts)
	defer it.Close()

	// Reverse iteration needs a seek key past the last possible version.
	seek := append([]byte{}, prefix...)
	seek = append(seek, 0xff)
	it.Seek(seek)
	if !it.ValidForPrefix(prefix) {
		return 0, nil
	}
	var version int
	key := it.Item().Key()
	if _, err := fmt.Sscanf(string(key[len(prefix):]), "%d", &version); err != nil {
		return 0, fmt.Errorf("parse spec key %s: %w", key, err)
	}
	return version, nil
}

// ListSpecVersions returns all spec snapshots for a project in version order.
func (s *Store) ListSpecVersions(ctx context.Context, projectID string) ([]datatypes.SpecVersion, error) {
	var versions []datatypes.SpecVersion
	prefix := []byte(prefixSpec + projectID + ":")
	err := s.db.WithReadTxn(ctx, func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			var v datatypes.SpecVersion
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &v)
			}); err != nil {
				return err
			}
			versions = append(versions, v)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list spec versions for project %s: %w", projectID, err)
	}
	return versions, nil
}

// =============================================================================
// Learning events
// =============================================================================

// PutLearningEvent persists a behavior event. Keys are time-prefixed so
// window scans are a single prefix iteration.
func (s *Store) PutLearningEvent(ctx context.Context, ev *datatypes.LearningEvent) error {
	if ev.ID == "" {
		return errors.New("learning event id is required")
	}
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now().UTC()
	}
	return s.db.WithTxn(ctx, func(txn *badger.Txn) error {
		return putJSON(txn, learnEventKey(ev.CreatedAt, ev.ID), ev)
	})
}

// ListLearningEventsSince returns all behavior events created at or after
// the cutoff, oldest first.
func (s *Store) ListLearningEventsSince(ctx context.Context, since time.Time) ([]datatypes.LearningEvent, error) {
	var events []datatypes.LearningEvent
	prefix := []byte(prefixLearnEv)
	seek := []byte(fmt.Sprintf("%s%019d:", prefixLearnEv, since.UnixNano()))
	err := s.db.WithReadTxn(ctx, func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek(seek); it.ValidForPrefix(prefix); it.Next() {
			var ev datatypes.LearningEvent
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &ev)
			}); err != nil {
				return err
			}
			events = append(events, ev)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list learning events: %w", err)
	}
	return events, nil
}

// DeleteLearningEventsBefore removes behavior events older than the cutoff
// and returns the number deleted.
func (s *Store) DeleteLearningEventsBefore(ctx context.Context, cutoff time.Time) (int, error) {
	prefix := []byte(prefixLearnEv)
	end := fmt.Sprintf("%s%019d:", prefixLearnEv, cutoff.UnixNano())

	var keys [][]byte
	err := s.db.WithReadTxn(ctx, func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.ValidForPrefix(prefix); it.Next() {
			key := it.Item().KeyCopy(nil)
			if string(key) >= end {
				break
			}
			keys = append(keys, key)
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("scan learning events: %w", err)
	}

	// Delete in batches to keep transactions small.
	const batch = 256
	for start := 0; start < len(keys); start += batch {
		stop := start + batch
		if stop > len(keys) {
			stop = len(keys)
		}
		err := s.db.WithTxn(ctx, func(txn *badger.Txn) error {
			for _, key := range keys[start:stop] {
				if err := txn.Delete(key); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			return start, fmt.Errorf("delete learning events: %w", err)
		}
	}
	return len(keys), nil
}

// =============================================================================
// Preferences, patterns, fix rules, learning config
// =============================================================================

// GetPreferences returns the stored preferences or ErrNotFound.
func (s *Store) GetPreferences(ctx context.Context, userID string) (*datatypes.UserPreferences, error) {
	var prefs datatypes.UserPreferences
	err := s.db.WithReadTxn(ctx, func(txn *badger.Txn) error {
		return getJSON(txn, prefsKey(userID), &prefs)
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get preferences for %s: %w", userID, err)
	}
	return &prefs, nil
}

// PutPreferences upserts a user's preference profile.
func (s *Store) PutPreferences(ctx context.Context, prefs *datatypes.UserPreferences) error {
	if prefs.UserID == "" {
		return errors.New("user id is required")
	}
	prefs.UpdatedAt = time.Now().UTC()
	return s.db.WithTxn(ctx, func(txn *badger.Txn) error {
		return putJSON(txn, prefsKey(prefs.UserID), prefs)
	})
}

// GetPattern returns the mined pattern for an industry/section pair, or
// ErrNotFound.
func (s *Store) GetPattern(ctx context.Context, industry, sectionType string) (*datatypes.DesignPattern, error) {
	var pat datatypes.DesignPattern
	err := s.db.WithReadTxn(ctx, func(txn *badger.Txn) error {
		return getJSON(txn, patternKey(industry, sectionType), &pat)
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get pattern %s/%s: %w", industry, sectionType, err)
	}
	return &pat, nil
}

// PutPattern upserts a mined design pattern.
func (s *Store) PutPattern(ctx context.Context, pat *datatypes.DesignPattern) error {
	if pat.Industry == "" || pat.SectionType == "" {
		return errors.New("pattern industry and section type are required")
	}
	return s.db.WithTxn(ctx, func(txn *badger.Txn) error {
		return putJSON(txn, patternKey(pat.Industry, pat.SectionType), pat)
	})
}

// ListPatterns returns all mined patterns.
func (s *Store) ListPatterns(ctx context.Context) ([]datatypes.DesignPattern, error) {
	var patterns []datatypes.DesignPattern
	prefix := []byte(prefixPattern)
	err := s.db.WithReadTxn(ctx, func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.ValidForPrefix(prefix); it.Next() {
			var pat datatypes.DesignPattern
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &pat)
			}); err != nil {
				return err
			}
			patterns = append(patterns, pat)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list patterns: %w", err)
	}
	return patterns, nil
}

// DeletePattern removes a mined pattern. Missing patterns are a no-op.
func (s *Store) DeletePattern(ctx context.Context, industry, sectionType string) error {
	return s.db.WithTxn(ctx, func(txn *badger.Txn) error {
		return txn.Delete(patternKey(industry, sectionType))
	})
}

// GetFixRule returns the fix rule for an error signature, or ErrNotFound.
func (s *Store) GetFixRule(ctx context.Context, signature string) (*datatypes.FixRule, error) {
	var rule datatypes.FixRule
	err := s.db.WithReadTxn(ctx, func(txn *badger.Txn) error {
		return getJSON(txn, fixRuleKey(signature), &rule)
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get fix rule %s: %w", signature, err)
	}
	return &rule, nil
}

// PutFixRule upserts a fix rule.
func (s *Store) PutFixRule(ctx context.Context, rule *datatypes.FixRule) error {
	if rule.Signature == "" {
		return errors.New("fix rule signature is required")
	}
	rule.LastSeenAt = time.Now().UTC()
	return s.db.WithTxn(ctx, func(txn *badger.Txn) error {
		return putJSON(txn, fixRuleKey(rule.Signature), rule)
	})
}

// ListFixRules returns all stored fix rules.
func (s *Store) ListFixRules(ctx context.Context) ([]datatypes.FixRule, error) {
	var rules []datatypes.FixRule
	prefix := []byte(prefixFixRule)
	err := s.db.WithReadTxn(ctx, func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.ValidForPrefix(prefix); it.Next() {
			var rule datatypes.FixRule
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &rule)
			}); err != nil {
				return err
			}
			rules = append(rules, rule)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list fix rules: %w", err)
	}
	return rules, nil
}

// GetLearningConfig returns the user's learning opt-outs, falling back to
// the enabled defaults when no config is stored.
func (s *Store) GetLearningConfig(ctx context.Context, userID string) (*datatypes.LearningConfig, error) {
	var cfg datatypes.LearningConfig
	err := s.db.WithReadTxn(ctx, func(txn *badger.Txn) error {
		return getJSON(txn, learnCfgKey(userID), &cfg)
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		def := datatypes.DefaultLearningConfig(userID)
		return &def, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get learning config for %s: %w", userID, err)
	}
	return &cfg, nil
}

// PutLearningConfig upserts a user's learning opt-outs.
func (s *Store) PutLearningConfig(ctx context.Context, cfg *datatypes.LearningConfig) error {
	if cfg.UserID == "" {
		return errors.New("user id is required")
	}
	cfg.UpdatedAt = time.Now().UTC()
	return s.db.WithTxn(ctx, func(txn *badger.Txn) error {
		return putJSON(txn, learnCfgKey(cfg.UserID), cfg)
	})
}
