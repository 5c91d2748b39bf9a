// Copyright (C) 2025 Nirman AI (deveshjha247@gmail.com)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package badgerstore

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deveshjha247/Nirman/datatypes"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewStore(db)
}

func TestStore_JobLifecycle(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	job := &datatypes.Job{
		ID:        uuid.New().String(),
		Prompt:    "build a landing page",
		Status:    datatypes.JobQueued,
		CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, store.CreateJob(ctx, job))

	got, err := store.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, datatypes.JobQueued, got.Status)

	got, err = store.TransitionJob(ctx, job.ID, datatypes.JobRunning, func(j *datatypes.Job) {
		j.Progress = 10
	})
	require.NoError(t, err)
	assert.Equal(t, datatypes.JobRunning, got.Status)
	assert.Equal(t, 10, got.Progress)

	got, err = store.TransitionJob(ctx, job.ID, datatypes.JobSuccess, func(j *datatypes.Job) {
		j.Progress = 100
	})
	require.NoError(t, err)
	assert.Equal(t, datatypes.JobSuccess, got.Status)
}

func TestStore_TransitionJob_TerminalRejected(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	job := &datatypes.Job{ID: uuid.New().String(), Status: datatypes.JobQueued}
	require.NoError(t, store.CreateJob(ctx, job))

	_, err := store.TransitionJob(ctx, job.ID, datatypes.JobCancelled, nil)
	require.NoError(t, err)

	_, err = store.TransitionJob(ctx, job.ID, datatypes.JobRunning, nil)
	assert.ErrorIs(t, err, ErrTerminalState)

	// The stored record must be untouched.
	got, err := store.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, datatypes.JobCancelled, got.Status)
}

func TestStore_TransitionJob_InvalidMove(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	job := &datatypes.Job{ID: uuid.New().String(), Status: datatypes.JobQueued}
	require.NoError(t, store.CreateJob(ctx, job))

	_, err := store.TransitionJob(ctx, job.ID, datatypes.JobSuccess, nil)
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestStore_GetJob_NotFound(t *testing.T) {
	store := newTestStore(t)
	_, err := store.GetJob(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrJobNotFound)
}

func TestStore_AppendEvent_GaplessSequence(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	jobID := uuid.New().String()

	for i := 0; i < 5; i++ {
		ev, err := store.AppendEvent(ctx, &datatypes.BuildEvent{
			JobID: jobID,
			Type:  datatypes.EventInfo,
		})
		require.NoError(t, err)
		assert.Equal(t, int64(i+1), ev.Seq)
	}

	events, err := store.ListEvents(ctx, jobID)
	require.NoError(t, err)
	require.Len(t, events, 5)
	for i, ev := range events {
		assert.Equal(t, int64(i+1), ev.Seq)
	}
}

func TestStore_AppendEvent_ConcurrentStillGapless(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	jobID := uuid.New().String()

	const writers = 8
	const perWriter = 20

	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				_, err := store.AppendEvent(ctx, &datatypes.BuildEvent{
					JobID: jobID,
					Type:  datatypes.EventCodegenProgress,
				})
				assert.NoError(t, err)
			}
		}()
	}
	wg.Wait()

	events, err := store.ListEvents(ctx, jobID)
	require.NoError(t, err)
	require.Len(t, events, writers*perWriter)

	seen := make(map[int64]bool, len(events))
	for _, ev := range events {
		assert.False(t, seen[ev.Seq], "duplicate seq %d", ev.Seq)
		seen[ev.Seq] = true
	}
	for seq := int64(1); seq <= int64(writers*perWriter); seq++ {
		assert.True(t, seen[seq], "missing seq %d", seq)
	}
}

func TestStore_AppendEvent_AssignsIDAndCreatedAt(t *testing.T) {
	store := newTestStore(t)

	ev, err := store.AppendEvent(context.Background(), &datatypes.BuildEvent{
		JobID: uuid.New().String(),
		Type:  datatypes.EventInfo,
	})
	require.NoError(t, err)
	assert.NotEmpty(t, ev.ID)
	assert.False(t, ev.CreatedAt.IsZero())
}

func TestStore_AppendEvent_TerminalJobRejected(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	job := &datatypes.Job{ID: uuid.New().String(), Status: datatypes.JobQueued}
	require.NoError(t, store.CreateJob(ctx, job))
	_, err := store.TransitionJob(ctx, job.ID, datatypes.JobCancelled, nil)
	require.NoError(t, err)

	// The closing event itself is still accepted.
	_, err = store.AppendEvent(ctx, &datatypes.BuildEvent{
		JobID: job.ID, Type: datatypes.EventJobCancelled,
	})
	require.NoError(t, err)

	// Anything else against the cancelled job is not.
	_, err = store.AppendEvent(ctx, &datatypes.BuildEvent{
		JobID: job.ID, Type: datatypes.EventJobStarted,
	})
	assert.ErrorIs(t, err, ErrTerminalState)

	events, err := store.ListEvents(ctx, job.ID)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, datatypes.EventJobCancelled, events[0].Type)
}

func TestStore_AppendEvent_ClosingEventMatchesStatus(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	job := &datatypes.Job{ID: uuid.New().String(), Status: datatypes.JobQueued}
	require.NoError(t, store.CreateJob(ctx, job))
	_, err := store.TransitionJob(ctx, job.ID, datatypes.JobRunning, nil)
	require.NoError(t, err)
	_, err = store.TransitionJob(ctx, job.ID, datatypes.JobFailed, nil)
	require.NoError(t, err)

	_, err = store.AppendEvent(ctx, &datatypes.BuildEvent{
		JobID: job.ID, Type: datatypes.EventError,
	})
	require.NoError(t, err)
	_, err = store.AppendEvent(ctx, &datatypes.BuildEvent{
		JobID: job.ID, Type: datatypes.EventJobFailed,
	})
	require.NoError(t, err)

	// A FAILED job does not take the SUCCESS closer.
	_, err = store.AppendEvent(ctx, &datatypes.BuildEvent{
		JobID: job.ID, Type: datatypes.EventJobCompleted,
	})
	assert.ErrorIs(t, err, ErrTerminalState)
}

func TestStore_AppendEvent_RejectsUnknownType(t *testing.T) {
	store := newTestStore(t)
	_, err := store.AppendEvent(context.Background(), &datatypes.BuildEvent{
		JobID: "j1",
		Type:  datatypes.EventType("MADE_UP"),
	})
	assert.ErrorIs(t, err, ErrInvalidEventType)
}

func TestStore_SpecVersions_Monotonic(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	projectID := uuid.New().String()

	spec := datatypes.SpecDoc{AppName: "Acme"}
	v1, err := store.AppendSpecVersion(ctx, projectID, datatypes.SpecSourcePlanner, spec)
	require.NoError(t, err)
	assert.Equal(t, 1, v1.Version)

	v2, err := store.AppendSpecVersion(ctx, projectID, datatypes.SpecSourceUserEdit, spec)
	require.NoError(t, err)
	assert.Equal(t, 2, v2.Version)

	versions, err := store.ListSpecVersions(ctx, projectID)
	require.NoError(t, err)
	require.Len(t, versions, 2)
	assert.Equal(t, datatypes.SpecSourcePlanner, versions[0].Source)
	assert.Equal(t, datatypes.SpecSourceUserEdit, versions[1].Source)
}

func TestStore_LearningEvents_WindowAndRetention(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	old := &datatypes.LearningEvent{
		ID:        uuid.New().String(),
		UserID:    "u1",
		Type:      datatypes.LearnBuildSucceeded,
		CreatedAt: now.Add(-100 * 24 * time.Hour),
	}
	recent := &datatypes.LearningEvent{
		ID:        uuid.New().String(),
		UserID:    "u1",
		Type:      datatypes.LearnSectionAdded,
		CreatedAt: now.Add(-time.Hour),
	}
	require.NoError(t, store.PutLearningEvent(ctx, old))
	require.NoError(t, store.PutLearningEvent(ctx, recent))

	window, err := store.ListLearningEventsSince(ctx, now.Add(-30*24*time.Hour))
	require.NoError(t, err)
	require.Len(t, window, 1)
	assert.Equal(t, recent.ID, window[0].ID)

	deleted, err := store.DeleteLearningEventsBefore(ctx, now.Add(-90*24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, deleted)

	all, err := store.ListLearningEventsSince(ctx, time.Time{})
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestStore_PatternsAndFixRules(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	pat := &datatypes.DesignPattern{
		ID:          uuid.New().String(),
		Industry:    "saas",
		SectionType: "pricing",
		Score:       0.8,
	}
	require.NoError(t, store.PutPattern(ctx, pat))

	got, err := store.GetPattern(ctx, "saas", "pricing")
	require.NoError(t, err)
	assert.InDelta(t, 0.8, got.Score, 1e-9)

	_, err = store.GetPattern(ctx, "saas", "faq")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, store.DeletePattern(ctx, "saas", "pricing"))
	_, err = store.GetPattern(ctx, "saas", "pricing")
	assert.ErrorIs(t, err, ErrNotFound)

	rule := &datatypes.FixRule{
		ID:              uuid.New().String(),
		Signature:       "abc123",
		OccurrenceCount: 2,
		FixSuccessCount: 1,
	}
	require.NoError(t, store.PutFixRule(ctx, rule))

	gotRule, err := store.GetFixRule(ctx, "abc123")
	require.NoError(t, err)
	assert.Equal(t, 2, gotRule.OccurrenceCount)
}

func TestStore_LearningConfig_DefaultsWhenMissing(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	cfg, err := store.GetLearningConfig(ctx, "nobody")
	require.NoError(t, err)
	assert.True(t, cfg.PersonalizationEnabled)
	assert.True(t, cfg.GlobalLearningEnabled)

	cfg.GlobalLearningEnabled = false
	require.NoError(t, store.PutLearningConfig(ctx, cfg))

	got, err := store.GetLearningConfig(ctx, "nobody")
	require.NoError(t, err)
	assert.False(t, got.GlobalLearningEnabled)
}
