// Copyright (C) 2025 Nirman AI (deveshjha247@gmail.com)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package learning

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deveshjha247/Nirman/datatypes"
	"github.com/deveshjha247/Nirman/storage/badgerstore"
)

func newTestStore(t *testing.T) *badgerstore.Store {
	t.Helper()
	db, err := badgerstore.OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return badgerstore.NewStore(db)
}

func TestNormalizeError(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{
			"line numbers",
			"SyntaxError on Line 42: unexpected token",
			"syntaxerror on line N: unexpected token",
		},
		{
			"code locations",
			"panic at /srv/app/render.go:17:3 during build",
			"panic at FILE:N:N during build",
		},
		{
			"file paths",
			"cannot open /var/data/projects/site.html for writing",
			"cannot open FILE for writing",
		},
		{
			"dates",
			"token expired 2025-01-02T10:00:00Z retry later",
			"token expired DATE retry later",
		},
		{
			"whitespace collapse",
			"too   many\n\n  spaces",
			"too many spaces",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizeError(tt.in))
		})
	}
}

func TestNormalizeError_Caps(t *testing.T) {
	long := ""
	for i := 0; i < 100; i++ {
		long += "repeated failure segment "
	}
	assert.LessOrEqual(t, len(NormalizeError(long)), 500)
}

func TestErrorSignature_StableAcrossVolatileParts(t *testing.T) {
	a := ErrorSignature("render failed at /tmp/job1/out.html:10:4 on line 10")
	b := ErrorSignature("Render failed at /tmp/job2/out.html:99:1 on line 99")
	assert.Equal(t, a, b)

	c := ErrorSignature("a completely different failure")
	assert.NotEqual(t, a, c)
}

func TestFixMiner_OccurrenceAndSuccessCounts(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()
	errMsg := "render failed: missing hero section"

	// Project A fails, then succeeds after a spec edit.
	_, err := store.AppendSpecVersion(ctx, "proj-a", datatypes.SpecSourcePlanner, datatypes.SpecDoc{
		AppName:  "A",
		Sections: []datatypes.SpecSection{{Type: "features"}},
	})
	require.NoError(t, err)

	require.NoError(t, store.PutLearningEvent(ctx, &datatypes.LearningEvent{
		ID: uuid.New().String(), UserID: "u1", ProjectID: "proj-a",
		Type:      datatypes.LearnBuildFailed,
		Payload:   map[string]any{"error": errMsg},
		CreatedAt: now.Add(-3 * time.Hour),
	}))

	_, err = store.AppendSpecVersion(ctx, "proj-a", datatypes.SpecSourceUserEdit, datatypes.SpecDoc{
		AppName:  "A",
		Sections: []datatypes.SpecSection{{Type: "hero"}, {Type: "features"}},
	})
	require.NoError(t, err)

	require.NoError(t, store.PutLearningEvent(ctx, &datatypes.LearningEvent{
		ID: uuid.New().String(), UserID: "u1", ProjectID: "proj-a",
		Type:      datatypes.LearnBuildSucceeded,
		CreatedAt: now.Add(-2 * time.Hour),
	}))

	// Project B hits the same error with no fix yet.
	require.NoError(t, store.PutLearningEvent(ctx, &datatypes.LearningEvent{
		ID: uuid.New().String(), UserID: "u2", ProjectID: "proj-b",
		Type:      datatypes.LearnBuildFailed,
		Payload:   map[string]any{"error": errMsg},
		CreatedAt: now.Add(-time.Hour),
	}))

	miner := NewFixMiner(store, nil)
	processed, err := miner.Mine(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, processed)

	rule, err := store.GetFixRule(ctx, ErrorSignature(errMsg))
	require.NoError(t, err)
	assert.Equal(t, 2, rule.OccurrenceCount)
	assert.Equal(t, 1, rule.FixSuccessCount)
	assert.InDelta(t, 0.5, rule.SuccessRate(), 1e-9)

	// At exactly 0.5 success rate the fix is trusted.
	known, err := KnownFix(ctx, store, errMsg)
	require.NoError(t, err)
	require.NotNil(t, known)
	assert.Contains(t, known.FixInstructions, `added section "hero"`)
}

func TestKnownFix_UnreliableRuleIgnored(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	errMsg := "flaky upstream"

	require.NoError(t, store.PutFixRule(ctx, &datatypes.FixRule{
		ID:              uuid.New().String(),
		Signature:       ErrorSignature(errMsg),
		FixInstructions: "do the thing",
		OccurrenceCount: 5,
		FixSuccessCount: 1,
	}))

	known, err := KnownFix(ctx, store, errMsg)
	require.NoError(t, err)
	assert.Nil(t, known)
}

func TestKnownFix_UnseenErrorIsNil(t *testing.T) {
	store := newTestStore(t)
	known, err := KnownFix(context.Background(), store, "never seen before")
	require.NoError(t, err)
	assert.Nil(t, known)
}

func TestDiffSummary(t *testing.T) {
	before := &datatypes.SpecDoc{
		Layout:   "landing",
		Sections: []datatypes.SpecSection{{Type: "hero"}, {Type: "pricing"}},
	}
	after := &datatypes.SpecDoc{
		Layout:   "webapp",
		Sections: []datatypes.SpecSection{{Type: "hero"}, {Type: "faq"}},
	}

	summary := DiffSummary(before, after)
	assert.Contains(t, summary, `added section "faq"`)
	assert.Contains(t, summary, `removed section "pricing"`)
	assert.Contains(t, summary, `changed layout to "webapp"`)

	assert.Empty(t, DiffSummary(before, before))
	assert.Empty(t, DiffSummary(nil, after))
}

func TestRecordError_UpsertsOccurrences(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	rule, err := RecordError(ctx, store, "codegen failed at /tmp/x/y:3:4", "codegen")
	require.NoError(t, err)
	assert.Equal(t, 1, rule.OccurrenceCount)
	assert.Equal(t, "codegen", rule.Category)

	// Volatile parts normalize away; both failures share one rule.
	again, err := RecordError(ctx, store, "codegen failed at /var/a/b:9:1", "codegen")
	require.NoError(t, err)
	assert.Equal(t, rule.ID, again.ID)
	assert.Equal(t, 2, again.OccurrenceCount)
}

func TestRecordFixAttempt(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	// An attempt against an unrecorded error is a no-op.
	require.NoError(t, RecordFixAttempt(ctx, store, "never seen", true))
	_, err := store.GetFixRule(ctx, ErrorSignature("never seen"))
	assert.ErrorIs(t, err, badgerstore.ErrNotFound)

	_, err = RecordError(ctx, store, "render timeout", "codegen")
	require.NoError(t, err)
	require.NoError(t, RecordFixAttempt(ctx, store, "render timeout", false))
	require.NoError(t, RecordFixAttempt(ctx, store, "render timeout", true))

	rule, err := store.GetFixRule(ctx, ErrorSignature("render timeout"))
	require.NoError(t, err)
	assert.Equal(t, 1, rule.OccurrenceCount)
	assert.Equal(t, 1, rule.FixSuccessCount, "only successes are credited")
}
