// Copyright (C) 2025 Nirman AI (deveshjha247@gmail.com)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package learning

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSanitize_DropsSensitiveKeys(t *testing.T) {
	payload := map[string]any{
		"section":        "pricing",
		"api_key":        "sk-12345",
		"user_email":     "a@b.c",
		"PHONE_number":   "555-1234",
		"billingAddress": "42 Main St",
		"stripe_token":   "tok_abc",
	}

	clean := Sanitize(payload)
	assert.Equal(t, "pricing", clean["section"])
	for _, key := range []string{"api_key", "user_email", "PHONE_number", "billingAddress", "stripe_token"} {
		_, present := clean[key]
		assert.False(t, present, "key %q must be dropped", key)
	}
}

func TestSanitize_TruncatesLongStrings(t *testing.T) {
	long := strings.Repeat("x", 600)
	clean := Sanitize(map[string]any{"note": long})

	got, ok := clean["note"].(string)
	require.True(t, ok)
	assert.Len(t, got, 503)
	assert.True(t, strings.HasSuffix(got, "..."))
}

func TestSanitize_RecursesIntoNestedMaps(t *testing.T) {
	clean := Sanitize(map[string]any{
		"meta": map[string]any{
			"password": "hunter2",
			"theme":    "dark",
		},
		"list": []any{
			map[string]any{"secret_value": "x", "ok": "y"},
		},
	})

	meta := clean["meta"].(map[string]any)
	_, present := meta["password"]
	assert.False(t, present)
	assert.Equal(t, "dark", meta["theme"])

	item := clean["list"].([]any)[0].(map[string]any)
	_, present = item["secret_value"]
	assert.False(t, present)
	assert.Equal(t, "y", item["ok"])
}

func TestSanitize_NilPayload(t *testing.T) {
	assert.Nil(t, Sanitize(nil))
}
