// Copyright (C) 2025 Nirman AI (deveshjha247@gmail.com)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package planner

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractJSON_DirectObject(t *testing.T) {
	out, err := ExtractJSON(`{"app_name": "Acme", "sections": []}`)
	require.NoError(t, err)
	assert.Equal(t, "Acme", out["app_name"])
}

func TestExtractJSON_FencedBlock(t *testing.T) {
	response := "Here is your spec:\n```json\n{\"app_name\": \"Acme\"}\n```\nEnjoy!"
	out, err := ExtractJSON(response)
	require.NoError(t, err)
	assert.Equal(t, "Acme", out["app_name"])
}

func TestExtractJSON_BareFence(t *testing.T) {
	response := "```\n{\"app_name\": \"Acme\"}\n```"
	out, err := ExtractJSON(response)
	require.NoError(t, err)
	assert.Equal(t, "Acme", out["app_name"])
}

func TestExtractJSON_BraceRegion(t *testing.T) {
	response := `Sure thing! {"app_name": "Braces {inside} string", "n": 1} hope that helps`
	out, err := ExtractJSON(response)
	require.NoError(t, err)
	assert.Equal(t, "Braces {inside} string", out["app_name"])
}

func TestExtractJSON_NestedObjects(t *testing.T) {
	response := `prefix {"colors": {"primary": "#fff"}, "app_name": "X"} suffix`
	out, err := ExtractJSON(response)
	require.NoError(t, err)
	colors, ok := out["colors"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "#fff", colors["primary"])
}

func TestExtractJSON_Failures(t *testing.T) {
	for _, response := range []string{"", "no json here", "{broken", "``` ```"} {
		_, err := ExtractJSON(response)
		assert.ErrorIs(t, err, ErrNoJSON, "response: %q", response)
	}
}
