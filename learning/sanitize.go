// Copyright (C) 2025 Nirman AI (deveshjha247@gmail.com)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package learning records user behavior signals and distills them into
// preferences, reusable design patterns, and error fix rules.
//
// Nothing in this package sits on the build path: tracking and mining
// failures degrade personalization, never builds.
package learning

import "strings"

// sensitiveKeyFragments flags payload keys that must never be stored.
// Matching is case-insensitive substring over the key name.
var sensitiveKeyFragments = []string{
	"api_key", "password", "secret", "token", "email",
	"phone", "address", "credit_card", "ssn",
}

// maxPayloadStringLen caps stored string values.
const maxPayloadStringLen = 500

// Sanitize returns a copy of the payload safe for storage: keys whose
// names contain a sensitive fragment are dropped, over-long strings are
// truncated, and nested maps are sanitized recursively. A nil payload
// returns nil.
func Sanitize(payload map[string]any) map[string]any {
	if payload == nil {
		return nil
	}
	clean := make(map[string]any, len(payload))
	for key, value := range payload {
		if isSensitiveKey(key) {
			continue
		}
		clean[key] = sanitizeValue(value)
	}
	return clean
}

func isSensitiveKey(key string) bool {
	lower := strings.ToLower(key)
	for _, fragment := range sensitiveKeyFragments {
		if strings.Contains(lower, fragment) {
			return true
		}
	}
	return false
}

func sanitizeValue(value any) any {
	switch v := value.(type) {
	case string:
		if len(v) > maxPayloadStringLen {
			return v[:maxPayloadStringLen] + "..."
		}
		return v
	case map[string]any:
		return Sanitize(v)
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = sanitizeValue(item)
		}
		return out
	default:
		return value
	}
}
