// Copyright (C) 2025 Nirman AI (deveshjha247@gmail.com)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package planner

import (
	"encoding/json"
	"errors"
	"strings"
)

// ErrNoJSON is returned when no parseable JSON object can be found in a
// model response.
var ErrNoJSON = errors.New("no JSON object found in response")

// ExtractJSON pulls a JSON object out of a model response. Models wrap
// their output unpredictably, so extraction is attempted in order:
//
//  1. the whole response is valid JSON
//  2. a fenced ```json block
//  3. the first brace-balanced region
func ExtractJSON(response string) (map[string]any, error) {
	trimmed := strings.TrimSpace(response)
	if trimmed == "" {
		return nil, ErrNoJSON
	}

	var out map[string]any
	if err := json.Unmarshal([]byte(trimmed), &out); err == nil {
		return out, nil
	}

	if block, ok := fencedBlock(trimmed); ok {
		if err := json.Unmarshal([]byte(block), &out); err == nil {
			return out, nil
		}
	}

	if region, ok := braceRegion(trimmed); ok {
		if err := json.Unmarshal([]byte(region), &out); err == nil {
			return out, nil
		}
	}

	return nil, ErrNoJSON
}

// fencedBlock returns the contents of the first ```json (or bare ```)
// fenced block.
func fencedBlock(s string) (string, bool) {
	start := strings.Index(s, "```json")
	offset := 7
	if start < 0 {
		start = strings.Index(s, "```")
		offset = 3
	}
	if start < 0 {
		return "", false
	}
	rest := s[start+offset:]
	end := strings.Index(rest, "```")
	if end < 0 {
		return "", false
	}
	return strings.TrimSpace(rest[:end]), true
}

// braceRegion returns the first balanced {...} region, tracking string
// literals so braces inside values don't end the region early.
func braceRegion(s string) (string, bool) {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return "", false
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if escaped {
			escaped = false
			continue
		}
		switch c {
		case '\\':
			if inString {
				escaped = true
			}
		case '"':
			inString = !inString
		case '{':
			if !inString {
				depth++
			}
		case '}':
			if !inString {
				depth--
				if depth == 0 {
					return s[start : i+1], true
				}
			}
		}
	}
	return "", false
}
