// Copyright (C) 2025 Nirman AI (deveshjha247@gmail.com)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package classifier routes build prompts to a handling strategy.
//
// Classification is a pure function over the prompt text: no I/O, no
// randomness, no model calls. The same prompt always yields the same
// decision, which keeps the pipeline's strategy choice reproducible and
// testable.
package classifier

import (
	"strings"

	"github.com/deveshjha247/Nirman/datatypes"
)

// complexWordThreshold is the prompt length, in whitespace-separated
// words, above which a prompt is treated as a multi-step task.
const complexWordThreshold = 20

// Keyword tables, grouped by the strategy they vote for. Matching is
// case-insensitive substring search against the lowercased prompt.
var (
	toolKeywords = []string{
		"mcp", "integration", "connect to", "webhook", "external tool",
		"database", "api key", "third-party", "plugin",
	}

	codeKeywords = []string{
		"write code", "code", "function", "script", "debug", "program",
		"algorithm", "implement", "refactor", "class", "api", "endpoint",
		"build", "create app", "website", "landing page", "dashboard",
	}

	researchKeywords = []string{
		"search", "browse", "look up", "find information", "news",
		"research", "compare", "what is the latest",
	}

	fileKeywords = []string{
		"file", "folder", "directory", "save", "rename", "move", "copy",
		"organize", "upload", "download",
	}

	// complexIndicators mark prompts that describe multi-step work and
	// therefore need the planner regardless of other keyword votes.
	complexIndicators = []string{
		"and then", "after that", "multiple", "several", "complete",
		"full", "entire", "project", "step by step", "workflow", "process",
	}
)

// Decision is the classifier's verdict for a prompt.
type Decision struct {
	Strategy datatypes.Strategy
	Complex  bool
	Matched  []string
}

// Classify chooses a handling strategy for the prompt.
//
// Priority: tool-use beats everything, then complex prompts go to the
// planner, then code generation, research, file operations, and finally
// plain conversation. Empty prompts are conversational.
func Classify(prompt string) Decision {
	lower := strings.ToLower(strings.TrimSpace(prompt))
	if lower == "" {
		return Decision{Strategy: datatypes.StrategyConversational}
	}

	complex, complexMatches := isComplex(lower)

	if matched := matchAny(lower, toolKeywords); len(matched) > 0 {
		return Decision{
			Strategy: datatypes.StrategyToolUse,
			Complex:  complex,
			Matched:  matched,
		}
	}
	if complex {
		return Decision{
			Strategy: datatypes.StrategyPlanner,
			Complex:  true,
			Matched:  complexMatches,
		}
	}
	if matched := matchAny(lower, codeKeywords); len(matched) > 0 {
		return Decision{Strategy: datatypes.StrategyCodeGeneration, Matched: matched}
	}
	if matched := matchAny(lower, researchKeywords); len(matched) > 0 {
		return Decision{Strategy: datatypes.StrategyResearch, Matched: matched}
	}
	if matched := matchAny(lower, fileKeywords); len(matched) > 0 {
		return Decision{Strategy: datatypes.StrategyFileOps, Matched: matched}
	}
	return Decision{Strategy: datatypes.StrategyConversational}
}

// isComplex reports whether the prompt describes a multi-step task.
func isComplex(lower string) (bool, []string) {
	matched := matchAny(lower, complexIndicators)
	if len(matched) > 0 {
		return true, matched
	}
	if len(strings.Fields(lower)) > complexWordThreshold {
		return true, nil
	}
	return false, nil
}

func matchAny(lower string, keywords []string) []string {
	var matched []string
	for _, kw := range keywords {
		if strings.Contains(lower, kw) {
			matched = append(matched, kw)
		}
	}
	return matched
}
