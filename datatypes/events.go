// Copyright (C) 2025 Nirman AI (deveshjha247@gmail.com)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package datatypes

import (
	"encoding/json"
	"time"
)

// EventType identifies a build event. The set is closed: appends of types
// outside this list are rejected by the event store.
type EventType string

const (
	EventJobStarted      EventType = "JOB_STARTED"
	EventPlanningStarted EventType = "PLANNING_STARTED"
	EventPlanningDone    EventType = "PLANNING_DONE"
	EventAgentSelected   EventType = "AGENT_SELECTED"
	EventCodegenStarted  EventType = "CODEGEN_STARTED"
	EventCodegenProgress EventType = "CODEGEN_PROGRESS"
	EventCodegenDone     EventType = "CODEGEN_DONE"
	EventFileCreated     EventType = "FILE_CREATED"
	EventPreviewReady    EventType = "PREVIEW_READY"
	EventArtifactReady   EventType = "ARTIFACT_READY"
	EventError           EventType = "ERROR"
	EventJobCompleted    EventType = "JOB_COMPLETED"
	EventJobFailed       EventType = "JOB_FAILED"
	EventJobCancelled    EventType = "JOB_CANCELLED"
	EventInfo            EventType = "INFO"
	EventWarning         EventType = "WARNING"
)

var knownEventTypes = map[EventType]struct{}{
	EventJobStarted:      {},
	EventPlanningStarted: {},
	EventPlanningDone:    {},
	EventAgentSelected:   {},
	EventCodegenStarted:  {},
	EventCodegenProgress: {},
	EventCodegenDone:     {},
	EventFileCreated:     {},
	EventPreviewReady:    {},
	EventArtifactReady:   {},
	EventError:           {},
	EventJobCompleted:    {},
	EventJobFailed:       {},
	EventJobCancelled:    {},
	EventInfo:            {},
	EventWarning:         {},
}

// Valid reports whether t is a member of the closed event type set.
func (t EventType) Valid() bool {
	_, ok := knownEventTypes[t]
	return ok
}

// BuildEvent is a single entry in a job's append-only event log.
//
// Seq is 1-based and gapless per job: the stored sequence numbers for any
// job are exactly 1..N in append order. ID and Seq are assigned by the
// store on append. Progress, when set, carries the job's progress at the
// time of the event.
type BuildEvent struct {
	ID        string         `json:"id"`
	JobID     string         `json:"job_id"`
	Seq       int64          `json:"seq"`
	Type      EventType      `json:"type"`
	Message   string         `json:"message,omitempty"`
	Payload   map[string]any `json:"payload,omitempty"`
	Progress  *int           `json:"progress,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// Typed payload fragments for the events that carry structured data. The
// controller builds these and flattens them through PayloadOf so the wire
// shape is fixed by the struct tags, not by ad-hoc map literals.

// AgentSelectedPayload is attached to AGENT_SELECTED events.
type AgentSelectedPayload struct {
	Strategy Strategy `json:"strategy"`
	Complex  bool     `json:"complex"`
	Matched  []string `json:"matched,omitempty"`
}

// PlanningDonePayload is attached to PLANNING_DONE events.
type PlanningDonePayload struct {
	AppName      string `json:"app_name"`
	Industry     string `json:"industry,omitempty"`
	SectionCount int    `json:"section_count"`
	Fallback     bool   `json:"fallback"`
}

// CodegenDonePayload is attached to CODEGEN_DONE events.
type CodegenDonePayload struct {
	Fallback  bool `json:"fallback"`
	SizeBytes int  `json:"size_bytes"`
}

// ArtifactReadyPayload is attached to ARTIFACT_READY events.
type ArtifactReadyPayload struct {
	ArtifactID string `json:"artifact_id"`
	MimeType   string `json:"mime_type"`
}

// PayloadOf flattens a typed payload into the event payload map using its
// JSON tags. Returns nil for values that cannot marshal.
func PayloadOf(v any) map[string]any {
	data, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil
	}
	return m
}

// Strategy is the coarse handling route chosen by the classifier.
type Strategy string

const (
	StrategyPlanner        Strategy = "planner"
	StrategyCodeGeneration Strategy = "code-generation"
	StrategyResearch       Strategy = "research"
	StrategyFileOps        Strategy = "file-ops"
	StrategyToolUse        Strategy = "tool-use"
	StrategyConversational Strategy = "conversational"
)
