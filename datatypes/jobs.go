// Copyright (C) 2025 Nirman AI (deveshjha247@gmail.com)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package datatypes provides the data structures shared across the build
// engine: jobs, build events, generated specs, and learning records.
//
// This file contains the job record and its status state machine. For the
// event stream types see events.go, for spec documents see spec.go.
package datatypes

import (
	"time"
)

// =============================================================================
// Constants
// =============================================================================

const (
	// MaxPromptBytes is the maximum size of a build prompt.
	MaxPromptBytes = 16 * 1024 // 16KB

	// MaxProgress is the terminal progress value.
	MaxProgress = 100
)

// JobStatus is the lifecycle state of a build job.
type JobStatus string

const (
	JobQueued    JobStatus = "QUEUED"
	JobRunning   JobStatus = "RUNNING"
	JobSuccess   JobStatus = "SUCCESS"
	JobFailed    JobStatus = "FAILED"
	JobCancelled JobStatus = "CANCELLED"
)

// jobTransitions is the allowed transition table. Terminal states have no
// entries: once a job is SUCCESS, FAILED, or CANCELLED no further writes
// may change its status.
var jobTransitions = map[JobStatus][]JobStatus{
	JobQueued:  {JobRunning, JobCancelled, JobFailed},
	JobRunning: {JobSuccess, JobFailed, JobCancelled},
}

// Valid reports whether s is a known job status.
func (s JobStatus) Valid() bool {
	switch s {
	case JobQueued, JobRunning, JobSuccess, JobFailed, JobCancelled:
		return true
	}
	return false
}

// IsTerminal reports whether s is a terminal state.
func (s JobStatus) IsTerminal() bool {
	switch s {
	case JobSuccess, JobFailed, JobCancelled:
		return true
	}
	return false
}

// CanTransitionTo reports whether the transition s -> next is allowed.
func (s JobStatus) CanTransitionTo(next JobStatus) bool {
	for _, allowed := range jobTransitions[s] {
		if next == allowed {
			return true
		}
	}
	return false
}

// Job is a single build request moving through the pipeline.
//
// Progress is advisory (0..100) and only ever increases while the job is
// live. Error is set only when Status is FAILED. ArtifactID is set once an
// artifact has been stored, before the job reaches SUCCESS.
type Job struct {
	ID         string    `json:"id"`
	UserID     string    `json:"user_id,omitempty"`
	ProjectID  string    `json:"project_id,omitempty"`
	Prompt     string    `json:"prompt"`
	Provider   string    `json:"provider,omitempty"`
	Status     JobStatus `json:"status"`
	Progress   int       `json:"progress"`
	Error      string    `json:"error,omitempty"`
	ArtifactID string    `json:"artifact_id,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// BuildRequest is the payload for POST /v1/build.
type BuildRequest struct {
	Prompt    string `json:"prompt" validate:"required,max=16384"`
	Provider  string `json:"provider,omitempty" validate:"omitempty,oneof=openai claude gemini auto"`
	UserID    string `json:"user_id,omitempty"`
	ProjectID string `json:"project_id,omitempty"`
}

// BuildResponse is returned when a job has been accepted.
type BuildResponse struct {
	JobID     string    `json:"job_id"`
	Status    JobStatus `json:"status"`
	StreamURL string    `json:"stream_url"`
}

// Artifact is a generated deliverable. Content is the rendered HTML.
type Artifact struct {
	ID        string    `json:"id"`
	JobID     string    `json:"job_id"`
	Name      string    `json:"name"`
	MimeType  string    `json:"mime_type"`
	Content   string    `json:"content"`
	Fallback  bool      `json:"fallback"`
	CreatedAt time.Time `json:"created_at"`
}
