// Copyright (C) 2025 Nirman AI (deveshjha247@gmail.com)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package datatypes

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestJobStatus_IsTerminal(t *testing.T) {
	assert.False(t, JobQueued.IsTerminal())
	assert.False(t, JobRunning.IsTerminal())
	assert.True(t, JobSuccess.IsTerminal())
	assert.True(t, JobFailed.IsTerminal())
	assert.True(t, JobCancelled.IsTerminal())
}

func TestJobStatus_CanTransitionTo(t *testing.T) {
	tests := []struct {
		name    string
		from    JobStatus
		to      JobStatus
		allowed bool
	}{
		{"queued to running", JobQueued, JobRunning, true},
		{"queued to cancelled", JobQueued, JobCancelled, true},
		{"queued to failed", JobQueued, JobFailed, true},
		{"queued to success skips running", JobQueued, JobSuccess, false},
		{"running to success", JobRunning, JobSuccess, true},
		{"running to failed", JobRunning, JobFailed, true},
		{"running to cancelled", JobRunning, JobCancelled, true},
		{"running back to queued", JobRunning, JobQueued, false},
		{"success is terminal", JobSuccess, JobRunning, false},
		{"failed is terminal", JobFailed, JobCancelled, false},
		{"cancelled is terminal", JobCancelled, JobRunning, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.allowed, tt.from.CanTransitionTo(tt.to))
		})
	}
}

func TestJobStatus_TerminalStatesHaveNoExits(t *testing.T) {
	all := []JobStatus{JobQueued, JobRunning, JobSuccess, JobFailed, JobCancelled}
	for _, terminal := range []JobStatus{JobSuccess, JobFailed, JobCancelled} {
		for _, next := range all {
			assert.False(t, terminal.CanTransitionTo(next),
				"%s -> %s must be rejected", terminal, next)
		}
	}
}

func TestEventType_Valid(t *testing.T) {
	assert.True(t, EventJobStarted.Valid())
	assert.True(t, EventCodegenProgress.Valid())
	assert.True(t, EventJobCancelled.Valid())
	assert.False(t, EventType("SOMETHING_ELSE").Valid())
	assert.False(t, EventType("").Valid())
	assert.False(t, EventType("job_started").Valid(), "types are case sensitive")
}
