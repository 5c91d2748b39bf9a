// Copyright (C) 2025 Nirman AI (deveshjha247@gmail.com)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package events

import (
	"context"
	"fmt"
	"sync"

	"github.com/deveshjha247/Nirman/datatypes"
)

// EventLog is the durable append-only log backing the emitter. Implemented
// by badgerstore.Store.
type EventLog interface {
	AppendEvent(ctx context.Context, ev *datatypes.BuildEvent) (*datatypes.BuildEvent, error)
	ListEvents(ctx context.Context, jobID string) ([]datatypes.BuildEvent, error)
}

// Emitter records build events: persist first, publish second. The
// persisted event carries the assigned ID and sequence number.
type Emitter interface {
	// Emit appends the event to the durable log and fans it out to live
	// subscribers. Seq and ID on the input are ignored; the stored event
	// carries the assigned values.
	Emit(ctx context.Context, ev datatypes.BuildEvent) (*datatypes.BuildEvent, error)

	// History returns the full persisted log for a job in sequence order.
	History(ctx context.Context, jobID string) ([]datatypes.BuildEvent, error)
}

// logEmitter is the production Emitter backed by an EventLog and a Bus.
type logEmitter struct {
	log      EventLog
	bus      *Bus
	jobLocks sync.Map // job id -> *sync.Mutex
}

// NewEmitter creates an emitter over the given log and bus.
func NewEmitter(log EventLog, bus *Bus) Emitter {
	return &logEmitter{log: log, bus: bus}
}

func (e *logEmitter) Emit(ctx context.Context, ev datatypes.BuildEvent) (*datatypes.BuildEvent, error) {
	// Append and publish must be atomic per job: without the lock, two
	// emitters can publish out of sequence order and a live tail would
	// drop the lower seq for good.
	lock, _ := e.jobLocks.LoadOrStore(ev.JobID, &sync.Mutex{})
	mu := lock.(*sync.Mutex)
	mu.Lock()
	defer mu.Unlock()

	stored, err := e.log.AppendEvent(ctx, &ev)
	if err != nil {
		return nil, fmt.Errorf("emit %s for job %s: %w", ev.Type, ev.JobID, err)
	}
	e.bus.Publish(*stored)
	return stored, nil
}

func (e *logEmitter) History(ctx context.Context, jobID string) ([]datatypes.BuildEvent, error) {
	return e.log.ListEvents(ctx, jobID)
}

var _ Emitter = (*logEmitter)(nil)

// MockEmitter records emitted events for tests.
//
// Thread Safety: safe for concurrent use.
type MockEmitter struct {
	mu     sync.Mutex
	Events []datatypes.BuildEvent
}

// NewMockEmitter creates an empty mock.
func NewMockEmitter() *MockEmitter {
	return &MockEmitter{}
}

func (m *MockEmitter) Emit(_ context.Context, ev datatypes.BuildEvent) (*datatypes.BuildEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ev.Seq = int64(len(m.Events) + 1)
	m.Events = append(m.Events, ev)
	return &ev, nil
}

func (m *MockEmitter) History(_ context.Context, jobID string) ([]datatypes.BuildEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []datatypes.BuildEvent
	for _, ev := range m.Events {
		if ev.JobID == jobID {
			out = append(out, ev)
		}
	}
	return out, nil
}

// Types returns the emitted event types in order, for assertions.
func (m *MockEmitter) Types() []datatypes.EventType {
	m.mu.Lock()
	defer m.mu.Unlock()
	types := make([]datatypes.EventType, 0, len(m.Events))
	for _, ev := range m.Events {
		types = append(types, ev.Type)
	}
	return types
}

var _ Emitter = (*MockEmitter)(nil)
