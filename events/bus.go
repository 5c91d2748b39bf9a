// Copyright (C) 2025 Nirman AI (deveshjha247@gmail.com)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package events provides the build event pipeline: an in-process pub/sub
// bus for live tailing and an emitter that appends to the durable log
// before publishing.
//
// Ordering contract: events for a job are published in sequence order
// because the emitter holds a per-job lock across append and publish. A
// subscriber that attaches after K events sees events K+1.. on its
// channel; history replay is the stream handler's concern.
package events

import (
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/deveshjha247/Nirman/datatypes"
)

const defaultBufferSize = 64

// Subscription is one listener on a job's live event feed.
//
// Ch is closed when the job reaches a terminal state, when the
// subscription is cancelled, or when the subscriber falls too far behind
// (Lagged reports which). After Ch closes no more events arrive.
type Subscription struct {
	ID    string
	JobID string
	Ch    <-chan datatypes.BuildEvent

	ch        chan datatypes.BuildEvent
	closeOnce sync.Once
	lagged    bool
	mu        sync.Mutex
}

// Lagged reports whether the bus dropped this subscriber for not keeping
// up. Callers should re-read history from the store and resubscribe.
func (s *Subscription) Lagged() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lagged
}

func (s *Subscription) close(lagged bool) {
	s.mu.Lock()
	s.lagged = s.lagged || lagged
	s.mu.Unlock()
	s.closeOnce.Do(func() { close(s.ch) })
}

// Bus fans build events out to per-job subscribers.
//
// Thread Safety: all methods are safe for concurrent use.
type Bus struct {
	mu         sync.RWMutex
	subs       map[string]map[string]*Subscription
	bufferSize int
	logger     *slog.Logger
}

// BusOption configures a Bus.
type BusOption func(*Bus)

// WithBufferSize sets the per-subscriber channel buffer.
func WithBufferSize(n int) BusOption {
	return func(b *Bus) {
		if n > 0 {
			b.bufferSize = n
		}
	}
}

// WithLogger sets the bus logger.
func WithLogger(logger *slog.Logger) BusOption {
	return func(b *Bus) {
		b.logger = logger
	}
}

// NewBus creates an event bus.
func NewBus(opts ...BusOption) *Bus {
	b := &Bus{
		subs:       make(map[string]map[string]*Subscription),
		bufferSize: defaultBufferSize,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Subscribe registers a listener for a job's live events.
func (b *Bus) Subscribe(jobID string) *Subscription {
	sub := &Subscription{
		ID:    uuid.New().String(),
		JobID: jobID,
		ch:    make(chan datatypes.BuildEvent, b.bufferSize),
	}
	sub.Ch = sub.ch

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.subs[jobID] == nil {
		b.subs[jobID] = make(map[string]*Subscription)
	}
	b.subs[jobID][sub.ID] = sub
	return sub
}

// Unsubscribe removes a listener and closes its channel. Idempotent.
func (b *Bus) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}
	b.mu.Lock()
	if jobSubs, ok := b.subs[sub.JobID]; ok {
		delete(jobSubs, sub.ID)
		if len(jobSubs) == 0 {
			delete(b.subs, sub.JobID)
		}
	}
	b.mu.Unlock()
	sub.close(false)
}

// Publish delivers an event to every subscriber of its job. Subscribers
// whose buffers are full are dropped and their channels closed; they must
// re-read history from the store and resubscribe.
func (b *Bus) Publish(ev datatypes.BuildEvent) {
	b.mu.RLock()
	targets := make([]*Subscription, 0, len(b.subs[ev.JobID]))
	for _, sub := range b.subs[ev.JobID] {
		targets = append(targets, sub)
	}
	b.mu.RUnlock()

	var dropped []*Subscription
	for _, sub := range targets {
		select {
		case sub.ch <- ev:
		default:
			dropped = append(dropped, sub)
		}
	}

	for _, sub := range dropped {
		b.logger.Warn("dropping slow event subscriber",
			slog.String("job_id", ev.JobID),
			slog.String("subscription_id", sub.ID))
		b.mu.Lock()
		if jobSubs, ok := b.subs[sub.JobID]; ok {
			delete(jobSubs, sub.ID)
			if len(jobSubs) == 0 {
				delete(b.subs, sub.JobID)
			}
		}
		b.mu.Unlock()
		sub.close(true)
	}
}

// CloseJob closes every subscription for a job. Called once the job
// reaches a terminal state.
func (b *Bus) CloseJob(jobID string) {
	b.mu.Lock()
	jobSubs := b.subs[jobID]
	delete(b.subs, jobID)
	b.mu.Unlock()

	for _, sub := range jobSubs {
		sub.close(false)
	}
}

// SubscriberCount returns the number of live subscriptions for a job.
func (b *Bus) SubscriberCount(jobID string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[jobID])
}
