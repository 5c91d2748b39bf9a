// Copyright (C) 2025 Nirman AI (deveshjha247@gmail.com)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/deveshjha247/Nirman/datatypes"
)

// SSEWriter writes build events to an HTTP response in SSE wire format:
//
//	event: {type}
//	data: {json}
//
// # Thread Safety
//
// Implementations must be safe for concurrent use: the stream handler
// writes replayed history, live events, and keepalives from different
// goroutines.
type SSEWriter interface {
	// WriteEvent writes one build event frame and flushes.
	WriteEvent(ev datatypes.BuildEvent) error

	// WriteStreamEnd writes the terminating stream_end frame carrying
	// the job's final status. No frames follow it.
	WriteStreamEnd(status datatypes.JobStatus) error

	// WriteKeepAlive sends an SSE comment (": ping") to keep the TCP
	// connection alive through load balancer idle timeouts. Comments
	// are ignored by SSE clients.
	WriteKeepAlive() error
}

// sseWriter implements SSEWriter over an http.ResponseWriter, flushing
// after every frame. Cannot be reused across requests.
type sseWriter struct {
	writer  http.ResponseWriter
	flusher http.Flusher
	mu      sync.Mutex
}

// NewSSEWriter wraps a ResponseWriter. The caller must set SSE headers
// via SetSSEHeaders before the first write. Errors when the writer does
// not support flushing.
func NewSSEWriter(w http.ResponseWriter) (SSEWriter, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, errors.New("ResponseWriter does not support http.Flusher")
	}
	return &sseWriter{writer: w, flusher: flusher}, nil
}

func (w *sseWriter) WriteEvent(ev datatypes.BuildEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event seq %d: %w", ev.Seq, err)
	}
	return w.writeFrame(string(ev.Type), data)
}

func (w *sseWriter) WriteStreamEnd(status datatypes.JobStatus) error {
	data, err := json.Marshal(map[string]any{"status": status})
	if err != nil {
		return fmt.Errorf("marshal stream_end: %w", err)
	}
	return w.writeFrame("stream_end", data)
}

func (w *sseWriter) WriteKeepAlive() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, err := fmt.Fprint(w.writer, ": ping\n\n"); err != nil {
		return fmt.Errorf("write keepalive: %w", err)
	}
	w.flusher.Flush()
	return nil
}

func (w *sseWriter) writeFrame(eventName string, data []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, err := fmt.Fprintf(w.writer, "event: %s\ndata: %s\n\n", eventName, data); err != nil {
		return fmt.Errorf("write %s frame: %w", eventName, err)
	}
	w.flusher.Flush()
	return nil
}

// SetSSEHeaders configures the response for SSE streaming. Must run
// before any body write. X-Accel-Buffering disables nginx buffering.
func SetSSEHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
}

var _ SSEWriter = (*sseWriter)(nil)
