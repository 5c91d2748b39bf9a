// Copyright (C) 2025 Nirman AI (deveshjha247@gmail.com)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/deveshjha247/Nirman/datatypes"
	"github.com/deveshjha247/Nirman/observability"
	"github.com/deveshjha247/Nirman/storage/badgerstore"
)

// HandleStream serves a job's event stream over SSE: full history replay
// in sequence order, then live tail until the job finishes or the client
// disconnects. A stream_end frame with the final status terminates every
// completed stream.
//
// The handler subscribes to the bus BEFORE replaying from the store, and
// dedupes by sequence number, so no event is dropped or duplicated in
// the replay/live seam.
func (a *API) HandleStream(c *gin.Context) {
	ctx := c.Request.Context()
	jobID := c.Param("id")

	if _, err := a.store.GetJob(ctx, jobID); err != nil {
		if errors.Is(err, badgerstore.ErrJobNotFound) {
			fail(c, http.StatusNotFound, "job not found")
			return
		}
		fail(c, http.StatusInternalServerError, "job lookup failed")
		return
	}

	SetSSEHeaders(c.Writer)
	writer, err := NewSSEWriter(c.Writer)
	if err != nil {
		fail(c, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	observability.DefaultMetrics.StreamAttached()
	defer observability.DefaultMetrics.StreamDetached()

	var lastSeq int64
	for {
		done, err := a.streamOnce(c, writer, jobID, &lastSeq)
		if err != nil {
			observability.DefaultMetrics.RecordClientDisconnect()
			a.logger.Debug("stream write failed, client gone",
				"job_id", jobID, "error", err.Error())
			return
		}
		if done {
			return
		}
		// Lagged subscriber: loop resubscribes and backfills from the
		// store.
	}
}

// streamOnce runs one subscribe/replay/tail cycle. Returns done=true
// when the stream finished cleanly, or an error when a write failed
// (client disconnect). A false, nil return means the subscriber lagged
// and the caller should start another cycle.
func (a *API) streamOnce(c *gin.Context, writer SSEWriter, jobID string, lastSeq *int64) (bool, error) {
	ctx := c.Request.Context()

	sub := a.bus.Subscribe(jobID)
	defer a.bus.Unsubscribe(sub)

	if err := a.replayFromStore(c, writer, jobID, lastSeq); err != nil {
		return false, err
	}

	// Terminal after replay: nothing live will follow.
	job, err := a.store.GetJob(ctx, jobID)
	if err == nil && job.Status.IsTerminal() {
		return true, writer.WriteStreamEnd(job.Status)
	}

	keepAlive := time.NewTicker(a.keepAliveInterval)
	defer keepAlive.Stop()

	for {
		select {
		case ev, ok := <-sub.Ch:
			if !ok {
				if sub.Lagged() {
					return false, nil
				}
				// Job finished; flush anything the buffer missed and
				// close out.
				if err := a.replayFromStore(c, writer, jobID, lastSeq); err != nil {
					return false, err
				}
				return true, a.writeFinalStatus(c, writer, jobID)
			}
			if ev.Seq <= *lastSeq {
				continue
			}
			if err := writer.WriteEvent(ev); err != nil {
				return false, err
			}
			*lastSeq = ev.Seq

		case <-keepAlive.C:
			if err := writer.WriteKeepAlive(); err != nil {
				return false, err
			}
			observability.DefaultMetrics.RecordKeepAlive()

		case <-ctx.Done():
			return false, ctx.Err()
		}
	}
}

// replayFromStore writes persisted events newer than *lastSeq.
func (a *API) replayFromStore(c *gin.Context, writer SSEWriter, jobID string, lastSeq *int64) error {
	history, err := a.store.ListEvents(c.Request.Context(), jobID)
	if err != nil {
		a.logger.Error("stream history read failed", "job_id", jobID, "error", err.Error())
		return err
	}
	for _, ev := range history {
		if ev.Seq <= *lastSeq {
			continue
		}
		if err := writer.WriteEvent(ev); err != nil {
			return err
		}
		*lastSeq = ev.Seq
	}
	return nil
}

func (a *API) writeFinalStatus(c *gin.Context, writer SSEWriter, jobID string) error {
	status := datatypes.JobStatus("")
	if job, err := a.store.GetJob(c.Request.Context(), jobID); err == nil {
		status = job.Status
	}
	return writer.WriteStreamEnd(status)
}
