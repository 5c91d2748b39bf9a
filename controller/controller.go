// Copyright (C) 2025 Nirman AI (deveshjha247@gmail.com)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package controller runs the build pipeline: it owns the job state
// machine and drives prompt -> classify -> plan -> render -> artifact.
//
// # State machine
//
// QUEUED -> RUNNING -> SUCCESS | FAILED, with CANCELLED reachable from
// QUEUED and RUNNING. Terminal states are final; the store rejects any
// write against them, which is also how a running pipeline observes a
// cancel: the next progress checkpoint fails with ErrTerminalState and
// the pipeline stops. The in-flight generation call itself is not
// interrupted.
//
// # Never-fail rendering
//
// Planner and renderer both degrade to deterministic output, so the only
// FAILED paths left are storage errors. A build whose model calls all
// failed still completes with a fallback artifact.
package controller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/deveshjha247/Nirman/classifier"
	"github.com/deveshjha247/Nirman/datatypes"
	"github.com/deveshjha247/Nirman/events"
	"github.com/deveshjha247/Nirman/learning"
	"github.com/deveshjha247/Nirman/observability"
	"github.com/deveshjha247/Nirman/planner"
	"github.com/deveshjha247/Nirman/renderer"
	"github.com/deveshjha247/Nirman/storage/badgerstore"
)

// ErrInvalidRequest marks a build request that failed validation.
var ErrInvalidRequest = errors.New("invalid build request")

// Config wires a Controller. Store, Emitter, Planner, and Renderer are
// required; Bus, Tracker, and Logger are optional.
type Config struct {
	Store    *badgerstore.Store
	Emitter  events.Emitter
	Bus      *events.Bus
	Planner  *planner.Planner
	Renderer *renderer.Renderer
	Tracker  *learning.Tracker
	Logger   *slog.Logger
}

// Controller accepts build requests and runs their pipelines.
type Controller struct {
	store    *badgerstore.Store
	emitter  events.Emitter
	bus      *events.Bus
	planner  *planner.Planner
	renderer *renderer.Renderer
	tracker  *learning.Tracker
	validate *validator.Validate
	logger   *slog.Logger
	wg       sync.WaitGroup
}

// New creates a controller.
func New(cfg Config) (*Controller, error) {
	if cfg.Store == nil || cfg.Emitter == nil || cfg.Planner == nil || cfg.Renderer == nil {
		return nil, errors.New("controller: store, emitter, planner, and renderer are required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Controller{
		store:    cfg.Store,
		emitter:  cfg.Emitter,
		bus:      cfg.Bus,
		planner:  cfg.Planner,
		renderer: cfg.Renderer,
		tracker:  cfg.Tracker,
		validate: validator.New(),
		logger:   cfg.Logger,
	}, nil
}

// StartBuild validates the request, persists a QUEUED job, and launches
// its pipeline in the background. The returned job is the QUEUED
// snapshot.
func (c *Controller) StartBuild(ctx context.Context, req datatypes.BuildRequest) (*datatypes.Job, error) {
	if err := c.validate.Struct(req); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}

	now := time.Now().UTC()
	job := &datatypes.Job{
		ID:        uuid.New().String(),
		UserID:    req.UserID,
		ProjectID: req.ProjectID,
		Prompt:    req.Prompt,
		Provider:  req.Provider,
		Status:    datatypes.JobQueued,
		CreatedAt: now,
		UpdatedAt: now,
	}
	// Spec versions are keyed by project; single-shot builds get their
	// own project.
	if job.ProjectID == "" {
		job.ProjectID = job.ID
	}

	if err := c.store.CreateJob(ctx, job); err != nil {
		return nil, fmt.Errorf("create job: %w", err)
	}
	observability.DefaultMetrics.JobStarted()

	c.wg.Add(1)
	go c.runPipeline(job.ID)

	c.logger.Info("build accepted",
		slog.String("job_id", job.ID),
		slog.String("project_id", job.ProjectID),
		slog.Int("prompt_bytes", len(job.Prompt)))
	return job, nil
}

// Get returns the current job snapshot or badgerstore.ErrJobNotFound.
func (c *Controller) Get(ctx context.Context, jobID string) (*datatypes.Job, error) {
	return c.store.GetJob(ctx, jobID)
}

// Cancel moves a QUEUED or RUNNING job to CANCELLED. Cancelling an
// already-CANCELLED job is a no-op returning changed=false. Cancelling a
// SUCCESS or FAILED job returns badgerstore.ErrTerminalState.
func (c *Controller) Cancel(ctx context.Context, jobID string) (*datatypes.Job, bool, error) {
	job, err := c.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, false, err
	}
	if job.Status == datatypes.JobCancelled {
		return job, false, nil
	}
	if job.Status.IsTerminal() {
		return job, false, fmt.Errorf("cancel %s job: %w", job.Status, badgerstore.ErrTerminalState)
	}

	updated, err := c.store.TransitionJob(ctx, jobID, datatypes.JobCancelled, nil)
	if errors.Is(err, badgerstore.ErrTerminalState) {
		// Lost a race with the pipeline; re-read to settle it.
		current, gerr := c.store.GetJob(ctx, jobID)
		if gerr != nil {
			return nil, false, gerr
		}
		if current.Status == datatypes.JobCancelled {
			return current, false, nil
		}
		return current, false, err
	}
	if err != nil {
		return nil, false, err
	}

	c.emit(ctx, jobID, datatypes.EventJobCancelled, "build cancelled", nil)
	observability.DefaultMetrics.JobFinished("cancelled")
	c.closeJob(jobID)
	return updated, true, nil
}

// Wait blocks until all in-flight pipelines have finished.
func (c *Controller) Wait() {
	c.wg.Wait()
}

// =============================================================================
// Pipeline
// =============================================================================

// runPipeline drives one job from RUNNING to a terminal state. It runs
// detached from the request context: accepted builds finish even when
// the caller has gone away.
func (c *Controller) runPipeline(jobID string) {
	defer c.wg.Done()
	ctx := context.Background()

	job, err := c.store.GetJob(ctx, jobID)
	if err != nil {
		c.logger.Error("pipeline lost its job", slog.String("job_id", jobID), slog.String("error", err.Error()))
		return
	}

	if _, err := c.store.TransitionJob(ctx, jobID, datatypes.JobRunning, nil); err != nil {
		// Cancelled while queued.
		if !errors.Is(err, badgerstore.ErrTerminalState) {
			c.logger.Error("pipeline start failed", slog.String("job_id", jobID), slog.String("error", err.Error()))
		}
		return
	}

	if err := c.advance(ctx, jobID, 10); err != nil {
		c.abort(ctx, job, err)
		return
	}
	c.emitAt(ctx, jobID, datatypes.EventJobStarted, "build started", nil, 10)

	decision := classifier.Classify(job.Prompt)
	c.emit(ctx, jobID, datatypes.EventAgentSelected, "strategy selected",
		datatypes.PayloadOf(datatypes.AgentSelectedPayload{
			Strategy: decision.Strategy,
			Complex:  decision.Complex,
			Matched:  decision.Matched,
		}))

	if err := c.advance(ctx, jobID, 25); err != nil {
		c.abort(ctx, job, err)
		return
	}
	c.emitAt(ctx, jobID, datatypes.EventPlanningStarted, "planning application", nil, 25)

	planStart := time.Now()
	spec, planMeta := c.planner.Plan(ctx, job.Prompt, job.Provider, job.UserID)
	observability.DefaultMetrics.RecordGeneration("planning", planMeta.Provider, time.Since(planStart), planMeta.Fallback)

	if err := c.advance(ctx, jobID, 30); err != nil {
		c.abort(ctx, job, err)
		return
	}
	c.emitAt(ctx, jobID, datatypes.EventCodegenProgress, "industry detection", map[string]any{
		"industry": planMeta.Industry,
	}, 30)

	if _, err := c.store.AppendSpecVersion(ctx, job.ProjectID, datatypes.SpecSourcePlanner, *spec); err != nil {
		// The spec history is an audit trail, not a build dependency.
		c.logger.Warn("spec version write failed",
			slog.String("job_id", jobID), slog.String("error", err.Error()))
	}
	c.emit(ctx, jobID, datatypes.EventPlanningDone, "plan ready",
		datatypes.PayloadOf(datatypes.PlanningDonePayload{
			AppName:      spec.AppName,
			Industry:     planMeta.Industry,
			SectionCount: len(spec.Sections),
			Fallback:     planMeta.Fallback,
		}))
	c.recordPatternUsage(ctx, planMeta)

	if err := c.advance(ctx, jobID, 60); err != nil {
		c.abort(ctx, job, err)
		return
	}
	c.emitAt(ctx, jobID, datatypes.EventCodegenStarted, "generating code", nil, 60)

	renderStart := time.Now()
	html, renderMeta := c.render(ctx, spec, job)
	observability.DefaultMetrics.RecordGeneration("codegen", renderMeta.Provider, time.Since(renderStart), renderMeta.Fallback)

	if err := c.advance(ctx, jobID, 80); err != nil {
		c.abort(ctx, job, err)
		return
	}
	c.emitAt(ctx, jobID, datatypes.EventCodegenProgress, "assembling document", nil, 80)

	if err := c.advance(ctx, jobID, 90); err != nil {
		c.abort(ctx, job, err)
		return
	}
	c.emitAt(ctx, jobID, datatypes.EventCodegenDone, "code generation finished",
		datatypes.PayloadOf(datatypes.CodegenDonePayload{
			Fallback:  renderMeta.Fallback,
			SizeBytes: len(html),
		}), 90)

	artifact := &datatypes.Artifact{
		ID:        uuid.New().String(),
		JobID:     jobID,
		Name:      "index.html",
		MimeType:  "text/html",
		Content:   html,
		Fallback:  renderMeta.Fallback,
		CreatedAt: time.Now().UTC(),
	}
	if err := c.store.PutArtifact(ctx, artifact); err != nil {
		c.fail(ctx, job, fmt.Errorf("store artifact: %w", err))
		return
	}
	if _, err := c.store.UpdateJob(ctx, jobID, func(j *datatypes.Job) error {
		if j.Status != datatypes.JobRunning {
			return fmt.Errorf("job is %s: %w", j.Status, badgerstore.ErrTerminalState)
		}
		j.ArtifactID = artifact.ID
		return nil
	}); err != nil {
		c.abort(ctx, job, err)
		return
	}

	c.emit(ctx, jobID, datatypes.EventFileCreated, "index.html", map[string]any{
		"name":      artifact.Name,
		"mime_type": artifact.MimeType,
	})
	c.emit(ctx, jobID, datatypes.EventPreviewReady, "preview available", map[string]any{
		"artifact_id": artifact.ID,
	})
	c.emit(ctx, jobID, datatypes.EventArtifactReady, "artifact stored",
		datatypes.PayloadOf(datatypes.ArtifactReadyPayload{
			ArtifactID: artifact.ID,
			MimeType:   artifact.MimeType,
		}))

	if _, err := c.store.TransitionJob(ctx, jobID, datatypes.JobSuccess, func(j *datatypes.Job) {
		j.Progress = datatypes.MaxProgress
	}); err != nil {
		c.abort(ctx, job, err)
		return
	}
	c.emitAt(ctx, jobID, datatypes.EventJobCompleted, "build finished", map[string]any{
		"artifact_id": artifact.ID,
	}, datatypes.MaxProgress)
	observability.DefaultMetrics.JobFinished("success")
	c.closeJob(jobID)

	c.track(ctx, job, datatypes.LearnBuildSucceeded, map[string]any{
		"industry": planMeta.Industry,
		"fallback": renderMeta.Fallback,
	})
}

// render generates the artifact HTML. A generation failure records its
// error signature for the fix miner; when a mined fix rule matches, the
// render is retried once with the rule's instructions before accepting
// the fallback, and a successful retry is credited back to the rule.
func (c *Controller) render(ctx context.Context, spec *datatypes.SpecDoc, job *datatypes.Job) (string, renderer.Meta) {
	html, meta := c.renderer.Render(ctx, spec, job.Prompt, job.Provider, "")
	if !meta.Fallback || meta.GenError == "" {
		return html, meta
	}

	if _, err := learning.RecordError(ctx, c.store, meta.GenError, "codegen"); err != nil {
		c.logger.Warn("error signature record failed",
			slog.String("job_id", job.ID), slog.String("error", err.Error()))
	}

	rule, err := learning.KnownFix(ctx, c.store, meta.GenError)
	if err != nil || rule == nil {
		return html, meta
	}
	c.emit(ctx, job.ID, datatypes.EventCodegenProgress,
		"applying known fix: "+clip(rule.FixInstructions, 50), map[string]any{
			"auto_fix": true,
			"rule_id":  rule.ID,
		})

	retryHTML, retryMeta := c.renderer.Render(ctx, spec, job.Prompt, job.Provider, rule.FixInstructions)
	if retryMeta.Fallback {
		return html, meta
	}
	if err := learning.RecordFixAttempt(ctx, c.store, meta.GenError, true); err != nil {
		c.logger.Warn("fix attempt record failed",
			slog.String("job_id", job.ID), slog.String("error", err.Error()))
	}
	return retryHTML, retryMeta
}

// clip shortens s to at most n bytes for event messages.
func clip(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// advance raises the job's progress, failing with ErrTerminalState when
// the job has been cancelled underneath the pipeline. Progress never
// decreases.
func (c *Controller) advance(ctx context.Context, jobID string, progress int) error {
	_, err := c.store.UpdateJob(ctx, jobID, func(job *datatypes.Job) error {
		if job.Status != datatypes.JobRunning {
			return fmt.Errorf("job is %s: %w", job.Status, badgerstore.ErrTerminalState)
		}
		if progress > job.Progress {
			job.Progress = progress
		}
		return nil
	})
	return err
}

// abort handles a checkpoint error: a terminal-state rejection means the
// job was cancelled and the pipeline stops silently; anything else fails
// the build.
func (c *Controller) abort(ctx context.Context, job *datatypes.Job, err error) {
	if errors.Is(err, badgerstore.ErrTerminalState) {
		c.logger.Info("pipeline stopped at cancelled job", slog.String("job_id", job.ID))
		return
	}
	c.fail(ctx, job, err)
}

// fail moves the job to FAILED and emits the error events.
func (c *Controller) fail(ctx context.Context, job *datatypes.Job, cause error) {
	c.logger.Error("build failed",
		slog.String("job_id", job.ID),
		slog.String("error", cause.Error()))

	if _, err := c.store.TransitionJob(ctx, job.ID, datatypes.JobFailed, func(j *datatypes.Job) {
		j.Error = cause.Error()
	}); err != nil {
		if !errors.Is(err, badgerstore.ErrTerminalState) {
			c.logger.Error("failed-state write rejected",
				slog.String("job_id", job.ID), slog.String("error", err.Error()))
		}
		return
	}

	c.emit(ctx, job.ID, datatypes.EventError, cause.Error(), nil)
	c.emit(ctx, job.ID, datatypes.EventJobFailed, "build failed", map[string]any{
		"error": cause.Error(),
	})
	observability.DefaultMetrics.JobFinished("failed")
	c.closeJob(job.ID)

	c.track(ctx, job, datatypes.LearnBuildFailed, map[string]any{
		"error": cause.Error(),
	})
}

// emit appends and publishes one event. Emit failures are logged; the
// pipeline never stops over a lost progress event.
func (c *Controller) emit(ctx context.Context, jobID string, eventType datatypes.EventType, message string, payload map[string]any) {
	c.emitEvent(ctx, datatypes.BuildEvent{
		JobID:   jobID,
		Type:    eventType,
		Message: message,
		Payload: payload,
	})
}

// emitAt is emit with the job's progress stamped on the event.
func (c *Controller) emitAt(ctx context.Context, jobID string, eventType datatypes.EventType, message string, payload map[string]any, progress int) {
	c.emitEvent(ctx, datatypes.BuildEvent{
		JobID:    jobID,
		Type:     eventType,
		Message:  message,
		Payload:  payload,
		Progress: &progress,
	})
}

func (c *Controller) emitEvent(ctx context.Context, ev datatypes.BuildEvent) {
	if _, err := c.emitter.Emit(ctx, ev); err != nil {
		c.logger.Warn("event emit failed",
			slog.String("job_id", ev.JobID),
			slog.String("event_type", string(ev.Type)),
			slog.String("error", err.Error()))
		return
	}
	observability.DefaultMetrics.EventAppended(string(ev.Type))
}

// closeJob ends all live subscriptions for a finished job.
func (c *Controller) closeJob(jobID string) {
	if c.bus != nil {
		c.bus.CloseJob(jobID)
	}
}

// track records a behavior event. Learning is best effort on the build
// path: failures are logged, never propagated.
func (c *Controller) track(ctx context.Context, job *datatypes.Job, eventType datatypes.LearningEventType, payload map[string]any) {
	if c.tracker == nil || job.UserID == "" {
		return
	}
	if err := c.tracker.Track(ctx, datatypes.LearningEvent{
		UserID:    job.UserID,
		ProjectID: job.ProjectID,
		Type:      eventType,
		Payload:   payload,
	}); err != nil {
		c.logger.Warn("learning track failed",
			slog.String("job_id", job.ID), slog.String("error", err.Error()))
	}
}

// recordPatternUsage bumps the mined pattern the planner applied, if any.
func (c *Controller) recordPatternUsage(ctx context.Context, meta planner.Meta) {
	if c.tracker == nil || meta.PatternUsed == "" || meta.PatternSection == "" {
		return
	}
	if err := c.tracker.RecordPatternUsage(ctx, meta.Industry, meta.PatternSection); err != nil {
		c.logger.Warn("pattern usage record failed",
			slog.String("pattern_id", meta.PatternUsed), slog.String("error", err.Error()))
	}
}
