// Copyright (C) 2025 Nirman AI (deveshjha247@gmail.com)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package scheduler runs the background learning jobs on fixed
// intervals: the hourly autofix miner and the nightly aggregator,
// pattern miner, and retention cleanup.
//
// Each named job is single-flighted: if a firing overlaps a still
// running execution of the same job, the firings coalesce into one run.
// Distinct jobs run concurrently. Uses the ticker + done channel
// pattern for graceful shutdown.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/deveshjha247/Nirman/observability"
)

// JobFunc is one background job execution.
type JobFunc func(ctx context.Context) error

// Job is a named periodic job.
type Job struct {
	Name     string
	Interval time.Duration
	Run      JobFunc

	// RunOnStart fires the job once immediately when the scheduler
	// starts, before the first tick.
	RunOnStart bool
}

// Scheduler drives a set of named periodic jobs.
//
// Thread Safety: all public methods are safe for concurrent use.
type Scheduler struct {
	jobs   map[string]Job
	logger *slog.Logger

	group singleflight.Group

	mu      sync.Mutex
	running bool
	done    chan struct{}
	wg      sync.WaitGroup
}

// New creates a scheduler over the given jobs. Job names must be unique.
func New(logger *slog.Logger, jobs ...Job) (*Scheduler, error) {
	if logger == nil {
		logger = slog.Default()
	}
	byName := make(map[string]Job, len(jobs))
	for _, job := range jobs {
		if job.Name == "" || job.Run == nil || job.Interval <= 0 {
			return nil, fmt.Errorf("scheduler job %q needs a name, interval, and run func", job.Name)
		}
		if _, dup := byName[job.Name]; dup {
			return nil, fmt.Errorf("scheduler job %q registered twice", job.Name)
		}
		byName[job.Name] = job
	}
	return &Scheduler{jobs: byName, logger: logger}, nil
}

// Start launches one ticker goroutine per job. Returns an error when the
// scheduler is already running.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return errors.New("scheduler is already running")
	}
	s.running = true
	s.done = make(chan struct{})
	s.mu.Unlock()

	s.logger.Info("scheduler starting", slog.Int("jobs", len(s.jobs)))
	for _, job := range s.jobs {
		s.wg.Add(1)
		go s.runLoop(ctx, job)
	}
	return nil
}

// Stop signals all job loops to exit and waits for them. Safe to call
// multiple times; a stopped scheduler can be started again.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	close(s.done)
	s.running = false
	s.mu.Unlock()

	s.wg.Wait()
	s.logger.Info("scheduler stopped")
}

// RunNow fires a job by name immediately, coalescing with any in-flight
// execution of the same job. Works whether or not the scheduler is
// started.
func (s *Scheduler) RunNow(ctx context.Context, name string) error {
	job, ok := s.jobs[name]
	if !ok {
		return fmt.Errorf("unknown scheduler job %q", name)
	}
	return s.execute(ctx, job)
}

// runLoop is the per-job ticker goroutine.
func (s *Scheduler) runLoop(ctx context.Context, job Job) {
	defer s.wg.Done()

	s.mu.Lock()
	done := s.done
	s.mu.Unlock()

	if job.RunOnStart {
		s.fire(ctx, job)
	}

	ticker := time.NewTicker(job.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-done:
			return
		case <-ticker.C:
			s.fire(ctx, job)
		}
	}
}

// fire runs one scheduled execution, logging instead of propagating
// failures so one bad cycle never kills the loop.
func (s *Scheduler) fire(ctx context.Context, job Job) {
	if err := s.execute(ctx, job); err != nil {
		s.logger.Error("scheduled job failed",
			slog.String("job", job.Name),
			slog.String("error", err.Error()))
	}
}

// execute runs the job single-flighted by name.
func (s *Scheduler) execute(ctx context.Context, job Job) error {
	start := time.Now()
	_, err, _ := s.group.Do(job.Name, func() (any, error) {
		return nil, job.Run(ctx)
	})
	observability.DefaultMetrics.RecordSchedulerRun(job.Name, err)
	if err == nil {
		s.logger.Debug("scheduled job finished",
			slog.String("job", job.Name),
			slog.Duration("elapsed", time.Since(start)))
	}
	return err
}
