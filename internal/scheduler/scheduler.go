// Copyright (c) 2026 John Earle
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package scheduler runs the service's named periodic jobs (ingest,
// refresh-tokens, send-reminders, expire-requests). Each job tick is a
// short-lived unit of work guarded by a persisted lock with a stale
// timeout, so a slow run is never duplicated by the next scheduled tick
// and an abandoned run unblocks once the lock expires.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// ErrUnknownJob is returned by Trigger for a job name that was never
// registered.
var ErrUnknownJob = errors.New("unknown job")

// ErrAlreadyRunning is returned by Trigger when the job's lock is held.
var ErrAlreadyRunning = errors.New("job already running")

// JobFunc is one job execution. It must respect ctx: runs exceeding their
// budget are abandoned, not waited on.
type JobFunc func(ctx context.Context) error

// Job is a named periodic job.
type Job struct {
	Name     string
	Interval time.Duration
	Budget   time.Duration
	Run      JobFunc
}

// Locker enforces at-most-one-concurrent-instance per job. Implemented by
// RedisLocker.
type Locker interface {
	Acquire(ctx context.Context, name string) (bool, error)
	Release(ctx context.Context, name string) error
}

// History records one row per run. Implemented by HistoryStore.
type History interface {
	Start(ctx context.Context, job string) (string, error)
	Finish(ctx context.Context, id, status, errSummary string) error
}

// Scheduler drives registered jobs on independent tickers.
type Scheduler struct {
	locker  Locker
	history History

	mu   sync.Mutex
	jobs map[string]Job

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a scheduler.
func New(locker Locker, history History) *Scheduler {
	return &Scheduler{
		locker:  locker,
		history: history,
		jobs:    make(map[string]Job),
	}
}

// Register adds a job. Must be called before Start.
func (s *Scheduler) Register(job Job) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[job.Name] = job
}

// Start launches one ticker loop per registered job. Each job runs once
// immediately, then on its interval, until the context is cancelled.
func (s *Scheduler) Start(ctx context.Context) {
	loopCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, job := range s.jobs {
		s.wg.Add(1)
		go s.loop(loopCtx, job)
	}

	slog.Info("job scheduler started", "jobs", len(s.jobs))
}

// Stop shuts down all job loops and waits for them.
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
	slog.Info("job scheduler stopped")
}

// Trigger runs a job on demand with the same lock guarantee as a scheduled
// tick. Returns ErrAlreadyRunning when the lock is held.
func (s *Scheduler) Trigger(ctx context.Context, name string) error {
	s.mu.Lock()
	job, ok := s.jobs[name]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownJob, name)
	}

	acquired, err := s.locker.Acquire(ctx, job.Name)
	if err != nil {
		return err
	}
	if !acquired {
		return fmt.Errorf("%w: %s", ErrAlreadyRunning, name)
	}

	s.execute(ctx, job)
	return nil
}

// loop is one job's ticker loop.
func (s *Scheduler) loop(ctx context.Context, job Job) {
	defer s.wg.Done()

	slog.Info("job loop starting",
		"job", job.Name,
		"interval", job.Interval,
		"budget", job.Budget,
	)

	s.tick(ctx, job)

	ticker := time.NewTicker(job.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("job loop stopping", "job", job.Name)
			return
		case <-ticker.C:
			s.tick(ctx, job)
		}
	}
}

// tick attempts one locked execution; a held lock means a previous run is
// still in flight and the tick is skipped.
func (s *Scheduler) tick(ctx context.Context, job Job) {
	acquired, err := s.locker.Acquire(ctx, job.Name)
	if err != nil {
		slog.Error("lock acquisition failed", "job", job.Name, "error", err)
		return
	}
	if !acquired {
		slog.Info("skipping tick, previous run still holds lock", "job", job.Name)
		return
	}

	s.execute(ctx, job)
}

// execute runs the job within its budget, records the run in history, and
// releases the lock. A run that exceeds its budget is abandoned: marked
// failed, the lock left to the stale timeout, and the goroutine allowed to
// drain on its own once it notices the cancelled context.
func (s *Scheduler) execute(ctx context.Context, job Job) {
	runID, err := s.history.Start(ctx, job.Name)
	if err != nil {
		slog.Error("failed to record job run", "job", job.Name, "error", err)
		// The run still proceeds; only the history row is lost.
	}

	runCtx, cancel := context.WithTimeout(ctx, job.Budget)
	defer cancel()

	started := time.Now()
	done := make(chan error, 1)
	go func() {
		done <- job.Run(runCtx)
	}()

	select {
	case err := <-done:
		elapsed := time.Since(started).Round(time.Millisecond)
		status := RunSucceeded
		summary := ""
		if err != nil {
			status = RunFailed
			summary = err.Error()
			slog.Error("job run failed", "job", job.Name, "elapsed", elapsed, "error", err)
		} else {
			slog.Info("job run finished", "job", job.Name, "elapsed", elapsed)
		}
		s.finish(ctx, runID, status, summary)
		if err := s.locker.Release(ctx, job.Name); err != nil {
			slog.Error("lock release failed", "job", job.Name, "error", err)
		}

	case <-runCtx.Done():
		// Budget exhausted. Do not release the lock: the runner goroutine
		// may still be mid-flight, and the stale timeout will free it.
		slog.Error("job run exceeded budget, abandoning",
			"job", job.Name,
			"budget", job.Budget,
		)
		s.finish(ctx, runID, RunAbandoned, fmt.Sprintf("exceeded budget %s", job.Budget))
	}
}

// AwaitLock polls Acquire until the lock is taken or the timeout elapses.
// Used where a short wait beats failing outright, e.g. ingestion waiting
// out a token refresh on the same destination.
func AwaitLock(ctx context.Context, l Locker, name string, timeout time.Duration) (bool, error) {
	deadline := time.Now().Add(timeout)
	for {
		acquired, err := l.Acquire(ctx, name)
		if err != nil || acquired {
			return acquired, err
		}
		if time.Now().After(deadline) {
			return false, nil
		}
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-time.After(200 * time.Millisecond):
		}
	}
}

func (s *Scheduler) finish(ctx context.Context, runID, status, summary string) {
	if runID == "" {
		return
	}
	if err := s.history.Finish(ctx, runID, status, summary); err != nil {
		slog.Error("failed to record job run outcome", "run_id", runID, "error", err)
	}
}
