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

package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Run statuses recorded in job history.
const (
	RunRunning   = "running"
	RunSucceeded = "succeeded"
	RunFailed    = "failed"
	RunAbandoned = "abandoned"
)

// HistoryStore persists one row per scheduler run in Postgres.
type HistoryStore struct {
	pool *pgxpool.Pool
}

// NewHistoryStore creates a job run history store backed by the given
// Postgres pool. It ensures the job_runs table exists on creation.
func NewHistoryStore(ctx context.Context, pool *pgxpool.Pool) (*HistoryStore, error) {
	s := &HistoryStore{pool: pool}
	if err := s.ensureSchema(ctx); err != nil {
		return nil, fmt.Errorf("ensure job run schema: %w", err)
	}
	slog.Info("job run history store initialised")
	return s, nil
}

func (s *HistoryStore) ensureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS job_runs (
			id          TEXT PRIMARY KEY,
			job         TEXT NOT NULL,
			started_at  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			finished_at TIMESTAMPTZ,
			status      TEXT NOT NULL DEFAULT 'running',
			error       TEXT DEFAULT ''
		);
		CREATE INDEX IF NOT EXISTS idx_job_runs_job ON job_runs(job, started_at);
	`)
	return err
}

// Start records the beginning of a run and returns its id.
func (s *HistoryStore) Start(ctx context.Context, job string) (string, error) {
	id := uuid.New().String()
	_, err := s.pool.Exec(ctx, `
		INSERT INTO job_runs (id, job, started_at, status)
		VALUES ($1, $2, $3, $4)
	`, id, job, time.Now().UTC(), RunRunning)
	if err != nil {
		return "", fmt.Errorf("record job run start: %w", err)
	}
	return id, nil
}

// Finish records the outcome of a run. errSummary keeps counts plus the
// first error detail, not full stack dumps.
func (s *HistoryStore) Finish(ctx context.Context, id, status, errSummary string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE job_runs
		SET finished_at = $1, status = $2, error = $3
		WHERE id = $4
	`, time.Now().UTC(), status, errSummary, id)
	if err != nil {
		return fmt.Errorf("record job run finish: %w", err)
	}
	return nil
}
