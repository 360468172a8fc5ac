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

package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/paperchase/collector/internal/storage"
)

// Failure records one email's ingestion failure: which stage broke, how it
// was classified, and how many attempts were made. The raw error text is
// retained verbatim for operator display.
type Failure struct {
	MessageID   string
	AccountID   string
	Stage       string
	Class       storage.Class
	Error       string
	Attempts    int
	Permanent   bool
	LastAttempt time.Time
}

// FailureStore persists per-email ingestion failures in Postgres so retries
// survive process restarts.
type FailureStore struct {
	pool *pgxpool.Pool
}

// NewFailureStore creates a failure store backed by the given Postgres
// pool. It ensures the ingest_failures table exists on creation.
func NewFailureStore(ctx context.Context, pool *pgxpool.Pool) (*FailureStore, error) {
	s := &FailureStore{pool: pool}
	if err := s.ensureSchema(ctx); err != nil {
		return nil, fmt.Errorf("ensure ingest failure schema: %w", err)
	}
	slog.Info("ingest failure store initialised")
	return s, nil
}

func (s *FailureStore) ensureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS ingest_failures (
			message_id   TEXT PRIMARY KEY,
			account_id   TEXT NOT NULL,
			stage        TEXT NOT NULL,
			error_class  TEXT NOT NULL,
			error        TEXT NOT NULL,
			attempts     INT NOT NULL DEFAULT 1,
			permanent    BOOLEAN NOT NULL DEFAULT FALSE,
			first_seen   TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			last_attempt TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_ingest_failures_account ON ingest_failures(account_id);
	`)
	return err
}

// Record upserts a failure for a message, incrementing the attempt count.
// Returns the total attempts so far.
func (s *FailureStore) Record(ctx context.Context, f Failure) (int, error) {
	var attempts int
	err := s.pool.QueryRow(ctx, `
		INSERT INTO ingest_failures (message_id, account_id, stage, error_class, error)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (message_id) DO UPDATE SET
			stage        = EXCLUDED.stage,
			error_class  = EXCLUDED.error_class,
			error        = EXCLUDED.error,
			attempts     = ingest_failures.attempts + 1,
			last_attempt = NOW()
		RETURNING attempts
	`, f.MessageID, f.AccountID, f.Stage, f.Class, f.Error).Scan(&attempts)
	if err != nil {
		return 0, fmt.Errorf("record ingest failure: %w", err)
	}
	return attempts, nil
}

// Get returns the failure for a message, or nil when none is recorded.
func (s *FailureStore) Get(ctx context.Context, messageID string) (*Failure, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT message_id, account_id, stage, error_class, error, attempts, permanent, last_attempt
		FROM ingest_failures
		WHERE message_id = $1
	`, messageID)

	var f Failure
	err := row.Scan(&f.MessageID, &f.AccountID, &f.Stage, &f.Class, &f.Error,
		&f.Attempts, &f.Permanent, &f.LastAttempt)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &f, nil
}

// MarkPermanent flags a message as permanently failed; it will no longer
// be retried and has been surfaced to an operator.
func (s *FailureStore) MarkPermanent(ctx context.Context, messageID string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE ingest_failures SET permanent = TRUE, last_attempt = NOW()
		WHERE message_id = $1
	`, messageID)
	return err
}

// Resolve clears a failure after the message finally ingested cleanly.
func (s *FailureStore) Resolve(ctx context.Context, messageID string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM ingest_failures WHERE message_id = $1`, messageID)
	return err
}
