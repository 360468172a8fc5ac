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

package request

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/paperchase/collector/internal/models"
	"github.com/paperchase/collector/internal/rules"
)

// Store provides persistence for document requests in Postgres.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a document request store backed by the given Postgres
// pool. It ensures the document_requests table exists on creation.
func NewStore(ctx context.Context, pool *pgxpool.Pool) (*Store, error) {
	s := &Store{pool: pool}
	if err := s.ensureSchema(ctx); err != nil {
		return nil, fmt.Errorf("ensure document request schema: %w", err)
	}
	slog.Info("document request store initialised")
	return s, nil
}

func (s *Store) ensureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS document_requests (
			id                      TEXT PRIMARY KEY,
			recipient_email         TEXT NOT NULL,
			subject                 TEXT NOT NULL,
			normalized_subject      TEXT NOT NULL,
			status                  TEXT NOT NULL DEFAULT 'pending',
			due_date                TIMESTAMPTZ,
			document_count          INT NOT NULL DEFAULT 0,
			expected_document_count INT,
			required_document_types TEXT[],
			last_status_change      TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			status_changed_by       TEXT NOT NULL DEFAULT 'system',
			created_at              TIMESTAMPTZ DEFAULT NOW(),
			updated_at              TIMESTAMPTZ DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_requests_recipient ON document_requests(LOWER(recipient_email));
		CREATE INDEX IF NOT EXISTS idx_requests_status ON document_requests(status);
		CREATE INDEX IF NOT EXISTS idx_requests_due ON document_requests(due_date);
	`)
	return err
}

// Create inserts a new request in its current status.
func (s *Store) Create(ctx context.Context, req models.DocumentRequest) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO document_requests
			(id, recipient_email, subject, normalized_subject, status, due_date,
			 document_count, expected_document_count, required_document_types,
			 last_status_change, status_changed_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, req.ID, req.RecipientEmail, req.Subject, normalizeKey(req.Subject), req.Status,
		req.DueDate, req.DocumentCount, req.ExpectedDocumentCount, req.RequiredDocumentTypes,
		req.LastStatusChange, req.StatusChangedBy)
	return err
}

// Get retrieves a request by id, or nil when not found.
func (s *Store) Get(ctx context.Context, id string) (*models.DocumentRequest, error) {
	row := s.pool.QueryRow(ctx, selectColumns+`WHERE id = $1`, id)
	return scanRequest(row)
}

// Correlate finds the open request an inbound email replies to, matching on
// recipient email plus the normalized subject. Only non-terminal requests
// are considered; the most recently sent one wins.
func (s *Store) Correlate(ctx context.Context, recipientEmail, subject string) (*models.DocumentRequest, error) {
	row := s.pool.QueryRow(ctx, selectColumns+`
		WHERE LOWER(recipient_email) = LOWER($1)
		  AND normalized_subject = $2
		  AND status NOT IN ('completed', 'expired')
		ORDER BY last_status_change DESC
		LIMIT 1
	`, recipientEmail, normalizeKey(subject))
	return scanRequest(row)
}

// ApplyTransition persists a status change made by the state machine. The
// WHERE clause guards against concurrent writers: the update only lands if
// the stored status still matches the status the machine transitioned from.
func (s *Store) ApplyTransition(ctx context.Context, id string, from models.RequestStatus, req models.DocumentRequest) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE document_requests
		SET status = $1, last_status_change = $2, status_changed_by = $3, updated_at = NOW()
		WHERE id = $4 AND status = $5
	`, req.Status, req.LastStatusChange, req.StatusChangedBy, id, from)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("request %s changed status concurrently (expected %s)", id, from)
	}
	return nil
}

// AddDocuments increments the accumulated document count and returns the
// new total.
func (s *Store) AddDocuments(ctx context.Context, id string, n int) (int, error) {
	var total int
	err := s.pool.QueryRow(ctx, `
		UPDATE document_requests
		SET document_count = document_count + $1, updated_at = NOW()
		WHERE id = $2
		RETURNING document_count
	`, n, id).Scan(&total)
	return total, err
}

// ListDueForReminder returns pending/sent requests whose due date falls
// within the reminder window from now.
func (s *Store) ListDueForReminder(ctx context.Context, now time.Time, window time.Duration) ([]models.DocumentRequest, error) {
	rows, err := s.pool.Query(ctx, selectColumns+`
		WHERE status IN ('pending', 'sent', 'missing_files')
		  AND due_date IS NOT NULL
		  AND due_date > $1
		  AND due_date <= $2
		ORDER BY due_date
	`, now, now.Add(window))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectRequests(rows)
}

// SweepExpired marks every non-terminal request past its due date as
// expired and returns the affected ids.
func (s *Store) SweepExpired(ctx context.Context, now time.Time) ([]string, error) {
	rows, err := s.pool.Query(ctx, `
		UPDATE document_requests
		SET status = 'expired', last_status_change = $1, status_changed_by = $2, updated_at = NOW()
		WHERE status NOT IN ('completed', 'expired')
		  AND due_date IS NOT NULL
		  AND due_date < $1
		RETURNING id
	`, now, SystemActor)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

const selectColumns = `
	SELECT id, recipient_email, subject, status, due_date, document_count,
	       expected_document_count, required_document_types,
	       last_status_change, status_changed_by
	FROM document_requests
`

func scanRequest(row pgx.Row) (*models.DocumentRequest, error) {
	var r models.DocumentRequest
	err := row.Scan(
		&r.ID, &r.RecipientEmail, &r.Subject, &r.Status, &r.DueDate,
		&r.DocumentCount, &r.ExpectedDocumentCount, &r.RequiredDocumentTypes,
		&r.LastStatusChange, &r.StatusChangedBy,
	)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func collectRequests(rows pgx.Rows) ([]models.DocumentRequest, error) {
	var out []models.DocumentRequest
	for rows.Next() {
		r, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

// normalizeKey lower-cases the normalized subject for correlation lookups,
// so "Re: Employee ID" and "employee id" land on the same request.
func normalizeKey(subject string) string {
	return strings.ToLower(rules.NormalizeSubject(subject))
}
