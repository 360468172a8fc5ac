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

// Package document provides a Postgres-backed store for uploaded document
// records and their verification status.
package document

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/paperchase/collector/internal/models"
)

// Store provides CRUD operations for document records in Postgres.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a document store backed by the given Postgres pool.
// It ensures the documents table exists on creation.
func NewStore(ctx context.Context, pool *pgxpool.Pool) (*Store, error) {
	s := &Store{pool: pool}
	if err := s.ensureSchema(ctx); err != nil {
		return nil, fmt.Errorf("ensure document schema: %w", err)
	}
	slog.Info("document store initialised")
	return s, nil
}

func (s *Store) ensureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS documents (
			id                  TEXT PRIMARY KEY,
			request_id          TEXT DEFAULT '',
			rule_id             TEXT DEFAULT '',
			provider            TEXT NOT NULL,
			storage_path        TEXT NOT NULL,
			filename            TEXT NOT NULL,
			verification_status TEXT NOT NULL DEFAULT 'pending',
			upload_error        TEXT DEFAULT '',
			verified_at         TIMESTAMPTZ,
			created_at          TIMESTAMPTZ DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_documents_request ON documents(request_id);
		CREATE INDEX IF NOT EXISTS idx_documents_verification ON documents(verification_status);
	`)
	return err
}

// Create inserts a new document record, typically right after a successful
// upload with verification still pending.
func (s *Store) Create(ctx context.Context, d models.Document) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO documents
			(id, request_id, rule_id, provider, storage_path, filename,
			 verification_status, upload_error, verified_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, d.ID, d.RequestID, d.RuleID, d.Provider, d.StoragePath, d.Filename,
		d.VerificationStatus, d.UploadError, d.VerifiedAt, d.CreatedAt)
	return err
}

// Get retrieves a document by id, or nil when not found.
func (s *Store) Get(ctx context.Context, id string) (*models.Document, error) {
	row := s.pool.QueryRow(ctx, selectColumns+`WHERE id = $1`, id)
	return scanDocument(row)
}

// UpdateVerification persists the verifier's outcome for a document.
func (s *Store) UpdateVerification(ctx context.Context, id string, status models.VerificationStatus, uploadError string, verifiedAt *time.Time) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE documents
		SET verification_status = $1, upload_error = $2, verified_at = $3
		WHERE id = $4
	`, status, uploadError, verifiedAt, id)
	return err
}

// ListUnverified returns documents still awaiting a successful verification
// (pending, failed or not_found), oldest first.
func (s *Store) ListUnverified(ctx context.Context, limit int) ([]models.Document, error) {
	rows, err := s.pool.Query(ctx, selectColumns+`
		WHERE verification_status IN ('pending', 'failed', 'not_found')
		ORDER BY created_at
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectDocuments(rows)
}

// VerifiedTypes returns the distinct lower-cased file extensions of a
// request's verified documents, used to check required document types.
func (s *Store) VerifiedTypes(ctx context.Context, requestID string) ([]string, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT DISTINCT LOWER(SUBSTRING(filename FROM '\.([^.]+)$'))
		FROM documents
		WHERE request_id = $1
		  AND verification_status = 'verified'
		  AND filename LIKE '%.%'
	`, requestID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var types []string
	for rows.Next() {
		var t *string
		if err := rows.Scan(&t); err != nil {
			return nil, err
		}
		if t != nil && *t != "" {
			types = append(types, *t)
		}
	}
	return types, rows.Err()
}

const selectColumns = `
	SELECT id, request_id, rule_id, provider, storage_path, filename,
	       verification_status, upload_error, verified_at, created_at
	FROM documents
`

func scanDocument(row pgx.Row) (*models.Document, error) {
	var d models.Document
	err := row.Scan(
		&d.ID, &d.RequestID, &d.RuleID, &d.Provider, &d.StoragePath,
		&d.Filename, &d.VerificationStatus, &d.UploadError, &d.VerifiedAt,
		&d.CreatedAt,
	)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func collectDocuments(rows pgx.Rows) ([]models.Document, error) {
	var out []models.Document
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *d)
	}
	return out, rows.Err()
}
