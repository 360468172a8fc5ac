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

// Package verify confirms that uploaded documents actually exist at their
// storage destination. A request's state machine only advances on positive
// confirmation, so verification runs synchronously after each upload and
// is never fired and forgotten.
package verify

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/paperchase/collector/internal/models"
	"github.com/paperchase/collector/internal/storage"
)

// DocumentStore is the persistence the verifier needs. Implemented by
// document.Store.
type DocumentStore interface {
	UpdateVerification(ctx context.Context, id string, status models.VerificationStatus, uploadError string, verifiedAt *time.Time) error
}

// Outcome is the result of one verification attempt.
type Outcome struct {
	Status models.VerificationStatus
	Class  storage.Class // set for failed outcomes
	Error  string        // verbatim provider error, set for failed/not_found
}

// Verifier drives storage existence checks after upload.
type Verifier struct {
	registry *storage.Registry
	store    DocumentStore
}

// NewVerifier creates an upload verifier.
func NewVerifier(registry *storage.Registry, store DocumentStore) *Verifier {
	return &Verifier{registry: registry, store: store}
}

// Verify checks that the document's object exists at its destination and
// records the result. It is idempotent: an already-verified document is a
// no-op success, and re-running on a failed or not_found document is safe.
func (v *Verifier) Verify(ctx context.Context, doc *models.Document) (Outcome, error) {
	if doc.VerificationStatus == models.VerificationVerified {
		return Outcome{Status: models.VerificationVerified}, nil
	}

	adapter, ok := v.registry.ByProvider(doc.Provider)
	if !ok {
		out := Outcome{
			Status: models.VerificationFailed,
			Class:  storage.ClassValidation,
			Error:  fmt.Sprintf("no storage adapter for provider %q", doc.Provider),
		}
		return out, v.record(ctx, doc, out)
	}

	exists, err := adapter.Exists(ctx, storage.ObjectRef{Provider: doc.Provider, Path: doc.StoragePath})
	if err != nil {
		out := Outcome{
			Status: models.VerificationFailed,
			Class:  storage.ClassOf(err),
			Error:  err.Error(),
		}
		slog.Warn("upload verification errored",
			"document", doc.ID,
			"provider", doc.Provider,
			"class", out.Class,
			"error", err,
		)
		return out, v.record(ctx, doc, out)
	}

	if !exists {
		out := Outcome{
			Status: models.VerificationNotFound,
			Class:  storage.ClassPath,
			Error:  fmt.Sprintf("object %s not found on %s after upload", doc.StoragePath, doc.Provider),
		}
		slog.Warn("uploaded object missing at destination",
			"document", doc.ID,
			"provider", doc.Provider,
			"path", doc.StoragePath,
		)
		return out, v.record(ctx, doc, out)
	}

	out := Outcome{Status: models.VerificationVerified}
	slog.Info("upload verified",
		"document", doc.ID,
		"provider", doc.Provider,
		"path", doc.StoragePath,
	)
	return out, v.record(ctx, doc, out)
}

// record mutates the document and persists the outcome.
func (v *Verifier) record(ctx context.Context, doc *models.Document, out Outcome) error {
	doc.VerificationStatus = out.Status
	doc.UploadError = out.Error

	var verifiedAt *time.Time
	if out.Status == models.VerificationVerified {
		now := time.Now().UTC()
		verifiedAt = &now
	}
	doc.VerifiedAt = verifiedAt

	if err := v.store.UpdateVerification(ctx, doc.ID, out.Status, out.Error, verifiedAt); err != nil {
		return fmt.Errorf("persist verification outcome: %w", err)
	}
	return nil
}
