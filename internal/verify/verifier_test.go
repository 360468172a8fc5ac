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

package verify

import (
	"context"
	"testing"
	"time"

	"github.com/paperchase/collector/internal/models"
	"github.com/paperchase/collector/internal/storage"
)

// mockAdapter implements storage.Adapter for testing.
type mockAdapter struct {
	provider  string
	exists    bool
	existsErr error
}

func (m *mockAdapter) Upload(_ context.Context, path string, _ []byte) (storage.ObjectRef, error) {
	return storage.ObjectRef{Provider: m.provider, Path: path}, nil
}

func (m *mockAdapter) Exists(_ context.Context, _ storage.ObjectRef) (bool, error) {
	return m.exists, m.existsErr
}

func (m *mockAdapter) Provider() string { return m.provider }

// mockDocStore implements DocumentStore for testing.
type mockDocStore struct {
	updates int
	lastID  string
	status  models.VerificationStatus
	errText string
}

func (m *mockDocStore) UpdateVerification(_ context.Context, id string, status models.VerificationStatus, uploadError string, _ *time.Time) error {
	m.updates++
	m.lastID = id
	m.status = status
	m.errText = uploadError
	return nil
}

func newVerifier(adapter storage.Adapter, store *mockDocStore) *Verifier {
	registry := storage.NewRegistry()
	registry.Register("d1", adapter, true)
	return NewVerifier(registry, store)
}

// TestVerifier_Verified verifies the success path sets verified_at and
// persists the outcome.
func TestVerifier_Verified(t *testing.T) {
	store := &mockDocStore{}
	v := newVerifier(&mockAdapter{provider: "drive-a", exists: true}, store)

	doc := &models.Document{ID: "doc-1", Provider: "drive-a", StoragePath: "x/y.pdf"}
	out, err := v.Verify(context.Background(), doc)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}

	if out.Status != models.VerificationVerified {
		t.Errorf("status = %s, want verified", out.Status)
	}
	if doc.VerifiedAt == nil {
		t.Error("VerifiedAt not set")
	}
	if store.updates != 1 || store.lastID != "doc-1" {
		t.Errorf("store updates = %d for %s", store.updates, store.lastID)
	}
}

// TestVerifier_AlreadyVerifiedNoOp verifies idempotency: no store write, no
// adapter call needed.
func TestVerifier_AlreadyVerifiedNoOp(t *testing.T) {
	store := &mockDocStore{}
	v := newVerifier(&mockAdapter{provider: "drive-a", existsErr: storage.NewError(storage.ClassNetwork, "should not be called")}, store)

	doc := &models.Document{ID: "doc-1", Provider: "drive-a", VerificationStatus: models.VerificationVerified}
	out, err := v.Verify(context.Background(), doc)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if out.Status != models.VerificationVerified {
		t.Errorf("status = %s", out.Status)
	}
	if store.updates != 0 {
		t.Errorf("no-op wrote to store %d times", store.updates)
	}
}

// TestVerifier_NotFound verifies a missing object records not_found with a
// non-empty error.
func TestVerifier_NotFound(t *testing.T) {
	store := &mockDocStore{}
	v := newVerifier(&mockAdapter{provider: "drive-a", exists: false}, store)

	doc := &models.Document{ID: "doc-1", Provider: "drive-a", StoragePath: "x/y.pdf"}
	out, err := v.Verify(context.Background(), doc)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}

	if out.Status != models.VerificationNotFound {
		t.Errorf("status = %s, want not_found", out.Status)
	}
	if out.Error == "" {
		t.Error("not_found outcome carries no error text")
	}
	if out.Class != storage.ClassPath {
		t.Errorf("class = %s, want path", out.Class)
	}
	if store.status != models.VerificationNotFound || store.errText == "" {
		t.Errorf("persisted status=%s error=%q", store.status, store.errText)
	}
	if doc.VerifiedAt != nil {
		t.Error("VerifiedAt set on not_found")
	}
}

// TestVerifier_CheckErrorClassified verifies existence check failures keep
// the provider's error class.
func TestVerifier_CheckErrorClassified(t *testing.T) {
	store := &mockDocStore{}
	v := newVerifier(&mockAdapter{
		provider:  "blob",
		existsErr: storage.NewError(storage.ClassAuth, "token expired"),
	}, store)

	doc := &models.Document{ID: "doc-1", Provider: "blob", StoragePath: "x.pdf"}
	out, err := v.Verify(context.Background(), doc)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}

	if out.Status != models.VerificationFailed {
		t.Errorf("status = %s, want failed", out.Status)
	}
	if out.Class != storage.ClassAuth {
		t.Errorf("class = %s, want auth", out.Class)
	}
}

// TestVerifier_UnknownProvider verifies a document whose provider has no
// adapter fails with a validation class.
func TestVerifier_UnknownProvider(t *testing.T) {
	store := &mockDocStore{}
	v := newVerifier(&mockAdapter{provider: "drive-a"}, store)

	doc := &models.Document{ID: "doc-1", Provider: "gone", StoragePath: "x.pdf"}
	out, err := v.Verify(context.Background(), doc)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if out.Status != models.VerificationFailed || out.Class != storage.ClassValidation {
		t.Errorf("outcome = %+v, want failed/validation", out)
	}
}

// TestVerifier_ReverifyAfterFailure verifies a previously failed document
// can succeed on a later attempt.
func TestVerifier_ReverifyAfterFailure(t *testing.T) {
	store := &mockDocStore{}
	adapter := &mockAdapter{provider: "drive-a", existsErr: storage.NewError(storage.ClassNetwork, "timeout")}
	v := newVerifier(adapter, store)

	doc := &models.Document{ID: "doc-1", Provider: "drive-a", StoragePath: "x.pdf"}
	out, _ := v.Verify(context.Background(), doc)
	if out.Status != models.VerificationFailed {
		t.Fatalf("first attempt status = %s", out.Status)
	}

	adapter.existsErr = nil
	adapter.exists = true
	out, err := v.Verify(context.Background(), doc)
	if err != nil {
		t.Fatalf("second attempt: %v", err)
	}
	if out.Status != models.VerificationVerified {
		t.Errorf("second attempt status = %s, want verified", out.Status)
	}
	if doc.UploadError != "" {
		t.Errorf("stale upload error retained: %q", doc.UploadError)
	}
}
