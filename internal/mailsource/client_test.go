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

package mailsource

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

// TestClient_FetchPending verifies decoding of the parser's pending page.
func TestClient_FetchPending(t *testing.T) {
	content := base64.StdEncoding.EncodeToString([]byte("pdf-bytes"))
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/accounts/acct-1/pending" {
			t.Errorf("path = %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{
			"value": [{
				"message_id": "m1",
				"from": {"address": "hr@acme.com", "name": "HR"},
				"subject": "Invoice",
				"received_at": "2026-03-07T09:00:00Z",
				"has_body": true,
				"attachments": [{"filename": "scan.pdf", "content": %q}]
			}]
		}`, content)
	}))
	defer server.Close()

	c := NewClient(server.Client(), server.URL)
	emails, err := c.FetchPending(context.Background(), "acct-1")
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}

	if len(emails) != 1 {
		t.Fatalf("emails = %d, want 1", len(emails))
	}
	e := emails[0]
	if e.MessageID != "m1" || e.AccountID != "acct-1" {
		t.Errorf("identity = %s/%s", e.AccountID, e.MessageID)
	}
	if e.From.Address != "hr@acme.com" || e.From.Name != "HR" {
		t.Errorf("from = %+v", e.From)
	}
	want := time.Date(2026, time.March, 7, 9, 0, 0, 0, time.UTC)
	if !e.ReceivedAt.Equal(want) {
		t.Errorf("received_at = %v", e.ReceivedAt)
	}
	if len(e.Attachments) != 1 || e.Attachments[0].Filename != "scan.pdf" {
		t.Fatalf("attachments = %+v", e.Attachments)
	}
	if string(e.Attachments[0].Content) != "pdf-bytes" {
		t.Errorf("content = %q", e.Attachments[0].Content)
	}
}

// TestClient_FetchPendingError verifies non-200 responses surface as errors.
func TestClient_FetchPendingError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	c := NewClient(server.Client(), server.URL)
	if _, err := c.FetchPending(context.Background(), "acct-1"); err == nil {
		t.Fatal("expected error for HTTP 502")
	}
}

// TestClient_Ack verifies the ack POST shape and status handling.
func TestClient_Ack(t *testing.T) {
	var gotMethod, gotPath string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotPath = r.URL.Path
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	c := NewClient(server.Client(), server.URL)
	if err := c.Ack(context.Background(), "acct-1", "m1"); err != nil {
		t.Fatalf("ack: %v", err)
	}
	if gotMethod != http.MethodPost {
		t.Errorf("method = %s, want POST", gotMethod)
	}
	if gotPath != "/accounts/acct-1/ack/m1" {
		t.Errorf("path = %s", gotPath)
	}
}

// TestClient_AckError verifies failed acks are reported.
func TestClient_AckError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
	}))
	defer server.Close()

	c := NewClient(server.Client(), server.URL)
	if err := c.Ack(context.Background(), "acct-1", "m1"); err == nil {
		t.Fatal("expected error for HTTP 409")
	}
}
