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

package reminders

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/paperchase/collector/internal/models"
	"github.com/paperchase/collector/internal/notify"
)

type mockRequestSource struct {
	due []models.DocumentRequest
}

func (m *mockRequestSource) ListDueForReminder(_ context.Context, _ time.Time, _ time.Duration) ([]models.DocumentRequest, error) {
	return m.due, nil
}

type mockPublisher struct {
	mu       sync.Mutex
	kinds    []string
	payloads []map[string]string
}

func (m *mockPublisher) Publish(_ context.Context, kind string, payload map[string]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.kinds = append(m.kinds, kind)
	m.payloads = append(m.payloads, payload)
	return nil
}

type mockDeduper struct {
	mu   sync.Mutex
	seen map[string]bool
}

func (m *mockDeduper) IsNewFor(_ context.Context, key string, _ time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.seen == nil {
		m.seen = make(map[string]bool)
	}
	if m.seen[key] {
		return false, nil
	}
	m.seen[key] = true
	return true, nil
}

// TestSender_EnqueuesReminders verifies one reminder task per due request.
func TestSender_EnqueuesReminders(t *testing.T) {
	due := time.Date(2026, time.March, 10, 0, 0, 0, 0, time.UTC)
	source := &mockRequestSource{due: []models.DocumentRequest{
		{ID: "req-1", RecipientEmail: "a@b.com", Subject: "W2", Status: models.RequestSent, DueDate: &due},
		{ID: "req-2", RecipientEmail: "c@d.com", Subject: "Invoice", Status: models.RequestMissingFiles},
	}}
	pub := &mockPublisher{}
	s := NewSender(source, pub, &mockDeduper{}, 72*time.Hour)

	if err := s.RunTick(context.Background()); err != nil {
		t.Fatalf("tick: %v", err)
	}

	if len(pub.kinds) != 2 {
		t.Fatalf("published = %d, want 2", len(pub.kinds))
	}
	for _, kind := range pub.kinds {
		if kind != notify.KindReminder {
			t.Errorf("kind = %q, want %q", kind, notify.KindReminder)
		}
	}
	if pub.payloads[0]["request_id"] != "req-1" || pub.payloads[0]["due_date"] == "" {
		t.Errorf("payload = %v", pub.payloads[0])
	}
	if _, ok := pub.payloads[1]["due_date"]; ok {
		t.Errorf("payload without due date carries one: %v", pub.payloads[1])
	}
}

// TestSender_OncePerDay verifies the dedup key suppresses a second reminder
// for the same request on the same day.
func TestSender_OncePerDay(t *testing.T) {
	source := &mockRequestSource{due: []models.DocumentRequest{
		{ID: "req-1", RecipientEmail: "a@b.com", Status: models.RequestSent},
	}}
	pub := &mockPublisher{}
	s := NewSender(source, pub, &mockDeduper{}, 72*time.Hour)

	if err := s.RunTick(context.Background()); err != nil {
		t.Fatalf("first tick: %v", err)
	}
	if err := s.RunTick(context.Background()); err != nil {
		t.Fatalf("second tick: %v", err)
	}

	if len(pub.kinds) != 1 {
		t.Errorf("published = %d, want 1 (same-day duplicate suppressed)", len(pub.kinds))
	}
}
