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

// Package reminders nudges recipients whose document requests approach
// their due date. Delivery happens in the external worker; this job only
// decides who to remind and enqueues the tasks.
package reminders

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/paperchase/collector/internal/models"
	"github.com/paperchase/collector/internal/notify"
)

// RequestSource lists requests nearing their due date. Implemented by
// request.Store.
type RequestSource interface {
	ListDueForReminder(ctx context.Context, now time.Time, window time.Duration) ([]models.DocumentRequest, error)
}

// Publisher enqueues reminder tasks. Implemented by notify.Notifier.
type Publisher interface {
	Publish(ctx context.Context, kind string, payload map[string]string) error
}

// Deduper limits reminders to one per request per day. Implemented by
// dedup.Filter.
type Deduper interface {
	IsNewFor(ctx context.Context, key string, ttl time.Duration) (bool, error)
}

// Sender runs the send-reminders job.
type Sender struct {
	requests RequestSource
	notifier Publisher
	dedupe   Deduper
	window   time.Duration
}

// NewSender creates a reminder sender. window is how far ahead of the due
// date reminders start.
func NewSender(requests RequestSource, notifier Publisher, dedupe Deduper, window time.Duration) *Sender {
	return &Sender{
		requests: requests,
		notifier: notifier,
		dedupe:   dedupe,
		window:   window,
	}
}

// RunTick enqueues one reminder per due request, at most once per day.
func (s *Sender) RunTick(ctx context.Context) error {
	now := time.Now().UTC()

	due, err := s.requests.ListDueForReminder(ctx, now, s.window)
	if err != nil {
		return fmt.Errorf("list requests due for reminder: %w", err)
	}

	sent := 0
	var firstErr error
	for _, req := range due {
		key := fmt.Sprintf("reminder:%s:%s", req.ID, now.Format("2006-01-02"))
		isNew, err := s.dedupe.IsNewFor(ctx, key, 24*time.Hour)
		if err != nil {
			slog.Warn("reminder dedup check failed, skipping", "request", req.ID, "error", err)
			continue
		}
		if !isNew {
			continue
		}

		payload := map[string]string{
			"request_id": req.ID,
			"recipient":  req.RecipientEmail,
			"subject":    req.Subject,
			"status":     string(req.Status),
		}
		if req.DueDate != nil {
			payload["due_date"] = req.DueDate.UTC().Format(time.RFC3339)
		}

		if err := s.notifier.Publish(ctx, notify.KindReminder, payload); err != nil {
			slog.Error("failed to enqueue reminder", "request", req.ID, "error", err)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		sent++
	}

	slog.Info("reminder sweep complete", "due", len(due), "enqueued", sent)

	if firstErr != nil {
		return fmt.Errorf("reminder sweep: %w", firstErr)
	}
	return nil
}
