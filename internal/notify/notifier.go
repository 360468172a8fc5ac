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

// Package notify publishes outbound tasks to Redis for the delivery worker:
// reminder emails for requests nearing their due date and operator alerts
// for permanent pipeline failures.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Task kinds consumed by the delivery worker.
const (
	KindReminder      = "request_reminder"
	KindOperatorAlert = "operator_alert"
)

// Task is the JSON envelope pushed onto the notification queue.
type Task struct {
	ID         string            `json:"id"`
	Kind       string            `json:"kind"`
	Payload    map[string]string `json:"payload"`
	EnqueuedAt string            `json:"enqueued_at"`
}

// Notifier sends tasks to the Redis notification queue.
type Notifier struct {
	rdb       *redis.Client
	queueName string
}

// NewNotifier creates a notifier targeting the specified queue.
func NewNotifier(rdb *redis.Client, queueName string) *Notifier {
	return &Notifier{
		rdb:       rdb,
		queueName: queueName,
	}
}

// Publish serialises a task and pushes it to the queue. The delivery worker
// pops with BRPOP, so LPUSH keeps FIFO order.
func (n *Notifier) Publish(ctx context.Context, kind string, payload map[string]string) error {
	task := Task{
		ID:         uuid.New().String(),
		Kind:       kind,
		Payload:    payload,
		EnqueuedAt: time.Now().UTC().Format(time.RFC3339),
	}

	body, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("marshal notification task: %w", err)
	}

	if err := n.rdb.LPush(ctx, n.queueName, string(body)).Err(); err != nil {
		return fmt.Errorf("redis LPUSH: %w", err)
	}

	slog.Info("published notification task",
		"task_id", task.ID,
		"kind", kind,
		"queue", n.queueName,
	)

	return nil
}

// Ping checks the Redis connection.
func (n *Notifier) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return n.rdb.Ping(ctx).Err()
}
