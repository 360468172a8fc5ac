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

// Package trigger exposes the scheduler's jobs over HTTP so an operator
// can run any of them on demand. Manual runs carry the same
// at-most-one-concurrent-instance guarantee as scheduled ticks.
package trigger

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/paperchase/collector/internal/scheduler"
)

// JobRunner triggers a named job. Implemented by scheduler.Scheduler.
type JobRunner interface {
	Trigger(ctx context.Context, name string) error
}

// Handler serves authenticated manual job triggers.
type Handler struct {
	runner JobRunner
	token  string
}

// NewHandler creates a trigger handler. An empty token disables the
// endpoint entirely.
func NewHandler(runner JobRunner, token string) *Handler {
	return &Handler{runner: runner, token: token}
}

// ServeJob handles POST /jobs/{name}/run.
func (h *Handler) ServeJob(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	if !h.authorized(r) {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	// Path: /jobs/{name}/run
	parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	if len(parts) != 3 || parts[0] != "jobs" || parts[2] != "run" {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	name := parts[1]

	slog.Info("manual job trigger", "job", name, "remote", r.RemoteAddr)

	err := h.runner.Trigger(r.Context(), name)
	switch {
	case errors.Is(err, scheduler.ErrUnknownJob):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
	case errors.Is(err, scheduler.ErrAlreadyRunning):
		writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
	case err != nil:
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
	default:
		writeJSON(w, http.StatusOK, map[string]string{"job": name, "status": "completed"})
	}
}

func (h *Handler) authorized(r *http.Request) bool {
	if h.token == "" {
		return false
	}
	auth := r.Header.Get("Authorization")
	want := "Bearer " + h.token
	return subtle.ConstantTimeCompare([]byte(auth), []byte(want)) == 1
}

func writeJSON(w http.ResponseWriter, status int, body map[string]string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
