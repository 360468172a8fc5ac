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

// Package request owns the document request status lifecycle:
// pending → sent → {received, missing_files} → completed, with any
// non-terminal state able to expire once the due date passes.
package request

import (
	"fmt"
	"strings"
	"time"

	"github.com/paperchase/collector/internal/models"
)

// SystemActor is recorded as StatusChangedBy for pipeline-driven transitions.
const SystemActor = "system"

// TransitionError reports a rejected status transition. No transition is
// silently dropped: an unrecognized or illegal target raises this error
// instead of mutating state.
type TransitionError struct {
	From   models.RequestStatus
	To     models.RequestStatus
	Reason string
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("cannot transition request from %s to %s: %s", e.From, e.To, e.Reason)
}

// allowedTargets is the transition matrix for non-terminal states.
var allowedTargets = map[models.RequestStatus][]models.RequestStatus{
	models.RequestPending:      {models.RequestSent, models.RequestCompleted, models.RequestExpired},
	models.RequestSent:         {models.RequestReceived, models.RequestMissingFiles, models.RequestCompleted, models.RequestExpired},
	models.RequestReceived:     {models.RequestMissingFiles, models.RequestCompleted, models.RequestExpired},
	models.RequestMissingFiles: {models.RequestReceived, models.RequestCompleted, models.RequestExpired},
}

// Transition applies a status change to the request, stamping the audit
// fields. It returns a *TransitionError when the target is unknown, the
// current state is terminal, or the edge is not in the matrix.
func Transition(req *models.DocumentRequest, target models.RequestStatus, by string, now time.Time) error {
	if !target.Known() {
		return &TransitionError{From: req.Status, To: target, Reason: "unknown target status"}
	}
	if req.Status.IsTerminal() {
		return &TransitionError{From: req.Status, To: target, Reason: "current status is terminal"}
	}
	if req.Status == target {
		// Re-applying the current status is a no-op, not an error.
		return nil
	}

	for _, allowed := range allowedTargets[req.Status] {
		if target == allowed {
			req.Status = target
			req.LastStatusChange = now
			req.StatusChangedBy = by
			return nil
		}
	}

	return &TransitionError{From: req.Status, To: target, Reason: "edge not allowed"}
}

// Evaluate decides the status a request should hold given its accumulated
// evidence:
//
//   - completed when an expected count is configured, met, and every
//     required document type has at least one matching document
//   - missing_files when attachments arrived but the count requirement
//     is unmet
//   - received otherwise (a text-only reply still counts as received)
//
// Without an expected count, completion only happens by explicit operator
// action, never automatically.
func Evaluate(docCount int, expected *int, requiredTypes, presentTypes []string) models.RequestStatus {
	if expected != nil && docCount >= *expected && typesSatisfied(requiredTypes, presentTypes) {
		return models.RequestCompleted
	}
	if expected != nil && docCount > 0 && docCount < *expected {
		return models.RequestMissingFiles
	}
	return models.RequestReceived
}

// AdvanceOnEmail moves a request forward when a correlated inbound email
// arrives. req.DocumentCount must already include any documents from this
// email. A reply to a request that was never sent is rejected by the
// transition matrix and surfaces as a *TransitionError.
func AdvanceOnEmail(req *models.DocumentRequest, presentTypes []string, now time.Time) error {
	target := Evaluate(req.DocumentCount, req.ExpectedDocumentCount, req.RequiredDocumentTypes, presentTypes)
	return Transition(req, target, SystemActor, now)
}

// Expire marks a request expired when its due date has passed. Terminal
// requests are left untouched.
func Expire(req *models.DocumentRequest, now time.Time) error {
	if req.Status.IsTerminal() {
		return nil
	}
	if req.DueDate == nil || !req.DueDate.Before(now) {
		return nil
	}
	return Transition(req, models.RequestExpired, SystemActor, now)
}

func typesSatisfied(required, present []string) bool {
	for _, want := range required {
		found := false
		for _, have := range present {
			if strings.EqualFold(strings.TrimPrefix(want, "."), strings.TrimPrefix(have, ".")) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}
