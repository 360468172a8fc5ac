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

package models

import "time"

// RequestStatus is the lifecycle state of a document request.
type RequestStatus string

const (
	RequestPending      RequestStatus = "pending"
	RequestSent         RequestStatus = "sent"
	RequestReceived     RequestStatus = "received"
	RequestMissingFiles RequestStatus = "missing_files"
	RequestCompleted    RequestStatus = "completed"
	RequestExpired      RequestStatus = "expired"
)

// IsTerminal reports whether no further automatic transition may occur.
func (s RequestStatus) IsTerminal() bool {
	return s == RequestCompleted || s == RequestExpired
}

// Known reports whether s is one of the defined statuses.
func (s RequestStatus) Known() bool {
	switch s {
	case RequestPending, RequestSent, RequestReceived,
		RequestMissingFiles, RequestCompleted, RequestExpired:
		return true
	}
	return false
}

// DocumentRequest is a tracked solicitation for documents from a specific
// recipient. Its Status is mutated only through the state machine.
type DocumentRequest struct {
	ID                    string        `json:"id"`
	RecipientEmail        string        `json:"recipient_email"`
	Subject               string        `json:"subject"`
	Status                RequestStatus `json:"status"`
	DueDate               *time.Time    `json:"due_date,omitempty"`
	DocumentCount         int           `json:"document_count"`
	ExpectedDocumentCount *int          `json:"expected_document_count,omitempty"`
	RequiredDocumentTypes []string      `json:"required_document_types,omitempty"`
	LastStatusChange      time.Time     `json:"last_status_change"`
	StatusChangedBy       string        `json:"status_changed_by"`
}
