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

// Package models defines the data structures shared across the collector service.
package models

import "time"

// EmailAddress represents a sender or recipient with an address and optional name.
type EmailAddress struct {
	Address string `json:"address"`
	Name    string `json:"name,omitempty"`
}

// Attachment represents a file carried by an inbound email.
type Attachment struct {
	Filename string `json:"filename"`
	Content  []byte `json:"content"`
}

// ParsedEmail is a normalized inbound message produced by the external
// parser service. It is immutable once produced and consumed exactly once
// per ingestion attempt.
type ParsedEmail struct {
	MessageID   string       `json:"message_id"`
	AccountID   string       `json:"account_id"`
	From        EmailAddress `json:"from"`
	Subject     string       `json:"subject"`
	ReceivedAt  time.Time    `json:"received_at"`
	HasBody     bool         `json:"has_body"`
	Attachments []Attachment `json:"attachments"`
}

// EmployeeContext carries the employee a mailbox belongs to, when one was
// resolved. Used to bias catch-all routing and path rendering.
type EmployeeContext struct {
	Email string
	Name  string
}

// RequestContext links an inbound email to an outstanding document request.
type RequestContext struct {
	RequestID string
}
