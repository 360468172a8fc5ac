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

// VerificationStatus tracks post-upload confirmation of a stored object.
type VerificationStatus string

const (
	VerificationPending  VerificationStatus = "pending"
	VerificationVerified VerificationStatus = "verified"
	VerificationFailed   VerificationStatus = "failed"
	VerificationNotFound VerificationStatus = "not_found"
)

// Document is one successfully uploaded attachment. VerificationStatus is
// mutated only by the upload verifier.
//
// Invariant: verified documents carry a non-empty StoragePath that the
// storage adapter independently confirmed; failed/not_found documents carry
// a non-empty UploadError.
type Document struct {
	ID                 string             `json:"id"`
	RequestID          string             `json:"request_id,omitempty"`
	RuleID             string             `json:"rule_id,omitempty"`
	Provider           string             `json:"provider"`
	StoragePath        string             `json:"storage_path"`
	Filename           string             `json:"filename"`
	VerificationStatus VerificationStatus `json:"verification_status"`
	UploadError        string             `json:"upload_error,omitempty"`
	VerifiedAt         *time.Time         `json:"verified_at,omitempty"`
	CreatedAt          time.Time          `json:"created_at"`
}
