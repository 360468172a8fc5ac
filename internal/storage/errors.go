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

package storage

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

// Class is the fixed failure taxonomy. Retry decisions are driven by the
// class, never by raw provider error text.
type Class string

const (
	ClassAuth       Class = "auth"       // expired or invalid credentials
	ClassPermission Class = "permission" // insufficient destination access
	ClassPath       Class = "path"       // destination folder missing or invalid
	ClassNetwork    Class = "network"    // timeout / connectivity
	ClassRateLimit  Class = "rate_limit" // provider throttling
	ClassValidation Class = "validation" // malformed rule pattern or template
)

// Retryable reports whether failures of this class may be retried with
// backoff. Permission, path and validation failures need operator
// correction and are surfaced immediately instead.
func (c Class) Retryable() bool {
	switch c {
	case ClassAuth, ClassNetwork, ClassRateLimit:
		return true
	}
	return false
}

// Error is a classified storage failure. Message retains the provider's
// error text verbatim for operator display.
type Error struct {
	Class   Class
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Class, e.Message)
}

// NewError builds a classified error.
func NewError(class Class, format string, args ...any) *Error {
	return &Error{Class: class, Message: fmt.Sprintf(format, args...)}
}

// ClassOf extracts the class from an error, defaulting to network for
// unclassified failures so they stay retryable.
func ClassOf(err error) Class {
	var se *Error
	if errors.As(err, &se) {
		return se.Class
	}
	return ClassNetwork
}

// classifyStatus maps an HTTP response status to a failure class.
func classifyStatus(status int, body string) *Error {
	switch {
	case status == http.StatusUnauthorized:
		return NewError(ClassAuth, "HTTP 401: %s", body)
	case status == http.StatusForbidden:
		return NewError(ClassPermission, "HTTP 403: %s", body)
	case status == http.StatusNotFound:
		return NewError(ClassPath, "HTTP 404: %s", body)
	case status == http.StatusTooManyRequests:
		return NewError(ClassRateLimit, "HTTP 429: %s", body)
	case status == http.StatusBadRequest || status == http.StatusUnprocessableEntity:
		return NewError(ClassValidation, "HTTP %d: %s", status, body)
	default:
		return NewError(ClassNetwork, "HTTP %d: %s", status, body)
	}
}

// classifyTransport maps a transport-level error to a failure class.
func classifyTransport(err error) *Error {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return NewError(ClassNetwork, "timeout: %v", err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return NewError(ClassNetwork, "deadline exceeded: %v", err)
	}
	return NewError(ClassNetwork, "%v", err)
}
