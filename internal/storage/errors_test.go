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
	"testing"
)

// TestClassifyStatus verifies the HTTP status to class mapping.
func TestClassifyStatus(t *testing.T) {
	cases := []struct {
		status int
		want   Class
	}{
		{401, ClassAuth},
		{403, ClassPermission},
		{404, ClassPath},
		{429, ClassRateLimit},
		{400, ClassValidation},
		{422, ClassValidation},
		{500, ClassNetwork},
		{502, ClassNetwork},
	}
	for _, c := range cases {
		got := classifyStatus(c.status, "body")
		if got.Class != c.want {
			t.Errorf("classifyStatus(%d) = %s, want %s", c.status, got.Class, c.want)
		}
	}
}

// TestClass_Retryable verifies only auth, network and rate_limit retry.
func TestClass_Retryable(t *testing.T) {
	retryable := map[Class]bool{
		ClassAuth:       true,
		ClassNetwork:    true,
		ClassRateLimit:  true,
		ClassPermission: false,
		ClassPath:       false,
		ClassValidation: false,
	}
	for class, want := range retryable {
		if got := class.Retryable(); got != want {
			t.Errorf("%s.Retryable() = %v, want %v", class, got, want)
		}
	}
}

// TestClassOf verifies class extraction and the retryable default.
func TestClassOf(t *testing.T) {
	if got := ClassOf(NewError(ClassAuth, "expired")); got != ClassAuth {
		t.Errorf("ClassOf(auth error) = %s", got)
	}

	wrapped := fmt.Errorf("upload scan.pdf: %w", NewError(ClassPermission, "denied"))
	if got := ClassOf(wrapped); got != ClassPermission {
		t.Errorf("ClassOf(wrapped) = %s, want permission", got)
	}

	if got := ClassOf(errors.New("something else")); got != ClassNetwork {
		t.Errorf("ClassOf(unclassified) = %s, want network", got)
	}
}

// TestClassifyTransport verifies deadline errors map to network.
func TestClassifyTransport(t *testing.T) {
	got := classifyTransport(context.DeadlineExceeded)
	if got.Class != ClassNetwork {
		t.Errorf("classifyTransport(deadline) = %s, want network", got.Class)
	}
}

// TestError_MessageRetained verifies provider text survives verbatim.
func TestError_MessageRetained(t *testing.T) {
	err := NewError(ClassRateLimit, "HTTP 429: %s", "slow down")
	if err.Message != "HTTP 429: slow down" {
		t.Errorf("Message = %q", err.Message)
	}
	if err.Error() != "rate_limit: HTTP 429: slow down" {
		t.Errorf("Error() = %q", err.Error())
	}
}
