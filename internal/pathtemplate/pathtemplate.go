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

// Package pathtemplate renders storage destination paths from a rule's
// path template and contextual substitution values. Rendering is pure and
// never fails: unresolved placeholders fall back to the best available
// value instead of being left literal.
package pathtemplate

import (
	"fmt"
	"strings"
	"time"
)

// Context supplies the substitution values for one render.
type Context struct {
	SenderEmail   string
	SenderName    string
	EmployeeEmail string // falls back to SenderEmail when empty
	EmployeeName  string // falls back to SenderName, then EmployeeEmail
	Now           time.Time
}

// illegalChars are stripped from rendered paths: characters that are
// invalid on common filesystems. Control characters are stripped too.
const illegalChars = `<>:"|?*`

// Render substitutes the named placeholders in template and sanitizes the
// result into a clean relative path.
//
// Placeholders: {sender_email} {sender_name} {employee_email}
// {employee_name} {date} {year} {month}.
func Render(template string, ctx Context) string {
	now := ctx.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}

	senderEmail := fallback(ctx.SenderEmail, "unknown-sender")
	senderName := fallback(ctx.SenderName, senderEmail)
	employeeEmail := fallback(ctx.EmployeeEmail, senderEmail)
	employeeName := fallback(ctx.EmployeeName, ctx.EmployeeEmail, senderName)

	replacer := strings.NewReplacer(
		"{sender_email}", senderEmail,
		"{sender_name}", senderName,
		"{employee_email}", employeeEmail,
		"{employee_name}", employeeName,
		"{date}", now.Format("2006-01-02"),
		"{year}", now.Format("2006"),
		"{month}", fmt.Sprintf("%02d", int(now.Month())),
	)

	return sanitize(replacer.Replace(template))
}

// SanitizeName cleans a single path segment (e.g. an attachment filename)
// with the same character rules as rendered paths. Separators are removed
// rather than collapsed so the segment cannot change the folder depth.
func SanitizeName(name string) string {
	cleaned := sanitize(name)
	return strings.ReplaceAll(cleaned, "/", "_")
}

func fallback(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// sanitize strips illegal characters, collapses repeated separators, and
// trims leading/trailing separators.
func sanitize(path string) string {
	var b strings.Builder
	b.Grow(len(path))

	for _, r := range path {
		if r < 0x20 || r == 0x7f {
			continue
		}
		if strings.ContainsRune(illegalChars, r) {
			continue
		}
		if r == '\\' {
			r = '/'
		}
		b.WriteRune(r)
	}

	cleaned := b.String()
	for strings.Contains(cleaned, "//") {
		cleaned = strings.ReplaceAll(cleaned, "//", "/")
	}

	return strings.Trim(cleaned, "/")
}
