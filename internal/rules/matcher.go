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

// Package rules scores inbound emails against the organization's routing
// rules and selects the destination for their attachments.
package rules

import (
	"log/slog"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/paperchase/collector/internal/models"
)

// Scoring weights. Catch-all rules score 0 unless the employee bonus applies.
const (
	senderScore        = 10
	subjectScore       = 10
	fileTypeScore      = 5
	employeeBonusScore = 15
)

// replyPrefix matches leading reply/forward markers: "re:", "fwd:", "fw:"
// in any combination, plus bracketed tags like "[External]".
var replyPrefix = regexp.MustCompile(`(?i)^(\s*(re|fwd?|fw)\s*:\s*|\s*\[[^\]]*\]\s*)+`)

// employeePlaceholder matches destination templates that route per employee.
var employeePlaceholder = regexp.MustCompile(`\{employee_(email|name)\}`)

// NormalizeSubject strips reply/forward prefixes and bracketed tags from a
// subject line.
func NormalizeSubject(subject string) string {
	return strings.TrimSpace(replyPrefix.ReplaceAllString(subject, ""))
}

// Matcher evaluates routing rules against parsed emails. It holds no state;
// the rule set is passed per invocation so each tick sees a consistent
// snapshot.
type Matcher struct{}

// NewMatcher creates a rule matcher.
func NewMatcher() *Matcher {
	return &Matcher{}
}

// Match scores every active rule against the email and returns the winner,
// or nil when no rule is viable. Ties on score are broken by higher
// Priority. An invalid regex disqualifies only its own rule.
func (m *Matcher) Match(
	email models.ParsedEmail,
	ruleSet []models.RoutingRule,
	emp *models.EmployeeContext,
	reqCtx *models.RequestContext,
) *models.MatchResult {
	normalizedSubject := NormalizeSubject(email.Subject)

	var best *models.MatchResult
	for _, rule := range ruleSet {
		if !rule.IsActive {
			continue
		}

		score, viable := m.scoreRule(rule, email, normalizedSubject)
		if !viable {
			continue
		}

		if rule.Conditions.IsCatchAll() && (emp != nil || reqCtx != nil) && routesToEmployee(rule.Actions.PathTemplate) {
			score += employeeBonusScore
		}

		// Viable means score > 0 or a catch-all at score 0.
		if score == 0 && !rule.Conditions.IsCatchAll() {
			continue
		}

		if best == nil || score > best.Score ||
			(score == best.Score && rule.Priority > best.Rule.Priority) {
			best = &models.MatchResult{Rule: rule, Score: score}
		}
	}

	return best
}

// scoreRule evaluates the three predicates with AND semantics: every
// present condition must match, absent conditions are vacuously true.
func (m *Matcher) scoreRule(rule models.RoutingRule, email models.ParsedEmail, normalizedSubject string) (int, bool) {
	score := 0

	if p := rule.Conditions.SenderPattern; p != "" {
		re, err := compileInsensitive(p)
		if err != nil {
			slog.Warn("skipping rule with invalid sender pattern",
				"rule", rule.Name,
				"pattern", p,
				"error", err,
			)
			return 0, false
		}
		if !re.MatchString(email.From.Address) {
			return 0, false
		}
		score += senderScore
	}

	if p := rule.Conditions.SubjectPattern; p != "" {
		re, err := compileInsensitive(p)
		if err != nil {
			slog.Warn("skipping rule with invalid subject pattern",
				"rule", rule.Name,
				"pattern", p,
				"error", err,
			)
			return 0, false
		}
		// Either the raw or the normalized subject may satisfy the pattern.
		if !re.MatchString(email.Subject) && !re.MatchString(normalizedSubject) {
			return 0, false
		}
		score += subjectScore
	}

	if types := rule.Conditions.FileTypes; len(types) > 0 {
		if !anyAttachmentMatches(email.Attachments, types) {
			return 0, false
		}
		score += fileTypeScore
	}

	return score, true
}

// anyAttachmentMatches reports whether at least one attachment's extension
// is in the rule's file type set.
func anyAttachmentMatches(attachments []models.Attachment, types []string) bool {
	for _, att := range attachments {
		ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(att.Filename), "."))
		if ext == "" {
			continue
		}
		for _, t := range types {
			if ext == strings.ToLower(strings.TrimPrefix(t, ".")) {
				return true
			}
		}
	}
	return false
}

// routesToEmployee reports whether a path template targets a per-employee
// folder, either via an employee placeholder or a literal "employees" segment.
func routesToEmployee(template string) bool {
	return employeePlaceholder.MatchString(template) ||
		strings.Contains(strings.ToLower(template), "employees")
}

func compileInsensitive(pattern string) (*regexp.Regexp, error) {
	return regexp.Compile("(?i)" + pattern)
}
