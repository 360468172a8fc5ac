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

// RuleConditions are the optional predicates of a routing rule. A rule with
// no conditions at all is a catch-all and matches every email.
type RuleConditions struct {
	SenderPattern  string   `json:"sender_pattern,omitempty"`
	SubjectPattern string   `json:"subject_pattern,omitempty"`
	FileTypes      []string `json:"file_types,omitempty"`
}

// IsCatchAll reports whether no condition is configured.
func (c RuleConditions) IsCatchAll() bool {
	return c.SenderPattern == "" && c.SubjectPattern == "" && len(c.FileTypes) == 0
}

// RuleActions describe where matched attachments go.
type RuleActions struct {
	DestinationID string            `json:"destination_id"`
	PathTemplate  string            `json:"path_template"`
	Metadata      map[string]string `json:"metadata,omitempty"`
}

// RoutingRule is an organization-configured predicate + destination pair.
// Higher Priority rules win score ties.
type RoutingRule struct {
	ID         string         `json:"id"`
	Name       string         `json:"name"`
	Priority   int            `json:"priority"`
	IsActive   bool           `json:"is_active"`
	Conditions RuleConditions `json:"conditions"`
	Actions    RuleActions    `json:"actions"`
}

// MatchResult is the outcome of scoring one email against the rule set.
// Transient per evaluation, never persisted.
type MatchResult struct {
	Rule  RoutingRule
	Score int
}
