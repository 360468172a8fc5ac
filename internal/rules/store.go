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

package rules

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/paperchase/collector/internal/models"
)

// Store provides CRUD operations for routing rules in Postgres.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a routing rule store backed by the given Postgres pool.
// It ensures the routing_rules table exists on creation.
func NewStore(ctx context.Context, pool *pgxpool.Pool) (*Store, error) {
	s := &Store{pool: pool}
	if err := s.ensureSchema(ctx); err != nil {
		return nil, fmt.Errorf("ensure routing rule schema: %w", err)
	}
	slog.Info("routing rule store initialised")
	return s, nil
}

func (s *Store) ensureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS routing_rules (
			id         TEXT PRIMARY KEY,
			name       TEXT NOT NULL,
			priority   INT NOT NULL DEFAULT 0,
			is_active  BOOLEAN NOT NULL DEFAULT TRUE,
			conditions JSONB NOT NULL DEFAULT '{}',
			actions    JSONB NOT NULL DEFAULT '{}',
			created_at TIMESTAMPTZ DEFAULT NOW(),
			updated_at TIMESTAMPTZ DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_rules_active ON routing_rules(is_active);
	`)
	return err
}

// ValidateRule checks a rule's patterns at save time so an author learns
// about a bad regex immediately instead of the rule silently never matching.
func ValidateRule(rule models.RoutingRule) error {
	if p := rule.Conditions.SenderPattern; p != "" {
		if _, err := regexp.Compile("(?i)" + p); err != nil {
			return fmt.Errorf("invalid sender pattern %q: %w", p, err)
		}
	}
	if p := rule.Conditions.SubjectPattern; p != "" {
		if _, err := regexp.Compile("(?i)" + p); err != nil {
			return fmt.Errorf("invalid subject pattern %q: %w", p, err)
		}
	}
	if rule.Actions.DestinationID == "" {
		return fmt.Errorf("rule %q has no destination", rule.Name)
	}
	return nil
}

// Upsert validates and inserts or updates a rule keyed on id.
func (s *Store) Upsert(ctx context.Context, rule models.RoutingRule) error {
	if err := ValidateRule(rule); err != nil {
		return err
	}

	conditions, err := json.Marshal(rule.Conditions)
	if err != nil {
		return fmt.Errorf("marshal rule conditions: %w", err)
	}
	actions, err := json.Marshal(rule.Actions)
	if err != nil {
		return fmt.Errorf("marshal rule actions: %w", err)
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO routing_rules (id, name, priority, is_active, conditions, actions)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			name       = EXCLUDED.name,
			priority   = EXCLUDED.priority,
			is_active  = EXCLUDED.is_active,
			conditions = EXCLUDED.conditions,
			actions    = EXCLUDED.actions,
			updated_at = NOW()
	`, rule.ID, rule.Name, rule.Priority, rule.IsActive, conditions, actions)
	return err
}

// ListActive returns all active rules. The matcher receives this snapshot
// per invocation.
func (s *Store) ListActive(ctx context.Context) ([]models.RoutingRule, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, name, priority, is_active, conditions, actions
		FROM routing_rules
		WHERE is_active = TRUE
		ORDER BY priority DESC, name
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectRules(rows)
}

// Get retrieves a single rule by id, or nil if it does not exist.
func (s *Store) Get(ctx context.Context, id string) (*models.RoutingRule, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, name, priority, is_active, conditions, actions
		FROM routing_rules
		WHERE id = $1
	`, id)

	rule, err := scanRule(row)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return rule, nil
}

// Delete removes a rule.
func (s *Store) Delete(ctx context.Context, id string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM routing_rules WHERE id = $1`, id)
	return err
}

func scanRule(row pgx.Row) (*models.RoutingRule, error) {
	var (
		r          models.RoutingRule
		conditions []byte
		actions    []byte
	)
	if err := row.Scan(&r.ID, &r.Name, &r.Priority, &r.IsActive, &conditions, &actions); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(conditions, &r.Conditions); err != nil {
		return nil, fmt.Errorf("unmarshal rule conditions: %w", err)
	}
	if err := json.Unmarshal(actions, &r.Actions); err != nil {
		return nil, fmt.Errorf("unmarshal rule actions: %w", err)
	}
	return &r, nil
}

func collectRules(rows pgx.Rows) ([]models.RoutingRule, error) {
	var out []models.RoutingRule
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *rule)
	}
	return out, rows.Err()
}
