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

// Package config loads configuration from config.yaml and environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DestinationConfig holds one storage destination, including the OAuth
// client-credentials used by the HTTP providers. The "internal" provider
// needs only RootPath.
type DestinationConfig struct {
	ID           string `yaml:"id"`
	Provider     string `yaml:"provider"` // "drive-a", "drive-b", "blob", "internal"
	BaseURL      string `yaml:"base_url"`
	RootPath     string `yaml:"root_path"`
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
	TokenURL     string `yaml:"token_url"`
	IsDefault    bool   `yaml:"is_default"`
	IsActive     bool   `yaml:"is_active"`
}

// AccountConfig holds one monitored mailbox. EmployeeEmail/EmployeeName are
// set when the mailbox belongs to a known employee.
type AccountConfig struct {
	ID            string `yaml:"id"`
	EmployeeEmail string `yaml:"employee_email"`
	EmployeeName  string `yaml:"employee_name"`
}

// Config holds all configuration for the collector service.
type Config struct {
	Destinations []DestinationConfig
	Accounts     []AccountConfig

	// External parser service
	ParserBaseURL string

	// Postgres / Redis
	DatabaseURL string
	RedisURL    string
	NotifyQueue string

	// Job cadences
	IngestInterval   time.Duration
	RefreshInterval  time.Duration
	ReminderInterval time.Duration
	ExpireInterval   time.Duration

	// Job execution
	JobRunBudget      time.Duration
	StaleLockTimeout  time.Duration
	MaxIngestAttempts int

	// Reminders fire for requests due within this window.
	ReminderWindow time.Duration

	// Server (health check + manual job triggers)
	Port         int
	TriggerToken string
}

// rawConfig mirrors the YAML structure for unmarshalling.
type rawConfig struct {
	Destinations []DestinationConfig `yaml:"destinations"`
	Accounts     []AccountConfig     `yaml:"accounts"`
	Parser       struct {
		BaseURL string `yaml:"base_url"`
	} `yaml:"parser"`
	Redis struct {
		URL    string `yaml:"url"`
		Queues struct {
			Notify string `yaml:"notify"`
		} `yaml:"queues"`
	} `yaml:"redis"`
}

// Load reads configuration from config.yaml (with env var expansion) and
// environment variables for non-YAML settings.
func Load() (*Config, error) {
	configPath := envOrDefault("CONFIG_PATH", "/app/config/config.yaml")

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("read config file %s: %w", configPath, err)
	}

	// Expand ${VAR} references in the YAML
	expanded := os.ExpandEnv(string(data))

	var raw rawConfig
	if err := yaml.Unmarshal([]byte(expanded), &raw); err != nil {
		return nil, fmt.Errorf("parse config YAML: %w", err)
	}

	cfg := &Config{
		Accounts:          raw.Accounts,
		ParserBaseURL:     firstNonEmpty(raw.Parser.BaseURL, envOrDefault("PARSER_URL", "http://parser:8090")),
		DatabaseURL:       envOrDefault("DATABASE_URL", "postgres://localhost:5432/collector"),
		RedisURL:          firstNonEmpty(raw.Redis.URL, envOrDefault("REDIS_URL", "redis://localhost:6379/0")),
		NotifyQueue:       firstNonEmpty(raw.Redis.Queues.Notify, envOrDefault("NOTIFY_QUEUE", "notifications")),
		IngestInterval:    envOrDefaultDuration("INGEST_INTERVAL", 3*time.Minute),
		RefreshInterval:   envOrDefaultDuration("REFRESH_INTERVAL", time.Hour),
		ReminderInterval:  envOrDefaultDuration("REMINDER_INTERVAL", 24*time.Hour),
		ExpireInterval:    envOrDefaultDuration("EXPIRE_INTERVAL", 24*time.Hour),
		JobRunBudget:      envOrDefaultDuration("JOB_RUN_BUDGET", 10*time.Minute),
		StaleLockTimeout:  envOrDefaultDuration("STALE_LOCK_TIMEOUT", 15*time.Minute),
		MaxIngestAttempts: envOrDefaultInt("MAX_INGEST_ATTEMPTS", 5),
		ReminderWindow:    envOrDefaultDuration("REMINDER_WINDOW", 72*time.Hour),
		Port:              envOrDefaultInt("PORT", 8080),
		TriggerToken:      envOrDefault("TRIGGER_TOKEN", ""),
	}

	// Build destination configs
	for _, d := range raw.Destinations {
		if d.ID == "" || d.Provider == "" {
			// Skip destinations with empty identity (commented out in YAML)
			continue
		}

		if d.Provider != "internal" {
			// HTTP providers need credentials and an endpoint
			if d.BaseURL == "" || d.ClientID == "" || d.ClientSecret == "" || d.TokenURL == "" {
				return nil, fmt.Errorf("destination %s (%s) is missing base_url or credentials", d.ID, d.Provider)
			}
		}

		cfg.Destinations = append(cfg.Destinations, d)
	}

	if len(cfg.Destinations) == 0 {
		return nil, fmt.Errorf("no storage destinations configured, check config.yaml and environment variables")
	}

	if defaultCount := countDefaults(cfg.Destinations); defaultCount != 1 {
		return nil, fmt.Errorf("exactly one destination must have is_default: true, found %d", defaultCount)
	}

	if len(cfg.Accounts) == 0 {
		return nil, fmt.Errorf("no mail accounts configured")
	}

	return cfg, nil
}

func countDefaults(dests []DestinationConfig) int {
	n := 0
	for _, d := range dests {
		if d.IsDefault {
			n++
		}
	}
	return n
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envOrDefaultInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envOrDefaultDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
