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

// Paperchase Collector — Re-verification Command
//
// Standalone CLI tool that re-runs upload verification over documents
// whose existence check never succeeded (pending, failed or not_found).
// Intended for recovering after a storage provider outage.
//
// Usage:
//
//	go run ./cmd/reverify/ [--limit 500]
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/paperchase/collector/internal/config"
	"github.com/paperchase/collector/internal/document"
	"github.com/paperchase/collector/internal/models"
	"github.com/paperchase/collector/internal/storage"
	"github.com/paperchase/collector/internal/verify"
)

func main() {
	_ = godotenv.Load()

	// Structured JSON logging
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	// --- CLI Flags ---
	limitFlag := flag.Int("limit", 500, "Maximum number of documents to re-verify")
	flag.Parse()

	slog.Info("starting re-verification", "limit", *limitFlag)

	// --- Load Configuration ---
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// --- Connect to PostgreSQL ---
	pgPool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		slog.Error("failed to create Postgres pool", "error", err)
		os.Exit(1)
	}
	defer pgPool.Close()

	if err := pgPool.Ping(ctx); err != nil {
		slog.Error("failed to connect to PostgreSQL", "error", err)
		os.Exit(1)
	}

	documentStore, err := document.NewStore(ctx, pgPool)
	if err != nil {
		slog.Error("failed to initialise document store", "error", err)
		os.Exit(1)
	}

	// --- Storage adapters per destination ---
	registry := storage.NewRegistry()
	for _, dest := range cfg.Destinations {
		if !dest.IsActive {
			continue
		}
		var adapter storage.Adapter
		if dest.Provider == models.ProviderInternal {
			adapter = storage.NewLocal(dest.RootPath)
		} else {
			creds := &clientcredentials.Config{
				ClientID:     dest.ClientID,
				ClientSecret: dest.ClientSecret,
				TokenURL:     dest.TokenURL,
			}
			adapter = storage.NewHTTPDrive(creds.Client(ctx), dest.Provider, dest.BaseURL, dest.RootPath)
		}
		registry.Register(dest.ID, adapter, dest.IsDefault)
	}

	verifier := verify.NewVerifier(registry, documentStore)

	// --- Run Re-verification ---
	docs, err := documentStore.ListUnverified(ctx, *limitFlag)
	if err != nil {
		slog.Error("failed to list unverified documents", "error", err)
		os.Exit(1)
	}

	if len(docs) == 0 {
		slog.Info("no documents awaiting verification")
		return
	}

	verified, missing, failed := 0, 0, 0
	for i := range docs {
		doc := &docs[i]
		outcome, err := verifier.Verify(ctx, doc)
		if err != nil {
			slog.Error("failed to persist verification outcome", "document", doc.ID, "error", err)
			failed++
			continue
		}
		switch outcome.Status {
		case models.VerificationVerified:
			verified++
		case models.VerificationNotFound:
			missing++
		default:
			failed++
		}
	}

	// --- Summary ---
	slog.Info("re-verification complete",
		"checked", len(docs),
		"verified", verified,
		"missing", missing,
		"failed", failed,
	)
}
