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

// Paperchase Collector — document ingestion service
//
// Entry point for the collector. It:
//  1. Loads configuration from config.yaml and the environment
//  2. Connects to PostgreSQL and Redis
//  3. Builds one storage adapter per configured destination
//  4. Starts the job scheduler (ingest, refresh-tokens, send-reminders,
//     expire-requests) with persisted per-job locks
//  5. Serves health checks and authenticated manual job triggers
//  6. Handles graceful shutdown on SIGTERM/SIGINT
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/paperchase/collector/internal/config"
	"github.com/paperchase/collector/internal/dedup"
	"github.com/paperchase/collector/internal/document"
	"github.com/paperchase/collector/internal/ingest"
	"github.com/paperchase/collector/internal/mailsource"
	"github.com/paperchase/collector/internal/models"
	"github.com/paperchase/collector/internal/notify"
	"github.com/paperchase/collector/internal/reminders"
	"github.com/paperchase/collector/internal/request"
	"github.com/paperchase/collector/internal/rules"
	"github.com/paperchase/collector/internal/scheduler"
	"github.com/paperchase/collector/internal/storage"
	"github.com/paperchase/collector/internal/tokens"
	"github.com/paperchase/collector/internal/trigger"
	"github.com/paperchase/collector/internal/verify"
)

func main() {
	// .env is optional; real deployments set the environment directly.
	_ = godotenv.Load()

	// Structured JSON logging
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	slog.Info("starting paperchase collector")

	// --- Load Configuration ---
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	slog.Info("configuration loaded",
		"destinations", len(cfg.Destinations),
		"accounts", len(cfg.Accounts),
		"ingest_interval", cfg.IngestInterval,
	)

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
	slog.Info("connected to PostgreSQL")

	// --- Connect to Redis ---
	opt, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		slog.Error("invalid REDIS_URL", "error", err)
		os.Exit(1)
	}
	rdb := redis.NewClient(opt)

	notifier := notify.NewNotifier(rdb, cfg.NotifyQueue)
	if err := notifier.Ping(ctx); err != nil {
		slog.Error("failed to connect to Redis", "error", err)
		os.Exit(1)
	}
	slog.Info("connected to Redis")

	// --- Stores (Postgres) ---
	ruleStore, err := rules.NewStore(ctx, pgPool)
	if err != nil {
		slog.Error("failed to initialise rule store", "error", err)
		os.Exit(1)
	}
	requestStore, err := request.NewStore(ctx, pgPool)
	if err != nil {
		slog.Error("failed to initialise request store", "error", err)
		os.Exit(1)
	}
	documentStore, err := document.NewStore(ctx, pgPool)
	if err != nil {
		slog.Error("failed to initialise document store", "error", err)
		os.Exit(1)
	}
	failureStore, err := ingest.NewFailureStore(ctx, pgPool)
	if err != nil {
		slog.Error("failed to initialise failure store", "error", err)
		os.Exit(1)
	}
	history, err := scheduler.NewHistoryStore(ctx, pgPool)
	if err != nil {
		slog.Error("failed to initialise job history store", "error", err)
		os.Exit(1)
	}

	// --- Storage adapters per destination ---
	registry := storage.NewRegistry()
	ccConfigs := make(map[string]*clientcredentials.Config)
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
			ccConfigs[dest.ID] = creds
			adapter = storage.NewHTTPDrive(creds.Client(ctx), dest.Provider, dest.BaseURL, dest.RootPath)
		}

		registry.Register(dest.ID, adapter, dest.IsDefault)
		slog.Info("storage destination registered",
			"destination", dest.ID,
			"provider", dest.Provider,
			"default", dest.IsDefault,
		)
	}

	// --- Shared infrastructure ---
	locker := scheduler.NewRedisLocker(rdb, cfg.StaleLockTimeout)
	messageFilter := dedup.NewFilter(rdb, "collector:seen:")
	reminderFilter := dedup.NewFilter(rdb, "collector:reminded:")
	verifier := verify.NewVerifier(registry, documentStore)

	parserClient := mailsource.NewClient(&http.Client{Timeout: 60 * time.Second}, cfg.ParserBaseURL)

	// --- Ingestion Orchestrator ---
	orchestrator := ingest.NewOrchestrator(ingest.OrchestratorConfig{
		Source:      parserClient,
		Matcher:     rules.NewMatcher(),
		RuleSource:  ruleStore,
		Registry:    registry,
		Requests:    requestStore,
		Documents:   documentStore,
		Verifier:    verifier,
		Dedupe:      messageFilter,
		Failures:    failureStore,
		Notifier:    notifier,
		Locker:      locker,
		Accounts:    cfg.Accounts,
		MaxAttempts: cfg.MaxIngestAttempts,
	})

	refresher := tokens.NewRefresher(ccConfigs, locker, notifier)
	reminderSender := reminders.NewSender(requestStore, notifier, reminderFilter, cfg.ReminderWindow)

	// --- Job Scheduler ---
	sched := scheduler.New(locker, history)
	sched.Register(scheduler.Job{
		Name:     "ingest",
		Interval: cfg.IngestInterval,
		Budget:   cfg.JobRunBudget,
		Run:      orchestrator.RunTick,
	})
	sched.Register(scheduler.Job{
		Name:     "refresh-tokens",
		Interval: cfg.RefreshInterval,
		Budget:   cfg.JobRunBudget,
		Run:      refresher.RunTick,
	})
	sched.Register(scheduler.Job{
		Name:     "send-reminders",
		Interval: cfg.ReminderInterval,
		Budget:   cfg.JobRunBudget,
		Run:      reminderSender.RunTick,
	})
	sched.Register(scheduler.Job{
		Name:     "expire-requests",
		Interval: cfg.ExpireInterval,
		Budget:   cfg.JobRunBudget,
		Run: func(ctx context.Context) error {
			ids, err := requestStore.SweepExpired(ctx, time.Now().UTC())
			if err != nil {
				return fmt.Errorf("expire sweep: %w", err)
			}
			if len(ids) > 0 {
				slog.Info("requests expired", "count", len(ids))
			}
			return nil
		},
	})

	sched.Start(ctx)

	// --- Health Check + Manual Trigger Server ---
	triggerHandler := trigger.NewHandler(sched, cfg.TriggerToken)

	destinations := make([]models.StorageDestination, 0, len(cfg.Destinations))
	for _, dest := range cfg.Destinations {
		destinations = append(destinations, models.StorageDestination{
			ID:        dest.ID,
			Provider:  dest.Provider,
			RootPath:  dest.RootPath,
			BaseURL:   dest.BaseURL,
			IsDefault: dest.IsDefault,
			IsActive:  dest.IsActive,
		})
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/jobs/", triggerHandler.ServeJob)
	mux.HandleFunc("/destinations", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(destinations)
	})
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		// Check Redis
		if err := notifier.Ping(r.Context()); err != nil {
			http.Error(w, "redis unhealthy", http.StatusServiceUnavailable)
			return
		}
		// Check Postgres
		if err := pgPool.Ping(r.Context()); err != nil {
			http.Error(w, "postgres unhealthy", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status": "healthy"}`))
	})

	addr := fmt.Sprintf(":%d", cfg.Port)
	server := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	// --- Graceful Shutdown ---
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
		sig := <-sigCh

		slog.Info("received shutdown signal", "signal", sig)
		cancel() // Stop all background goroutines

		sched.Stop()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer shutdownCancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("server shutdown error", "error", err)
		}

		rdb.Close()
		pgPool.Close()
	}()

	slog.Info("collector listening", "addr", addr)
	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}

	slog.Info("collector stopped")
}
