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

// Package ingest drives the pipeline for each inbound email:
// match rule → render path → upload → record document → verify → advance
// the correlated request. Failed emails are retried on later ticks up to a
// bounded attempt count, then surfaced to an operator.
package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"path"
	"regexp"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/paperchase/collector/internal/config"
	"github.com/paperchase/collector/internal/models"
	"github.com/paperchase/collector/internal/notify"
	"github.com/paperchase/collector/internal/pathtemplate"
	"github.com/paperchase/collector/internal/request"
	"github.com/paperchase/collector/internal/rules"
	"github.com/paperchase/collector/internal/scheduler"
	"github.com/paperchase/collector/internal/storage"
	"github.com/paperchase/collector/internal/verify"
)

// destLockWait bounds how long an upload waits for a token refresh holding
// the same destination lock.
const destLockWait = 10 * time.Second

// defaultPathTemplate routes unmatched emails when the default destination
// is used.
const defaultPathTemplate = "unrouted/{year}/{month}/{sender_email}"

// requestIDToken extracts an explicit request reference carried by a reply
// thread, e.g. "[REQ:8d6f...]" in the subject.
var requestIDToken = regexp.MustCompile(`\[REQ:([A-Za-z0-9-]+)\]`)

// Source hands over parsed emails per account. Implemented by
// mailsource.Client.
type Source interface {
	FetchPending(ctx context.Context, accountID string) ([]models.ParsedEmail, error)
	Ack(ctx context.Context, accountID, messageID string) error
}

// RuleSource supplies the active rule snapshot for a tick. Implemented by
// rules.Store.
type RuleSource interface {
	ListActive(ctx context.Context) ([]models.RoutingRule, error)
}

// RequestStore is the request persistence the orchestrator needs.
// Implemented by request.Store.
type RequestStore interface {
	Get(ctx context.Context, id string) (*models.DocumentRequest, error)
	Correlate(ctx context.Context, recipientEmail, subject string) (*models.DocumentRequest, error)
	AddDocuments(ctx context.Context, id string, n int) (int, error)
	ApplyTransition(ctx context.Context, id string, from models.RequestStatus, req models.DocumentRequest) error
}

// DocumentStore is the document persistence the orchestrator needs.
// Implemented by document.Store.
type DocumentStore interface {
	Create(ctx context.Context, d models.Document) error
	VerifiedTypes(ctx context.Context, requestID string) ([]string, error)
}

// Verifier confirms uploads landed. Implemented by verify.Verifier.
type Verifier interface {
	Verify(ctx context.Context, doc *models.Document) (verify.Outcome, error)
}

// Deduper provides message idempotency. Implemented by dedup.Filter.
type Deduper interface {
	IsNew(ctx context.Context, key string) (bool, error)
}

// Failures tracks per-email retry state. Implemented by FailureStore.
type Failures interface {
	Record(ctx context.Context, f Failure) (int, error)
	Get(ctx context.Context, messageID string) (*Failure, error)
	MarkPermanent(ctx context.Context, messageID string) error
	Resolve(ctx context.Context, messageID string) error
}

// Publisher surfaces permanent failures to operators. Implemented by
// notify.Notifier.
type Publisher interface {
	Publish(ctx context.Context, kind string, payload map[string]string) error
}

// Orchestrator ties the pipeline together per inbound email.
type Orchestrator struct {
	source      Source
	matcher     *rules.Matcher
	ruleSource  RuleSource
	registry    *storage.Registry
	requests    RequestStore
	documents   DocumentStore
	verifier    Verifier
	dedupe      Deduper
	failures    Failures
	notifier    Publisher
	locker      scheduler.Locker
	accounts    []config.AccountConfig
	maxAttempts int
	lockWait    time.Duration
}

// OrchestratorConfig holds the orchestrator's collaborators.
type OrchestratorConfig struct {
	Source      Source
	Matcher     *rules.Matcher
	RuleSource  RuleSource
	Registry    *storage.Registry
	Requests    RequestStore
	Documents   DocumentStore
	Verifier    Verifier
	Dedupe      Deduper
	Failures    Failures
	Notifier    Publisher
	Locker      scheduler.Locker
	Accounts    []config.AccountConfig
	MaxAttempts int
	LockWait    time.Duration // zero means destLockWait
}

// NewOrchestrator creates an ingestion orchestrator.
func NewOrchestrator(cfg OrchestratorConfig) *Orchestrator {
	if cfg.LockWait == 0 {
		cfg.LockWait = destLockWait
	}
	return &Orchestrator{
		source:      cfg.Source,
		matcher:     cfg.Matcher,
		ruleSource:  cfg.RuleSource,
		registry:    cfg.Registry,
		requests:    cfg.Requests,
		documents:   cfg.Documents,
		verifier:    cfg.Verifier,
		dedupe:      cfg.Dedupe,
		failures:    cfg.Failures,
		notifier:    cfg.Notifier,
		locker:      cfg.Locker,
		accounts:    cfg.Accounts,
		maxAttempts: cfg.MaxAttempts,
		lockWait:    cfg.LockWait,
	}
}

// RunTick processes every account once. Accounts run concurrently; a
// failure in one account's mailbox never aborts the others. The rule set
// is snapshotted once per tick so every email sees a consistent view.
func (o *Orchestrator) RunTick(ctx context.Context) error {
	ruleSet, err := o.ruleSource.ListActive(ctx)
	if err != nil {
		return fmt.Errorf("load active rules: %w", err)
	}

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		failed   int
		firstErr error
	)

	for _, account := range o.accounts {
		wg.Add(1)
		go func(account config.AccountConfig) {
			defer wg.Done()
			if err := o.processAccount(ctx, account, ruleSet); err != nil {
				slog.Error("account ingestion failed",
					"account", account.ID,
					"error", err,
				)
				mu.Lock()
				failed++
				if firstErr == nil {
					firstErr = err
				}
				mu.Unlock()
			}
		}(account)
	}
	wg.Wait()

	if failed > 0 {
		return fmt.Errorf("%d of %d accounts failed; first: %w", failed, len(o.accounts), firstErr)
	}
	return nil
}

// processAccount ingests every pending email for one account.
func (o *Orchestrator) processAccount(ctx context.Context, account config.AccountConfig, ruleSet []models.RoutingRule) error {
	emails, err := o.source.FetchPending(ctx, account.ID)
	if err != nil {
		return fmt.Errorf("fetch pending for account %s: %w", account.ID, err)
	}

	if len(emails) == 0 {
		return nil
	}

	slog.Info("ingesting pending emails",
		"account", account.ID,
		"count", len(emails),
	)

	for _, email := range emails {
		if err := ctx.Err(); err != nil {
			return err
		}
		o.processEmail(ctx, account, email, ruleSet)
	}

	return nil
}

// processEmail runs the full pipeline for one email. Errors never discard
// the email: the failure and stage are recorded, the ack is withheld, and
// the parser hands the email out again next tick until the attempt bound.
func (o *Orchestrator) processEmail(ctx context.Context, account config.AccountConfig, email models.ParsedEmail, ruleSet []models.RoutingRule) {
	proceed, err := o.shouldProcess(ctx, email)
	if err != nil {
		slog.Warn("dedup check failed, proceeding", "message_id", email.MessageID, "error", err)
	} else if !proceed {
		o.ack(ctx, account.ID, email.MessageID)
		return
	}

	emp := employeeContext(account)
	req, reqErr := o.correlate(ctx, email)
	if reqErr != nil {
		slog.Warn("request correlation failed, ingesting without request",
			"message_id", email.MessageID,
			"error", reqErr,
		)
	}

	var reqCtx *models.RequestContext
	if req != nil {
		reqCtx = &models.RequestContext{RequestID: req.ID}
	}

	match := o.matcher.Match(email, ruleSet, emp, reqCtx)

	destID, template, ruleID := o.resolveDestination(match)
	adapter, destID, ok := o.registry.Lookup(destID)
	if !ok {
		o.recordFailure(ctx, account, email, "route",
			storage.NewError(storage.ClassValidation, "no storage adapter for destination %q and no default", destID))
		return
	}

	renderCtx := pathtemplate.Context{
		SenderEmail: email.From.Address,
		SenderName:  email.From.Name,
		Now:         email.ReceivedAt,
	}
	if emp != nil {
		renderCtx.EmployeeEmail = emp.Email
		renderCtx.EmployeeName = emp.Name
	}
	folder := pathtemplate.Render(template, renderCtx)

	verified, procErr := o.uploadAttachments(ctx, destID, adapter, folder, email, ruleID, req)
	if procErr != nil {
		o.recordFailure(ctx, account, email, "upload", procErr)
		return
	}

	if req != nil {
		if err := o.advanceRequest(ctx, req, verified); err != nil {
			slog.Warn("request did not advance",
				"request", req.ID,
				"message_id", email.MessageID,
				"error", err,
			)
		}
	}

	if err := o.failures.Resolve(ctx, email.MessageID); err != nil {
		slog.Warn("failed to clear ingest failure record", "message_id", email.MessageID, "error", err)
	}
	o.ack(ctx, account.ID, email.MessageID)
}

// shouldProcess applies the idempotency check. A message already marked
// seen is only reprocessed while it has an outstanding retryable failure.
func (o *Orchestrator) shouldProcess(ctx context.Context, email models.ParsedEmail) (bool, error) {
	isNew, err := o.dedupe.IsNew(ctx, email.MessageID)
	if err != nil {
		return true, err
	}
	if isNew {
		return true, nil
	}

	failure, err := o.failures.Get(ctx, email.MessageID)
	if err != nil {
		return true, err
	}
	if failure != nil && !failure.Permanent {
		return true, nil
	}

	slog.Debug("skipping duplicate message", "message_id", email.MessageID)
	return false, nil
}

// correlate resolves the document request an email answers: an explicit
// [REQ:<id>] token wins, otherwise recipient + normalized subject.
func (o *Orchestrator) correlate(ctx context.Context, email models.ParsedEmail) (*models.DocumentRequest, error) {
	if m := requestIDToken.FindStringSubmatch(email.Subject); m != nil {
		req, err := o.requests.Get(ctx, m[1])
		if err != nil {
			return nil, err
		}
		if req != nil {
			return req, nil
		}
		// Fall through: a stale token should not block subject correlation.
	}
	return o.requests.Correlate(ctx, email.From.Address, email.Subject)
}

// resolveDestination picks destination, path template and rule id from a
// match, or the organization default when nothing matched.
func (o *Orchestrator) resolveDestination(match *models.MatchResult) (destID, template, ruleID string) {
	if match == nil {
		return "", defaultPathTemplate, ""
	}
	template = match.Rule.Actions.PathTemplate
	if template == "" {
		template = defaultPathTemplate
	}
	return match.Rule.Actions.DestinationID, template, match.Rule.ID
}

// uploadAttachments uploads the email's attachments sequentially to one
// destination, creating and verifying a Document per attachment. The
// destination lock is shared with the token refresher so an upload never
// races a credential refresh. Returns the number of verified documents.
func (o *Orchestrator) uploadAttachments(ctx context.Context, destID string, adapter storage.Adapter, folder string, email models.ParsedEmail, ruleID string, req *models.DocumentRequest) (int, error) {
	if len(email.Attachments) == 0 {
		return 0, nil
	}

	acquired, err := scheduler.AwaitLock(ctx, o.locker, "dest:"+destID, o.lockWait)
	if err != nil {
		return 0, storage.NewError(storage.ClassNetwork, "destination lock: %v", err)
	}
	if !acquired {
		return 0, storage.NewError(storage.ClassRateLimit, "destination %s busy (token refresh in progress)", destID)
	}
	defer func() {
		if err := o.locker.Release(ctx, "dest:"+destID); err != nil {
			slog.Warn("destination lock release failed", "destination", destID, "error", err)
		}
	}()

	verified := 0
	for _, att := range email.Attachments {
		objectPath := path.Join(folder, pathtemplate.SanitizeName(att.Filename))

		ref, err := adapter.Upload(ctx, objectPath, att.Content)
		if err != nil {
			return verified, fmt.Errorf("upload %s: %w", att.Filename, err)
		}

		doc := models.Document{
			ID:                 uuid.New().String(),
			RuleID:             ruleID,
			Provider:           adapter.Provider(),
			StoragePath:        ref.Path,
			Filename:           att.Filename,
			VerificationStatus: models.VerificationPending,
			CreatedAt:          time.Now().UTC(),
		}
		if req != nil {
			doc.RequestID = req.ID
		}

		if err := o.documents.Create(ctx, doc); err != nil {
			return verified, fmt.Errorf("persist document for %s: %w", att.Filename, err)
		}

		// Verification blocks here: the request only advances on positive
		// confirmation the object exists.
		outcome, err := o.verifier.Verify(ctx, &doc)
		if err != nil {
			return verified, fmt.Errorf("verify %s: %w", att.Filename, err)
		}
		if outcome.Status != models.VerificationVerified {
			return verified, storage.NewError(outcome.Class, "verification of %s: %s", att.Filename, outcome.Error)
		}
		verified++
	}

	return verified, nil
}

// advanceRequest records new evidence on the correlated request and moves
// its state machine.
func (o *Orchestrator) advanceRequest(ctx context.Context, req *models.DocumentRequest, newDocs int) error {
	if newDocs > 0 {
		total, err := o.requests.AddDocuments(ctx, req.ID, newDocs)
		if err != nil {
			return fmt.Errorf("increment document count: %w", err)
		}
		req.DocumentCount = total
	}

	presentTypes, err := o.documents.VerifiedTypes(ctx, req.ID)
	if err != nil {
		return fmt.Errorf("load verified types: %w", err)
	}

	from := req.Status
	if err := request.AdvanceOnEmail(req, presentTypes, time.Now().UTC()); err != nil {
		return err
	}
	if req.Status == from {
		return nil
	}

	if err := o.requests.ApplyTransition(ctx, req.ID, from, *req); err != nil {
		return fmt.Errorf("persist transition: %w", err)
	}

	slog.Info("request advanced",
		"request", req.ID,
		"from", from,
		"to", req.Status,
		"documents", req.DocumentCount,
	)
	return nil
}

// recordFailure books a pipeline failure for retry or, when the class is
// not retryable or the attempt bound is hit, marks the email permanently
// failed and alerts an operator.
func (o *Orchestrator) recordFailure(ctx context.Context, account config.AccountConfig, email models.ParsedEmail, stage string, cause error) {
	class := storage.ClassOf(cause)

	attempts, err := o.failures.Record(ctx, Failure{
		MessageID: email.MessageID,
		AccountID: account.ID,
		Stage:     stage,
		Class:     class,
		Error:     cause.Error(),
	})
	if err != nil {
		slog.Error("failed to record ingest failure", "message_id", email.MessageID, "error", err)
	}

	slog.Error("email ingestion failed",
		"message_id", email.MessageID,
		"account", account.ID,
		"stage", stage,
		"class", class,
		"attempt", attempts,
		"error", cause,
	)

	if class.Retryable() && attempts < o.maxAttempts {
		// Ack withheld: the parser hands the email out again next tick.
		return
	}

	if err := o.failures.MarkPermanent(ctx, email.MessageID); err != nil {
		slog.Error("failed to mark failure permanent", "message_id", email.MessageID, "error", err)
	}

	if err := o.notifier.Publish(ctx, notify.KindOperatorAlert, map[string]string{
		"message_id": email.MessageID,
		"account":    account.ID,
		"stage":      stage,
		"class":      string(class),
		"error":      cause.Error(),
		"attempts":   fmt.Sprintf("%d", attempts),
	}); err != nil {
		slog.Error("failed to publish operator alert", "message_id", email.MessageID, "error", err)
	}

	// Permanently failed emails are acked so they stop cycling.
	o.ack(ctx, account.ID, email.MessageID)
}

func (o *Orchestrator) ack(ctx context.Context, accountID, messageID string) {
	if err := o.source.Ack(ctx, accountID, messageID); err != nil {
		slog.Warn("ack failed, message may be handed out again",
			"account", accountID,
			"message_id", messageID,
			"error", err,
		)
	}
}

// employeeContext returns the account's employee context, or nil when the
// mailbox is not tied to a known employee.
func employeeContext(account config.AccountConfig) *models.EmployeeContext {
	if account.EmployeeEmail == "" {
		return nil
	}
	return &models.EmployeeContext{
		Email: account.EmployeeEmail,
		Name:  account.EmployeeName,
	}
}
