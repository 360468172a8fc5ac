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

package ingest

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/paperchase/collector/internal/config"
	"github.com/paperchase/collector/internal/models"
	"github.com/paperchase/collector/internal/rules"
	"github.com/paperchase/collector/internal/storage"
	"github.com/paperchase/collector/internal/verify"
)

// --- fakes ---

type fakeSource struct {
	mu       sync.Mutex
	pending  map[string][]models.ParsedEmail
	fetchErr map[string]error
	acked    []string
}

func newFakeSource() *fakeSource {
	return &fakeSource{pending: make(map[string][]models.ParsedEmail), fetchErr: make(map[string]error)}
}

func (f *fakeSource) FetchPending(_ context.Context, accountID string) ([]models.ParsedEmail, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fetchErr[accountID]; err != nil {
		return nil, err
	}
	return f.pending[accountID], nil
}

func (f *fakeSource) Ack(_ context.Context, accountID, messageID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.acked = append(f.acked, accountID+"/"+messageID)
	return nil
}

func (f *fakeSource) ackedIDs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.acked...)
}

type fakeRuleSource struct{ ruleSet []models.RoutingRule }

func (f *fakeRuleSource) ListActive(_ context.Context) ([]models.RoutingRule, error) {
	return f.ruleSet, nil
}

type fakeRequests struct {
	mu         sync.Mutex
	byID       map[string]*models.DocumentRequest
	correlated *models.DocumentRequest
	applied    []models.DocumentRequest
}

func newFakeRequests() *fakeRequests {
	return &fakeRequests{byID: make(map[string]*models.DocumentRequest)}
}

func (f *fakeRequests) Get(_ context.Context, id string) (*models.DocumentRequest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if req, ok := f.byID[id]; ok {
		cp := *req
		return &cp, nil
	}
	return nil, nil
}

func (f *fakeRequests) Correlate(_ context.Context, _, _ string) (*models.DocumentRequest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.correlated == nil {
		return nil, nil
	}
	cp := *f.correlated
	return &cp, nil
}

func (f *fakeRequests) AddDocuments(_ context.Context, id string, n int) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if req, ok := f.byID[id]; ok {
		req.DocumentCount += n
		return req.DocumentCount, nil
	}
	if f.correlated != nil && f.correlated.ID == id {
		f.correlated.DocumentCount += n
		return f.correlated.DocumentCount, nil
	}
	return n, nil
}

func (f *fakeRequests) ApplyTransition(_ context.Context, _ string, _ models.RequestStatus, req models.DocumentRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.applied = append(f.applied, req)
	return nil
}

type fakeDocuments struct {
	mu      sync.Mutex
	created []models.Document
	types   []string
}

func (f *fakeDocuments) Create(_ context.Context, d models.Document) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created = append(f.created, d)
	return nil
}

func (f *fakeDocuments) VerifiedTypes(_ context.Context, _ string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.types, nil
}

type fakeVerifier struct {
	outcome verify.Outcome
}

func (f *fakeVerifier) Verify(_ context.Context, doc *models.Document) (verify.Outcome, error) {
	doc.VerificationStatus = f.outcome.Status
	return f.outcome, nil
}

type fakeDeduper struct {
	mu   sync.Mutex
	seen map[string]bool
}

func newFakeDeduper() *fakeDeduper { return &fakeDeduper{seen: make(map[string]bool)} }

func (f *fakeDeduper) IsNew(_ context.Context, key string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.seen[key] {
		return false, nil
	}
	f.seen[key] = true
	return true, nil
}

type fakeFailures struct {
	mu      sync.Mutex
	records map[string]*Failure
}

func newFakeFailures() *fakeFailures { return &fakeFailures{records: make(map[string]*Failure)} }

func (f *fakeFailures) Record(_ context.Context, fail Failure) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if existing, ok := f.records[fail.MessageID]; ok {
		existing.Attempts++
		existing.Stage = fail.Stage
		existing.Class = fail.Class
		existing.Error = fail.Error
		return existing.Attempts, nil
	}
	fail.Attempts = 1
	f.records[fail.MessageID] = &fail
	return 1, nil
}

func (f *fakeFailures) Get(_ context.Context, messageID string) (*Failure, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if fail, ok := f.records[messageID]; ok {
		cp := *fail
		return &cp, nil
	}
	return nil, nil
}

func (f *fakeFailures) MarkPermanent(_ context.Context, messageID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if fail, ok := f.records[messageID]; ok {
		fail.Permanent = true
	}
	return nil
}

func (f *fakeFailures) Resolve(_ context.Context, messageID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.records, messageID)
	return nil
}

type fakeNotifier struct {
	mu        sync.Mutex
	published []string
}

func (f *fakeNotifier) Publish(_ context.Context, kind string, _ map[string]string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.published = append(f.published, kind)
	return nil
}

type fakeLocker struct {
	mu   sync.Mutex
	held map[string]bool
}

func newFakeLocker() *fakeLocker { return &fakeLocker{held: make(map[string]bool)} }

func (f *fakeLocker) Acquire(_ context.Context, name string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.held[name] {
		return false, nil
	}
	f.held[name] = true
	return true, nil
}

func (f *fakeLocker) Release(_ context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.held, name)
	return nil
}

// failingAdapter returns a fixed error on upload.
type failingAdapter struct {
	provider string
	err      error
}

func (a *failingAdapter) Upload(_ context.Context, _ string, _ []byte) (storage.ObjectRef, error) {
	return storage.ObjectRef{}, a.err
}

func (a *failingAdapter) Exists(_ context.Context, _ storage.ObjectRef) (bool, error) {
	return false, a.err
}

func (a *failingAdapter) Provider() string { return a.provider }

// --- harness ---

type harness struct {
	source   *fakeSource
	ruleSrc  *fakeRuleSource
	requests *fakeRequests
	docs     *fakeDocuments
	verifier *fakeVerifier
	dedupe   *fakeDeduper
	failures *fakeFailures
	notifier *fakeNotifier
	locker   *fakeLocker
	registry *storage.Registry
	orch     *Orchestrator
}

func newHarness(t *testing.T, accounts []config.AccountConfig, ruleSet []models.RoutingRule) *harness {
	t.Helper()

	h := &harness{
		source:   newFakeSource(),
		ruleSrc:  &fakeRuleSource{ruleSet: ruleSet},
		requests: newFakeRequests(),
		docs:     &fakeDocuments{},
		verifier: &fakeVerifier{outcome: verify.Outcome{Status: models.VerificationVerified}},
		dedupe:   newFakeDeduper(),
		failures: newFakeFailures(),
		notifier: &fakeNotifier{},
		locker:   newFakeLocker(),
		registry: storage.NewRegistry(),
	}
	h.registry.Register("d-default", storage.NewLocal(t.TempDir()), true)

	h.orch = NewOrchestrator(OrchestratorConfig{
		Source:      h.source,
		Matcher:     rules.NewMatcher(),
		RuleSource:  h.ruleSrc,
		Registry:    h.registry,
		Requests:    h.requests,
		Documents:   h.docs,
		Verifier:    h.verifier,
		Dedupe:      h.dedupe,
		Failures:    h.failures,
		Notifier:    h.notifier,
		Locker:      h.locker,
		Accounts:    accounts,
		MaxAttempts: 3,
		LockWait:    50 * time.Millisecond,
	})
	return h
}

func testEmail(id, from, subject string, filenames ...string) models.ParsedEmail {
	var atts []models.Attachment
	for _, f := range filenames {
		atts = append(atts, models.Attachment{Filename: f, Content: []byte("data")})
	}
	return models.ParsedEmail{
		MessageID:   id,
		AccountID:   "acct-1",
		From:        models.EmailAddress{Address: from},
		Subject:     subject,
		ReceivedAt:  time.Date(2026, time.March, 7, 9, 0, 0, 0, time.UTC),
		Attachments: atts,
	}
}

var testAccounts = []config.AccountConfig{{ID: "acct-1", EmployeeEmail: "jane@acme.com", EmployeeName: "Jane"}}

// --- tests ---

// TestOrchestrator_HappyPath verifies a matched email uploads, records a
// document, acks, and leaves no failure behind.
func TestOrchestrator_HappyPath(t *testing.T) {
	ruleSet := []models.RoutingRule{{
		ID:       "r1",
		Name:     "hr docs",
		IsActive: true,
		Conditions: models.RuleConditions{
			SenderPattern:  `hr@acme\.com`,
			SubjectPattern: `invoice`,
			FileTypes:      []string{"pdf"},
		},
		Actions: models.RuleActions{DestinationID: "d-default", PathTemplate: "hr/{year}/{sender_email}"},
	}}
	h := newHarness(t, testAccounts, ruleSet)
	h.source.pending["acct-1"] = []models.ParsedEmail{
		testEmail("m1", "hr@acme.com", "Invoice March", "scan.pdf"),
	}

	if err := h.orch.RunTick(context.Background()); err != nil {
		t.Fatalf("tick: %v", err)
	}

	if len(h.docs.created) != 1 {
		t.Fatalf("documents created = %d, want 1", len(h.docs.created))
	}
	doc := h.docs.created[0]
	if doc.RuleID != "r1" {
		t.Errorf("doc.RuleID = %q", doc.RuleID)
	}
	if doc.StoragePath != "hr/2026/hr@acme.com/scan.pdf" {
		t.Errorf("doc.StoragePath = %q", doc.StoragePath)
	}

	acked := h.source.ackedIDs()
	if len(acked) != 1 || acked[0] != "acct-1/m1" {
		t.Errorf("acked = %v", acked)
	}
	if fail, _ := h.failures.Get(context.Background(), "m1"); fail != nil {
		t.Errorf("failure recorded on success: %+v", fail)
	}
	if h.locker.held["dest:d-default"] {
		t.Error("destination lock not released")
	}
}

// TestOrchestrator_UnmatchedUsesDefault verifies emails matching no rule go
// to the default destination under the unrouted template.
func TestOrchestrator_UnmatchedUsesDefault(t *testing.T) {
	h := newHarness(t, testAccounts, nil)
	h.source.pending["acct-1"] = []models.ParsedEmail{
		testEmail("m1", "stranger@other.com", "hello", "cv.pdf"),
	}

	if err := h.orch.RunTick(context.Background()); err != nil {
		t.Fatalf("tick: %v", err)
	}

	if len(h.docs.created) != 1 {
		t.Fatalf("documents created = %d, want 1", len(h.docs.created))
	}
	got := h.docs.created[0].StoragePath
	if !strings.HasPrefix(got, "unrouted/2026/03/stranger@other.com") {
		t.Errorf("StoragePath = %q, want unrouted prefix", got)
	}
}

// TestOrchestrator_DuplicateSkipped verifies an already-seen message with no
// outstanding failure is acked without reprocessing.
func TestOrchestrator_DuplicateSkipped(t *testing.T) {
	h := newHarness(t, testAccounts, nil)
	email := testEmail("m1", "a@b.com", "x", "f.pdf")
	h.source.pending["acct-1"] = []models.ParsedEmail{email}

	if err := h.orch.RunTick(context.Background()); err != nil {
		t.Fatalf("first tick: %v", err)
	}
	// Parser hands it out again despite the ack.
	if err := h.orch.RunTick(context.Background()); err != nil {
		t.Fatalf("second tick: %v", err)
	}

	if len(h.docs.created) != 1 {
		t.Errorf("documents created = %d, want 1 (duplicate reprocessed)", len(h.docs.created))
	}
	if acked := h.source.ackedIDs(); len(acked) != 2 {
		t.Errorf("acks = %d, want 2 (duplicate still acked)", len(acked))
	}
}

// TestOrchestrator_RetryableFailureWithholdsAck verifies a network failure
// records an attempt and withholds the ack so the email comes back.
func TestOrchestrator_RetryableFailureWithholdsAck(t *testing.T) {
	h := newHarness(t, testAccounts, nil)
	h.registry.Register("d-default", &failingAdapter{
		provider: "drive-a",
		err:      storage.NewError(storage.ClassNetwork, "connection reset"),
	}, true)
	h.source.pending["acct-1"] = []models.ParsedEmail{
		testEmail("m1", "a@b.com", "x", "f.pdf"),
	}

	if err := h.orch.RunTick(context.Background()); err != nil {
		t.Fatalf("tick: %v", err)
	}

	if acked := h.source.ackedIDs(); len(acked) != 0 {
		t.Errorf("acked = %v, want none", acked)
	}
	fail, _ := h.failures.Get(context.Background(), "m1")
	if fail == nil {
		t.Fatal("no failure recorded")
	}
	if fail.Attempts != 1 || fail.Permanent {
		t.Errorf("failure = %+v, want 1 non-permanent attempt", fail)
	}
	if fail.Class != storage.ClassNetwork {
		t.Errorf("class = %s, want network", fail.Class)
	}
}

// TestOrchestrator_SeenMessageRetriedWhileFailureOutstanding verifies the
// dedup mark does not block retries of a failed message.
func TestOrchestrator_SeenMessageRetriedWhileFailureOutstanding(t *testing.T) {
	h := newHarness(t, testAccounts, nil)
	broken := &failingAdapter{provider: "drive-a", err: storage.NewError(storage.ClassNetwork, "reset")}
	h.registry.Register("d-default", broken, true)
	h.source.pending["acct-1"] = []models.ParsedEmail{
		testEmail("m1", "a@b.com", "x", "f.pdf"),
	}

	if err := h.orch.RunTick(context.Background()); err != nil {
		t.Fatalf("first tick: %v", err)
	}

	// Destination recovers before the second tick.
	h.registry.Register("d-default", storage.NewLocal(t.TempDir()), true)
	if err := h.orch.RunTick(context.Background()); err != nil {
		t.Fatalf("second tick: %v", err)
	}

	if len(h.docs.created) != 1 {
		t.Fatalf("documents created = %d, want 1", len(h.docs.created))
	}
	if fail, _ := h.failures.Get(context.Background(), "m1"); fail != nil {
		t.Errorf("failure not resolved after successful retry: %+v", fail)
	}
	if acked := h.source.ackedIDs(); len(acked) != 1 {
		t.Errorf("acks = %d, want 1", len(acked))
	}
}

// TestOrchestrator_NonRetryableFailureAlertsAndAcks verifies a permission
// failure goes permanent immediately with an operator alert.
func TestOrchestrator_NonRetryableFailureAlertsAndAcks(t *testing.T) {
	h := newHarness(t, testAccounts, nil)
	h.registry.Register("d-default", &failingAdapter{
		provider: "drive-a",
		err:      storage.NewError(storage.ClassPermission, "forbidden"),
	}, true)
	h.source.pending["acct-1"] = []models.ParsedEmail{
		testEmail("m1", "a@b.com", "x", "f.pdf"),
	}

	if err := h.orch.RunTick(context.Background()); err != nil {
		t.Fatalf("tick: %v", err)
	}

	fail, _ := h.failures.Get(context.Background(), "m1")
	if fail == nil || !fail.Permanent {
		t.Fatalf("failure = %+v, want permanent", fail)
	}
	if len(h.notifier.published) != 1 || h.notifier.published[0] != "operator_alert" {
		t.Errorf("published = %v, want one operator_alert", h.notifier.published)
	}
	if acked := h.source.ackedIDs(); len(acked) != 1 {
		t.Errorf("acks = %d, want 1 (permanent failures stop cycling)", len(acked))
	}
}

// TestOrchestrator_AttemptBound verifies a retryable failure goes permanent
// once the attempt bound is reached.
func TestOrchestrator_AttemptBound(t *testing.T) {
	h := newHarness(t, testAccounts, nil)
	h.registry.Register("d-default", &failingAdapter{
		provider: "drive-a",
		err:      storage.NewError(storage.ClassNetwork, "reset"),
	}, true)
	h.source.pending["acct-1"] = []models.ParsedEmail{
		testEmail("m1", "a@b.com", "x", "f.pdf"),
	}

	// MaxAttempts is 3: two retryable ticks, the third goes permanent.
	for i := 0; i < 3; i++ {
		if err := h.orch.RunTick(context.Background()); err != nil {
			t.Fatalf("tick %d: %v", i+1, err)
		}
	}

	fail, _ := h.failures.Get(context.Background(), "m1")
	if fail == nil || !fail.Permanent {
		t.Fatalf("failure = %+v, want permanent after bound", fail)
	}
	if fail.Attempts != 3 {
		t.Errorf("attempts = %d, want 3", fail.Attempts)
	}
	if len(h.notifier.published) != 1 {
		t.Errorf("alerts = %d, want 1", len(h.notifier.published))
	}
	if acked := h.source.ackedIDs(); len(acked) != 1 {
		t.Errorf("acks = %d, want 1", len(acked))
	}
}

// TestOrchestrator_RequestTokenCorrelation verifies an explicit [REQ:id]
// subject token resolves the request and advances it after upload.
func TestOrchestrator_RequestTokenCorrelation(t *testing.T) {
	h := newHarness(t, testAccounts, nil)
	expected := 1
	h.requests.byID["req-42"] = &models.DocumentRequest{
		ID:                    "req-42",
		RecipientEmail:        "vendor@other.com",
		Subject:               "Tax documents",
		Status:                models.RequestSent,
		ExpectedDocumentCount: &expected,
	}
	h.docs.types = []string{"pdf"}
	h.source.pending["acct-1"] = []models.ParsedEmail{
		testEmail("m1", "vendor@other.com", "Re: Tax documents [REQ:req-42]", "w2.pdf"),
	}

	if err := h.orch.RunTick(context.Background()); err != nil {
		t.Fatalf("tick: %v", err)
	}

	if len(h.requests.applied) != 1 {
		t.Fatalf("transitions applied = %d, want 1", len(h.requests.applied))
	}
	got := h.requests.applied[0]
	if got.Status != models.RequestCompleted {
		t.Errorf("status = %s, want completed", got.Status)
	}
	if got.DocumentCount != 1 {
		t.Errorf("document count = %d, want 1", got.DocumentCount)
	}
	if h.docs.created[0].RequestID != "req-42" {
		t.Errorf("doc.RequestID = %q", h.docs.created[0].RequestID)
	}
}

// TestOrchestrator_TextOnlyReplyAdvances verifies a correlated email with no
// attachments still moves the request to received.
func TestOrchestrator_TextOnlyReplyAdvances(t *testing.T) {
	h := newHarness(t, testAccounts, nil)
	h.requests.correlated = &models.DocumentRequest{
		ID:             "req-7",
		RecipientEmail: "vendor@other.com",
		Subject:        "Insurance certificate",
		Status:         models.RequestSent,
	}
	h.source.pending["acct-1"] = []models.ParsedEmail{
		testEmail("m1", "vendor@other.com", "Re: Insurance certificate"),
	}

	if err := h.orch.RunTick(context.Background()); err != nil {
		t.Fatalf("tick: %v", err)
	}

	if len(h.requests.applied) != 1 {
		t.Fatalf("transitions applied = %d, want 1", len(h.requests.applied))
	}
	if got := h.requests.applied[0].Status; got != models.RequestReceived {
		t.Errorf("status = %s, want received", got)
	}
	if len(h.docs.created) != 0 {
		t.Errorf("documents created for text-only reply: %d", len(h.docs.created))
	}
}

// TestOrchestrator_AccountIsolation verifies one account's parser failure
// does not stop the others, and the tick reports it.
func TestOrchestrator_AccountIsolation(t *testing.T) {
	accounts := []config.AccountConfig{{ID: "acct-1"}, {ID: "acct-2"}}
	h := newHarness(t, accounts, nil)
	h.source.fetchErr["acct-1"] = errors.New("parser unreachable")
	h.source.pending["acct-2"] = []models.ParsedEmail{
		testEmail("m2", "a@b.com", "x", "f.pdf"),
	}

	err := h.orch.RunTick(context.Background())
	if err == nil {
		t.Fatal("expected tick error for the failed account")
	}
	if !strings.Contains(err.Error(), "1 of 2 accounts failed") {
		t.Errorf("err = %v", err)
	}

	if len(h.docs.created) != 1 {
		t.Errorf("healthy account not processed: documents = %d", len(h.docs.created))
	}
}

// TestOrchestrator_DestinationBusy verifies a held destination lock yields a
// retryable failure instead of an upload race.
func TestOrchestrator_DestinationBusy(t *testing.T) {
	h := newHarness(t, testAccounts, nil)
	h.locker.Acquire(context.Background(), "dest:d-default")
	h.source.pending["acct-1"] = []models.ParsedEmail{
		testEmail("m1", "a@b.com", "x", "f.pdf"),
	}

	if err := h.orch.RunTick(context.Background()); err != nil {
		t.Fatalf("tick: %v", err)
	}

	fail, _ := h.failures.Get(context.Background(), "m1")
	if fail == nil {
		t.Fatal("no failure recorded")
	}
	if fail.Class != storage.ClassRateLimit {
		t.Errorf("class = %s, want rate_limit", fail.Class)
	}
	if acked := h.source.ackedIDs(); len(acked) != 0 {
		t.Errorf("acked = %v, want none", acked)
	}
}
