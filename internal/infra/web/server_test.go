//go:build !integration

package web_test

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"pixelmint/internal/domain"
	"pixelmint/internal/domain/model"
	"pixelmint/internal/domain/ports/adapter"
	"pixelmint/internal/domain/ports/repository"
	"pixelmint/internal/infra/web"
	"pixelmint/internal/usecase"
)

const (
	testSecret      = "whsec-test"
	testInternalKey = "internal-test"
	testAPIKey      = "pk-live-abc"
	testPublicURL   = "https://api.pixelmint.test"
)

// ---- stubs ----

type stubJobUC struct {
	mu      sync.Mutex
	applied []appliedStatus

	createFunc func(ctx context.Context, spec usecase.CreateJobSpec) (*model.Job, error)
	applyFunc  func(ctx context.Context, externalJobID string, status *adapter.StatusResult) (*model.Job, error)
	cancelFunc func(ctx context.Context, jobID, ownerID string) (*model.Job, error)
	getFunc    func(ctx context.Context, jobID, ownerID string) (*model.Job, error)
}

type appliedStatus struct {
	externalID string
	status     *adapter.StatusResult
}

var _ usecase.JobUseCase = (*stubJobUC)(nil)

func (s *stubJobUC) Create(ctx context.Context, spec usecase.CreateJobSpec) (*model.Job, error) {
	if s.createFunc != nil {
		return s.createFunc(ctx, spec)
	}
	return nil, errors.New("create not stubbed")
}

func (s *stubJobUC) ApplyStatus(ctx context.Context, externalJobID string, status *adapter.StatusResult) (*model.Job, error) {
	s.mu.Lock()
	s.applied = append(s.applied, appliedStatus{externalID: externalJobID, status: status})
	s.mu.Unlock()
	if s.applyFunc != nil {
		return s.applyFunc(ctx, externalJobID, status)
	}
	return &model.Job{ID: "job-1", State: model.JobStateCompleted}, nil
}

func (s *stubJobUC) Cancel(ctx context.Context, jobID, ownerID string) (*model.Job, error) {
	if s.cancelFunc != nil {
		return s.cancelFunc(ctx, jobID, ownerID)
	}
	return nil, errors.New("cancel not stubbed")
}

func (s *stubJobUC) Get(ctx context.Context, jobID, ownerID string) (*model.Job, error) {
	if s.getFunc != nil {
		return s.getFunc(ctx, jobID, ownerID)
	}
	return nil, domain.ErrNotFound
}

func (s *stubJobUC) ListForOwner(ctx context.Context, ownerID string, limit int) ([]*model.Job, error) {
	return nil, nil
}

func (s *stubJobUC) appliedCalls() []appliedStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]appliedStatus, len(s.applied))
	copy(out, s.applied)
	return out
}

type stubLedger struct {
	history []*model.CreditTransaction
}

var _ usecase.LedgerUseCase = (*stubLedger)(nil)

func (s *stubLedger) Debit(ctx context.Context, tx repository.Tx, userID string, amount int, jobID string) (int, error) {
	return 0, errors.New("not used")
}

func (s *stubLedger) Refund(ctx context.Context, tx repository.Tx, userID string, amount int, jobID string, reason model.CreditTransactionReason) (int, int, error) {
	return 0, 0, errors.New("not used")
}

func (s *stubLedger) Grant(ctx context.Context, userID string, amount int) (int, error) {
	return 0, errors.New("not used")
}

func (s *stubLedger) History(ctx context.Context, userID string, limit int) ([]*model.CreditTransaction, error) {
	return s.history, nil
}

type stubUserRepo struct {
	user *model.User
}

var _ repository.UserRepository = (*stubUserRepo)(nil)

func (s *stubUserRepo) Save(ctx context.Context, tx repository.Tx, u *model.User) error { return nil }

func (s *stubUserRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.User, error) {
	if s.user != nil && s.user.ID == id {
		return s.user, nil
	}
	return nil, domain.ErrNotFound
}

func (s *stubUserRepo) FindByAPIKey(ctx context.Context, tx repository.Tx, key string) (*model.User, error) {
	if s.user != nil && s.user.APIKey == key {
		return s.user, nil
	}
	return nil, domain.ErrNotFound
}

func (s *stubUserRepo) AdjustCredits(ctx context.Context, tx repository.Tx, userID string, delta int) (int, error) {
	return 0, errors.New("not used")
}

type stubDeduper struct {
	duplicate bool
}

func (s *stubDeduper) FirstDelivery(ctx context.Context, externalJobID, status string) bool {
	return !s.duplicate
}

// ---- fixture ----

type webFixture struct {
	handler http.Handler
	jobUC   *stubJobUC
	ledger  *stubLedger
	dedupe  *stubDeduper
	user    *model.User
}

func newWebFixture(t *testing.T) *webFixture {
	t.Helper()
	log := zerolog.New(io.Discard)
	jobUC := &stubJobUC{}
	ledger := &stubLedger{}
	dedupe := &stubDeduper{}
	user := &model.User{ID: "u1", Email: "u1@test", Credits: 42, APIKey: testAPIKey}
	srv := web.NewServer(jobUC, ledger, &stubUserRepo{user: user}, nil, dedupe, testSecret, testInternalKey, testPublicURL, 0, &log)
	return &webFixture{handler: srv.Handler(), jobUC: jobUC, ledger: ledger, dedupe: dedupe, user: user}
}

func sign(secret string, body []byte) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write(body)
	return hex.EncodeToString(h.Sum(nil))
}

func (f *webFixture) do(t *testing.T, method, path string, body []byte, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func authHeader() map[string]string {
	return map[string]string{"Authorization": "Bearer " + testAPIKey}
}

// ---- webhook ----

func TestWebhook_ValidDeliveryReachesReconciler(t *testing.T) {
	f := newWebFixture(t)
	body := []byte(`{"id":"ext-1","status":"succeeded","output":["https://tmp/a.png","https://tmp/b.png"]}`)

	rec := f.do(t, http.MethodPost, "/webhooks/provider", body, map[string]string{
		"X-Webhook-Signature": sign(testSecret, body),
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	calls := f.jobUC.appliedCalls()
	if len(calls) != 1 {
		t.Fatalf("ApplyStatus calls = %d, want 1", len(calls))
	}
	if calls[0].externalID != "ext-1" {
		t.Errorf("external id = %q", calls[0].externalID)
	}
	if calls[0].status.State != model.CanonicalSucceeded {
		t.Errorf("state = %q, want succeeded", calls[0].status.State)
	}
	if len(calls[0].status.OutputURLs) != 2 {
		t.Errorf("output urls = %v", calls[0].status.OutputURLs)
	}
}

func TestWebhook_SingleStringOutput(t *testing.T) {
	f := newWebFixture(t)
	body := []byte(`{"id":"ext-1","status":"succeeded","output":"https://tmp/a.mp4"}`)

	rec := f.do(t, http.MethodPost, "/webhooks/provider", body, map[string]string{
		"X-Webhook-Signature": sign(testSecret, body),
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	calls := f.jobUC.appliedCalls()
	if len(calls) != 1 || len(calls[0].status.OutputURLs) != 1 || calls[0].status.OutputURLs[0] != "https://tmp/a.mp4" {
		t.Errorf("calls = %+v", calls)
	}
}

func TestWebhook_BadSignatureRejected(t *testing.T) {
	f := newWebFixture(t)
	body := []byte(`{"id":"ext-1","status":"succeeded"}`)

	for _, sig := range []string{"", "deadbeef", sign("wrong-secret", body)} {
		rec := f.do(t, http.MethodPost, "/webhooks/provider", body, map[string]string{
			"X-Webhook-Signature": sig,
		})
		if rec.Code != http.StatusForbidden {
			t.Errorf("signature %q: status = %d, want 403", sig, rec.Code)
		}
	}
	if len(f.jobUC.appliedCalls()) != 0 {
		t.Error("notification reached the reconciler despite bad signatures")
	}
}

func TestWebhook_FailureCarriesErrorMessage(t *testing.T) {
	f := newWebFixture(t)
	body := []byte(`{"id":"ext-1","status":"failed","error":"NSFW content detected"}`)

	rec := f.do(t, http.MethodPost, "/webhooks/provider", body, map[string]string{
		"X-Webhook-Signature": sign(testSecret, body),
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	calls := f.jobUC.appliedCalls()
	if len(calls) != 1 {
		t.Fatalf("ApplyStatus calls = %d, want 1", len(calls))
	}
	if calls[0].status.State != model.CanonicalFailed || calls[0].status.ErrorMessage != "NSFW content detected" {
		t.Errorf("status = %+v", calls[0].status)
	}
}

func TestWebhook_DuplicateDeliveryDropped(t *testing.T) {
	f := newWebFixture(t)
	f.dedupe.duplicate = true
	body := []byte(`{"id":"ext-1","status":"succeeded"}`)

	rec := f.do(t, http.MethodPost, "/webhooks/provider", body, map[string]string{
		"X-Webhook-Signature": sign(testSecret, body),
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if len(f.jobUC.appliedCalls()) != 0 {
		t.Error("duplicate delivery reached the reconciler")
	}
}

func TestWebhook_MissingIDRejected(t *testing.T) {
	f := newWebFixture(t)
	body := []byte(`{"status":"succeeded"}`)

	rec := f.do(t, http.MethodPost, "/webhooks/provider", body, map[string]string{
		"X-Webhook-Signature": sign(testSecret, body),
	})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestWebhook_UnknownJobAcknowledged(t *testing.T) {
	f := newWebFixture(t)
	f.jobUC.applyFunc = func(ctx context.Context, externalJobID string, status *adapter.StatusResult) (*model.Job, error) {
		return nil, domain.ErrNotFound
	}
	body := []byte(`{"id":"ext-gone","status":"succeeded"}`)

	// A 200 stops the provider from retrying a notification we can never apply.
	rec := f.do(t, http.MethodPost, "/webhooks/provider", body, map[string]string{
		"X-Webhook-Signature": sign(testSecret, body),
	})
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
}

// ---- api auth ----

func TestAPI_RequiresBearerToken(t *testing.T) {
	f := newWebFixture(t)
	rec := f.do(t, http.MethodGet, "/api/v1/jobs", nil, nil)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("no token: status = %d, want 401", rec.Code)
	}

	rec = f.do(t, http.MethodGet, "/api/v1/jobs", nil, map[string]string{"Authorization": "Bearer pk-live-wrong"})
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("bad token: status = %d, want 401", rec.Code)
	}
}

func TestInternal_RequiresKey(t *testing.T) {
	f := newWebFixture(t)
	rec := f.do(t, http.MethodPost, "/internal/sweep", nil, nil)
	if rec.Code != http.StatusForbidden {
		t.Errorf("no key: status = %d, want 403", rec.Code)
	}
	rec = f.do(t, http.MethodPost, "/internal/sweep", nil, map[string]string{"X-Internal-Key": "nope"})
	if rec.Code != http.StatusForbidden {
		t.Errorf("wrong key: status = %d, want 403", rec.Code)
	}
}

// ---- job endpoints ----

func TestCreateJob_Success(t *testing.T) {
	f := newWebFixture(t)
	now := time.Now()
	f.jobUC.createFunc = func(ctx context.Context, spec usecase.CreateJobSpec) (*model.Job, error) {
		if spec.OwnerID != "u1" {
			t.Errorf("owner = %q, want u1", spec.OwnerID)
		}
		return &model.Job{ID: "job-1", Kind: spec.Kind, State: model.JobStateProcessing, CreditsReserved: spec.Credits, CreatedAt: now}, nil
	}
	body := []byte(`{"kind":"image","modelVersion":"flux-schnell","input":{"prompt":"dunes"},"credits":5}`)

	rec := f.do(t, http.MethodPost, "/api/v1/jobs", body, authHeader())
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201: %s", rec.Code, rec.Body.String())
	}
	var resp map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp["id"] != "job-1" || resp["state"] != "processing" {
		t.Errorf("response = %v", resp)
	}
}

func TestCreateJob_CarriesProviderCallbackURL(t *testing.T) {
	f := newWebFixture(t)
	var got string
	f.jobUC.createFunc = func(ctx context.Context, spec usecase.CreateJobSpec) (*model.Job, error) {
		got = spec.WebhookURL
		return &model.Job{ID: "job-1", Kind: spec.Kind, State: model.JobStateProcessing}, nil
	}
	body := []byte(`{"kind":"image","modelVersion":"flux-schnell","input":{"prompt":"dunes"},"credits":5}`)

	rec := f.do(t, http.MethodPost, "/api/v1/jobs", body, authHeader())
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201: %s", rec.Code, rec.Body.String())
	}
	if want := testPublicURL + "/webhooks/provider"; got != want {
		t.Errorf("webhook url = %q, want %q", got, want)
	}
}

func TestCreateJob_UnknownKind(t *testing.T) {
	f := newWebFixture(t)
	body := []byte(`{"kind":"audio","credits":5}`)
	rec := f.do(t, http.MethodPost, "/api/v1/jobs", body, authHeader())
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestCreateJob_InsufficientCredits(t *testing.T) {
	f := newWebFixture(t)
	f.jobUC.createFunc = func(ctx context.Context, spec usecase.CreateJobSpec) (*model.Job, error) {
		return nil, domain.ErrInsufficientCredits
	}
	body := []byte(`{"kind":"image","credits":500}`)
	rec := f.do(t, http.MethodPost, "/api/v1/jobs", body, authHeader())
	if rec.Code != http.StatusPaymentRequired {
		t.Errorf("status = %d, want 402", rec.Code)
	}
}

func TestCreateJob_SubmitFailureReturnsFailedJob(t *testing.T) {
	f := newWebFixture(t)
	f.jobUC.createFunc = func(ctx context.Context, spec usecase.CreateJobSpec) (*model.Job, error) {
		return &model.Job{ID: "job-1", Kind: spec.Kind, State: model.JobStateFailed, ErrorMessage: "submission failed"}, domain.ErrProviderUnavailable
	}
	body := []byte(`{"kind":"image","credits":5}`)

	rec := f.do(t, http.MethodPost, "/api/v1/jobs", body, authHeader())
	if rec.Code != http.StatusBadGateway {
		t.Fatalf("status = %d, want 502", rec.Code)
	}
	var resp map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp["state"] != "failed" {
		t.Errorf("response = %v", resp)
	}
}

func TestGetJob_NotFound(t *testing.T) {
	f := newWebFixture(t)
	rec := f.do(t, http.MethodGet, "/api/v1/jobs/nope", nil, authHeader())
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestCancelJob_TerminalConflict(t *testing.T) {
	f := newWebFixture(t)
	f.jobUC.cancelFunc = func(ctx context.Context, jobID, ownerID string) (*model.Job, error) {
		return nil, domain.ErrInvalidState
	}
	rec := f.do(t, http.MethodPost, "/api/v1/jobs/job-1/cancel", nil, authHeader())
	if rec.Code != http.StatusConflict {
		t.Errorf("status = %d, want 409", rec.Code)
	}
}

func TestCredits_ReturnsBalanceAndHistory(t *testing.T) {
	f := newWebFixture(t)
	f.ledger.history = []*model.CreditTransaction{
		model.NewCreditTransaction("u1", -5, model.CreditReasonDebit, "job-1", 37),
	}

	rec := f.do(t, http.MethodGet, "/api/v1/credits", nil, authHeader())
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var resp struct {
		Balance      int `json:"balance"`
		Transactions []struct {
			Amount int    `json:"amount"`
			Reason string `json:"reason"`
			JobID  string `json:"jobId"`
		} `json:"transactions"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Balance != 42 {
		t.Errorf("balance = %d, want 42", resp.Balance)
	}
	if len(resp.Transactions) != 1 || resp.Transactions[0].Amount != -5 || resp.Transactions[0].JobID != "job-1" {
		t.Errorf("transactions = %+v", resp.Transactions)
	}
}

func TestHealthz(t *testing.T) {
	f := newWebFixture(t)
	rec := f.do(t, http.MethodGet, "/healthz", nil, nil)
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
}
