package service

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"

	"kyc-service/internal/hashing"
	"kyc-service/internal/kyc"
	"kyc-service/internal/models"
	"kyc-service/internal/provider"
)

type webhookFixture struct {
	service   WebhookService
	sessions  *fakeSessionRepo
	users     *fakeUserRepo
	cache     *fakeEventCache
	eventLog  *fakeEventLog
	registry  *fakeRegistry
	indexer   *fakeIndexer
	publisher *fakePublisher

	decisionCalls *atomic.Int32
}

func newWebhookFixture(t *testing.T, passThroughCache bool) *webhookFixture {
	t.Helper()

	var decisionCalls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/session/psess-1/decision/", func(w http.ResponseWriter, r *http.Request) {
		decisionCalls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{
			"status": "Approved",
			"workflow_id": "wf-1",
			"features": ["ID_VERIFICATION", "AML"],
			"id_verification": {
				"status": "Approved",
				"document_type": "passport",
				"document_number": "X1234567",
				"issuing_state": "DEU",
				"first_name": "Ada",
				"last_name": "Lovelace",
				"date_of_birth": "1990-01-02"
			},
			"aml": {"status": "Approved", "screened": true, "watchlists": ["eu"]}
		}`)
	})
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	cfg := testConfig(server.URL)
	logger := zap.NewNop()

	f := &webhookFixture{
		sessions:      newFakeSessionRepo(),
		users:         newFakeUserRepo(),
		cache:         newFakeEventCache(passThroughCache),
		eventLog:      &fakeEventLog{},
		registry:      &fakeRegistry{},
		indexer:       &fakeIndexer{},
		publisher:     &fakePublisher{},
		decisionCalls: &decisionCalls,
	}
	f.service = NewWebhookService(
		cfg,
		provider.NewClient(cfg, logger),
		f.sessions,
		f.users,
		f.cache,
		f.eventLog,
		f.registry,
		f.indexer,
		f.publisher,
		hashing.NewHasher(cfg),
		logger,
	)
	return f
}

func (f *webhookFixture) seedSession(id, owner, providerSessionID string, status kyc.Status, createdAt time.Time) {
	f.sessions.byID[id] = &models.VerificationSession{
		UserBucket: 3,
		ID:         id,
		OwnerID:    owner,
		Status:     status,
		Outcome:    models.Outcome{Status: status},
		Audit: models.SessionAudit{
			ProviderName:      "didit",
			ProviderVersion:   "v2",
			ProviderSessionID: providerSessionID,
		},
		CreatedAt: createdAt,
		UpdatedAt: createdAt,
	}
}

func signedWebhook(t *testing.T, body []byte) (sig, ts string) {
	t.Helper()
	mac := hmac.New(sha256.New, []byte("whsec"))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil)), strconv.FormatInt(time.Now().Unix(), 10)
}

func webhookBody(t *testing.T, event kyc.Event) []byte {
	t.Helper()
	body, err := json.Marshal(event)
	if err != nil {
		t.Fatalf("marshal event: %v", err)
	}
	return body
}

func TestHandleEventInvalidSignature(t *testing.T) {
	f := newWebhookFixture(t, false)
	f.seedSession("s-1", "user-1", "psess-1", kyc.StatusPending, time.Now())

	body := webhookBody(t, kyc.Event{SessionID: "psess-1", Status: "Approved", WebhookType: "status.updated", CreatedAt: time.Now().Unix()})
	sig, ts := signedWebhook(t, body)

	t.Run("tampered body", func(t *testing.T) {
		tampered := append([]byte(nil), body...)
		tampered[0] ^= 1
		if err := f.service.HandleEvent(context.Background(), tampered, sig, ts); !errors.Is(err, ErrInvalidSignature) {
			t.Fatalf("expected ErrInvalidSignature, got %v", err)
		}
	})

	t.Run("stale timestamp", func(t *testing.T) {
		stale := strconv.FormatInt(time.Now().Add(-10*time.Minute).Unix(), 10)
		if err := f.service.HandleEvent(context.Background(), body, sig, stale); !errors.Is(err, ErrInvalidSignature) {
			t.Fatalf("expected ErrInvalidSignature, got %v", err)
		}
	})

	if f.sessions.updates != 0 {
		t.Errorf("rejected deliveries must not write: %d updates", f.sessions.updates)
	}
	if len(f.registry.emits) != 0 {
		t.Errorf("rejected deliveries must not emit: %d emits", len(f.registry.emits))
	}
}

func TestHandleEventUnknownSessionAcknowledged(t *testing.T) {
	f := newWebhookFixture(t, false)

	body := webhookBody(t, kyc.Event{SessionID: "psess-ghost", Status: "Approved", WebhookType: "status.updated", CreatedAt: time.Now().Unix()})
	sig, ts := signedWebhook(t, body)

	if err := f.service.HandleEvent(context.Background(), body, sig, ts); err != nil {
		t.Fatalf("unknown session must acknowledge, got %v", err)
	}
	if f.sessions.updates != 0 || len(f.eventLog.entries) != 0 || f.users.flagWrites != 0 {
		t.Error("unknown session must not produce writes")
	}
}

func TestHandleEventMissingTypeAcknowledged(t *testing.T) {
	f := newWebhookFixture(t, false)
	f.seedSession("s-1", "user-1", "psess-1", kyc.StatusPending, time.Now())

	body := webhookBody(t, kyc.Event{SessionID: "psess-1", Status: "Approved", CreatedAt: time.Now().Unix()})
	sig, ts := signedWebhook(t, body)

	if err := f.service.HandleEvent(context.Background(), body, sig, ts); err != nil {
		t.Fatalf("typeless event must acknowledge, got %v", err)
	}
	if f.sessions.updates != 0 || len(f.eventLog.entries) != 0 || len(f.registry.emits) != 0 {
		t.Error("typeless event must not produce writes")
	}
}

func TestHandleEventUnparseableBodyAcknowledged(t *testing.T) {
	f := newWebhookFixture(t, false)

	body := []byte(`{"session_id": broken`)
	sig, ts := signedWebhook(t, body)

	if err := f.service.HandleEvent(context.Background(), body, sig, ts); err != nil {
		t.Fatalf("authenticated garbage must acknowledge, got %v", err)
	}
	if f.sessions.updates != 0 {
		t.Error("unparseable body must not write")
	}
}

func TestHandleEventTerminalApproved(t *testing.T) {
	f := newWebhookFixture(t, false)
	f.seedSession("s-1", "user-1", "psess-1", kyc.StatusUserInProgress, time.Now())

	event := kyc.Event{SessionID: "psess-1", Status: "Approved", WebhookType: "status.updated", CreatedAt: time.Now().Unix()}
	body := webhookBody(t, event)
	sig, ts := signedWebhook(t, body)

	if err := f.service.HandleEvent(context.Background(), body, sig, ts); err != nil {
		t.Fatalf("HandleEvent: %v", err)
	}

	stored := f.sessions.byID["s-1"]
	if stored.Status != kyc.StatusVerified {
		t.Fatalf("status = %q, want verified", stored.Status)
	}
	if stored.Outcome.Status != stored.Status {
		t.Errorf("outcome status %q diverged from session status %q", stored.Outcome.Status, stored.Status)
	}
	if stored.Outcome.Summary == nil || stored.Outcome.Summary.ExtractedFirstName != "Ada" {
		t.Errorf("decision summary not folded in: %+v", stored.Outcome.Summary)
	}
	if stored.Outcome.VerifiedAt == nil {
		t.Error("VerifiedAt not set on terminal event")
	}
	if !stored.Outcome.AML.Screened {
		t.Error("AML screening not carried over")
	}
	if stored.Outcome.DocNumberHash == "" {
		t.Error("document number hash missing")
	}
	if stored.Audit.DecisionSnapshot == nil || stored.Audit.DecisionSnapshot.WorkflowID != "wf-1" {
		t.Errorf("decision snapshot missing: %+v", stored.Audit.DecisionSnapshot)
	}
	if stored.Audit.LastEventID != event.Key() {
		t.Errorf("LastEventID = %q, want %q", stored.Audit.LastEventID, event.Key())
	}
	if len(stored.Audit.Events) != 1 {
		t.Errorf("audit trail has %d entries, want 1", len(stored.Audit.Events))
	}
	if got := f.decisionCalls.Load(); got != 1 {
		t.Errorf("decision fetched %d times, want 1", got)
	}
	if f.users.flags["user-1"] != kyc.FlagVerified {
		t.Errorf("user flag = %q, want verified", f.users.flags["user-1"])
	}
	if len(f.registry.emits) != 1 {
		t.Fatalf("realtime emits = %d, want 1", len(f.registry.emits))
	}
	if f.registry.emits[0].Event != "kyc.status" || f.registry.emits[0].UserID != "user-1" {
		t.Errorf("unexpected emit: %+v", f.registry.emits[0])
	}
	if len(f.eventLog.entries) != 1 || !f.eventLog.entries[0].Terminal {
		t.Errorf("archive entries = %+v", f.eventLog.entries)
	}
	if len(f.publisher.events) != 1 || f.publisher.events[0].ToStatus != kyc.StatusVerified {
		t.Errorf("published events = %+v", f.publisher.events)
	}
	if len(f.indexer.indexed) != 1 {
		t.Errorf("indexed %d sessions, want 1", len(f.indexer.indexed))
	}
}

func TestHandleEventInlineDecisionSkipsFetch(t *testing.T) {
	f := newWebhookFixture(t, false)
	f.seedSession("s-1", "user-1", "psess-1", kyc.StatusUserInProgress, time.Now())

	event := kyc.Event{
		SessionID:   "psess-1",
		Status:      "Declined",
		WebhookType: "status.updated",
		CreatedAt:   time.Now().Unix(),
		Decision: &kyc.Decision{
			Status:     "Declined",
			WorkflowID: "wf-1",
			IDVerification: &kyc.IDVerification{
				Status:       "Declined",
				DocumentType: "passport",
				FirstName:    "Ada",
			},
		},
	}
	body := webhookBody(t, event)
	sig, ts := signedWebhook(t, body)

	if err := f.service.HandleEvent(context.Background(), body, sig, ts); err != nil {
		t.Fatalf("HandleEvent: %v", err)
	}
	if got := f.decisionCalls.Load(); got != 0 {
		t.Errorf("inline decision must not trigger a fetch, got %d calls", got)
	}
	stored := f.sessions.byID["s-1"]
	if stored.Status != kyc.StatusFailed {
		t.Errorf("status = %q, want failed", stored.Status)
	}
	if stored.Outcome.Summary == nil || stored.Outcome.Summary.ExtractedFirstName != "Ada" {
		t.Errorf("inline decision summary missing: %+v", stored.Outcome.Summary)
	}
	if f.users.flags["user-1"] != kyc.FlagRejected {
		t.Errorf("user flag = %q, want rejected", f.users.flags["user-1"])
	}
}

func TestHandleEventNonTerminalNoDecisionFetch(t *testing.T) {
	f := newWebhookFixture(t, false)
	f.seedSession("s-1", "user-1", "psess-1", kyc.StatusPending, time.Now())

	body := webhookBody(t, kyc.Event{SessionID: "psess-1", Status: "In Progress", WebhookType: "status.updated", CreatedAt: time.Now().Unix()})
	sig, ts := signedWebhook(t, body)

	if err := f.service.HandleEvent(context.Background(), body, sig, ts); err != nil {
		t.Fatalf("HandleEvent: %v", err)
	}
	stored := f.sessions.byID["s-1"]
	if stored.Status != kyc.StatusUserInProgress {
		t.Errorf("status = %q, want user_in_progress", stored.Status)
	}
	if stored.Outcome.VerifiedAt != nil || stored.Outcome.Summary != nil {
		t.Error("non-terminal event must not snapshot a decision")
	}
	if got := f.decisionCalls.Load(); got != 0 {
		t.Errorf("decision fetched %d times, want 0", got)
	}
	if f.users.flags["user-1"] != kyc.FlagProcessing {
		t.Errorf("user flag = %q, want processing", f.users.flags["user-1"])
	}
}

func TestHandleEventDuplicateDelivery(t *testing.T) {
	// passThrough disables the cache filter so the replay must be caught
	// by the session's own last-event record.
	for _, tc := range []struct {
		name        string
		passThrough bool
	}{
		{"cache filter", false},
		{"last event id", true},
	} {
		t.Run(tc.name, func(t *testing.T) {
			f := newWebhookFixture(t, tc.passThrough)
			f.seedSession("s-1", "user-1", "psess-1", kyc.StatusUserInProgress, time.Now())

			body := webhookBody(t, kyc.Event{SessionID: "psess-1", Status: "Approved", WebhookType: "status.updated", CreatedAt: time.Now().Unix()})
			sig, ts := signedWebhook(t, body)

			for i := 0; i < 2; i++ {
				if err := f.service.HandleEvent(context.Background(), body, sig, ts); err != nil {
					t.Fatalf("delivery %d: %v", i+1, err)
				}
			}

			if f.sessions.updates != 1 {
				t.Errorf("session updated %d times, want 1", f.sessions.updates)
			}
			if got := len(f.sessions.byID["s-1"].Audit.Events); got != 1 {
				t.Errorf("audit trail has %d entries, want 1", got)
			}
			if len(f.registry.emits) != 1 {
				t.Errorf("realtime emits = %d, want 1", len(f.registry.emits))
			}
			if len(f.eventLog.entries) != 1 {
				t.Errorf("archive entries = %d, want 1", len(f.eventLog.entries))
			}
		})
	}
}

func TestHandleEventStaleSessionKeepsUserFlag(t *testing.T) {
	f := newWebhookFixture(t, false)
	now := time.Now()
	f.seedSession("s-old", "user-1", "psess-1", kyc.StatusCanceled, now.Add(-time.Hour))
	f.seedSession("s-new", "user-1", "psess-2", kyc.StatusPending, now)
	f.users.flags["user-1"] = kyc.FlagPending

	body := webhookBody(t, kyc.Event{SessionID: "psess-1", Status: "Approved", WebhookType: "status.updated", CreatedAt: now.Unix()})
	sig, ts := signedWebhook(t, body)

	if err := f.service.HandleEvent(context.Background(), body, sig, ts); err != nil {
		t.Fatalf("HandleEvent: %v", err)
	}

	// The superseded session itself still records the event.
	if f.sessions.byID["s-old"].Status != kyc.StatusVerified {
		t.Errorf("stale session status = %q, want verified", f.sessions.byID["s-old"].Status)
	}
	// But the account flag is derived from the latest session only.
	if f.users.flags["user-1"] != kyc.FlagPending {
		t.Errorf("user flag = %q, must stay pending", f.users.flags["user-1"])
	}
}
