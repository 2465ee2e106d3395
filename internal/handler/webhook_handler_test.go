package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"kyc-service/internal/kyc"
	"kyc-service/internal/service"
)

type fakeWebhookService struct {
	handle func(ctx context.Context, rawBody []byte, signature, timestamp string) error
}

func (f *fakeWebhookService) HandleEvent(ctx context.Context, rawBody []byte, signature, timestamp string) error {
	return f.handle(ctx, rawBody, signature, timestamp)
}

func TestWebhookReceive(t *testing.T) {
	newRouter := func(svc service.WebhookService) chi.Router {
		r := chi.NewRouter()
		NewWebhookHandler(svc, zap.NewNop()).RegisterRoutes(r)
		return r
	}

	t.Run("passes raw body and headers through", func(t *testing.T) {
		var gotBody []byte
		var gotSig, gotTS string
		router := newRouter(&fakeWebhookService{
			handle: func(_ context.Context, rawBody []byte, signature, timestamp string) error {
				gotBody = rawBody
				gotSig = signature
				gotTS = timestamp
				return nil
			},
		})

		body := []byte(`{"session_id":"psess-1","status":"Approved"}`)
		req := httptest.NewRequest(http.MethodPost, "/webhook", bytes.NewReader(body))
		req.Header.Set(kyc.SignatureHeader, "sig-hex")
		req.Header.Set(kyc.TimestampHeader, "1700000000")
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)

		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, want 200", rec.Code)
		}
		if !bytes.Equal(gotBody, body) {
			t.Errorf("handler altered the raw body: %q", gotBody)
		}
		if gotSig != "sig-hex" || gotTS != "1700000000" {
			t.Errorf("headers not forwarded: sig=%q ts=%q", gotSig, gotTS)
		}

		var resp Response
		if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
			t.Fatalf("decode response: %v", err)
		}
		if !resp.Success || resp.Message != "Acknowledged" {
			t.Errorf("response = %+v", resp)
		}
	})

	t.Run("invalid signature", func(t *testing.T) {
		router := newRouter(&fakeWebhookService{
			handle: func(context.Context, []byte, string, string) error {
				return service.ErrInvalidSignature
			},
		})

		req := httptest.NewRequest(http.MethodPost, "/webhook", bytes.NewReader([]byte(`{}`)))
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)

		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("status = %d, want 401", rec.Code)
		}
		var resp Response
		if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
			t.Fatalf("decode response: %v", err)
		}
		if resp.Success {
			t.Error("rejected delivery must not report success")
		}
	})
}
