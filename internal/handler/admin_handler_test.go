package handler

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"kyc-service/internal/kyc"
	"kyc-service/internal/search"
	"kyc-service/internal/service"
)

type fakeAdminService struct {
	listFn   func(ctx context.Context, query search.AdminQuery) (*search.SearchResult, error)
	reviewFn func(ctx context.Context, input service.ReviewInput, reviewerID string) (*service.SessionView, error)
}

func (f *fakeAdminService) ListSessions(ctx context.Context, query search.AdminQuery) (*search.SearchResult, error) {
	return f.listFn(ctx, query)
}

func (f *fakeAdminService) Review(ctx context.Context, input service.ReviewInput, reviewerID string) (*service.SessionView, error) {
	return f.reviewFn(ctx, input, reviewerID)
}

func adminRouter(svc service.AdminService) chi.Router {
	r := chi.NewRouter()
	NewAdminHandler(svc, zap.NewNop()).RegisterRoutes(r)
	return r
}

func TestAdminRoleGate(t *testing.T) {
	router := adminRouter(&fakeAdminService{})

	t.Run("no identity", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/admin", nil)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("status = %d, want 401", rec.Code)
		}
	})

	t.Run("non-admin role", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/admin", nil)
		req.Header.Set(HeaderUserID, "user-1")
		req.Header.Set(HeaderUserRole, "support")
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		if rec.Code != http.StatusForbidden {
			t.Fatalf("status = %d, want 403", rec.Code)
		}
	})
}

func TestAdminListSessions(t *testing.T) {
	var gotQuery search.AdminQuery
	router := adminRouter(&fakeAdminService{
		listFn: func(_ context.Context, query search.AdminQuery) (*search.SearchResult, error) {
			gotQuery = query
			return &search.SearchResult{
				Sessions: []search.SessionDocument{{SessionID: "s-1", Status: kyc.StatusNeedsReview}},
				Total:    41,
				From:     query.From,
				Size:     query.Size,
			}, nil
		},
	})

	req := httptest.NewRequest(http.MethodGet, "/admin?page=3&limit=20&status=needs_review&review_required=true", nil)
	req.Header.Set(HeaderUserID, "admin-1")
	req.Header.Set(HeaderUserRole, RoleAdmin)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body.String())
	}
	if gotQuery.Status != "needs_review" {
		t.Errorf("status filter = %q", gotQuery.Status)
	}
	if gotQuery.From != 40 || gotQuery.Size != 20 {
		t.Errorf("pagination from=%d size=%d, want 40/20", gotQuery.From, gotQuery.Size)
	}
	if gotQuery.ReviewRequired == nil || !*gotQuery.ReviewRequired {
		t.Errorf("review_required filter = %v", gotQuery.ReviewRequired)
	}
}

func TestAdminReview(t *testing.T) {
	t.Run("forwards body and reviewer", func(t *testing.T) {
		var gotInput service.ReviewInput
		var gotReviewer string
		router := adminRouter(&fakeAdminService{
			reviewFn: func(_ context.Context, input service.ReviewInput, reviewerID string) (*service.SessionView, error) {
				gotInput = input
				gotReviewer = reviewerID
				return &service.SessionView{SessionID: input.SessionID, Status: kyc.StatusVerified}, nil
			},
		})

		body := []byte(`{"id":"s-1","decision":"approved","notes":"ok"}`)
		req := httptest.NewRequest(http.MethodPut, "/admin", bytes.NewReader(body))
		req.Header.Set(HeaderUserID, "admin-1")
		req.Header.Set(HeaderUserRole, RoleAdmin)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)

		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body.String())
		}
		if gotInput.SessionID != "s-1" || gotInput.Decision != service.ReviewApproved {
			t.Errorf("input = %+v", gotInput)
		}
		if gotReviewer != "admin-1" {
			t.Errorf("reviewer = %q", gotReviewer)
		}
	})

	t.Run("invalid decision rejected before service", func(t *testing.T) {
		called := false
		router := adminRouter(&fakeAdminService{
			reviewFn: func(context.Context, service.ReviewInput, string) (*service.SessionView, error) {
				called = true
				return nil, nil
			},
		})

		body := []byte(`{"id":"s-1","decision":"maybe"}`)
		req := httptest.NewRequest(http.MethodPut, "/admin", bytes.NewReader(body))
		req.Header.Set(HeaderUserID, "admin-1")
		req.Header.Set(HeaderUserRole, RoleAdmin)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)

		if rec.Code != http.StatusBadRequest {
			t.Fatalf("status = %d, want 400", rec.Code)
		}
		if called {
			t.Error("service must not run on invalid input")
		}
	})
}
