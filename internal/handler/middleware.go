package handler

import (
	"context"
	"errors"
	"net/http"
)

// Caller identity is injected by the API gateway after it authenticates
// the request; this service trusts those headers and never sees raw
// credentials.
const (
	HeaderUserID    = "X-User-ID"
	HeaderUserEmail = "X-User-Email"
	HeaderUserRole  = "X-User-Role"

	RoleAdmin = "admin"
)

type contextKey string

const identityKey contextKey = "identity"

// Identity is the authenticated caller extracted from gateway headers.
type Identity struct {
	UserID string
	Email  string
	Role   string
}

func identityFromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityKey).(Identity)
	return id, ok
}

// RequireUser rejects requests without a caller identity.
func RequireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID := r.Header.Get(HeaderUserID)
		if userID == "" {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			w.Write([]byte(`{"success":false,"error":"authentication required"}`))
			return
		}
		identity := Identity{
			UserID: userID,
			Email:  r.Header.Get(HeaderUserEmail),
			Role:   r.Header.Get(HeaderUserRole),
		}
		ctx := context.WithValue(r.Context(), identityKey, identity)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireAdmin runs after RequireUser and gates back-office routes.
func RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		identity, ok := identityFromContext(r.Context())
		if !ok || identity.Role != RoleAdmin {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusForbidden)
			w.Write([]byte(`{"success":false,"error":"admin role required"}`))
			return
		}
		next.ServeHTTP(w, r)
	})
}

var errNoIdentity = errors.New("no caller identity in context")
