package handler

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"kyc-service/internal/service"
	"kyc-service/internal/util"
)

// KYCHandler handles the user-facing session endpoints.
type KYCHandler struct {
	sessionService service.SessionService
	validate       *validator.Validate
	logger         *zap.Logger
}

func NewKYCHandler(sessionService service.SessionService, logger *zap.Logger) *KYCHandler {
	return &KYCHandler{
		sessionService: sessionService,
		validate:       validator.New(),
		logger:         logger,
	}
}

// RegisterRoutes registers the session routes. All of them require an
// authenticated caller.
func (h *KYCHandler) RegisterRoutes(router chi.Router) {
	router.Group(func(r chi.Router) {
		r.Use(RequireUser)
		r.Post("/session", h.CreateSession)
		r.Get("/session/{sessionID}", h.GetStatus)
		r.Get("/sessions", h.ListSessions)
		r.Get("/me", h.VerificationFlag)
	})
}

// CreateSession opens a new verification session for the caller.
func (h *KYCHandler) CreateSession(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	startTime := time.Now()

	identity, ok := identityFromContext(ctx)
	if !ok {
		respondWithError(w, h.logger, http.StatusUnauthorized, errNoIdentity, "Authentication required")
		return
	}

	var input service.CreateSessionInput
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
			respondWithError(w, h.logger, http.StatusBadRequest, err, "Invalid request body")
			return
		}
	}
	if err := h.validate.Struct(&input); err != nil {
		respondWithError(w, h.logger, http.StatusBadRequest, err, "Invalid session request")
		return
	}

	result, err := h.sessionService.CreateSession(ctx, identity.UserID, identity.Email, input)
	if err != nil {
		respondWithError(w, h.logger, getStatusCode(err), err, "Failed to create verification session")
		return
	}

	respondWithJSON(w, h.logger, http.StatusCreated, successResponse(result, "Verification session created"))
	h.logger.Info("Session created via HTTP",
		util.String("session_id", result.SessionID),
		util.Duration("duration", time.Since(startTime)),
		util.String("method", "CreateSession"),
	)
}

// GetStatus returns the current status, refreshing from the provider
// while the session is still in flight.
func (h *KYCHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	identity, ok := identityFromContext(ctx)
	if !ok {
		respondWithError(w, h.logger, http.StatusUnauthorized, errNoIdentity, "Authentication required")
		return
	}

	sessionID := chi.URLParam(r, "sessionID")
	view, err := h.sessionService.GetStatus(ctx, sessionID, identity.UserID)
	if err != nil {
		respondWithError(w, h.logger, getStatusCode(err), err, "Failed to get session status")
		return
	}

	respondWithJSON(w, h.logger, http.StatusOK, successResponse(view, "Session status retrieved"))
}

// ListSessions returns the caller's history, or only the latest session
// when ?latest=true.
func (h *KYCHandler) ListSessions(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	identity, ok := identityFromContext(ctx)
	if !ok {
		respondWithError(w, h.logger, http.StatusUnauthorized, errNoIdentity, "Authentication required")
		return
	}

	latestOnly := r.URL.Query().Get("latest") == "true"
	views, err := h.sessionService.ListForUser(ctx, identity.UserID, latestOnly)
	if err != nil {
		respondWithError(w, h.logger, getStatusCode(err), err, "Failed to list sessions")
		return
	}

	respondWithJSON(w, h.logger, http.StatusOK, successResponse(views, "Sessions retrieved"))
}

// VerificationFlag returns the caller's account-level verification
// flag, the coarse value other services gate on.
func (h *KYCHandler) VerificationFlag(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	identity, ok := identityFromContext(ctx)
	if !ok {
		respondWithError(w, h.logger, http.StatusUnauthorized, errNoIdentity, "Authentication required")
		return
	}

	flag, err := h.sessionService.VerificationFlag(ctx, identity.UserID)
	if err != nil {
		respondWithError(w, h.logger, getStatusCode(err), err, "Failed to read verification flag")
		return
	}

	respondWithJSON(w, h.logger, http.StatusOK, successResponse(map[string]any{
		"user_id":          identity.UserID,
		"kyc_verification": flag,
	}, "Verification flag retrieved"))
}
