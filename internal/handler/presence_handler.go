package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"kyc-service/internal/realtime"
)

// PresenceHandler exposes the gateway-facing presence routes. The
// frontend gateway heartbeats while it holds a live socket for a user,
// so realtime emits only target users somebody can deliver to.
type PresenceHandler struct {
	registry realtime.ConnectionRegistry
	logger   *zap.Logger
}

func NewPresenceHandler(registry realtime.ConnectionRegistry, logger *zap.Logger) *PresenceHandler {
	return &PresenceHandler{
		registry: registry,
		logger:   logger,
	}
}

func (h *PresenceHandler) RegisterRoutes(router chi.Router) {
	router.Group(func(r chi.Router) {
		r.Use(RequireUser)
		r.Get("/presence", h.Status)
		r.Put("/presence", h.Heartbeat)
		r.Delete("/presence", h.Disconnect)
	})
}

// Heartbeat refreshes the caller's presence key. The key lapses on its
// own when heartbeats stop, so a crashed gateway needs no cleanup.
func (h *PresenceHandler) Heartbeat(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	identity, ok := identityFromContext(ctx)
	if !ok {
		respondWithError(w, h.logger, http.StatusUnauthorized, errNoIdentity, "Authentication required")
		return
	}

	if err := h.registry.MarkOnline(ctx, identity.UserID); err != nil {
		respondWithError(w, h.logger, http.StatusInternalServerError, err, "Failed to record presence")
		return
	}

	respondWithJSON(w, h.logger, http.StatusOK, successResponse(map[string]bool{"online": true}, "Presence recorded"))
}

// Disconnect drops the presence key immediately on a clean socket close.
func (h *PresenceHandler) Disconnect(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	identity, ok := identityFromContext(ctx)
	if !ok {
		respondWithError(w, h.logger, http.StatusUnauthorized, errNoIdentity, "Authentication required")
		return
	}

	if err := h.registry.MarkOffline(ctx, identity.UserID); err != nil {
		respondWithError(w, h.logger, http.StatusInternalServerError, err, "Failed to clear presence")
		return
	}

	respondWithJSON(w, h.logger, http.StatusOK, successResponse(map[string]bool{"online": false}, "Presence cleared"))
}

func (h *PresenceHandler) Status(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	identity, ok := identityFromContext(ctx)
	if !ok {
		respondWithError(w, h.logger, http.StatusUnauthorized, errNoIdentity, "Authentication required")
		return
	}

	online, err := h.registry.IsOnline(ctx, identity.UserID)
	if err != nil {
		respondWithError(w, h.logger, http.StatusInternalServerError, err, "Failed to read presence")
		return
	}

	respondWithJSON(w, h.logger, http.StatusOK, successResponse(map[string]bool{"online": online}, "Presence retrieved"))
}
