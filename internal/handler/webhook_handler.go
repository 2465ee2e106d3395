package handler

import (
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"kyc-service/internal/kyc"
	"kyc-service/internal/service"
	"kyc-service/internal/util"
)

// maxWebhookBody bounds the inbound payload; real provider events are a
// few kilobytes.
const maxWebhookBody = 1 << 20

// WebhookHandler receives provider callbacks. It reads the raw body
// before any decoding so signature verification sees the exact bytes
// the provider signed.
type WebhookHandler struct {
	webhookService service.WebhookService
	logger         *zap.Logger
}

func NewWebhookHandler(webhookService service.WebhookService, logger *zap.Logger) *WebhookHandler {
	return &WebhookHandler{
		webhookService: webhookService,
		logger:         logger,
	}
}

func (h *WebhookHandler) RegisterRoutes(router chi.Router) {
	router.Post("/webhook", h.Receive)
}

// Receive answers 401 only for signature failures. Once the signature
// passes, the delivery is acknowledged with 200 regardless of
// downstream outcomes, so the provider never retries for our internal
// failures.
func (h *WebhookHandler) Receive(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	rawBody, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		respondWithError(w, h.logger, http.StatusBadRequest, err, "Failed to read webhook body")
		return
	}

	signature := r.Header.Get(kyc.SignatureHeader)
	timestamp := r.Header.Get(kyc.TimestampHeader)

	if err := h.webhookService.HandleEvent(ctx, rawBody, signature, timestamp); err != nil {
		if errors.Is(err, service.ErrInvalidSignature) {
			h.logger.Warn("webhook rejected",
				util.String("remote_addr", r.RemoteAddr),
				util.ErrorField(err),
			)
			respondWithError(w, h.logger, http.StatusUnauthorized, err, "Invalid webhook signature")
			return
		}
		// Unreachable today; kept so a future surfaced error cannot
		// silently turn into a 200.
		respondWithError(w, h.logger, getStatusCode(err), err, "Webhook processing failed")
		return
	}

	respondWithJSON(w, h.logger, http.StatusOK, successResponse(nil, "Acknowledged"))
}
