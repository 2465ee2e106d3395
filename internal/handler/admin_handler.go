package handler

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"kyc-service/internal/search"
	"kyc-service/internal/service"
	"kyc-service/internal/util"
)

// AdminHandler exposes the back-office listing and manual review.
type AdminHandler struct {
	adminService service.AdminService
	validate     *validator.Validate
	logger       *zap.Logger
}

func NewAdminHandler(adminService service.AdminService, logger *zap.Logger) *AdminHandler {
	return &AdminHandler{
		adminService: adminService,
		validate:     validator.New(),
		logger:       logger,
	}
}

func (h *AdminHandler) RegisterRoutes(router chi.Router) {
	router.Group(func(r chi.Router) {
		r.Use(RequireUser)
		r.Use(RequireAdmin)
		r.Get("/admin", h.ListSessions)
		r.Put("/admin", h.Review)
	})
}

// ListSessions is the paginated back-office search.
func (h *AdminHandler) ListSessions(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	params := r.URL.Query()
	page, _ := strconv.Atoi(params.Get("page"))
	if page < 1 {
		page = 1
	}
	limit, _ := strconv.Atoi(params.Get("limit"))

	var reviewRequired *bool
	if raw := params.Get("review_required"); raw != "" {
		v := raw == "true"
		reviewRequired = &v
	}

	query := search.AdminQuery{
		Status:         params.Get("status"),
		UserID:         params.Get("userId"),
		ReviewRequired: reviewRequired,
		From:           (page - 1) * limit,
		Size:           limit,
	}

	result, err := h.adminService.ListSessions(ctx, query)
	if err != nil {
		respondWithError(w, h.logger, getStatusCode(err), err, "Failed to list sessions")
		return
	}

	respondWithJSON(w, h.logger, http.StatusOK, Response{
		Success: true,
		Data:    result.Sessions,
		Message: "Sessions retrieved",
		Meta: &Meta{
			Total:    result.Total,
			Page:     page,
			PageSize: result.Size,
		},
	})
}

// Review applies a manual verdict to a session.
func (h *AdminHandler) Review(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	identity, ok := identityFromContext(ctx)
	if !ok {
		respondWithError(w, h.logger, http.StatusUnauthorized, errNoIdentity, "Authentication required")
		return
	}

	var input service.ReviewInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		respondWithError(w, h.logger, http.StatusBadRequest, err, "Invalid request body")
		return
	}
	if err := h.validate.Struct(&input); err != nil {
		respondWithError(w, h.logger, http.StatusBadRequest, err, "Invalid review request")
		return
	}

	view, err := h.adminService.Review(ctx, input, identity.UserID)
	if err != nil {
		respondWithError(w, h.logger, getStatusCode(err), err, "Failed to apply review")
		return
	}

	respondWithJSON(w, h.logger, http.StatusOK, successResponse(view, "Review applied"))
	h.logger.Info("Manual review via HTTP",
		util.String("session_id", input.SessionID),
		util.String("reviewer", identity.UserID),
		util.String("decision", input.Decision),
	)
}
