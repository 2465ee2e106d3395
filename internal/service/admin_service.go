package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"kyc-service/internal/kyc"
	"kyc-service/internal/models"
	"kyc-service/internal/repository/scylla"
	"kyc-service/internal/search"
	"kyc-service/internal/stream"
	"kyc-service/internal/util"
)

// ReviewDecision is the administrative verdict vocabulary.
const (
	ReviewApproved    = "approved"
	ReviewRejected    = "rejected"
	ReviewNeedsReview = "needs_review"
)

// ReviewInput is the manual-review request body.
type ReviewInput struct {
	SessionID string `json:"id" validate:"required"`
	Decision  string `json:"decision" validate:"required,oneof=approved rejected needs_review"`
	Notes     string `json:"notes" validate:"omitempty,max=2000"`
}

// AdminService is the trusted back-office surface: session search and
// the manual review override. Reviews bypass provider signature and
// idempotency checks entirely.
type AdminService interface {
	ListSessions(ctx context.Context, query search.AdminQuery) (*search.SearchResult, error)
	Review(ctx context.Context, input ReviewInput, reviewerID string) (*SessionView, error)
}

type adminService struct {
	sessions  scylla.SessionRepository
	users     scylla.UserRepository
	indexer   search.Indexer
	publisher stream.Publisher
	logger    *zap.Logger
}

func NewAdminService(
	sessions scylla.SessionRepository,
	users scylla.UserRepository,
	indexer search.Indexer,
	publisher stream.Publisher,
	logger *zap.Logger,
) AdminService {
	return &adminService{
		sessions:  sessions,
		users:     users,
		indexer:   indexer,
		publisher: publisher,
		logger:    logger,
	}
}

func (s *adminService) ListSessions(ctx context.Context, query search.AdminQuery) (*search.SearchResult, error) {
	return s.indexer.SearchSessions(ctx, query)
}

// Review forces a terminal outcome irrespective of provider status.
func (s *adminService) Review(ctx context.Context, input ReviewInput, reviewerID string) (*SessionView, error) {
	session, err := s.sessions.GetByID(ctx, input.SessionID)
	if err != nil {
		return nil, err
	}
	if session == nil {
		return nil, ErrSessionNotFound
	}

	previous := session.Status
	switch input.Decision {
	case ReviewApproved:
		session.Status = kyc.StatusVerified
	case ReviewRejected:
		session.Status = kyc.StatusFailed
	case ReviewNeedsReview:
		session.Status = kyc.StatusNeedsReview
	default:
		return nil, fmt.Errorf("%w: unknown decision %q", ErrInvalidInput, input.Decision)
	}
	session.Outcome.Status = session.Status

	now := time.Now().UTC()
	session.ManualReview = models.ManualReview{
		Required:   input.Decision != ReviewApproved,
		Reviewer:   reviewerID,
		Notes:      util.SanitizeInput(input.Notes),
		ReviewedAt: &now,
	}
	session.UpdatedAt = now

	if err := s.sessions.Update(ctx, session); err != nil {
		return nil, err
	}

	s.propagateFlag(ctx, session)

	if err := s.indexer.IndexSession(ctx, session); err != nil {
		s.logger.Warn("session indexing failed after review",
			util.String("session_id", session.ID),
			util.ErrorField(err),
		)
	}
	if previous != session.Status {
		if err := s.publisher.PublishStatusChange(ctx, stream.StatusEvent{
			SessionID:  session.ID,
			UserID:     session.OwnerID,
			FromStatus: previous,
			ToStatus:   session.Status,
			Terminal:   kyc.Terminal(session.Status),
			OccurredAt: now,
		}); err != nil {
			s.logger.Warn("status publish failed after review",
				util.String("session_id", session.ID),
				util.ErrorField(err),
			)
		}
	}

	s.logger.Info("manual review applied",
		util.String("session_id", session.ID),
		util.String("decision", input.Decision),
		util.String("reviewer", reviewerID),
	)

	return projectSession(session, false), nil
}

// propagateFlag mirrors the webhook path's latest-session guard, so a
// review of a superseded session cannot move the account flag.
func (s *adminService) propagateFlag(ctx context.Context, session *models.VerificationSession) {
	latest, err := s.sessions.LatestForUser(ctx, session.UserBucket, session.OwnerID)
	if err != nil {
		s.logger.Warn("latest-session lookup failed after review",
			util.String("user_id", session.OwnerID),
			util.ErrorField(err),
		)
		return
	}
	if latest == nil || latest.ID != session.ID {
		return
	}
	if err := s.users.UpdateVerificationFlag(ctx, session.OwnerID, kyc.Flag(session.Status)); err != nil {
		s.logger.Warn("user flag update failed after review",
			util.String("user_id", session.OwnerID),
			util.ErrorField(err),
		)
	}
}
