package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"kyc-service/internal/bucketing"
	"kyc-service/internal/config"
	"kyc-service/internal/kyc"
	"kyc-service/internal/models"
	"kyc-service/internal/provider"
	"kyc-service/internal/repository/scylla"
	"kyc-service/internal/search"
	"kyc-service/internal/stream"
	"kyc-service/internal/util"
)

const (
	providerName    = "didit"
	providerVersion = "v2"
)

// CreateSessionInput is the caller-supplied part of session creation.
// The owning user comes from the authenticated context, never the body.
type CreateSessionInput struct {
	Mode     string `json:"mode" validate:"omitempty,oneof=hosted embed"`
	Language string `json:"language" validate:"omitempty,bcp47_language_tag"`
}

// CreateSessionResult is the public response shape for a new session.
type CreateSessionResult struct {
	SessionID         string             `json:"session_id"`
	ProviderSessionID string             `json:"provider_session_id,omitempty"`
	HostedURL         string             `json:"hosted_url,omitempty"`
	EmbedToken        string             `json:"embed_token,omitempty"`
	Status            kyc.Status         `json:"status"`
	Checks            *kyc.ChecksPreview `json:"checks,omitempty"`
}

// SessionView is the minimal public projection of a stored session.
// The audit trail never leaves the service layer.
type SessionView struct {
	SessionID  string       `json:"session_id"`
	Status     kyc.Status   `json:"status"`
	HostedURL  string       `json:"hosted_url,omitempty"`
	EmbedToken string       `json:"embed_token,omitempty"`
	Outcome    *OutcomeView `json:"outcome,omitempty"`

	RetriesUsed    int `json:"retries_used"`
	RetriesAllowed int `json:"retries_allowed"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type OutcomeView struct {
	Status      kyc.Status          `json:"status"`
	VerifiedAt  *time.Time          `json:"verified_at,omitempty"`
	Summary     *kyc.Summary        `json:"summary,omitempty"`
	AML         models.AMLScreening `json:"aml"`
	ReasonCodes []string            `json:"reason_codes,omitempty"`
}

// SessionService creates verification sessions and exposes status reads.
type SessionService interface {
	CreateSession(ctx context.Context, userID, email string, input CreateSessionInput) (*CreateSessionResult, error)
	GetStatus(ctx context.Context, sessionID, requesterID string) (*SessionView, error)
	ListForUser(ctx context.Context, userID string, latestOnly bool) ([]*SessionView, error)
	VerificationFlag(ctx context.Context, userID string) (kyc.UserFlag, error)
}

type sessionService struct {
	config    *config.Config
	provider  *provider.Client
	sessions  scylla.SessionRepository
	users     scylla.UserRepository
	buckets   *bucketing.BucketingManager
	indexer   search.Indexer
	publisher stream.Publisher
	logger    *zap.Logger
}

func NewSessionService(
	cfg *config.Config,
	providerClient *provider.Client,
	sessions scylla.SessionRepository,
	users scylla.UserRepository,
	buckets *bucketing.BucketingManager,
	indexer search.Indexer,
	publisher stream.Publisher,
	logger *zap.Logger,
) SessionService {
	return &sessionService{
		config:    cfg,
		provider:  providerClient,
		sessions:  sessions,
		users:     users,
		buckets:   buckets,
		indexer:   indexer,
		publisher: publisher,
		logger:    logger,
	}
}

// CreateSession opens a provider verification session and persists it,
// canceling any prior pending session for the user in the same batch.
func (s *sessionService) CreateSession(ctx context.Context, userID, email string, input CreateSessionInput) (*CreateSessionResult, error) {
	if err := s.config.ValidateProvider(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrKYCMisconfigured, err)
	}
	if userID == "" || email == "" {
		return nil, fmt.Errorf("%w: missing caller identity", ErrInvalidInput)
	}

	mode := input.Mode
	if mode == "" {
		mode = "hosted"
	}

	userBucket := s.buckets.GetUserBucket(userID)

	// Prior sessions are loaded before the provider call: the retry
	// budget must reject here, not after a provider session exists.
	prior, err := s.sessions.ListForUser(ctx, userBucket, userID, 0)
	if err != nil {
		return nil, err
	}
	retriesUsed := len(prior)
	if retriesUsed > models.DefaultRetriesAllowed {
		return nil, ErrRetryBudgetExhausted
	}
	var superseded []*models.VerificationSession
	for _, previous := range prior {
		if previous.NonTerminal() {
			superseded = append(superseded, previous)
		}
	}

	// A fresh key per logical request; the provider uses it to collapse
	// client-side retries into one session.
	idempotencyKey := "kyc-" + uuid.New().String()

	createCtx, cancel := context.WithTimeout(ctx, s.config.Provider.CreateTimeout)
	defer cancel()

	created, err := s.provider.CreateSession(createCtx, userID, email, mode, input.Language, idempotencyKey)
	if err != nil {
		var forbidden *provider.ForbiddenError
		if errors.As(err, &forbidden) {
			s.logger.Error("provider rejected workflow",
				util.String("user_id", userID),
				util.ErrorField(err),
			)
			return nil, fmt.Errorf("%w: %v", ErrProviderForbidden, err)
		}
		s.logger.Error("provider session creation failed",
			util.String("user_id", userID),
			util.ErrorField(err),
		)
		return nil, fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}

	status := kyc.NormalizeCreate(created.RawStatus)
	var checks *kyc.ChecksPreview
	var decisionSnapshot *models.DecisionSnapshot

	// Best-effort decision prime. The decision document rarely exists
	// this early, so 404s are retried briefly and all failures are
	// swallowed.
	if created.ProviderSessionID != "" {
		primeCtx, cancelPrime := context.WithTimeout(ctx, s.config.Provider.PrimeTimeout)
		decision, primeErr := s.provider.FetchDecisionWithRetry(primeCtx, created.ProviderSessionID, 2)
		cancelPrime()
		if primeErr != nil {
			s.logger.Debug("decision prime skipped",
				util.String("provider_session_id", created.ProviderSessionID),
				util.ErrorField(primeErr),
			)
		} else if decision != nil {
			if decision.Status != "" {
				status = kyc.NormalizeCreate(decision.Status)
			}
			preview := kyc.PreviewChecks(decision)
			checks = &preview
			decisionSnapshot = &models.DecisionSnapshot{
				Status:     decision.Status,
				WorkflowID: decision.WorkflowID,
				Features:   decision.Features,
			}
		}
	}

	now := time.Now().UTC()
	session := &models.VerificationSession{
		UserBucket: userBucket,
		ID:         uuid.New().String(),
		OwnerID:    userID,
		Status:     status,
		Services:   []string{"id_verification"},
		Outcome:    models.Outcome{Status: status},
		Audit: models.SessionAudit{
			ProviderName:      providerName,
			ProviderVersion:   providerVersion,
			ProviderSessionID: created.ProviderSessionID,
			IdempotencyKey:    idempotencyKey,
			HostedURL:         created.HostedURL,
			EmbedToken:        created.EmbedToken,
			DecisionSnapshot:  decisionSnapshot,
		},
		RetriesUsed:    retriesUsed,
		RetriesAllowed: models.DefaultRetriesAllowed,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	for _, previous := range superseded {
		previous.Status = kyc.StatusCanceled
		previous.Outcome.Status = kyc.StatusCanceled
		previous.UpdatedAt = now
	}

	if err := s.sessions.CreateWithSupersede(ctx, session, superseded); err != nil {
		// The provider session exists but ours did not commit. Log the
		// identifiers for out-of-band reconciliation; never retry the
		// provider call automatically.
		s.logger.Error("orphaned provider session: persistence failed",
			util.String("user_id", userID),
			util.String("provider_session_id", created.ProviderSessionID),
			util.ErrorField(err),
		)
		return nil, err
	}

	// The session just created is by construction the user's latest, so
	// the flag write needs no guard here.
	if err := s.users.UpsertUser(ctx, &models.User{
		UserID:          userID,
		Email:           email,
		KYCVerification: kyc.Flag(status),
		UpdatedAt:       now,
	}); err != nil {
		s.logger.Warn("user flag write failed after create",
			util.String("user_id", userID),
			util.ErrorField(err),
		)
	}

	s.afterWrite(ctx, session, stream.StatusEvent{
		SessionID:  session.ID,
		UserID:     userID,
		FromStatus: kyc.StatusCreated,
		ToStatus:   status,
		Terminal:   kyc.Terminal(status),
		OccurredAt: now,
	})

	s.logger.Info("verification session created",
		util.String("session_id", session.ID),
		util.String("user_id", userID),
		util.String("status", string(status)),
	)

	return &CreateSessionResult{
		SessionID:         session.ID,
		ProviderSessionID: created.ProviderSessionID,
		HostedURL:         created.HostedURL,
		EmbedToken:        created.EmbedToken,
		Status:            status,
		Checks:            checks,
	}, nil
}

// GetStatus returns the session status, lazily refreshing from the
// provider while the session is still in flight. A failed refresh
// returns the last known state.
func (s *sessionService) GetStatus(ctx context.Context, sessionID, requesterID string) (*SessionView, error) {
	session, err := s.sessions.GetByID(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session == nil || session.OwnerID != requesterID {
		return nil, ErrSessionNotFound
	}

	if session.NonTerminal() && session.Audit.ProviderSessionID != "" {
		refreshCtx, cancel := context.WithTimeout(ctx, s.config.Provider.RefreshTimeout)
		rawStatus, refreshErr := s.provider.GetSession(refreshCtx, session.Audit.ProviderSessionID)
		cancel()
		if refreshErr != nil {
			s.logger.Debug("status refresh failed, returning last known state",
				util.String("session_id", session.ID),
				util.ErrorField(refreshErr),
			)
		} else if refreshed := kyc.NormalizeCreate(rawStatus); refreshed != session.Status {
			previous := session.Status
			session.Status = refreshed
			session.Outcome.Status = refreshed
			session.UpdatedAt = time.Now().UTC()
			if err := s.sessions.Update(ctx, session); err != nil {
				s.logger.Warn("failed to persist refreshed status",
					util.String("session_id", session.ID),
					util.ErrorField(err),
				)
				session.Status = previous
				session.Outcome.Status = previous
			} else {
				s.afterWrite(ctx, session, stream.StatusEvent{
					SessionID:  session.ID,
					UserID:     session.OwnerID,
					FromStatus: previous,
					ToStatus:   refreshed,
					Terminal:   kyc.Terminal(refreshed),
				})
			}
		}
	}

	return projectSession(session, true), nil
}

func (s *sessionService) ListForUser(ctx context.Context, userID string, latestOnly bool) ([]*SessionView, error) {
	bucket := s.buckets.GetUserBucket(userID)

	if latestOnly {
		latest, err := s.sessions.LatestForUser(ctx, bucket, userID)
		if err != nil {
			return nil, err
		}
		if latest == nil {
			return []*SessionView{}, nil
		}
		return []*SessionView{projectSession(latest, false)}, nil
	}

	all, err := s.sessions.ListForUser(ctx, bucket, userID, 0)
	if err != nil {
		return nil, err
	}
	views := make([]*SessionView, 0, len(all))
	for _, session := range all {
		views = append(views, projectSession(session, false))
	}
	return views, nil
}

// VerificationFlag returns the account-level flag downstream services
// gate on. Users with no verification history read as n/a.
func (s *sessionService) VerificationFlag(ctx context.Context, userID string) (kyc.UserFlag, error) {
	user, err := s.users.GetUser(ctx, userID)
	if err != nil {
		return kyc.FlagNA, err
	}
	if user == nil {
		return kyc.FlagNA, nil
	}
	return user.KYCVerification, nil
}

// afterWrite handles the best-effort fan-out after a persisted change:
// search index and the status stream. Failures are logged only.
func (s *sessionService) afterWrite(ctx context.Context, session *models.VerificationSession, event stream.StatusEvent) {
	if err := s.indexer.IndexSession(ctx, session); err != nil {
		s.logger.Warn("session indexing failed",
			util.String("session_id", session.ID),
			util.ErrorField(err),
		)
	}
	if err := s.publisher.PublishStatusChange(ctx, event); err != nil {
		s.logger.Warn("status publish failed",
			util.String("session_id", session.ID),
			util.ErrorField(err),
		)
	}
}

func projectSession(session *models.VerificationSession, includeAccess bool) *SessionView {
	view := &SessionView{
		SessionID:      session.ID,
		Status:         session.Status,
		RetriesUsed:    session.RetriesUsed,
		RetriesAllowed: session.RetriesAllowed,
		CreatedAt:      session.CreatedAt,
		UpdatedAt:      session.UpdatedAt,
	}
	if includeAccess {
		view.HostedURL = session.Audit.HostedURL
		view.EmbedToken = session.Audit.EmbedToken
	}
	if kyc.Terminal(session.Status) {
		view.Outcome = &OutcomeView{
			Status:      session.Outcome.Status,
			VerifiedAt:  session.Outcome.VerifiedAt,
			Summary:     session.Outcome.Summary,
			AML:         session.Outcome.AML,
			ReasonCodes: session.Outcome.ReasonCodes,
		}
	}
	return view
}
