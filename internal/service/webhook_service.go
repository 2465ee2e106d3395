package service

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"kyc-service/internal/config"
	"kyc-service/internal/hashing"
	"kyc-service/internal/kyc"
	"kyc-service/internal/models"
	"kyc-service/internal/provider"
	"kyc-service/internal/realtime"
	"kyc-service/internal/repository/clickhouse"
	redisrepo "kyc-service/internal/repository/redis"
	"kyc-service/internal/repository/scylla"
	"kyc-service/internal/search"
	"kyc-service/internal/stream"
	"kyc-service/internal/util"
)

// WebhookService applies inbound provider events to the session store.
// Only signature failure is surfaced to the caller; every other outcome
// acknowledges the delivery so the provider never retries for failures
// on our side.
type WebhookService interface {
	HandleEvent(ctx context.Context, rawBody []byte, signature, timestamp string) error
}

type webhookService struct {
	config    *config.Config
	provider  *provider.Client
	sessions  scylla.SessionRepository
	users     scylla.UserRepository
	events    redisrepo.EventCache
	eventLog  clickhouse.EventLog
	registry  realtime.ConnectionRegistry
	indexer   search.Indexer
	publisher stream.Publisher
	hasher    *hashing.Hasher
	logger    *zap.Logger
	now       func() time.Time
}

func NewWebhookService(
	cfg *config.Config,
	providerClient *provider.Client,
	sessions scylla.SessionRepository,
	users scylla.UserRepository,
	events redisrepo.EventCache,
	eventLog clickhouse.EventLog,
	registry realtime.ConnectionRegistry,
	indexer search.Indexer,
	publisher stream.Publisher,
	hasher *hashing.Hasher,
	logger *zap.Logger,
) WebhookService {
	return &webhookService{
		config:    cfg,
		provider:  providerClient,
		sessions:  sessions,
		users:     users,
		events:    events,
		eventLog:  eventLog,
		registry:  registry,
		indexer:   indexer,
		publisher: publisher,
		hasher:    hasher,
		logger:    logger,
		now:       time.Now,
	}
}

// HandleEvent verifies, deduplicates and applies one webhook delivery.
// The raw body is verified before any decoding; reserialized bytes would
// not match the provider's signature.
func (s *webhookService) HandleEvent(ctx context.Context, rawBody []byte, signature, timestamp string) error {
	ok := kyc.VerifySignature(rawBody, signature, timestamp,
		[]byte(s.config.Provider.WebhookSecret), s.now(), s.config.Provider.MaxSkew)
	if !ok {
		return ErrInvalidSignature
	}

	var event kyc.Event
	if err := json.Unmarshal(rawBody, &event); err != nil {
		// Authenticated but unparseable. Acknowledge; a retry would
		// deliver the same bytes.
		s.logger.Warn("webhook body unparseable after valid signature", util.ErrorField(err))
		return nil
	}
	if event.SessionID == "" || event.WebhookType == "" {
		s.logger.Warn("webhook missing identifying fields",
			util.String("provider_session_id", event.SessionID),
			util.String("webhook_type", event.WebhookType),
		)
		return nil
	}

	eventKey := event.Key()

	// Fast-path replay filter. A cache error falls through to the
	// authoritative check on the session record.
	if first, err := s.events.MarkApplied(ctx, eventKey); err != nil {
		s.logger.Warn("event cache unavailable", util.ErrorField(err))
	} else if !first {
		return nil
	}

	session, err := s.sessions.GetByProviderSessionID(ctx, event.SessionID)
	if err != nil {
		s.logger.Error("session lookup failed for webhook",
			util.String("provider_session_id", event.SessionID),
			util.ErrorField(err),
		)
		return nil
	}
	if session == nil {
		// Unknown sessions are acknowledged to avoid retry storms.
		s.logger.Info("webhook for unknown session",
			util.String("provider_session_id", event.SessionID),
			util.String("webhook_type", event.WebhookType),
		)
		return nil
	}

	if session.Audit.LastEventID == eventKey {
		s.logger.Debug("duplicate webhook event",
			util.String("session_id", session.ID),
			util.String("event_key", eventKey),
		)
		return nil
	}

	previous := session.Status
	normalized := kyc.Normalize(event.Status)
	occurredAt := event.OccurredAt()

	session.Status = normalized
	session.Outcome.Status = normalized
	session.Audit.LastEventID = eventKey
	session.Audit.LastEventType = event.WebhookType
	session.Audit.LastEventAt = &occurredAt
	session.Audit.AppendEvent(models.AuditEvent{
		ID:         eventKey,
		Type:       event.WebhookType,
		OccurredAt: occurredAt,
		Status:     normalized,
	})
	session.UpdatedAt = s.now().UTC()

	// Terminal detection runs on the raw provider vocabulary, which is
	// wider than the normalized terminal set.
	if kyc.IsTerminalRaw(event.Status) {
		s.snapshotDecision(ctx, session, &event)
	}

	if err := s.sessions.Update(ctx, session); err != nil {
		s.logger.Error("failed to persist webhook update",
			util.String("session_id", session.ID),
			util.String("event_key", eventKey),
			util.ErrorField(err),
		)
		return nil
	}

	s.archiveEvent(ctx, session, &event, eventKey, normalized, occurredAt)
	s.propagateUserFlag(ctx, session, normalized)
	s.emitRealtime(ctx, session, normalized, event.WebhookType)

	if err := s.indexer.IndexSession(ctx, session); err != nil {
		s.logger.Warn("session indexing failed",
			util.String("session_id", session.ID),
			util.ErrorField(err),
		)
	}
	if err := s.publisher.PublishStatusChange(ctx, stream.StatusEvent{
		SessionID:  session.ID,
		UserID:     session.OwnerID,
		FromStatus: previous,
		ToStatus:   normalized,
		Terminal:   kyc.Terminal(normalized),
		EventID:    eventKey,
		OccurredAt: occurredAt,
	}); err != nil {
		s.logger.Warn("status publish failed",
			util.String("session_id", session.ID),
			util.ErrorField(err),
		)
	}

	s.logger.Info("webhook event applied",
		util.String("session_id", session.ID),
		util.String("event_key", eventKey),
		util.String("from", string(previous)),
		util.String("to", string(normalized)),
	)
	return nil
}

// snapshotDecision fetches the decision document for a terminal event
// and folds its summary into the session outcome. Best effort: the last
// known state stands if the fetch fails.
func (s *webhookService) snapshotDecision(ctx context.Context, session *models.VerificationSession, event *kyc.Event) {
	decision := event.Decision
	if decision == nil {
		fetchCtx, cancel := context.WithTimeout(ctx, s.config.Provider.DecisionTimeout)
		defer cancel()

		var err error
		decision, err = s.provider.FetchDecision(fetchCtx, event.SessionID)
		if err != nil {
			s.logger.Warn("decision snapshot skipped",
				util.String("session_id", session.ID),
				util.ErrorField(err),
			)
			return
		}
	}

	summary := kyc.Summarize(decision)
	session.Outcome.Summary = &summary
	verifiedAt := s.now().UTC()
	session.Outcome.VerifiedAt = &verifiedAt

	if aml := decision.AML; aml != nil {
		session.Outcome.AML = models.AMLScreening{
			Screened:     aml.Screened,
			PEP:          aml.PEP,
			SanctionsHit: aml.SanctionsHit,
			Watchlists:   aml.Watchlists,
		}
	}

	session.Audit.DecisionSnapshot = &models.DecisionSnapshot{
		Status:     decision.Status,
		WorkflowID: decision.WorkflowID,
		Features:   decision.Features,
	}

	if idv := decision.IDVerification; idv != nil && idv.DocumentNumber != "" {
		hash, err := s.hasher.HashDocumentNumber(idv.DocumentNumber)
		if err != nil {
			s.logger.Warn("document hash failed",
				util.String("session_id", session.ID),
				util.ErrorField(err),
			)
		} else {
			session.Outcome.DocNumberHash = hash
		}
	}
}

// propagateUserFlag writes the account flag only when the updated
// session is still the user's latest. A late webhook for a superseded
// session must never clobber the flag derived from a newer one.
func (s *webhookService) propagateUserFlag(ctx context.Context, session *models.VerificationSession, status kyc.Status) {
	latest, err := s.sessions.LatestForUser(ctx, session.UserBucket, session.OwnerID)
	if err != nil {
		s.logger.Warn("latest-session lookup failed, flag unchanged",
			util.String("user_id", session.OwnerID),
			util.ErrorField(err),
		)
		return
	}
	if latest == nil || latest.ID != session.ID {
		s.logger.Debug("stale session webhook, flag unchanged",
			util.String("session_id", session.ID),
			util.String("user_id", session.OwnerID),
		)
		return
	}

	if err := s.users.UpdateVerificationFlag(ctx, session.OwnerID, kyc.Flag(status)); err != nil {
		s.logger.Warn("user flag update failed",
			util.String("user_id", session.OwnerID),
			util.ErrorField(err),
		)
	}
}

func (s *webhookService) emitRealtime(ctx context.Context, session *models.VerificationSession, status kyc.Status, webhookType string) {
	payload := map[string]any{
		"session_id":   session.ID,
		"status":       status,
		"webhook_type": webhookType,
	}
	if err := s.registry.EmitToUser(ctx, session.OwnerID, "kyc.status", payload); err != nil {
		s.logger.Warn("realtime emit failed",
			util.String("user_id", session.OwnerID),
			util.ErrorField(err),
		)
	}
}

func (s *webhookService) archiveEvent(ctx context.Context, session *models.VerificationSession, event *kyc.Event, eventKey string, normalized kyc.Status, occurredAt time.Time) {
	err := s.eventLog.Append(ctx, clickhouse.AppliedEvent{
		EventKey:          eventKey,
		SessionID:         session.ID,
		ProviderSessionID: event.SessionID,
		UserID:            session.OwnerID,
		WebhookType:       event.WebhookType,
		RawStatus:         event.Status,
		NormalizedStatus:  normalized,
		Terminal:          kyc.IsTerminalRaw(event.Status),
		OccurredAt:        occurredAt,
	})
	if err != nil {
		s.logger.Warn("event archive failed",
			util.String("event_key", eventKey),
			util.ErrorField(err),
		)
	}
}
