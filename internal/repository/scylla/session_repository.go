package scylla

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gocql/gocql"
	"go.uber.org/zap"

	"kyc-service/internal/kyc"
	"kyc-service/internal/models"
	"kyc-service/internal/util"
)

// SummaryCipher encrypts the verified-document summary at rest. The
// repository never stores summary fields in the clear.
type SummaryCipher interface {
	Encrypt(ctx context.Context, plaintext []byte) (ciphertext, encryptedKey []byte, err error)
	Decrypt(ctx context.Context, ciphertext, encryptedKey []byte) ([]byte, error)
}

// SessionRepository persists verification sessions across three
// denormalized tables:
//
//	kyc_sessions             partitioned by (user_bucket, owner_id),
//	                         clustered by created_at DESC then id
//	kyc_sessions_by_id       point lookups by session id
//	kyc_sessions_by_provider pointer rows keyed by provider session id
type SessionRepository interface {
	CreateWithSupersede(ctx context.Context, session *models.VerificationSession, superseded []*models.VerificationSession) error
	GetByID(ctx context.Context, id string) (*models.VerificationSession, error)
	GetByProviderSessionID(ctx context.Context, providerSessionID string) (*models.VerificationSession, error)
	LatestForUser(ctx context.Context, userBucket int, ownerID string) (*models.VerificationSession, error)
	ListForUser(ctx context.Context, userBucket int, ownerID string, limit int) ([]*models.VerificationSession, error)
	Update(ctx context.Context, session *models.VerificationSession) error
	HealthCheck(ctx context.Context) error
}

type sessionRepository struct {
	client *ScyllaClient
	cipher SummaryCipher
	logger *zap.Logger
}

func NewSessionRepository(client *ScyllaClient, cipher SummaryCipher, logger *zap.Logger) SessionRepository {
	return &sessionRepository{
		client: client,
		cipher: cipher,
		logger: logger,
	}
}

const sessionColumns = `user_bucket, owner_id, id, status, services, personal_info, outcome, summary_cipher, summary_key, audit, manual_review, retries_used, retries_allowed, created_at, updated_at`

const (
	insertSessionByUserStmt = `INSERT INTO kyc_sessions (` + sessionColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	insertSessionByIDStmt = `INSERT INTO kyc_sessions_by_id (` + sessionColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	insertSessionByProviderStmt = `INSERT INTO kyc_sessions_by_provider (provider_session_id, id, owner_id, user_bucket, created_at) VALUES (?, ?, ?, ?, ?)`

	updateSessionByUserStmt = `UPDATE kyc_sessions SET status = ?, outcome = ?, summary_cipher = ?, summary_key = ?, audit = ?, manual_review = ?, retries_used = ?, updated_at = ? WHERE user_bucket = ? AND owner_id = ? AND created_at = ? AND id = ?`

	updateSessionByIDStmt = `UPDATE kyc_sessions_by_id SET status = ?, outcome = ?, summary_cipher = ?, summary_key = ?, audit = ?, manual_review = ?, retries_used = ?, updated_at = ? WHERE id = ?`

	selectSessionByIDStmt = `SELECT ` + sessionColumns + ` FROM kyc_sessions_by_id WHERE id = ?`

	selectProviderPointerStmt = `SELECT id FROM kyc_sessions_by_provider WHERE provider_session_id = ?`

	selectLatestForUserStmt = `SELECT ` + sessionColumns + ` FROM kyc_sessions WHERE user_bucket = ? AND owner_id = ? LIMIT 1`

	selectListForUserStmt = `SELECT ` + sessionColumns + ` FROM kyc_sessions WHERE user_bucket = ? AND owner_id = ? LIMIT ?`
)

// sessionRow is the flattened storage shape. Nested documents are kept
// as JSON text columns, except the document summary which is stored
// encrypted.
type sessionRow struct {
	userBucket     int
	ownerID        string
	id             string
	status         string
	services       []string
	personalInfo   string
	outcome        string
	summaryCipher  []byte
	summaryKey     []byte
	audit          string
	manualReview   string
	retriesUsed    int
	retriesAllowed int
	createdAt      time.Time
	updatedAt      time.Time
}

func (r *sessionRepository) encodeSession(ctx context.Context, session *models.VerificationSession) (*sessionRow, error) {
	// The stored status and outcome status are written from the same
	// value so the two can never drift.
	outcome := session.Outcome
	outcome.Status = session.Status
	summary := outcome.Summary
	outcome.Summary = nil

	outcomeJSON, err := json.Marshal(outcome)
	if err != nil {
		return nil, fmt.Errorf("failed to encode outcome: %w", err)
	}
	auditJSON, err := json.Marshal(session.Audit)
	if err != nil {
		return nil, fmt.Errorf("failed to encode audit: %w", err)
	}
	reviewJSON, err := json.Marshal(session.ManualReview)
	if err != nil {
		return nil, fmt.Errorf("failed to encode manual review: %w", err)
	}
	personalJSON, err := json.Marshal(session.PersonalInfo)
	if err != nil {
		return nil, fmt.Errorf("failed to encode personal info: %w", err)
	}

	row := &sessionRow{
		userBucket:     session.UserBucket,
		ownerID:        session.OwnerID,
		id:             session.ID,
		status:         string(session.Status),
		services:       session.Services,
		personalInfo:   string(personalJSON),
		outcome:        string(outcomeJSON),
		audit:          string(auditJSON),
		manualReview:   string(reviewJSON),
		retriesUsed:    session.RetriesUsed,
		retriesAllowed: session.RetriesAllowed,
		createdAt:      session.CreatedAt,
		updatedAt:      session.UpdatedAt,
	}

	if summary != nil {
		plaintext, err := json.Marshal(summary)
		if err != nil {
			return nil, fmt.Errorf("failed to encode summary: %w", err)
		}
		ciphertext, encryptedKey, err := r.cipher.Encrypt(ctx, plaintext)
		if err != nil {
			return nil, fmt.Errorf("failed to encrypt summary: %w", err)
		}
		row.summaryCipher = ciphertext
		row.summaryKey = encryptedKey
	}

	return row, nil
}

func (r *sessionRepository) decodeSession(ctx context.Context, row *sessionRow) (*models.VerificationSession, error) {
	session := &models.VerificationSession{
		UserBucket:     row.userBucket,
		OwnerID:        row.ownerID,
		ID:             row.id,
		Status:         kyc.Status(row.status),
		Services:       row.services,
		RetriesUsed:    row.retriesUsed,
		RetriesAllowed: row.retriesAllowed,
		CreatedAt:      row.createdAt,
		UpdatedAt:      row.updatedAt,
	}

	if row.personalInfo != "" {
		if err := json.Unmarshal([]byte(row.personalInfo), &session.PersonalInfo); err != nil {
			return nil, fmt.Errorf("failed to decode personal info: %w", err)
		}
	}
	if row.outcome != "" {
		if err := json.Unmarshal([]byte(row.outcome), &session.Outcome); err != nil {
			return nil, fmt.Errorf("failed to decode outcome: %w", err)
		}
	}
	if row.audit != "" {
		if err := json.Unmarshal([]byte(row.audit), &session.Audit); err != nil {
			return nil, fmt.Errorf("failed to decode audit: %w", err)
		}
	}
	if row.manualReview != "" {
		if err := json.Unmarshal([]byte(row.manualReview), &session.ManualReview); err != nil {
			return nil, fmt.Errorf("failed to decode manual review: %w", err)
		}
	}

	if len(row.summaryCipher) > 0 {
		plaintext, err := r.cipher.Decrypt(ctx, row.summaryCipher, row.summaryKey)
		if err != nil {
			return nil, fmt.Errorf("failed to decrypt summary: %w", err)
		}
		var summary kyc.Summary
		if err := json.Unmarshal(plaintext, &summary); err != nil {
			return nil, fmt.Errorf("failed to decode summary: %w", err)
		}
		session.Outcome.Summary = &summary
	}

	return session, nil
}

func (r *sessionRepository) appendInsert(batch *gocql.Batch, row *sessionRow, providerSessionID string) {
	batch.Query(insertSessionByUserStmt,
		row.userBucket, row.ownerID, row.id, row.status, row.services,
		row.personalInfo, row.outcome, row.summaryCipher, row.summaryKey,
		row.audit, row.manualReview, row.retriesUsed, row.retriesAllowed,
		row.createdAt, row.updatedAt,
	)
	batch.Query(insertSessionByIDStmt,
		row.userBucket, row.ownerID, row.id, row.status, row.services,
		row.personalInfo, row.outcome, row.summaryCipher, row.summaryKey,
		row.audit, row.manualReview, row.retriesUsed, row.retriesAllowed,
		row.createdAt, row.updatedAt,
	)
	if providerSessionID != "" {
		batch.Query(insertSessionByProviderStmt,
			providerSessionID, row.id, row.ownerID, row.userBucket, row.createdAt,
		)
	}
}

func (r *sessionRepository) appendUpdate(batch *gocql.Batch, row *sessionRow) {
	batch.Query(updateSessionByUserStmt,
		row.status, row.outcome, row.summaryCipher, row.summaryKey,
		row.audit, row.manualReview, row.retriesUsed, row.updatedAt,
		row.userBucket, row.ownerID, row.createdAt, row.id,
	)
	batch.Query(updateSessionByIDStmt,
		row.status, row.outcome, row.summaryCipher, row.summaryKey,
		row.audit, row.manualReview, row.retriesUsed, row.updatedAt,
		row.id,
	)
}

// CreateWithSupersede inserts the new session and cancels any still
// pending sessions for the same user in one logged batch, so a crash
// cannot leave two sessions racing for the user's verification flag.
func (r *sessionRepository) CreateWithSupersede(ctx context.Context, session *models.VerificationSession, superseded []*models.VerificationSession) error {
	row, err := r.encodeSession(ctx, session)
	if err != nil {
		return err
	}

	batch := r.client.Session.NewBatch(gocql.LoggedBatch)
	r.appendInsert(batch, row, session.Audit.ProviderSessionID)

	for _, prior := range superseded {
		priorRow, err := r.encodeSession(ctx, prior)
		if err != nil {
			return err
		}
		r.appendUpdate(batch, priorRow)
	}

	if err := r.client.ExecuteBatch(ctx, batch); err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}

	r.logger.Debug("session persisted",
		util.String("session_id", session.ID),
		util.Int("superseded", len(superseded)),
	)
	return nil
}

// Update rewrites the mutable columns in the by-user and by-id tables.
// The provider pointer row is immutable after create.
func (r *sessionRepository) Update(ctx context.Context, session *models.VerificationSession) error {
	row, err := r.encodeSession(ctx, session)
	if err != nil {
		return err
	}

	batch := r.client.Session.NewBatch(gocql.LoggedBatch)
	r.appendUpdate(batch, row)

	if err := r.client.ExecuteBatch(ctx, batch); err != nil {
		return fmt.Errorf("failed to update session %s: %w", session.ID, err)
	}
	return nil
}

func (r *sessionRepository) scanSession(ctx context.Context, query *gocql.Query) (*models.VerificationSession, error) {
	var row sessionRow
	err := query.WithContext(ctx).Scan(
		&row.userBucket, &row.ownerID, &row.id, &row.status, &row.services,
		&row.personalInfo, &row.outcome, &row.summaryCipher, &row.summaryKey,
		&row.audit, &row.manualReview, &row.retriesUsed, &row.retriesAllowed,
		&row.createdAt, &row.updatedAt,
	)
	if err == gocql.ErrNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return r.decodeSession(ctx, &row)
}

func (r *sessionRepository) GetByID(ctx context.Context, id string) (*models.VerificationSession, error) {
	session, err := r.scanSession(ctx, r.client.Session.Query(selectSessionByIDStmt, id))
	if err != nil {
		return nil, fmt.Errorf("failed to get session %s: %w", id, err)
	}
	return session, nil
}

func (r *sessionRepository) GetByProviderSessionID(ctx context.Context, providerSessionID string) (*models.VerificationSession, error) {
	var id string
	err := r.client.Session.Query(selectProviderPointerStmt, providerSessionID).WithContext(ctx).Scan(&id)
	if err == gocql.ErrNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to resolve provider session %s: %w", providerSessionID, err)
	}
	return r.GetByID(ctx, id)
}

func (r *sessionRepository) LatestForUser(ctx context.Context, userBucket int, ownerID string) (*models.VerificationSession, error) {
	session, err := r.scanSession(ctx, r.client.Session.Query(selectLatestForUserStmt, userBucket, ownerID))
	if err != nil {
		return nil, fmt.Errorf("failed to get latest session for user %s: %w", ownerID, err)
	}
	return session, nil
}

func (r *sessionRepository) ListForUser(ctx context.Context, userBucket int, ownerID string, limit int) ([]*models.VerificationSession, error) {
	if limit <= 0 {
		limit = 50
	}

	iter := r.client.Session.Query(selectListForUserStmt, userBucket, ownerID, limit).WithContext(ctx).Iter()
	defer iter.Close()

	var sessions []*models.VerificationSession
	for {
		var row sessionRow
		ok := iter.Scan(
			&row.userBucket, &row.ownerID, &row.id, &row.status, &row.services,
			&row.personalInfo, &row.outcome, &row.summaryCipher, &row.summaryKey,
			&row.audit, &row.manualReview, &row.retriesUsed, &row.retriesAllowed,
			&row.createdAt, &row.updatedAt,
		)
		if !ok {
			break
		}
		session, err := r.decodeSession(ctx, &row)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, session)
	}
	if err := iter.Close(); err != nil {
		return nil, fmt.Errorf("failed to list sessions for user %s: %w", ownerID, err)
	}
	return sessions, nil
}

func (r *sessionRepository) HealthCheck(ctx context.Context) error {
	return r.client.HealthCheck(ctx)
}
