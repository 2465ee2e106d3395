package clickhouse

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"kyc-service/internal/client"
	"kyc-service/internal/kyc"
	"kyc-service/internal/util"
)

// AppliedEvent is one webhook event that passed signature verification
// and the replay filter. Rows are append only; compliance reads them to
// reconstruct how a session reached its decision.
type AppliedEvent struct {
	EventKey          string
	SessionID         string
	ProviderSessionID string
	UserID            string
	WebhookType       string
	RawStatus         string
	NormalizedStatus  kyc.Status
	Terminal          bool
	OccurredAt        time.Time
	AppliedAt         time.Time
}

// EventLog archives applied webhook events.
type EventLog interface {
	Append(ctx context.Context, event AppliedEvent) error
}

type eventLog struct {
	clickhouse *client.ClickHouseClient
	logger     *zap.Logger
}

func NewEventLog(clickhouseClient *client.ClickHouseClient, logger *zap.Logger) EventLog {
	return &eventLog{
		clickhouse: clickhouseClient,
		logger:     logger,
	}
}

const insertEventStmt = `INSERT INTO kyc_webhook_events
	(event_key, session_id, provider_session_id, user_id, webhook_type, raw_status, normalized_status, terminal, occurred_at, applied_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

func (l *eventLog) Append(ctx context.Context, event AppliedEvent) error {
	if event.AppliedAt.IsZero() {
		event.AppliedAt = time.Now().UTC()
	}

	err := l.clickhouse.Conn.Exec(ctx, insertEventStmt,
		event.EventKey,
		event.SessionID,
		event.ProviderSessionID,
		event.UserID,
		event.WebhookType,
		event.RawStatus,
		string(event.NormalizedStatus),
		event.Terminal,
		event.OccurredAt,
		event.AppliedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to archive webhook event %s: %w", event.EventKey, err)
	}

	l.logger.Debug("webhook event archived", util.String("event_key", event.EventKey))
	return nil
}
