package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"kyc-service/internal/client"
	"kyc-service/internal/kyc"
	"kyc-service/internal/util"
)

// StatusEvent is the record published for every session status
// transition. Downstream consumers (risk, CRM, analytics) key on the
// owning user so ordering per user is preserved by partition.
type StatusEvent struct {
	SessionID  string     `json:"session_id"`
	UserID     string     `json:"user_id"`
	FromStatus kyc.Status `json:"from_status"`
	ToStatus   kyc.Status `json:"to_status"`
	Terminal   bool       `json:"terminal"`
	EventID    string     `json:"event_id,omitempty"`
	OccurredAt time.Time  `json:"occurred_at"`
}

// Publisher emits session status transitions. Implementations must be
// safe for concurrent use.
type Publisher interface {
	PublishStatusChange(ctx context.Context, event StatusEvent) error
}

type kafkaPublisher struct {
	producer *client.KafkaProducer
	logger   *zap.Logger
}

func NewKafkaPublisher(producer *client.KafkaProducer, logger *zap.Logger) Publisher {
	return &kafkaPublisher{
		producer: producer,
		logger:   logger,
	}
}

func (p *kafkaPublisher) PublishStatusChange(ctx context.Context, event StatusEvent) error {
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now().UTC()
	}

	value, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to encode status event: %w", err)
	}

	if err := p.producer.Publish(ctx, []byte(event.UserID), value); err != nil {
		return fmt.Errorf("failed to publish status event for session %s: %w", event.SessionID, err)
	}

	p.logger.Debug("status event published",
		util.String("session_id", event.SessionID),
		util.String("to_status", string(event.ToStatus)),
	)
	return nil
}

// NoopPublisher is used when the broker is disabled in config.
type NoopPublisher struct{}

func (NoopPublisher) PublishStatusChange(context.Context, StatusEvent) error { return nil }
