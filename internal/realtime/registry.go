package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"kyc-service/internal/client"
	"kyc-service/internal/util"
)

// ConnectionRegistry pushes status changes to users with a live
// frontend connection. Delivery is best effort; the durable session
// record is always the source of truth.
type ConnectionRegistry interface {
	EmitToUser(ctx context.Context, userID, event string, payload any) error
	IsOnline(ctx context.Context, userID string) (bool, error)
	// MarkOnline refreshes the presence key for a connected user. The
	// gateway calls it on connect and on every heartbeat; the key lapses
	// when heartbeats stop.
	MarkOnline(ctx context.Context, userID string) error
	MarkOffline(ctx context.Context, userID string) error
}

const (
	presenceKeyPrefix = "kyc:presence:"
	userChannelPrefix = "kyc:user:"
	presenceTTL       = 90 * time.Second
)

// message is the envelope published to the per-user channel. Gateway
// instances holding the socket fan it out to the browser.
type message struct {
	Event   string `json:"event"`
	Payload any    `json:"payload"`
	SentAt  int64  `json:"sent_at"`
}

type redisRegistry struct {
	redis  *client.RedisClient
	logger *zap.Logger
}

func NewRedisRegistry(redisClient *client.RedisClient, logger *zap.Logger) ConnectionRegistry {
	return &redisRegistry{
		redis:  redisClient,
		logger: logger,
	}
}

func (r *redisRegistry) EmitToUser(ctx context.Context, userID, event string, payload any) error {
	body, err := json.Marshal(message{
		Event:   event,
		Payload: payload,
		SentAt:  time.Now().UnixMilli(),
	})
	if err != nil {
		return fmt.Errorf("failed to encode realtime message: %w", err)
	}

	if err := r.redis.Client.Publish(ctx, userChannelPrefix+userID, body).Err(); err != nil {
		return fmt.Errorf("failed to publish to user %s: %w", userID, err)
	}

	r.logger.Debug("realtime event published",
		util.String("user_id", userID),
		util.String("event", event),
	)
	return nil
}

func (r *redisRegistry) IsOnline(ctx context.Context, userID string) (bool, error) {
	n, err := r.redis.Client.Exists(ctx, presenceKeyPrefix+userID).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check presence for user %s: %w", userID, err)
	}
	return n > 0, nil
}

func (r *redisRegistry) MarkOnline(ctx context.Context, userID string) error {
	if err := r.redis.Client.Set(ctx, presenceKeyPrefix+userID, 1, presenceTTL).Err(); err != nil {
		return fmt.Errorf("failed to mark user %s online: %w", userID, err)
	}
	return nil
}

// MarkOffline drops the presence key on disconnect.
func (r *redisRegistry) MarkOffline(ctx context.Context, userID string) error {
	if err := r.redis.Client.Del(ctx, presenceKeyPrefix+userID).Err(); err != nil {
		return fmt.Errorf("failed to mark user %s offline: %w", userID, err)
	}
	return nil
}
