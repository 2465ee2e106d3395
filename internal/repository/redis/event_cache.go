package redis

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"kyc-service/internal/client"
	"kyc-service/internal/util"
)

// EventCache is the fast-path replay filter in front of the
// authoritative per-session audit check. A cache miss never rejects an
// event; it only means the durable check decides.
type EventCache interface {
	// MarkApplied records an event key and reports whether this call
	// was the first to record it.
	MarkApplied(ctx context.Context, eventKey string) (bool, error)
}

const (
	eventKeyPrefix = "kyc:webhook:event:"
	eventKeyTTL    = 48 * time.Hour
)

type eventCache struct {
	redis  *client.RedisClient
	logger *zap.Logger
}

func NewEventCache(redisClient *client.RedisClient, logger *zap.Logger) EventCache {
	return &eventCache{
		redis:  redisClient,
		logger: logger,
	}
}

func (c *eventCache) MarkApplied(ctx context.Context, eventKey string) (bool, error) {
	first, err := c.redis.Client.SetNX(ctx, eventKeyPrefix+eventKey, 1, eventKeyTTL).Result()
	if err != nil {
		return false, fmt.Errorf("failed to mark event %s: %w", eventKey, err)
	}
	if !first {
		c.logger.Debug("duplicate webhook event filtered", util.String("event_key", eventKey))
	}
	return first, nil
}
