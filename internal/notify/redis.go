package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/terra-clan/bid-engine/internal/config"
	"github.com/terra-clan/bid-engine/internal/models"
)

// RedisEmitter appends events to a Redis stream
type RedisEmitter struct {
	client *redis.Client
	stream string
	maxLen int64
}

// NewRedisEmitter connects to Redis and verifies the connection
func NewRedisEmitter(ctx context.Context, cfg config.RedisConfig) (*RedisEmitter, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return NewRedisEmitterFromClient(client, cfg.Stream, cfg.StreamMaxLen), nil
}

// NewRedisEmitterFromClient wraps an existing client
func NewRedisEmitterFromClient(client *redis.Client, stream string, maxLen int64) *RedisEmitter {
	return &RedisEmitter{
		client: client,
		stream: stream,
		maxLen: maxLen,
	}
}

// Emit adds the event to the stream
func (e *RedisEmitter) Emit(ctx context.Context, ev models.BidEvent) error {
	args := &redis.XAddArgs{
		Stream: e.stream,
		Values: map[string]interface{}{
			"event_id":    ev.ID,
			"type":        string(ev.Type),
			"bid_id":      ev.BidID,
			"parent_id":   ev.ParentID,
			"bidder_id":   ev.BidderID,
			"occurred_at": ev.OccurredAt.UTC().Format(time.RFC3339Nano),
		},
	}
	if e.maxLen > 0 {
		args.MaxLen = e.maxLen
		args.Approx = true
	}

	if err := e.client.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("failed to publish event %s: %w", ev.ID, err)
	}
	return nil
}

// HealthCheck pings Redis
func (e *RedisEmitter) HealthCheck(ctx context.Context) error {
	return e.client.Ping(ctx).Err()
}

// Close closes the Redis connection
func (e *RedisEmitter) Close() error {
	return e.client.Close()
}
