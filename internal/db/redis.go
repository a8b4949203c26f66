package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/extra/redisotel/v9"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/aminefth/kidsclub-sub001/internal/cache"
)

// CampaignUpdateChannel carries campaign change notifications for other
// instances and the dashboard.
const CampaignUpdateChannel = "campaign-updates"

// scanBatch is the COUNT hint used while walking keys for invalidation.
const scanBatch = 200

// RedisStore wraps a redis client. It is the cache backend and the
// campaign update publisher.
type RedisStore struct {
	Client *redis.Client
}

var _ cache.Store = (*RedisStore)(nil)

// InitRedis initializes a Redis client and returns a RedisStore.
func InitRedis(ctx context.Context, addr string) (*RedisStore, error) {
	rs := &RedisStore{
		Client: redis.NewClient(&redis.Options{Addr: addr}),
	}

	if err := redisotel.InstrumentTracing(rs.Client); err != nil {
		return nil, fmt.Errorf("failed to instrument redis tracing: %w", err)
	}

	if err := rs.Client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	zap.L().Info("Connected to Redis", zap.String("addr", addr))
	return rs, nil
}

// Get returns the raw value for key or cache.ErrMiss.
func (r *RedisStore) Get(ctx context.Context, key string) ([]byte, error) {
	val, err := r.Client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, cache.ErrMiss
	}
	return val, err
}

// Set stores value with a TTL.
func (r *RedisStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return r.Client.Set(ctx, key, value, ttl).Err()
}

// DeletePrefix walks matching keys with SCAN and deletes them in batches.
func (r *RedisStore) DeletePrefix(ctx context.Context, prefix string) error {
	iter := r.Client.Scan(ctx, 0, prefix+"*", scanBatch).Iterator()
	batch := make([]string, 0, scanBatch)
	for iter.Next(ctx) {
		batch = append(batch, iter.Val())
		if len(batch) == scanBatch {
			if err := r.Client.Del(ctx, batch...).Err(); err != nil {
				return err
			}
			batch = batch[:0]
		}
	}
	if err := iter.Err(); err != nil {
		return err
	}
	if len(batch) > 0 {
		return r.Client.Del(ctx, batch...).Err()
	}
	return nil
}

// CampaignUpdate is the payload published on CampaignUpdateChannel.
type CampaignUpdate struct {
	Entity string `json:"entity"`
	Action string `json:"action"`
	ID     string `json:"id"`
}

// PublishCampaignUpdate notifies subscribers that a campaign changed.
func (r *RedisStore) PublishCampaignUpdate(ctx context.Context, action, id string) error {
	payload, err := json.Marshal(CampaignUpdate{Entity: "campaign", Action: action, ID: id})
	if err != nil {
		return err
	}
	return r.Client.Publish(ctx, CampaignUpdateChannel, payload).Err()
}

// Close shuts down the Redis client.
func (r *RedisStore) Close() {
	if r != nil && r.Client != nil {
		if err := r.Client.Close(); err != nil {
			zap.L().Error("redis close", zap.Error(err))
		}
	}
}
