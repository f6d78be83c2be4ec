package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"gaitstream/internal/metrics"
	"gaitstream/internal/models"
)

// ErrCacheMiss is returned when no cached entry exists for a patient
var ErrCacheMiss = errors.New("threshold cache miss")

// ThresholdCache is a read-through cache for resolved threshold sets.
// It is strictly an optimization: every error degrades to a miss and
// the resolver falls through to the persistence gateway.
type ThresholdCache interface {
	Get(ctx context.Context, patientID string) (models.ThresholdSet, error)
	Set(ctx context.Context, patientID string, set models.ThresholdSet) error
	Invalidate(ctx context.Context, patientID string) error
	Close() error
}

// RedisCache implements ThresholdCache on Redis
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
}

const thresholdKeyPrefix = "gait:thresholds:"

// NewRedisCache connects to Redis and verifies connectivity
func NewRedisCache(ctx context.Context, addr, password string, db int, ttl time.Duration) (*RedisCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	if ttl <= 0 {
		ttl = 5 * time.Minute
	}

	return &RedisCache{client: client, ttl: ttl}, nil
}

// Get fetches the cached set for a patient
func (c *RedisCache) Get(ctx context.Context, patientID string) (models.ThresholdSet, error) {
	var set models.ThresholdSet

	data, err := c.client.Get(ctx, thresholdKeyPrefix+patientID).Bytes()
	if err == redis.Nil {
		metrics.ThresholdCacheHits.WithLabelValues("miss").Inc()
		return set, ErrCacheMiss
	}
	if err != nil {
		metrics.ThresholdCacheHits.WithLabelValues("error").Inc()
		return set, fmt.Errorf("redis get: %w", err)
	}

	if err := json.Unmarshal(data, &set); err != nil {
		// Corrupt entry: treat as a miss so the resolver refreshes it
		metrics.ThresholdCacheHits.WithLabelValues("error").Inc()
		return set, ErrCacheMiss
	}

	metrics.ThresholdCacheHits.WithLabelValues("hit").Inc()
	return set, nil
}

// Set stores the resolved set with the configured TTL
func (c *RedisCache) Set(ctx context.Context, patientID string, set models.ThresholdSet) error {
	data, err := json.Marshal(set)
	if err != nil {
		return fmt.Errorf("marshal thresholds: %w", err)
	}
	return c.client.Set(ctx, thresholdKeyPrefix+patientID, data, c.ttl).Err()
}

// Invalidate removes the cached entry after an override update
func (c *RedisCache) Invalidate(ctx context.Context, patientID string) error {
	return c.client.Del(ctx, thresholdKeyPrefix+patientID).Err()
}

// Close releases the Redis client
func (c *RedisCache) Close() error {
	return c.client.Close()
}

// NoopCache is used when no Redis address is configured
type NoopCache struct{}

func (NoopCache) Get(ctx context.Context, patientID string) (models.ThresholdSet, error) {
	return models.ThresholdSet{}, ErrCacheMiss
}
func (NoopCache) Set(ctx context.Context, patientID string, set models.ThresholdSet) error {
	return nil
}
func (NoopCache) Invalidate(ctx context.Context, patientID string) error { return nil }
func (NoopCache) Close() error                                           { return nil }
