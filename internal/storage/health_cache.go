package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/prize-distributor/internal/config"
	"github.com/prize-distributor/internal/models"
)

const healthSnapshotKey = "health:snapshot"

// HealthCache is a short-TTL Redis cache for the system health snapshot.
// Dashboards poll health aggressively; the snapshot touches several tables,
// so a few seconds of staleness buys a lot of load off Postgres.
type HealthCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewHealthCache creates a new health snapshot cache
func NewHealthCache(cfg *config.RedisConfig, ttl time.Duration) (*HealthCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         fmt.Sprintf("%s:%s", cfg.Host, cfg.Port),
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.MaxConnections,
		MinIdleConns: 2,
		MaxRetries:   3,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolTimeout:  4 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &HealthCache{client: client, ttl: ttl}, nil
}

// NewHealthCacheWithClient wraps an existing Redis client. Used by tests.
func NewHealthCacheWithClient(client *redis.Client, ttl time.Duration) *HealthCache {
	return &HealthCache{client: client, ttl: ttl}
}

// Close closes the Redis connection
func (c *HealthCache) Close() error {
	if c.client != nil {
		return c.client.Close()
	}
	return nil
}

// Ping checks if Redis is reachable
func (c *HealthCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Get returns the cached snapshot, or ok=false on miss. Cache failures are
// reported as misses with the error attached; callers fall through to a
// fresh computation.
func (c *HealthCache) Get(ctx context.Context) (*models.SystemHealthSnapshot, bool, error) {
	raw, err := c.client.Get(ctx, healthSnapshotKey).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("failed to read health snapshot cache: %w", err)
	}

	var snapshot models.SystemHealthSnapshot
	if err := json.Unmarshal([]byte(raw), &snapshot); err != nil {
		return nil, false, fmt.Errorf("failed to decode cached health snapshot: %w", err)
	}
	return &snapshot, true, nil
}

// Set stores the snapshot with the configured TTL. Degraded snapshots are not
// cached: a partial view should not outlive the failure that produced it.
func (c *HealthCache) Set(ctx context.Context, snapshot *models.SystemHealthSnapshot) error {
	if snapshot.Degraded {
		return nil
	}

	raw, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("failed to encode health snapshot: %w", err)
	}
	if err := c.client.Set(ctx, healthSnapshotKey, raw, c.ttl).Err(); err != nil {
		return fmt.Errorf("failed to cache health snapshot: %w", err)
	}
	return nil
}

// Invalidate drops the cached snapshot. Called after privileged operations so
// the next health read reflects them immediately.
func (c *HealthCache) Invalidate(ctx context.Context) error {
	if err := c.client.Del(ctx, healthSnapshotKey).Err(); err != nil {
		return fmt.Errorf("failed to invalidate health snapshot cache: %w", err)
	}
	return nil
}
