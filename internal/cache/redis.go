package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// client is the subset of the Redis API the cache needs.
type client interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Ping(ctx context.Context) *redis.StatusCmd
	Close() error
}

// ResultCache handles Redis-based caching of masked payloads
type ResultCache struct {
	client client
	config *Config
	logger *zap.Logger
	hits   atomic.Int64
	misses atomic.Int64
}

// New creates a new Redis-based result cache
func New(config *Config, logger *zap.Logger) (*ResultCache, error) {
	opts, err := redis.ParseURL(config.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	// Configure connection pool
	opts.PoolSize = config.MaxConnections
	opts.MinIdleConns = config.MinIdleConns

	cache := newWithClient(redis.NewClient(opts), config, logger)

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := cache.client.Ping(ctx).Err(); err != nil {
		cache.client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	logger.Info("Result cache initialized successfully",
		zap.String("redis_url", maskRedisURL(config.RedisURL)),
		zap.Int("max_connections", config.MaxConnections),
		zap.Duration("default_ttl", config.DefaultTTL))

	return cache, nil
}

func newWithClient(c client, config *Config, logger *zap.Logger) *ResultCache {
	return &ResultCache{
		client: c,
		config: config,
		logger: logger,
	}
}

// Get looks up the masked result for payload under the given rule set
// fingerprint. Lookup failures are logged and reported as a miss.
func (rc *ResultCache) Get(ctx context.Context, fingerprint, payload string) (*Entry, bool) {
	key := rc.Key(fingerprint, payload)

	data, err := rc.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		rc.misses.Add(1)
		rc.logger.Debug("Cache miss", zap.String("key", key))
		return nil, false
	} else if err != nil {
		rc.misses.Add(1)
		rc.logger.Error("Cache lookup failed", zap.Error(err))
		return nil, false
	}

	var entry Entry
	if err := json.Unmarshal([]byte(data), &entry); err != nil {
		rc.misses.Add(1)
		rc.logger.Error("Failed to unmarshal cached result", zap.Error(err))
		return nil, false
	}

	rc.hits.Add(1)
	rc.logger.Debug("Cache hit", zap.String("key", key), zap.String("label", entry.ResolvedLabel))
	return &entry, true
}

// Store caches a masked result with the configured TTL
func (rc *ResultCache) Store(ctx context.Context, fingerprint, payload string, entry *Entry) error {
	key := rc.Key(fingerprint, payload)
	entry.CachedAt = time.Now()

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal result for caching: %w", err)
	}

	if err := rc.client.Set(ctx, key, data, rc.config.DefaultTTL).Err(); err != nil {
		rc.logger.Error("Failed to cache result", zap.Error(err))
		return fmt.Errorf("failed to cache result: %w", err)
	}

	return nil
}

// Stats returns cache hit statistics
func (rc *ResultCache) Stats() Stats {
	stats := Stats{
		Hits:   rc.hits.Load(),
		Misses: rc.misses.Load(),
	}
	if total := stats.Hits + stats.Misses; total > 0 {
		stats.HitRate = float64(stats.Hits) / float64(total) * 100
	}
	return stats
}

// Close closes the Redis connection
func (rc *ResultCache) Close() error {
	if rc.client != nil {
		return rc.client.Close()
	}
	return nil
}

// Key derives the cache key. The fingerprint changes whenever the rule set
// changes, so reloaded rules never serve stale results.
func (rc *ResultCache) Key(fingerprint, payload string) string {
	hasher := sha256.New()
	hasher.Write([]byte(fingerprint))
	hasher.Write([]byte{'|'})
	hasher.Write([]byte(payload))
	return fmt.Sprintf("%s:mask:%s", rc.config.KeyPrefix, hex.EncodeToString(hasher.Sum(nil)))
}

// maskRedisURL masks sensitive information in Redis URL for logging
func maskRedisURL(url string) string {
	if strings.Contains(url, "@") {
		parts := strings.Split(url, "@")
		if len(parts) >= 2 {
			userPart := parts[0]
			if strings.Contains(userPart, ":") {
				userParts := strings.Split(userPart, ":")
				if len(userParts) >= 3 {
					userParts[len(userParts)-1] = "***"
					parts[0] = strings.Join(userParts, ":")
				}
			}
			return strings.Join(parts, "@")
		}
	}
	return url
}
