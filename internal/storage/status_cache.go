package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/cfd-ledger/internal/models"
	"github.com/redis/go-redis/v9"
)

// CacheKeyType represents different types of cache keys
type CacheKeyType string

const (
	// CacheKeySale is for sale-wide documents
	CacheKeySale CacheKeyType = "sale"
)

// GenerateCacheKey generates a cache key for a given type and parameters
// Format: <type>:<param1>:<param2>:...
func GenerateCacheKey(keyType CacheKeyType, params ...string) string {
	parts := make([]string, 0, len(params)+1)
	parts = append(parts, string(keyType))
	for _, param := range params {
		parts = append(parts, strings.ToLower(param))
	}
	return strings.Join(parts, ":")
}

// StatusCacheKey is where the cached phase snapshot lives
var StatusCacheKey = GenerateCacheKey(CacheKeySale, "status")

// StatusVersionKey counts invalidations; a snapshot is written only under the version it was read at
var StatusVersionKey = GenerateCacheKey(CacheKeySale, "status", "version")

// setIfVersionScript stores the snapshot only when no invalidation happened since the caller's read
var setIfVersionScript = redis.NewScript(`
	local current = redis.call('GET', KEYS[2]) or '0'
	if current ~= ARGV[1] then
		return 0
	end
	redis.call('SET', KEYS[1], ARGV[2], 'PX', ARGV[3])
	return 1
`)

// StatusCache caches the phases behind the sale status in Redis as JSON.
// The ledger stays authoritative: entries expire after ttl and are dropped after every
// committed phase change. The status itself is rendered from the phases at request time.
type StatusCache struct {
	redis *RedisCache
	ttl   time.Duration
}

// defaultStatusTTL applies when no positive TTL is configured
const defaultStatusTTL = 10 * time.Second

// NewStatusCache creates a new status cache
func NewStatusCache(redis *RedisCache, ttl time.Duration) *StatusCache {
	if ttl <= 0 {
		ttl = defaultStatusTTL
	}
	return &StatusCache{
		redis: redis,
		ttl:   ttl,
	}
}

// Get returns the cached phases and the current version. On a miss ok is false and the
// version is still valid for a following Set.
func (c *StatusCache) Get(ctx context.Context) (phases []*models.Phase, version int64, ok bool, err error) {
	values, err := c.redis.Client().MGet(ctx, StatusCacheKey, StatusVersionKey).Result()
	if err != nil {
		return nil, 0, false, fmt.Errorf("failed to get from cache: %w", err)
	}

	if raw, isString := values[1].(string); isString {
		version, err = strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, 0, false, fmt.Errorf("failed to parse cache version %q: %w", raw, err)
		}
	}

	data, isString := values[0].(string)
	if !isString {
		return nil, version, false, nil
	}
	if err := json.Unmarshal([]byte(data), &phases); err != nil {
		return nil, version, false, fmt.Errorf("failed to unmarshal cached value: %w", err)
	}
	return phases, version, true, nil
}

// Set stores phases if the version is unchanged since Get. It reports whether the write happened.
func (c *StatusCache) Set(ctx context.Context, version int64, phases []*models.Phase) (bool, error) {
	data, err := json.Marshal(phases)
	if err != nil {
		return false, fmt.Errorf("failed to marshal value: %w", err)
	}
	stored, err := setIfVersionScript.Run(ctx, c.redis.Client(),
		[]string{StatusCacheKey, StatusVersionKey},
		strconv.FormatInt(version, 10), data, c.ttl.Milliseconds(),
	).Int()
	if err != nil {
		return false, fmt.Errorf("failed to set cache: %w", err)
	}
	return stored == 1, nil
}

// Invalidate drops the cached phases and bumps the version so in-flight readers cannot
// write back what they read before the change
func (c *StatusCache) Invalidate(ctx context.Context) error {
	_, err := c.redis.Client().TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, StatusCacheKey)
		pipe.Incr(ctx, StatusVersionKey)
		return nil
	})
	return err
}
