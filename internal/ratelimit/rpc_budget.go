// Package ratelimit shares a compute-unit budget for chain RPC calls across every process
// that talks to the same Redis.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Default budget configuration values.
const (
	DefaultTotalBudget    = 500 // CU per window
	DefaultReservedBudget = 300 // Reserved for claims and distributions
	DefaultWindowSize     = time.Second
)

// Redis key prefixes for CU tracking.
const (
	KeyPrefixTotal    = "cu:total:"
	KeyPrefixReserved = "cu:reserved:"
	KeyPrefixShared   = "cu:shared:"
)

// ErrBudgetExhausted is returned when the current window has no budget left for the caller
var ErrBudgetExhausted = errors.New("rpc compute unit budget exhausted")

// Priority levels for budget allocation.
type Priority int

const (
	// PriorityHigh is for money-moving operations (claims, distributions); uses the reserved pool.
	PriorityHigh Priority = iota
	// PriorityLow is for read-only queries (dividend info, projections); uses the shared pool.
	PriorityLow
)

// String returns a string representation of the priority level.
func (p Priority) String() string {
	switch p {
	case PriorityHigh:
		return "high"
	case PriorityLow:
		return "low"
	default:
		return "unknown"
	}
}

type priorityKey struct{}

// WithPriority tags ctx with the budget pool its RPC calls draw from
func WithPriority(ctx context.Context, p Priority) context.Context {
	return context.WithValue(ctx, priorityKey{}, p)
}

// PriorityFrom returns the priority carried by ctx, PriorityHigh when none
func PriorityFrom(ctx context.Context) Priority {
	if p, ok := ctx.Value(priorityKey{}).(Priority); ok {
		return p
	}
	return PriorityHigh
}

// consumeScript checks both the total and the pool counter and increments them together
var consumeScript = redis.NewScript(`
	local totalKey = KEYS[1]
	local poolKey = KEYS[2]
	local cu = tonumber(ARGV[1])
	local totalBudget = tonumber(ARGV[2])
	local poolBudget = tonumber(ARGV[3])
	local ttl = tonumber(ARGV[4])

	local totalUsed = tonumber(redis.call('GET', totalKey) or '0')
	local poolUsed = tonumber(redis.call('GET', poolKey) or '0')

	if totalUsed + cu > totalBudget or poolUsed + cu > poolBudget then
		return {0, totalUsed, poolUsed}
	end

	redis.call('INCRBY', totalKey, cu)
	redis.call('EXPIRE', totalKey, ttl)
	redis.call('INCRBY', poolKey, cu)
	redis.call('EXPIRE', poolKey, ttl)

	return {1, totalUsed + cu, poolUsed + cu}
`)

// RPCBudget is a fixed-window CU budget with a reserved pool for high priority calls
// and a shared pool for everything else.
type RPCBudget struct {
	redis          redis.Cmdable
	totalBudget    int
	reservedBudget int
	sharedBudget   int
	windowSize     time.Duration
	keyTTL         time.Duration
	now            func() time.Time
}

// RPCBudgetConfig holds configuration for the budget.
type RPCBudgetConfig struct {
	// Redis is required; the budget is shared through it.
	Redis          redis.Cmdable
	TotalBudget    int
	ReservedBudget int
	WindowSize     time.Duration
}

// Usage contains the consumption of the current window.
type Usage struct {
	TotalUsed    int
	ReservedUsed int
	SharedUsed   int
	WindowStart  time.Time
}

// NewRPCBudget creates a budget, applying defaults to zero values
func NewRPCBudget(cfg *RPCBudgetConfig) (*RPCBudget, error) {
	if cfg == nil {
		return nil, errors.New("configuration is required")
	}
	if cfg.Redis == nil {
		return nil, errors.New("redis client is required")
	}
	if cfg.TotalBudget < 0 || cfg.ReservedBudget < 0 {
		return nil, errors.New("budgets cannot be negative")
	}

	total, reserved := cfg.TotalBudget, cfg.ReservedBudget
	if total == 0 {
		total = DefaultTotalBudget
		if reserved == 0 {
			reserved = DefaultReservedBudget
		}
	}
	if reserved > total {
		return nil, fmt.Errorf("reserved budget (%d) cannot exceed total budget (%d)", reserved, total)
	}
	window := cfg.WindowSize
	if window == 0 {
		window = DefaultWindowSize
	}

	return &RPCBudget{
		redis:          cfg.Redis,
		totalBudget:    total,
		reservedBudget: reserved,
		sharedBudget:   total - reserved,
		windowSize:     window,
		keyTTL:         2 * window,
		now:            time.Now,
	}, nil
}

func (b *RPCBudget) windowStart() time.Time {
	return b.now().Truncate(b.windowSize)
}

func (b *RPCBudget) keys(windowStart time.Time) (totalKey, reservedKey, sharedKey string) {
	ts := strconv.FormatInt(windowStart.UnixMilli(), 10)
	return KeyPrefixTotal + ts, KeyPrefixReserved + ts, KeyPrefixShared + ts
}

// TryConsume takes cu from the pool of the given priority. When the window is exhausted
// it returns false and the time until the next window. Redis failures deny the call.
func (b *RPCBudget) TryConsume(ctx context.Context, cu int, priority Priority) (bool, time.Duration) {
	if cu <= 0 {
		return true, 0
	}

	start := b.windowStart()
	totalKey, reservedKey, sharedKey := b.keys(start)

	poolKey, poolBudget := sharedKey, b.sharedBudget
	if priority == PriorityHigh {
		poolKey, poolBudget = reservedKey, b.reservedBudget
	}

	ttlSeconds := int(b.keyTTL.Seconds())
	if ttlSeconds < 1 {
		ttlSeconds = 1
	}

	result, err := consumeScript.Run(ctx, b.redis, []string{totalKey, poolKey},
		cu, b.totalBudget, poolBudget, ttlSeconds).Int64Slice()
	if err != nil || len(result) == 0 || result[0] != 1 {
		return false, b.waitTime(start)
	}
	return true, 0
}

// waitTime returns the time until the window after start begins
func (b *RPCBudget) waitTime(start time.Time) time.Duration {
	wait := start.Add(b.windowSize).Sub(b.now())
	if wait < 0 {
		wait = 0
	}
	return wait + time.Millisecond
}

// GetUsage returns the consumption of the current window
func (b *RPCBudget) GetUsage(ctx context.Context) (*Usage, error) {
	start := b.windowStart()
	totalKey, reservedKey, sharedKey := b.keys(start)

	pipe := b.redis.Pipeline()
	totalCmd := pipe.Get(ctx, totalKey)
	reservedCmd := pipe.Get(ctx, reservedKey)
	sharedCmd := pipe.Get(ctx, sharedKey)
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("failed to read rpc budget usage: %w", err)
	}

	return &Usage{
		TotalUsed:    parseIntOrZero(totalCmd),
		ReservedUsed: parseIntOrZero(reservedCmd),
		SharedUsed:   parseIntOrZero(sharedCmd),
		WindowStart:  start,
	}, nil
}

// parseIntOrZero treats missing keys as 0
func parseIntOrZero(cmd *redis.StringCmd) int {
	val, err := cmd.Int()
	if err != nil {
		return 0
	}
	return val
}
