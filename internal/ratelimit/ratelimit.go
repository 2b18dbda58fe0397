// Package ratelimit counts actions per user in fixed hourly windows.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	ScopeGenerate = "generate"
	ScopeEarn     = "earn"
)

type Decision struct {
	Allowed bool
	Used    int64
	Limit   int64
	ResetAt time.Time
}

type Limiter interface {
	Allow(ctx context.Context, scope, userID string, now time.Time) (Decision, error)
}

func window(now time.Time) (start, end time.Time) {
	start = now.UTC().Truncate(time.Hour)
	return start, start.Add(time.Hour)
}

var incrWithTTLScript = redis.NewScript(`
local c = redis.call("INCR", KEYS[1])
if c == 1 then
  redis.call("EXPIRE", KEYS[1], ARGV[1])
end
return c
`)

type RedisLimiter struct {
	redis  *redis.Client
	limits map[string]int64
}

// NewRedisLimiter applies limits per scope. A scope without a positive limit is unlimited.
func NewRedisLimiter(rdb *redis.Client, limits map[string]int64) *RedisLimiter {
	return &RedisLimiter{redis: rdb, limits: limits}
}

func (r *RedisLimiter) Allow(ctx context.Context, scope, userID string, now time.Time) (Decision, error) {
	limit := r.limits[scope]
	windowStart, windowEnd := window(now)
	if limit <= 0 {
		return Decision{Allowed: true, ResetAt: windowEnd}, nil
	}

	ttl := int64(windowEnd.Sub(now.UTC()).Seconds())
	if ttl < 1 {
		ttl = 1
	}

	key := fmt.Sprintf("halalchat:ratelimit:%s:%s:%s", scope, userID, windowStart.Format("2006010215"))
	used, err := incrWithTTLScript.Run(ctx, r.redis, []string{key}, ttl).Int64()
	if err != nil {
		return Decision{}, fmt.Errorf("rate limit script: %w", err)
	}
	return Decision{Allowed: used <= limit, Used: used, Limit: limit, ResetAt: windowEnd}, nil
}

// MemoryLimiter is the single-process variant used when Redis is not configured.
type MemoryLimiter struct {
	mu     sync.Mutex
	limits map[string]int64
	counts map[string]int64
	window time.Time
}

func NewMemoryLimiter(limits map[string]int64) *MemoryLimiter {
	return &MemoryLimiter{limits: limits, counts: make(map[string]int64)}
}

func (m *MemoryLimiter) Allow(_ context.Context, scope, userID string, now time.Time) (Decision, error) {
	limit := m.limits[scope]
	windowStart, windowEnd := window(now)
	if limit <= 0 {
		return Decision{Allowed: true, ResetAt: windowEnd}, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if !windowStart.Equal(m.window) {
		m.window = windowStart
		m.counts = make(map[string]int64)
	}
	key := scope + ":" + userID
	m.counts[key]++
	used := m.counts[key]
	return Decision{Allowed: used <= limit, Used: used, Limit: limit, ResetAt: windowEnd}, nil
}
