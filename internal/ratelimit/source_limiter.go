package ratelimit

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// SourceLimiter is a distributed token bucket keyed by alert source. It
// shields the incident queue from alert storms: a misconfigured Alertmanager
// re-sending the same group every few seconds burns through its own bucket
// without starving other sources.
type SourceLimiter struct {
	client   *redis.Client
	capacity int
	refill   float64 // tokens per second
	ttl      time.Duration
}

// NewSourceLimiter constructs a limiter with the provided capacity/refill.
// Idle buckets expire after ttl.
func NewSourceLimiter(client *redis.Client, capacity int, refillPerSecond float64, ttl time.Duration) *SourceLimiter {
	return &SourceLimiter{
		client:   client,
		capacity: capacity,
		refill:   refillPerSecond,
		ttl:      ttl,
	}
}

// Allow consumes a single token for the given alert source if available.
// Returns the allowed flag and the remaining token count.
func (l *SourceLimiter) Allow(ctx context.Context, source string) (bool, float64, error) {
	if source == "" {
		source = "default"
	}
	now := time.Now().UnixMilli()
	res, err := bucketScript.Run(ctx, l.client, []string{"ratelimit:source:" + source},
		l.capacity, l.refill, now, l.ttl.Milliseconds()).Result()
	if err != nil {
		return false, 0, err
	}
	arr, ok := res.([]interface{})
	if !ok || len(arr) < 2 {
		return false, 0, err
	}
	allowed := arr[0].(int64) == 1
	var tokens float64
	switch v := arr[1].(type) {
	case int64:
		tokens = float64(v)
	case float64:
		tokens = v
	}
	return allowed, tokens, nil
}

var bucketScript = redis.NewScript(`
local key = KEYS[1]
local capacity = tonumber(ARGV[1])
local refill = tonumber(ARGV[2]) -- tokens per second
local now = tonumber(ARGV[3])
local ttl = tonumber(ARGV[4])

local data = redis.call('HMGET', key, 'tokens', 'last_ms')
local tokens = tonumber(data[1])
local last = tonumber(data[2])
if tokens == nil then tokens = capacity end
if last == nil then last = now end

local delta = math.max(0, now - last)
local add = delta / 1000 * refill
tokens = math.min(capacity, tokens + add)

local allowed = 0
if tokens >= 1 then
  allowed = 1
  tokens = tokens - 1
end

redis.call('HMSET', key, 'tokens', tokens, 'last_ms', now)
if ttl > 0 then redis.call('PEXPIRE', key, ttl) end
return {allowed, tokens}
`)
