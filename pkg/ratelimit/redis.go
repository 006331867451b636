package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// tokenBucketScript runs the token bucket atomically in Redis.
// KEYS[1] = bucket key
// ARGV[1] = refill rate (tokens per second)
// ARGV[2] = capacity
// ARGV[3] = cost
// ARGV[4] = current unix timestamp (seconds, fractional)
var tokenBucketScript = redis.NewScript(`
local key = KEYS[1]
local rate = tonumber(ARGV[1])
local capacity = tonumber(ARGV[2])
local cost = tonumber(ARGV[3])
local now = tonumber(ARGV[4])

local state = redis.call("HMGET", key, "tokens", "last_refill")
local tokens = tonumber(state[1])
local last_refill = tonumber(state[2])

if not tokens or not last_refill then
    tokens = capacity
    last_refill = now
end

local elapsed = now - last_refill
if elapsed > 0 then
    tokens = tokens + elapsed * rate
    if tokens > capacity then
        tokens = capacity
    end
    last_refill = now
end

local allowed = 0
if tokens >= cost then
    tokens = tokens - cost
    allowed = 1
end

redis.call("HMSET", key, "tokens", tokens, "last_refill", last_refill)
redis.call("EXPIRE", key, 60)

return {allowed, tokens}
`)

// RedisStore shares token buckets across instances through Redis.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore connects a RedisStore to the given Redis instance.
func NewRedisStore(addr, password string, db int) *RedisStore {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	return &RedisStore{client: rdb}
}

// Allow executes the Lua script to refill and consume in one round trip.
func (s *RedisStore) Allow(ctx context.Context, callerID string, policy Policy, cost int) (bool, error) {
	key := fmt.Sprintf("weft:limiter:%s", callerID)

	perSecond := policy.PerSecond
	if perSecond <= 0 {
		perSecond = 1.0
	}
	burst := policy.Burst
	if burst <= 0 {
		burst = 1
	}
	now := float64(time.Now().UnixMicro()) / 1e6

	res, err := tokenBucketScript.Run(ctx, s.client, []string{key}, perSecond, burst, cost, now).Result()
	if err != nil {
		return false, fmt.Errorf("redis limiter: %w", err)
	}

	results, ok := res.([]interface{})
	if !ok || len(results) != 2 {
		return false, fmt.Errorf("redis limiter: unexpected script response")
	}
	allowed, _ := results[0].(int64)
	return allowed == 1, nil
}
