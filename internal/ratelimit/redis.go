package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// Fixed window: the first hit creates the key with a TTL of one window; later
// hits increment until the limit. Returns {allowed, count, ttl_ms}.
var fixedWindowScript = redis.NewScript(`
local key = KEYS[1]
local limit = tonumber(ARGV[1])
local window = tonumber(ARGV[2])

local current = tonumber(redis.call('GET', key) or '0')
if current == 0 then
    redis.call('SET', key, 1, 'PX', window)
    return {1, 1, window}
end

local ttl = redis.call('PTTL', key)
if ttl < 0 then
    redis.call('PEXPIRE', key, window)
    ttl = window
end

if current >= limit then
    return {0, current, ttl}
end

current = redis.call('INCR', key)
return {1, current, ttl}
`)

// RedisStore shares counters between instances through Redis.
type RedisStore struct {
	client *redis.Client
	prefix string
}

func NewRedisStore(client *redis.Client, prefix string) *RedisStore {
	return &RedisStore{client: client, prefix: prefix}
}

func (s *RedisStore) Hit(ctx context.Context, key string, limit int, window time.Duration, now time.Time) (Entry, bool, error) {
	result, err := fixedWindowScript.Run(ctx, s.client,
		[]string{s.prefix + "ratelimit:" + key},
		limit, window.Milliseconds(),
	).Result()
	if err != nil {
		return Entry{}, false, fmt.Errorf("failed to run rate limit script: %w", err)
	}

	arr, ok := result.([]interface{})
	if !ok || len(arr) < 3 {
		return Entry{}, false, fmt.Errorf("unexpected rate limit reply %v", result)
	}
	allowed, _ := arr[0].(int64)
	count, _ := arr[1].(int64)
	ttl, _ := arr[2].(int64)

	return Entry{
		Count:   int(count),
		ResetAt: now.Add(time.Duration(ttl) * time.Millisecond),
	}, allowed == 1, nil
}
