package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// hitScript mirrors apply(). Times are unix milliseconds. The key expires
// when both the window and any cooldown are over, so Redis does the purging.
var hitScript = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local max = tonumber(ARGV[3])
local block = tonumber(ARGV[4])

local state = redis.call('HMGET', key, 'count', 'reset_at', 'blocked_until')
local count = tonumber(state[1]) or 0
local reset_at = tonumber(state[2]) or 0
local blocked_until = tonumber(state[3]) or 0

if blocked_until > now then
  return {0, blocked_until - now}
end
if blocked_until > 0 or reset_at <= now then
  count = 0
  reset_at = now + window
  blocked_until = 0
end

local allowed = 0
local retry = 0
if count < max then
  count = count + 1
  allowed = 1
elseif block > 0 then
  blocked_until = now + block
  retry = block
else
  retry = reset_at - now
end

redis.call('HSET', key, 'count', count, 'reset_at', reset_at, 'blocked_until', blocked_until)
local ttl = math.max(reset_at, blocked_until) - now
if ttl < 1 then ttl = 1 end
redis.call('PEXPIRE', key, ttl)
return {allowed, retry}
`)

type RedisStore struct {
	client redis.Scripter
}

func NewRedisStore(client redis.Scripter) *RedisStore {
	return &RedisStore{client: client}
}

func (s *RedisStore) Hit(ctx context.Context, key string, p Policy, now time.Time) (Decision, error) {
	res, err := hitScript.Run(ctx, s.client, []string{key},
		now.UnixMilli(),
		p.Window.Milliseconds(),
		p.MaxRequests,
		p.BlockDuration.Milliseconds(),
	).Int64Slice()
	if err != nil {
		return Decision{}, fmt.Errorf("run rate limit script: %w", err)
	}
	if len(res) != 2 {
		return Decision{}, fmt.Errorf("unexpected rate limit script result: %v", res)
	}
	if res[0] == 1 {
		return Decision{Allowed: true}, nil
	}
	return Decision{RetryAfterSeconds: ceilSeconds(time.Duration(res[1]) * time.Millisecond)}, nil
}
