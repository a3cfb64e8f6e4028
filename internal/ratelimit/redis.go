package ratelimit

import (
	"context"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/pkg/errors"
)

// acquireScript stores {start, count} in a hash per recipient. Times are
// unix milliseconds supplied by the caller.
var acquireScript = redis.NewScript(`
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local cap = tonumber(ARGV[3])
local start = tonumber(redis.call('HGET', KEYS[1], 'start'))
local count = tonumber(redis.call('HGET', KEYS[1], 'count'))
if (not start) or (now - start >= window) then
	redis.call('HSET', KEYS[1], 'start', now, 'count', 1)
	redis.call('PEXPIRE', KEYS[1], window)
	return {1, 1, now}
end
if count < cap then
	count = redis.call('HINCRBY', KEYS[1], 'count', 1)
	return {1, count, start}
end
return {0, count, start}
`)

// RedisStore shares windows between processes through Redis.
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore wraps a go-redis client. Keys are "<prefix><recipient>".
func NewRedisStore(client *redis.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "partnercenter:ratelimit:"
	}
	return &RedisStore{client: client, prefix: prefix}
}

// NewRedisClient builds a client for addr.
func NewRedisClient(addr, password string) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       0,
	})
}

func (r *RedisStore) Acquire(ctx context.Context, key string, now time.Time, cap int, length time.Duration) (Decision, error) {
	res, err := acquireScript.Run(ctx, r.client, []string{r.prefix + key},
		now.UnixMilli(), length.Milliseconds(), cap).Result()
	if err != nil {
		return Decision{}, errors.Wrap(err, "rate limit script")
	}

	vals, ok := res.([]interface{})
	if !ok || len(vals) != 3 {
		return Decision{}, errors.Errorf("unexpected rate limit reply %v", res)
	}
	allowed, _ := vals[0].(int64)
	count, _ := vals[1].(int64)
	start, _ := vals[2].(int64)

	remaining := cap - int(count)
	if remaining < 0 {
		remaining = 0
	}
	return Decision{
		Allowed:   allowed == 1,
		Remaining: remaining,
		ResetAt:   time.UnixMilli(start).Add(length),
	}, nil
}
