package revalidate

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// redisCoalesceScript claims a contract's revalidation slot atomically.
// KEYS[1] = slot key (e.g. "revalidate:contract:123")
// ARGV[1] = instance id
// ARGV[2] = window TTL in milliseconds
//
// Returns 1 when this instance claimed the slot, 0 when another holds it.
// The holder runs the validation; everyone else drops the trigger, which
// is safe because runs are idempotent and the holder sees the latest
// persisted state.
var redisCoalesceScript = redis.NewScript(`
local key = KEYS[1]
local owner = ARGV[1]
local ttl = tonumber(ARGV[2])

local current = redis.call("GET", key)
if not current then
    redis.call("SET", key, owner, "PX", ttl)
    return 1
end
if current == owner then
    redis.call("PEXPIRE", key, ttl)
    return 1
end
return 0
`)

// RedisCoalescer deduplicates revalidation triggers across instances so a
// contract mutated on several nodes at once is validated by exactly one of
// them per window.
type RedisCoalescer struct {
	client     *redis.Client
	instanceID string
	window     time.Duration
}

// NewRedisCoalescer creates a coalescer on the given Redis address.
func NewRedisCoalescer(addr, password string, db int, instanceID string, window time.Duration) *RedisCoalescer {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	return &RedisCoalescer{client: rdb, instanceID: instanceID, window: window}
}

// Claim reports whether this instance should run the validation for the
// contract in the current window.
func (c *RedisCoalescer) Claim(ctx context.Context, contractID string) (bool, error) {
	key := fmt.Sprintf("revalidate:contract:%s", contractID)
	res, err := redisCoalesceScript.Run(ctx, c.client, []string{key},
		c.instanceID, c.window.Milliseconds()).Int()
	if err != nil {
		return false, fmt.Errorf("revalidate: redis coalesce: %w", err)
	}
	return res == 1, nil
}

// Close releases the Redis client.
func (c *RedisCoalescer) Close() error { return c.client.Close() }
