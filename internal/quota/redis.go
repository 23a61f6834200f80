// SPDX-License-Identifier: MIT

package quota

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// reserveScript performs the check-and-increment server-side, so a burst of
// concurrent submissions admits exactly the remaining budget.
var reserveScript = redis.NewScript(`
local used = tonumber(redis.call('GET', KEYS[1]) or '0')
local delta = tonumber(ARGV[1])
local limit = tonumber(ARGV[2])
if used + delta > limit then
	return 0
end
redis.call('INCRBY', KEYS[1], delta)
redis.call('EXPIRE', KEYS[1], ARGV[3])
return 1
`)

// RedisLedger keeps counters in Redis for multi-instance deployments.
type RedisLedger struct {
	client redis.UniversalClient
	now    func() time.Time
}

// NewRedisLedger wraps an existing client.
func NewRedisLedger(client redis.UniversalClient) *RedisLedger {
	return &RedisLedger{client: client, now: time.Now}
}

func (l *RedisLedger) key(p Principal, resource string) string {
	return fmt.Sprintf("quota:%s:%s:%s:%s", p.Type, p.ID, resource, day(l.now()))
}

// Used returns today's count.
func (l *RedisLedger) Used(ctx context.Context, p Principal, resource string) (int64, error) {
	used, err := l.client.Get(ctx, l.key(p, resource)).Int64()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("quota: read counter: %w", err)
	}
	return used, nil
}

const ttlSeconds = 2 * 24 * 60 * 60

// Increment adds delta without a limit check and returns the new count.
func (l *RedisLedger) Increment(ctx context.Context, p Principal, resource string, delta int64) (int64, error) {
	if delta <= 0 {
		return 0, fmt.Errorf("quota: non-positive delta %d", delta)
	}
	key := l.key(p, resource)
	used, err := l.client.IncrBy(ctx, key, delta).Result()
	if err != nil {
		return 0, fmt.Errorf("quota: increment: %w", err)
	}
	l.client.Expire(ctx, key, ttlSeconds*time.Second)
	return used, nil
}

// CheckAndIncrement reserves delta units or reports false. Keys expire two
// days out; stale buckets clean themselves up.
func (l *RedisLedger) CheckAndIncrement(ctx context.Context, p Principal, resource string, delta, limit int64) (bool, error) {
	if delta <= 0 {
		return false, fmt.Errorf("quota: non-positive delta %d", delta)
	}
	ok, err := reserveScript.Run(ctx, l.client, []string{l.key(p, resource)}, delta, limit, ttlSeconds).Int()
	if err != nil {
		return false, fmt.Errorf("quota: reserve: %w", err)
	}
	return ok == 1, nil
}
