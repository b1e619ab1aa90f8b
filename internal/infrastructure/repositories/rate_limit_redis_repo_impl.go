package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// incrementWindowScript mirrors the SQL upsert: it only increments while the
// counter is under the limit and expires the window key on first use.
var incrementWindowScript = redis.NewScript(`
local current = tonumber(redis.call('GET', KEYS[1]) or '0')
if current >= tonumber(ARGV[1]) then
	return {0, current}
end
current = redis.call('INCR', KEYS[1])
if current == 1 then
	redis.call('PEXPIRE', KEYS[1], ARGV[2])
end
return {1, current}
`)

// RedisRateLimitRepository keeps rate-limit windows in Redis
type RedisRateLimitRepository struct {
	client    redis.Scripter
	keyPrefix string
}

func NewRedisRateLimitRepository(client redis.Scripter) *RedisRateLimitRepository {
	return &RedisRateLimitRepository{client: client, keyPrefix: "keygate:ratelimit"}
}

func (r *RedisRateLimitRepository) windowKey(keyID uuid.UUID, windowStart time.Time) string {
	return fmt.Sprintf("%s:%s:%d", r.keyPrefix, keyID, windowStart.UTC().Unix())
}

// Increment counts one request in the window unless the limit is reached
func (r *RedisRateLimitRepository) Increment(ctx context.Context, keyID uuid.UUID, windowStart time.Time, limit int, window time.Duration) (int, bool, error) {
	if limit <= 0 {
		return 0, false, nil
	}
	if window <= 0 {
		window = time.Minute
	}

	// keep the key one extra window so late requests still see the count
	ttl := (2 * window).Milliseconds()
	res, err := incrementWindowScript.Run(ctx, r.client, []string{r.windowKey(keyID, windowStart)}, limit, ttl).Int64Slice()
	if err != nil {
		return 0, false, err
	}
	if len(res) != 2 {
		return 0, false, fmt.Errorf("unexpected rate limit script result: %v", res)
	}
	return int(res[1]), res[0] == 1, nil
}

// DeleteBefore is a no-op; window keys expire on their own.
func (r *RedisRateLimitRepository) DeleteBefore(context.Context, *uuid.UUID, time.Time) (int64, error) {
	return 0, nil
}
