package redis

import (
	"context"
	"fmt"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/sncs/nursecall-engine/internal/ratelimit"
)

// admitScript increments the window counter and sets its expiry on
// first use, so the key vanishes with the window it counts.
var admitScript = goredis.NewScript(`
local current = redis.call("INCR", KEYS[1])
if current == 1 then
  redis.call("EXPIRE", KEYS[1], ARGV[2])
end
if current > tonumber(ARGV[1]) then
  return 0
end
return 1
`)

var _ ratelimit.Limiter = (*RedisLimiter)(nil)

// RedisLimiter is a distributed fixed-window limiter. Each (client,
// group) pair gets one counter per window; the window length and limit
// come from the group's quota. Preferred over the database limiter when
// Redis is configured, since admission stays off the primary database.
type RedisLimiter struct {
	client *goredis.Client
	now    func() time.Time
	script *goredis.Script
}

func NewRedisLimiter(client *goredis.Client) (*RedisLimiter, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	return &RedisLimiter{client: client, now: time.Now, script: admitScript}, nil
}

func (r *RedisLimiter) Admit(ctx context.Context, clientKey string, group ratelimit.Group) (ratelimit.Decision, error) {
	if r == nil || r.client == nil || r.script == nil {
		return ratelimit.Decision{}, fmt.Errorf("rate limiter is not initialized")
	}

	normalizedKey := strings.ToLower(strings.TrimSpace(clientKey))
	if normalizedKey == "" {
		return ratelimit.Decision{}, fmt.Errorf("client key is required")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	rule := ratelimit.RuleFor(group)
	windowSeconds := int64(rule.Window / time.Second)
	if windowSeconds <= 0 {
		windowSeconds = 1
	}

	epoch := r.now().UTC().Unix() / windowSeconds
	key := fmt.Sprintf("ratelimit:%s:%s:%d", group, normalizedKey, epoch)

	result, err := r.script.Run(ctx, r.client, []string{key}, rule.Limit, windowSeconds).Int()
	if err != nil {
		return ratelimit.Decision{}, fmt.Errorf("failed to evaluate rate limit: %w", err)
	}
	if result != 1 {
		// The window is fixed, so the remainder of it bounds the wait.
		elapsed := r.now().UTC().Unix() % windowSeconds
		retryAfter := time.Duration(windowSeconds-elapsed) * time.Second
		return ratelimit.Decision{Allowed: false, RetryAfter: retryAfter}, nil
	}
	return ratelimit.Decision{Allowed: true}, nil
}
