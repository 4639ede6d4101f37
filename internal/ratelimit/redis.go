package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/smallbiznis/tally/internal/clock"
	"github.com/smallbiznis/tally/internal/config"
	"go.uber.org/zap"
)

// incrWindow increments the window counter and stamps the TTL on the first
// hit, so the key expires with its window regardless of later increments.
var incrWindow = redis.NewScript(`
local current = redis.call("INCR", KEYS[1])
if current == 1 then
	redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
return current
`)

// redisLimiter counts windows in redis. Keys embed the window start, so a new
// window always begins from a fresh key and expiry handles the cleanup.
type redisLimiter struct {
	client *redis.Client
	log    *zap.Logger
	clock  clock.Clock
	max    int
	window time.Duration
}

func newRedisLimiter(log *zap.Logger, clk clock.Clock, cfg config.RateLimitConfig) Limiter {
	return &redisLimiter{
		client: redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		}),
		log:    log.Named("ratelimit.redis"),
		clock:  clk,
		max:    cfg.MaxRequests,
		window: time.Duration(cfg.WindowSeconds) * time.Second,
	}
}

func (l *redisLimiter) Allow(ctx context.Context, accountID, operation string) (bool, error) {
	windowStart := l.clock.Now().Truncate(l.window)
	key := fmt.Sprintf("ratelimit:%s:%s:%d", accountID, operation, windowStart.Unix())

	count, err := incrWindow.Run(ctx, l.client, []string{key}, l.window.Milliseconds()).Int64()
	if err != nil {
		return false, err
	}
	return count <= int64(l.max), nil
}
