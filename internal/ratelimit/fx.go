package ratelimit

import (
	"github.com/smallbiznis/tally/internal/clock"
	"github.com/smallbiznis/tally/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	Clock clock.Clock
	Cfg   config.Config
}

// NewLimiter prefers redis when an address is configured and falls back to
// the database-backed limiter otherwise.
func NewLimiter(p Params) Limiter {
	if p.Cfg.RateLimit.RedisAddr != "" {
		return newRedisLimiter(p.Log, p.Clock, p.Cfg.RateLimit)
	}
	return newStoreLimiter(p.DB, p.Log, p.Clock, p.Cfg.RateLimit)
}

var Module = fx.Module("ratelimit",
	fx.Provide(NewLimiter),
)
