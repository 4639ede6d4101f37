package ratelimit

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/smallbiznis/tally/internal/clock"
	"github.com/smallbiznis/tally/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var testDBSeq int

func newTestLimiter(t *testing.T, max, windowSeconds int) (Limiter, *clock.FakeClock) {
	t.Helper()
	testDBSeq++
	dsn := fmt.Sprintf("file:ratelimit_%d?mode=memory&cache=shared", testDBSeq)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&RateLimitWindow{}))

	fake := clock.NewFakeClock(time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC))
	limiter := newStoreLimiter(db, zap.NewNop(), fake, config.RateLimitConfig{
		MaxRequests:   max,
		WindowSeconds: windowSeconds,
	})
	return limiter, fake
}

func TestAllowUpToLimitThenDeny(t *testing.T) {
	limiter, _ := newTestLimiter(t, 10, 60)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		allowed, err := limiter.Allow(ctx, "acct_1", "credits.consume")
		require.NoError(t, err)
		assert.True(t, allowed, "request %d should pass", i+1)
	}

	allowed, err := limiter.Allow(ctx, "acct_1", "credits.consume")
	require.NoError(t, err)
	assert.False(t, allowed)
}

func TestWindowResetsAfterElapse(t *testing.T) {
	limiter, fake := newTestLimiter(t, 2, 60)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		allowed, err := limiter.Allow(ctx, "acct_1", "credits.consume")
		require.NoError(t, err)
		assert.True(t, allowed)
	}
	allowed, err := limiter.Allow(ctx, "acct_1", "credits.consume")
	require.NoError(t, err)
	assert.False(t, allowed)

	fake.Advance(61 * time.Second)
	allowed, err = limiter.Allow(ctx, "acct_1", "credits.consume")
	require.NoError(t, err)
	assert.True(t, allowed)
}

func TestWindowsAreScopedPerAccountAndOperation(t *testing.T) {
	limiter, _ := newTestLimiter(t, 1, 60)
	ctx := context.Background()

	allowed, err := limiter.Allow(ctx, "acct_1", "credits.consume")
	require.NoError(t, err)
	assert.True(t, allowed)

	allowed, err = limiter.Allow(ctx, "acct_1", "credits.consume")
	require.NoError(t, err)
	assert.False(t, allowed)

	// A different account or operation has its own window.
	allowed, err = limiter.Allow(ctx, "acct_2", "credits.consume")
	require.NoError(t, err)
	assert.True(t, allowed)

	allowed, err = limiter.Allow(ctx, "acct_1", "credits.grant")
	require.NoError(t, err)
	assert.True(t, allowed)
}
