package ratelimit

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/smallbiznis/tally/internal/clock"
	"github.com/smallbiznis/tally/internal/config"
	pkgdb "github.com/smallbiznis/tally/pkg/db"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// storeLimiter keeps window counters in the database. Each decision runs a
// short transaction over the counter row, so concurrent requests on one
// account count correctly without any in-process state.
type storeLimiter struct {
	db     *gorm.DB
	log    *zap.Logger
	clock  clock.Clock
	max    int
	window time.Duration
}

func newStoreLimiter(db *gorm.DB, log *zap.Logger, clk clock.Clock, cfg config.RateLimitConfig) Limiter {
	return &storeLimiter{
		db:     db,
		log:    log.Named("ratelimit.store"),
		clock:  clk,
		max:    cfg.MaxRequests,
		window: time.Duration(cfg.WindowSeconds) * time.Second,
	}
}

func (l *storeLimiter) Allow(ctx context.Context, accountID, operation string) (bool, error) {
	now := l.clock.Now()
	windowStart := now.Truncate(l.window)

	allowed := false
	err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var window RateLimitWindow
		stmt := tx.WithContext(ctx)
		if !strings.EqualFold(tx.Dialector.Name(), "sqlite") {
			stmt = stmt.Clauses(clause.Locking{Strength: "UPDATE"})
		}
		err := stmt.
			Where("account_id = ? AND operation = ?", accountID, operation).
			First(&window).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			window = RateLimitWindow{
				AccountID:   accountID,
				Operation:   operation,
				Count:       1,
				WindowStart: windowStart,
				UpdatedAt:   now,
			}
			if err := tx.WithContext(ctx).Create(&window).Error; err != nil {
				if pkgdb.IsDuplicateKeyErr(err) {
					// Another request created the row first; it
					// claimed the first slot, count this one against
					// the same window.
					return l.increment(ctx, tx, accountID, operation, windowStart, now, &allowed)
				}
				return err
			}
			allowed = true
			return nil
		}
		if err != nil {
			return err
		}

		if window.WindowStart.Before(windowStart) {
			// Window elapsed; the counter restarts at one.
			allowed = true
			return tx.WithContext(ctx).Exec(
				`UPDATE rate_limit_windows
				 SET count = 1, window_start = ?, updated_at = ?
				 WHERE account_id = ? AND operation = ?`,
				windowStart,
				now,
				accountID,
				operation,
			).Error
		}

		if window.Count >= l.max {
			return nil
		}
		allowed = true
		return tx.WithContext(ctx).Exec(
			`UPDATE rate_limit_windows
			 SET count = count + 1, updated_at = ?
			 WHERE account_id = ? AND operation = ?`,
			now,
			accountID,
			operation,
		).Error
	})
	if err != nil {
		return false, err
	}
	return allowed, nil
}

func (l *storeLimiter) increment(ctx context.Context, tx *gorm.DB, accountID, operation string, windowStart, now time.Time, allowed *bool) error {
	result := tx.WithContext(ctx).Exec(
		`UPDATE rate_limit_windows
		 SET count = count + 1, updated_at = ?
		 WHERE account_id = ? AND operation = ? AND window_start = ? AND count < ?`,
		now,
		accountID,
		operation,
		windowStart,
		l.max,
	)
	if result.Error != nil {
		return result.Error
	}
	*allowed = result.RowsAffected > 0
	return nil
}
