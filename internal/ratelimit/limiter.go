// Package ratelimit applies a fixed-window quota per account and operation.
package ratelimit

import (
	"context"
	"errors"
	"time"
)

// RateLimitWindow is the durable counter for one account and operation pair.
// A row covers exactly one window; rolling into a new window resets it.
type RateLimitWindow struct {
	AccountID   string    `gorm:"type:text;primaryKey"`
	Operation   string    `gorm:"type:text;primaryKey"`
	Count       int       `gorm:"not null"`
	WindowStart time.Time `gorm:"not null"`
	UpdatedAt   time.Time `gorm:"not null"`
}

// TableName sets the database table name.
func (RateLimitWindow) TableName() string { return "rate_limit_windows" }

// Limiter answers whether one more request fits into the current window.
type Limiter interface {
	Allow(ctx context.Context, accountID, operation string) (bool, error)
}

var ErrRateLimited = errors.New("rate_limited")
