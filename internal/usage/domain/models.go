// Package domain contains the monthly usage aggregate models.
package domain

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"gorm.io/datatypes"
)

// UsagePeriod accumulates consumption for one account and calendar month.
// Rows are created lazily on first consumption and only ever incremented;
// the merge is commutative so concurrent consumptions both land.
type UsagePeriod struct {
	AccountID    string            `gorm:"primaryKey;type:text"`
	Period       string            `gorm:"primaryKey;type:text"`
	Totals       datatypes.JSONMap `gorm:"type:jsonb"`
	TotalCredits int64             `gorm:"not null;default:0"`
	CreatedAt    time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt    time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (UsagePeriod) TableName() string { return "usage_periods" }

// PeriodKey formats the calendar-month identifier for a point in time.
func PeriodKey(t time.Time) string {
	return t.UTC().Format("2006-01")
}

// TotalOf reads a product total out of the totals map. JSON round-trips
// through the store hand numbers back as float64, so both shapes are
// accepted.
func TotalOf(totals datatypes.JSONMap, productID string) int64 {
	switch v := totals[productID].(type) {
	case int64:
		return v
	case float64:
		return int64(v)
	case int:
		return int64(v)
	case json.Number:
		n, err := v.Int64()
		if err != nil {
			return 0
		}
		return n
	default:
		return 0
	}
}

// MaxPeriods caps how many months a usage query may return.
const MaxPeriods = 12

type UsageSummary struct {
	TotalsByProduct map[string]int64 `json:"totalsByProduct"`
	TotalCredits    int64            `json:"totalCredits"`
	UsagePeriods    []UsagePeriod    `json:"usagePeriods"`
}

type Service interface {
	// Summary returns up to limit most recent periods (capped at
	// MaxPeriods) with totals aggregated across them.
	Summary(ctx context.Context, accountID string, limit int) (*UsageSummary, error)
}

var ErrInvalidLimit = errors.New("invalid_limit")
