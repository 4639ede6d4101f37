package service

import (
	"context"
	"fmt"
	"testing"

	"github.com/glebarez/sqlite"
	usagedomain "github.com/smallbiznis/tally/internal/usage/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

var testDBSeq int

func newTestService(t *testing.T) (usagedomain.Service, *gorm.DB) {
	t.Helper()
	testDBSeq++
	dsn := fmt.Sprintf("file:usage_svc_%d?mode=memory&cache=shared", testDBSeq)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&usagedomain.UsagePeriod{}))

	return NewService(Params{DB: db, Log: zap.NewNop()}), db
}

func seedPeriod(t *testing.T, db *gorm.DB, period string, totals datatypes.JSONMap, total int64) {
	t.Helper()
	require.NoError(t, db.Create(&usagedomain.UsagePeriod{
		AccountID:    "acct_1",
		Period:       period,
		Totals:       totals,
		TotalCredits: total,
	}).Error)
}

func TestSummaryAggregatesAcrossPeriods(t *testing.T) {
	svc, db := newTestService(t)
	seedPeriod(t, db, "2026-02", datatypes.JSONMap{"image.generate": int64(3)}, 3)
	seedPeriod(t, db, "2026-03", datatypes.JSONMap{"image.generate": int64(2), "video.generate": int64(10)}, 12)

	summary, err := svc.Summary(context.Background(), "acct_1", 12)
	require.NoError(t, err)
	assert.Equal(t, int64(15), summary.TotalCredits)
	assert.Equal(t, int64(5), summary.TotalsByProduct["image.generate"])
	assert.Equal(t, int64(10), summary.TotalsByProduct["video.generate"])
	require.Len(t, summary.UsagePeriods, 2)
	// Most recent period first.
	assert.Equal(t, "2026-03", summary.UsagePeriods[0].Period)
}

func TestSummaryLimitIsCapped(t *testing.T) {
	svc, db := newTestService(t)
	for month := 1; month <= 12; month++ {
		seedPeriod(t, db, fmt.Sprintf("2025-%02d", month), datatypes.JSONMap{"image.generate": int64(1)}, 1)
	}
	seedPeriod(t, db, "2026-01", datatypes.JSONMap{"image.generate": int64(1)}, 1)

	summary, err := svc.Summary(context.Background(), "acct_1", 100)
	require.NoError(t, err)
	assert.Len(t, summary.UsagePeriods, usagedomain.MaxPeriods)

	summary, err = svc.Summary(context.Background(), "acct_1", 2)
	require.NoError(t, err)
	assert.Len(t, summary.UsagePeriods, 2)
	assert.Equal(t, int64(2), summary.TotalCredits)
}

func TestSummaryEmptyAccount(t *testing.T) {
	svc, _ := newTestService(t)

	summary, err := svc.Summary(context.Background(), "ghost", 12)
	require.NoError(t, err)
	assert.Zero(t, summary.TotalCredits)
	assert.Empty(t, summary.UsagePeriods)
	assert.Empty(t, summary.TotalsByProduct)
}
