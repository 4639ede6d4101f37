package service

import (
	"context"
	"strings"

	accountdomain "github.com/smallbiznis/tally/internal/account/domain"
	usagedomain "github.com/smallbiznis/tally/internal/usage/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB  *gorm.DB
	Log *zap.Logger
}

type Service struct {
	db  *gorm.DB
	log *zap.Logger
}

func NewService(p Params) usagedomain.Service {
	return &Service{
		db:  p.DB,
		log: p.Log.Named("usage.service"),
	}
}

func (s *Service) Summary(ctx context.Context, accountID string, limit int) (*usagedomain.UsageSummary, error) {
	accountID = strings.TrimSpace(accountID)
	if accountID == "" {
		return nil, accountdomain.ErrInvalidAccount
	}
	if limit <= 0 || limit > usagedomain.MaxPeriods {
		limit = usagedomain.MaxPeriods
	}

	var periods []usagedomain.UsagePeriod
	err := s.db.WithContext(ctx).
		Where("account_id = ?", accountID).
		Order("period desc").
		Limit(limit).
		Find(&periods).Error
	if err != nil {
		return nil, err
	}

	summary := &usagedomain.UsageSummary{
		TotalsByProduct: map[string]int64{},
		UsagePeriods:    periods,
	}
	for _, period := range periods {
		for productID := range period.Totals {
			summary.TotalsByProduct[productID] += usagedomain.TotalOf(period.Totals, productID)
		}
		summary.TotalCredits += period.TotalCredits
	}
	return summary, nil
}
