package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/smallbiznis/tally/internal/clock"
	subscriptiondomain "github.com/smallbiznis/tally/internal/subscription/domain"
	pkgdb "github.com/smallbiznis/tally/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	Clock clock.Clock
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	clock clock.Clock
}

func NewService(p Params) subscriptiondomain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("subscription.service"),
		clock: p.Clock,
	}
}

func (s *Service) Create(ctx context.Context, req subscriptiondomain.CreateSubscriptionRequest) (*subscriptiondomain.Subscription, error) {
	subscriptionID := strings.TrimSpace(req.SubscriptionID)
	accountID := strings.TrimSpace(req.AccountID)
	if subscriptionID == "" || accountID == "" {
		return nil, subscriptiondomain.ErrInvalidRequest
	}

	now := s.clock.Now()
	subscription := &subscriptiondomain.Subscription{
		ID:             subscriptionID,
		AccountID:      accountID,
		Status:         subscriptiondomain.StatusPendingApproval,
		Provider:       strings.TrimSpace(req.Provider),
		LinkedProducts: datatypes.NewJSONSlice(req.LinkedProducts),
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.db.WithContext(ctx).Create(subscription).Error; err != nil {
		if pkgdb.IsDuplicateKeyErr(err) {
			return nil, subscriptiondomain.ErrAlreadyExists
		}
		return nil, err
	}
	return subscription, nil
}

func (s *Service) GetByID(ctx context.Context, subscriptionID string) (*subscriptiondomain.Subscription, error) {
	subscriptionID = strings.TrimSpace(subscriptionID)
	if subscriptionID == "" {
		return nil, subscriptiondomain.ErrInvalidRequest
	}
	var subscription subscriptiondomain.Subscription
	err := s.db.WithContext(ctx).Where("id = ?", subscriptionID).First(&subscription).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, subscriptiondomain.ErrNotFound
		}
		return nil, err
	}
	return &subscription, nil
}

func (s *Service) Activate(ctx context.Context, subscriptionID string, periodStart, periodEnd time.Time) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return s.ActivateTx(ctx, tx, subscriptionID, periodStart, periodEnd)
	})
}

// ActivateTx applies the PENDING_APPROVAL to ACTIVE transition inside the
// caller's transaction.
func (s *Service) ActivateTx(ctx context.Context, tx *gorm.DB, subscriptionID string, periodStart, periodEnd time.Time) error {
	subscriptionID = strings.TrimSpace(subscriptionID)
	if subscriptionID == "" {
		return subscriptiondomain.ErrInvalidRequest
	}

	var subscription subscriptiondomain.Subscription
	if err := tx.WithContext(ctx).Where("id = ?", subscriptionID).First(&subscription).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return subscriptiondomain.ErrNotFound
		}
		return err
	}
	if subscription.Status != subscriptiondomain.StatusPendingApproval {
		return subscriptiondomain.ErrInvalidTransition
	}

	now := s.clock.Now()
	if periodStart.IsZero() {
		periodStart = now
	}
	if periodEnd.IsZero() {
		periodEnd = periodStart.AddDate(0, 1, 0)
	}
	return tx.WithContext(ctx).Exec(
		`UPDATE subscriptions
		 SET status = ?, current_period_start = ?, current_period_end = ?, next_billing_at = ?, updated_at = ?
		 WHERE id = ?`,
		string(subscriptiondomain.StatusActive),
		periodStart.UTC(),
		periodEnd.UTC(),
		periodEnd.UTC(),
		now,
		subscriptionID,
	).Error
}
