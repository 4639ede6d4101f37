package service

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/smallbiznis/tally/internal/clock"
	subscriptiondomain "github.com/smallbiznis/tally/internal/subscription/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var testDBSeq int

func newTestService(t *testing.T) (subscriptiondomain.Service, *gorm.DB) {
	t.Helper()
	testDBSeq++
	dsn := fmt.Sprintf("file:subscription_svc_%d?mode=memory&cache=shared", testDBSeq)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&subscriptiondomain.Subscription{}))

	svc := NewService(Params{
		DB:    db,
		Log:   zap.NewNop(),
		Clock: clock.NewFakeClock(time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)),
	})
	return svc, db
}

func TestCreateStartsPending(t *testing.T) {
	svc, _ := newTestService(t)

	subscription, err := svc.Create(context.Background(), subscriptiondomain.CreateSubscriptionRequest{
		SubscriptionID: "I-SUB1",
		AccountID:      "acct_1",
		Provider:       "paypal",
		LinkedProducts: []string{"pro-plan"},
	})
	require.NoError(t, err)
	assert.Equal(t, subscriptiondomain.StatusPendingApproval, subscription.Status)

	// Re-creating the same agreement is a conflict, not a bad request.
	_, err = svc.Create(context.Background(), subscriptiondomain.CreateSubscriptionRequest{
		SubscriptionID: "I-SUB1",
		AccountID:      "acct_1",
	})
	assert.ErrorIs(t, err, subscriptiondomain.ErrAlreadyExists)
}

func TestActivateOnlyFromPending(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.Create(ctx, subscriptiondomain.CreateSubscriptionRequest{
		SubscriptionID: "I-SUB1",
		AccountID:      "acct_1",
	})
	require.NoError(t, err)

	start := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
	require.NoError(t, svc.Activate(ctx, "I-SUB1", start, time.Time{}))

	subscription, err := svc.GetByID(ctx, "I-SUB1")
	require.NoError(t, err)
	assert.Equal(t, subscriptiondomain.StatusActive, subscription.Status)
	// Missing period end defaults to one month after the start.
	assert.Equal(t, start.AddDate(0, 1, 0), subscription.CurrentPeriodEnd.UTC())

	assert.ErrorIs(t, svc.Activate(ctx, "I-SUB1", start, time.Time{}), subscriptiondomain.ErrInvalidTransition)
	assert.ErrorIs(t, svc.Activate(ctx, "I-GHOST", start, time.Time{}), subscriptiondomain.ErrNotFound)
}

func TestActivateTxRunsInCallerTransaction(t *testing.T) {
	svc, db := newTestService(t)
	ctx := context.Background()

	_, err := svc.Create(ctx, subscriptiondomain.CreateSubscriptionRequest{
		SubscriptionID: "I-SUB1",
		AccountID:      "acct_1",
	})
	require.NoError(t, err)

	require.NoError(t, db.Transaction(func(tx *gorm.DB) error {
		return svc.ActivateTx(ctx, tx, "I-SUB1", time.Time{}, time.Time{})
	}))

	subscription, err := svc.GetByID(ctx, "I-SUB1")
	require.NoError(t, err)
	assert.Equal(t, subscriptiondomain.StatusActive, subscription.Status)

	// A failing caller transaction rolls the transition back with it.
	seeded, err := svc.Create(ctx, subscriptiondomain.CreateSubscriptionRequest{
		SubscriptionID: "I-SUB2",
		AccountID:      "acct_1",
	})
	require.NoError(t, err)
	require.Error(t, db.Transaction(func(tx *gorm.DB) error {
		if err := svc.ActivateTx(ctx, tx, seeded.ID, time.Time{}, time.Time{}); err != nil {
			return err
		}
		return fmt.Errorf("abort")
	}))

	subscription, err = svc.GetByID(ctx, "I-SUB2")
	require.NoError(t, err)
	assert.Equal(t, subscriptiondomain.StatusPendingApproval, subscription.Status)
}

func TestGetByIDNotFound(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.GetByID(context.Background(), "I-GHOST")
	assert.ErrorIs(t, err, subscriptiondomain.ErrNotFound)

	_, err = svc.GetByID(context.Background(), "  ")
	assert.ErrorIs(t, err, subscriptiondomain.ErrInvalidRequest)
}
