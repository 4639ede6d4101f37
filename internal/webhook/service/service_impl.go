package service

import (
	"context"
	"errors"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/tally/internal/clock"
	"github.com/smallbiznis/tally/internal/config"
	ledgerdomain "github.com/smallbiznis/tally/internal/ledger/domain"
	ledgerrepo "github.com/smallbiznis/tally/internal/ledger/repository"
	obsmetrics "github.com/smallbiznis/tally/internal/observability/metrics"
	subscriptiondomain "github.com/smallbiznis/tally/internal/subscription/domain"
	webhookdomain "github.com/smallbiznis/tally/internal/webhook/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB              *gorm.DB
	Log             *zap.Logger
	GenID           *snowflake.Node
	Clock           clock.Clock
	LedgerSvc       ledgerdomain.Service
	SubscriptionSvc subscriptiondomain.Service
	Repo            *ledgerrepo.Repository
	Cfg             config.Config
	ObsMetrics      *obsmetrics.Metrics `optional:"true"`
}

// Service ingests provider events. The dedup marker and the business effect
// commit in the same transaction: a replay sees the marker and no-ops, a
// failure rolls both back so provider redelivery gets a clean retry.
type Service struct {
	db              *gorm.DB
	log             *zap.Logger
	genID           *snowflake.Node
	clock           clock.Clock
	ledgerSvc       ledgerdomain.Service
	subscriptionSvc subscriptiondomain.Service
	repo            *ledgerrepo.Repository
	cfg             config.LedgerConfig
	obsMetrics      *obsmetrics.Metrics
}

func NewService(p Params) webhookdomain.Service {
	return &Service{
		db:              p.DB,
		log:             p.Log.Named("webhook.service"),
		genID:           p.GenID,
		clock:           p.Clock,
		ledgerSvc:       p.LedgerSvc,
		subscriptionSvc: p.SubscriptionSvc,
		repo:            p.Repo,
		cfg:             p.Cfg.Ledger,
		obsMetrics:      p.ObsMetrics,
	}
}

func (s *Service) Ingest(ctx context.Context, event webhookdomain.InboundEvent) (webhookdomain.Outcome, error) {
	eventID := strings.TrimSpace(event.ID)
	eventType := strings.TrimSpace(event.EventType)
	if eventID == "" || eventType == "" {
		return "", webhookdomain.ErrInvalidEvent
	}

	outcome := webhookdomain.OutcomeProcessed
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		inserted, err := s.markEvent(ctx, tx, eventID, eventType)
		if err != nil {
			return err
		}
		if !inserted {
			// Providers redeliver; an existing marker means the
			// effect already landed exactly once.
			outcome = webhookdomain.OutcomeDuplicate
			return nil
		}

		applied, err := s.dispatch(ctx, tx, event)
		if err != nil {
			return err
		}
		outcome = applied
		return nil
	})
	s.record(eventType, outcome, err)
	if err != nil {
		return "", err
	}
	return outcome, nil
}

// markEvent atomically claims the event identifier. False means another
// delivery already committed it.
func (s *Service) markEvent(ctx context.Context, tx *gorm.DB, eventID, eventType string) (bool, error) {
	result := tx.WithContext(ctx).Exec(
		`INSERT INTO webhook_events (event_id, event_type, processed_at)
		 VALUES (?, ?, ?)
		 ON CONFLICT (event_id) DO NOTHING`,
		eventID,
		eventType,
		s.clock.Now(),
	)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (s *Service) dispatch(ctx context.Context, tx *gorm.DB, event webhookdomain.InboundEvent) (webhookdomain.Outcome, error) {
	switch event.EventType {
	case webhookdomain.EventSubscriptionActivated:
		return s.activate(ctx, tx, event)
	case webhookdomain.EventSaleCompleted:
		return s.renew(ctx, tx, event)
	case webhookdomain.EventSubscriptionCancelled:
		return s.transition(ctx, tx, event, subscriptiondomain.StatusCancelled, ledgerdomain.TxSubCancelled)
	case webhookdomain.EventSubscriptionSuspended:
		return s.transition(ctx, tx, event, subscriptiondomain.StatusSuspended, ledgerdomain.TxSubSuspended)
	case webhookdomain.EventSubscriptionExpired:
		return s.transition(ctx, tx, event, subscriptiondomain.StatusExpired, ledgerdomain.TxSubExpired)
	case webhookdomain.EventPaymentFailed:
		return s.transition(ctx, tx, event, subscriptiondomain.StatusPaymentFailed, ledgerdomain.TxSubPaymentFailure)
	case webhookdomain.EventDisputeCreated:
		// Chargebacks transition only; no automatic clawback. The
		// record flags the account for manual review.
		return s.transition(ctx, tx, event, subscriptiondomain.StatusChargeback, ledgerdomain.TxSubChargeback)
	default:
		// Forward compatible: acknowledge types we do not handle yet.
		s.log.Info("ignoring unrecognized webhook event type",
			zap.String("event_id", event.ID),
			zap.String("event_type", event.EventType),
		)
		return webhookdomain.OutcomeIgnored, nil
	}
}

func (s *Service) activate(ctx context.Context, tx *gorm.DB, event webhookdomain.InboundEvent) (webhookdomain.Outcome, error) {
	subscription, err := s.findSubscription(ctx, tx, event.SubscriptionID)
	if err != nil {
		if errors.Is(err, subscriptiondomain.ErrNotFound) {
			// Activation raced ahead of subscription creation.
			// Rolling back drops the dedup marker, so redelivery
			// retries once the record exists.
			return "", webhookdomain.ErrDeferred
		}
		return "", err
	}
	if subscription.Status != subscriptiondomain.StatusPendingApproval {
		return webhookdomain.OutcomeIgnored, nil
	}

	// The subscription state machine owns the transition; it runs on our
	// transaction so the activation and the dedup marker land together.
	if err := s.subscriptionSvc.ActivateTx(ctx, tx, subscription.ID, event.OccurredAt, event.NextBillingAt); err != nil {
		return "", err
	}

	if err := s.repo.InsertTransaction(ctx, tx, &ledgerdomain.TransactionRecord{
		ID:          s.genID.Generate(),
		AccountID:   subscription.AccountID,
		Type:        ledgerdomain.TxSubActivated,
		PerformedBy: ledgerdomain.PerformerWebhook,
		Metadata:    datatypes.JSONMap{"subscription_id": subscription.ID},
		CreatedAt:   s.clock.Now(),
	}); err != nil {
		return "", err
	}
	return webhookdomain.OutcomeProcessed, nil
}

func (s *Service) renew(ctx context.Context, tx *gorm.DB, event webhookdomain.InboundEvent) (webhookdomain.Outcome, error) {
	subscription, err := s.findSubscription(ctx, tx, event.SubscriptionID)
	if err != nil {
		return "", err
	}
	if subscription.Status != subscriptiondomain.StatusActive {
		s.log.Warn("renewal for non-active subscription ignored",
			zap.String("subscription_id", subscription.ID),
			zap.String("status", string(subscription.Status)),
		)
		return webhookdomain.OutcomeIgnored, nil
	}

	// The renewal grant writes its own ledger entry and transaction
	// record through the engine, inside this same transaction.
	if _, err := s.ledgerSvc.GrantTx(ctx, tx, ledgerdomain.GrantRequest{
		AccountID:   subscription.AccountID,
		Amount:      s.cfg.RenewalCredits,
		Reason:      ledgerdomain.ReasonRenewal,
		PerformedBy: ledgerdomain.PerformerWebhook,
		Metadata:    map[string]any{"subscription_id": subscription.ID, "event_id": event.ID},
	}); err != nil {
		return "", err
	}

	now := s.clock.Now()
	periodStart := subscription.CurrentPeriodEnd
	if periodStart.IsZero() {
		periodStart = now
	}
	periodEnd := event.NextBillingAt
	if periodEnd.IsZero() {
		periodEnd = periodStart.AddDate(0, 1, 0)
	}
	if err := tx.WithContext(ctx).Exec(
		`UPDATE subscriptions
		 SET current_period_start = ?, current_period_end = ?, next_billing_at = ?, updated_at = ?
		 WHERE id = ?`,
		periodStart,
		periodEnd,
		periodEnd,
		now,
		subscription.ID,
	).Error; err != nil {
		return "", err
	}
	return webhookdomain.OutcomeProcessed, nil
}

func (s *Service) transition(
	ctx context.Context,
	tx *gorm.DB,
	event webhookdomain.InboundEvent,
	status subscriptiondomain.Status,
	txType ledgerdomain.TransactionType,
) (webhookdomain.Outcome, error) {
	subscription, err := s.findSubscription(ctx, tx, event.SubscriptionID)
	if err != nil {
		return "", err
	}
	if subscription.Status.Terminal() {
		// Terminal states absorb late lifecycle events.
		return webhookdomain.OutcomeIgnored, nil
	}

	now := s.clock.Now()
	if err := tx.WithContext(ctx).Exec(
		`UPDATE subscriptions SET status = ?, updated_at = ? WHERE id = ?`,
		string(status),
		now,
		subscription.ID,
	).Error; err != nil {
		return "", err
	}

	if err := s.repo.InsertTransaction(ctx, tx, &ledgerdomain.TransactionRecord{
		ID:          s.genID.Generate(),
		AccountID:   subscription.AccountID,
		Type:        txType,
		PerformedBy: ledgerdomain.PerformerWebhook,
		Metadata: datatypes.JSONMap{
			"subscription_id": subscription.ID,
			"event_id":        event.ID,
		},
		CreatedAt: now,
	}); err != nil {
		return "", err
	}
	return webhookdomain.OutcomeProcessed, nil
}

func (s *Service) findSubscription(ctx context.Context, tx *gorm.DB, subscriptionID string) (*subscriptiondomain.Subscription, error) {
	subscriptionID = strings.TrimSpace(subscriptionID)
	if subscriptionID == "" {
		return nil, webhookdomain.ErrInvalidEvent
	}
	var subscription subscriptiondomain.Subscription
	err := tx.WithContext(ctx).Where("id = ?", subscriptionID).First(&subscription).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, subscriptiondomain.ErrNotFound
		}
		return nil, err
	}
	return &subscription, nil
}

func (s *Service) record(eventType string, outcome webhookdomain.Outcome, err error) {
	result := string(outcome)
	if err != nil {
		result = "error"
	}
	s.obsMetrics.RecordWebhookEvent(eventType, result)
}
