// Package domain contains the provider event models and the dedup marker.
package domain

import (
	"context"
	"errors"
	"time"
)

// Event types as delivered by the payment provider.
const (
	EventSubscriptionActivated = "BILLING.SUBSCRIPTION.ACTIVATED"
	EventSubscriptionCancelled = "BILLING.SUBSCRIPTION.CANCELLED"
	EventSubscriptionSuspended = "BILLING.SUBSCRIPTION.SUSPENDED"
	EventSubscriptionExpired   = "BILLING.SUBSCRIPTION.EXPIRED"
	EventPaymentFailed         = "BILLING.SUBSCRIPTION.PAYMENT.FAILED"
	EventSaleCompleted         = "PAYMENT.SALE.COMPLETED"
	EventDisputeCreated        = "CUSTOMER.DISPUTE.CREATED"
)

// WebhookEvent is the write-once dedup marker. Existence means the business
// effect has been applied exactly once; the marker commits in the same
// transaction as the effect.
type WebhookEvent struct {
	EventID     string    `gorm:"primaryKey;type:text"`
	EventType   string    `gorm:"type:text;not null"`
	ProcessedAt time.Time `gorm:"not null"`
}

// TableName sets the database table name.
func (WebhookEvent) TableName() string { return "webhook_events" }

// InboundEvent is the parsed provider payload the engine dispatches on.
type InboundEvent struct {
	ID             string
	EventType      string
	SubscriptionID string
	// OccurredAt is decoded from whichever timestamp shape the provider
	// sent; zero when absent.
	OccurredAt time.Time
	// NextBillingAt advances the billing period on renewals.
	NextBillingAt time.Time
}

// Outcome reports what ingestion did with an event.
type Outcome string

const (
	OutcomeProcessed Outcome = "processed"
	OutcomeDuplicate Outcome = "duplicate"
	OutcomeIgnored   Outcome = "ignored"
)

type Service interface {
	// Ingest applies the event's business effect and records the dedup
	// marker in one atomic transaction. Replays return OutcomeDuplicate
	// with no further effect.
	Ingest(ctx context.Context, event InboundEvent) (Outcome, error)
}

var (
	// ErrDeferred signals an activation that arrived before its
	// subscription record; the caller answers retryable (202) and the
	// dedup marker is rolled back so redelivery gets a fresh attempt.
	ErrDeferred     = errors.New("event_deferred")
	ErrInvalidEvent = errors.New("invalid_event")
)
