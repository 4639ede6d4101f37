// Package domain contains persistence models for provider subscriptions.
package domain

import (
	"context"
	"errors"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Status represents lifecycle states for a subscription.
type Status string

const (
	StatusPendingApproval Status = "PENDING_APPROVAL"
	StatusActive          Status = "ACTIVE"
	StatusCancelled       Status = "CANCELLED"
	StatusExpired         Status = "EXPIRED"
	StatusSuspended       Status = "SUSPENDED"
	StatusChargeback      Status = "CHARGEBACK"
	StatusPaymentFailed   Status = "PAYMENT_FAILED"
)

// Terminal reports whether a status admits no further transitions.
func (s Status) Terminal() bool {
	switch s {
	case StatusCancelled, StatusExpired, StatusChargeback:
		return true
	default:
		return false
	}
}

// Subscription mirrors the provider-side agreement. Rows are never deleted
// by lifecycle logic, only status-transitioned.
type Subscription struct {
	ID                 string                      `gorm:"primaryKey;type:text"`
	AccountID          string                      `gorm:"type:text;not null;index"`
	Status             Status                      `gorm:"type:text;not null"`
	Provider           string                      `gorm:"type:text;not null"`
	LinkedProducts     datatypes.JSONSlice[string] `gorm:"type:jsonb"`
	CurrentPeriodStart time.Time                   `gorm:""`
	CurrentPeriodEnd   time.Time                   `gorm:""`
	NextBillingAt      *time.Time                  `gorm:""`
	CreatedAt          time.Time                   `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt          time.Time                   `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (Subscription) TableName() string { return "subscriptions" }

type CreateSubscriptionRequest struct {
	SubscriptionID string
	AccountID      string
	Provider       string
	LinkedProducts []string
}

type Service interface {
	Create(ctx context.Context, req CreateSubscriptionRequest) (*Subscription, error)
	GetByID(ctx context.Context, subscriptionID string) (*Subscription, error)
	// Activate moves PENDING_APPROVAL to ACTIVE and stamps the first
	// billing period.
	Activate(ctx context.Context, subscriptionID string, periodStart, periodEnd time.Time) error
	// ActivateTx runs the same transition inside the caller's
	// transaction, so webhook ingestion commits it alongside the
	// dedup marker.
	ActivateTx(ctx context.Context, tx *gorm.DB, subscriptionID string, periodStart, periodEnd time.Time) error
}

var (
	ErrNotFound          = errors.New("subscription_not_found")
	ErrInvalidTransition = errors.New("invalid_subscription_transition")
	ErrInvalidRequest    = errors.New("invalid_subscription")
	ErrAlreadyExists     = errors.New("subscription_exists")
)
