// Package domain contains persistence models and contracts for credit
// accounts.
package domain

import (
	"context"
	"errors"
	"time"
)

// Account is the balance-bearing document for one caller. IDs are opaque
// strings issued by the identity provider, not generated here.
type Account struct {
	ID               string    `gorm:"primaryKey;type:text"`
	EmailAddress     string    `gorm:"type:text"`
	CreditBalance    int64     `gorm:"not null;default:0"`
	CreditLifetime   int64     `gorm:"not null;default:0"`
	IsSuspended      bool      `gorm:"not null;default:false"`
	CreatedAt        time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt        time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
	CreditsUpdatedAt time.Time `gorm:""`
}

// TableName sets the database table name.
func (Account) TableName() string { return "accounts" }

type CreateAccountRequest struct {
	AccountID string
	Email     string
	ActorID   string
}

type Service interface {
	Create(ctx context.Context, req CreateAccountRequest) (*Account, error)
	Get(ctx context.Context, accountID string) (*Account, error)
	Suspend(ctx context.Context, accountID, actorID string) error
	Unsuspend(ctx context.Context, accountID, actorID string) error
	// Delete removes the account and cascades to its ledger entries, usage
	// periods, transaction records, and subscriptions.
	Delete(ctx context.Context, accountID, actorID string) error
}

var (
	ErrNotFound       = errors.New("account_not_found")
	ErrAlreadyExists  = errors.New("account_exists")
	ErrSuspended      = errors.New("account_suspended")
	ErrInvalidAccount = errors.New("invalid_account")
)
