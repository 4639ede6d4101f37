// Package domain contains the append-only ledger models and the engine
// contract that every balance mutation flows through.
package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Performer identifies who triggered a ledger operation.
type Performer string

const (
	PerformerSystem  Performer = "system"
	PerformerUser    Performer = "user"
	PerformerAdmin   Performer = "admin"
	PerformerWebhook Performer = "webhook"
)

// EntryReason classifies a single balance change.
type EntryReason string

const (
	ReasonGrant           EntryReason = "grant"
	ReasonConsume         EntryReason = "consume"
	ReasonAdminAdjustment EntryReason = "admin_adjustment"
	ReasonRenewal         EntryReason = "subscription_renewal"
)

// TransactionType enumerates the audit-facing lifecycle events.
type TransactionType string

const (
	TxCreditGrant       TransactionType = "credit_grant"
	TxCreditConsume     TransactionType = "credit_consume"
	TxAdminAdjustment   TransactionType = "admin_adjustment"
	TxAccountCreated    TransactionType = "account_created"
	TxAccountSuspended  TransactionType = "account_suspended"
	TxAccountActivated  TransactionType = "account_unsuspended"
	TxAccountDeleted    TransactionType = "account_deleted"
	TxSubActivated      TransactionType = "subscription_activated"
	TxSubRenewed        TransactionType = "subscription_renewed"
	TxSubCancelled      TransactionType = "subscription_cancelled"
	TxSubSuspended      TransactionType = "subscription_suspended"
	TxSubExpired        TransactionType = "subscription_expired"
	TxSubChargeback     TransactionType = "subscription_chargeback"
	TxSubPaymentFailure TransactionType = "subscription_payment_failed"
)

// LedgerEntry is the immutable signed record of one balance change. Rows are
// inserted inside the same transaction as the balance mutation and never
// updated or deleted.
type LedgerEntry struct {
	ID          snowflake.ID `gorm:"primaryKey"`
	AccountID   string       `gorm:"type:text;not null;index"`
	Amount      int64        `gorm:"not null"`
	ProductID   string       `gorm:"type:text"`
	Reason      EntryReason  `gorm:"type:text;not null"`
	PerformedBy Performer    `gorm:"type:text;not null"`
	CreatedAt   time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (LedgerEntry) TableName() string { return "ledger_entries" }

// TransactionRecord is the human-facing audit event, one per logical
// operation. Pure metadata events (suspension and friends) write a record
// with no ledger entry; balance changes always write both.
type TransactionRecord struct {
	ID          snowflake.ID      `gorm:"primaryKey"`
	AccountID   string            `gorm:"type:text;not null;index"`
	Type        TransactionType   `gorm:"type:text;not null;index"`
	ProductIDs  string            `gorm:"type:text"`
	Amount      int64             `gorm:"not null"`
	PerformedBy Performer         `gorm:"type:text;not null"`
	Metadata    datatypes.JSONMap `gorm:"type:jsonb"`
	CreatedAt   time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (TransactionRecord) TableName() string { return "transaction_records" }

type GrantRequest struct {
	AccountID   string
	Amount      int64
	Reason      EntryReason
	PerformedBy Performer
	ActorID     string
	Metadata    map[string]any
}

type ConsumeRequest struct {
	AccountID string
	ProductID string
	// ClaimedCost, when non-zero, must match the catalog cost exactly.
	ClaimedCost int64
}

type AdjustRequest struct {
	AccountID string
	Delta     int64
	ActorID   string
}

type BalanceSnapshot struct {
	AccountID string    `json:"accountId"`
	Balance   int64     `json:"balance"`
	Lifetime  int64     `json:"lifetime"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// AccountHistory pairs the signed entries with their audit events, oldest
// first.
type AccountHistory struct {
	Entries []LedgerEntry       `json:"entries"`
	Records []TransactionRecord `json:"records"`
}

type ConsumeResult struct {
	ProductID    string `json:"productId"`
	CreditsSpent int64  `json:"creditsSpent"`
	Balance      int64  `json:"-"`
}

// Service is the ledger engine. Every method runs a single serializable
// transaction over the account row; concurrent calls on one account never
// interleave.
type Service interface {
	Grant(ctx context.Context, req GrantRequest) (*BalanceSnapshot, error)
	// GrantTx applies a grant inside the caller's transaction so callers
	// with their own atomic unit (webhook ingestion) keep the grant,
	// ledger entry, and their marker in one commit.
	GrantTx(ctx context.Context, tx *gorm.DB, req GrantRequest) (*BalanceSnapshot, error)
	Consume(ctx context.Context, req ConsumeRequest) (*ConsumeResult, error)
	AdminAdjust(ctx context.Context, req AdjustRequest) (*BalanceSnapshot, error)
	Balance(ctx context.Context, accountID string) (*BalanceSnapshot, error)
	History(ctx context.Context, accountID string) (*AccountHistory, error)
}

var (
	ErrInvalidAmount       = errors.New("invalid_amount")
	ErrCostMismatch        = errors.New("invalid_cost")
	ErrInsufficientBalance = errors.New("insufficient_balance")
	ErrNegativeBalance     = errors.New("negative_balance_rejected")
)
