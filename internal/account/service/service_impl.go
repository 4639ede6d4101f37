package service

import (
	"context"
	"errors"
	"strings"

	"github.com/bwmarrin/snowflake"
	accountdomain "github.com/smallbiznis/tally/internal/account/domain"
	"github.com/smallbiznis/tally/internal/clock"
	ledgerdomain "github.com/smallbiznis/tally/internal/ledger/domain"
	ledgerrepo "github.com/smallbiznis/tally/internal/ledger/repository"
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
	GenID *snowflake.Node
	Clock clock.Clock
	Repo  *ledgerrepo.Repository
}

// Service owns account lifecycle. Lifecycle events are metadata only: each
// writes a transaction record and never a ledger entry, so balances stay
// untouched.
type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	clock clock.Clock
	repo  *ledgerrepo.Repository
}

func NewService(p Params) accountdomain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("account.service"),
		genID: p.GenID,
		clock: p.Clock,
		repo:  p.Repo,
	}
}

func (s *Service) Create(ctx context.Context, req accountdomain.CreateAccountRequest) (*accountdomain.Account, error) {
	accountID := strings.TrimSpace(req.AccountID)
	if accountID == "" {
		return nil, accountdomain.ErrInvalidAccount
	}

	now := s.clock.Now()
	account := &accountdomain.Account{
		ID:               accountID,
		EmailAddress:     strings.TrimSpace(req.Email),
		CreatedAt:        now,
		UpdatedAt:        now,
		CreditsUpdatedAt: now,
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.WithContext(ctx).Create(account).Error; err != nil {
			if pkgdb.IsDuplicateKeyErr(err) {
				return accountdomain.ErrAlreadyExists
			}
			return err
		}
		return s.repo.InsertTransaction(ctx, tx, &ledgerdomain.TransactionRecord{
			ID:          s.genID.Generate(),
			AccountID:   accountID,
			Type:        ledgerdomain.TxAccountCreated,
			PerformedBy: ledgerdomain.PerformerAdmin,
			Metadata:    actorMetadata(req.ActorID),
			CreatedAt:   now,
		})
	})
	if err != nil {
		return nil, err
	}
	return account, nil
}

func (s *Service) Get(ctx context.Context, accountID string) (*accountdomain.Account, error) {
	accountID = strings.TrimSpace(accountID)
	if accountID == "" {
		return nil, accountdomain.ErrInvalidAccount
	}
	var account accountdomain.Account
	err := s.db.WithContext(ctx).Where("id = ?", accountID).First(&account).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, accountdomain.ErrNotFound
		}
		return nil, err
	}
	return &account, nil
}

func (s *Service) Suspend(ctx context.Context, accountID, actorID string) error {
	return s.setSuspended(ctx, accountID, actorID, true)
}

func (s *Service) Unsuspend(ctx context.Context, accountID, actorID string) error {
	return s.setSuspended(ctx, accountID, actorID, false)
}

func (s *Service) setSuspended(ctx context.Context, accountID, actorID string, suspended bool) error {
	accountID = strings.TrimSpace(accountID)
	if accountID == "" {
		return accountdomain.ErrInvalidAccount
	}

	txType := ledgerdomain.TxAccountSuspended
	if !suspended {
		txType = ledgerdomain.TxAccountActivated
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := s.clock.Now()
		result := tx.WithContext(ctx).Exec(
			`UPDATE accounts SET is_suspended = ?, updated_at = ? WHERE id = ?`,
			suspended, now, accountID,
		)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return accountdomain.ErrNotFound
		}
		return s.repo.InsertTransaction(ctx, tx, &ledgerdomain.TransactionRecord{
			ID:          s.genID.Generate(),
			AccountID:   accountID,
			Type:        txType,
			PerformedBy: ledgerdomain.PerformerAdmin,
			Metadata:    actorMetadata(actorID),
			CreatedAt:   now,
		})
	})
}

// Delete removes the account row and cascades to everything keyed on it.
// The ledger never deletes accounts on its own; this is the out-of-band
// admin path.
func (s *Service) Delete(ctx context.Context, accountID, actorID string) error {
	accountID = strings.TrimSpace(accountID)
	if accountID == "" {
		return accountdomain.ErrInvalidAccount
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.WithContext(ctx).Exec(`DELETE FROM accounts WHERE id = ?`, accountID)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return accountdomain.ErrNotFound
		}

		for _, stmt := range []string{
			`DELETE FROM ledger_entries WHERE account_id = ?`,
			`DELETE FROM transaction_records WHERE account_id = ?`,
			`DELETE FROM usage_periods WHERE account_id = ?`,
			`DELETE FROM subscriptions WHERE account_id = ?`,
			`DELETE FROM rate_limit_windows WHERE account_id = ?`,
		} {
			if err := tx.WithContext(ctx).Exec(stmt, accountID).Error; err != nil {
				return err
			}
		}

		now := s.clock.Now()
		return s.repo.InsertTransaction(ctx, tx, &ledgerdomain.TransactionRecord{
			ID:          s.genID.Generate(),
			AccountID:   accountID,
			Type:        ledgerdomain.TxAccountDeleted,
			PerformedBy: ledgerdomain.PerformerAdmin,
			Metadata:    actorMetadata(actorID),
			CreatedAt:   now,
		})
	})
}

func actorMetadata(actorID string) datatypes.JSONMap {
	if strings.TrimSpace(actorID) == "" {
		return nil
	}
	return datatypes.JSONMap{"actor_id": actorID}
}
