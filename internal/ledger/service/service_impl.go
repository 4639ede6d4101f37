package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	accountdomain "github.com/smallbiznis/tally/internal/account/domain"
	"github.com/smallbiznis/tally/internal/clock"
	"github.com/smallbiznis/tally/internal/config"
	ledgerdomain "github.com/smallbiznis/tally/internal/ledger/domain"
	ledgerrepo "github.com/smallbiznis/tally/internal/ledger/repository"
	obsmetrics "github.com/smallbiznis/tally/internal/observability/metrics"
	"github.com/smallbiznis/tally/internal/product"
	usagedomain "github.com/smallbiznis/tally/internal/usage/domain"
	pkgdb "github.com/smallbiznis/tally/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Clock      clock.Clock
	Catalog    *product.Catalog
	Repo       *ledgerrepo.Repository
	Cfg        config.Config
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

// Service is the ledger engine. Every mutation runs one transaction holding
// the account row lock, so operations on the same account serialize and the
// balance, ledger entry, transaction record, and usage aggregate commit or
// roll back together.
type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	genID      *snowflake.Node
	clock      clock.Clock
	catalog    *product.Catalog
	repo       *ledgerrepo.Repository
	cfg        config.LedgerConfig
	obsMetrics *obsmetrics.Metrics
}

func NewService(p Params) ledgerdomain.Service {
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("ledger.service"),
		genID:      p.GenID,
		clock:      p.Clock,
		catalog:    p.Catalog,
		repo:       p.Repo,
		cfg:        p.Cfg.Ledger,
		obsMetrics: p.ObsMetrics,
	}
}

func (s *Service) Grant(ctx context.Context, req ledgerdomain.GrantRequest) (*ledgerdomain.BalanceSnapshot, error) {
	var snapshot *ledgerdomain.BalanceSnapshot
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		applied, err := s.GrantTx(ctx, tx, req)
		if err != nil {
			return err
		}
		snapshot = applied
		return nil
	})
	s.record("grant", err)
	if err != nil {
		return nil, err
	}
	return snapshot, nil
}

// GrantTx applies a positive credit grant inside the caller's transaction.
func (s *Service) GrantTx(ctx context.Context, tx *gorm.DB, req ledgerdomain.GrantRequest) (*ledgerdomain.BalanceSnapshot, error) {
	accountID := strings.TrimSpace(req.AccountID)
	if accountID == "" {
		return nil, accountdomain.ErrInvalidAccount
	}
	if req.Amount <= 0 {
		return nil, ledgerdomain.ErrInvalidAmount
	}

	reason := req.Reason
	if reason == "" {
		reason = ledgerdomain.ReasonGrant
	}
	performer := req.PerformedBy
	if performer == "" {
		performer = ledgerdomain.PerformerAdmin
	}
	txType := ledgerdomain.TxCreditGrant
	if reason == ledgerdomain.ReasonRenewal {
		txType = ledgerdomain.TxSubRenewed
	}

	account, err := s.lockAccount(ctx, tx, accountID, true)
	if err != nil {
		return nil, err
	}

	// Grants bypass suspension: admins and renewals can always credit a
	// frozen account.
	now := s.clock.Now()
	account.CreditBalance += req.Amount
	account.CreditLifetime += req.Amount
	if err := s.writeBalance(ctx, tx, account, now); err != nil {
		return nil, err
	}

	if err := s.repo.InsertEntry(ctx, tx, &ledgerdomain.LedgerEntry{
		ID:          s.genID.Generate(),
		AccountID:   accountID,
		Amount:      req.Amount,
		Reason:      reason,
		PerformedBy: performer,
		CreatedAt:   now,
	}); err != nil {
		return nil, err
	}

	if err := s.repo.InsertTransaction(ctx, tx, &ledgerdomain.TransactionRecord{
		ID:          s.genID.Generate(),
		AccountID:   accountID,
		Type:        txType,
		Amount:      req.Amount,
		PerformedBy: performer,
		Metadata:    metadataMap(req.Metadata, req.ActorID),
		CreatedAt:   now,
	}); err != nil {
		return nil, err
	}

	return snapshotOf(account), nil
}

func (s *Service) Consume(ctx context.Context, req ledgerdomain.ConsumeRequest) (*ledgerdomain.ConsumeResult, error) {
	accountID := strings.TrimSpace(req.AccountID)
	if accountID == "" {
		return nil, accountdomain.ErrInvalidAccount
	}

	cost, err := s.catalog.Cost(req.ProductID)
	if err != nil {
		return nil, err
	}
	// A caller-supplied cost is accepted only when it matches the
	// server-resolved cost exactly.
	if req.ClaimedCost != 0 && req.ClaimedCost != cost {
		return nil, ledgerdomain.ErrCostMismatch
	}

	var result *ledgerdomain.ConsumeResult
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		account, err := s.lockAccount(ctx, tx, accountID, true)
		if err != nil {
			return err
		}

		// Suspension is checked before the balance so a suspended
		// account with funds still cannot spend.
		if account.IsSuspended {
			return accountdomain.ErrSuspended
		}
		if account.CreditBalance < cost {
			return ledgerdomain.ErrInsufficientBalance
		}

		now := s.clock.Now()
		account.CreditBalance -= cost
		if err := s.writeBalance(ctx, tx, account, now); err != nil {
			return err
		}

		if err := s.repo.InsertEntry(ctx, tx, &ledgerdomain.LedgerEntry{
			ID:          s.genID.Generate(),
			AccountID:   accountID,
			Amount:      -cost,
			ProductID:   req.ProductID,
			Reason:      ledgerdomain.ReasonConsume,
			PerformedBy: ledgerdomain.PerformerUser,
			CreatedAt:   now,
		}); err != nil {
			return err
		}

		if err := s.repo.InsertTransaction(ctx, tx, &ledgerdomain.TransactionRecord{
			ID:          s.genID.Generate(),
			AccountID:   accountID,
			Type:        ledgerdomain.TxCreditConsume,
			ProductIDs:  req.ProductID,
			Amount:      cost,
			PerformedBy: ledgerdomain.PerformerUser,
			CreatedAt:   now,
		}); err != nil {
			return err
		}

		if err := s.mergeUsage(ctx, tx, accountID, req.ProductID, cost, now); err != nil {
			return err
		}

		result = &ledgerdomain.ConsumeResult{
			ProductID:    req.ProductID,
			CreditsSpent: cost,
			Balance:      account.CreditBalance,
		}
		return nil
	})
	s.record("consume", err)
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *Service) AdminAdjust(ctx context.Context, req ledgerdomain.AdjustRequest) (*ledgerdomain.BalanceSnapshot, error) {
	accountID := strings.TrimSpace(req.AccountID)
	if accountID == "" {
		return nil, accountdomain.ErrInvalidAccount
	}
	if req.Delta == 0 {
		return nil, ledgerdomain.ErrInvalidAmount
	}

	var snapshot *ledgerdomain.BalanceSnapshot
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		account, err := s.lockAccount(ctx, tx, accountID, true)
		if err != nil {
			return err
		}

		newBalance := account.CreditBalance + req.Delta
		if newBalance < 0 && !s.cfg.AdminAllowNegative {
			return ledgerdomain.ErrNegativeBalance
		}

		now := s.clock.Now()
		account.CreditBalance = newBalance
		// Lifetime only ever counts the positive portion.
		if req.Delta > 0 {
			account.CreditLifetime += req.Delta
		}
		if err := s.writeBalance(ctx, tx, account, now); err != nil {
			return err
		}

		if err := s.repo.InsertEntry(ctx, tx, &ledgerdomain.LedgerEntry{
			ID:          s.genID.Generate(),
			AccountID:   accountID,
			Amount:      req.Delta,
			Reason:      ledgerdomain.ReasonAdminAdjustment,
			PerformedBy: ledgerdomain.PerformerAdmin,
			CreatedAt:   now,
		}); err != nil {
			return err
		}

		if err := s.repo.InsertTransaction(ctx, tx, &ledgerdomain.TransactionRecord{
			ID:          s.genID.Generate(),
			AccountID:   accountID,
			Type:        ledgerdomain.TxAdminAdjustment,
			Amount:      req.Delta,
			PerformedBy: ledgerdomain.PerformerAdmin,
			Metadata:    metadataMap(nil, req.ActorID),
			CreatedAt:   now,
		}); err != nil {
			return err
		}

		snapshot = snapshotOf(account)
		return nil
	})
	s.record("admin_adjust", err)
	if err != nil {
		return nil, err
	}
	return snapshot, nil
}

func (s *Service) Balance(ctx context.Context, accountID string) (*ledgerdomain.BalanceSnapshot, error) {
	accountID = strings.TrimSpace(accountID)
	if accountID == "" {
		return nil, accountdomain.ErrInvalidAccount
	}

	var account accountdomain.Account
	err := s.db.WithContext(ctx).Where("id = ?", accountID).First(&account).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			// Accounts materialize on first mutation; a read before
			// that is simply a zero balance.
			return &ledgerdomain.BalanceSnapshot{AccountID: accountID}, nil
		}
		return nil, err
	}
	return snapshotOf(&account), nil
}

func (s *Service) History(ctx context.Context, accountID string) (*ledgerdomain.AccountHistory, error) {
	accountID = strings.TrimSpace(accountID)
	if accountID == "" {
		return nil, accountdomain.ErrInvalidAccount
	}

	entries, err := s.repo.ListEntriesByAccount(ctx, s.db.WithContext(ctx), accountID)
	if err != nil {
		return nil, err
	}
	records, err := s.repo.ListTransactionsByAccount(ctx, s.db.WithContext(ctx), accountID)
	if err != nil {
		return nil, err
	}
	return &ledgerdomain.AccountHistory{Entries: entries, Records: records}, nil
}

// lockAccount reads the account under a row lock, creating it on demand.
// SQLite rejects FOR UPDATE and serializes writers itself, so the locking
// clause is skipped there.
func (s *Service) lockAccount(ctx context.Context, tx *gorm.DB, accountID string, create bool) (*accountdomain.Account, error) {
	var account accountdomain.Account
	stmt := tx.WithContext(ctx)
	if !strings.EqualFold(tx.Dialector.Name(), "sqlite") {
		stmt = stmt.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	err := stmt.Where("id = ?", accountID).First(&account).Error
	if err == nil {
		return &account, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}
	if !create {
		return nil, accountdomain.ErrNotFound
	}

	now := s.clock.Now()
	account = accountdomain.Account{
		ID:               accountID,
		CreatedAt:        now,
		UpdatedAt:        now,
		CreditsUpdatedAt: now,
	}
	if err := tx.WithContext(ctx).Create(&account).Error; err != nil {
		if pkgdb.IsDuplicateKeyErr(err) {
			// Lost the creation race; the row exists now, lock it.
			return s.lockAccount(ctx, tx, accountID, false)
		}
		return nil, err
	}
	return &account, nil
}

func (s *Service) writeBalance(ctx context.Context, tx *gorm.DB, account *accountdomain.Account, now time.Time) error {
	account.UpdatedAt = now
	account.CreditsUpdatedAt = now
	return tx.WithContext(ctx).Exec(
		`UPDATE accounts
		 SET credit_balance = ?, credit_lifetime = ?, credits_updated_at = ?, updated_at = ?
		 WHERE id = ?`,
		account.CreditBalance,
		account.CreditLifetime,
		account.CreditsUpdatedAt,
		account.UpdatedAt,
		account.ID,
	).Error
}

// mergeUsage increments the calendar-month aggregate. The caller holds the
// account row lock, so the read-merge-write cannot race with another
// consumption on the same account, and increments from different requests
// accumulate in any order.
func (s *Service) mergeUsage(ctx context.Context, tx *gorm.DB, accountID, productID string, cost int64, now time.Time) error {
	period := usagedomain.PeriodKey(now)

	var usage usagedomain.UsagePeriod
	err := tx.WithContext(ctx).
		Where("account_id = ? AND period = ?", accountID, period).
		First(&usage).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		usage = usagedomain.UsagePeriod{
			AccountID:    accountID,
			Period:       period,
			Totals:       datatypes.JSONMap{productID: cost},
			TotalCredits: cost,
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		return tx.WithContext(ctx).Create(&usage).Error
	}
	if err != nil {
		return err
	}

	if usage.Totals == nil {
		usage.Totals = datatypes.JSONMap{}
	}
	usage.Totals[productID] = usagedomain.TotalOf(usage.Totals, productID) + cost
	usage.TotalCredits += cost
	return tx.WithContext(ctx).Exec(
		`UPDATE usage_periods
		 SET totals = ?, total_credits = ?, updated_at = ?
		 WHERE account_id = ? AND period = ?`,
		usage.Totals,
		usage.TotalCredits,
		now,
		accountID,
		period,
	).Error
}

func (s *Service) record(operation string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	s.obsMetrics.RecordLedgerOp(operation, result)
}

func snapshotOf(account *accountdomain.Account) *ledgerdomain.BalanceSnapshot {
	return &ledgerdomain.BalanceSnapshot{
		AccountID: account.ID,
		Balance:   account.CreditBalance,
		Lifetime:  account.CreditLifetime,
		UpdatedAt: account.CreditsUpdatedAt,
	}
}

func metadataMap(base map[string]any, actorID string) datatypes.JSONMap {
	if base == nil && actorID == "" {
		return nil
	}
	out := datatypes.JSONMap{}
	for k, v := range base {
		out[k] = v
	}
	if actorID != "" {
		out["actor_id"] = actorID
	}
	return out
}
