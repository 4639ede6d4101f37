// Package repository inserts the append-only audit rows. Both writers take
// the caller's transaction handle so ledger entries and transaction records
// always commit with the balance change that produced them.
package repository

import (
	"context"

	"github.com/smallbiznis/tally/internal/ledger/domain"
	"gorm.io/gorm"
)

type Repository struct{}

func Provide() *Repository {
	return &Repository{}
}

func (r *Repository) InsertEntry(ctx context.Context, tx *gorm.DB, entry *domain.LedgerEntry) error {
	if entry == nil {
		return nil
	}
	return tx.WithContext(ctx).Exec(
		`INSERT INTO ledger_entries (
			id, account_id, amount, product_id, reason, performed_by, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		entry.ID,
		entry.AccountID,
		entry.Amount,
		entry.ProductID,
		string(entry.Reason),
		string(entry.PerformedBy),
		entry.CreatedAt,
	).Error
}

func (r *Repository) InsertTransaction(ctx context.Context, tx *gorm.DB, record *domain.TransactionRecord) error {
	if record == nil {
		return nil
	}
	return tx.WithContext(ctx).Exec(
		`INSERT INTO transaction_records (
			id, account_id, type, product_ids, amount, performed_by, metadata, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		record.ID,
		record.AccountID,
		string(record.Type),
		record.ProductIDs,
		record.Amount,
		string(record.PerformedBy),
		record.Metadata,
		record.CreatedAt,
	).Error
}

func (r *Repository) ListEntriesByAccount(ctx context.Context, db *gorm.DB, accountID string) ([]domain.LedgerEntry, error) {
	var entries []domain.LedgerEntry
	err := db.WithContext(ctx).
		Where("account_id = ?", accountID).
		Order("created_at asc, id asc").
		Find(&entries).Error
	if err != nil {
		return nil, err
	}
	return entries, nil
}

func (r *Repository) ListTransactionsByAccount(ctx context.Context, db *gorm.DB, accountID string) ([]domain.TransactionRecord, error) {
	var records []domain.TransactionRecord
	err := db.WithContext(ctx).
		Where("account_id = ?", accountID).
		Order("created_at asc, id asc").
		Find(&records).Error
	if err != nil {
		return nil, err
	}
	return records, nil
}
