package repository

import (
	"context"
	"errors"

	"creditledger/internal/model"

	"gorm.io/gorm"
)

type TransactionRepository struct {
	db *gorm.DB
}

func NewTransactionRepository(db *gorm.DB) *TransactionRepository {
	return &TransactionRepository{db: db}
}

func (r *TransactionRepository) Create(ctx context.Context, tx *gorm.DB, trans *model.AccountTransaction) error {
	return wrapCreate(conn(r.db, tx).WithContext(ctx).Create(trans).Error)
}

// GetByIdempotencyKey returns nil, nil when no entry carries key.
func (r *TransactionRepository) GetByIdempotencyKey(ctx context.Context, tx *gorm.DB, accountID int64, key string) (*model.AccountTransaction, error) {
	var trans model.AccountTransaction
	err := conn(r.db, tx).WithContext(ctx).
		Where("account_id = ? AND idempotency_key = ?", accountID, key).
		First(&trans).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &trans, nil
}

// ListByAccountID pages newest first. page starts at 1.
func (r *TransactionRepository) ListByAccountID(ctx context.Context, accountID int64, page, pageSize int) ([]*model.AccountTransaction, int64, error) {
	var transactions []*model.AccountTransaction
	var total int64

	query := r.db.WithContext(ctx).Model(&model.AccountTransaction{}).Where("account_id = ?", accountID)

	if err := query.Session(&gorm.Session{}).Count(&total).Error; err != nil {
		return nil, 0, err
	}

	err := query.Session(&gorm.Session{}).
		Order("created_at DESC").
		Order("id DESC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&transactions).Error

	return transactions, total, err
}

// SumBalance recomputes the balance from the ledger: credits minus debits.
func (r *TransactionRepository) SumBalance(ctx context.Context, tx *gorm.DB, accountID int64) (int64, error) {
	var total int64
	err := conn(r.db, tx).WithContext(ctx).
		Model(&model.AccountTransaction{}).
		Select("COALESCE(SUM(CASE type WHEN ? THEN amount WHEN ? THEN -amount ELSE 0 END), 0)",
			model.TransactionTypeCredit, model.TransactionTypeDebit).
		Where("account_id = ?", accountID).
		Scan(&total).Error
	return total, err
}
