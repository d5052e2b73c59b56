package repository

import (
	"context"
	"errors"
	"time"

	"creditledger/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type AccountRepository struct {
	db *gorm.DB
}

func NewAccountRepository(db *gorm.DB) *AccountRepository {
	return &AccountRepository{db: db}
}

// CreateIfAbsent inserts account unless one already exists for its user. created is false
// when another writer got there first.
func (r *AccountRepository) CreateIfAbsent(ctx context.Context, tx *gorm.DB, account *model.Account) (bool, error) {
	result := conn(r.db, tx).WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}},
			DoNothing: true,
		}).
		Create(account)
	if result.Error != nil {
		return false, wrapCreate(result.Error)
	}
	return result.RowsAffected == 1, nil
}

func (r *AccountRepository) GetByID(ctx context.Context, tx *gorm.DB, id int64) (*model.Account, error) {
	var account model.Account
	err := conn(r.db, tx).WithContext(ctx).Where("id = ?", id).First(&account).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrAccountNotFound
		}
		return nil, err
	}
	return &account, nil
}

func (r *AccountRepository) GetByUserID(ctx context.Context, tx *gorm.DB, userID string) (*model.Account, error) {
	var account model.Account
	err := conn(r.db, tx).WithContext(ctx).Where("user_id = ?", userID).First(&account).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrAccountNotFound
		}
		return nil, err
	}
	return &account, nil
}

// GetByIDForUpdate locks the account row for the rest of tx.
func (r *AccountRepository) GetByIDForUpdate(ctx context.Context, tx *gorm.DB, id int64) (*model.Account, error) {
	var account model.Account
	err := tx.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", id).
		First(&account).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrAccountNotFound
		}
		return nil, err
	}
	return &account, nil
}

// Touch bumps the version token without changing the balance. Holds and releases call it
// so that every account-scoped write conflicts with a concurrent one.
func (r *AccountRepository) Touch(ctx context.Context, tx *gorm.DB, id int64, version int64) error {
	return r.ApplyDelta(ctx, tx, id, 0, version)
}

// ApplyDelta adds delta to the balance if the account is still at version.
func (r *AccountRepository) ApplyDelta(ctx context.Context, tx *gorm.DB, id int64, delta int64, version int64) error {
	result := conn(r.db, tx).WithContext(ctx).
		Model(&model.Account{}).
		Where("id = ? AND version = ?", id, version).
		Updates(map[string]interface{}{
			"balance": gorm.Expr("balance + ?", delta),
			"version": gorm.Expr("version + 1"),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrOptimisticLock
	}
	return nil
}

// SetBalance overwrites the cached balance, used only when reconciling from the ledger.
func (r *AccountRepository) SetBalance(ctx context.Context, tx *gorm.DB, id int64, balance int64, version int64) error {
	result := conn(r.db, tx).WithContext(ctx).
		Model(&model.Account{}).
		Where("id = ? AND version = ?", id, version).
		Updates(map[string]interface{}{
			"balance": balance,
			"version": gorm.Expr("version + 1"),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrOptimisticLock
	}
	return nil
}

// ListIDsUpdatedSince pages through accounts touched after since, ordered by id.
func (r *AccountRepository) ListIDsUpdatedSince(ctx context.Context, since time.Time, afterID int64, limit int) ([]int64, error) {
	var ids []int64
	err := r.db.WithContext(ctx).
		Model(&model.Account{}).
		Where("updated_at >= ? AND id > ?", since, afterID).
		Order("id ASC").
		Limit(limit).
		Pluck("id", &ids).Error
	return ids, err
}
