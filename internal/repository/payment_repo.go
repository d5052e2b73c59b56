package repository

import (
	"context"
	"errors"

	"creditledger/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type PaymentRepository struct {
	db *gorm.DB
}

func NewPaymentRepository(db *gorm.DB) *PaymentRepository {
	return &PaymentRepository{db: db}
}

func (r *PaymentRepository) Create(ctx context.Context, tx *gorm.DB, payment *model.PaymentRecord) error {
	return wrapCreate(conn(r.db, tx).WithContext(ctx).Create(payment).Error)
}

func (r *PaymentRepository) GetByID(ctx context.Context, id int64) (*model.PaymentRecord, error) {
	var payment model.PaymentRecord
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&payment).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrPaymentNotFound
		}
		return nil, err
	}
	return &payment, nil
}

func (r *PaymentRepository) GetByProviderRef(ctx context.Context, tx *gorm.DB, ref string) (*model.PaymentRecord, error) {
	var payment model.PaymentRecord
	err := conn(r.db, tx).WithContext(ctx).Where("provider_intent_ref = ?", ref).First(&payment).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrPaymentNotFound
		}
		return nil, err
	}
	return &payment, nil
}

// GetByProviderRefForUpdate locks the payment row for the rest of tx.
func (r *PaymentRepository) GetByProviderRefForUpdate(ctx context.Context, tx *gorm.DB, ref string) (*model.PaymentRecord, error) {
	var payment model.PaymentRecord
	err := tx.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("provider_intent_ref = ?", ref).
		First(&payment).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrPaymentNotFound
		}
		return nil, err
	}
	return &payment, nil
}

// GetByIdempotencyKey returns nil, nil when the account has no payment under key.
func (r *PaymentRepository) GetByIdempotencyKey(ctx context.Context, tx *gorm.DB, accountID int64, key string) (*model.PaymentRecord, error) {
	var payment model.PaymentRecord
	err := conn(r.db, tx).WithContext(ctx).
		Where("account_id = ? AND idempotency_key = ?", accountID, key).
		First(&payment).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &payment, nil
}

// UpdateStatus applies fields together with the status move. ErrStatusChanged means the
// record was no longer in fromStatus.
func (r *PaymentRepository) UpdateStatus(ctx context.Context, tx *gorm.DB, id int64, fromStatus, toStatus string, fields map[string]interface{}) error {
	updates := map[string]interface{}{"status": toStatus}
	for k, v := range fields {
		updates[k] = v
	}
	result := conn(r.db, tx).WithContext(ctx).
		Model(&model.PaymentRecord{}).
		Where("id = ? AND status = ?", id, fromStatus).
		Updates(updates)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrStatusChanged
	}
	return nil
}
