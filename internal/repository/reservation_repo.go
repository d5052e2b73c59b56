package repository

import (
	"context"
	"errors"
	"time"

	"creditledger/internal/model"

	"gorm.io/gorm"
)

type ReservationRepository struct {
	db *gorm.DB
}

func NewReservationRepository(db *gorm.DB) *ReservationRepository {
	return &ReservationRepository{db: db}
}

func (r *ReservationRepository) Create(ctx context.Context, tx *gorm.DB, res *model.Reservation) error {
	return wrapCreate(conn(r.db, tx).WithContext(ctx).Create(res).Error)
}

func (r *ReservationRepository) GetByID(ctx context.Context, tx *gorm.DB, id int64) (*model.Reservation, error) {
	var res model.Reservation
	err := conn(r.db, tx).WithContext(ctx).Where("id = ?", id).First(&res).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrReservationNotFound
		}
		return nil, err
	}
	return &res, nil
}

// GetByIdempotencyKey returns nil, nil when the account has no reservation under key.
func (r *ReservationRepository) GetByIdempotencyKey(ctx context.Context, tx *gorm.DB, accountID int64, key string) (*model.Reservation, error) {
	var res model.Reservation
	err := conn(r.db, tx).WithContext(ctx).
		Where("account_id = ? AND idempotency_key = ?", accountID, key).
		First(&res).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &res, nil
}

// SumActiveHeld is the total of ACTIVE reservations whose TTL has not elapsed at now.
func (r *ReservationRepository) SumActiveHeld(ctx context.Context, tx *gorm.DB, accountID int64, now time.Time) (int64, error) {
	var total int64
	err := conn(r.db, tx).WithContext(ctx).
		Model(&model.Reservation{}).
		Select("COALESCE(SUM(amount), 0)").
		Where("account_id = ? AND status = ? AND expires_at > ?", accountID, model.ReservationStatusActive, now).
		Scan(&total).Error
	return total, err
}

// UpdateStatus moves the reservation from one status to another. ErrStatusChanged means
// another writer moved it first.
func (r *ReservationRepository) UpdateStatus(ctx context.Context, tx *gorm.DB, id int64, fromStatus, toStatus string, completedAt time.Time) error {
	result := conn(r.db, tx).WithContext(ctx).
		Model(&model.Reservation{}).
		Where("id = ? AND status = ?", id, fromStatus).
		Updates(map[string]interface{}{
			"status":       toStatus,
			"completed_at": completedAt,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrStatusChanged
	}
	return nil
}

// ListExpiredActive returns ACTIVE reservations whose TTL elapsed at or before now, oldest first.
func (r *ReservationRepository) ListExpiredActive(ctx context.Context, now time.Time, limit int) ([]*model.Reservation, error) {
	var reservations []*model.Reservation
	err := r.db.WithContext(ctx).
		Where("status = ? AND expires_at <= ?", model.ReservationStatusActive, now).
		Order("expires_at ASC").
		Limit(limit).
		Find(&reservations).Error
	return reservations, err
}

