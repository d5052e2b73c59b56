package repository

import (
	"errors"
	"strings"

	"gorm.io/gorm"
)

var (
	ErrAccountNotFound     = errors.New("account not found")
	ErrReservationNotFound = errors.New("reservation not found")
	ErrPaymentNotFound     = errors.New("payment record not found")
	ErrPackageNotFound     = errors.New("coin package not found")
	ErrPriceNotFound       = errors.New("service price not found")
	ErrOptimisticLock      = errors.New("optimistic lock conflict")
	ErrStatusChanged       = errors.New("status changed concurrently")
	ErrDuplicateKey        = errors.New("duplicate key")
)

// IsDuplicateKey recognises unique-constraint violations from MySQL and SQLite, with or
// without gorm error translation enabled.
func IsDuplicateKey(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) || errors.Is(err, ErrDuplicateKey) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "Duplicate entry") ||
		strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "Error 1062")
}

func wrapCreate(err error) error {
	if IsDuplicateKey(err) && !errors.Is(err, ErrDuplicateKey) {
		return errors.Join(ErrDuplicateKey, err)
	}
	return err
}

func conn(db, tx *gorm.DB) *gorm.DB {
	if tx == nil {
		return db
	}
	return tx
}
