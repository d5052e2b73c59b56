package model

import (
	"fmt"
	"time"
)

const DefaultCurrency = "CREDIT"

// Account holds the cached balance of one user. The ledger in account_transaction is the
// source of truth; Balance must always equal the signed sum of its CREDIT and DEBIT rows.
type Account struct {
	ID        int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID    string    `gorm:"type:varchar(128);uniqueIndex;not null" json:"user_id"`
	Currency  string    `gorm:"type:varchar(16);not null;default:CREDIT" json:"currency"`
	Balance   int64     `gorm:"not null;default:0" json:"balance"`
	Version   int64     `gorm:"not null;default:0" json:"version"` // bumped by every account-scoped write
	IsActive  bool      `gorm:"not null;default:true" json:"is_active"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime;index" json:"updated_at"`
}

func (Account) TableName() string {
	return "account"
}

func AccountMessageKey(accountID int64) string {
	return fmt.Sprintf("account-%d", accountID)
}
