package model

import (
	"time"
)

const (
	TransactionTypeCredit  = "CREDIT"  // adds to balance
	TransactionTypeDebit   = "DEBIT"   // subtracts from balance
	TransactionTypeReserve = "RESERVE" // audit only
	TransactionTypeRelease = "RELEASE" // audit only
)

const (
	ReferenceWelcomeBonus = "WELCOME_BONUS"
)

// AccountTransaction is one immutable ledger entry. Rows are inserted once and never
// updated or deleted. IdempotencyKey is unique per account; NULL keys never collide.
type AccountTransaction struct {
	ID             int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	TransactionNo  string    `gorm:"type:varchar(64);uniqueIndex;not null" json:"transaction_no"`
	AccountID      int64     `gorm:"not null;index;uniqueIndex:uk_txn_account_key,priority:1" json:"account_id"`
	Type           string    `gorm:"type:varchar(16);not null" json:"type"`
	Amount         int64     `gorm:"not null" json:"amount"`
	Reference      string    `gorm:"type:varchar(128);index" json:"reference"`
	IdempotencyKey *string   `gorm:"type:varchar(300);uniqueIndex:uk_txn_account_key,priority:2" json:"idempotency_key,omitempty"`
	Reason         string    `gorm:"type:varchar(256)" json:"reason"`
	CreatedAt      time.Time `gorm:"autoCreateTime;index" json:"created_at"`
}

func (AccountTransaction) TableName() string {
	return "account_transaction"
}

// StringPtr returns nil for an empty string.
func StringPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
