package model

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	PaymentStatusPending   = "PENDING"
	PaymentStatusSucceeded = "SUCCEEDED"
	PaymentStatusFailed    = "FAILED"
	PaymentStatusCanceled  = "CANCELED"
)

// PaymentRecord is one external top-up attempt. It moves from PENDING to SUCCEEDED at
// most once, and only that move credits the account.
type PaymentRecord struct {
	ID                int64               `gorm:"primaryKey;autoIncrement" json:"id"`
	AccountID         int64               `gorm:"not null;index;uniqueIndex:uk_pay_account_key,priority:1" json:"account_id"`
	Provider          string              `gorm:"type:varchar(32);not null" json:"provider"`
	ProviderIntentRef string              `gorm:"type:varchar(128);uniqueIndex;not null" json:"provider_intent_ref"`
	ProviderTxnID     string              `gorm:"type:varchar(128)" json:"provider_txn_id,omitempty"`
	Status            string              `gorm:"type:varchar(16);not null;index" json:"status"`
	Amount            int64               `gorm:"not null" json:"amount"`
	Currency          string              `gorm:"type:varchar(16);not null" json:"currency"`
	PackageID         *int64              `json:"package_id,omitempty"`
	PackageName       string              `gorm:"type:varchar(64)" json:"package_name,omitempty"`
	PriceUSD          decimal.NullDecimal `gorm:"type:decimal(12,2)" json:"price_usd"`
	CheckoutURL       string              `gorm:"type:varchar(512)" json:"checkout_url,omitempty"`
	IdempotencyKey    *string             `gorm:"type:varchar(256);uniqueIndex:uk_pay_account_key,priority:2" json:"idempotency_key,omitempty"`
	RawPayload        string              `gorm:"type:text" json:"-"`
	ConfirmedAt       *time.Time          `json:"confirmed_at,omitempty"`
	CreatedAt         time.Time           `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt         time.Time           `gorm:"autoUpdateTime" json:"updated_at"`
}

func (PaymentRecord) TableName() string {
	return "payment_record"
}

func (p *PaymentRecord) LedgerReference() string {
	return p.ProviderIntentRef
}
