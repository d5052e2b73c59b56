package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// CoinPackage is a purchasable bundle of credits.
type CoinPackage struct {
	ID           int64           `gorm:"primaryKey;autoIncrement" json:"id"`
	Name         string          `gorm:"type:varchar(64);uniqueIndex;not null" json:"name"`
	PriceUSD     decimal.Decimal `gorm:"type:decimal(12,2);not null" json:"price_usd"`
	CoinAmount   int64           `gorm:"not null" json:"coin_amount"`
	Description  string          `gorm:"type:varchar(256)" json:"description"`
	DisplayOrder int             `gorm:"not null;default:0" json:"display_order"`
	IsActive     bool            `gorm:"not null;default:true" json:"is_active"`
	CreatedAt    time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt    time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

func (CoinPackage) TableName() string {
	return "coin_package"
}

// DefaultCoinPackages is the catalogue seeded into an empty coin_package table.
func DefaultCoinPackages() []*CoinPackage {
	return []*CoinPackage{
		{Name: "Starter", PriceUSD: decimal.RequireFromString("4.99"), CoinAmount: 500, Description: "Good for a few dozen images", DisplayOrder: 1, IsActive: true},
		{Name: "Popular", PriceUSD: decimal.RequireFromString("9.99"), CoinAmount: 1200, Description: "Most chosen bundle", DisplayOrder: 2, IsActive: true},
		{Name: "Premium", PriceUSD: decimal.RequireFromString("19.99"), CoinAmount: 2600, Description: "Best value per credit", DisplayOrder: 3, IsActive: true},
	}
}

