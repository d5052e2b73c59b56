package model

import (
	"time"
)

// ServicePrice maps an operation or model key to the amount reserved for one job.
type ServicePrice struct {
	ID          int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	ModelKey    string    `gorm:"type:varchar(128);uniqueIndex;not null" json:"model_key"`
	Category    string    `gorm:"type:varchar(64)" json:"category"`
	DisplayName string    `gorm:"type:varchar(128)" json:"display_name"`
	Amount      int64     `gorm:"not null" json:"amount"`
	IsActive    bool      `gorm:"not null;default:true" json:"is_active"`
	CreatedAt   time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (ServicePrice) TableName() string {
	return "service_price"
}
