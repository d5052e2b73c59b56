package model

import (
	"fmt"
	"time"
)

const (
	ReservationStatusActive    = "ACTIVE"
	ReservationStatusCommitted = "COMMITTED"
	ReservationStatusReleased  = "RELEASED"
	ReservationStatusExpired   = "EXPIRED"
)

// ValidReservationTransitions lists the only moves out of each status. Terminal
// statuses have no entry.
var ValidReservationTransitions = map[string][]string{
	ReservationStatusActive: {ReservationStatusCommitted, ReservationStatusReleased, ReservationStatusExpired},
}

func CanTransitionTo(currentStatus, targetStatus string) bool {
	for _, s := range ValidReservationTransitions[currentStatus] {
		if s == targetStatus {
			return true
		}
	}
	return false
}

func IsTerminal(status string) bool {
	_, ok := ValidReservationTransitions[status]
	return !ok
}

// Reservation is a hold against an account. It never changes the balance by itself and
// is kept after completion for audit.
type Reservation struct {
	ID             int64      `gorm:"primaryKey;autoIncrement" json:"id"`
	AccountID      int64      `gorm:"not null;index:idx_res_account_status,priority:1;uniqueIndex:uk_res_account_key,priority:1" json:"account_id"`
	Amount         int64      `gorm:"not null" json:"amount"`
	JobID          string     `gorm:"type:varchar(128);not null;index" json:"job_id"`
	Status         string     `gorm:"type:varchar(16);not null;index:idx_res_account_status,priority:2;index:idx_res_status_expires,priority:1" json:"status"`
	ExpiresAt      time.Time  `gorm:"not null;index:idx_res_status_expires,priority:2" json:"expires_at"`
	IdempotencyKey *string    `gorm:"type:varchar(256);uniqueIndex:uk_res_account_key,priority:2" json:"idempotency_key,omitempty"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
	CreatedAt      time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Reservation) TableName() string {
	return "reservation"
}

// IsExpiredAt reports whether the hold's TTL has elapsed at now.
func (r *Reservation) IsExpiredAt(now time.Time) bool {
	return !r.ExpiresAt.After(now)
}

// LedgerReference is the reference written on every ledger entry the reservation produces.
func (r *Reservation) LedgerReference() string {
	return ReservationReference(r.ID)
}

func ReservationReference(id int64) string {
	return fmt.Sprintf("reservation:%d", id)
}
