package model

import (
	"encoding/json"
	"time"
)

const (
	OutboxStatusPending = "PENDING"
	OutboxStatusSent    = "SENT"
	OutboxStatusFailed  = "FAILED"
)

const (
	EventReservationCommitted = "reservation.committed"
	EventReservationReleased  = "reservation.released"
	EventReservationExpired   = "reservation.expired"
	EventTopUpSucceeded       = "topup.succeeded"
)

// OutboxMessage is written in the same transaction as the state change it announces.
type OutboxMessage struct {
	ID         int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	MessageKey string    `gorm:"type:varchar(64);not null" json:"message_key"`
	Topic      string    `gorm:"type:varchar(64);not null" json:"topic"`
	Payload    string    `gorm:"type:text;not null" json:"payload"`
	Status     string    `gorm:"type:varchar(20);index;not null;default:PENDING" json:"status"`
	RetryCount int       `gorm:"not null;default:0" json:"retry_count"`
	CreatedAt  time.Time `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt  time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (OutboxMessage) TableName() string {
	return "outbox_message"
}

// LedgerEvent is the payload published for every balance-relevant state change.
type LedgerEvent struct {
	Type          string    `json:"type"`
	AccountID     int64     `json:"account_id"`
	UserID        string    `json:"user_id,omitempty"`
	ReservationID int64     `json:"reservation_id,omitempty"`
	PaymentID     int64     `json:"payment_id,omitempty"`
	JobID         string    `json:"job_id,omitempty"`
	Amount        int64     `json:"amount"`
	Balance       int64     `json:"balance"`
	Reason        string    `json:"reason,omitempty"`
	OccurredAt    time.Time `json:"occurred_at"`
}

// NewOutboxMessage serialises ev for topic, keyed by account so one account's events stay ordered.
func NewOutboxMessage(topic string, ev LedgerEvent) (*OutboxMessage, error) {
	payload, err := json.Marshal(ev)
	if err != nil {
		return nil, err
	}
	return &OutboxMessage{
		MessageKey: AccountMessageKey(ev.AccountID),
		Topic:      topic,
		Payload:    string(payload),
		Status:     OutboxStatusPending,
	}, nil
}
