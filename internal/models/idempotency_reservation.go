package models

import "time"

// IdempotencyReservation binds a client idempotency key to the attempt id
// chosen by whichever request inserted it first.
type IdempotencyReservation struct {
	IdempotencyKey string    `gorm:"type:varchar(255);primaryKey" json:"idempotency_key"`
	AttemptID      string    `gorm:"type:varchar(36);not null" json:"attempt_id"`
	CreatedAt      time.Time `json:"created_at"`
}
