package models

import "time"

type NewsletterSubscriber struct {
	ID         uint      `gorm:"primarykey" json:"id"`
	Email      string    `gorm:"type:varchar(255);not null;uniqueIndex" json:"email"`
	Subscribed bool      `gorm:"not null" json:"subscribed"`
	CreatedAt  time.Time `json:"created_at"`
}
