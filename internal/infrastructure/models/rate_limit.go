package models

import (
	"time"

	"github.com/google/uuid"
)

// RateLimit holds one counter per key and window; the unique index is the
// conflict target of the increment upsert.
type RateLimit struct {
	ID           int64     `gorm:"primaryKey;autoIncrement"`
	KeyID        uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:idx_rate_limits_key_window"`
	WindowStart  time.Time `gorm:"not null;uniqueIndex:idx_rate_limits_key_window;index"`
	RequestCount int       `gorm:"not null;default:0"`
}

func (RateLimit) TableName() string {
	return "rate_limits"
}
