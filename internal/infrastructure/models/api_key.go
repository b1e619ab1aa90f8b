package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/volatiletech/null/v8"
)

type ApiKey struct {
	ID           uuid.UUID   `gorm:"type:uuid;primaryKey"`
	KeyPrefix    string      `gorm:"type:varchar(16);uniqueIndex;not null"` // sha256(raw)[:16]
	KeyHash      string      `gorm:"type:varchar(255);not null"`            // argon2id PHC string
	Name         string      `gorm:"type:varchar(255);not null"`
	Service      string      `gorm:"type:varchar(64);not null;index"`
	Permissions  Permissions `gorm:"not null"`
	IsActive     bool        `gorm:"not null;index"`
	ExpiresAt    *time.Time  `gorm:"index"`
	RevokedAt    *time.Time
	RevokeReason null.String `gorm:"type:varchar(255)"`
	UsageCount   int64       `gorm:"not null;default:0"`
	LastUsedAt   *time.Time
	LastUsedIP   null.String `gorm:"column:last_used_ip;type:varchar(45)"`
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

func (ApiKey) TableName() string {
	return "api_keys"
}
