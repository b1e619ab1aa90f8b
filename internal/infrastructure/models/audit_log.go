package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/volatiletech/null/v8"
)

type ApiKeyAuditLog struct {
	ID        int64       `gorm:"primaryKey;autoIncrement"`
	KeyID     *uuid.UUID  `gorm:"type:uuid;index"`
	Action    string      `gorm:"type:varchar(32);not null"`
	IPAddress null.String `gorm:"type:varchar(45)"`
	UserAgent null.String `gorm:"type:text"`
	Details   string      `gorm:"type:text"` // JSON
	CreatedAt time.Time

	ApiKey *ApiKey `gorm:"foreignKey:KeyID;constraint:OnDelete:SET NULL"`
}

func (ApiKeyAuditLog) TableName() string {
	return "api_key_audit_logs"
}

// All returns every model in migration order.
func All() []interface{} {
	return []interface{}{&ApiKey{}, &RateLimit{}, &ApiKeyAuditLog{}}
}
