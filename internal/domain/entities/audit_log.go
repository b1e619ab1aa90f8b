package entities

import (
	"time"

	"github.com/google/uuid"
	"github.com/volatiletech/null/v8"
)

type AuditAction string

const (
	AuditActionCreated  AuditAction = "created"
	AuditActionRevoked  AuditAction = "revoked"
	AuditActionRehashed AuditAction = "rehashed"
)

// AuditLog is an append-only entry. KeyID stays nil once the key row is gone.
type AuditLog struct {
	ID        int64          `json:"id"`
	KeyID     *uuid.UUID     `json:"keyId,omitempty"`
	Action    AuditAction    `json:"action"`
	IPAddress null.String    `json:"ipAddress"`
	UserAgent null.String    `json:"userAgent"`
	Details   map[string]any `json:"details,omitempty"`
	CreatedAt time.Time      `json:"createdAt"`
}
