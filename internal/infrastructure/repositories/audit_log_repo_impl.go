package repositories

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"keygate.backend/internal/domain/entities"
	"keygate.backend/internal/infrastructure/models"
)

// AuditLogRepositoryImpl appends key audit entries
type AuditLogRepositoryImpl struct {
	db *gorm.DB
}

func NewAuditLogRepository(db *gorm.DB) *AuditLogRepositoryImpl {
	return &AuditLogRepositoryImpl{db: db}
}

func (r *AuditLogRepositoryImpl) Create(ctx context.Context, entry *entities.AuditLog) error {
	details := ""
	if len(entry.Details) > 0 {
		b, err := json.Marshal(entry.Details)
		if err != nil {
			return err
		}
		details = string(b)
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	m := &models.ApiKeyAuditLog{
		KeyID:     entry.KeyID,
		Action:    string(entry.Action),
		IPAddress: entry.IPAddress,
		UserAgent: entry.UserAgent,
		Details:   details,
		CreatedAt: entry.CreatedAt,
	}
	if err := GetDB(ctx, r.db).WithContext(ctx).Omit("ApiKey").Create(m).Error; err != nil {
		return err
	}
	entry.ID = m.ID
	return nil
}

// ListByKey returns the entries of one key oldest first
func (r *AuditLogRepositoryImpl) ListByKey(ctx context.Context, keyID uuid.UUID) ([]*entities.AuditLog, error) {
	var rows []models.ApiKeyAuditLog
	if err := GetDB(ctx, r.db).WithContext(ctx).Where("key_id = ?", keyID).Order("id ASC").Find(&rows).Error; err != nil {
		return nil, err
	}

	entries := make([]*entities.AuditLog, 0, len(rows))
	for i := range rows {
		m := rows[i]
		entry := &entities.AuditLog{
			ID:        m.ID,
			KeyID:     m.KeyID,
			Action:    entities.AuditAction(m.Action),
			IPAddress: m.IPAddress,
			UserAgent: m.UserAgent,
			CreatedAt: m.CreatedAt,
		}
		if m.Details != "" {
			if err := json.Unmarshal([]byte(m.Details), &entry.Details); err != nil {
				return nil, err
			}
		}
		entries = append(entries, entry)
	}
	return entries, nil
}
