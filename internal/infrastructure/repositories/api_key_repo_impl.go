package repositories

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/volatiletech/null/v8"
	"gorm.io/gorm"
	"keygate.backend/internal/domain/entities"
	domainerrors "keygate.backend/internal/domain/errors"
	domainRepos "keygate.backend/internal/domain/repositories"
	"keygate.backend/internal/infrastructure/models"
	"keygate.backend/pkg/utils"
)

// ApiKeyRepositoryImpl stores credential rows with GORM
type ApiKeyRepositoryImpl struct {
	db *gorm.DB
}

// NewApiKeyRepository creates a new api key repository
func NewApiKeyRepository(db *gorm.DB) *ApiKeyRepositoryImpl {
	return &ApiKeyRepositoryImpl{db: db}
}

// Create inserts a new row. A duplicate prefix yields ErrAlreadyExists.
func (r *ApiKeyRepositoryImpl) Create(ctx context.Context, apiKey *entities.ApiKey) error {
	if apiKey.ID == uuid.Nil {
		apiKey.ID = utils.GenerateUUIDv7()
	}
	now := time.Now().UTC()
	if apiKey.CreatedAt.IsZero() {
		apiKey.CreatedAt = now
	}
	if apiKey.UpdatedAt.IsZero() {
		apiKey.UpdatedAt = apiKey.CreatedAt
	}

	m := r.toModel(apiKey)
	if err := GetDB(ctx, r.db).WithContext(ctx).Create(m).Error; err != nil {
		if isDuplicateKey(err) {
			return domainerrors.ErrAlreadyExists
		}
		return err
	}
	return nil
}

// isDuplicateKey covers translated GORM errors and raw lib/pq errors.
func isDuplicateKey(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}

// GetByPrefix finds a row by its lookup prefix, active or not
func (r *ApiKeyRepositoryImpl) GetByPrefix(ctx context.Context, prefix string) (*entities.ApiKey, error) {
	var m models.ApiKey
	if err := GetDB(ctx, r.db).WithContext(ctx).Where("key_prefix = ?", prefix).First(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domainerrors.ErrNotFound
		}
		return nil, err
	}
	return r.toEntity(&m), nil
}

// GetByID finds a row by id
func (r *ApiKeyRepositoryImpl) GetByID(ctx context.Context, id uuid.UUID) (*entities.ApiKey, error) {
	var m models.ApiKey
	if err := GetDB(ctx, r.db).WithContext(ctx).Where("id = ?", id).First(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domainerrors.ErrNotFound
		}
		return nil, err
	}
	return r.toEntity(&m), nil
}

// Deactivate revokes an active row
func (r *ApiKeyRepositoryImpl) Deactivate(ctx context.Context, id uuid.UUID, revokedAt time.Time, reason string) (bool, error) {
	result := GetDB(ctx, r.db).WithContext(ctx).
		Model(&models.ApiKey{}).
		Where("id = ? AND is_active = ?", id, true).
		Updates(map[string]interface{}{
			"is_active":     false,
			"revoked_at":    revokedAt,
			"revoke_reason": null.StringFrom(reason),
			"updated_at":    revokedAt,
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// List returns rows newest first together with the unpaged total
func (r *ApiKeyRepositoryImpl) List(ctx context.Context, filter domainRepos.ApiKeyFilter) ([]*entities.ApiKey, int64, error) {
	query := GetDB(ctx, r.db).WithContext(ctx).Model(&models.ApiKey{})
	if filter.Service != "" {
		query = query.Where("service = ?", filter.Service)
	}
	if filter.ActiveOnly {
		query = query.Where("is_active = ?", true)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	pagination := utils.GetPaginationParams(filter.Page, filter.Limit)
	query = query.Order("created_at DESC").Order("id DESC")
	if pagination.Paged() {
		query = query.Limit(pagination.Limit).Offset(pagination.Offset())
	}

	var rows []models.ApiKey
	if err := query.Find(&rows).Error; err != nil {
		return nil, 0, err
	}

	keys := make([]*entities.ApiKey, 0, len(rows))
	for i := range rows {
		keys = append(keys, r.toEntity(&rows[i]))
	}
	return keys, total, nil
}

// IncrementUsage bumps the usage counter and records the last use
func (r *ApiKeyRepositoryImpl) IncrementUsage(ctx context.Context, id uuid.UUID, usedAt time.Time, clientIP string) error {
	result := GetDB(ctx, r.db).WithContext(ctx).
		Model(&models.ApiKey{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"usage_count":  gorm.Expr("usage_count + ?", 1),
			"last_used_at": usedAt,
			"last_used_ip": null.NewString(clientIP, clientIP != ""),
			"updated_at":   usedAt,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domainerrors.ErrNotFound
	}
	return nil
}

// UpdateHash replaces the stored hash
func (r *ApiKeyRepositoryImpl) UpdateHash(ctx context.Context, id uuid.UUID, keyHash string) error {
	result := GetDB(ctx, r.db).WithContext(ctx).
		Model(&models.ApiKey{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"key_hash":   keyHash,
			"updated_at": time.Now().UTC(),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domainerrors.ErrNotFound
	}
	return nil
}

func (r *ApiKeyRepositoryImpl) toModel(e *entities.ApiKey) *models.ApiKey {
	perms := models.Permissions(e.Permissions)
	if perms == nil {
		perms = models.Permissions{}
	}
	return &models.ApiKey{
		ID:           e.ID,
		KeyPrefix:    e.KeyPrefix,
		KeyHash:      e.KeyHash,
		Name:         e.Name,
		Service:      e.Service,
		Permissions:  perms,
		IsActive:     e.IsActive,
		ExpiresAt:    e.ExpiresAt,
		RevokedAt:    e.RevokedAt,
		RevokeReason: e.RevokeReason,
		UsageCount:   e.UsageCount,
		LastUsedAt:   e.LastUsedAt,
		LastUsedIP:   e.LastUsedIP,
		CreatedAt:    e.CreatedAt,
		UpdatedAt:    e.UpdatedAt,
	}
}

func (r *ApiKeyRepositoryImpl) toEntity(m *models.ApiKey) *entities.ApiKey {
	perms := []string(m.Permissions)
	if perms == nil {
		perms = []string{}
	}
	return &entities.ApiKey{
		ID:           m.ID,
		KeyPrefix:    m.KeyPrefix,
		KeyHash:      m.KeyHash,
		Name:         m.Name,
		Service:      m.Service,
		Permissions:  perms,
		IsActive:     m.IsActive,
		ExpiresAt:    m.ExpiresAt,
		RevokedAt:    m.RevokedAt,
		RevokeReason: m.RevokeReason,
		UsageCount:   m.UsageCount,
		LastUsedAt:   m.LastUsedAt,
		LastUsedIP:   m.LastUsedIP,
		CreatedAt:    m.CreatedAt,
		UpdatedAt:    m.UpdatedAt,
	}
}
