package usecases

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"keygate.backend/internal/domain/entities"
	domainerrors "keygate.backend/internal/domain/errors"
	"keygate.backend/internal/domain/repositories"
	"keygate.backend/internal/infrastructure/cache"
	"keygate.backend/pkg/logger"
	"keygate.backend/pkg/utils"
)

const createdKeyMessage = "Store this API key securely. It will not be shown again."

// CacheAdmin exposes the verification cache to operators.
type CacheAdmin interface {
	ClearCache()
	CacheStats() cache.Stats
}

// LegacyKeyLister lists legacy keys with masked values.
type LegacyKeyLister interface {
	List(service string, activeOnly bool) []entities.LegacyKeyView
	Len() int
}

// BreakerStatus reports the store breaker state.
type BreakerStatus interface {
	StateName() string
}

// KeyEventRecorder counts key lifecycle events.
type KeyEventRecorder interface {
	KeyEvent(action string)
}

type ApiKeyListResponse struct {
	Keys       []*entities.ApiKey       `json:"keys"`
	LegacyKeys []entities.LegacyKeyView `json:"legacyKeys,omitempty"`
	Pagination utils.PaginationMeta     `json:"pagination"`
}

type RateLimitStatus struct {
	Requests      int    `json:"requests"`
	WindowSeconds int64  `json:"windowSeconds"`
	Backend       string `json:"backend"`
}

type SystemStatus struct {
	Status         string          `json:"status"`
	Cache          cache.Stats     `json:"cache"`
	RateLimit      RateLimitStatus `json:"rateLimit"`
	LegacyEnabled  bool            `json:"legacyEnabled"`
	LegacyKeyCount int             `json:"legacyKeyCount"`
	StoreBreaker   string          `json:"storeBreaker,omitempty"`
	Timestamp      time.Time       `json:"timestamp"`
}

// ApiKeyUsecase handles key management for operators
type ApiKeyUsecase struct {
	repo      repositories.CredentialRepository
	cache     CacheAdmin
	legacy    LegacyKeyLister
	breaker   BreakerStatus
	recorder  KeyEventRecorder
	rateLimit RateLimitStatus
	legacyOn  bool
	now       func() time.Time
}

// NewApiKeyUsecase creates a new api key usecase
func NewApiKeyUsecase(
	repo repositories.CredentialRepository,
	cacheAdmin CacheAdmin,
	rateLimit RateLimitStatus,
) *ApiKeyUsecase {
	return &ApiKeyUsecase{
		repo:      repo,
		cache:     cacheAdmin,
		rateLimit: rateLimit,
		now:       time.Now,
	}
}

// SetLegacySource enables listing of legacy keys.
func (u *ApiKeyUsecase) SetLegacySource(enabled bool, lister LegacyKeyLister) {
	u.legacyOn = enabled
	u.legacy = lister
}

func (u *ApiKeyUsecase) SetBreaker(b BreakerStatus) { u.breaker = b }

func (u *ApiKeyUsecase) SetRecorder(r KeyEventRecorder) { u.recorder = r }

// CreateApiKey issues a new key. The raw key is only ever in the response.
func (u *ApiKeyUsecase) CreateApiKey(ctx context.Context, input *entities.CreateApiKeyInput, clientIP, userAgent string) (*entities.CreateApiKeyResponse, error) {
	var expiresAt *time.Time
	if input.ExpiresInDays != nil {
		if *input.ExpiresInDays <= 0 {
			return nil, domainerrors.BadRequest("expiresInDays must be positive")
		}
		t := u.now().UTC().Add(time.Duration(*input.ExpiresInDays) * 24 * time.Hour)
		expiresAt = &t
	}

	raw, key, err := u.repo.Create(ctx, repositories.CreateCredentialInput{
		Name:        input.Name,
		Service:     input.Service,
		Permissions: input.Permissions,
		ExpiresAt:   expiresAt,
		ClientIP:    clientIP,
		UserAgent:   userAgent,
	})
	if err != nil {
		if errors.Is(err, domainerrors.ErrInvalidInput) {
			return nil, domainerrors.BadRequest("name and service are required")
		}
		logger.Error(ctx, "Failed to create API key", zap.String("service", input.Service), zap.Error(err))
		return nil, domainerrors.StoreUnavailable(err)
	}

	u.recordEvent(string(entities.AuditActionCreated))
	logger.Info(ctx, "API key created",
		zap.String("keyId", key.ID.String()),
		zap.String("service", key.Service),
	)

	return &entities.CreateApiKeyResponse{
		ID:          key.ID,
		ApiKey:      raw,
		Name:        key.Name,
		Service:     key.Service,
		Permissions: key.Permissions,
		ExpiresAt:   key.ExpiresAt,
		CreatedAt:   key.CreatedAt,
		Message:     createdKeyMessage,
	}, nil
}

// ListApiKeys lists stored keys newest first, plus legacy keys when enabled.
func (u *ApiKeyUsecase) ListApiKeys(ctx context.Context, input *entities.ListApiKeysInput) (*ApiKeyListResponse, error) {
	pagination := utils.GetPaginationParams(input.Page, input.Limit)

	keys, total, err := u.repo.List(ctx, repositories.ApiKeyFilter{
		Service:    input.Service,
		ActiveOnly: input.ActiveOnly,
		Page:       pagination.Page,
		Limit:      pagination.Limit,
	})
	if err != nil {
		logger.Error(ctx, "Failed to list API keys", zap.Error(err))
		return nil, domainerrors.StoreUnavailable(err)
	}
	if keys == nil {
		keys = []*entities.ApiKey{}
	}

	resp := &ApiKeyListResponse{
		Keys:       keys,
		Pagination: utils.CalculateMeta(total, pagination.Page, pagination.Limit),
	}
	if u.legacyOn && u.legacy != nil {
		resp.LegacyKeys = u.legacy.List(input.Service, input.ActiveOnly)
	}
	return resp, nil
}

// DeactivateApiKey revokes a key. Unknown and already revoked keys are
// reported as not found.
func (u *ApiKeyUsecase) DeactivateApiKey(ctx context.Context, id uuid.UUID, reason string) error {
	ok, err := u.repo.Deactivate(ctx, id, reason)
	if err != nil {
		logger.Error(ctx, "Failed to deactivate API key", zap.String("keyId", id.String()), zap.Error(err))
		return domainerrors.StoreUnavailable(err)
	}
	if !ok {
		return domainerrors.NotFound("API key not found or already revoked")
	}

	u.recordEvent(string(entities.AuditActionRevoked))
	logger.Info(ctx, "API key revoked", zap.String("keyId", id.String()))
	return nil
}

// Status reports cache, rate limit and legacy source state.
func (u *ApiKeyUsecase) Status(ctx context.Context) *SystemStatus {
	status := &SystemStatus{
		Status:        "healthy",
		RateLimit:     u.rateLimit,
		LegacyEnabled: u.legacyOn,
		Timestamp:     u.now().UTC(),
	}
	if u.cache != nil {
		status.Cache = u.cache.CacheStats()
	}
	if u.legacyOn && u.legacy != nil {
		status.LegacyKeyCount = u.legacy.Len()
	}
	if u.breaker != nil {
		status.StoreBreaker = u.breaker.StateName()
		if status.StoreBreaker == "open" {
			status.Status = "degraded"
		}
	}
	return status
}

// ClearCache drops every cached key record.
func (u *ApiKeyUsecase) ClearCache(ctx context.Context) {
	if u.cache == nil {
		return
	}
	u.cache.ClearCache()
	logger.Info(ctx, "Key cache cleared")
}

func (u *ApiKeyUsecase) recordEvent(action string) {
	if u.recorder != nil {
		u.recorder.KeyEvent(action)
	}
}
