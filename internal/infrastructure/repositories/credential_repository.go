package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/volatiletech/null/v8"
	"go.uber.org/zap"
	"keygate.backend/internal/domain/entities"
	domainerrors "keygate.backend/internal/domain/errors"
	domainRepos "keygate.backend/internal/domain/repositories"
	"keygate.backend/pkg/crypto"
	"keygate.backend/pkg/logger"
	"keygate.backend/pkg/utils"
)

const (
	// MaxCreateAttempts bounds retries after a lookup prefix collision.
	MaxCreateAttempts = 3
	// DefaultRevokeReason is stored when a key is revoked without a reason.
	DefaultRevokeReason = "Manually revoked"
)

// KeyHasher generates and verifies key material.
type KeyHasher interface {
	Generate(service string) (raw, prefix, hash string, err error)
	Hash(raw string) (string, error)
	NeedsRehash(encoded string) bool
}

// CredentialRepositoryImpl owns the credential lifecycle: allocation,
// revocation, usage tracking and rate limiting.
type CredentialRepositoryImpl struct {
	keys       domainRepos.ApiKeyRepository
	rateLimits domainRepos.RateLimitRepository
	audits     domainRepos.AuditLogRepository
	uow        domainRepos.UnitOfWork
	hasher     KeyHasher
	now        func() time.Time
}

func NewCredentialRepository(
	keys domainRepos.ApiKeyRepository,
	rateLimits domainRepos.RateLimitRepository,
	audits domainRepos.AuditLogRepository,
	uow domainRepos.UnitOfWork,
	hasher KeyHasher,
) *CredentialRepositoryImpl {
	return &CredentialRepositoryImpl{
		keys:       keys,
		rateLimits: rateLimits,
		audits:     audits,
		uow:        uow,
		hasher:     hasher,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// SetClock replaces the time source.
func (r *CredentialRepositoryImpl) SetClock(now func() time.Time) {
	r.now = now
}

// Create allocates a new key and stores it with a created audit entry. The
// raw key is returned once and never stored.
func (r *CredentialRepositoryImpl) Create(ctx context.Context, input domainRepos.CreateCredentialInput) (string, *entities.ApiKey, error) {
	if input.Name == "" || input.Service == "" {
		return "", nil, domainerrors.ErrInvalidInput
	}
	permissions := input.Permissions
	if len(permissions) == 0 {
		permissions = []string{entities.PermissionRead}
	}

	for attempt := 1; attempt <= MaxCreateAttempts; attempt++ {
		raw, prefix, hash, err := r.hasher.Generate(input.Service)
		if err != nil {
			return "", nil, err
		}

		now := r.now()
		apiKey := &entities.ApiKey{
			ID:          utils.GenerateUUIDv7(),
			KeyPrefix:   prefix,
			KeyHash:     hash,
			Name:        input.Name,
			Service:     input.Service,
			Permissions: append([]string(nil), permissions...),
			IsActive:    true,
			ExpiresAt:   input.ExpiresAt,
			CreatedAt:   now,
			UpdatedAt:   now,
		}

		err = r.uow.Do(ctx, func(txCtx context.Context) error {
			if err := r.keys.Create(txCtx, apiKey); err != nil {
				return err
			}
			return r.audits.Create(txCtx, &entities.AuditLog{
				KeyID:     &apiKey.ID,
				Action:    entities.AuditActionCreated,
				IPAddress: nullable(input.ClientIP),
				UserAgent: nullable(input.UserAgent),
				Details: map[string]any{
					"name":        apiKey.Name,
					"service":     apiKey.Service,
					"permissions": apiKey.Permissions,
				},
				CreatedAt: now,
			})
		})
		if err == nil {
			return raw, apiKey, nil
		}
		if !errors.Is(err, domainerrors.ErrAlreadyExists) {
			return "", nil, err
		}
		logger.Warn(ctx, "API key prefix collision, retrying",
			zap.Int("attempt", attempt),
			zap.String("service", input.Service),
		)
	}

	return "", nil, fmt.Errorf("%w: key prefix collision after %d attempts", domainerrors.ErrStoreUnavailable, MaxCreateAttempts)
}

// GetByPrefix returns the record for prefix whether active or not
func (r *CredentialRepositoryImpl) GetByPrefix(ctx context.Context, prefix string) (*entities.ApiKey, error) {
	return r.keys.GetByPrefix(ctx, prefix)
}

// Deactivate revokes the key. It reports false when the key does not exist
// or is already revoked; only the first revocation is audited.
func (r *CredentialRepositoryImpl) Deactivate(ctx context.Context, id uuid.UUID, reason string) (bool, error) {
	if reason == "" {
		reason = DefaultRevokeReason
	}

	var revoked bool
	err := r.uow.Do(ctx, func(txCtx context.Context) error {
		now := r.now()
		ok, err := r.keys.Deactivate(txCtx, id, now, reason)
		if err != nil || !ok {
			return err
		}
		revoked = true
		return r.audits.Create(txCtx, &entities.AuditLog{
			KeyID:     &id,
			Action:    entities.AuditActionRevoked,
			Details:   map[string]any{"reason": reason},
			CreatedAt: now,
		})
	})
	if err != nil {
		return false, err
	}
	return revoked, nil
}

// List returns records with masked prefixes and no hash
func (r *CredentialRepositoryImpl) List(ctx context.Context, filter domainRepos.ApiKeyFilter) ([]*entities.ApiKey, int64, error) {
	keys, total, err := r.keys.List(ctx, filter)
	if err != nil {
		return nil, 0, err
	}
	masked := make([]*entities.ApiKey, 0, len(keys))
	for _, k := range keys {
		masked = append(masked, k.Masked())
	}
	return masked, total, nil
}

// UpdateUsage records one use of the key
func (r *CredentialRepositoryImpl) UpdateUsage(ctx context.Context, id uuid.UUID, clientIP string) error {
	return r.keys.IncrementUsage(ctx, id, r.now(), clientIP)
}

// CheckRateLimit counts one request against the fixed window containing
// now. A denied request is not counted and reports zero remaining.
func (r *CredentialRepositoryImpl) CheckRateLimit(ctx context.Context, id uuid.UUID, limit int, window time.Duration) (bool, int, error) {
	if window <= 0 {
		window = time.Minute
	}
	now := r.now()
	windowStart := entities.WindowStart(now, window)

	count, allowed, err := r.rateLimits.Increment(ctx, id, windowStart, limit, window)
	if err != nil {
		return false, 0, err
	}

	if _, err := r.rateLimits.DeleteBefore(ctx, &id, now.Add(-window)); err != nil {
		logger.Debug(ctx, "Rate limit window cleanup failed", zap.String("key_id", id.String()), zap.Error(err))
	}

	if !allowed {
		return false, 0, nil
	}
	remaining := limit - count
	if remaining < 0 {
		remaining = 0
	}
	return true, remaining, nil
}

// Rehash replaces the stored hash with one made under the current
// parameters and records a rehashed audit entry. A hash that is already
// current is left alone.
func (r *CredentialRepositoryImpl) Rehash(ctx context.Context, id uuid.UUID, rawKey string) error {
	stored, err := r.keys.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if !r.hasher.NeedsRehash(stored.KeyHash) {
		return nil
	}

	hash, err := r.hasher.Hash(rawKey)
	if err != nil {
		return err
	}
	return r.uow.Do(ctx, func(txCtx context.Context) error {
		if err := r.keys.UpdateHash(txCtx, id, hash); err != nil {
			return err
		}
		return r.audits.Create(txCtx, &entities.AuditLog{
			KeyID:     &id,
			Action:    entities.AuditActionRehashed,
			CreatedAt: r.now(),
		})
	})
}

func nullable(s string) null.String {
	return null.NewString(s, s != "")
}

var _ domainRepos.CredentialRepository = (*CredentialRepositoryImpl)(nil)
var _ KeyHasher = (*crypto.Hasher)(nil)
