package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"keygate.backend/internal/domain/entities"
	domainRepos "keygate.backend/internal/domain/repositories"
	"keygate.backend/internal/infrastructure/cache"
	"keygate.backend/pkg/crypto"
	"keygate.backend/pkg/logger"
)

// KeyCache is the cache consulted before the store.
type KeyCache interface {
	Get(key string) (*entities.ApiKey, bool)
	Set(key string, value *entities.ApiKey)
	Invalidate(key string)
	Clear()
	Stats() cache.Stats
}

// CachedCredentialRepository puts a cache-aside layer in front of prefix
// lookups. Revocation does not purge the cache, so a revoked key may keep
// verifying until its entry expires.
type CachedCredentialRepository struct {
	repo  domainRepos.CredentialRepository
	cache KeyCache
}

func NewCachedCredentialRepository(repo domainRepos.CredentialRepository, c KeyCache) *CachedCredentialRepository {
	return &CachedCredentialRepository{repo: repo, cache: c}
}

// GetByPrefix serves from the cache and falls back to the store. Only
// active records are cached; failures and misses never are.
func (r *CachedCredentialRepository) GetByPrefix(ctx context.Context, prefix string) (*entities.ApiKey, error) {
	if rec, ok := r.cacheGet(ctx, prefix); ok {
		return rec, nil
	}

	rec, err := r.repo.GetByPrefix(ctx, prefix)
	if err != nil {
		return nil, err
	}
	if rec.IsActive {
		r.cacheSet(ctx, prefix, rec)
	}
	return rec, nil
}

func (r *CachedCredentialRepository) Create(ctx context.Context, input domainRepos.CreateCredentialInput) (string, *entities.ApiKey, error) {
	return r.repo.Create(ctx, input)
}

func (r *CachedCredentialRepository) Deactivate(ctx context.Context, id uuid.UUID, reason string) (bool, error) {
	return r.repo.Deactivate(ctx, id, reason)
}

func (r *CachedCredentialRepository) List(ctx context.Context, filter domainRepos.ApiKeyFilter) ([]*entities.ApiKey, int64, error) {
	return r.repo.List(ctx, filter)
}

func (r *CachedCredentialRepository) UpdateUsage(ctx context.Context, id uuid.UUID, clientIP string) error {
	return r.repo.UpdateUsage(ctx, id, clientIP)
}

func (r *CachedCredentialRepository) CheckRateLimit(ctx context.Context, id uuid.UUID, limit int, window time.Duration) (bool, int, error) {
	return r.repo.CheckRateLimit(ctx, id, limit, window)
}

// Rehash drops the cached record once the new hash is stored, so later
// lookups stop seeing the old one.
func (r *CachedCredentialRepository) Rehash(ctx context.Context, id uuid.UUID, rawKey string) error {
	if err := r.repo.Rehash(ctx, id, rawKey); err != nil {
		return err
	}
	r.cache.Invalidate(crypto.LookupPrefix(rawKey))
	return nil
}

// InvalidatePrefix drops one cached record.
func (r *CachedCredentialRepository) InvalidatePrefix(prefix string) {
	r.cache.Invalidate(prefix)
}

// ClearCache drops every cached record.
func (r *CachedCredentialRepository) ClearCache() {
	r.cache.Clear()
}

func (r *CachedCredentialRepository) CacheStats() cache.Stats {
	return r.cache.Stats()
}

func (r *CachedCredentialRepository) cacheGet(ctx context.Context, prefix string) (rec *entities.ApiKey, ok bool) {
	defer func() {
		if p := recover(); p != nil {
			logger.Error(ctx, "API key cache read failed", zap.String("panic", fmt.Sprint(p)))
			rec, ok = nil, false
		}
	}()
	return r.cache.Get(prefix)
}

func (r *CachedCredentialRepository) cacheSet(ctx context.Context, prefix string, rec *entities.ApiKey) {
	defer func() {
		if p := recover(); p != nil {
			logger.Error(ctx, "API key cache write failed", zap.String("panic", fmt.Sprint(p)))
		}
	}()
	r.cache.Set(prefix, rec)
}

var _ domainRepos.CredentialRepository = (*CachedCredentialRepository)(nil)
