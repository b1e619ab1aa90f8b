package repositories

import (
	"context"
	"time"

	"github.com/google/uuid"
	"keygate.backend/internal/domain/entities"
)

// ApiKeyFilter narrows a key listing. Limit 0 means no paging.
type ApiKeyFilter struct {
	Service    string
	ActiveOnly bool
	Page       int
	Limit      int
}

// ApiKeyRepository defines row-level operations on stored credentials.
type ApiKeyRepository interface {
	Create(ctx context.Context, apiKey *entities.ApiKey) error
	GetByPrefix(ctx context.Context, prefix string) (*entities.ApiKey, error)
	GetByID(ctx context.Context, id uuid.UUID) (*entities.ApiKey, error)
	// Deactivate flips an active row to revoked. It reports false when no
	// active row matched.
	Deactivate(ctx context.Context, id uuid.UUID, revokedAt time.Time, reason string) (bool, error)
	List(ctx context.Context, filter ApiKeyFilter) ([]*entities.ApiKey, int64, error)
	IncrementUsage(ctx context.Context, id uuid.UUID, usedAt time.Time, clientIP string) error
	UpdateHash(ctx context.Context, id uuid.UUID, keyHash string) error
}

// RateLimitRepository counts requests per key and window.
type RateLimitRepository interface {
	// Increment adds one to the window counter unless it already reached
	// limit. It returns the counter after the increment and whether the
	// increment happened.
	Increment(ctx context.Context, keyID uuid.UUID, windowStart time.Time, limit int, window time.Duration) (int, bool, error)
	// DeleteBefore removes windows that started before cutoff. A nil keyID
	// sweeps every key.
	DeleteBefore(ctx context.Context, keyID *uuid.UUID, cutoff time.Time) (int64, error)
}

// AuditLogRepository appends audit entries.
type AuditLogRepository interface {
	Create(ctx context.Context, entry *entities.AuditLog) error
	ListByKey(ctx context.Context, keyID uuid.UUID) ([]*entities.AuditLog, error)
}

// CredentialRepository is the credential lifecycle as seen by usecases:
// allocation, lookup, revocation, usage tracking and rate limiting.
type CredentialRepository interface {
	Create(ctx context.Context, input CreateCredentialInput) (string, *entities.ApiKey, error)
	GetByPrefix(ctx context.Context, prefix string) (*entities.ApiKey, error)
	Deactivate(ctx context.Context, id uuid.UUID, reason string) (bool, error)
	List(ctx context.Context, filter ApiKeyFilter) ([]*entities.ApiKey, int64, error)
	UpdateUsage(ctx context.Context, id uuid.UUID, clientIP string) error
	CheckRateLimit(ctx context.Context, id uuid.UUID, limit int, window time.Duration) (bool, int, error)
	Rehash(ctx context.Context, id uuid.UUID, rawKey string) error
}

type CreateCredentialInput struct {
	Name        string
	Service     string
	Permissions []string
	ExpiresAt   *time.Time
	ClientIP    string
	UserAgent   string
}
