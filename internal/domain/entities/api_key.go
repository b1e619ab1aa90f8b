package entities

import (
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/volatiletech/null/v8"
)

const (
	// PermissionAdmin implicitly grants every permission.
	PermissionAdmin = "admin"
	// PermissionRead is assigned when a key is created without permissions.
	PermissionRead = "read"
	// LegacyService is the service name of keys served by the legacy source.
	LegacyService = "legacy"
)

// ApiKey is the durable record of one issued credential. The raw key is
// never stored; KeyPrefix indexes it and KeyHash verifies it.
type ApiKey struct {
	ID           uuid.UUID   `json:"id"`
	KeyPrefix    string      `json:"keyPrefix"`
	KeyHash      string      `json:"-"`
	Name         string      `json:"name"`
	Service      string      `json:"service"`
	Permissions  []string    `json:"permissions"`
	IsActive     bool        `json:"isActive"`
	ExpiresAt    *time.Time  `json:"expiresAt,omitempty"`
	RevokedAt    *time.Time  `json:"revokedAt,omitempty"`
	RevokeReason null.String `json:"revokeReason"`
	UsageCount   int64       `json:"usageCount"`
	LastUsedAt   *time.Time  `json:"lastUsedAt,omitempty"`
	LastUsedIP   null.String `json:"lastUsedIp"`
	CreatedAt    time.Time   `json:"createdAt"`
	UpdatedAt    time.Time   `json:"updatedAt"`
}

// IsExpired reports whether the key has an expiry at or before now.
func (k *ApiKey) IsExpired(now time.Time) bool {
	return k.ExpiresAt != nil && !now.Before(*k.ExpiresAt)
}

// HasPermission reports whether the key grants permission, either directly
// or through admin.
func (k *ApiKey) HasPermission(permission string) bool {
	return HasPermission(k.Permissions, permission)
}

// Clone returns a deep copy safe to hand to another goroutine.
func (k *ApiKey) Clone() *ApiKey {
	if k == nil {
		return nil
	}
	c := *k
	c.Permissions = slices.Clone(k.Permissions)
	c.ExpiresAt = cloneTime(k.ExpiresAt)
	c.RevokedAt = cloneTime(k.RevokedAt)
	c.LastUsedAt = cloneTime(k.LastUsedAt)
	return &c
}

// Masked returns a copy whose prefix is masked for display.
func (k *ApiKey) Masked() *ApiKey {
	c := k.Clone()
	c.KeyPrefix = MaskPrefix(k.KeyPrefix)
	c.KeyHash = ""
	return c
}

// HasPermission reports whether permissions contains required or admin.
func HasPermission(permissions []string, required string) bool {
	if required == "" {
		return true
	}
	return slices.Contains(permissions, required) || slices.Contains(permissions, PermissionAdmin)
}

// MaskPrefix keeps the first and last four characters of a lookup prefix.
func MaskPrefix(prefix string) string {
	if len(prefix) <= 8 {
		return strings.Repeat("*", len(prefix))
	}
	return prefix[:4] + "****" + prefix[len(prefix)-4:]
}

// MaskRawKey keeps the first eight and last four characters of a raw key.
func MaskRawKey(raw string) string {
	if len(raw) <= 12 {
		return strings.Repeat("*", len(raw))
	}
	return raw[:8] + strings.Repeat("*", len(raw)-12) + raw[len(raw)-4:]
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

type CreateApiKeyInput struct {
	Name          string   `json:"name" binding:"required,max=255"`
	Service       string   `json:"service" binding:"required,max=64"`
	Permissions   []string `json:"permissions"`
	ExpiresInDays *int     `json:"expiresInDays" binding:"omitempty,min=1"`
}

type CreateApiKeyResponse struct {
	ID          uuid.UUID  `json:"id"`
	ApiKey      string     `json:"apiKey"`
	Name        string     `json:"name"`
	Service     string     `json:"service"`
	Permissions []string   `json:"permissions"`
	ExpiresAt   *time.Time `json:"expiresAt,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
	Message     string     `json:"message"`
}

// ListApiKeysInput filters the key listing. Limit 0 returns every row.
type ListApiKeysInput struct {
	Service    string `form:"service"`
	ActiveOnly bool   `form:"activeOnly"`
	Page       int    `form:"page"`
	Limit      int    `form:"limit"`
}

// LegacyKeyView describes a key served by the legacy source.
type LegacyKeyView struct {
	MaskedKey   string   `json:"maskedKey"`
	Name        string   `json:"name"`
	Service     string   `json:"service"`
	Permissions []string `json:"permissions"`
	IsActive    bool     `json:"isActive"`
	Source      string   `json:"source"`
}

// LegacyKey is a plaintext key served by the legacy source. It has no
// durable id and is never rate limited.
type LegacyKey struct {
	Key         string   `json:"-"`
	Name        string   `json:"name"`
	Service     string   `json:"service"`
	Permissions []string `json:"permissions"`
	IsActive    bool     `json:"isActive"`
	Source      string   `json:"source"`
}
