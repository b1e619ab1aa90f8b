package repositories

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"keygate.backend/internal/domain/entities"
	domainerrors "keygate.backend/internal/domain/errors"
	domainRepos "keygate.backend/internal/domain/repositories"
)

func newApiKeyEntity(prefix, service string, createdAt time.Time) *entities.ApiKey {
	return &entities.ApiKey{
		ID:          uuid.New(),
		KeyPrefix:   prefix,
		KeyHash:     "$argon2id$hash",
		Name:        "key " + prefix,
		Service:     service,
		Permissions: []string{"read", "write"},
		IsActive:    true,
		CreatedAt:   createdAt,
		UpdatedAt:   createdAt,
	}
}

func TestApiKeyRepository_CRUDAndFinders(t *testing.T) {
	db := newTestDB(t)
	createAPIKeyTable(t, db)
	repo := NewApiKeyRepository(db)
	ctx := context.Background()

	expires := time.Now().UTC().Add(24 * time.Hour).Truncate(time.Second)
	ak := newApiKeyEntity("0123456789abcdef", "billing", time.Now().UTC())
	ak.ExpiresAt = &expires
	require.NoError(t, repo.Create(ctx, ak))

	byPrefix, err := repo.GetByPrefix(ctx, "0123456789abcdef")
	require.NoError(t, err)
	require.Equal(t, ak.ID, byPrefix.ID)
	require.Equal(t, []string{"read", "write"}, byPrefix.Permissions)
	require.True(t, byPrefix.IsActive)
	require.NotNil(t, byPrefix.ExpiresAt)
	require.True(t, expires.Equal(*byPrefix.ExpiresAt))
	require.False(t, byPrefix.RevokeReason.Valid)

	byID, err := repo.GetByID(ctx, ak.ID)
	require.NoError(t, err)
	require.Equal(t, "billing", byID.Service)

	usedAt := time.Now().UTC()
	require.NoError(t, repo.IncrementUsage(ctx, ak.ID, usedAt, "10.0.0.1"))
	require.NoError(t, repo.IncrementUsage(ctx, ak.ID, usedAt, ""))
	byID, err = repo.GetByID(ctx, ak.ID)
	require.NoError(t, err)
	require.Equal(t, int64(2), byID.UsageCount)
	require.NotNil(t, byID.LastUsedAt)
	require.False(t, byID.LastUsedIP.Valid)

	require.NoError(t, repo.UpdateHash(ctx, ak.ID, "$argon2id$new"))
	byID, err = repo.GetByID(ctx, ak.ID)
	require.NoError(t, err)
	require.Equal(t, "$argon2id$new", byID.KeyHash)

	ok, err := repo.Deactivate(ctx, ak.ID, usedAt, "compromised")
	require.NoError(t, err)
	require.True(t, ok)
	ok, err = repo.Deactivate(ctx, ak.ID, usedAt, "again")
	require.NoError(t, err)
	require.False(t, ok)

	revoked, err := repo.GetByPrefix(ctx, "0123456789abcdef")
	require.NoError(t, err)
	require.False(t, revoked.IsActive)
	require.NotNil(t, revoked.RevokedAt)
	require.Equal(t, "compromised", revoked.RevokeReason.String)
}

func TestApiKeyRepository_DuplicatePrefix(t *testing.T) {
	db := newTestDB(t)
	createAPIKeyTable(t, db)
	repo := NewApiKeyRepository(db)
	ctx := context.Background()

	require.NoError(t, repo.Create(ctx, newApiKeyEntity("dupdupdupdupdup0", "billing", time.Now())))
	err := repo.Create(ctx, newApiKeyEntity("dupdupdupdupdup0", "billing", time.Now()))
	require.ErrorIs(t, err, domainerrors.ErrAlreadyExists)
}

func TestApiKeyRepository_CreateAssignsDefaults(t *testing.T) {
	db := newTestDB(t)
	createAPIKeyTable(t, db)
	repo := NewApiKeyRepository(db)

	ak := &entities.ApiKey{KeyPrefix: "aaaaaaaaaaaaaaaa", KeyHash: "h", Name: "n", Service: "s", IsActive: true}
	require.NoError(t, repo.Create(context.Background(), ak))
	require.NotEqual(t, uuid.Nil, ak.ID)
	require.False(t, ak.CreatedAt.IsZero())

	got, err := repo.GetByID(context.Background(), ak.ID)
	require.NoError(t, err)
	require.Equal(t, []string{}, got.Permissions)
}

func TestApiKeyRepository_ListFiltersAndPaging(t *testing.T) {
	db := newTestDB(t)
	createAPIKeyTable(t, db)
	repo := NewApiKeyRepository(db)
	ctx := context.Background()

	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	var ids []uuid.UUID
	for i := 0; i < 5; i++ {
		service := "billing"
		if i%2 == 1 {
			service = "reports"
		}
		ak := newApiKeyEntity(fmt.Sprintf("%016d", i), service, base.Add(time.Duration(i)*time.Minute))
		require.NoError(t, repo.Create(ctx, ak))
		ids = append(ids, ak.ID)
	}
	_, err := repo.Deactivate(ctx, ids[4], base, "")
	require.NoError(t, err)

	all, total, err := repo.List(ctx, domainRepos.ApiKeyFilter{})
	require.NoError(t, err)
	require.Equal(t, int64(5), total)
	require.Len(t, all, 5)
	require.Equal(t, ids[4], all[0].ID, "newest first")

	billing, total, err := repo.List(ctx, domainRepos.ApiKeyFilter{Service: "billing"})
	require.NoError(t, err)
	require.Equal(t, int64(3), total)
	require.Len(t, billing, 3)

	active, total, err := repo.List(ctx, domainRepos.ApiKeyFilter{Service: "billing", ActiveOnly: true})
	require.NoError(t, err)
	require.Equal(t, int64(2), total)
	require.Len(t, active, 2)

	page2, total, err := repo.List(ctx, domainRepos.ApiKeyFilter{Page: 2, Limit: 2})
	require.NoError(t, err)
	require.Equal(t, int64(5), total)
	require.Len(t, page2, 2)
	require.Equal(t, ids[2], page2[0].ID)
	require.Equal(t, ids[1], page2[1].ID)
}

func TestApiKeyRepository_NotFoundBranches(t *testing.T) {
	db := newTestDB(t)
	createAPIKeyTable(t, db)
	repo := NewApiKeyRepository(db)
	ctx := context.Background()
	id := uuid.New()

	_, err := repo.GetByID(ctx, id)
	require.ErrorIs(t, err, domainerrors.ErrNotFound)

	_, err = repo.GetByPrefix(ctx, "missing")
	require.ErrorIs(t, err, domainerrors.ErrNotFound)

	err = repo.IncrementUsage(ctx, id, time.Now(), "1.1.1.1")
	require.ErrorIs(t, err, domainerrors.ErrNotFound)

	err = repo.UpdateHash(ctx, id, "h")
	require.ErrorIs(t, err, domainerrors.ErrNotFound)

	ok, err := repo.Deactivate(ctx, id, time.Now(), "x")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestApiKeyRepository_DBErrors(t *testing.T) {
	db := newTestDB(t)
	repo := NewApiKeyRepository(db)
	ctx := context.Background()

	// no table
	_, err := repo.GetByPrefix(ctx, "x")
	require.Error(t, err)
	require.NotErrorIs(t, err, domainerrors.ErrNotFound)
	_, _, err = repo.List(ctx, domainRepos.ApiKeyFilter{})
	require.Error(t, err)
	_, err = repo.Deactivate(ctx, uuid.New(), time.Now(), "x")
	require.Error(t, err)
	require.Error(t, repo.Create(ctx, newApiKeyEntity("p", "s", time.Now())))
}
