package repositories

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"keygate.backend/internal/domain/entities"
	domainerrors "keygate.backend/internal/domain/errors"
	domainRepos "keygate.backend/internal/domain/repositories"
	"keygate.backend/pkg/crypto"
)

func cheapHasher() *crypto.Hasher {
	return crypto.NewHasher(crypto.Argon2Params{Time: 1, MemoryKiB: 64, Threads: 1})
}

func newCredentialRepo(t *testing.T) (*CredentialRepositoryImpl, *gorm.DB) {
	t.Helper()
	db := newTestDB(t)
	createCredentialTables(t, db)
	repo := NewCredentialRepository(
		NewApiKeyRepository(db),
		NewRateLimitRepository(db),
		NewAuditLogRepository(db),
		NewUnitOfWork(db),
		cheapHasher(),
	)
	return repo, db
}

// fixedPrefixHasher always yields the same prefix to force collisions.
type fixedPrefixHasher struct {
	calls int
}

func (h *fixedPrefixHasher) Generate(service string) (string, string, string, error) {
	h.calls++
	return service + "_raw", "collidingprefix0", "hash", nil
}

func (h *fixedPrefixHasher) Hash(raw string) (string, error) { return "hash", nil }

func (h *fixedPrefixHasher) NeedsRehash(string) bool { return false }

type failingHasher struct{}

func (failingHasher) Generate(string) (string, string, string, error) {
	return "", "", "", errors.New("entropy exhausted")
}
func (failingHasher) Hash(string) (string, error) { return "", errors.New("entropy exhausted") }

func (failingHasher) NeedsRehash(string) bool { return true }

func TestCredentialRepository_CreateAndLookup(t *testing.T) {
	repo, _ := newCredentialRepo(t)
	ctx := context.Background()
	hasher := cheapHasher()

	raw, key, err := repo.Create(ctx, domainRepos.CreateCredentialInput{
		Name:     "Billing worker",
		Service:  "billing",
		ClientIP: "10.0.0.5",
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"read"}, key.Permissions)
	assert.True(t, key.IsActive)
	assert.Equal(t, crypto.LookupPrefix(raw), key.KeyPrefix)

	got, err := repo.GetByPrefix(ctx, crypto.LookupPrefix(raw))
	require.NoError(t, err)
	assert.Equal(t, key.ID, got.ID)
	assert.True(t, hasher.Verify(raw, got.KeyHash))

	mutated := []byte(raw)
	last := len(mutated) - 1
	if mutated[last] == 'a' {
		mutated[last] = 'b'
	} else {
		mutated[last] = 'a'
	}
	assert.False(t, hasher.Verify(string(mutated), got.KeyHash))
}

func TestCredentialRepository_CreateWritesAudit(t *testing.T) {
	repo, db := newCredentialRepo(t)
	ctx := context.Background()

	_, key, err := repo.Create(ctx, domainRepos.CreateCredentialInput{
		Name:        "Reports",
		Service:     "reports",
		Permissions: []string{"read", "write"},
		UserAgent:   "apikey-gen",
	})
	require.NoError(t, err)

	entries, err := NewAuditLogRepository(db).ListByKey(ctx, key.ID)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, entities.AuditActionCreated, entries[0].Action)
	assert.Equal(t, "apikey-gen", entries[0].UserAgent.String)
	assert.False(t, entries[0].IPAddress.Valid)
}

func TestCredentialRepository_CreateValidation(t *testing.T) {
	repo, _ := newCredentialRepo(t)

	_, _, err := repo.Create(context.Background(), domainRepos.CreateCredentialInput{Service: "billing"})
	assert.ErrorIs(t, err, domainerrors.ErrInvalidInput)
	_, _, err = repo.Create(context.Background(), domainRepos.CreateCredentialInput{Name: "x"})
	assert.ErrorIs(t, err, domainerrors.ErrInvalidInput)
}

func TestCredentialRepository_CreateRetriesPrefixCollision(t *testing.T) {
	repo, db := newCredentialRepo(t)
	hasher := &fixedPrefixHasher{}
	repo.hasher = hasher
	ctx := context.Background()

	_, _, err := repo.Create(ctx, domainRepos.CreateCredentialInput{Name: "first", Service: "svc"})
	require.NoError(t, err)

	_, _, err = repo.Create(ctx, domainRepos.CreateCredentialInput{Name: "second", Service: "svc"})
	require.ErrorIs(t, err, domainerrors.ErrStoreUnavailable)
	assert.Equal(t, 1+MaxCreateAttempts, hasher.calls)

	var count int64
	require.NoError(t, db.Table("api_key_audit_logs").Count(&count).Error)
	assert.Equal(t, int64(1), count, "failed attempts must not leave audit entries")
}

func TestCredentialRepository_CreateHasherFailure(t *testing.T) {
	repo, _ := newCredentialRepo(t)
	repo.hasher = failingHasher{}

	_, _, err := repo.Create(context.Background(), domainRepos.CreateCredentialInput{Name: "n", Service: "s"})
	require.Error(t, err)
	require.NotErrorIs(t, err, domainerrors.ErrStoreUnavailable)

	require.Error(t, repo.Rehash(context.Background(), uuid.New(), "raw"))
}

func TestCredentialRepository_DeactivateTwice(t *testing.T) {
	repo, db := newCredentialRepo(t)
	ctx := context.Background()

	raw, key, err := repo.Create(ctx, domainRepos.CreateCredentialInput{Name: "n", Service: "s"})
	require.NoError(t, err)

	ok, err := repo.Deactivate(ctx, key.ID, "")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = repo.Deactivate(ctx, key.ID, "again")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = repo.Deactivate(ctx, uuid.New(), "")
	require.NoError(t, err)
	assert.False(t, ok)

	got, err := repo.GetByPrefix(ctx, crypto.LookupPrefix(raw))
	require.NoError(t, err)
	assert.False(t, got.IsActive)
	assert.Equal(t, DefaultRevokeReason, got.RevokeReason.String)

	entries, err := NewAuditLogRepository(db).ListByKey(ctx, key.ID)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, entities.AuditActionRevoked, entries[1].Action)
	assert.Equal(t, DefaultRevokeReason, entries[1].Details["reason"])
}

func TestCredentialRepository_ListMasksPrefixes(t *testing.T) {
	repo, _ := newCredentialRepo(t)
	ctx := context.Background()

	_, key, err := repo.Create(ctx, domainRepos.CreateCredentialInput{Name: "n", Service: "s"})
	require.NoError(t, err)

	list, total, err := repo.List(ctx, domainRepos.ApiKeyFilter{})
	require.NoError(t, err)
	require.Equal(t, int64(1), total)
	require.Len(t, list, 1)
	assert.Equal(t, entities.MaskPrefix(key.KeyPrefix), list[0].KeyPrefix)
	assert.Contains(t, list[0].KeyPrefix, "****")
	assert.Empty(t, list[0].KeyHash)
}

func TestCredentialRepository_UpdateUsage(t *testing.T) {
	repo, _ := newCredentialRepo(t)
	ctx := context.Background()
	at := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	repo.SetClock(func() time.Time { return at })

	raw, key, err := repo.Create(ctx, domainRepos.CreateCredentialInput{Name: "n", Service: "s"})
	require.NoError(t, err)

	require.NoError(t, repo.UpdateUsage(ctx, key.ID, "192.168.1.10"))
	got, err := repo.GetByPrefix(ctx, crypto.LookupPrefix(raw))
	require.NoError(t, err)
	assert.Equal(t, int64(1), got.UsageCount)
	assert.Equal(t, "192.168.1.10", got.LastUsedIP.String)
	require.NotNil(t, got.LastUsedAt)
	assert.True(t, at.Equal(*got.LastUsedAt))

	assert.ErrorIs(t, repo.UpdateUsage(ctx, uuid.New(), ""), domainerrors.ErrNotFound)
}

func TestCredentialRepository_CheckRateLimitSequence(t *testing.T) {
	repo, db := newCredentialRepo(t)
	ctx := context.Background()
	now := time.Date(2025, 3, 1, 10, 0, 5, 0, time.UTC)
	repo.SetClock(func() time.Time { return now })
	id := uuid.New()

	type result struct {
		allowed   bool
		remaining int
	}
	var got []result
	for i := 0; i < 4; i++ {
		allowed, remaining, err := repo.CheckRateLimit(ctx, id, 3, time.Minute)
		require.NoError(t, err)
		got = append(got, result{allowed, remaining})
	}
	assert.Equal(t, []result{{true, 2}, {true, 1}, {true, 0}, {false, 0}}, got)

	now = now.Add(time.Minute)
	allowed, remaining, err := repo.CheckRateLimit(ctx, id, 3, time.Minute)
	require.NoError(t, err)
	assert.True(t, allowed)
	assert.Equal(t, 2, remaining)

	// windows older than one window length are swept on the way
	now = now.Add(2 * time.Minute)
	_, _, err = repo.CheckRateLimit(ctx, id, 3, time.Minute)
	require.NoError(t, err)
	var rows int64
	require.NoError(t, db.Table("rate_limits").Where("key_id = ?", id).Count(&rows).Error)
	assert.Equal(t, int64(1), rows)
}

func TestCredentialRepository_CheckRateLimitError(t *testing.T) {
	db := newTestDB(t)
	createAPIKeyTable(t, db)
	repo := NewCredentialRepository(NewApiKeyRepository(db), NewRateLimitRepository(db), NewAuditLogRepository(db), NewUnitOfWork(db), cheapHasher())

	allowed, remaining, err := repo.CheckRateLimit(context.Background(), uuid.New(), 3, 0)
	require.Error(t, err)
	assert.False(t, allowed)
	assert.Zero(t, remaining)
}

func TestCredentialRepository_Rehash(t *testing.T) {
	repo, db := newCredentialRepo(t)
	ctx := context.Background()

	raw, key, err := repo.Create(ctx, domainRepos.CreateCredentialInput{Name: "n", Service: "s"})
	require.NoError(t, err)

	// a current hash is left alone
	require.NoError(t, repo.Rehash(ctx, key.ID, raw))
	got, err := repo.GetByPrefix(ctx, key.KeyPrefix)
	require.NoError(t, err)
	assert.Equal(t, key.KeyHash, got.KeyHash)

	legacyHash, err := crypto.HashPassword(raw)
	require.NoError(t, err)
	mustExec(t, db, "UPDATE api_keys SET key_hash = ? WHERE id = ?", legacyHash, key.ID.String())

	require.NoError(t, repo.Rehash(ctx, key.ID, raw))
	got, err = repo.GetByPrefix(ctx, key.KeyPrefix)
	require.NoError(t, err)
	assert.False(t, crypto.IsBcryptHash(got.KeyHash))
	assert.True(t, cheapHasher().Verify(raw, got.KeyHash))

	// repeating the rehash writes nothing new
	require.NoError(t, repo.Rehash(ctx, key.ID, raw))
	again, err := repo.GetByPrefix(ctx, key.KeyPrefix)
	require.NoError(t, err)
	assert.Equal(t, got.KeyHash, again.KeyHash)

	entries, err := NewAuditLogRepository(db).ListByKey(ctx, key.ID)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, entities.AuditActionRehashed, entries[1].Action)

	assert.ErrorIs(t, repo.Rehash(ctx, uuid.New(), raw), domainerrors.ErrNotFound)
}
