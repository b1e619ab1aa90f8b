package usecases_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"keygate.backend/internal/domain/entities"
	"keygate.backend/internal/domain/repositories"
	"keygate.backend/internal/infrastructure/cache"
	"keygate.backend/pkg/crypto"
)

// Mock CredentialRepository
type MockCredentialRepository struct {
	mock.Mock
}

func (m *MockCredentialRepository) Create(ctx context.Context, input repositories.CreateCredentialInput) (string, *entities.ApiKey, error) {
	args := m.Called(ctx, input)
	key, _ := args.Get(1).(*entities.ApiKey)
	return args.String(0), key, args.Error(2)
}

func (m *MockCredentialRepository) GetByPrefix(ctx context.Context, prefix string) (*entities.ApiKey, error) {
	args := m.Called(ctx, prefix)
	key, _ := args.Get(0).(*entities.ApiKey)
	return key, args.Error(1)
}

func (m *MockCredentialRepository) Deactivate(ctx context.Context, id uuid.UUID, reason string) (bool, error) {
	args := m.Called(ctx, id, reason)
	return args.Bool(0), args.Error(1)
}

func (m *MockCredentialRepository) List(ctx context.Context, filter repositories.ApiKeyFilter) ([]*entities.ApiKey, int64, error) {
	args := m.Called(ctx, filter)
	keys, _ := args.Get(0).([]*entities.ApiKey)
	return keys, args.Get(1).(int64), args.Error(2)
}

func (m *MockCredentialRepository) UpdateUsage(ctx context.Context, id uuid.UUID, clientIP string) error {
	return m.Called(ctx, id, clientIP).Error(0)
}

func (m *MockCredentialRepository) CheckRateLimit(ctx context.Context, id uuid.UUID, limit int, window time.Duration) (bool, int, error) {
	args := m.Called(ctx, id, limit, window)
	return args.Bool(0), args.Int(1), args.Error(2)
}

func (m *MockCredentialRepository) Rehash(ctx context.Context, id uuid.UUID, rawKey string) error {
	return m.Called(ctx, id, rawKey).Error(0)
}

// Mock CacheAdmin
type MockCacheAdmin struct {
	mock.Mock
}

func (m *MockCacheAdmin) ClearCache() {
	m.Called()
}

func (m *MockCacheAdmin) CacheStats() cache.Stats {
	return m.Called().Get(0).(cache.Stats)
}

// taskSpy collects submitted tasks instead of running them.
type taskSpy struct {
	mu    sync.Mutex
	names []string
	tasks []func(context.Context) error
}

func (s *taskSpy) Submit(name string, task func(ctx context.Context) error) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.names = append(s.names, name)
	s.tasks = append(s.tasks, task)
	return true
}

func (s *taskSpy) runAll(t *testing.T) {
	t.Helper()
	for _, task := range s.tasks {
		require.NoError(t, task(context.Background()))
	}
}

type recorderSpy struct {
	outcomes    []string
	sources     []string
	rateLimited int
	events      []string
}

func (r *recorderSpy) ObserveVerification(outcome, source string, _ time.Duration) {
	r.outcomes = append(r.outcomes, outcome)
	r.sources = append(r.sources, source)
}

func (r *recorderSpy) RateLimited() { r.rateLimited++ }

func (r *recorderSpy) KeyEvent(action string) { r.events = append(r.events, action) }

func newTestHasher() *crypto.Hasher {
	return crypto.NewHasher(crypto.Argon2Params{Time: 1, MemoryKiB: 64, Threads: 1})
}

// newStoredKey returns a raw key and the record a store would hold for it.
func newStoredKey(t *testing.T, hasher *crypto.Hasher, service string, permissions ...string) (string, *entities.ApiKey) {
	t.Helper()
	raw, prefix, hash, err := hasher.Generate(service)
	require.NoError(t, err)
	now := time.Now().UTC()
	return raw, &entities.ApiKey{
		ID:          uuid.New(),
		KeyPrefix:   prefix,
		KeyHash:     hash,
		Name:        service + " key",
		Service:     service,
		Permissions: permissions,
		IsActive:    true,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}
