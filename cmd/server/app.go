package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/gin-gonic/gin"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"keygate.backend/internal/config"
	domainerrors "keygate.backend/internal/domain/errors"
	domainRepos "keygate.backend/internal/domain/repositories"
	"keygate.backend/internal/infrastructure/cache"
	"keygate.backend/internal/infrastructure/jobs"
	"keygate.backend/internal/infrastructure/legacy"
	"keygate.backend/internal/infrastructure/repositories"
	"keygate.backend/internal/interfaces/http/handlers"
	"keygate.backend/internal/interfaces/http/middleware"
	"keygate.backend/internal/usecases"
	"keygate.backend/pkg/breaker"
	"keygate.backend/pkg/crypto"
	"keygate.backend/pkg/jwt"
	"keygate.backend/pkg/logger"
	"keygate.backend/pkg/metrics"
	"keygate.backend/pkg/redis"
)

var (
	connectRedis   = redis.Connect
	loadLegacyFile = legacy.LoadFile
)

// application is the wired object graph of one server process.
type application struct {
	router  *gin.Engine
	queue   *jobs.TaskQueue
	cleanup *jobs.RateLimitCleanupJob
	metrics *metrics.Metrics
	redis   *goredis.Client
}

func (a *application) start(ctx context.Context) {
	a.queue.Start()
	if a.cleanup != nil {
		go a.cleanup.Start(ctx)
	}
}

// close stops background work. Queued usage updates are drained first.
func (a *application) close() {
	if a.cleanup != nil {
		a.cleanup.Stop()
	}
	a.queue.Stop()
	if a.redis != nil {
		_ = a.redis.Close()
	}
}

func buildApp(cfg *config.Config, db *gorm.DB) (*application, error) {
	ctx := context.Background()
	m := metrics.New()
	app := &application{metrics: m}

	internalNets, err := middleware.ParseNetworks(cfg.Security.InternalNetworks)
	if err != nil {
		return nil, fmt.Errorf("invalid INTERNAL_NETWORKS: %w", err)
	}

	rateLimitRepo, err := app.rateLimitRepository(cfg, db)
	if err != nil {
		return nil, err
	}

	hasher := crypto.NewHasher(crypto.Argon2Params{
		Time:      cfg.Hash.Time,
		MemoryKiB: cfg.Hash.MemoryKiB,
		Threads:   cfg.Hash.Threads,
	})

	credentialRepo := repositories.NewCredentialRepository(
		repositories.NewApiKeyRepository(db),
		rateLimitRepo,
		repositories.NewAuditLogRepository(db),
		repositories.NewUnitOfWork(db),
		hasher,
	)
	keyCache := cache.NewKeyCache(cfg.Cache.MaxSize, cfg.Cache.TTL, cache.WithRecorder(m))
	cachedRepo := repositories.NewCachedCredentialRepository(credentialRepo, keyCache)

	storeBreaker := breaker.New(breaker.Settings{
		Name:             "credential-store",
		FailureThreshold: cfg.Breaker.FailureThreshold,
		OpenTimeout:      cfg.Breaker.OpenTimeout,
		IsSuccessful:     storeCallSucceeded,
		OnStateChange:    func(_ string, state int) { m.SetBreakerState(state) },
	})

	app.queue = jobs.NewTaskQueue(cfg.Auth.QueueSize, cfg.Auth.Workers, jobs.DefaultTaskTimeout, m)

	legacyEntries, err := loadLegacyFile(cfg.Legacy.File)
	if err != nil {
		return nil, fmt.Errorf("failed to load legacy keys: %w", err)
	}
	legacySource := legacy.NewSource(cfg.Legacy.Keys, legacyEntries)
	if cfg.Legacy.Enabled {
		logger.Warn(ctx, "Legacy API keys enabled", zap.Int("count", legacySource.Len()))
	}

	tokens := jwt.NewTokenService(cfg.JWT.Secret, cfg.JWT.AccessExpiry)

	authUsecase := usecases.NewAuthUsecase(cachedRepo, hasher, tokens, usecases.AuthSettings{
		RateLimitRequests: cfg.RateLimit.Requests,
		RateLimitWindow:   cfg.RateLimit.Window,
		StoreTimeout:      cfg.Auth.StoreTimeout,
		LegacyEnabled:     cfg.Legacy.Enabled,
	})
	authUsecase.SetLegacySource(legacySource)
	authUsecase.SetBreaker(storeBreaker)
	authUsecase.SetTaskQueue(app.queue)
	authUsecase.SetRecorder(m)

	apiKeyUsecase := usecases.NewApiKeyUsecase(cachedRepo, cachedRepo, usecases.RateLimitStatus{
		Requests:      cfg.RateLimit.Requests,
		WindowSeconds: int64(cfg.RateLimit.Window.Seconds()),
		Backend:       cfg.RateLimit.Backend,
	})
	apiKeyUsecase.SetLegacySource(cfg.Legacy.Enabled, legacySource)
	apiKeyUsecase.SetBreaker(storeBreaker)
	apiKeyUsecase.SetRecorder(m)

	app.router, err = newRouter(cfg, routeDeps{
		authHandler:    handlers.NewAuthHandler(authUsecase),
		apiKeyHandler:  handlers.NewApiKeyHandler(apiKeyUsecase),
		adminKeyGuard:  middleware.ApiKeyMiddleware(authUsecase, "admin"),
		internalGuard:  middleware.InternalNetworkMiddleware(internalNets),
		metricsHandler: m.Handler(),
	})
	if err != nil {
		return nil, err
	}
	return app, nil
}

// storeCallSucceeded decides what the store breaker counts as healthy. A
// missing key and a caller that went away say nothing about the store; a
// deadline hit does.
func storeCallSucceeded(err error) bool {
	return errors.Is(err, domainerrors.ErrNotFound) || errors.Is(err, context.Canceled)
}

// rateLimitRepository picks the counter store. The database backend also
// gets a sweeper for stale windows.
func (a *application) rateLimitRepository(cfg *config.Config, db *gorm.DB) (domainRepos.RateLimitRepository, error) {
	switch cfg.RateLimit.Backend {
	case config.RateLimitBackendRedis:
		client, err := connectRedis(cfg.Redis.URL, cfg.Redis.Password)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize redis: %w", err)
		}
		a.redis = client
		logger.Info(context.Background(), "Redis rate limiter initialized")
		return repositories.NewRedisRateLimitRepository(client), nil
	case config.RateLimitBackendDatabase, "":
		repo := repositories.NewRateLimitRepository(db)
		a.cleanup = jobs.NewRateLimitCleanupJob(repo, cfg.RateLimit.Window, cfg.RateLimit.CleanupInterval)
		return repo, nil
	default:
		return nil, fmt.Errorf("unsupported rate limit backend %q", cfg.RateLimit.Backend)
	}
}
