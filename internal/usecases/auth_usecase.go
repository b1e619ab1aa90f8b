package usecases

import (
	"context"
	"errors"
	"net/http"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"keygate.backend/internal/domain/entities"
	domainerrors "keygate.backend/internal/domain/errors"
	"keygate.backend/internal/domain/repositories"
	"keygate.backend/pkg/crypto"
	"keygate.backend/pkg/jwt"
	"keygate.backend/pkg/logger"
)

const (
	DefaultStoreTimeout      = 2 * time.Second
	DefaultRateLimitRequests = 60
	DefaultRateLimitWindow   = time.Minute

	outcomeSuccess  = "success"
	tokenTypeBearer = "bearer"
)

// KeyVerifier checks a raw key against its stored hash.
type KeyVerifier interface {
	Verify(raw, encoded string) bool
	NeedsRehash(encoded string) bool
}

// LegacyKeySource resolves keys that predate hashed storage.
type LegacyKeySource interface {
	Lookup(raw string) (entities.LegacyKey, bool)
}

// TokenService issues and verifies session tokens.
type TokenService interface {
	Issue(subject string, scopes []string, ttl time.Duration) (string, time.Time, error)
	Verify(token string) (*jwt.Claims, error)
	AccessExpiry() time.Duration
}

// StoreBreaker short-circuits store calls after repeated failures.
type StoreBreaker interface {
	Execute(fn func() (interface{}, error)) (interface{}, error)
}

// TaskSubmitter accepts best-effort background work.
type TaskSubmitter interface {
	Submit(name string, task func(ctx context.Context) error) bool
}

// VerificationRecorder observes verification outcomes.
type VerificationRecorder interface {
	ObserveVerification(outcome, source string, elapsed time.Duration)
	RateLimited()
}

// AuthSettings are the tunables of the verification pipeline.
type AuthSettings struct {
	RateLimitRequests int
	RateLimitWindow   time.Duration
	StoreTimeout      time.Duration
	LegacyEnabled     bool
}

// AuthUsecase turns presented credentials into authorization decisions
type AuthUsecase struct {
	repo     repositories.CredentialRepository
	hasher   KeyVerifier
	tokens   TokenService
	settings AuthSettings

	legacy   LegacyKeySource
	breaker  StoreBreaker
	tasks    TaskSubmitter
	recorder VerificationRecorder
	now      func() time.Time

	// key ids with a rehash queued or running
	rehashing sync.Map
}

// NewAuthUsecase creates a new auth usecase
func NewAuthUsecase(
	repo repositories.CredentialRepository,
	hasher KeyVerifier,
	tokens TokenService,
	settings AuthSettings,
) *AuthUsecase {
	if settings.RateLimitRequests <= 0 {
		settings.RateLimitRequests = DefaultRateLimitRequests
	}
	if settings.RateLimitWindow <= 0 {
		settings.RateLimitWindow = DefaultRateLimitWindow
	}
	if settings.StoreTimeout <= 0 {
		settings.StoreTimeout = DefaultStoreTimeout
	}
	return &AuthUsecase{
		repo:     repo,
		hasher:   hasher,
		tokens:   tokens,
		settings: settings,
		now:      time.Now,
	}
}

func (u *AuthUsecase) SetLegacySource(source LegacyKeySource) { u.legacy = source }

func (u *AuthUsecase) SetBreaker(b StoreBreaker) { u.breaker = b }

func (u *AuthUsecase) SetTaskQueue(q TaskSubmitter) { u.tasks = q }

func (u *AuthUsecase) SetRecorder(r VerificationRecorder) { u.recorder = r }

// VerifyApiKey runs the verification checks in a fixed order and returns the
// first failure.
func (u *AuthUsecase) VerifyApiKey(ctx context.Context, input *entities.VerifyInput) (*entities.AuthDecision, error) {
	start := u.now()
	decision, err := u.verifyApiKey(ctx, input)

	source := entities.DecisionSourceDatabase
	if decision != nil {
		source = decision.Source
	}
	if u.recorder != nil {
		u.recorder.ObserveVerification(outcomeOf(err), source, u.now().Sub(start))
	}
	return decision, err
}

func (u *AuthUsecase) verifyApiKey(ctx context.Context, input *entities.VerifyInput) (*entities.AuthDecision, error) {
	if input == nil || input.RawKey == "" {
		return nil, domainerrors.MissingCredential()
	}

	ctx, cancel := context.WithTimeout(ctx, u.settings.StoreTimeout)
	defer cancel()

	prefix := crypto.LookupPrefix(input.RawKey)
	record, err := u.lookup(ctx, prefix)
	if errors.Is(err, domainerrors.ErrNotFound) {
		if key, ok := u.lookupLegacy(input.RawKey); ok {
			return u.verifyLegacy(ctx, key, input)
		}
		logger.Debug(ctx, "Unknown API key", zap.String("prefix", entities.MaskPrefix(prefix)))
		return nil, domainerrors.InvalidCredential()
	}
	if err != nil {
		logger.Error(ctx, "Credential lookup failed",
			zap.String("prefix", entities.MaskPrefix(prefix)),
			zap.Error(err),
		)
		return nil, domainerrors.StoreUnavailable(err)
	}

	if !record.IsActive {
		return nil, domainerrors.Revoked()
	}
	if record.IsExpired(u.now()) {
		return nil, domainerrors.Expired()
	}
	if !u.hasher.Verify(input.RawKey, record.KeyHash) {
		logger.Warn(ctx, "API key hash mismatch", zap.String("keyId", record.ID.String()))
		return nil, domainerrors.InvalidCredential()
	}

	allowed, remaining, err := u.checkRateLimit(ctx, record.ID)
	if err != nil {
		logger.Error(ctx, "Rate limit check failed", zap.String("keyId", record.ID.String()), zap.Error(err))
		return nil, domainerrors.StoreUnavailable(err)
	}
	if !allowed {
		if u.recorder != nil {
			u.recorder.RateLimited()
		}
		return nil, domainerrors.RateLimited(u.settings.RateLimitWindow)
	}

	if err := u.checkService(ctx, record.Service, input.ServiceName); err != nil {
		return nil, err
	}
	if !record.HasPermission(input.RequiredPermission) {
		return nil, domainerrors.InsufficientPermission(input.RequiredPermission)
	}

	u.scheduleUsage(record, input)

	return &entities.AuthDecision{
		Valid:              true,
		KeyID:              &record.ID,
		Service:            record.Service,
		Permissions:        slices.Clone(record.Permissions),
		Name:               record.Name,
		RateLimitRemaining: &remaining,
		Source:             entities.DecisionSourceDatabase,
	}, nil
}

func (u *AuthUsecase) lookup(ctx context.Context, prefix string) (*entities.ApiKey, error) {
	if u.breaker == nil {
		return u.repo.GetByPrefix(ctx, prefix)
	}
	res, err := u.breaker.Execute(func() (interface{}, error) {
		return u.repo.GetByPrefix(ctx, prefix)
	})
	if err != nil {
		return nil, err
	}
	record, ok := res.(*entities.ApiKey)
	if !ok || record == nil {
		return nil, domainerrors.ErrNotFound
	}
	return record, nil
}

func (u *AuthUsecase) checkRateLimit(ctx context.Context, id uuid.UUID) (bool, int, error) {
	check := func() (bool, int, error) {
		return u.repo.CheckRateLimit(ctx, id, u.settings.RateLimitRequests, u.settings.RateLimitWindow)
	}
	if u.breaker == nil {
		return check()
	}

	type result struct {
		allowed   bool
		remaining int
	}
	res, err := u.breaker.Execute(func() (interface{}, error) {
		allowed, remaining, err := check()
		if err != nil {
			return nil, err
		}
		return result{allowed: allowed, remaining: remaining}, nil
	})
	if err != nil {
		return false, 0, err
	}
	r, _ := res.(result)
	return r.allowed, r.remaining, nil
}

func (u *AuthUsecase) lookupLegacy(raw string) (entities.LegacyKey, bool) {
	if !u.settings.LegacyEnabled || u.legacy == nil {
		return entities.LegacyKey{}, false
	}
	return u.legacy.Lookup(raw)
}

// verifyLegacy applies the checks that make sense without a durable record:
// service binding and permission. Inactive legacy keys never get here.
func (u *AuthUsecase) verifyLegacy(ctx context.Context, key entities.LegacyKey, input *entities.VerifyInput) (*entities.AuthDecision, error) {
	if err := u.checkService(ctx, key.Service, input.ServiceName); err != nil {
		return nil, err
	}
	if !entities.HasPermission(key.Permissions, input.RequiredPermission) {
		return nil, domainerrors.InsufficientPermission(input.RequiredPermission)
	}

	logger.Debug(ctx, "Legacy API key accepted", zap.String("key", entities.MaskRawKey(key.Key)))
	return &entities.AuthDecision{
		Valid:       true,
		Service:     key.Service,
		Permissions: slices.Clone(key.Permissions),
		Name:        key.Name,
		Source:      entities.DecisionSourceLegacy,
	}, nil
}

// checkService enforces service binding. Keys of the legacy service may call
// any service.
func (u *AuthUsecase) checkService(ctx context.Context, keyService, target string) error {
	if target == "" || keyService == target {
		return nil
	}
	if keyService == entities.LegacyService {
		logger.Warn(ctx, "Legacy service key used across services", zap.String("target", target))
		return nil
	}
	return domainerrors.ServiceMismatch(keyService, target)
}

func (u *AuthUsecase) scheduleUsage(record *entities.ApiKey, input *entities.VerifyInput) {
	if u.tasks == nil {
		return
	}
	id := record.ID
	clientIP := input.ClientIP
	u.tasks.Submit("update_usage", func(ctx context.Context) error {
		return u.repo.UpdateUsage(ctx, id, clientIP)
	})

	if !u.hasher.NeedsRehash(record.KeyHash) {
		return
	}
	if _, busy := u.rehashing.LoadOrStore(id, struct{}{}); busy {
		return
	}
	raw := input.RawKey
	if !u.tasks.Submit("rehash", func(ctx context.Context) error {
		defer u.rehashing.Delete(id)
		return u.repo.Rehash(ctx, id, raw)
	}) {
		u.rehashing.Delete(id)
	}
}

// AuthenticateRequest accepts either an API key or a bearer token. The key is
// tried first.
func (u *AuthUsecase) AuthenticateRequest(ctx context.Context, input *entities.AuthenticateInput) (*entities.Principal, error) {
	var keyErr, tokenErr error

	if input.ApiKey != "" {
		decision, err := u.VerifyApiKey(ctx, &entities.VerifyInput{
			RawKey:             input.ApiKey,
			RequiredPermission: input.RequiredPermission,
			ServiceName:        input.ServiceName,
			ClientIP:           input.ClientIP,
			UserAgent:          input.UserAgent,
		})
		if err == nil {
			return &entities.Principal{
				AuthType:           entities.AuthTypeApiKey,
				Key:                entities.MaskRawKey(input.ApiKey),
				Service:            decision.Service,
				Name:               decision.Name,
				Permissions:        decision.Permissions,
				RateLimitRemaining: decision.RateLimitRemaining,
			}, nil
		}
		keyErr = err
	}

	if input.BearerToken != "" {
		claims, err := u.VerifyToken(ctx, input.BearerToken)
		switch {
		case err != nil:
			tokenErr = err
		case !entities.HasPermission(claims.Scopes, input.RequiredPermission):
			tokenErr = domainerrors.InsufficientPermission(input.RequiredPermission)
		default:
			return &entities.Principal{
				AuthType:    entities.AuthTypeJWT,
				User:        claims.Subject,
				Permissions: claims.Scopes,
			}, nil
		}
	}

	switch {
	case keyErr != nil && tokenErr == nil:
		return nil, keyErr
	case tokenErr != nil && keyErr == nil:
		return nil, tokenErr
	}
	return nil, domainerrors.NewAppError(http.StatusUnauthorized, domainerrors.KindInvalidCredential,
		"Valid API Key or JWT token required", domainerrors.ErrInvalidCredential)
}

// Login exchanges a valid API key for a session token. Requested scopes must
// be granted by the key.
func (u *AuthUsecase) Login(ctx context.Context, input *entities.LoginInput, clientIP string) (*entities.TokenResponse, error) {
	if strings.TrimSpace(input.Username) == "" {
		return nil, domainerrors.BadRequest("username is required")
	}

	decision, err := u.VerifyApiKey(ctx, &entities.VerifyInput{
		RawKey:   input.ApiKey,
		ClientIP: clientIP,
	})
	if err != nil {
		return nil, err
	}

	for _, scope := range input.Scopes {
		if !entities.HasPermission(decision.Permissions, scope) {
			return nil, domainerrors.InsufficientPermission(scope)
		}
	}

	return u.issue(ctx, input.Username, input.Scopes, 0)
}

// IssueToken signs a token for an arbitrary subject. Callers must hold admin.
func (u *AuthUsecase) IssueToken(ctx context.Context, input *entities.IssueTokenInput) (*entities.TokenResponse, error) {
	if strings.TrimSpace(input.Subject) == "" {
		return nil, domainerrors.BadRequest("subject is required")
	}
	if input.TTLSeconds < 0 {
		return nil, domainerrors.BadRequest("ttlSeconds must be positive")
	}
	return u.issue(ctx, input.Subject, input.Scopes, time.Duration(input.TTLSeconds)*time.Second)
}

func (u *AuthUsecase) issue(ctx context.Context, subject string, scopes []string, ttl time.Duration) (*entities.TokenResponse, error) {
	token, expiresAt, err := u.tokens.Issue(subject, scopes, ttl)
	if err != nil {
		logger.Error(ctx, "Failed to issue token", zap.Error(err))
		return nil, domainerrors.InternalError(err)
	}
	if ttl <= 0 {
		ttl = u.tokens.AccessExpiry()
	}
	return &entities.TokenResponse{
		AccessToken: token,
		TokenType:   tokenTypeBearer,
		ExpiresIn:   int64(ttl.Seconds()),
		ExpiresAt:   expiresAt,
	}, nil
}

// VerifyToken checks a session token and returns its claims.
func (u *AuthUsecase) VerifyToken(ctx context.Context, token string) (*entities.TokenClaims, error) {
	if token == "" {
		return nil, domainerrors.InvalidToken("")
	}
	claims, err := u.tokens.Verify(token)
	if err != nil {
		if errors.Is(err, jwt.ErrExpiredToken) {
			return nil, domainerrors.InvalidToken("Token has expired")
		}
		logger.Debug(ctx, "Token rejected", zap.Error(err))
		return nil, domainerrors.InvalidToken("")
	}

	out := &entities.TokenClaims{
		Subject: claims.Subject,
		Scopes:  slices.Clone(claims.Scopes),
	}
	if out.Scopes == nil {
		out.Scopes = []string{}
	}
	if claims.ExpiresAt != nil {
		out.ExpiresAt = claims.ExpiresAt.Time
	}
	return out, nil
}

func outcomeOf(err error) string {
	if err == nil {
		return outcomeSuccess
	}
	return strings.ToLower(string(domainerrors.KindOf(err)))
}
