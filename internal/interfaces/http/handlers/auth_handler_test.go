package handlers

import (
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"keygate.backend/internal/domain/entities"
	domainerrors "keygate.backend/internal/domain/errors"
)

func newAuthRouter(svc *MockAuthService) *gin.Engine {
	h := NewAuthHandler(svc)
	r := newRouter()
	r.POST("/auth/verify", h.Verify)
	r.POST("/auth/login", h.Login)
	r.POST("/auth/token", h.IssueToken)
	r.GET("/auth/token/verify", h.VerifyToken)
	r.GET("/auth/status", h.Status)
	return r
}

func TestAuthHandler_Verify(t *testing.T) {
	t.Run("success sets remaining header", func(t *testing.T) {
		svc := new(MockAuthService)
		id := uuid.New()
		remaining := 59
		svc.On("VerifyApiKey", mock.Anything, mock.MatchedBy(func(in *entities.VerifyInput) bool {
			return in.RawKey == "billing_raw" && in.ServiceName == "billing" && in.RequiredPermission == "write"
		})).Return(&entities.AuthDecision{
			Valid:              true,
			KeyID:              &id,
			Service:            "billing",
			Permissions:        []string{"write"},
			Name:               "billing key",
			RateLimitRemaining: &remaining,
			Source:             entities.DecisionSourceDatabase,
		}, nil).Once()

		rec := doRequest(newAuthRouter(svc), http.MethodPost, "/auth/verify?permission=write", "", map[string]string{
			"X-API-Key":      "billing_raw",
			"X-Service-Name": "billing",
		})

		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "59", rec.Header().Get("X-RateLimit-Remaining"))

		var body entities.AuthDecision
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.True(t, body.Valid)
		assert.Equal(t, id, *body.KeyID)
		assert.Equal(t, entities.DecisionSourceDatabase, body.Source)
		svc.AssertExpectations(t)
	})

	t.Run("legacy decision has no remaining header", func(t *testing.T) {
		svc := new(MockAuthService)
		svc.On("VerifyApiKey", mock.Anything, mock.Anything).Return(&entities.AuthDecision{
			Valid:   true,
			Service: entities.LegacyService,
			Source:  entities.DecisionSourceLegacy,
		}, nil).Once()

		rec := doRequest(newAuthRouter(svc), http.MethodPost, "/auth/verify", "", map[string]string{"X-API-Key": "old"})
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Empty(t, rec.Header().Get("X-RateLimit-Remaining"))
	})

	t.Run("failures map to status codes", func(t *testing.T) {
		cases := []struct {
			err    error
			status int
			code   domainerrors.Kind
		}{
			{domainerrors.MissingCredential(), http.StatusUnauthorized, domainerrors.KindMissingCredential},
			{domainerrors.Revoked(), http.StatusUnauthorized, domainerrors.KindRevoked},
			{domainerrors.RateLimited(time.Minute), http.StatusTooManyRequests, domainerrors.KindRateLimited},
			{domainerrors.ServiceMismatch("billing", "inventory"), http.StatusForbidden, domainerrors.KindServiceMismatch},
			{domainerrors.StoreUnavailable(nil), http.StatusServiceUnavailable, domainerrors.KindStoreUnavailable},
		}
		for _, tc := range cases {
			svc := new(MockAuthService)
			svc.On("VerifyApiKey", mock.Anything, mock.Anything).Return(nil, tc.err).Once()

			rec := doRequest(newAuthRouter(svc), http.MethodPost, "/auth/verify", "", nil)
			assert.Equal(t, tc.status, rec.Code)
			assert.Contains(t, rec.Body.String(), string(tc.code))
		}
	})
}

func TestAuthHandler_Login(t *testing.T) {
	t.Run("returns token", func(t *testing.T) {
		svc := new(MockAuthService)
		svc.On("Login", mock.Anything, mock.MatchedBy(func(in *entities.LoginInput) bool {
			return in.ApiKey == "billing_raw" && in.Username == "alice" && len(in.Scopes) == 1
		}), mock.AnythingOfType("string")).Return(&entities.TokenResponse{
			AccessToken: "tok",
			TokenType:   "bearer",
			ExpiresIn:   1800,
		}, nil).Once()

		rec := doRequest(newAuthRouter(svc), http.MethodPost, "/auth/login",
			`{"apiKey":"billing_raw","username":"alice","scopes":["read"]}`, nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), `"accessToken":"tok"`)
		svc.AssertExpectations(t)
	})

	t.Run("validation error", func(t *testing.T) {
		svc := new(MockAuthService)
		rec := doRequest(newAuthRouter(svc), http.MethodPost, "/auth/login", `{"username":"alice"}`, nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		svc.AssertNotCalled(t, "Login", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("invalid key", func(t *testing.T) {
		svc := new(MockAuthService)
		svc.On("Login", mock.Anything, mock.Anything, mock.Anything).Return(nil, domainerrors.InvalidCredential()).Once()
		rec := doRequest(newAuthRouter(svc), http.MethodPost, "/auth/login", `{"apiKey":"x","username":"alice"}`, nil)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Equal(t, "Bearer", rec.Header().Get("WWW-Authenticate"))
	})
}

func TestAuthHandler_IssueToken(t *testing.T) {
	svc := new(MockAuthService)
	svc.On("IssueToken", mock.Anything, mock.MatchedBy(func(in *entities.IssueTokenInput) bool {
		return in.Subject == "svc-report" && in.TTLSeconds == 600
	})).Return(&entities.TokenResponse{AccessToken: "tok", TokenType: "bearer", ExpiresIn: 600}, nil).Once()

	rec := doRequest(newAuthRouter(svc), http.MethodPost, "/auth/token", `{"subject":"svc-report","ttlSeconds":600}`, nil)
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Contains(t, rec.Body.String(), `"expiresIn":600`)

	rec = doRequest(newAuthRouter(svc), http.MethodPost, "/auth/token", `{"subject":"x","ttlSeconds":-5}`, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	svc.AssertExpectations(t)
}

func TestAuthHandler_VerifyToken(t *testing.T) {
	svc := new(MockAuthService)
	svc.On("VerifyToken", mock.Anything, "good").Return(&entities.TokenClaims{
		Subject: "alice",
		Scopes:  []string{"read"},
	}, nil).Once()
	svc.On("VerifyToken", mock.Anything, "").Return(nil, domainerrors.InvalidToken("")).Once()

	rec := doRequest(newAuthRouter(svc), http.MethodGet, "/auth/token/verify", "", map[string]string{"Authorization": "Bearer good"})
	require.Equal(t, http.StatusOK, rec.Code)

	var body AuthStatusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.True(t, body.Authenticated)
	assert.Equal(t, entities.AuthTypeJWT, body.AuthType)
	assert.Equal(t, "alice", body.User)
	assert.Equal(t, []string{"read"}, body.Scopes)

	rec = doRequest(newAuthRouter(svc), http.MethodGet, "/auth/token/verify", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), string(domainerrors.KindInvalidToken))
	svc.AssertExpectations(t)
}

func TestAuthHandler_Status(t *testing.T) {
	t.Run("api key principal", func(t *testing.T) {
		svc := new(MockAuthService)
		remaining := 3
		svc.On("AuthenticateRequest", mock.Anything, mock.MatchedBy(func(in *entities.AuthenticateInput) bool {
			return in.ApiKey == "billing_raw" && in.BearerToken == "tok"
		})).Return(&entities.Principal{
			AuthType:           entities.AuthTypeApiKey,
			Service:            "billing",
			Permissions:        []string{"read"},
			RateLimitRemaining: &remaining,
		}, nil).Once()

		rec := doRequest(newAuthRouter(svc), http.MethodGet, "/auth/status", "", map[string]string{
			"X-API-Key":     "billing_raw",
			"Authorization": "Bearer tok",
		})
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "3", rec.Header().Get("X-RateLimit-Remaining"))

		var body AuthStatusResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Equal(t, entities.AuthTypeApiKey, body.AuthType)
		assert.Equal(t, "Valid API Key for service 'billing'", body.Message)
	})

	t.Run("jwt principal", func(t *testing.T) {
		svc := new(MockAuthService)
		svc.On("AuthenticateRequest", mock.Anything, mock.Anything).Return(&entities.Principal{
			AuthType:    entities.AuthTypeJWT,
			User:        "alice",
			Permissions: []string{"read"},
		}, nil).Once()

		rec := doRequest(newAuthRouter(svc), http.MethodGet, "/auth/status", "", map[string]string{"Authorization": "Bearer tok"})
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), `"user":"alice"`)
		assert.Contains(t, rec.Body.String(), "Valid JWT token")
	})

	t.Run("no credentials", func(t *testing.T) {
		svc := new(MockAuthService)
		svc.On("AuthenticateRequest", mock.Anything, mock.Anything).Return(nil, domainerrors.MissingCredential()).Once()

		rec := doRequest(newAuthRouter(svc), http.MethodGet, "/auth/status", "", nil)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})
}
