package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"
	"keygate.backend/internal/domain/entities"
	"keygate.backend/internal/usecases"
)

type MockAuthService struct {
	mock.Mock
}

func (m *MockAuthService) VerifyApiKey(ctx context.Context, input *entities.VerifyInput) (*entities.AuthDecision, error) {
	args := m.Called(ctx, input)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*entities.AuthDecision), args.Error(1)
}

func (m *MockAuthService) AuthenticateRequest(ctx context.Context, input *entities.AuthenticateInput) (*entities.Principal, error) {
	args := m.Called(ctx, input)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*entities.Principal), args.Error(1)
}

func (m *MockAuthService) Login(ctx context.Context, input *entities.LoginInput, clientIP string) (*entities.TokenResponse, error) {
	args := m.Called(ctx, input, clientIP)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*entities.TokenResponse), args.Error(1)
}

func (m *MockAuthService) IssueToken(ctx context.Context, input *entities.IssueTokenInput) (*entities.TokenResponse, error) {
	args := m.Called(ctx, input)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*entities.TokenResponse), args.Error(1)
}

func (m *MockAuthService) VerifyToken(ctx context.Context, token string) (*entities.TokenClaims, error) {
	args := m.Called(ctx, token)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*entities.TokenClaims), args.Error(1)
}

type MockApiKeyService struct {
	mock.Mock
}

func (m *MockApiKeyService) CreateApiKey(ctx context.Context, input *entities.CreateApiKeyInput, clientIP, userAgent string) (*entities.CreateApiKeyResponse, error) {
	args := m.Called(ctx, input, clientIP, userAgent)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*entities.CreateApiKeyResponse), args.Error(1)
}

func (m *MockApiKeyService) ListApiKeys(ctx context.Context, input *entities.ListApiKeysInput) (*usecases.ApiKeyListResponse, error) {
	args := m.Called(ctx, input)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*usecases.ApiKeyListResponse), args.Error(1)
}

func (m *MockApiKeyService) DeactivateApiKey(ctx context.Context, id uuid.UUID, reason string) error {
	return m.Called(ctx, id, reason).Error(0)
}

func (m *MockApiKeyService) Status(ctx context.Context) *usecases.SystemStatus {
	return m.Called(ctx).Get(0).(*usecases.SystemStatus)
}

func (m *MockApiKeyService) ClearCache(ctx context.Context) {
	m.Called(ctx)
}

func newRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)
	return gin.New()
}

func doRequest(r *gin.Engine, method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}
