package handlers

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"keygate.backend/internal/domain/entities"
	"keygate.backend/internal/interfaces/http/middleware"
	"keygate.backend/internal/interfaces/http/response"
)

// AuthService is the verification surface the auth routes need.
type AuthService interface {
	VerifyApiKey(ctx context.Context, input *entities.VerifyInput) (*entities.AuthDecision, error)
	AuthenticateRequest(ctx context.Context, input *entities.AuthenticateInput) (*entities.Principal, error)
	Login(ctx context.Context, input *entities.LoginInput, clientIP string) (*entities.TokenResponse, error)
	IssueToken(ctx context.Context, input *entities.IssueTokenInput) (*entities.TokenResponse, error)
	VerifyToken(ctx context.Context, token string) (*entities.TokenClaims, error)
}

// AuthStatusResponse describes an authenticated caller.
type AuthStatusResponse struct {
	Authenticated bool     `json:"authenticated"`
	AuthType      string   `json:"authType"`
	Message       string   `json:"message"`
	User          string   `json:"user,omitempty"`
	Service       string   `json:"service,omitempty"`
	Scopes        []string `json:"scopes,omitempty"`
}

type AuthHandler struct {
	authUsecase AuthService
}

func NewAuthHandler(authUsecase AuthService) *AuthHandler {
	return &AuthHandler{authUsecase: authUsecase}
}

// Verify checks the X-API-Key header against the X-Service-Name header and
// the optional permission query parameter.
func (h *AuthHandler) Verify(c *gin.Context) {
	decision, err := h.authUsecase.VerifyApiKey(c.Request.Context(), &entities.VerifyInput{
		RawKey:             c.GetHeader(middleware.ApiKeyHeader),
		RequiredPermission: c.Query("permission"),
		ServiceName:        c.GetHeader(middleware.ServiceNameHeader),
		ClientIP:           c.ClientIP(),
		UserAgent:          c.Request.UserAgent(),
	})
	if err != nil {
		response.Error(c, err)
		return
	}

	middleware.SetRateLimitHeader(c, decision.RateLimitRemaining)
	response.Success(c, http.StatusOK, decision)
}

// Login exchanges an API key for a session token
func (h *AuthHandler) Login(c *gin.Context) {
	var input entities.LoginInput
	if err := c.ShouldBindJSON(&input); err != nil {
		response.BindError(c, err)
		return
	}

	token, err := h.authUsecase.Login(c.Request.Context(), &input, c.ClientIP())
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusOK, token)
}

// IssueToken mints a token for an arbitrary subject. The route is guarded
// by an admin API key.
func (h *AuthHandler) IssueToken(c *gin.Context) {
	var input entities.IssueTokenInput
	if err := c.ShouldBindJSON(&input); err != nil {
		response.BindError(c, err)
		return
	}

	token, err := h.authUsecase.IssueToken(c.Request.Context(), &input)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusCreated, token)
}

// VerifyToken validates the bearer token
func (h *AuthHandler) VerifyToken(c *gin.Context) {
	claims, err := h.authUsecase.VerifyToken(c.Request.Context(), middleware.BearerToken(c))
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusOK, AuthStatusResponse{
		Authenticated: true,
		AuthType:      entities.AuthTypeJWT,
		Message:       "Valid JWT token",
		User:          claims.Subject,
		Scopes:        claims.Scopes,
	})
}

// Status authenticates the request with either an API key or a token
func (h *AuthHandler) Status(c *gin.Context) {
	principal, err := h.authUsecase.AuthenticateRequest(c.Request.Context(), &entities.AuthenticateInput{
		ApiKey:             c.GetHeader(middleware.ApiKeyHeader),
		BearerToken:        middleware.BearerToken(c),
		RequiredPermission: c.Query("permission"),
		ServiceName:        c.GetHeader(middleware.ServiceNameHeader),
		ClientIP:           c.ClientIP(),
		UserAgent:          c.Request.UserAgent(),
	})
	if err != nil {
		response.Error(c, err)
		return
	}

	middleware.SetRateLimitHeader(c, principal.RateLimitRemaining)
	response.Success(c, http.StatusOK, statusFromPrincipal(principal))
}

func statusFromPrincipal(p *entities.Principal) AuthStatusResponse {
	if p.AuthType == entities.AuthTypeJWT {
		return AuthStatusResponse{
			Authenticated: true,
			AuthType:      entities.AuthTypeJWT,
			Message:       "Valid JWT token",
			User:          p.User,
			Scopes:        p.Permissions,
		}
	}

	message := "Valid API Key"
	if p.Service != "" {
		message = fmt.Sprintf("Valid API Key for service '%s'", p.Service)
	}
	return AuthStatusResponse{
		Authenticated: true,
		AuthType:      entities.AuthTypeApiKey,
		Message:       message,
		Service:       p.Service,
		Scopes:        p.Permissions,
	}
}
