package handlers

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"keygate.backend/internal/domain/entities"
	domainerrors "keygate.backend/internal/domain/errors"
	"keygate.backend/internal/interfaces/http/response"
	"keygate.backend/internal/usecases"
	"keygate.backend/pkg/utils"
)

// ApiKeyService is the key management surface the admin routes need.
type ApiKeyService interface {
	CreateApiKey(ctx context.Context, input *entities.CreateApiKeyInput, clientIP, userAgent string) (*entities.CreateApiKeyResponse, error)
	ListApiKeys(ctx context.Context, input *entities.ListApiKeysInput) (*usecases.ApiKeyListResponse, error)
	DeactivateApiKey(ctx context.Context, id uuid.UUID, reason string) error
	Status(ctx context.Context) *usecases.SystemStatus
	ClearCache(ctx context.Context)
}

// DeactivateApiKeyRequest is the optional body of a revocation.
type DeactivateApiKeyRequest struct {
	Reason string `json:"reason" binding:"max=500"`
}

type ApiKeyHandler struct {
	apiKeyUsecase ApiKeyService
}

func NewApiKeyHandler(apiKeyUsecase ApiKeyService) *ApiKeyHandler {
	return &ApiKeyHandler{
		apiKeyUsecase: apiKeyUsecase,
	}
}

// CreateApiKey creates a new API key
func (h *ApiKeyHandler) CreateApiKey(c *gin.Context) {
	var input entities.CreateApiKeyInput
	if err := c.ShouldBindJSON(&input); err != nil {
		response.BindError(c, err)
		return
	}

	created, err := h.apiKeyUsecase.CreateApiKey(c.Request.Context(), &input, c.ClientIP(), c.Request.UserAgent())
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusCreated, created)
}

// ListApiKeys lists stored keys with masked prefixes
func (h *ApiKeyHandler) ListApiKeys(c *gin.Context) {
	var input entities.ListApiKeysInput
	if err := c.ShouldBindQuery(&input); err != nil {
		response.BindError(c, err)
		return
	}

	list, err := h.apiKeyUsecase.ListApiKeys(c.Request.Context(), &input)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusOK, list)
}

// DeactivateApiKey revokes an API key
func (h *ApiKeyHandler) DeactivateApiKey(c *gin.Context) {
	id, err := utils.ParseKeyID(c.Param("id"))
	if err != nil {
		response.Error(c, domainerrors.BadRequest("Invalid API Key ID"))
		return
	}

	var req DeactivateApiKeyRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		response.BindError(c, err)
		return
	}

	if err := h.apiKeyUsecase.DeactivateApiKey(c.Request.Context(), id, req.Reason); err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{
		"id":      id,
		"status":  "deactivated",
		"message": "API key revoked",
	})
}

// Status reports cache, rate limit and legacy key state
func (h *ApiKeyHandler) Status(c *gin.Context) {
	response.Success(c, http.StatusOK, h.apiKeyUsecase.Status(c.Request.Context()))
}

// ClearCache drops every cached key record
func (h *ApiKeyHandler) ClearCache(c *gin.Context) {
	h.apiKeyUsecase.ClearCache(c.Request.Context())
	response.Success(c, http.StatusOK, gin.H{"message": "Cache cleared"})
}
