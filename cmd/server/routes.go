package main

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"keygate.backend/internal/config"
	"keygate.backend/internal/interfaces/http/handlers"
	"keygate.backend/internal/interfaces/http/middleware"
)

type routeDeps struct {
	authHandler    *handlers.AuthHandler
	apiKeyHandler  *handlers.ApiKeyHandler
	adminKeyGuard  gin.HandlerFunc
	internalGuard  gin.HandlerFunc
	metricsHandler http.Handler
}

// newRouter builds the engine. Forwarded headers are honoured only from
// TRUSTED_PROXIES; with none configured the client IP is the peer address.
func newRouter(cfg *config.Config, d routeDeps) (*gin.Engine, error) {
	r := gin.New()
	if err := r.SetTrustedProxies(cfg.Security.TrustedProxies); err != nil {
		return nil, fmt.Errorf("invalid TRUSTED_PROXIES: %w", err)
	}
	r.Use(gin.Recovery())
	r.Use(middleware.RequestIDMiddleware())
	r.Use(middleware.LoggerMiddleware("/health", "/metrics"))

	applyCORSMiddleware(r, cfg.Security.AllowedOrigins)
	registerHealthRoute(r)
	if d.metricsHandler != nil {
		r.GET("/metrics", gin.WrapH(d.metricsHandler))
	}
	registerAPIV1Routes(r, d)
	return r, nil
}

func registerAPIV1Routes(r *gin.Engine, d routeDeps) {
	v1 := r.Group("/api/v1")
	{
		// Auth routes (public)
		auth := v1.Group("/auth")
		{
			auth.GET("/verify", d.authHandler.Verify)
			auth.POST("/verify", d.authHandler.Verify)
			auth.POST("/login", d.authHandler.Login)
			auth.POST("/token", d.adminKeyGuard, d.authHandler.IssueToken)
			auth.GET("/token/verify", d.authHandler.VerifyToken)
			auth.GET("/status", d.authHandler.Status)
		}

		// Key management (internal networks only)
		internal := v1.Group("/internal")
		internal.Use(d.internalGuard)
		{
			internal.POST("/api-keys", d.apiKeyHandler.CreateApiKey)
			internal.GET("/api-keys", d.apiKeyHandler.ListApiKeys)
			internal.DELETE("/api-keys/:id", d.apiKeyHandler.DeactivateApiKey)
			internal.GET("/status", d.apiKeyHandler.Status)
			internal.POST("/cache/clear", d.apiKeyHandler.ClearCache)
		}
	}
}
