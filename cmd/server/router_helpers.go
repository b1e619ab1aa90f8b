package main

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"keygate.backend/internal/interfaces/http/middleware"
)

const (
	serviceName    = "keygate"
	serviceVersion = "1.0.0"
)

func applyCORSMiddleware(r *gin.Engine, allowedOrigins []string) {
	r.Use(middleware.CORSMiddleware(allowedOrigins))
}

func registerHealthRoute(r *gin.Engine) {
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"service": serviceName,
			"version": serviceVersion,
		})
	})
}
