package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-chi/cors"
)

// CORSMiddleware adapts go-chi/cors to gin. An empty origin list allows
// every origin.
func CORSMiddleware(allowedOrigins []string) gin.HandlerFunc {
	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"*"}
	}

	handler := cors.Handler(cors.Options{
		AllowedOrigins: allowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{
			"Origin", "Content-Type", "Accept", AuthorizationHeader,
			ApiKeyHeader, ServiceNameHeader, RequestIDHeader,
		},
		ExposedHeaders:   []string{RequestIDHeader, RateLimitRemainingHeader, "Retry-After"},
		AllowCredentials: false,
		MaxAge:           300,
	})

	return func(c *gin.Context) {
		passed := false
		handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			passed = true
			c.Request = r
		})).ServeHTTP(c.Writer, c.Request)

		if !passed {
			// preflight answered by cors
			c.Abort()
			return
		}
		c.Next()
	}
}
