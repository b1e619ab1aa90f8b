package middleware

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"keygate.backend/internal/domain/entities"
	domainerrors "keygate.backend/internal/domain/errors"
	"keygate.backend/internal/interfaces/http/response"
	"keygate.backend/pkg/logger"
)

const (
	// AuthorizationHeader is the header key for authorization
	AuthorizationHeader = "Authorization"
	// BearerPrefix is the prefix for bearer tokens
	BearerPrefix = "Bearer "
	// ApiKeyHeader carries the raw API key
	ApiKeyHeader = "X-API-Key"
	// ServiceNameHeader names the service the caller wants to reach
	ServiceNameHeader = "X-Service-Name"
	// RateLimitRemainingHeader reports the requests left in the window
	RateLimitRemainingHeader = "X-RateLimit-Remaining"
	// AuthDecisionKey is the context key for the verified key decision
	AuthDecisionKey = "authDecision"
)

// KeyVerifier verifies a raw API key.
type KeyVerifier interface {
	VerifyApiKey(ctx context.Context, input *entities.VerifyInput) (*entities.AuthDecision, error)
}

// BearerToken extracts the token from an Authorization header. It returns
// "" when the header is missing or not a bearer credential.
func BearerToken(c *gin.Context) string {
	header := c.GetHeader(AuthorizationHeader)
	if len(header) < len(BearerPrefix) || !strings.EqualFold(header[:len(BearerPrefix)], BearerPrefix) {
		return ""
	}
	return strings.TrimSpace(header[len(BearerPrefix):])
}

// SetRateLimitHeader exposes the remaining request count when it is known.
func SetRateLimitHeader(c *gin.Context, remaining *int) {
	if remaining != nil {
		c.Header(RateLimitRemainingHeader, strconv.Itoa(*remaining))
	}
}

// ApiKeyMiddleware requires a valid API key granting permission. The
// decision is stored under AuthDecisionKey for the handlers.
func ApiKeyMiddleware(verifier KeyVerifier, permission string) gin.HandlerFunc {
	return func(c *gin.Context) {
		decision, err := verifier.VerifyApiKey(c.Request.Context(), &entities.VerifyInput{
			RawKey:             c.GetHeader(ApiKeyHeader),
			RequiredPermission: permission,
			ServiceName:        c.GetHeader(ServiceNameHeader),
			ClientIP:           c.ClientIP(),
			UserAgent:          c.Request.UserAgent(),
		})
		if err != nil {
			response.Abort(c, err)
			return
		}

		SetRateLimitHeader(c, decision.RateLimitRemaining)
		c.Set(AuthDecisionKey, decision)
		c.Next()
	}
}

// ParseNetworks parses a list of CIDRs. Bare addresses are accepted as
// single-host networks.
func ParseNetworks(cidrs []string) ([]*net.IPNet, error) {
	nets := make([]*net.IPNet, 0, len(cidrs))
	for _, raw := range cidrs {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		if !strings.Contains(raw, "/") {
			ip := net.ParseIP(raw)
			if ip == nil {
				return nil, fmt.Errorf("invalid network %q", raw)
			}
			bits := 128
			if ip.To4() != nil {
				ip = ip.To4()
				bits = 32
			}
			nets = append(nets, &net.IPNet{IP: ip, Mask: net.CIDRMask(bits, bits)})
			continue
		}
		_, n, err := net.ParseCIDR(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid network %q: %w", raw, err)
		}
		nets = append(nets, n)
	}
	return nets, nil
}

// InternalNetworkMiddleware only lets clients from nets through. An empty
// list leaves the routes open.
func InternalNetworkMiddleware(nets []*net.IPNet) gin.HandlerFunc {
	return func(c *gin.Context) {
		if len(nets) == 0 {
			c.Next()
			return
		}

		ip := net.ParseIP(c.ClientIP())
		if ip != nil {
			for _, n := range nets {
				if n.Contains(ip) {
					c.Next()
					return
				}
			}
		}

		logger.Warn(c.Request.Context(), "Rejected admin request from outside internal networks",
			zap.String("client_ip", c.ClientIP()),
			zap.String("path", c.Request.URL.Path),
		)
		response.Abort(c, domainerrors.Forbidden("Access restricted to internal networks"))
	}
}
