package entities

import (
	"time"

	"github.com/google/uuid"
)

const (
	DecisionSourceDatabase = "database"
	DecisionSourceLegacy   = "legacy"

	AuthTypeApiKey = "api_key"
	AuthTypeJWT    = "jwt"
)

// VerifyInput is one credential verification attempt.
type VerifyInput struct {
	RawKey             string
	RequiredPermission string
	ServiceName        string
	ClientIP           string
	UserAgent          string
}

// AuthDecision is the successful outcome of a verification.
// RateLimitRemaining is nil for keys that are not rate limited.
type AuthDecision struct {
	Valid              bool       `json:"valid"`
	KeyID              *uuid.UUID `json:"keyId,omitempty"`
	Service            string     `json:"service"`
	Permissions        []string   `json:"permissions"`
	Name               string     `json:"name"`
	RateLimitRemaining *int       `json:"rateLimitRemaining,omitempty"`
	Source             string     `json:"source"`
}

// TokenClaims is what a verified session token asserts.
type TokenClaims struct {
	Subject   string    `json:"subject"`
	Scopes    []string  `json:"scopes"`
	ExpiresAt time.Time `json:"expiresAt"`
}

type IssueTokenInput struct {
	Subject    string   `json:"subject" binding:"required"`
	Scopes     []string `json:"scopes"`
	TTLSeconds int      `json:"ttlSeconds" binding:"omitempty,min=1"`
}

type LoginInput struct {
	ApiKey   string   `json:"apiKey" binding:"required"`
	Username string   `json:"username" binding:"required"`
	Scopes   []string `json:"scopes"`
}

type TokenResponse struct {
	AccessToken string    `json:"accessToken"`
	TokenType   string    `json:"tokenType"`
	ExpiresIn   int64     `json:"expiresIn"`
	ExpiresAt   time.Time `json:"expiresAt"`
}

// Principal is the result of authenticating a request by key or token.
type Principal struct {
	AuthType           string   `json:"authType"`
	Key                string   `json:"key,omitempty"`
	User               string   `json:"user,omitempty"`
	Service            string   `json:"service,omitempty"`
	Name               string   `json:"name,omitempty"`
	Permissions        []string `json:"permissions"`
	RateLimitRemaining *int     `json:"rateLimitRemaining,omitempty"`
}

// AuthenticateInput carries whichever credentials a request presented.
type AuthenticateInput struct {
	ApiKey             string
	BearerToken        string
	RequiredPermission string
	ServiceName        string
	ClientIP           string
	UserAgent          string
}
