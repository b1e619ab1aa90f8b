package config

import (
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration values
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	JWT       JWTConfig
	RateLimit RateLimitConfig
	Cache     CacheConfig
	Legacy    LegacyConfig
	Hash      HashConfig
	Auth      AuthConfig
	Breaker   BreakerConfig
	Security  SecurityConfig
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Port string
	Env  string
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Driver     string
	Host       string
	Port       int
	User       string
	Password   string
	DBName     string
	SSLMode    string
	SQLitePath string
}

// DSN returns the lib/pq connection string
func (c DatabaseConfig) DSN() string {
	return "host=" + c.Host +
		" port=" + strconv.Itoa(c.Port) +
		" user=" + c.User +
		" password=" + c.Password +
		" dbname=" + c.DBName +
		" sslmode=" + c.SSLMode
}

// URL returns the database connection URL
func (c DatabaseConfig) URL() string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.User, c.Password),
		Host:     c.Host + ":" + strconv.Itoa(c.Port),
		Path:     "/" + c.DBName,
		RawQuery: "sslmode=" + c.SSLMode,
	}
	return u.String()
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	URL      string
	Password string
}

// JWTConfig holds JWT configuration
type JWTConfig struct {
	Secret       string
	AccessExpiry time.Duration
}

// RateLimitConfig holds the per-key request limit
type RateLimitConfig struct {
	Backend         string
	Requests        int
	Window          time.Duration
	CleanupInterval time.Duration
}

// CacheConfig holds key cache sizing
type CacheConfig struct {
	MaxSize int
	TTL     time.Duration
}

// LegacyConfig holds the keys accepted outside the database
type LegacyConfig struct {
	Enabled bool
	Keys    []string
	File    string
}

// HashConfig holds argon2id cost parameters
type HashConfig struct {
	Time      uint32
	MemoryKiB uint32
	Threads   uint8
}

// AuthConfig holds verification runtime settings
type AuthConfig struct {
	StoreTimeout time.Duration
	QueueSize    int
	Workers      int
}

// BreakerConfig holds the store circuit breaker settings
type BreakerConfig struct {
	FailureThreshold int
	OpenTimeout      time.Duration
}

// SecurityConfig holds network access settings
type SecurityConfig struct {
	AllowedOrigins   []string
	InternalNetworks []string
	TrustedProxies   []string
}

const (
	DBDriverPostgres = "postgres"
	DBDriverSQLite   = "sqlite"

	RateLimitBackendDatabase = "database"
	RateLimitBackendRedis    = "redis"
)

// Load loads configuration from environment variables
func Load() *Config {
	return &Config{
		Server: ServerConfig{
			Port: getEnv("SERVER_PORT", "8000"),
			Env:  getEnv("SERVER_ENV", "development"),
		},
		Database: DatabaseConfig{
			Driver:     strings.ToLower(getEnv("DB_DRIVER", DBDriverPostgres)),
			Host:       getEnv("DB_HOST", "localhost"),
			Port:       getEnvAsInt("DB_PORT", 5432),
			User:       getEnv("DB_USER", "postgres"),
			Password:   getEnv("DB_PASSWORD", "postgres"),
			DBName:     getEnv("DB_NAME", "keygate"),
			SSLMode:    getEnv("DB_SSLMODE", "disable"),
			SQLitePath: getEnv("DB_SQLITE_PATH", "keygate.db"),
		},
		Redis: RedisConfig{
			URL:      getEnv("REDIS_URL", "redis://localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
		},
		JWT: JWTConfig{
			Secret:       getEnv("JWT_SECRET", "change-this-in-production"),
			AccessExpiry: getEnvAsDuration("JWT_ACCESS_EXPIRY", 30*time.Minute),
		},
		RateLimit: RateLimitConfig{
			Backend:         strings.ToLower(getEnv("RATE_LIMIT_BACKEND", RateLimitBackendDatabase)),
			Requests:        getEnvAsInt("RATE_LIMIT_REQUESTS", 60),
			Window:          getEnvAsDuration("RATE_LIMIT_WINDOW", 60*time.Second),
			CleanupInterval: getEnvAsDuration("RATE_LIMIT_CLEANUP_INTERVAL", 5*time.Minute),
		},
		Cache: CacheConfig{
			MaxSize: getEnvAsInt("CACHE_MAX_SIZE", 1000),
			TTL:     getEnvAsDuration("CACHE_TTL", 5*time.Minute),
		},
		Legacy: LegacyConfig{
			Enabled: getEnvAsBool("USE_LEGACY_API_KEYS", false),
			Keys:    getEnvAsList("API_KEYS"),
			File:    getEnv("LEGACY_API_KEY_FILE", ""),
		},
		Hash: HashConfig{
			Time:      uint32(getEnvAsInt("HASH_ARGON2_TIME", 2)),
			MemoryKiB: uint32(getEnvAsInt("HASH_ARGON2_MEMORY_KIB", 19456)),
			Threads:   uint8(getEnvAsInt("HASH_ARGON2_THREADS", 1)),
		},
		Auth: AuthConfig{
			StoreTimeout: getEnvAsDuration("AUTH_STORE_TIMEOUT", 2*time.Second),
			QueueSize:    getEnvAsInt("USAGE_QUEUE_SIZE", 1024),
			Workers:      getEnvAsInt("USAGE_WORKERS", 2),
		},
		Breaker: BreakerConfig{
			FailureThreshold: getEnvAsInt("BREAKER_FAILURE_THRESHOLD", 5),
			OpenTimeout:      getEnvAsDuration("BREAKER_OPEN_TIMEOUT", 30*time.Second),
		},
		Security: SecurityConfig{
			AllowedOrigins:   getEnvAsList("ALLOWED_ORIGINS"),
			TrustedProxies:   getEnvAsList("TRUSTED_PROXIES"),
			InternalNetworks: getEnvAsListOr("INTERNAL_NETWORKS", []string{"127.0.0.0/8", "::1/128", "10.0.0.0/8", "172.16.0.0/12", "192.168.0.0/16"}),
		},
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil && intVal >= 0 {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func getEnvAsList(key string) []string {
	return getEnvAsListOr(key, nil)
}

// getEnvAsListOr splits a comma separated value. A variable that is set but
// empty yields an empty list.
func getEnvAsListOr(key string, defaultValue []string) []string {
	value, ok := os.LookupEnv(key)
	if !ok {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
