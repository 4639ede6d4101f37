package config

import (
	"errors"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/smallbiznis/tally/pkg/db"
)

// Config holds application configuration.
type Config struct {
	AppName     string
	AppVersion  string
	Environment string
	HTTPAddr    string

	AuthJWTSecret string

	OtelEnabled  bool
	OTLPEndpoint string

	DB db.Config

	Ledger    LedgerConfig
	RateLimit RateLimitConfig
}

// LedgerConfig carries tunables for the credit engine.
type LedgerConfig struct {
	// AdminAllowNegative permits admin adjustments to drive a balance below
	// zero. Consumption never may, regardless of this flag.
	AdminAllowNegative bool
	// RenewalCredits is the credit amount granted on each subscription
	// renewal event.
	RenewalCredits int64
}

// RateLimitConfig configures the fixed-window limiter.
type RateLimitConfig struct {
	MaxRequests   int
	WindowSeconds int

	RedisAddr     string
	RedisPassword string
	RedisDB       int
}

// Load loads configuration from environment variables and .env file.
func Load() Config {
	_ = godotenv.Load()

	return Config{
		AppName:       getenv("APP_SERVICE", "tally"),
		AppVersion:    getenv("APP_VERSION", "0.1.0"),
		Environment:   getenv("ENVIRONMENT", "development"),
		HTTPAddr:      getenv("HTTP_ADDR", ":8080"),
		AuthJWTSecret: strings.TrimSpace(getenv("AUTH_JWT_SECRET", "")),
		OtelEnabled:   getenvBool("OTEL_ENABLED", false),
		OTLPEndpoint:  getenv("OTLP_ENDPOINT", "localhost:4317"),
		DB: db.Config{
			Type:            getenv("DATABASE_TYPE", "postgres"),
			Host:            getenv("DATABASE_HOST", "localhost"),
			Port:            getenv("DATABASE_PORT", "5432"),
			Name:            getenv("DATABASE_NAME", "tally"),
			User:            getenv("DATABASE_USER", "postgres"),
			Password:        getenv("DATABASE_PASSWORD", ""),
			SSLMode:         getenv("DATABASE_SSLMODE", "disable"),
			MaxIdleConn:     getenvInt("DATABASE_MAX_IDLE_CONN", 5),
			MaxOpenConn:     getenvInt("DATABASE_MAX_OPEN_CONN", 25),
			ConnMaxLifetime: getenvInt("DATABASE_CONN_MAX_LIFETIME", 300),
			ConnMaxIdleTime: getenvInt("DATABASE_CONN_MAX_IDLE_TIME", 60),
		},
		Ledger: LedgerConfig{
			AdminAllowNegative: getenvBool("LEDGER_ADMIN_ALLOW_NEGATIVE", false),
			RenewalCredits:     getenvInt64("LEDGER_RENEWAL_CREDITS", 100),
		},
		RateLimit: RateLimitConfig{
			MaxRequests:   getenvInt("RATELIMIT_MAX_REQUESTS", 10),
			WindowSeconds: getenvInt("RATELIMIT_WINDOW_SECONDS", 60),
			RedisAddr:     strings.TrimSpace(getenv("RATELIMIT_REDIS_ADDR", "")),
			RedisPassword: strings.TrimSpace(getenv("RATELIMIT_REDIS_PASSWORD", "")),
			RedisDB:       getenvInt("RATELIMIT_REDIS_DB", 0),
		},
	}
}

// Validate rejects configurations that would otherwise surface as nil
// collaborators deep inside a request. Startup is the only acceptable place
// for these failures.
func (c Config) Validate() error {
	if c.AuthJWTSecret == "" {
		return errors.New("AUTH_JWT_SECRET is required")
	}
	if c.DB.Type != "sqlite" && (c.DB.Host == "" || c.DB.Name == "") {
		return errors.New("database host and name are required")
	}
	if c.RateLimit.MaxRequests <= 0 || c.RateLimit.WindowSeconds <= 0 {
		return errors.New("rate limit max requests and window must be positive")
	}
	if c.Ledger.RenewalCredits <= 0 {
		return errors.New("renewal credit amount must be positive")
	}
	return nil
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvBool(key string, def bool) bool {
	value := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	if value == "" {
		return def
	}
	switch value {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	default:
		return def
	}
}

func getenvInt(key string, def int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return def
	}
	return parsed
}

func getenvInt64(key string, def int64) int64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return def
	}
	return parsed
}
