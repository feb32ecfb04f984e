// Package config reads the process configuration from environment
// variables. There is no config-file layer: deployment environments
// inject env vars, local development uses .env via godotenv in
// cmd/api.
package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds all application configuration.
type Config struct {
	Env  string
	Port string

	DatabaseURL string
	RedisURL    string

	JWTPrivateKeyPath string
	JWTPublicKeyPath  string
	JWTIssuer         string

	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration

	OTPLength      int
	OTPTTL         time.Duration
	OTPMaxAttempts int

	SignedRequestSkew time.Duration

	// AdminAPIKey is the out-of-band credential guarding /svc/register
	// and tenant provisioning.
	AdminAPIKey string

	// ServiceSecretKey is the 32-byte master key (hex encoded in the
	// env) sealing service signing secrets at rest.
	ServiceSecretKey string
}

// Load reads configuration from environment variables, applying
// defaults where unset.
func Load() Config {
	return Config{
		Env:  getEnv("APP_ENV", "development"),
		Port: getEnv("PORT", "8080"),

		DatabaseURL: os.Getenv("DATABASE_URL"),
		RedisURL:    os.Getenv("REDIS_URL"),

		JWTPrivateKeyPath: os.Getenv("JWT_PRIVATE_KEY_PATH"),
		JWTPublicKeyPath:  os.Getenv("JWT_PUBLIC_KEY_PATH"),
		JWTIssuer:         getEnv("JWT_ISSUER", "authzcore"),

		AccessTokenTTL:  getEnvAsDuration("ACCESS_TOKEN_TTL", 900*time.Second),
		RefreshTokenTTL: getEnvAsDuration("REFRESH_TOKEN_TTL", 30*24*time.Hour),

		OTPLength:      getEnvAsInt("OTP_LENGTH", 6),
		OTPTTL:         getEnvAsDuration("OTP_TTL", 5*time.Minute),
		OTPMaxAttempts: getEnvAsInt("OTP_MAX_ATTEMPTS", 5),

		SignedRequestSkew: getEnvAsDuration("SIGNED_REQUEST_SKEW_SECONDS", 60*time.Second),

		AdminAPIKey:      os.Getenv("ADMIN_API_KEY"),
		ServiceSecretKey: os.Getenv("SERVICE_SECRET_KEY"),
	}
}

func getEnv(name, defaultVal string) string {
	if v := os.Getenv(name); v != "" {
		return v
	}
	return defaultVal
}

func getEnvAsInt(name string, defaultVal int) int {
	valStr := os.Getenv(name)
	if valStr == "" {
		return defaultVal
	}
	val, err := strconv.Atoi(valStr)
	if err != nil {
		return defaultVal
	}
	return val
}

// getEnvAsDuration accepts either a bare integer (seconds) or a Go
// duration string, so ACCESS_TOKEN_TTL=900 and ACCESS_TOKEN_TTL=15m
// both work.
func getEnvAsDuration(name string, defaultVal time.Duration) time.Duration {
	valStr := os.Getenv(name)
	if valStr == "" {
		return defaultVal
	}
	if secs, err := strconv.Atoi(valStr); err == nil {
		return time.Duration(secs) * time.Second
	}
	if d, err := time.ParseDuration(valStr); err == nil {
		return d
	}
	return defaultVal
}
