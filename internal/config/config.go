// Package config loads application configuration from command-line flags,
// environment variables, and an optional .env file, in that precedence order.
package config

import (
	"bufio"
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds the application configuration.
type Config struct {
	Database  DatabaseConfig
	Server    ServerConfig
	Auth      AuthConfig
	RateLimit RateLimitConfig
}

// DatabaseConfig holds the PostgreSQL connection settings.
type DatabaseConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// ServerConfig holds the HTTP server settings.
type ServerConfig struct {
	Addr         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// AuthConfig holds token issuance settings.
type AuthConfig struct {
	JWTSecret string
	TokenTTL  time.Duration
}

// RateLimitConfig holds the per-client request budget.
type RateLimitConfig struct {
	Requests int
	Window   time.Duration
}

// Load builds the configuration with precedence: flags, then environment
// variables, then the .env file, then defaults.
func Load() (*Config, error) {
	dbURL := flag.String("database-url", "", "PostgreSQL connection string")
	addr := flag.String("addr", "", "HTTP listen address (default :8080)")
	readTimeout := flag.String("read-timeout", "", "HTTP read timeout (default 15s)")
	writeTimeout := flag.String("write-timeout", "", "HTTP write timeout (default 15s)")
	jwtSecret := flag.String("jwt-secret", "", "HMAC secret for session tokens")
	tokenTTL := flag.String("token-ttl", "", "Session token lifetime (default 24h)")
	rateRequests := flag.String("rate-limit-requests", "", "Requests allowed per client per window (default 100)")
	rateWindow := flag.String("rate-limit-window", "", "Rate limit window (default 15m)")
	envFile := flag.String("env-file", ".env", "Path to .env file")
	flag.Parse()

	// Missing .env files are fine; explicit paths that fail to parse are not.
	if err := loadEnv(*envFile); err != nil {
		return nil, err
	}

	cfg := &Config{
		Database: DatabaseConfig{
			URL:             value(*dbURL, "DATABASE_URL", ""),
			MaxOpenConns:    intValue("", "DB_MAX_OPEN_CONNS", 20),
			MaxIdleConns:    intValue("", "DB_MAX_IDLE_CONNS", 10),
			ConnMaxLifetime: time.Hour,
		},
		Server: ServerConfig{
			Addr: value(*addr, "SERVER_ADDR", ":8080"),
		},
		Auth: AuthConfig{
			JWTSecret: value(*jwtSecret, "JWT_SECRET", ""),
		},
		RateLimit: RateLimitConfig{
			Requests: intValue(*rateRequests, "RATE_LIMIT_REQUESTS", 100),
		},
	}

	var err error
	if cfg.Server.ReadTimeout, err = durationValue(*readTimeout, "SERVER_READ_TIMEOUT", 15*time.Second); err != nil {
		return nil, err
	}
	if cfg.Server.WriteTimeout, err = durationValue(*writeTimeout, "SERVER_WRITE_TIMEOUT", 15*time.Second); err != nil {
		return nil, err
	}
	if cfg.Auth.TokenTTL, err = durationValue(*tokenTTL, "JWT_EXPIRES_IN", 24*time.Hour); err != nil {
		return nil, err
	}
	if cfg.RateLimit.Window, err = durationValue(*rateWindow, "RATE_LIMIT_WINDOW", 15*time.Minute); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// Validate checks that required values are present and sane.
func (c *Config) Validate() error {
	if c.Database.URL == "" {
		return errors.New("DATABASE_URL is required")
	}
	if c.Auth.JWTSecret == "" {
		return errors.New("JWT_SECRET is required")
	}
	if len(c.Auth.JWTSecret) < 32 {
		return errors.New("JWT_SECRET must be at least 32 characters")
	}
	if c.Auth.TokenTTL <= 0 {
		return errors.New("token TTL must be positive")
	}
	if c.RateLimit.Requests < 1 {
		return errors.New("rate limit requests must be at least 1")
	}
	if c.RateLimit.Window <= 0 {
		return errors.New("rate limit window must be positive")
	}
	return nil
}

// value returns the first non-empty of flag value, env var, default.
func value(flagValue, envKey, defaultValue string) string {
	if flagValue != "" {
		return flagValue
	}
	if envValue := os.Getenv(envKey); envValue != "" {
		return envValue
	}
	return defaultValue
}

func intValue(flagValue, envKey string, defaultValue int) int {
	s := value(flagValue, envKey, "")
	if s == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return defaultValue
	}
	return n
}

func durationValue(flagValue, envKey string, defaultValue time.Duration) (time.Duration, error) {
	s := value(flagValue, envKey, "")
	if s == "" {
		return defaultValue, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid duration for %s: %q", envKey, s)
	}
	return d, nil
}

// loadEnv loads the .env file at path, treating a missing file as no file at
// all. Any other failure, including a parse error, is reported.
func loadEnv(path string) error {
	if err := loadEnvFile(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("load env file %s: %w", path, err)
	}
	return nil
}

// loadEnvFile loads KEY=value pairs from a .env file. Existing environment
// variables take precedence over file entries.
func loadEnvFile(path string) error {
	file, err := os.Open(path)
	if err != nil {
		return err
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			return fmt.Errorf("invalid format at line %d: %s", lineNum, line)
		}
		key := strings.TrimSpace(parts[0])
		val := strings.Trim(strings.TrimSpace(parts[1]), `"'`)
		if os.Getenv(key) == "" {
			if err := os.Setenv(key, val); err != nil {
				return fmt.Errorf("set env var %s: %w", key, err)
			}
		}
	}
	return scanner.Err()
}
