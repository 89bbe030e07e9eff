package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// Config holds the runtime settings of the service
type Config struct {
	Port            string
	BaseURL         string
	Environment     string
	LogLevel        string
	ShutdownTimeout time.Duration

	DatabaseDriver   string
	PostgresURL      string
	PostgresHost     string
	PostgresPort     int
	PostgresDB       string
	PostgresUser     string
	PostgresPassword string
	PostgresSSLMode  string
	PostgresMaxConns int32
	SQLitePath       string

	RedisAddr     string
	RedisPassword string

	RateLimitRequests int
	RateLimitWindow   time.Duration

	APIJWTSecret     string
	CORSAllowOrigins []string

	ServiceName  string
	OTLPEndpoint string
	LokiURL      string
}

// LoadConfig reads the .env file (if any) and the process environment
func LoadConfig() (*Config, error) {
	// A missing .env is normal outside local development.
	_ = godotenv.Load()

	cfg := &Config{
		Port:             getEnvWithDefault("PORT", "3001"),
		BaseURL:          strings.TrimRight(os.Getenv("BASE_URL"), "/"),
		Environment:      getEnvWithDefault("ENV", "development"),
		LogLevel:         getEnvWithDefault("LOG_LEVEL", "info"),
		DatabaseDriver:   strings.ToLower(os.Getenv("DATABASE_DRIVER")),
		PostgresURL:      os.Getenv("POSTGRES_URL"),
		PostgresHost:     os.Getenv("POSTGRES_HOST"),
		PostgresDB:       os.Getenv("POSTGRES_DB"),
		PostgresUser:     os.Getenv("POSTGRES_USER"),
		PostgresPassword: os.Getenv("POSTGRES_PASSWORD"),
		PostgresSSLMode:  getEnvWithDefault("POSTGRES_SSLMODE", "prefer"),
		SQLitePath:       getEnvWithDefault("SQLITE_PATH", "file:tinylink.db"),
		RedisAddr:        os.Getenv("REDIS_ADDR"),
		RedisPassword:    os.Getenv("REDIS_PASSWORD"),
		APIJWTSecret:     os.Getenv("API_JWT_SECRET"),
		CORSAllowOrigins: splitList(getEnvWithDefault("CORS_ALLOW_ORIGINS", "*")),
		ServiceName:      getEnvWithDefault("SERVICE_NAME", "tinylink"),
		OTLPEndpoint:     os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		LokiURL:          os.Getenv("LOKI_URL"),
	}

	var err error
	if cfg.PostgresPort, err = getIntEnv("POSTGRES_PORT", 5432); err != nil {
		return nil, err
	}
	maxConns, err := getIntEnv("POSTGRES_MAX_CONNS", 10)
	if err != nil {
		return nil, err
	}
	cfg.PostgresMaxConns = int32(maxConns)
	if cfg.RateLimitRequests, err = getIntEnv("RATE_LIMIT_REQUESTS", 0); err != nil {
		return nil, err
	}
	if cfg.RateLimitWindow, err = getDurationEnv("RATE_LIMIT_WINDOW", time.Minute); err != nil {
		return nil, err
	}
	if cfg.ShutdownTimeout, err = getDurationEnv("SHUTDOWN_TIMEOUT", 15*time.Second); err != nil {
		return nil, err
	}

	if cfg.DatabaseDriver == "" {
		if cfg.PostgresURL != "" || cfg.PostgresHost != "" {
			cfg.DatabaseDriver = DriverPostgres
		} else {
			cfg.DatabaseDriver = DriverSQLite
		}
	}

	if cfg.DatabaseDriver == DriverPostgres && cfg.PostgresURL == "" {
		if cfg.PostgresHost == "" || cfg.PostgresUser == "" || cfg.PostgresDB == "" {
			return nil, fmt.Errorf("either POSTGRES_URL or POSTGRES_HOST, POSTGRES_USER, and POSTGRES_DB must be set")
		}
		cfg.PostgresURL = buildPostgresURL(cfg)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks the values that cannot be defaulted
func (c *Config) Validate() error {
	port, err := strconv.Atoi(c.Port)
	if err != nil || port < 1 || port > 65535 {
		return fmt.Errorf("invalid PORT %q (must be 1-65535)", c.Port)
	}

	switch c.DatabaseDriver {
	case DriverPostgres, DriverSQLite:
	default:
		return fmt.Errorf("invalid DATABASE_DRIVER %q (must be postgres or sqlite)", c.DatabaseDriver)
	}

	if len(c.CORSAllowOrigins) == 0 {
		return fmt.Errorf("CORS_ALLOW_ORIGINS must list at least one origin")
	}

	if c.DatabaseDriver == DriverSQLite && c.SQLitePath == "" {
		return fmt.Errorf("SQLITE_PATH cannot be empty")
	}

	if c.PostgresMaxConns < 1 {
		return fmt.Errorf("POSTGRES_MAX_CONNS must be positive")
	}

	if c.RateLimitRequests < 0 {
		return fmt.Errorf("RATE_LIMIT_REQUESTS cannot be negative")
	}

	if c.RateLimitRequests > 0 && c.RateLimitWindow <= 0 {
		return fmt.Errorf("RATE_LIMIT_WINDOW must be positive when rate limiting is enabled")
	}

	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid LOG_LEVEL %q", c.LogLevel)
	}

	return nil
}

// IsProduction reports whether the service runs with production defaults
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

// getEnvWithDefault returns environment variable value or default if not set
func getEnvWithDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

func getDurationEnv(key string, defaultValue time.Duration) (time.Duration, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}

func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// buildPostgresURL constructs PostgreSQL connection URL from individual parameters
func buildPostgresURL(config *Config) string {
	password := ""
	if config.PostgresPassword != "" {
		password = ":" + config.PostgresPassword
	}

	return fmt.Sprintf("postgres://%s%s@%s:%d/%s?sslmode=%s",
		config.PostgresUser,
		password,
		config.PostgresHost,
		config.PostgresPort,
		config.PostgresDB,
		config.PostgresSSLMode,
	)
}
