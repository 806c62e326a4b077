package config

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Quota ledger backends
const (
	QuotaBackendMemory   = "memory"
	QuotaBackendRedis    = "redis"
	QuotaBackendPostgres = "postgres"
)

// Audit sinks
const (
	AuditSinkLog      = "log"
	AuditSinkPostgres = "postgres"
)

// Config represents the complete application configuration
type Config struct {
	Environment   string
	TenantsFile   string
	Server        ServerConfig
	Database      *DatabaseConfig // nil when no database is configured
	Redis         RedisConfig
	Quota         QuotaConfig
	Audit         AuditConfig
	Provider      ProviderConfig
	Observability ObservabilityConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	CORSOrigins     []string
}

// DatabaseConfig holds PostgreSQL database configuration.
// When ConnectionString (from DATABASE_URL) is set, it takes precedence over individual fields.
type DatabaseConfig struct {
	ConnectionString string
	Host             string
	Port             int
	User             string
	Password         string
	Database         string
	SSLMode          string
	MaxOpenConns     int
	MaxIdleConns     int
	ConnMaxLifetime  time.Duration
	InitSchema       bool
}

// RedisConfig holds Redis connection settings for the quota ledger
type RedisConfig struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
}

// QuotaConfig selects and tunes the quota ledger
type QuotaConfig struct {
	Backend       string
	ResetInterval time.Duration // postgres only
}

// AuditConfig controls audit delivery
type AuditConfig struct {
	Sink            string
	BufferSize      int
	Workers         int
	HashChain       bool
	ShutdownTimeout time.Duration
}

// ProviderConfig holds the OpenAI-compatible backend configuration
type ProviderConfig struct {
	Name    string
	BaseURL string
	APIKey  string
	Model   string
	Timeout time.Duration
}

// ObservabilityConfig holds monitoring and logging configuration
type ObservabilityConfig struct {
	LogLevel       string
	LogFormat      string // json or console
	MetricsEnabled bool
}

// New creates a new Config instance by loading environment variables
func New(ctx context.Context) (*Config, error) {
	_ = godotenv.Load(".env")

	cfg := &Config{
		Environment: getEnv("ENVIRONMENT", "development"),
		TenantsFile: getEnv("TENANTS_FILE", "tenants.yaml"),
		Server: ServerConfig{
			Host:            getEnv("SERVER_HOST", "0.0.0.0"),
			Port:            getPort(),
			ReadTimeout:     getEnvAsDuration("SERVER_READ_TIMEOUT", 30*time.Second),
			WriteTimeout:    getEnvAsDuration("SERVER_WRITE_TIMEOUT", 90*time.Second),
			ShutdownTimeout: getEnvAsDuration("SERVER_SHUTDOWN_TIMEOUT", 10*time.Second),
			CORSOrigins:     getEnvAsList("CORS_ALLOWED_ORIGINS", []string{"*"}),
		},
		Database: loadDatabaseConfig(),
		Redis: RedisConfig{
			Addr:      getEnv("REDIS_ADDR", ""),
			Password:  getEnv("REDIS_PASSWORD", ""),
			DB:        getEnvAsInt("REDIS_DB", 0),
			KeyPrefix: getEnv("REDIS_KEY_PREFIX", "quota:v1:"),
		},
		Quota: QuotaConfig{
			Backend:       strings.ToLower(getEnv("QUOTA_BACKEND", QuotaBackendMemory)),
			ResetInterval: getEnvAsDuration("QUOTA_RESET_INTERVAL", time.Minute),
		},
		Audit: AuditConfig{
			Sink:            strings.ToLower(getEnv("AUDIT_SINK", AuditSinkLog)),
			BufferSize:      getEnvAsInt("AUDIT_BUFFER_SIZE", 1000),
			Workers:         getEnvAsInt("AUDIT_WORKERS", 4),
			HashChain:       getEnvAsBool("AUDIT_HASH_CHAIN", true),
			ShutdownTimeout: getEnvAsDuration("AUDIT_SHUTDOWN_TIMEOUT", 5*time.Second),
		},
		Provider: ProviderConfig{
			Name:    getEnv("PROVIDER_NAME", "openai"),
			BaseURL: getEnv("PROVIDER_BASE_URL", "https://api.openai.com/v1"),
			APIKey:  getEnv("PROVIDER_API_KEY", ""),
			Model:   getEnv("PROVIDER_MODEL", "gpt-4o-mini"),
			Timeout: getEnvAsDuration("PROVIDER_TIMEOUT", 60*time.Second),
		},
		Observability: ObservabilityConfig{
			LogLevel:       getEnv("LOG_LEVEL", "info"),
			LogFormat:      getEnv("LOG_FORMAT", "json"),
			MetricsEnabled: getEnvAsBool("METRICS_ENABLED", true),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks that the selected backends have what they need
func (c *Config) Validate() error {
	if c.TenantsFile == "" {
		return fmt.Errorf("tenants file is required")
	}

	switch c.Quota.Backend {
	case QuotaBackendMemory:
	case QuotaBackendRedis:
		if c.Redis.Addr == "" {
			return fmt.Errorf("redis address is required for the redis quota backend")
		}
	case QuotaBackendPostgres:
		if c.Database == nil {
			return fmt.Errorf("database configuration required for the postgres quota backend: set DATABASE_URL or DB_HOST")
		}
		if c.Quota.ResetInterval <= 0 {
			return fmt.Errorf("quota reset interval must be positive")
		}
	default:
		return fmt.Errorf("unknown quota backend %q", c.Quota.Backend)
	}

	switch c.Audit.Sink {
	case AuditSinkLog:
	case AuditSinkPostgres:
		if c.Database == nil {
			return fmt.Errorf("database configuration required for the postgres audit sink: set DATABASE_URL or DB_HOST")
		}
	default:
		return fmt.Errorf("unknown audit sink %q", c.Audit.Sink)
	}
	if c.Audit.BufferSize <= 0 || c.Audit.Workers <= 0 {
		return fmt.Errorf("audit buffer size and workers must be positive")
	}

	if c.Database != nil && c.Database.ConnectionString == "" {
		if c.Database.User == "" {
			return fmt.Errorf("database user is required")
		}
		if c.Database.Database == "" {
			return fmt.Errorf("database name is required")
		}
	}

	if c.Provider.BaseURL == "" {
		return fmt.Errorf("provider base URL is required")
	}
	if c.IsProduction() && c.Provider.APIKey == "" {
		return fmt.Errorf("provider API key is required in production")
	}

	if c.Observability.LogLevel == "" {
		return fmt.Errorf("log level is required")
	}

	return nil
}

// IsProduction returns true if running in production environment
func (c *Config) IsProduction() bool {
	return c.Environment == "production" || c.Environment == "prod"
}

// NeedsDatabase reports whether any component persists to Postgres
func (c *Config) NeedsDatabase() bool {
	return c.Quota.Backend == QuotaBackendPostgres || c.Audit.Sink == AuditSinkPostgres
}

// DSN returns the PostgreSQL connection string.
// Uses ConnectionString (from DATABASE_URL) when set; otherwise builds from individual fields.
func (c *DatabaseConfig) DSN() string {
	if c.ConnectionString != "" {
		return c.ConnectionString
	}
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// LogString returns a safe string for logging (no password)
func (c *DatabaseConfig) LogString() string {
	if c.ConnectionString != "" {
		u, err := url.Parse(c.ConnectionString)
		if err == nil {
			port := u.Port()
			if port == "" {
				port = "5432"
			}
			return fmt.Sprintf("host=%s port=%s database=%s", u.Hostname(), port, strings.TrimPrefix(u.Path, "/"))
		}
		return "host=<from DATABASE_URL>"
	}
	return fmt.Sprintf("host=%s port=%d database=%s", c.Host, c.Port, c.Database)
}

// Address returns the HTTP server address
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// loadDatabaseConfig reads DATABASE_URL or DB_* vars; nil when neither is set
func loadDatabaseConfig() *DatabaseConfig {
	pool := DatabaseConfig{
		MaxOpenConns:    getEnvAsInt("DB_MAX_OPEN_CONNS", 25),
		MaxIdleConns:    getEnvAsInt("DB_MAX_IDLE_CONNS", 5),
		ConnMaxLifetime: getEnvAsDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute),
		InitSchema:      getEnvAsBool("DB_INIT_SCHEMA", true),
	}

	if dbURL := getEnv("DATABASE_URL", ""); dbURL != "" {
		pool.ConnectionString = dbURL
		return &pool
	}
	if getEnv("DB_HOST", "") == "" {
		return nil
	}

	pool.Host = getEnv("DB_HOST", "localhost")
	pool.Port = getEnvAsInt("DB_PORT", 5432)
	pool.User = getEnv("DB_USER", "gateway")
	pool.Password = getEnv("DB_PASSWORD", "")
	pool.Database = getEnv("DB_NAME", "gateway")
	pool.SSLMode = getEnv("DB_SSLMODE", "disable")
	return &pool
}

// Helper functions

// getPort returns the server port from PORT or SERVER_PORT env vars (default: 8080)
func getPort() int {
	for _, key := range []string{"PORT", "SERVER_PORT"} {
		if value := os.Getenv(key); value != "" {
			if p, err := strconv.Atoi(value); err == nil {
				return p
			}
		}
	}
	return 8080
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	value, err := strconv.Atoi(os.Getenv(key))
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	value, err := strconv.ParseBool(os.Getenv(key))
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	value, err := time.ParseDuration(os.Getenv(key))
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsList(key string, defaultValue []string) []string {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue
	}
	var out []string
	for _, item := range strings.Split(raw, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
