package config

import (
	"errors"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

// Job dispatch backends.
const (
	JobsBackendMemory = "memory"
	JobsBackendAsynq  = "asynq"
)

type Config struct {
	Env       string
	Port      int
	APIPrefix string

	Database DatabaseConfig
	Redis    RedisConfig
	JWT      JWTConfig
	CORS     CORSConfig
	Log      LogConfig
	Exports  ExportsConfig
	Jobs     JobsConfig
	Filters  FiltersConfig
	Audit    AuditConfig
	Cache    CacheConfig
}

type DatabaseConfig struct {
	Host         string
	Port         int
	User         string
	Password     string
	Name         string
	SSLMode      string
	MaxOpenConns int
	MaxIdleConns int
	AutoMigrate  bool
	// StatementTimeout bounds every query on the pool. Zero leaves the server default.
	StatementTimeout time.Duration
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

type JWTConfig struct {
	Secret string
	Issuer string
}

type CORSConfig struct {
	AllowedOrigins []string
}

type LogConfig struct {
	Level  string
	Format string
}

// ExportsConfig configures artifact storage and export bounds.
type ExportsConfig struct {
	StorageDir      string
	SignedURLSecret string
	SignedURLTTL    time.Duration
	SyncMaxRows     int
	MaxPageSize     int
	StatusCacheSize int
}

// JobsConfig selects and tunes the export job dispatcher.
type JobsConfig struct {
	Backend       string
	Workers       int
	Retries       int
	RetryDelay    time.Duration
	Timeout       time.Duration
	AsynqQueue    string
	RecoverOnBoot bool
}

// FiltersConfig carries the process-wide system constraints.
type FiltersConfig struct {
	ExcludeSoftDeleted   bool
	ExcludeArchived      bool
	IncludeLockedPeriods bool
	IncludePosted        bool
}

// AuditConfig toggles persistence and async delivery of audit events.
type AuditConfig struct {
	Enabled bool
	Persist bool
	Async   bool
}

// CacheConfig governs the redis-backed count cache.
type CacheConfig struct {
	Enabled  bool
	CountTTL time.Duration
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
	}

	cfg := &Config{}

	cfg.Env = v.GetString("ENV")
	cfg.Port = v.GetInt("PORT")
	cfg.APIPrefix = v.GetString("API_PREFIX")

	cfg.Database = DatabaseConfig{
		Host:             v.GetString("DB_HOST"),
		Port:             v.GetInt("DB_PORT"),
		User:             v.GetString("DB_USER"),
		Password:         v.GetString("DB_PASSWORD"),
		Name:             v.GetString("DB_NAME"),
		SSLMode:          v.GetString("DB_SSL_MODE"),
		MaxOpenConns:     v.GetInt("DB_MAX_OPEN_CONNS"),
		MaxIdleConns:     v.GetInt("DB_MAX_IDLE_CONNS"),
		AutoMigrate:      v.GetBool("DB_AUTO_MIGRATE"),
		StatementTimeout: parseDuration(v.GetString("DB_STATEMENT_TIMEOUT"), 0),
	}

	cfg.Redis = RedisConfig{
		Host:     v.GetString("REDIS_HOST"),
		Port:     v.GetInt("REDIS_PORT"),
		Password: v.GetString("REDIS_PASSWORD"),
		DB:       v.GetInt("REDIS_DB"),
	}

	cfg.JWT = JWTConfig{
		Secret: v.GetString("JWT_SECRET"),
		Issuer: v.GetString("JWT_ISSUER"),
	}

	cfg.CORS = CORSConfig{AllowedOrigins: splitAndTrim(v.GetString("ALLOWED_ORIGINS"))}

	cfg.Log = LogConfig{
		Level:  v.GetString("LOG_LEVEL"),
		Format: v.GetString("LOG_FORMAT"),
	}

	cfg.Exports = ExportsConfig{
		StorageDir:      v.GetString("EXPORTS_STORAGE_DIR"),
		SignedURLSecret: v.GetString("EXPORTS_SIGNED_URL_SECRET"),
		SignedURLTTL:    parseDuration(v.GetString("EXPORTS_SIGNED_URL_TTL"), 24*time.Hour),
		SyncMaxRows:     v.GetInt("EXPORTS_SYNC_MAX_ROWS"),
		MaxPageSize:     v.GetInt("EXPORTS_MAX_PAGE_SIZE"),
		StatusCacheSize: v.GetInt("EXPORTS_STATUS_CACHE_SIZE"),
	}

	backend := strings.ToLower(v.GetString("JOBS_BACKEND"))
	if backend != JobsBackendAsynq {
		backend = JobsBackendMemory
	}
	cfg.Jobs = JobsConfig{
		Backend:       backend,
		Workers:       v.GetInt("JOBS_WORKERS"),
		Retries:       v.GetInt("JOBS_RETRIES"),
		RetryDelay:    parseDuration(v.GetString("JOBS_RETRY_DELAY"), 2*time.Second),
		Timeout:       parseDuration(v.GetString("JOBS_TIMEOUT"), 10*time.Minute),
		AsynqQueue:    v.GetString("JOBS_ASYNQ_QUEUE"),
		RecoverOnBoot: v.GetBool("JOBS_RECOVER_ON_BOOT"),
	}

	cfg.Filters = FiltersConfig{
		ExcludeSoftDeleted:   v.GetBool("FILTERS_EXCLUDE_SOFT_DELETED"),
		ExcludeArchived:      v.GetBool("FILTERS_EXCLUDE_ARCHIVED"),
		IncludeLockedPeriods: v.GetBool("FILTERS_INCLUDE_LOCKED_PERIODS"),
		IncludePosted:        v.GetBool("FILTERS_INCLUDE_POSTED"),
	}

	cfg.Audit = AuditConfig{
		Enabled: v.GetBool("AUDIT_ENABLED"),
		Persist: v.GetBool("AUDIT_PERSIST"),
		Async:   v.GetBool("AUDIT_ASYNC"),
	}

	cfg.Cache = CacheConfig{
		Enabled:  v.GetBool("CACHE_ENABLED"),
		CountTTL: parseDuration(v.GetString("CACHE_COUNT_TTL"), 30*time.Second),
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ENV", EnvDevelopment)
	v.SetDefault("PORT", 8080)
	v.SetDefault("API_PREFIX", "/api/v1")

	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", 5432)
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_PASSWORD", "postgres")
	v.SetDefault("DB_NAME", "estate_erp")
	v.SetDefault("DB_SSL_MODE", "disable")
	v.SetDefault("DB_MAX_OPEN_CONNS", 10)
	v.SetDefault("DB_MAX_IDLE_CONNS", 5)
	v.SetDefault("DB_AUTO_MIGRATE", false)
	v.SetDefault("DB_STATEMENT_TIMEOUT", "60s")

	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", 6379)
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)

	v.SetDefault("JWT_SECRET", "dev_secret")
	v.SetDefault("JWT_ISSUER", "")

	v.SetDefault("ALLOWED_ORIGINS", "")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")

	v.SetDefault("EXPORTS_STORAGE_DIR", "./exports")
	v.SetDefault("EXPORTS_SIGNED_URL_SECRET", "dev_exports_secret")
	v.SetDefault("EXPORTS_SIGNED_URL_TTL", "24h")
	v.SetDefault("EXPORTS_SYNC_MAX_ROWS", 10000)
	v.SetDefault("EXPORTS_MAX_PAGE_SIZE", 100)
	v.SetDefault("EXPORTS_STATUS_CACHE_SIZE", 1024)

	v.SetDefault("JOBS_BACKEND", JobsBackendMemory)
	v.SetDefault("JOBS_WORKERS", 2)
	v.SetDefault("JOBS_RETRIES", 3)
	v.SetDefault("JOBS_RETRY_DELAY", "2s")
	v.SetDefault("JOBS_TIMEOUT", "10m")
	v.SetDefault("JOBS_ASYNQ_QUEUE", "exports")
	v.SetDefault("JOBS_RECOVER_ON_BOOT", true)

	v.SetDefault("FILTERS_EXCLUDE_SOFT_DELETED", true)
	v.SetDefault("FILTERS_EXCLUDE_ARCHIVED", true)
	v.SetDefault("FILTERS_INCLUDE_LOCKED_PERIODS", true)
	v.SetDefault("FILTERS_INCLUDE_POSTED", true)

	v.SetDefault("AUDIT_ENABLED", true)
	v.SetDefault("AUDIT_PERSIST", true)
	v.SetDefault("AUDIT_ASYNC", true)

	v.SetDefault("CACHE_ENABLED", false)
	v.SetDefault("CACHE_COUNT_TTL", "30s")
}

func parseDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}

	d, err := time.ParseDuration(raw)
	if err != nil {
		return fallback
	}

	return d
}

func splitAndTrim(raw string) []string {
	if raw == "" {
		return nil
	}

	parts := strings.Split(raw, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}

	return result
}
