package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"

	"github.com/aura-hunt/backend/internal/adapters"
	"github.com/aura-hunt/backend/pkg/database"
	pkgredis "github.com/aura-hunt/backend/pkg/redis"
	"github.com/aura-hunt/backend/pkg/storage"
)

// Config holds application configuration loaded from environment.
type Config struct {
	Storage  StorageConfig
	Database DatabaseConfig
	Redis    RedisConfig
	AWS      AWSConfig
}

// StorageConfig selects the document backend.
type StorageConfig struct {
	Backend          string // blob, table, memory or redis
	AutoMigrate      bool
	StrictValidation bool
}

// DatabaseConfig holds PostgreSQL connection settings.
type DatabaseConfig struct {
	URL      string // if set, used as-is (e.g. postgres://localhost:5432/hunts?sslmode=disable)
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
	MaxConns int
}

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
}

// AWSConfig holds AWS credentials and the documents bucket.
type AWSConfig struct {
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	Endpoint        string // S3-compatible endpoint, e.g. http://localhost:9000
	UsePathStyle    bool
	DocumentsBucket string
	DocumentsPrefix string
}

// DSN returns the PostgreSQL connection string.
// If DatabaseConfig.URL is set (e.g. DATABASE_URL env), it is used as-is; otherwise built from components.
func (c DatabaseConfig) DSN() string {
	if c.URL != "" {
		return c.URL
	}
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.DBName, c.SSLMode,
	)
}

// Load reads configuration from environment, with optional .env file.
func Load() (*Config, error) {
	_ = godotenv.Load()      // .env
	_ = godotenv.Load("env") // env (no leading dot)

	cfg := &Config{
		Storage: StorageConfig{
			Backend:          strings.ToLower(getEnv("STORAGE_BACKEND", string(adapters.KindMemory))),
			AutoMigrate:      getEnvBool("STORAGE_AUTO_MIGRATE", true),
			StrictValidation: getEnvBool("STORAGE_STRICT_VALIDATION", false),
		},
		Database: DatabaseConfig{
			URL:      getEnv("DATABASE_URL", ""),
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", "postgres"),
			DBName:   getEnv("DB_NAME", "hunts"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
			MaxConns: getEnvInt("DB_MAX_CONNS", 0),
		},
		Redis: RedisConfig{
			Addr:      getEnv("REDIS_ADDR", "localhost:6379"),
			Password:  getEnv("REDIS_PASSWORD", ""),
			DB:        getEnvInt("REDIS_DB", 0),
			KeyPrefix: getEnv("REDIS_KEY_PREFIX", "hunts"),
		},
		AWS: AWSConfig{
			Region:          getEnv("AWS_REGION", "us-east-1"),
			AccessKeyID:     getEnv("AWS_ACCESS_KEY_ID", ""),
			SecretAccessKey: getEnv("AWS_SECRET_ACCESS_KEY", ""),
			Endpoint:        getEnv("AWS_S3_ENDPOINT", ""),
			UsePathStyle:    getEnvBool("AWS_S3_USE_PATH_STYLE", false),
			DocumentsBucket: getEnv("AWS_S3_DOCUMENTS_BUCKET", ""),
			DocumentsPrefix: getEnv("AWS_S3_DOCUMENTS_PREFIX", ""),
		},
	}
	switch adapters.Kind(cfg.Storage.Backend) {
	case adapters.KindBlob, adapters.KindTable, adapters.KindMemory, adapters.KindRedis:
	default:
		return nil, fmt.Errorf("STORAGE_BACKEND: unknown backend %q", cfg.Storage.Backend)
	}
	return cfg, nil
}

// Adapters returns the adapter registry configuration.
func (c *Config) Adapters() adapters.Config {
	return adapters.Config{
		Kind: adapters.Kind(c.Storage.Backend),
		S3: storage.S3Config{
			Region:          c.AWS.Region,
			AccessKeyID:     c.AWS.AccessKeyID,
			SecretAccessKey: c.AWS.SecretAccessKey,
			Endpoint:        c.AWS.Endpoint,
			UsePathStyle:    c.AWS.UsePathStyle,
			Bucket:          c.AWS.DocumentsBucket,
			Prefix:          c.AWS.DocumentsPrefix,
		},
		Postgres: database.PoolConfig{
			DSN:      c.Database.DSN(),
			MaxConns: int32(c.Database.MaxConns),
		},
		Redis: pkgredis.Config{
			Addr:      c.Redis.Addr,
			Password:  c.Redis.Password,
			DB:        c.Redis.DB,
			KeyPrefix: c.Redis.KeyPrefix,
		},
		AutoMigrate:      c.Storage.AutoMigrate,
		StrictValidation: c.Storage.StrictValidation,
	}
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
