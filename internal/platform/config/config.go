package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
	BackendSQLite   = "sqlite"
)

type Config struct {
	Addr               string
	Environment        string
	StoreBackend       string
	DatabaseURL        string
	SQLitePath         string
	MigrationsDir      string
	RunMigrations      bool
	RunSeed            bool
	SeedFile           string
	SeedHRID           string
	SeedHRPassword     string
	JWTSecret          string
	TokenTTL           time.Duration
	DataEncryptionKey  string
	FrontendDir        string
	MaxBodyBytes       int64
	RateLimitPerMinute int
	CORSAllowedOrigins []string
	MetricsEnabled     bool
	LogLevel           string
}

// LoadDotEnv reads .env files into the environment. Missing files are not an
// error; variables already set win.
func LoadDotEnv(paths ...string) {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, path := range paths {
		if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			slog.Warn("could not load env file", "path", path, "err", err)
		}
	}
}

func Load() Config {
	return Config{
		Addr:               getEnv("APP_ADDR", ":8080"),
		Environment:        getEnv("APP_ENV", "development"),
		StoreBackend:       strings.ToLower(getEnv("STORE_BACKEND", BackendMemory)),
		DatabaseURL:        getEnv("DATABASE_URL", ""),
		SQLitePath:         getEnv("SQLITE_PATH", "evaltrack.db"),
		MigrationsDir:      getEnv("MIGRATIONS_DIR", "migrations"),
		RunMigrations:      getEnvBool("RUN_MIGRATIONS", true),
		RunSeed:            getEnvBool("RUN_SEED", true),
		SeedFile:           getEnv("SEED_FILE", ""),
		SeedHRID:           getEnv("SEED_HR_ID", "hr"),
		SeedHRPassword:     getEnv("SEED_HR_PASSWORD", ""),
		JWTSecret:          getEnv("JWT_SECRET", ""),
		TokenTTL:           getEnvDuration("TOKEN_TTL", 8*time.Hour),
		DataEncryptionKey:  getEnv("DATA_ENCRYPTION_KEY", ""),
		FrontendDir:        getEnv("FRONTEND_DIR", "frontend/dist"),
		MaxBodyBytes:       int64(getEnvInt("MAX_BODY_BYTES", 1048576)),
		RateLimitPerMinute: getEnvInt("RATE_LIMIT_PER_MINUTE", 60),
		CORSAllowedOrigins: getEnvList("CORS_ALLOWED_ORIGINS", nil),
		MetricsEnabled:     getEnvBool("METRICS_ENABLED", true),
		LogLevel:           strings.ToLower(getEnv("LOG_LEVEL", "info")),
	}
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvInt(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvList(key string, fallback []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// SlogLevel maps LOG_LEVEL to a slog level; unknown values mean info.
func (c Config) SlogLevel() slog.Level {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}

func (c Config) Validate() error {
	switch c.StoreBackend {
	case BackendMemory:
	case BackendPostgres:
		if strings.TrimSpace(c.DatabaseURL) == "" {
			return fmt.Errorf("DATABASE_URL is required when STORE_BACKEND is postgres")
		}
	case BackendSQLite:
		if strings.TrimSpace(c.SQLitePath) == "" {
			return fmt.Errorf("SQLITE_PATH is required when STORE_BACKEND is sqlite")
		}
	default:
		return fmt.Errorf("STORE_BACKEND must be one of memory, postgres, sqlite (got %q)", c.StoreBackend)
	}
	if c.Environment == "production" {
		if strings.TrimSpace(c.JWTSecret) == "" {
			return fmt.Errorf("JWT_SECRET must be set to a strong value in production")
		}
		if strings.TrimSpace(c.DataEncryptionKey) == "" {
			return fmt.Errorf("DATA_ENCRYPTION_KEY must be set in production for encryption at rest")
		}
		if c.StoreBackend == BackendMemory {
			return fmt.Errorf("STORE_BACKEND memory loses data on restart and is not allowed in production")
		}
		if c.RunSeed && strings.TrimSpace(c.SeedHRPassword) == "" {
			return fmt.Errorf("SEED_HR_PASSWORD must be set or RUN_SEED disabled in production")
		}
	}
	if c.TokenTTL <= 0 {
		return fmt.Errorf("TOKEN_TTL must be positive")
	}
	if c.MaxBodyBytes < 1024 {
		return fmt.Errorf("MAX_BODY_BYTES must be at least 1024")
	}
	if c.RateLimitPerMinute <= 0 {
		return fmt.Errorf("RATE_LIMIT_PER_MINUTE must be positive")
	}
	return nil
}
