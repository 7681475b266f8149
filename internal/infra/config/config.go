package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Storage drivers accepted by STORAGE_DRIVER.
const (
	DriverFile     = "file"
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
	DriverRedis    = "redis"
)

// AppConfig holds all configuration for the application
type AppConfig struct {
	TelegramToken   string
	AdminTelegramID int64
	APIID           int
	APIHash         string

	StorageDriver string
	StringsFile   string // file driver: {"strings": [...]}
	ActionLogFile string // file driver: JSON lines journal
	DatabaseURL   string
	SQLitePath    string
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	LogLevel    string
	Environment string

	SendDelay   time.Duration
	JoinDelay   time.Duration
	CallTimeout time.Duration

	CronSpecIdentityRefresh string
	MetricsAddr             string
}

// Load reads configuration from environment variables and .env file (if present).
func Load() (*AppConfig, error) {
	// godotenv.Load will not override existing env variables.
	_ = godotenv.Load()

	cfg := &AppConfig{}
	var err error

	cfg.TelegramToken = os.Getenv("TELEGRAM_TOKEN")
	if cfg.TelegramToken == "" {
		return nil, fmt.Errorf("TELEGRAM_TOKEN is not set")
	}

	adminIDStr := os.Getenv("ADMIN_TELEGRAM_ID")
	if adminIDStr == "" {
		return nil, fmt.Errorf("ADMIN_TELEGRAM_ID is not set")
	}
	cfg.AdminTelegramID, err = strconv.ParseInt(adminIDStr, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid ADMIN_TELEGRAM_ID: %w", err)
	}

	apiIDStr := os.Getenv("TELEGRAM_API_ID")
	if apiIDStr == "" {
		return nil, fmt.Errorf("TELEGRAM_API_ID is not set")
	}
	cfg.APIID, err = strconv.Atoi(apiIDStr)
	if err != nil {
		return nil, fmt.Errorf("invalid TELEGRAM_API_ID: %w", err)
	}

	cfg.APIHash = os.Getenv("TELEGRAM_API_HASH")
	if cfg.APIHash == "" {
		return nil, fmt.Errorf("TELEGRAM_API_HASH is not set")
	}

	if err := loadStorage(cfg); err != nil {
		return nil, err
	}

	cfg.LogLevel = strings.ToLower(os.Getenv("LOG_LEVEL"))
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info" // Default log level
	}

	cfg.Environment = strings.ToLower(os.Getenv("ENVIRONMENT"))
	if cfg.Environment == "" {
		cfg.Environment = "development" // Default environment
	}

	if cfg.SendDelay, err = durationEnv("SEND_DELAY", 5*time.Second); err != nil {
		return nil, err
	}
	if cfg.JoinDelay, err = durationEnv("JOIN_DELAY", 3*time.Second); err != nil {
		return nil, err
	}
	if cfg.CallTimeout, err = durationEnv("CALL_TIMEOUT", 60*time.Second); err != nil {
		return nil, err
	}

	cfg.CronSpecIdentityRefresh = os.Getenv("CRON_SPEC_IDENTITY_REFRESH")
	if cfg.CronSpecIdentityRefresh == "" {
		cfg.CronSpecIdentityRefresh = "*/30 * * * *" // Default: every 30 minutes
	}

	cfg.MetricsAddr = os.Getenv("METRICS_ADDR")

	return cfg, nil
}

func loadStorage(cfg *AppConfig) error {
	cfg.StorageDriver = strings.ToLower(os.Getenv("STORAGE_DRIVER"))
	if cfg.StorageDriver == "" {
		cfg.StorageDriver = DriverFile
	}

	switch cfg.StorageDriver {
	case DriverFile:
		cfg.StringsFile = envOr("STRINGS_FILE", "strings.json")
		cfg.ActionLogFile = envOr("ACTION_LOG_FILE", "actions.jsonl")
	case DriverPostgres:
		cfg.DatabaseURL = os.Getenv("DATABASE_URL")
		if cfg.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is not set")
		}
	case DriverSQLite:
		cfg.SQLitePath = envOr("SQLITE_PATH", "broadcaster.db")
	case DriverRedis:
		cfg.RedisAddr = envOr("REDIS_ADDR", "localhost:6379")
		cfg.RedisPassword = os.Getenv("REDIS_PASSWORD")
		if dbStr := os.Getenv("REDIS_DB"); dbStr != "" {
			db, err := strconv.Atoi(dbStr)
			if err != nil {
				return fmt.Errorf("invalid REDIS_DB: %w", err)
			}
			cfg.RedisDB = db
		}
	default:
		return fmt.Errorf("unknown STORAGE_DRIVER %q", cfg.StorageDriver)
	}
	return nil
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func durationEnv(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("invalid %s: must be positive", key)
	}
	return d, nil
}
