package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the application
// ⭐ SSOT: 모든 환경변수는 여기서만 읽음
type Config struct {
	// Server
	Port string
	Env  string // development, staging, production

	// Database (engine output persistence)
	Database       DatabaseConfig
	PersistEnabled bool

	// Redis (last-known-good mirror)
	Redis RedisConfig

	// Engine orchestration
	Engine EngineConfig

	// Snapshot provider
	Snapshot SnapshotConfig

	// API
	API APIConfig

	// Logging
	LogLevel  string
	LogFormat string

	// Monitoring (/metrics on the API port)
	MetricsEnabled bool
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Host     string
	Port     string
	Password string
	DB       int
	Enabled  bool
}

// DatabaseConfig holds PostgreSQL configuration
type DatabaseConfig struct {
	URL string

	// Connection Pool
	MaxConns        int
	MinConns        int
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
}

// EngineConfig holds scheduler and cache settings for the engine core
type EngineConfig struct {
	ManifestPath       string        // YAML engine manifest, empty = built-in defaults
	RefreshSchedule    string        // cron spec for ExecuteAll
	CacheSweepSchedule string        // cron spec for cache sweeping
	CacheTTL           time.Duration // TTL for last-known-good outputs
	JobRetries         int
	JobRetryDelay      time.Duration
	OutputRetention    time.Duration // 저장된 엔진 출력 보존 기간
}

// SnapshotConfig selects the indicator snapshot provider
type SnapshotConfig struct {
	Source      string // fixture, file, http
	Path        string
	URL         string
	FixtureSeed int64
}

// APIConfig holds HTTP API tuning
type APIConfig struct {
	RunRate  float64 // manual run triggers per second
	RunBurst int
}

// Load reads configuration from environment variables
// ⭐ SSOT: 이 함수만 os.Getenv()를 호출함
func Load() (*Config, error) {
	return LoadFile("")
}

// LoadFile is Load with an explicit env file. An empty path searches the
// default locations.
func LoadFile(envFile string) (*Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil {
			return nil, fmt.Errorf("load env file %s: %w", envFile, err)
		}
	} else {
		loadEnvFile()
	}

	cfg := &Config{
		// Server
		Port: getEnv("PORT", "8080"),
		Env:  getEnv("ENV", "development"),

		// Database
		Database: DatabaseConfig{
			URL:             getEnv("DATABASE_URL", ""),
			MaxConns:        getEnvAsInt("DB_MAX_CONNS", 10),
			MinConns:        getEnvAsInt("DB_MIN_CONNS", 2),
			MaxConnLifetime: getEnvAsDuration("DB_MAX_CONN_LIFETIME", "1h"),
			MaxConnIdleTime: getEnvAsDuration("DB_MAX_CONN_IDLE_TIME", "30m"),
		},
		PersistEnabled: getEnvAsBool("PERSIST_ENABLED", false),

		// Redis
		Redis: RedisConfig{
			Host:     getEnv("REDIS_HOST", "localhost"),
			Port:     getEnv("REDIS_PORT", "6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
			Enabled:  getEnvAsBool("REDIS_ENABLED", false),
		},

		// Engine
		Engine: EngineConfig{
			ManifestPath:       getEnv("ENGINE_CONFIG", ""),
			RefreshSchedule:    getEnv("REFRESH_SCHEDULE", "@every 5m"),
			CacheSweepSchedule: getEnv("CACHE_SWEEP_SCHEDULE", "0 */10 * * * *"),
			CacheTTL:           getEnvAsDuration("CACHE_TTL", "1h"),
			JobRetries:         getEnvAsInt("JOB_RETRIES", 2),
			JobRetryDelay:      getEnvAsDuration("JOB_RETRY_DELAY", "10s"),
			OutputRetention:    getEnvAsDuration("OUTPUT_RETENTION", "720h"),
		},

		// Snapshot
		Snapshot: SnapshotConfig{
			Source:      getEnv("SNAPSHOT_SOURCE", "fixture"),
			Path:        getEnv("SNAPSHOT_PATH", ""),
			URL:         getEnv("SNAPSHOT_URL", ""),
			FixtureSeed: int64(getEnvAsInt("FIXTURE_SEED", 42)),
		},

		// API
		API: APIConfig{
			RunRate:  getEnvAsFloat("API_RUN_RATE", 0.5),
			RunBurst: getEnvAsInt("API_RUN_BURST", 2),
		},

		// Logging
		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "json"),

		// Monitoring
		MetricsEnabled: getEnvAsBool("METRICS_ENABLED", true),
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// validate checks if required configuration values are set
func (c *Config) validate() error {
	if c.Env != "development" && c.Env != "staging" && c.Env != "production" {
		return fmt.Errorf("ENV must be one of: development, staging, production")
	}

	// Persistence needs a database
	if c.PersistEnabled && c.Database.URL == "" {
		return fmt.Errorf("DATABASE_URL is required when PERSIST_ENABLED=true")
	}

	switch c.Snapshot.Source {
	case "fixture":
	case "file":
		if c.Snapshot.Path == "" {
			return fmt.Errorf("SNAPSHOT_PATH is required for SNAPSHOT_SOURCE=file")
		}
	case "http":
		if c.Snapshot.URL == "" {
			return fmt.Errorf("SNAPSHOT_URL is required for SNAPSHOT_SOURCE=http")
		}
	default:
		return fmt.Errorf("SNAPSHOT_SOURCE must be one of: fixture, file, http")
	}

	if c.Engine.CacheTTL <= 0 {
		return fmt.Errorf("CACHE_TTL must be positive")
	}

	if c.Engine.OutputRetention <= 0 {
		return fmt.Errorf("OUTPUT_RETENTION must be positive")
	}

	return nil
}

// Helper functions (private, only used within this file)

// loadEnvFile tries to load .env from multiple locations
func loadEnvFile() {
	paths := []string{
		".env",
	}

	// Also try relative to executable
	if exe, err := os.Executable(); err == nil {
		exeDir := filepath.Dir(exe)
		paths = append(paths,
			filepath.Join(exeDir, ".env"),
			filepath.Join(exeDir, "..", ".env"),
		)
	}

	for _, path := range paths {
		if _, err := os.Stat(path); err == nil {
			_ = godotenv.Load(path)
			return
		}
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}

	return value
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}

	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}

	return value
}

func getEnvAsDuration(key string, defaultValue string) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		valueStr = defaultValue
	}

	duration, err := time.ParseDuration(valueStr)
	if err != nil {
		// Fallback to default
		duration, _ = time.ParseDuration(defaultValue)
	}

	return duration
}
