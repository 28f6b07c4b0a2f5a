package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	NodeEnv   string
	Port      string
	JWTSecret string
	LogLevel  string
	LogFormat string
	Database  DatabaseConfig
	Redis     RedisConfig
	Station   StationConfig
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Host     string
	Port     string
	Username string
	Password string
	Database string
	Alter    bool
	// EmbeddedPort and EmbeddedDir are used only when Embedded() is true.
	EmbeddedPort int
	EmbeddedDir  string
}

// Embedded reports whether Connect should start the bundled PostgreSQL.
func (c DatabaseConfig) Embedded() bool {
	return c.Host == "localhost" && c.Password == ""
}

// RedisConfig holds the optional Redis connection used for room fan-out
// across API instances. An empty Addr disables it.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// Enabled reports whether a Redis address is configured.
func (c RedisConfig) Enabled() bool {
	return c.Addr != ""
}

// StationConfig holds settings for a scanning station (cmd/counter).
type StationConfig struct {
	APIURL          string
	WSURL           string
	Token           string
	Office          string
	Operator        string
	FramesDir       string
	FPS             float64
	FeedbackWindow  time.Duration
	DuplicateWindow time.Duration
	PageSize        int
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	redisDB, err := strconv.Atoi(getEnv("REDIS_DB", "0"))
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_DB: %w", err)
	}
	fps, err := strconv.ParseFloat(getEnv("SCAN_FPS", "10"), 64)
	if err != nil || fps <= 0 {
		return nil, fmt.Errorf("invalid SCAN_FPS %q", os.Getenv("SCAN_FPS"))
	}
	feedback, err := getMillis("SCAN_FEEDBACK_MS", 1500)
	if err != nil {
		return nil, err
	}
	duplicate, err := getMillis("SCAN_DUPLICATE_MS", 3000)
	if err != nil {
		return nil, err
	}
	embeddedPort, err := strconv.Atoi(getEnv("PG_EMBEDDED_PORT", "5433"))
	if err != nil || embeddedPort <= 0 || embeddedPort > 65535 {
		return nil, fmt.Errorf("invalid PG_EMBEDDED_PORT %q", os.Getenv("PG_EMBEDDED_PORT"))
	}
	pageSize, err := strconv.Atoi(getEnv("PAGE_SIZE", "50"))
	if err != nil || pageSize <= 0 {
		return nil, fmt.Errorf("invalid PAGE_SIZE %q", os.Getenv("PAGE_SIZE"))
	}

	return &Config{
		NodeEnv:   getEnv("NODE_ENV", "development"),
		Port:      getEnv("PORT", "3210"),
		JWTSecret: os.Getenv("JWT_SECRET"),
		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "text"),
		Database: DatabaseConfig{
			Host:     getEnv("PG_HOST", "localhost"),
			Port:     getEnv("PG_PORT", "5432"),
			Username: getEnv("PG_USERNAME", "postgres"),
			Password: os.Getenv("PG_PASSWORD"),
			Database: getEnv("PG_DATABASE", "propcount"),
			Alter:    getEnv("DB_ALTER", "false") == "true",

			EmbeddedPort: embeddedPort,
			EmbeddedDir:  getEnv("PG_EMBEDDED_DIR", "./db_data"),
		},
		Redis: RedisConfig{
			Addr:     os.Getenv("REDIS_ADDR"),
			Password: os.Getenv("REDIS_PASSWORD"),
			DB:       redisDB,
		},
		Station: StationConfig{
			APIURL:          getEnv("API_URL", "http://localhost:3210/api"),
			WSURL:           getEnv("WS_URL", "ws://localhost:3210/ws"),
			Token:           os.Getenv("API_TOKEN"),
			Office:          os.Getenv("OFFICE"),
			Operator:        getEnv("OPERATOR", "station"),
			FramesDir:       getEnv("FRAMES_DIR", "./frames"),
			FPS:             fps,
			FeedbackWindow:  feedback,
			DuplicateWindow: duplicate,
			PageSize:        pageSize,
		},
	}, nil
}

// LoadServer loads configuration and checks the keys the API server cannot run without.
func LoadServer() (*Config, error) {
	cfg, err := Load()
	if err != nil {
		return nil, err
	}
	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}
	return cfg, nil
}

// getEnv gets environment variable with default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getMillis(key string, def int) (time.Duration, error) {
	n, err := strconv.Atoi(getEnv(key, strconv.Itoa(def)))
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid %s %q", key, os.Getenv(key))
	}
	return time.Duration(n) * time.Millisecond, nil
}
