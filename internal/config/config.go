package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the matchdesk server and CLI.
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Backend   BackendConfig
	Session   SessionConfig
	Retry     RetryConfig
	Jobs      JobsConfig
	Loader    LoaderConfig
	Analysis  AnalysisConfig
	Scheduler SchedulerConfig
	Telegram  TelegramConfig
}

type ServerConfig struct {
	Port               int
	Env                string
	LogLevel           string
	RateLimitPerMinute int
}

type DatabaseConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

type RedisConfig struct {
	URL string
}

type BackendConfig struct {
	BaseURL string
	Timeout time.Duration
}

type SessionConfig struct {
	TTL  time.Duration
	File string
}

type RetryConfig struct {
	MaxAttempts int
	BaseDelay   time.Duration
	Growth      float64
	MaxDelay    time.Duration
}

type JobsConfig struct {
	PollInterval time.Duration
	Timeout      time.Duration
}

type LoaderConfig struct {
	PollInterval  time.Duration
	MaxChecks     int
	SafetyTimeout time.Duration
	StaleAfter    time.Duration
	WaitInterval  time.Duration
	Stream        bool
}

type AnalysisConfig struct {
	Timeout time.Duration
}

type SchedulerConfig struct {
	Enabled      bool
	Cron         string
	TZ           string
	ServiceToken string
}

type TelegramConfig struct {
	BotToken string
	ChatID   int64
}

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Load reads the server configuration from environment variables, after
// loading a .env file if one is present, and returns a validated Config.
func Load() (*Config, error) {
	cfg := load()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if cfg.Database.URL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	if cfg.Redis.URL == "" {
		return nil, fmt.Errorf("REDIS_URL is required")
	}
	return cfg, nil
}

// LoadClient is Load for the command line client, which needs neither a
// database nor Redis.
func LoadClient() (*Config, error) {
	cfg := load()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func load() *Config {
	// A missing .env file is the normal case outside development.
	_ = godotenv.Load()

	return &Config{
		Server: ServerConfig{
			Port:               envInt("MATCHDESK_PORT", 8080),
			Env:                envString("MATCHDESK_ENV", "development"),
			LogLevel:           strings.ToLower(envString("LOG_LEVEL", "info")),
			RateLimitPerMinute: envInt("RATE_LIMIT_PER_MINUTE", 60),
		},
		Database: DatabaseConfig{
			URL:             os.Getenv("DATABASE_URL"),
			MaxOpenConns:    envInt("DATABASE_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    envInt("DATABASE_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: envDuration("DATABASE_CONN_MAX_LIFETIME", 5*time.Minute),
		},
		Redis: RedisConfig{
			URL: os.Getenv("REDIS_URL"),
		},
		Backend: BackendConfig{
			BaseURL: strings.TrimRight(os.Getenv("BACKEND_BASE_URL"), "/"),
			Timeout: envDuration("BACKEND_TIMEOUT", 30*time.Second),
		},
		Session: SessionConfig{
			TTL:  envDuration("SESSION_TTL", 720*time.Hour),
			File: envString("SESSION_FILE", defaultSessionFile()),
		},
		Retry: RetryConfig{
			MaxAttempts: envInt("RETRY_MAX_ATTEMPTS", 6),
			BaseDelay:   envDuration("RETRY_BASE_DELAY", time.Second),
			Growth:      envFloat("RETRY_GROWTH", 1.6),
			MaxDelay:    envDuration("RETRY_MAX_DELAY", 5*time.Second),
		},
		Jobs: JobsConfig{
			PollInterval: envDuration("JOB_POLL_INTERVAL", 3*time.Second),
			Timeout:      envDuration("JOB_TIMEOUT", 5*time.Minute),
		},
		Loader: LoaderConfig{
			PollInterval:  envDuration("LOADER_POLL_INTERVAL", 100*time.Millisecond),
			MaxChecks:     envInt("LOADER_MAX_CHECKS", 100),
			SafetyTimeout: envDuration("LOADER_SAFETY_TIMEOUT", 30*time.Second),
			StaleAfter:    envDuration("LOADER_STALE_AFTER", 5*time.Minute),
			WaitInterval:  envDuration("LOADER_WAIT_INTERVAL", 2*time.Second),
			Stream:        envBool("LOADER_STREAM", true),
		},
		Analysis: AnalysisConfig{
			Timeout: envDuration("ANALYZE_TIMEOUT", 2*time.Minute),
		},
		Scheduler: SchedulerConfig{
			Enabled:      envBool("SCHEDULER_ENABLED", false),
			Cron:         envString("SCHEDULER_CRON", "0 1 0 * * *"),
			TZ:           envString("SCHEDULER_TZ", "Local"),
			ServiceToken: os.Getenv("SERVICE_SESSION_TOKEN"),
		},
		Telegram: TelegramConfig{
			BotToken: os.Getenv("TELEGRAM_BOT_TOKEN"),
			ChatID:   envInt64("TELEGRAM_CHAT_ID", 0),
		},
	}
}

func (c *Config) validate() error {
	if c.Backend.BaseURL == "" {
		return fmt.Errorf("BACKEND_BASE_URL is required")
	}
	if !strings.HasPrefix(c.Backend.BaseURL, "http://") && !strings.HasPrefix(c.Backend.BaseURL, "https://") {
		return fmt.Errorf("BACKEND_BASE_URL must start with http:// or https://, got %q", c.Backend.BaseURL)
	}

	if !validLogLevels[c.Server.LogLevel] {
		return fmt.Errorf("LOG_LEVEL must be one of debug, info, warn, error; got %q", c.Server.LogLevel)
	}

	if c.Retry.MaxAttempts < 0 {
		return fmt.Errorf("RETRY_MAX_ATTEMPTS must not be negative, got %d", c.Retry.MaxAttempts)
	}
	if c.Retry.Growth < 1 {
		return fmt.Errorf("RETRY_GROWTH must be at least 1, got %v", c.Retry.Growth)
	}
	if c.Retry.BaseDelay <= 0 || c.Retry.MaxDelay < c.Retry.BaseDelay {
		return fmt.Errorf("RETRY_BASE_DELAY must be positive and not exceed RETRY_MAX_DELAY")
	}

	if c.Jobs.PollInterval <= 0 || c.Jobs.Timeout < c.Jobs.PollInterval {
		return fmt.Errorf("JOB_POLL_INTERVAL must be positive and not exceed JOB_TIMEOUT")
	}
	if c.Loader.PollInterval <= 0 || c.Loader.WaitInterval <= 0 {
		return fmt.Errorf("LOADER_POLL_INTERVAL and LOADER_WAIT_INTERVAL must be positive")
	}

	if _, err := time.LoadLocation(c.Scheduler.TZ); err != nil {
		return fmt.Errorf("SCHEDULER_TZ %q is not a known time zone: %w", c.Scheduler.TZ, err)
	}
	if c.Scheduler.Enabled && c.Scheduler.ServiceToken == "" {
		return fmt.Errorf("SERVICE_SESSION_TOKEN is required when SCHEDULER_ENABLED is true")
	}

	if c.Telegram.BotToken != "" && c.Telegram.ChatID == 0 {
		return fmt.Errorf("TELEGRAM_CHAT_ID is required when TELEGRAM_BOT_TOKEN is set")
	}

	return nil
}

// Location returns the scheduler's time zone. validate has already checked it.
func (c SchedulerConfig) Location() *time.Location {
	loc, err := time.LoadLocation(c.TZ)
	if err != nil {
		return time.Local
	}
	return loc
}

func defaultSessionFile() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "matchdesk-session.json"
	}
	return filepath.Join(home, ".config", "matchdesk", "session.json")
}

func envString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func envInt64(key string, defaultVal int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return defaultVal
	}
	return i
}

func envFloat(key string, defaultVal float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return defaultVal
	}
	return f
}

func envBool(key string, defaultVal bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return defaultVal
	}
	return b
}

func envDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}
