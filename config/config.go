package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	"github.com/watchparty/backend/internal/party"
)

// Config holds application configuration loaded from environment.
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	JWT      JWTConfig
	Emby     EmbyConfig
	Webhook  WebhookConfig
	Party    PartyConfig
	Bridge   BridgeConfig
	AWS      AWSConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port               string
	ReadTimeout        int
	WriteTimeout       int
	CORSAllowedOrigins string // comma-separated, or "*" for all
}

// DatabaseConfig holds PostgreSQL connection settings.
type DatabaseConfig struct {
	URL      string // if set, used as-is (e.g. postgres://localhost:5432/watchparty?sslmode=disable)
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
	Addr     string
	Password string
	DB       int
}

// JWTConfig holds session token signing settings.
type JWTConfig struct {
	Secret      string
	ExpireHours int
}

// EmbyConfig holds the media server connection.
type EmbyConfig struct {
	URL        string
	APIKey     string
	TimeoutSec int
	RatePerSec float64
	RateBurst  int
}

// WebhookConfig holds the shared secret for playback webhooks.
type WebhookConfig struct {
	Secret string
}

// PartyConfig holds the sync protocol timings.
type PartyConfig struct {
	HeartbeatSec       int
	HostClearMs        int
	MaxPlayDelayMs     int
	SendTimeoutSec     int
	AttendeeActionWait int
	ChatPerSec         float64
	ChatBurst          int
	ChatMaxLength      int
	TranscriptLimit    int
}

// BridgeConfig controls the Redis chat bridge for external applications.
type BridgeConfig struct {
	Enabled       bool
	ChannelPrefix string
}

// AWSConfig holds AWS credentials and the archive bucket.
type AWSConfig struct {
	Region               string
	AccessKeyID          string
	SecretAccessKey      string
	ArchiveBucket        string
	PresignExpireMinutes int
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

// Timeout returns the media server request timeout.
func (c EmbyConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSec) * time.Second
}

// Policy converts the environment settings to protocol timings. Unset values
// fall back to party.DefaultPolicy.
func (c PartyConfig) Policy() party.Policy {
	p := party.DefaultPolicy()
	if c.HeartbeatSec > 0 {
		p.HeartbeatInterval = time.Duration(c.HeartbeatSec) * time.Second
	}
	if c.HostClearMs > 0 {
		p.HostClearGrace = time.Duration(c.HostClearMs) * time.Millisecond
	}
	if c.MaxPlayDelayMs > 0 {
		p.MaxPlayDelay = time.Duration(c.MaxPlayDelayMs) * time.Millisecond
	}
	if c.SendTimeoutSec > 0 {
		p.SendTimeout = time.Duration(c.SendTimeoutSec) * time.Second
	}
	if c.AttendeeActionWait >= 0 {
		p.AttendeeActionMinWait = time.Duration(c.AttendeeActionWait) * time.Second
	}
	if c.ChatPerSec > 0 {
		p.ChatPerSecond = c.ChatPerSec
	}
	if c.ChatBurst > 0 {
		p.ChatBurst = c.ChatBurst
	}
	if c.ChatMaxLength > 0 {
		p.ChatMaxLength = c.ChatMaxLength
	}
	if c.TranscriptLimit > 0 {
		p.TranscriptLimit = c.TranscriptLimit
	}
	return p
}

// Load reads configuration from environment, with optional .env file.
func Load() (*Config, error) {
	_ = godotenv.Load()      // .env
	_ = godotenv.Load("env") // env (no leading dot)

	cfg := &Config{
		Server: ServerConfig{
			Port:               getEnv("PORT", "8080"),
			ReadTimeout:        getEnvInt("READ_TIMEOUT_SEC", 30),
			WriteTimeout:       getEnvInt("WRITE_TIMEOUT_SEC", 30),
			CORSAllowedOrigins: getEnv("CORS_ALLOWED_ORIGINS", "*"),
		},
		Database: DatabaseConfig{
			URL:      getEnv("DATABASE_URL", ""),
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", "postgres"),
			DBName:   getEnv("DB_NAME", "watchparty"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
			MaxConns: getEnvInt("DB_MAX_CONNS", 0),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
		},
		JWT: JWTConfig{
			Secret:      getEnv("JWT_SECRET", "change-me-in-production"),
			ExpireHours: getEnvInt("JWT_EXPIRE_HOURS", 24),
		},
		Emby: EmbyConfig{
			URL:        getEnv("EMBY_URL", "http://localhost:8096"),
			APIKey:     getEnv("EMBY_API_KEY", ""),
			TimeoutSec: getEnvInt("EMBY_TIMEOUT_SEC", 10),
			RatePerSec: getEnvFloat("EMBY_RATE_PER_SEC", 20),
			RateBurst:  getEnvInt("EMBY_RATE_BURST", 40),
		},
		Webhook: WebhookConfig{
			Secret: getEnv("WEBHOOK_SECRET", ""),
		},
		Party: PartyConfig{
			HeartbeatSec:       getEnvInt("PARTY_HEARTBEAT_SEC", 29),
			HostClearMs:        getEnvInt("PARTY_HOST_CLEAR_MS", 7000),
			MaxPlayDelayMs:     getEnvInt("PARTY_MAX_PLAY_DELAY_MS", 10000),
			SendTimeoutSec:     getEnvInt("PARTY_SEND_TIMEOUT_SEC", 10),
			AttendeeActionWait: getEnvInt("PARTY_ATTENDEE_ACTION_WAIT_SEC", 20),
			ChatPerSec:         getEnvFloat("PARTY_CHAT_PER_SEC", 2),
			ChatBurst:          getEnvInt("PARTY_CHAT_BURST", 5),
			ChatMaxLength:      getEnvInt("PARTY_CHAT_MAX_LENGTH", 512),
			TranscriptLimit:    getEnvInt("PARTY_TRANSCRIPT_LIMIT", 500),
		},
		Bridge: BridgeConfig{
			Enabled:       getEnvBool("BRIDGE_ENABLED", true),
			ChannelPrefix: getEnv("BRIDGE_CHANNEL_PREFIX", "watchparty:"),
		},
		AWS: AWSConfig{
			Region:               getEnv("AWS_REGION", "us-east-1"),
			AccessKeyID:          getEnv("AWS_ACCESS_KEY_ID", ""),
			SecretAccessKey:      getEnv("AWS_SECRET_ACCESS_KEY", ""),
			ArchiveBucket:        getEnv("AWS_S3_ARCHIVE_BUCKET", "watchparty-archives"),
			PresignExpireMinutes: getEnvInt("AWS_PRESIGN_EXPIRE_MINUTES", 15),
		},
	}
	if cfg.Emby.APIKey == "" {
		return nil, fmt.Errorf("EMBY_API_KEY is required")
	}
	return cfg, nil
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
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
