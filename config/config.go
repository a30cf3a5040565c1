package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration loaded from environment.
type Config struct {
	Server       ServerConfig
	Database     DatabaseConfig
	Redis        RedisConfig
	JWT          JWTConfig
	WebRTC       WebRTCConfig
	AWS          AWSConfig
	Live         LiveConfig
	Monetization MonetizationConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port               string
	PublicURL          string // base for signaling URLs handed to hosts, e.g. wss://live.example.com
	ReadTimeout        int
	WriteTimeout       int
	CORSAllowedOrigins string // comma-separated, or "*" for all
}

// DatabaseConfig holds PostgreSQL connection settings.
type DatabaseConfig struct {
	URL      string // if set, used as-is (e.g. postgres://localhost:5432/live?sslmode=disable)
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
}

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// JWTConfig holds JWT signing and validation settings.
type JWTConfig struct {
	Secret      string
	ExpireHours int
}

// WebRTCConfig holds STUN/TURN ICE server URLs handed to peers.
type WebRTCConfig struct {
	ICEUrls []string // comma-separated in env
}

// AWSConfig holds AWS credentials and the transcripts bucket.
type AWSConfig struct {
	Region               string
	AccessKeyID          string
	SecretAccessKey      string
	TranscriptsBucket    string
	PresignExpireMinutes int
}

// LiveConfig tunes the real-time coordination core.
type LiveConfig struct {
	GracePeriod         time.Duration
	ViewerCountInterval time.Duration
	ChatMaxLength       int
	ChatRatePerSecond   float64
	ChatBurst           int
	TypingInterval      time.Duration
	ReactionWindow      time.Duration
	SendBuffer          int
	PersistWorkers      int
	UniqueViewerCap     int
	AllowedCurrencies   []string
	IdentityTimeout     time.Duration
	StoreTimeout        time.Duration
	SinkTimeout         time.Duration
}

// MonetizationConfig points at the external monetization sink. Empty URL accepts every donation.
type MonetizationConfig struct {
	WebhookURL    string
	WebhookSecret string
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
		Server: ServerConfig{
			Port:               getEnv("PORT", "8080"),
			PublicURL:          strings.TrimRight(getEnv("PUBLIC_WS_URL", "ws://localhost:8080"), "/"),
			ReadTimeout:        getEnvInt("READ_TIMEOUT_SEC", 30),
			WriteTimeout:       getEnvInt("WRITE_TIMEOUT_SEC", 30),
			CORSAllowedOrigins: getEnv("CORS_ALLOWED_ORIGINS", "http://localhost:3000"),
		},
		Database: DatabaseConfig{
			URL:      getEnv("DATABASE_URL", ""),
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", "postgres"),
			DBName:   getEnv("DB_NAME", "live"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
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
		WebRTC: WebRTCConfig{
			ICEUrls: splitTrim(getEnv("WEBRTC_ICE_URLS", "stun:stun.l.google.com:19302"), ","),
		},
		AWS: AWSConfig{
			Region:               getEnv("AWS_REGION", ""),
			AccessKeyID:          getEnv("AWS_ACCESS_KEY_ID", ""),
			SecretAccessKey:      getEnv("AWS_SECRET_ACCESS_KEY", ""),
			TranscriptsBucket:    getEnv("AWS_S3_TRANSCRIPTS_BUCKET", "live-chat-transcripts"),
			PresignExpireMinutes: getEnvInt("AWS_PRESIGN_EXPIRE_MINUTES", 15),
		},
		Live: LiveConfig{
			GracePeriod:         getEnvDuration("LIVE_HOST_GRACE_PERIOD", 60*time.Second),
			ViewerCountInterval: getEnvDuration("LIVE_VIEWER_COUNT_INTERVAL", 500*time.Millisecond),
			ChatMaxLength:       getEnvInt("LIVE_CHAT_MAX_LENGTH", 500),
			ChatRatePerSecond:   getEnvFloat("LIVE_CHAT_RATE_PER_SEC", 5),
			ChatBurst:           getEnvInt("LIVE_CHAT_BURST", 10),
			TypingInterval:      getEnvDuration("LIVE_TYPING_INTERVAL", 2*time.Second),
			ReactionWindow:      getEnvDuration("LIVE_REACTION_WINDOW", 10*time.Second),
			SendBuffer:          getEnvInt("LIVE_SEND_BUFFER", 256),
			PersistWorkers:      getEnvInt("LIVE_PERSIST_WORKERS", 4),
			UniqueViewerCap:     getEnvInt("LIVE_UNIQUE_VIEWER_CAP", 10000),
			AllowedCurrencies:   splitTrim(strings.ToUpper(getEnv("LIVE_ALLOWED_CURRENCIES", "USD,EUR,GBP,INR,JPY")), ","),
			IdentityTimeout:     getEnvDuration("LIVE_IDENTITY_TIMEOUT", 5*time.Second),
			StoreTimeout:        getEnvDuration("LIVE_STORE_TIMEOUT", 10*time.Second),
			SinkTimeout:         getEnvDuration("LIVE_SINK_TIMEOUT", 20*time.Second),
		},
		Monetization: MonetizationConfig{
			WebhookURL:    getEnv("MONETIZATION_WEBHOOK_URL", ""),
			WebhookSecret: getEnv("MONETIZATION_WEBHOOK_SECRET", ""),
		},
	}
	if cfg.Live.GracePeriod < 0 {
		return nil, fmt.Errorf("LIVE_HOST_GRACE_PERIOD must not be negative")
	}
	if cfg.Live.ChatMaxLength <= 0 {
		return nil, fmt.Errorf("LIVE_CHAT_MAX_LENGTH must be positive")
	}
	if cfg.Live.SendBuffer <= 0 {
		return nil, fmt.Errorf("LIVE_SEND_BUFFER must be positive")
	}
	if len(cfg.Live.AllowedCurrencies) == 0 {
		return nil, fmt.Errorf("LIVE_ALLOWED_CURRENCIES must list at least one currency")
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

// getEnvDuration accepts Go duration strings ("90s", "1m") or a bare number of seconds.
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if n, err := strconv.Atoi(v); err == nil {
		return time.Duration(n) * time.Second
	}
	return fallback
}

func splitTrim(s, sep string) []string {
	if s == "" {
		return nil
	}
	var out []string
	for _, v := range strings.Split(s, sep) {
		if t := strings.TrimSpace(v); t != "" {
			out = append(out, t)
		}
	}
	return out
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
