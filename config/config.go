// Package config loads coordinator settings from the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Store drivers.
const (
	StoreDriverPostgres = "postgres"
	StoreDriverMemory   = "memory"
)

// Config holds application configuration loaded from environment.
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Store    StoreConfig
	Redis    RedisConfig
	JWT      JWTConfig
	WebRTC   WebRTCConfig
	AWS      AWSConfig
	Session  SessionConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port               string
	ReadTimeout        int
	WriteTimeout       int
	CORSAllowedOrigins string // comma-separated, or "*"
}

// DatabaseConfig holds PostgreSQL connection settings.
type DatabaseConfig struct {
	URL      string // used as-is when set
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
	MaxConns int
}

// StoreConfig selects the document store behind the persistence gateway.
type StoreConfig struct {
	Driver string // postgres | memory
}

// RedisConfig holds Redis connection settings. An empty Addr disables cross-instance fan-out and archiving.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// Enabled reports whether a Redis address is configured.
func (c RedisConfig) Enabled() bool { return c.Addr != "" }

// JWTConfig holds token validation settings.
type JWTConfig struct {
	Secret      string
	ExpireHours int
}

// WebRTCConfig holds STUN/TURN ICE server URLs handed to endpoints.
type WebRTCConfig struct {
	ICEUrls        []string
	TURNUsername   string
	TURNCredential string
}

// AWSConfig holds AWS credentials and the history archive bucket.
type AWSConfig struct {
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	ArchiveBucket   string
}

// SessionConfig holds registry, relay and persistence tuning.
type SessionConfig struct {
	MaxParticipants int
	OfferTTL        time.Duration
	SweepInterval   time.Duration
	PersistTimeout  time.Duration
	ProfileCacheTTL time.Duration
	LeaseTTL        time.Duration // session ownership lease when several instances share Redis
	TombstoneTTL    time.Duration // how long an ended id is barred from rehydration
}

// DSN returns the PostgreSQL connection string.
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
	_ = godotenv.Load()
	_ = godotenv.Load("env")

	cfg := &Config{
		Server: ServerConfig{
			Port:               getEnv("PORT", "8080"),
			ReadTimeout:        getEnvInt("READ_TIMEOUT_SEC", 30),
			WriteTimeout:       getEnvInt("WRITE_TIMEOUT_SEC", 30),
			CORSAllowedOrigins: getEnv("CORS_ALLOWED_ORIGINS", "*"),
		},
		Database: DatabaseConfig{
			URL:      os.Getenv("DATABASE_URL"),
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", "postgres"),
			DBName:   getEnv("DB_NAME", "remote_sessions"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
			MaxConns: getEnvInt("DB_MAX_CONNS", 10),
		},
		Store: StoreConfig{
			Driver: strings.ToLower(getEnv("STORE_DRIVER", StoreDriverPostgres)),
		},
		Redis: RedisConfig{
			Addr:     os.Getenv("REDIS_ADDR"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
		},
		JWT: JWTConfig{
			Secret:      getEnv("JWT_SECRET", "change-me-in-production"),
			ExpireHours: getEnvInt("JWT_EXPIRE_HOURS", 24),
		},
		WebRTC: WebRTCConfig{
			ICEUrls:        splitTrim(getEnv("WEBRTC_ICE_URLS", "stun:stun.l.google.com:19302"), ","),
			TURNUsername:   getEnv("WEBRTC_TURN_USERNAME", ""),
			TURNCredential: getEnv("WEBRTC_TURN_CREDENTIAL", ""),
		},
		AWS: AWSConfig{
			Region:          getEnv("AWS_REGION", "us-east-1"),
			AccessKeyID:     getEnv("AWS_ACCESS_KEY_ID", ""),
			SecretAccessKey: getEnv("AWS_SECRET_ACCESS_KEY", ""),
			ArchiveBucket:   getEnv("AWS_S3_ARCHIVE_BUCKET", "remote-session-archive"),
		},
		Session: SessionConfig{
			MaxParticipants: getEnvInt("SESSION_MAX_PARTICIPANTS", 10),
			OfferTTL:        getEnvDuration("OFFER_TTL", 2*time.Minute),
			SweepInterval:   getEnvDuration("OFFER_SWEEP_INTERVAL", 30*time.Second),
			PersistTimeout:  getEnvDuration("PERSIST_TIMEOUT", 5*time.Second),
			ProfileCacheTTL: getEnvDuration("PROFILE_CACHE_TTL", 10*time.Minute),
			LeaseTTL:        getEnvDuration("SESSION_LEASE_TTL", 30*time.Second),
			TombstoneTTL:    getEnvDuration("SESSION_TOMBSTONE_TTL", 24*time.Hour),
		},
	}
	if cfg.Store.Driver != StoreDriverPostgres && cfg.Store.Driver != StoreDriverMemory {
		return nil, fmt.Errorf("unknown STORE_DRIVER %q", cfg.Store.Driver)
	}
	if cfg.Session.MaxParticipants < 1 {
		return nil, fmt.Errorf("SESSION_MAX_PARTICIPANTS must be positive, got %d", cfg.Session.MaxParticipants)
	}
	if cfg.Session.LeaseTTL < time.Second {
		return nil, fmt.Errorf("SESSION_LEASE_TTL must be at least 1s, got %s", cfg.Session.LeaseTTL)
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

// getEnvDuration accepts Go durations ("90s") or a bare number of seconds.
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
