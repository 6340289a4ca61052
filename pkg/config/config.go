package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	NATS     NATSConfig
	Auth     AuthConfig
	Passes   PassConfig
}

type ServerConfig struct {
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
	CORSOrigins  []string
}

type DatabaseConfig struct {
	URL         string
	MaxConns    int
	MinConns    int
	MaxLifetime time.Duration
}

// RedisConfig is optional; an empty URL disables the distributed visitor
// lock and the idempotency store.
type RedisConfig struct {
	URL string
}

// NATSConfig is optional; an empty URL disables event publishing.
type NATSConfig struct {
	URL string
}

type AuthConfig struct {
	JWTSecret    string
	JWTIssuer    string
	TokenTTL     time.Duration
	PasswordHash string // bcrypt or argon2id
	BcryptCost   int
}

type PassConfig struct {
	VisitorLockTTL time.Duration
}

const (
	HashBcrypt   = "bcrypt"
	HashArgon2id = "argon2id"
)

// Load reads configuration from the environment. The signing secret and the
// database URL have no defaults.
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port:         getEnv("PORT", "8080"),
			ReadTimeout:  getDuration("SERVER_READ_TIMEOUT", 5*time.Second),
			WriteTimeout: getDuration("SERVER_WRITE_TIMEOUT", 10*time.Second),
			IdleTimeout:  getDuration("SERVER_IDLE_TIMEOUT", 60*time.Second),
			CORSOrigins:  parseCSV(getEnv("CORS_ALLOWED_ORIGINS", "*")),
		},
		Database: loadDatabase(),
		Redis: RedisConfig{
			URL: strings.TrimSpace(os.Getenv("REDIS_URL")),
		},
		NATS: NATSConfig{
			URL: strings.TrimSpace(os.Getenv("NATS_URL")),
		},
		Auth: AuthConfig{
			JWTSecret:    strings.TrimSpace(os.Getenv("JWT_SECRET")),
			JWTIssuer:    getEnv("JWT_ISSUER", "vms"),
			TokenTTL:     getDuration("TOKEN_TTL", 2*time.Hour),
			PasswordHash: strings.ToLower(getEnv("PASSWORD_HASH", HashBcrypt)),
			BcryptCost:   getInt("BCRYPT_COST", 10),
		},
		Passes: PassConfig{
			VisitorLockTTL: getDuration("VISITOR_LOCK_TTL", 5*time.Second),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadDatabase reads only the database settings, for commands that do not
// serve traffic.
func LoadDatabase() (DatabaseConfig, error) {
	cfg := loadDatabase()
	if cfg.URL == "" {
		return cfg, errors.New("DATABASE_URL is required")
	}
	return cfg, nil
}

func loadDatabase() DatabaseConfig {
	return DatabaseConfig{
		URL:         strings.TrimSpace(os.Getenv("DATABASE_URL")),
		MaxConns:    getInt("DB_MAX_CONNS", 10),
		MinConns:    getInt("DB_MIN_CONNS", 1),
		MaxLifetime: getDuration("DB_MAX_LIFETIME", time.Hour),
	}
}

func (c *Config) Validate() error {
	if c.Database.URL == "" {
		return errors.New("DATABASE_URL is required")
	}
	if c.Auth.JWTSecret == "" {
		return errors.New("JWT_SECRET is required")
	}
	switch c.Auth.PasswordHash {
	case HashBcrypt, HashArgon2id:
	default:
		return fmt.Errorf("PASSWORD_HASH must be %q or %q, got %q", HashBcrypt, HashArgon2id, c.Auth.PasswordHash)
	}
	if c.Auth.TokenTTL <= 0 {
		return errors.New("TOKEN_TTL must be positive")
	}
	return nil
}

// HTTPAddress returns the host:port pair for the HTTP server to bind to.
func (c *Config) HTTPAddress() string {
	return ":" + c.Server.Port
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok && strings.TrimSpace(value) != "" {
		return strings.TrimSpace(value)
	}
	return fallback
}

func getInt(key string, fallback int) int {
	if value, ok := os.LookupEnv(key); ok {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return fallback
}

func getDuration(key string, fallback time.Duration) time.Duration {
	if value, ok := os.LookupEnv(key); ok {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return fallback
}

func parseCSV(input string) []string {
	var out []string
	for _, part := range strings.Split(input, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	if len(out) == 0 {
		return []string{"*"}
	}
	return out
}
