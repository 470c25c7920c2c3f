package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const defaultUploadMaxBytes = 10 << 20

// Config is the process configuration read from the environment.
type Config struct {
	HTTPAddr       string
	GRPCAddr       string
	DatabaseURL    string
	MigrateOnStart bool

	JWT   JWTConfig
	Login LoginConfig

	UploadDir      string
	UploadMaxBytes int64

	CORSOrigins []string

	AdminEmail    string
	AdminPassword string
}

type JWTConfig struct {
	Secret   string
	Issuer   string
	TokenTTL time.Duration
}

// LoginConfig controls the per-client rate limit on POST /login.
type LoginConfig struct {
	RatePerSec float64
	Burst      int
}

// Load reads an optional .env file and then the environment.
func Load() (*Config, error) {
	if err := LoadDotEnv(); err != nil {
		return nil, err
	}
	return FromEnv()
}

// LoadDotEnv applies ./.env when present. Variables already set win.
func LoadDotEnv() error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("load .env: %w", err)
	}
	return nil
}

// FromEnv builds a Config from the current environment only.
func FromEnv() (*Config, error) {
	ttl, err := time.ParseDuration(getEnv("TOKEN_TTL", "24h"))
	if err != nil || ttl <= 0 {
		return nil, fmt.Errorf("invalid TOKEN_TTL: %q", os.Getenv("TOKEN_TTL"))
	}
	maxBytes, err := strconv.ParseInt(getEnv("UPLOAD_MAX_BYTES", strconv.Itoa(defaultUploadMaxBytes)), 10, 64)
	if err != nil || maxBytes <= 0 {
		return nil, fmt.Errorf("invalid UPLOAD_MAX_BYTES: %q", os.Getenv("UPLOAD_MAX_BYTES"))
	}
	burst, err := strconv.Atoi(getEnv("LOGIN_RATE_BURST", "10"))
	if err != nil || burst <= 0 {
		return nil, fmt.Errorf("invalid LOGIN_RATE_BURST: %q", os.Getenv("LOGIN_RATE_BURST"))
	}
	perSec, err := strconv.ParseFloat(getEnv("LOGIN_RATE_PER_SEC", "1"), 64)
	if err != nil || perSec <= 0 {
		return nil, fmt.Errorf("invalid LOGIN_RATE_PER_SEC: %q", os.Getenv("LOGIN_RATE_PER_SEC"))
	}

	httpAddr := os.Getenv("HTTP_ADDR")
	if httpAddr == "" {
		httpAddr = ":" + getEnv("PORT", "3000")
	}

	cfg := &Config{
		HTTPAddr:       httpAddr,
		GRPCAddr:       lookupEnv("GRPC_ADDR", ":9090"),
		DatabaseURL:    os.Getenv("DATABASE_URL"),
		MigrateOnStart: getBoolEnv("MIGRATE_ON_START", false),
		JWT: JWTConfig{
			Secret:   os.Getenv("JWT_SECRET"),
			Issuer:   getEnv("JWT_ISSUER", "prestacao"),
			TokenTTL: ttl,
		},
		Login:          LoginConfig{RatePerSec: perSec, Burst: burst},
		UploadDir:      getEnv("UPLOAD_DIR", "uploads"),
		UploadMaxBytes: maxBytes,
		CORSOrigins:    splitList(os.Getenv("CORS_ORIGINS")),
		AdminEmail:     strings.TrimSpace(os.Getenv("ADMIN_EMAIL")),
		AdminPassword:  os.Getenv("ADMIN_PASSWORD"),
	}

	if strings.TrimSpace(cfg.JWT.Secret) == "" {
		return nil, errors.New("JWT_SECRET is required")
	}
	if (cfg.AdminEmail == "") != (cfg.AdminPassword == "") {
		return nil, errors.New("ADMIN_EMAIL and ADMIN_PASSWORD must be set together")
	}
	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// lookupEnv distinguishes unset from explicitly empty, which disables a listener.
func lookupEnv(key, defaultValue string) string {
	if value, ok := os.LookupEnv(key); ok {
		return strings.TrimSpace(value)
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv(key))) {
	case "true", "1", "yes":
		return true
	case "false", "0", "no":
		return false
	default:
		return defaultValue
	}
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
