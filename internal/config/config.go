// Package config loads application settings from the environment, with
// optional .env file support for local deployments.
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"

	"autoai/internal/secrets"
)

// Config holds all application settings.
type Config struct {
	DatabasePath  string // sqlite file path
	ListenAddr    string // HTTP listen address
	LogLevel      string
	LogFile       string
	AdminPassword string // required; never logged
	EncryptionKey string // fernet key for credential storage
}

// Load reads settings from envFile (ignored if absent) and the process
// environment. Environment variables take precedence over the file.
func Load(envFile string) (*Config, error) {
	if envFile != "" {
		// Missing .env is fine; real env vars may carry everything.
		_ = godotenv.Load(envFile)
	}

	cfg := &Config{
		DatabasePath:  getenv("DATABASE_PATH", "./data/autoai.db"),
		ListenAddr:    getenv("LISTEN_ADDR", ":8080"),
		LogLevel:      getenv("LOG_LEVEL", "info"),
		LogFile:       os.Getenv("LOG_FILE"),
		AdminPassword: os.Getenv("ADMIN_PASSWORD"),
		EncryptionKey: os.Getenv("ENCRYPTION_KEY"),
	}

	if strings.TrimSpace(cfg.AdminPassword) == "" {
		return nil, fmt.Errorf("config: ADMIN_PASSWORD must be set")
	}
	switch strings.ToLower(cfg.LogLevel) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return nil, fmt.Errorf("config: invalid LOG_LEVEL %q", cfg.LogLevel)
	}

	return cfg, nil
}

// EnsureEncryptionKey returns the configured encryption key, generating
// one on first boot and appending it to envFile so restarts reuse it.
// Tasks encrypted with a lost key cannot be decrypted again.
func (c *Config) EnsureEncryptionKey(envFile string) (string, error) {
	if c.EncryptionKey != "" {
		return c.EncryptionKey, nil
	}

	key, err := secrets.GenerateKey()
	if err != nil {
		return "", err
	}

	if envFile != "" {
		f, err := os.OpenFile(envFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
		if err != nil {
			return "", fmt.Errorf("config: persisting encryption key: %w", err)
		}
		defer f.Close()
		if _, err := fmt.Fprintf(f, "\nENCRYPTION_KEY=%s\n", key); err != nil {
			return "", fmt.Errorf("config: persisting encryption key: %w", err)
		}
	}

	c.EncryptionKey = key
	return key, nil
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
