package config

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"strconv"
)

// Config carries process-level configuration resolved from the environment.
type Config struct {
	DatabaseURL  string
	SharedSecret string
	// SecretGenerated is set when no SCIM_SHARED_SECRET was configured and a
	// one-off secret was generated for this process (non-production only).
	SecretGenerated bool
	JWTSecret       string

	OAuthClientID     string
	OAuthClientSecret string
	OAuthClientScopes string

	APIPrefix   string
	Port        int
	Environment string

	BlobBackupAccount   string
	BlobBackupContainer string
}

// Load reads configuration from the environment. In production the
// database URL and both secrets are mandatory and missing values are a
// startup error; elsewhere a shared secret is generated when absent.
func Load() (*Config, error) {
	cfg := &Config{
		DatabaseURL:         os.Getenv("DATABASE_URL"),
		SharedSecret:        os.Getenv("SCIM_SHARED_SECRET"),
		JWTSecret:           os.Getenv("JWT_SECRET"),
		OAuthClientID:       os.Getenv("OAUTH_CLIENT_ID"),
		OAuthClientSecret:   os.Getenv("OAUTH_CLIENT_SECRET"),
		OAuthClientScopes:   os.Getenv("OAUTH_CLIENT_SCOPES"),
		APIPrefix:           os.Getenv("API_PREFIX"),
		Environment:         os.Getenv("NODE_ENV"),
		BlobBackupAccount:   os.Getenv("BLOB_BACKUP_ACCOUNT"),
		BlobBackupContainer: os.Getenv("BLOB_BACKUP_CONTAINER"),
	}

	if cfg.APIPrefix == "" {
		cfg.APIPrefix = "scim"
	}

	cfg.Port = 8080
	if p := os.Getenv("PORT"); p != "" {
		n, err := strconv.Atoi(p)
		if err != nil {
			return nil, fmt.Errorf("invalid PORT %q: %w", p, err)
		}
		cfg.Port = n
	}

	if cfg.Production() {
		if cfg.DatabaseURL == "" {
			return nil, fmt.Errorf("DATABASE_URL is required in production")
		}
		if cfg.SharedSecret == "" {
			return nil, fmt.Errorf("SCIM_SHARED_SECRET is required in production")
		}
		if cfg.JWTSecret == "" {
			return nil, fmt.Errorf("JWT_SECRET is required in production")
		}
	} else if cfg.SharedSecret == "" {
		secret, err := generateSecret()
		if err != nil {
			return nil, err
		}
		cfg.SharedSecret = secret
		cfg.SecretGenerated = true
	}

	return cfg, nil
}

// Production reports whether the process runs with production settings.
func (c *Config) Production() bool {
	return c.Environment == "production"
}

func generateSecret() (string, error) {
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate shared secret: %w", err)
	}
	return hex.EncodeToString(buf), nil
}
