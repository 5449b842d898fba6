package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"

	"github.com/quatton/qwatch/pkg/db"
	"github.com/quatton/qwatch/pkg/qlog"
	"github.com/quatton/qwatch/pkg/qstage"
)

// KV backends.
const (
	KVMemory = "memory"
	KVValkey = "valkey"
)

type EnvConfig struct {
	Port        string        `envconfig:"PORT" default:"3000"`
	BaseURL     string        `envconfig:"BASE_URL" default:"http://localhost:3000"`
	Environment string        `envconfig:"ENVIRONMENT" default:"development"`
	Variant     string        `envconfig:"VARIANT" default:"tabular"`
	StageDelay  time.Duration `envconfig:"STAGE_DELAY" default:"800ms"`
	RunTTL      time.Duration `envconfig:"RUN_TTL" default:"24h"`

	KVBackend      string `envconfig:"KV_BACKEND" default:"memory"`
	ValkeyURL      string `envconfig:"VALKEY_URL"`
	ValkeyAddr     string `envconfig:"VALKEY_ADDR" default:"localhost:6379"`
	ValkeyPassword string `envconfig:"VALKEY_PASSWORD"`
	ValkeyDB       int    `envconfig:"VALKEY_DB" default:"0"`

	HistoryEnabled bool      `envconfig:"HISTORY_ENABLED" default:"false"`
	DB             db.Config `envconfig:"DB"`
}

// ValidateEnv loads the simulator configuration from the environment. In
// development a .env file is read first.
func ValidateEnv(logger *qlog.Logger) (*EnvConfig, error) {
	if IsDev() {
		if err := godotenv.Load(); err != nil {
			logger.Debug("no .env file found")
		} else {
			logger.Info("loaded .env file")
		}
	}

	var cfg EnvConfig
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate collects every problem at once.
func (c *EnvConfig) Validate() error {
	var errors []string

	if _, err := qstage.Lookup(c.Variant); err != nil {
		errors = append(errors, fmt.Sprintf("  ❌ VARIANT: %v", err))
	}

	if c.StageDelay <= 0 {
		errors = append(errors, "  ❌ STAGE_DELAY must be positive")
	}

	switch c.KVBackend {
	case KVMemory:
	case KVValkey:
		if c.ValkeyURL == "" && c.ValkeyAddr == "" {
			errors = append(errors, "  ❌ VALKEY_URL or VALKEY_ADDR is required when KV_BACKEND=valkey")
		}
	default:
		errors = append(errors, fmt.Sprintf("  ❌ KV_BACKEND must be %q or %q", KVMemory, KVValkey))
	}

	if _, err := url.ParseRequestURI(c.BaseURL); err != nil {
		errors = append(errors, "  ❌ BASE_URL must be a valid URL")
	}

	if len(errors) > 0 {
		return fmt.Errorf("environment validation failed:\n%s", strings.Join(errors, "\n"))
	}
	return nil
}

func MaskSecret(secret string) string {
	if secret == "" {
		return "<not set>"
	}
	if len(secret) <= 8 {
		return "***"
	}
	return secret[:4] + "..." + secret[len(secret)-4:]
}

func (c *EnvConfig) Print(fmtr func(string, ...interface{})) {
	fmtr("📋 Configuration:\n")
	fmtr("  Environment: %s\n", c.Environment)
	fmtr("  Port: %s\n", c.Port)
	fmtr("  Base URL: %s\n", c.BaseURL)
	fmtr("  Variant: %s (stage delay %s)\n", c.Variant, c.StageDelay)

	if c.KVBackend == KVValkey {
		if c.ValkeyURL != "" {
			fmtr("  KV: valkey %s\n", MaskSecret(c.ValkeyURL))
		} else {
			fmtr("  KV: valkey %s db=%d password=%s\n", c.ValkeyAddr, c.ValkeyDB, MaskSecret(c.ValkeyPassword))
		}
	} else {
		fmtr("  KV: in-memory\n")
	}

	if c.HistoryEnabled {
		fmtr("  History: ✓ %s@%s:%d/%s (sslmode=%s)\n", c.DB.User, c.DB.Host, c.DB.Port, c.DB.Database, c.DB.SSLMode)
	} else {
		fmtr("  History: ✗ Disabled\n")
	}
}
