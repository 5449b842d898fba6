package db

import (
	"testing"

	"github.com/kelseyhightower/envconfig"
)

func TestConfig_DSN(t *testing.T) {
	cfg := Config{
		Host:     "pg",
		Port:     5433,
		User:     "sim",
		Password: "p@ss word",
		Database: "runs",
		SSLMode:  "require",
	}
	want := "postgres://sim:p%40ss%20word@pg:5433/runs?sslmode=require"
	if got := cfg.DSN(); got != want {
		t.Fatalf("DSN() = %s, want %s", got, want)
	}
}

func TestConfig_Env(t *testing.T) {
	t.Setenv("DB_HOST", "db.internal")
	t.Setenv("DB_SSLMODE", "verify-full")

	var cfg Config
	if err := envconfig.Process("DB", &cfg); err != nil {
		t.Fatalf("envconfig failed: %v", err)
	}
	if cfg.Host != "db.internal" || cfg.SSLMode != "verify-full" || cfg.Port != 5432 || cfg.User != "qwatch" {
		t.Fatalf("unexpected config %+v", cfg)
	}
}
