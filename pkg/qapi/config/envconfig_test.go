package config

import (
	"strings"
	"testing"
	"time"

	"github.com/quatton/qwatch/pkg/qlog"
)

func TestValidateEnv_Defaults(t *testing.T) {
	t.Setenv("ENVIRONMENT", "test")
	t.Setenv("VARIANT", "branched")
	t.Setenv("STAGE_DELAY", "250ms")
	t.Setenv("DB_HOST", "pg")

	cfg, err := ValidateEnv(qlog.Discard())
	if err != nil {
		t.Fatalf("ValidateEnv failed: %v", err)
	}
	if cfg.Port != "3000" || cfg.Variant != "branched" || cfg.StageDelay != 250*time.Millisecond {
		t.Fatalf("unexpected config %+v", cfg)
	}
	if cfg.KVBackend != KVMemory || cfg.DB.Host != "pg" || cfg.DB.Port != 5432 {
		t.Fatalf("unexpected backends %+v", cfg)
	}
}

func TestValidate_CollectsErrors(t *testing.T) {
	cfg := &EnvConfig{
		Variant:    "audio",
		StageDelay: 0,
		KVBackend:  "etcd",
		BaseURL:    "not a url",
	}
	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected validation error")
	}
	for _, want := range []string{"VARIANT", "STAGE_DELAY", "KV_BACKEND", "BASE_URL"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error does not mention %s: %v", want, err)
		}
	}
}

func TestMaskSecret(t *testing.T) {
	if MaskSecret("") != "<not set>" || MaskSecret("short") != "***" || MaskSecret("redis://secret@host") != "redi...host" {
		t.Fatal("unexpected masking")
	}
}
