package qsdk

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/quatton/qwatch/pkg/qart"
)

func TestLoadConfig_ProjectConfig(t *testing.T) {
	tempDir := t.TempDir()
	oldWd, _ := os.Getwd()
	os.Chdir(tempDir)
	defer os.Chdir(oldWd)

	projectConfig := `
baseUrl: http://example.com:3000/
variant: branched
pollInterval: 700ms
compact:
  maxString: 32
`
	os.WriteFile("qwatch.yaml", []byte(projectConfig), 0644)

	cfg, err := LoadConfig("")
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}

	if cfg.BaseURL != "http://example.com:3000" {
		t.Errorf("Expected baseUrl http://example.com:3000, got %s", cfg.BaseURL)
	}
	if cfg.Variant != "branched" {
		t.Errorf("Expected variant branched, got %s", cfg.Variant)
	}
	if cfg.PollInterval != 700*time.Millisecond {
		t.Errorf("Expected pollInterval 700ms, got %s", cfg.PollInterval)
	}
	if cfg.Compact.MaxString != 32 || cfg.Compact.MaxItems != 16 {
		t.Errorf("Expected compact limits 32/16, got %+v", cfg.Compact)
	}
}

func TestLoadConfig_LocalOverride(t *testing.T) {
	tempDir := t.TempDir()
	oldWd, _ := os.Getwd()
	os.Chdir(tempDir)
	defer os.Chdir(oldWd)

	projectConfig := `
baseUrl: http://example.com:3000
variant: tabular
`
	os.WriteFile("qwatch.yaml", []byte(projectConfig), 0644)

	os.MkdirAll(ConfigRoot, 0755)
	localConfig := `
baseUrl: http://localhost:8080
archive:
  enabled: true
  bucket: scratch
`
	os.WriteFile(filepath.Join(ConfigRoot, "config.yaml"), []byte(localConfig), 0644)

	cfg, err := LoadConfig("")
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}

	// Local override should win
	if cfg.BaseURL != "http://localhost:8080" {
		t.Errorf("Expected baseUrl http://localhost:8080 (from local override), got %s", cfg.BaseURL)
	}
	if cfg.Variant != "tabular" {
		t.Errorf("Expected variant tabular (from project config), got %s", cfg.Variant)
	}
	if !cfg.Archive.Enabled || cfg.Archive.Bucket != "scratch" || cfg.Archive.Endpoint != "localhost:9000" {
		t.Errorf("Unexpected archive config: %+v", cfg.Archive)
	}
}

func TestLoadConfig_Defaults(t *testing.T) {
	tempDir := t.TempDir()
	oldWd, _ := os.Getwd()
	os.Chdir(tempDir)
	defer os.Chdir(oldWd)

	cfg, err := LoadConfig("")
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}

	if cfg.BaseURL != "http://localhost:3000" {
		t.Errorf("Expected default baseUrl http://localhost:3000, got %s", cfg.BaseURL)
	}
	if cfg.PollInterval != DefaultPollInterval {
		t.Errorf("Expected default pollInterval %s, got %s", DefaultPollInterval, cfg.PollInterval)
	}
	if cfg.RequestTimeout != 0 {
		t.Errorf("Expected no request timeout, got %s", cfg.RequestTimeout)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("Expected default logLevel info, got %s", cfg.LogLevel)
	}
	if cfg.Archive.Enabled {
		t.Errorf("Expected archive disabled by default")
	}
	if cfg.Archive.Backend != ArchiveLocal || cfg.Archive.Dir != ConfigRoot {
		t.Errorf("Expected local archive under %s, got %+v", ConfigRoot, cfg.Archive)
	}
	a, err := cfg.OpenArchive()
	if err != nil {
		t.Fatalf("OpenArchive failed: %v", err)
	}
	if _, ok := a.(*qart.LocalArchive); !ok {
		t.Errorf("Expected a local archive, got %T", a)
	}
}

func TestLoadConfig_BadArchiveBackend(t *testing.T) {
	tempDir := t.TempDir()
	oldWd, _ := os.Getwd()
	os.Chdir(tempDir)
	defer os.Chdir(oldWd)

	os.WriteFile("qwatch.yaml", []byte("archive:\n  backend: ftp\n"), 0644)
	if _, err := LoadConfig(""); err == nil {
		t.Fatal("expected error for unknown archive backend")
	}
}

func TestLoadConfig_Env(t *testing.T) {
	tempDir := t.TempDir()
	oldWd, _ := os.Getwd()
	os.Chdir(tempDir)
	defer os.Chdir(oldWd)

	t.Setenv("QWATCH_POLLINTERVAL", "450ms")
	t.Setenv("QWATCH_VARIANT", "image")

	cfg, err := LoadConfig("")
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.PollInterval != 450*time.Millisecond {
		t.Errorf("Expected pollInterval 450ms from env, got %s", cfg.PollInterval)
	}
	if cfg.Variant != "image" {
		t.Errorf("Expected variant image from env, got %s", cfg.Variant)
	}
}

func TestLoadConfig_ExplicitFile(t *testing.T) {
	tempDir := t.TempDir()
	oldWd, _ := os.Getwd()
	os.Chdir(tempDir)
	defer os.Chdir(oldWd)

	customConfig := `
baseUrl: http://custom.com:9000
pollInterval: 0s
`
	customPath := filepath.Join(tempDir, "custom-config.yaml")
	os.WriteFile(customPath, []byte(customConfig), 0644)

	if _, err := LoadConfig(customPath); err == nil {
		t.Fatal("Expected error for zero pollInterval")
	}

	if _, err := LoadConfig(filepath.Join(tempDir, "missing.yaml")); err == nil {
		t.Fatal("Expected error for missing explicit config file")
	}
}
