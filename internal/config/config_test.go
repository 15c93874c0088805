package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return dir
}

func TestLoadConfigDefaults(t *testing.T) {
	dir := writeConfig(t, `
server:
  mode: debug
database:
  driver: sqlite
  path: test.db
storage:
  type: minio
`)

	cfg, err := LoadConfig(dir)
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}
	if cfg.Server.Port != "8080" {
		t.Fatalf("Server.Port = %q, want 8080", cfg.Server.Port)
	}
	if cfg.Analytics.StaleAfter() != 5*time.Minute {
		t.Fatalf("StaleAfter = %v, want 5m", cfg.Analytics.StaleAfter())
	}
	if cfg.AI.Provider != "none" {
		t.Fatalf("AI.Provider = %q, want none", cfg.AI.Provider)
	}
	if !cfg.Evaluation.Async || cfg.Evaluation.Workers != 4 {
		t.Fatalf("Evaluation = %+v, want async with 4 workers", cfg.Evaluation)
	}
	if cfg.Quota.FreeExams != 3 || cfg.Quota.FreeInterviews != 1 {
		t.Fatalf("Quota = %+v", cfg.Quota)
	}
	if cfg.ConfigFile == "" {
		t.Fatalf("ConfigFile not recorded")
	}
}

func TestLoadConfigRejectsShortSecretInRelease(t *testing.T) {
	dir := writeConfig(t, `
server:
  mode: release
database:
  driver: sqlite
storage:
  type: minio
jwt:
  secret: short
`)
	if _, err := LoadConfig(dir); err == nil {
		t.Fatalf("LoadConfig() accepted a short release secret")
	}
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		return &Config{
			Server:    ServerConfig{Mode: "debug"},
			Database:  DatabaseConfig{Driver: "mysql"},
			AI:        AIConfig{Provider: "openai"},
			Analytics: AnalyticsConfig{StrongThreshold: 75, WeakThreshold: 50},
		}
	}

	cfg := base()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	if cfg.Evaluation.Workers != 1 {
		t.Fatalf("Workers = %d, want clamped to 1", cfg.Evaluation.Workers)
	}

	cfg = base()
	cfg.Database.Driver = "oracle"
	if err := cfg.Validate(); err == nil {
		t.Fatalf("Validate() accepted unknown driver")
	}

	cfg = base()
	cfg.AI.Provider = "claude"
	if err := cfg.Validate(); err == nil {
		t.Fatalf("Validate() accepted unknown provider")
	}

	cfg = base()
	cfg.Analytics.WeakThreshold = 90
	if err := cfg.Validate(); err == nil {
		t.Fatalf("Validate() accepted inverted thresholds")
	}
}
