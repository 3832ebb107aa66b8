package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefaultConfigIsValid(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
}

func TestLoadOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	body := []byte(`
server:
  port: ":9090"
index:
  source: sqlite
  path: /tmp/cards.db
scan:
  pro:
    max_distance: 12
catalog:
  rate_limit: 5
  timeout: 2s
`)
	if err := os.WriteFile(path, body, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Server.Port != ":9090" {
		t.Fatalf("expected port override, got %q", cfg.Server.Port)
	}
	if cfg.Index.Source != "sqlite" || cfg.Index.Path != "/tmp/cards.db" {
		t.Fatalf("unexpected index config: %+v", cfg.Index)
	}
	if cfg.Scan.Pro.MaxDistance != 12 {
		t.Fatalf("expected pro max_distance 12, got %d", cfg.Scan.Pro.MaxDistance)
	}
	if cfg.Scan.Pro.MinConfidence != Default().Scan.Pro.MinConfidence {
		t.Fatalf("pro min_confidence should keep default, got %d", cfg.Scan.Pro.MinConfidence)
	}
	if cfg.Catalog.RateLimit != 5 || cfg.Catalog.Timeout != 2*time.Second {
		t.Fatalf("unexpected catalog config: %+v", cfg.Catalog)
	}
	if cfg.Fingerprint.HashSize != 16 {
		t.Fatalf("expected default hash size, got %d", cfg.Fingerprint.HashSize)
	}
}

func TestLoadEnvOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("server:\n  mode: debug\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("CARDKIT_SERVER_MODE", "release")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Server.Mode != "release" {
		t.Fatalf("expected env override, got %q", cfg.Server.Mode)
	}
}

func TestLoadRejectsInvalidProfile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	body := []byte("scan:\n  default:\n    max_distance: 300\n")
	if err := os.WriteFile(path, body, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for max_distance above 100")
	}
}

func TestValidateIndexSource(t *testing.T) {
	cfg := Default()
	cfg.Index.Source = "postgres"
	cfg.Index.DSN = ""
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error when postgres dsn missing")
	}
	cfg.Index.Source = "csv"
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for unknown source")
	}
}

func TestProfileLookup(t *testing.T) {
	cfg := Default()
	if p, ok := cfg.Profile(""); !ok || p != cfg.Scan.Default {
		t.Fatal("empty mode should resolve to default profile")
	}
	if p, ok := cfg.Profile("PRO"); !ok || p != cfg.Scan.Pro {
		t.Fatal("mode lookup should be case-insensitive")
	}
	if _, ok := cfg.Profile("turbo"); ok {
		t.Fatal("unknown mode should not resolve")
	}
}

func TestRedactedHidesSecrets(t *testing.T) {
	cfg := Default()
	cfg.Redis.Password = "hunter2"
	cfg.Index.DSN = "host=db user=cards password=s3cret dbname=cards sslmode=disable"

	out := cfg.Redacted()
	if out.Redis.Password != redactedValue {
		t.Fatalf("redis password not masked: %q", out.Redis.Password)
	}
	if strings.Contains(out.Index.DSN, "s3cret") || !strings.Contains(out.Index.DSN, "host=db") {
		t.Fatalf("dsn not masked correctly: %q", out.Index.DSN)
	}
	if cfg.Redis.Password != "hunter2" {
		t.Fatal("Redacted must not modify the original config")
	}

	cfg.Index.DSN = "postgres://cards:s3cret@db:5432/cards?sslmode=disable"
	if dsn := cfg.Redacted().Index.DSN; strings.Contains(dsn, "s3cret") || !strings.Contains(dsn, "cards:") || !strings.Contains(dsn, "@db:5432") {
		t.Fatalf("url dsn not masked correctly: %q", dsn)
	}

	cfg.Redis.Password = ""
	if cfg.Redacted().Redis.Password != "" {
		t.Fatal("empty password should stay empty")
	}
}
