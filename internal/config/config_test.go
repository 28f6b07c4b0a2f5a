package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("JWT_SECRET", "")
	t.Setenv("SCAN_FPS", "")
	t.Setenv("SCAN_FEEDBACK_MS", "")
	t.Setenv("REDIS_ADDR", "")
	t.Setenv("PG_HOST", "")
	t.Setenv("PG_PASSWORD", "")
	t.Setenv("PG_EMBEDDED_PORT", "")
	t.Setenv("PG_EMBEDDED_DIR", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Station.FPS != 10 {
		t.Errorf("FPS = %v, want 10", cfg.Station.FPS)
	}
	if cfg.Station.FeedbackWindow != 1500*time.Millisecond {
		t.Errorf("FeedbackWindow = %v, want 1.5s", cfg.Station.FeedbackWindow)
	}
	if cfg.Redis.Enabled() {
		t.Error("Redis should be disabled without REDIS_ADDR")
	}
	if !cfg.Database.Embedded() {
		t.Error("localhost without password should select embedded postgres")
	}
	if cfg.Database.EmbeddedPort != 5433 || cfg.Database.EmbeddedDir != "./db_data" {
		t.Errorf("embedded = %d %q", cfg.Database.EmbeddedPort, cfg.Database.EmbeddedDir)
	}
}

func TestLoadEmbeddedOverrides(t *testing.T) {
	t.Setenv("PG_EMBEDDED_PORT", "55432")
	t.Setenv("PG_EMBEDDED_DIR", "/var/lib/propcount/pg")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Database.EmbeddedPort != 55432 || cfg.Database.EmbeddedDir != "/var/lib/propcount/pg" {
		t.Errorf("embedded = %d %q", cfg.Database.EmbeddedPort, cfg.Database.EmbeddedDir)
	}
}

func TestLoadServerRequiresSecret(t *testing.T) {
	t.Setenv("JWT_SECRET", "")
	if _, err := LoadServer(); err == nil {
		t.Fatal("LoadServer should fail without JWT_SECRET")
	}

	t.Setenv("JWT_SECRET", "s3cret")
	cfg, err := LoadServer()
	if err != nil {
		t.Fatalf("LoadServer failed: %v", err)
	}
	if cfg.JWTSecret != "s3cret" {
		t.Errorf("JWTSecret = %q", cfg.JWTSecret)
	}
}

func TestLoadRejectsBadNumbers(t *testing.T) {
	cases := map[string]string{
		"SCAN_FPS":         "fast",
		"SCAN_FEEDBACK_MS": "-5",
		"REDIS_DB":         "zero",
		"PAGE_SIZE":        "0",
		"PG_EMBEDDED_PORT": "70000",
	}
	for key, value := range cases {
		t.Run(key, func(t *testing.T) {
			t.Setenv(key, value)
			if _, err := Load(); err == nil {
				t.Errorf("Load should reject %s=%q", key, value)
			}
		})
	}
}
