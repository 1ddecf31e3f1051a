package app

import (
	"testing"
	"time"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg := LoadConfig()

	if cfg.HTTPAddr != ":8080" {
		t.Errorf("expected default addr :8080, got %q", cfg.HTTPAddr)
	}
	if cfg.SourceTimeout != 10*time.Second {
		t.Errorf("expected default source timeout 10s, got %v", cfg.SourceTimeout)
	}
	if cfg.MongoDBName != "drama_aggregator" {
		t.Errorf("expected default db name, got %q", cfg.MongoDBName)
	}
	if cfg.CacheTTL != 5*time.Minute {
		t.Errorf("expected default cache TTL 5m, got %v", cfg.CacheTTL)
	}
	if cfg.CacheDisabled {
		t.Error("cache should be enabled by default")
	}
}

func TestLoadConfigOverrides(t *testing.T) {
	t.Setenv("HTTP_ADDR", ":9999")
	t.Setenv("SOURCE_TIMEOUT_SECONDS", "25")
	t.Setenv("SEARCH_CACHE_DISABLED", "true")
	t.Setenv("LOG_LEVEL", "DEBUG")

	cfg := LoadConfig()

	if cfg.HTTPAddr != ":9999" {
		t.Errorf("expected :9999, got %q", cfg.HTTPAddr)
	}
	if cfg.SourceTimeout != 25*time.Second {
		t.Errorf("expected 25s, got %v", cfg.SourceTimeout)
	}
	if !cfg.CacheDisabled {
		t.Error("expected cache disabled")
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("log level should be lowercased, got %q", cfg.LogLevel)
	}
}

func TestGetEnvIntRejectsGarbage(t *testing.T) {
	t.Setenv("SOURCE_TIMEOUT_SECONDS", "not-a-number")
	if cfg := LoadConfig(); cfg.SourceTimeout != 10*time.Second {
		t.Errorf("garbage env should fall back to default, got %v", cfg.SourceTimeout)
	}

	t.Setenv("SOURCE_TIMEOUT_SECONDS", "-5")
	if cfg := LoadConfig(); cfg.SourceTimeout != 10*time.Second {
		t.Errorf("negative env should fall back to default, got %v", cfg.SourceTimeout)
	}
}
