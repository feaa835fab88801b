package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, _, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Addr != ":8787" {
		t.Fatalf("expected default addr, got %q", cfg.Addr)
	}
	if cfg.BatchConcurrency != 16 {
		t.Fatalf("expected batch concurrency 16, got %d", cfg.BatchConcurrency)
	}
	if cfg.LikeMarkerTTL != 8760*time.Hour {
		t.Fatalf("unexpected like marker ttl %s", cfg.LikeMarkerTTL)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("STORE_BACKEND", "postgres")
	t.Setenv("STORE_NAMESPACE", "staging")
	t.Setenv("CORS_ORIGINS", "https://a.example,https://b.example")
	t.Setenv("RATE_LIMIT_PER_MINUTE", "30")

	cfg, _, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.StoreBackend != "postgres" || cfg.StoreNamespace != "staging" {
		t.Fatalf("unexpected store settings: %q %q", cfg.StoreBackend, cfg.StoreNamespace)
	}
	if len(cfg.CORSOrigins) != 2 || cfg.CORSOrigins[1] != "https://b.example" {
		t.Fatalf("unexpected cors origins: %v", cfg.CORSOrigins)
	}
	if cfg.RateLimitPerMinute != 30 {
		t.Fatalf("expected rate limit 30, got %d", cfg.RateLimitPerMinute)
	}
}

func TestLoadRejectsMalformedNumber(t *testing.T) {
	t.Setenv("BATCH_CONCURRENCY", "many")
	if _, _, err := Load(); err == nil {
		t.Fatal("expected parse error for malformed BATCH_CONCURRENCY")
	}
}
