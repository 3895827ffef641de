package app

import (
	"testing"
	"time"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg := LoadConfig()

	if cfg.HTTPAddr != ":8080" {
		t.Errorf("HTTPAddr = %q", cfg.HTTPAddr)
	}
	if cfg.StorageBackend != "mongo" {
		t.Errorf("StorageBackend = %q", cfg.StorageBackend)
	}
	if cfg.MongoDatabase != "mediaindex" {
		t.Errorf("MongoDatabase = %q", cfg.MongoDatabase)
	}
	if cfg.DedupPolicy != "merge" {
		t.Errorf("DedupPolicy = %q", cfg.DedupPolicy)
	}
	if cfg.CacheTTL != 10*time.Minute {
		t.Errorf("CacheTTL = %v", cfg.CacheTTL)
	}
	if cfg.RetentionTTL != 0 {
		t.Errorf("RetentionTTL = %v, janitor should default off", cfg.RetentionTTL)
	}
}

func TestLoadConfigFromEnv(t *testing.T) {
	t.Setenv("STORAGE_BACKEND", "Postgres")
	t.Setenv("POSTGRES_DSN", "postgres://localhost/mediaindex?sslmode=disable")
	t.Setenv("SEARCH_RPS", "2.5")
	t.Setenv("BROADCAST_CHUNK_SIZE", "50")
	t.Setenv("RETENTION_TTL", "72h")
	t.Setenv("CORS_ALLOWED_ORIGINS", "http://localhost:3000, https://example.com")

	cfg := LoadConfig()

	if cfg.StorageBackend != "postgres" {
		t.Errorf("StorageBackend = %q, want lowercased postgres", cfg.StorageBackend)
	}
	if cfg.PostgresDSN == "" {
		t.Error("PostgresDSN empty")
	}
	if cfg.SearchRPS != 2.5 {
		t.Errorf("SearchRPS = %v", cfg.SearchRPS)
	}
	if cfg.BroadcastChunkSize != 50 {
		t.Errorf("BroadcastChunkSize = %d", cfg.BroadcastChunkSize)
	}
	if cfg.RetentionTTL != 72*time.Hour {
		t.Errorf("RetentionTTL = %v", cfg.RetentionTTL)
	}
	wantOrigins := []string{"http://localhost:3000", "https://example.com"}
	if len(cfg.CORSAllowedOrigins) != len(wantOrigins) {
		t.Fatalf("CORSAllowedOrigins = %v, want %v", cfg.CORSAllowedOrigins, wantOrigins)
	}
	for i, got := range cfg.CORSAllowedOrigins {
		if got != wantOrigins[i] {
			t.Errorf("CORSAllowedOrigins[%d] = %q, want %q", i, got, wantOrigins[i])
		}
	}
}

func TestLoadConfigRejectsGarbage(t *testing.T) {
	t.Setenv("CACHE_MAX_ENTRIES", "not-a-number")
	t.Setenv("SEARCH_RPS", "-3")
	t.Setenv("CACHE_TTL", "soon")

	cfg := LoadConfig()

	if cfg.CacheMaxEntries != 1024 {
		t.Errorf("CacheMaxEntries = %d, want fallback 1024", cfg.CacheMaxEntries)
	}
	if cfg.SearchRPS != 5 {
		t.Errorf("SearchRPS = %v, want fallback 5", cfg.SearchRPS)
	}
	if cfg.CacheTTL != 10*time.Minute {
		t.Errorf("CacheTTL = %v, want fallback", cfg.CacheTTL)
	}
}
