package config

import (
	"strings"
	"testing"
	"time"
)

func TestEventURL_WithPublicURL(t *testing.T) {
	cfg := ServerConfig{PublicURL: "https://photos.example.com/", Port: 8080}

	result := cfg.EventURL("A1B2C3D4")

	expected := "https://photos.example.com/event.html?code=A1B2C3D4"
	if result != expected {
		t.Errorf("expected '%s', got '%s'", expected, result)
	}
}

func TestEventURL_FallsBackToLocalhost(t *testing.T) {
	cfg := ServerConfig{Port: 9090}

	result := cfg.EventURL("DEADBEEF")

	if !strings.HasPrefix(result, "http://localhost:9090/") {
		t.Errorf("expected localhost fallback, got '%s'", result)
	}
	if !strings.HasSuffix(result, "code=DEADBEEF") {
		t.Errorf("expected code in URL, got '%s'", result)
	}
}

func TestLoad_Defaults(t *testing.T) {
	cfg := Load()

	if cfg.Match.TopK != 200 {
		t.Errorf("expected default top-k 200, got %d", cfg.Match.TopK)
	}
	if cfg.Match.Threshold != 0.55 {
		t.Errorf("expected default threshold 0.55, got %v", cfg.Match.Threshold)
	}
	if cfg.Index.MaxResidentEvents != 64 {
		t.Errorf("expected 64 resident events, got %d", cfg.Index.MaxResidentEvents)
	}
	if cfg.Index.Shards != 8 {
		t.Errorf("expected 8 shards, got %d", cfg.Index.Shards)
	}
	if cfg.Uploads.MaxPhotoBytes != 10*1024*1024 {
		t.Errorf("expected 10MB photo limit, got %d", cfg.Uploads.MaxPhotoBytes)
	}
	if cfg.Uploads.MaxSelfieBytes != 5*1024*1024 {
		t.Errorf("expected 5MB selfie limit, got %d", cfg.Uploads.MaxSelfieBytes)
	}
	if cfg.Uploads.MaxFiles != 50 {
		t.Errorf("expected 50 files per upload, got %d", cfg.Uploads.MaxFiles)
	}
	if cfg.Extractor.Backend != "classical" {
		t.Errorf("expected classical extractor, got '%s'", cfg.Extractor.Backend)
	}
	if cfg.Extractor.Dim != 128 {
		t.Errorf("expected extractor dim 128, got %d", cfg.Extractor.Dim)
	}
	if cfg.Auth.TokenTTL != 30*24*time.Hour {
		t.Errorf("expected 30 day token TTL, got %v", cfg.Auth.TokenTTL)
	}
	if cfg.Database.MaxOpenConns != 25 {
		t.Errorf("expected 25 max open conns, got %d", cfg.Database.MaxOpenConns)
	}
}

func TestLoad_MatchPolicyOverrides(t *testing.T) {
	t.Setenv("MATCH_TOP_K", "10")
	t.Setenv("MATCH_THRESHOLD", "0.7")

	cfg := Load()

	if cfg.Match.TopK != 10 {
		t.Errorf("expected top-k 10, got %d", cfg.Match.TopK)
	}
	if cfg.Match.Threshold != 0.7 {
		t.Errorf("expected threshold 0.7, got %v", cfg.Match.Threshold)
	}
}

func TestLoad_InvalidValuesFallBack(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value string
		check func(*Config) bool
	}{
		{"non-numeric top-k", "MATCH_TOP_K", "many", func(c *Config) bool { return c.Match.TopK == 200 }},
		{"negative top-k", "MATCH_TOP_K", "-5", func(c *Config) bool { return c.Match.TopK == 200 }},
		{"zero dim", "EXTRACTOR_DIM", "0", func(c *Config) bool { return c.Extractor.Dim == 128 }},
		{"bad threshold", "MATCH_THRESHOLD", "high", func(c *Config) bool { return c.Match.Threshold == 0.55 }},
		{"bad duration", "EXTRACTOR_TIMEOUT", "soon", func(c *Config) bool { return c.Extractor.Timeout == 30*time.Second }},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Setenv(tc.key, tc.value)
			if !tc.check(Load()) {
				t.Errorf("expected default for %s=%q", tc.key, tc.value)
			}
		})
	}
}

func TestLoad_StorageAndQueue(t *testing.T) {
	t.Setenv("MINIO_ENDPOINT", "minio:9000")
	t.Setenv("MINIO_ACCESS_KEY", "access")
	t.Setenv("MINIO_SECRET_KEY", "secret")
	t.Setenv("MINIO_USE_SSL", "true")
	t.Setenv("NATS_URL", "nats://nats:4222")

	cfg := Load()

	if !cfg.Storage.MinIO.Enabled() {
		t.Error("expected MinIO to be enabled")
	}
	if !cfg.Storage.MinIO.UseSSL {
		t.Error("expected SSL to be enabled")
	}
	if cfg.Storage.MinIO.Bucket != "event-photos" {
		t.Errorf("expected default bucket, got '%s'", cfg.Storage.MinIO.Bucket)
	}
	if !cfg.Queue.Enabled() {
		t.Error("expected queue to be enabled")
	}
}

func TestLoad_AllowedOrigins(t *testing.T) {
	t.Setenv("WEB_ALLOWED_ORIGINS", " https://a.example.com, ,https://b.example.com ")

	got := Load().Server.AllowedOrigins
	if len(got) != 2 || got[0] != "https://a.example.com" || got[1] != "https://b.example.com" {
		t.Errorf("unexpected origins %q", got)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"defaults are valid", func(c *Config) {}, ""},
		{"threshold above one", func(c *Config) { c.Match.Threshold = 1.5 }, "MATCH_THRESHOLD"},
		{"threshold below zero", func(c *Config) { c.Match.Threshold = -0.1 }, "MATCH_THRESHOLD"},
		{"zero top-k", func(c *Config) { c.Match.TopK = 0 }, "MATCH_TOP_K"},
		{"remote without url", func(c *Config) { c.Extractor.Backend = "remote" }, "EXTRACTOR_URL"},
		{"remote bad mode", func(c *Config) {
			c.Extractor.Backend = "remote"
			c.Extractor.URL = "http://embed:8000"
			c.Extractor.Mode = "body"
		}, "EXTRACTOR_REMOTE_MODE"},
		{"unknown backend", func(c *Config) { c.Extractor.Backend = "magic" }, "EXTRACTOR_BACKEND"},
		{"minio without keys", func(c *Config) { c.Storage.MinIO.Endpoint = "minio:9000" }, "MINIO_ACCESS_KEY"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Load()
			cfg.Storage.MinIO = MinIOConfig{}
			tc.mutate(cfg)
			err := cfg.Validate()
			if tc.wantErr == "" {
				if err != nil {
					t.Errorf("expected no error, got %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tc.wantErr) {
				t.Errorf("expected error containing '%s', got %v", tc.wantErr, err)
			}
		})
	}
}
