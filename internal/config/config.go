package config

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

//go:embed defaults.yaml
var defaultsYAML []byte

type Config struct {
	Server    ServerConfig
	Log       LogConfig
	Database  DatabaseConfig
	Storage   StorageConfig
	Extractor ExtractorConfig
	Index     IndexConfig
	Match     MatchConfig
	Uploads   UploadConfig
	Guest     GuestConfig
	Auth      AuthConfig
	Queue     QueueConfig
}

type ServerConfig struct {
	Host      string // defaults to 0.0.0.0
	Port      int    // defaults to 8080
	PublicURL string // base URL printed into event QR codes (e.g., https://photos.example.com)
	// AllowedOrigins receive CORS headers in addition to localhost.
	AllowedOrigins []string
}

// EventURL returns the guest landing URL for an event code, the target of the event QR code.
func (c *ServerConfig) EventURL(code string) string {
	base := strings.TrimSuffix(c.PublicURL, "/")
	if base == "" {
		base = fmt.Sprintf("http://localhost:%d", c.Port)
	}
	return base + "/event.html?code=" + code
}

type LogConfig struct {
	Level string // debug, info, warn, error
}

type DatabaseConfig struct {
	URL          string // PostgreSQL connection URL
	MaxOpenConns int    // Maximum open connections (default 25)
	MaxIdleConns int    // Maximum idle connections (default 5)
}

type StorageConfig struct {
	Dir   string // local blob directory, used when MinIO is not configured
	MinIO MinIOConfig
}

type MinIOConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

// Enabled reports whether blobs go to MinIO instead of the local directory.
func (c *MinIOConfig) Enabled() bool {
	return c.Endpoint != ""
}

type ExtractorConfig struct {
	Backend string        // classical or remote
	URL     string        // embedding server URL for the remote backend
	Mode    string        // face or image (remote only)
	Dim     int           // descriptor dimensionality, fixed process-wide
	Timeout time.Duration // per-request timeout for the remote backend
}

type IndexConfig struct {
	Shards            int `yaml:"shards"`
	MaxResidentEvents int `yaml:"max_resident_events"`
	HNSWMinEntries    int `yaml:"hnsw_min_entries"`
}

type MatchConfig struct {
	TopK      int     `yaml:"top_k"`
	Threshold float64 `yaml:"threshold"`
}

type UploadConfig struct {
	MaxPhotoBytes  int64 `yaml:"max_photo_bytes"`
	MaxSelfieBytes int64 `yaml:"max_selfie_bytes"`
	MaxFiles       int   `yaml:"max_files"`
}

type GuestConfig struct {
	RateLimitPerMinute int `yaml:"rate_limit_per_minute"`
}

type AuthConfig struct {
	JWTSecret string
	Issuer    string
	TokenTTL  time.Duration // defaults to 30 days
}

type QueueConfig struct {
	NATSURL string // empty disables the async index pipeline
	Workers int
}

// Enabled reports whether uploads are indexed through NATS.
func (c *QueueConfig) Enabled() bool {
	return c.NATSURL != ""
}

type defaults struct {
	Match   MatchConfig  `yaml:"match"`
	Index   IndexConfig  `yaml:"index"`
	Uploads UploadConfig `yaml:"uploads"`
	Guest   GuestConfig  `yaml:"guest"`
}

// envInt reads an environment variable and parses it as a positive integer.
// Returns the default value if the env var is unset, empty, or invalid.
func envInt(key string, defaultVal int) int {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if n, err := strconv.Atoi(s); err == nil && n > 0 {
		return n
	}
	return defaultVal
}

// envFloat reads an environment variable as a float64, falling back on parse errors.
func envFloat(key string, defaultVal float64) float64 {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	return defaultVal
}

// envDuration reads a Go duration string (e.g. "30s", "720h").
func envDuration(key string, defaultVal time.Duration) time.Duration {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if d, err := time.ParseDuration(s); err == nil && d > 0 {
		return d
	}
	return defaultVal
}

func envString(key, defaultVal string) string {
	if s := os.Getenv(key); s != "" {
		return s
	}
	return defaultVal
}

// envList splits a comma-separated variable, dropping empty items.
func envList(key string) []string {
	var out []string
	for item := range strings.SplitSeq(os.Getenv(key), ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func envBool(key string) bool {
	b, _ := strconv.ParseBool(os.Getenv(key))
	return b
}

func Load() *Config {
	var d defaults
	if err := yaml.Unmarshal(defaultsYAML, &d); err != nil {
		// This is an embedded file so this error should never happen in practice
		panic("failed to unmarshal embedded defaults.yaml: " + err.Error())
	}

	return &Config{
		Server: ServerConfig{
			Host:           envString("WEB_HOST", "0.0.0.0"),
			Port:           envInt("WEB_PORT", 8080),
			PublicURL:      os.Getenv("PUBLIC_URL"),
			AllowedOrigins: envList("WEB_ALLOWED_ORIGINS"),
		},
		Log: LogConfig{
			Level: envString("LOG_LEVEL", "info"),
		},
		Database: DatabaseConfig{
			URL:          os.Getenv("DATABASE_URL"),
			MaxOpenConns: envInt("DATABASE_MAX_OPEN_CONNS", 25),
			MaxIdleConns: envInt("DATABASE_MAX_IDLE_CONNS", 5),
		},
		Storage: StorageConfig{
			Dir: envString("STORAGE_DIR", "./uploads"),
			MinIO: MinIOConfig{
				Endpoint:  os.Getenv("MINIO_ENDPOINT"),
				AccessKey: os.Getenv("MINIO_ACCESS_KEY"),
				SecretKey: os.Getenv("MINIO_SECRET_KEY"),
				Bucket:    envString("MINIO_BUCKET", "event-photos"),
				UseSSL:    envBool("MINIO_USE_SSL"),
			},
		},
		Extractor: ExtractorConfig{
			Backend: envString("EXTRACTOR_BACKEND", "classical"),
			URL:     os.Getenv("EXTRACTOR_URL"),
			Mode:    envString("EXTRACTOR_REMOTE_MODE", "face"),
			Dim:     envInt("EXTRACTOR_DIM", 128),
			Timeout: envDuration("EXTRACTOR_TIMEOUT", 30*time.Second),
		},
		Index: IndexConfig{
			Shards:            envInt("INDEX_SHARDS", d.Index.Shards),
			MaxResidentEvents: envInt("INDEX_MAX_RESIDENT_EVENTS", d.Index.MaxResidentEvents),
			HNSWMinEntries:    envInt("INDEX_HNSW_MIN_ENTRIES", d.Index.HNSWMinEntries),
		},
		Match: MatchConfig{
			TopK:      envInt("MATCH_TOP_K", d.Match.TopK),
			Threshold: envFloat("MATCH_THRESHOLD", d.Match.Threshold),
		},
		Uploads: UploadConfig{
			MaxPhotoBytes:  int64(envInt("UPLOAD_MAX_PHOTO_BYTES", int(d.Uploads.MaxPhotoBytes))),
			MaxSelfieBytes: int64(envInt("UPLOAD_MAX_SELFIE_BYTES", int(d.Uploads.MaxSelfieBytes))),
			MaxFiles:       envInt("UPLOAD_MAX_FILES", d.Uploads.MaxFiles),
		},
		Guest: GuestConfig{
			RateLimitPerMinute: envInt("GUEST_RATE_LIMIT", d.Guest.RateLimitPerMinute),
		},
		Auth: AuthConfig{
			JWTSecret: os.Getenv("JWT_SECRET"),
			Issuer:    envString("JWT_ISSUER", "event-photos"),
			TokenTTL:  envDuration("JWT_TTL", 30*24*time.Hour),
		},
		Queue: QueueConfig{
			NATSURL: os.Getenv("NATS_URL"),
			Workers: envInt("INDEX_WORKERS", 4),
		},
	}
}

// Validate checks the values that cannot be defaulted silently.
func (c *Config) Validate() error {
	if c.Match.TopK <= 0 {
		return errors.New("MATCH_TOP_K must be positive")
	}
	if c.Match.Threshold < 0 || c.Match.Threshold > 1 {
		return fmt.Errorf("MATCH_THRESHOLD must be within [0,1], got %v", c.Match.Threshold)
	}
	switch c.Extractor.Backend {
	case "classical":
	case "remote":
		if c.Extractor.URL == "" {
			return errors.New("EXTRACTOR_URL is required for the remote extractor")
		}
		if c.Extractor.Mode != "face" && c.Extractor.Mode != "image" {
			return fmt.Errorf("EXTRACTOR_REMOTE_MODE must be face or image, got %q", c.Extractor.Mode)
		}
	default:
		return fmt.Errorf("unknown EXTRACTOR_BACKEND %q", c.Extractor.Backend)
	}
	if c.Storage.MinIO.Enabled() && (c.Storage.MinIO.AccessKey == "" || c.Storage.MinIO.SecretKey == "") {
		return errors.New("MINIO_ACCESS_KEY and MINIO_SECRET_KEY are required with MINIO_ENDPOINT")
	}
	return nil
}
