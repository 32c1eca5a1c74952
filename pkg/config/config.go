// Package config loads datasetd's configuration: a JSON file overlaid
// by environment variables, following the teacher's DefaultConfig /
// LoadConfig / validateConfig shape (pkg/config/config.go) adapted from
// a single flat struct to the service's actual knobs (§6 "Environment").
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config is the application's full configuration tree.
type Config struct {
	Server  ServerConfig  `json:"server"`
	Storage StorageConfig `json:"storage"`
	Import  ImportConfig  `json:"import"`
	Worker  WorkerConfig  `json:"worker"`
	Query   QueryConfig   `json:"query"`
	Log     LogConfig     `json:"log"`
	Auth    AuthConfig    `json:"auth"`
}

// ServerConfig controls the HTTP listener.
type ServerConfig struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

// StorageConfig points at the embedded badger database.
type StorageConfig struct {
	Dir      string `json:"dir"`
	InMemory bool   `json:"in_memory"`
}

// ImportConfig bounds the import pipeline's resource usage (§4.7 stage 1,
// §5 "Resource caps").
type ImportConfig struct {
	MaxUploadBytes     int64         `json:"max_upload_bytes"`
	ChunkBytes         int           `json:"chunk_bytes"`
	BatchSize          int           `json:"batch_size"`
	CheckpointInterval int           `json:"checkpoint_interval_batches"`
	StageDir           string        `json:"stage_dir"`
	HeartbeatTimeout   time.Duration `json:"heartbeat_timeout"`
}

// WorkerConfig controls the job worker pool (§A.3).
type WorkerConfig struct {
	Count       int           `json:"count"`
	PollBackoff time.Duration `json:"poll_backoff"`
}

// QueryConfig bounds pagination (§4.8).
type QueryConfig struct {
	DefaultLimit int `json:"default_limit"`
	MaxLimit     int `json:"max_limit"`
}

// LogConfig holds the configured log level. Level is loaded from the
// config file and DATASETD_LOG_LEVEL, but no logger reads it; log lines
// are written regardless of level.
type LogConfig struct {
	Level string `json:"level"`
}

// AuthConfig holds the secret used to sign/verify bearer tokens.
type AuthConfig struct {
	TokenSigningSecret string `json:"token_signing_secret"`
}

// DefaultConfig returns the configuration used when no file or
// environment override is present.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 8080,
		},
		Storage: StorageConfig{
			Dir:      "./data/badger",
			InMemory: false,
		},
		Import: ImportConfig{
			MaxUploadBytes:     2 << 30, // 2 GiB
			ChunkBytes:         1 << 20, // 1 MiB
			BatchSize:          10000,
			CheckpointInterval: 5,
			StageDir:           "./data/staging",
			HeartbeatTimeout:   2 * time.Minute,
		},
		Worker: WorkerConfig{
			Count:       4,
			PollBackoff: 500 * time.Millisecond,
		},
		Query: QueryConfig{
			DefaultLimit: 100,
			MaxLimit:     1000,
		},
		Log: LogConfig{
			Level: "info",
		},
		Auth: AuthConfig{},
	}
}

// Load reads configPath (if non-empty) over the defaults, then applies
// environment overrides, and validates the result.
func Load(configPath string) (*Config, error) {
	cfg := DefaultConfig()
	if configPath != "" {
		data, err := os.ReadFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}
	applyEnvOverrides(cfg)
	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadOrDefault mirrors the teacher's LoadConfigOrDefault: honor
// DATASETD_CONFIG if set, otherwise fall back to defaults plus
// environment overrides.
func LoadOrDefault() *Config {
	if path := os.Getenv("DATASETD_CONFIG"); path != "" {
		if cfg, err := Load(path); err == nil {
			return cfg
		}
	}
	cfg, err := Load("")
	if err != nil {
		return DefaultConfig()
	}
	return cfg
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("DATASETD_HOST"); v != "" {
		cfg.Server.Host = v
	}
	if v := os.Getenv("DATASETD_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = n
		}
	}
	if v := os.Getenv("DATASETD_STORAGE_DIR"); v != "" {
		cfg.Storage.Dir = v
	}
	if v := os.Getenv("DATASETD_MAX_UPLOAD_BYTES"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.Import.MaxUploadBytes = n
		}
	}
	if v := os.Getenv("DATASETD_BATCH_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Import.BatchSize = n
		}
	}
	if v := os.Getenv("DATASETD_WORKER_COUNT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Worker.Count = n
		}
	}
	if v := os.Getenv("DATASETD_MAX_LIMIT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Query.MaxLimit = n
		}
	}
	if v := os.Getenv("DATASETD_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("DATASETD_TOKEN_SECRET"); v != "" {
		cfg.Auth.TokenSigningSecret = v
	}
}

func validate(cfg *Config) error {
	if cfg.Server.Port < 1 || cfg.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", cfg.Server.Port)
	}
	if cfg.Import.MaxUploadBytes < 1 {
		return fmt.Errorf("import.max_upload_bytes must be positive")
	}
	if cfg.Import.ChunkBytes < 1 {
		return fmt.Errorf("import.chunk_bytes must be positive")
	}
	if cfg.Import.BatchSize < 1 {
		return fmt.Errorf("import.batch_size must be positive")
	}
	if cfg.Worker.Count < 1 {
		return fmt.Errorf("worker.count must be positive")
	}
	if cfg.Query.MaxLimit < 1 {
		return fmt.Errorf("query.max_limit must be positive")
	}
	if cfg.Query.DefaultLimit < 1 || cfg.Query.DefaultLimit > cfg.Query.MaxLimit {
		return fmt.Errorf("query.default_limit must be in [1, max_limit]")
	}
	return nil
}

// ListenAddress returns the host:port the HTTP server should bind.
func (c *Config) ListenAddress() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}
