package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/goccy/go-yaml"
)

// StorageBackend selects the storage adapter.
type StorageBackend string

const (
	StorageLocal StorageBackend = "local"
	StorageS3    StorageBackend = "s3"
)

// Config is the top-level configuration struct. All fields have safe defaults
// so callers can start with Default() and override only what they need.
type Config struct {
	// Engines is the detection order by format name. Empty means every built-in
	// engine in default order.
	Engines []string `toml:"engines" yaml:"engines"`

	// Default encode settings applied when a write carries no options.
	DefaultJPEGQuality    int    `toml:"default_jpeg_quality" yaml:"default_jpeg_quality"`       // 1-100; default 85
	DefaultPNGCompression int    `toml:"default_png_compression" yaml:"default_png_compression"` // 0-9; default 6
	RawCompression        string `toml:"raw_compression" yaml:"raw_compression"`                 // "none" or "zstd"
	EXRCompression        string `toml:"exr_compression" yaml:"exr_compression"`                 // "none", "zips" or "zip"

	// Streaming / memory limits.
	MaxImageBytes  int64 `toml:"max_image_bytes" yaml:"max_image_bytes"`   // 0 = no limit
	MaxDecodeBytes int64 `toml:"max_decode_bytes" yaml:"max_decode_bytes"` // decoded pixel bytes; 0 = no limit
	ChunkSize      int   `toml:"chunk_size" yaml:"chunk_size"`             // default 32 KiB

	// Storage.
	Storage StorageBackend `toml:"storage" yaml:"storage"`
	Local   LocalConfig    `toml:"local" yaml:"local"`
	S3      S3Config       `toml:"s3" yaml:"s3"`

	// Logging / metrics.
	LogLevel         string `toml:"log_level" yaml:"log_level"` // "debug", "info", "warn", "error"
	MetricsNamespace string `toml:"metrics_namespace" yaml:"metrics_namespace"`
}

// LocalConfig configures the local filesystem storage adapter.
type LocalConfig struct {
	RootDir     string `toml:"root_dir" yaml:"root_dir"`
	Permissions uint32 `toml:"permissions" yaml:"permissions"` // default 0644
}

// S3Config configures the S3 storage adapter.
type S3Config struct {
	Bucket       string `toml:"bucket" yaml:"bucket"`
	Region       string `toml:"region" yaml:"region"`
	Endpoint     string `toml:"endpoint" yaml:"endpoint"` // optional custom endpoint (MinIO, etc.)
	UsePathStyle bool   `toml:"use_path_style" yaml:"use_path_style"`
}

// Default returns a Config populated with sensible production defaults.
func Default() Config {
	return Config{
		DefaultJPEGQuality:    85,
		DefaultPNGCompression: 6,
		RawCompression:        "none",
		EXRCompression:        "zip",
		MaxDecodeBytes:        1 << 30,
		ChunkSize:             32 * 1024,
		Storage:               StorageLocal,
		Local:                 LocalConfig{Permissions: 0o644},
		LogLevel:              "info",
		MetricsNamespace:      "imagecodec",
	}
}

// Validate returns an error if the configuration is inconsistent.
func Validate(c Config) error {
	if c.DefaultJPEGQuality < 1 || c.DefaultJPEGQuality > 100 {
		return errors.New("config: DefaultJPEGQuality must be between 1 and 100")
	}
	if c.DefaultPNGCompression < 0 || c.DefaultPNGCompression > 9 {
		return errors.New("config: DefaultPNGCompression must be between 0 and 9")
	}
	switch c.RawCompression {
	case "", "none", "zstd":
	default:
		return fmt.Errorf("config: unknown RawCompression %q", c.RawCompression)
	}
	switch c.EXRCompression {
	case "", "none", "zips", "zip":
	default:
		return fmt.Errorf("config: unknown EXRCompression %q", c.EXRCompression)
	}
	if c.ChunkSize <= 0 {
		return errors.New("config: ChunkSize must be positive")
	}
	if c.MaxImageBytes < 0 {
		return errors.New("config: MaxImageBytes must not be negative")
	}
	if c.MaxDecodeBytes < 0 {
		return errors.New("config: MaxDecodeBytes must not be negative")
	}
	switch c.Storage {
	case "", StorageLocal:
	case StorageS3:
		if c.S3.Bucket == "" {
			return errors.New("config: S3.Bucket is required for s3 storage")
		}
	default:
		return fmt.Errorf("config: unknown Storage %q", c.Storage)
	}
	switch c.LogLevel {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("config: unknown LogLevel %q", c.LogLevel)
	}
	seen := make(map[string]bool, len(c.Engines))
	for _, e := range c.Engines {
		if seen[e] {
			return fmt.Errorf("config: engine %q listed twice", e)
		}
		seen[e] = true
	}
	return nil
}

// Load reads a TOML (.toml) or YAML (.yaml, .yml) file over Default() and
// validates the result.
func Load(path string) (Config, error) {
	cfg := Default()
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return Config{}, fmt.Errorf("config: %s: %w", path, err)
		}
	case ".yaml", ".yml":
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("config: %s: %w", path, err)
		}
	default:
		return Config{}, fmt.Errorf("config: unsupported file type %q", filepath.Ext(path))
	}
	if err := Validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
