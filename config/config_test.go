package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Skryldev/imagecodec/config"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := config.Default()
	require.NoError(t, config.Validate(cfg))
	assert.Equal(t, 85, cfg.DefaultJPEGQuality)
	assert.Equal(t, config.StorageLocal, cfg.Storage)
	assert.Empty(t, cfg.Engines)
	assert.Equal(t, int64(1<<30), cfg.MaxDecodeBytes)
	assert.Equal(t, "zip", cfg.EXRCompression)
}

func TestValidate(t *testing.T) {
	cases := map[string]func(*config.Config){
		"jpeg quality":    func(c *config.Config) { c.DefaultJPEGQuality = 0 },
		"png compression": func(c *config.Config) { c.DefaultPNGCompression = 10 },
		"raw compression": func(c *config.Config) { c.RawCompression = "brotli" },
		"chunk size":      func(c *config.Config) { c.ChunkSize = 0 },
		"max bytes":       func(c *config.Config) { c.MaxImageBytes = -1 },
		"max decode":      func(c *config.Config) { c.MaxDecodeBytes = -1 },
		"exr compression": func(c *config.Config) { c.EXRCompression = "piz" },
		"storage":         func(c *config.Config) { c.Storage = "ftp" },
		"s3 bucket":       func(c *config.Config) { c.Storage = config.StorageS3 },
		"log level":       func(c *config.Config) { c.LogLevel = "trace" },
		"duplicate engine": func(c *config.Config) {
			c.Engines = []string{"png", "raw", "png"}
		},
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := config.Default()
			mutate(&cfg)
			assert.Error(t, config.Validate(cfg))
		})
	}
}

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoad_TOML(t *testing.T) {
	path := writeFile(t, "codec.toml", `
engines = ["png", "raw"]
default_jpeg_quality = 70
raw_compression = "zstd"
max_image_bytes = 1048576
storage = "s3"

[s3]
bucket = "images"
region = "eu-west-1"
use_path_style = true
`)
	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"png", "raw"}, cfg.Engines)
	assert.Equal(t, 70, cfg.DefaultJPEGQuality)
	assert.Equal(t, 6, cfg.DefaultPNGCompression, "unset keys keep defaults")
	assert.Equal(t, "zstd", cfg.RawCompression)
	assert.EqualValues(t, 1<<20, cfg.MaxImageBytes)
	assert.Equal(t, config.StorageS3, cfg.Storage)
	assert.Equal(t, "images", cfg.S3.Bucket)
	assert.True(t, cfg.S3.UsePathStyle)
}

func TestLoad_YAML(t *testing.T) {
	path := writeFile(t, "codec.yaml", `
default_png_compression: 9
chunk_size: 4096
log_level: debug
local:
  root_dir: /var/lib/images
`)
	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, 9, cfg.DefaultPNGCompression)
	assert.Equal(t, 4096, cfg.ChunkSize)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "/var/lib/images", cfg.Local.RootDir)
	assert.Equal(t, 85, cfg.DefaultJPEGQuality)
}

func TestLoad_Errors(t *testing.T) {
	_, err := config.Load(writeFile(t, "codec.json", `{}`))
	assert.Error(t, err)

	_, err = config.Load(writeFile(t, "bad.toml", `default_jpeg_quality = "high"`))
	assert.Error(t, err)

	_, err = config.Load(writeFile(t, "invalid.yml", "default_jpeg_quality: 500\n"))
	assert.Error(t, err)

	_, err = config.Load(filepath.Join(t.TempDir(), "missing.toml"))
	assert.Error(t, err)
}
