// Package config loads and validates the settings the page-cache core and
// its collaborators need: where the cache and stats files live, how big
// the worker pool and multipart parts are, and how to reach the S3
// backend.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v2"

	"github.com/nimbusfs/nimbusfs/pkg/utils"
)

// Configuration is the complete set of settings for one running instance.
type Configuration struct {
	Global    GlobalConfig    `yaml:"global"`
	Cache     CacheConfig     `yaml:"cache"`
	Multipart MultipartConfig `yaml:"multipart"`
	Workers   WorkerConfig    `yaml:"workers"`
	S3        S3Config        `yaml:"s3"`
	Retry     RetryConfig     `yaml:"retry"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

// GlobalConfig holds process-wide settings.
type GlobalConfig struct {
	LogLevel string `yaml:"log_level"`
	LogFile  string `yaml:"log_file"`
}

// CacheConfig controls where cached page data and its stats sidecar live.
type CacheConfig struct {
	Directory      string `yaml:"directory"`
	StatsSuffix    string `yaml:"stats_suffix"`
	AllowLegacyFmt bool   `yaml:"allow_legacy_format"`
}

// MultipartConfig bounds the sizes the upload planner may choose.
type MultipartConfig struct {
	MinPartSize string `yaml:"min_part_size"`
	MaxPartSize string `yaml:"max_part_size"`
	MaxParts    int    `yaml:"max_parts"`
}

// MinPartSizeBytes parses MinPartSize into bytes.
func (m MultipartConfig) MinPartSizeBytes() (int64, error) {
	return utils.ParseBytes(m.MinPartSize)
}

// MaxPartSizeBytes parses MaxPartSize into bytes.
func (m MultipartConfig) MaxPartSizeBytes() (int64, error) {
	return utils.ParseBytes(m.MaxPartSize)
}

// WorkerConfig sizes the fixed worker pool.
type WorkerConfig struct {
	PoolSize   int `yaml:"pool_size"`
	QueueDepth int `yaml:"queue_depth"`
}

// S3Config describes how to reach the object store backend.
type S3Config struct {
	Bucket             string `yaml:"bucket"`
	Region             string `yaml:"region"`
	Endpoint           string `yaml:"endpoint"`
	AccelerateEndpoint bool   `yaml:"accelerate_endpoint"`
	ForcePathStyle     bool   `yaml:"force_path_style"`
}

// RetryConfig mirrors pkg/retry.Config's shape so it round-trips through YAML.
type RetryConfig struct {
	MaxAttempts  int           `yaml:"max_attempts"`
	InitialDelay time.Duration `yaml:"initial_delay"`
	MaxDelay     time.Duration `yaml:"max_delay"`
	Multiplier   float64       `yaml:"multiplier"`
	Jitter       bool          `yaml:"jitter"`
}

// MetricsConfig controls the Prometheus exposition endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Port    int    `yaml:"port"`
	Path    string `yaml:"path"`
}

// NewDefault returns a configuration with sensible defaults.
func NewDefault() *Configuration {
	return &Configuration{
		Global: GlobalConfig{
			LogLevel: "INFO",
			LogFile:  "",
		},
		Cache: CacheConfig{
			Directory:      "/var/cache/nimbusfs",
			StatsSuffix:    ".stats",
			AllowLegacyFmt: true,
		},
		Multipart: MultipartConfig{
			MinPartSize: "5MB",
			MaxPartSize: "5GB",
			MaxParts:    10000,
		},
		Workers: WorkerConfig{
			PoolSize:   10,
			QueueDepth: 256,
		},
		S3: S3Config{
			Region:         "us-east-1",
			ForcePathStyle: false,
		},
		Retry: RetryConfig{
			MaxAttempts:  5,
			InitialDelay: 100 * time.Millisecond,
			MaxDelay:     30 * time.Second,
			Multiplier:   2.0,
			Jitter:       true,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Port:    9100,
			Path:    "/metrics",
		},
	}
}

// LoadFromFile loads configuration from a YAML file.
func (c *Configuration) LoadFromFile(filename string) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	return nil
}

// LoadFromEnv overlays environment variables onto an already-loaded configuration.
func (c *Configuration) LoadFromEnv() error {
	if val := os.Getenv("NIMBUSFS_LOG_LEVEL"); val != "" {
		c.Global.LogLevel = val
	}
	if val := os.Getenv("NIMBUSFS_LOG_FILE"); val != "" {
		c.Global.LogFile = val
	}
	if val := os.Getenv("NIMBUSFS_CACHE_DIR"); val != "" {
		c.Cache.Directory = val
	}
	if val := os.Getenv("NIMBUSFS_S3_BUCKET"); val != "" {
		c.S3.Bucket = val
	}
	if val := os.Getenv("NIMBUSFS_S3_REGION"); val != "" {
		c.S3.Region = val
	}
	if val := os.Getenv("NIMBUSFS_S3_ENDPOINT"); val != "" {
		c.S3.Endpoint = val
	}
	if val := os.Getenv("NIMBUSFS_WORKER_POOL_SIZE"); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			c.Workers.PoolSize = n
		}
	}
	if val := os.Getenv("NIMBUSFS_METRICS_PORT"); val != "" {
		if port, err := strconv.Atoi(val); err == nil {
			c.Metrics.Port = port
		}
	}
	if val := os.Getenv("NIMBUSFS_METRICS_ENABLED"); val != "" {
		c.Metrics.Enabled = strings.ToLower(val) == "true"
	}

	return nil
}

// SaveToFile writes the configuration to a YAML file.
func (c *Configuration) SaveToFile(filename string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(filename), 0750); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := os.WriteFile(filename, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Validate checks the configuration for internally inconsistent values.
func (c *Configuration) Validate() error {
	if c.Workers.PoolSize <= 0 {
		return fmt.Errorf("workers.pool_size must be greater than 0")
	}
	if c.Workers.QueueDepth <= 0 {
		return fmt.Errorf("workers.queue_depth must be greater than 0")
	}
	if c.S3.Bucket == "" {
		return fmt.Errorf("s3.bucket must be set")
	}

	minSize, err := c.Multipart.MinPartSizeBytes()
	if err != nil {
		return fmt.Errorf("multipart.min_part_size: %w", err)
	}
	maxSize, err := c.Multipart.MaxPartSizeBytes()
	if err != nil {
		return fmt.Errorf("multipart.max_part_size: %w", err)
	}
	if minSize <= 0 || maxSize <= 0 {
		return fmt.Errorf("multipart part sizes must be positive")
	}
	if minSize > maxSize {
		return fmt.Errorf("multipart.min_part_size (%d) exceeds max_part_size (%d)", minSize, maxSize)
	}
	if c.Multipart.MaxParts <= 0 {
		return fmt.Errorf("multipart.max_parts must be greater than 0")
	}

	if _, err := utils.ParseLogLevel(c.Global.LogLevel); err != nil {
		return fmt.Errorf("global.log_level: %w", err)
	}

	return nil
}
