package s3

import (
	"time"
)

// Config configures the S3-backed ObjectStore implementation.
type Config struct {
	Region         string `yaml:"region"`
	Endpoint       string `yaml:"endpoint"`
	ForcePathStyle bool   `yaml:"force_path_style"`

	MaxRetries     int           `yaml:"max_retries"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	PoolSize       int           `yaml:"pool_size"`

	UseAccelerate bool `yaml:"use_accelerate"`
	UseDualStack  bool `yaml:"use_dual_stack"`

	// EnableCargoShipOptimization routes PutObject through cargoship's
	// accelerated transporter instead of a plain client.PutObject call.
	EnableCargoShipOptimization bool `yaml:"enable_cargoship_optimization"`

	// StorageTier is the S3 storage class new objects are written with.
	// CreateMultipartUpload preserves an existing key's current class
	// instead of applying this default, so it only governs first writes.
	StorageTier string `yaml:"storage_tier"`
}

// NewDefaultConfig returns a configuration with sensible defaults.
func NewDefaultConfig() *Config {
	return &Config{
		Region:                      "us-east-1",
		MaxRetries:                  3,
		ConnectTimeout:              10 * time.Second,
		RequestTimeout:              30 * time.Second,
		PoolSize:                    8,
		EnableCargoShipOptimization: true,
		StorageTier:                 TierStandard,
	}
}
