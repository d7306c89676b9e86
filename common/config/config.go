// Package config provides configuration loading for the TelHawk ETL job.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Storage backends understood by the storage gateway.
const (
	BackendGCS    = "gcs"
	BackendMinIO  = "minio"
	BackendMemory = "memory"
)

// Config is the root configuration of the ETL job.
type Config struct {
	Source  SourceConfig  `mapstructure:"source"`
	Retry   RetryConfig   `mapstructure:"retry"`
	Storage StorageConfig `mapstructure:"storage"`
	Logging LoggingConfig `mapstructure:"logging"`
	Metrics MetricsConfig `mapstructure:"metrics"`
	NATS    NATSConfig    `mapstructure:"nats"`
	Redis   RedisConfig   `mapstructure:"redis"`
	Ledger  LedgerConfig  `mapstructure:"ledger"`
}

// SourceConfig describes the HTTP users endpoint.
type SourceConfig struct {
	URL      string        `mapstructure:"url"`
	Quantity int           `mapstructure:"quantity"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// RetryConfig is shared by the fetcher and the storage gateway.
type RetryConfig struct {
	Attempts      int     `mapstructure:"attempts"`
	BackoffFactor float64 `mapstructure:"backoff_factor"` // seconds
}

// BackoffBase returns the backoff factor as a duration.
func (r RetryConfig) BackoffBase() time.Duration {
	return time.Duration(r.BackoffFactor * float64(time.Second))
}

// StorageConfig holds object storage settings.
type StorageConfig struct {
	Backend    string      `mapstructure:"backend"`
	Bucket     string      `mapstructure:"bucket"`
	Prefix     string      `mapstructure:"prefix"`
	BlobName   string      `mapstructure:"blob_name"`
	StagingDir string      `mapstructure:"staging_dir"`
	GCS        GCSConfig   `mapstructure:"gcs"`
	MinIO      MinIOConfig `mapstructure:"minio"`
}

// GCSConfig holds Google Cloud Storage credentials.
type GCSConfig struct {
	CredentialsFile string `mapstructure:"credentials_file"`
	Anonymous       bool   `mapstructure:"anonymous"`
}

// MinIOConfig holds S3-compatible endpoint settings.
type MinIOConfig struct {
	Endpoint  string `mapstructure:"endpoint"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	UseSSL    bool   `mapstructure:"use_ssl"`
	Region    string `mapstructure:"region"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// MetricsConfig holds the optional Pushgateway target.
type MetricsConfig struct {
	PushgatewayURL string `mapstructure:"pushgateway_url"`
	Job            string `mapstructure:"job"`
}

// NATSConfig holds NATS message broker configuration
type NATSConfig struct {
	URL     string        `mapstructure:"url"`
	Enabled bool          `mapstructure:"enabled"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// RedisConfig holds Redis configuration for the run lock.
type RedisConfig struct {
	URL     string        `mapstructure:"url"`
	Enabled bool          `mapstructure:"enabled"`
	LockTTL time.Duration `mapstructure:"lock_ttl"`
}

// LedgerConfig holds the optional Postgres run ledger.
type LedgerConfig struct {
	DatabaseURL string `mapstructure:"database_url"`
	Migrate     bool   `mapstructure:"migrate"`
}

// Error reports an invalid configuration value.
type Error struct {
	Field  string
	Reason string
}

func (e *Error) Error() string {
	return fmt.Sprintf("invalid config %s: %s", e.Field, e.Reason)
}

// LoadDotEnv loads a .env file from the working directory into the process
// environment. A missing file is not an error.
func LoadDotEnv() error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to load .env: %w", err)
	}
	return nil
}

// Load reads configuration from configFile (or $ETL_CONFIG_DIR/config.yaml when
// empty) and environment variables. Environment variables use the ETL_ prefix;
// the legacy unprefixed names are honored for the bucket, prefix, blob name,
// retries, backoff and quantity.
func Load(configFile string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	explicit := configFile != ""
	if !explicit {
		configDir := os.Getenv("ETL_CONFIG_DIR")
		if configDir == "" {
			configDir = "/etc/telhawk"
		}
		configFile = filepath.Join(configDir, "config.yaml")
	}
	v.SetConfigFile(configFile)
	v.SetConfigType("yaml")

	v.SetEnvPrefix("ETL")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	_ = v.BindEnv("storage.bucket", "ETL_STORAGE_BUCKET", "GCS_BUCKET_NAME")
	_ = v.BindEnv("storage.prefix", "ETL_STORAGE_PREFIX", "GCS_BLOB_PREFIX")
	_ = v.BindEnv("storage.blob_name", "ETL_STORAGE_BLOB_NAME", "GCS_BLOB_NAME")
	_ = v.BindEnv("retry.attempts", "ETL_RETRY_ATTEMPTS", "REQUEST_RETRIES")
	_ = v.BindEnv("retry.backoff_factor", "ETL_RETRY_BACKOFF_FACTOR", "REQUEST_BACKOFF_FACTOR")
	_ = v.BindEnv("source.quantity", "ETL_SOURCE_QUANTITY", "FAKER_QUANTITY")
	_ = v.BindEnv("storage.gcs.credentials_file", "ETL_STORAGE_GCS_CREDENTIALS_FILE", "GOOGLE_APPLICATION_CREDENTIALS")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		missing := errors.As(err, &notFound) || errors.Is(err, fs.ErrNotExist)
		if explicit || !missing {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

// Validate checks values that must hold before any network activity.
func (c *Config) Validate() error {
	switch {
	case c.Source.URL == "":
		return &Error{Field: "source.url", Reason: "must not be empty"}
	case c.Source.Quantity <= 0:
		return &Error{Field: "source.quantity", Reason: fmt.Sprintf("must be a positive integer, got %d", c.Source.Quantity)}
	case c.Retry.Attempts < 1:
		return &Error{Field: "retry.attempts", Reason: fmt.Sprintf("must be at least 1, got %d", c.Retry.Attempts)}
	case c.Retry.BackoffFactor < 0:
		return &Error{Field: "retry.backoff_factor", Reason: "must not be negative"}
	case c.Storage.Bucket == "":
		return &Error{Field: "storage.bucket", Reason: "must not be empty"}
	case strings.TrimSpace(c.Storage.BlobName) == "":
		return &Error{Field: "storage.blob_name", Reason: "must not be empty"}
	}

	switch c.Storage.Backend {
	case BackendGCS, BackendMemory:
	case BackendMinIO:
		if c.Storage.MinIO.Endpoint == "" {
			return &Error{Field: "storage.minio.endpoint", Reason: "required for the minio backend"}
		}
	default:
		return &Error{Field: "storage.backend", Reason: fmt.Sprintf("unknown backend %q", c.Storage.Backend)}
	}

	return nil
}

// setDefaults sets all default configuration values
func setDefaults(v *viper.Viper) {
	// Source defaults
	v.SetDefault("source.url", "https://fakerapi.it/api/v1/users")
	v.SetDefault("source.quantity", 100)
	v.SetDefault("source.timeout", "30s")

	// Retry defaults
	v.SetDefault("retry.attempts", 3)
	v.SetDefault("retry.backoff_factor", 1.0)

	// Storage defaults
	v.SetDefault("storage.backend", BackendGCS)
	v.SetDefault("storage.bucket", "telhawk-etl")
	v.SetDefault("storage.prefix", "users")
	v.SetDefault("storage.blob_name", "dev/data_engineering_task.json")
	v.SetDefault("storage.staging_dir", "")
	v.SetDefault("storage.gcs.credentials_file", "")
	v.SetDefault("storage.gcs.anonymous", false)
	v.SetDefault("storage.minio.endpoint", "localhost:9000")
	v.SetDefault("storage.minio.access_key", "")
	v.SetDefault("storage.minio.secret_key", "")
	v.SetDefault("storage.minio.use_ssl", false)
	v.SetDefault("storage.minio.region", "")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")

	// Metrics defaults
	v.SetDefault("metrics.pushgateway_url", "")
	v.SetDefault("metrics.job", "telhawk_etl")

	// NATS defaults
	v.SetDefault("nats.url", "nats://nats:4222")
	v.SetDefault("nats.enabled", false)
	v.SetDefault("nats.timeout", "5s")

	// Redis defaults
	v.SetDefault("redis.url", "redis://localhost:6379/0")
	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.lock_ttl", "5m")

	// Ledger defaults
	v.SetDefault("ledger.database_url", "")
	v.SetDefault("ledger.migrate", true)
}
