package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Vnflow  VnflowConfig  `yaml:"vnflow"`
	Source  SourceConfig  `yaml:"source"`
	Cleaner CleanerConfig `yaml:"cleaner"`
	Schema  SchemaConfig  `yaml:"schema"`
	Quality QualityConfig `yaml:"quality"`
	Storage StorageConfig `yaml:"storage"`
	Logging LoggingConfig `yaml:"logging"`
}

type VnflowConfig struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
}

type SourceConfig struct {
	Vnstock VnstockConfig `yaml:"vnstock"`
}

type VnstockConfig struct {
	BaseURL           string        `yaml:"base_url"`
	ListingURL        string        `yaml:"listing_url"`
	Exchange          string        `yaml:"exchange"`
	Timeout           time.Duration `yaml:"timeout"`
	RequestsPerSecond float64       `yaml:"requests_per_second"`
	BurstSize         int           `yaml:"burst_size"`
	MaxRetries        int           `yaml:"max_retries"`
	RetryBaseDelay    time.Duration `yaml:"retry_base_delay"`
}

type CleanerConfig struct {
	MaxWorkers int `yaml:"max_workers"`
	// MaxRejectRatio is the fraction of the input batch that may be
	// rejected before the clean stage is treated as failed.
	MaxRejectRatio float64 `yaml:"max_reject_ratio"`
}

type SchemaConfig struct {
	Dir string `yaml:"dir"`
}

type QualityConfig struct {
	SampleLimit int `yaml:"sample_limit"`
}

type StorageConfig struct {
	S3 S3Config `yaml:"s3"`
}

type S3Config struct {
	Enabled         bool   `yaml:"enabled"`
	Bucket          string `yaml:"bucket"`
	Region          string `yaml:"region"`
	BasePath        string `yaml:"base_path"`
	Compression     string `yaml:"compression"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
}

type LoggingConfig struct {
	Level               string `yaml:"level"`
	Format              string `yaml:"format"`
	Output              string `yaml:"output"`
	MaxAge              int    `yaml:"max_age"`
	CloudWatchEnabled   bool   `yaml:"cloudwatch_enabled"`
	CloudWatchNamespace string `yaml:"cloudwatch_namespace"`
}

func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := Config{
		Cleaner: CleanerConfig{
			MaxWorkers:     1,
			MaxRejectRatio: 0.2,
		},
		Quality: QualityConfig{SampleLimit: 10},
	}
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	// Override S3 settings from environment variables if available
	if config.Storage.S3.Enabled {
		if v := os.Getenv("AWS_ACCESS_KEY_ID"); v != "" {
			config.Storage.S3.AccessKeyID = strings.TrimSpace(v)
		}
		if v := os.Getenv("AWS_SECRET_ACCESS_KEY"); v != "" {
			config.Storage.S3.SecretAccessKey = strings.TrimSpace(v)
		}
		if v := os.Getenv("AWS_REGION"); v != "" {
			config.Storage.S3.Region = strings.TrimSpace(v)
		}
		if v := os.Getenv("S3_BUCKET"); v != "" {
			config.Storage.S3.Bucket = strings.TrimSpace(v)
		}
	}

	config.Storage.S3.Bucket = strings.TrimSpace(config.Storage.S3.Bucket)

	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &config, nil
}

func validateConfig(cfg *Config) error {
	if cfg.Vnflow.Name == "" {
		return fmt.Errorf("vnflow.name is required")
	}

	if cfg.Vnflow.Version == "" {
		return fmt.Errorf("vnflow.version is required")
	}

	if cfg.Schema.Dir == "" {
		return fmt.Errorf("schema.dir is required")
	}

	if cfg.Cleaner.MaxWorkers <= 0 {
		return fmt.Errorf("cleaner.max_workers must be greater than 0")
	}
	if cfg.Cleaner.MaxRejectRatio < 0 || cfg.Cleaner.MaxRejectRatio > 1 {
		return fmt.Errorf("cleaner.max_reject_ratio must be within [0, 1]")
	}

	if cfg.Quality.SampleLimit <= 0 {
		return fmt.Errorf("quality.sample_limit must be greater than 0")
	}

	if cfg.Source.Vnstock.BaseURL != "" {
		if cfg.Source.Vnstock.RequestsPerSecond <= 0 {
			return fmt.Errorf("source.vnstock.requests_per_second must be greater than 0")
		}
		if cfg.Source.Vnstock.Timeout <= 0 {
			return fmt.Errorf("source.vnstock.timeout must be greater than 0")
		}
	}

	if cfg.Storage.S3.Enabled {
		if cfg.Storage.S3.Bucket == "" {
			return fmt.Errorf("storage.s3.bucket is required when S3 is enabled")
		}
		if cfg.Storage.S3.Region == "" {
			return fmt.Errorf("storage.s3.region is required when S3 is enabled")
		}
		if !isValidS3Bucket(cfg.Storage.S3.Bucket) {
			return fmt.Errorf("storage.s3.bucket '%s' is invalid", cfg.Storage.S3.Bucket)
		}
	}

	return nil
}

var s3BucketRegexp = regexp.MustCompile(`^[a-z0-9][a-z0-9.-]{1,61}[a-z0-9]$`)

func isValidS3Bucket(name string) bool {
	if len(name) < 3 || len(name) > 63 {
		return false
	}
	if strings.Contains(name, "..") || strings.HasPrefix(name, ".") || strings.HasSuffix(name, ".") {
		return false
	}
	return s3BucketRegexp.MatchString(name)
}
