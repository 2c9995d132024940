package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	DefaultConfigPath = "config/config.yml"

	defaultSourceName     = "chicago"
	defaultPageSize       = 50000
	defaultTimeout        = 60 * time.Second
	defaultOrderField     = "date"
	defaultTimestampField = "date"
	defaultMaxPages       = 10000
	defaultContentType    = "text/csv"
	defaultNamespace      = "ChicagoIngest"
)

var envConfigPaths = map[string]string{
	EnvironmentStaging:    "config/config.staging.yml",
	EnvironmentProduction: "config/config.production.yml",
}

type Config struct {
	Ingest  IngestConfig  `yaml:"ingest"`
	Source  SourceConfig  `yaml:"source"`
	Storage StorageConfig `yaml:"storage"`
	Metrics MetricsConfig `yaml:"metrics"`
	Logging LoggingConfig `yaml:"logging"`
}

type IngestConfig struct {
	Name       string `yaml:"name"`
	Version    string `yaml:"version"`
	SourceName string `yaml:"source_name"`
}

// SourceConfig describes the paginated open-data endpoint.
type SourceConfig struct {
	URL               string        `yaml:"url"`
	PageSize          int           `yaml:"page_size"`
	Timeout           time.Duration `yaml:"timeout"`
	OrderField        string        `yaml:"order_field"`
	TimestampField    string        `yaml:"timestamp_field"`
	MaxPages          int           `yaml:"max_pages"`
	RequestsPerSecond float64       `yaml:"requests_per_second"`
	AppToken          string        `yaml:"app_token"`
	UserAgent         string        `yaml:"user_agent"`
}

type StorageConfig struct {
	S3 S3Config `yaml:"s3"`
}

type S3Config struct {
	Bucket          string `yaml:"bucket"`
	Prefix          string `yaml:"prefix"`
	Region          string `yaml:"region"`
	Endpoint        string `yaml:"endpoint"`
	PathStyle       bool   `yaml:"path_style"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	ContentType     string `yaml:"content_type"`
}

type MetricsConfig struct {
	CloudWatch bool   `yaml:"cloudwatch"`
	Namespace  string `yaml:"namespace"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
	MaxAge int    `yaml:"max_age"`
}

// Default returns the configuration used before the file and environment
// are applied.
func Default() Config {
	return Config{
		Ingest: IngestConfig{
			Name:       "chicago-crime-ingest",
			Version:    "1.0.0",
			SourceName: defaultSourceName,
		},
		Source: SourceConfig{
			PageSize:       defaultPageSize,
			Timeout:        defaultTimeout,
			OrderField:     defaultOrderField,
			TimestampField: defaultTimestampField,
			MaxPages:       defaultMaxPages,
		},
		Storage: StorageConfig{
			S3: S3Config{ContentType: defaultContentType},
		},
		Metrics: MetricsConfig{Namespace: defaultNamespace},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// ResolvePath picks the config file for the current APP_ENV. An explicit
// CONFIG_PATH always wins.
func ResolvePath() string {
	if p := strings.TrimSpace(os.Getenv("CONFIG_PATH")); p != "" {
		return p
	}
	return resolveEnvSpecificPath("", DefaultConfigPath, envConfigPaths)
}

// LoadConfig reads the YAML file at path, applies environment overrides and
// validates the result. Outside staging and production a missing file at a
// default location is tolerated so the job can run from environment
// variables alone.
func LoadConfig(path string) (*Config, error) {
	config := Default()

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &config); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	case errors.Is(err, os.ErrNotExist) && isDefaultPath(path) && !IsProductionLike(AppEnvironment()):
	default:
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	applyEnv(&config)

	config.Storage.S3.Bucket = strings.TrimSpace(config.Storage.S3.Bucket)
	config.Storage.S3.Prefix = strings.Trim(strings.TrimSpace(config.Storage.S3.Prefix), "/")

	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &config, nil
}

func isDefaultPath(path string) bool {
	if path == DefaultConfigPath {
		return true
	}
	for _, p := range envConfigPaths {
		if path == p {
			return true
		}
	}
	return false
}

func applyEnv(config *Config) {
	if v := os.Getenv("CHICAGO_API"); v != "" {
		config.Source.URL = strings.TrimSpace(v)
	}
	if v := os.Getenv("CHICAGO_APP_TOKEN"); v != "" {
		config.Source.AppToken = strings.TrimSpace(v)
	}
	if v := os.Getenv("S3_BUCKET"); v != "" {
		config.Storage.S3.Bucket = strings.TrimSpace(v)
	}
	if v := os.Getenv("S3_PREFIX"); v != "" {
		config.Storage.S3.Prefix = strings.TrimSpace(v)
	}
	if v := os.Getenv("AWS_REGION"); v != "" {
		config.Storage.S3.Region = strings.TrimSpace(v)
	}
	if v := os.Getenv("AWS_ACCESS_KEY_ID"); v != "" {
		config.Storage.S3.AccessKeyID = strings.TrimSpace(v)
	}
	if v := os.Getenv("AWS_SECRET_ACCESS_KEY"); v != "" {
		config.Storage.S3.SecretAccessKey = strings.TrimSpace(v)
	}
}

func validateConfig(cfg *Config) error {
	if cfg.Ingest.Name == "" {
		return fmt.Errorf("ingest.name is required")
	}
	if strings.Trim(cfg.Ingest.SourceName, "/ ") == "" {
		return fmt.Errorf("ingest.source_name is required")
	}

	if cfg.Source.URL == "" {
		return fmt.Errorf("source.url is required (set CHICAGO_API)")
	}
	u, err := url.Parse(cfg.Source.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("source.url '%s' must be an absolute http(s) URL", cfg.Source.URL)
	}
	if cfg.Source.PageSize <= 0 {
		return fmt.Errorf("source.page_size must be greater than 0")
	}
	if cfg.Source.Timeout <= 0 {
		return fmt.Errorf("source.timeout must be greater than 0")
	}
	if cfg.Source.MaxPages <= 0 {
		return fmt.Errorf("source.max_pages must be greater than 0")
	}
	if cfg.Source.RequestsPerSecond < 0 {
		return fmt.Errorf("source.requests_per_second must not be negative")
	}
	if cfg.Source.OrderField == "" || cfg.Source.TimestampField == "" {
		return fmt.Errorf("source.order_field and source.timestamp_field are required")
	}

	if cfg.Storage.S3.Bucket == "" {
		return fmt.Errorf("storage.s3.bucket is required (set S3_BUCKET)")
	}
	if !isValidS3Bucket(cfg.Storage.S3.Bucket) {
		return fmt.Errorf("storage.s3.bucket '%s' is invalid", cfg.Storage.S3.Bucket)
	}
	if (cfg.Storage.S3.AccessKeyID == "") != (cfg.Storage.S3.SecretAccessKey == "") {
		return fmt.Errorf("storage.s3.access_key_id and storage.s3.secret_access_key must be set together")
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
