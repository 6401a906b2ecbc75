package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	defaultPort           = 8080
	defaultLogLevel       = "info"
	defaultBucket         = "user_videos"
	defaultMaxUploadBytes = 500 << 20
	defaultDataDir        = "data"
	defaultDriver         = "memory"
	defaultTimeout        = 5 * time.Minute
	defaultTopic          = "asset-stage-changes"
)

var defaultExtensions = []string{".mp4", ".mov", ".webm", ".mkv", ".mp3", ".wav", ".m4a"}

// Config describes runtime configuration for the service.
type Config struct {
	Port              int              `yaml:"port"`
	LogLevel          string           `yaml:"log_level"`
	Bucket            string           `yaml:"bucket"`
	AllowedExtensions []string         `yaml:"allowed_extensions"`
	MaxUploadBytes    int64            `yaml:"max_upload_bytes"`
	Storage           StorageConfig    `yaml:"storage"`
	Processing        ProcessingConfig `yaml:"processing"`
	Events            EventsConfig     `yaml:"events"`
	Secrets           Secrets          `yaml:"-"`
}

type StorageConfig struct {
	Driver        string      `yaml:"driver"`
	DataDir       string      `yaml:"data_dir"`
	PublicBaseURL string      `yaml:"public_base_url"`
	Minio         MinioConfig `yaml:"minio"`
}

type MinioConfig struct {
	Endpoint string `yaml:"endpoint"`
	UseSSL   bool   `yaml:"use_ssl"`
}

type ProcessingConfig struct {
	BaseURL string        `yaml:"base_url"`
	Timeout time.Duration `yaml:"timeout"`
}

// EventsConfig enables the Kafka stage event stream when Brokers is set.
type EventsConfig struct {
	Brokers string `yaml:"brokers"`
	Topic   string `yaml:"topic"`
}

// Secrets are read from the environment only.
type Secrets struct {
	MinioAccessKey string
	MinioSecretKey string
	JWTSecret      string
}

// Default returns sane defaults for local development.
func Default() Config {
	return Config{
		Port:              defaultPort,
		LogLevel:          defaultLogLevel,
		Bucket:            defaultBucket,
		AllowedExtensions: append([]string(nil), defaultExtensions...),
		MaxUploadBytes:    defaultMaxUploadBytes,
		Storage:           StorageConfig{Driver: defaultDriver, DataDir: defaultDataDir},
		Processing:        ProcessingConfig{Timeout: defaultTimeout},
		Events:            EventsConfig{Topic: defaultTopic},
	}
}

// Load reads YAML config from the provided path. If the file does not exist
// or is empty, defaults are returned with no error. Secrets are taken from
// the environment after loading envFile, when it exists.
func Load(path, envFile string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, errors.New("empty config path")
	}
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !os.IsNotExist(err) {
			return cfg, fmt.Errorf("load env file: %w", err)
		}
	}
	cfg.Secrets = Secrets{
		MinioAccessKey: os.Getenv("MINIO_ACCESS_KEY"),
		MinioSecretKey: os.Getenv("MINIO_SECRET_KEY"),
		JWTSecret:      os.Getenv("AUTH_JWT_SECRET"),
	}

	fileData, err := os.ReadFile(path) //nolint:gosec // config path is controlled by deployment
	if err != nil && !os.IsNotExist(err) {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if len(fileData) > 0 {
		if err := yaml.Unmarshal(fileData, &cfg); err != nil {
			return cfg, fmt.Errorf("parse yaml: %w", err)
		}
	}
	normalize(&cfg)
	return cfg, validate(cfg)
}

func normalize(cfg *Config) {
	if cfg.Port == 0 {
		cfg.Port = defaultPort
	}
	cfg.LogLevel = strings.ToLower(strings.TrimSpace(cfg.LogLevel))
	if cfg.LogLevel == "" {
		cfg.LogLevel = defaultLogLevel
	}
	if cfg.Bucket == "" {
		cfg.Bucket = defaultBucket
	}
	if cfg.MaxUploadBytes == 0 {
		cfg.MaxUploadBytes = defaultMaxUploadBytes
	}
	cfg.Storage.Driver = strings.ToLower(strings.TrimSpace(cfg.Storage.Driver))
	if cfg.Storage.Driver == "" {
		cfg.Storage.Driver = defaultDriver
	}
	if cfg.Storage.DataDir == "" {
		cfg.Storage.DataDir = defaultDataDir
	}
	if cfg.Processing.Timeout == 0 {
		cfg.Processing.Timeout = defaultTimeout
	}
	cfg.Processing.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.Processing.BaseURL), "/")
	if cfg.Events.Topic == "" {
		cfg.Events.Topic = defaultTopic
	}
	cfg.AllowedExtensions = normalizeExtensions(cfg.AllowedExtensions)
}

func validate(cfg Config) error {
	var errs []error
	if cfg.Port < 0 || cfg.Port > 65535 {
		errs = append(errs, fmt.Errorf("invalid port: %d", cfg.Port))
	}
	if cfg.MaxUploadBytes < 0 {
		errs = append(errs, fmt.Errorf("invalid max_upload_bytes: %d (must be >= 0)", cfg.MaxUploadBytes))
	}
	if cfg.Processing.Timeout < 0 {
		errs = append(errs, fmt.Errorf("invalid processing.timeout: %s", cfg.Processing.Timeout))
	}
	if cfg.Processing.BaseURL == "" {
		errs = append(errs, errors.New("processing.base_url is required"))
	}
	switch cfg.Storage.Driver {
	case "memory", "local":
	case "minio":
		if cfg.Storage.Minio.Endpoint == "" {
			errs = append(errs, errors.New("storage.minio.endpoint is required for the minio driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown storage.driver: %q", cfg.Storage.Driver))
	}
	if cfg.Secrets.JWTSecret == "" {
		errs = append(errs, errors.New("AUTH_JWT_SECRET is not set"))
	}
	return errors.Join(errs...)
}

func normalizeExtensions(in []string) []string {
	if len(in) == 0 {
		return append([]string(nil), defaultExtensions...)
	}
	seen := make(map[string]struct{}, len(in))
	normalized := make([]string, 0, len(in))
	for _, ext := range in {
		e := strings.ToLower(strings.TrimSpace(ext))
		if e == "" {
			continue
		}
		if !strings.HasPrefix(e, ".") {
			e = "." + e
		}
		if _, ok := seen[e]; ok {
			continue
		}
		seen[e] = struct{}{}
		normalized = append(normalized, e)
	}
	return normalized
}
