// Package config loads service configuration from an optional YAML file with
// environment overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
	BackendDynamoDB = "dynamodb"

	EventsNone  = "none"
	EventsKafka = "kafka"
)

type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Log         LogConfig         `yaml:"log"`
	Storage     StorageConfig     `yaml:"storage"`
	Idempotency IdempotencyConfig `yaml:"idempotency"`
	Redis       RedisConfig       `yaml:"redis"`
	DynamoDB    DynamoDBConfig    `yaml:"dynamodb"`
	Events      EventsConfig      `yaml:"events"`
	Bulk        BulkConfig        `yaml:"bulk"`
}

type ServerConfig struct {
	Port              string        `yaml:"port"`
	ReadHeaderTimeout time.Duration `yaml:"read_header_timeout"`
	ShutdownTimeout   time.Duration `yaml:"shutdown_timeout"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type StorageConfig struct {
	Backend     string `yaml:"backend"`
	DatabaseURL string `yaml:"database_url"`
}

type IdempotencyConfig struct {
	Backend       string        `yaml:"backend"`
	TTL           time.Duration `yaml:"ttl"`
	SweepInterval time.Duration `yaml:"sweep_interval"`
	SweepBackoff  time.Duration `yaml:"sweep_backoff"`
	// FailOpen runs the handler unprotected when the store cannot be reached.
	FailOpen bool `yaml:"fail_open"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type DynamoDBConfig struct {
	Table    string `yaml:"table"`
	Region   string `yaml:"region"`
	Endpoint string `yaml:"endpoint"`
}

type EventsConfig struct {
	Backend string   `yaml:"backend"`
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
}

type BulkConfig struct {
	MaxItems  int `yaml:"max_items"`
	MaxSizeMB int `yaml:"max_size_mb"`
}

func Default() Config {
	return Config{
		Server: ServerConfig{
			Port:              "8080",
			ReadHeaderTimeout: 5 * time.Second,
			ShutdownTimeout:   10 * time.Second,
		},
		Log:     LogConfig{Level: "info", Format: "json"},
		Storage: StorageConfig{Backend: BackendMemory},
		Idempotency: IdempotencyConfig{
			Backend:       BackendMemory,
			TTL:           time.Hour,
			SweepInterval: 10 * time.Minute,
			SweepBackoff:  time.Minute,
			FailOpen:      true,
		},
		Redis:    RedisConfig{Addr: "localhost:6379"},
		DynamoDB: DynamoDBConfig{Table: "idempotency_keys", Region: "us-east-1"},
		Events:   EventsConfig{Backend: EventsNone, Topic: "catalog.records"},
		Bulk:     BulkConfig{MaxItems: 1000, MaxSizeMB: 10},
	}
}

// Load reads defaults, then the YAML file at path (if non-empty), then
// environment overrides, and validates the result.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		content, err := os.ReadFile(filepath.Clean(path))
		if err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(content, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}
	if err := applyEnv(&cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// LoadFromEnv is Load with the file path taken from CONFIG_FILE.
func LoadFromEnv() (Config, error) {
	return Load(os.Getenv("CONFIG_FILE"))
}

func applyEnv(cfg *Config) error {
	setString("PORT", &cfg.Server.Port)
	setString("LOG_LEVEL", &cfg.Log.Level)
	setString("LOG_FORMAT", &cfg.Log.Format)
	setString("STORAGE_BACKEND", &cfg.Storage.Backend)
	setString("DATABASE_URL", &cfg.Storage.DatabaseURL)
	setString("IDEMPOTENCY_BACKEND", &cfg.Idempotency.Backend)
	setString("REDIS_ADDR", &cfg.Redis.Addr)
	setString("REDIS_PASSWORD", &cfg.Redis.Password)
	setString("DYNAMODB_TABLE", &cfg.DynamoDB.Table)
	setString("DYNAMODB_REGION", &cfg.DynamoDB.Region)
	setString("DYNAMODB_ENDPOINT", &cfg.DynamoDB.Endpoint)
	setString("EVENTS_BACKEND", &cfg.Events.Backend)
	setString("KAFKA_TOPIC", &cfg.Events.Topic)
	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		cfg.Events.Brokers = splitList(v)
	}

	var errs []error
	errs = append(errs,
		setDuration("IDEMPOTENCY_TTL", &cfg.Idempotency.TTL),
		setDuration("IDEMPOTENCY_SWEEP_INTERVAL", &cfg.Idempotency.SweepInterval),
		setDuration("IDEMPOTENCY_SWEEP_BACKOFF", &cfg.Idempotency.SweepBackoff),
		setBool("IDEMPOTENCY_FAIL_OPEN", &cfg.Idempotency.FailOpen),
		setInt("REDIS_DB", &cfg.Redis.DB),
		setInt("BULK_MAX_ITEMS", &cfg.Bulk.MaxItems),
		setInt("BULK_MAX_SIZE_MB", &cfg.Bulk.MaxSizeMB),
	)
	return errors.Join(errs...)
}

// Validate reports every invalid setting at once.
func (c Config) Validate() error {
	var errs []error
	if c.Server.Port == "" {
		errs = append(errs, errors.New("server.port is required"))
	}
	switch c.Log.Format {
	case "json", "text":
	default:
		errs = append(errs, fmt.Errorf("log.format must be json or text, got %q", c.Log.Format))
	}
	switch c.Storage.Backend {
	case BackendMemory:
	case BackendPostgres:
		if c.Storage.DatabaseURL == "" {
			errs = append(errs, errors.New("storage.database_url is required for the postgres backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("storage.backend must be memory or postgres, got %q", c.Storage.Backend))
	}
	switch c.Idempotency.Backend {
	case BackendMemory:
	case BackendPostgres:
		if c.Storage.DatabaseURL == "" {
			errs = append(errs, errors.New("storage.database_url is required for the postgres idempotency backend"))
		}
	case BackendRedis:
		if c.Redis.Addr == "" {
			errs = append(errs, errors.New("redis.addr is required for the redis idempotency backend"))
		}
	case BackendDynamoDB:
		if c.DynamoDB.Table == "" {
			errs = append(errs, errors.New("dynamodb.table is required for the dynamodb idempotency backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("idempotency.backend must be memory, postgres, redis or dynamodb, got %q", c.Idempotency.Backend))
	}
	if c.Idempotency.TTL <= 0 {
		errs = append(errs, fmt.Errorf("idempotency.ttl must be positive, got %s", c.Idempotency.TTL))
	}
	if c.Idempotency.SweepInterval <= 0 {
		errs = append(errs, fmt.Errorf("idempotency.sweep_interval must be positive, got %s", c.Idempotency.SweepInterval))
	}
	if c.Idempotency.SweepBackoff <= 0 {
		errs = append(errs, fmt.Errorf("idempotency.sweep_backoff must be positive, got %s", c.Idempotency.SweepBackoff))
	}
	switch c.Events.Backend {
	case EventsNone:
	case EventsKafka:
		if len(c.Events.Brokers) == 0 {
			errs = append(errs, errors.New("events.brokers is required for the kafka events backend"))
		}
		if c.Events.Topic == "" {
			errs = append(errs, errors.New("events.topic is required for the kafka events backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("events.backend must be none or kafka, got %q", c.Events.Backend))
	}
	if c.Bulk.MaxItems < 1 {
		errs = append(errs, fmt.Errorf("bulk.max_items must be at least 1, got %d", c.Bulk.MaxItems))
	}
	if c.Bulk.MaxSizeMB < 1 {
		errs = append(errs, fmt.Errorf("bulk.max_size_mb must be at least 1, got %d", c.Bulk.MaxSizeMB))
	}
	return errors.Join(errs...)
}

func setString(key string, dst *string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setDuration(key string, dst *time.Duration) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	// Bare integers are seconds.
	if n, err := strconv.Atoi(v); err == nil {
		*dst = time.Duration(n) * time.Second
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("%s must be a duration (e.g. 10m) or seconds: %w", key, err)
	}
	*dst = d
	return nil
}

func setInt(key string, dst *int) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("%s must be an integer: %w", key, err)
	}
	*dst = n
	return nil
}

func setBool(key string, dst *bool) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fmt.Errorf("%s must be a boolean: %w", key, err)
	}
	*dst = b
	return nil
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
