package main

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	DefaultThresholdAmount           = 50000
	DefaultAlertWindowSeconds        = 60
	DefaultMaxAccounts               = 5000
	DefaultMaxTransactionsPerAccount = 10000
	DefaultWorkers                   = 4
	DefaultHTTPAddr                  = ":8080"
	DefaultKafkaTopic                = "aml.alerts"
	DefaultKafkaGroup                = "aml-alerting"

	DriverSequential = "sequential"
	DriverSharded    = "sharded"
	DriverPipeline   = "pipeline"
)

var ErrInvalidConfig = errors.New("invalid config")

// Config holds all configuration for the alerting system
type Config struct {
	// Alert rule, fixed for the lifetime of a registry.
	ThresholdAmount    int64 `yaml:"threshold_amount"`
	AlertWindowSeconds int   `yaml:"alert_window_seconds"`

	// Ingestion ceilings.
	MaxAccounts               int `yaml:"max_accounts"`
	MaxTransactionsPerAccount int `yaml:"max_transactions_per_account"`

	Driver  string `yaml:"driver"`
	Workers int    `yaml:"workers"`

	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`

	HTTPAddr string      `yaml:"http_addr"`
	Kafka    KafkaConfig `yaml:"kafka"`
}

// KafkaConfig holds the Kafka settings. An empty broker list disables Kafka.
// FeedTopic is only consumed by the API server; leave it empty to accept
// transactions over HTTP only.
type KafkaConfig struct {
	Brokers   []string `yaml:"brokers"`
	Topic     string   `yaml:"topic"`
	FeedTopic string   `yaml:"feed_topic"`
	Group     string   `yaml:"group"`
}

func DefaultConfig() Config {
	return Config{
		ThresholdAmount:           DefaultThresholdAmount,
		AlertWindowSeconds:        DefaultAlertWindowSeconds,
		MaxAccounts:               DefaultMaxAccounts,
		MaxTransactionsPerAccount: DefaultMaxTransactionsPerAccount,
		Driver:                    DriverSequential,
		Workers:                   DefaultWorkers,
		LogLevel:                  "info",
		LogFormat:                 "text",
		HTTPAddr:                  DefaultHTTPAddr,
		Kafka:                     KafkaConfig{Topic: DefaultKafkaTopic, Group: DefaultKafkaGroup},
	}
}

// AlertWindow returns the trailing window length.
func (c Config) AlertWindow() time.Duration {
	return time.Duration(c.AlertWindowSeconds) * time.Second
}

func (c Config) Limits() Limits {
	return Limits{
		MaxAccounts:               c.MaxAccounts,
		MaxTransactionsPerAccount: c.MaxTransactionsPerAccount,
	}
}

func (c Config) Validate() error {
	if c.ThresholdAmount < 0 {
		return fmt.Errorf("%w: threshold_amount must not be negative", ErrInvalidConfig)
	}
	if c.AlertWindowSeconds <= 0 {
		return fmt.Errorf("%w: alert_window_seconds must be positive", ErrInvalidConfig)
	}
	if c.MaxAccounts <= 0 || c.MaxTransactionsPerAccount <= 0 {
		return fmt.Errorf("%w: ingestion limits must be positive", ErrInvalidConfig)
	}
	switch c.Driver {
	case DriverSequential:
	case DriverSharded, DriverPipeline:
		if c.Workers <= 0 {
			return fmt.Errorf("%w: workers must be positive", ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: unknown driver %q", ErrInvalidConfig, c.Driver)
	}
	if c.Kafka.FeedTopic != "" && (len(c.Kafka.Brokers) == 0 || c.Kafka.Group == "") {
		return fmt.Errorf("%w: kafka feed_topic needs brokers and a group", ErrInvalidConfig)
	}
	return nil
}

// LoadConfig loads configuration from a YAML file on top of the defaults
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}

	// Expand environment variables
	expanded := os.ExpandEnv(string(data))

	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return cfg, fmt.Errorf("parse %s: %w", path, err)
	}

	return cfg, cfg.Validate()
}

// LoadConfigFromEnv loads configuration from environment variables.
// A .env file in the working directory is read first when present.
func LoadConfigFromEnv() (Config, error) {
	_ = godotenv.Load()

	d := DefaultConfig()
	cfg := Config{
		ThresholdAmount:           getEnvInt64("AML_THRESHOLD_AMOUNT", d.ThresholdAmount),
		AlertWindowSeconds:        getEnvInt("AML_ALERT_WINDOW_SECONDS", d.AlertWindowSeconds),
		MaxAccounts:               getEnvInt("AML_MAX_ACCOUNTS", d.MaxAccounts),
		MaxTransactionsPerAccount: getEnvInt("AML_MAX_TRANSACTIONS_PER_ACCOUNT", d.MaxTransactionsPerAccount),
		Driver:                    getEnv("AML_DRIVER", d.Driver),
		Workers:                   getEnvInt("AML_WORKERS", d.Workers),
		LogLevel:                  getEnv("AML_LOG_LEVEL", d.LogLevel),
		LogFormat:                 getEnv("AML_LOG_FORMAT", d.LogFormat),
		HTTPAddr:                  getEnv("AML_HTTP_ADDR", d.HTTPAddr),
		Kafka: KafkaConfig{
			Brokers:   splitCSV(getEnv("AML_KAFKA_BROKERS", "")),
			Topic:     getEnv("AML_KAFKA_TOPIC", d.Kafka.Topic),
			FeedTopic: getEnv("AML_KAFKA_FEED_TOPIC", ""),
			Group:     getEnv("AML_KAFKA_GROUP", d.Kafka.Group),
		},
	}

	return cfg, cfg.Validate()
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.ParseInt(value, 10, 64); err == nil {
			return i
		}
	}
	return defaultValue
}

func splitCSV(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, x := range parts {
		x = strings.TrimSpace(x)
		if x != "" {
			out = append(out, x)
		}
	}
	return out
}
