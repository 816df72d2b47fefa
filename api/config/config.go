package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Port     string `yaml:"port"`
	Env      string `yaml:"env"`
	LogLevel string `yaml:"log_level"`

	// DatabaseURL empty selects the volatile in-memory repository.
	DatabaseURL string `yaml:"database_url"`
	// RedisAddr empty disables the status mirror.
	RedisAddr string `yaml:"redis_addr"`
	// KafkaBrokers empty disables event publishing.
	KafkaBrokers string `yaml:"kafka_brokers"`
	KafkaTopic   string `yaml:"kafka_topic"`
	KafkaGroupID string `yaml:"kafka_group_id"`

	MaxFileSize  int64         `yaml:"max_file_size"`
	TempDir      string        `yaml:"temp_dir"`
	FetchTimeout time.Duration `yaml:"fetch_timeout"`

	WorkerCount      int           `yaml:"worker_count"`
	Model            string        `yaml:"model"`
	EngineEndpoint   string        `yaml:"engine_endpoint"`
	EngineAPIKey     string        `yaml:"engine_api_key"`
	EngineTimeout    time.Duration `yaml:"engine_timeout"`
	EngineMaxRetries int           `yaml:"engine_max_retries"`

	StaleTaskPolicy string        `yaml:"stale_task_policy"`
	MaxWait         time.Duration `yaml:"max_wait"`
}

func Default() *Config {
	return &Config{
		Port:             "8081",
		Env:              "development",
		LogLevel:         "info",
		KafkaTopic:       "transcription_events",
		KafkaGroupID:     "transcription-eventlog",
		MaxFileSize:      100 * 1024 * 1024,
		TempDir:          os.TempDir(),
		FetchTimeout:     2 * time.Minute,
		WorkerCount:      2,
		Model:            "turbo",
		EngineEndpoint:   "http://localhost:9000/v1/audio/transcriptions",
		EngineTimeout:    10 * time.Minute,
		EngineMaxRetries: 2,
		StaleTaskPolicy:  "keep",
		MaxWait:          60 * time.Second,
	}
}

// Load builds the configuration from defaults, then the YAML file named by
// CONFIG_FILE, then individual environment variables.
func Load() (*Config, error) {
	cfg := Default()

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() error {
	c.Port = getEnv("SERVICE_PORT", c.Port)
	c.Env = getEnv("ENV", c.Env)
	c.LogLevel = getEnv("LOG_LEVEL", c.LogLevel)
	c.DatabaseURL = getEnv("DATABASE_URL", c.DatabaseURL)
	c.RedisAddr = getEnv("REDIS_ADDR", c.RedisAddr)
	c.KafkaBrokers = getEnv("KAFKA_BROKERS", c.KafkaBrokers)
	c.KafkaTopic = getEnv("KAFKA_TOPIC", c.KafkaTopic)
	c.KafkaGroupID = getEnv("KAFKA_GROUP_ID", c.KafkaGroupID)
	c.TempDir = getEnv("TEMP_DIR", c.TempDir)
	c.Model = getEnv("MODEL", c.Model)
	c.EngineEndpoint = getEnv("ENGINE_ENDPOINT", c.EngineEndpoint)
	c.EngineAPIKey = getEnv("ENGINE_API_KEY", c.EngineAPIKey)
	c.StaleTaskPolicy = getEnv("STALE_TASK_POLICY", c.StaleTaskPolicy)

	var err error
	if c.MaxFileSize, err = getEnvAsInt64("MAX_FILE_SIZE", c.MaxFileSize); err != nil {
		return err
	}
	if c.WorkerCount, err = getEnvAsInt("WORKER_COUNT", c.WorkerCount); err != nil {
		return err
	}
	if c.EngineMaxRetries, err = getEnvAsInt("ENGINE_MAX_RETRIES", c.EngineMaxRetries); err != nil {
		return err
	}
	if c.EngineTimeout, err = getEnvAsDuration("ENGINE_TIMEOUT", c.EngineTimeout); err != nil {
		return err
	}
	if c.FetchTimeout, err = getEnvAsDuration("FETCH_TIMEOUT", c.FetchTimeout); err != nil {
		return err
	}
	if c.MaxWait, err = getEnvAsDuration("MAX_WAIT", c.MaxWait); err != nil {
		return err
	}
	return nil
}

func (c *Config) Validate() error {
	port, err := strconv.Atoi(c.Port)
	if err != nil || port < 1 || port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535, got %q", c.Port)
	}
	if c.WorkerCount < 1 {
		return fmt.Errorf("worker_count must be at least 1, got %d", c.WorkerCount)
	}
	if c.MaxFileSize < 1 {
		return fmt.Errorf("max_file_size must be positive, got %d", c.MaxFileSize)
	}
	if c.Model == "" {
		return fmt.Errorf("model cannot be empty")
	}
	if c.EngineEndpoint == "" {
		return fmt.Errorf("engine_endpoint cannot be empty")
	}
	if c.EngineMaxRetries < 0 {
		return fmt.Errorf("engine_max_retries cannot be negative, got %d", c.EngineMaxRetries)
	}
	if c.EngineTimeout <= 0 || c.FetchTimeout <= 0 {
		return fmt.Errorf("engine_timeout and fetch_timeout must be positive")
	}
	if c.MaxWait < 0 {
		return fmt.Errorf("max_wait cannot be negative, got %s", c.MaxWait)
	}
	if c.TempDir == "" {
		return fmt.Errorf("temp_dir cannot be empty")
	}
	switch c.StaleTaskPolicy {
	case "keep", "fail":
	default:
		return fmt.Errorf("stale_task_policy must be keep or fail, got %q", c.StaleTaskPolicy)
	}
	if c.KafkaBrokers != "" && c.KafkaTopic == "" {
		return fmt.Errorf("kafka_topic cannot be empty when kafka_brokers is set")
	}
	return nil
}

func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

func (c *Config) Brokers() []string {
	var brokers []string
	for _, b := range strings.Split(c.KafkaBrokers, ",") {
		if b = strings.TrimSpace(b); b != "" {
			brokers = append(brokers, b)
		}
	}
	return brokers
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt64(key string, defaultValue int64) (int64, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	intVal, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return intVal, nil
}

func getEnvAsInt(key string, defaultValue int) (int, error) {
	v, err := getEnvAsInt64(key, int64(defaultValue))
	return int(v), err
}

// getEnvAsDuration accepts Go duration strings ("90s") or plain seconds.
func getEnvAsDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	if seconds, err := strconv.ParseFloat(value, 64); err == nil {
		return time.Duration(seconds * float64(time.Second)), nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}
