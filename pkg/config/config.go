package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/mimir-aip/battery-soh/pkg/models"
)

// Config holds the application configuration
type Config struct {
	Environment       string
	LogLevel          string
	LogFormat         string
	Port              string
	PipelineConfig    string
	TrainTimeout      time.Duration
	PredictTimeout    time.Duration
	EvaluationTimeout time.Duration
	QueuePollInterval time.Duration
	Schedule          string
	ScheduleDataset   string
}

// LoadConfig loads configuration from environment variables, after an optional .env file
func LoadConfig() (*Config, error) {
	// a missing .env is fine
	_ = godotenv.Load()

	config := &Config{
		Environment:       getEnv("ENVIRONMENT", "development"),
		LogLevel:          getEnv("LOG_LEVEL", "info"),
		LogFormat:         getEnv("LOG_FORMAT", "text"),
		Port:              getEnv("PORT", "8080"),
		PipelineConfig:    getEnv("PIPELINE_CONFIG", ""),
		TrainTimeout:      getEnvAsDuration("TRAIN_TIMEOUT", 30*time.Second),
		PredictTimeout:    getEnvAsDuration("PREDICT_TIMEOUT", 10*time.Second),
		EvaluationTimeout: getEnvAsDuration("EVALUATION_TIMEOUT", 30*time.Minute),
		QueuePollInterval: getEnvAsDuration("QUEUE_POLL_INTERVAL", 2*time.Second),
		Schedule:          getEnv("SCHEDULE", ""),
		ScheduleDataset:   getEnv("SCHEDULE_DATASET", ""),
	}

	// Validate configuration
	if _, err := strconv.Atoi(config.Port); err != nil {
		return nil, fmt.Errorf("PORT must be a number, got %q", config.Port)
	}
	if config.LogFormat != "text" && config.LogFormat != "json" {
		return nil, fmt.Errorf("LOG_FORMAT must be text or json, got %q", config.LogFormat)
	}
	if config.TrainTimeout <= 0 || config.PredictTimeout <= 0 || config.EvaluationTimeout <= 0 {
		return nil, fmt.Errorf("timeouts must be positive")
	}
	if config.QueuePollInterval <= 0 {
		return nil, fmt.Errorf("QUEUE_POLL_INTERVAL must be positive")
	}
	if (config.Schedule == "") != (config.ScheduleDataset == "") {
		return nil, fmt.Errorf("SCHEDULE and SCHEDULE_DATASET must be set together")
	}

	return config, nil
}

// LoadPipelineConfig reads a YAML or JSON pipeline configuration over the defaults.
// An empty path returns the defaults.
func LoadPipelineConfig(path string) (models.PipelineConfig, error) {
	cfg := models.DefaultPipelineConfig()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("failed to read pipeline config: %w", err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse YAML config: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse JSON config: %w", err)
		}
	default:
		return cfg, fmt.Errorf("unsupported config file format: %s", filepath.Ext(path))
	}

	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid pipeline config %s: %w", path, err)
	}
	return cfg, nil
}

// getEnv retrieves an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

// getEnvAsInt retrieves an environment variable as an integer or returns a default value
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsDuration accepts Go durations ("90s") or a bare number of seconds
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(valueStr); err == nil {
		return d
	}
	if secs := getEnvAsInt(key, -1); secs >= 0 {
		return time.Duration(secs) * time.Second
	}
	return defaultValue
}
