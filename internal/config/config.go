package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Port                int
	APIToken            string // Empty disables the auth middleware
	DatabasePath        string
	LogDirectory        string
	CameraDevice        string // Device index ("0") or file/stream URL
	ModelPath           string
	ConfigPath          string
	ConfidenceThreshold float64
	TargetSize          int           // Square input size fed to the network
	ReadRetryInterval   time.Duration // Pause after a failed frame read
	QueueCapacity       int           // 0 = unbounded, >0 = drop oldest when full
	DefaultQueryLimit   int
	MaxQueryLimit       int
	ShutdownTimeout     time.Duration
}

// Load reads an optional .env file and then the process environment.
func Load() *Config {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "config: ignoring .env: %v\n", err)
	}

	return &Config{
		Port:                getEnvAsInt("PORT", 8000),
		APIToken:            getEnv("API_TOKEN", ""),
		DatabasePath:        getEnv("DB_PATH", filepath.Join(".", "data", "detections.db")),
		LogDirectory:        getEnv("LOG_DIR", filepath.Join(".", "logs")),
		CameraDevice:        getEnv("CAMERA_DEVICE", "0"),
		ModelPath:           getEnv("MODEL_PATH", filepath.Join(".", "models", "frozen_inference_graph.pb")),
		ConfigPath:          getEnv("CONFIG_PATH", filepath.Join(".", "models", "ssd_mobilenet_v1_coco_2017_11_17.pbtxt")),
		ConfidenceThreshold: getEnvAsFloat("CONFIDENCE_THRESHOLD", 0.25),
		TargetSize:          getEnvAsInt("TARGET_SIZE", 300),
		ReadRetryInterval:   getEnvAsDuration("READ_RETRY_INTERVAL", 50*time.Millisecond),
		QueueCapacity:       getEnvAsInt("QUEUE_CAPACITY", 0),
		DefaultQueryLimit:   getEnvAsInt("DEFAULT_QUERY_LIMIT", 50),
		MaxQueryLimit:       getEnvAsInt("MAX_QUERY_LIMIT", 1000),
		ShutdownTimeout:     getEnvAsDuration("SHUTDOWN_TIMEOUT", 5*time.Second),
	}
}

// Validate rejects settings the pipeline cannot run with.
func (c *Config) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Port)
	}
	if c.ConfidenceThreshold < 0 || c.ConfidenceThreshold > 1 {
		return fmt.Errorf("confidence threshold must be within [0,1], got %v", c.ConfidenceThreshold)
	}
	if c.TargetSize <= 0 {
		return fmt.Errorf("target size must be positive, got %d", c.TargetSize)
	}
	if c.ReadRetryInterval <= 0 {
		return fmt.Errorf("read retry interval must be positive, got %s", c.ReadRetryInterval)
	}
	if c.QueueCapacity < 0 {
		return fmt.Errorf("queue capacity must not be negative, got %d", c.QueueCapacity)
	}
	if c.DefaultQueryLimit <= 0 || c.MaxQueryLimit < c.DefaultQueryLimit {
		return fmt.Errorf("invalid query limits: default=%d max=%d", c.DefaultQueryLimit, c.MaxQueryLimit)
	}
	return nil
}

// Address returns the listen address for the HTTP server.
func (c *Config) Address() string {
	return fmt.Sprintf(":%d", c.Port)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

// getEnvAsDuration accepts Go durations ("50ms") or plain milliseconds ("50").
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if ms, err := strconv.Atoi(value); err == nil {
		return time.Duration(ms) * time.Millisecond
	}
	return defaultValue
}
