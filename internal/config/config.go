/**
 * Configuration for Cheque Worker
 *
 * Loads configuration from environment variables (optionally via .env).
 */

package config

import (
	"fmt"
	"os"
	"strconv"
)

// Config holds worker configuration
type Config struct {
	// Redis configuration (queue + batch correlation map)
	RedisURL string

	// PostgreSQL configuration; empty disables DB persistence (best-effort mode)
	DatabaseURL string

	// HTTP server
	HTTPAddr string

	// Tesseract configuration; empty uses the system tessdata directory
	TessdataPrefix string

	// Directories
	UploadDir    string
	AuditDir     string
	TemplatesDir string // optional override of embedded templates

	// Worker configuration
	QueueName         string
	WorkerConcurrency int
	ProcessingTimeout int // milliseconds
	MaxUploadSize     int64

	// Pipeline thresholds
	GlobalThreshold  float64
	ParseFailFactor  float64
	MinOCRConfidence float64
	BlurThreshold    float64

	// Field toggles
	EnableNameField bool
	EnableArabicOCR bool

	// Batch date zone
	BatchTZ string
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	cfg := &Config{
		RedisURL:          getEnvOrDefault("REDIS_URL", "redis://localhost:6379"),
		DatabaseURL:       getEnvOrDefault("DATABASE_URL", ""),
		HTTPAddr:          getEnvOrDefault("HTTP_ADDR", ":8080"),
		TessdataPrefix:    getEnvOrDefault("TESSDATA_PREFIX", ""),
		UploadDir:         getEnvOrDefault("UPLOAD_DIR", "/var/lib/chequeflow/uploads"),
		AuditDir:          getEnvOrDefault("AUDIT_DIR", "/var/lib/chequeflow/audit"),
		TemplatesDir:      getEnvOrDefault("TEMPLATES_DIR", ""),
		QueueName:         getEnvOrDefault("QUEUE_NAME", "cheque:jobs"),
		WorkerConcurrency: getEnvAsIntOrDefault("WORKER_CONCURRENCY", 4),
		ProcessingTimeout: getEnvAsIntOrDefault("PROCESSING_TIMEOUT", 120000),  // 2 minutes
		MaxUploadSize:     getEnvAsInt64OrDefault("MAX_UPLOAD_SIZE", 33554432), // 32MB
		GlobalThreshold:   getEnvAsFloatOrDefault("GLOBAL_THRESHOLD", 0.995),
		ParseFailFactor:   getEnvAsFloatOrDefault("PARSE_FAIL_FACTOR", 0.97),
		MinOCRConfidence:  getEnvAsFloatOrDefault("MIN_OCR_CONFIDENCE", 0.3),
		BlurThreshold:     getEnvAsFloatOrDefault("BLUR_THRESHOLD", 120.0),
		EnableNameField:   getEnvAsBoolOrDefault("ENABLE_NAME_FIELD", true),
		EnableArabicOCR:   getEnvAsBoolOrDefault("ENABLE_ARABIC_OCR", true),
		BatchTZ:           getEnvOrDefault("BATCH_TZ", "Africa/Cairo"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks if configuration is valid
func (c *Config) Validate() error {
	if c.RedisURL == "" {
		return fmt.Errorf("REDIS_URL is required")
	}

	if c.WorkerConcurrency < 1 || c.WorkerConcurrency > 64 {
		return fmt.Errorf("WORKER_CONCURRENCY must be between 1 and 64, got %d", c.WorkerConcurrency)
	}

	if c.GlobalThreshold <= 0 || c.GlobalThreshold > 1 {
		return fmt.Errorf("GLOBAL_THRESHOLD must be in (0, 1], got %v", c.GlobalThreshold)
	}

	if c.ParseFailFactor < 0 || c.ParseFailFactor > 1 {
		return fmt.Errorf("PARSE_FAIL_FACTOR must be in [0, 1], got %v", c.ParseFailFactor)
	}

	if c.MaxUploadSize < 1024 || c.MaxUploadSize > 1073741824 { // 1KB to 1GB
		return fmt.Errorf("MAX_UPLOAD_SIZE must be between 1KB and 1GB, got %d", c.MaxUploadSize)
	}

	return nil
}

// PersistenceEnabled reports whether the relational store is configured.
func (c *Config) PersistenceEnabled() bool {
	return c.DatabaseURL != ""
}

// getEnvOrDefault gets environment variable or returns default
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsIntOrDefault gets environment variable as int or returns default
func getEnvAsIntOrDefault(key string, defaultValue int) int {
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

// getEnvAsInt64OrDefault gets environment variable as int64 or returns default
func getEnvAsInt64OrDefault(key string, defaultValue int64) int64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseInt(valueStr, 10, 64)
	if err != nil {
		return defaultValue
	}

	return value
}

// getEnvAsFloatOrDefault gets environment variable as float64 or returns default
func getEnvAsFloatOrDefault(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}

	return value
}

// getEnvAsBoolOrDefault gets environment variable as bool or returns default
func getEnvAsBoolOrDefault(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}

	return value
}
