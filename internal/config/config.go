// internal/config/config.go
// Centralized configuration management
// Loads from environment variables with sensible defaults

package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/goccy/go-yaml"
)

// Config holds all application configuration
type Config struct {
	// Server
	Port        string
	Environment string
	BaseURL     string

	// Database
	DatabaseURL string
	RedisURL    string

	// Security
	JWTSecret         string
	AccessTokenExpiry time.Duration

	// Storage
	UseS3              bool
	LocalUploadDir     string
	AWSRegion          string
	AWSAccessKeyID     string
	AWSSecretAccessKey string
	S3BucketName       string
	CDNURL             string

	// Inbox client
	APIURL            string
	Token             string
	UserID            string
	UserRole          string
	PollInterval      time.Duration
	FailureThreshold  int
	ReconcileWindow   time.Duration
	MaxAttachmentSize int64
	RequestsPerSecond float64
	UploadMode        string
}

// Load reads configuration from environment variables
func Load() *Config {
	cfg := &Config{
		// Server
		Port:        getEnv("PORT", "8080"),
		Environment: getEnv("ENVIRONMENT", "development"),
		BaseURL:     getEnv("BASE_URL", ""),

		// Database
		DatabaseURL: getEnv("DATABASE_URL", ""),
		RedisURL:    getEnv("REDIS_URL", ""),

		// Security
		JWTSecret:         getEnv("JWT_SECRET", "your-super-secret-key-change-this-in-production"),
		AccessTokenExpiry: getEnvDuration("ACCESS_TOKEN_EXPIRY", "24h"),

		// Storage
		UseS3:              getEnvBool("USE_S3", false),
		LocalUploadDir:     getEnv("LOCAL_UPLOAD_DIR", "./uploads"),
		AWSRegion:          getEnv("AWS_REGION", "us-east-1"),
		AWSAccessKeyID:     getEnv("AWS_ACCESS_KEY_ID", ""),
		AWSSecretAccessKey: getEnv("AWS_SECRET_ACCESS_KEY", ""),
		S3BucketName:       getEnv("S3_BUCKET_NAME", "tradelink-attachments"),
		CDNURL:             getEnv("CDN_URL", ""),

		// Inbox client
		APIURL:            getEnv("INBOX_API_URL", ""),
		Token:             getEnv("INBOX_TOKEN", ""),
		UserID:            getEnv("INBOX_USER_ID", ""),
		UserRole:          getEnv("INBOX_USER_ROLE", "buyer"),
		PollInterval:      getEnvDuration("INBOX_POLL_INTERVAL", "5s"),
		FailureThreshold:  getEnvInt("INBOX_SYNC_FAILURE_THRESHOLD", 3),
		ReconcileWindow:   getEnvDuration("INBOX_RECONCILE_WINDOW", "2m"),
		MaxAttachmentSize: getEnvBytes("INBOX_MAX_ATTACHMENT_SIZE", "50MB"),
		RequestsPerSecond: getEnvFloat("INBOX_REQUESTS_PER_SECOND", 10),
		UploadMode:        getEnv("INBOX_UPLOAD_MODE", "http"),
	}

	cfg.applyDerived()
	return cfg
}

// fileConfig is the YAML overlay. Absent keys leave the loaded value alone.
type fileConfig struct {
	APIURL            string   `yaml:"api_url"`
	Token             string   `yaml:"token"`
	UserID            string   `yaml:"user_id"`
	UserRole          string   `yaml:"user_role"`
	PollInterval      string   `yaml:"poll_interval"`
	FailureThreshold  int      `yaml:"sync_failure_threshold"`
	ReconcileWindow   string   `yaml:"reconcile_window"`
	MaxAttachmentSize string   `yaml:"max_attachment_size"`
	RequestsPerSecond *float64 `yaml:"requests_per_second"`
	UploadMode        string   `yaml:"upload_mode"`
	JWTSecret         string   `yaml:"jwt_secret"`
	S3BucketName      string   `yaml:"s3_bucket_name"`
	AWSRegion         string   `yaml:"aws_region"`
	CDNURL            string   `yaml:"cdn_url"`
}

// LoadFile reads the environment and then applies the YAML file at path on top
func LoadFile(path string) (*Config, error) {
	cfg := Load()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := cfg.overlay(&fc); err != nil {
		return nil, fmt.Errorf("invalid config file %s: %w", path, err)
	}
	cfg.applyDerived()
	return cfg, nil
}

func (c *Config) overlay(fc *fileConfig) error {
	setString(&c.APIURL, fc.APIURL)
	setString(&c.Token, fc.Token)
	setString(&c.UserID, fc.UserID)
	setString(&c.UserRole, fc.UserRole)
	setString(&c.UploadMode, fc.UploadMode)
	setString(&c.JWTSecret, fc.JWTSecret)
	setString(&c.S3BucketName, fc.S3BucketName)
	setString(&c.AWSRegion, fc.AWSRegion)
	setString(&c.CDNURL, fc.CDNURL)

	if fc.FailureThreshold != 0 {
		c.FailureThreshold = fc.FailureThreshold
	}
	if fc.RequestsPerSecond != nil {
		c.RequestsPerSecond = *fc.RequestsPerSecond
	}
	if fc.PollInterval != "" {
		d, err := time.ParseDuration(fc.PollInterval)
		if err != nil {
			return fmt.Errorf("poll_interval: %w", err)
		}
		c.PollInterval = d
	}
	if fc.ReconcileWindow != "" {
		d, err := time.ParseDuration(fc.ReconcileWindow)
		if err != nil {
			return fmt.Errorf("reconcile_window: %w", err)
		}
		c.ReconcileWindow = d
	}
	if fc.MaxAttachmentSize != "" {
		n, err := humanize.ParseBytes(fc.MaxAttachmentSize)
		if err != nil {
			return fmt.Errorf("max_attachment_size: %w", err)
		}
		c.MaxAttachmentSize = int64(n)
	}
	return nil
}

func (c *Config) applyDerived() {
	if c.BaseURL == "" {
		c.BaseURL = fmt.Sprintf("http://localhost:%s", c.Port)
	}
	if c.APIURL == "" {
		c.APIURL = c.BaseURL + "/api/v1"
	}
	if c.CDNURL == "" && (c.UseS3 || c.UploadMode == "s3") {
		c.CDNURL = fmt.Sprintf("https://%s.s3.%s.amazonaws.com", c.S3BucketName, c.AWSRegion)
	}
}

// Validate validates the server configuration
func (c *Config) Validate() error {
	if c.JWTSecret == "your-super-secret-key-change-this-in-production" && c.IsProduction() {
		return fmt.Errorf("JWT secret must be changed for production")
	}
	if c.DatabaseURL == "" && c.IsProduction() {
		return fmt.Errorf("database URL is required in production")
	}

	if c.UseS3 {
		if c.S3BucketName == "" || c.AWSRegion == "" {
			return fmt.Errorf("S3 configuration incomplete")
		}
	} else if c.LocalUploadDir == "" {
		return fmt.Errorf("local upload directory not specified")
	}

	return nil
}

// ValidateClient validates the settings the inbox client needs
func (c *Config) ValidateClient() error {
	if _, err := url.ParseRequestURI(c.APIURL); err != nil {
		return fmt.Errorf("invalid API URL %q: %w", c.APIURL, err)
	}
	if c.UserID == "" {
		return fmt.Errorf("user id is required")
	}
	switch c.UserRole {
	case "buyer", "supplier", "admin":
	default:
		return fmt.Errorf("invalid user role: %s", c.UserRole)
	}
	if c.PollInterval < 100*time.Millisecond {
		return fmt.Errorf("poll interval must be at least 100ms")
	}
	if c.FailureThreshold < 1 {
		return fmt.Errorf("sync failure threshold must be positive")
	}
	if c.ReconcileWindow <= 0 {
		return fmt.Errorf("reconcile window must be positive")
	}
	if c.MaxAttachmentSize < 0 {
		return fmt.Errorf("max attachment size cannot be negative")
	}
	switch c.UploadMode {
	case "http":
	case "s3":
		if c.S3BucketName == "" || c.CDNURL == "" {
			return fmt.Errorf("S3 upload mode needs a bucket and CDN URL")
		}
	default:
		return fmt.Errorf("invalid upload mode: %s", c.UploadMode)
	}
	return nil
}

// IsProduction returns true if running in production
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

// IsDevelopment returns true if running in development
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

// Helper functions

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

// getEnv gets a string value from environment with a default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt gets an integer value from environment with a default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvFloat gets a float value from environment with a default
func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

// getEnvDuration gets a duration value from environment with a default
func getEnvDuration(key string, defaultValue string) time.Duration {
	value := getEnv(key, defaultValue)
	duration, err := time.ParseDuration(value)
	if err != nil {
		duration, _ = time.ParseDuration(defaultValue)
	}
	return duration
}

// getEnvBytes gets a size such as "50MB" from environment with a default
func getEnvBytes(key string, defaultValue string) int64 {
	value := getEnv(key, defaultValue)
	n, err := humanize.ParseBytes(value)
	if err != nil {
		n, _ = humanize.ParseBytes(defaultValue)
	}
	return int64(n)
}

// getEnvBool gets a boolean value from environment with a default
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}
