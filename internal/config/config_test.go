package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("INBOX_USER_ID", "buyer-1")

	cfg := Load()
	assert.Equal(t, "http://localhost:9090", cfg.BaseURL)
	assert.Equal(t, "http://localhost:9090/api/v1", cfg.APIURL)
	assert.Equal(t, 5*time.Second, cfg.PollInterval)
	assert.Equal(t, 3, cfg.FailureThreshold)
	assert.Equal(t, 2*time.Minute, cfg.ReconcileWindow)
	assert.Equal(t, int64(50_000_000), cfg.MaxAttachmentSize)
	assert.Equal(t, "http", cfg.UploadMode)
	require.NoError(t, cfg.ValidateClient())
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("INBOX_POLL_INTERVAL", "750ms")
	t.Setenv("INBOX_MAX_ATTACHMENT_SIZE", "10 MiB")
	t.Setenv("INBOX_SYNC_FAILURE_THRESHOLD", "not-a-number")
	t.Setenv("USE_S3", "true")
	t.Setenv("S3_BUCKET_NAME", "att")
	t.Setenv("AWS_REGION", "eu-west-1")

	cfg := Load()
	assert.Equal(t, 750*time.Millisecond, cfg.PollInterval)
	assert.Equal(t, int64(10<<20), cfg.MaxAttachmentSize)
	assert.Equal(t, 3, cfg.FailureThreshold)
	assert.Equal(t, "https://att.s3.eu-west-1.amazonaws.com", cfg.CDNURL)
}

func TestLoadFileOverlay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "inbox.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
api_url: https://api.tradelink.test/api/v1
user_id: sup-7
user_role: supplier
poll_interval: 2s
sync_failure_threshold: 5
max_attachment_size: 20MB
requests_per_second: 0
`), 0o600))

	cfg, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "https://api.tradelink.test/api/v1", cfg.APIURL)
	assert.Equal(t, "sup-7", cfg.UserID)
	assert.Equal(t, "supplier", cfg.UserRole)
	assert.Equal(t, 2*time.Second, cfg.PollInterval)
	assert.Equal(t, 5, cfg.FailureThreshold)
	assert.Equal(t, int64(20_000_000), cfg.MaxAttachmentSize)
	assert.Zero(t, cfg.RequestsPerSecond)
	assert.Equal(t, 2*time.Minute, cfg.ReconcileWindow)
	require.NoError(t, cfg.ValidateClient())
}

func TestLoadFileErrors(t *testing.T) {
	_, err := LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("poll_interval: soon\n"), 0o600))
	_, err = LoadFile(path)
	assert.Error(t, err)
}

func TestValidateClient(t *testing.T) {
	valid := func() *Config {
		return &Config{
			APIURL:           "http://localhost:8080/api/v1",
			UserID:           "buyer-1",
			UserRole:         "buyer",
			PollInterval:     time.Second,
			FailureThreshold: 3,
			ReconcileWindow:  time.Minute,
			UploadMode:       "http",
		}
	}

	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"missing user", func(c *Config) { c.UserID = "" }},
		{"bad role", func(c *Config) { c.UserRole = "broker" }},
		{"bad url", func(c *Config) { c.APIURL = "localhost" }},
		{"fast polling", func(c *Config) { c.PollInterval = time.Millisecond }},
		{"zero threshold", func(c *Config) { c.FailureThreshold = 0 }},
		{"s3 without bucket", func(c *Config) { c.UploadMode = "s3" }},
		{"unknown upload mode", func(c *Config) { c.UploadMode = "ftp" }},
	}

	require.NoError(t, valid().ValidateClient())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			assert.Error(t, cfg.ValidateClient())
		})
	}
}

func TestValidateServer(t *testing.T) {
	cfg := &Config{Environment: "production", JWTSecret: "your-super-secret-key-change-this-in-production", LocalUploadDir: "./uploads"}
	assert.Error(t, cfg.Validate())

	cfg.JWTSecret = "s3cret"
	assert.Error(t, cfg.Validate())

	cfg.DatabaseURL = "postgres://localhost/tradelink"
	assert.NoError(t, cfg.Validate())
	assert.True(t, cfg.IsProduction())
}
