package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("CONFIG_FILE", "")

	cfg, err := Load()

	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, BackendMemory, cfg.Messaging.Backend)
	assert.Equal(t, time.Second, cfg.Messaging.DedupWindow)
	assert.Equal(t, 1000, cfg.Messaging.MaxContentLength)
	assert.Equal(t, int64(10*1024*1024), cfg.Messaging.MaxAttachmentSize)
	assert.Equal(t, 100, cfg.Messaging.PreviewLength)
	assert.Equal(t, 30*time.Second, cfg.Server.RequestTimeout)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("CONFIG_FILE", "")
	t.Setenv("PORT", "9090")
	t.Setenv("CASSANDRA_HOSTS", "cass-1, cass-2,")
	t.Setenv("MESSAGING_DEDUP_WINDOW", "1500ms")
	t.Setenv("REDIS_TIMEOUT", "250")
	t.Setenv("MESSAGING_BACKEND", BackendDistributed)

	cfg, err := Load()

	require.NoError(t, err)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, []string{"cass-1", "cass-2"}, cfg.Cassandra.Hosts)
	assert.Equal(t, 1500*time.Millisecond, cfg.Messaging.DedupWindow)
	assert.Equal(t, 250*time.Millisecond, cfg.Redis.Timeout)
	assert.Equal(t, BackendDistributed, cfg.Messaging.Backend)
}

func TestLoad_FileOverlayThenEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  port: 7070
  service_name: from-file
messaging:
  dedup_window: 2s
  preview_length: 80
`), 0o600))
	t.Setenv("CONFIG_FILE", path)
	t.Setenv("PORT", "7171")

	cfg, err := Load()

	require.NoError(t, err)
	assert.Equal(t, 7171, cfg.Server.Port, "env wins over file")
	assert.Equal(t, "from-file", cfg.Server.ServiceName)
	assert.Equal(t, 2*time.Second, cfg.Messaging.DedupWindow)
	assert.Equal(t, 80, cfg.Messaging.PreviewLength)
	assert.Equal(t, 1000, cfg.Messaging.MaxContentLength, "untouched keys keep defaults")
}

func TestLoad_SecretFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "jwt")
	require.NoError(t, os.WriteFile(path, []byte("file-secret-0123456789abcdef0123456789\n"), 0o600))
	t.Setenv("CONFIG_FILE", "")
	t.Setenv("JWT_SECRET_FILE", path)

	cfg, err := Load()

	require.NoError(t, err)
	assert.Equal(t, "file-secret-0123456789abcdef0123456789", cfg.JWT.Secret)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"defaults", func(*Config) {}, false},
		{"production without secret", func(c *Config) { c.Server.Environment = "production" }, true},
		{"production short secret", func(c *Config) {
			c.Server.Environment = "production"
			c.JWT.Secret = "short"
		}, true},
		{"production long secret", func(c *Config) {
			c.Server.Environment = "production"
			c.JWT.Secret = "0123456789abcdef0123456789abcdef"
		}, false},
		{"unknown backend", func(c *Config) { c.Messaging.Backend = "sqlite" }, true},
		{"zero dedup window", func(c *Config) { c.Messaging.DedupWindow = 0 }, true},
		{"negative attachment limit", func(c *Config) { c.Messaging.MaxAttachmentSize = -1 }, true},
		{"zero rate", func(c *Config) { c.RateLimit.SendsPerMinute = 0 }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Defaults()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestConnectionStrings(t *testing.T) {
	cfg := Defaults()
	assert.Equal(t, "postgresql://root:@localhost:26257/portal_messaging?sslmode=disable", cfg.Cockroach.URL())
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr())
}
