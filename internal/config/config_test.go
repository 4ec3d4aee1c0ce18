package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 3, cfg.Queue.MaxAttempts)
	assert.Equal(t, 5*time.Minute, cfg.Queue.RetryDelay)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"unknown driver", func(c *Config) { c.Database.Driver = "mysql" }},
		{"empty dsn", func(c *Config) { c.Database.DSN = "" }},
		{"no workers", func(c *Config) { c.Queue.Concurrency = 0 }},
		{"no attempts", func(c *Config) { c.Queue.MaxAttempts = 0 }},
		{"stale before timeout", func(c *Config) { c.Queue.StaleAfter = c.Queue.AttemptTimeout }},
		{"unknown provider", func(c *Config) { c.Vision.Provider = "bard" }},
		{"bad quality", func(c *Config) { c.Vision.Quality = 101 }},
		{"bad temperature", func(c *Config) { c.Vision.Temperature = -1 }},
		{"bad threshold", func(c *Config) { c.Analyzer.WhiteThreshold = 300 }},
		{"bad board", func(c *Config) { c.Analyzer.BoardHeightCM = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestSaveAndLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"config.yaml", "config.json"} {
		t.Run(name, func(t *testing.T) {
			cfg := Default()
			cfg.Queue.Concurrency = 7
			cfg.Vision.Model = "llava:13b"
			path := filepath.Join(dir, "nested", name)

			require.NoError(t, cfg.SaveToFile(path))
			loaded, err := LoadFromFile(path)
			require.NoError(t, err)
			assert.Equal(t, cfg, loaded)
		})
	}
}

func TestLoadFileAndEnvOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
database:
  driver: postgres
  dsn: host=db user=paddy
queue:
  retry_delay: 30s
vision:
  model: from-file
`), 0644))

	t.Setenv("PADDY_VISION_MODEL", "from-env")
	t.Setenv("PADDY_VISION_API_KEY", "secret")
	t.Setenv("PADDY_QUEUE_CONCURRENCY", "4")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Database.Driver)
	assert.Equal(t, "host=db user=paddy", cfg.Database.DSN)
	assert.Equal(t, 30*time.Second, cfg.Queue.RetryDelay)
	assert.Equal(t, "from-env", cfg.Vision.Model)
	assert.Equal(t, "secret", cfg.Vision.APIKey)
	assert.Equal(t, 4, cfg.Queue.Concurrency)
	// untouched keys keep their defaults
	assert.Equal(t, 3, cfg.Queue.MaxAttempts)
	assert.Equal(t, ":8080", cfg.Server.Addr)
}

func TestLoadRejectsInvalid(t *testing.T) {
	t.Setenv("PADDY_QUEUE_MAX_ATTEMPTS", "0")
	_, err := Load("")
	assert.Error(t, err)
}

func TestAnalyzerSettings(t *testing.T) {
	cfg := Default()
	cfg.Analyzer.WhiteThreshold = 210
	cfg.Analyzer.BoardHeightCM = 120

	ac := cfg.AnalyzerSettings()
	assert.Equal(t, uint8(210), ac.WhiteThreshold)
	assert.Equal(t, 120.0, ac.BoardHeightCM)
	assert.NotEmpty(t, ac.SupportedFormats)
}
