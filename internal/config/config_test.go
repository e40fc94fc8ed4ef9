package config

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/probectl/internal/config/loader"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 100*time.Millisecond, cfg.Snapshot.DebounceWindow)
	assert.Equal(t, 10*time.Second, cfg.Agent.MaxBackoff)
	assert.Equal(t, 5, cfg.Agent.ReconnectAttempts)
}

func TestLoadFrom_FileThenEnv(t *testing.T) {
	fsys := loader.MapFS{
		"probectl.toml": []byte(`
[agent]
url = "ws://10.0.0.2:9229/debug"
reconnectAttempts = 2
initialBackoff = "250ms"

[snapshot]
debounceWindow = "50ms"
`),
	}
	env := loader.NewEnvLoaderFrom(EnvPrefix, map[string]string{
		"PROBECTL_AGENT_URL": "ws://override:1/debug",
		"PROBECTL_DEVICE":    "stlink-0042",
		"PROBECTL_LOG_LEVEL": "debug",
	})

	cfg, err := LoadFrom(loader.NewFileLoaderWithFS(fsys, "probectl.toml"), env)
	require.NoError(t, err)

	assert.Equal(t, "ws://override:1/debug", cfg.Agent.URL)
	assert.Equal(t, 2, cfg.Agent.ReconnectAttempts)
	assert.Equal(t, 250*time.Millisecond, cfg.Agent.InitialBackoff)
	assert.Equal(t, 10*time.Second, cfg.Agent.MaxBackoff, "untouched defaults survive")
	assert.Equal(t, 50*time.Millisecond, cfg.Snapshot.DebounceWindow)
	assert.Equal(t, "stlink-0042", cfg.Session.DeviceID)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestLoadFrom_EnvStringsAreDecoded(t *testing.T) {
	env := loader.NewEnvLoaderFrom(EnvPrefix, map[string]string{
		"PROBECTL_RECONNECT_ATTEMPTS": "1",
		"PROBECTL_COMMAND_TIMEOUT":    "5s",
	})

	cfg, err := LoadFrom(env)
	require.NoError(t, err)
	assert.Equal(t, 1, cfg.Agent.ReconnectAttempts)
	assert.Equal(t, 5*time.Second, cfg.Session.CommandTimeout)
}

func TestLoadFrom_BuildCommand(t *testing.T) {
	fsys := loader.MapFS{
		"probectl.yaml": []byte("session:\n  buildCommand: make -C fw all\n  startTimeout: 45s\n"),
	}

	cfg, err := LoadFrom(loader.NewFileLoaderWithFS(fsys, "probectl.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "make -C fw all", cfg.Session.BuildCommand)
	assert.Equal(t, 45*time.Second, cfg.Session.StartTimeout)

	env := loader.NewEnvLoaderFrom(EnvPrefix, map[string]string{"PROBECTL_BUILD": "ninja"})
	cfg, err = LoadFrom(loader.NewFileLoaderWithFS(fsys, "probectl.yaml"), env)
	require.NoError(t, err)
	assert.Equal(t, "ninja", cfg.Session.BuildCommand)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"http url", func(c *Config) { c.Agent.URL = "http://x" }},
		{"zero connect timeout", func(c *Config) { c.Agent.ConnectTimeout = 0 }},
		{"backoff inverted", func(c *Config) { c.Agent.MaxBackoff = time.Millisecond }},
		{"negative attempts", func(c *Config) { c.Agent.ReconnectAttempts = -1 }},
		{"zero command timeout", func(c *Config) { c.Session.CommandTimeout = 0 }},
		{"bad log format", func(c *Config) { c.Logging.Format = "xml" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			err := cfg.Validate()
			assert.True(t, errors.Is(err, ErrInvalidConfig), "got %v", err)
		})
	}
}
