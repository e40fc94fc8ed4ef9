// Package config holds probectl's runtime configuration.
//
// Configuration is layered: built-in defaults, then an optional file
// (TOML, YAML or JSONC), then PROBECTL_* environment variables. The merged
// map is decoded into Config with mapstructure.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/mitchellh/mapstructure"

	"github.com/dshills/probectl/internal/config/loader"
)

// ErrInvalidConfig is returned by Validate for out-of-range values.
var ErrInvalidConfig = errors.New("invalid configuration")

// EnvPrefix is the prefix for environment overrides.
const EnvPrefix = "PROBECTL_"

// Config is the complete probectl configuration.
type Config struct {
	Agent    AgentConfig    `mapstructure:"agent"`
	Session  SessionConfig  `mapstructure:"session"`
	Snapshot SnapshotConfig `mapstructure:"snapshot"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	HTTP     HTTPConfig     `mapstructure:"http"`
}

// AgentConfig configures the connection to the remote debug agent.
type AgentConfig struct {
	// URL is the websocket endpoint of the agent.
	URL string `mapstructure:"url"`

	// ConnectTimeout bounds a single dial.
	ConnectTimeout time.Duration `mapstructure:"connectTimeout"`

	// InitialBackoff is the first reconnect delay.
	InitialBackoff time.Duration `mapstructure:"initialBackoff"`

	// MaxBackoff caps the reconnect delay.
	MaxBackoff time.Duration `mapstructure:"maxBackoff"`

	// ReconnectAttempts is the number of dials before giving up.
	ReconnectAttempts int `mapstructure:"reconnectAttempts"`
}

// SessionConfig configures session and command round trips.
type SessionConfig struct {
	// DeviceID is used when no device service reports a connected device.
	DeviceID string `mapstructure:"deviceId"`

	// BuildCommand runs before each session start; empty skips the build.
	BuildCommand string `mapstructure:"buildCommand"`

	// StartTimeout bounds the wait for debug.started.
	StartTimeout time.Duration `mapstructure:"startTimeout"`

	// CommandTimeout bounds the wait for the event completing a command.
	CommandTimeout time.Duration `mapstructure:"commandTimeout"`
}

// SnapshotConfig configures halt snapshot processing.
type SnapshotConfig struct {
	// DebounceWindow drops same-PC snapshots arriving this close together.
	DebounceWindow time.Duration `mapstructure:"debounceWindow"`
}

// LoggingConfig configures the slog logger.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// HTTPConfig configures the optional introspection endpoint.
type HTTPConfig struct {
	// Addr is the listen address; empty disables the endpoint.
	Addr string `mapstructure:"addr"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Agent: AgentConfig{
			URL:               "ws://127.0.0.1:9229/debug",
			ConnectTimeout:    10 * time.Second,
			InitialBackoff:    time.Second,
			MaxBackoff:        10 * time.Second,
			ReconnectAttempts: 5,
		},
		Session: SessionConfig{
			StartTimeout:   30 * time.Second,
			CommandTimeout: 30 * time.Second,
		},
		Snapshot: SnapshotConfig{
			DebounceWindow: 100 * time.Millisecond,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load builds a Config from defaults, the file at path (if any) and the
// process environment.
func Load(path string) (Config, error) {
	return LoadFrom(loader.NewFileLoader(path), loader.NewEnvLoader(EnvPrefix))
}

// LoadFrom builds a Config by applying each source over the defaults in
// order.
func LoadFrom(sources ...loader.Loader) (Config, error) {
	merged := make(map[string]any)
	for _, src := range sources {
		m, err := src.Load()
		if err != nil {
			return Config{}, err
		}
		loader.Merge(merged, m)
	}

	cfg := Default()
	if err := decode(merged, &cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func decode(in map[string]any, out *Config) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
		WeaklyTypedInput: true,
		Result:           out,
	})
	if err != nil {
		return fmt.Errorf("create decoder: %w", err)
	}
	if err := dec.Decode(in); err != nil {
		return fmt.Errorf("decode config: %w", err)
	}
	return nil
}

// Validate checks value ranges.
func (c Config) Validate() error {
	u, err := url.Parse(c.Agent.URL)
	if err != nil || (u.Scheme != "ws" && u.Scheme != "wss") {
		return fmt.Errorf("%w: agent.url must be a ws:// or wss:// URL, got %q", ErrInvalidConfig, c.Agent.URL)
	}
	if c.Agent.ConnectTimeout <= 0 {
		return fmt.Errorf("%w: agent.connectTimeout must be positive", ErrInvalidConfig)
	}
	if c.Agent.InitialBackoff <= 0 || c.Agent.MaxBackoff < c.Agent.InitialBackoff {
		return fmt.Errorf("%w: agent backoff must satisfy 0 < initialBackoff <= maxBackoff", ErrInvalidConfig)
	}
	if c.Agent.ReconnectAttempts < 0 {
		return fmt.Errorf("%w: agent.reconnectAttempts must not be negative", ErrInvalidConfig)
	}
	if c.Session.StartTimeout <= 0 || c.Session.CommandTimeout <= 0 {
		return fmt.Errorf("%w: session timeouts must be positive", ErrInvalidConfig)
	}
	if c.Snapshot.DebounceWindow < 0 {
		return fmt.Errorf("%w: snapshot.debounceWindow must not be negative", ErrInvalidConfig)
	}
	switch c.Logging.Format {
	case "", "text", "json":
	default:
		return fmt.Errorf("%w: logging.format must be text or json", ErrInvalidConfig)
	}
	return nil
}
