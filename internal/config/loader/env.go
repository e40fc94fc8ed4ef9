package loader

import (
	"os"
	"strings"
)

// EnvLoader loads configuration from environment variables.
//
// Values are kept as strings; the decoder converts them to the target
// field types.
type EnvLoader struct {
	prefix  string            // Environment variable prefix (e.g., "PROBECTL_")
	mapping map[string]string // Env var -> config path
	lookup  func(string) (string, bool)
	environ func() []string
}

// NewEnvLoader creates a new environment variable loader.
// The prefix should include the trailing underscore (e.g., "PROBECTL_").
func NewEnvLoader(prefix string) *EnvLoader {
	return &EnvLoader{
		prefix:  prefix,
		mapping: defaultEnvMapping(),
		lookup:  os.LookupEnv,
		environ: os.Environ,
	}
}

// NewEnvLoaderFrom creates a loader reading from a fixed environment
// instead of the process environment.
func NewEnvLoaderFrom(prefix string, env map[string]string) *EnvLoader {
	l := NewEnvLoader(prefix)
	l.lookup = func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	}
	l.environ = func() []string {
		out := make([]string, 0, len(env))
		for k, v := range env {
			out = append(out, k+"="+v)
		}
		return out
	}
	return l
}

// defaultEnvMapping returns the default environment variable mappings.
func defaultEnvMapping() map[string]string {
	return map[string]string{
		"PROBECTL_AGENT_URL":          "agent.url",
		"PROBECTL_CONNECT_TIMEOUT":    "agent.connectTimeout",
		"PROBECTL_RECONNECT_ATTEMPTS": "agent.reconnectAttempts",
		"PROBECTL_DEVICE":             "session.deviceId",
		"PROBECTL_BUILD":              "session.buildCommand",
		"PROBECTL_COMMAND_TIMEOUT":    "session.commandTimeout",
		"PROBECTL_DEBOUNCE":           "snapshot.debounceWindow",
		"PROBECTL_LOG_LEVEL":          "logging.level",
		"PROBECTL_LOG_FORMAT":         "logging.format",
		"PROBECTL_HTTP_ADDR":          "http.addr",
	}
}

// Load reads environment variables and returns a configuration map.
// Note: Empty string values are treated as valid values, not as unset.
func (l *EnvLoader) Load() (map[string]any, error) {
	config := make(map[string]any)

	for env, path := range l.mapping {
		if val, ok := l.lookup(env); ok {
			setByPath(config, path, val)
		}
	}

	// Prefixed variables outside the mapping use PROBECTL_SECTION_KEY_NAME.
	for _, env := range l.environ() {
		if !strings.HasPrefix(env, l.prefix) {
			continue
		}
		name, value, ok := strings.Cut(env, "=")
		if !ok {
			continue
		}
		if _, mapped := l.mapping[name]; mapped {
			continue
		}
		setByPath(config, l.envToPath(name), value)
	}

	return config, nil
}

// AddMapping adds a custom environment variable mapping.
func (l *EnvLoader) AddMapping(envVar, configPath string) {
	if l.mapping == nil {
		l.mapping = make(map[string]string)
	}
	l.mapping[envVar] = configPath
}

// envToPath converts PROBECTL_AGENT_MAX_BACKOFF to agent.maxBackoff.
func (l *EnvLoader) envToPath(env string) string {
	name := strings.TrimPrefix(env, l.prefix)
	parts := strings.Split(name, "_")

	section := strings.ToLower(parts[0])
	if len(parts) == 1 {
		return section
	}

	setting := strings.ToLower(parts[1])
	for _, part := range parts[2:] {
		if part == "" {
			continue
		}
		setting += strings.ToUpper(part[:1]) + strings.ToLower(part[1:])
	}
	return section + "." + setting
}

// setByPath sets a value in a nested map using a dot-separated path.
func setByPath(data map[string]any, path string, value any) {
	parts := strings.Split(path, ".")
	current := data

	for _, part := range parts[:len(parts)-1] {
		next, ok := current[part].(map[string]any)
		if !ok {
			next = make(map[string]any)
			current[part] = next
		}
		current = next
	}
	current[parts[len(parts)-1]] = value
}
