package loader

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileLoader_Formats(t *testing.T) {
	fsys := MapFS{
		"cfg.toml": []byte("[agent]\nurl = \"ws://a\"\nreconnectAttempts = 3\n"),
		"cfg.yaml": []byte("agent:\n  url: ws://b\n  reconnectAttempts: 4\n"),
		"cfg.jsonc": []byte(`{
			// agent endpoint
			"agent": {"url": "ws://c", "reconnectAttempts": 5,},
		}`),
	}

	tests := []struct {
		path string
		url  string
	}{
		{"cfg.toml", "ws://a"},
		{"cfg.yaml", "ws://b"},
		{"cfg.jsonc", "ws://c"},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			m, err := NewFileLoaderWithFS(fsys, tt.path).Load()
			require.NoError(t, err)
			agent, ok := m["agent"].(map[string]any)
			require.True(t, ok, "agent section missing: %#v", m)
			assert.Equal(t, tt.url, agent["url"])
		})
	}
}

func TestFileLoader_MissingFileIsNotAnError(t *testing.T) {
	m, err := NewFileLoaderWithFS(MapFS{}, "absent.toml").Load()
	assert.NoError(t, err)
	assert.Nil(t, m)
}

func TestFileLoader_ParseError(t *testing.T) {
	fsys := MapFS{"bad.toml": []byte("[agent\nurl=")}

	_, err := NewFileLoaderWithFS(fsys, "bad.toml").Load()

	var perr *ParseError
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, "bad.toml", perr.Path)
}

func TestFileLoader_UnsupportedExtension(t *testing.T) {
	fsys := MapFS{"cfg.ini": []byte("x=1")}
	_, err := NewFileLoaderWithFS(fsys, "cfg.ini").Load()
	assert.Error(t, err)
}

func TestEnvLoader(t *testing.T) {
	l := NewEnvLoaderFrom("PROBECTL_", map[string]string{
		"PROBECTL_AGENT_URL":         "ws://env",
		"PROBECTL_AGENT_MAX_BACKOFF": "3s",
		"OTHER":                      "ignored",
	})

	m, err := l.Load()
	require.NoError(t, err)

	agent := m["agent"].(map[string]any)
	assert.Equal(t, "ws://env", agent["url"])
	assert.Equal(t, "3s", agent["maxBackoff"])
	assert.NotContains(t, m, "other")
}

func TestMerge(t *testing.T) {
	dst := map[string]any{
		"agent":   map[string]any{"url": "ws://a", "reconnectAttempts": 5},
		"logging": map[string]any{"level": "info"},
	}
	src := map[string]any{
		"agent": map[string]any{"url": "ws://b"},
	}

	out := Merge(dst, src)

	agent := out["agent"].(map[string]any)
	assert.Equal(t, "ws://b", agent["url"])
	assert.Equal(t, 5, agent["reconnectAttempts"])
	assert.Equal(t, "info", out["logging"].(map[string]any)["level"])
}
