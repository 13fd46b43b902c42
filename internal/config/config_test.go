package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/GoPolymarket/capturegate/internal/pkg/apperrors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleConfig = `
server:
  port: "9090"
upstream:
  url: http://backend:8000
capture:
  memory_threshold: 2048
  headers:
    excludes: ["Authorization,r", "Cookie"]
matchers:
  - id: orders
    predicate:
      path: /v1/orders/**
      method: POST
    request:
      body: STORE
      headers:
        includes: ["Content-Type", "X-Api-Key,r"]
    response:
      body: SIZE
sinks:
  - name: stdout
  - name: audit-file
    type: file
    settings:
      dir: /tmp/logs
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadReadsMatchersAndDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, sampleConfig))
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Server.Port)
	assert.Equal(t, int64(2048), cfg.Capture.MemoryThreshold)
	assert.Equal(t, 4, cfg.Capture.Workers)
	assert.Equal(t, 5000, cfg.Delivery.SinkTimeoutMs)
	assert.Equal(t, []string{"Authorization,r", "Cookie"}, cfg.Capture.Headers.Excludes)

	require.Len(t, cfg.Matchers, 1)
	m := cfg.Matchers[0]
	assert.Equal(t, "orders", m.ID)
	assert.Equal(t, "/v1/orders/**", m.Predicate["path"])
	assert.Equal(t, "STORE", m.Request.Body)
	assert.Equal(t, []string{"Content-Type", "X-Api-Key,r"}, m.Request.Headers.Includes)
	assert.Equal(t, "SIZE", m.Response.Body)

	require.Len(t, cfg.Sinks, 2)
	assert.Equal(t, "stdout", cfg.Sinks[0].SinkType())
	assert.Equal(t, "audit-file", cfg.Sinks[1].SinkName())
	assert.Equal(t, "file", cfg.Sinks[1].SinkType())
	assert.Equal(t, "/tmp/logs", cfg.Sinks[1].Settings["dir"])
}

func TestValidateRejectsBadMatchers(t *testing.T) {
	cases := map[string]Config{
		"empty id": {Matchers: []MatcherConfig{{Predicate: map[string]string{"path": "/"}}}},
		"duplicate id": {Matchers: []MatcherConfig{
			{ID: "a", Predicate: map[string]string{"path": "/a"}},
			{ID: "a", Predicate: map[string]string{"path": "/b"}},
		}},
		"empty predicate": {Matchers: []MatcherConfig{{ID: "a"}}},
		"duplicate sink":  {Sinks: []SinkConfig{{Name: "stdout"}, {Type: "stdout"}}},
	}
	for name, cfg := range cases {
		t.Run(name, func(t *testing.T) {
			err := cfg.Validate()
			require.Error(t, err)
			assert.True(t, apperrors.Is(err, apperrors.ErrConfig))
		})
	}
}

func TestValidateErrorNamesDuplicateMatcher(t *testing.T) {
	cfg := Config{Matchers: []MatcherConfig{
		{ID: "orders", Predicate: map[string]string{"path": "/a"}},
		{ID: "orders", Predicate: map[string]string{"path": "/b"}},
	}}
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), `"orders"`)
}

type reload struct {
	cfg *Config
	err error
}

func matcherConfig(ids ...string) string {
	out := "upstream:\n  url: http://backend:8000\nmatchers:\n"
	for _, id := range ids {
		out += "  - id: " + id + "\n    predicate:\n      path: /" + id + "/**\n"
	}
	return out
}

// awaitReload skips intermediate events (a rewrite can surface as a truncated
// file first) until one satisfies ok.
func awaitReload(t *testing.T, ch <-chan reload, ok func(reload) bool) reload {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case r := <-ch:
			if ok(r) {
				return r
			}
		case <-deadline:
			t.Fatalf("no matching config reload within 5s")
			return reload{}
		}
	}
}

func TestWatchDeliversReloadsAndRejections(t *testing.T) {
	path := writeConfig(t, matcherConfig("orders"))
	loader := NewLoader(path)
	cfg, err := loader.Load()
	require.NoError(t, err)
	require.Len(t, cfg.Matchers, 1)

	ch := make(chan reload, 16)
	loader.Watch(func(c *Config, err error) {
		select {
		case ch <- reload{cfg: c, err: err}:
		default:
		}
	})

	require.NoError(t, os.WriteFile(path, []byte(matcherConfig("orders", "users")), 0o644))
	got := awaitReload(t, ch, func(r reload) bool {
		return r.err == nil && r.cfg != nil && len(r.cfg.Matchers) == 2
	})
	assert.Equal(t, "orders", got.cfg.Matchers[0].ID)
	assert.Equal(t, "users", got.cfg.Matchers[1].ID)

	require.NoError(t, os.WriteFile(path, []byte(matcherConfig("orders", "orders")), 0o644))
	got = awaitReload(t, ch, func(r reload) bool { return r.err != nil })
	assert.Nil(t, got.cfg)
	assert.True(t, apperrors.Is(got.err, apperrors.ErrConfig))
	assert.Contains(t, got.err.Error(), `"orders"`)
}
