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
	require.NoError(t, Default().Validate())
}

func TestLoadWithoutFileUsesDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 1000, cfg.Router.QueueCapacity)
	assert.Equal(t, OverflowRejectNew, cfg.Router.OverflowPolicy)
	assert.Equal(t, 200*time.Millisecond, cfg.Connection.Reconnection.BaseDelay)
}

func TestLoadOverlaysPartialFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := `
router:
  workers: 8
  overflow_policy: drop_oldest
  handler_timeout: 45s
connection:
  outbox_capacity: 50
  reconnection:
    base_delay: 300ms
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 8, cfg.Router.Workers)
	assert.Equal(t, OverflowDropOldest, cfg.Router.OverflowPolicy)
	assert.Equal(t, 45*time.Second, cfg.Router.HandlerTimeout)
	assert.Equal(t, 50, cfg.Connection.OutboxCapacity)
	assert.Equal(t, 300*time.Millisecond, cfg.Connection.Reconnection.BaseDelay)
	// Untouched sections keep their defaults.
	assert.Equal(t, 1000, cfg.Router.QueueCapacity)
	assert.Equal(t, 3, cfg.Connection.Heartbeat.MissesMax)
}

func TestLoadParsesDurationStrings(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := `
nats:
  reconnect_wait: 1s
router:
  stop_timeout: 1m30s
connection:
  snapshot_ttl: 10m
  heartbeat:
    interval: 20s
optimizer:
  generate_timeout: 90s
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, time.Second, cfg.NATS.ReconnectWait)
	assert.Equal(t, 90*time.Second, cfg.Router.StopTimeout)
	assert.Equal(t, 10*time.Minute, cfg.Connection.SnapshotTTL)
	assert.Equal(t, 20*time.Second, cfg.Connection.Heartbeat.Interval)
	assert.Equal(t, 90*time.Second, cfg.Optimizer.GenerateTimeout)
}

func TestLoadRejectsBadDurationString(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("router:\n  handler_timeout: soon\n"), 0o600))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"zero workers", "router:\n  workers: 0\n"},
		{"bad overflow policy", "router:\n  overflow_policy: drop_random\n"},
		{"max delay below base", "connection:\n  reconnection:\n    base_delay: 5s\n    max_delay: 1s\n"},
		{"jitter out of range", "connection:\n  reconnection:\n    jitter_fraction: 1.5\n"},
		{"zero cache capacity", "optimizer:\n  capacity: 0\n"},
		{"bad generator url", "generator:\n  base_url: not-a-url\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "config.yaml")
			require.NoError(t, os.WriteFile(path, []byte(tt.yaml), 0o600))
			_, err := Load(path)
			assert.Error(t, err)
		})
	}
}

func TestLoadMissingFileFails(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("SESSIONCORE_INSTANCE_ID", "core-west-1")
	t.Setenv("SESSIONCORE_NATS_URL", "nats://broker:4222")
	t.Setenv("SESSIONCORE_GENERATOR_API_KEY", "sk-test")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "core-west-1", cfg.Instance.ID)
	assert.Equal(t, "nats://broker:4222", cfg.NATS.URL)
	assert.Equal(t, "sk-test", cfg.Generator.APIKey)
}
