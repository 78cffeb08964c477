package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetApplicationConfig_Defaults(t *testing.T) {
	t.Setenv("CONFIG_PATH", "")
	v, err := InitConfig()
	require.NoError(t, err)

	cfg, err := GetApplicationConfig(v)
	require.NoError(t, err)

	assert.True(t, cfg.SessionRunner.AutoSave)
	assert.Equal(t, 5*time.Second, cfg.SessionRunner.AutoSaveDebounce())
	assert.Equal(t, 750*time.Millisecond, cfg.SessionRunner.AutoAdvance())
	assert.Equal(t, time.Second, cfg.Recorder.ChunkInterval())
	assert.Equal(t, 44100, cfg.Recorder.SampleRate)
	assert.Equal(t, 1, cfg.Recorder.Channels)
	assert.Equal(t, 30*time.Second, cfg.Transport.HeartbeatInterval())
	assert.Equal(t, 10*time.Second, cfg.Transport.ConnectTimeout())
	assert.Equal(t, 5*time.Second, cfg.Transport.PingTimeout())
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second, 16 * time.Second},
		cfg.Transport.RetryDelayTable())
	assert.Equal(t, 5, cfg.Transport.MaxReconnectAttempts)
	assert.Equal(t, 100, cfg.Transport.MaxQueueSize)
	assert.Equal(t, time.Minute, cfg.Analysis.EvaluationTimeout())
	assert.Equal(t, "memory", cfg.Storage.Driver)
}

func TestGetApplicationConfig_EnvOverrides(t *testing.T) {
	t.Setenv("CONFIG_PATH", "")
	t.Setenv("INTERVIEWX_RECORDER__CHUNK_INTERVAL_MS", "250")
	t.Setenv("INTERVIEWX_TRANSPORT__MAX_QUEUE_SIZE", "10")
	t.Setenv("INTERVIEWX_SESSION_RUNNER__AUTO_SAVE", "false")

	v, err := InitConfig()
	require.NoError(t, err)
	cfg, err := GetApplicationConfig(v)
	require.NoError(t, err)

	assert.Equal(t, 250*time.Millisecond, cfg.Recorder.ChunkInterval())
	assert.Equal(t, 10, cfg.Transport.MaxQueueSize)
	assert.False(t, cfg.SessionRunner.AutoSave)
}

func TestGetApplicationConfig_FromYAMLFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "client.yaml")
	content := []byte(`
recorder:
  channels: 2
  encoding: mulaw
transport:
  max_reconnect_attempts: 3
storage:
  driver: sqlite
  sqlite_path: /tmp/client.db
`)
	require.NoError(t, os.WriteFile(path, content, 0o600))
	t.Setenv("CONFIG_PATH", path)

	v, err := InitConfig()
	require.NoError(t, err)
	cfg, err := GetApplicationConfig(v)
	require.NoError(t, err)

	assert.Equal(t, 2, cfg.Recorder.Channels)
	assert.Equal(t, "mulaw", cfg.Recorder.Encoding)
	assert.Equal(t, 3, cfg.Transport.MaxReconnectAttempts)
	assert.Equal(t, "sqlite", cfg.Storage.Driver)
	assert.Equal(t, 44100, cfg.Recorder.SampleRate, "unset keys keep their defaults")
}

func TestGetApplicationConfig_ValidationFailure(t *testing.T) {
	t.Setenv("CONFIG_PATH", "")
	t.Setenv("INTERVIEWX_RECORDER__CHANNELS", "3")

	v, err := InitConfig()
	require.NoError(t, err)
	cfg, err := GetApplicationConfig(v)
	assert.Error(t, err)
	assert.Nil(t, cfg)
}

func TestGetApplicationConfig_RedisRequiresAddress(t *testing.T) {
	t.Setenv("CONFIG_PATH", "")
	t.Setenv("INTERVIEWX_STORAGE__DRIVER", "redis")

	v, err := InitConfig()
	require.NoError(t, err)
	_, err = GetApplicationConfig(v)
	assert.Error(t, err)
}
