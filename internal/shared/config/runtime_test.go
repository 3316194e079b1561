package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ferryerrors "ferry/internal/shared/errors"
)

func TestLoadRuntimeDefaults(t *testing.T) {
	t.Chdir(t.TempDir())

	rt, err := LoadRuntime(NewViper(), "")
	require.NoError(t, err)

	assert.Equal(t, "ferry.yaml", rt.JobsFile)
	assert.Equal(t, ".ferry/scratch", rt.ScratchDir)
	assert.Equal(t, 10*time.Second, rt.Loop.Interval)
	assert.False(t, rt.Loop.FailureBackoff)
	assert.Equal(t, 5*time.Minute, rt.Agent.Timeout)
	assert.Equal(t, 2*time.Second, rt.Agent.SimulatedDelay)
	assert.Equal(t, 60*time.Second, rt.Git.Timeout)
	assert.Empty(t, rt.Metrics.Addr)
	assert.Empty(t, rt.SettingsFile)
}

func TestLoadRuntimeReadsSettingsFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "ferry.settings.yaml"), []byte(`
loop:
  interval: 30s
  failure_backoff: true
  max_interval: 2m
agent:
  claude_binary: /opt/claude
remote:
  auto_sync: true
`), 0o644))
	t.Setenv("FERRY_LOOP_INTERVAL", "45s")
	t.Setenv("FERRY_LOG_LEVEL", "debug")

	rt, err := LoadRuntime(NewViper(), "")
	require.NoError(t, err)

	assert.Equal(t, 45*time.Second, rt.Loop.Interval, "env wins over file")
	assert.True(t, rt.Loop.FailureBackoff)
	assert.Equal(t, 2*time.Minute, rt.Loop.MaxInterval)
	assert.Equal(t, "/opt/claude", rt.Agent.ClaudeBinary)
	assert.True(t, rt.Remote.AutoSync)
	assert.Equal(t, "debug", rt.Log.Level)
	assert.NotEmpty(t, rt.SettingsFile)
}

func TestLoadRuntimeExplicitFileMustExist(t *testing.T) {
	_, err := LoadRuntime(NewViper(), filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestRuntimeValidate(t *testing.T) {
	t.Chdir(t.TempDir())
	v := NewViper()
	v.Set(KeyLoopInterval, "0s")
	_, err := LoadRuntime(v, "")
	assert.True(t, errors.Is(err, ferryerrors.ErrInvalidArgument))

	v = NewViper()
	v.Set(KeyLoopFailureBackoff, true)
	v.Set(KeyLoopMaxInterval, "1s")
	_, err = LoadRuntime(v, "")
	assert.True(t, errors.Is(err, ferryerrors.ErrInvalidArgument))
}

func TestRuntimeValidateTracing(t *testing.T) {
	t.Chdir(t.TempDir())
	v := NewViper()
	v.Set(KeyTracingEnabled, true)
	v.Set(KeyTracingExporter, "jaeger")
	_, err := LoadRuntime(v, "")
	assert.True(t, errors.Is(err, ferryerrors.ErrInvalidArgument))

	v = NewViper()
	v.Set(KeyTracingEnabled, true)
	v.Set(KeyTracingExporter, "Zipkin")
	rt, err := LoadRuntime(v, "")
	require.NoError(t, err)
	assert.Equal(t, "zipkin", rt.Tracing.Exporter)
	assert.Equal(t, 1.0, rt.Tracing.SampleRate)
}

func TestRuntimeValidateIDStrategy(t *testing.T) {
	t.Chdir(t.TempDir())
	v := NewViper()
	v.Set(KeyIDStrategy, "snowflake")
	_, err := LoadRuntime(v, "")
	assert.True(t, errors.Is(err, ferryerrors.ErrInvalidArgument))

	v = NewViper()
	v.Set(KeyIDStrategy, "UUIDv7")
	rt, err := LoadRuntime(v, "")
	require.NoError(t, err)
	assert.Equal(t, "uuidv7", rt.IDStrategy)
}
