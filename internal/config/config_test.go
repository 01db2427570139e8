package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowgraph/metered/internal/core/channel"
	"github.com/flowgraph/metered/pkg/validation"
)

// unsetAfter removes keys a .env file may have introduced into the process
// environment.
func unsetAfter(t *testing.T, keys ...string) {
	t.Helper()
	t.Cleanup(func() {
		for _, k := range keys {
			_ = os.Unsetenv(k)
		}
	})
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.env"))
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, 10*time.Second, cfg.Server.ShutdownTimeout)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)
	assert.Equal(t, channel.DefaultQueueCapacity, cfg.Channels.QueueCapacity)
	assert.Equal(t, channel.DefaultBroadcastCapacity, cfg.Channels.BroadcastCapacity)
	assert.Equal(t, "metered", cfg.Channels.MetricsPrefix)
	assert.Equal(t, 50*time.Millisecond, cfg.Channels.WorkloadRate)
}

func TestLoadEnvironment(t *testing.T) {
	t.Setenv("METERED_ADDR", "127.0.0.1:9100")
	t.Setenv("METERED_LOG_FORMAT", "json")
	t.Setenv("METERED_QUEUE_CAPACITY", "64")
	t.Setenv("METERED_WORKLOAD_RATE", "5ms")

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.env"))
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:9100", cfg.Server.Addr)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, 64, cfg.Channels.QueueCapacity)
	assert.Equal(t, 5*time.Millisecond, cfg.Channels.WorkloadRate)
}

func TestLoadDotEnv(t *testing.T) {
	unsetAfter(t, "METERED_METRICS_PREFIX", "METERED_LOG_LEVEL")
	t.Setenv("METERED_LOG_LEVEL", "warn")

	path := filepath.Join(t.TempDir(), ".env")
	content := "METERED_METRICS_PREFIX=demo\nMETERED_LOG_LEVEL=debug\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "demo", cfg.Channels.MetricsPrefix)
	assert.Equal(t, "warn", cfg.Log.Level, "process environment wins over the file")
}

func TestLoadInvalid(t *testing.T) {
	cases := map[string]struct {
		key, value string
		field      string
	}{
		"Addr":          {"METERED_ADDR", "nope", "Addr"},
		"LogFormat":     {"METERED_LOG_FORMAT", "xml", "Format"},
		"QueueCapacity": {"METERED_QUEUE_CAPACITY", "0", "QueueCapacity"},
		"MetricsPrefix": {"METERED_METRICS_PREFIX", "has-dash", "MetricsPrefix"},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			t.Setenv(tc.key, tc.value)
			_, err := Load(filepath.Join(t.TempDir(), "missing.env"))
			require.Error(t, err)

			var errs validation.ValidationErrors
			require.ErrorAs(t, err, &errs)
			require.Len(t, errs, 1)
			assert.Equal(t, tc.field, errs[0].Field)
		})
	}

	t.Run("Unparseable", func(t *testing.T) {
		t.Setenv("METERED_BROADCAST_CAPACITY", "many")
		_, err := Load(filepath.Join(t.TempDir(), "missing.env"))
		assert.ErrorContains(t, err, "failed to parse environment")
	})
}

func TestRuntime(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.env"))
	require.NoError(t, err)

	rc := cfg.Runtime(cfg.Logger())
	assert.Equal(t, cfg.Channels.QueueCapacity, rc.QueueCapacity)
	assert.Equal(t, cfg.Channels.BroadcastCapacity, rc.BroadcastCapacity)
	require.NotNil(t, rc.Logger)
}
