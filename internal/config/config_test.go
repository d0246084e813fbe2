package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	require.Equal(t, ":8000", cfg.ListenAddr)
	require.Equal(t, time.Second, cfg.SamplePeriod)
	require.Equal(t, time.Second, cfg.BroadcastPeriod)
	require.Equal(t, 50, cfg.QueueCapacity)
	require.Equal(t, 10, cfg.WindowSize)
	require.Equal(t, 60*time.Second, cfg.ECCInterval)
	require.Equal(t, 300*time.Second, cfg.PowerInterval)
	require.Equal(t, 24*time.Hour, cfg.DriverInterval)
	require.Equal(t, 10*time.Second, cfg.CommandTimeout)

	require.Equal(t, 75.0, cfg.Thresholds.TempWarning)
	require.Equal(t, 85.0, cfg.Thresholds.TempCritical)
	require.Equal(t, 0.95, cfg.Thresholds.MemoryCritical)
	require.Equal(t, uint64(1), cfg.Thresholds.ECCWarning)
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadFileOverrides(t *testing.T) {
	path := writeConfig(t, `
listen_addr: ":9100"
sample_period: 2s
queue_capacity: 5
thresholds:
  temp_warning: 70
  temp_critical: 80
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	require.Equal(t, ":9100", cfg.ListenAddr)
	require.Equal(t, 2*time.Second, cfg.SamplePeriod)
	require.Equal(t, 5, cfg.QueueCapacity)
	require.Equal(t, 70.0, cfg.Thresholds.TempWarning)
	require.Equal(t, 80.0, cfg.Thresholds.TempCritical)

	// Untouched keys keep their defaults.
	require.Equal(t, 10, cfg.WindowSize)
	require.Equal(t, 0.95, cfg.Thresholds.MemoryCritical)
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	cases := []struct {
		name string
		yaml string
	}{
		{"zero sample period", "sample_period: 0s"},
		{"zero queue capacity", "queue_capacity: 0"},
		{"zero window size", "window_size: 0"},
		{"inverted temperature thresholds", "thresholds:\n  temp_warning: 90\n  temp_critical: 85"},
		{"unordered memory thresholds", "thresholds:\n  memory_high: 0.97"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tc.yaml))
			require.Error(t, err)
		})
	}
}

func TestLoadMalformedFile(t *testing.T) {
	_, err := Load(writeConfig(t, "listen_addr: [not closed"))
	require.Error(t, err)
}
