// Package config loads the daemon configuration: every tunable has a
// default, an optional YAML file can override any of them.
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"

	"github.com/gpumon/gpumon/internal/monitor"
)

type Config struct {
	ListenAddr string `mapstructure:"listen_addr"`

	SamplePeriod    time.Duration `mapstructure:"sample_period"`
	BroadcastPeriod time.Duration `mapstructure:"broadcast_period"`

	QueueCapacity int `mapstructure:"queue_capacity"`
	WindowSize    int `mapstructure:"window_size"`

	ECCInterval    time.Duration `mapstructure:"ecc_interval"`
	PowerInterval  time.Duration `mapstructure:"power_interval"`
	DriverInterval time.Duration `mapstructure:"driver_interval"`
	CommandTimeout time.Duration `mapstructure:"command_timeout"`

	SubscriberQueueSize int `mapstructure:"subscriber_queue_size"`

	Thresholds monitor.Thresholds `mapstructure:"thresholds"`
}

// Load reads the configuration, optionally from a YAML file at path. An
// empty path or a missing file yields the defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, fmt.Errorf("error reading config file: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("listen_addr", ":8000")

	v.SetDefault("sample_period", "1s")
	v.SetDefault("broadcast_period", "1s")

	v.SetDefault("queue_capacity", 50)
	v.SetDefault("window_size", 10)

	v.SetDefault("ecc_interval", "60s")
	v.SetDefault("power_interval", "300s")
	v.SetDefault("driver_interval", "24h")
	v.SetDefault("command_timeout", "10s")

	v.SetDefault("subscriber_queue_size", 8)

	t := monitor.DefaultThresholds()
	v.SetDefault("thresholds.temp_warning", t.TempWarning)
	v.SetDefault("thresholds.temp_critical", t.TempCritical)
	v.SetDefault("thresholds.util_low", t.UtilLow)
	v.SetDefault("thresholds.util_normal", t.UtilNormal)
	v.SetDefault("thresholds.util_high", t.UtilHigh)
	v.SetDefault("thresholds.util_std_warning", t.UtilStdWarning)
	v.SetDefault("thresholds.power_std_warning", t.PowerStdWarning)
	v.SetDefault("thresholds.memory_normal", t.MemoryNormal)
	v.SetDefault("thresholds.memory_high", t.MemoryHigh)
	v.SetDefault("thresholds.memory_critical", t.MemoryCritical)
	v.SetDefault("thresholds.ecc_warning", t.ECCWarning)
}

func (c *Config) validate() error {
	if c.SamplePeriod <= 0 {
		return fmt.Errorf("sample_period must be positive, got %s", c.SamplePeriod)
	}
	if c.BroadcastPeriod <= 0 {
		return fmt.Errorf("broadcast_period must be positive, got %s", c.BroadcastPeriod)
	}
	if c.QueueCapacity < 1 {
		return fmt.Errorf("queue_capacity must be at least 1, got %d", c.QueueCapacity)
	}
	if c.WindowSize < 1 {
		return fmt.Errorf("window_size must be at least 1, got %d", c.WindowSize)
	}
	if c.CommandTimeout <= 0 {
		return fmt.Errorf("command_timeout must be positive, got %s", c.CommandTimeout)
	}

	t := c.Thresholds
	if t.TempWarning >= t.TempCritical {
		return fmt.Errorf("temp_warning (%v) must be below temp_critical (%v)", t.TempWarning, t.TempCritical)
	}
	if !(t.MemoryNormal < t.MemoryHigh && t.MemoryHigh < t.MemoryCritical) {
		return fmt.Errorf("memory thresholds must be ordered normal < high < critical")
	}
	return nil
}
