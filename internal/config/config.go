// Package config loads the engine's tunable surface from an optional
// YAML file plus STREAMROW_* environment overrides.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the full configuration surface of the render engine. Every
// value has a sensible default; a config file only needs the keys it
// changes.
type Config struct {
	Buffer    BufferConfig    `mapstructure:"buffer"`
	Flush     FlushConfig     `mapstructure:"flush"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Pool      PoolConfig      `mapstructure:"pool"`
	Layout    LayoutConfig    `mapstructure:"layout"`
	Engine    EngineConfig    `mapstructure:"engine"`
	Log       LogConfig       `mapstructure:"log"`
}

// BufferConfig bounds per-message reassembly.
type BufferConfig struct {
	HoldingCap int           `mapstructure:"holding_cap"` // out-of-order chunks held per message
	GapTimeout time.Duration `mapstructure:"gap_timeout"` // before a sequence gap is skipped
	MaxBytes   int           `mapstructure:"max_bytes"`   // retained content cap per message
}

// FlushConfig drives when buffered content becomes renderable.
type FlushConfig struct {
	SizeThreshold int           `mapstructure:"size_threshold"` // chars buffered before forced flush
	MaxWait       time.Duration `mapstructure:"max_wait"`       // flush deadline on slow trickles
}

// SchedulerConfig shapes the adaptive render interval and admission.
type SchedulerConfig struct {
	BaseInterval  time.Duration `mapstructure:"base_interval"`
	MinInterval   time.Duration `mapstructure:"min_interval"`
	MaxInterval   time.Duration `mapstructure:"max_interval"`
	CostBudget    time.Duration `mapstructure:"cost_budget"`
	MaxConcurrent int           `mapstructure:"max_concurrent"` // in-flight renders across all messages
}

// PoolConfig bounds the expensive render-context pool.
type PoolConfig struct {
	Capacity       int           `mapstructure:"capacity"`
	AcquireTimeout time.Duration `mapstructure:"acquire_timeout"`
	LoadTimeout    time.Duration `mapstructure:"load_timeout"` // embedded-surface render deadline
}

// LayoutConfig tunes height transitions and scroll-follow behavior.
type LayoutConfig struct {
	NoiseThreshold   int `mapstructure:"noise_threshold"`    // rows; smaller deltas apply instantly
	ReEngageDistance int `mapstructure:"re_engage_distance"` // rows from bottom to re-enable follow
	AnimateMaxSteps  int `mapstructure:"animate_max_steps"`
	EventBuffer      int `mapstructure:"event_buffer"`
}

// EngineConfig sizes the engine itself.
type EngineConfig struct {
	Workers     int `mapstructure:"workers"`      // render worker goroutines
	MaxSessions int `mapstructure:"max_sessions"` // LRU-evicted above this
	CacheSize   int `mapstructure:"cache_size"`   // render result cache entries
}

// LogConfig configures structured logging.
type LogConfig struct {
	Level string `mapstructure:"level"` // trace, debug, info, warn, error
}

// Default returns the configuration with every documented default.
func Default() *Config {
	return &Config{
		Buffer: BufferConfig{
			HoldingCap: 32,
			GapTimeout: 2 * time.Second,
			MaxBytes:   1 << 20,
		},
		Flush: FlushConfig{
			SizeThreshold: 100,
			MaxWait:       150 * time.Millisecond,
		},
		Scheduler: SchedulerConfig{
			BaseInterval:  50 * time.Millisecond,
			MinInterval:   16 * time.Millisecond,
			MaxInterval:   500 * time.Millisecond,
			CostBudget:    16 * time.Millisecond,
			MaxConcurrent: 3,
		},
		Pool: PoolConfig{
			Capacity:       5,
			AcquireTimeout: 500 * time.Millisecond,
			LoadTimeout:    3 * time.Second,
		},
		Layout: LayoutConfig{
			NoiseThreshold:   2,
			ReEngageDistance: 3,
			AnimateMaxSteps:  8,
			EventBuffer:      256,
		},
		Engine: EngineConfig{
			Workers:     4,
			MaxSessions: 64,
			CacheSize:   256,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads streamrow.yaml from the working directory (optional) and
// applies STREAMROW_* environment overrides on top of the defaults.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigName("streamrow")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.SetEnvPrefix("streamrow")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	d := Default()
	v.SetDefault("buffer.holding_cap", d.Buffer.HoldingCap)
	v.SetDefault("buffer.gap_timeout", d.Buffer.GapTimeout)
	v.SetDefault("buffer.max_bytes", d.Buffer.MaxBytes)
	v.SetDefault("flush.size_threshold", d.Flush.SizeThreshold)
	v.SetDefault("flush.max_wait", d.Flush.MaxWait)
	v.SetDefault("scheduler.base_interval", d.Scheduler.BaseInterval)
	v.SetDefault("scheduler.min_interval", d.Scheduler.MinInterval)
	v.SetDefault("scheduler.max_interval", d.Scheduler.MaxInterval)
	v.SetDefault("scheduler.cost_budget", d.Scheduler.CostBudget)
	v.SetDefault("scheduler.max_concurrent", d.Scheduler.MaxConcurrent)
	v.SetDefault("pool.capacity", d.Pool.Capacity)
	v.SetDefault("pool.acquire_timeout", d.Pool.AcquireTimeout)
	v.SetDefault("pool.load_timeout", d.Pool.LoadTimeout)
	v.SetDefault("layout.noise_threshold", d.Layout.NoiseThreshold)
	v.SetDefault("layout.re_engage_distance", d.Layout.ReEngageDistance)
	v.SetDefault("layout.animate_max_steps", d.Layout.AnimateMaxSteps)
	v.SetDefault("layout.event_buffer", d.Layout.EventBuffer)
	v.SetDefault("engine.workers", d.Engine.Workers)
	v.SetDefault("engine.max_sessions", d.Engine.MaxSessions)
	v.SetDefault("engine.cache_size", d.Engine.CacheSize)
	v.SetDefault("log.level", d.Log.Level)
}

// Validate rejects configurations the engine cannot run with.
func (c *Config) Validate() error {
	if c.Buffer.HoldingCap <= 0 {
		return fmt.Errorf("buffer.holding_cap must be positive, got %d", c.Buffer.HoldingCap)
	}
	if c.Buffer.MaxBytes <= 0 {
		return fmt.Errorf("buffer.max_bytes must be positive, got %d", c.Buffer.MaxBytes)
	}
	if c.Flush.SizeThreshold <= 0 {
		return fmt.Errorf("flush.size_threshold must be positive, got %d", c.Flush.SizeThreshold)
	}
	if c.Scheduler.MinInterval > c.Scheduler.MaxInterval {
		return fmt.Errorf("scheduler.min_interval %v exceeds max_interval %v",
			c.Scheduler.MinInterval, c.Scheduler.MaxInterval)
	}
	if c.Scheduler.MaxConcurrent <= 0 {
		return fmt.Errorf("scheduler.max_concurrent must be positive, got %d", c.Scheduler.MaxConcurrent)
	}
	if c.Pool.Capacity <= 0 {
		return fmt.Errorf("pool.capacity must be positive, got %d", c.Pool.Capacity)
	}
	if c.Engine.Workers <= 0 {
		return fmt.Errorf("engine.workers must be positive, got %d", c.Engine.Workers)
	}
	if c.Engine.MaxSessions <= 0 {
		return fmt.Errorf("engine.max_sessions must be positive, got %d", c.Engine.MaxSessions)
	}
	return nil
}
