// Package config loads the runtime knobs that govern supervisor and router
// behavior (restart budgets, backoff, default backpressure, sync window),
// separately from the immutable topology document. Knobs come from a YAML
// file, environment variable overrides, and can hot-reload the subset that
// is safe to change while a pipeline is running.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Runtime holds every tunable knob spec.md's external-interfaces section
// names. Topology shape (phases/streams/hyperedges) is never part of this
// struct — that document is loaded once via topology.Load and never
// hot-reloaded.
type Runtime struct {
	StartStagger      time.Duration `mapstructure:"start_stagger"`
	HealthInterval    time.Duration `mapstructure:"health_interval"`
	FailureThreshold  int           `mapstructure:"failure_threshold"`
	MaxRestarts       int           `mapstructure:"max_restarts"`
	RestartWindow     time.Duration `mapstructure:"restart_window"`
	BackoffBase       time.Duration `mapstructure:"backoff_base"`
	BackoffMax        time.Duration `mapstructure:"backoff_max"`
	StartupTimeout    time.Duration `mapstructure:"startup_timeout"`
	RollingBatchSize  int           `mapstructure:"rolling_batch_size"`
	RollbackOnFailure bool          `mapstructure:"rollback_on_failure"`
	DefaultBackpressure string      `mapstructure:"default_backpressure"`
	DefaultQueueSize  int           `mapstructure:"default_queue_size"`
	SyncWindow        time.Duration `mapstructure:"sync_window"`
	MetricsBackend    string        `mapstructure:"metrics_backend"` // "prometheus" | "otel" | "noop"
	LogLevel          string        `mapstructure:"log_level"`

	DependencyWaitTimeout time.Duration `mapstructure:"dependency_wait_timeout"`
	GracefulStopTimeout   time.Duration `mapstructure:"graceful_stop_timeout"`
	ConsumerDialTimeout   time.Duration `mapstructure:"consumer_dial_timeout"`
}

// Defaults returns the knob defaults carried over from the original
// orchestrator's documented constants.
func Defaults() Runtime {
	return Runtime{
		StartStagger:        500 * time.Millisecond,
		HealthInterval:      10 * time.Second,
		FailureThreshold:    3,
		MaxRestarts:         5,
		RestartWindow:       300 * time.Second,
		BackoffBase:         time.Second,
		BackoffMax:          60 * time.Second,
		StartupTimeout:      60 * time.Second,
		RollingBatchSize:    1,
		RollbackOnFailure:   false,
		DefaultBackpressure: "drop_oldest",
		DefaultQueueSize:    256,
		SyncWindow:          10 * time.Millisecond,
		MetricsBackend:      "prometheus",
		LogLevel:            "info",

		DependencyWaitTimeout: 60 * time.Second,
		GracefulStopTimeout:   10 * time.Second,
		ConsumerDialTimeout:   5 * time.Second,
	}
}

// Load reads runtime knobs from path (if non-empty) layered over Defaults,
// then applies HYPERPIPE_* environment variable overrides.
func Load(path string) (Runtime, error) {
	v := viper.New()
	cfg := Defaults()
	setDefaults(v, cfg)

	v.SetEnvPrefix("hyperpipe")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Runtime{}, fmt.Errorf("read runtime config %q: %w", path, err)
		}
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return Runtime{}, fmt.Errorf("decode runtime config: %w", err)
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper, cfg Runtime) {
	v.SetDefault("start_stagger", cfg.StartStagger)
	v.SetDefault("health_interval", cfg.HealthInterval)
	v.SetDefault("failure_threshold", cfg.FailureThreshold)
	v.SetDefault("max_restarts", cfg.MaxRestarts)
	v.SetDefault("restart_window", cfg.RestartWindow)
	v.SetDefault("backoff_base", cfg.BackoffBase)
	v.SetDefault("backoff_max", cfg.BackoffMax)
	v.SetDefault("startup_timeout", cfg.StartupTimeout)
	v.SetDefault("rolling_batch_size", cfg.RollingBatchSize)
	v.SetDefault("rollback_on_failure", cfg.RollbackOnFailure)
	v.SetDefault("default_backpressure", cfg.DefaultBackpressure)
	v.SetDefault("default_queue_size", cfg.DefaultQueueSize)
	v.SetDefault("sync_window", cfg.SyncWindow)
	v.SetDefault("metrics_backend", cfg.MetricsBackend)
	v.SetDefault("log_level", cfg.LogLevel)
	v.SetDefault("dependency_wait_timeout", cfg.DependencyWaitTimeout)
	v.SetDefault("graceful_stop_timeout", cfg.GracefulStopTimeout)
	v.SetDefault("consumer_dial_timeout", cfg.ConsumerDialTimeout)
}
