// Package config loads the DAG execution manager's configuration through
// viper: environment variables, an optional YAML file, and the defaults
// from spec.md §6.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/adrg/xdg"
	"github.com/spf13/viper"
)

// Config is the fully resolved configuration for one DagManager instance.
type Config struct {
	NumThreads       int           `mapstructure:"numThreads"`
	PollingInterval  time.Duration `mapstructure:"pollingInterval"`
	FailureOption    string        `mapstructure:"failureOption"`
	JobStartSLA      time.Duration `mapstructure:"jobStartSla"`
	FlowSLA          time.Duration `mapstructure:"flowSla"`

	DagStateStore    StoreConfig   `mapstructure:"dagStateStore"`
	FailedDagStore   FailedStoreConfig `mapstructure:"failedDagStateStore"`
	DagActionStore   StoreConfig   `mapstructure:"dagActionStore"`

	HTTP             HTTPConfig    `mapstructure:"http"`
	Tracing          TracingConfig `mapstructure:"tracing"`

	// JobSubmitTimeout bounds how long submitJob blocks on the
	// SpecProducer's future. Zero means unbounded (Open Question (a),
	// decided in DESIGN.md).
	JobSubmitTimeout time.Duration `mapstructure:"jobSubmitTimeout"`
}

// StoreConfig selects and configures one pluggable store backend.
type StoreConfig struct {
	// Class selects the implementation: "fs" (default) or "sqlite" for
	// DagStateStore, "fs" (default) or "redis" for DagActionStore.
	Class string `mapstructure:"class"`
	Path  string `mapstructure:"path"`
	DSN   string `mapstructure:"dsn"`
}

// FailedStoreConfig is the failed-dag store: it overlays StoreConfig with
// its own retention policy (spec.md §4.3, §6).
type FailedStoreConfig struct {
	StoreConfig           `mapstructure:",squash"`
	RetentionTime          time.Duration `mapstructure:"retention.time"`
	RetentionPollingPeriod time.Duration `mapstructure:"retention.pollingInterval"`
}

// HTTPConfig configures the read-only admin surface.
type HTTPConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr"`
}

// TracingConfig configures the OTel tracer provider.
type TracingConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	ServiceName string `mapstructure:"serviceName"`
}

// Load reads configuration from environment variables prefixed DAGMGR_ and
// an optional YAML file, applying the spec.md §6 defaults for anything
// unset.
func Load(configFile string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("DAGMGR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", configFile, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	// mapstructure does not resolve the dotted retention tags against
	// viper's nested settings, so the two durations are read by key.
	cfg.FailedDagStore.RetentionTime = v.GetDuration("failedDagStateStore.retention.time")
	cfg.FailedDagStore.RetentionPollingPeriod = v.GetDuration("failedDagStateStore.retention.pollingInterval")
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("numThreads", 3)
	v.SetDefault("pollingInterval", 10*time.Second)
	v.SetDefault("failureOption", "FINISH_ALL_POSSIBLE")
	v.SetDefault("jobStartSla", 10*time.Minute)
	v.SetDefault("flowSla", 0)
	v.SetDefault("jobSubmitTimeout", 0)

	v.SetDefault("dagStateStore.class", "fs")
	v.SetDefault("dagStateStore.path", defaultBaseDir("dag-state"))

	v.SetDefault("failedDagStateStore.class", "fs")
	v.SetDefault("failedDagStateStore.path", defaultBaseDir("dag-state-failed"))
	v.SetDefault("failedDagStateStore.retention.time", 7*24*time.Hour)
	v.SetDefault("failedDagStateStore.retention.pollingInterval", 60*time.Minute)

	v.SetDefault("dagActionStore.class", "fs")
	v.SetDefault("dagActionStore.path", defaultBaseDir("dag-actions"))

	v.SetDefault("http.enabled", true)
	v.SetDefault("http.addr", "127.0.0.1:9090")

	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.serviceName", "dagmanager")
}

// defaultBaseDir resolves a default path under the XDG data home, matching
// the teacher's convention of resolving unconfigured storage locations
// relative to the user's data directory rather than the working directory.
func defaultBaseDir(name string) string {
	dir, err := xdg.DataFile("dagmanager/" + name)
	if err != nil {
		return name
	}
	return dir
}
