package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. LEVERLAB_MAX_OPEN_DATASETS.
const EnvPrefix = "LEVERLAB"

// Lever declares a default lever used when a dataset's naming table does not
// declare any.
type Lever struct {
	ID    string  `mapstructure:"id"`
	Name  string  `mapstructure:"name"`
	Field string  `mapstructure:"field"`
	Min   float64 `mapstructure:"min"`
	Max   float64 `mapstructure:"max"`
}

// Elasticity bounds the lever elasticity estimator.
type Elasticity struct {
	Min                  float64
	Max                  float64
	CorrelationThreshold float64
}

// Telemetry configures the optional OTLP metrics exporter.
type Telemetry struct {
	Enabled  bool
	Endpoint string
	Insecure bool
}

// Config is the effective server configuration.
type Config struct {
	MaxConcurrentRequests int
	MaxOpenDatasets       int
	MaxFileBytes          int64
	OperationTimeout      time.Duration
	AcquireRequestTimeout time.Duration
	DatasetIdleTTL        time.Duration
	CleanupPeriod         time.Duration
	MaxSessions           int
	AllowedDirs           []string
	LogLevel              string
	Model                 string
	ModelContextShare     float64
	Levers                []Lever
	Elasticity            Elasticity
	Telemetry             Telemetry
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		MaxConcurrentRequests: DefaultMaxConcurrentRequests,
		MaxOpenDatasets:       DefaultMaxOpenDatasets,
		MaxFileBytes:          DefaultMaxFileBytes,
		OperationTimeout:      DefaultOperationTimeout,
		AcquireRequestTimeout: DefaultAcquireRequestTimeout,
		DatasetIdleTTL:        DefaultDatasetIdleTTL,
		CleanupPeriod:         DefaultDatasetCleanupPeriod,
		MaxSessions:           DefaultMaxSessionsPerDataset,
		LogLevel:              "info",
		ModelContextShare:     DefaultModelContextShare,
		Elasticity: Elasticity{
			Min:                  DefaultElasticityMin,
			Max:                  DefaultElasticityMax,
			CorrelationThreshold: DefaultCorrelationThreshold,
		},
	}
}

// Load starts from Default and applies, in order, an optional leverlab.yaml
// found in dir (or the file dir names directly) and LEVERLAB_* environment
// variables. A missing config file is not an error.
func Load(dir string) (Config, error) {
	cfg := Default()

	v := viper.New()
	if strings.HasSuffix(dir, ".yaml") || strings.HasSuffix(dir, ".yml") {
		v.SetConfigFile(dir)
	} else {
		v.SetConfigName("leverlab")
		v.SetConfigType("yaml")
		if dir != "" {
			v.AddConfigPath(dir)
		}
		v.AddConfigPath(".")
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, os.ErrNotExist) {
			return cfg, fmt.Errorf("config: read %s: %w", v.ConfigFileUsed(), err)
		}
	}

	if v.IsSet("max_concurrent_requests") {
		cfg.MaxConcurrentRequests = v.GetInt("max_concurrent_requests")
	}
	if v.IsSet("max_open_datasets") {
		cfg.MaxOpenDatasets = v.GetInt("max_open_datasets")
	}
	if v.IsSet("max_file_bytes") {
		cfg.MaxFileBytes = v.GetInt64("max_file_bytes")
	}
	if v.IsSet("operation_timeout") {
		cfg.OperationTimeout = v.GetDuration("operation_timeout")
	}
	if v.IsSet("acquire_request_timeout") {
		cfg.AcquireRequestTimeout = v.GetDuration("acquire_request_timeout")
	}
	if v.IsSet("dataset_idle_ttl") {
		cfg.DatasetIdleTTL = v.GetDuration("dataset_idle_ttl")
	}
	if v.IsSet("cleanup_period") {
		cfg.CleanupPeriod = v.GetDuration("cleanup_period")
	}
	if v.IsSet("max_sessions") {
		cfg.MaxSessions = v.GetInt("max_sessions")
	}
	if v.IsSet("log_level") {
		cfg.LogLevel = strings.ToLower(v.GetString("log_level"))
	}
	if v.IsSet("model") {
		cfg.Model = strings.TrimSpace(v.GetString("model"))
	}
	if v.IsSet("model_context_share") {
		cfg.ModelContextShare = v.GetFloat64("model_context_share")
	}
	if v.IsSet("allowed_dirs") {
		cfg.AllowedDirs = dirList(v.Get("allowed_dirs"))
	}
	if v.IsSet("elasticity.min") {
		cfg.Elasticity.Min = v.GetFloat64("elasticity.min")
	}
	if v.IsSet("elasticity.max") {
		cfg.Elasticity.Max = v.GetFloat64("elasticity.max")
	}
	if v.IsSet("elasticity.correlation_threshold") {
		cfg.Elasticity.CorrelationThreshold = v.GetFloat64("elasticity.correlation_threshold")
	}
	if v.IsSet("telemetry.enabled") {
		cfg.Telemetry.Enabled = v.GetBool("telemetry.enabled")
	}
	if v.IsSet("telemetry.endpoint") {
		cfg.Telemetry.Endpoint = v.GetString("telemetry.endpoint")
		// An endpoint turns the exporter on unless explicitly disabled.
		if !v.IsSet("telemetry.enabled") {
			cfg.Telemetry.Enabled = cfg.Telemetry.Endpoint != ""
		}
	}
	if v.IsSet("telemetry.insecure") {
		cfg.Telemetry.Insecure = v.GetBool("telemetry.insecure")
	}
	if v.IsSet("levers") {
		if err := v.UnmarshalKey("levers", &cfg.Levers); err != nil {
			return cfg, fmt.Errorf("config: levers: %w", err)
		}
		for i := range cfg.Levers {
			fillLever(&cfg.Levers[i])
		}
	}

	if cfg.ModelContextShare <= 0 || cfg.ModelContextShare > 1 {
		return cfg, fmt.Errorf("config: model_context_share %.3f outside (0, 1]", cfg.ModelContextShare)
	}
	if cfg.Elasticity.Min > cfg.Elasticity.Max {
		return cfg, fmt.Errorf("config: elasticity.min %.3f exceeds elasticity.max %.3f", cfg.Elasticity.Min, cfg.Elasticity.Max)
	}
	return cfg, nil
}

// dirList accepts either a YAML list or an OS path list string.
func dirList(raw any) []string {
	var parts []string
	switch x := raw.(type) {
	case string:
		parts = filepath.SplitList(x)
	case []string:
		parts = x
	case []any:
		for _, p := range x {
			parts = append(parts, fmt.Sprint(p))
		}
	}
	out := parts[:0:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func fillLever(l *Lever) {
	if l.Field == "" {
		l.Field = l.ID
	}
	if l.Name == "" {
		l.Name = l.ID
	}
	if l.Min == 0 && l.Max == 0 {
		l.Min, l.Max = DefaultLeverMin, DefaultLeverMax
	}
}
