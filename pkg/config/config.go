// Package config loads the toolkit's layered configuration: defaults,
// an optional YAML file, and AZKIT_* environment variables, in
// increasing precedence. The loaded viper instance is also the binding
// source for operation parameters declared with a config_key.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"

	"github.com/azkit/azkit/pkg/azure"
	"github.com/azkit/azkit/pkg/query"
	"github.com/azkit/azkit/pkg/stores"
	"github.com/azkit/azkit/pkg/telemetry"
)

// Load builds the configuration. path selects an explicit config file;
// when empty, azkit.yaml is searched in the working directory and
// ~/.azkit, and a missing file is not an error.
func Load(path string) (*viper.Viper, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("AZKIT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		return v, nil
	}

	v.SetConfigName("azkit")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	if home, err := os.UserHomeDir(); err == nil {
		v.AddConfigPath(filepath.Join(home, ".azkit"))
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	return v, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("store.path", defaultStorePath())

	v.SetDefault("cache.resource_ttl", "15m")
	v.SetDefault("cache.list_ttl", "5m")

	v.SetDefault("azure.cli", "az")
	v.SetDefault("azure.timeout", "60s")
	v.SetDefault("azure.retries", 3)
	v.SetDefault("azure.rate_limit", 4.0)
	v.SetDefault("azure.burst", 8)

	v.SetDefault("operations.dir", "operations")
	v.SetDefault("policies.paths", []string{})
	v.SetDefault("recovery.dir", "")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")
	v.SetDefault("logging.output", "stderr")
	v.SetDefault("logging.caller", false)

	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.listen", ":9090")
	v.SetDefault("metrics.path", "/metrics")

	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.exporter", "stdout")
	v.SetDefault("tracing.endpoint", "")
	v.SetDefault("tracing.sampling_rate", 1.0)
}

func defaultStorePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "azkit.db"
	}
	return filepath.Join(home, ".azkit", "azkit.db")
}

// StoreConfig maps the loaded settings onto the store's configuration.
func StoreConfig(v *viper.Viper) stores.Config {
	return stores.Config{
		Path: v.GetString("store.path"),
	}
}

// QueryConfig maps the cache TTL settings.
func QueryConfig(v *viper.Viper) query.Config {
	return query.Config{
		ResourceTTL: v.GetDuration("cache.resource_ttl"),
		ListTTL:     v.GetDuration("cache.list_ttl"),
	}
}

// AzureConfig maps the provider client settings.
func AzureConfig(v *viper.Viper) azure.Config {
	return azure.Config{
		CallTimeout: v.GetDuration("azure.timeout"),
		MaxRetries:  v.GetInt("azure.retries"),
		RateLimit:   v.GetFloat64("azure.rate_limit"),
		Burst:       v.GetInt("azure.burst"),
	}
}

// TelemetryConfig maps the logging, metrics, and tracing settings onto
// the telemetry configuration, starting from its defaults.
func TelemetryConfig(v *viper.Viper, version string) *telemetry.Config {
	cfg := telemetry.DefaultConfig()
	cfg.ServiceVersion = version

	cfg.Logging.Level = v.GetString("logging.level")
	cfg.Logging.Format = v.GetString("logging.format")
	cfg.Logging.Output = v.GetString("logging.output")
	cfg.Logging.EnableCaller = v.GetBool("logging.caller")

	cfg.Metrics.Enabled = v.GetBool("metrics.enabled")
	cfg.Metrics.ListenAddress = v.GetString("metrics.listen")
	cfg.Metrics.Path = v.GetString("metrics.path")

	cfg.Tracing.Enabled = v.GetBool("tracing.enabled")
	cfg.Tracing.Exporter = v.GetString("tracing.exporter")
	cfg.Tracing.Endpoint = v.GetString("tracing.endpoint")
	cfg.Tracing.SamplingRate = v.GetFloat64("tracing.sampling_rate")

	return cfg
}
