package server

import (
	"fmt"

	"github.com/spf13/viper"
)

// Config holds the server configuration.
type Config struct {
	Host    string `mapstructure:"host"`
	Port    int    `mapstructure:"port"`
	DataDir string `mapstructure:"data_dir"`
}

// Addr returns the listen address as host:port.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// LoadConfig reads configuration from file and environment variables.
func LoadConfig(configPath string) (*viper.Viper, error) {
	v := viper.New()

	// Defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.data_dir", "./data")
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "./data/netopshub.db")

	// Module defaults
	v.SetDefault("modules.topology.enabled", true)
	v.SetDefault("modules.topology.stale_after", "24h")
	v.SetDefault("modules.topology.sweep_interval", "1h")
	v.SetDefault("modules.ingest.enabled", true)
	v.SetDefault("modules.ingest.queue_depth", 1024)
	v.SetDefault("modules.ingest.enqueue_wait", "50ms")
	v.SetDefault("modules.ingest.max_sample_age", "15m")
	v.SetDefault("modules.ingest.retention_period", "720h")
	v.SetDefault("modules.ingest.maintenance_interval", "1h")
	v.SetDefault("modules.ingest.min_samples", 10)
	v.SetDefault("modules.ingest.max_history", 2000)
	v.SetDefault("modules.ingest.zscore_threshold", 3.0)
	v.SetDefault("modules.ingest.iqr_multiplier", 1.5)
	v.SetDefault("modules.ingest.ewma_alpha", 0.3)
	v.SetDefault("modules.ingest.ewma_threshold", 3.0)
	v.SetDefault("modules.ingest.vector_metrics", []string{"cpu", "memory", "bandwidth_in", "bandwidth_out"})
	v.SetDefault("modules.ingest.mahalanobis_threshold", 3.5)
	v.SetDefault("modules.correlate.enabled", true)
	v.SetDefault("modules.correlate.window", "5m")
	v.SetDefault("modules.correlate.tick_interval", "30s")
	v.SetDefault("modules.correlate.max_hops", 2)
	v.SetDefault("modules.correlate.systemic_min", 3)
	v.SetDefault("modules.correlate.debounce_count", 2)
	v.SetDefault("modules.correlate.debounce_span", "2m")
	v.SetDefault("modules.orchestrate.enabled", true)
	v.SetDefault("modules.orchestrate.stage_timeout", "2m")
	v.SetDefault("modules.orchestrate.branch_timeout", "1m")
	v.SetDefault("modules.orchestrate.verify_window", "10m")
	v.SetDefault("modules.orchestrate.approval_timeout", "24h")
	v.SetDefault("modules.orchestrate.confidence_threshold", 0.6)
	v.SetDefault("modules.orchestrate.forecast_horizon", "168h")
	v.SetDefault("modules.orchestrate.sla_availability_target", 99.9)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("netopshub")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("/etc/netopshub")
	}

	// Environment variable support: NOH_SERVER_PORT=9090
	v.SetEnvPrefix("NOH")
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config: %w", err)
		}
		// Config file not found is fine -- use defaults
	}

	return v, nil
}
