package ingest

import (
	"time"

	"github.com/cwccie/netopshub/pkg/telemetry"
)

// Config holds configuration for the ingest module.
type Config struct {
	QueueDepth           int           `mapstructure:"queue_depth"`
	EnqueueWait          time.Duration `mapstructure:"enqueue_wait"`
	MaxSampleAge         time.Duration `mapstructure:"max_sample_age"`
	RetentionPeriod      time.Duration `mapstructure:"retention_period"`
	MaintenanceInterval  time.Duration `mapstructure:"maintenance_interval"`
	MinSamples           int           `mapstructure:"min_samples"`
	MaxHistory           int           `mapstructure:"max_history"`
	ZScoreThreshold      float64       `mapstructure:"zscore_threshold"`
	IQRMultiplier        float64       `mapstructure:"iqr_multiplier"`
	EWMAAlpha            float64       `mapstructure:"ewma_alpha"`
	EWMAThreshold        float64       `mapstructure:"ewma_threshold"`
	VectorMetrics        []string      `mapstructure:"vector_metrics"`
	MahalanobisThreshold float64       `mapstructure:"mahalanobis_threshold"`
}

// DefaultConfig returns sensible defaults for the ingest module.
func DefaultConfig() Config {
	return Config{
		QueueDepth:          1024,
		EnqueueWait:         50 * time.Millisecond,
		MaxSampleAge:        15 * time.Minute,
		RetentionPeriod:     30 * 24 * time.Hour,
		MaintenanceInterval: 1 * time.Hour,
		MinSamples:          10,
		MaxHistory:          2000,
		ZScoreThreshold:     3.0,
		IQRMultiplier:       1.5,
		EWMAAlpha:           0.3,
		EWMAThreshold:       3.0,
		VectorMetrics: []string{
			telemetry.MetricCPU,
			telemetry.MetricMemory,
			telemetry.MetricBandwidthIn,
			telemetry.MetricBandwidthOut,
		},
		MahalanobisThreshold: 3.5,
	}
}
