package topology

import "time"

// Config holds configuration for the topology module.
type Config struct {
	StaleAfter    time.Duration `mapstructure:"stale_after"`
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
}

// DefaultConfig returns sensible defaults for the topology module.
func DefaultConfig() Config {
	return Config{
		StaleAfter:    24 * time.Hour,
		SweepInterval: 1 * time.Hour,
	}
}
