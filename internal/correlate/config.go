package correlate

import "time"

// Config holds correlation engine settings.
type Config struct {
	// Window is the sliding correlation window; signals older than this
	// are discarded from grouping.
	Window time.Duration `mapstructure:"window"`

	// TickInterval is how often buffered signals are drained and grouped.
	TickInterval time.Duration `mapstructure:"tick_interval"`

	// MaxHops is the topology distance within which two signals correlate.
	MaxHops int `mapstructure:"max_hops"`

	// SystemicMin is the distinct-device count at which a shared metric is
	// treated as a systemic pattern regardless of topology distance.
	SystemicMin int `mapstructure:"systemic_min"`

	// DebounceCount is the minimum signal count before a group becomes an
	// incident.
	DebounceCount int `mapstructure:"debounce_count"`

	// DebounceSpan is the minimum duration a group must persist before it
	// becomes an incident.
	DebounceSpan time.Duration `mapstructure:"debounce_span"`

	// QueueDepth bounds the signal intake queue.
	QueueDepth int `mapstructure:"queue_depth"`
}

// DefaultConfig returns the default correlation configuration.
func DefaultConfig() Config {
	return Config{
		Window:        5 * time.Minute,
		TickInterval:  30 * time.Second,
		MaxHops:       2,
		SystemicMin:   3,
		DebounceCount: 2,
		DebounceSpan:  2 * time.Minute,
		QueueDepth:    1024,
	}
}
