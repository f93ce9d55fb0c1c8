package orchestrate

import "time"

// Config holds orchestrator settings.
type Config struct {
	// StageTimeout bounds a single pipeline stage.
	StageTimeout time.Duration `mapstructure:"stage_timeout"`

	// BranchTimeout bounds each of the compliance and forecast branches.
	BranchTimeout time.Duration `mapstructure:"branch_timeout"`

	// VerifyWindow is how long verification watches for a recurrence
	// before declaring the incident resolved.
	VerifyWindow time.Duration `mapstructure:"verify_window"`

	// ApprovalTimeout auto-closes an undecided proposal's incident as
	// unconfirmed. Zero waits indefinitely.
	ApprovalTimeout time.Duration `mapstructure:"approval_timeout"`

	// ConfidenceThreshold gates automatic progression past diagnosis.
	ConfidenceThreshold float64 `mapstructure:"confidence_threshold"`

	// ForecastHorizon is how far back the forecast branch reads series.
	ForecastHorizon time.Duration `mapstructure:"forecast_horizon"`

	// SLAAvailabilityTarget is the availability objective in percent.
	SLAAvailabilityTarget float64 `mapstructure:"sla_availability_target"`
}

// DefaultConfig returns the default orchestrator configuration.
func DefaultConfig() Config {
	return Config{
		StageTimeout:          2 * time.Minute,
		BranchTimeout:         time.Minute,
		VerifyWindow:          10 * time.Minute,
		ApprovalTimeout:       24 * time.Hour,
		ConfidenceThreshold:   0.6,
		ForecastHorizon:       168 * time.Hour,
		SLAAvailabilityTarget: 99.9,
	}
}
