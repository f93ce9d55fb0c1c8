package orchestrate

import "errors"

// ErrStateConflict rejects a request that does not match the run's current
// stage. The run is left unchanged.
var ErrStateConflict = errors.New("run state conflict")

// ErrRunNotFound is returned for incidents with no orchestrator run.
var ErrRunNotFound = errors.New("run not found")

// Stage is an orchestrator run's position in the pipeline. Analyzing
// covers the concurrent compliance and forecast branches; their individual
// outcomes land in the incident's evidence log.
type Stage string

const (
	StageIdle        Stage = "idle"
	StageDiscovering Stage = "discovering"
	StageDiagnosing  Stage = "diagnosing"
	StageAnalyzing   Stage = "analyzing"
	StageProposing   Stage = "proposing_remediation"
	StageAwaiting    Stage = "awaiting_approval"
	StageRemediating Stage = "remediating"
	StageVerifying   Stage = "verifying"
	StageResolved    Stage = "resolved"
	StageClosed      Stage = "closed"
)

// Branch stage names used in evidence entries.
const (
	branchCompliance = "compliance_check"
	branchForecast   = "forecasting"
)

// Terminal reports whether the run has finished.
func (s Stage) Terminal() bool {
	return s == StageResolved || s == StageClosed
}

// next maps each stage to its forward successor.
var next = map[Stage]Stage{
	StageIdle:        StageDiscovering,
	StageDiscovering: StageDiagnosing,
	StageDiagnosing:  StageAnalyzing,
	StageAnalyzing:   StageProposing,
	StageProposing:   StageAwaiting,
	StageAwaiting:    StageRemediating,
	StageRemediating: StageVerifying,
	StageVerifying:   StageResolved,
}

// canAdvance reports whether from -> to is a legal stage move. Closing is
// allowed from any stage before Remediating; a verification recurrence is
// the one sanctioned move backwards.
func canAdvance(from, to Stage) bool {
	if from.Terminal() {
		return false
	}
	if to == StageClosed {
		return cancellable(from)
	}
	if from == StageVerifying && to == StageDiagnosing {
		return true
	}
	return next[from] == to
}

// cancellable reports whether a run may still be cancelled. Once
// remediation has started, the only way out is rollback via a new gated
// proposal.
func cancellable(s Stage) bool {
	switch s {
	case StageRemediating, StageVerifying, StageResolved, StageClosed:
		return false
	}
	return true
}
