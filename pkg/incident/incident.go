// Package incident provides the public SDK types for candidate incidents,
// root-cause hypotheses, and remediation proposals.
package incident

import (
	"time"

	"github.com/cwccie/netopshub/pkg/telemetry"
)

// State is an incident's lifecycle state. Incidents only move forward;
// ClosedUnconfirmed and Closed are absorbing.
type State string

const (
	StateOpen                State = "open"
	StateDiagnosing          State = "diagnosing"
	StateDiagnosed           State = "diagnosed"
	StateRemediationProposed State = "remediation_proposed"
	StateAwaitingApproval    State = "awaiting_approval"
	StateRemediating         State = "remediating"
	StateVerifying           State = "verifying"
	StateResolved            State = "resolved"
	StateClosedUnconfirmed   State = "closed_unconfirmed"
	StateClosed              State = "closed"
)

// Terminal reports whether no further transitions are allowed from s.
func (s State) Terminal() bool {
	switch s {
	case StateResolved, StateClosedUnconfirmed, StateClosed:
		return true
	}
	return false
}

// forward order of the pipeline states. Verification recurrence is the one
// sanctioned move backwards (Verifying -> Diagnosing).
var stateRank = map[State]int{
	StateOpen:                0,
	StateDiagnosing:          1,
	StateDiagnosed:           2,
	StateRemediationProposed: 3,
	StateAwaitingApproval:    4,
	StateRemediating:         5,
	StateVerifying:           6,
	StateResolved:            7,
}

// CanTransition reports whether from -> to is a legal lifecycle move.
func CanTransition(from, to State) bool {
	if from.Terminal() {
		return false
	}
	// Closing is allowed from any non-terminal state except Remediating,
	// which must complete or roll back via a gated proposal.
	if to == StateClosed || to == StateClosedUnconfirmed {
		return from != StateRemediating
	}
	// Verification loop: recurrence sends the incident back to diagnosis.
	if from == StateVerifying && to == StateDiagnosing {
		return true
	}
	fr, ok1 := stateRank[from]
	tr, ok2 := stateRank[to]
	return ok1 && ok2 && tr == fr+1
}

// CandidateIncident is a correlated group of anomaly signals pending
// diagnosis. Evidence is append-only: downstream stages attach hypotheses,
// proposals, and stage results but never rewrite prior evidence.
type CandidateIncident struct {
	ID          string                    `json:"id"`
	State       State                     `json:"state"`
	Signals     []telemetry.AnomalySignal `json:"signals"`
	DeviceIDs   []string                  `json:"device_ids"`
	WindowStart time.Time                 `json:"window_start"`
	WindowEnd   time.Time                 `json:"window_end"`
	Systemic    bool                      `json:"systemic,omitempty"` // shared-metric pattern across devices
	CreatedAt   time.Time                 `json:"created_at"`
	UpdatedAt   time.Time                 `json:"updated_at"`
	Hypotheses  []RootCauseHypothesis     `json:"hypotheses,omitempty"`
	ProposalID  string                    `json:"proposal_id,omitempty"`
}

// Evidence is one append-only audit entry on an incident: a state
// transition, a stage result, a branch failure, or verification findings.
type Evidence struct {
	IncidentID string    `json:"incident_id"`
	Seq        int64     `json:"seq"`
	Kind       string    `json:"kind"` // "transition", "stage", "signal", "decision", "note"
	Stage      string    `json:"stage,omitempty"`
	Summary    string    `json:"summary"`
	Detail     string    `json:"detail,omitempty"`
	RecordedAt time.Time `json:"recorded_at"`
}

// RootCauseHypothesis is a ranked candidate explanation for an incident.
type RootCauseHypothesis struct {
	DeviceID    string   `json:"device_id"`
	EdgeKey     string   `json:"edge_key,omitempty"` // set when the suspect is a link
	Confidence  float64  `json:"confidence"`         // normalized to [0,1]
	Centrality  float64  `json:"centrality"`
	Precedence  float64  `json:"precedence"`
	LayerBias   float64  `json:"layer_bias"`
	BlastRadius []string `json:"blast_radius"`
	Summary     string   `json:"summary"`
}

// ChangeStep is one atomic step of a remediation plan.
type ChangeStep struct {
	DeviceID string `json:"device_id"`
	Command  string `json:"command"`
	Comment  string `json:"comment,omitempty"`
}

// Decision records a human approval or rejection.
type Decision string

const (
	DecisionApproved Decision = "approved"
	DecisionRejected Decision = "rejected"
)

// ApprovalRecord captures who decided a proposal and when. Absent until a
// human acts.
type ApprovalRecord struct {
	Approver  string    `json:"approver"`
	Decision  Decision  `json:"decision"`
	Reason    string    `json:"reason,omitempty"`
	DecidedAt time.Time `json:"decided_at"`
}

// RemediationProposal is a gated change plan. No step list is handed to an
// execution collaborator without a recorded approval.
type RemediationProposal struct {
	ID           string          `json:"id"`
	IncidentID   string          `json:"incident_id"`
	Title        string          `json:"title"`
	Steps        []ChangeStep    `json:"steps"`
	Rollback     []ChangeStep    `json:"rollback"`
	DiffPreview  string          `json:"diff_preview,omitempty"`
	RiskLevel    string          `json:"risk_level"` // "low", "medium", "high"
	Approval     *ApprovalRecord `json:"approval,omitempty"`
	AutoRollback bool            `json:"auto_rollback,omitempty"` // pre-authorized rollback on verify failure
	CreatedAt    time.Time       `json:"created_at"`
}

// Decided reports whether a human has acted on the proposal.
func (p *RemediationProposal) Decided() bool {
	return p.Approval != nil
}

// StageResult is the outcome of one orchestrator stage run.
type StageResult struct {
	Stage      string        `json:"stage"`
	OK         bool          `json:"ok"`
	Summary    string        `json:"summary"`
	Err        string        `json:"error,omitempty"`
	Duration   time.Duration `json:"duration"`
	FinishedAt time.Time     `json:"finished_at"`
}
