// Package roles defines typed contracts for module roles.
// Modules that fill a role (declared via PluginInfo.Roles) should implement
// the corresponding interface so callers can use type-safe access via
// PluginResolver.ResolveByRole followed by a type assertion.
package roles

import (
	"context"
	"time"

	"github.com/cwccie/netopshub/pkg/incident"
	"github.com/cwccie/netopshub/pkg/models"
	"github.com/cwccie/netopshub/pkg/telemetry"
)

// Role name constants match the strings used in PluginInfo.Roles.
const (
	RoleTopology  = "topology"
	RoleSeries    = "series"
	RoleIncidents = "incidents"
	RoleGate      = "gate"
)

// TopologyProvider is implemented by the module owning the topology graph.
type TopologyProvider interface {
	// Snapshot returns a consistent point-in-time view of the graph.
	Snapshot(ctx context.Context) (*models.TopologySnapshot, error)

	// Neighbors returns device IDs within maxHops of deviceID over fresh
	// edges, falling back to stale edges only when includeStale is set.
	Neighbors(ctx context.Context, deviceID string, maxHops int, includeStale bool) ([]string, error)
}

// SeriesProvider is implemented by the module owning the time-series store.
type SeriesProvider interface {
	// Range returns samples for a (device, metric) series in [from, to],
	// ordered by timestamp.
	Range(ctx context.Context, deviceID, metric string, from, to time.Time) ([]telemetry.MetricSample, error)
}

// IncidentProvider is implemented by the module owning incident records.
// Downstream stages append transitions and evidence; they never rewrite
// prior evidence.
type IncidentProvider interface {
	// Incident returns a single incident by ID, or nil if not found.
	Incident(ctx context.Context, id string) (*incident.CandidateIncident, error)

	// Incidents returns incidents, optionally filtered by state.
	// Pass "" to list all.
	Incidents(ctx context.Context, state incident.State) ([]incident.CandidateIncident, error)

	// Transition moves an incident from one state to the next. Illegal
	// moves fail without mutating the record.
	Transition(ctx context.Context, id string, from, to incident.State, note string) error

	// AppendEvidence adds an audit entry to the incident's evidence log.
	AppendEvidence(ctx context.Context, id string, ev incident.Evidence) error

	// AttachHypotheses records the diagnosis output on the incident.
	AttachHypotheses(ctx context.Context, id string, hyps []incident.RootCauseHypothesis) error
}

// ProposalGate is implemented by the module owning the remediation gate.
type ProposalGate interface {
	// Pending returns proposals awaiting a decision.
	Pending(ctx context.Context) ([]incident.RemediationProposal, error)

	// Proposal returns a proposal by ID, or nil if not found.
	Proposal(ctx context.Context, id string) (*incident.RemediationProposal, error)

	// Approve records an approval. Deciding an already-decided proposal
	// fails with the gate's conflict error.
	Approve(ctx context.Context, id, approver string) error

	// Reject records a rejection with a reason.
	Reject(ctx context.Context, id, approver, reason string) error
}
