// Package gate owns the human-in-the-loop approval step for remediation
// plans. A step list never leaves the gate without a recorded approval,
// and waiting callers resume through registered continuations rather than
// polling.
package gate

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cwccie/netopshub/pkg/incident"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	// ErrAlreadyDecided rejects a second decision on the same proposal.
	// The first decision stands; audit trails are immutable.
	ErrAlreadyDecided = errors.New("proposal already decided")

	// ErrNotFound is returned for unknown proposal IDs.
	ErrNotFound = errors.New("proposal not found")

	// ErrInvalidProposal rejects proposals missing required fields.
	ErrInvalidProposal = errors.New("invalid proposal")
)

// DecisionFunc is a continuation invoked once when its proposal is decided.
type DecisionFunc func(p incident.RemediationProposal)

// Gate stores proposals and dispatches decisions to waiting continuations.
type Gate struct {
	store  *Store
	logger *zap.Logger
	now    func() time.Time

	mu            sync.Mutex
	continuations map[string]DecisionFunc
}

// New creates a gate over a proposal store.
func New(store *Store, logger *zap.Logger) *Gate {
	return &Gate{
		store:         store,
		logger:        logger,
		now:           func() time.Time { return time.Now().UTC() },
		continuations: make(map[string]DecisionFunc),
	}
}

// Propose files a remediation plan for approval and returns its ID.
func (g *Gate) Propose(ctx context.Context, p incident.RemediationProposal) (string, error) {
	if p.IncidentID == "" {
		return "", fmt.Errorf("%w: incident_id is required", ErrInvalidProposal)
	}
	if len(p.Steps) == 0 {
		return "", fmt.Errorf("%w: a proposal needs at least one step", ErrInvalidProposal)
	}
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.RiskLevel == "" {
		p.RiskLevel = "medium"
	}
	p.Approval = nil
	p.CreatedAt = g.now()

	if err := g.store.SaveProposal(ctx, p); err != nil {
		return "", err
	}
	g.logger.Info("remediation proposed",
		zap.String("proposal_id", p.ID),
		zap.String("incident_id", p.IncidentID),
		zap.Int("steps", len(p.Steps)),
		zap.String("risk", p.RiskLevel),
	)
	return p.ID, nil
}

// Approve records a human approval and resumes any waiting continuation.
func (g *Gate) Approve(ctx context.Context, id, approver string) error {
	return g.decide(ctx, id, incident.ApprovalRecord{
		Approver: approver,
		Decision: incident.DecisionApproved,
	})
}

// Reject records a rejection with its reason.
func (g *Gate) Reject(ctx context.Context, id, approver, reason string) error {
	return g.decide(ctx, id, incident.ApprovalRecord{
		Approver: approver,
		Decision: incident.DecisionRejected,
		Reason:   reason,
	})
}

func (g *Gate) decide(ctx context.Context, id string, record incident.ApprovalRecord) error {
	if record.Approver == "" {
		return fmt.Errorf("%w: approver is required", ErrInvalidProposal)
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	p, err := g.store.GetProposal(ctx, id)
	if err != nil {
		return err
	}
	if p.Decided() {
		return fmt.Errorf("proposal %s: %w", id, ErrAlreadyDecided)
	}

	record.DecidedAt = g.now()
	p.Approval = &record
	if err := g.store.SaveProposal(ctx, *p); err != nil {
		return err
	}
	g.logger.Info("proposal decided",
		zap.String("proposal_id", id),
		zap.String("decision", string(record.Decision)),
		zap.String("approver", record.Approver),
	)

	if fn, ok := g.continuations[id]; ok {
		delete(g.continuations, id)
		go fn(*p)
	}
	return nil
}

// OnDecision registers a continuation for a proposal. If the proposal is
// already decided the continuation fires immediately; either way it runs
// at most once, on its own goroutine.
func (g *Gate) OnDecision(ctx context.Context, id string, fn DecisionFunc) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	p, err := g.store.GetProposal(ctx, id)
	if err != nil {
		return err
	}
	if p.Decided() {
		go fn(*p)
		return nil
	}
	g.continuations[id] = fn
	return nil
}

// CancelWait drops a registered continuation without deciding the
// proposal, for callers abandoning their wait (timeout, shutdown).
func (g *Gate) CancelWait(id string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.continuations, id)
}

// Pending returns undecided proposals, oldest first.
func (g *Gate) Pending(ctx context.Context) ([]incident.RemediationProposal, error) {
	return g.store.ListPending(ctx)
}

// Proposal returns one proposal by ID.
func (g *Gate) Proposal(ctx context.Context, id string) (*incident.RemediationProposal, error) {
	return g.store.GetProposal(ctx, id)
}

// ByIncident returns every proposal filed for an incident, oldest first.
func (g *Gate) ByIncident(ctx context.Context, incidentID string) ([]incident.RemediationProposal, error) {
	return g.store.ListByIncident(ctx, incidentID)
}
