package orchestrate

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/cwccie/netopshub/pkg/incident"
	"github.com/cwccie/netopshub/pkg/models"
	"github.com/cwccie/netopshub/pkg/telemetry"
	"go.uber.org/zap"
)

// Executor applies one change step to a device. The default executor is a
// dry run; wiring a real device writer happens at composition time.
type Executor interface {
	Apply(ctx context.Context, step incident.ChangeStep) error
}

type dryRunExecutor struct {
	logger *zap.Logger
}

func (e *dryRunExecutor) Apply(_ context.Context, step incident.ChangeStep) error {
	e.logger.Info("dry-run change step",
		zap.String("device_id", step.DeviceID),
		zap.String("command", step.Command),
	)
	return nil
}

// runner drives one incident through the pipeline. Each incident gets its
// own runner goroutine; runners share nothing but the module's providers.
type runner struct {
	m      *Module
	inc    incident.CandidateIncident
	ctx    context.Context
	cancel context.CancelFunc

	// decision and recurrence are fed from outside the runner goroutine.
	decision   chan incident.RemediationProposal
	recurrence chan telemetry.AnomalySignal

	cur   incident.State // mirror of the incident's lifecycle state
	stage Stage
	loops int
}

func (m *Module) newRunner(inc incident.CandidateIncident) *runner {
	ctx, cancel := context.WithCancel(m.ctx)
	return &runner{
		m:          m,
		inc:        inc,
		ctx:        ctx,
		cancel:     cancel,
		decision:   make(chan incident.RemediationProposal, 1),
		recurrence: make(chan telemetry.AnomalySignal, 4),
		cur:        inc.State,
		stage:      StageIdle,
	}
}

// watches reports the (device, metric) pairs this run verifies against.
func (r *runner) watches() map[string]bool {
	out := make(map[string]bool)
	for _, s := range r.inc.Signals {
		out[s.DeviceID+"\x00"+s.Metric] = true
	}
	return out
}

func (r *runner) run() {
	defer r.m.finishRunner(r.inc.ID)

	log := r.m.logger.With(zap.String("incident_id", r.inc.ID))
	log.Info("orchestrator run started")

	snap := r.discover()
	if r.cancelled() {
		r.close("cancelled during discovery")
		return
	}

	firstPass := true
	for {
		hyps, ok := r.diagnose(snap, firstPass)
		if !ok {
			return
		}
		firstPass = false

		if len(hyps) == 0 || hyps[0].Confidence < r.m.cfg.ConfidenceThreshold {
			r.closeLowConfidence(hyps)
			return
		}

		r.analyze()
		if r.cancelled() {
			r.close("cancelled during analysis")
			return
		}

		proposalID, ok := r.propose(hyps[0])
		if !ok {
			return
		}

		proposal, ok := r.awaitDecision(proposalID)
		if !ok {
			return
		}

		if !r.remediate(proposal) {
			return
		}

		recurred, sig := r.verify()
		if r.cancelled() {
			return
		}
		if !recurred {
			r.resolve()
			return
		}

		// Recurrence closes the loop: back to diagnosis with the
		// verification evidence attached, on a fresh snapshot.
		r.loops++
		r.transitionIncident(incident.StateVerifying, incident.StateDiagnosing,
			fmt.Sprintf("recurrence on %s/%s during verification", sig.DeviceID, sig.Metric))
		r.setStage(StageDiagnosing)
		if proposal.AutoRollback {
			r.fileRollback(proposal)
		}
		snap = r.snapshot()
	}
}

func (r *runner) cancelled() bool {
	return r.ctx.Err() != nil
}

// discover captures the topology context later stages reason over.
func (r *runner) discover() *models.TopologySnapshot {
	r.setStage(StageDiscovering)
	return r.snapshot()
}

func (r *runner) snapshot() *models.TopologySnapshot {
	if r.m.topo == nil {
		return nil
	}
	snap, err := r.m.topo.Snapshot(r.ctx)
	if err != nil {
		r.m.logger.Error("topology snapshot failed",
			zap.String("incident_id", r.inc.ID), zap.Error(err))
		return nil
	}
	return snap
}

// diagnose runs the diagnosis engine and attaches ranked hypotheses.
func (r *runner) diagnose(snap *models.TopologySnapshot, firstPass bool) ([]incident.RootCauseHypothesis, bool) {
	r.setStage(StageDiagnosing)
	if firstPass {
		if !r.transitionIncident(incident.StateOpen, incident.StateDiagnosing, "orchestrator picked up incident") {
			r.setStage(StageClosed)
			return nil, false
		}
	}

	started := r.m.now()
	hyps := r.m.diagnoser.Diagnose(snap, r.inc)
	if err := r.m.incidents.AttachHypotheses(r.ctx, r.inc.ID, hyps); err != nil {
		r.m.logger.Error("attach hypotheses failed",
			zap.String("incident_id", r.inc.ID), zap.Error(err))
	}
	r.recordStage(incident.StageResult{
		Stage:      "diagnosis",
		OK:         true,
		Summary:    diagnosisSummary(hyps),
		Duration:   r.m.now().Sub(started),
		FinishedAt: r.m.now(),
	})

	if !r.transitionIncident(incident.StateDiagnosing, incident.StateDiagnosed, "") {
		r.setStage(StageClosed)
		return nil, false
	}
	return hyps, true
}

func diagnosisSummary(hyps []incident.RootCauseHypothesis) string {
	if len(hyps) == 0 {
		return "no hypotheses"
	}
	top := hyps[0]
	suspect := top.DeviceID
	if suspect == "" {
		suspect = "link " + top.EdgeKey
	}
	return fmt.Sprintf("%d hypotheses, top suspect %s at %.2f confidence (blast radius %d)",
		len(hyps), suspect, top.Confidence, len(top.BlastRadius))
}

func (r *runner) closeLowConfidence(hyps []incident.RootCauseHypothesis) {
	note := "diagnosis confidence below threshold"
	if len(hyps) > 0 {
		note = fmt.Sprintf("top confidence %.2f below threshold %.2f",
			hyps[0].Confidence, r.m.cfg.ConfidenceThreshold)
	}
	r.transitionIncident(r.cur, incident.StateClosedUnconfirmed, note)
	r.setStage(StageClosed)
}

// analyze runs the compliance and forecast branches concurrently. Either
// branch failing is evidence, not a stop: the pipeline proceeds on
// whatever completed.
func (r *runner) analyze() {
	r.setStage(StageAnalyzing)

	type branch struct {
		name string
		fn   func(ctx context.Context) incident.StageResult
	}
	branches := []branch{
		{branchCompliance, r.m.complianceBranch(r.inc)},
		{branchForecast, r.m.forecastBranch(r.inc)},
	}

	results := make(chan incident.StageResult, len(branches))
	for _, b := range branches {
		go func(b branch) {
			ctx, cancel := context.WithTimeout(r.ctx, r.m.cfg.BranchTimeout)
			defer cancel()

			done := make(chan incident.StageResult, 1)
			go func() { done <- b.fn(ctx) }()

			select {
			case res := <-done:
				results <- res
			case <-ctx.Done():
				results <- incident.StageResult{
					Stage:      b.name,
					OK:         false,
					Summary:    "branch timed out",
					Err:        ctx.Err().Error(),
					FinishedAt: r.m.now(),
				}
			}
		}(b)
	}

	for range branches {
		res := <-results
		r.recordStage(res)
		if !res.OK {
			r.m.logger.Warn("analysis branch failed",
				zap.String("incident_id", r.inc.ID),
				zap.String("branch", res.Stage),
				zap.String("error", res.Err),
			)
		}
	}
}

// propose files a remediation plan with the gate.
func (r *runner) propose(top incident.RootCauseHypothesis) (string, bool) {
	r.setStage(StageProposing)
	if !r.transitionIncident(incident.StateDiagnosed, incident.StateRemediationProposed, "") {
		r.setStage(StageClosed)
		return "", false
	}

	proposal := buildProposal(r.inc, top)
	id, err := r.m.gate.Propose(r.ctx, proposal)
	if err != nil {
		r.m.logger.Error("propose failed",
			zap.String("incident_id", r.inc.ID), zap.Error(err))
		r.transitionIncident(incident.StateRemediationProposed, incident.StateClosedUnconfirmed,
			"could not file remediation proposal")
		r.setStage(StageClosed)
		return "", false
	}
	r.m.setRunProposal(r.inc.ID, id)
	r.recordStage(incident.StageResult{
		Stage:      "proposal",
		OK:         true,
		Summary:    fmt.Sprintf("proposal %s filed (%d steps, risk %s)", id, len(proposal.Steps), proposal.RiskLevel),
		FinishedAt: r.m.now(),
	})
	return id, true
}

// awaitDecision suspends until a human decides, the approval deadline
// passes, or the run is cancelled. No polling: the gate resumes us.
func (r *runner) awaitDecision(proposalID string) (incident.RemediationProposal, bool) {
	r.setStage(StageAwaiting)
	if !r.transitionIncident(incident.StateRemediationProposed, incident.StateAwaitingApproval, "") {
		r.setStage(StageClosed)
		return incident.RemediationProposal{}, false
	}

	if err := r.m.gate.OnDecision(r.ctx, proposalID, func(p incident.RemediationProposal) {
		r.decision <- p
	}); err != nil {
		r.m.logger.Error("register decision continuation failed",
			zap.String("proposal_id", proposalID), zap.Error(err))
		r.transitionIncident(incident.StateAwaitingApproval, incident.StateClosedUnconfirmed, err.Error())
		r.setStage(StageClosed)
		return incident.RemediationProposal{}, false
	}

	var deadline <-chan time.Time
	if r.m.cfg.ApprovalTimeout > 0 {
		t := time.NewTimer(r.m.cfg.ApprovalTimeout)
		defer t.Stop()
		deadline = t.C
	}

	select {
	case p := <-r.decision:
		if p.Approval.Decision == incident.DecisionRejected {
			r.recordStage(incident.StageResult{
				Stage:      "approval",
				OK:         false,
				Summary:    fmt.Sprintf("rejected by %s: %s", p.Approval.Approver, p.Approval.Reason),
				FinishedAt: r.m.now(),
			})
			r.transitionIncident(incident.StateAwaitingApproval, incident.StateClosed,
				"remediation rejected")
			r.setStage(StageClosed)
			return incident.RemediationProposal{}, false
		}
		r.recordStage(incident.StageResult{
			Stage:      "approval",
			OK:         true,
			Summary:    "approved by " + p.Approval.Approver,
			FinishedAt: r.m.now(),
		})
		return p, true

	case <-deadline:
		r.m.gate.CancelWait(proposalID)
		r.transitionIncident(incident.StateAwaitingApproval, incident.StateClosedUnconfirmed,
			"approval deadline passed")
		r.setStage(StageClosed)
		return incident.RemediationProposal{}, false

	case <-r.ctx.Done():
		r.m.gate.CancelWait(proposalID)
		r.close("cancelled while awaiting approval")
		return incident.RemediationProposal{}, false
	}
}

// remediate applies the approved steps. Cancellation no longer applies;
// an interrupted change would leave device state inconsistent.
func (r *runner) remediate(p incident.RemediationProposal) bool {
	r.setStage(StageRemediating)
	if !r.transitionIncident(incident.StateAwaitingApproval, incident.StateRemediating, "") {
		r.setStage(StageClosed)
		return false
	}

	started := r.m.now()
	for i, step := range p.Steps {
		if err := r.m.executor.Apply(context.WithoutCancel(r.ctx), step); err != nil {
			r.recordStage(incident.StageResult{
				Stage:      "remediation",
				OK:         false,
				Summary:    fmt.Sprintf("step %d/%d failed on %s", i+1, len(p.Steps), step.DeviceID),
				Err:        err.Error(),
				Duration:   r.m.now().Sub(started),
				FinishedAt: r.m.now(),
			})
			r.fileRollback(p)
			r.transitionIncident(incident.StateRemediating, incident.StateVerifying,
				"remediation aborted, rollback proposed")
			return true
		}
	}
	r.recordStage(incident.StageResult{
		Stage:      "remediation",
		OK:         true,
		Summary:    fmt.Sprintf("%d steps applied", len(p.Steps)),
		Duration:   r.m.now().Sub(started),
		FinishedAt: r.m.now(),
	})
	return r.transitionIncident(incident.StateRemediating, incident.StateVerifying, "")
}

// verify watches the triggering series for a recurrence. Quiet through the
// window means resolved; a matching signal sends the incident back to
// diagnosis.
func (r *runner) verify() (bool, telemetry.AnomalySignal) {
	r.setStage(StageVerifying)

	timer := time.NewTimer(r.m.cfg.VerifyWindow)
	defer timer.Stop()

	select {
	case sig := <-r.recurrence:
		r.recordStage(incident.StageResult{
			Stage:      "verification",
			OK:         false,
			Summary:    fmt.Sprintf("recurrence: %s/%s severity %.2f", sig.DeviceID, sig.Metric, sig.Severity),
			FinishedAt: r.m.now(),
		})
		return true, sig

	case <-timer.C:
		r.recordStage(incident.StageResult{
			Stage:      "verification",
			OK:         true,
			Summary:    fmt.Sprintf("no recurrence within %s", r.m.cfg.VerifyWindow),
			FinishedAt: r.m.now(),
		})
		return false, telemetry.AnomalySignal{}

	case <-r.ctx.Done():
		// Shutdown: verification cannot be cancelled, the run just stops
		// making progress until restart.
		return false, telemetry.AnomalySignal{}
	}
}

func (r *runner) resolve() {
	r.transitionIncident(incident.StateVerifying, incident.StateResolved, "verified quiet")
	r.setStage(StageResolved)
}

// fileRollback files the stored rollback plan as a new gated proposal.
// Pre-authorized rollbacks still leave an audit trail; they are approved
// by the system rather than silently applied.
func (r *runner) fileRollback(p incident.RemediationProposal) {
	if len(p.Rollback) == 0 {
		return
	}
	rollback := incident.RemediationProposal{
		IncidentID:  p.IncidentID,
		Title:       "rollback: " + p.Title,
		Steps:       p.Rollback,
		RiskLevel:   p.RiskLevel,
		DiffPreview: "rollback of proposal " + p.ID,
	}
	id, err := r.m.gate.Propose(r.ctx, rollback)
	if err != nil {
		r.m.logger.Error("file rollback failed",
			zap.String("incident_id", p.IncidentID), zap.Error(err))
		return
	}
	if p.AutoRollback {
		if err := r.m.gate.Approve(r.ctx, id, "system:auto-rollback"); err != nil {
			r.m.logger.Error("auto-approve rollback failed", zap.String("proposal_id", id), zap.Error(err))
		}
	}
	r.recordStage(incident.StageResult{
		Stage:      "rollback",
		OK:         true,
		Summary:    "rollback proposal " + id + " filed",
		FinishedAt: r.m.now(),
	})
}

// close cancels the run from a cancellable stage.
func (r *runner) close(note string) {
	if cancellable(r.stage) && !r.cur.Terminal() {
		r.transitionIncident(r.cur, incident.StateClosed, note)
	}
	r.setStage(StageClosed)
}

// transitionIncident moves the incident lifecycle and mirrors the new
// state locally. A refused move means another actor already moved the
// incident; the runner stops fighting over it.
func (r *runner) transitionIncident(from, to incident.State, note string) bool {
	ctx := context.WithoutCancel(r.ctx)
	if err := r.m.incidents.Transition(ctx, r.inc.ID, from, to, note); err != nil {
		r.m.logger.Warn("incident transition refused",
			zap.String("incident_id", r.inc.ID),
			zap.String("from", string(from)),
			zap.String("to", string(to)),
			zap.Error(err),
		)
		return false
	}
	r.cur = to
	return true
}

// setStage publishes the new stage. The module's mutex covers the stage
// field because onSignal and Cancel read it from other goroutines.
func (r *runner) setStage(s Stage) {
	r.m.mu.Lock()
	r.stage = s
	r.m.mu.Unlock()
	r.m.saveStage(r.inc.ID, s, r.loops)
}

func (r *runner) recordStage(res incident.StageResult) {
	ctx := context.WithoutCancel(r.ctx)
	detail := ""
	if res.Err != "" {
		detail = res.Err
	}
	if err := r.m.incidents.AppendEvidence(ctx, r.inc.ID, incident.Evidence{
		Kind:       "stage",
		Stage:      res.Stage,
		Summary:    res.Summary,
		Detail:     detail,
		RecordedAt: r.m.now(),
	}); err != nil {
		r.m.logger.Error("append stage evidence failed",
			zap.String("incident_id", r.inc.ID), zap.Error(err))
	}
	stageDuration.WithLabelValues(res.Stage).Observe(res.Duration.Seconds())
}

// buildProposal synthesizes a change plan from the top hypothesis.
func buildProposal(inc incident.CandidateIncident, top incident.RootCauseHypothesis) incident.RemediationProposal {
	var steps, rollback []incident.ChangeStep
	title := ""

	if top.EdgeKey != "" {
		devices := edgeDevices(top.EdgeKey)
		title = "bounce suspect link " + top.EdgeKey
		for _, d := range devices {
			steps = append(steps,
				incident.ChangeStep{DeviceID: d, Command: "clear counters", Comment: "reset error baselines"},
				incident.ChangeStep{DeviceID: d, Command: "interface reset", Comment: "bounce the suspect link"},
			)
			rollback = append(rollback,
				incident.ChangeStep{DeviceID: d, Command: "interface no shutdown", Comment: "restore link"},
			)
		}
	} else {
		title = "remediate suspect device " + top.DeviceID
		steps = append(steps,
			incident.ChangeStep{DeviceID: top.DeviceID, Command: "collect diagnostics", Comment: "snapshot state before change"},
			incident.ChangeStep{DeviceID: top.DeviceID, Command: "restart affected service", Comment: "clear the suspect fault"},
		)
		rollback = append(rollback,
			incident.ChangeStep{DeviceID: top.DeviceID, Command: "restore previous configuration"},
		)
	}

	risk := "high"
	switch {
	case len(top.BlastRadius) == 0:
		risk = "low"
	case len(top.BlastRadius) <= 2:
		risk = "medium"
	}

	return incident.RemediationProposal{
		IncidentID:  inc.ID,
		Title:       title,
		Steps:       steps,
		Rollback:    rollback,
		RiskLevel:   risk,
		DiffPreview: proposalPreview(inc, top),
		// Low-risk changes carry pre-authorized rollback; anything wider
		// goes back through the gate.
		AutoRollback: risk == "low",
	}
}

func edgeDevices(edgeKey string) []string {
	// Key layout: kind|device|interface|device|interface.
	parts := strings.Split(edgeKey, "|")
	if len(parts) != 5 {
		return nil
	}
	if parts[1] == parts[3] {
		return []string{parts[1]}
	}
	out := []string{parts[1], parts[3]}
	sort.Strings(out)
	return out
}

func proposalPreview(inc incident.CandidateIncident, top incident.RootCauseHypothesis) string {
	var b strings.Builder
	fmt.Fprintf(&b, "incident %s: %d signals across %d devices\n",
		inc.ID, len(inc.Signals), len(inc.DeviceIDs))
	fmt.Fprintf(&b, "suspect: %s (confidence %.2f)\n", suspectName(top), top.Confidence)
	if len(top.BlastRadius) > 0 {
		fmt.Fprintf(&b, "blast radius: %s\n", strings.Join(top.BlastRadius, ", "))
	}
	return b.String()
}

func suspectName(h incident.RootCauseHypothesis) string {
	if h.EdgeKey != "" {
		return "link " + h.EdgeKey
	}
	return "device " + h.DeviceID
}
