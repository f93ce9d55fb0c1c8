package incident

import "testing"

func TestCanTransition(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		from State
		to   State
		want bool
	}{
		{"open to diagnosing", StateOpen, StateDiagnosing, true},
		{"diagnosing to diagnosed", StateDiagnosing, StateDiagnosed, true},
		{"diagnosed to proposed", StateDiagnosed, StateRemediationProposed, true},
		{"proposed to awaiting", StateRemediationProposed, StateAwaitingApproval, true},
		{"awaiting to remediating", StateAwaitingApproval, StateRemediating, true},
		{"remediating to verifying", StateRemediating, StateVerifying, true},
		{"verifying to resolved", StateVerifying, StateResolved, true},

		{"no stage skipping", StateOpen, StateDiagnosed, false},
		{"no skip to remediating", StateDiagnosed, StateRemediating, false},
		{"no backwards to open", StateDiagnosing, StateOpen, false},
		{"no backwards from remediating", StateRemediating, StateDiagnosing, false},

		{"recurrence loop", StateVerifying, StateDiagnosing, true},

		{"close from open", StateOpen, StateClosed, true},
		{"close from awaiting", StateAwaitingApproval, StateClosed, true},
		{"close unconfirmed from diagnosing", StateDiagnosing, StateClosedUnconfirmed, true},
		{"close unconfirmed from verifying", StateVerifying, StateClosedUnconfirmed, true},
		{"no close while remediating", StateRemediating, StateClosed, false},
		{"no abandon while remediating", StateRemediating, StateClosedUnconfirmed, false},

		{"resolved is absorbing", StateResolved, StateDiagnosing, false},
		{"closed is absorbing", StateClosed, StateOpen, false},
		{"closed unconfirmed is absorbing", StateClosedUnconfirmed, StateClosed, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := CanTransition(tt.from, tt.to); got != tt.want {
				t.Errorf("CanTransition(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.want)
			}
		})
	}
}

func TestTerminal(t *testing.T) {
	t.Parallel()

	terminal := map[State]bool{
		StateOpen:                false,
		StateDiagnosing:          false,
		StateDiagnosed:           false,
		StateRemediationProposed: false,
		StateAwaitingApproval:    false,
		StateRemediating:         false,
		StateVerifying:           false,
		StateResolved:            true,
		StateClosedUnconfirmed:   true,
		StateClosed:              true,
	}
	for s, want := range terminal {
		if got := s.Terminal(); got != want {
			t.Errorf("%s.Terminal() = %v, want %v", s, got, want)
		}
	}
}

func TestProposalDecided(t *testing.T) {
	t.Parallel()

	p := RemediationProposal{ID: "p1"}
	if p.Decided() {
		t.Error("proposal without approval record reported decided")
	}
	p.Approval = &ApprovalRecord{Approver: "ops", Decision: DecisionApproved}
	if !p.Decided() {
		t.Error("proposal with approval record reported undecided")
	}
}
